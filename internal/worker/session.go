// Package worker implements the worker session state machine: one
// independently schedulable conversation loop per deployed task, with a
// fan-out response stream, an approval protocol, a clarification channel,
// and agent/model hot-swap.
//
// Grounded on the teacher's internal/agent/lifecycle package (AgentExecution's
// buffered streaming state and promptDoneCh completion signal, Manager's
// MarkReady/MarkCompleted/CancelAgent/RespondToPermission interaction
// methods), generalized from a concrete ACP/agentctl client onto the
// ports.TurnExecutor/ResponseSink abstractions.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/orchestrion/internal/common/constants"
	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// Session is one worker's conversation loop: state machine, log, approvals,
// stream fan-out, and hot-swap. Mutable state is only ever touched under mu,
// matching the ownership rule that a session exposes change events instead
// of shared mutation.
type Session struct {
	mu sync.Mutex

	info model.WorkerSession

	executor ports.TurnExecutor
	clock    ports.Clock
	logger   *logger.Logger

	log       []LogEntry
	nextID    uint64
	currentIx int // index into log of the entry being streamed into, -1 between turns

	approvals      map[string]*pendingApproval
	threads        map[string]*model.ConversationThread
	lastError      string
	previousAgent  string

	cancel context.CancelFunc

	clarification clarificationState

	stream *fanout

	flushInterval      time.Duration
	stallCheckInterval time.Duration
	stallWarning       time.Duration
	contextDigestCount int

	lastActivity time.Time
}

type pendingApproval struct {
	key      string
	request  string
	toolName string
	toolCallID string
	resolved chan approvalResult
}

type approvalResult struct {
	approved      bool
	clarification string
}

// New constructs an idle Session. Executor is required; Clock defaults to
// the system clock, and the remaining tuning knobs default to a 50ms flush
// debounce, 1024-entry replay buffer, 30s stall check, 300s stall warning
// and 10-message context digest when zero.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 50 * time.Millisecond
	}
	if opts.ReplayBufferSize <= 0 {
		opts.ReplayBufferSize = 1024
	}
	if opts.StallCheckInterval <= 0 {
		opts.StallCheckInterval = 30 * time.Second
	}
	if opts.StallWarning <= 0 {
		opts.StallWarning = 300 * time.Second
	}
	if opts.ContextDigestCount <= 0 {
		opts.ContextDigestCount = 10
	}

	now := opts.Clock.Now()
	s := &Session{
		info: model.WorkerSession{
			ID:                opts.ID,
			Name:              opts.Name,
			Task:              opts.Task,
			WorktreePath:      opts.WorktreePath,
			CreatedAt:         now,
			PlanID:            opts.PlanID,
			BaseBranch:        opts.BaseBranch,
			BranchName:        opts.BranchName,
			RepoPath:          opts.RepoPath,
			Status:            model.SessionStatusIdle,
			AgentID:           opts.AgentID,
			AgentInstructions: opts.AgentInstructions,
			ModelID:           opts.ModelID,
			LastActivityAt:    now,
			ExecutorProfileID: opts.ExecutorProfileID,
		},
		executor:           opts.Executor,
		clock:              opts.Clock,
		logger:             opts.Logger,
		approvals:          make(map[string]*pendingApproval),
		threads:            make(map[string]*model.ConversationThread),
		flushInterval:      opts.FlushInterval,
		stallCheckInterval: opts.StallCheckInterval,
		stallWarning:       opts.StallWarning,
		contextDigestCount: opts.ContextDigestCount,
		lastActivity:       now,
		currentIx:          -1,
	}
	s.stream = newFanout(opts.ReplayBufferSize, s.flushInterval, s.flushCurrent)
	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.appendLog(LogEntry{Role: "system", Content: fmt.Sprintf("session %s initialized for task %q", opts.ID, opts.Task)})
	return s
}

// Snapshot returns a copy of the session's immutable+mutable identity
// fields, safe to read without holding the caller's own lock.
func (s *Session) Snapshot() model.WorkerSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Session) appendLog(e LogEntry) LogEntry {
	s.nextID++
	e.ID = fmt.Sprintf("%s-log-%d", s.info.ID, s.nextID)
	e.Timestamp = s.clock.Now()
	s.log = append(s.log, e)
	return e
}

// Log returns a copy of the conversation log.
func (s *Session) Log() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.log))
	copy(out, s.log)
	return out
}

func (s *Session) touch() {
	s.lastActivity = s.clock.Now()
	s.info.LastActivityAt = s.lastActivity
}

// --- state machine ---

func (s *Session) transition(to model.SessionStatus) {
	s.info.Status = to
	s.touch()
}

// Start transitions any non-terminal state to running. A fresh conversation
// turn begins against the current log and a freshly allocated cancel signal.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isTerminal() {
		s.mu.Unlock()
		return &TransitionError{From: s.info.Status, Op: "start"}
	}
	s.newCancelSignal()
	s.currentIx = -1
	s.transition(model.SessionStatusRunning)
	turns := s.buildTurnsLocked()
	sink := s.stream
	execCtx, cancel := context.WithTimeout(ctx, constants.TurnTimeout)
	s.cancel = cancel
	executor := s.executor
	s.mu.Unlock()

	go s.runTurn(execCtx, executor, turns, sink)
	return nil
}

// runTurn drives one LM turn to completion, observing cancellation via ctx.
// It never propagates the executor's error upward; per the error-handling
// policy, turn-executor failures surface as a structured idle transition
// with an error marker, not a process-level panic.
func (s *Session) runTurn(ctx context.Context, executor ports.TurnExecutor, turns []ports.Turn, sink ports.ResponseSink) {
	s.stream.startTurn()
	err := executor.RunTurn(ctx, turns, sink)
	s.stream.endTurn()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		s.appendLog(LogEntry{Role: "system", Content: "turn cancelled"})
		s.transition(model.SessionStatusIdle)
		s.releaseClarificationLocked()
		return
	}
	if err != nil {
		s.lastError = err.Error()
		s.logger.Warn("turn executor failed", zap.String("session", s.info.ID), zap.Error(err))
		s.appendLog(LogEntry{Role: "system", Content: "turn failed: " + err.Error()})
		s.transition(model.SessionStatusIdle)
		return
	}
	if len(s.approvals) > 0 {
		s.transition(model.SessionStatusWaitingApproval)
		return
	}
	s.transition(model.SessionStatusIdle)
}

// Pause suspends a running session without cancelling the in-flight turn's
// cooperative points beyond its next pause-guard check.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.Status != model.SessionStatusRunning {
		return &TransitionError{From: s.info.Status, Op: "pause"}
	}
	s.transition(model.SessionStatusPaused)
	return nil
}

// Resume returns a paused session to running.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.info.Status != model.SessionStatusPaused {
		s.mu.Unlock()
		return &TransitionError{From: s.info.Status, Op: "resume"}
	}
	s.mu.Unlock()
	return s.Start(ctx)
}

// Interrupt fires the current cancellation signal and, unless the session is
// terminal or already idle, transitions to idle with an appended marker. A
// fresh signal is allocated for the next turn regardless.
func (s *Session) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isTerminal() || s.info.Status == model.SessionStatusIdle {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.appendLog(LogEntry{Role: "system", Content: "interrupted"})
	s.transition(model.SessionStatusIdle)
	s.releaseClarificationLocked()
	s.newCancelSignal()
}

// Idle marks a running turn done while keeping the session alive.
func (s *Session) Idle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.Status != model.SessionStatusRunning {
		return &TransitionError{From: s.info.Status, Op: "idle"}
	}
	s.transition(model.SessionStatusIdle)
	return nil
}

// Complete transitions a non-running, non-terminal session to the terminal
// completed state, releasing any clarification waiter.
func (s *Session) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.info.Status {
	case model.SessionStatusIdle, model.SessionStatusPaused, model.SessionStatusWaitingApproval:
		s.transition(model.SessionStatusCompleted)
		s.releaseClarificationLocked()
		return nil
	default:
		return &TransitionError{From: s.info.Status, Op: "complete"}
	}
}

// Error transitions the session to the terminal error state from any state.
func (s *Session) Error(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
	s.appendLog(LogEntry{Role: "system", Content: "error: " + msg})
	s.transition(model.SessionStatusError)
	s.releaseClarificationLocked()
}

func (s *Session) isTerminal() bool {
	return s.info.Status == model.SessionStatusCompleted || s.info.Status == model.SessionStatusError
}

func (s *Session) newCancelSignal() {
	// placeholder until Start assigns a real context.CancelFunc; kept so
	// Interrupt called before the first Start is still a safe no-op.
	if s.cancel == nil {
		s.cancel = func() {}
	}
}

// SendUserMessage appends a user entry to the log. Call before Start to
// seed the next turn, or at any time to record an out-of-band message. A
// no-op once the session has reached a terminal state: no write to the
// message log succeeds past completed/error.
func (s *Session) SendUserMessage(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isTerminal() {
		return
	}
	s.appendLog(LogEntry{Role: "user", Content: content})
	s.touch()
}

func (s *Session) buildTurnsLocked() []ports.Turn {
	turns := make([]ports.Turn, 0, len(s.log))
	for _, e := range s.log {
		turns = append(turns, ports.Turn{Role: e.Role, Content: e.Content})
	}
	return turns
}
