package worker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

// scriptedExecutor emits a fixed set of response parts, then returns runErr,
// blocking until either all parts are emitted or ctx is cancelled.
type scriptedExecutor struct {
	parts  []ports.ResponsePart
	runErr error
	block  chan struct{} // if non-nil, RunTurn waits on this before emitting
}

func (e *scriptedExecutor) RunTurn(ctx context.Context, conversation []ports.Turn, sink ports.ResponseSink) error {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, p := range e.parts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := sink.Emit(ctx, p); err != nil {
			return err
		}
	}
	return e.runErr
}

func newTestSession(t *testing.T, exec ports.TurnExecutor) *Session {
	t.Helper()
	return New(Options{
		ID:       "sess-1",
		Name:     "test",
		Task:     "do the thing",
		Executor: exec,
		Logger:   newTestLogger(t),
	})
}

func waitForStatus(t *testing.T, s *Session, want model.SessionStatus, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Snapshot().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached status %s, stuck at %s", want, s.Snapshot().Status)
}

func TestStartRunsTurnAndReturnsIdle(t *testing.T) {
	exec := &scriptedExecutor{parts: []ports.ResponsePart{{Kind: ports.ResponseKindMarkdown, Text: "hello"}}}
	s := newTestSession(t, exec)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, model.SessionStatusIdle, time.Second)
}

func TestPauseResume(t *testing.T) {
	block := make(chan struct{})
	exec := &scriptedExecutor{block: block}
	s := newTestSession(t, exec)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, model.SessionStatusRunning, time.Second)

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if s.Snapshot().Status != model.SessionStatusPaused {
		t.Fatalf("expected paused, got %s", s.Snapshot().Status)
	}

	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForStatus(t, s, model.SessionStatusRunning, time.Second)

	close(block) // let the turn finish
	waitForStatus(t, s, model.SessionStatusIdle, time.Second)

	if err := s.Resume(context.Background()); err == nil {
		t.Fatal("expected Resume from idle to fail")
	}
}

func TestInterruptFromRunningGoesIdle(t *testing.T) {
	block := make(chan struct{})
	exec := &scriptedExecutor{block: block}
	s := newTestSession(t, exec)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, model.SessionStatusRunning, time.Second)

	s.Interrupt()
	waitForStatus(t, s, model.SessionStatusIdle, time.Second)
}

func TestInterruptIsNoOpWhenIdle(t *testing.T) {
	s := newTestSession(t, &scriptedExecutor{})
	s.Interrupt() // idle -> idle, should not panic or change state
	if s.Snapshot().Status != model.SessionStatusIdle {
		t.Fatalf("expected idle, got %s", s.Snapshot().Status)
	}
}

func TestCompleteFromNonTerminalSucceeds(t *testing.T) {
	s := newTestSession(t, &scriptedExecutor{})
	if err := s.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if s.Snapshot().Status != model.SessionStatusCompleted {
		t.Fatalf("expected completed, got %s", s.Snapshot().Status)
	}
	if err := s.Complete(); err == nil {
		t.Fatal("expected Complete from a terminal state to fail")
	}
}

func TestSendUserMessageNoOpAfterTerminal(t *testing.T) {
	s := newTestSession(t, &scriptedExecutor{})
	before := len(s.Log())

	if err := s.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	s.SendUserMessage("too late")
	if got := len(s.Log()); got != before {
		t.Fatalf("expected no log entry appended after terminal, log grew from %d to %d", before, got)
	}
}

func TestSendClarificationNoOpAfterTerminal(t *testing.T) {
	s := newTestSession(t, &scriptedExecutor{})
	before := len(s.Log())

	if err := s.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	s.SendClarification("too late")
	if got := len(s.Log()); got != before {
		t.Fatalf("expected no log entry appended after terminal, log grew from %d to %d", before, got)
	}
}

func TestApprovalProtocolReturnsToRunning(t *testing.T) {
	s := newTestSession(t, &scriptedExecutor{})
	// force running so the approval transition is meaningful
	_ = s.Start(context.Background())
	waitForStatus(t, s, model.SessionStatusIdle, time.Second)

	s.mu.Lock()
	s.transition(model.SessionStatusRunning)
	s.mu.Unlock()

	id, resolved := s.RequestApproval("write_file", "call-1", "write to disk?", nil)
	if s.Snapshot().Status != model.SessionStatusWaitingApproval {
		t.Fatalf("expected waiting-approval, got %s", s.Snapshot().Status)
	}

	if err := s.HandleApproval(id, true, ""); err != nil {
		t.Fatalf("HandleApproval: %v", err)
	}
	if s.Snapshot().Status != model.SessionStatusRunning {
		t.Fatalf("expected running after last approval resolved, got %s", s.Snapshot().Status)
	}

	select {
	case r := <-resolved:
		if !r.approved {
			t.Fatal("expected approved result")
		}
	default:
		t.Fatal("expected resolved channel to carry a value")
	}
}

func TestClarificationChannelWakesParkedWaiter(t *testing.T) {
	s := newTestSession(t, &scriptedExecutor{})

	done := make(chan string, 1)
	go func() {
		text, _ := s.WaitForClarification()
		done <- text
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter park
	s.SendClarification("go ahead")

	select {
	case text := <-done:
		if text != "go ahead" {
			t.Fatalf("unexpected clarification text %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
}

func TestClarificationChannelStoresWhenNoWaiter(t *testing.T) {
	s := newTestSession(t, &scriptedExecutor{})
	s.SendClarification("stored text")

	text, ok := s.WaitForClarification()
	if !ok || text != "stored text" {
		t.Fatalf("expected stored clarification, got %q ok=%v", text, ok)
	}
}

func TestStreamFanoutReplaysToLateAttachedSink(t *testing.T) {
	exec := &scriptedExecutor{parts: []ports.ResponsePart{
		{Kind: ports.ResponseKindMarkdown, Text: "part one"},
		{Kind: ports.ResponseKindMarkdown, Text: "part two"},
	}}
	s := newTestSession(t, exec)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, model.SessionStatusIdle, time.Second)

	sink := &recordingSink{}
	s.AttachStream(context.Background(), sink)

	sink.mu.Lock()
	n := len(sink.parts)
	sink.mu.Unlock()
	if n != 2 {
		t.Fatalf("expected replay of 2 parts, got %d", n)
	}
}

func TestFanoutOverflowAppendsWarningPart(t *testing.T) {
	f := newFanout(2, time.Hour, func(string) {})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := f.Emit(ctx, ports.ResponsePart{Kind: ports.ResponseKindMarkdown, Text: "x"}); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}

	sink := &recordingSink{}
	f.attach(ctx, sink)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.parts) != 2 {
		t.Fatalf("expected replay capped at 2 parts, got %d", len(sink.parts))
	}
	var sawWarning bool
	for _, p := range sink.parts {
		if p.Kind == ports.ResponseKindWarning {
			sawWarning = true
		}
	}
	if !sawWarning {
		t.Fatalf("expected a warning part noting truncation, got %+v", sink.parts)
	}
}

func TestHotSwapTruncatesLogUnlessPreserved(t *testing.T) {
	s := newTestSession(t, &scriptedExecutor{})
	s.SendUserMessage("first")
	s.SendUserMessage("second")

	s.SetAgent("agent-2", "be concise", false)

	log := s.Log()
	// init message + hot-swap marker only
	if len(log) != 2 {
		t.Fatalf("expected log truncated to 2 entries, got %d", len(log))
	}
	if log[1].Content != "agent changed to agent-2" {
		t.Fatalf("unexpected marker content %q", log[1].Content)
	}
}

func TestHotSwapPreservesContextWhenRequested(t *testing.T) {
	s := newTestSession(t, &scriptedExecutor{})
	s.SendUserMessage("first")
	s.SendUserMessage("second")

	s.SetModel("model-2", true)

	log := s.Log()
	if len(log) != 4 { // init + first + second + marker
		t.Fatalf("expected 4 entries with context preserved, got %d", len(log))
	}
}

func TestContextDigestIncludesTaskAndPendingApprovals(t *testing.T) {
	s := newTestSession(t, &scriptedExecutor{})
	s.SendUserMessage("please fix the bug")
	s.mu.Lock()
	s.transition(model.SessionStatusRunning)
	s.mu.Unlock()
	s.RequestApproval("run_shell", "call-1", "rm -rf tmp?", nil)

	digest := s.ContextDigest()
	for _, want := range []string{"do the thing", "please fix the bug", "Pending approvals: 1"} {
		if !strings.Contains(digest, want) {
			t.Fatalf("digest missing %q: %s", want, digest)
		}
	}
}

type recordingSink struct {
	mu    sync.Mutex
	parts []ports.ResponsePart
}

func (r *recordingSink) Emit(_ context.Context, part ports.ResponsePart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parts = append(r.parts, part)
	return nil
}

func (r *recordingSink) Close() error { return nil }
