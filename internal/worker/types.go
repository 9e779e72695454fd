package worker

import (
	"time"

	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// TransitionError is returned by a state-machine method invoked from a
// state that does not permit it, e.g. resume() while idle.
type TransitionError struct {
	From model.SessionStatus
	Op   string
}

func (e *TransitionError) Error() string {
	return "worker: cannot " + e.Op + " from state " + string(e.From)
}

// LogEntry is one conversation-log record. Role mirrors the turn roles the
// turn executor understands; ToolName/ToolCallID/IsApprovalRequest are only
// set for tool-originated entries.
type LogEntry struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Role              string    `json:"role"` // user, assistant, system, tool
	Content           string    `json:"content"`
	Parts             []string  `json:"parts,omitempty"`
	ToolName          string    `json:"toolName,omitempty"`
	ToolCallID        string    `json:"toolCallId,omitempty"`
	IsApprovalRequest bool      `json:"isApprovalRequest,omitempty"`
	IsPending         bool      `json:"isPending,omitempty"`
}

// StreamEventKind discriminates the three fan-out subscriber notifications
// a session emits on top of the raw response parts.
type StreamEventKind string

const (
	StreamEventStart StreamEventKind = "streamStart"
	StreamEventPart  StreamEventKind = "streamPart"
	StreamEventEnd   StreamEventKind = "streamEnd"
)

// StreamEvent is delivered to every subscriber registered via Subscribe.
type StreamEvent struct {
	Kind StreamEventKind
	Part ports.ResponsePart
}

// StreamSubscriber receives fan-out stream events for a single session.
type StreamSubscriber func(StreamEvent)

// Options configures a new Session.
type Options struct {
	ID                string
	Name              string
	Task              string
	WorktreePath      string
	PlanID            string
	BaseBranch        string
	BranchName        string
	RepoPath          string
	AgentID           string
	AgentInstructions string
	ModelID           string
	ExecutorProfileID string

	Executor ports.TurnExecutor
	Clock    ports.Clock
	Logger   *logger.Logger

	FlushInterval      time.Duration
	ReplayBufferSize   int
	StallCheckInterval time.Duration
	StallWarning       time.Duration
	ContextDigestCount int
}
