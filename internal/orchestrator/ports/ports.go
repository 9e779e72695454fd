// Package ports declares the interface boundaries between the router,
// queue, and worker packages. Expressing cross-component references as
// interfaces — rather than letting each side reach for a concrete
// singleton — keeps the dependency graph explicit and lets tests supply
// in-memory doubles for the turn executor, git, and the clock.
package ports

import (
	"context"
	"time"

	"github.com/kandev/orchestrion/internal/orchestrator/model"
)

// MessageSink accepts a message for delivery, typically the queue's enqueue
// entry point as seen from the router or worker side.
type MessageSink interface {
	Send(ctx context.Context, msg *model.Message) error
}

// ResponseKind discriminates the response-part variants streamed to a
// ResponseSink. Unknown kinds still carry their raw payload so persistence
// round-trips even when new variants are introduced by a newer build.
type ResponseKind string

const (
	ResponseKindMarkdown     ResponseKind = "markdown"
	ResponseKindProgress     ResponseKind = "progress"
	ResponseKindToolCall     ResponseKind = "tool_call"
	ResponseKindReference    ResponseKind = "reference"
	ResponseKindEdit         ResponseKind = "edit"
	ResponseKindConfirmation ResponseKind = "confirmation"
	ResponseKindWarning      ResponseKind = "warning"
	ResponseKindUnknown      ResponseKind = "unknown"
)

// ResponsePart is one streamed unit of a worker's output.
type ResponsePart struct {
	Kind          ResponseKind   `json:"kind"`
	Text          string         `json:"text,omitempty"`
	ToolName      string         `json:"toolName,omitempty"`
	ToolArgs      map[string]any `json:"toolArgs,omitempty"`
	Discriminator string         `json:"discriminator,omitempty"` // set when Kind == Unknown
	Raw           any            `json:"raw,omitempty"`
	Sequence      uint64         `json:"sequence"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ResponseSink receives typed response parts from a worker session.
type ResponseSink interface {
	Emit(ctx context.Context, part ResponsePart) error
	Close() error
}

// TurnExecutor is the external collaborator (the LM backend) that, given a
// conversation and a cancellation signal, streams response parts and
// tool-call requests.
type TurnExecutor interface {
	// RunTurn drives one turn of the conversation, writing response parts
	// to sink until the turn completes or cancel is triggered.
	RunTurn(ctx context.Context, conversation []Turn, sink ResponseSink) error
}

// Turn is one exchange in a worker session's conversation log, as handed
// to the turn executor.
type Turn struct {
	Role    string `json:"role"` // "user", "assistant", "system", "tool"
	Content string `json:"content"`
}

// Clock abstracts time so queue/worker tests can control TTL expiry and
// retry backoff deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the production Clock backed by the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                   { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// GitRunner abstracts git subprocess invocation for the worktree and
// completion packages, so tests can substitute a fake without shelling out.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (stdout string, stderr string, err error)
}
