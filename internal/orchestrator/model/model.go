// Package model defines the shared value types of the orchestration core:
// agent identifiers, worker sessions, messages, tasks, plans, routing rules,
// route records, and worktree info. Types here are plain data — behavior
// lives in the owning packages (queue, router, worker, worktree,
// completion, orchestrator).
package model

import "time"

// AgentKind distinguishes the three roles a process-local actor can play.
type AgentKind string

const (
	AgentKindOrchestrator AgentKind = "orchestrator"
	AgentKindWorker       AgentKind = "worker"
	AgentKindAgent        AgentKind = "agent"
)

// AgentIdentifier uniquely names an actor within the process.
type AgentIdentifier struct {
	Kind         AgentKind `json:"kind"`
	ID           string    `json:"id"`
	SessionRef   string    `json:"sessionRef,omitempty"`
	WorktreePath string    `json:"worktreePath,omitempty"`
}

// SessionStatus enumerates the worker session state machine's states.
type SessionStatus string

const (
	SessionStatusIdle             SessionStatus = "idle"
	SessionStatusRunning          SessionStatus = "running"
	SessionStatusWaitingApproval  SessionStatus = "waiting-approval"
	SessionStatusPaused           SessionStatus = "paused"
	SessionStatusError            SessionStatus = "error"
	SessionStatusCompleted        SessionStatus = "completed"
)

// ThreadStatus enumerates conversation thread states.
type ThreadStatus string

const (
	ThreadStatusActive   ThreadStatus = "active"
	ThreadStatusResolved ThreadStatus = "resolved"
	ThreadStatusDeferred ThreadStatus = "deferred"
)

// WorkerSession is the central aggregate of a running worker.
//
// Immutable fields are set at creation and never change. Mutable fields
// are updated over the session's lifetime under the owning worker.Session's lock.
type WorkerSession struct {
	// immutable
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Task         string    `json:"task"` // human prompt
	WorktreePath string    `json:"worktreePath"`
	CreatedAt    time.Time `json:"createdAt"`
	PlanID       string    `json:"planId,omitempty"`
	BaseBranch   string    `json:"baseBranch,omitempty"`
	// BranchName and RepoPath locate the worktree's branch within its
	// repository for the completion engine; empty when worktrees are
	// disabled.
	BranchName string `json:"branchName,omitempty"`
	RepoPath   string `json:"repoPath,omitempty"`

	// mutable
	Status            SessionStatus `json:"status"`
	AgentID           string        `json:"agentId,omitempty"`
	AgentInstructions string        `json:"agentInstructions,omitempty"`
	ModelID           string        `json:"modelId,omitempty"`
	ErrorMessage      string        `json:"errorMessage,omitempty"`
	LastActivityAt    time.Time     `json:"lastActivityAt"`

	// ExecutorProfileID names which turn-executor configuration backs this
	// session; overwritten on hot-swap (setAgent).
	ExecutorProfileID string `json:"executorProfileId,omitempty"`
}

// ConversationThread is a topic-scoped sub-log within a session.
type ConversationThread struct {
	ID        string       `json:"id"`
	Topic     string       `json:"topic"`
	Status    ThreadStatus `json:"status"`
	MessageID []string     `json:"messageIds"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ApprovalRecord tracks a pending or resolved approval request.
type ApprovalRecord struct {
	Key         string     `json:"key"`
	Request     string     `json:"request"`
	RequestedAt time.Time  `json:"requestedAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	Approved    bool       `json:"approved"`
	Resolution  string     `json:"resolution,omitempty"`
}

// MessageType enumerates the kinds of messages carried on the queue/router.
type MessageType string

const (
	MessageTypeStatusUpdate      MessageType = "status_update"
	MessageTypeQuestion          MessageType = "question"
	MessageTypeCompletion        MessageType = "completion"
	MessageTypeError             MessageType = "error"
	MessageTypeApprovalRequest   MessageType = "approval_request"
	MessageTypeApprovalResponse  MessageType = "approval_response"
	MessageTypeRefinement        MessageType = "refinement"
	MessageTypeRetryRequest      MessageType = "retry_request"
	MessageTypeHeartbeat         MessageType = "heartbeat"
	MessageTypeCancellation      MessageType = "cancellation"
)

// Priority is a four-level delivery priority, processed strict high-to-low.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Ordinal returns the queue's numeric rank for p: lower sorts first in the heap.
func (p Priority) Ordinal() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// MessageStatus enumerates the lifecycle of a message in the queue.
type MessageStatus string

const (
	MessageStatusPending      MessageStatus = "pending"
	MessageStatusDelivered    MessageStatus = "delivered"
	MessageStatusAcknowledged MessageStatus = "acknowledged"
	MessageStatusFailed       MessageStatus = "failed"
	MessageStatusExpired      MessageStatus = "expired"
)

// MessageMetadata carries delivery bookkeeping for a Message.
type MessageMetadata struct {
	CreatedAt        time.Time  `json:"createdAt"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
	AcknowledgedAt   *time.Time `json:"acknowledgedAt,omitempty"`
	DeliveryAttempts int        `json:"deliveryAttempts"`
	LastError        string     `json:"lastError,omitempty"`
	CorrelationID    string     `json:"correlationId,omitempty"`
	TraceID          string     `json:"traceId,omitempty"`
	SpanID           string     `json:"spanId,omitempty"`
}

// DeliveryOptions configures retry/ack/ttl behavior for a single message.
type DeliveryOptions struct {
	Timeout     time.Duration `json:"timeout"`     // ack-wait, default 30s
	RetryCount  int           `json:"retryCount"`  // default 3
	RequireAck  bool          `json:"requireAck"`  // default false
	TTL         time.Duration `json:"ttl"`          // default 5min
}

// DefaultDeliveryOptions returns the spec's default delivery options.
func DefaultDeliveryOptions() DeliveryOptions {
	return DeliveryOptions{
		Timeout:    30 * time.Second,
		RetryCount: 3,
		RequireAck: false,
		TTL:        5 * time.Minute,
	}
}

// Message is the unit of communication routed between agents.
type Message struct {
	ID              string          `json:"id"`
	Type            MessageType     `json:"type"`
	Priority        Priority        `json:"priority"`
	Status          MessageStatus   `json:"status"`
	Sender          AgentIdentifier `json:"sender"`
	Receiver        AgentIdentifier `json:"receiver"`
	Content         string          `json:"content"`
	Metadata        MessageMetadata `json:"metadata"`
	DeliveryOptions DeliveryOptions `json:"deliveryOptions"`

	PlanID    string `json:"planId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	SubtaskID string `json:"subtaskId,omitempty"`
	Depth     int    `json:"depth"`
}

// TaskStatus enumerates the lifecycle of a Task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusBlocked   TaskStatus = "blocked"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ExecutorBackend names which runtime prepares a task's worktree environment.
type ExecutorBackend string

const (
	ExecutorBackendStandalone ExecutorBackend = "standalone"
	ExecutorBackendDocker     ExecutorBackend = "docker"
)

// Task describes a unit of work within a Plan. A task owns at most one
// live worker session at a time.
type Task struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	Description   string          `json:"description"`
	Priority      Priority        `json:"priority"`
	PlanID        string          `json:"planId,omitempty"`
	Dependencies  []string        `json:"dependencies"`
	ParallelGroup string          `json:"parallelGroup,omitempty"`
	Agent         string          `json:"agent,omitempty"`
	ModelID       string          `json:"modelId,omitempty"`
	TargetFiles   []string        `json:"targetFiles"`
	BaseBranch    string          `json:"baseBranch,omitempty"`
	WorkerID      string          `json:"workerId,omitempty"`
	SessionURI    string          `json:"sessionUri,omitempty"`
	Status        TaskStatus      `json:"status"`

	ExecutorBackend ExecutorBackend `json:"executorBackend,omitempty"`
}

// PlanStatus enumerates the lifecycle of a Plan.
type PlanStatus string

const (
	PlanStatusNew       PlanStatus = "new"
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusPaused    PlanStatus = "paused"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
)

// Plan is a named grouping of tasks sharing a base branch.
type Plan struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	BaseBranch string     `json:"baseBranch"`
	Status     PlanStatus `json:"status"`
	TaskIDs    []string   `json:"taskIds"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// RoutingAction enumerates what a RoutingRule does with a matched message.
type RoutingAction string

const (
	RoutingActionRoute     RoutingAction = "route"
	RoutingActionBroadcast RoutingAction = "broadcast"
	RoutingActionDrop      RoutingAction = "drop"
	RoutingActionTransform RoutingAction = "transform"
	RoutingActionDelay     RoutingAction = "delay"
)

// RoutingRule is one entry in the router's ordered rule chain.
type RoutingRule struct {
	ID                 string        `json:"id"`
	Name                string        `json:"name"`
	Priority            int           `json:"priority"`
	Enabled             bool          `json:"enabled"`
	Action              RoutingAction `json:"action"`
	MessageTypes        []MessageType `json:"messageTypes,omitempty"`
	SourcePattern       string        `json:"sourcePattern,omitempty"`
	DestinationPattern  string        `json:"destinationPattern,omitempty"`
	PriorityFilter      []Priority    `json:"priorityFilter,omitempty"`
	PlanIDFilter        []string      `json:"planIdFilter,omitempty"`
	TargetAgentID       string        `json:"targetAgentId,omitempty"`
	Transform           string        `json:"transform,omitempty"`
	DelayMs             int           `json:"delayMs,omitempty"`
}

// RouteHop is one step a message took as it traversed the router.
type RouteHop struct {
	AgentID  string        `json:"agentId"`
	Timestamp time.Time    `json:"timestamp"`
	Action    RoutingAction `json:"action"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// RouteRecord is the debug trace of a message's path through the router.
type RouteRecord struct {
	MessageID   string     `json:"messageId"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Hops        []RouteHop `json:"hops"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// WorktreeInfoStatus enumerates a worktree's lifecycle state.
type WorktreeInfoStatus string

const (
	WorktreeInfoStatusActive  WorktreeInfoStatus = "active"
	WorktreeInfoStatusMerged  WorktreeInfoStatus = "merged"
	WorktreeInfoStatusDeleted WorktreeInfoStatus = "deleted"
)

// WorktreeInfo is the globally persisted record of a worker's git worktree.
type WorktreeInfo struct {
	SessionID    string             `json:"sessionId"`
	WorktreePath string             `json:"worktreePath"`
	BranchName   string             `json:"branchName"`
	BaseBranch   string             `json:"baseBranch"`
	RepoPath     string             `json:"repoPath"`
	CreatedAt    time.Time          `json:"createdAt"`
	Status       WorktreeInfoStatus `json:"status,omitempty"`
}

// Repository is a local git repository registered with the orchestrator,
// supplying the base path workers check out worktrees from and the
// optional setup/cleanup scripts run around worktree creation/removal.
type Repository struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	LocalPath     string `json:"localPath"`
	SetupScript   string `json:"setupScript,omitempty"`
	CleanupScript string `json:"cleanupScript,omitempty"`
}
