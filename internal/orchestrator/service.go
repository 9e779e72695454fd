// Package orchestrator is the integrator: it owns plans and tasks, wires
// the queue, router, worktree manager, completion engine, and worker
// sessions together behind `deploy`/message/approval/interrupt/complete
// operations, and publishes a single event stream describing plan, task,
// and worker transitions.
//
// Grounded on the teacher's internal/orchestrator.Service (service.go) and
// internal/events/bus, unified here into the one component spec.md §4.6
// names — the teacher itself splits plan/task CRUD (task_operations.go)
// from worker wiring (session_launch.go, executor/) across a much larger
// surface backed by a SQL repository; this package keeps the same
// responsibilities but holds plans/tasks in memory, per §5's shared-state
// policy ("single-writer discipline" rather than a database layer).
package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/completion"
	"github.com/kandev/orchestrion/internal/events/bus"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
	"github.com/kandev/orchestrion/internal/queue"
	"github.com/kandev/orchestrion/internal/router"
	"github.com/kandev/orchestrion/internal/worker"
	"github.com/kandev/orchestrion/internal/worktree"
)

// ExecutorFactory builds the turn executor a newly deployed worker session
// drives its conversation through. It receives the task being deployed
// and chooses the backend (e.g. which agent/model configuration to run), a
// concern this runtime treats as pluggable rather than implementing a
// specific LM integration itself.
type ExecutorFactory func(task *model.Task) ports.TurnExecutor

// Options configures a new Service.
type Options struct {
	Queue      *queue.Queue
	Router     *router.Router
	Worktrees  *worktree.Manager
	Completion *completion.Engine
	Events     bus.EventBus
	Executors  ExecutorFactory
	Clock      ports.Clock
	Logger     *logger.Logger
}

// Service is the orchestrator: the single authoritative owner of plans,
// tasks, and the worker sessions deployed against them.
type Service struct {
	queue      *queue.Queue
	router     *router.Router
	worktrees  *worktree.Manager
	completion *completion.Engine
	events     bus.EventBus
	executors  ExecutorFactory
	clock      ports.Clock
	logger     *logger.Logger

	workers *worker.Registry
	stopCh  chan struct{}

	mu         sync.RWMutex
	plans      map[string]*model.Plan
	tasks      map[string]*model.Task
	workspaces []*Workspace
}

// New constructs a Service from its wired collaborators.
func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Events == nil {
		opts.Events = bus.NewMemoryEventBus(opts.Logger)
	}
	if opts.Executors == nil {
		opts.Executors = func(*model.Task) ports.TurnExecutor { return noopExecutor{} }
	}
	return &Service{
		queue:      opts.Queue,
		router:     opts.Router,
		worktrees:  opts.Worktrees,
		completion: opts.Completion,
		events:     opts.Events,
		executors:  opts.Executors,
		clock:      opts.Clock,
		logger:     opts.Logger,
		workers:    worker.NewRegistry(),
		stopCh:     make(chan struct{}),
		plans:      make(map[string]*model.Plan),
		tasks:      make(map[string]*model.Task),
	}
}

// Events exposes the orchestrator's single event stream for SSE fan-out.
func (s *Service) Events() bus.EventBus { return s.events }

// Close signals every deployed worker's detached lifetime context (the one
// driving its turns and stall monitor) to unwind. It does not block on
// in-flight turns finishing; callers that need that should Interrupt/
// Complete workers first.
func (s *Service) Close() { close(s.stopCh) }

// WorktreesEnabled reports whether worktree provisioning is configured.
func (s *Service) WorktreesEnabled() bool {
	return s.worktrees != nil && s.worktrees.IsEnabled()
}

func (s *Service) publish(eventType string, data map[string]any) {
	if err := s.events.Publish(context.Background(), eventType, bus.NewEvent(eventType, "orchestrator", data)); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func newID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

// noopExecutor is the default turn executor used when no ExecutorFactory
// is configured: it acknowledges the turn without producing output, so a
// freshly wired Service is usable (worker sessions reach idle) before a
// real backend is plugged in.
type noopExecutor struct{}

func (noopExecutor) RunTurn(ctx context.Context, _ []ports.Turn, _ ports.ResponseSink) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
