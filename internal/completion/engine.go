package completion

import (
	"sync"

	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// Engine runs the pre-merge checks, conflict detection, merge strategies,
// conflict resolution, and worktree cleanup that together make up the
// completion/merge workflow for a worker session's worktree.
type Engine struct {
	logger *logger.Logger
	runner ports.GitRunner
	clock  ports.Clock

	mu         sync.Mutex
	inProgress map[string]bool // worktree path -> operation in flight
}

// Options configures a new Engine.
type Options struct {
	Runner ports.GitRunner
	Clock  ports.Clock
	Logger *logger.Logger
}

// New constructs an Engine, defaulting to the subprocess git runner and the
// system clock when not supplied.
func New(opts Options) *Engine {
	if opts.Runner == nil {
		opts.Runner = NewGitRunner()
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	return &Engine{
		logger:     opts.Logger,
		runner:     opts.Runner,
		clock:      opts.Clock,
		inProgress: make(map[string]bool),
	}
}

// ErrOperationInProgress is returned when a completion operation is already
// running against the given worktree path.
//
// Grounded on the teacher's GitOperator.tryLock/unlock single-operation
// guard, generalized from a single shared workDir to per-path locking since
// the completion engine serves many worktrees concurrently.
type ErrOperationInProgress struct {
	Path string
}

func (e *ErrOperationInProgress) Error() string {
	return "completion: operation already in progress for " + e.Path
}

func (e *Engine) tryLock(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inProgress[path] {
		return false
	}
	e.inProgress[path] = true
	return true
}

func (e *Engine) unlock(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inProgress, path)
}
