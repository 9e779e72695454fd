package orchestrator

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/orchestrion/internal/common/config"
	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/completion"
	"github.com/kandev/orchestrion/internal/events/bus"
	"github.com/kandev/orchestrion/internal/queue"
	"github.com/kandev/orchestrion/internal/router"
	"github.com/kandev/orchestrion/internal/worktree"
)

// Provide wires the queue, router, worktree manager, completion engine, and
// event bus into a ready-to-use Service. The returned cleanup closes the
// queue and worktree store's resources; callers should defer it.
func Provide(ctx context.Context, cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Service, func() error, error) {
	q, err := queue.Provide(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	r, err := router.Provide(ctx, cfg, q, log)
	if err != nil {
		return nil, nil, err
	}

	worktrees, wtCleanup, err := worktree.Provide(db, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	engine := completion.Provide(cfg, log)
	events := bus.NewMemoryEventBus(log)

	svc := New(Options{
		Queue:      q,
		Router:     r,
		Worktrees:  worktrees,
		Completion: engine,
		Events:     events,
		Logger:     log,
	})

	cleanup := func() error {
		svc.Close()
		r.Close()
		q.Close()
		events.Close()
		return wtCleanup()
	}
	return svc, cleanup, nil
}
