package worktree

import (
	"github.com/jmoiron/sqlx"

	"github.com/kandev/orchestrion/internal/common/config"
	"github.com/kandev/orchestrion/internal/common/logger"
)

// Provide creates the worktree manager using the shared database connection.
func Provide(db *sqlx.DB, cfg *config.Config, log *logger.Logger) (*Manager, func() error, error) {
	store, err := NewSQLiteStore(db)
	if err != nil {
		return nil, nil, err
	}
	manager, err := NewManager(Config{
		Enabled:      true,
		BasePath:     cfg.Worktree.BasePath,
		BranchPrefix: "orch/",
		GitTimeout:   cfg.Worktree.GitTimeoutDuration(),
	}, store, log)
	if err != nil {
		return nil, nil, err
	}
	return manager, func() error { return nil }, nil
}
