package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kandev/orchestrion/internal/common/config"
)

// Open establishes the embedded SQLite connection pool used for worktree
// and queue persistence, applying the busy-timeout and WAL pragmas a
// single-process, many-goroutine writer needs.
//
// Grounded on the teacher's internal/common/database.NewDB — the same
// connect-configure-ping shape, adapted from a pgx Postgres pool to a
// file-backed sqlx.DB since this runtime persists state locally rather
// than against a shared cluster.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeoutMS)

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(1) // sqlite serializes writers; a single conn avoids SQLITE_BUSY churn
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return db, nil
}
