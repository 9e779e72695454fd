package queue

import (
	"github.com/kandev/orchestrion/internal/common/config"
	"github.com/kandev/orchestrion/internal/common/logger"
)

// Provide builds a Queue from application configuration.
func Provide(cfg *config.Config, log *logger.Logger) (*Queue, error) {
	return New(Options{
		MaxSize:         cfg.Queue.MaxSize,
		PersistPath:     cfg.Queue.PersistPath,
		PersistEnabled:  cfg.Queue.PersistEnabled,
		SweepInterval:   cfg.Queue.SweepIntervalDuration(),
		DefaultAck:      cfg.Queue.DefaultAckDuration(),
		MaxRetryBackoff: cfg.Queue.MaxRetryBackoffDuration(),
		Logger:          log,
	})
}
