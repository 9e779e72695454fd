package worker

import (
	"github.com/kandev/orchestrion/internal/common/config"
	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// Provide builds a new Session from application configuration, applying the
// worker tuning defaults (flush debounce, replay buffer, stall detection,
// context-digest size) from cfg.Worker.
func Provide(cfg *config.Config, log *logger.Logger, executor ports.TurnExecutor, opts Options) *Session {
	opts.Executor = executor
	opts.Logger = log
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = cfg.Worker.FlushIntervalDuration()
	}
	if opts.ReplayBufferSize <= 0 {
		opts.ReplayBufferSize = cfg.Worker.ReplayBufferSize
	}
	if opts.StallCheckInterval <= 0 {
		opts.StallCheckInterval = cfg.Worker.StallCheckIntervalDuration()
	}
	if opts.StallWarning <= 0 {
		opts.StallWarning = cfg.Worker.StallWarningDuration()
	}
	if opts.ContextDigestCount <= 0 {
		opts.ContextDigestCount = cfg.Worker.ContextDigestCount
	}
	return New(opts)
}
