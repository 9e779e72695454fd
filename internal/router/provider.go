package router

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/kandev/orchestrion/internal/common/config"
	"github.com/kandev/orchestrion/internal/common/logger"
)

// Provide builds a Router from application configuration, loading and
// optionally watching the configured rule file.
func Provide(ctx context.Context, cfg *config.Config, q QueueClient, log *logger.Logger) (*Router, error) {
	r := New(Options{
		Queue:           q,
		Logger:          log,
		TraceRoutes:     cfg.Router.TraceRoutes,
		SubscriberDepth: cfg.Router.SubscriberDepth,
	})

	if cfg.Router.RuleFilePath != "" {
		if _, err := os.Stat(cfg.Router.RuleFilePath); err == nil {
			if err := r.LoadRuleFile(cfg.Router.RuleFilePath); err != nil {
				log.Warn("failed to load initial routing rules", zap.String("path", cfg.Router.RuleFilePath), zap.Error(err))
			}
		} else {
			log.Debug("no routing rule file present, starting with an empty rule chain",
				zap.String("path", cfg.Router.RuleFilePath))
		}

		if cfg.Router.WatchRuleFile {
			if err := r.WatchRuleFile(ctx, cfg.Router.RuleFilePath); err != nil {
				log.Warn("failed to watch routing rule file", zap.Error(err))
			}
		}
	}

	return r, nil
}
