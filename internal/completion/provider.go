package completion

import (
	"github.com/kandev/orchestrion/internal/common/config"
	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// Provide constructs the completion engine with the production git runner
// and system clock.
func Provide(cfg *config.Config, log *logger.Logger) *Engine {
	_ = cfg // no completion-specific settings yet; accepted for wiring symmetry
	return New(Options{
		Runner: NewGitRunner(),
		Clock:  ports.SystemClock{},
		Logger: log,
	})
}
