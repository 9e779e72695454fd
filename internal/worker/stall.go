package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/orchestrion/internal/orchestrator/model"
)

// MonitorStalls runs until ctx is cancelled, periodically checking whether a
// running session has gone quiet for longer than its stall-warning
// threshold and logging a warning if so. It does not take any corrective
// action — the orchestrator decides whether to interrupt a stalled session.
//
// Grounded on the teacher's SessionManager.waitForPromptDone, which runs a
// ticker at the same cadence to detect a prompt that has stopped producing
// output without having completed.
func (s *Session) MonitorStalls(ctx context.Context) {
	ticker := time.NewTicker(s.stallCheckInterval)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			status := s.info.Status
			quiet := s.clock.Now().Sub(s.lastActivity)
			s.mu.Unlock()

			if status != model.SessionStatusRunning {
				warned = false
				continue
			}
			if quiet >= s.stallWarning && !warned {
				warned = true
				s.logger.Warn("worker session appears stalled",
					zap.String("session", s.info.ID),
					zap.Duration("quiet_for", quiet))
			} else if quiet < s.stallWarning {
				warned = false
			}
		}
	}
}
