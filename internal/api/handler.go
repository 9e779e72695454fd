// Package api is the HTTP/SSE surface described by spec.md §6: health and
// status probes, a chat SSE endpoint bound to a worker session, the
// orchestrator REST+SSE surface (plans/tasks/workers/inbox/events), and a
// workspaces listing.
//
// Grounded on the teacher's internal/orchestrator/api handler package
// (Handler/NewHandler/SetupRoutes, {success,data|error} envelopes, the
// errors.AppError → HTTP status mapping), with the RFC1918-only guard and
// per-remote rate limiter added fresh since the teacher serves a cluster
// ingress rather than a loopback client directly.
package api

import (
	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator"
)

// Handler holds the orchestrator Service every endpoint delegates to.
type Handler struct {
	service *orchestrator.Service
	logger  *logger.Logger
}

// NewHandler constructs a Handler bound to service.
func NewHandler(service *orchestrator.Service, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}
