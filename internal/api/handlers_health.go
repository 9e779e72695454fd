package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Version is reported by GET /api/health and GET /api/status.
const Version = "0.1.0"

// GetHealth reports liveness. GET /api/health.
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"version":   Version,
	})
}

// GetStatus reports capability flags for the deployed surface. GET /api/status.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, ok(gin.H{
		"version":          Version,
		"worktreesEnabled": h.service.WorktreesEnabled(),
		"plans":            len(h.service.ListPlans()),
		"workers":          len(h.service.ListWorkers()),
	}))
}
