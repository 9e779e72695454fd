package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetWorkspaces lists every known workspace. GET /api/workspaces.
func (h *Handler) GetWorkspaces(c *gin.Context) {
	c.JSON(http.StatusOK, ok(h.service.ListWorkspaces()))
}

// GetRecentWorkspaces lists workspaces most-recently-used first.
// GET /api/workspaces/recent.
func (h *Handler) GetRecentWorkspaces(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	c.JSON(http.StatusOK, ok(h.service.RecentWorkspaces(limit)))
}

type registerWorkspaceRequest struct {
	Path string `json:"path" binding:"required"`
	Name string `json:"name"`
}

// PostWorkspace registers (or touches) a workspace path. POST /api/workspaces.
func (h *Handler) PostWorkspace(c *gin.Context) {
	var req registerWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}
	ws, err := h.service.RegisterWorkspace(req.Path, req.Name)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, ok(ws))
}
