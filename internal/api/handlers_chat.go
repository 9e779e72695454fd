package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	AgentType string `json:"agentType"`
	SessionID string `json:"sessionId" binding:"required"`
}

// PostChat sends message into the named worker session and streams its
// response as SSE, per spec.md §6. Client disconnect cancels the bound
// worker's turn via the request context passed to Start.
func (h *Handler) PostChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}

	session, found := h.service.GetWorker(req.SessionID)
	if !found {
		c.JSON(http.StatusNotFound, fail("unknown session"))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	sink := newChannelSink()
	session.AttachStream(ctx, sink)
	defer session.DetachStream()

	session.SendUserMessage(req.Message)
	if err := session.Start(ctx); err != nil {
		failErr(c, err)
		cancel()
		return
	}

	streamSSE(c, sink, cancel)
}

var _ ports.ResponseSink = (*channelSink)(nil)
