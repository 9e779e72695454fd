package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrion/internal/completion"
	"github.com/kandev/orchestrion/internal/events/bus"
	"github.com/kandev/orchestrion/internal/orchestrator"
)

// --- plans ---

type createPlanRequest struct {
	Name       string `json:"name" binding:"required"`
	BaseBranch string `json:"baseBranch"`
}

func (h *Handler) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, ok(h.service.ListPlans()))
}

func (h *Handler) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}
	plan, err := h.service.CreatePlan(req.Name, req.BaseBranch)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, ok(plan))
}

func (h *Handler) GetPlan(c *gin.Context) {
	plan, found := h.service.GetPlan(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, fail("unknown plan"))
		return
	}
	c.JSON(http.StatusOK, ok(plan))
}

func (h *Handler) StartPlan(c *gin.Context) {
	h.planTransition(c, h.service.StartPlan)
}

func (h *Handler) PausePlan(c *gin.Context) {
	h.planTransition(c, h.service.PausePlan)
}

func (h *Handler) ResumePlan(c *gin.Context) {
	h.planTransition(c, h.service.ResumePlan)
}

func (h *Handler) planTransition(c *gin.Context, fn func(string) error) {
	if err := fn(c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"id": c.Param("id")}))
}

// --- tasks ---

func (h *Handler) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, ok(h.service.ListTasks(c.Query("planId"))))
}

func (h *Handler) CreateTask(c *gin.Context) {
	var req orchestrator.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}
	task, err := h.service.CreateTask(req)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, ok(task))
}

func (h *Handler) GetTask(c *gin.Context) {
	task, found := h.service.GetTask(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, fail("unknown task"))
		return
	}
	c.JSON(http.StatusOK, ok(task))
}

func (h *Handler) DeployTask(c *gin.Context) {
	var opts orchestrator.DeployOptions
	_ = c.ShouldBindJSON(&opts) // empty body uses defaults from the task/plan

	session, err := h.service.DeployTask(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		failErr(c, err)
		return
	}
	snap := session.Snapshot()
	c.JSON(http.StatusAccepted, ok(snap))
}

func (h *Handler) CancelTask(c *gin.Context) {
	if err := h.service.CancelTask(c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"id": c.Param("id")}))
}

// --- workers ---

func (h *Handler) ListWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, ok(h.service.ListWorkers()))
}

func (h *Handler) GetWorker(c *gin.Context) {
	session, found := h.service.GetWorker(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, fail("unknown worker"))
		return
	}
	c.JSON(http.StatusOK, ok(session.Snapshot()))
}

type workerMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) PostWorkerMessage(c *gin.Context) {
	var req workerMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}
	if err := h.service.SendUserMessage(c.Param("id"), req.Content); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"id": c.Param("id")}))
}

type workerApproveRequest struct {
	ApprovalID    string `json:"approvalId" binding:"required"`
	Approved      bool   `json:"approved"`
	Clarification string `json:"clarification"`
}

func (h *Handler) PostWorkerApprove(c *gin.Context) {
	var req workerApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}
	if err := h.service.Approve(c.Param("id"), req.ApprovalID, req.Approved, req.Clarification); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"id": c.Param("id")}))
}

// workerCompleteRequest configures how a finished worker's branch lands.
// Every field is optional; the zero value squash-merges locally without
// pushing, opening a PR, or deleting the branch.
type workerCompleteRequest struct {
	Strategy      string `json:"strategy"`
	CommitMessage string `json:"commitMessage"`
	Push          bool   `json:"push"`
	RemoveBranch  bool   `json:"removeBranch"`
	CreatePR      bool   `json:"createPr"`
	PRTitle       string `json:"prTitle"`
	PRBody        string `json:"prBody"`
}

func (h *Handler) PostWorkerComplete(c *gin.Context) {
	var req workerCompleteRequest
	_ = c.ShouldBindJSON(&req) // empty body merges with CompleteOptions defaults
	outcome, err := h.service.CompleteWorker(c.Param("id"), orchestrator.CompleteOptions{
		Strategy:      completion.MergeStrategy(req.Strategy),
		CommitMessage: req.CommitMessage,
		Push:          req.Push,
		RemoveBranch:  req.RemoveBranch,
		CreatePR:      req.CreatePR,
		PRTitle:       req.PRTitle,
		PRBody:        req.PRBody,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"id": c.Param("id"), "merge": outcome}))
}

// PostWorkerInterrupt cancels a worker's in-flight turn without
// completing the session, leaving it idle and ready for a follow-up
// message. POST /workers/:id/interrupt.
func (h *Handler) PostWorkerInterrupt(c *gin.Context) {
	if err := h.service.InterruptWorker(c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"id": c.Param("id")}))
}

type workerResolveConflictsRequest struct {
	Strategy string   `json:"strategy" binding:"required"`
	Files    []string `json:"files"`
}

// PostWorkerResolveConflicts resolves conflicted files in a worker's
// worktree wholesale by checking out one side and staging the result.
// POST /workers/:id/resolve-conflicts.
func (h *Handler) PostWorkerResolveConflicts(c *gin.Context) {
	var req workerResolveConflictsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}
	result, err := h.service.ResolveWorkerConflicts(c.Param("id"), completion.ConflictResolution(req.Strategy), req.Files)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"id": c.Param("id"), "resolve": result}))
}

// GetWorkerStream streams a worker's response parts as SSE. GET /workers/:id/stream.
func (h *Handler) GetWorkerStream(c *gin.Context) {
	session, found := h.service.GetWorker(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, fail("unknown worker"))
		return
	}
	ctx, cancel := context.WithCancel(c.Request.Context())
	sink := newChannelSink()
	session.AttachStream(ctx, sink)
	defer session.DetachStream()

	streamSSE(c, sink, cancel)
}

// --- inbox ---

func (h *Handler) ListInbox(c *gin.Context) {
	c.JSON(http.StatusOK, ok(h.service.ListInbox()))
}

func (h *Handler) ProcessInbox(c *gin.Context) {
	var req workerApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error()))
		return
	}
	if err := h.service.ProcessInbox(c.Param("id"), req.Approved, req.Clarification); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ok(gin.H{"id": c.Param("id")}))
}

// --- global event stream ---

// GetEvents streams every orchestrator event as SSE: an initial "connected"
// event, a 30s heartbeat comment, then one `event: <type>` frame per
// published event. GET /api/orchestrator/events.
func (h *Handler) GetEvents(c *gin.Context) {
	sseHeaders(c)

	events := make(chan *bus.Event, 64)
	sub, err := h.service.Events().Subscribe(">", func(_ context.Context, ev *bus.Event) error {
		select {
		case events <- ev:
		default: // a slow global-events client drops frames rather than blocking publishers
		}
		return nil
	})
	if err != nil {
		failErr(c, err)
		return
	}
	defer sub.Unsubscribe()

	c.SSEvent("connected", gin.H{"ok": true})
	c.Writer.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-events:
			if !open {
				return false
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return true
			}
			c.SSEvent(ev.Type, string(payload))
			return true
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			return true
		case <-clientGone:
			return false
		}
	})
}
