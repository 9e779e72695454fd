package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
	"github.com/kandev/orchestrion/internal/queue"
)

type immediateExecutor struct{}

func (immediateExecutor) RunTurn(ctx context.Context, _ []ports.Turn, _ ports.ResponseSink) error {
	return nil
}

func setupTestHandler(t *testing.T) (*Handler, *orchestrator.Service, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	q, err := queue.New(queue.Options{MaxSize: 100, SweepInterval: time.Hour})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	svc := orchestrator.New(orchestrator.Options{
		Queue:     q,
		Logger:    log,
		Executors: func(*model.Task) ports.TurnExecutor { return immediateExecutor{} },
	})
	handler := NewHandler(svc, log)
	router := gin.New()
	return handler, svc, router
}

func decodeEnvelope(t *testing.T, body []byte) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, body)
	}
	return env
}

func doJSON(router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Buffer = bytes.NewBuffer(nil)
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewBuffer(b)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetHealth(t *testing.T) {
	handler, _, router := setupTestHandler(t)
	router.GET("/health", handler.GetHealth)

	w := doJSON(router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetStatus(t *testing.T) {
	handler, _, router := setupTestHandler(t)
	router.GET("/status", handler.GetStatus)

	w := doJSON(router, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w.Body.Bytes())
	if !env.Success {
		t.Fatalf("expected success envelope, got %+v", env)
	}
}

func TestCreateAndGetPlan(t *testing.T) {
	handler, _, router := setupTestHandler(t)
	router.POST("/plans", handler.CreatePlan)
	router.GET("/plans/:id", handler.GetPlan)

	w := doJSON(router, http.MethodPost, "/plans", createPlanRequest{Name: "rename-package"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w.Body.Bytes())
	data := env.Data.(map[string]any)
	planID := data["id"].(string)

	w = doJSON(router, http.MethodGet, "/plans/"+planID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreatePlanMissingNameFails(t *testing.T) {
	handler, _, router := setupTestHandler(t)
	router.POST("/plans", handler.CreatePlan)

	w := doJSON(router, http.MethodPost, "/plans", createPlanRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetPlanNotFound(t *testing.T) {
	handler, _, router := setupTestHandler(t)
	router.GET("/plans/:id", handler.GetPlan)

	w := doJSON(router, http.MethodGet, "/plans/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlanLifecycleRoutes(t *testing.T) {
	handler, svc, router := setupTestHandler(t)
	router.POST("/plans/:id/start", handler.StartPlan)
	router.POST("/plans/:id/pause", handler.PausePlan)

	plan, err := svc.CreatePlan("p", "main")
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	w := doJSON(router, http.MethodPost, "/plans/"+plan.ID+"/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 starting plan, got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(router, http.MethodPost, "/plans/"+plan.ID+"/pause", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 pausing plan, got %d: %s", w.Code, w.Body.String())
	}
	// Pausing an already-paused plan is an invalid transition.
	w = doJSON(router, http.MethodPost, "/plans/"+plan.ID+"/pause", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 re-pausing plan, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateTaskAndDeploy(t *testing.T) {
	handler, svc, router := setupTestHandler(t)
	router.POST("/tasks", handler.CreateTask)
	router.POST("/tasks/:id/deploy", handler.DeployTask)
	router.POST("/tasks/:id/cancel", handler.CancelTask)

	plan, err := svc.CreatePlan("p", "main")
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	w := doJSON(router, http.MethodPost, "/tasks", orchestrator.CreateTaskRequest{PlanID: plan.ID, Name: "add tests"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w.Body.Bytes())
	taskID := env.Data.(map[string]any)["id"].(string)

	w = doJSON(router, http.MethodPost, "/tasks/"+taskID+"/deploy", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 deploying task, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, http.MethodPost, "/tasks/"+taskID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 cancelling task, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeployTaskUnknownFails(t *testing.T) {
	handler, _, router := setupTestHandler(t)
	router.POST("/tasks/:id/deploy", handler.DeployTask)

	w := doJSON(router, http.MethodPost, "/tasks/missing/deploy", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWorkerMessageAndApproveRoutes(t *testing.T) {
	handler, svc, router := setupTestHandler(t)
	router.POST("/tasks", handler.CreateTask)
	router.POST("/tasks/:id/deploy", handler.DeployTask)
	router.POST("/workers/:id/message", handler.PostWorkerMessage)
	router.POST("/workers/:id/approve", handler.PostWorkerApprove)
	router.GET("/inbox", handler.ListInbox)
	router.POST("/inbox/:id/process", handler.ProcessInbox)

	plan, _ := svc.CreatePlan("p", "main")
	w := doJSON(router, http.MethodPost, "/tasks", orchestrator.CreateTaskRequest{PlanID: plan.ID, Name: "x"})
	taskID := decodeEnvelope(t, w.Body.Bytes()).Data.(map[string]any)["id"].(string)

	w = doJSON(router, http.MethodPost, "/tasks/"+taskID+"/deploy", nil)
	snap := decodeEnvelope(t, w.Body.Bytes()).Data.(map[string]any)
	workerID := snap["id"].(string)

	w = doJSON(router, http.MethodPost, "/workers/"+workerID+"/message", workerMessageRequest{Content: "go ahead"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 sending worker message, got %d: %s", w.Code, w.Body.String())
	}

	session, ok := svc.GetWorker(workerID)
	if !ok {
		t.Fatalf("expected worker %q to be registered", workerID)
	}
	approvalID, _ := session.RequestApproval("write_file", "call-1", "write main.go", nil)

	w = doJSON(router, http.MethodGet, "/inbox", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 listing inbox, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, http.MethodPost, "/inbox/"+approvalID+"/process", workerApproveRequest{ApprovalID: approvalID, Approved: true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 processing inbox entry, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWorkerCompleteRoute(t *testing.T) {
	handler, svc, router := setupTestHandler(t)
	router.POST("/tasks", handler.CreateTask)
	router.POST("/tasks/:id/deploy", handler.DeployTask)
	router.POST("/workers/:id/complete", handler.PostWorkerComplete)
	router.GET("/tasks/:id", handler.GetTask)

	plan, _ := svc.CreatePlan("p", "main")
	w := doJSON(router, http.MethodPost, "/tasks", orchestrator.CreateTaskRequest{PlanID: plan.ID, Name: "x"})
	taskID := decodeEnvelope(t, w.Body.Bytes()).Data.(map[string]any)["id"].(string)

	w = doJSON(router, http.MethodPost, "/tasks/"+taskID+"/deploy", nil)
	workerID := decodeEnvelope(t, w.Body.Bytes()).Data.(map[string]any)["id"].(string)

	w = doJSON(router, http.MethodPost, "/workers/"+workerID+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 completing worker, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, http.MethodGet, "/tasks/"+taskID, nil)
	task := decodeEnvelope(t, w.Body.Bytes()).Data.(map[string]any)
	if task["status"] != string(model.TaskStatusCompleted) {
		t.Fatalf("expected task completed, got %+v", task)
	}
}

func TestWorkerInterruptRoute(t *testing.T) {
	handler, svc, router := setupTestHandler(t)
	router.POST("/tasks", handler.CreateTask)
	router.POST("/tasks/:id/deploy", handler.DeployTask)
	router.POST("/workers/:id/interrupt", handler.PostWorkerInterrupt)

	plan, _ := svc.CreatePlan("p", "main")
	w := doJSON(router, http.MethodPost, "/tasks", orchestrator.CreateTaskRequest{PlanID: plan.ID, Name: "x"})
	taskID := decodeEnvelope(t, w.Body.Bytes()).Data.(map[string]any)["id"].(string)

	w = doJSON(router, http.MethodPost, "/tasks/"+taskID+"/deploy", nil)
	workerID := decodeEnvelope(t, w.Body.Bytes()).Data.(map[string]any)["id"].(string)

	w = doJSON(router, http.MethodPost, "/workers/"+workerID+"/interrupt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 interrupting worker, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, http.MethodPost, "/workers/missing/interrupt", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 interrupting unknown worker, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWorkerResolveConflictsRequiresWorktree(t *testing.T) {
	handler, svc, router := setupTestHandler(t)
	router.POST("/tasks", handler.CreateTask)
	router.POST("/tasks/:id/deploy", handler.DeployTask)
	router.POST("/workers/:id/resolve-conflicts", handler.PostWorkerResolveConflicts)

	plan, _ := svc.CreatePlan("p", "main")
	w := doJSON(router, http.MethodPost, "/tasks", orchestrator.CreateTaskRequest{PlanID: plan.ID, Name: "x"})
	taskID := decodeEnvelope(t, w.Body.Bytes()).Data.(map[string]any)["id"].(string)

	w = doJSON(router, http.MethodPost, "/tasks/"+taskID+"/deploy", nil)
	workerID := decodeEnvelope(t, w.Body.Bytes()).Data.(map[string]any)["id"].(string)

	w = doJSON(router, http.MethodPost, "/workers/"+workerID+"/resolve-conflicts", map[string]any{"strategy": "ours"})
	if w.Code == http.StatusOK {
		t.Fatalf("expected a worktree-less worker to reject conflict resolution, got 200: %s", w.Body.String())
	}
}

func TestWorkspacesRoutes(t *testing.T) {
	handler, _, router := setupTestHandler(t)
	router.POST("/workspaces", handler.PostWorkspace)
	router.GET("/workspaces", handler.GetWorkspaces)
	router.GET("/workspaces/recent", handler.GetRecentWorkspaces)

	w := doJSON(router, http.MethodPost, "/workspaces", registerWorkspaceRequest{Path: "/repo/a", Name: "a"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, http.MethodGet, "/workspaces", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, http.MethodGet, "/workspaces/recent?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWorkspacesRegisterMissingPathFails(t *testing.T) {
	handler, _, router := setupTestHandler(t)
	router.POST("/workspaces", handler.PostWorkspace)

	w := doJSON(router, http.MethodPost, "/workspaces", registerWorkspaceRequest{Name: "a"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}
