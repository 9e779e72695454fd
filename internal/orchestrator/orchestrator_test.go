package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/completion"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
	"github.com/kandev/orchestrion/internal/queue"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

// immediateExecutor completes a turn without emitting anything, driving a
// freshly deployed worker straight to idle.
type immediateExecutor struct{}

func (immediateExecutor) RunTurn(ctx context.Context, _ []ports.Turn, _ ports.ResponseSink) error {
	return nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	q, err := queue.New(queue.Options{MaxSize: 100, SweepInterval: time.Hour})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	return New(Options{
		Queue:     q,
		Logger:    newTestLogger(t),
		Executors: func(*model.Task) ports.TurnExecutor { return immediateExecutor{} },
	})
}

func waitForTaskStatus(t *testing.T, s *Service, taskID string, want model.TaskStatus, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if task, ok := s.GetTask(taskID); ok && task.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", taskID, want)
}

func TestCreatePlanDefaultsBaseBranch(t *testing.T) {
	svc := newTestService(t)
	plan, err := svc.CreatePlan("rename-package", "")
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if plan.BaseBranch != "main" {
		t.Fatalf("expected default base branch main, got %q", plan.BaseBranch)
	}
	if plan.Status != model.PlanStatusNew {
		t.Fatalf("expected new status, got %s", plan.Status)
	}
}

func TestPlanLifecycleRejectsInvalidTransitions(t *testing.T) {
	svc := newTestService(t)
	plan, _ := svc.CreatePlan("p", "main")

	if err := svc.PausePlan(plan.ID); err == nil {
		t.Fatal("expected error pausing a new (not running) plan")
	}
	if err := svc.StartPlan(plan.ID); err != nil {
		t.Fatalf("StartPlan: %v", err)
	}
	if err := svc.StartPlan(plan.ID); err == nil {
		t.Fatal("expected error starting an already-running plan")
	}
	if err := svc.PausePlan(plan.ID); err != nil {
		t.Fatalf("PausePlan: %v", err)
	}
	if err := svc.ResumePlan(plan.ID); err != nil {
		t.Fatalf("ResumePlan: %v", err)
	}
}

func TestCreateTaskInheritsPlanBaseBranch(t *testing.T) {
	svc := newTestService(t)
	plan, _ := svc.CreatePlan("p", "develop")

	task, err := svc.CreateTask(CreateTaskRequest{PlanID: plan.ID, Name: "add tests"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.BaseBranch != "develop" {
		t.Fatalf("expected inherited base branch develop, got %q", task.BaseBranch)
	}
	if task.Priority != model.PriorityNormal {
		t.Fatalf("expected default priority normal, got %s", task.Priority)
	}

	got, ok := svc.GetPlan(plan.ID)
	if !ok || len(got.TaskIDs) != 1 || got.TaskIDs[0] != task.ID {
		t.Fatalf("expected plan to list the new task, got %+v", got)
	}
}

func TestCreateTaskUnknownPlanFails(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateTask(CreateTaskRequest{PlanID: "missing", Name: "x"}); err == nil {
		t.Fatal("expected error for unknown plan")
	}
}

func TestDeployTaskStartsWorkerWithoutWorktrees(t *testing.T) {
	svc := newTestService(t)
	plan, _ := svc.CreatePlan("p", "main")
	task, _ := svc.CreateTask(CreateTaskRequest{PlanID: plan.ID, Name: "add tests"})

	session, err := svc.DeployTask(context.Background(), task.ID, DeployOptions{})
	if err != nil {
		t.Fatalf("DeployTask: %v", err)
	}

	got, _ := svc.GetTask(task.ID)
	if got.WorkerID != session.Snapshot().ID {
		t.Fatalf("expected task.WorkerID %q to match deployed session, got %q", session.Snapshot().ID, got.WorkerID)
	}
	waitForTaskStatus(t, svc, task.ID, model.TaskStatusRunning, time.Second)
}

func TestDeployTaskRejectsDoubleDeploy(t *testing.T) {
	svc := newTestService(t)
	plan, _ := svc.CreatePlan("p", "main")
	task, _ := svc.CreateTask(CreateTaskRequest{PlanID: plan.ID, Name: "x"})

	if _, err := svc.DeployTask(context.Background(), task.ID, DeployOptions{}); err != nil {
		t.Fatalf("first DeployTask: %v", err)
	}
	if _, err := svc.DeployTask(context.Background(), task.ID, DeployOptions{}); err == nil {
		t.Fatal("expected error deploying a task that already has a live worker")
	}
}

func TestCancelTaskInterruptsAndCompletesWorker(t *testing.T) {
	svc := newTestService(t)
	plan, _ := svc.CreatePlan("p", "main")
	task, _ := svc.CreateTask(CreateTaskRequest{PlanID: plan.ID, Name: "x"})

	session, err := svc.DeployTask(context.Background(), task.ID, DeployOptions{})
	if err != nil {
		t.Fatalf("DeployTask: %v", err)
	}

	if err := svc.CancelTask(task.ID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if session.Snapshot().Status != model.SessionStatusCompleted {
		t.Fatalf("expected worker completed after cancel, got %s", session.Snapshot().Status)
	}
	waitForTaskStatus(t, svc, task.ID, model.TaskStatusFailed, time.Second)
}

func TestCompleteWorkerWithoutWorktreeSkipsMerge(t *testing.T) {
	svc := newTestService(t)
	plan, _ := svc.CreatePlan("p", "main")
	task, _ := svc.CreateTask(CreateTaskRequest{PlanID: plan.ID, Name: "x"})

	session, err := svc.DeployTask(context.Background(), task.ID, DeployOptions{})
	if err != nil {
		t.Fatalf("DeployTask: %v", err)
	}

	outcome, err := svc.CompleteWorker(session.Snapshot().ID, CompleteOptions{})
	if err != nil {
		t.Fatalf("CompleteWorker: %v", err)
	}
	if outcome != nil {
		t.Fatalf("expected nil merge outcome without a worktree, got %+v", outcome)
	}
	if session.Snapshot().Status != model.SessionStatusCompleted {
		t.Fatalf("expected worker completed, got %s", session.Snapshot().Status)
	}
	waitForTaskStatus(t, svc, task.ID, model.TaskStatusCompleted, time.Second)
}

func TestCompleteWorkerUnknownWorkerFails(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CompleteWorker("missing", CompleteOptions{}); err == nil {
		t.Fatal("expected error for unknown worker")
	}
}

func TestResolveWorkerConflictsRequiresWorktree(t *testing.T) {
	svc := newTestService(t)
	plan, _ := svc.CreatePlan("p", "main")
	task, _ := svc.CreateTask(CreateTaskRequest{PlanID: plan.ID, Name: "x"})

	session, err := svc.DeployTask(context.Background(), task.ID, DeployOptions{})
	if err != nil {
		t.Fatalf("DeployTask: %v", err)
	}

	if _, err := svc.ResolveWorkerConflicts(session.Snapshot().ID, completion.ResolveOurs, nil); err == nil {
		t.Fatal("expected error resolving conflicts on a worktree-less worker")
	}
}

func TestResolveWorkerConflictsUnknownWorkerFails(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.ResolveWorkerConflicts("missing", completion.ResolveOurs, nil); err == nil {
		t.Fatal("expected error for unknown worker")
	}
}

func TestSendUserMessageUnknownWorkerFails(t *testing.T) {
	svc := newTestService(t)
	if err := svc.SendUserMessage("missing", "hello"); err == nil {
		t.Fatal("expected error for unknown worker")
	}
}

func TestInterruptWorkerReturnsToIdle(t *testing.T) {
	svc := newTestService(t)
	plan, _ := svc.CreatePlan("p", "main")
	task, _ := svc.CreateTask(CreateTaskRequest{PlanID: plan.ID, Name: "x"})

	session, err := svc.DeployTask(context.Background(), task.ID, DeployOptions{})
	if err != nil {
		t.Fatalf("DeployTask: %v", err)
	}

	if err := svc.InterruptWorker(session.Snapshot().ID); err != nil {
		t.Fatalf("InterruptWorker: %v", err)
	}
	if session.Snapshot().Status != model.SessionStatusIdle {
		t.Fatalf("expected worker idle after interrupt, got %s", session.Snapshot().Status)
	}
}

func TestInterruptWorkerUnknownWorkerFails(t *testing.T) {
	svc := newTestService(t)
	if err := svc.InterruptWorker("missing"); err == nil {
		t.Fatal("expected error for unknown worker")
	}
}

func TestWorkspacesRegisterAndRecent(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.RegisterWorkspace("", "x"); err == nil {
		t.Fatal("expected error for empty path")
	}

	ws1, err := svc.RegisterWorkspace("/repo/a", "a")
	if err != nil {
		t.Fatalf("RegisterWorkspace: %v", err)
	}
	if _, err := svc.RegisterWorkspace("/repo/b", "b"); err != nil {
		t.Fatalf("RegisterWorkspace: %v", err)
	}

	// Re-registering an existing path touches it rather than duplicating it.
	again, err := svc.RegisterWorkspace("/repo/a", "a")
	if err != nil {
		t.Fatalf("RegisterWorkspace (repeat): %v", err)
	}
	if again.ID != ws1.ID {
		t.Fatalf("expected re-registration to return the same workspace id")
	}

	if got := svc.ListWorkspaces(); len(got) != 2 {
		t.Fatalf("expected 2 workspaces, got %d", len(got))
	}
	if recent := svc.RecentWorkspaces(1); len(recent) != 1 {
		t.Fatalf("expected RecentWorkspaces(1) to cap at 1, got %d", len(recent))
	}
}

func TestInboxListsAndProcessesPendingApprovals(t *testing.T) {
	svc := newTestService(t)
	plan, _ := svc.CreatePlan("p", "main")
	task, _ := svc.CreateTask(CreateTaskRequest{PlanID: plan.ID, Name: "x"})

	session, err := svc.DeployTask(context.Background(), task.ID, DeployOptions{})
	if err != nil {
		t.Fatalf("DeployTask: %v", err)
	}

	approvalID, _ := session.RequestApproval("write_file", "call-1", "write main.go", nil)

	inbox := svc.ListInbox()
	if len(inbox) != 1 || inbox[0].ApprovalID != approvalID {
		t.Fatalf("expected inbox entry for approval %q, got %+v", approvalID, inbox)
	}

	if err := svc.ProcessInbox(approvalID, true, ""); err != nil {
		t.Fatalf("ProcessInbox: %v", err)
	}
	if len(svc.ListInbox()) != 0 {
		t.Fatalf("expected inbox drained after processing")
	}

	if err := svc.ProcessInbox("missing", true, ""); err == nil {
		t.Fatal("expected error processing an unknown approval id")
	}
}
