package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/kandev/orchestrion/internal/common/appctx"
	"github.com/kandev/orchestrion/internal/common/apperrors"
	"github.com/kandev/orchestrion/internal/common/constants"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/queue"
	"github.com/kandev/orchestrion/internal/worker"
	"github.com/kandev/orchestrion/internal/worktree"
)

// maxWorkerLifetime is the outer safety-net bound on a deployed worker's
// detached lifetime context — long enough to outlast any real task, short
// enough that a worker whose task was abandoned without ever being
// cancelled or completed eventually stops holding resources.
const maxWorkerLifetime = 7 * 24 * time.Hour

// DeployOptions customizes a single deploy call.
type DeployOptions struct {
	RepositoryID      string `json:"repositoryId"`
	RepositoryPath    string `json:"repositoryPath"`
	AgentID           string `json:"agentId"`
	AgentInstructions string `json:"agentInstructions"`
	ModelID           string `json:"modelId"`
}

// DeployTask creates a fresh worktree for task, stands up a worker
// session against it, and starts the session's first turn.
//
// Grounded on the teacher's session_launch.go: fetch/validate the task,
// create its worktree, construct the executor-backed session, and
// register it for later lookup — generalized here from the teacher's
// DB-backed TaskSession/ExecutorRunning bookkeeping to the in-memory
// Task.WorkerID/worker.Registry pairing this package uses instead.
func (s *Service) DeployTask(ctx context.Context, taskID string, opts DeployOptions) (*worker.Session, error) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.NotFound("task", taskID)
	}
	if task.WorkerID != "" {
		s.mu.Unlock()
		return nil, apperrors.Conflict(fmt.Sprintf("task %q already has a live worker", taskID))
	}
	s.mu.Unlock()

	agentID := opts.AgentID
	if agentID == "" {
		agentID = task.Agent
	}
	modelID := opts.ModelID
	if modelID == "" {
		modelID = task.ModelID
	}

	var worktreePath, branchName, repoPath string
	if s.worktrees != nil && s.worktrees.IsEnabled() {
		launchCtx, cancel := context.WithTimeout(ctx, constants.WorkerLaunchTimeout)
		wt, err := s.worktrees.Create(launchCtx, worktree.CreateRequest{
			TaskID:         task.ID,
			RepositoryID:   opts.RepositoryID,
			RepositoryPath: opts.RepositoryPath,
			BaseBranch:     task.BaseBranch,
			TaskTitle:      task.Name,
		})
		cancel()
		if err != nil {
			return nil, apperrors.TransientIO("create worktree", err)
		}
		worktreePath = wt.Path
		branchName = wt.Branch
		repoPath = wt.RepositoryPath
	}

	sessionID := newID("worker")
	session := worker.New(worker.Options{
		ID:                sessionID,
		Name:              task.Name,
		Task:              task.Description,
		WorktreePath:      worktreePath,
		PlanID:            task.PlanID,
		BaseBranch:        task.BaseBranch,
		BranchName:        branchName,
		RepoPath:          repoPath,
		AgentID:           agentID,
		AgentInstructions: opts.AgentInstructions,
		ModelID:           modelID,
		Executor:          s.executors(task),
		Clock:             s.clock,
		Logger:            s.logger,
	})
	s.workers.Add(session)

	s.queue.RegisterHandler(sessionID, s.deliverToWorker(session))

	s.mu.Lock()
	task.WorkerID = sessionID
	task.Status = model.TaskStatusRunning
	s.mu.Unlock()

	s.publish("task.deployed", map[string]any{"taskId": task.ID, "workerId": sessionID})

	// A worker session outlives the request that deployed it — its turns
	// must not be cancelled just because the HTTP handler that called
	// DeployTask finished writing its response. detach its lifetime
	// context from ctx, tying it instead to the service's own shutdown.
	workerCtx, _ := appctx.Detached(ctx, s.stopCh, maxWorkerLifetime)
	go session.MonitorStalls(workerCtx)

	if err := session.Start(workerCtx); err != nil {
		return session, apperrors.TransientIO("start worker", err)
	}
	return session, nil
}

// deliverToWorker forwards a queued message addressed to session's id into
// the session's conversation, starting a fresh turn if it is idle.
func (s *Service) deliverToWorker(session *worker.Session) queue.Handler {
	return func(ctx context.Context, msg *model.Message) error {
		session.SendUserMessage(msg.Content)
		if session.Snapshot().Status == model.SessionStatusIdle {
			return session.Start(ctx)
		}
		return nil
	}
}

// GetWorker returns the live session for a session id.
func (s *Service) GetWorker(sessionID string) (*worker.Session, bool) {
	return s.workers.Get(sessionID)
}

// ListWorkers returns every live worker session's current snapshot.
func (s *Service) ListWorkers() []*model.WorkerSession {
	sessions := s.workers.List()
	out := make([]*model.WorkerSession, 0, len(sessions))
	for _, sess := range sessions {
		snap := sess.Snapshot()
		out = append(out, &snap)
	}
	return out
}

// CancelTask interrupts and completes the task's live worker (if any) and
// marks the task failed.
func (s *Service) CancelTask(taskID string) error {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return apperrors.NotFound("task", taskID)
	}
	workerID := task.WorkerID
	s.mu.Unlock()

	if workerID != "" {
		if sess, ok := s.workers.Get(workerID); ok {
			sess.Interrupt()
			_ = sess.Complete()
		}
	}

	s.setTaskStatus(taskID, model.TaskStatusFailed)
	return nil
}
