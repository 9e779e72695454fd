package orchestrator

import (
	"github.com/kandev/orchestrion/internal/common/apperrors"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
)

// CreateTaskRequest describes a task to add to a plan.
type CreateTaskRequest struct {
	PlanID        string         `json:"planId" binding:"required"`
	Name          string         `json:"name" binding:"required"`
	Description   string         `json:"description"`
	Priority      model.Priority `json:"priority"`
	Dependencies  []string       `json:"dependencies"`
	ParallelGroup string         `json:"parallelGroup"`
	Agent         string         `json:"agent"`
	ModelID       string         `json:"modelId"`
	TargetFiles   []string       `json:"targetFiles"`
	BaseBranch    string         `json:"baseBranch"`
}

// CreateTask adds a task to an existing plan.
func (s *Service) CreateTask(req CreateTaskRequest) (*model.Task, error) {
	s.mu.Lock()
	plan, ok := s.plans[req.PlanID]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.NotFound("plan", req.PlanID)
	}

	baseBranch := req.BaseBranch
	if baseBranch == "" {
		baseBranch = plan.BaseBranch
	}
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	task := &model.Task{
		ID:            newID("task"),
		Name:          req.Name,
		Description:   req.Description,
		Priority:      priority,
		PlanID:        req.PlanID,
		Dependencies:  req.Dependencies,
		ParallelGroup: req.ParallelGroup,
		Agent:         req.Agent,
		ModelID:       req.ModelID,
		TargetFiles:   req.TargetFiles,
		BaseBranch:    baseBranch,
		Status:        model.TaskStatusPending,
	}
	s.tasks[task.ID] = task
	plan.TaskIDs = append(plan.TaskIDs, task.ID)
	s.mu.Unlock()

	s.publish("task.created", map[string]any{"taskId": task.ID, "planId": task.PlanID})
	return task, nil
}

// GetTask returns the task with the given id.
func (s *Service) GetTask(id string) (*model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// ListTasks returns every task, optionally filtered to one plan.
func (s *Service) ListTasks(planID string) []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if planID != "" && t.PlanID != planID {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (s *Service) setTaskStatus(id string, status model.TaskStatus) {
	s.mu.Lock()
	if t, ok := s.tasks[id]; ok {
		t.Status = status
	}
	s.mu.Unlock()
	s.publish("task.status_changed", map[string]any{"taskId": id, "status": string(status)})
}
