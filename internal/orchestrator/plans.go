package orchestrator

import (
	"fmt"
	"time"

	"github.com/kandev/orchestrion/internal/common/apperrors"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
)

// CreatePlan registers a new plan grouping tasks against baseBranch.
func (s *Service) CreatePlan(name, baseBranch string) (*model.Plan, error) {
	if name == "" {
		return nil, apperrors.ValidationError("name", "plan name is required")
	}
	if baseBranch == "" {
		baseBranch = "main"
	}

	plan := &model.Plan{
		ID:         newID("plan"),
		Name:       name,
		BaseBranch: baseBranch,
		Status:     model.PlanStatusNew,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	s.plans[plan.ID] = plan
	s.mu.Unlock()

	s.publish("plan.created", map[string]any{"planId": plan.ID, "name": plan.Name})
	return plan, nil
}

// GetPlan returns the plan with the given id.
func (s *Service) GetPlan(id string) (*model.Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	return p, ok
}

// ListPlans returns every known plan.
func (s *Service) ListPlans() []*model.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	return out
}

// StartPlan transitions a new plan to running.
func (s *Service) StartPlan(id string) error {
	return s.transitionPlan(id, func(p *model.Plan) error {
		if p.Status != model.PlanStatusNew {
			return apperrors.Conflict(fmt.Sprintf("cannot start plan from status %s", p.Status))
		}
		p.Status = model.PlanStatusRunning
		return nil
	})
}

// PausePlan transitions a running plan to paused. Deployed workers
// continue their in-flight turn; pausing a plan only stops further
// task deployment.
func (s *Service) PausePlan(id string) error {
	return s.transitionPlan(id, func(p *model.Plan) error {
		if p.Status != model.PlanStatusRunning {
			return apperrors.Conflict(fmt.Sprintf("cannot pause plan from status %s", p.Status))
		}
		p.Status = model.PlanStatusPaused
		return nil
	})
}

// ResumePlan transitions a paused plan back to running.
func (s *Service) ResumePlan(id string) error {
	return s.transitionPlan(id, func(p *model.Plan) error {
		if p.Status != model.PlanStatusPaused {
			return apperrors.Conflict(fmt.Sprintf("cannot resume plan from status %s", p.Status))
		}
		p.Status = model.PlanStatusRunning
		return nil
	})
}

func (s *Service) transitionPlan(id string, mutate func(*model.Plan) error) error {
	s.mu.Lock()
	plan, ok := s.plans[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.NotFound("plan", id)
	}
	err := mutate(plan)
	status := plan.Status
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.publish("plan.status_changed", map[string]any{"planId": id, "status": string(status)})
	return nil
}
