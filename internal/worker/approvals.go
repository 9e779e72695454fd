package worker

import (
	"fmt"

	"github.com/kandev/orchestrion/internal/orchestrator/model"
)

// RequestApproval inserts a pending approval record, transitions a running
// session to waiting-approval, and returns a channel that resolves once
// HandleApproval is called for this key. Reaching a terminal state
// (Complete, Error) neither resolves nor closes the channel.
//
// Grounded on the teacher's RespondToPermission/RespondToPermissionBySessionID
// pendingID/optionID/cancelled protocol in manager_interaction.go, generalized
// from a single in-flight permission request to an arbitrary set of
// concurrently pending approvals keyed by id.
func (s *Session) RequestApproval(toolName, toolCallID, desc string, params map[string]any) (string, <-chan approvalResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	key := fmt.Sprintf("%s-approval-%d", s.info.ID, s.nextID)
	pa := &pendingApproval{
		key:        key,
		request:    desc,
		toolName:   toolName,
		toolCallID: toolCallID,
		resolved:   make(chan approvalResult, 1),
	}
	s.approvals[key] = pa

	s.appendLog(LogEntry{
		Role:              "tool",
		Content:           desc,
		ToolName:          toolName,
		ToolCallID:        toolCallID,
		IsApprovalRequest: true,
		IsPending:         true,
	})

	if s.info.Status == model.SessionStatusRunning {
		s.transition(model.SessionStatusWaitingApproval)
	}
	return key, pa.resolved
}

// HandleApproval resolves the named pending approval. If no other approvals
// remain and the session isn't terminal, status returns to running.
func (s *Session) HandleApproval(id string, approved bool, clarification string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, ok := s.approvals[id]
	if !ok {
		return fmt.Errorf("worker: no pending approval %q", id)
	}
	delete(s.approvals, id)

	for i := range s.log {
		if s.log[i].ToolCallID == pa.toolCallID && s.log[i].IsApprovalRequest && s.log[i].IsPending {
			s.log[i].IsPending = false
		}
	}

	pa.resolved <- approvalResult{approved: approved, clarification: clarification}
	close(pa.resolved)

	if clarification != "" {
		s.appendLog(LogEntry{Role: "user", Content: clarification})
	}

	if len(s.approvals) == 0 && s.info.Status == model.SessionStatusWaitingApproval {
		s.transition(model.SessionStatusRunning)
	}
	return nil
}

// PendingApprovals returns the keys of all currently outstanding approvals.
func (s *Session) PendingApprovals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.approvals))
	for k := range s.approvals {
		keys = append(keys, k)
	}
	return keys
}
