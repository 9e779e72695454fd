package orchestrator

import (
	"context"

	"github.com/kandev/orchestrion/internal/common/apperrors"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
)

// SendUserMessage delivers content into the named worker's conversation
// and resumes it if idle, mirroring the path queue-delivered messages
// take in deliverToWorker.
func (s *Service) SendUserMessage(sessionID, content string) error {
	session, ok := s.workers.Get(sessionID)
	if !ok {
		return apperrors.NotFound("worker", sessionID)
	}
	session.SendUserMessage(content)
	if session.Snapshot().Status == model.SessionStatusIdle {
		return session.Start(context.Background())
	}
	return nil
}

// Approve resolves a pending tool approval on the named worker.
func (s *Service) Approve(sessionID, approvalID string, approved bool, clarification string) error {
	session, ok := s.workers.Get(sessionID)
	if !ok {
		return apperrors.NotFound("worker", sessionID)
	}
	if err := session.HandleApproval(approvalID, approved, clarification); err != nil {
		return apperrors.Wrap(err, "approve")
	}
	s.publish("worker.approval_resolved", map[string]any{"workerId": sessionID, "approvalId": approvalID, "approved": approved})
	return nil
}

// InterruptWorker cancels the named worker's in-flight turn without
// tearing the session down, leaving it ready for a follow-up message.
func (s *Service) InterruptWorker(sessionID string) error {
	session, ok := s.workers.Get(sessionID)
	if !ok {
		return apperrors.NotFound("worker", sessionID)
	}
	session.Interrupt()
	s.publish("worker.interrupted", map[string]any{"workerId": sessionID})
	return nil
}

func (s *Service) taskIDForWorker(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.WorkerID == sessionID {
			return t.ID
		}
	}
	return ""
}

// InboxEntry is one pending approval surfaced across every live worker.
type InboxEntry struct {
	WorkerID   string `json:"workerId"`
	ApprovalID string `json:"approvalId"`
}

// ListInbox returns every pending tool approval across all live workers,
// the cross-session queue spec.md §4.6/§6 names "the inbox".
func (s *Service) ListInbox() []InboxEntry {
	var out []InboxEntry
	for _, session := range s.workers.List() {
		snap := session.Snapshot()
		for _, id := range session.PendingApprovals() {
			out = append(out, InboxEntry{WorkerID: snap.ID, ApprovalID: id})
		}
	}
	return out
}

// ProcessInbox resolves a pending approval by id, searching every live
// worker since the inbox is addressed by approval id alone.
func (s *Service) ProcessInbox(approvalID string, approved bool, clarification string) error {
	for _, entry := range s.ListInbox() {
		if entry.ApprovalID == approvalID {
			return s.Approve(entry.WorkerID, approvalID, approved, clarification)
		}
	}
	return apperrors.NotFound("inbox entry", approvalID)
}
