package router

import (
	"sync"
	"time"

	"github.com/kandev/orchestrion/internal/orchestrator/model"
)

// tracer holds in-memory route records keyed by message ID, trimmed on a
// TTL so a long-running router doesn't accumulate traces forever.
type tracer struct {
	mu      sync.Mutex
	records map[string]*model.RouteRecord
}

func newTracer() *tracer {
	return &tracer{records: make(map[string]*model.RouteRecord)}
}

func (t *tracer) recordEnqueued(msg *model.Message, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records[msg.ID] = &model.RouteRecord{
		MessageID:   msg.ID,
		Source:      msg.Sender.ID,
		Destination: msg.Receiver.ID,
		Status:      "pending",
		CreatedAt:   at,
		Hops: []model.RouteHop{{
			AgentID:   msg.Sender.ID,
			Timestamp: at,
			Action:    model.RoutingActionRoute,
		}},
	}
	t.evictLocked(at)
}

func (t *tracer) recordTerminal(messageID, agentID string, action model.RoutingAction, at time.Time, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[messageID]
	if !ok {
		return
	}
	duration := at.Sub(rec.CreatedAt)
	rec.Hops = append(rec.Hops, model.RouteHop{
		AgentID:   agentID,
		Timestamp: at,
		Action:    action,
		Duration:  duration,
	})
	rec.Status = status
	completed := at
	rec.CompletedAt = &completed
}

func (t *tracer) get(messageID string) (*model.RouteRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[messageID]
	return rec, ok
}

// evictLocked drops completed records older than defaultRouteRecordTTL.
// Called opportunistically on every new trace rather than on its own
// ticker, since route tracing is a debug aid, not a durability guarantee.
func (t *tracer) evictLocked(now time.Time) {
	for id, rec := range t.records {
		if rec.CompletedAt != nil && now.Sub(*rec.CompletedAt) > defaultRouteRecordTTL {
			delete(t.records, id)
		}
	}
}
