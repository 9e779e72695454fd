// Package bus provides the in-process event stream the orchestrator
// publishes plan/task/worker transitions onto, and that the HTTP/SSE
// surface subscribes to for GET /api/orchestrator/events. Per-worker
// response streams attach to the worker session, not to this bus.
//
// Grounded on the teacher's internal/events/bus package: the same
// Event/EventBus/Subscription shape, trimmed to the in-memory
// implementation this system needs (no NATS transport — this runtime is
// authoritative within one host process, per spec.md §1's non-goals).
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message on the orchestrator's event stream.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent stamps a new Event with a fresh id and the current time.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription to a subject pattern.
type Subscription interface {
	Unsubscribe()
	IsValid() bool
}

// EventBus publishes events to subject subscribers. Subjects support
// NATS-style wildcards: "*" matches one dot-delimited token, ">" matches
// the rest of the subject.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
}
