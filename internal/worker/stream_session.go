package worker

import (
	"context"
	"fmt"

	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// flushCurrent is the fan-out's debounced log-flush callback: the first
// flush of a turn opens a new "current" assistant log entry; subsequent
// flushes update it in place, matching the append-only-except-current rule.
func (s *Session) flushCurrent(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentIx < 0 {
		s.nextID++
		entry := LogEntry{
			ID:        fmt.Sprintf("%s-log-%d", s.info.ID, s.nextID),
			Timestamp: s.clock.Now(),
			Role:      "assistant",
			Content:   text,
			IsPending: true,
		}
		s.log = append(s.log, entry)
		s.currentIx = len(s.log) - 1
		return
	}
	s.log[s.currentIx].Content += text
}

// StartNewMessage flushes and resets the current-message state so the next
// streamed text begins a fresh assistant entry.
func (s *Session) StartNewMessage() {
	s.stream.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentIx >= 0 {
		s.log[s.currentIx].IsPending = false
		s.currentIx = -1
	}
}

// AttachStream installs a real response sink and drains any buffered parts
// into it in order.
func (s *Session) AttachStream(ctx context.Context, sink ports.ResponseSink) {
	s.stream.attach(ctx, sink)
}

// DetachStream removes the real response sink; subsequent parts buffer in
// the replay ring until a new sink attaches.
func (s *Session) DetachStream() {
	s.stream.detach()
}

// Subscribe registers cb for every streamStart/streamPart/streamEnd event
// emitted by this session and returns an unsubscribe function.
func (s *Session) Subscribe(cb StreamSubscriber) func() {
	return s.stream.subscribe(cb)
}
