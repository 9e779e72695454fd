package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kandev/orchestrion/internal/orchestrator/ports"
)

// fanout is the session's response-stream fan-out sink: every response part
// written by the turn executor is forwarded to the attached real sink (if
// any), to every subscriber, and into a debounced log-flush callback; when
// no sink is attached, parts accumulate in a bounded replay buffer instead.
//
// Grounded on the teacher's AgentExecution buffered-streaming fields
// (streaming message/thinking buffers guarded by a mutex) and its
// attach-on-demand sink pattern, generalized from a single WebSocket
// consumer to an arbitrary number of Subscribe callers plus one attached
// ports.ResponseSink.
type fanout struct {
	mu          sync.Mutex
	realSink    ports.ResponseSink
	subscribers map[uint64]StreamSubscriber
	nextSubID   uint64

	replay     []ports.ResponsePart
	replayCap  int
	truncated  bool // a warning part for the current overflow has already been appended

	seq uint64

	flushInterval time.Duration
	flushText     func(text string)
	pending       string
	flushTimer    *time.Timer
}

func newFanout(replayCap int, flushInterval time.Duration, flushText func(text string)) *fanout {
	return &fanout{
		subscribers:   make(map[uint64]StreamSubscriber),
		replayCap:     replayCap,
		flushInterval: flushInterval,
		flushText:     flushText,
	}
}

// Emit implements ports.ResponseSink; it is what the turn executor writes to.
func (f *fanout) Emit(ctx context.Context, part ports.ResponsePart) error {
	f.mu.Lock()
	f.seq++
	part.Sequence = f.seq
	if part.Timestamp.IsZero() {
		part.Timestamp = time.Now()
	}

	sink := f.realSink
	subs := f.snapshotSubscribersLocked()

	if sink == nil {
		f.replay = append(f.replay, part)
		if len(f.replay) > f.replayCap {
			if !f.truncated {
				f.truncated = true
				f.seq++
				f.replay = append(f.replay, ports.ResponsePart{
					Kind:      ports.ResponseKindWarning,
					Text:      "replay buffer truncated: oldest response parts were dropped",
					Sequence:  f.seq,
					Timestamp: time.Now(),
				})
			}
			f.replay = f.replay[len(f.replay)-f.replayCap:]
		}
	}

	if part.Text != "" {
		f.pending += part.Text
		f.scheduleFlushLocked()
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub(StreamEvent{Kind: StreamEventPart, Part: part})
	}
	if sink != nil {
		return sink.Emit(ctx, part)
	}
	return nil
}

// Close implements ports.ResponseSink for symmetry with the attached real
// sink's lifecycle; the fan-out itself never needs closing.
func (f *fanout) Close() error { return nil }

func (f *fanout) scheduleFlushLocked() {
	if f.flushTimer != nil {
		return
	}
	f.flushTimer = time.AfterFunc(f.flushInterval, f.flush)
}

func (f *fanout) flush() {
	f.mu.Lock()
	text := f.pending
	f.pending = ""
	f.flushTimer = nil
	f.mu.Unlock()

	if text != "" && f.flushText != nil {
		f.flushText(text)
	}
}

// startTurn notifies subscribers a new turn is beginning.
func (f *fanout) startTurn() {
	f.mu.Lock()
	subs := f.snapshotSubscribersLocked()
	f.mu.Unlock()
	for _, sub := range subs {
		sub(StreamEvent{Kind: StreamEventStart})
	}
}

// endTurn flushes any pending text and notifies subscribers the turn ended.
func (f *fanout) endTurn() {
	f.flush()
	f.mu.Lock()
	subs := f.snapshotSubscribersLocked()
	f.mu.Unlock()
	for _, sub := range subs {
		sub(StreamEvent{Kind: StreamEventEnd})
	}
}

// attach installs the real sink and drains the replay buffer into it in
// order, then clears the buffer, matching the teacher's reconnect-then-replay
// idiom for a client that attaches after streaming already started.
func (f *fanout) attach(ctx context.Context, sink ports.ResponseSink) {
	f.mu.Lock()
	f.realSink = sink
	replay := f.replay
	f.replay = nil
	f.truncated = false
	f.mu.Unlock()

	for _, part := range replay {
		_ = sink.Emit(ctx, part)
	}
}

func (f *fanout) detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.realSink = nil
}

// subscribe registers a callback for every stream event and returns an
// unsubscribe function.
func (f *fanout) subscribe(cb StreamSubscriber) func() {
	id := atomic.AddUint64(&f.nextSubID, 1)
	f.mu.Lock()
	f.subscribers[id] = cb
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subscribers, id)
		f.mu.Unlock()
	}
}

func (f *fanout) snapshotSubscribersLocked() []StreamSubscriber {
	out := make([]StreamSubscriber, 0, len(f.subscribers))
	for _, cb := range f.subscribers {
		out = append(out, cb)
	}
	return out
}
