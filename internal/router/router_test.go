package router

import (
	"sync"
	"testing"
	"time"

	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
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

// fakeQueue is a minimal QueueClient double that records every Enqueue
// call and lets tests drive queue events into the router's tracer hook.
type fakeQueue struct {
	mu        sync.Mutex
	enqueued  []queue.EnqueueOptions
	listeners []queue.Listener
}

func (f *fakeQueue) Enqueue(opts queue.EnqueueOptions) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, opts)
	return &model.Message{
		ID:       "msg-1",
		Type:     opts.Type,
		Priority: opts.Priority,
		Sender:   opts.Sender,
		Receiver: opts.Receiver,
		Content:  opts.Content,
		Status:   model.MessageStatusPending,
	}, nil
}

func (f *fakeQueue) Subscribe(l queue.Listener) queue.Unregister {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeQueue) emit(ev queue.Event) {
	f.mu.Lock()
	listeners := make([]queue.Listener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

func TestSendAppliesRouteRule(t *testing.T) {
	fq := &fakeQueue{}
	r := New(Options{Queue: fq, Logger: newTestLogger(t)})
	r.SetRules([]*model.RoutingRule{
		{ID: "r1", Priority: 10, Enabled: true, Action: model.RoutingActionRoute, TargetAgentID: "worker-2"},
	})

	msg, err := r.Send(SendOptions{
		Sender:   model.AgentIdentifier{ID: "orchestrator"},
		Receiver: model.AgentIdentifier{ID: "worker-1"},
		Content:  "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Receiver.ID != "worker-2" {
		t.Errorf("expected rerouted receiver worker-2, got %s", msg.Receiver.ID)
	}

	if len(fq.enqueued) != 1 || fq.enqueued[0].Receiver.ID != "worker-2" {
		t.Errorf("expected queue to receive rewritten receiver, got %+v", fq.enqueued)
	}
}

func TestSendDropRuleShortCircuits(t *testing.T) {
	fq := &fakeQueue{}
	r := New(Options{Queue: fq, Logger: newTestLogger(t)})
	r.SetRules([]*model.RoutingRule{
		{ID: "r1", Priority: 10, Enabled: true, Action: model.RoutingActionDrop, DestinationPattern: "blocked-*"},
		{ID: "r2", Priority: 5, Enabled: true, Action: model.RoutingActionRoute, TargetAgentID: "should-not-apply"},
	})

	msg, err := r.Send(SendOptions{
		Sender:   model.AgentIdentifier{ID: "orchestrator"},
		Receiver: model.AgentIdentifier{ID: "blocked-worker"},
	})
	if err != ErrDropped {
		t.Fatalf("expected ErrDropped, got %v", err)
	}
	if msg.Status != model.MessageStatusFailed {
		t.Errorf("expected synthetic failed message, got status %s", msg.Status)
	}
	if len(fq.enqueued) != 0 {
		t.Errorf("expected no enqueue for dropped message, got %d", len(fq.enqueued))
	}
}

func TestSendTransformRule(t *testing.T) {
	fq := &fakeQueue{}
	r := New(Options{Queue: fq, Logger: newTestLogger(t)})
	r.RegisterTransform("uppercase-critical", func(content string, _ model.Priority) (string, model.Priority, error) {
		return content + "!", model.PriorityCritical, nil
	})
	r.SetRules([]*model.RoutingRule{
		{ID: "r1", Priority: 10, Enabled: true, Action: model.RoutingActionTransform, Transform: "uppercase-critical"},
	})

	msg, err := r.Send(SendOptions{Content: "hi", Priority: model.PriorityNormal})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Content != "hi!" || msg.Priority != model.PriorityCritical {
		t.Errorf("expected transformed content/priority, got %q/%s", msg.Content, msg.Priority)
	}
}

func TestBroadcastFansOutToEachRecipient(t *testing.T) {
	fq := &fakeQueue{}
	r := New(Options{Queue: fq, Logger: newTestLogger(t)})

	messages, err := r.Broadcast(SendOptions{Content: "status"}, []string{"w1", "w2", "w3"})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(messages) != 3 || len(fq.enqueued) != 3 {
		t.Fatalf("expected 3 sends, got %d messages / %d enqueued", len(messages), len(fq.enqueued))
	}
}

func TestSubscribeReceivesMatchingSends(t *testing.T) {
	fq := &fakeQueue{}
	r := New(Options{Queue: fq, Logger: newTestLogger(t)})

	received := make(chan *model.Message, 1)
	unsub := r.Subscribe(Filter{DestinationPattern: "worker-*"}, func(_ SendOptions, msg *model.Message) {
		received <- msg
	})
	defer unsub()

	if _, err := r.Send(SendOptions{Receiver: model.AgentIdentifier{ID: "worker-1"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Receiver.ID != "worker-1" {
			t.Errorf("unexpected message receiver %s", msg.Receiver.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was never notified")
	}
}

func TestRouteTracingRecordsTerminalHop(t *testing.T) {
	fq := &fakeQueue{}
	r := New(Options{Queue: fq, Logger: newTestLogger(t), TraceRoutes: true})
	defer r.Close()

	msg, err := r.Send(SendOptions{Receiver: model.AgentIdentifier{ID: "worker-1"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, ok := r.RouteRecord(msg.ID); !ok {
		t.Fatal("expected a route record after send")
	}

	fq.emit(queue.Event{Type: queue.EventDelivered, Message: msg})

	rec, ok := r.RouteRecord(msg.ID)
	if !ok {
		t.Fatal("expected route record to still exist")
	}
	if rec.Status != "delivered" {
		t.Errorf("expected status delivered, got %s", rec.Status)
	}
	if len(rec.Hops) != 2 {
		t.Errorf("expected 2 hops (enqueued + terminal), got %d", len(rec.Hops))
	}
}

func TestPatternMatching(t *testing.T) {
	cases := []struct {
		pattern, value string
		want           bool
	}{
		{"", "anything", true},
		{"*", "anything", true},
		{"worker-*", "worker-1", true},
		{"worker-*", "other-1", false},
		{"*-done", "task-done", true},
		{"*-done", "task-pending", false},
		{"exact", "exact", true},
		{"exact", "not-exact", false},
	}
	for _, c := range cases {
		if got := matchPattern(c.pattern, c.value); got != c.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", c.pattern, c.value, got, c.want)
		}
	}
}
