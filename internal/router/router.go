// Package router implements the rule engine and subscription bus that
// sits above the priority message queue: rule-driven rewrite/drop/delay/
// transform of outbound sends, a fan-out subscription bus for peers
// watching message traffic, and optional route tracing.
package router

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/orchestrator/ports"
	"github.com/kandev/orchestrion/internal/queue"
)

// ErrDropped is returned by Send when the rule chain dropped the message.
// The caller still receives the synthetic failed message.
var ErrDropped = fmt.Errorf("message dropped by routing rule")

// Router is the rule-driven dispatch layer sitting above the queue.
type Router struct {
	logger *logger.Logger
	clock  ports.Clock
	q      QueueClient
	rules  *ruleEngine

	subMu       sync.RWMutex
	subs        map[uint64]*subscriberHandle
	nextSubID   uint64
	subDepth    int

	traceEnabled bool
	tracer       *tracer

	unsubQueue queue.Unregister
}

type subscriberHandle struct {
	sub *Subscription
	ch  chan subscriberEvent
}

// Options configures a Router.
type Options struct {
	Queue            QueueClient
	Logger           *logger.Logger
	Clock            ports.Clock
	TraceRoutes      bool
	SubscriberDepth  int
}

// New constructs a Router bound to the given queue.
func New(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.SubscriberDepth <= 0 {
		opts.SubscriberDepth = 64
	}

	r := &Router{
		logger:       opts.Logger.WithFields(zap.String("component", "router")),
		clock:        opts.Clock,
		q:            opts.Queue,
		rules:        newRuleEngine(),
		subs:         make(map[uint64]*subscriberHandle),
		subDepth:     opts.SubscriberDepth,
		traceEnabled: opts.TraceRoutes,
	}

	if r.traceEnabled {
		r.tracer = newTracer()
		r.unsubQueue = opts.Queue.Subscribe(r.onQueueEvent)
	}

	return r
}

// Close releases the router's queue event subscription.
func (r *Router) Close() {
	if r.unsubQueue != nil {
		r.unsubQueue()
	}
}

// SetRules replaces the router's rule chain wholesale (used by the file
// loader on initial load and on hot-reload).
func (r *Router) SetRules(rules []*model.RoutingRule) { r.rules.SetRules(rules) }

// Rules returns the current rule chain, highest priority first.
func (r *Router) Rules() []*model.RoutingRule { return r.rules.Rules() }

// RegisterTransform names a transform function a "transform" rule can
// reference by RoutingRule.Transform.
func (r *Router) RegisterTransform(name string, fn TransformFunc) {
	r.rules.RegisterTransform(name, fn)
}

// Send applies the rule chain to opts and, unless dropped, dispatches the
// result through the queue. Returns ErrDropped alongside the synthetic
// failed message when a rule drops it.
func (r *Router) Send(opts SendOptions) (*model.Message, error) {
	result, err := r.rules.evaluate(opts)
	if err != nil {
		return nil, err
	}

	if result.dropped {
		msg := &model.Message{
			Type:     opts.Type,
			Priority: opts.Priority,
			Status:   model.MessageStatusFailed,
			Sender:   opts.Sender,
			Receiver: opts.Receiver,
			Content:  opts.Content,
			Metadata: model.MessageMetadata{
				CreatedAt: r.clock.Now(),
				LastError: "dropped by routing rule",
			},
			PlanID:    opts.PlanID,
			TaskID:    opts.TaskID,
			SubtaskID: opts.SubtaskID,
		}
		r.logger.Debug("message dropped by routing rule",
			zap.String("sender", opts.Sender.ID), zap.String("receiver", opts.Receiver.ID))
		r.notifySubscribers(opts, msg)
		return msg, ErrDropped
	}

	enqueueOpts := queue.EnqueueOptions{
		Type:            result.opts.Type,
		Priority:        result.opts.Priority,
		Sender:          result.opts.Sender,
		Receiver:        result.opts.Receiver,
		Content:         result.opts.Content,
		DeliveryOptions: result.opts.DeliveryOptions,
		PlanID:          result.opts.PlanID,
		TaskID:          result.opts.TaskID,
		SubtaskID:       result.opts.SubtaskID,
		Depth:           result.opts.Depth,
		CorrelationID:   result.opts.CorrelationID,
		TraceID:         result.opts.TraceID,
		SpanID:          result.opts.SpanID,
	}

	msg, err := r.q.Enqueue(enqueueOpts)
	if err != nil {
		return nil, err
	}

	if r.traceEnabled {
		r.tracer.recordEnqueued(msg, r.clock.Now())
	}

	r.notifySubscribers(result.opts, msg)
	return msg, nil
}

// Broadcast invokes Send once per recipient, sharing every field of opts
// except the receiver.
func (r *Router) Broadcast(opts SendOptions, recipientIDs []string) ([]*model.Message, error) {
	messages := make([]*model.Message, 0, len(recipientIDs))
	var firstErr error
	for _, id := range recipientIDs {
		recipientOpts := opts
		recipientOpts.Receiver = model.AgentIdentifier{Kind: opts.Receiver.Kind, ID: id}
		msg, err := r.Send(recipientOpts)
		if err != nil && err != ErrDropped {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		messages = append(messages, msg)
	}
	return messages, firstErr
}

// Subscribe registers a fan-out callback notified after every successful
// Send whose options match filter — notification fires at send time, not
// at eventual delivery. The callback runs on a dedicated goroutine reading
// from a bounded, drop-oldest channel so a slow subscriber cannot block
// Send or other subscribers; panics inside callback are recovered and
// logged.
func (r *Router) Subscribe(filter Filter, callback func(SendOptions, *model.Message)) func() {
	id := atomic.AddUint64(&r.nextSubID, 1)
	handle := &subscriberHandle{
		sub: &Subscription{id: id, filter: filter, callback: callback},
		ch:  make(chan subscriberEvent, r.subDepth),
	}

	r.subMu.Lock()
	r.subs[id] = handle
	r.subMu.Unlock()

	go r.runSubscriber(handle)

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
		close(handle.ch)
	}
}

func (r *Router) runSubscriber(handle *subscriberHandle) {
	for ev := range handle.ch {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("router subscriber callback panicked", zap.Any("recover", rec))
				}
			}()
			handle.sub.callback(ev.opts, ev.msg)
		}()
	}
}

func (r *Router) notifySubscribers(opts SendOptions, msg *model.Message) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()

	for _, handle := range r.subs {
		if !handle.sub.filter.matches(opts) {
			continue
		}
		if len(handle.sub.filter.SenderFilter) > 0 && !containsString(handle.sub.filter.SenderFilter, opts.Sender.ID) {
			continue
		}
		select {
		case handle.ch <- subscriberEvent{opts: opts, msg: msg}:
		default:
			// bounded channel full: drop the oldest pending event rather
			// than block the publisher.
			select {
			case <-handle.ch:
			default:
			}
			select {
			case handle.ch <- subscriberEvent{opts: opts, msg: msg}:
			default:
			}
		}
	}
}

func (r *Router) onQueueEvent(ev queue.Event) {
	if !r.traceEnabled || ev.Message == nil {
		return
	}
	switch ev.Type {
	case queue.EventDelivered:
		r.tracer.recordTerminal(ev.Message.ID, ev.Message.Receiver.ID, model.RoutingActionRoute, r.clock.Now(), "delivered")
	case queue.EventFailed:
		r.tracer.recordTerminal(ev.Message.ID, ev.Message.Receiver.ID, model.RoutingActionRoute, r.clock.Now(), "failed")
	}
}

// RouteRecord returns the trace for messageID, if tracing is enabled and
// the message was seen.
func (r *Router) RouteRecord(messageID string) (*model.RouteRecord, bool) {
	if !r.traceEnabled {
		return nil, false
	}
	return r.tracer.get(messageID)
}
