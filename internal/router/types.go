package router

import (
	"time"

	"github.com/kandev/orchestrion/internal/orchestrator/model"
	"github.com/kandev/orchestrion/internal/queue"
)

// QueueClient is the narrow slice of *queue.Queue the router depends on,
// so tests can substitute an in-memory double.
type QueueClient interface {
	Enqueue(opts queue.EnqueueOptions) (*model.Message, error)
	Subscribe(l queue.Listener) queue.Unregister
}

// SendOptions is the router's enqueue request: the same fields the queue
// accepts, before rule evaluation rewrites them.
type SendOptions struct {
	Type            model.MessageType
	Priority        model.Priority
	Sender          model.AgentIdentifier
	Receiver        model.AgentIdentifier
	Content         string
	DeliveryOptions *model.DeliveryOptions
	PlanID          string
	TaskID          string
	SubtaskID       string
	Depth           int
	CorrelationID   string
	TraceID         string
	SpanID          string
}

// TransformFunc is a named content/priority rewrite a "transform" rule
// invokes by name (RoutingRule.Transform names the registered function).
type TransformFunc func(content string, priority model.Priority) (string, model.Priority, error)

// Filter is the conjunction of predicates a rule or subscription applies
// to a candidate message; an unset field passes unconditionally.
type Filter struct {
	MessageTypes       []model.MessageType
	SourcePattern      string
	DestinationPattern string
	PriorityFilter     []model.Priority
	PlanIDFilter       []string
	SenderFilter       []string // subscriptions only
}

func (f Filter) matches(opts SendOptions) bool {
	if len(f.MessageTypes) > 0 && !containsType(f.MessageTypes, opts.Type) {
		return false
	}
	if !matchPattern(f.SourcePattern, opts.Sender.ID) {
		return false
	}
	if !matchPattern(f.DestinationPattern, opts.Receiver.ID) {
		return false
	}
	if len(f.PriorityFilter) > 0 && !containsPriority(f.PriorityFilter, opts.Priority) {
		return false
	}
	if len(f.PlanIDFilter) > 0 && !containsString(f.PlanIDFilter, opts.PlanID) {
		return false
	}
	if len(f.SenderFilter) > 0 && !containsString(f.SenderFilter, opts.Sender.ID) {
		return false
	}
	return true
}

func containsType(list []model.MessageType, v model.MessageType) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsPriority(list []model.Priority, v model.Priority) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Subscription is an active fan-out registration returned by Subscribe.
type Subscription struct {
	id       uint64
	filter   Filter
	callback func(SendOptions, *model.Message)
}

// subscriberEvent is queued to a subscriber's bounded channel so a slow
// callback cannot block Send; the channel drops the oldest entry when
// full rather than blocking the publisher.
type subscriberEvent struct {
	opts SendOptions
	msg  *model.Message
}

const defaultRouteRecordTTL = 10 * time.Minute
