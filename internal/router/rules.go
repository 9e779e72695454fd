package router

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kandev/orchestrion/internal/orchestrator/model"
)

func durationMillis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ruleEngine holds the ordered, mutable chain of routing rules.
type ruleEngine struct {
	mu         sync.RWMutex
	rules      []*model.RoutingRule
	transforms map[string]TransformFunc
}

func newRuleEngine() *ruleEngine {
	return &ruleEngine{transforms: make(map[string]TransformFunc)}
}

// SetRules replaces the whole rule chain, e.g. on hot-reload from disk.
func (e *ruleEngine) SetRules(rules []*model.RoutingRule) {
	sorted := make([]*model.RoutingRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = sorted
}

// Rules returns a snapshot of the current rule chain.
func (e *ruleEngine) Rules() []*model.RoutingRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*model.RoutingRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// RegisterTransform names a content/priority rewrite function so
// "transform" rules can reference it by RoutingRule.Transform.
func (e *ruleEngine) RegisterTransform(name string, fn TransformFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transforms[name] = fn
}

// evalResult is the outcome of running the rule chain over a candidate send.
type evalResult struct {
	opts    SendOptions
	dropped bool
	hops    []model.RoutingAction
}

// evaluate applies every enabled rule whose filter matches opts, in
// descending rule.priority order, composing their effects left to right.
// A "drop" short-circuits the remaining chain.
func (e *ruleEngine) evaluate(opts SendOptions) (evalResult, error) {
	e.mu.RLock()
	rules := make([]*model.RoutingRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	result := evalResult{opts: opts}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		filter := Filter{
			MessageTypes:       rule.MessageTypes,
			SourcePattern:      rule.SourcePattern,
			DestinationPattern: rule.DestinationPattern,
			PriorityFilter:     rule.PriorityFilter,
			PlanIDFilter:       rule.PlanIDFilter,
		}
		if !filter.matches(result.opts) {
			continue
		}

		switch rule.Action {
		case model.RoutingActionDrop:
			result.dropped = true
			result.hops = append(result.hops, model.RoutingActionDrop)
			return result, nil

		case model.RoutingActionRoute:
			if rule.TargetAgentID != "" {
				result.opts.Receiver.ID = rule.TargetAgentID
			}
			result.hops = append(result.hops, model.RoutingActionRoute)

		case model.RoutingActionTransform:
			e.mu.RLock()
			fn, ok := e.transforms[rule.Transform]
			e.mu.RUnlock()
			if !ok {
				return result, fmt.Errorf("routing rule %q references unknown transform %q", rule.ID, rule.Transform)
			}
			content, priority, err := fn(result.opts.Content, result.opts.Priority)
			if err != nil {
				return result, fmt.Errorf("routing rule %q transform failed: %w", rule.ID, err)
			}
			result.opts.Content = content
			result.opts.Priority = priority
			result.hops = append(result.hops, model.RoutingActionTransform)

		case model.RoutingActionDelay:
			if result.opts.DeliveryOptions == nil {
				defaults := model.DefaultDeliveryOptions()
				result.opts.DeliveryOptions = &defaults
			}
			result.opts.DeliveryOptions.Timeout += durationMillis(rule.DelayMs)
			result.hops = append(result.hops, model.RoutingActionDelay)

		case model.RoutingActionBroadcast:
			// no-op at rule evaluation: broadcast is invoked explicitly
			// through Router.Broadcast, never triggered by a matched rule.
		}
	}

	return result, nil
}
