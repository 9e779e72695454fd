package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kandev/orchestrion/internal/orchestrator/model"
)

// ruleFile is the on-disk shape of a routing rule chain.
type ruleFile struct {
	Rules []ruleFileEntry `yaml:"rules"`
}

type ruleFileEntry struct {
	ID                 string              `yaml:"id"`
	Name               string              `yaml:"name"`
	Priority           int                 `yaml:"priority"`
	Enabled            bool                `yaml:"enabled"`
	Action             model.RoutingAction `yaml:"action"`
	MessageTypes       []model.MessageType `yaml:"messageTypes,omitempty"`
	SourcePattern      string              `yaml:"sourcePattern,omitempty"`
	DestinationPattern string              `yaml:"destinationPattern,omitempty"`
	PriorityFilter     []model.Priority    `yaml:"priorityFilter,omitempty"`
	PlanIDFilter       []string            `yaml:"planIdFilter,omitempty"`
	TargetAgentID      string              `yaml:"targetAgentId,omitempty"`
	Transform          string              `yaml:"transform,omitempty"`
	DelayMs            int                 `yaml:"delayMs,omitempty"`
}

func loadRuleFile(path string) ([]*model.RoutingRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}

	var parsed ruleFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}

	rules := make([]*model.RoutingRule, 0, len(parsed.Rules))
	for _, e := range parsed.Rules {
		rules = append(rules, &model.RoutingRule{
			ID:                 e.ID,
			Name:                e.Name,
			Priority:            e.Priority,
			Enabled:             e.Enabled,
			Action:              e.Action,
			MessageTypes:        e.MessageTypes,
			SourcePattern:       e.SourcePattern,
			DestinationPattern:  e.DestinationPattern,
			PriorityFilter:      e.PriorityFilter,
			PlanIDFilter:        e.PlanIDFilter,
			TargetAgentID:       e.TargetAgentID,
			Transform:           e.Transform,
			DelayMs:             e.DelayMs,
		})
	}
	return rules, nil
}

// LoadRuleFile reads path and replaces the router's rule chain.
func (r *Router) LoadRuleFile(path string) error {
	rules, err := loadRuleFile(path)
	if err != nil {
		return err
	}
	r.SetRules(rules)
	r.logger.Info("loaded routing rules", zap.String("path", path), zap.Int("count", len(rules)))
	return nil
}

// WatchRuleFile reloads the rule file whenever it changes on disk,
// debouncing bursts of writes (editors often emit several events per
// save), until ctx is cancelled.
func (r *Router) WatchRuleFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rule file watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch rule file directory: %w", err)
	}

	go func() {
		defer watcher.Close()

		const debounce = 300 * time.Millisecond
		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				timerC = timer.C

			case <-timerC:
				if err := r.LoadRuleFile(path); err != nil {
					r.logger.Warn("failed to reload rule file, keeping previous rules",
						zap.String("path", path), zap.Error(err))
				}
				timerC = nil

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("rule file watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
