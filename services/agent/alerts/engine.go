// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package alerts implements the threshold engine: static rules
// evaluated against metric snapshots, with per-rule cooldowns and
// fail-safe handling of unresolvable metrics and conditions.
package alerts

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// maxAlertHistory bounds the fired-alert deque.
const maxAlertHistory = 200

// Config wires the engine's collaborators.
type Config struct {
	// Rules in declaration order. Default: DefaultRules().
	Rules []datatypes.AlertRule

	// Platform is the current platform tag for rule whitelists
	// ("local", "colab", "kaggle").
	Platform string

	// FreshSnapshot supplies a fresh sample for the active-alert
	// re-check. Nil disables the re-check (alerts stay active for
	// their full cooldown).
	FreshSnapshot func() *datatypes.MetricSnapshot

	// Notify, when set, receives every fired alert (the agent routes
	// these to the analytics pipeline and the relay).
	Notify func(datatypes.FiredAlert)

	// Now is the clock, injectable for tests. Default time.Now.
	Now func() time.Time
}

// Engine evaluates threshold rules. Safe for concurrent use.
type Engine struct {
	cfg Config

	mu        sync.Mutex
	history   []datatypes.FiredAlert // newest last
	lastFired map[string]float64     // rule id -> epoch seconds
}

// NewEngine builds an engine from config.
func NewEngine(cfg Config) *Engine {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.Platform == "" {
		cfg.Platform = "local"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:       cfg,
		lastFired: make(map[string]float64),
	}
}

// Evaluate runs every rule against the snapshot, in declaration order,
// and returns the rules that newly fired in this call.
func (e *Engine) Evaluate(s *datatypes.MetricSnapshot) []datatypes.FiredAlert {
	if s == nil {
		return nil
	}
	now := e.cfg.Now()
	nowEpoch := float64(now.UnixNano()) / 1e9

	var fired []datatypes.FiredAlert
	e.mu.Lock()
	for i := range e.cfg.Rules {
		rule := &e.cfg.Rules[i]
		alert, ok := e.evaluateRuleLocked(rule, s, now, nowEpoch)
		if !ok {
			continue
		}
		e.history = append(e.history, alert)
		if len(e.history) > maxAlertHistory {
			e.history = e.history[len(e.history)-maxAlertHistory:]
		}
		e.lastFired[rule.ID] = nowEpoch
		fired = append(fired, alert)
	}
	e.mu.Unlock()

	if e.cfg.Notify != nil {
		for _, a := range fired {
			e.cfg.Notify(a)
		}
	}
	return fired
}

// evaluateRuleLocked applies the per-rule checks in order, stopping at
// the first failure. Caller holds e.mu.
func (e *Engine) evaluateRuleLocked(rule *datatypes.AlertRule, s *datatypes.MetricSnapshot,
	now time.Time, nowEpoch float64) (datatypes.FiredAlert, bool) {

	if !rule.AppliesTo(e.cfg.Platform) {
		return datatypes.FiredAlert{}, false
	}
	if last, ok := e.lastFired[rule.ID]; ok && nowEpoch-last < rule.CooldownSeconds {
		return datatypes.FiredAlert{}, false
	}
	value, ok := s.MetricPath(rule.Metric)
	if !ok {
		return datatypes.FiredAlert{}, false
	}

	threshold := rule.Threshold
	if rule.CompareTo != "" {
		other, ok := s.MetricPath(rule.CompareTo)
		if !ok {
			return datatypes.FiredAlert{}, false
		}
		threshold = other
	}
	if !compare(value, rule.Operator, threshold) {
		return datatypes.FiredAlert{}, false
	}

	if rule.Condition != "" {
		pass, ok := evalCondition(rule.Condition, s)
		// Unparseable or unknown-metric conditions fail safe.
		if !ok || !pass {
			if !ok {
				slog.Debug("skipping rule with bad condition",
					"rule", rule.ID, "condition", rule.Condition)
			}
			return datatypes.FiredAlert{}, false
		}
	}

	return datatypes.FiredAlert{
		RuleID:    rule.ID,
		Severity:  rule.Severity,
		Message:   formatMessage(rule.Message, value),
		Value:     value,
		Threshold: threshold,
		FiredAt:   now.UTC(),
		Epoch:     nowEpoch,
	}, true
}

// Alerts returns up to limit alerts from history, newest first.
func (e *Engine) Alerts(limit int) []datatypes.FiredAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]datatypes.FiredAlert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// ActiveAlerts returns alerts still inside their cooldown whose primary
// condition holds against a fresh snapshot. A recovered condition drops
// the alert immediately, even mid-cooldown.
func (e *Engine) ActiveAlerts() []datatypes.FiredAlert {
	nowEpoch := float64(e.cfg.Now().UnixNano()) / 1e9

	var fresh *datatypes.MetricSnapshot
	if e.cfg.FreshSnapshot != nil {
		fresh = e.cfg.FreshSnapshot()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rulesByID := make(map[string]*datatypes.AlertRule, len(e.cfg.Rules))
	for i := range e.cfg.Rules {
		rulesByID[e.cfg.Rules[i].ID] = &e.cfg.Rules[i]
	}

	var active []datatypes.FiredAlert
	seen := make(map[string]bool)
	for i := len(e.history) - 1; i >= 0; i-- {
		a := e.history[i]
		if seen[a.RuleID] {
			continue
		}
		seen[a.RuleID] = true

		rule, ok := rulesByID[a.RuleID]
		if !ok {
			continue
		}
		if nowEpoch-a.Epoch >= rule.CooldownSeconds {
			continue
		}
		if fresh != nil {
			value, ok := fresh.MetricPath(rule.Metric)
			if !ok {
				continue
			}
			threshold := rule.Threshold
			if rule.CompareTo != "" {
				if other, ok := fresh.MetricPath(rule.CompareTo); ok {
					threshold = other
				} else {
					continue
				}
			}
			if !compare(value, rule.Operator, threshold) {
				continue
			}
		}
		active = append(active, a)
	}
	return active
}

// AlertCount returns the total number of alerts retained in history.
func (e *Engine) AlertCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// compare applies one of the six rule operators. Unknown operators
// never match.
func compare(value float64, op string, threshold float64) bool {
	switch op {
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		return false
	}
}

// evalCondition parses and applies "path OP number". The second return
// is false when the condition is unparseable or the metric is missing.
func evalCondition(cond string, s *datatypes.MetricSnapshot) (pass, ok bool) {
	fields := strings.Fields(cond)
	if len(fields) != 3 {
		return false, false
	}
	value, resolved := s.MetricPath(fields[0])
	if !resolved {
		return false, false
	}
	threshold, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return false, false
	}
	switch fields[1] {
	case ">=", "<=", ">", "<", "==", "!=":
		return compare(value, fields[1], threshold), true
	default:
		return false, false
	}
}

// formatMessage substitutes {value} with the resolved value and
// {value_human} with a duration rendering for numeric seconds.
func formatMessage(template string, value float64) string {
	msg := strings.ReplaceAll(template, "{value}",
		strconv.FormatFloat(round1(value), 'f', -1, 64))
	if strings.Contains(msg, "{value_human}") {
		msg = strings.ReplaceAll(msg, "{value_human}", datatypes.HumanDuration(value))
	}
	return msg
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
