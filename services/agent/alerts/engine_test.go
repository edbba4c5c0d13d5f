// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alerts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

func memSnapshot(memPct float64) *datatypes.MetricSnapshot {
	now := time.Now().UTC()
	return &datatypes.MetricSnapshot{
		Timestamp: now,
		Epoch:     float64(now.UnixNano()) / 1e9,
		Memory:    datatypes.MemoryStats{Percent: memPct},
	}
}

func memRule(cooldown float64) datatypes.AlertRule {
	return datatypes.AlertRule{
		ID:              "memory_high",
		Metric:          "memory.percent",
		Operator:        ">=",
		Threshold:       80,
		Severity:        "warning",
		Message:         "Memory at {value}%",
		CooldownSeconds: cooldown,
	}
}

func TestEvaluate_CooldownDedup(t *testing.T) {
	e := NewEngine(Config{Rules: []datatypes.AlertRule{memRule(300)}})

	first := e.Evaluate(memSnapshot(90.5))
	if len(first) != 1 {
		t.Fatalf("first Evaluate fired %d alerts, want 1", len(first))
	}
	a := first[0]
	if a.RuleID != "memory_high" || a.Severity != "warning" {
		t.Errorf("alert identity wrong: %+v", a)
	}
	if a.Message != "Memory at 90.5%" {
		t.Errorf("message = %q, want %q", a.Message, "Memory at 90.5%")
	}

	second := e.Evaluate(memSnapshot(90.5))
	if len(second) != 0 {
		t.Errorf("second Evaluate inside cooldown fired %d alerts", len(second))
	}
	if e.AlertCount() != 1 {
		t.Errorf("history count = %d, want 1", e.AlertCount())
	}
}

func TestEvaluate_ZeroCooldownFiresEveryTime(t *testing.T) {
	e := NewEngine(Config{Rules: []datatypes.AlertRule{memRule(0)}})
	if len(e.Evaluate(memSnapshot(85))) != 1 {
		t.Fatal("first evaluation should fire")
	}
	if len(e.Evaluate(memSnapshot(85))) != 1 {
		t.Fatal("zero-cooldown rule should fire again")
	}
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	e := NewEngine(Config{Rules: []datatypes.AlertRule{memRule(300)}})
	if fired := e.Evaluate(memSnapshot(79.9)); len(fired) != 0 {
		t.Errorf("fired below threshold: %+v", fired)
	}
}

func TestEvaluate_MissingMetricSkips(t *testing.T) {
	rule := memRule(0)
	rule.Metric = "gpu.0.memory_percent" // snapshot has no GPUs
	e := NewEngine(Config{Rules: []datatypes.AlertRule{rule}})
	if fired := e.Evaluate(memSnapshot(95)); len(fired) != 0 {
		t.Errorf("fired on missing metric: %+v", fired)
	}
}

func TestEvaluate_PlatformFilter(t *testing.T) {
	rule := memRule(0)
	rule.Platforms = []string{"colab"}
	e := NewEngine(Config{Rules: []datatypes.AlertRule{rule}, Platform: "local"})
	if fired := e.Evaluate(memSnapshot(95)); len(fired) != 0 {
		t.Errorf("platform-filtered rule fired: %+v", fired)
	}
}

func TestEvaluate_ConditionFailSafe(t *testing.T) {
	tests := []struct {
		name string
		cond string
	}{
		{"unparseable", "what even is this"},
		{"unknown metric", "gpu.7.utilization_percent > 10"},
		{"bad operator", "memory.percent ~~ 10"},
		{"false condition", "cpu.percent > 99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := memRule(0)
			rule.Condition = tt.cond
			e := NewEngine(Config{Rules: []datatypes.AlertRule{rule}})
			if fired := e.Evaluate(memSnapshot(95)); len(fired) != 0 {
				t.Errorf("rule fired despite condition %q", tt.cond)
			}
		})
	}
}

func TestEvaluate_ConditionPasses(t *testing.T) {
	rule := memRule(0)
	rule.Condition = "memory.percent >= 90"
	e := NewEngine(Config{Rules: []datatypes.AlertRule{rule}})
	if fired := e.Evaluate(memSnapshot(95)); len(fired) != 1 {
		t.Errorf("rule with true condition did not fire")
	}
}

func TestEvaluate_CompareTo(t *testing.T) {
	rule := datatypes.AlertRule{
		ID:       "cpu_above_mem",
		Metric:   "cpu.percent",
		Operator: ">",
		CompareTo: "memory.percent",
		Severity: "info",
		Message:  "cpu {value} above memory",
	}
	s := memSnapshot(40)
	s.CPU.Percent = 60
	e := NewEngine(Config{Rules: []datatypes.AlertRule{rule}})
	fired := e.Evaluate(s)
	if len(fired) != 1 {
		t.Fatal("compare_to rule should fire")
	}
	if fired[0].Threshold != 40 {
		t.Errorf("threshold should be resolved compare_to value, got %v", fired[0].Threshold)
	}
}

func TestEvaluate_DeclarationOrder(t *testing.T) {
	r1 := memRule(0)
	r2 := memRule(0)
	r2.ID = "memory_critical"
	r2.Threshold = 90
	r2.Severity = "critical"
	e := NewEngine(Config{Rules: []datatypes.AlertRule{r1, r2}})
	fired := e.Evaluate(memSnapshot(95))
	if len(fired) != 2 {
		t.Fatalf("both rules should fire, got %d", len(fired))
	}
	if fired[0].RuleID != "memory_high" || fired[1].RuleID != "memory_critical" {
		t.Errorf("rules fired out of declaration order: %v then %v",
			fired[0].RuleID, fired[1].RuleID)
	}
}

func TestActiveAlerts_RecoveredConditionDrops(t *testing.T) {
	fresh := memSnapshot(50) // recovered
	e := NewEngine(Config{
		Rules:         []datatypes.AlertRule{memRule(300)},
		FreshSnapshot: func() *datatypes.MetricSnapshot { return fresh },
	})
	e.Evaluate(memSnapshot(95))

	if active := e.ActiveAlerts(); len(active) != 0 {
		t.Errorf("recovered alert still active: %+v", active)
	}

	fresh.Memory.Percent = 95 // still bad
	if active := e.ActiveAlerts(); len(active) != 1 {
		t.Errorf("ongoing alert should be active")
	}
}

func TestActiveAlerts_CooldownExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	e := NewEngine(Config{
		Rules: []datatypes.AlertRule{memRule(10)},
		Now:   func() time.Time { return clock() },
		FreshSnapshot: func() *datatypes.MetricSnapshot {
			return memSnapshot(95)
		},
	})
	e.Evaluate(memSnapshot(95))
	if len(e.ActiveAlerts()) != 1 {
		t.Fatal("alert should be active inside cooldown")
	}
	clock = func() time.Time { return now.Add(11 * time.Second) }
	if active := e.ActiveAlerts(); len(active) != 0 {
		t.Errorf("alert active past cooldown: %+v", active)
	}
}

func TestAlerts_NewestFirstAndLimit(t *testing.T) {
	e := NewEngine(Config{Rules: []datatypes.AlertRule{memRule(0)}})
	for i := 0; i < 5; i++ {
		e.Evaluate(memSnapshot(90))
	}
	got := e.Alerts(3)
	if len(got) != 3 {
		t.Fatalf("Alerts(3) len = %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Epoch > got[i-1].Epoch {
			t.Error("alerts not newest-first")
		}
	}
}

func TestFormatMessage_ValueHuman(t *testing.T) {
	msg := formatMessage("stalled for {value_human} ({value}s)", 200)
	if msg != "stalled for 3m 20s (200s)" {
		t.Errorf("formatMessage = %q", msg)
	}
}

func TestRound1(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{90.54, 90.5},
		{90.56, 90.6},
		{-1.25, -1.3},
		{-1.24, -1.2},
		{0, 0},
	}
	for _, c := range cases {
		if got := round1(c.in); got != c.want {
			t.Errorf("round1(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	body := `rules:
  - id: mem
    metric: memory.percent
    operator: ">="
    threshold: 75
    severity: warning
    message: "Memory at {value}%"
    cooldown_seconds: 60
    platforms: [colab, kaggle]
`
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "mem" || rules[0].Threshold != 75 {
		t.Errorf("rules = %+v", rules)
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("rules:\n  - metric: memory.percent\n"), 0o640)
	if _, err := LoadRules(bad); err == nil {
		t.Error("rule without id accepted")
	}
}

func TestMergeRules(t *testing.T) {
	base := DefaultRules()
	custom := []datatypes.AlertRule{
		{ID: "memory_high", Metric: "memory.percent", Operator: ">=", Threshold: 70,
			Severity: "warning", Message: "Memory at {value}%", CooldownSeconds: 60},
		{ID: "net_quiet", Metric: "network.bytes_recv", Operator: "<=", Threshold: 1,
			Severity: "info", Message: "Network idle"},
	}

	merged := MergeRules(base, custom)
	if len(merged) != len(base)+1 {
		t.Fatalf("merged %d rules, want %d", len(merged), len(base)+1)
	}
	// Override replaces in place, keeping the default's position.
	if merged[0].ID != base[0].ID {
		t.Errorf("first rule = %s, want %s", merged[0].ID, base[0].ID)
	}
	for _, r := range merged {
		if r.ID == "memory_high" && r.Threshold != 70 {
			t.Errorf("memory_high threshold = %v, want 70", r.Threshold)
		}
	}
	if merged[len(merged)-1].ID != "net_quiet" {
		t.Errorf("new rule should append last, got %s", merged[len(merged)-1].ID)
	}
}
