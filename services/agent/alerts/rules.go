// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alerts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// DefaultRules returns the built-in rule set used when no rules file
// is supplied.
func DefaultRules() []datatypes.AlertRule {
	return []datatypes.AlertRule{
		{
			ID:              "memory_high",
			Metric:          "memory.percent",
			Operator:        ">=",
			Threshold:       80,
			Severity:        "warning",
			Message:         "Memory at {value}%",
			CooldownSeconds: 300,
		},
		{
			ID:              "memory_critical",
			Metric:          "memory.percent",
			Operator:        ">=",
			Threshold:       92,
			Severity:        "critical",
			Message:         "Memory critically high at {value}%",
			CooldownSeconds: 120,
		},
		{
			ID:              "cpu_high",
			Metric:          "cpu.percent",
			Operator:        ">=",
			Threshold:       90,
			Severity:        "warning",
			Message:         "CPU at {value}%",
			CooldownSeconds: 300,
		},
		{
			ID:              "disk_full",
			Metric:          "disk.percent",
			Operator:        ">=",
			Threshold:       90,
			Severity:        "warning",
			Message:         "Disk at {value}%",
			CooldownSeconds: 1800,
		},
		{
			ID:              "gpu_memory_high",
			Metric:          "gpu.0.memory_percent",
			Operator:        ">=",
			Threshold:       90,
			Severity:        "warning",
			Message:         "GPU memory at {value}%",
			CooldownSeconds: 300,
		},
		{
			ID:              "gpu_hot",
			Metric:          "gpu.0.temperature",
			Operator:        ">=",
			Threshold:       83,
			Severity:        "critical",
			Message:         "GPU temperature at {value}C",
			CooldownSeconds: 300,
			// Only meaningful while the GPU is actually working.
			Condition: "gpu.0.utilization_percent > 10",
		},
	}
}

// rulesFile is the YAML shape of a rules file.
type rulesFile struct {
	Rules []datatypes.AlertRule `yaml:"rules"`
}

// LoadRules reads alert rules from a YAML file. Rules with no id or no
// metric are rejected as configuration errors.
func LoadRules(path string) ([]datatypes.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	for i := range f.Rules {
		if f.Rules[i].ID == "" || f.Rules[i].Metric == "" {
			return nil, fmt.Errorf("rule %d: id and metric are required", i)
		}
	}
	return f.Rules, nil
}

// MergeRules overlays custom rules on a base set. A custom rule with a
// base rule's id replaces it in place; new ids append after the base
// set, keeping declaration order within each group.
func MergeRules(base, custom []datatypes.AlertRule) []datatypes.AlertRule {
	merged := make([]datatypes.AlertRule, len(base))
	copy(merged, base)

	index := make(map[string]int, len(base))
	for i := range merged {
		index[merged[i].ID] = i
	}
	for _, r := range custom {
		if i, ok := index[r.ID]; ok {
			merged[i] = r
			continue
		}
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}
	return merged
}
