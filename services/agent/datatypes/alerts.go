// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// AlertRule is a static threshold rule. Rules are declared in YAML (or
// the built-in defaults) and never change after engine construction.
//
// Exactly one of Threshold or CompareTo is meaningful: when CompareTo
// is set the resolved metric is compared against a second dot-path
// instead of the literal threshold.
type AlertRule struct {
	ID        string  `yaml:"id" json:"id"`
	Metric    string  `yaml:"metric" json:"metric"`
	Operator  string  `yaml:"operator" json:"operator"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	CompareTo string  `yaml:"compare_to,omitempty" json:"compare_to,omitempty"`
	Severity  string  `yaml:"severity" json:"severity"`

	// Message may contain {value} and {value_human} placeholders.
	Message string `yaml:"message" json:"message"`

	CooldownSeconds float64 `yaml:"cooldown_seconds" json:"cooldown_seconds"`

	// Condition is an optional extra gate of the form "path OP number".
	// Unparseable conditions fail safe: the rule does not fire.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Platforms whitelists platforms ("colab", "kaggle", "local",
	// "all"). Empty means all platforms.
	Platforms []string `yaml:"platforms,omitempty" json:"platforms,omitempty"`
}

// AppliesTo reports whether the rule is enabled on the given platform.
func (r *AlertRule) AppliesTo(platform string) bool {
	if len(r.Platforms) == 0 {
		return true
	}
	for _, p := range r.Platforms {
		if p == "all" || p == platform {
			return true
		}
	}
	return false
}

// FiredAlert is one firing of a rule.
type FiredAlert struct {
	RuleID    string    `json:"rule_id"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	FiredAt   time.Time `json:"fired_at"`
	Epoch     float64   `json:"epoch"`
}
