// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// LLMCall is one recorded API call. Token counts are clamped >= 0 at
// record time; TotalTokens is always Input + Output.
type LLMCall struct {
	Timestamp      time.Time      `json:"timestamp"`
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	InputTokens    int64          `json:"input_tokens"`
	OutputTokens   int64          `json:"output_tokens"`
	TotalTokens    int64          `json:"total_tokens"`
	CachedTokens   int64          `json:"cached_tokens"`
	CostUSD        float64        `json:"cost_usd"`
	LatencySeconds float64        `json:"latency_seconds"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ModelPricing is one row of the price table: USD per million tokens,
// plus the model's context window and the context fraction past which
// conversation health decays sharply.
type ModelPricing struct {
	InputPerM      float64 `json:"input_per_m"`
	OutputPerM     float64 `json:"output_per_m"`
	CachedPerM     float64 `json:"cached_per_m"`
	ContextWindow  int64   `json:"context_window"`
	DangerZonePct  float64 `json:"danger_zone_pct"`
}

// HealthComponent is one scored signal inside a health report.
type HealthComponent struct {
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

// HealthReport is the 0-100 conversation-health result.
type HealthReport struct {
	Score          float64                    `json:"score"`
	Rating         string                     `json:"rating"`
	Recommendation string                     `json:"recommendation"`
	Source         string                     `json:"source"`
	Components     map[string]HealthComponent `json:"components"`
	Model          string                     `json:"model,omitempty"`
	DangerZone     *DangerZone                `json:"danger_zone,omitempty"`
}

// DangerZone reports where the model's context danger zone sits
// relative to current usage.
type DangerZone struct {
	Percent        float64 `json:"percent"`
	CurrentPercent float64 `json:"current_percent"`
	InDangerZone   bool    `json:"in_danger_zone"`
}
