// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llmtrack

import (
	"fmt"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// BaselineSource marks a health report produced with no live signals.
const BaselineSource = "No active LLM signals -- baseline score"

// Health ratings, from the score thresholds in ratingFor.
const (
	RatingExcellent = "excellent"
	RatingGood      = "good"
	RatingFair      = "fair"
	RatingPoor      = "poor"
	RatingCritical  = "critical"
)

// HealthInputs are the raw signals for one health evaluation. Nil
// pointers mean the signal is unavailable and its weight redistributes
// over the rest.
type HealthInputs struct {
	ContextPercent *float64 // 0-100
	LatencyRatio   *float64 // second-half mean / first-half mean
	CostRatio      *float64 // second-half cost-per-token / first-half
	SessionFatigue *float64 // 0-100, MCP sessions
	ToolCallBurden *float64 // 0-100, MCP sessions
	VRAMPercent    *float64 // 0-100, local models
	InferenceRatio *float64 // current tps / initial tps

	Model       string
	ClientLabel string // e.g. "Claude Code", "Ollama"
}

// Weight profiles, chosen by which signal families are present.
var (
	apiWeights = map[string]float64{
		"context_freshness": 0.45,
		"latency":           0.30,
		"cost_efficiency":   0.25,
	}
	mcpWeights = map[string]float64{
		"context_freshness": 0.25,
		"latency":           0.15,
		"session_fatigue":   0.35,
		"chat_quality":      0.25,
	}
	localWeights = map[string]float64{
		"context_freshness":    0.30,
		"latency":              0.30,
		"vram_pressure":        0.25,
		"inference_throughput": 0.15,
	}
)

// ScoreHealth evaluates one source's signals into a 0-100 report.
// With every signal absent it returns the baseline score of 100.
func ScoreHealth(pricing *PriceTable, in HealthInputs) datatypes.HealthReport {
	if pricing == nil {
		pricing = NewPriceTable(nil)
	}

	components := make(map[string]datatypes.HealthComponent)
	if in.ContextPercent != nil {
		score, detail := scoreContext(*in.ContextPercent, pricing.DangerZone(in.Model))
		components["context_freshness"] = datatypes.HealthComponent{Score: score, Detail: detail}
	}
	if in.LatencyRatio != nil {
		score := scoreRatioDecay(*in.LatencyRatio)
		components["latency"] = datatypes.HealthComponent{
			Score: score, Detail: fmt.Sprintf("latency ratio %.2fx", *in.LatencyRatio)}
	}
	if in.CostRatio != nil {
		score := scoreRatioDecay(*in.CostRatio)
		components["cost_efficiency"] = datatypes.HealthComponent{
			Score: score, Detail: fmt.Sprintf("cost ratio %.2fx", *in.CostRatio)}
	}
	if in.SessionFatigue != nil {
		components["session_fatigue"] = datatypes.HealthComponent{
			Score: clamp(100-*in.SessionFatigue, 0, 100),
			Detail: fmt.Sprintf("fatigue %.0f/100", *in.SessionFatigue)}
	}
	if in.ToolCallBurden != nil {
		components["chat_quality"] = datatypes.HealthComponent{
			Score: clamp(100-*in.ToolCallBurden, 0, 100),
			Detail: fmt.Sprintf("tool-call burden %.0f/100", *in.ToolCallBurden)}
	}
	if in.VRAMPercent != nil {
		components["vram_pressure"] = datatypes.HealthComponent{
			Score: scoreVRAM(*in.VRAMPercent), Detail: fmt.Sprintf("VRAM at %.0f%%", *in.VRAMPercent)}
	}
	if in.InferenceRatio != nil {
		components["inference_throughput"] = datatypes.HealthComponent{
			Score: scoreInference(*in.InferenceRatio),
			Detail: fmt.Sprintf("throughput %.2fx of initial", *in.InferenceRatio)}
	}

	if len(components) == 0 {
		return datatypes.HealthReport{
			Score:          100,
			Rating:         RatingExcellent,
			Recommendation: "Conversation is healthy",
			Source:         BaselineSource,
			Components:     components,
			Model:          in.Model,
		}
	}

	weights := resolveWeights(in, components)
	var score float64
	for name, c := range components {
		c.Weight = weights[name]
		components[name] = c
		score += c.Score * c.Weight
	}
	score = clamp(score, 0, 100)

	report := datatypes.HealthReport{
		Score:      round1(score),
		Rating:     ratingFor(score),
		Source:     sourceLabel(in),
		Components: components,
		Model:      in.Model,
	}
	if in.Model != "" && in.ContextPercent != nil {
		dz := pricing.DangerZone(in.Model)
		report.DangerZone = &datatypes.DangerZone{
			Percent:        dz,
			CurrentPercent: *in.ContextPercent,
			InDangerZone:   *in.ContextPercent >= dz,
		}
	}
	report.Recommendation = recommendFor(score, in, report.DangerZone)
	return report
}

// resolveWeights picks the profile from the present signal families
// and renormalizes over the available components. Context freshness
// standing alone carries full weight.
func resolveWeights(in HealthInputs, components map[string]datatypes.HealthComponent) map[string]float64 {
	profile := apiWeights
	switch {
	case in.SessionFatigue != nil || in.ToolCallBurden != nil:
		profile = mcpWeights
	case in.VRAMPercent != nil || in.InferenceRatio != nil:
		profile = localWeights
	}

	weights := make(map[string]float64, len(components))
	var total float64
	for name := range components {
		w := profile[name]
		if w == 0 && name == "context_freshness" {
			w = 0.45
		}
		weights[name] = w
		total += w
	}
	if total <= 0 {
		// Equal split when nothing in the profile matched.
		for name := range weights {
			weights[name] = 1 / float64(len(weights))
		}
		return weights
	}
	for name := range weights {
		weights[name] /= total
	}
	return weights
}

// scoreContext rates context usage against the model's danger zone:
// full marks below 60% of the zone, 50 at the zone boundary, zero
// from 95% usage on.
func scoreContext(pct, dangerZone float64) (float64, string) {
	pct = clamp(pct, 0, 100)
	easy := dangerZone * 0.6
	var score float64
	switch {
	case pct <= easy:
		score = 100
	case pct <= dangerZone:
		score = 100 - 50*(pct-easy)/(dangerZone-easy)
	case pct < 95:
		score = 50 * (95 - pct) / (95 - dangerZone)
	default:
		score = 0
	}
	return score, fmt.Sprintf("context at %.0f%% (danger zone %.0f%%)", pct, dangerZone)
}

// scoreRatioDecay rates a degradation ratio: 100 while at or under
// 1.0x, falling linearly to 0 at 5x.
func scoreRatioDecay(ratio float64) float64 {
	if ratio <= 1 {
		return 100
	}
	if ratio >= 5 {
		return 0
	}
	return 100 * (5 - ratio) / 4
}

// scoreVRAM rates GPU memory pressure: unconstrained below 50%,
// falling linearly to 0 at 100%.
func scoreVRAM(pct float64) float64 {
	pct = clamp(pct, 0, 100)
	if pct <= 50 {
		return 100
	}
	return 100 * (100 - pct) / 50
}

// scoreInference rates throughput against the session's initial rate:
// 100 while holding the initial rate, 0 at half of it.
func scoreInference(ratio float64) float64 {
	if ratio >= 1 {
		return 100
	}
	if ratio <= 0.5 {
		return 0
	}
	return 100 * (ratio - 0.5) / 0.5
}

func ratingFor(score float64) string {
	switch {
	case score >= 90:
		return RatingExcellent
	case score >= 70:
		return RatingGood
	case score >= 50:
		return RatingFair
	case score >= 30:
		return RatingPoor
	default:
		return RatingCritical
	}
}

// recommendFor picks the first matching rule in descending severity.
func recommendFor(score float64, in HealthInputs, dz *datatypes.DangerZone) string {
	switch {
	case score < 30:
		return "Critical: start a fresh conversation now"
	case dz != nil && dz.InDangerZone:
		return "Context is in the danger zone; summarize and restart soon"
	case in.SessionFatigue != nil && *in.SessionFatigue > 50:
		return "Session fatigue is high; consider a break or a new session"
	case score < 50:
		return "Conversation quality is degrading; consider wrapping up"
	default:
		return "Conversation is healthy"
	}
}

// sourceLabel names the signal family that produced a report.
func sourceLabel(in HealthInputs) string {
	var base string
	switch {
	case in.SessionFatigue != nil || in.ToolCallBurden != nil:
		base = "MCP Session"
	case in.VRAMPercent != nil || in.InferenceRatio != nil:
		base = "Ollama (Local LLM)"
		if in.ClientLabel != "" {
			return base
		}
	default:
		base = "API Tracker"
	}
	if in.ClientLabel != "" {
		return base + " (" + in.ClientLabel + ")"
	}
	return base
}

// Health scores the tracker's own API-call signals. Returns nil when
// no calls are retained (no signal, not a zero score).
func (t *Tracker) Health() *datatypes.HealthReport {
	in := HealthInputs{}

	if pct, model, ok := t.lastContextPercent(); ok {
		in.ContextPercent = &pct
		in.Model = model
	} else if model != "" {
		in.Model = model
	}
	if trend := t.LatencyTrend("", 20); trend.Samples >= 4 {
		ratio := trend.Ratio
		in.LatencyRatio = &ratio
	}
	if ratio, ok := t.costEfficiencyRatio(20); ok {
		in.CostRatio = &ratio
	}

	if in.ContextPercent == nil && in.LatencyRatio == nil && in.CostRatio == nil {
		return nil
	}
	report := ScoreHealth(t.cfg.Pricing, in)
	return &report
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	if v < 0 {
		return float64(int64(v*10-0.5)) / 10
	}
	return float64(int64(v*10+0.5)) / 10
}
