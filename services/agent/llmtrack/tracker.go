// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llmtrack records LLM API usage: token counts, cost, latency,
// and the conversation-health signals derived from them. Instrumented
// clients (openai.go, streams.go) feed Record; the HTTP surface and
// the relay read the aggregations.
package llmtrack

import (
	"context"
	"sync"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// maxCalls bounds the in-memory call deque (FIFO eviction).
const maxCalls = 5000

// EventSink receives llm_call events (the analytics pipeline).
type EventSink interface {
	Emit(e datatypes.Event)
}

// WarningSource supplies currently-active alerts for Summary warnings
// (the alert engine).
type WarningSource interface {
	ActiveAlerts() []datatypes.FiredAlert
}

// Config wires a Tracker.
type Config struct {
	Pricing  *PriceTable
	Sink     EventSink     // may be nil
	Warnings WarningSource // may be nil
	Now      func() time.Time
}

// Tracker is the LLM usage registry. Safe for concurrent use.
type Tracker struct {
	cfg Config

	mu            sync.Mutex
	calls         []datatypes.LLMCall // oldest first
	sessionStart  time.Time
	unknownModels map[string]bool
}

// NewTracker builds a Tracker. A nil pricing table gets the defaults.
func NewTracker(cfg Config) *Tracker {
	if cfg.Pricing == nil {
		cfg.Pricing = NewPriceTable(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:           cfg,
		sessionStart:  cfg.Now(),
		unknownModels: make(map[string]bool),
	}
}

// RecordParams are the raw figures for one call. Negative counts and
// latencies are clamped to zero.
type RecordParams struct {
	Provider       string
	Model          string
	InputTokens    int64
	OutputTokens   int64
	CachedTokens   int64
	LatencySeconds float64
	ConversationID string
	Metadata       map[string]any
}

// Record appends a call record, computes cost from the price table,
// and emits an llm_call event.
func (t *Tracker) Record(p RecordParams) datatypes.LLMCall {
	if p.InputTokens < 0 {
		p.InputTokens = 0
	}
	if p.OutputTokens < 0 {
		p.OutputTokens = 0
	}
	if p.CachedTokens < 0 {
		p.CachedTokens = 0
	}
	if p.LatencySeconds < 0 {
		p.LatencySeconds = 0
	}
	if p.Provider == "" {
		p.Provider = "unknown"
	}

	cost, priced := t.cfg.Pricing.Cost(p.Model, p.InputTokens, p.OutputTokens, p.CachedTokens)

	call := datatypes.LLMCall{
		Timestamp:      t.cfg.Now().UTC(),
		Provider:       p.Provider,
		Model:          p.Model,
		InputTokens:    p.InputTokens,
		OutputTokens:   p.OutputTokens,
		TotalTokens:    p.InputTokens + p.OutputTokens,
		CachedTokens:   p.CachedTokens,
		CostUSD:        cost,
		LatencySeconds: p.LatencySeconds,
		ConversationID: p.ConversationID,
		Metadata:       p.Metadata,
	}

	t.mu.Lock()
	t.calls = append(t.calls, call)
	if len(t.calls) > maxCalls {
		t.calls = t.calls[len(t.calls)-maxCalls:]
	}
	if !priced && p.Model != "" {
		t.unknownModels[p.Model] = true
	}
	t.mu.Unlock()

	if t.cfg.Sink != nil {
		t.cfg.Sink.Emit(datatypes.Event{
			Source:  datatypes.SourceLLM,
			Type:    datatypes.EventLLMCall,
			Message: p.Provider + " " + p.Model,
			Data: map[string]any{
				"provider":        call.Provider,
				"model":           call.Model,
				"input_tokens":    call.InputTokens,
				"output_tokens":   call.OutputTokens,
				"cached_tokens":   call.CachedTokens,
				"cost_usd":        call.CostUSD,
				"latency_seconds": call.LatencySeconds,
				"conversation_id": call.ConversationID,
			},
		})
	}
	return call
}

// Calls returns up to limit records, newest first.
func (t *Tracker) Calls(limit int) []datatypes.LLMCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.calls)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]datatypes.LLMCall, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.calls[i])
	}
	return out
}

// Aggregate is a per-provider or per-model rollup.
type Aggregate struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CachedTokens int64   `json:"cached_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Summary is the /llm/usage payload.
type Summary struct {
	TotalCalls      int                  `json:"total_calls"`
	TotalTokens     int64                `json:"total_tokens"`
	TotalCostUSD    float64              `json:"total_cost_usd"`
	ByProvider      map[string]Aggregate `json:"by_provider"`
	ByModel         map[string]Aggregate `json:"by_model"`
	SessionDuration float64              `json:"session_duration_seconds"`
	Warnings        []string             `json:"warnings"`
}

// Summary aggregates all retained calls.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	s := Summary{
		ByProvider: make(map[string]Aggregate),
		ByModel:    make(map[string]Aggregate),
		Warnings:   []string{},
	}
	for _, c := range t.calls {
		s.TotalCalls++
		s.TotalTokens += c.TotalTokens
		s.TotalCostUSD += c.CostUSD

		p := s.ByProvider[c.Provider]
		p.Calls++
		p.InputTokens += c.InputTokens
		p.OutputTokens += c.OutputTokens
		p.CachedTokens += c.CachedTokens
		p.CostUSD += c.CostUSD
		s.ByProvider[c.Provider] = p

		m := s.ByModel[c.Model]
		m.Calls++
		m.InputTokens += c.InputTokens
		m.OutputTokens += c.OutputTokens
		m.CachedTokens += c.CachedTokens
		m.CostUSD += c.CostUSD
		s.ByModel[c.Model] = m
	}
	s.SessionDuration = t.cfg.Now().Sub(t.sessionStart).Seconds()
	for model := range t.unknownModels {
		s.Warnings = append(s.Warnings, "no pricing for model "+model+"; cost recorded as 0")
	}
	t.mu.Unlock()

	if t.cfg.Warnings != nil {
		for _, a := range t.cfg.Warnings.ActiveAlerts() {
			s.Warnings = append(s.Warnings, a.Message)
		}
	}
	return s
}

// ContextUsage is the /llm/context payload.
type ContextUsage struct {
	Model             string  `json:"model"`
	ContextWindow     int64   `json:"context_window"`
	PromptTokens      int64   `json:"prompt_tokens"`
	PercentUsed       float64 `json:"percent_used"`
	AvgTurnTokens     float64 `json:"avg_turn_tokens"`
	RemainingMessages int     `json:"estimated_remaining_messages"`
}

// ContextUsage estimates how full the model's context is and how many
// average-sized turns fit in the remainder.
func (t *Tracker) ContextUsage(model string, promptTokens int64) ContextUsage {
	if promptTokens < 0 {
		promptTokens = 0
	}
	u := ContextUsage{Model: model, PromptTokens: promptTokens}
	u.ContextWindow = t.cfg.Pricing.ContextWindow(model)
	if u.ContextWindow <= 0 {
		return u
	}
	u.PercentUsed = float64(promptTokens) / float64(u.ContextWindow) * 100
	if u.PercentUsed > 100 {
		u.PercentUsed = 100
	}

	t.mu.Lock()
	var turns int
	var turnTokens int64
	for _, c := range t.calls {
		if c.Model == model {
			turns++
			turnTokens += c.TotalTokens
		}
	}
	t.mu.Unlock()

	if turns > 0 {
		u.AvgTurnTokens = float64(turnTokens) / float64(turns)
		remaining := u.ContextWindow - promptTokens
		if remaining > 0 && u.AvgTurnTokens > 0 {
			u.RemainingMessages = int(float64(remaining) / u.AvgTurnTokens)
		}
	}
	return u
}

// LatencyTrend is the /llm/latency payload: first-half vs second-half
// average over the last N latencies for a model.
type LatencyTrend struct {
	Model         string  `json:"model"`
	Samples       int     `json:"samples"`
	FirstHalfAvg  float64 `json:"first_half_avg_seconds"`
	SecondHalfAvg float64 `json:"second_half_avg_seconds"`
	Ratio         float64 `json:"ratio"`
	Degrading     bool    `json:"degrading"`
}

// LatencyTrend compares recent latencies against earlier ones. A ratio
// above 1 means responses are slowing down. Model "" matches all.
func (t *Tracker) LatencyTrend(model string, lastN int) LatencyTrend {
	if lastN <= 0 {
		lastN = 20
	}
	t.mu.Lock()
	var lat []float64
	for _, c := range t.calls {
		if model == "" || c.Model == model {
			lat = append(lat, c.LatencySeconds)
		}
	}
	t.mu.Unlock()

	if len(lat) > lastN {
		lat = lat[len(lat)-lastN:]
	}
	trend := LatencyTrend{Model: model, Samples: len(lat), Ratio: 1}
	if len(lat) < 4 {
		return trend
	}
	half := len(lat) / 2
	trend.FirstHalfAvg = mean(lat[:half])
	trend.SecondHalfAvg = mean(lat[half:])
	if trend.FirstHalfAvg > 0 {
		trend.Ratio = trend.SecondHalfAvg / trend.FirstHalfAvg
	}
	trend.Degrading = trend.Ratio > 1.5
	return trend
}

// costEfficiencyRatio compares second-half vs first-half cost per
// output token over the last N calls for the health score. ok=false
// when there is not enough data.
func (t *Tracker) costEfficiencyRatio(lastN int) (float64, bool) {
	t.mu.Lock()
	calls := t.calls
	if len(calls) > lastN {
		calls = calls[len(calls)-lastN:]
	}
	perTok := make([]float64, 0, len(calls))
	for _, c := range calls {
		if c.OutputTokens > 0 && c.CostUSD > 0 {
			perTok = append(perTok, c.CostUSD/float64(c.OutputTokens))
		}
	}
	t.mu.Unlock()

	if len(perTok) < 4 {
		return 0, false
	}
	half := len(perTok) / 2
	first := mean(perTok[:half])
	if first <= 0 {
		return 0, false
	}
	return mean(perTok[half:]) / first, true
}

// lastModel returns the model of the most recent call, if any.
func (t *Tracker) lastModel() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.calls) == 0 {
		return ""
	}
	return t.calls[len(t.calls)-1].Model
}

// lastContextPercent estimates context usage from the most recent
// call's input tokens against its model's window.
func (t *Tracker) lastContextPercent() (float64, string, bool) {
	t.mu.Lock()
	if len(t.calls) == 0 {
		t.mu.Unlock()
		return 0, "", false
	}
	last := t.calls[len(t.calls)-1]
	t.mu.Unlock()

	window := t.cfg.Pricing.ContextWindow(last.Model)
	if window <= 0 {
		return 0, last.Model, false
	}
	pct := float64(last.InputTokens+last.CachedTokens) / float64(window) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, last.Model, true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// =============================================================================
// Conversation scope
// =============================================================================

type conversationKey struct{}

// WithConversation stamps a conversation id into the context; the
// instrumented clients attach it to every record made under it.
func WithConversation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey{}, id)
}

// ConversationFromContext extracts the stamped conversation id, if any.
func ConversationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(conversationKey{}).(string); ok {
		return v
	}
	return ""
}
