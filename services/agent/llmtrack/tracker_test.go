// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llmtrack

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

type fakeSink struct {
	events []datatypes.Event
}

func (f *fakeSink) Emit(e datatypes.Event) { f.events = append(f.events, e) }

type fakeAlerts struct {
	alerts []datatypes.FiredAlert
}

func (f *fakeAlerts) ActiveAlerts() []datatypes.FiredAlert { return f.alerts }

func TestPriceTable_Lookup(t *testing.T) {
	pt := NewPriceTable(nil)

	p, ok := pt.Lookup("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, 2.50, p.InputPerM)

	// Dated model ids resolve by prefix, longest match wins.
	p, ok = pt.Lookup("gpt-4o-2024-08-06")
	require.True(t, ok)
	assert.Equal(t, 2.50, p.InputPerM)

	p, ok = pt.Lookup("GPT-4o-Mini")
	require.True(t, ok)
	assert.Equal(t, 0.15, p.InputPerM)

	_, ok = pt.Lookup("made-up-model")
	assert.False(t, ok)
}

func TestPriceTable_CostWithCachedTokens(t *testing.T) {
	pt := NewPriceTable(map[string]datatypes.ModelPricing{
		"m": {InputPerM: 10, OutputPerM: 20, CachedPerM: 1},
	})

	// 1M input of which 400k cached, 500k output:
	// 600k * 10 + 500k * 20 + 400k * 1 = 6 + 10 + 0.4
	cost, ok := pt.Cost("m", 1_000_000, 500_000, 400_000)
	require.True(t, ok)
	assert.InDelta(t, 16.4, cost, 1e-9)

	cost, ok = pt.Cost("nope", 1000, 1000, 0)
	assert.False(t, ok)
	assert.Zero(t, cost)
}

func TestPriceTable_Replace(t *testing.T) {
	pt := NewPriceTable(nil)
	pt.Replace(map[string]datatypes.ModelPricing{"only": {InputPerM: 1, OutputPerM: 2}})

	_, ok := pt.Lookup("gpt-4o")
	assert.False(t, ok)
	_, ok = pt.Lookup("only")
	assert.True(t, ok)

	// Empty replacement is ignored.
	pt.Replace(nil)
	_, ok = pt.Lookup("only")
	assert.True(t, ok)
}

func TestTracker_RecordClampsAndPrices(t *testing.T) {
	sink := &fakeSink{}
	tr := NewTracker(Config{Sink: sink})

	call := tr.Record(RecordParams{
		Provider:       "openai",
		Model:          "gpt-4o",
		InputTokens:    -5,
		OutputTokens:   1000,
		CachedTokens:   -1,
		LatencySeconds: -2,
	})

	assert.Zero(t, call.InputTokens)
	assert.Zero(t, call.CachedTokens)
	assert.Zero(t, call.LatencySeconds)
	assert.Equal(t, int64(1000), call.TotalTokens)
	assert.InDelta(t, 1000*10.0/1e6, call.CostUSD, 1e-9)

	require.Len(t, sink.events, 1)
	assert.Equal(t, datatypes.SourceLLM, sink.events[0].Source)
	assert.Equal(t, datatypes.EventLLMCall, sink.events[0].Type)
	assert.Equal(t, "gpt-4o", sink.events[0].Data["model"])
}

func TestTracker_DefaultProvider(t *testing.T) {
	tr := NewTracker(Config{})
	call := tr.Record(RecordParams{Model: "gpt-4o"})
	assert.Equal(t, "unknown", call.Provider)
}

func TestTracker_CallsNewestFirst(t *testing.T) {
	tr := NewTracker(Config{})
	for i := 0; i < 5; i++ {
		tr.Record(RecordParams{Provider: "p", Model: "gpt-4o", InputTokens: int64(i)})
	}

	calls := tr.Calls(3)
	require.Len(t, calls, 3)
	assert.Equal(t, int64(4), calls[0].InputTokens)
	assert.Equal(t, int64(2), calls[2].InputTokens)

	assert.Len(t, tr.Calls(0), 5)
}

func TestTracker_DequeEviction(t *testing.T) {
	tr := NewTracker(Config{})
	for i := 0; i <= maxCalls; i++ {
		tr.Record(RecordParams{Provider: "p", Model: "gpt-4o", InputTokens: int64(i)})
	}

	calls := tr.Calls(0)
	require.Len(t, calls, maxCalls)
	// The first record (input 0) fell off the front.
	assert.Equal(t, int64(1), calls[len(calls)-1].InputTokens)
}

func TestTracker_Summary(t *testing.T) {
	alerts := &fakeAlerts{alerts: []datatypes.FiredAlert{{Message: "Memory at 91%"}}}
	tr := NewTracker(Config{Warnings: alerts})

	tr.Record(RecordParams{Provider: "openai", Model: "gpt-4o", InputTokens: 100, OutputTokens: 50})
	tr.Record(RecordParams{Provider: "openai", Model: "gpt-4o-mini", InputTokens: 200, OutputTokens: 100})
	tr.Record(RecordParams{Provider: "anthropic", Model: "mystery-model", InputTokens: 10, OutputTokens: 10})

	s := tr.Summary()
	assert.Equal(t, 3, s.TotalCalls)
	assert.Equal(t, int64(470), s.TotalTokens)
	assert.Equal(t, 2, s.ByProvider["openai"].Calls)
	assert.Equal(t, 1, s.ByModel["gpt-4o"].Calls)
	assert.Equal(t, int64(300), s.ByProvider["openai"].InputTokens)

	// One warning for the unpriced model, one from the alert engine.
	require.Len(t, s.Warnings, 2)
	assert.Contains(t, s.Warnings[0], "mystery-model")
	assert.Contains(t, s.Warnings, "Memory at 91%")
}

func TestTracker_ContextUsage(t *testing.T) {
	tr := NewTracker(Config{})
	tr.Record(RecordParams{Provider: "openai", Model: "gpt-4o", InputTokens: 900, OutputTokens: 100})
	tr.Record(RecordParams{Provider: "openai", Model: "gpt-4o", InputTokens: 1800, OutputTokens: 200})

	u := tr.ContextUsage("gpt-4o", 64_000)
	assert.Equal(t, int64(128_000), u.ContextWindow)
	assert.InDelta(t, 50.0, u.PercentUsed, 1e-9)
	assert.InDelta(t, 1500.0, u.AvgTurnTokens, 1e-9) // (1000 + 2000) / 2
	assert.Equal(t, 42, u.RemainingMessages)         // 64000 / 1500

	// Unknown model: no window, no estimate.
	u = tr.ContextUsage("mystery", 500)
	assert.Zero(t, u.ContextWindow)
	assert.Zero(t, u.PercentUsed)
}

func TestTracker_LatencyTrend(t *testing.T) {
	tr := NewTracker(Config{})
	for _, lat := range []float64{1, 1, 1, 1, 3, 3, 3, 3} {
		tr.Record(RecordParams{Provider: "p", Model: "gpt-4o", LatencySeconds: lat})
	}

	trend := tr.LatencyTrend("gpt-4o", 8)
	assert.Equal(t, 8, trend.Samples)
	assert.InDelta(t, 1.0, trend.FirstHalfAvg, 1e-9)
	assert.InDelta(t, 3.0, trend.SecondHalfAvg, 1e-9)
	assert.InDelta(t, 3.0, trend.Ratio, 1e-9)
	assert.True(t, trend.Degrading)

	// Too few samples: neutral trend.
	short := NewTracker(Config{})
	short.Record(RecordParams{Provider: "p", Model: "m", LatencySeconds: 9})
	trend = short.LatencyTrend("m", 8)
	assert.Equal(t, 1.0, trend.Ratio)
	assert.False(t, trend.Degrading)
}

func TestTracker_SessionDuration(t *testing.T) {
	base := time.Now()
	clock := base
	tr := NewTracker(Config{Now: func() time.Time { return clock }})
	clock = base.Add(90 * time.Second)
	assert.InDelta(t, 90.0, tr.Summary().SessionDuration, 1e-9)
}

func TestConversationContext(t *testing.T) {
	ctx := WithConversation(context.Background(), "conv-7")
	assert.Equal(t, "conv-7", ConversationFromContext(ctx))
	assert.Empty(t, ConversationFromContext(context.Background()))
}

func TestProviderFromBaseURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.openai.com/v1", "openai"},
		{"https://myorg.openai.azure.com", "azure"},
		{"https://api.x.ai/v1", "xai"},
		{"https://api.together.xyz/v1", "together"},
		{"https://api.fireworks.ai/inference/v1", "fireworks"},
		{"https://api.groq.com/openai/v1", "groq"},
		{"http://localhost:11434/v1", "local"},
		{"http://127.0.0.1:8080/v1", "local"},
		{"", "openai"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProviderFromBaseURL(tt.url), tt.url)
	}
}

func TestAnthropicStreamRecorder(t *testing.T) {
	tr := NewTracker(Config{})
	rec := NewAnthropicStreamRecorder(tr, "conv-1")

	rec.OnMessageStart("claude-sonnet-4", 1200, 800)
	rec.OnMessageDelta(50, 0)
	rec.OnMessageDelta(340, 0) // cumulative totals replace
	rec.OnMessageStop()
	rec.OnMessageStop() // second stop is a no-op

	calls := tr.Calls(0)
	require.Len(t, calls, 1)
	assert.Equal(t, "anthropic", calls[0].Provider)
	assert.Equal(t, int64(1200), calls[0].InputTokens)
	assert.Equal(t, int64(340), calls[0].OutputTokens)
	assert.Equal(t, int64(800), calls[0].CachedTokens)
	assert.Equal(t, "conv-1", calls[0].ConversationID)
}

func TestAnthropicStreamRecorder_AbortFlushesPartial(t *testing.T) {
	tr := NewTracker(Config{})
	rec := NewAnthropicStreamRecorder(tr, "")
	rec.OnMessageStart("claude-sonnet-4", 500, 0)
	rec.OnMessageDelta(20, 0)
	rec.Abort()

	calls := tr.Calls(0)
	require.Len(t, calls, 1)
	assert.Equal(t, int64(20), calls[0].OutputTokens)

	// A recorder that never started records nothing on abort.
	empty := NewAnthropicStreamRecorder(tr, "")
	empty.Abort()
	assert.Len(t, tr.Calls(0), 1)
}

func TestGeminiStreamRecorder_LastChunkWins(t *testing.T) {
	tr := NewTracker(Config{})
	rec := NewGeminiStreamRecorder(tr, "gemini-2.5-flash", "")

	rec.OnChunk(100, 10, 0)
	rec.OnChunk(100, 95, 40)
	rec.Finish()
	rec.Finish()

	calls := tr.Calls(0)
	require.Len(t, calls, 1)
	assert.Equal(t, "google", calls[0].Provider)
	assert.Equal(t, int64(100), calls[0].InputTokens)
	assert.Equal(t, int64(95), calls[0].OutputTokens)
	assert.Equal(t, int64(40), calls[0].CachedTokens)
}
