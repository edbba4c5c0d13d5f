// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llmtrack

import (
	"sync"
	"time"
)

// AnthropicStreamRecorder accumulates usage from an Anthropic SSE
// stream. The event sequence is message_start (model + input tokens),
// message_delta (cumulative output and cache-read tokens), and
// message_stop, which flushes exactly one record. Abandoning the
// stream before message_stop flushes best-effort via Abort.
type AnthropicStreamRecorder struct {
	tracker        *Tracker
	conversationID string

	mu        sync.Mutex
	started   bool
	flushed   bool
	model     string
	input     int64
	output    int64
	cacheRead int64
	startedAt time.Time
}

// NewAnthropicStreamRecorder builds a recorder for one stream.
func NewAnthropicStreamRecorder(tracker *Tracker, conversationID string) *AnthropicStreamRecorder {
	return &AnthropicStreamRecorder{tracker: tracker, conversationID: conversationID}
}

// OnMessageStart captures the actual model and the prompt-side counts.
func (r *AnthropicStreamRecorder) OnMessageStart(model string, inputTokens, cacheReadTokens int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	r.model = model
	r.input = inputTokens
	r.cacheRead = cacheReadTokens
	r.startedAt = time.Now()
}

// OnMessageDelta updates the running counts. Anthropic deltas report
// cumulative totals, so values replace rather than add.
func (r *AnthropicStreamRecorder) OnMessageDelta(outputTokens, cacheReadTokens int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if outputTokens > 0 {
		r.output = outputTokens
	}
	if cacheReadTokens > 0 {
		r.cacheRead = cacheReadTokens
	}
}

// OnMessageStop flushes the single record for this stream.
func (r *AnthropicStreamRecorder) OnMessageStop() {
	r.flush()
}

// Abort flushes whatever accumulated when the stream ends without a
// message_stop. A stream that never started records nothing.
func (r *AnthropicStreamRecorder) Abort() {
	r.flush()
}

func (r *AnthropicStreamRecorder) flush() {
	r.mu.Lock()
	if !r.started || r.flushed {
		r.mu.Unlock()
		return
	}
	r.flushed = true
	p := RecordParams{
		Provider:       "anthropic",
		Model:          r.model,
		InputTokens:    r.input,
		OutputTokens:   r.output,
		CachedTokens:   r.cacheRead,
		LatencySeconds: time.Since(r.startedAt).Seconds(),
		ConversationID: r.conversationID,
	}
	r.mu.Unlock()
	r.tracker.Record(p)
}

// GeminiStreamRecorder accumulates usage from a Gemini stream. Each
// chunk may carry usage_metadata; the last one seen wins, and Finish
// records it once on exhaustion or close.
type GeminiStreamRecorder struct {
	tracker        *Tracker
	conversationID string

	mu        sync.Mutex
	haveUsage bool
	flushed   bool
	model     string
	prompt    int64
	candidate int64
	cached    int64
	startedAt time.Time
}

// NewGeminiStreamRecorder builds a recorder for one stream.
func NewGeminiStreamRecorder(tracker *Tracker, model, conversationID string) *GeminiStreamRecorder {
	return &GeminiStreamRecorder{
		tracker:        tracker,
		model:          model,
		conversationID: conversationID,
		startedAt:      time.Now(),
	}
}

// OnChunk remembers the latest usage metadata from a streamed chunk.
func (r *GeminiStreamRecorder) OnChunk(promptTokens, candidateTokens, cachedTokens int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.haveUsage = true
	r.prompt = promptTokens
	r.candidate = candidateTokens
	r.cached = cachedTokens
}

// Finish records the last usage seen. Safe to call more than once.
func (r *GeminiStreamRecorder) Finish() {
	r.mu.Lock()
	if !r.haveUsage || r.flushed {
		r.mu.Unlock()
		return
	}
	r.flushed = true
	p := RecordParams{
		Provider:       "google",
		Model:          r.model,
		InputTokens:    r.prompt,
		OutputTokens:   r.candidate,
		CachedTokens:   r.cached,
		LatencySeconds: time.Since(r.startedAt).Seconds(),
		ConversationID: r.conversationID,
	}
	r.mu.Unlock()
	r.tracker.Record(p)
}
