// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mcpsession tracks tool-call activity pushed by peer MCP
// processes and estimates per-session token usage and fatigue from
// call timing alone. Peers with a transcript reader push real counts
// instead, which override estimation.
package mcpsession

import (
	"sync"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

const (
	maxSessions = 100
	sessionTTL  = 60 * time.Second

	// defaultToolTokens is the assumed cost of a tool round-trip when
	// the peer reports no response size.
	defaultToolTokens = 800

	// minutelyFloorTokens is the minimum assumed burn per active
	// minute once a session is older than one minute.
	minutelyFloorTokens = 400

	defaultContextWindow = 200_000
)

// toolTokens maps well-known tool names to their typical round-trip
// token cost. Unlisted tools fall back to defaultToolTokens.
var toolTokens = map[string]int64{
	"read_file":    1500,
	"write_file":   1200,
	"edit_file":    1000,
	"list_files":   400,
	"glob":         400,
	"grep":         900,
	"search":       900,
	"bash":         700,
	"run_command":  700,
	"web_fetch":    2000,
	"web_search":   1500,
}

// EventSink receives mcp_session events (the analytics pipeline).
type EventSink interface {
	Emit(e datatypes.Event)
}

// Config wires a Tracker.
type Config struct {
	Sink EventSink // may be nil
	// ContextWindow resolves a model name to its window in tokens;
	// nil or a 0 return falls back to 200k.
	ContextWindow func(model string) int64
	Now           func() time.Time
}

type toolCall struct {
	tool  string
	at    time.Time
	bytes int64
}

type session struct {
	id          string
	clientLabel string
	model       string
	firstSeen   time.Time
	lastSeen    time.Time
	calls       []toolCall
	toolCounts  map[string]int
	real        *datatypes.RealSessionData
}

// Tracker is the MCP session registry. Safe for concurrent use.
type Tracker struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*session
}

// NewTracker builds a Tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{cfg: cfg, sessions: make(map[string]*session)}
}

// Push records one tool call for a session, creating the session on
// first sight. Pushes without a session id share the legacy key. A
// push for a new session past the cap is dropped silently.
func (t *Tracker) Push(p datatypes.MCPSessionPush) {
	now := t.cfg.Now()
	key := p.SessionID
	if key == "" {
		key = datatypes.LegacySessionID
	}

	t.mu.Lock()
	t.sweepLocked(now)

	s, ok := t.sessions[key]
	if !ok {
		if len(t.sessions) >= maxSessions {
			t.mu.Unlock()
			return
		}
		s = &session{
			id:         key,
			firstSeen:  now,
			toolCounts: make(map[string]int),
		}
		t.sessions[key] = s
	}
	s.lastSeen = now
	if p.ClientLabel != "" {
		s.clientLabel = p.ClientLabel
	}
	if p.Model != "" {
		s.model = p.Model
	}
	if p.Real != nil {
		s.real = p.Real
	}
	s.calls = append(s.calls, toolCall{tool: p.Tool, at: now, bytes: p.ResponseSize})
	s.toolCounts[p.Tool]++
	t.mu.Unlock()

	if t.cfg.Sink != nil {
		t.cfg.Sink.Emit(datatypes.Event{
			Source:  datatypes.SourceMCP,
			Type:    datatypes.EventMCPSession,
			Message: "tool call: " + p.Tool,
			Data: map[string]any{
				"session_id":     key,
				"tool":           p.Tool,
				"response_bytes": p.ResponseSize,
			},
		})
	}
}

// Sessions returns a health snapshot of every live session.
func (t *Tracker) Sessions() []datatypes.MCPSession {
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)

	out := make([]datatypes.MCPSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, t.snapshotLocked(s, now))
	}
	return out
}

// Session returns one session's snapshot by id.
func (t *Tracker) Session(id string) (datatypes.MCPSession, bool) {
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)

	s, ok := t.sessions[id]
	if !ok {
		return datatypes.MCPSession{}, false
	}
	return t.snapshotLocked(s, now), true
}

// sweepLocked drops sessions past the freshness TTL. Caller holds t.mu.
func (t *Tracker) sweepLocked(now time.Time) {
	for id, s := range t.sessions {
		if now.Sub(s.lastSeen) > sessionTTL {
			delete(t.sessions, id)
		}
	}
}

// snapshotLocked computes the derived health fields for one session.
// Caller holds t.mu.
func (t *Tracker) snapshotLocked(s *session, now time.Time) datatypes.MCPSession {
	minutes := now.Sub(s.firstSeen).Minutes()

	estimated := estimateTokens(s.calls, minutes)
	window := t.windowFor(s.model)

	snap := datatypes.MCPSession{
		SessionID:       s.id,
		ClientLabel:     s.clientLabel,
		DurationMinutes: round1(minutes),
		TotalToolCalls:  len(s.calls),
		ToolCounts:      copyCounts(s.toolCounts),
		DataSource:      datatypes.MCPDataEstimated,
		LastSeenEpoch:   float64(s.lastSeen.UnixNano()) / 1e9,
	}

	snap.ContextPercent = clamp(float64(estimated)/float64(window)*100, 0, 100)
	if s.real != nil {
		snap.DataSource = datatypes.MCPDataReal
		snap.RealSessionData = s.real
		if s.real.ContextPercent > 0 {
			snap.ContextPercent = clamp(s.real.ContextPercent, 0, 100)
		}
	}

	snap.ToolCallBurden = burdenScore(len(s.calls), minutes)
	snap.SessionFatigue = fatigueScore(snap, s, now)
	return snap
}

func (t *Tracker) windowFor(model string) int64 {
	if t.cfg.ContextWindow != nil {
		if w := t.cfg.ContextWindow(model); w > 0 {
			return w
		}
	}
	return defaultContextWindow
}

// estimateTokens infers total conversation tokens from the tool-call
// trace: each call has a tool-table cost (response size overrides),
// the gap before it implies user/assistant turns in between, and a
// complexity multiplier accounts for multi-tool workflows. A session
// older than a minute never estimates below the per-minute floor.
func estimateTokens(calls []toolCall, minutes float64) int64 {
	var total int64
	unique := make(map[string]bool)
	for i, c := range calls {
		unique[c.tool] = true

		if c.bytes > 0 {
			tok := c.bytes / 4
			if tok < 100 {
				tok = 100
			}
			total += tok
		} else if tok, ok := toolTokens[c.tool]; ok {
			total += tok
		} else {
			total += defaultToolTokens
		}

		if i == 0 {
			continue
		}
		total += gapTokens(c.at.Sub(calls[i-1].at).Seconds())
	}

	switch {
	case len(unique) >= 5:
		total = int64(float64(total) * 1.3)
	case len(unique) >= 3:
		total = int64(float64(total) * 1.15)
	}

	if minutes > 1 {
		if floor := int64(minutes * minutelyFloorTokens); total < floor {
			total = floor
		}
	}
	return total
}

// gapTokens estimates the conversation tokens implied by the silence
// between two consecutive tool calls.
func gapTokens(gapSecs float64) int64 {
	switch {
	case gapSecs < 10:
		// Rapid-fire tool chain: minimal connective text.
		return 100 + 200
	case gapSecs < 60:
		// A short user exchange between calls.
		return 600
	case gapSecs < 300:
		// A full conversational turn, scaled by its length.
		return int64(800 * gapSecs / 60)
	case gapSecs < 900:
		// Complex task: reading, editing, reasoning.
		return 3000
	default:
		// Long gap: assume the user was active half the time.
		return int64(gapSecs / 2 / 60 * minutelyFloorTokens)
	}
}

// burdenScore rates tool-call intensity 0-100 from the sustained call
// rate; five calls per minute saturates the scale.
func burdenScore(totalCalls int, minutes float64) float64 {
	if totalCalls == 0 {
		return 0
	}
	if minutes < 1 {
		minutes = 1
	}
	rate := float64(totalCalls) / minutes
	return round1(clamp(rate/5*100, 0, 100))
}

// Fatigue sub-score weights.
const (
	wContextPressure = 0.35
	wDuration        = 0.30
	wBurden          = 0.15
	wRepeatedTool    = 0.10
	wAcceleration    = 0.10
)

// fatigueScore is the weighted composite of the session's wear
// signals, 0 fresh to 100 exhausted.
func fatigueScore(snap datatypes.MCPSession, s *session, now time.Time) float64 {
	contextPressure := snap.ContextPercent

	// Two hours of continuous session saturates the duration signal.
	duration := clamp(snap.DurationMinutes/120*100, 0, 100)

	repeated := repeatedToolScore(s.toolCounts, len(s.calls))
	accel := accelerationScore(s.calls, now)

	score := contextPressure*wContextPressure +
		duration*wDuration +
		snap.ToolCallBurden*wBurden +
		repeated*wRepeatedTool +
		accel*wAcceleration
	return round1(clamp(score, 0, 100))
}

// repeatedToolScore rates how dominated the session is by one tool.
// Needs at least five calls to mean anything.
func repeatedToolScore(counts map[string]int, total int) float64 {
	if total < 5 {
		return 0
	}
	max := 0
	for _, n := range counts {
		if n > max {
			max = n
		}
	}
	return clamp(float64(max)/float64(total)*100, 0, 100)
}

// accelerationScore compares call frequency in the last five minutes
// against the five minutes before: a speeding-up session signals a
// user churning through a difficult stretch.
func accelerationScore(calls []toolCall, now time.Time) float64 {
	var recent, previous int
	for _, c := range calls {
		age := now.Sub(c.at)
		switch {
		case age <= 5*time.Minute:
			recent++
		case age <= 10*time.Minute:
			previous++
		}
	}
	if previous == 0 {
		return 0
	}
	ratio := float64(recent) / float64(previous)
	if ratio <= 1 {
		return 0
	}
	// 3x acceleration saturates.
	return clamp((ratio-1)/2*100, 0, 100)
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
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
	return float64(int64(v*10+0.5)) / 10
}
