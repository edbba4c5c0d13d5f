// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "github.com/go-playground/validator/v10"

// MCP session data-source markers. "estimated" means token usage was
// inferred from tool-call timing; "real" means a transcript reader
// supplied actual counts.
const (
	MCPDataEstimated = "estimated"
	MCPDataReal      = "real"
)

// LegacySessionID keys pushes that omit a session id. It coexists with
// real ids; the aggregator's worst-of combine treats it as just another
// source.
const LegacySessionID = "legacy"

// MCPSession is the tracked health of one peer MCP session.
type MCPSession struct {
	SessionID        string           `json:"session_id"`
	ClientLabel      string           `json:"client_label"`
	SessionFatigue   float64          `json:"session_fatigue"`
	ToolCallBurden   float64          `json:"tool_call_burden"`
	ContextPercent   float64          `json:"estimated_context_percent"`
	DurationMinutes  float64          `json:"session_duration_minutes"`
	TotalToolCalls   int              `json:"total_tool_calls"`
	ToolCounts       map[string]int   `json:"tool_counts,omitempty"`
	DataSource       string           `json:"data_source"`
	RealSessionData  *RealSessionData `json:"real_session_data,omitempty"`
	LastSeenEpoch    float64          `json:"last_seen_epoch"`
}

// RealSessionData carries transcript-derived figures when a JSONL
// reader is attached to the peer.
type RealSessionData struct {
	InputTokens    int64   `json:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens"`
	ContextPercent float64 `json:"context_percent"`
	Model          string  `json:"model,omitempty"`
	TurnCount      int     `json:"turn_count,omitempty"`
}

// MCPSessionPush is the body of POST /mcp/session.
type MCPSessionPush struct {
	SessionID    string           `json:"session_id" validate:"omitempty,max=128"`
	ClientLabel  string           `json:"client_label" validate:"omitempty,max=128"`
	Tool         string           `json:"tool" binding:"required" validate:"required,max=128"`
	ResponseSize int64            `json:"response_bytes" validate:"gte=0"`
	Model        string           `json:"model" validate:"omitempty,max=128"`
	Real         *RealSessionData `json:"real_session_data,omitempty"`
}

var validate = validator.New()

// Validate applies the struct's validation tags.
func (p *MCPSessionPush) Validate() error { return validate.Struct(p) }

// Validate applies the struct's validation tags.
func (p *TaskPush) Validate() error { return validate.Struct(p) }
