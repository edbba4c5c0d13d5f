// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Event sources. Every event written to the analytics store carries one.
const (
	SourceAgent  = "agent"
	SourceSystem = "system"
	SourceLLM    = "llm"
	SourceMCP    = "mcp"
	SourceOllama = "ollama"
	SourceAlerts = "alerts"
)

// Well-known event types.
const (
	EventMetricSnapshot = "metric_snapshot"
	EventLLMCall        = "llm_call"
	EventAlert          = "alert"
	EventAgentStart     = "agent_start"
	EventAgentStop      = "agent_stop"
	EventTaskUpdate     = "task_update"
	EventMCPSession     = "mcp_session"
	EventOllamaState    = "ollama_state"
)

// Event is the persistent unit flowing through the analytics pipeline.
// Data must be JSON-encodable; it lands in the store's JSON column.
type Event struct {
	Timestamp float64        `json:"ts"`
	Source    string         `json:"source"`
	Machine   string         `json:"machine"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// StoredEvent is an Event as read back from the store, with the row id
// and an ISO-8601 rendering of the timestamp.
type StoredEvent struct {
	ID        int64          `json:"id"`
	Timestamp float64        `json:"ts"`
	ISOTime   string         `json:"timestamp"`
	Source    string         `json:"source"`
	Machine   string         `json:"machine"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
}
