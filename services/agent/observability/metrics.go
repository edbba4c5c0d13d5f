// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the agent's
// internals: event flow, alert firings, collection ticks, LLM usage
// and relay connectivity. Exposed on /metrics/prometheus.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "bannin"
	agentSubsystem   = "agent"
)

// AgentMetrics holds the agent's Prometheus metrics. Initialize once
// at startup via InitMetrics; duplicate registration panics.
type AgentMetrics struct {
	// EventsEmittedTotal counts events entering the pipeline, by source.
	EventsEmittedTotal *prometheus.CounterVec

	// EventsDroppedTotal counts events discarded by queue overflow.
	EventsDroppedTotal prometheus.Counter

	// AlertsFiredTotal counts alert firings, by severity.
	AlertsFiredTotal *prometheus.CounterVec

	// CollectorTicksTotal counts metric-history collection ticks.
	CollectorTicksTotal prometheus.Counter

	// LLMCallsTotal counts recorded LLM calls, by provider.
	LLMCallsTotal *prometheus.CounterVec

	// LLMCostUSDTotal accumulates recorded LLM spend, by provider.
	LLMCostUSDTotal *prometheus.CounterVec

	// RelayReconnectsTotal counts relay reconnection attempts.
	RelayReconnectsTotal prometheus.Counter

	// HTTPRequestsTotal counts API requests, by method and status.
	HTTPRequestsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance set by InitMetrics.
var DefaultMetrics *AgentMetrics

// InitMetrics creates and registers all agent metrics on the default
// Prometheus registry. Call once at startup.
func InitMetrics() *AgentMetrics {
	DefaultMetrics = &AgentMetrics{
		EventsEmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "events_emitted_total",
				Help:      "Events entering the analytics pipeline by source",
			},
			[]string{"source"},
		),

		EventsDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "events_dropped_total",
				Help:      "Events discarded by pipeline queue overflow",
			},
		),

		AlertsFiredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "alerts_fired_total",
				Help:      "Alert rule firings by severity",
			},
			[]string{"severity"},
		),

		CollectorTicksTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "collector_ticks_total",
				Help:      "Metric-history collection ticks",
			},
		),

		LLMCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "llm_calls_total",
				Help:      "Recorded LLM API calls by provider",
			},
			[]string{"provider"},
		),

		LLMCostUSDTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "llm_cost_usd_total",
				Help:      "Accumulated LLM spend in USD by provider",
			},
			[]string{"provider"},
		),

		RelayReconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "relay_reconnects_total",
				Help:      "Relay WebSocket reconnection attempts",
			},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "http_requests_total",
				Help:      "API requests by method and status code",
			},
			[]string{"method", "status"},
		),
	}
	return DefaultMetrics
}

// RecordEvent counts one pipeline emission.
func (m *AgentMetrics) RecordEvent(source string) {
	m.EventsEmittedTotal.WithLabelValues(source).Inc()
}

// RecordAlert counts one alert firing.
func (m *AgentMetrics) RecordAlert(severity string) {
	m.AlertsFiredTotal.WithLabelValues(severity).Inc()
}

// RecordLLMCall counts one LLM call and its cost.
func (m *AgentMetrics) RecordLLMCall(provider string, costUSD float64) {
	m.LLMCallsTotal.WithLabelValues(provider).Inc()
	if costUSD > 0 {
		m.LLMCostUSDTotal.WithLabelValues(provider).Add(costUSD)
	}
}
