// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ollamamon polls a local Ollama daemon for loaded and
// installed models. An unreachable daemon is a normal state, reported
// through the Available flag rather than an error.
package ollamamon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
	"github.com/jinterlante1206/bannin/services/agent/llmtrack"
)

const (
	defaultBaseURL      = "http://localhost:11434"
	defaultPollInterval = 30 * time.Second
	requestTimeout      = 5 * time.Second
)

// Model is one entry from /api/ps or /api/tags.
type Model struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size"`
	VRAMBytes int64  `json:"size_vram,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// Status is the /ollama payload.
type Status struct {
	Available       bool    `json:"available"`
	Endpoint        string  `json:"endpoint"`
	RunningModels   []Model `json:"running_models"`
	InstalledModels []Model `json:"installed_models"`
	VRAMUsedBytes   int64   `json:"vram_used_bytes"`
	LastPollISO     string  `json:"last_poll,omitempty"`
	Detail          string  `json:"detail,omitempty"`
}

// EventSink receives ollama_state events on availability transitions.
type EventSink interface {
	Emit(e datatypes.Event)
}

// Config wires a Monitor. BaseURL defaults to OLLAMA_HOST, then to
// localhost:11434.
type Config struct {
	BaseURL      string
	PollInterval time.Duration
	Sink         EventSink // may be nil
	// GPUMemoryPercent supplies current VRAM pressure for health
	// scoring; nil means the signal is unavailable.
	GPUMemoryPercent func() (float64, bool)
	Pricing          *llmtrack.PriceTable
}

// Monitor polls the daemon in the background; reads never touch the
// network.
type Monitor struct {
	cfg    Config
	client *http.Client

	mu         sync.Mutex
	status     Status
	initialTPS float64
	currentTPS float64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor builds a Monitor; call Start to begin polling.
func NewMonitor(cfg Config) *Monitor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OLLAMA_HOST")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasPrefix(cfg.BaseURL, "http") {
		cfg.BaseURL = "http://" + cfg.BaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Monitor{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		status: Status{Endpoint: cfg.BaseURL, Detail: "not polled yet"},
	}
}

// Start launches the poll loop. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run(m.stopCh, m.doneCh)
}

// Stop halts the poll loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (m *Monitor) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	m.Poll(context.Background())
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.Poll(context.Background())
		}
	}
}

// Poll refreshes the cached status from the daemon once. Unreachable
// daemons flip Available off; the error never propagates.
func (m *Monitor) Poll(ctx context.Context) Status {
	next := Status{
		Endpoint:    m.cfg.BaseURL,
		LastPollISO: time.Now().UTC().Format(time.RFC3339),
	}

	running, err := m.fetchModels(ctx, "/api/ps")
	if err != nil {
		next.Detail = "not available: " + err.Error()
		slog.Debug("ollama unreachable", "endpoint", m.cfg.BaseURL, "error", err)
		m.setStatus(next)
		return next
	}
	next.Available = true
	next.RunningModels = running
	for _, mod := range running {
		next.VRAMUsedBytes += mod.VRAMBytes
	}

	if installed, err := m.fetchModels(ctx, "/api/tags"); err == nil {
		next.InstalledModels = installed
	} else {
		slog.Debug("ollama tags fetch failed", "error", err)
	}

	m.setStatus(next)
	return next
}

func (m *Monitor) fetchModels(ctx context.Context, path string) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	var body struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return body.Models, nil
}

func (m *Monitor) setStatus(next Status) {
	m.mu.Lock()
	prev := m.status
	m.status = next
	m.mu.Unlock()

	if m.cfg.Sink != nil && prev.Available != next.Available {
		msg := "ollama available"
		if !next.Available {
			msg = "ollama unavailable"
		}
		m.cfg.Sink.Emit(datatypes.Event{
			Source:  datatypes.SourceOllama,
			Type:    datatypes.EventOllamaState,
			Message: msg,
			Data:    map[string]any{"available": next.Available, "endpoint": next.Endpoint},
		})
	}
}

// Status returns the latest cached poll result.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// RecordThroughput feeds an observed generation rate. The first value
// becomes the session baseline for the inference-throughput signal.
func (m *Monitor) RecordThroughput(tokensPerSec float64) {
	if tokensPerSec <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialTPS == 0 {
		m.initialTPS = tokensPerSec
	}
	m.currentTPS = tokensPerSec
}

// Health scores the local-model signals. Returns nil when the daemon
// is unavailable or no model is loaded (no signal, not a zero score).
func (m *Monitor) Health() *datatypes.HealthReport {
	m.mu.Lock()
	status := m.status
	initial, current := m.initialTPS, m.currentTPS
	m.mu.Unlock()

	if !status.Available || len(status.RunningModels) == 0 {
		return nil
	}

	in := llmtrack.HealthInputs{ClientLabel: "Ollama"}
	if m.cfg.GPUMemoryPercent != nil {
		if pct, ok := m.cfg.GPUMemoryPercent(); ok {
			in.VRAMPercent = &pct
		}
	}
	if initial > 0 {
		ratio := current / initial
		in.InferenceRatio = &ratio
	}
	if in.VRAMPercent == nil && in.InferenceRatio == nil {
		return nil
	}
	in.Model = status.RunningModels[0].Name
	report := llmtrack.ScoreHealth(m.cfg.Pricing, in)
	return &report
}
