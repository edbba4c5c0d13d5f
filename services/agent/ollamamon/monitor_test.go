// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ollamamon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"llama3.3:70b","size":42000000000,"size_vram":40000000000}]}`))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"llama3.3:70b","size":42000000000},{"name":"qwen2.5:7b","size":4700000000}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPoll_Reachable(t *testing.T) {
	srv := fakeOllama(t)
	m := NewMonitor(Config{BaseURL: srv.URL})

	status := m.Poll(context.Background())
	assert.True(t, status.Available)
	require.Len(t, status.RunningModels, 1)
	assert.Equal(t, "llama3.3:70b", status.RunningModels[0].Name)
	assert.Equal(t, int64(40_000_000_000), status.VRAMUsedBytes)
	assert.Len(t, status.InstalledModels, 2)

	// Cached status matches the poll.
	assert.True(t, m.Status().Available)
}

func TestPoll_Unreachable(t *testing.T) {
	m := NewMonitor(Config{BaseURL: "http://127.0.0.1:1"})
	status := m.Poll(context.Background())
	assert.False(t, status.Available)
	assert.Contains(t, status.Detail, "not available")
	assert.Empty(t, status.RunningModels)
}

type stateSink struct {
	events []datatypes.Event
}

func (s *stateSink) Emit(e datatypes.Event) { s.events = append(s.events, e) }

func TestPoll_EmitsOnTransition(t *testing.T) {
	srv := fakeOllama(t)
	sink := &stateSink{}
	m := NewMonitor(Config{BaseURL: srv.URL, Sink: sink})

	m.Poll(context.Background()) // unavailable -> available
	m.Poll(context.Background()) // still available: no event
	require.Len(t, sink.events, 1)
	assert.Equal(t, datatypes.SourceOllama, sink.events[0].Source)
	assert.Equal(t, true, sink.events[0].Data["available"])
}

func TestHealth(t *testing.T) {
	srv := fakeOllama(t)
	m := NewMonitor(Config{
		BaseURL:          srv.URL,
		GPUMemoryPercent: func() (float64, bool) { return 75, true },
	})

	// No poll yet: no signal.
	assert.Nil(t, m.Health())

	m.Poll(context.Background())
	m.RecordThroughput(40)
	m.RecordThroughput(30) // 0.75x of initial

	r := m.Health()
	require.NotNil(t, r)
	assert.Equal(t, "Ollama (Local LLM)", r.Source)
	assert.InDelta(t, 50.0, r.Components["vram_pressure"].Score, 0.1)
	assert.InDelta(t, 50.0, r.Components["inference_throughput"].Score, 0.1)
	assert.InDelta(t, 50.0, r.Score, 0.1)
}

func TestNewMonitor_HostNormalization(t *testing.T) {
	m := NewMonitor(Config{BaseURL: "myhost:11434/"})
	assert.Equal(t, "http://myhost:11434", m.cfg.BaseURL)
}
