// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func eventAt(ts float64, typ, severity, message string) datatypes.Event {
	return datatypes.Event{
		Timestamp: ts,
		Source:    datatypes.SourceAgent,
		Machine:   "box",
		Type:      typ,
		Severity:  severity,
		Message:   message,
	}
}

func TestStore_WriteAndQuery(t *testing.T) {
	s := tempStore(t)
	now := float64(time.Now().Unix())

	require.NoError(t, s.WriteEvents([]datatypes.Event{
		eventAt(now-30, datatypes.EventAlert, "warning", "memory high"),
		eventAt(now-20, datatypes.EventLLMCall, "", "openai gpt-4o"),
		eventAt(now-10, datatypes.EventAlert, "critical", "disk full"),
	}))

	all, err := s.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "disk full", all[0].Message)
	assert.NotEmpty(t, all[0].ISOTime)
	assert.NotNil(t, all[0].Data)

	alerts, err := s.Query(Filter{Type: datatypes.EventAlert})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	crit, err := s.Query(Filter{Type: datatypes.EventAlert, Severity: "critical"})
	require.NoError(t, err)
	require.Len(t, crit, 1)
	assert.Equal(t, "disk full", crit[0].Message)

	recent, err := s.Query(Filter{Since: now - 15})
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	paged, err := s.Query(Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "openai gpt-4o", paged[0].Message)
}

func TestStore_DataRoundTrip(t *testing.T) {
	s := tempStore(t)
	e := eventAt(float64(time.Now().Unix()), datatypes.EventLLMCall, "", "call")
	e.Data = map[string]any{"cost_usd": 0.42, "model": "gpt-4o"}
	require.NoError(t, s.WriteEvents([]datatypes.Event{e}))

	got, err := s.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.42, got[0].Data["cost_usd"])
	assert.Equal(t, "gpt-4o", got[0].Data["model"])
}

func TestStore_Search(t *testing.T) {
	s := tempStore(t)
	now := float64(time.Now().Unix())
	require.NoError(t, s.WriteEvents([]datatypes.Event{
		eventAt(now-2, datatypes.EventAlert, "warning", "memory pressure rising"),
		eventAt(now-1, datatypes.EventAlert, "warning", "disk almost full"),
	}))

	hits, err := s.Search("memory", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Message, "memory")

	none, err := s.Search("nonexistent", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_Stats(t *testing.T) {
	s := tempStore(t)
	now := float64(time.Now().Unix())
	require.NoError(t, s.WriteEvents([]datatypes.Event{
		eventAt(now-100, datatypes.EventAlert, "warning", "a"),
		eventAt(now-50, datatypes.EventAlert, "warning", "b"),
		eventAt(now, datatypes.EventLLMCall, "", "c"),
	}))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalEvents)
	assert.Equal(t, int64(2), st.ByType[datatypes.EventAlert])
	assert.Equal(t, int64(2), st.BySeverity["warning"])
	assert.Equal(t, now-100, st.OldestTS)
	assert.Equal(t, now, st.NewestTS)
	assert.Positive(t, st.FileBytes)
}

func TestStore_Timeline(t *testing.T) {
	s := tempStore(t)
	now := float64(time.Now().Unix())
	require.NoError(t, s.WriteEvents([]datatypes.Event{
		eventAt(now-500, datatypes.EventAlert, "warning", "old"),
		eventAt(now-10, datatypes.EventAlert, "warning", "recent alert"),
		eventAt(now-5, datatypes.EventLLMCall, "", "recent call"),
	}))

	tl, err := s.Timeline(now-60, 10, nil)
	require.NoError(t, err)
	assert.Len(t, tl, 2)

	alertsOnly, err := s.Timeline(now-60, 10, []string{datatypes.EventAlert})
	require.NoError(t, err)
	require.Len(t, alertsOnly, 1)
	assert.Equal(t, "recent alert", alertsOnly[0].Message)
}

func TestStore_CostTrend(t *testing.T) {
	s := tempStore(t)
	now := time.Now()
	mk := func(age time.Duration, cost float64) datatypes.Event {
		e := eventAt(float64(now.Add(-age).Unix()), datatypes.EventLLMCall, "", "call")
		e.Data = map[string]any{"cost_usd": cost}
		return e
	}
	require.NoError(t, s.WriteEvents([]datatypes.Event{
		mk(time.Hour, 0.10),
		mk(2*time.Hour, 0.25),
		mk(20*24*time.Hour, 5.00), // outside a 7-day window
	}))

	trend, err := s.CostTrend(7)
	require.NoError(t, err)
	var total float64
	for _, d := range trend {
		total += d.CostUSD
	}
	assert.InDelta(t, 0.35, total, 1e-9)
}

func TestStore_Prune(t *testing.T) {
	s := tempStore(t)
	now := float64(time.Now().Unix())
	require.NoError(t, s.WriteEvents([]datatypes.Event{
		eventAt(now-40*86400, datatypes.EventAlert, "warning", "ancient"),
		eventAt(now, datatypes.EventAlert, "warning", "current"),
	}))

	deleted, err := s.Prune(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, err := s.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "current", left[0].Message)
}

func TestPipelineIntoStore(t *testing.T) {
	s := tempStore(t)
	p := NewPipeline(PipelineConfig{Writer: s, Machine: "box", FlushInterval: 10 * time.Millisecond})
	p.Start()
	p.Emit(datatypes.Event{Type: datatypes.EventAlert, Severity: "warning", Message: "wired"})
	p.Stop()

	got, err := s.Query(Filter{Type: datatypes.EventAlert})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "box", got[0].Machine)
}
