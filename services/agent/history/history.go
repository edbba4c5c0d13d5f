// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package history keeps the bounded ring of metric snapshots and runs
// the agent's heartbeat: the collection loop that feeds the ring, the
// analytics pipeline, and the alert engine from a single sample.
package history

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/collect"
	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// SnapshotSink receives every collected snapshot. The analytics
// pipeline implements this (with its own downsampling).
type SnapshotSink interface {
	EmitSnapshot(s *datatypes.MetricSnapshot)
}

// Evaluator is driven with the in-hand snapshot on every second tick so
// alerting never re-samples. The alert engine implements this.
type Evaluator interface {
	Evaluate(s *datatypes.MetricSnapshot) []datatypes.FiredAlert
}

// Config tunes the history ring and collection cadence. Zero values
// are replaced by defaults.
type Config struct {
	// Interval between collection ticks. Default 2 s.
	Interval time.Duration

	// MaxReadings bounds the ring. Default 900 (30 min at 2 s).
	MaxReadings int

	// SlowSampleEvery re-samples disk and GPU every Nth tick. Default 8.
	SlowSampleEvery int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second, MaxReadings: 900, SlowSampleEvery: 8}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxReadings <= 0 {
		c.MaxReadings = d.MaxReadings
	}
	if c.SlowSampleEvery <= 0 {
		c.SlowSampleEvery = d.SlowSampleEvery
	}
	return c
}

// History owns the snapshot ring and the collection loop.
//
// The ring is a fixed-capacity FIFO: the oldest snapshot is evicted on
// overflow. All accessors are safe for concurrent use with the loop.
type History struct {
	cfg       Config
	collector *collect.Collector
	sink      SnapshotSink
	evaluator Evaluator

	mu    sync.RWMutex
	ring  []*datatypes.MetricSnapshot
	head  int // next write position
	count int

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New builds a History. sink and evaluator may be nil (useful in
// tests); nil collaborators are skipped each tick.
func New(cfg Config, collector *collect.Collector, sink SnapshotSink, evaluator Evaluator) *History {
	cfg = cfg.withDefaults()
	return &History{
		cfg:       cfg,
		collector: collector,
		sink:      sink,
		evaluator: evaluator,
		ring:      make([]*datatypes.MetricSnapshot, cfg.MaxReadings),
	}
}

// Start launches the collection loop. Calling Start twice is a no-op.
func (h *History) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	go h.run(h.stopCh, h.doneCh)
}

// Stop halts the loop and waits for it to exit.
func (h *History) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	stop, done := h.stopCh, h.doneCh
	h.mu.Unlock()

	close(stop)
	<-done
}

func (h *History) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	tick := 0
	for {
		h.tick(tick)
		tick++
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// tick is one heartbeat. Any per-tick failure is swallowed so the loop
// never dies.
func (h *History) tick(n int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("collection tick panicked", "panic", r)
		}
	}()

	refreshSlow := n%h.cfg.SlowSampleEvery == 0
	snapshot := h.collector.Snapshot(refreshSlow)
	h.Append(snapshot)

	if h.sink != nil {
		h.sink.EmitSnapshot(snapshot)
	}
	// Alerting runs at half the sampling rate, reusing the snapshot.
	if h.evaluator != nil && n%2 == 0 {
		h.evaluator.Evaluate(snapshot)
	}
}

// Append adds a snapshot to the ring, evicting the oldest at capacity.
func (h *History) Append(s *datatypes.MetricSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.head] = s
	h.head = (h.head + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
}

// Latest returns the most recent snapshot, or nil when empty.
func (h *History) Latest() *datatypes.MetricSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return nil
	}
	idx := (h.head - 1 + len(h.ring)) % len(h.ring)
	return h.ring[idx]
}

// ReadingCount returns the current ring length.
func (h *History) ReadingCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// FullHistory returns snapshots from the last `minutes` minutes,
// oldest first.
func (h *History) FullHistory(minutes int) []*datatypes.MetricSnapshot {
	cutoff := float64(time.Now().UnixNano())/1e9 - float64(minutes)*60
	return h.since(cutoff)
}

// MemoryHistory is FullHistory for callers that only read memory
// fields; kept as a separate accessor to match the HTTP surface.
func (h *History) MemoryHistory(minutes int) []*datatypes.MetricSnapshot {
	return h.FullHistory(minutes)
}

func (h *History) since(cutoffEpoch float64) []*datatypes.MetricSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*datatypes.MetricSnapshot, 0, h.count)
	start := (h.head - h.count + len(h.ring)) % len(h.ring)
	for i := 0; i < h.count; i++ {
		s := h.ring[(start+i)%len(h.ring)]
		if s != nil && s.Epoch >= cutoffEpoch {
			out = append(out, s)
		}
	}
	return out
}
