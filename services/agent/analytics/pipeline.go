// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analytics persists agent events. The pipeline buffers and
// batches; the store owns the SQLite file. Emit never blocks and the
// store's writer is the only goroutine that touches the write path.
package analytics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// Pipeline defaults.
const (
	defaultQueueSize     = 10_000
	defaultFlushInterval = 2 * time.Second
	defaultFlushBatch    = 100

	// snapshotMinGap suppresses metric_snapshot events arriving more
	// often than one per five minutes.
	snapshotMinGap = 300 * time.Second
)

// EventWriter is the store's batch-write surface.
type EventWriter interface {
	WriteEvents(batch []datatypes.Event) error
}

// PipelineConfig wires a Pipeline. Zero values take the defaults.
type PipelineConfig struct {
	Writer        EventWriter
	Machine       string
	QueueSize     int
	FlushInterval time.Duration
	FlushBatch    int
	Now           func() time.Time

	// OnDrop observes each overflow drop (metrics). Called with the
	// pipeline lock held; keep it cheap.
	OnDrop func()
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.FlushBatch <= 0 {
		c.FlushBatch = defaultFlushBatch
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Pipeline is the non-blocking event intake. Events are enriched on
// Emit, queued with drop-oldest overflow, and flushed in batches by a
// single consumer goroutine.
type Pipeline struct {
	cfg PipelineConfig

	mu           sync.Mutex
	queue        []datatypes.Event
	dropped      uint64
	lastSnapshot time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPipeline builds a Pipeline; call Start to launch the consumer.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults()}
}

// Emit enriches and enqueues an event. Never blocks: on a full queue
// the oldest event is dropped to make room.
func (p *Pipeline) Emit(e datatypes.Event) {
	now := p.cfg.Now()
	if e.Timestamp == 0 {
		e.Timestamp = float64(now.UnixNano()) / 1e9
	}
	if e.Machine == "" {
		e.Machine = p.cfg.Machine
	}
	if e.Source == "" {
		e.Source = datatypes.SourceAgent
	}
	if e.Type == "" {
		e.Type = "generic"
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Type == datatypes.EventMetricSnapshot {
		if !p.lastSnapshot.IsZero() && now.Sub(p.lastSnapshot) < snapshotMinGap {
			return
		}
		p.lastSnapshot = now
	}

	if len(p.queue) >= p.cfg.QueueSize {
		p.queue = p.queue[1:]
		p.dropped++
		if p.cfg.OnDrop != nil {
			p.cfg.OnDrop()
		}
	}
	p.queue = append(p.queue, e)
}

// Dropped reports how many events overflow has discarded.
func (p *Pipeline) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// QueueDepth reports the current backlog.
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Start launches the consumer goroutine. Idempotent.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run(p.stopCh, p.doneCh)
}

// Stop halts the consumer and flushes everything still queued before
// returning. Idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	stopCh, doneCh := p.stopCh, p.doneCh
	p.stopCh, p.doneCh = nil, nil
	p.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
	p.drain()
}

func (p *Pipeline) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.flushOnce()
		}
	}
}

// flushOnce writes at most one batch. Write errors are logged and the
// batch is discarded; the stream must keep moving.
func (p *Pipeline) flushOnce() {
	p.mu.Lock()
	n := len(p.queue)
	if n == 0 {
		p.mu.Unlock()
		return
	}
	if n > p.cfg.FlushBatch {
		n = p.cfg.FlushBatch
	}
	batch := make([]datatypes.Event, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	p.mu.Unlock()

	if p.cfg.Writer == nil {
		return
	}
	if err := p.cfg.Writer.WriteEvents(batch); err != nil {
		slog.Warn("analytics flush failed", "events", len(batch), "error", err)
	}
}

// drain flushes until the queue is empty.
func (p *Pipeline) drain() {
	for p.QueueDepth() > 0 {
		p.flushOnce()
	}
}
