// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package progress tracks long-running jobs: external progress pushes,
// scanned output lines, and background-detected training processes.
//
// The interception the original design did by monkey-patching progress
// bars is expressed here as a pluggable sink (see LineScanner): anything
// that can observe output text feeds UpsertExternal, and the tracker
// itself only ever deals in upserts.
package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// Task source tags.
const (
	SourceExternal = "external"
	SourceStdout   = "stdout"
	SourceDetected = "detected"
)

// Config tunes the tracker. Zero values take defaults.
type Config struct {
	// Capacity caps tracked tasks. Default 500.
	Capacity int

	// StallTimeout marks a silent running task stalled. Default 300 s.
	StallTimeout time.Duration

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{Capacity: 500, StallTimeout: 5 * time.Minute}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = d.StallTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// task is the internal record; start/lastUpdate bookkeeping stays
// internal and is projected into datatypes.Task on read.
type task struct {
	id         string
	name       string
	source     string
	current    float64
	total      *float64
	pid        *int32
	status     string
	startEpoch float64
	lastUpdate float64
	createdSeq int
}

// TaskSet is the grouped view returned by Tasks().
type TaskSet struct {
	Active    []datatypes.Task `json:"active"`
	Completed []datatypes.Task `json:"completed"`
	Stalled   []datatypes.Task `json:"stalled"`
	Total     int              `json:"total"`
}

// Tracker is the task registry. One mutex guards the whole
// check-insert-update sequence so an eviction can never interleave
// between creation and first update.
type Tracker struct {
	cfg Config

	mu     sync.Mutex
	tasks  map[string]*task  // task id -> task
	byName map[string]string // upsert name -> task id
	seq    int
}

// NewTracker builds a Tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:    cfg.withDefaults(),
		tasks:  make(map[string]*task),
		byName: make(map[string]string),
	}
}

// UpsertExternal creates or updates a task keyed by name and returns
// its current projection. Repeating an upsert with the same name is
// equivalent to one upsert with the latest values.
func (tr *Tracker) UpsertExternal(name string, current float64, total *float64, pid *int32) datatypes.Task {
	return tr.upsert(name, SourceExternal, current, total, pid)
}

// UpsertFromScan records progress observed in output text.
func (tr *Tracker) UpsertFromScan(name string, current float64, total *float64) datatypes.Task {
	return tr.upsert(name, SourceStdout, current, total, nil)
}

func (tr *Tracker) upsert(name, source string, current float64, total *float64, pid *int32) datatypes.Task {
	now := tr.cfg.Now()
	nowEpoch := float64(now.UnixNano()) / 1e9

	tr.mu.Lock()
	defer tr.mu.Unlock()

	id, exists := tr.byName[name]
	var t *task
	if exists {
		t = tr.tasks[id]
	}
	if t == nil {
		if len(tr.tasks) >= tr.cfg.Capacity {
			tr.evictLocked()
		}
		t = &task{
			id:         "task-" + uuid.New().String(),
			name:       name,
			source:     source,
			status:     datatypes.TaskRunning,
			startEpoch: nowEpoch,
			createdSeq: tr.seq,
		}
		tr.seq++
		tr.tasks[t.id] = t
		tr.byName[name] = t.id
	}

	if current < 0 {
		current = 0
	}
	t.current = current
	if total != nil {
		t.total = total
	}
	if pid != nil {
		t.pid = pid
	}
	t.lastUpdate = nowEpoch

	if t.total != nil && *t.total > 0 && t.current >= *t.total {
		t.status = datatypes.TaskCompleted
	} else {
		// An update revives a stalled task.
		t.status = datatypes.TaskRunning
	}
	return tr.projectLocked(t, nowEpoch)
}

// evictLocked frees one slot: oldest completed first, then oldest
// stalled. Running tasks are never evicted; when everything is running
// the insert proceeds over capacity rather than losing live work.
func (tr *Tracker) evictLocked() {
	for _, status := range []string{datatypes.TaskCompleted, datatypes.TaskStalled} {
		var victim *task
		for _, t := range tr.tasks {
			if t.status != status {
				continue
			}
			if victim == nil || t.createdSeq < victim.createdSeq {
				victim = t
			}
		}
		if victim != nil {
			delete(tr.tasks, victim.id)
			delete(tr.byName, victim.name)
			return
		}
	}
}

// Tasks returns all tracked tasks grouped by status. The stall sweep
// runs on every read.
func (tr *Tracker) Tasks() TaskSet {
	now := tr.cfg.Now()
	nowEpoch := float64(now.UnixNano()) / 1e9

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.sweepStalledLocked(nowEpoch)

	set := TaskSet{
		Active:    []datatypes.Task{},
		Completed: []datatypes.Task{},
		Stalled:   []datatypes.Task{},
	}
	for _, t := range tr.tasks {
		projected := tr.projectLocked(t, nowEpoch)
		switch t.status {
		case datatypes.TaskCompleted:
			set.Completed = append(set.Completed, projected)
		case datatypes.TaskStalled:
			set.Stalled = append(set.Stalled, projected)
		default:
			set.Active = append(set.Active, projected)
		}
	}
	set.Total = len(tr.tasks)
	return set
}

// Task returns one task by id.
func (tr *Tracker) Task(id string) (datatypes.Task, bool) {
	now := tr.cfg.Now()
	nowEpoch := float64(now.UnixNano()) / 1e9

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.sweepStalledLocked(nowEpoch)
	t, ok := tr.tasks[id]
	if !ok {
		return datatypes.Task{}, false
	}
	return tr.projectLocked(t, nowEpoch), true
}

// TaskPID returns the task's PID when one was pushed with it.
func (tr *Tracker) TaskPID(id string) (int32, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	t, ok := tr.tasks[id]
	if !ok || t.pid == nil {
		return 0, false
	}
	return *t.pid, true
}

// MarkCompleted forces a task to completed (used after a training-stop
// command terminates the underlying process).
func (tr *Tracker) MarkCompleted(id string) {
	nowEpoch := float64(tr.cfg.Now().UnixNano()) / 1e9
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if t, ok := tr.tasks[id]; ok {
		t.status = datatypes.TaskCompleted
		if t.total != nil && *t.total > 0 {
			t.current = *t.total
		}
		t.lastUpdate = nowEpoch
	}
}

func (tr *Tracker) sweepStalledLocked(nowEpoch float64) {
	timeout := tr.cfg.StallTimeout.Seconds()
	for _, t := range tr.tasks {
		if t.status == datatypes.TaskRunning && nowEpoch-t.lastUpdate > timeout {
			t.status = datatypes.TaskStalled
		}
	}
}

// projectLocked renders the internal record as the public Task shape,
// computing percent and ETA. Caller holds tr.mu.
func (tr *Tracker) projectLocked(t *task, nowEpoch float64) datatypes.Task {
	elapsed := nowEpoch - t.startEpoch
	if elapsed < 0 {
		elapsed = 0
	}
	out := datatypes.Task{
		TaskID:         t.id,
		Name:           t.name,
		Source:         t.source,
		Current:        t.current,
		Total:          t.total,
		ElapsedSeconds: elapsed,
		StartedAt:      time.Unix(0, int64(t.startEpoch*1e9)).UTC().Format(time.RFC3339),
		LastUpdate:     t.lastUpdate,
		Status:         t.status,
		PID:            t.pid,
	}

	if t.total != nil && *t.total > 0 {
		pct := math.Round(100*t.current / *t.total*10) / 10
		if pct > 100 {
			pct = 100
		}
		out.Percent = &pct
	}

	if t.status == datatypes.TaskCompleted {
		hundred := 100.0
		out.Percent = &hundred
		zero := 0.0
		out.ETASeconds = &zero
		out.ETAHuman = "done"
		return out
	}

	if t.total != nil && *t.total > 0 && t.current > 0 && elapsed > 0 {
		rate := t.current / elapsed
		eta := (*t.total - t.current) / rate
		out.ETASeconds = &eta
		out.ETAHuman = datatypes.HumanDuration(eta)
		out.ETATimestamp = time.Unix(0, int64((nowEpoch+eta)*1e9)).UTC().Format(time.RFC3339)
	}
	return out
}

// String implements fmt.Stringer for debug logging.
func (tr *Tracker) String() string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return fmt.Sprintf("Tracker(%d tasks)", len(tr.tasks))
}
