// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"testing"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

func f64(v float64) *float64 { return &v }

func TestUpsertExternal_CreateThenUpdate(t *testing.T) {
	tr := NewTracker(Config{})

	first := tr.UpsertExternal("train", 5, f64(100), nil)
	if first.Status != datatypes.TaskRunning {
		t.Errorf("status = %q", first.Status)
	}
	if first.Percent == nil || *first.Percent != 5.0 {
		t.Errorf("percent = %v, want 5.0", first.Percent)
	}

	second := tr.UpsertExternal("train", 50, nil, nil)
	if second.TaskID != first.TaskID {
		t.Error("upsert with same name created a new task")
	}
	if second.Percent == nil || *second.Percent != 50.0 {
		t.Errorf("percent = %v, want 50.0", second.Percent)
	}
	if second.Status != datatypes.TaskRunning {
		t.Errorf("status = %q, want running", second.Status)
	}
	if tr.Tasks().Total != 1 {
		t.Errorf("total = %d, want 1", tr.Tasks().Total)
	}
}

func TestUpsertExternal_Completion(t *testing.T) {
	tr := NewTracker(Config{})
	tr.UpsertExternal("job", 10, f64(100), nil)
	done := tr.UpsertExternal("job", 100, nil, nil)
	if done.Status != datatypes.TaskCompleted {
		t.Fatalf("status = %q, want completed", done.Status)
	}
	if done.Percent == nil || *done.Percent != 100 {
		t.Errorf("percent = %v, want 100", done.Percent)
	}
	if done.ETASeconds == nil || *done.ETASeconds != 0 || done.ETAHuman != "done" {
		t.Errorf("eta = %v %q", done.ETASeconds, done.ETAHuman)
	}
}

func TestUpsertExternal_NegativeCurrentClamped(t *testing.T) {
	tr := NewTracker(Config{})
	got := tr.UpsertExternal("x", -10, nil, nil)
	if got.Current != 0 {
		t.Errorf("current = %v, want 0", got.Current)
	}
}

func TestTracker_ETA(t *testing.T) {
	now := time.Now()
	clock := now
	tr := NewTracker(Config{Now: func() time.Time { return clock }})

	tr.UpsertExternal("job", 0, f64(100), nil)
	clock = now.Add(10 * time.Second)
	got := tr.UpsertExternal("job", 25, nil, nil)

	// 25 units in 10 s -> 2.5/s -> 75 remaining -> 30 s.
	if got.ETASeconds == nil {
		t.Fatal("ETASeconds nil")
	}
	if *got.ETASeconds < 29.9 || *got.ETASeconds > 30.1 {
		t.Errorf("eta = %v, want ~30", *got.ETASeconds)
	}
	if got.ETAHuman != "30s" {
		t.Errorf("eta human = %q", got.ETAHuman)
	}
	if got.ETATimestamp == "" {
		t.Error("eta timestamp missing")
	}
}

func TestTracker_StallSweep(t *testing.T) {
	now := time.Now()
	clock := now
	tr := NewTracker(Config{StallTimeout: 10 * time.Second, Now: func() time.Time { return clock }})

	tr.UpsertExternal("quiet", 1, nil, nil)
	clock = now.Add(11 * time.Second)

	set := tr.Tasks()
	if len(set.Stalled) != 1 || len(set.Active) != 0 {
		t.Fatalf("stalled = %d, active = %d", len(set.Stalled), len(set.Active))
	}

	// An update revives the task.
	tr.UpsertExternal("quiet", 2, nil, nil)
	set = tr.Tasks()
	if len(set.Active) != 1 {
		t.Errorf("revived task not active: %+v", set)
	}
}

func TestTracker_EvictionNeverTouchesRunning(t *testing.T) {
	now := time.Now()
	clock := now
	tr := NewTracker(Config{Capacity: 3, StallTimeout: time.Hour, Now: func() time.Time { return clock }})

	tr.UpsertExternal("done1", 10, f64(10), nil) // completed
	clock = clock.Add(time.Second)
	tr.UpsertExternal("run1", 1, nil, nil)
	clock = clock.Add(time.Second)
	tr.UpsertExternal("run2", 1, nil, nil)
	clock = clock.Add(time.Second)

	tr.UpsertExternal("run3", 1, nil, nil) // forces eviction of done1
	set := tr.Tasks()
	if set.Total != 3 {
		t.Fatalf("total = %d, want 3", set.Total)
	}
	if len(set.Completed) != 0 {
		t.Error("completed task should have been evicted first")
	}
	if len(set.Active) != 3 {
		t.Errorf("active = %d, want 3", len(set.Active))
	}
}

func TestTracker_TaskPID(t *testing.T) {
	tr := NewTracker(Config{})
	pid := int32(4242)
	created := tr.UpsertExternal("withpid", 1, nil, &pid)

	got, ok := tr.TaskPID(created.TaskID)
	if !ok || got != 4242 {
		t.Errorf("TaskPID = %v %v", got, ok)
	}
	if _, ok := tr.TaskPID("task-nope"); ok {
		t.Error("unknown task returned a PID")
	}
}

func TestTracker_MarkCompleted(t *testing.T) {
	tr := NewTracker(Config{})
	created := tr.UpsertExternal("kill-me", 30, f64(100), nil)
	tr.MarkCompleted(created.TaskID)
	got, _ := tr.Task(created.TaskID)
	if got.Status != datatypes.TaskCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if got.Percent == nil || *got.Percent != 100 {
		t.Errorf("percent = %v", got.Percent)
	}
}

func TestLineScanner(t *testing.T) {
	tr := NewTracker(Config{})
	ls := NewLineScanner(tr, nil)

	tests := []struct {
		line    string
		match   bool
		name    string
		current float64
		total   float64
	}{
		{" 45%|████     | 450/1000 [00:12<00:15, 36.2it/s]", true, "progress", 450, 1000},
		{"Epoch 3/10", true, "epoch", 3, 10},
		{"step 200 of 1000", true, "step", 200, 1000},
		{"loading... 37.5% complete", true, "percent", 37.5, 100},
		{"nothing to see here", false, "", 0, 0},
	}
	for _, tt := range tests {
		if got := ls.ScanLine(tt.line); got != tt.match {
			t.Errorf("ScanLine(%q) = %v, want %v", tt.line, got, tt.match)
			continue
		}
		if !tt.match {
			continue
		}
		found := false
		for _, task := range tr.Tasks().Active {
			if task.Name == tt.name && task.Current == tt.current {
				found = true
				if task.Total == nil || *task.Total != tt.total {
					t.Errorf("%q: total = %v, want %v", tt.line, task.Total, tt.total)
				}
			}
		}
		if !found {
			t.Errorf("%q: no task %q with current %v", tt.line, tt.name, tt.current)
		}
	}
}

func TestLineScanner_TruncatesLongLines(t *testing.T) {
	tr := NewTracker(Config{})
	ls := NewLineScanner(tr, nil)
	// Progress marker past the 4096-char cap must not match.
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	if ls.ScanLine(string(long) + " 450/1000 [") {
		t.Error("match found past truncation boundary")
	}
}
