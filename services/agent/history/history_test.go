// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package history

import (
	"testing"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

func snapAt(epoch float64) *datatypes.MetricSnapshot {
	return &datatypes.MetricSnapshot{
		Timestamp: time.Unix(int64(epoch), 0).UTC(),
		Epoch:     epoch,
		Memory:    datatypes.MemoryStats{Percent: 50},
	}
}

func TestHistory_RingEviction(t *testing.T) {
	h := New(Config{MaxReadings: 3}, nil, nil, nil)

	now := float64(time.Now().Unix())
	for i := 0; i < 5; i++ {
		h.Append(snapAt(now + float64(i)))
	}
	if got := h.ReadingCount(); got != 3 {
		t.Fatalf("ReadingCount() = %d, want 3", got)
	}
	all := h.FullHistory(60)
	if len(all) != 3 {
		t.Fatalf("FullHistory len = %d, want 3", len(all))
	}
	// Oldest two evicted; remaining are epochs now+2..now+4 oldest first.
	for i, s := range all {
		want := now + float64(i+2)
		if s.Epoch != want {
			t.Errorf("history[%d].Epoch = %v, want %v", i, s.Epoch, want)
		}
	}
	latest := h.Latest()
	if latest == nil || latest.Epoch != now+4 {
		t.Errorf("Latest() = %+v, want epoch %v", latest, now+4)
	}
}

func TestHistory_EmptyLatest(t *testing.T) {
	h := New(Config{}, nil, nil, nil)
	if h.Latest() != nil {
		t.Error("Latest() on empty history should be nil")
	}
	if h.ReadingCount() != 0 {
		t.Error("ReadingCount() on empty history should be 0")
	}
}

func TestHistory_WindowFilter(t *testing.T) {
	h := New(Config{MaxReadings: 100}, nil, nil, nil)
	now := float64(time.Now().Unix())

	h.Append(snapAt(now - 3600)) // an hour old
	h.Append(snapAt(now - 30))
	h.Append(snapAt(now))

	recent := h.MemoryHistory(1)
	if len(recent) != 2 {
		t.Fatalf("MemoryHistory(1) len = %d, want 2", len(recent))
	}
	if recent[0].Epoch != now-30 || recent[1].Epoch != now {
		t.Errorf("window contents wrong: %v, %v", recent[0].Epoch, recent[1].Epoch)
	}
}

func TestHistory_StartStop(t *testing.T) {
	// No collector: tick would panic, but tick recovers, so the loop
	// must survive and Stop must return.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Start/Stop panicked: %v", r)
		}
	}()
	h := New(Config{Interval: 5 * time.Millisecond, MaxReadings: 10}, nil, nil, nil)
	h.Start()
	h.Start() // idempotent
	time.Sleep(20 * time.Millisecond)
	h.Stop()
	h.Stop() // idempotent
}
