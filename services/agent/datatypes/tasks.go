// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Task status values.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskStalled   = "stalled"
)

// Task is a tracked long-running job (training run, download, external
// progress push). Total and the ETA fields are nil when unknown.
type Task struct {
	TaskID         string   `json:"task_id"`
	Name           string   `json:"name"`
	Source         string   `json:"source"`
	Current        float64  `json:"current"`
	Total          *float64 `json:"total,omitempty"`
	Percent        *float64 `json:"percent,omitempty"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	ETASeconds     *float64 `json:"eta_seconds,omitempty"`
	ETAHuman       string   `json:"eta_human,omitempty"`
	ETATimestamp   string   `json:"eta_timestamp,omitempty"`
	StartedAt      string   `json:"started_at"`
	LastUpdate     float64  `json:"last_update_epoch"`
	Status         string   `json:"status"`
	PID            *int32   `json:"pid,omitempty"`
}

// TaskPush is the body of POST /tasks: an external create-or-update
// keyed by name.
type TaskPush struct {
	Name    string   `json:"name" binding:"required" validate:"required,max=256"`
	Current float64  `json:"current" validate:"gte=0"`
	Total   *float64 `json:"total,omitempty" validate:"omitempty,gt=0"`
	PID     *int32   `json:"pid,omitempty" validate:"omitempty,gt=0"`
}

// Detected-process status values.
const (
	DetectedRunning  = "running"
	DetectedFinished = "finished"
)

// DetectedProcess is a training process found by the background scan,
// keyed by PID.
type DetectedProcess struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	ElapsedSecs   float64 `json:"elapsed_seconds"`
	ElapsedHuman  string  `json:"elapsed_human"`
	Status        string  `json:"status"`
	FirstSeen     float64 `json:"first_seen_epoch"`
	FinishedAt    float64 `json:"finished_at_epoch,omitempty"`
}

// ProcessInfo is one row of the process scan, before grouping.
type ProcessInfo struct {
	PID           int32    `json:"pid"`
	Name          string   `json:"name"`
	Cmdline       []string `json:"cmdline,omitempty"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	CreateTime    float64  `json:"create_time_epoch"`
	Username      string   `json:"username,omitempty"`
}
