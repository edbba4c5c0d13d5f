// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for the Bannin agent:
// metric snapshots, analytics events, alerts, tracked tasks, LLM call
// records, and MCP session reports.
//
// Snapshots are immutable once created. Everything that crosses a
// subsystem boundary lives here so the subsystems only depend on each
// other through data.
package datatypes

import "time"

// GPUInfo describes one GPU at sampling time.
type GPUInfo struct {
	Index         int     `json:"index"`
	Name          string  `json:"name"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	Utilization   float64 `json:"utilization_percent"`
	Temperature   float64 `json:"temperature"`
}

// CPUStats holds whole-machine and per-core CPU usage.
type CPUStats struct {
	Percent        float64   `json:"percent"`
	PerCorePercent []float64 `json:"per_core_percent,omitempty"`
}

// MemoryStats holds RAM usage in percent and bytes.
type MemoryStats struct {
	Percent        float64 `json:"percent"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	TotalBytes     uint64  `json:"total_bytes"`
}

// DiskStats holds root-filesystem usage.
type DiskStats struct {
	Percent   float64 `json:"percent"`
	UsedBytes uint64  `json:"used_bytes"`
	FreeBytes uint64  `json:"free_bytes"`
}

// NetworkStats holds cumulative interface counters.
type NetworkStats struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// MetricSnapshot is one immutable sample of the machine's resource
// state. Collectors create snapshots; the history ring stores them;
// nothing mutates them afterwards.
type MetricSnapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	Epoch     float64      `json:"epoch"`
	CPU       CPUStats     `json:"cpu"`
	Memory    MemoryStats  `json:"memory"`
	Disk      DiskStats    `json:"disk"`
	Network   NetworkStats `json:"network"`
	GPUs      []GPUInfo    `json:"gpus,omitempty"`
}

// MetricPath resolves a dot-path (e.g. "memory.percent", "gpu.0.memory_percent")
// against the snapshot. The second return is false when the path does
// not name a numeric metric; callers treat that as skip, never as zero.
func (s *MetricSnapshot) MetricPath(path string) (float64, bool) {
	return resolveMetricPath(s, path)
}
