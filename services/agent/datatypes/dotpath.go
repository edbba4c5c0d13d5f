// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strconv"
	"strings"
)

// asMetricTree lays the snapshot out as a nested map so alert rules can
// address any numeric field by dot-path without the engine knowing the
// snapshot's shape. GPU entries are addressable both as a list
// ("gpu.0.memory_percent") and, for the common single-GPU case, through
// index 0.
func (s *MetricSnapshot) asMetricTree() map[string]any {
	gpus := make([]any, 0, len(s.GPUs))
	for _, g := range s.GPUs {
		gpus = append(gpus, map[string]any{
			"index":               float64(g.Index),
			"memory_percent":      g.MemoryPercent,
			"memory_used_mb":      g.MemoryUsedMB,
			"memory_total_mb":     g.MemoryTotalMB,
			"utilization_percent": g.Utilization,
			"temperature":         g.Temperature,
		})
	}
	return map[string]any{
		"cpu": map[string]any{
			"percent": s.CPU.Percent,
		},
		"memory": map[string]any{
			"percent":         s.Memory.Percent,
			"used_bytes":      float64(s.Memory.UsedBytes),
			"available_bytes": float64(s.Memory.AvailableBytes),
			"total_bytes":     float64(s.Memory.TotalBytes),
			"available_gb":    float64(s.Memory.AvailableBytes) / (1024 * 1024 * 1024),
		},
		"disk": map[string]any{
			"percent":    s.Disk.Percent,
			"used_bytes": float64(s.Disk.UsedBytes),
			"free_bytes": float64(s.Disk.FreeBytes),
			"free_gb":    float64(s.Disk.FreeBytes) / (1024 * 1024 * 1024),
		},
		"network": map[string]any{
			"bytes_sent": float64(s.Network.BytesSent),
			"bytes_recv": float64(s.Network.BytesRecv),
		},
		"gpu": gpus,
	}
}

// resolveMetricPath walks a dot-path through the metric tree. Missing
// segments, out-of-range GPU indices, and non-numeric leaves all return
// ok=false; rule evaluation treats that as "skip this rule".
func resolveMetricPath(s *MetricSnapshot, path string) (float64, bool) {
	if path == "" {
		return 0, false
	}
	var cur any = s.asMetricTree()
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return 0, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return 0, false
			}
			cur = node[idx]
		default:
			return 0, false
		}
	}
	v, ok := cur.(float64)
	return v, ok
}
