// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/bannin/services/agent/collect"
)

// HealthCheck reports liveness.
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// GetStatus reports agent identity and uptime.
func GetStatus(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"machine":        svc.Machine,
			"version":        svc.Version,
			"platform":       svc.Platform.Name,
			"hostname":       svc.Platform.Hostname,
			"os":             svc.Platform.OS,
			"arch":           svc.Platform.Arch,
			"started_at":     svc.StartedAt.UTC().Format(time.RFC3339),
			"uptime_seconds": time.Since(svc.StartedAt).Seconds(),
			"readings":       svc.History.ReadingCount(),
		})
	}
}

// GetMetrics returns the most recent metric snapshot, tagged with the
// platform. 503 until the first collection tick lands.
func GetMetrics(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := svc.History.Latest()
		if snap == nil {
			errorBody(c, http.StatusServiceUnavailable, "no metrics collected yet")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"platform": svc.Platform.Name,
			"metrics":  snap,
		})
	}
}

// GetProcesses scans live processes and returns the top groups by
// memory plus a whole-machine rollup.
func GetProcesses(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 10)
		if limit <= 0 {
			limit = 10
		}
		procs := svc.Scanner.Scan()
		groups := collect.GroupByApp(procs, limit)

		var cpu, mem float64
		for _, p := range procs {
			cpu += p.CPUPercent
			mem += p.MemoryPercent
		}
		c.JSON(http.StatusOK, gin.H{
			"total_processes":      len(procs),
			"groups":               groups,
			"total_cpu_percent":    cpu,
			"total_memory_percent": mem,
		})
	}
}

// GetOOMPrediction runs the extrapolation over the history window.
func GetOOMPrediction(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Predictor.Predict())
	}
}

// GetMemoryHistory returns the memory-only series for charting.
func GetMemoryHistory(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		minutes := intQuery(c, "minutes", 10)
		if minutes <= 0 {
			minutes = 10
		}
		snaps := svc.History.MemoryHistory(minutes)
		points := make([]gin.H, 0, len(snaps))
		for _, s := range snaps {
			point := gin.H{
				"epoch":          s.Epoch,
				"memory_percent": s.Memory.Percent,
			}
			if len(s.GPUs) > 0 {
				gpu := make([]float64, len(s.GPUs))
				for i, g := range s.GPUs {
					gpu[i] = g.MemoryPercent
				}
				point["gpu_memory_percent"] = gpu
			}
			points = append(points, point)
		}
		c.JSON(http.StatusOK, gin.H{
			"minutes": minutes,
			"count":   len(points),
			"points":  points,
		})
	}
}
