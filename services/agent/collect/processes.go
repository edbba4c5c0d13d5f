// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collect

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/singleflight"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// scanTTL is how long one process-table walk stays fresh. A burst of
// HTTP requests inside one collection tick shares a single scan.
const scanTTL = 2 * time.Second

// ProcessScanner walks the process table with a TTL cache. Concurrent
// callers during a cold cache share one walk via singleflight.
type ProcessScanner struct {
	mu       sync.Mutex
	cached   []datatypes.ProcessInfo
	cachedAt time.Time

	flight singleflight.Group
}

// NewProcessScanner returns a ready scanner.
func NewProcessScanner() *ProcessScanner {
	return &ProcessScanner{}
}

// Scan returns the current process list, served from cache when fresh.
func (ps *ProcessScanner) Scan() []datatypes.ProcessInfo {
	ps.mu.Lock()
	if time.Since(ps.cachedAt) < scanTTL && ps.cached != nil {
		defer ps.mu.Unlock()
		return ps.cached
	}
	ps.mu.Unlock()

	result, _, _ := ps.flight.Do("scan", func() (any, error) {
		procs := walkProcesses()
		ps.mu.Lock()
		ps.cached = procs
		ps.cachedAt = time.Now()
		ps.mu.Unlock()
		return procs, nil
	})
	return result.([]datatypes.ProcessInfo)
}

// walkProcesses reads the process table. Individual process errors
// (races with exits, permission denials) skip that process only.
func walkProcesses() []datatypes.ProcessInfo {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	out := make([]datatypes.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}
		info := datatypes.ProcessInfo{PID: p.Pid, Name: name}
		if cmdline, err := p.CmdlineSlice(); err == nil {
			info.Cmdline = cmdline
		}
		if cpuPct, err := p.CPUPercent(); err == nil {
			info.CPUPercent = cpuPct
		}
		if memPct, err := p.MemoryPercent(); err == nil {
			info.MemoryPercent = float64(memPct)
		}
		if created, err := p.CreateTime(); err == nil {
			info.CreateTime = float64(created) / 1000
		}
		if user, err := p.Username(); err == nil {
			info.Username = user
		}
		out = append(out, info)
	}
	return out
}

// ProcessGroup is a set of processes rolled up under one application
// label for the /processes endpoint.
type ProcessGroup struct {
	Name          string  `json:"name"`
	Count         int     `json:"count"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	PIDs          []int32 `json:"pids"`
}

// GroupByApp rolls processes up by friendly application name and
// returns the top groups by memory, capped at limit.
func GroupByApp(procs []datatypes.ProcessInfo, limit int) []ProcessGroup {
	byName := make(map[string]*ProcessGroup)
	for _, p := range procs {
		label := friendlyName(p.Name)
		g, ok := byName[label]
		if !ok {
			g = &ProcessGroup{Name: label}
			byName[label] = g
		}
		g.Count++
		g.CPUPercent += p.CPUPercent
		g.MemoryPercent += p.MemoryPercent
		g.PIDs = append(g.PIDs, p.PID)
	}
	groups := make([]ProcessGroup, 0, len(byName))
	for _, g := range byName {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].MemoryPercent > groups[j].MemoryPercent
	})
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups
}

// friendlyName collapses helper/worker process names onto their parent
// application. Unknown names pass through unchanged.
func friendlyName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "chrome") || strings.Contains(lower, "chromium"):
		return "Chrome"
	case strings.HasPrefix(lower, "firefox"):
		return "Firefox"
	case strings.HasPrefix(lower, "code") || strings.Contains(lower, "vscode"):
		return "VS Code"
	case strings.HasPrefix(lower, "python"):
		return "Python"
	case strings.HasPrefix(lower, "node"):
		return "Node.js"
	case strings.HasPrefix(lower, "java"):
		return "Java"
	case strings.HasPrefix(lower, "ollama"):
		return "Ollama"
	case strings.HasPrefix(lower, "docker") || strings.HasPrefix(lower, "containerd"):
		return "Docker"
	default:
		return name
	}
}
