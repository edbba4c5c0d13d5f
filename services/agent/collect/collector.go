// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package collect implements the one-shot metric samplers: CPU, memory,
// disk, network, GPU, and the process scan.
//
// Samplers are stateless apart from caching. Disk and GPU sampling are
// comparatively expensive and change slowly, so the history loop calls
// them on a reduced cadence and the Collector caches the last values.
// The process scan carries its own 2 s TTL cache (see processes.go) so
// a burst of HTTP requests does not rescan the process table.
package collect

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// Collector produces MetricSnapshots. Safe for concurrent use: the
// history loop refreshes the slow samples while alert re-checks take
// cached snapshots from handler goroutines.
type Collector struct {
	gpu GPUSampler

	mu       sync.Mutex
	lastDisk datatypes.DiskStats
	lastGPUs []datatypes.GPUInfo
	haveDisk bool
}

// NewCollector builds a Collector. gpu may be nil, in which case GPU
// sampling uses the default nvidia-smi sampler.
func NewCollector(gpu GPUSampler) *Collector {
	if gpu == nil {
		gpu = &NvidiaSMISampler{Timeout: 3 * time.Second}
	}
	return &Collector{gpu: gpu}
}

// Snapshot samples the machine. When refreshSlow is false the cached
// disk and GPU values from the previous slow sample are reused.
// Individual sampler failures degrade to zero values for that section;
// they never fail the snapshot.
func (c *Collector) Snapshot(refreshSlow bool) *datatypes.MetricSnapshot {
	now := time.Now().UTC()
	s := &datatypes.MetricSnapshot{
		Timestamp: now,
		Epoch:     float64(now.UnixNano()) / 1e9,
	}

	if cpuStats, err := c.sampleCPU(); err == nil {
		s.CPU = cpuStats
	} else {
		slog.Debug("cpu sample failed", "error", err)
	}
	if memStats, err := c.sampleMemory(); err == nil {
		s.Memory = memStats
	} else {
		slog.Debug("memory sample failed", "error", err)
	}
	if netStats, err := c.sampleNetwork(); err == nil {
		s.Network = netStats
	} else {
		slog.Debug("network sample failed", "error", err)
	}

	c.mu.Lock()
	need := refreshSlow || !c.haveDisk
	c.mu.Unlock()

	if need {
		// Sample outside the lock; disk and nvidia-smi can take
		// seconds and cached reads must not wait on them.
		diskStats, diskErr := c.sampleDisk()
		gpus, gpuErr := c.gpu.Sample()

		c.mu.Lock()
		if diskErr == nil {
			c.lastDisk = diskStats
			c.haveDisk = true
		} else {
			slog.Debug("disk sample failed", "error", diskErr)
		}
		if gpuErr == nil {
			c.lastGPUs = gpus
		} else {
			slog.Debug("gpu sample failed", "error", gpuErr)
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	s.Disk = c.lastDisk
	s.GPUs = c.lastGPUs
	c.mu.Unlock()
	return s
}

func (c *Collector) sampleCPU() (datatypes.CPUStats, error) {
	// Non-blocking read against the previous call's counters.
	total, err := cpu.Percent(0, false)
	if err != nil || len(total) == 0 {
		return datatypes.CPUStats{}, fmt.Errorf("cpu percent: %w", err)
	}
	perCore, err := cpu.Percent(0, true)
	if err != nil {
		perCore = nil
	}
	return datatypes.CPUStats{Percent: total[0], PerCorePercent: perCore}, nil
}

func (c *Collector) sampleMemory() (datatypes.MemoryStats, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return datatypes.MemoryStats{}, fmt.Errorf("virtual memory: %w", err)
	}
	return datatypes.MemoryStats{
		Percent:        vm.UsedPercent,
		UsedBytes:      vm.Used,
		AvailableBytes: vm.Available,
		TotalBytes:     vm.Total,
	}, nil
}

func (c *Collector) sampleDisk() (datatypes.DiskStats, error) {
	du, err := disk.Usage("/")
	if err != nil {
		return datatypes.DiskStats{}, fmt.Errorf("disk usage: %w", err)
	}
	return datatypes.DiskStats{
		Percent:   du.UsedPercent,
		UsedBytes: du.Used,
		FreeBytes: du.Free,
	}, nil
}

func (c *Collector) sampleNetwork() (datatypes.NetworkStats, error) {
	counters, err := gopsnet.IOCounters(false)
	if err != nil || len(counters) == 0 {
		return datatypes.NetworkStats{}, fmt.Errorf("net counters: %w", err)
	}
	io := counters[0]
	return datatypes.NetworkStats{
		BytesSent:   io.BytesSent,
		BytesRecv:   io.BytesRecv,
		PacketsSent: io.PacketsSent,
		PacketsRecv: io.PacketsRecv,
	}, nil
}
