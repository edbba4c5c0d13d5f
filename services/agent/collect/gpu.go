// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collect

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// GPUSampler reports the current per-GPU state. Machines without GPUs
// (or without the vendor tooling) return an empty list, not an error.
type GPUSampler interface {
	Sample() ([]datatypes.GPUInfo, error)
}

// NvidiaSMISampler samples NVIDIA GPUs by shelling out to nvidia-smi.
// Once nvidia-smi is found missing the sampler short-circuits to an
// empty result for the life of the process. Safe for concurrent use.
type NvidiaSMISampler struct {
	Timeout time.Duration

	unavailable atomic.Bool
}

const nvidiaSMIQuery = "index,name,memory.used,memory.total,utilization.gpu,temperature.gpu"

// Sample runs one nvidia-smi query and parses its CSV output.
func (n *NvidiaSMISampler) Sample() ([]datatypes.GPUInfo, error) {
	if n.unavailable.Load() {
		return nil, nil
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu="+nvidiaSMIQuery,
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		if _, lookErr := exec.LookPath("nvidia-smi"); lookErr != nil {
			n.unavailable.Store(true)
			return nil, nil
		}
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}
	return parseNvidiaSMI(string(out)), nil
}

// parseNvidiaSMI parses "0, NVIDIA RTX 4090, 21600, 24564, 97, 71"
// lines. Malformed lines are skipped.
func parseNvidiaSMI(out string) []datatypes.GPUInfo {
	var gpus []datatypes.GPUInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) != 6 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		usedMB, _ := strconv.ParseFloat(fields[2], 64)
		totalMB, _ := strconv.ParseFloat(fields[3], 64)
		util, _ := strconv.ParseFloat(fields[4], 64)
		temp, _ := strconv.ParseFloat(fields[5], 64)

		var memPct float64
		if totalMB > 0 {
			memPct = usedMB / totalMB * 100
		}
		gpus = append(gpus, datatypes.GPUInfo{
			Index:         idx,
			Name:          fields[1],
			MemoryPercent: memPct,
			MemoryUsedMB:  usedMB,
			MemoryTotalMB: totalMB,
			Utilization:   util,
			Temperature:   temp,
		})
	}
	return gpus
}
