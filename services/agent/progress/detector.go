// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// Detection limits.
const (
	detectorCapacity = 100
	finishedTTL      = 5 * time.Minute
)

// trainingScriptPattern is the union of script filenames that indicate
// a training run.
var trainingScriptPattern = regexp.MustCompile(
	`(?i)(train|finetune|fine_tune|pretrain|sft|rlhf|ppo|dpo|grpo|distill)[a-z0-9_\-]*\.py$`)

// trainingFlags are cmdline switches that indicate a training run even
// when the script name is unremarkable.
var trainingFlags = []string{
	"--do_train",
	"--num_train_epochs",
	"--train_batch_size",
	"--per_device_train_batch_size",
	"--max_train_steps",
	"--training_args",
}

// trainingModules are `python -m <module>` launchers for ML frameworks.
var trainingModules = []string{
	"torch.distributed.launch",
	"torch.distributed.run",
	"accelerate.commands.launch",
	"deepspeed.launcher.runner",
	"pytorch_lightning",
	"lightning",
	"axolotl.cli.train",
}

// Detector finds training processes in the process scan and tracks
// their lifecycle. Entries are keyed by PID in insertion order.
type Detector struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[int32]*datatypes.DetectedProcess
	order   []int32
}

// NewDetector builds a Detector. now is injectable for tests; nil
// means time.Now.
func NewDetector(now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{
		now:     now,
		entries: make(map[int32]*datatypes.DetectedProcess),
	}
}

// UpdateFromScan reconciles the detector against one process scan:
// matches are upserted, PIDs missing from the scan transition
// running -> finished, and finished entries past their TTL age out.
func (d *Detector) UpdateFromScan(procs []datatypes.ProcessInfo) {
	nowEpoch := float64(d.now().UnixNano()) / 1e9

	seen := make(map[int32]bool)
	matched := make([]datatypes.ProcessInfo, 0, 4)
	for _, p := range procs {
		if IsTrainingProcess(p) {
			matched = append(matched, p)
			seen[p.PID] = true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range matched {
		e, ok := d.entries[p.PID]
		if !ok {
			if len(d.entries) >= detectorCapacity {
				d.evictLocked()
			}
			e = &datatypes.DetectedProcess{
				PID:       p.PID,
				Name:      displayName(p),
				Status:    datatypes.DetectedRunning,
				FirstSeen: nowEpoch,
			}
			d.entries[p.PID] = e
			d.order = append(d.order, p.PID)
		}
		e.Status = datatypes.DetectedRunning
		e.FinishedAt = 0
		e.CPUPercent = p.CPUPercent
		e.MemoryPercent = p.MemoryPercent
		start := p.CreateTime
		if start <= 0 {
			start = e.FirstSeen
		}
		e.ElapsedSecs = nowEpoch - start
		e.ElapsedHuman = datatypes.HumanDuration(e.ElapsedSecs)
	}

	for pid, e := range d.entries {
		if e.Status == datatypes.DetectedRunning && !seen[pid] {
			e.Status = datatypes.DetectedFinished
			e.FinishedAt = nowEpoch
		}
	}

	// Age out finished entries.
	ttl := finishedTTL.Seconds()
	for pid, e := range d.entries {
		if e.Status == datatypes.DetectedFinished && e.FinishedAt > 0 &&
			nowEpoch-e.FinishedAt > ttl {
			d.removeLocked(pid)
		}
	}
}

// MarkFinished transitions a PID to finished without waiting for the
// next scan cycle.
func (d *Detector) MarkFinished(pid int32) bool {
	nowEpoch := float64(d.now().UnixNano()) / 1e9
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[pid]
	if !ok {
		return false
	}
	if e.Status != datatypes.DetectedFinished {
		e.Status = datatypes.DetectedFinished
		e.FinishedAt = nowEpoch
	}
	return true
}

// DetectedTasks returns all entries in insertion order.
func (d *Detector) DetectedTasks() []datatypes.DetectedProcess {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]datatypes.DetectedProcess, 0, len(d.entries))
	for _, pid := range d.order {
		if e, ok := d.entries[pid]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// evictLocked frees one slot: oldest finished entry first, then the
// oldest entry outright. Caller holds d.mu.
func (d *Detector) evictLocked() {
	for _, pid := range d.order {
		if e, ok := d.entries[pid]; ok && e.Status == datatypes.DetectedFinished {
			d.removeLocked(pid)
			return
		}
	}
	if len(d.order) > 0 {
		d.removeLocked(d.order[0])
	}
}

func (d *Detector) removeLocked(pid int32) {
	delete(d.entries, pid)
	for i, p := range d.order {
		if p == pid {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// IsTrainingProcess decides whether a scanned process is an ML
// training run. Only python executables are considered.
func IsTrainingProcess(p datatypes.ProcessInfo) bool {
	if !strings.HasPrefix(strings.ToLower(p.Name), "python") {
		return false
	}
	if len(p.Cmdline) < 2 {
		return false
	}

	for i, arg := range p.Cmdline[1:] {
		if arg == "-m" && i+2 < len(p.Cmdline) {
			module := p.Cmdline[i+2]
			for _, m := range trainingModules {
				if module == m || strings.HasPrefix(module, m+".") {
					return true
				}
			}
		}
	}

	for _, arg := range p.Cmdline[1:] {
		for _, flag := range trainingFlags {
			if arg == flag || strings.HasPrefix(arg, flag+"=") {
				return true
			}
		}
	}

	if script := scriptArg(p.Cmdline); script != "" {
		if trainingScriptPattern.MatchString(filepath.Base(script)) {
			return true
		}
	}
	return false
}

// scriptArg returns the first non-flag argument ending in .py.
func scriptArg(cmdline []string) string {
	for _, arg := range cmdline[1:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if strings.HasSuffix(arg, ".py") {
			return arg
		}
	}
	return ""
}

// displayName renders a matched process for the UI: the script base
// name, or "python -m <module>".
func displayName(p datatypes.ProcessInfo) string {
	if script := scriptArg(p.Cmdline); script != "" {
		return filepath.Base(script)
	}
	for i, arg := range p.Cmdline {
		if arg == "-m" && i+1 < len(p.Cmdline) {
			return "python -m " + p.Cmdline[i+1]
		}
	}
	return p.Name
}
