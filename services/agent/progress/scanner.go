// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"regexp"
	"strconv"
)

// maxScanLen bounds regex work on pathological lines.
const maxScanLen = 4096

// Pattern matches progress in an output line. Regexes use named
// capture groups "current" and (optionally) "total". A percent pattern
// implicitly carries total = 100.
type Pattern struct {
	// Name becomes the tracked task's name.
	Name string

	// Regex with (?P<current>...) and optional (?P<total>...) groups.
	Regex *regexp.Regexp

	// Percent marks patterns whose current is a percentage.
	Percent bool
}

// DefaultPatterns recognizes the common shapes of training output:
// tqdm-style "123/1000" counters, bare percentages, and epoch/step
// markers.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "progress",
			Regex: regexp.MustCompile(`(?P<current>\d+)/(?P<total>\d+)\s*\[`),
		},
		{
			Name:  "epoch",
			Regex: regexp.MustCompile(`[Ee]poch\s+(?P<current>\d+)\s*/\s*(?P<total>\d+)`),
		},
		{
			Name:  "step",
			Regex: regexp.MustCompile(`[Ss]tep\s+(?P<current>\d+)\s*(?:of|/)\s*(?P<total>\d+)`),
		},
		{
			Name:    "percent",
			Regex:   regexp.MustCompile(`(?P<current>\d+(?:\.\d+)?)%`),
			Percent: true,
		},
	}
}

// LineScanner feeds matched output lines into a Tracker. It is the
// typed replacement for stdout interception: wire it to whatever
// produces the text (a pipe, a pty, a log follower).
type LineScanner struct {
	tracker  *Tracker
	patterns []Pattern
}

// NewLineScanner builds a scanner over the tracker. Nil patterns use
// DefaultPatterns.
func NewLineScanner(tracker *Tracker, patterns []Pattern) *LineScanner {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	return &LineScanner{tracker: tracker, patterns: patterns}
}

// ScanLine tests the line against every pattern, upserting the first
// match. Returns true when progress was recognized.
func (ls *LineScanner) ScanLine(line string) bool {
	if len(line) > maxScanLen {
		line = line[:maxScanLen]
	}
	for _, p := range ls.patterns {
		m := p.Regex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		var current float64
		var total *float64
		for i, name := range p.Regex.SubexpNames() {
			if i == 0 || i >= len(m) || m[i] == "" {
				continue
			}
			v, err := strconv.ParseFloat(m[i], 64)
			if err != nil {
				continue
			}
			switch name {
			case "current":
				current = v
			case "total":
				total = &v
			}
		}
		if p.Percent {
			hundred := 100.0
			total = &hundred
		}
		ls.tracker.UpsertFromScan(p.Name, current, total)
		return true
	}
	return false
}
