// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llmtrack

import (
	"fmt"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// Aggregator combines health reports from every signal family into a
// single worst-of score. Source funcs may be nil or return nothing;
// the transcript fallback is consulted only when no MCP session
// reported.
type Aggregator struct {
	MCP        func() []datatypes.HealthReport
	Transcript func() *datatypes.HealthReport
	Ollama     func() *datatypes.HealthReport
	API        func() *datatypes.HealthReport
}

// Combined evaluates all sources and takes the minimum score. With no
// sources at all it returns the baseline report.
func (a *Aggregator) Combined() datatypes.HealthReport {
	var reports []datatypes.HealthReport

	if a.MCP != nil {
		reports = append(reports, a.MCP()...)
	}
	if len(reports) == 0 && a.Transcript != nil {
		if r := a.Transcript(); r != nil {
			reports = append(reports, *r)
		}
	}
	if a.Ollama != nil {
		if r := a.Ollama(); r != nil {
			reports = append(reports, *r)
		}
	}
	if a.API != nil {
		if r := a.API(); r != nil {
			reports = append(reports, *r)
		}
	}

	switch len(reports) {
	case 0:
		return ScoreHealth(nil, HealthInputs{})
	case 1:
		return reports[0]
	}

	worst := reports[0]
	components := make(map[string]datatypes.HealthComponent)
	for _, r := range reports {
		if r.Score < worst.Score {
			worst = r
		}
		for name, c := range r.Components {
			if prev, ok := components[name]; !ok || c.Score < prev.Score {
				components[name] = c
			}
		}
	}

	return datatypes.HealthReport{
		Score:          worst.Score,
		Rating:         worst.Rating,
		Recommendation: worst.Recommendation,
		Source:         fmt.Sprintf("Combined (%d sources)", len(reports)),
		Components:     components,
		Model:          worst.Model,
		DangerZone:     worst.DangerZone,
	}
}
