// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llmtrack

import (
	"strings"
	"sync"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// defaultDangerZonePct is used for models with no pricing entry.
const defaultDangerZonePct = 65

// PriceTable maps model names to pricing and context metadata. The
// platform config layer can swap the whole table when a remote refresh
// lands; lookups normalize model names and fall back to prefix
// matching so versioned model ids ("gpt-4o-2024-08-06") resolve.
type PriceTable struct {
	mu     sync.RWMutex
	models map[string]datatypes.ModelPricing
}

// NewPriceTable builds a table. Nil models uses the built-in defaults.
func NewPriceTable(models map[string]datatypes.ModelPricing) *PriceTable {
	if models == nil {
		models = defaultPricing()
	}
	return &PriceTable{models: models}
}

// Replace installs a new model map wholesale.
func (pt *PriceTable) Replace(models map[string]datatypes.ModelPricing) {
	if len(models) == 0 {
		return
	}
	pt.mu.Lock()
	pt.models = models
	pt.mu.Unlock()
}

// Lookup resolves pricing for a model name. ok=false means the model
// is unknown (cost records as zero and a warning is surfaced).
func (pt *PriceTable) Lookup(model string) (datatypes.ModelPricing, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	name := strings.ToLower(strings.TrimSpace(model))
	if p, ok := pt.models[name]; ok {
		return p, true
	}
	// Longest-prefix match for dated/versioned model ids.
	bestLen := 0
	var best datatypes.ModelPricing
	for key, p := range pt.models {
		if strings.HasPrefix(name, key) && len(key) > bestLen {
			bestLen = len(key)
			best = p
		}
	}
	if bestLen > 0 {
		return best, true
	}
	return datatypes.ModelPricing{}, false
}

// Cost computes USD for a call. Cached prompt tokens are billed at the
// cached rate and subtracted from the input figure.
func (pt *PriceTable) Cost(model string, input, output, cached int64) (float64, bool) {
	p, ok := pt.Lookup(model)
	if !ok {
		return 0, false
	}
	billableInput := input - cached
	if billableInput < 0 {
		billableInput = 0
	}
	cost := float64(billableInput)*p.InputPerM/1e6 +
		float64(output)*p.OutputPerM/1e6 +
		float64(cached)*p.CachedPerM/1e6
	return cost, true
}

// DangerZone returns the model's context danger-zone percentage, or
// the default for unknown models.
func (pt *PriceTable) DangerZone(model string) float64 {
	if p, ok := pt.Lookup(model); ok && p.DangerZonePct > 0 {
		return p.DangerZonePct
	}
	return defaultDangerZonePct
}

// ContextWindow returns the model's context window in tokens, or 0
// when unknown.
func (pt *PriceTable) ContextWindow(model string) int64 {
	if p, ok := pt.Lookup(model); ok {
		return p.ContextWindow
	}
	return 0
}

// defaultPricing is the shipped table, USD per million tokens. The
// remote platform config refreshes it at runtime.
func defaultPricing() map[string]datatypes.ModelPricing {
	return map[string]datatypes.ModelPricing{
		"gpt-4o":           {InputPerM: 2.50, OutputPerM: 10.00, CachedPerM: 1.25, ContextWindow: 128_000, DangerZonePct: 70},
		"gpt-4o-mini":      {InputPerM: 0.15, OutputPerM: 0.60, CachedPerM: 0.075, ContextWindow: 128_000, DangerZonePct: 70},
		"gpt-4.1":          {InputPerM: 2.00, OutputPerM: 8.00, CachedPerM: 0.50, ContextWindow: 1_000_000, DangerZonePct: 75},
		"gpt-4.1-mini":     {InputPerM: 0.40, OutputPerM: 1.60, CachedPerM: 0.10, ContextWindow: 1_000_000, DangerZonePct: 75},
		"o3":               {InputPerM: 2.00, OutputPerM: 8.00, CachedPerM: 0.50, ContextWindow: 200_000, DangerZonePct: 70},
		"o4-mini":          {InputPerM: 1.10, OutputPerM: 4.40, CachedPerM: 0.275, ContextWindow: 200_000, DangerZonePct: 70},
		"claude-opus-4":    {InputPerM: 15.00, OutputPerM: 75.00, CachedPerM: 1.50, ContextWindow: 200_000, DangerZonePct: 65},
		"claude-sonnet-4":  {InputPerM: 3.00, OutputPerM: 15.00, CachedPerM: 0.30, ContextWindow: 200_000, DangerZonePct: 65},
		"claude-3-5-haiku": {InputPerM: 0.80, OutputPerM: 4.00, CachedPerM: 0.08, ContextWindow: 200_000, DangerZonePct: 65},
		"gemini-2.5-pro":   {InputPerM: 1.25, OutputPerM: 10.00, CachedPerM: 0.31, ContextWindow: 1_048_576, DangerZonePct: 75},
		"gemini-2.5-flash": {InputPerM: 0.30, OutputPerM: 2.50, CachedPerM: 0.075, ContextWindow: 1_048_576, DangerZonePct: 75},
		"grok-3":           {InputPerM: 3.00, OutputPerM: 15.00, ContextWindow: 131_072, DangerZonePct: 70},
		"llama-3.3-70b":    {InputPerM: 0.59, OutputPerM: 0.79, ContextWindow: 128_000, DangerZonePct: 65},
	}
}
