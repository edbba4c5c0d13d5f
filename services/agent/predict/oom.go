// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package predict extrapolates memory growth from the metric history
// to warn about out-of-memory events before they happen.
package predict

import (
	"math"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// Trend classifications.
const (
	TrendIncreasing   = "increasing"
	TrendDecreasing   = "decreasing"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient_data"
)

// Severity classifications.
const (
	SeverityCritical      = "critical"
	SeverityWarning       = "warning"
	SeverityInfo          = "info"
	SeverityLowConfidence = "low_confidence"
	SeverityOK            = "ok"
)

// slopeEpsilon separates increasing/decreasing from stable, in
// percent per second.
const slopeEpsilon = 0.01

// HistorySource supplies the snapshot window the predictor reads.
type HistorySource interface {
	FullHistory(minutes int) []*datatypes.MetricSnapshot
	Latest() *datatypes.MetricSnapshot
}

// Config tunes the predictor. Zero values take defaults.
type Config struct {
	// WindowMinutes of history to regress over. Default 30.
	WindowMinutes int

	// MinDataPoints below which no prediction is made. Default 12.
	MinDataPoints int

	// ConfidenceThreshold below which severity becomes
	// low_confidence. Default 70.
	ConfidenceThreshold float64
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{WindowMinutes: 30, MinDataPoints: 12, ConfidenceThreshold: 70}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowMinutes <= 0 {
		c.WindowMinutes = d.WindowMinutes
	}
	if c.MinDataPoints <= 0 {
		c.MinDataPoints = d.MinDataPoints
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	return c
}

// Prediction is one extrapolation result for a single memory series.
type Prediction struct {
	Trend            string   `json:"trend"`
	CurrentPercent   float64  `json:"current_percent"`
	GrowthRatePerMin float64  `json:"growth_rate_per_min"`
	MinutesUntilFull *float64 `json:"minutes_until_full,omitempty"`
	Confidence       float64  `json:"confidence"`
	RSquared         float64  `json:"r_squared"`
	Severity         string   `json:"severity"`
}

// GPUPrediction pairs a prediction with its GPU index.
type GPUPrediction struct {
	Index int `json:"index"`
	Prediction
}

// Report is the full /predictions/oom payload.
type Report struct {
	RAM                   Prediction      `json:"ram"`
	GPU                   []GPUPrediction `json:"gpu"`
	DataPoints            int             `json:"data_points"`
	MinDataPointsRequired int             `json:"min_data_points_required"`
}

// Predictor runs linear extrapolation over the history ring.
type Predictor struct {
	cfg     Config
	history HistorySource
}

// New builds a Predictor over the given history.
func New(cfg Config, history HistorySource) *Predictor {
	return &Predictor{cfg: cfg.withDefaults(), history: history}
}

// Predict regresses RAM and every GPU present in the latest snapshot
// over the configured window.
func (p *Predictor) Predict() Report {
	window := p.history.FullHistory(p.cfg.WindowMinutes)

	report := Report{
		DataPoints:            len(window),
		MinDataPointsRequired: p.cfg.MinDataPoints,
		GPU:                   []GPUPrediction{},
	}

	ramSeries := make([]point, 0, len(window))
	for _, s := range window {
		ramSeries = append(ramSeries, point{t: s.Epoch, v: s.Memory.Percent})
	}
	report.RAM = p.predictSeries(ramSeries)

	latest := p.history.Latest()
	if latest == nil {
		return report
	}
	for _, gpu := range latest.GPUs {
		series := make([]point, 0, len(window))
		for _, s := range window {
			for _, g := range s.GPUs {
				if g.Index == gpu.Index {
					series = append(series, point{t: s.Epoch, v: g.MemoryPercent})
					break
				}
			}
		}
		report.GPU = append(report.GPU, GPUPrediction{
			Index:      gpu.Index,
			Prediction: p.predictSeries(series),
		})
	}
	return report
}

type point struct{ t, v float64 }

// predictSeries runs ordinary least squares over one series and
// classifies the result per the thresholds in Config.
func (p *Predictor) predictSeries(series []point) Prediction {
	if len(series) < p.cfg.MinDataPoints {
		return Prediction{Trend: TrendInsufficient}
	}

	current := series[len(series)-1].v
	slope, _, r2 := linearFit(series)

	pred := Prediction{
		CurrentPercent:   current,
		GrowthRatePerMin: slope * 60,
		RSquared:         r2,
		Confidence:       r2 * 100 * math.Min(1, float64(len(series))/60),
	}

	switch {
	case slope > slopeEpsilon:
		pred.Trend = TrendIncreasing
	case slope < -slopeEpsilon:
		pred.Trend = TrendDecreasing
	default:
		pred.Trend = TrendStable
	}

	if pred.Trend != TrendIncreasing {
		pred.Severity = SeverityOK
		return pred
	}

	minutes := (100 - current) / slope / 60
	if minutes < 0 {
		minutes = 0
	}
	pred.MinutesUntilFull = &minutes

	switch {
	case pred.Confidence < p.cfg.ConfidenceThreshold:
		pred.Severity = SeverityLowConfidence
	case minutes <= 5:
		pred.Severity = SeverityCritical
	case minutes <= 15:
		pred.Severity = SeverityWarning
	default:
		pred.Severity = SeverityInfo
	}
	return pred
}

// linearFit computes OLS slope, intercept, and R^2 (clamped to [0,1];
// zero when the time variance is zero) with time reparameterized as
// seconds since the first point.
func linearFit(series []point) (slope, intercept, r2 float64) {
	n := float64(len(series))
	t0 := series[0].t

	var sumX, sumY float64
	for _, pt := range series {
		sumX += pt.t - t0
		sumY += pt.v
	}
	meanX := sumX / n
	meanY := sumY / n

	var ssXX, ssXY, ssYY float64
	for _, pt := range series {
		dx := (pt.t - t0) - meanX
		dy := pt.v - meanY
		ssXX += dx * dx
		ssXY += dx * dy
		ssYY += dy * dy
	}
	if ssXX == 0 {
		return 0, meanY, 0
	}
	slope = ssXY / ssXX
	intercept = meanY - slope*meanX

	if ssYY == 0 {
		// Perfectly flat series: the fit explains nothing because
		// there is nothing to explain.
		return slope, intercept, 0
	}
	r2 = (ssXY * ssXY) / (ssXX * ssYY)
	if r2 < 0 {
		r2 = 0
	}
	if r2 > 1 {
		r2 = 1
	}
	return slope, intercept, r2
}
