// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the agent's HTTP surface. Handlers are
// thin: they parse, call one singleton method, and marshal. Errors are
// {error, detail?} bodies with an appropriate status code.
package handlers

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/bannin/services/agent/alerts"
	"github.com/jinterlante1206/bannin/services/agent/analytics"
	"github.com/jinterlante1206/bannin/services/agent/collect"
	"github.com/jinterlante1206/bannin/services/agent/history"
	"github.com/jinterlante1206/bannin/services/agent/llmtrack"
	"github.com/jinterlante1206/bannin/services/agent/mcpsession"
	"github.com/jinterlante1206/bannin/services/agent/observability"
	"github.com/jinterlante1206/bannin/services/agent/ollamamon"
	"github.com/jinterlante1206/bannin/services/agent/platform"
	"github.com/jinterlante1206/bannin/services/agent/predict"
	"github.com/jinterlante1206/bannin/services/agent/progress"
)

// Services is the dependency bundle handlers read from. Every field is
// a long-lived singleton owned by the agent; handlers never construct
// or stop them.
type Services struct {
	Machine   string
	Version   string
	Platform  platform.Info
	StartedAt time.Time

	History   *history.History
	Scanner   *collect.ProcessScanner
	Alerts    *alerts.Engine
	Predictor *predict.Predictor
	Tasks     *progress.Tracker
	Detector  *progress.Detector
	LLM       *llmtrack.Tracker
	Health    *llmtrack.Aggregator
	MCP       *mcpsession.Tracker
	Ollama    *ollamamon.Monitor
	Pipeline  *analytics.Pipeline
	Store     *analytics.Store
	Broker    *EventBroker
	Metrics   *observability.AgentMetrics // may be nil
	Actions   *TokenStore
}

// errorBody writes the standard error shape.
func errorBody(c *gin.Context, status int, msg string, detail ...string) {
	body := gin.H{"error": msg}
	if len(detail) > 0 && detail[0] != "" {
		body["detail"] = detail[0]
	}
	c.JSON(status, body)
}

// intQuery parses an integer query parameter with a default.
func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// relativePattern matches the NNs/NNm/NNh/NNd/NNw shorthand.
var relativePattern = regexp.MustCompile(`^(\d+)([smhdw])$`)

// epoch2020 is the floor for bare epoch values; anything earlier is
// a malformed relative duration, not a real timestamp.
const epoch2020 = 1577836800

// parseSince turns a time-filter string into epoch seconds. Accepts
// the relative forms 30s/5m/2h/7d/1w and bare epochs from 2020 on.
func parseSince(raw string, now time.Time) (float64, error) {
	if m := relativePattern.FindStringSubmatch(raw); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad duration %q", raw)
		}
		var unit time.Duration
		switch m[2] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		case "w":
			unit = 7 * 24 * time.Hour
		}
		return float64(now.Add(-time.Duration(n) * unit).Unix()), nil
	}

	epoch, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("time filter %q is neither a duration (30s, 5m, 2h, 7d, 1w) nor an epoch", raw)
	}
	if epoch < epoch2020 {
		return 0, fmt.Errorf("epoch %q predates 2020; refusing as probably malformed", raw)
	}
	return epoch, nil
}
