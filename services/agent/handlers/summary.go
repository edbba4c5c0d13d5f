// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetSummary composes the one-call dashboard payload: current
// resources, active alerts, tasks, LLM spend and the combined health
// score.
func GetSummary(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := gin.H{
			"machine":  svc.Machine,
			"platform": svc.Platform.Name,
		}

		if snap := svc.History.Latest(); snap != nil {
			out["cpu_percent"] = snap.CPU.Percent
			out["memory_percent"] = snap.Memory.Percent
			out["disk_percent"] = snap.Disk.Percent
			if len(snap.GPUs) > 0 {
				out["gpus"] = snap.GPUs
			}
		}

		active := svc.Alerts.ActiveAlerts()
		out["active_alerts"] = len(active)
		if len(active) > 0 {
			out["worst_alert"] = active[0]
		}

		set := svc.Tasks.Tasks()
		out["tasks_active"] = len(set.Active)
		out["tasks_stalled"] = len(set.Stalled)

		usage := svc.LLM.Summary()
		out["llm_calls"] = usage.TotalCalls
		out["llm_cost_usd"] = usage.TotalCostUSD

		health := svc.Health.Combined()
		out["health_score"] = health.Score
		out["health_rating"] = health.Rating

		c.JSON(http.StatusOK, out)
	}
}

// GetRecommendations distills the machine state into a short list of
// actionable lines, worst problems first.
func GetRecommendations(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs := buildRecommendations(svc)
		c.JSON(http.StatusOK, gin.H{"recommendations": recs, "count": len(recs)})
	}
}

func buildRecommendations(svc *Services) []string {
	var recs []string

	for _, a := range svc.Alerts.ActiveAlerts() {
		recs = append(recs, fmt.Sprintf("[%s] %s", a.Severity, a.Message))
	}

	report := svc.Predictor.Predict()
	if report.RAM.MinutesUntilFull != nil && *report.RAM.MinutesUntilFull < 30 {
		recs = append(recs, fmt.Sprintf(
			"Memory is on track to fill in ~%.0f minutes; consider freeing RAM or checkpointing.",
			*report.RAM.MinutesUntilFull))
	}
	for _, g := range report.GPU {
		if g.MinutesUntilFull != nil && *g.MinutesUntilFull < 30 {
			recs = append(recs, fmt.Sprintf(
				"GPU %d memory is on track to fill in ~%.0f minutes.", g.Index, *g.MinutesUntilFull))
		}
	}

	if stalled := svc.Tasks.Tasks().Stalled; len(stalled) > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d task(s) have stopped reporting progress; check whether they hung.", len(stalled)))
	}

	health := svc.Health.Combined()
	if health.Score < 70 && health.Recommendation != "" {
		recs = append(recs, health.Recommendation)
	}

	if len(recs) == 0 {
		recs = append(recs, "Everything looks healthy.")
	}
	return recs
}

// chatRequest is the body of POST /chat.
type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

// PostChat answers simple natural-language questions about the
// machine by keyword intent. It is deliberately not an LLM call:
// the answer must work offline and cost nothing.
func PostChat(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorBody(c, http.StatusBadRequest, "message is required", err.Error())
			return
		}

		intent, answer, data := answerChat(svc, strings.ToLower(req.Message))
		c.JSON(http.StatusOK, gin.H{
			"intent": intent,
			"answer": answer,
			"data":   data,
		})
	}
}

func answerChat(svc *Services, msg string) (intent, answer string, data any) {
	contains := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(msg, w) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("memory", "ram", "oom"):
		report := svc.Predictor.Predict()
		snap := svc.History.Latest()
		pct := 0.0
		if snap != nil {
			pct = snap.Memory.Percent
		}
		answer = fmt.Sprintf("Memory is at %.1f%% and trending %s.", pct, report.RAM.Trend)
		if report.RAM.MinutesUntilFull != nil {
			answer += fmt.Sprintf(" At the current rate it fills in ~%.0f minutes.", *report.RAM.MinutesUntilFull)
		}
		return "memory", answer, report.RAM

	case contains("gpu", "vram", "cuda"):
		snap := svc.History.Latest()
		if snap == nil || len(snap.GPUs) == 0 {
			return "gpu", "No GPU metrics are available on this machine.", nil
		}
		g := snap.GPUs[0]
		return "gpu", fmt.Sprintf("GPU %s: %.1f%% memory, %.1f%% utilization, %.0f°C.",
			g.Name, g.MemoryPercent, g.Utilization, g.Temperature), snap.GPUs

	case contains("cost", "spend", "token", "usage"):
		usage := svc.LLM.Summary()
		return "cost", fmt.Sprintf("This session: %d LLM calls, %d tokens, $%.4f.",
			usage.TotalCalls, usage.TotalTokens, usage.TotalCostUSD), usage

	case contains("task", "training", "progress", "eta"):
		set := svc.Tasks.Tasks()
		return "tasks", fmt.Sprintf("%d active, %d stalled, %d completed task(s).",
			len(set.Active), len(set.Stalled), len(set.Completed)), set

	case contains("health", "score", "doing"):
		health := svc.Health.Combined()
		answer = fmt.Sprintf("Health is %s (%.1f/100).", health.Rating, health.Score)
		if health.Recommendation != "" {
			answer += " " + health.Recommendation
		}
		return "health", answer, health

	case contains("alert", "warning", "problem", "wrong"):
		active := svc.Alerts.ActiveAlerts()
		if len(active) == 0 {
			return "alerts", "No active alerts.", nil
		}
		return "alerts", fmt.Sprintf("%d active alert(s); worst: %s", len(active), active[0].Message), active
	}

	return "help", "Ask me about memory, GPU, cost, tasks, health or alerts.", nil
}
