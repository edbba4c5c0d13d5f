// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
	"github.com/jinterlante1206/bannin/services/agent/llmtrack"
)

// GetLLMUsage returns the session cost/token summary.
func GetLLMUsage(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.LLM.Summary())
	}
}

// GetLLMCalls returns recent calls, newest first.
func GetLLMCalls(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 50)
		if limit <= 0 {
			limit = 50
		}
		calls := svc.LLM.Calls(limit)
		c.JSON(http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
	}
}

// GetLLMContext estimates context-window fill for a model at a given
// prompt size.
func GetLLMContext(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		model := c.Query("model")
		if model == "" {
			errorBody(c, http.StatusBadRequest, "model query parameter is required")
			return
		}
		tokens, err := strconv.ParseInt(c.DefaultQuery("tokens", "0"), 10, 64)
		if err != nil || tokens < 0 {
			errorBody(c, http.StatusBadRequest, "tokens must be a non-negative integer")
			return
		}
		c.JSON(http.StatusOK, svc.LLM.ContextUsage(model, tokens))
	}
}

// GetLLMLatency compares recent latencies against earlier ones.
func GetLLMLatency(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		model := c.Query("model")
		lastN := intQuery(c, "last_n", 20)
		c.JSON(http.StatusOK, svc.LLM.LatencyTrend(model, lastN))
	}
}

// GetLLMHealth returns the health score for one signal family or the
// combined worst-of view (the default).
func GetLLMHealth(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.DefaultQuery("source", "combined")
		switch source {
		case "combined":
			c.JSON(http.StatusOK, svc.Health.Combined())
		case "api":
			c.JSON(http.StatusOK, singleOrBaseline(svc.Health.API))
		case "ollama":
			c.JSON(http.StatusOK, singleOrBaseline(svc.Health.Ollama))
		case "mcp":
			var reports []datatypes.HealthReport
			if svc.Health.MCP != nil {
				reports = svc.Health.MCP()
			}
			c.JSON(http.StatusOK, gin.H{"sessions": reports, "count": len(reports)})
		default:
			errorBody(c, http.StatusBadRequest,
				"unknown source", "expected api, mcp, ollama or combined")
		}
	}
}

func singleOrBaseline(get func() *datatypes.HealthReport) datatypes.HealthReport {
	if get != nil {
		if r := get(); r != nil {
			return *r
		}
	}
	return llmtrack.ScoreHealth(nil, llmtrack.HealthInputs{})
}

// GetLLMConnections summarizes which signal families are currently
// feeding the tracker.
func GetLLMConnections(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary := svc.LLM.Summary()
		providers := make([]string, 0, len(summary.ByProvider))
		for p := range summary.ByProvider {
			providers = append(providers, p)
		}

		mcpCount := 0
		if svc.MCP != nil {
			mcpCount = len(svc.MCP.Sessions())
		}
		ollamaUp := false
		if svc.Ollama != nil {
			ollamaUp = svc.Ollama.Status().Available
		}
		c.JSON(http.StatusOK, gin.H{
			"api_providers":    providers,
			"api_calls":        summary.TotalCalls,
			"mcp_sessions":     mcpCount,
			"ollama_available": ollamaUp,
		})
	}
}

// PushMCPSession records one tool call against an MCP session.
func PushMCPSession(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var push datatypes.MCPSessionPush
		if err := c.ShouldBindJSON(&push); err != nil {
			errorBody(c, http.StatusBadRequest, "invalid session push", err.Error())
			return
		}
		if err := push.Validate(); err != nil {
			errorBody(c, http.StatusBadRequest, "invalid session push", err.Error())
			return
		}
		svc.MCP.Push(push)
		c.JSON(http.StatusOK, gin.H{"recorded": true})
	}
}

// ListMCPSessions returns all live session snapshots.
func ListMCPSessions(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := svc.MCP.Sessions()
		c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
	}
}

// GetOllama returns the cached daemon status; reads never touch the
// network.
func GetOllama(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Ollama.Status())
	}
}
