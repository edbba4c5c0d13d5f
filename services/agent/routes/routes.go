// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires every HTTP endpoint to its handler.
package routes

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinterlante1206/bannin/services/agent/handlers"
)

// SetupRoutes registers the full API on the router.
func SetupRoutes(router *gin.Engine, svc *handlers.Services) {
	router.Use(requestMetrics(svc))

	router.GET("/health", handlers.HealthCheck())
	router.GET("/status", handlers.GetStatus(svc))
	router.GET("/metrics", handlers.GetMetrics(svc))
	router.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))
	router.GET("/processes", handlers.GetProcesses(svc))
	router.GET("/predictions/oom", handlers.GetOOMPrediction(svc))
	router.GET("/history/memory", handlers.GetMemoryHistory(svc))

	router.GET("/alerts", handlers.GetAlerts(svc))
	router.GET("/alerts/active", handlers.GetActiveAlerts(svc))

	router.GET("/tasks", handlers.ListTasks(svc))
	router.POST("/tasks", handlers.PushTask(svc))
	router.GET("/tasks/:id", handlers.GetTask(svc))
	router.POST("/tasks/detected/:pid/dismiss", handlers.DismissDetected(svc))

	router.GET("/summary", handlers.GetSummary(svc))
	router.GET("/recommendations", handlers.GetRecommendations(svc))
	router.POST("/chat", handlers.PostChat(svc))

	llm := router.Group("/llm")
	{
		llm.GET("/usage", handlers.GetLLMUsage(svc))
		llm.GET("/calls", handlers.GetLLMCalls(svc))
		llm.GET("/context", handlers.GetLLMContext(svc))
		llm.GET("/latency", handlers.GetLLMLatency(svc))
		llm.GET("/health", handlers.GetLLMHealth(svc))
		llm.GET("/connections", handlers.GetLLMConnections(svc))
	}

	router.POST("/mcp/session", handlers.PushMCPSession(svc))
	router.GET("/mcp/sessions", handlers.ListMCPSessions(svc))
	router.GET("/ollama", handlers.GetOllama(svc))

	analytics := router.Group("/analytics")
	{
		analytics.GET("/stats", handlers.GetAnalyticsStats(svc))
		analytics.GET("/events", handlers.GetEvents(svc))
		analytics.GET("/search", handlers.SearchEvents(svc))
		analytics.GET("/timeline", handlers.GetTimeline(svc))
		analytics.GET("/cost", handlers.GetCostTrend(svc))
	}

	router.POST("/processes/:pid/kill/prepare", handlers.PrepareKill(svc))
	router.POST("/processes/:pid/kill", handlers.ExecuteKill(svc))
	router.POST("/actions/prepare", handlers.PrepareAction(svc))
	router.POST("/actions/execute", handlers.ExecuteAction(svc))
	router.GET("/disk/cleanup", handlers.GetDiskCleanup(svc))

	router.GET("/events/stream", handlers.StreamEvents(svc))
}

// requestMetrics counts every request by method and status.
func requestMetrics(svc *handlers.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if svc.Metrics == nil {
			return
		}
		svc.Metrics.HTTPRequestsTotal.
			WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
