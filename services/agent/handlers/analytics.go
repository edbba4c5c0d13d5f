// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/bannin/services/agent/analytics"
)

// GetAnalyticsStats returns event-table totals plus the live pipeline
// counters.
func GetAnalyticsStats(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := svc.Store.Stats()
		if err != nil {
			errorBody(c, http.StatusInternalServerError, "stats query failed", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"store":          stats,
			"queue_depth":    svc.Pipeline.QueueDepth(),
			"events_dropped": svc.Pipeline.Dropped(),
		})
	}
}

// GetEvents queries the event store with optional filters.
func GetEvents(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := analytics.Filter{
			Type:     c.Query("type"),
			Severity: c.Query("severity"),
			Source:   c.Query("source"),
			Limit:    intQuery(c, "limit", 100),
			Offset:   intQuery(c, "offset", 0),
		}
		if raw := c.Query("since"); raw != "" {
			since, err := parseSince(raw, time.Now())
			if err != nil {
				errorBody(c, http.StatusBadRequest, "invalid since", err.Error())
				return
			}
			f.Since = since
		}
		if raw := c.Query("until"); raw != "" {
			until, err := parseSince(raw, time.Now())
			if err != nil {
				errorBody(c, http.StatusBadRequest, "invalid until", err.Error())
				return
			}
			f.Until = until
		}

		events, err := svc.Store.Query(f)
		if err != nil {
			errorBody(c, http.StatusInternalServerError, "event query failed", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
	}
}

// SearchEvents runs full-text search over event messages.
func SearchEvents(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := strings.TrimSpace(c.Query("q"))
		if q == "" {
			errorBody(c, http.StatusBadRequest, "q query parameter is required")
			return
		}
		limit := intQuery(c, "limit", 50)
		events, err := svc.Store.Search(q, limit)
		if err != nil {
			errorBody(c, http.StatusInternalServerError, "search failed", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"query": q, "events": events, "count": len(events)})
	}
}

// GetTimeline returns notable events over a window, oldest first,
// suited to a dashboard strip.
func GetTimeline(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		since, err := parseSince(c.DefaultQuery("since", "1h"), time.Now())
		if err != nil {
			errorBody(c, http.StatusBadRequest, "invalid since", err.Error())
			return
		}
		limit := intQuery(c, "limit", 100)

		var types []string
		if raw := c.Query("types"); raw != "" {
			for _, t := range strings.Split(raw, ",") {
				if t = strings.TrimSpace(t); t != "" {
					types = append(types, t)
				}
			}
		}

		events, err := svc.Store.Timeline(since, limit, types)
		if err != nil {
			errorBody(c, http.StatusInternalServerError, "timeline query failed", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
	}
}

// GetCostTrend sums LLM spend per calendar day.
func GetCostTrend(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := intQuery(c, "days", 7)
		trend, err := svc.Store.CostTrend(days)
		if err != nil {
			errorBody(c, http.StatusInternalServerError, "cost trend failed", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"days": days, "trend": trend})
	}
}
