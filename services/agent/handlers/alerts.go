// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetAlerts returns recent alert firings, newest first.
func GetAlerts(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", 50)
		if limit <= 0 {
			limit = 50
		}
		fired := svc.Alerts.Alerts(limit)
		c.JSON(http.StatusOK, gin.H{
			"alerts": fired,
			"count":  len(fired),
			"total":  svc.Alerts.AlertCount(),
		})
	}
}

// GetActiveAlerts returns alerts whose condition currently holds.
func GetActiveAlerts(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		active := svc.Alerts.ActiveAlerts()
		c.JSON(http.StatusOK, gin.H{
			"alerts": active,
			"count":  len(active),
		})
	}
}
