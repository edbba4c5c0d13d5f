// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

// ListTasks returns pushed tasks grouped by status plus auto-detected
// training processes.
func ListTasks(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		set := svc.Tasks.Tasks()
		detected := []datatypes.DetectedProcess{}
		if svc.Detector != nil {
			detected = svc.Detector.DetectedTasks()
		}
		c.JSON(http.StatusOK, gin.H{
			"active":    set.Active,
			"completed": set.Completed,
			"stalled":   set.Stalled,
			"total":     set.Total,
			"detected":  detected,
		})
	}
}

// PushTask creates or updates a task keyed by name.
func PushTask(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var push datatypes.TaskPush
		if err := c.ShouldBindJSON(&push); err != nil {
			errorBody(c, http.StatusBadRequest, "invalid task push", err.Error())
			return
		}
		if err := push.Validate(); err != nil {
			errorBody(c, http.StatusBadRequest, "invalid task push", err.Error())
			return
		}

		task := svc.Tasks.UpsertExternal(push.Name, push.Current, push.Total, push.PID)
		slog.Debug("task push", "task_id", task.TaskID, "name", task.Name, "current", task.Current)
		c.JSON(http.StatusOK, task)
	}
}

// GetTask returns one task by id.
func GetTask(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		task, ok := svc.Tasks.Task(id)
		if !ok {
			errorBody(c, http.StatusNotFound, "task not found", id)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// DismissDetected marks an auto-detected training process finished so
// the UI stops surfacing it.
func DismissDetected(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("pid")
		pid, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || pid <= 0 {
			errorBody(c, http.StatusBadRequest, "invalid pid", raw)
			return
		}
		if !svc.Detector.MarkFinished(int32(pid)) {
			errorBody(c, http.StatusNotFound, "no detected task for pid", raw)
			return
		}
		c.JSON(http.StatusOK, gin.H{"dismissed": pid})
	}
}
