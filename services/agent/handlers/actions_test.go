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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_SingleUse(t *testing.T) {
	ts := NewTokenStore()
	tok, err := ts.Issue("kill", "123")
	require.NoError(t, err)

	assert.False(t, ts.Redeem(tok, "kill", "456"), "wrong target")
	assert.False(t, ts.Redeem(tok, "kill", "123"), "token was consumed by the mismatch")

	tok, err = ts.Issue("kill", "123")
	require.NoError(t, err)
	assert.True(t, ts.Redeem(tok, "kill", "123"))
	assert.False(t, ts.Redeem(tok, "kill", "123"), "second redeem must fail")
}

func TestTokenStore_TTL(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ts := NewTokenStore()
	ts.now = func() time.Time { return now }

	tok, err := ts.Issue("kill", "123")
	require.NoError(t, err)

	now = now.Add(61 * time.Second)
	assert.False(t, ts.Redeem(tok, "kill", "123"), "expired")
}

func TestTokenStore_CapWithExpirySweep(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ts := NewTokenStore()
	ts.now = func() time.Time { return now }

	for i := 0; i < tokenCap; i++ {
		_, err := ts.Issue("kill", fmt.Sprintf("%d", i))
		require.NoError(t, err)
	}
	_, err := ts.Issue("kill", "overflow")
	assert.ErrorIs(t, err, ErrTokenSaturated)

	// Expired entries free capacity on the next issue.
	now = now.Add(61 * time.Second)
	_, err = ts.Issue("kill", "after-sweep")
	assert.NoError(t, err)
	assert.Equal(t, 1, ts.Pending())
}

func TestPrepareKill_Errors(t *testing.T) {
	svc := newTestServices(t)

	w, _ := doJSON(t, PrepareKill(svc), http.MethodPost, "/processes/abc/kill/prepare", nil,
		gin.Param{Key: "pid", Value: "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, PrepareKill(svc), http.MethodPost, "/processes/999999999/kill/prepare", nil,
		gin.Param{Key: "pid", Value: "999999999"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrepareKill_IssuesToken(t *testing.T) {
	svc := newTestServices(t)
	pid := fmt.Sprintf("%d", os.Getpid())

	w, out := doJSON(t, PrepareKill(svc), http.MethodPost, "/processes/"+pid+"/kill/prepare", nil,
		gin.Param{Key: "pid", Value: pid})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, out["token"])
	assert.InDelta(t, 60, out["expires_in_seconds"], 0.001)
}

func TestExecuteKill_RejectsBadToken(t *testing.T) {
	svc := newTestServices(t)
	pid := fmt.Sprintf("%d", os.Getpid())

	w, out := doJSON(t, ExecuteKill(svc), http.MethodPost, "/processes/"+pid+"/kill",
		map[string]any{"token": "nope"},
		gin.Param{Key: "pid", Value: pid})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, out["error"], "token")

	w, _ = doJSON(t, ExecuteKill(svc), http.MethodPost, "/processes/"+pid+"/kill",
		map[string]any{},
		gin.Param{Key: "pid", Value: pid})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteKill_TokenBoundToPID(t *testing.T) {
	svc := newTestServices(t)
	tok, err := svc.Actions.Issue("kill", "111")
	require.NoError(t, err)

	// Redeeming against another PID fails before any signal is sent.
	w, _ := doJSON(t, ExecuteKill(svc), http.MethodPost, "/processes/222/kill",
		map[string]any{"token": tok},
		gin.Param{Key: "pid", Value: "222"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPrepareAction_Validation(t *testing.T) {
	svc := newTestServices(t)

	w, _ := doJSON(t, PrepareAction(svc), http.MethodPost, "/actions/prepare",
		map[string]any{"action": "format_disk", "target": "/"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, PrepareAction(svc), http.MethodPost, "/actions/prepare",
		map[string]any{"action": ActionCleanupCache, "target": "/etc"})
	assert.Equal(t, http.StatusForbidden, w.Code, "outside home and temp")
}

func TestExecuteAction_DismissTask(t *testing.T) {
	svc := newTestServices(t)
	task := svc.Tasks.UpsertExternal("train", 5, nil, nil)

	tok, err := svc.Actions.Issue(ActionDismiss, task.TaskID)
	require.NoError(t, err)

	w, out := doJSON(t, ExecuteAction(svc), http.MethodPost, "/actions/execute",
		map[string]any{"token": tok, "action": ActionDismiss, "target": task.TaskID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, task.TaskID, out["dismissed"])

	got, ok := svc.Tasks.Task(task.TaskID)
	require.True(t, ok)
	assert.Equal(t, "completed", got.Status)
}

func TestExecuteAction_CleanupCache(t *testing.T) {
	svc := newTestServices(t)

	dir := filepath.Join(t.TempDir(), "__pycache__")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pyc"), []byte("0123456789"), 0o644))

	tok, err := svc.Actions.Issue(ActionCleanupCache, dir)
	require.NoError(t, err)

	w, out := doJSON(t, ExecuteAction(svc), http.MethodPost, "/actions/execute",
		map[string]any{"token": tok, "action": ActionCleanupCache, "target": dir})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 1, out["entries_removed"], 0.001)
	assert.InDelta(t, 10, out["freed_bytes"], 0.001)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "directory survives empty")
}

func TestFenceCachePath(t *testing.T) {
	base := t.TempDir()
	cache := filepath.Join(base, ".cache")
	require.NoError(t, os.MkdirAll(cache, 0o755))

	got, err := fenceCachePath(cache)
	require.NoError(t, err)
	assert.Equal(t, cache, got)

	_, err = fenceCachePath("")
	assert.Error(t, err)
	_, err = fenceCachePath("relative/.cache")
	assert.Error(t, err, "not absolute")
	_, err = fenceCachePath(filepath.Join(base, "missing"))
	assert.Error(t, err, "does not exist")

	plain := filepath.Join(base, "data")
	require.NoError(t, os.MkdirAll(plain, 0o755))
	_, err = fenceCachePath(plain)
	assert.Error(t, err, "not a recognized cache directory")

	link := filepath.Join(base, "pip")
	require.NoError(t, os.Symlink(cache, link))
	_, err = fenceCachePath(link)
	assert.Error(t, err, "symlink rejected")
}

func TestGetDiskCleanup(t *testing.T) {
	svc := newTestServices(t)
	w, out := doJSON(t, GetDiskCleanup(svc), http.MethodGet, "/disk/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, out, "candidates")
	assert.Contains(t, out, "reclaimable_bytes")
}
