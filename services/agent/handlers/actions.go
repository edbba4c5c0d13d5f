// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jinterlante1206/bannin/services/agent/collect"
)

const (
	tokenTTL = 60 * time.Second
	tokenCap = 200

	killGrace = 3 * time.Second
)

// ErrTokenSaturated means the store holds its maximum of pending
// confirmations; the caller should retry after some expire.
var ErrTokenSaturated = errors.New("too many pending confirmations")

type tokenEntry struct {
	action  string
	target  string
	expires time.Time
}

// TokenStore issues single-use confirmation tokens for destructive
// actions. Every token is bound to one action+target pair and expires
// after a minute.
type TokenStore struct {
	mu      sync.Mutex
	entries map[string]tokenEntry
	now     func() time.Time
}

// NewTokenStore builds an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{entries: make(map[string]tokenEntry), now: time.Now}
}

// Issue mints a token for the action+target pair. Returns
// ErrTokenSaturated at the cap, after sweeping expired entries.
func (ts *TokenStore) Issue(action, target string) (string, error) {
	now := ts.now()
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for tok, e := range ts.entries {
		if now.After(e.expires) {
			delete(ts.entries, tok)
		}
	}
	if len(ts.entries) >= tokenCap {
		return "", ErrTokenSaturated
	}

	tok := uuid.NewString()
	ts.entries[tok] = tokenEntry{action: action, target: target, expires: now.Add(tokenTTL)}
	return tok, nil
}

// Redeem consumes a token. Returns false when the token is unknown,
// expired, or bound to a different action or target. A redeemed token
// is gone either way.
func (ts *TokenStore) Redeem(token, action, target string) bool {
	now := ts.now()
	ts.mu.Lock()
	defer ts.mu.Unlock()

	e, ok := ts.entries[token]
	if !ok {
		return false
	}
	delete(ts.entries, token)
	return !now.After(e.expires) && e.action == action && e.target == target
}

// Pending reports the number of live tokens.
func (ts *TokenStore) Pending() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.entries)
}

// PrepareKill validates the PID and mints a confirmation token.
func PrepareKill(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, ok := parsePID(c)
		if !ok {
			return
		}
		p, err := process.NewProcess(pid)
		if err != nil {
			errorBody(c, http.StatusNotFound, "process not found", c.Param("pid"))
			return
		}
		name, _ := p.Name()

		token, err := svc.Actions.Issue("kill", c.Param("pid"))
		if err != nil {
			errorBody(c, http.StatusTooManyRequests, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":              token,
			"expires_in_seconds": int(tokenTTL.Seconds()),
			"pid":                pid,
			"name":               name,
		})
	}
}

// ExecuteKill redeems the token and terminates the process: SIGTERM,
// a grace window, then SIGKILL. A failed kill leaves the process
// untouched from the caller's perspective and reports the reason.
func ExecuteKill(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, ok := parsePID(c)
		if !ok {
			return
		}
		var body struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			errorBody(c, http.StatusBadRequest, "token is required", err.Error())
			return
		}
		if !svc.Actions.Redeem(body.Token, "kill", c.Param("pid")) {
			errorBody(c, http.StatusForbidden, "invalid or expired confirmation token")
			return
		}

		if err := gracefulKill(pid, killGrace); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, os.ErrPermission):
				status = http.StatusForbidden
			case errors.Is(err, process.ErrorProcessNotRunning):
				status = http.StatusNotFound
			}
			errorBody(c, status, "kill failed", err.Error())
			return
		}
		slog.Info("process killed via api", "pid", pid)
		c.JSON(http.StatusOK, gin.H{"killed": pid})
	}
}

// gracefulKill asks the process to exit and escalates after the grace
// window.
func gracefulKill(pid int32, grace time.Duration) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d: %w", pid, process.ErrorProcessNotRunning)
	}
	if err := p.Terminate(); err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if running, err := p.IsRunning(); err != nil || !running {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := p.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

func parsePID(c *gin.Context) (int32, bool) {
	raw := c.Param("pid")
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n <= 0 {
		errorBody(c, http.StatusBadRequest, "invalid pid", raw)
		return 0, false
	}
	return int32(n), true
}

// Generic action verbs.
const (
	ActionKillGroup    = "kill_group"
	ActionCleanupCache = "cleanup_cache"
	ActionDismiss      = "dismiss"
)

type actionRequest struct {
	Action string `json:"action" binding:"required"`
	Target string `json:"target" binding:"required"`
}

func validAction(a string) bool {
	return a == ActionKillGroup || a == ActionCleanupCache || a == ActionDismiss
}

// PrepareAction mints a token for a named action. cleanup_cache
// targets are fenced before a token is ever issued.
func PrepareAction(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req actionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorBody(c, http.StatusBadRequest, "action and target are required", err.Error())
			return
		}
		if !validAction(req.Action) {
			errorBody(c, http.StatusBadRequest, "unknown action", req.Action)
			return
		}
		if req.Action == ActionCleanupCache {
			if _, err := fenceCachePath(req.Target); err != nil {
				errorBody(c, http.StatusForbidden, "target rejected", err.Error())
				return
			}
		}

		token, err := svc.Actions.Issue(req.Action, req.Target)
		if err != nil {
			errorBody(c, http.StatusTooManyRequests, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":              token,
			"expires_in_seconds": int(tokenTTL.Seconds()),
			"action":             req.Action,
			"target":             req.Target,
		})
	}
}

// ExecuteAction redeems the token and dispatches the verb.
func ExecuteAction(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			actionRequest
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			errorBody(c, http.StatusBadRequest, "token, action and target are required", err.Error())
			return
		}
		if !svc.Actions.Redeem(req.Token, req.Action, req.Target) {
			errorBody(c, http.StatusForbidden, "invalid or expired confirmation token")
			return
		}

		switch req.Action {
		case ActionKillGroup:
			executeKillGroup(c, svc, req.Target)
		case ActionCleanupCache:
			executeCleanupCache(c, req.Target)
		case ActionDismiss:
			executeDismiss(c, svc, req.Target)
		default:
			errorBody(c, http.StatusBadRequest, "unknown action", req.Action)
		}
	}
}

// executeKillGroup terminates every PID in the named process group.
func executeKillGroup(c *gin.Context, svc *Services, group string) {
	groups := collect.GroupByApp(svc.Scanner.Scan(), 0)
	var target *collect.ProcessGroup
	for i := range groups {
		if groups[i].Name == group {
			target = &groups[i]
			break
		}
	}
	if target == nil {
		errorBody(c, http.StatusNotFound, "process group not found", group)
		return
	}

	killed := make([]int32, 0, len(target.PIDs))
	failed := map[string]string{}
	for _, pid := range target.PIDs {
		if err := gracefulKill(pid, killGrace); err != nil {
			failed[strconv.Itoa(int(pid))] = err.Error()
			continue
		}
		killed = append(killed, pid)
	}
	slog.Info("process group kill", "group", group, "killed", len(killed), "failed", len(failed))
	c.JSON(http.StatusOK, gin.H{"group": group, "killed": killed, "failed": failed})
}

// executeCleanupCache deletes the contents of a fenced cache directory.
// The directory itself survives.
func executeCleanupCache(c *gin.Context, target string) {
	dir, err := fenceCachePath(target)
	if err != nil {
		errorBody(c, http.StatusForbidden, "target rejected", err.Error())
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		errorBody(c, http.StatusInternalServerError, "cleanup failed", err.Error())
		return
	}

	var freed int64
	var removed int
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		freed += dirSize(full)
		if err := os.RemoveAll(full); err != nil {
			slog.Warn("cache cleanup skipped entry", "path", full, "error", err)
			continue
		}
		removed++
	}
	slog.Info("cache cleaned", "path", dir, "entries", removed, "freed_bytes", freed)
	c.JSON(http.StatusOK, gin.H{"path": dir, "entries_removed": removed, "freed_bytes": freed})
}

// executeDismiss clears a pushed task by id or a detected process via
// the pid_<N> convention.
func executeDismiss(c *gin.Context, svc *Services, target string) {
	if rest, ok := strings.CutPrefix(target, "pid_"); ok {
		pid, err := strconv.ParseInt(rest, 10, 32)
		if err != nil || pid <= 0 {
			errorBody(c, http.StatusBadRequest, "invalid pid target", target)
			return
		}
		if !svc.Detector.MarkFinished(int32(pid)) {
			errorBody(c, http.StatusNotFound, "no detected task for pid", target)
			return
		}
		c.JSON(http.StatusOK, gin.H{"dismissed": target})
		return
	}

	if _, ok := svc.Tasks.Task(target); !ok {
		errorBody(c, http.StatusNotFound, "task not found", target)
		return
	}
	svc.Tasks.MarkCompleted(target)
	c.JSON(http.StatusOK, gin.H{"dismissed": target})
}

// cacheDirNames are the directory basenames cleanup is allowed to
// touch, relative to well-known roots.
var cacheDirNames = []string{
	".cache",
	"pip",
	"huggingface",
	"torch",
	"datasets",
	"uv",
	".npm",
	"__pycache__",
}

// fenceCachePath validates a cleanup target: absolute, symlink-free,
// under the home directory or the system temp root, and a recognized
// cache directory. Everything else is rejected before any traversal.
func fenceCachePath(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty path")
	}
	path := filepath.Clean(raw)
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path %q is not absolute", raw)
	}

	fi, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("path %q: %w", raw, err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("path %q is a symlink", raw)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("path %q is not a directory", raw)
	}
	// A symlink anywhere in the chain resolves to a different path.
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", raw, err)
	}
	if resolved != path {
		return "", fmt.Errorf("path %q traverses a symlink", raw)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	tmp := filepath.Clean(os.TempDir())
	switch {
	case home != "" && underDir(path, home):
	case underDir(path, tmp):
	default:
		return "", fmt.Errorf("path %q is outside the home and temp directories", raw)
	}

	base := filepath.Base(path)
	for _, name := range cacheDirNames {
		if base == name {
			return path, nil
		}
	}
	return "", fmt.Errorf("%q is not a recognized cache directory", base)
}

func underDir(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// GetDiskCleanup sizes the recognized cache directories without
// deleting anything.
func GetDiskCleanup(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		candidates := cleanupCandidates()
		out := make([]gin.H, 0, len(candidates))
		var total int64
		for _, dir := range candidates {
			fenced, err := fenceCachePath(dir)
			if err != nil {
				continue
			}
			size := dirSize(fenced)
			total += size
			out = append(out, gin.H{"path": fenced, "bytes": size})
		}
		c.JSON(http.StatusOK, gin.H{
			"candidates":        out,
			"reclaimable_bytes": total,
		})
	}
}

// cleanupCandidates lists the cache locations worth sizing on this
// machine.
func cleanupCandidates() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".cache", "pip"),
		filepath.Join(home, ".cache", "huggingface"),
		filepath.Join(home, ".cache", "torch"),
		filepath.Join(home, ".cache", "uv"),
		filepath.Join(home, ".npm"),
	}
}

// dirSize walks the tree summing regular-file sizes. Errors skip the
// entry rather than aborting the walk.
func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
