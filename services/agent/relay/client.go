// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package relay maintains an outbound WebSocket to a remote dashboard:
// periodic data pushes, heartbeats, and inbound training-control
// commands. The connection is optional; the agent is fully functional
// without it.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

const (
	defaultPushInterval      = 5 * time.Second
	defaultHeartbeatInterval = 25 * time.Second

	backoffBase = 2 * time.Second
	backoffCap  = 60 * time.Second

	writeTimeout = 10 * time.Second
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// Outbound frame types.
const (
	FrameMetrics       = "metrics"
	FrameProcesses     = "processes"
	FrameAlert         = "alert"
	FrameOOMPrediction = "oom_prediction"
	FrameTraining      = "training"
	FrameHealth        = "health"
	FrameHeartbeat     = "heartbeat"
)

// Inbound command types.
const (
	CmdTrainingStop = "training_stop"
	CmdTrainingKill = "training_kill"
)

// AlertFeed exposes the alert engine's history for the new-alert
// high-water mark.
type AlertFeed interface {
	AlertCount() int
	Alerts(limit int) []datatypes.FiredAlert
}

// Config wires a Client. Payload funcs may be nil; their frames are
// skipped. All payloads are collected on a worker goroutine so a slow
// collector never stalls the socket loops.
type Config struct {
	URL     string
	APIKey  string
	Machine string

	Metrics   func() any
	Processes func() any
	OOM       func() any
	Training  func() any
	Health    func() any
	Alerts    AlertFeed

	// ResolvePID maps an opaque taskId to a PID via the progress
	// tracker. The pid_<N> convention bypasses it.
	ResolvePID func(taskID string) (int32, bool)
	// OnTerminated marks the task/detection record finished after a
	// successful stop or kill.
	OnTerminated func(taskID string, pid int32)
	// OnReconnect observes reconnection attempts (metrics).
	OnReconnect func()

	PushInterval      time.Duration
	HeartbeatInterval time.Duration
}

// Client runs the reconnection loop. Safe for a single Start/Stop
// cycle from any goroutine.
type Client struct {
	cfg     Config
	started time.Time

	mu           sync.Mutex
	cancel       context.CancelFunc
	doneCh       chan struct{}
	alertsPushed int
}

// NewClient builds a Client; call Start to begin connecting.
func NewClient(cfg Config) *Client {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = defaultPushInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Client{cfg: cfg, started: time.Now()}
}

// Start launches the reconnection loop. Idempotent.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	go c.run(ctx, c.doneCh)
}

// Stop cancels the loop and waits for it to exit. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, doneCh := c.cancel, c.doneCh
	c.cancel, c.doneCh = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-doneCh
}

// dialURL appends the relay key to the endpoint.
func (c *Client) dialURL() string {
	if c.cfg.APIKey == "" {
		return c.cfg.URL
	}
	sep := "?"
	if strings.Contains(c.cfg.URL, "?") {
		sep = "&"
	}
	return c.cfg.URL + sep + "key=" + c.cfg.APIKey
}

func (c *Client) run(ctx context.Context, doneCh chan struct{}) {
	defer close(doneCh)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 && c.cfg.OnReconnect != nil {
			c.cfg.OnReconnect()
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.dialURL(), nil)
		if err != nil {
			delay := backoffDelay(attempt)
			attempt++
			slog.Debug("relay dial failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		slog.Info("relay connected", "url", c.cfg.URL)
		clean := c.serveConn(ctx, conn)
		conn.Close()
		if clean {
			attempt = 0
		} else {
			attempt++
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoffDelay(attempt)):
		}
	}
}

// backoffDelay is the exponential schedule: 2 s doubling to a 60 s cap.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// serveConn runs the three per-connection loops until the first one
// fails or the context cancels. Returns true on a clean remote close.
func (c *Client) serveConn(ctx context.Context, conn *websocket.Conn) bool {
	var writeMu sync.Mutex
	send := func(env Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(env)
	}

	var cleanClose bool
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.pushLoop(gctx, send) })
	g.Go(func() error { return c.heartbeatLoop(gctx, send) })
	g.Go(func() error {
		err := c.listenLoop(conn)
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			cleanClose = true
		}
		return err
	})

	// Unblock the reader when a sibling loop or the parent fails.
	go func() {
		<-gctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Debug("relay connection ended", "error", err)
	}
	return cleanClose
}

func (c *Client) envelope(typ string, data any) Envelope {
	return Envelope{
		Type:      typ,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
}

// pushLoop sends the periodic data frames. Payload collection happens
// on this goroutine, which is already off the read path.
func (c *Client) pushLoop(ctx context.Context, send func(Envelope) error) error {
	ticker := time.NewTicker(c.cfg.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.pushOnce(send); err != nil {
				return err
			}
		}
	}
}

func (c *Client) pushOnce(send func(Envelope) error) error {
	frames := []struct {
		typ  string
		data func() any
	}{
		{FrameMetrics, c.cfg.Metrics},
		{FrameProcesses, c.cfg.Processes},
		{FrameOOMPrediction, c.cfg.OOM},
		{FrameTraining, c.cfg.Training},
		{FrameHealth, c.cfg.Health},
	}
	for _, f := range frames {
		if f.data == nil {
			continue
		}
		if err := send(c.envelope(f.typ, f.data())); err != nil {
			return err
		}
	}
	return c.pushNewAlerts(send)
}

// pushNewAlerts sends one alert frame per alert fired since the last
// push, tracked by a high-water count.
func (c *Client) pushNewAlerts(send func(Envelope) error) error {
	if c.cfg.Alerts == nil {
		return nil
	}
	total := c.cfg.Alerts.AlertCount()

	c.mu.Lock()
	pushed := c.alertsPushed
	c.mu.Unlock()

	if total <= pushed {
		return nil
	}
	fresh := c.cfg.Alerts.Alerts(total - pushed)
	// Newest-first from the feed; send in firing order.
	for i := len(fresh) - 1; i >= 0; i-- {
		if err := send(c.envelope(FrameAlert, fresh[i])); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.alertsPushed = total
	c.mu.Unlock()
	return nil
}

func (c *Client) heartbeatLoop(ctx context.Context, send func(Envelope) error) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			hb := map[string]any{
				"machine":        c.cfg.Machine,
				"uptime_seconds": time.Since(c.started).Seconds(),
			}
			if err := send(c.envelope(FrameHeartbeat, hb)); err != nil {
				return err
			}
		}
	}
}

// listenLoop reads inbound frames and dispatches commands. Command
// handling runs on a worker goroutine so a slow kill never blocks the
// read loop.
func (c *Client) listenLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env struct {
			Type string `json:"type"`
			Data struct {
				TaskID string `json:"taskId"`
			} `json:"data"`
			TaskID string `json:"taskId"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Debug("relay inbound frame unparseable", "error", err)
			continue
		}
		taskID := env.Data.TaskID
		if taskID == "" {
			taskID = env.TaskID
		}

		switch env.Type {
		case CmdTrainingStop:
			go c.handleStop(taskID, false)
		case CmdTrainingKill:
			go c.handleStop(taskID, true)
		default:
			slog.Debug("relay inbound frame ignored", "type", env.Type)
		}
	}
}

// handleStop terminates the process behind a taskId: graceful sends
// SIGTERM with a 3 s grace window before SIGKILL, forced goes straight
// to SIGKILL.
func (c *Client) handleStop(taskID string, force bool) {
	pid, ok := c.resolveTaskPID(taskID)
	if !ok {
		slog.Warn("relay stop command for unknown task", "task_id", taskID)
		return
	}

	var err error
	if force {
		err = killProcess(pid)
	} else {
		err = terminateProcess(pid, 3*time.Second)
	}
	if err != nil {
		slog.Warn("relay stop command failed", "task_id", taskID, "pid", pid, "error", err)
		return
	}

	slog.Info("training process terminated via relay", "task_id", taskID, "pid", pid, "forced", force)
	if c.cfg.OnTerminated != nil {
		c.cfg.OnTerminated(taskID, pid)
	}
}

// resolveTaskPID handles the pid_<N> convention directly and defers
// everything else to the progress tracker.
func (c *Client) resolveTaskPID(taskID string) (int32, bool) {
	if rest, ok := strings.CutPrefix(taskID, "pid_"); ok {
		n, err := strconv.ParseInt(rest, 10, 32)
		if err != nil || n <= 0 {
			return 0, false
		}
		return int32(n), true
	}
	if c.cfg.ResolvePID != nil {
		return c.cfg.ResolvePID(taskID)
	}
	return 0, false
}

// String implements fmt.Stringer for log context.
func (c *Client) String() string {
	return fmt.Sprintf("relay(%s)", c.cfg.URL)
}
