// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Bannin components.
//
// The agent logs to stderr by default (Unix CLI convention) and can
// additionally write JSON log files under the agent state directory
// (~/.bannin). File output rolls over by size so a long-running agent
// does not fill the disk.
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("agent started", "port", 7762)
//
// With file logging:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelDebug,
//	    LogDir:  "~/.bannin",
//	    Service: "agent",
//	})
//	defer logger.Close()
//
// # Thread Safety
//
// Logger is safe for concurrent use. The underlying slog.Logger is
// thread-safe; file rollover is guarded by a mutex.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting and per-tick noise
	// (sampling failures, dropped events, swallowed collector errors).
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages (startup, shutdown,
	// relay connects, store pruning).
	LevelInfo

	// LevelWarn is for recoverable issues (relay reconnect, stale
	// platform config, unknown model pricing).
	LevelWarn

	// LevelError is for operation failures the agent survives.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures Logger behavior. A zero-value Config creates a
// logger that writes Info+ messages to stderr in text format.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging to the given directory. The file is
	// named "{Service}.log" and rolls to "{Service}.log.1" past
	// MaxFileBytes. Supports ~ expansion. Default: "" (disabled).
	LogDir string

	// Service is included in every entry as the "service" attribute
	// and names the log file. Default: "bannin".
	Service string

	// JSON switches stderr output to JSON. File output is always JSON.
	JSON bool

	// Quiet disables stderr output (daemon mode).
	Quiet bool

	// MaxFileBytes is the rollover threshold for the log file.
	// Default: 10 MiB.
	MaxFileBytes int64
}

const defaultMaxFileBytes = 10 * 1024 * 1024

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog.Logger with multi-destination output and size-based
// file rollover. Always call Close() when file logging is enabled.
type Logger struct {
	*slog.Logger

	mu       sync.Mutex
	file     *os.File
	path     string
	maxBytes int64
	written  int64
}

// Default returns a stderr-only logger at Info level.
func Default() *Logger {
	return New(Config{})
}

// New creates a Logger from config. Errors opening the log file degrade
// to stderr-only operation; they never fail agent startup.
func New(cfg Config) *Logger {
	if cfg.Service == "" {
		cfg.Service = "bannin"
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaultMaxFileBytes
	}

	l := &Logger{maxBytes: cfg.MaxFileBytes}

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}
	if cfg.LogDir != "" {
		if f, path, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			l.file = f
			l.path = path
			if fi, statErr := f.Stat(); statErr == nil {
				l.written = fi.Size()
			}
			writers = append(writers, &rolloverWriter{l: l})
		} else {
			fmt.Fprintf(os.Stderr, "bannin: file logging disabled: %v\n", err)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}
	var handler slog.Handler
	if cfg.JSON || (cfg.Quiet && l.file != nil) {
		handler = slog.NewJSONHandler(io.MultiWriter(writers...), opts)
	} else {
		handler = slog.NewTextHandler(io.MultiWriter(writers...), opts)
	}
	l.Logger = slog.New(handler).With("service", cfg.Service)
	return l
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// SetAsDefault installs this logger as the process-wide slog default.
func (l *Logger) SetAsDefault() {
	slog.SetDefault(l.Logger)
}

// rolloverWriter routes handler output through the Logger's rollover
// bookkeeping.
type rolloverWriter struct {
	l *Logger
}

func (w *rolloverWriter) Write(p []byte) (int, error) {
	l := w.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return len(p), nil
	}
	if l.written+int64(len(p)) > l.maxBytes {
		l.rollLocked()
		if l.file == nil {
			return len(p), nil
		}
	}
	n, err := l.file.Write(p)
	l.written += int64(n)
	return n, err
}

// rollLocked rotates file -> file.1, dropping any previous file.1.
// Caller holds l.mu.
func (l *Logger) rollLocked() {
	l.file.Close()
	os.Rename(l.path, l.path+".1")
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		l.file = nil
		return
	}
	l.file = f
	l.written = 0
}

func openLogFile(dir, service string) (*os.File, string, error) {
	dir = ExpandHome(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, "", fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, service+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, "", fmt.Errorf("open log file: %w", err)
	}
	return f, path, nil
}

// ExpandHome expands a leading ~ to the user's home directory. Returns
// the input unchanged when the home directory cannot be resolved.
func ExpandHome(path string) string {
	if path == "~" || (len(path) > 1 && path[0] == '~' && path[1] == os.PathSeparator) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
