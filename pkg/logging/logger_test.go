// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default() returned nil")
	}
	defer logger.Close()
	logger.Info("test message", "key", "value")
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})
	logger.Info("file test", "n", 1)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "testsvc.log"))
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "file test") {
		t.Errorf("log file missing message, got: %s", data)
	}
	if !strings.Contains(string(data), `"service":"testsvc"`) {
		t.Errorf("log file missing service attribute, got: %s", data)
	}
}

func TestNew_Rollover(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		LogDir:       dir,
		Service:      "roll",
		Quiet:        true,
		MaxFileBytes: 256,
	})
	for i := 0; i < 50; i++ {
		logger.Info("padding entry to force rollover", "i", i)
	}
	logger.Close()

	if _, err := os.Stat(filepath.Join(dir, "roll.log.1")); err != nil {
		t.Errorf("expected rolled file roll.log.1: %v", err)
	}
	fi, err := os.Stat(filepath.Join(dir, "roll.log"))
	if err != nil {
		t.Fatalf("active log file missing: %v", err)
	}
	if fi.Size() > 512 {
		t.Errorf("active log file should stay near the cap, size = %d", fi.Size())
	}
}

func TestNew_BadLogDirDegrades(t *testing.T) {
	// A file in place of the directory makes MkdirAll fail.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}
	logger := New(Config{LogDir: filepath.Join(blocker, "sub"), Service: "x"})
	defer logger.Close()
	// Must still be usable.
	logger.Info("still works")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got := ExpandHome("~/.bannin")
	want := filepath.Join(home, ".bannin")
	if got != want {
		t.Errorf("ExpandHome(~/.bannin) = %q, want %q", got, want)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path changed: %q", got)
	}
}
