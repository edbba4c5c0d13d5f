// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
	"github.com/jinterlante1206/bannin/services/agent/llmtrack"
)

const (
	defaultRefreshInterval = time.Hour
	fetchTimeout           = 10 * time.Second
)

// RemoteConfig is the payload of the remote configuration feed and of
// the on-disk cache.
type RemoteConfig struct {
	Version   string                              `json:"version,omitempty"`
	FetchedAt string                              `json:"fetched_at,omitempty"`
	Pricing   map[string]datatypes.ModelPricing   `json:"pricing,omitempty"`
	Quotas    map[string]map[string]float64       `json:"quotas,omitempty"` // platform -> quota name -> value
}

// ConfigManager keeps the runtime configuration fresh: remote fetch on
// an interval, on-disk cache for offline starts, and an fsnotify watch
// so a hand-edited cache file applies without a restart.
type ConfigManager struct {
	url       string
	cachePath string
	interval  time.Duration
	pricing   *llmtrack.PriceTable
	client    *http.Client

	mu      sync.Mutex
	current RemoteConfig

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// ConfigOptions wires a ConfigManager. URL defaults to the
// BANNIN_CONFIG_URL environment variable; empty disables remote
// fetching entirely.
type ConfigOptions struct {
	URL             string
	CachePath       string
	RefreshInterval time.Duration
	Pricing         *llmtrack.PriceTable
}

// NewConfigManager builds a manager and applies the cached
// configuration if one exists.
func NewConfigManager(opts ConfigOptions) *ConfigManager {
	if opts.URL == "" {
		opts.URL = os.Getenv("BANNIN_CONFIG_URL")
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	m := &ConfigManager{
		url:       opts.URL,
		cachePath: opts.CachePath,
		interval:  opts.RefreshInterval,
		pricing:   opts.Pricing,
		client:    &http.Client{Timeout: fetchTimeout},
	}
	if cfg, err := m.loadCache(); err == nil {
		m.apply(cfg)
	}
	return m
}

// Current returns the last applied configuration.
func (m *ConfigManager) Current() RemoteConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start launches the refresh loop and the cache-file watch. Idempotent.
func (m *ConfigManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	if m.cachePath != "" {
		if w, err := fsnotify.NewWatcher(); err == nil {
			// Watch the directory: editors replace files on save and
			// a watch on the old inode would go stale.
			if err := w.Add(filepath.Dir(m.cachePath)); err == nil {
				m.watcher = w
			} else {
				w.Close()
				slog.Debug("config cache watch failed", "path", m.cachePath, "error", err)
			}
		}
	}
	go m.run(m.stopCh, m.doneCh)
}

// Stop halts the refresh loop. Idempotent.
func (m *ConfigManager) Stop() {
	m.mu.Lock()
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	watcher := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
	if watcher != nil {
		watcher.Close()
	}
}

func (m *ConfigManager) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	m.Refresh(context.Background())
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var watchEvents chan fsnotify.Event
	if m.watcher != nil {
		watchEvents = m.watcher.Events
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.Refresh(context.Background())
		case ev, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			if ev.Name == m.cachePath && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				if cfg, err := m.loadCache(); err == nil {
					slog.Info("config cache changed on disk, applying", "path", m.cachePath)
					m.apply(cfg)
				}
			}
		}
	}
}

// Refresh fetches the remote feed once and applies + caches it. With
// no URL configured or an unreachable feed the current (cached or
// default) configuration stays in effect.
func (m *ConfigManager) Refresh(ctx context.Context) error {
	if m.url == "" {
		return nil
	}
	cfg, err := m.fetch(ctx)
	if err != nil {
		slog.Debug("remote config fetch failed, keeping current", "url", m.url, "error", err)
		return err
	}
	cfg.FetchedAt = time.Now().UTC().Format(time.RFC3339)
	m.apply(cfg)
	if err := m.saveCache(cfg); err != nil {
		slog.Warn("config cache write failed", "path", m.cachePath, "error", err)
	}
	return nil
}

func (m *ConfigManager) fetch(ctx context.Context) (RemoteConfig, error) {
	var cfg RemoteConfig
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return cfg, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return cfg, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cfg, fmt.Errorf("config feed returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config feed: %w", err)
	}
	return cfg, nil
}

func (m *ConfigManager) apply(cfg RemoteConfig) {
	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	if m.pricing != nil && len(cfg.Pricing) > 0 {
		m.pricing.Replace(cfg.Pricing)
	}
}

func (m *ConfigManager) loadCache() (RemoteConfig, error) {
	var cfg RemoteConfig
	if m.cachePath == "" {
		return cfg, os.ErrNotExist
	}
	b, err := os.ReadFile(m.cachePath)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config cache: %w", err)
	}
	return cfg, nil
}

func (m *ConfigManager) saveCache(cfg RemoteConfig) error {
	if m.cachePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.cachePath), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.cachePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.cachePath)
}
