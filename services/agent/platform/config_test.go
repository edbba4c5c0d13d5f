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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
	"github.com/jinterlante1206/bannin/services/agent/llmtrack"
)

func TestDetect_LocalByDefault(t *testing.T) {
	info := Detect()
	// Test machines are not Colab or Kaggle hosts.
	assert.Equal(t, PlatformLocal, info.Name)
	assert.NotEmpty(t, info.OS)
}

func TestRefresh_AppliesPricingAndCaches(t *testing.T) {
	feed := RemoteConfig{
		Version: "2025-08",
		Pricing: map[string]datatypes.ModelPricing{
			"test-model": {InputPerM: 1, OutputPerM: 2, ContextWindow: 32_000},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(feed)
	}))
	defer srv.Close()

	pt := llmtrack.NewPriceTable(nil)
	cache := filepath.Join(t.TempDir(), "platform_config.json")
	m := NewConfigManager(ConfigOptions{URL: srv.URL, CachePath: cache, Pricing: pt})

	require.NoError(t, m.Refresh(context.Background()))

	// The replacement table is in effect.
	p, ok := pt.Lookup("test-model")
	require.True(t, ok)
	assert.Equal(t, int64(32_000), p.ContextWindow)
	_, ok = pt.Lookup("gpt-4o")
	assert.False(t, ok)

	assert.Equal(t, "2025-08", m.Current().Version)
	assert.NotEmpty(t, m.Current().FetchedAt)

	// The cache landed on disk and a fresh manager starts from it.
	_, err := os.Stat(cache)
	require.NoError(t, err)

	pt2 := llmtrack.NewPriceTable(nil)
	m2 := NewConfigManager(ConfigOptions{CachePath: cache, Pricing: pt2})
	assert.Equal(t, "2025-08", m2.Current().Version)
	_, ok = pt2.Lookup("test-model")
	assert.True(t, ok)
}

func TestRefresh_UnreachableKeepsCurrent(t *testing.T) {
	pt := llmtrack.NewPriceTable(nil)
	m := NewConfigManager(ConfigOptions{URL: "http://127.0.0.1:1", Pricing: pt})

	err := m.Refresh(context.Background())
	assert.Error(t, err)

	// Defaults survive the failed fetch.
	_, ok := pt.Lookup("gpt-4o")
	assert.True(t, ok)
}

func TestRefresh_NoURLIsNoop(t *testing.T) {
	m := NewConfigManager(ConfigOptions{})
	assert.NoError(t, m.Refresh(context.Background()))
}

func TestLoadCache_CorruptFile(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "platform_config.json")
	require.NoError(t, os.WriteFile(cache, []byte("{not json"), 0o644))

	pt := llmtrack.NewPriceTable(nil)
	m := NewConfigManager(ConfigOptions{CachePath: cache, Pricing: pt})

	// Corrupt cache is ignored; defaults stay.
	assert.Empty(t, m.Current().Version)
	_, ok := pt.Lookup("gpt-4o")
	assert.True(t, ok)
}
