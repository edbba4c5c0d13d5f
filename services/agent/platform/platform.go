// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package platform identifies the environment the agent runs on and
// manages the remotely-refreshed runtime configuration (model pricing,
// platform quotas). The remote feed is optional: a cached copy and the
// built-in defaults keep the agent fully functional offline.
package platform

import (
	"os"
	"runtime"
)

// Platform identifiers used by alert-rule whitelists.
const (
	PlatformColab  = "colab"
	PlatformKaggle = "kaggle"
	PlatformLocal  = "local"
)

// Info describes the detected environment.
type Info struct {
	Name     string `json:"platform"`
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
}

// Detect identifies the hosting environment. Hosted notebooks leave
// well-known markers; everything else is local.
func Detect() Info {
	host, _ := os.Hostname()
	info := Info{Name: PlatformLocal, Hostname: host, OS: runtime.GOOS, Arch: runtime.GOARCH}

	switch {
	case os.Getenv("COLAB_RELEASE_TAG") != "" || os.Getenv("COLAB_GPU") != "" || dirExists("/content"):
		info.Name = PlatformColab
	case os.Getenv("KAGGLE_KERNEL_RUN_TYPE") != "" || dirExists("/kaggle"):
		info.Name = PlatformKaggle
	}
	return info
}

func dirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
