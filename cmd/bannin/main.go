// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command bannin runs the host monitoring agent.
//
// # Usage
//
//	# Start the agent on the default port
//	bannin start
//
//	# Bind elsewhere
//	bannin start --host 0.0.0.0 --port 9000
//
//	# With the dashboard relay
//	bannin start --relay-url wss://dash.example.com/agent --relay-key <key>
//
//	# Bridge MCP stdio clients to a running agent
//	bannin mcp
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bannin:", err)
		os.Exit(1)
	}
}
