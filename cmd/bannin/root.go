// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/bannin/services/agent"
	"github.com/jinterlante1206/bannin/services/agent/mcpserver"
)

var opts agent.Options

var rootCmd = &cobra.Command{
	Use:           "bannin",
	Short:         "Host-resident monitoring agent for AI workloads",
	Long:          "bannin watches system resources, training jobs and LLM usage on this machine and serves a local HTTP API for dashboards and tools.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       agent.Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := agent.New(opts)
		if err != nil {
			return fmt.Errorf("agent init: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.Run(ctx)
	},
}

var mcpAgentURL string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the agent's read-only API over MCP stdio",
	Long:  "bannin mcp bridges MCP stdio clients (editors, assistants) to a running agent's HTTP API. Start the agent first with 'bannin start'.",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := mcpserver.New(mcpserver.Config{
			AgentURL: mcpAgentURL,
			Version:  agent.Version,
		})

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

func init() {
	startCmd.Flags().StringVar(&opts.Host, "host", "127.0.0.1", "address to bind")
	startCmd.Flags().IntVar(&opts.Port, "port", 8484, "port to bind")
	startCmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "state directory (default ~/.bannin)")
	startCmd.Flags().StringVar(&opts.RelayURL, "relay-url", "", "dashboard relay WebSocket URL (default $BANNIN_RELAY_URL)")
	startCmd.Flags().StringVar(&opts.RelayKey, "relay-key", "", "dashboard relay API key (default $BANNIN_RELAY_KEY)")
	startCmd.Flags().StringVar(&opts.ConfigURL, "config-url", "", "remote config feed URL (default $BANNIN_CONFIG_URL)")
	startCmd.Flags().StringVar(&opts.RulesPath, "rules", "", "alert rules YAML file (default <data-dir>/rules.yaml)")
	startCmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	mcpCmd.Flags().StringVar(&mcpAgentURL, "agent-url", "http://127.0.0.1:8484", "base URL of the running agent")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(mcpCmd)
}
