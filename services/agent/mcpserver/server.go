// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mcpserver exposes the agent's read-only API over MCP stdio,
// so editor and assistant clients can query machine state without
// speaking HTTP themselves. Each tool proxies one GET endpoint of a
// running agent; destructive endpoints (kill, cleanup) are deliberately
// not exposed here, they require the HTTP confirmation-token flow.
package mcpserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	defaultAgentURL = "http://127.0.0.1:8484"
	defaultTimeout  = 10 * time.Second

	// maxResponseBytes bounds what a tool call relays back; agent
	// responses are small JSON documents well under this.
	maxResponseBytes = 4 << 20
)

// Config wires a Server. Zero values take the defaults.
type Config struct {
	// AgentURL is the base URL of the running agent's HTTP API.
	AgentURL string
	Version  string
	Timeout  time.Duration
}

// Server bridges MCP stdio to the agent's HTTP API.
type Server struct {
	cfg    Config
	client *http.Client
	mcp    *server.MCPServer
}

// toolSpec declares one read-only proxy tool: an agent endpoint plus
// the arguments forwarded as query parameters.
type toolSpec struct {
	name        string
	description string
	path        string
	strings     map[string]string // argument -> description
	numbers     map[string]string
	required    []string
}

func toolSpecs() []toolSpec {
	return []toolSpec{
		{name: "get_status", description: "Agent identity, platform and uptime.", path: "/status"},
		{name: "get_metrics", description: "Current CPU, memory, disk, network and GPU snapshot.", path: "/metrics"},
		{name: "get_processes", description: "Top processes grouped by application.", path: "/processes",
			numbers: map[string]string{"limit": "Maximum number of process groups (default 10)."}},
		{name: "get_active_alerts", description: "Alerts whose condition currently holds.", path: "/alerts/active"},
		{name: "get_alert_history", description: "Recently fired alerts, newest first.", path: "/alerts",
			numbers: map[string]string{"limit": "Maximum number of alerts (default 50)."}},
		{name: "get_oom_prediction", description: "RAM and GPU out-of-memory forecasts.", path: "/predictions/oom"},
		{name: "get_tasks", description: "Tracked and detected training tasks with progress and ETA.", path: "/tasks"},
		{name: "get_llm_usage", description: "LLM call, token and cost totals by provider and model.", path: "/llm/usage"},
		{name: "get_llm_health", description: "Conversation health score.", path: "/llm/health",
			strings: map[string]string{"source": "Signal family: combined, api, ollama or mcp (default combined)."}},
		{name: "get_summary", description: "One-view machine summary: resources, alerts, tasks, LLM spend, health.", path: "/summary"},
		{name: "get_recommendations", description: "Actionable recommendations derived from the current state.", path: "/recommendations"},
		{name: "search_events", description: "Full-text search over the persisted event history.", path: "/analytics/search",
			strings:  map[string]string{"q": "Search query."},
			numbers:  map[string]string{"limit": "Maximum number of events (default 50)."},
			required: []string{"q"}},
	}
}

// New builds a Server with every tool registered.
func New(cfg Config) *Server {
	if cfg.AgentURL == "" {
		cfg.AgentURL = defaultAgentURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	s := &Server{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		mcp: server.NewMCPServer("bannin", cfg.Version,
			server.WithToolCapabilities(false)),
	}
	for _, spec := range toolSpecs() {
		s.mcp.AddTool(buildTool(spec), s.proxyHandler(spec))
	}
	return s
}

func buildTool(spec toolSpec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.description)}
	req := make(map[string]bool, len(spec.required))
	for _, name := range spec.required {
		req[name] = true
	}
	for name, desc := range spec.strings {
		propOpts := []mcp.PropertyOption{mcp.Description(desc)}
		if req[name] {
			propOpts = append(propOpts, mcp.Required())
		}
		opts = append(opts, mcp.WithString(name, propOpts...))
	}
	for name, desc := range spec.numbers {
		opts = append(opts, mcp.WithNumber(name, mcp.Description(desc)))
	}
	return mcp.NewTool(spec.name, opts...)
}

// proxyHandler maps a tool call onto one agent GET. Agent-side and
// transport errors surface as tool errors, never as JSON-RPC failures.
func (s *Server) proxyHandler(spec toolSpec) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := getArgs(request)

		query := url.Values{}
		for name := range spec.strings {
			if v := stringArg(args, name, ""); v != "" {
				query.Set(name, v)
			}
		}
		for name := range spec.numbers {
			if v, ok := args[name].(float64); ok && v > 0 {
				query.Set(name, strconv.Itoa(int(v)))
			}
		}
		for _, name := range spec.required {
			if !query.Has(name) {
				return errResult(fmt.Sprintf("%s argument is required", name)), nil
			}
		}
		return s.fetch(ctx, spec.path, query)
	}
}

func (s *Server) fetch(ctx context.Context, path string, query url.Values) (*mcp.CallToolResult, error) {
	target := s.cfg.AgentURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errResult(fmt.Sprintf("bad request: %v", err)), nil
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return errResult(fmt.Sprintf(
			"agent unreachable at %s (is 'bannin start' running?): %v", s.cfg.AgentURL, err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errResult(fmt.Sprintf("read agent response: %v", err)), nil
	}
	if resp.StatusCode != http.StatusOK {
		return errResult(fmt.Sprintf("agent returned %d: %s", resp.StatusCode, body)), nil
	}
	return newTextResult(string(body)), nil
}

// Run serves MCP over the process's stdin/stdout until the context
// cancels or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	return s.serve(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// getArgs safely extracts the arguments map from a tool call.
func getArgs(request mcp.CallToolRequest) map[string]any {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return args
}

func stringArg(args map[string]any, key, defaultVal string) string {
	s, ok := args[key].(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: msg}},
	}
}
