// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/status":
			fmt.Fprint(w, `{"machine":"testbox","version":"0.4.0"}`)
		case "/processes":
			fmt.Fprintf(w, `{"limit":%q}`, r.URL.Query().Get("limit"))
		case "/analytics/search":
			fmt.Fprintf(w, `{"query":%q}`, r.URL.Query().Get("q"))
		case "/llm/health":
			fmt.Fprintf(w, `{"source":%q}`, r.URL.Query().Get("source"))
		default:
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		}
	}))
	t.Cleanup(agent.Close)
	return New(Config{AgentURL: agent.URL, Version: "test"}), agent
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var spec *toolSpec
	for _, ts := range toolSpecs() {
		if ts.name == name {
			spec = &ts
			break
		}
	}
	require.NotNil(t, spec, "unknown tool %s", name)

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.proxyHandler(*spec)(context.Background(), req)
	require.NoError(t, err)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func TestToolSpecs(t *testing.T) {
	seen := map[string]bool{}
	for _, spec := range toolSpecs() {
		assert.False(t, seen[spec.name], "duplicate tool %s", spec.name)
		seen[spec.name] = true
		assert.True(t, strings.HasPrefix(spec.path, "/"), "%s path %q", spec.name, spec.path)
		assert.NotEmpty(t, spec.description, "%s needs a description", spec.name)
	}
	assert.True(t, seen["get_status"])
	assert.True(t, seen["search_events"])
}

func TestProxyHandler_FetchesEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	res := callTool(t, s, "get_status", nil)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "testbox")
}

func TestProxyHandler_ForwardsArguments(t *testing.T) {
	s, _ := newTestServer(t)

	res := callTool(t, s, "get_processes", map[string]any{"limit": float64(5)})
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"limit":"5"`)

	res = callTool(t, s, "get_llm_health", map[string]any{"source": "api"})
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"source":"api"`)
}

func TestProxyHandler_RequiredArgument(t *testing.T) {
	s, _ := newTestServer(t)

	res := callTool(t, s, "search_events", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "q argument is required")

	res = callTool(t, s, "search_events", map[string]any{"q": "oom"})
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"query":"oom"`)
}

func TestProxyHandler_AgentErrorIsToolError(t *testing.T) {
	s, _ := newTestServer(t)

	res := callTool(t, s, "get_tasks", nil)
	assert.True(t, res.IsError, "agent 404 surfaces as a tool error")
	assert.Contains(t, resultText(t, res), "404")
}

func TestFetch_AgentUnreachable(t *testing.T) {
	s := New(Config{AgentURL: "http://127.0.0.1:1", Version: "test"})

	res := callTool(t, s, "get_status", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "unreachable")
}
