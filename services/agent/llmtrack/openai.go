// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llmtrack

import (
	"context"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Client wraps an OpenAI-compatible client so every chat completion is
// recorded in the tracker. All other methods pass through the embedded
// client untouched.
type Client struct {
	*openai.Client
	tracker  *Tracker
	provider string
}

// NewClient builds an instrumented client from a ClientConfig. The
// provider label is inferred from the base URL.
func NewClient(cfg openai.ClientConfig, tracker *Tracker) *Client {
	return &Client{
		Client:   openai.NewClientWithConfig(cfg),
		tracker:  tracker,
		provider: ProviderFromBaseURL(cfg.BaseURL),
	}
}

// Wrap instruments an existing client under a provider label. The
// wrapper embeds the raw client, so a second Wrap cannot stack a
// second recording layer.
func Wrap(c *openai.Client, provider string, tracker *Tracker) *Client {
	if c == nil {
		return nil
	}
	return &Client{Client: c, tracker: tracker, provider: provider}
}

// ProviderFromBaseURL maps an API base URL to a provider label.
// Unrecognized hosts default to "openai".
func ProviderFromBaseURL(baseURL string) string {
	u := strings.ToLower(baseURL)
	switch {
	case strings.Contains(u, "azure"):
		return "azure"
	case strings.Contains(u, "x.ai"):
		return "xai"
	case strings.Contains(u, "together"):
		return "together"
	case strings.Contains(u, "fireworks"):
		return "fireworks"
	case strings.Contains(u, "groq"):
		return "groq"
	case strings.Contains(u, "localhost"), strings.Contains(u, "127.0.0.1"):
		return "local"
	default:
		return "openai"
	}
}

// CreateChatCompletion forwards to the underlying client and records
// the reported usage. Recording failures never reach the caller.
func (c *Client) CreateChatCompletion(
	ctx context.Context,
	req openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	start := time.Now()
	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return resp, err
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	var cached int64
	if resp.Usage.PromptTokensDetails != nil {
		cached = int64(resp.Usage.PromptTokensDetails.CachedTokens)
	}
	c.tracker.Record(RecordParams{
		Provider:       c.provider,
		Model:          model,
		InputTokens:    int64(resp.Usage.PromptTokens),
		OutputTokens:   int64(resp.Usage.CompletionTokens),
		CachedTokens:   cached,
		LatencySeconds: time.Since(start).Seconds(),
		ConversationID: ConversationFromContext(ctx),
	})
	return resp, nil
}

// CreateChatCompletionStream forwards to the underlying client with
// stream usage reporting forced on (the request is copied, the
// caller's value is not mutated). The returned stream records usage
// from the final chunk.
func (c *Client) CreateChatCompletionStream(
	ctx context.Context,
	req openai.ChatCompletionRequest,
) (*ChatStream, error) {
	forced := req
	if forced.StreamOptions == nil {
		forced.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	} else {
		opts := *forced.StreamOptions
		opts.IncludeUsage = true
		forced.StreamOptions = &opts
	}

	inner, err := c.Client.CreateChatCompletionStream(ctx, forced)
	if err != nil {
		return nil, err
	}
	return &ChatStream{
		ChatCompletionStream: inner,
		tracker:              c.tracker,
		provider:             c.provider,
		model:                req.Model,
		conversationID:       ConversationFromContext(ctx),
		start:                time.Now(),
	}, nil
}

// ChatStream proxies a completion stream. The final chunk of a stream
// with usage reporting carries the token counts and no choices; that
// chunk triggers the single record.
type ChatStream struct {
	*openai.ChatCompletionStream
	tracker        *Tracker
	provider       string
	model          string
	conversationID string
	start          time.Time
	recorded       bool
}

// Recv forwards a chunk, recording usage when the final usage chunk
// arrives.
func (s *ChatStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	resp, err := s.ChatCompletionStream.Recv()
	if err != nil {
		return resp, err
	}
	if resp.Model != "" {
		s.model = resp.Model
	}
	if resp.Usage != nil && len(resp.Choices) == 0 && !s.recorded {
		s.recorded = true
		var cached int64
		if resp.Usage.PromptTokensDetails != nil {
			cached = int64(resp.Usage.PromptTokensDetails.CachedTokens)
		}
		s.tracker.Record(RecordParams{
			Provider:       s.provider,
			Model:          s.model,
			InputTokens:    int64(resp.Usage.PromptTokens),
			OutputTokens:   int64(resp.Usage.CompletionTokens),
			CachedTokens:   cached,
			LatencySeconds: time.Since(s.start).Seconds(),
			ConversationID: s.conversationID,
		})
	}
	return resp, nil
}

// Close closes the underlying stream. A stream abandoned before its
// usage chunk records nothing; partial counts would be wrong.
func (s *ChatStream) Close() error {
	if !s.recorded {
		slog.Debug("llm stream closed before usage chunk; call not recorded",
			"provider", s.provider, "model", s.model)
	}
	return s.ChatCompletionStream.Close()
}
