// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/bannin/services/agent/datatypes"
)

const (
	// subscriberBuffer absorbs bursts; a subscriber that falls this
	// far behind starts losing events rather than blocking emitters.
	subscriberBuffer = 64

	keepaliveInterval = 15 * time.Second
)

// EventBroker fans events out to SSE subscribers. Emit never blocks:
// a full subscriber channel drops the event for that subscriber only.
type EventBroker struct {
	mu   sync.Mutex
	subs map[chan datatypes.Event]struct{}
}

// NewEventBroker builds an empty broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{subs: make(map[chan datatypes.Event]struct{})}
}

// Emit delivers the event to every subscriber that has room.
func (b *EventBroker) Emit(e datatypes.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func must
// be called exactly once; the channel is closed by it.
func (b *EventBroker) Subscribe() (<-chan datatypes.Event, func()) {
	ch := make(chan datatypes.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// SubscriberCount reports the number of live subscribers.
func (b *EventBroker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// StreamEvents serves the live event feed over Server-Sent Events.
// Periodic comment frames keep intermediaries from timing the
// connection out.
func StreamEvents(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			errorBody(c, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)

		fmt.Fprintf(c.Writer, ": connected\n\n")
		flusher.Flush()

		events, cancel := svc.Broker.Subscribe()
		defer cancel()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				fmt.Fprintf(c.Writer, ": keepalive\n\n")
				flusher.Flush()
			case e := <-events:
				payload, err := json.Marshal(e)
				if err != nil {
					slog.Warn("sse event marshal failed", "type", e.Type, "error", err)
					continue
				}
				fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", e.Type, payload)
				flusher.Flush()
			}
		}
	}
}
