// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the protocol operations over REST and streams
// engine events (chain_minted, step_attested, cache_invalidated) to
// WebSocket subscribers.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kairos-ai/kairos/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

// Event is one engine lifecycle notification pushed to subscribers.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventBroadcaster decouples the engine from slow WebSocket writers: the
// engine's Broadcast enqueues, Run fans out. Implements engine.EventSink.
type EventBroadcaster struct {
	events  chan Event
	clients *ClientRegistry
}

// NewEventBroadcaster creates a broadcaster feeding the client registry.
func NewEventBroadcaster(clients *ClientRegistry) *EventBroadcaster {
	return &EventBroadcaster{
		events:  make(chan Event, 256),
		clients: clients,
	}
}

// Broadcast enqueues an event. Never blocks the caller; when the queue is
// full the event is dropped.
func (b *EventBroadcaster) Broadcast(event string, data map[string]any) {
	e := Event{Type: event, Data: data, Timestamp: time.Now().UTC()}
	select {
	case b.events <- e:
	default:
		getLog().Warn().Str("type", event).Msg("Event queue full; dropping event")
	}
}

// Run fans out queued events until the context is cancelled.
func (b *EventBroadcaster) Run(ctx context.Context) {
	for {
		select {
		case event := <-b.events:
			b.clients.Broadcast(event)
		case <-ctx.Done():
			getLog().Info().Msg("Event broadcaster stopped")
			return
		}
	}
}
