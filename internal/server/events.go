// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the REST + WebSocket API. Handlers call the
// process service directly for mutations; the event bridge forwards
// pipeline events from the dispatcher to connected WebSocket clients.
package server

import (
	"sync"

	"github.com/plainlex/plainlex/internal/dispatch"
	"github.com/plainlex/plainlex/internal/logger"
	"github.com/plainlex/plainlex/internal/protocol"

	"github.com/rs/zerolog"
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

// EventBridge subscribes to the dispatcher for every pipeline event type
// and fans each event out to the WebSocket clients watching its session.
type EventBridge struct {
	clients *ClientRegistry
	subs    []*dispatch.Subscription
}

// NewEventBridge wires the dispatcher to the client registry. Call Close
// to detach.
func NewEventBridge(d *dispatch.Dispatcher, clients *ClientRegistry) *EventBridge {
	b := &EventBridge{clients: clients}

	forward := func(event protocol.Event) {
		b.clients.Broadcast(event)
	}
	for _, t := range []protocol.MessageType{
		protocol.MessageAgentStatus,
		protocol.MessageProcessingComplete,
		protocol.MessageProcessingError,
	} {
		b.subs = append(b.subs, d.Subscribe(t, forward))
	}
	return b
}

// Close detaches the bridge from the dispatcher.
func (b *EventBridge) Close() {
	for _, sub := range b.subs {
		sub.Close()
	}
}
