// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch provides a typed publish/subscribe hub that decouples
// stage-state changes from delivery. A Dispatcher is owned by whoever
// constructs the session and is torn down with it; there is no ambient
// global dispatcher.
package dispatch

import (
	"sync"

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
		l := logger.GetDispatchLogger()
		log = &l
	})
	return log
}

// Handler receives one published event.
type Handler func(event protocol.Event)

// Subscription is the handle returned by Subscribe. Closing it removes the
// handler; Close is idempotent and safe after the dispatcher itself closed.
type Subscription struct {
	d         *Dispatcher
	eventType protocol.MessageType
	id        uint64
	once      sync.Once
}

// Close unregisters the handler.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.d.remove(s.eventType, s.id)
	})
}

type registration struct {
	id      uint64
	handler Handler
}

// Dispatcher is a typed pub/sub hub. Publish delivers synchronously, in
// subscription order, to all currently-registered handlers for the event's
// type. A panicking handler is recovered and logged so it cannot block
// delivery to the others.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[protocol.MessageType][]registration
	closed   bool
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[protocol.MessageType][]registration),
	}
}

// Subscribe registers a handler for one event type and returns its handle.
// Late subscribers receive only events published after they subscribe.
func (d *Dispatcher) Subscribe(eventType protocol.MessageType, handler Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		// A subscription on a closed dispatcher is inert: the handle is
		// still valid to Close, it just never fires.
		return &Subscription{d: d, eventType: eventType}
	}

	d.nextID++
	id := d.nextID
	d.handlers[eventType] = append(d.handlers[eventType], registration{id: id, handler: handler})
	return &Subscription{d: d, eventType: eventType, id: id}
}

// Publish delivers the event to every handler registered for its type.
// Publishing with zero subscribers loses the event: this is a live-view
// mechanism, not a durable log.
func (d *Dispatcher) Publish(eventType protocol.MessageType, event protocol.Event) {
	d.mu.RLock()
	regs := d.handlers[eventType]
	// Copy so handlers registered or removed during delivery don't affect
	// this publish.
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	d.mu.RUnlock()

	for _, reg := range snapshot {
		d.deliver(eventType, reg, event)
	}
}

func (d *Dispatcher) deliver(eventType protocol.MessageType, reg registration, event protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			getLog().Error().
				Interface("panic", r).
				Str("event_type", string(eventType)).
				Uint64("subscription", reg.id).
				Msg("Event handler panicked")
		}
	}()
	reg.handler(event)
}

// SubscriberCount returns the number of handlers registered for a type.
func (d *Dispatcher) SubscriberCount(eventType protocol.MessageType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}

func (d *Dispatcher) remove(eventType protocol.MessageType, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[eventType]
	for i, reg := range regs {
		if reg.id == id {
			d.handlers[eventType] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Close removes all handlers and marks the dispatcher dead. Subsequent
// Publish calls deliver to no one; subsequent Subscribe calls are inert.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.handlers = make(map[protocol.MessageType][]registration)
}
