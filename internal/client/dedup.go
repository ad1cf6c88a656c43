// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"sync"
	"time"

	"github.com/plainlex/plainlex/internal/protocol"
)

// EventDeduplicator filters replayed or duplicated events by idempotency
// key so the aggregator's fold stays idempotent across reconnects.
type EventDeduplicator struct {
	processedEvents sync.Map // idempotencyKey -> time.Time
	ttl             time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewEventDeduplicator creates a new event deduplicator.
func NewEventDeduplicator() *EventDeduplicator {
	ed := &EventDeduplicator{
		ttl:  10 * time.Minute, // Keep track of events for 10 minutes
		stop: make(chan struct{}),
	}

	// Start cleanup goroutine
	go ed.cleanupExpiredEvents()

	return ed
}

// ShouldProcess returns true if the event should be processed (not a duplicate).
func (ed *EventDeduplicator) ShouldProcess(event protocol.Event) bool {
	idempotencyKey := protocol.GetIdempotencyKey(event)
	if idempotencyKey == "" {
		// No idempotency key, always process
		return true
	}

	// Check if already processed
	if _, exists := ed.processedEvents.Load(idempotencyKey); exists {
		return false // Duplicate, skip
	}

	// Mark as processed
	ed.processedEvents.Store(idempotencyKey, time.Now())
	return true
}

// Close stops the cleanup goroutine.
func (ed *EventDeduplicator) Close() {
	ed.stopOnce.Do(func() {
		close(ed.stop)
	})
}

// cleanupExpiredEvents periodically removes expired event records.
func (ed *EventDeduplicator) cleanupExpiredEvents() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			ed.processedEvents.Range(func(key, value interface{}) bool {
				if timestamp, ok := value.(time.Time); ok {
					if now.Sub(timestamp) > ed.ttl {
						ed.processedEvents.Delete(key)
					}
				}
				return true
			})
		case <-ed.stop:
			return
		}
	}
}
