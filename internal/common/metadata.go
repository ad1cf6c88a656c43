// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package common provides shared types used across multiple packages.
package common

// Metadata contains common fields for all messages that cross the push
// channel. This includes Events (session → subscribers) and the snapshot
// replay sent on (re)connect.
type Metadata struct {
	// SessionID serves as the correlation ID for everything a session emits.
	SessionID string `json:"session_id"`

	// IdempotencyKey is used for event deduplication across snapshot replay
	// and reconnect windows. Optional - events without this key will always
	// be processed.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Version indicates the protocol version for backward compatibility.
	// Format: "v{major}.{minor}.{patch}" (e.g., "v1.0.0")
	Version string `json:"version"`
}

// CurrentProtocolVersion defines the current version of the push protocol.
// This should be updated when making breaking changes to the protocol.
const CurrentProtocolVersion = "v1.0.0"

// Event represents notifications a pipeline session can emit to subscribers.
// Any type implementing this interface can be published through a dispatcher.
type Event interface {
	GetMetadata() Metadata
}
