// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client implements the subscriber side of the status stream: a
// WebSocket connection manager with bounded reconnection and an
// aggregator that folds the event stream into a view of the pipeline.
package client

import (
	"errors"
	"fmt"
)

// ErrReconnectExhausted is returned once every reconnection attempt has
// failed. The stream is dead; callers should fall back to polling the
// status endpoint.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// TransportError wraps a connection-level failure (dial, read, write).
// Transport errors are retryable up to the reconnect budget.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err as a transport failure during op.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// IsTransportError reports whether err is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
