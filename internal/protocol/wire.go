// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies the payload carried by a wire envelope.
type MessageType string

// Wire message types
const (
	MessageAgentStatus        MessageType = "agent_status"
	MessageProcessingComplete MessageType = "processing_complete"
	MessageProcessingError    MessageType = "processing_error"
)

// Envelope is the JSON frame sent over the push channel:
// {type, payload, timestamp, session_id}.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
}

// ProtocolError marks a malformed or out-of-order message: unknown stage id,
// unknown session, progress regression, undecodable frame. Protocol errors
// are logged and the offending message dropped; the stream continues.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Cause)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NewProtocolError builds a ProtocolError with an optional cause.
func NewProtocolError(reason string, cause error) *ProtocolError {
	return &ProtocolError{Reason: reason, Cause: cause}
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Encode wraps an event in a wire envelope and marshals it. The envelope
// type is derived from the event's concrete type.
func Encode(event Event) ([]byte, error) {
	var msgType MessageType
	var ts time.Time

	switch e := event.(type) {
	case AgentStatusEvent:
		msgType, ts = MessageAgentStatus, e.Timestamp
	case ProcessingCompleteEvent:
		msgType, ts = MessageProcessingComplete, e.CompletedAt
	case ProcessingErrorEvent:
		msgType, ts = MessageProcessingError, e.Timestamp
	default:
		return nil, NewProtocolError(fmt.Sprintf("unsupported event type %T", event), nil)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return json.Marshal(Envelope{
		Type:      msgType,
		Payload:   payload,
		Timestamp: ts,
		SessionID: GetSessionID(event),
	})
}

// Decode parses a wire frame back into its typed event. Malformed frames and
// unknown message types return a ProtocolError so the receiver can drop them
// without tearing down the stream.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewProtocolError("undecodable frame", err)
	}

	switch env.Type {
	case MessageAgentStatus:
		var e AgentStatusEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, NewProtocolError("malformed agent_status payload", err)
		}
		return e, nil
	case MessageProcessingComplete:
		var e ProcessingCompleteEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, NewProtocolError("malformed processing_complete payload", err)
		}
		return e, nil
	case MessageProcessingError:
		var e ProcessingErrorEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, NewProtocolError("malformed processing_error payload", err)
		}
		return e, nil
	default:
		return nil, NewProtocolError(fmt.Sprintf("unknown message type %q", env.Type), nil)
	}
}
