// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Here lies the definition of everything a pipeline session can push to its
// subscribers. All data a subscriber can receive from a session is named:
// Event. Events originate from stage transitions inside the session (an
// Advance call produces an AgentStatusEvent, the last stage completing
// produces a ProcessingCompleteEvent) or from the session reaching a failed
// terminal state (ProcessingErrorEvent). Snapshot replay on (re)connect
// re-emits AgentStatusEvents in registry order before live forwarding resumes.
package protocol

import "time"

// StageStatus represents the status of a single pipeline stage on the wire.
type StageStatus string

// Stage status constants
const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// SessionStatus represents the status of a whole pipeline session.
type SessionStatus string

// Session status constants
const (
	SessionInitializing SessionStatus = "initializing"
	SessionProcessing   SessionStatus = "processing"
	SessionCompleted    SessionStatus = "completed"
	SessionFailed       SessionStatus = "failed"
)

// Terminal returns true for statuses that accept no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// GetIdempotencyKey extracts the idempotency key from any event.
func GetIdempotencyKey(event Event) string {
	return event.GetMetadata().IdempotencyKey
}

// GetSessionID extracts the session correlation id from any event.
func GetSessionID(event Event) string {
	return event.GetMetadata().SessionID
}

// AgentStatusEvent is published on every stage transition: a stage starting,
// a progress report, a stage completing, or a stage failing.
type AgentStatusEvent struct {
	Metadata
	AgentID  string      `json:"agentId"`
	Status   StageStatus `json:"status"`
	Progress float64     `json:"progress"`
	Message  string      `json:"message"`
	// EstimatedTimeRemaining is seconds until the whole session completes,
	// present only while the session can still estimate it.
	EstimatedTimeRemaining *float64  `json:"estimatedTimeRemaining,omitempty"`
	Timestamp              time.Time `json:"timestamp"`
}

func (e AgentStatusEvent) GetMetadata() Metadata {
	return e.Metadata
}

// ProcessingCompleteEvent is the single terminal event of a successful
// session. It carries the full results document.
type ProcessingCompleteEvent struct {
	Metadata
	CompletedAt time.Time       `json:"completedAt"`
	Results     AnalysisResults `json:"results"`
}

func (e ProcessingCompleteEvent) GetMetadata() Metadata {
	return e.Metadata
}

// ProcessingErrorEvent is the single terminal event of a failed session.
// AgentID names the stage that failed; Error carries its message verbatim.
type ProcessingErrorEvent struct {
	Metadata
	AgentID   string    `json:"agentId,omitempty"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ProcessingErrorEvent) GetMetadata() Metadata {
	return e.Metadata
}
