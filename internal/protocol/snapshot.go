// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import "time"

// SessionSnapshot is the full current state of a pipeline session: the same
// data the push channel replays to a newly connected or reconnecting
// subscriber, and the body of the pull-fallback status endpoint.
type SessionSnapshot struct {
	SessionID              string          `json:"session_id"`
	DocumentID             string          `json:"document_id"`
	Status                 SessionStatus   `json:"status"`
	OverallProgress        float64         `json:"overall_progress"`
	EstimatedTimeRemaining *float64        `json:"estimated_time_remaining,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	Stages                 []StageSnapshot `json:"stages"`
}

// StageSnapshot is the point-in-time state of one stage within a snapshot.
type StageSnapshot struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Status    StageStatus `json:"status"`
	Progress  float64     `json:"progress"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Logs      []LogLine   `json:"logs,omitempty"`
}

// LogLine is one timestamped log entry attached to a stage.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// CurrentStage returns the id of the running stage, or "" when none is
// running.
func (s SessionSnapshot) CurrentStage() string {
	for _, st := range s.Stages {
		if st.Status == StageRunning {
			return st.ID
		}
	}
	return ""
}
