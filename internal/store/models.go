// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists completed sessions for later retrieval: the live
// session store hands over a final snapshot before eviction and the results
// endpoint serves archived records from here.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/plainlex/plainlex/internal/protocol"
)

// ResultsJSON stores the analysis results document as a JSON column.
type ResultsJSON struct {
	Results *protocol.AnalysisResults
}

// Scan implements the sql.Scanner interface
func (r *ResultsJSON) Scan(value any) error {
	if value == nil {
		r.Results = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			r.Results = nil
			return nil
		}
		return json.Unmarshal(v, &r.Results)
	case string:
		if v == "" {
			r.Results = nil
			return nil
		}
		return json.Unmarshal([]byte(v), &r.Results)
	default:
		return errors.New("cannot scan ResultsJSON from non-string/[]byte value")
	}
}

// Value implements the driver.Valuer interface
func (r ResultsJSON) Value() (driver.Value, error) {
	if r.Results == nil {
		return nil, nil
	}
	return json.Marshal(r.Results)
}

// StageLogsJSON stores a stage's log lines as a JSON column.
type StageLogsJSON []protocol.LogLine

// Scan implements the sql.Scanner interface
func (l *StageLogsJSON) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("cannot scan StageLogsJSON from non-string/[]byte value")
	}
}

// Value implements the driver.Valuer interface
func (l StageLogsJSON) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	return json.Marshal(l)
}

// SessionRecord is the GORM model for an archived session.
type SessionRecord struct {
	ID              string        `gorm:"primaryKey;type:text" json:"id"`
	DocumentID      string        `gorm:"index;not null;type:text" json:"document_id"`
	Status          string        `gorm:"not null;type:text" json:"status"`
	OverallProgress float64       `json:"overall_progress"`
	Results         ResultsJSON   `gorm:"type:text" json:"results"`
	StartedAt       time.Time     `json:"started_at"`
	ArchivedAt      time.Time     `gorm:"autoCreateTime" json:"archived_at"`
	Stages          []StageRecord `gorm:"foreignKey:SessionRecordID;constraint:OnDelete:CASCADE" json:"stages"`
}

// StageRecord is the GORM model for one archived stage of a session.
type StageRecord struct {
	ID              uint          `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionRecordID string        `gorm:"index:idx_stage_records_session_position;not null;type:text" json:"session_id"`
	Position        int           `gorm:"index:idx_stage_records_session_position" json:"position"`
	StageID         string        `gorm:"not null;type:text" json:"stage_id"`
	Name            string        `gorm:"type:text" json:"name"`
	Status          string        `gorm:"not null;type:text" json:"status"`
	Progress        float64       `json:"progress"`
	Message         string        `gorm:"type:text" json:"message"`
	Error           string        `gorm:"type:text" json:"error"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	Logs            StageLogsJSON `gorm:"type:text" json:"logs"`
}
