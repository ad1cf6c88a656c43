// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"time"

	"github.com/plainlex/plainlex/internal/protocol"
	"github.com/plainlex/plainlex/internal/registry"

	"github.com/samber/lo"
)

// stageState is the mutable per-stage record owned by a Session. It is only
// ever mutated by the session's producer side under the session lock;
// everything leaving the session is a deep copy.
type stageState struct {
	def       registry.StageDefinition
	status    protocol.StageStatus
	progress  float64
	message   string
	errorMsg  string
	startedAt *time.Time
	endedAt   *time.Time
	logs      []protocol.LogLine
}

func newStageState(def registry.StageDefinition) *stageState {
	return &stageState{
		def:    def,
		status: protocol.StagePending,
	}
}

func (s *stageState) appendLog(at time.Time, text string) {
	if text == "" {
		return
	}
	s.logs = append(s.logs, protocol.LogLine{Timestamp: at, Text: text})
}

func (s *stageState) duration() time.Duration {
	if s.startedAt == nil || s.endedAt == nil {
		return 0
	}
	return s.endedAt.Sub(*s.startedAt)
}

func (s *stageState) snapshot() protocol.StageSnapshot {
	snap := protocol.StageSnapshot{
		ID:       s.def.ID,
		Name:     s.def.DisplayName,
		Status:   s.status,
		Progress: s.progress,
		Message:  s.message,
		Error:    s.errorMsg,
		Logs:     lo.Map(s.logs, func(l protocol.LogLine, _ int) protocol.LogLine { return l }),
	}
	if s.startedAt != nil {
		t := *s.startedAt
		snap.StartedAt = &t
	}
	if s.endedAt != nil {
		t := *s.endedAt
		snap.EndedAt = &t
	}
	return snap
}
