// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/plainlex/plainlex/internal/dispatch"
	"github.com/plainlex/plainlex/internal/protocol"
	"github.com/plainlex/plainlex/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventRecorder collects published events for assertions.
type eventRecorder struct {
	mu       sync.Mutex
	statuses []protocol.AgentStatusEvent
	complete []protocol.ProcessingCompleteEvent
	errors   []protocol.ProcessingErrorEvent
}

func newRecorder(d *dispatch.Dispatcher) *eventRecorder {
	r := &eventRecorder{}
	d.Subscribe(protocol.MessageAgentStatus, func(e protocol.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.statuses = append(r.statuses, e.(protocol.AgentStatusEvent))
	})
	d.Subscribe(protocol.MessageProcessingComplete, func(e protocol.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.complete = append(r.complete, e.(protocol.ProcessingCompleteEvent))
	})
	d.Subscribe(protocol.MessageProcessingError, func(e protocol.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errors = append(r.errors, e.(protocol.ProcessingErrorEvent))
	})
	return r
}

func (r *eventRecorder) statusEvents() []protocol.AgentStatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.AgentStatusEvent, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func (r *eventRecorder) completeEvents() []protocol.ProcessingCompleteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.ProcessingCompleteEvent, len(r.complete))
	copy(out, r.complete)
	return out
}

func (r *eventRecorder) errorEvents() []protocol.ProcessingErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.ProcessingErrorEvent, len(r.errors))
	copy(out, r.errors)
	return out
}

func newTestSession(t *testing.T) (*Session, *eventRecorder) {
	t.Helper()
	d := dispatch.New()
	t.Cleanup(d.Close)
	rec := newRecorder(d)
	s := New("doc-123", registry.Default(), d)
	return s, rec
}

func TestSessionHappyPath(t *testing.T) {
	s, rec := newTestSession(t)
	reg := registry.Default()

	assert.Equal(t, protocol.SessionInitializing, s.Status())
	s.Start()
	assert.Equal(t, protocol.SessionProcessing, s.Status())

	for _, def := range reg.Stages() {
		for _, p := range []float64{20, 40, 60, 80, 100} {
			s.Advance(def.ID, p, "working")
		}
	}

	assert.Equal(t, protocol.SessionCompleted, s.Status())
	assert.Equal(t, float64(100), s.OverallProgress())

	complete := rec.completeEvents()
	require.Len(t, complete, 1, "exactly one processing_complete")
	assert.Equal(t, s.ID(), complete[0].SessionID)
	assert.Len(t, complete[0].Results.Metadata.AgentsUsed, reg.Len())

	// every stage must have gone through running and completed
	snap := s.Snapshot()
	require.Len(t, snap.Stages, reg.Len())
	for i, st := range snap.Stages {
		assert.Equal(t, reg.At(i).ID, st.ID, "stages stay in registry order")
		assert.Equal(t, protocol.StageCompleted, st.Status)
		assert.Equal(t, float64(100), st.Progress)
		require.NotNil(t, st.StartedAt)
		require.NotNil(t, st.EndedAt)
	}
}

func TestSessionStartEmitsFirstStageRunning(t *testing.T) {
	s, rec := newTestSession(t)

	s.Start()

	statuses := rec.statusEvents()
	require.Len(t, statuses, 1)
	assert.Equal(t, "ingestion", statuses[0].AgentID)
	assert.Equal(t, protocol.StageRunning, statuses[0].Status)
	assert.Equal(t, s.ID(), statuses[0].SessionID)
	assert.NotEmpty(t, statuses[0].IdempotencyKey)
	assert.Equal(t, protocol.CurrentProtocolVersion, statuses[0].Version)
}

func TestSessionDoubleStartIgnored(t *testing.T) {
	s, rec := newTestSession(t)

	s.Start()
	s.Start()

	assert.Len(t, rec.statusEvents(), 1)
	assert.Equal(t, protocol.SessionProcessing, s.Status())
}

func TestSessionStageCompletionStartsNext(t *testing.T) {
	s, rec := newTestSession(t)

	s.Start()
	s.Advance("ingestion", 100, "done")

	statuses := rec.statusEvents()
	require.Len(t, statuses, 3)
	assert.Equal(t, "ingestion", statuses[1].AgentID)
	assert.Equal(t, protocol.StageCompleted, statuses[1].Status)
	assert.Equal(t, "parsing", statuses[2].AgentID)
	assert.Equal(t, protocol.StageRunning, statuses[2].Status)
}

func TestSessionProgressMonotonic(t *testing.T) {
	s, rec := newTestSession(t)

	s.Start()
	s.Advance("ingestion", 60, "most of the way")
	s.Advance("ingestion", 30, "regression must be dropped")

	snap := s.Snapshot()
	assert.Equal(t, float64(60), snap.Stages[0].Progress)

	// the regressing report produced no event
	statuses := rec.statusEvents()
	require.Len(t, statuses, 2)
	assert.Equal(t, float64(60), statuses[1].Progress)
}

func TestSessionRejectedFirstReportLeavesStagePending(t *testing.T) {
	s, rec := newTestSession(t)

	s.Start()
	s.Advance("ingestion", 100, "done")

	// a restarted producer can hand the stage back as pending
	s.mu.Lock()
	s.stages[1] = newStageState(s.registry.At(1))
	s.mu.Unlock()
	before := len(rec.statusEvents())

	s.Advance("parsing", -5, "bogus report")

	snap := s.Snapshot()
	assert.Equal(t, protocol.StagePending, snap.Stages[1].Status, "discarded report must not start the stage")
	assert.Nil(t, snap.Stages[1].StartedAt)
	assert.Len(t, rec.statusEvents(), before)
}

func TestSessionAdvanceOutOfOrderRejected(t *testing.T) {
	s, rec := newTestSession(t)

	s.Start()
	s.Advance("compliance", 50, "skipping ahead")

	snap := s.Snapshot()
	last := snap.Stages[len(snap.Stages)-1]
	assert.Equal(t, protocol.StagePending, last.Status)
	assert.Len(t, rec.statusEvents(), 1)
}

func TestSessionAdvanceUnknownStageIgnored(t *testing.T) {
	s, rec := newTestSession(t)

	s.Start()
	s.Advance("notarization", 50, "no such stage")

	assert.Len(t, rec.statusEvents(), 1)
}

func TestSessionProgressClampedAt100(t *testing.T) {
	s, _ := newTestSession(t)

	s.Start()
	s.Advance("ingestion", 250, "overshoot")

	snap := s.Snapshot()
	assert.Equal(t, float64(100), snap.Stages[0].Progress)
	assert.Equal(t, protocol.StageCompleted, snap.Stages[0].Status)
}

func TestSessionFailure(t *testing.T) {
	s, rec := newTestSession(t)

	s.Start()
	s.Advance("ingestion", 100, "done")
	s.Advance("parsing", 100, "done")
	s.Advance("interpretation", 40, "interpreting")
	s.Fail("interpretation", "Compliance check failed")

	assert.Equal(t, protocol.SessionFailed, s.Status())

	errs := rec.errorEvents()
	require.Len(t, errs, 1)
	assert.Equal(t, "interpretation", errs[0].AgentID)
	assert.Equal(t, "Compliance check failed", errs[0].Error, "error text is carried verbatim")

	statuses := rec.statusEvents()
	last := statuses[len(statuses)-1]
	assert.Equal(t, protocol.StageFailed, last.Status)
	assert.Equal(t, "interpretation", last.AgentID)

	snap := s.Snapshot()
	assert.Equal(t, "Compliance check failed", snap.Stages[2].Error)
	assert.Equal(t, protocol.StagePending, snap.Stages[3].Status, "later stages stay pending")
	assert.Empty(t, rec.completeEvents())
}

func TestSessionTerminalIsFinal(t *testing.T) {
	s, rec := newTestSession(t)

	s.Start()
	s.Fail("ingestion", "boom")
	before := len(rec.statusEvents())

	s.Advance("ingestion", 50, "too late")
	s.Fail("parsing", "again")
	s.Cancel("again")

	assert.Len(t, rec.statusEvents(), before)
	assert.Len(t, rec.errorEvents(), 1)
	assert.Equal(t, protocol.SessionFailed, s.Status())
}

func TestSessionCancel(t *testing.T) {
	s, rec := newTestSession(t)

	s.Start()
	s.Advance("ingestion", 100, "done")
	s.Cancel("user request")

	assert.Equal(t, protocol.SessionFailed, s.Status())
	errs := rec.errorEvents()
	require.Len(t, errs, 1)
	assert.Equal(t, "parsing", errs[0].AgentID)
	assert.Contains(t, errs[0].Error, "user request")
}

func TestSessionOverallProgressMean(t *testing.T) {
	s, _ := newTestSession(t)

	s.Start()
	s.Advance("ingestion", 100, "done")
	s.Advance("parsing", 50, "halfway")

	// (100 + 50 + 0*4) / 6 = 25
	assert.InDelta(t, 25.0, s.OverallProgress(), 0.001)
}

func TestSessionETA(t *testing.T) {
	s, _ := newTestSession(t)

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	now := base
	s.clock = func() time.Time { return now }

	s.Start()
	assert.Nil(t, s.Snapshot().EstimatedTimeRemaining, "no estimate before first completion")

	now = base.Add(10 * time.Second)
	s.Advance("ingestion", 100, "done")

	// one stage took 10s, five stages remain
	eta := s.Snapshot().EstimatedTimeRemaining
	require.NotNil(t, eta)
	assert.InDelta(t, 50.0, *eta, 0.001)

	// running stage at 50% counts as half a stage
	s.Advance("parsing", 50, "halfway")
	eta = s.Snapshot().EstimatedTimeRemaining
	require.NotNil(t, eta)
	assert.InDelta(t, 45.0, *eta, 0.001)
}

func TestSessionETAClearedOnTerminal(t *testing.T) {
	s, _ := newTestSession(t)
	reg := registry.Default()

	s.Start()
	for _, def := range reg.Stages() {
		s.Advance(def.ID, 100, "done")
	}

	assert.Nil(t, s.Snapshot().EstimatedTimeRemaining)
}

func TestSessionResults(t *testing.T) {
	s, _ := newTestSession(t)
	reg := registry.Default()

	_, ok := s.Results()
	assert.False(t, ok, "no results before completion")

	s.SetResults(protocol.AnalysisResults{Summary: "plain words"})
	s.Start()
	for _, def := range reg.Stages() {
		s.Advance(def.ID, 100, "done")
	}

	results, ok := s.Results()
	require.True(t, ok)
	assert.Equal(t, "plain words", results.Summary)
	assert.Equal(t, reg.Len(), len(results.Metadata.AgentsUsed))
	assert.NotZero(t, results.Metadata.CompletedAt)
}

func TestSessionReplayEvents(t *testing.T) {
	s, _ := newTestSession(t)

	s.Start()
	s.Advance("ingestion", 100, "done")
	s.Advance("parsing", 30, "parsing clauses")

	replay := s.ReplayEvents()
	require.Len(t, replay, registry.Default().Len())

	assert.Equal(t, "ingestion", replay[0].AgentID)
	assert.Equal(t, protocol.StageCompleted, replay[0].Status)
	assert.Equal(t, "parsing", replay[1].AgentID)
	assert.Equal(t, protocol.StageRunning, replay[1].Status)
	assert.Equal(t, float64(30), replay[1].Progress)
	for _, e := range replay[2:] {
		assert.Equal(t, protocol.StagePending, e.Status)
	}

	// deterministic keys: replaying twice yields identical events
	again := s.ReplayEvents()
	for i := range replay {
		assert.Equal(t, replay[i].IdempotencyKey, again[i].IdempotencyKey)
	}
}

func TestSessionReplayTimestampsMatchLogLines(t *testing.T) {
	s, _ := newTestSession(t)

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	now := base
	s.clock = func() time.Time { return now }

	s.Start()
	now = base.Add(5 * time.Second)
	s.Advance("ingestion", 100, "done")
	now = base.Add(9 * time.Second)
	s.Advance("parsing", 30, "parsing clauses")

	// subscribers dedup log lines on (timestamp, text); the replayed event
	// must carry the timestamp the message was originally logged with
	replay := s.ReplayEvents()
	snap := s.Snapshot()

	assert.Equal(t, "done", replay[0].Message)
	assert.Equal(t, snap.Stages[0].Logs[len(snap.Stages[0].Logs)-1].Timestamp, replay[0].Timestamp)
	assert.Equal(t, "parsing clauses", replay[1].Message)
	assert.Equal(t, base.Add(9*time.Second), replay[1].Timestamp)
}

func TestSessionSnapshotIsDeepCopy(t *testing.T) {
	s, _ := newTestSession(t)

	s.Start()
	s.Advance("ingestion", 50, "first log line")

	snap := s.Snapshot()
	require.NotEmpty(t, snap.Stages[0].Logs)
	snap.Stages[0].Logs[0].Text = "mutated"
	snap.Stages[0].Status = protocol.StageFailed

	fresh := s.Snapshot()
	assert.Equal(t, "first log line", fresh.Stages[0].Logs[len(fresh.Stages[0].Logs)-1].Text)
	assert.Equal(t, protocol.StageRunning, fresh.Stages[0].Status)
}

func TestSessionConcurrentSnapshots(t *testing.T) {
	s, _ := newTestSession(t)
	reg := registry.Default()

	s.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, def := range reg.Stages() {
			for _, p := range []float64{25, 50, 75, 100} {
				s.Advance(def.ID, p, "working")
			}
		}
	}()

	for i := 0; i < 100; i++ {
		snap := s.Snapshot()
		assert.GreaterOrEqual(t, snap.OverallProgress, 0.0)
		assert.LessOrEqual(t, snap.OverallProgress, 100.0)
	}
	wg.Wait()

	assert.Equal(t, protocol.SessionCompleted, s.Status())
}
