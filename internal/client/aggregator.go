// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"sync"
	"time"

	"github.com/plainlex/plainlex/internal/protocol"
	"github.com/plainlex/plainlex/internal/registry"

	"github.com/samber/lo"
)

// DefaultLogCapacity bounds the per-stage log ring when the caller does
// not choose one.
const DefaultLogCapacity = 200

// StageView is the aggregator's view of one pipeline stage.
type StageView struct {
	ID       string
	Name     string
	Status   protocol.StageStatus
	Progress float64
	Message  string
	Error    string
	Logs     []protocol.LogLine
}

// ViewModel is the full client-side view of a processing run, rebuilt
// from the event stream. Stages keep registry order regardless of event
// arrival order.
type ViewModel struct {
	SessionID              string
	Status                 protocol.SessionStatus
	OverallProgress        float64
	EstimatedTimeRemaining *float64
	Error                  string
	Results                *protocol.AnalysisResults
	Stages                 []StageView
}

// CurrentStage returns the running stage, or the first non-terminal one.
func (v ViewModel) CurrentStage() (StageView, bool) {
	for _, st := range v.Stages {
		if st.Status == protocol.StageRunning {
			return st, true
		}
	}
	for _, st := range v.Stages {
		if st.Status == protocol.StagePending {
			return st, true
		}
	}
	return StageView{}, false
}

// Aggregator folds status events into a ViewModel. Applying the same
// event twice, or replaying an entire history after a reconnect, leaves
// the view unchanged: duplicates are dropped by idempotency key, stage
// progress never moves backwards, and log lines deduplicate on
// (timestamp, text).
type Aggregator struct {
	mu          sync.RWMutex
	view        ViewModel
	dedup       *EventDeduplicator
	logCapacity int
	logSeen     map[string]map[logKey]struct{}
}

type logKey struct {
	at   int64
	text string
}

// NewAggregator creates an aggregator with all stages Pending.
func NewAggregator(reg *registry.Registry, logCapacity int) *Aggregator {
	if logCapacity <= 0 {
		logCapacity = DefaultLogCapacity
	}

	view := ViewModel{Status: protocol.SessionInitializing}
	logSeen := make(map[string]map[logKey]struct{})
	for _, def := range reg.Stages() {
		view.Stages = append(view.Stages, StageView{
			ID:     def.ID,
			Name:   def.DisplayName,
			Status: protocol.StagePending,
		})
		logSeen[def.ID] = make(map[logKey]struct{})
	}

	return &Aggregator{
		view:        view,
		dedup:       NewEventDeduplicator(),
		logCapacity: logCapacity,
		logSeen:     logSeen,
	}
}

// Apply folds one event into the view. Unknown stages and duplicates are
// ignored; events arriving after a terminal state only fill in results.
func (a *Aggregator) Apply(event protocol.Event) {
	if !a.dedup.ShouldProcess(event) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.view.SessionID == "" {
		a.view.SessionID = protocol.GetSessionID(event)
	}

	switch e := event.(type) {
	case protocol.AgentStatusEvent:
		a.applyStatus(e)
	case protocol.ProcessingCompleteEvent:
		results := e.Results
		a.view.Results = &results
		a.view.Status = protocol.SessionCompleted
		a.view.EstimatedTimeRemaining = nil
		for i := range a.view.Stages {
			a.view.Stages[i].Status = protocol.StageCompleted
			a.view.Stages[i].Progress = 100
		}
		a.recomputeLocked()
	case protocol.ProcessingErrorEvent:
		a.view.Status = protocol.SessionFailed
		a.view.Error = e.Error
		a.view.EstimatedTimeRemaining = nil
		if idx := a.stageIndexLocked(e.AgentID); idx >= 0 {
			st := &a.view.Stages[idx]
			st.Status = protocol.StageFailed
			st.Error = e.Error
			a.appendLogLocked(idx, e.Timestamp, e.Error)
		}
		a.recomputeLocked()
	}
}

func (a *Aggregator) applyStatus(e protocol.AgentStatusEvent) {
	if a.view.Status.Terminal() {
		return
	}

	idx := a.stageIndexLocked(e.AgentID)
	if idx < 0 {
		return
	}
	st := &a.view.Stages[idx]

	// a replay can arrive interleaved with older live events; never let a
	// stage move backwards
	if stageRank(e.Status) < stageRank(st.Status) {
		return
	}
	st.Status = e.Status
	if e.Progress > st.Progress {
		st.Progress = e.Progress
	}
	if e.Message != "" {
		st.Message = e.Message
		a.appendLogLocked(idx, e.Timestamp, e.Message)
	}
	if e.Status == protocol.StageFailed {
		st.Error = e.Message
	}

	if a.view.Status == protocol.SessionInitializing {
		a.view.Status = protocol.SessionProcessing
	}
	a.view.EstimatedTimeRemaining = e.EstimatedTimeRemaining
	a.recomputeLocked()
}

// View returns a deep copy of the current view.
func (a *Aggregator) View() ViewModel {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := a.view
	out.Stages = make([]StageView, len(a.view.Stages))
	copy(out.Stages, a.view.Stages)
	for i := range out.Stages {
		out.Stages[i].Logs = lo.Map(a.view.Stages[i].Logs, func(l protocol.LogLine, _ int) protocol.LogLine {
			return l
		})
	}
	if a.view.EstimatedTimeRemaining != nil {
		eta := *a.view.EstimatedTimeRemaining
		out.EstimatedTimeRemaining = &eta
	}
	if a.view.Results != nil {
		results := *a.view.Results
		out.Results = &results
	}
	return out
}

// Close releases the deduplicator's cleanup goroutine.
func (a *Aggregator) Close() {
	a.dedup.Close()
}

func (a *Aggregator) stageIndexLocked(stageID string) int {
	for i, st := range a.view.Stages {
		if st.ID == stageID {
			return i
		}
	}
	return -1
}

func (a *Aggregator) appendLogLocked(idx int, at time.Time, text string) {
	st := &a.view.Stages[idx]
	key := logKey{at: at.UnixNano(), text: text}
	seen := a.logSeen[st.ID]
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}

	st.Logs = append(st.Logs, protocol.LogLine{Timestamp: at, Text: text})
	if len(st.Logs) > a.logCapacity {
		dropped := st.Logs[0]
		delete(seen, logKey{at: dropped.Timestamp.UnixNano(), text: dropped.Text})
		st.Logs = st.Logs[1:]
	}
}

func (a *Aggregator) recomputeLocked() {
	if len(a.view.Stages) == 0 {
		a.view.OverallProgress = 0
		return
	}
	var total float64
	for _, st := range a.view.Stages {
		total += st.Progress
	}
	a.view.OverallProgress = total / float64(len(a.view.Stages))
}

// stageRank orders stage statuses by lifecycle position so stale events
// cannot regress a stage.
func stageRank(s protocol.StageStatus) int {
	switch s {
	case protocol.StagePending:
		return 0
	case protocol.StageRunning:
		return 1
	case protocol.StageCompleted, protocol.StageFailed:
		return 2
	default:
		return 0
	}
}
