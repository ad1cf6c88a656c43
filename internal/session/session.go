// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session implements the pipeline session state machine: one
// instance per document-processing run, owning its stage states, deriving
// aggregate progress and ETA, and publishing transitions through a
// dispatcher owned alongside it.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/plainlex/plainlex/internal/dispatch"
	"github.com/plainlex/plainlex/internal/logger"
	"github.com/plainlex/plainlex/internal/protocol"
	"github.com/plainlex/plainlex/internal/registry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetSessionLogger()
		log = &l
	})
	return log
}

// Session models a document's journey through the ordered pipeline stages.
// All mutations come from the producer side (Start, Advance, Fail, Cancel)
// under a single-writer discipline; readers take immutable snapshots.
type Session struct {
	mu sync.RWMutex

	id         string
	documentID string
	status     protocol.SessionStatus
	stages     []*stageState
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher

	createdAt  time.Time
	startedAt  time.Time
	terminalAt time.Time

	results *protocol.AnalysisResults
	clock   func() time.Time
}

// New creates a session for one document, seeding a Pending stage per
// registry entry. The dispatcher is owned by the caller and must outlive
// the session's producer.
func New(documentID string, reg *registry.Registry, d *dispatch.Dispatcher) *Session {
	s := &Session{
		id:         uuid.New().String(),
		documentID: documentID,
		status:     protocol.SessionInitializing,
		registry:   reg,
		dispatcher: d,
		createdAt:  time.Now().UTC(),
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, def := range reg.Stages() {
		s.stages = append(s.stages, newStageState(def))
	}
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// DocumentID returns the document this session processes.
func (s *Session) DocumentID() string {
	return s.documentID
}

// Status returns the session's current status.
func (s *Session) Status() protocol.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// TerminalAt returns when the session reached a terminal state, or zero.
func (s *Session) TerminalAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminalAt
}

// Start transitions Initializing → Processing and emits the first stage's
// Running event. Starting twice is a protocol violation and a no-op.
func (s *Session) Start() {
	s.mu.Lock()
	if s.status != protocol.SessionInitializing {
		s.mu.Unlock()
		s.logViolation("start", "", "session already started")
		return
	}
	now := s.clock()
	s.status = protocol.SessionProcessing
	s.startedAt = now

	first := s.stages[0]
	first.status = protocol.StageRunning
	first.startedAt = &now
	first.message = fmt.Sprintf("Starting %s", first.def.DisplayName)
	first.appendLog(now, first.message)
	event := s.statusEventLocked(first, now)
	s.mu.Unlock()

	getLog().Info().
		Str("session_id", s.id).
		Str("document_id", s.documentID).
		Msg("Session started")
	s.publish(protocol.MessageAgentStatus, event)
}

// Advance applies a progress report for a stage. The stage must be the
// currently Running one, or the next Pending stage (auto-transitioned to
// Running on its first report). Progress is monotonic: a report lower than
// what is already recorded is discarded. Reaching 100 completes the stage
// and either starts the next one or, on the last stage, completes the
// session and emits the terminal processing_complete event.
func (s *Session) Advance(stageID string, progress float64, message string) {
	s.mu.Lock()

	if s.status != protocol.SessionProcessing {
		s.mu.Unlock()
		s.logViolation("advance", stageID, "session is not processing")
		return
	}

	_, idx, ok := s.registry.Lookup(stageID)
	if !ok {
		s.mu.Unlock()
		s.logViolation("advance", stageID, "unknown stage id")
		return
	}

	stage := s.stages[idx]
	now := s.clock()

	var events []pendingEvent

	switch stage.status {
	case protocol.StageRunning:
		// fall through to the progress update
	case protocol.StagePending:
		if !s.predecessorsCompletedLocked(idx) {
			s.mu.Unlock()
			s.logViolation("advance", stageID, "predecessor stages not completed")
			return
		}
	default:
		s.mu.Unlock()
		s.logViolation("advance", stageID, "stage already terminal")
		return
	}

	// validate before mutating so a discarded report leaves no trace
	if progress < stage.progress {
		s.mu.Unlock()
		s.logViolation("advance", stageID, fmt.Sprintf("progress regression %.1f < %.1f", progress, stage.progress))
		return
	}
	if progress > 100 {
		progress = 100
	}

	if stage.status == protocol.StagePending {
		stage.status = protocol.StageRunning
		stage.startedAt = &now
	}

	stage.progress = progress
	if message != "" {
		stage.message = message
		stage.appendLog(now, message)
	}

	if progress >= 100 {
		stage.status = protocol.StageCompleted
		stage.progress = 100
		stage.endedAt = &now
		events = append(events, pendingEvent{protocol.MessageAgentStatus, s.statusEventLocked(stage, now)})

		if idx+1 < len(s.stages) {
			next := s.stages[idx+1]
			next.status = protocol.StageRunning
			next.startedAt = &now
			next.message = fmt.Sprintf("Starting %s", next.def.DisplayName)
			next.appendLog(now, next.message)
			events = append(events, pendingEvent{protocol.MessageAgentStatus, s.statusEventLocked(next, now)})
		} else {
			s.status = protocol.SessionCompleted
			s.terminalAt = now
			events = append(events, pendingEvent{protocol.MessageProcessingComplete, s.completeEventLocked(now)})
		}
	} else {
		events = append(events, pendingEvent{protocol.MessageAgentStatus, s.statusEventLocked(stage, now)})
	}

	s.mu.Unlock()

	for _, e := range events {
		s.publish(e.msgType, e.event)
	}
}

// Fail marks the stage Failed with the given message, transitions the
// session to Failed, and emits the terminal processing_error event. The
// error message is surfaced to subscribers verbatim.
func (s *Session) Fail(stageID string, errorMessage string) {
	s.mu.Lock()

	if s.status.Terminal() {
		s.mu.Unlock()
		s.logViolation("fail", stageID, "session already terminal")
		return
	}

	_, idx, ok := s.registry.Lookup(stageID)
	if !ok {
		s.mu.Unlock()
		s.logViolation("fail", stageID, "unknown stage id")
		return
	}

	stage := s.stages[idx]
	now := s.clock()

	stage.status = protocol.StageFailed
	stage.errorMsg = errorMessage
	stage.message = errorMessage
	stage.appendLog(now, errorMessage)
	if stage.startedAt == nil {
		stage.startedAt = &now
	}
	stage.endedAt = &now

	s.status = protocol.SessionFailed
	s.terminalAt = now

	statusEvent := s.statusEventLocked(stage, now)
	errEvent := protocol.ProcessingErrorEvent{
		Metadata:  s.metadataLocked(),
		AgentID:   stageID,
		Error:     errorMessage,
		Timestamp: now,
	}
	s.mu.Unlock()

	getLog().Warn().
		Str("session_id", s.id).
		Str("stage", stageID).
		Str("error", errorMessage).
		Msg("Session failed")

	s.publish(protocol.MessageAgentStatus, statusEvent)
	s.publish(protocol.MessageProcessingError, errEvent)
}

// Cancel transitions the session directly to Failed with a
// cancellation-flavored error and stops further stage transitions. The
// currently running stage (or the first pending one) carries the message.
func (s *Session) Cancel(reason string) {
	s.mu.RLock()
	if s.status.Terminal() {
		s.mu.RUnlock()
		s.logViolation("cancel", "", "session already terminal")
		return
	}
	target := ""
	for _, st := range s.stages {
		if st.status == protocol.StageRunning || st.status == protocol.StagePending {
			target = st.def.ID
			break
		}
	}
	s.mu.RUnlock()

	msg := "processing cancelled"
	if reason != "" {
		msg = fmt.Sprintf("processing cancelled: %s", reason)
	}
	if target == "" {
		target = s.registry.At(s.registry.Len() - 1).ID
	}
	s.Fail(target, msg)
}

// SetResults stores the final results document to be carried by the
// terminal processing_complete event. The producer must call this before
// the last stage completes; calling it afterwards has no effect on events
// already emitted.
func (s *Session) SetResults(results protocol.AnalysisResults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = &results
}

// Results returns the final results document once the session completed.
func (s *Session) Results() (protocol.AnalysisResults, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != protocol.SessionCompleted || s.results == nil {
		return protocol.AnalysisResults{}, false
	}
	return *s.results, true
}

// Snapshot returns a deep copy of the session's full current state, in
// registry order. Safe to call from any goroutine.
func (s *Session) Snapshot() protocol.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := protocol.SessionSnapshot{
		SessionID:              s.id,
		DocumentID:             s.documentID,
		Status:                 s.status,
		OverallProgress:        s.overallProgressLocked(),
		EstimatedTimeRemaining: s.etaLocked(s.clock()),
		CreatedAt:              s.createdAt,
	}
	for _, st := range s.stages {
		snap.Stages = append(snap.Stages, st.snapshot())
	}
	return snap
}

// ReplayEvents derives one agent_status event per stage, in registry order,
// from the current state. The hub sends these to a newly-connected or
// reconnecting subscriber so it can rebuild the view without missing
// history. Idempotency keys are deterministic so a subscriber that sees the
// same replay twice can deduplicate.
func (s *Session) ReplayEvents() []protocol.AgentStatusEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	events := make([]protocol.AgentStatusEvent, 0, len(s.stages))
	for _, st := range s.stages {
		e := s.statusEventLocked(st, now)
		// the carried message was recorded as the stage's latest log line;
		// reusing that line's timestamp keeps the (timestamp, text) pair
		// identical to what a live subscriber already appended
		if n := len(st.logs); n > 0 {
			e.Timestamp = st.logs[n-1].Timestamp
		} else if st.startedAt != nil {
			e.Timestamp = *st.startedAt
		} else {
			e.Timestamp = s.createdAt
		}
		e.IdempotencyKey = fmt.Sprintf("replay:%s:%s:%s:%.0f:%d", s.id, st.def.ID, st.status, st.progress, len(st.logs))
		events = append(events, e)
	}
	return events
}

// OverallProgress returns the equal-weight mean of per-stage progress.
func (s *Session) OverallProgress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overallProgressLocked()
}

// --- internal ---

type pendingEvent struct {
	msgType protocol.MessageType
	event   protocol.Event
}

func (s *Session) publish(msgType protocol.MessageType, event protocol.Event) {
	if s.dispatcher != nil {
		s.dispatcher.Publish(msgType, event)
	}
}

func (s *Session) metadataLocked() protocol.Metadata {
	return protocol.Metadata{
		SessionID:      s.id,
		IdempotencyKey: uuid.New().String(),
		Version:        protocol.CurrentProtocolVersion,
	}
}

func (s *Session) statusEventLocked(st *stageState, now time.Time) protocol.AgentStatusEvent {
	return protocol.AgentStatusEvent{
		Metadata:               s.metadataLocked(),
		AgentID:                st.def.ID,
		Status:                 st.status,
		Progress:               st.progress,
		Message:                st.message,
		EstimatedTimeRemaining: s.etaLocked(now),
		Timestamp:              now,
	}
}

func (s *Session) completeEventLocked(now time.Time) protocol.ProcessingCompleteEvent {
	results := protocol.AnalysisResults{}
	if s.results != nil {
		results = *s.results
	}
	results.Metadata.CompletedAt = now
	results.Metadata.ProcessingTime = now.Sub(s.startedAt)
	for _, st := range s.stages {
		results.Metadata.AgentsUsed = append(results.Metadata.AgentsUsed, st.def.ID)
	}
	s.results = &results

	return protocol.ProcessingCompleteEvent{
		Metadata:    s.metadataLocked(),
		CompletedAt: now,
		Results:     results,
	}
}

func (s *Session) predecessorsCompletedLocked(idx int) bool {
	for i := 0; i < idx; i++ {
		if s.stages[i].status != protocol.StageCompleted {
			return false
		}
	}
	return true
}

func (s *Session) overallProgressLocked() float64 {
	if len(s.stages) == 0 {
		return 0
	}
	var total float64
	for _, st := range s.stages {
		total += st.progress
	}
	return total / float64(len(s.stages))
}

// etaLocked extrapolates time remaining from the average duration of
// completed stages and the count of not-yet-completed stages. Returns nil
// until at least one stage completed, and for terminal sessions.
func (s *Session) etaLocked(now time.Time) *float64 {
	if s.status.Terminal() {
		return nil
	}

	var completed int
	var elapsed time.Duration
	var remaining float64
	for _, st := range s.stages {
		switch st.status {
		case protocol.StageCompleted:
			completed++
			elapsed += st.duration()
		case protocol.StageRunning:
			remaining += 1 - st.progress/100
		default:
			remaining++
		}
	}
	if completed == 0 {
		return nil
	}

	avg := elapsed.Seconds() / float64(completed)
	eta := avg * remaining
	return &eta
}

func (s *Session) logViolation(op, stageID, reason string) {
	getLog().Warn().
		Str("session_id", s.id).
		Str("op", op).
		Str("stage", stageID).
		Str("reason", reason).
		Msg("Protocol violation ignored")
}
