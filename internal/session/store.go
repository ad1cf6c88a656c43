// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"github.com/plainlex/plainlex/internal/protocol"
)

// Archiver receives a session's final snapshot and results before the
// store evicts it. Implementations persist them for later retrieval.
type Archiver interface {
	Archive(snapshot protocol.SessionSnapshot, results *protocol.AnalysisResults) error
}

// Store holds live sessions keyed by session id and evicts terminal ones
// after a TTL. A background janitor sweeps on a fixed interval; sessions
// are archived before eviction when an archiver is configured.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl      time.Duration
	archiver Archiver

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStore creates a store and starts its janitor. ttl bounds how long a
// terminal session stays queryable; sweepInterval is how often the janitor
// runs. Close must be called to stop the janitor.
func NewStore(ttl, sweepInterval time.Duration, archiver Archiver) *Store {
	st := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		archiver: archiver,
		stopCh:   make(chan struct{}),
	}
	st.wg.Add(1)
	go st.janitor(sweepInterval)
	return st
}

// Put registers a session under its id.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID()] = s
}

// Get returns the live session for id, if present.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Close stops the janitor and archives every remaining terminal session.
func (st *Store) Close() {
	st.stopOnce.Do(func() {
		close(st.stopCh)
	})
	st.wg.Wait()

	st.mu.Lock()
	remaining := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		remaining = append(remaining, s)
	}
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	for _, s := range remaining {
		if s.Status().Terminal() {
			st.archive(s)
		}
	}
}

func (st *Store) janitor(interval time.Duration) {
	defer st.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st.sweep(time.Now().UTC())
		case <-st.stopCh:
			return
		}
	}
}

// sweep evicts terminal sessions whose TTL elapsed. Exposed to tests
// through a deterministic clock instead of waiting on the ticker.
func (st *Store) sweep(now time.Time) {
	st.mu.Lock()
	var expired []*Session
	for id, s := range st.sessions {
		terminalAt := s.TerminalAt()
		if terminalAt.IsZero() {
			continue
		}
		if now.Sub(terminalAt) >= st.ttl {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		st.archive(s)
		getLog().Debug().
			Str("session_id", s.ID()).
			Msg("Session evicted after TTL")
	}
}

func (st *Store) archive(s *Session) {
	if st.archiver == nil {
		return
	}
	snapshot := s.Snapshot()
	var results *protocol.AnalysisResults
	if r, ok := s.Results(); ok {
		results = &r
	}
	if err := st.archiver.Archive(snapshot, results); err != nil {
		getLog().Error().
			Err(err).
			Str("session_id", s.ID()).
			Msg("Failed to archive session")
	}
}
