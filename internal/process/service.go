// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package process coordinates document processing runs: it creates
// sessions, drives them through the pipeline in the background, and
// resolves status and results queries against live sessions or the
// archive.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/plainlex/plainlex/internal/dispatch"
	"github.com/plainlex/plainlex/internal/logger"
	"github.com/plainlex/plainlex/internal/protocol"
	"github.com/plainlex/plainlex/internal/registry"
	"github.com/plainlex/plainlex/internal/runner"
	"github.com/plainlex/plainlex/internal/session"

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

// ErrSessionNotFound is returned when neither the live store nor the
// archive knows the session.
var ErrSessionNotFound = errors.New("session not found")

// Archive resolves session data persisted after eviction from the live
// store: final results, terminal snapshots, and per-document run history.
type Archive interface {
	GetResults(ctx context.Context, sessionID string) (*protocol.AnalysisResults, error)
	GetSession(ctx context.Context, sessionID string) (*protocol.SessionSnapshot, error)
	GetSessionsByDocument(ctx context.Context, documentID string) ([]protocol.SessionSnapshot, error)
}

// Service owns the lifecycle of processing runs. One instance serves the
// whole server; sessions share its dispatcher and their events carry the
// session id for routing.
type Service struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	sessions   *session.Store
	archive    Archive
	stages     runner.StageRunner
	driver     *runner.Driver

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewService wires a process service. archive may be nil when no archival
// backend is configured.
func NewService(reg *registry.Registry, d *dispatch.Dispatcher, sessions *session.Store, archive Archive, stages runner.StageRunner) *Service {
	return &Service{
		registry:   reg,
		dispatcher: d,
		sessions:   sessions,
		archive:    archive,
		stages:     stages,
		driver:     runner.NewDriver(reg),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Dispatcher exposes the shared dispatcher for event subscribers.
func (s *Service) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// StartProcessing creates a session for the document and begins driving
// it through the pipeline in the background. Returns the new session
// immediately; progress is observed through events and snapshots.
func (s *Service) StartProcessing(documentID string) (*session.Session, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("service is shut down")
	}

	sess := session.New(documentID, s.registry, s.dispatcher)
	s.sessions.Put(sess)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[sess.ID()] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, sess.ID())
			s.mu.Unlock()
			cancel()
		}()

		if err := s.driver.Run(ctx, sess, s.stages); err != nil {
			getLog().Warn().
				Err(err).
				Str("session_id", sess.ID()).
				Msg("Processing run ended with error")
		}
	}()

	return sess, nil
}

// Snapshot resolves the current state of a session, falling back to the
// archived terminal snapshot when the live store evicted it.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (*protocol.SessionSnapshot, error) {
	if sess, ok := s.sessions.Get(sessionID); ok {
		snap := sess.Snapshot()
		return &snap, nil
	}

	if s.archive == nil {
		return nil, ErrSessionNotFound
	}
	snap, err := s.archive.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load archived session: %w", err)
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}
	return snap, nil
}

// History returns the archived runs for a document, most recent first.
// Runs still in flight are not included until they reach a terminal state
// and get archived.
func (s *Service) History(ctx context.Context, documentID string) ([]protocol.SessionSnapshot, error) {
	if s.archive == nil {
		return nil, nil
	}
	history, err := s.archive.GetSessionsByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document history: %w", err)
	}
	return history, nil
}

// Cancel stops an in-flight run. The session transitions to Failed with a
// cancellation error; cancelling a terminal or unknown session is an error.
func (s *Service) Cancel(sessionID, reason string) error {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if sess.Status().Terminal() {
		return fmt.Errorf("session %s is already %s", sessionID, sess.Status())
	}

	// transition first so the caller's reason wins over the driver's
	// generic context-cancelled message
	sess.Cancel(reason)

	s.mu.Lock()
	cancel, ok := s.cancels[sessionID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Results returns the analysis results for a session, falling back to the
// archive when the live store no longer holds it. ErrSessionNotFound when
// neither knows it; nil results when the session has not completed.
func (s *Service) Results(ctx context.Context, sessionID string) (*protocol.AnalysisResults, error) {
	if sess, ok := s.sessions.Get(sessionID); ok {
		if results, ok := sess.Results(); ok {
			return &results, nil
		}
		return nil, nil
	}

	if s.archive == nil {
		return nil, ErrSessionNotFound
	}
	results, err := s.archive.GetResults(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load archived results: %w", err)
	}
	if results == nil {
		return nil, ErrSessionNotFound
	}
	return results, nil
}

// Close cancels all in-flight runs and waits for their drivers to return.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
