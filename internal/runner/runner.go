// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runner drives a session through the pipeline stages. The
// StageRunner interface isolates per-stage work behind an emit-style
// callback so the driver stays agnostic of how progress is produced,
// whether from the scripted simulator or a real analysis backend.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/plainlex/plainlex/internal/logger"
	"github.com/plainlex/plainlex/internal/protocol"
	"github.com/plainlex/plainlex/internal/registry"
	"github.com/plainlex/plainlex/internal/session"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetRunnerLogger()
		log = &l
	})
	return log
}

// ReportFunc delivers a progress report for the stage being run.
// Reaching 100 marks the stage complete.
type ReportFunc func(progress float64, message string)

// StageRunner performs the work of a single pipeline stage, reporting
// progress through the callback as it goes. Returning an error fails the
// stage and, with it, the whole session.
type StageRunner interface {
	Run(ctx context.Context, stage registry.StageDefinition, report ReportFunc) error
}

// ResultsProvider is implemented by runners that can produce the final
// analysis document. The driver queries it once per session.
type ResultsProvider interface {
	Results(documentID string) protocol.AnalysisResults
}

// StageFailure wraps a stage-level error so the driver can attribute the
// failure to the right stage and surface the message verbatim.
type StageFailure struct {
	Stage   string
	Message string
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Message)
}

// NewStageFailure creates a StageFailure for the given stage.
func NewStageFailure(stage, message string) *StageFailure {
	return &StageFailure{Stage: stage, Message: message}
}

// Driver executes a session end to end: it starts the session, runs each
// registry stage in order through the StageRunner, and translates runner
// errors and context cancellation into terminal session transitions.
type Driver struct {
	registry *registry.Registry
}

// NewDriver creates a driver over the given stage registry.
func NewDriver(reg *registry.Registry) *Driver {
	return &Driver{registry: reg}
}

// Run drives sess through all stages with r. Blocks until the session is
// terminal. Returns nil on a completed session, the causing error
// otherwise. Cancelling ctx cancels the session.
func (d *Driver) Run(ctx context.Context, sess *session.Session, r StageRunner) error {
	if rp, ok := r.(ResultsProvider); ok {
		sess.SetResults(rp.Results(sess.DocumentID()))
	}

	sess.Start()
	getLog().Info().
		Str("session_id", sess.ID()).
		Str("document_id", sess.DocumentID()).
		Msg("Pipeline run started")

	for i, def := range d.registry.Stages() {
		if err := ctx.Err(); err != nil {
			sess.Cancel(err.Error())
			return err
		}

		stage := def
		report := func(progress float64, message string) {
			sess.Advance(stage.ID, progress, message)
		}

		if err := r.Run(ctx, stage, report); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				sess.Cancel(cerr.Error())
				return cerr
			}
			var sf *StageFailure
			if errors.As(err, &sf) {
				sess.Fail(sf.Stage, sf.Message)
			} else {
				sess.Fail(stage.ID, err.Error())
			}
			return err
		}

		// close out the stage if the runner stopped short of 100
		if st := sess.Snapshot().Stages[i].Status; st == protocol.StageRunning || st == protocol.StagePending {
			report(100, "")
		}
	}

	getLog().Info().
		Str("session_id", sess.ID()).
		Msg("Pipeline run completed")
	return nil
}
