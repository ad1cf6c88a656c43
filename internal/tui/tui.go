// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"sync"

	"github.com/plainlex/plainlex/internal/client"
	"github.com/plainlex/plainlex/internal/logger"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetTUILogger()
		log = &l
	})
	return log
}

// Watch runs the terminal view until the run reaches a terminal state,
// the stream dies, or the user quits. Returns the final view.
func Watch(processID string, conn *client.Conn, aggregator *client.Aggregator) (client.ViewModel, error) {
	model := NewWatchModel(processID, aggregator)
	p := tea.NewProgram(model, tea.WithAltScreen())

	go func() {
		for event := range conn.Events() {
			p.Send(event)
		}
		if err := conn.Err(); err != nil {
			getLog().Warn().Err(err).Str("process_id", processID).Msg("Event stream ended")
		}
		p.Send(StreamClosedMsg{Err: conn.Err()})
	}()

	if _, err := p.Run(); err != nil {
		getLog().Error().Err(err).Msg("Terminal view exited with error")
		return aggregator.View(), err
	}
	return aggregator.View(), nil
}
