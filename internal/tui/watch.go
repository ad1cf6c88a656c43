// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tui renders a live terminal view of one processing run, fed by
// the client's event stream.
package tui

import (
	"fmt"
	"strings"

	"github.com/plainlex/plainlex/internal/client"
	"github.com/plainlex/plainlex/internal/protocol"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const logTailLines = 6

// StreamClosedMsg tells the model the event stream ended. A nil Err means
// the run finished and the server closed normally.
type StreamClosedMsg struct {
	Err error
}

// WatchModel is the bubbletea model for watching one processing run.
type WatchModel struct {
	processID  string
	aggregator *client.Aggregator
	view       client.ViewModel
	spinner    spinner.Model
	width      int
	streamErr  error
	streamDone bool
	quitting   bool
}

// NewWatchModel creates the watch model over an aggregator the caller
// keeps feeding (directly or through the program's Send).
func NewWatchModel(processID string, aggregator *client.Aggregator) WatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle

	return WatchModel{
		processID:  processID,
		aggregator: aggregator,
		view:       aggregator.View(),
		spinner:    sp,
		width:      60,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case protocol.Event:
		m.aggregator.Apply(msg)
		m.view = m.aggregator.View()
		if m.view.Status.Terminal() {
			return m, tea.Quit
		}
		return m, nil

	case StreamClosedMsg:
		m.streamDone = true
		m.streamErr = msg.Err
		m.view = m.aggregator.View()
		if !m.view.Status.Terminal() {
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder

	title := lipgloss.NewStyle().Bold(true).Render("Processing " + m.processID)
	b.WriteString(title + "\n\n")

	barWidth := m.width / 3
	if barWidth < 10 {
		barWidth = 10
	}
	b.WriteString(renderProgressBar(m.view.Stages, barWidth) + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("overall %.0f%%", m.view.OverallProgress)))
	if eta := m.view.EstimatedTimeRemaining; eta != nil {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ~%.0fs remaining", *eta)))
	}
	b.WriteString("\n\n")

	for _, st := range m.view.Stages {
		line := fmt.Sprintf("%s %s", stageIcon(st.Status, m.spinner.View()), st.Name)
		if st.Status == protocol.StageRunning {
			line += dimStyle.Render(fmt.Sprintf("  %.0f%%", st.Progress))
			if st.Message != "" {
				line += "  " + dimStyle.Render(st.Message)
			}
		}
		if st.Status == protocol.StageFailed && st.Error != "" {
			line += "  " + errorStyle.Render(st.Error)
		}
		b.WriteString(line + "\n")
	}

	if current, ok := m.view.CurrentStage(); ok && len(current.Logs) > 0 {
		b.WriteString("\n" + dimStyle.Render("recent activity") + "\n")
		logs := current.Logs
		if len(logs) > logTailLines {
			logs = logs[len(logs)-logTailLines:]
		}
		for _, l := range logs {
			b.WriteString(dimStyle.Render("  "+l.Timestamp.Format("15:04:05")+"  ") + l.Text + "\n")
		}
	}

	switch {
	case m.view.Status == protocol.SessionCompleted:
		b.WriteString("\n" + successStyle.Render("Processing complete."))
		if m.view.Results != nil && m.view.Results.Summary != "" {
			b.WriteString("\n" + m.view.Results.Summary)
		}
		b.WriteString("\n")
	case m.view.Status == protocol.SessionFailed:
		b.WriteString("\n" + errorStyle.Render("Processing failed: "+m.view.Error) + "\n")
	case m.streamDone && m.streamErr != nil:
		b.WriteString("\n" + errorStyle.Render("Stream lost: "+m.streamErr.Error()) + "\n")
	}

	if !m.quitting {
		b.WriteString("\n" + dimStyle.Render("q to quit") + "\n")
	}
	return b.String()
}
