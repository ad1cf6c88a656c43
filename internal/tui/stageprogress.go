// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"fmt"

	"github.com/plainlex/plainlex/internal/client"
	"github.com/plainlex/plainlex/internal/protocol"

	"github.com/charmbracelet/lipgloss"
)

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// renderProgressBar renders: [▓▓▓▓▓░░░░░] 2/6 Clause Parsing
func renderProgressBar(stages []client.StageView, width int) string {
	if len(stages) == 0 {
		return ""
	}
	if width <= 0 {
		width = 20
	}

	// Count completed and find current
	completed := 0
	currentIdx := -1
	currentName := ""
	failed := false
	for i, s := range stages {
		switch s.Status {
		case protocol.StageCompleted:
			completed++
		case protocol.StageRunning:
			currentIdx = i
			currentName = s.Name
		case protocol.StageFailed:
			failed = true
			currentName = s.Name
		}
	}

	// Build progress bar
	total := len(stages)
	filled := (completed * width) / total
	if currentIdx >= 0 {
		filled = (completed*width + width/2) / total
	}

	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += successStyle.Render("▓")
		} else {
			bar += dimStyle.Render("░")
		}
	}

	// Step counter
	displayStep := completed
	if currentIdx >= 0 {
		displayStep = currentIdx + 1
	}

	// Current stage name, failure, or completion
	label := ""
	switch {
	case failed:
		label = errorStyle.Render(currentName + " ✗")
	case currentName != "":
		label = accentStyle.Render(currentName)
	case completed == total:
		label = successStyle.Render("Complete ✓")
	}

	return fmt.Sprintf("[%s] %s %s", bar, dimStyle.Render(fmt.Sprintf("%d/%d", displayStep, total)), label)
}

// stageIcon renders the per-stage status marker.
func stageIcon(status protocol.StageStatus, spinnerFrame string) string {
	switch status {
	case protocol.StageCompleted:
		return successStyle.Render("✓")
	case protocol.StageFailed:
		return errorStyle.Render("✗")
	case protocol.StageRunning:
		return accentStyle.Render(spinnerFrame)
	default:
		return dimStyle.Render("·")
	}
}
