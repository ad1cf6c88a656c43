// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetSessionLogger returns a logger for pipeline session state machines
func GetSessionLogger() zerolog.Logger {
	return GetLogger("session")
}

// GetDispatchLogger returns a logger for the event dispatcher
func GetDispatchLogger() zerolog.Logger {
	return GetLogger("dispatch")
}

// GetRunnerLogger returns a logger for stage runners
func GetRunnerLogger() zerolog.Logger {
	return GetLogger("runner")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetClientLogger returns a logger for the subscriber-side connection manager
func GetClientLogger() zerolog.Logger {
	return GetLogger("client")
}

// GetStoreLogger returns a logger for the session archive
func GetStoreLogger() zerolog.Logger {
	return GetLogger("store")
}

// GetTUILogger returns a logger for TUI components
func GetTUILogger() zerolog.Logger {
	return GetLogger("tui")
}
