// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the plainlex command line client: start a
// processing run, watch it live, and query status and results.
package cli

import (
	"fmt"
	"os"
)

const (
	appName    = "plainlex"
	appVersion = "0.1.0-alpha"
)

// Execute runs the CLI application
func Execute() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "process":
		return processCommand(args)
	case "watch":
		return watchCommand(args)
	case "status":
		return statusCommand(args)
	case "results":
		return resultsCommand(args)
	case "cancel":
		return cancelCommand(args)
	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		return printUsage()
	}
}

func printUsage() error {
	fmt.Printf(`%s - legal document analysis client

Usage:
  %s <command> [arguments]

Commands:
  process <documentId>  Start processing a document and watch it live
  watch [processId]     Watch a running process (prompts when omitted)
  status <processId>    Print the current pipeline snapshot
  results <processId>   Print the analysis results of a completed process
  cancel <processId>    Cancel an in-flight process
  version               Print version information
  help                  Show this help message

Examples:
  %s process contract-2041
  %s watch 7c0e74d2-1b9a-4b62-a1a5-3c1f4a1b2c3d
  %s results 7c0e74d2-1b9a-4b62-a1a5-3c1f4a1b2c3d

Flags common to all commands:
  -server <url>   Server base URL (default http://localhost:8080)
`, appName, appName, appName, appName, appName)
	return nil
}
