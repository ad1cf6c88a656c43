// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"flag"
	"fmt"
	"strings"

	"github.com/plainlex/plainlex/internal/protocol"
)

func statusCommand(args []string) error {
	var server string
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.StringVar(&server, "server", defaultServerURL, "Server base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	processID := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if processID == "" {
		return fmt.Errorf("process id required\n\nUsage:\n  %s status <processId>", appName)
	}

	api, err := newAPIClient(server)
	if err != nil {
		return err
	}
	snap, err := api.status(processID)
	if err != nil {
		return err
	}

	fmt.Printf("Process:  %s\n", snap.SessionID)
	fmt.Printf("Document: %s\n", snap.DocumentID)
	fmt.Printf("Status:   %s\n", snap.Status)
	fmt.Printf("Progress: %.0f%%\n", snap.OverallProgress)
	if snap.EstimatedTimeRemaining != nil {
		fmt.Printf("ETA:      ~%.0fs\n", *snap.EstimatedTimeRemaining)
	}
	fmt.Println()
	for _, st := range snap.Stages {
		marker := " "
		switch st.Status {
		case protocol.StageCompleted:
			marker = "✓"
		case protocol.StageFailed:
			marker = "✗"
		case protocol.StageRunning:
			marker = ">"
		}
		line := fmt.Sprintf("  %s %-24s %-10s %3.0f%%", marker, st.Name, st.Status, st.Progress)
		if st.Error != "" {
			line += "  " + st.Error
		}
		fmt.Println(line)
	}
	return nil
}

func resultsCommand(args []string) error {
	var server string
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	fs.StringVar(&server, "server", defaultServerURL, "Server base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	processID := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if processID == "" {
		return fmt.Errorf("process id required\n\nUsage:\n  %s results <processId>", appName)
	}

	api, err := newAPIClient(server)
	if err != nil {
		return err
	}
	results, err := api.results(processID)
	if err != nil {
		return err
	}

	printResults(results)
	return nil
}

func cancelCommand(args []string) error {
	var server, reason string
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	fs.StringVar(&server, "server", defaultServerURL, "Server base URL")
	fs.StringVar(&reason, "reason", "", "Cancellation reason")
	if err := fs.Parse(args); err != nil {
		return err
	}

	processID := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if processID == "" {
		return fmt.Errorf("process id required\n\nUsage:\n  %s cancel <processId>", appName)
	}

	api, err := newAPIClient(server)
	if err != nil {
		return err
	}
	if err := api.cancel(processID, reason); err != nil {
		return err
	}
	fmt.Printf("Process %s cancelled.\n", processID)
	return nil
}

func printResults(results *protocol.AnalysisResults) {
	fmt.Printf("\nSummary\n  %s\n", results.Summary)

	if len(results.KeyPoints) > 0 {
		fmt.Println("\nKey points")
		for _, p := range results.KeyPoints {
			fmt.Printf("  - %s\n", p)
		}
	}

	if len(results.LegalConcepts) > 0 {
		fmt.Println("\nLegal concepts")
		for _, c := range results.LegalConcepts {
			fmt.Printf("  %s (%s): %s\n", c.Term, c.Importance, c.Definition)
		}
	}

	if len(results.Recommendations) > 0 {
		fmt.Println("\nRecommendations")
		for _, r := range results.Recommendations {
			fmt.Printf("  [%s] %s: %s\n", r.Priority, r.Title, r.Description)
		}
	}

	fmt.Printf("\nOverall risk: %s\n", results.RiskAssessment.OverallRisk)
	for _, f := range results.RiskAssessment.RiskFactors {
		fmt.Printf("  [%s] %s: %s\n", f.Level, f.Factor, f.Description)
	}

	if results.SimplifiedExplanation != "" {
		fmt.Printf("\nIn plain language\n  %s\n", results.SimplifiedExplanation)
	}
}
