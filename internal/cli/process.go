// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"flag"
	"fmt"
	"strings"
	"time"
)

func processCommand(args []string) error {
	opts := &watchOptions{}
	var noWatch bool
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	fs.StringVar(&opts.server, "server", defaultServerURL, "Server base URL")
	fs.IntVar(&opts.reconnectAttempts, "reconnect-attempts", 5, "Reconnect attempts before giving up")
	fs.DurationVar(&opts.reconnectBase, "reconnect-delay", time.Second, "Initial reconnect delay")
	fs.BoolVar(&noWatch, "no-watch", false, "Start the run and print the process id without watching")
	if err := fs.Parse(args); err != nil {
		return err
	}

	documentID := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if documentID == "" {
		return fmt.Errorf("document id required\n\nUsage:\n  %s process <documentId>", appName)
	}

	api, err := newAPIClient(opts.server)
	if err != nil {
		return err
	}

	started, err := api.startProcessing(documentID)
	if err != nil {
		return fmt.Errorf("failed to start processing: %w", err)
	}
	fmt.Printf("Started processing %s (process %s)\n", started.DocumentID, started.ProcessID)

	if noWatch {
		return nil
	}
	return watchProcess(api, started.ProcessID, opts)
}
