// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/plainlex/plainlex/internal/client"
	"github.com/plainlex/plainlex/internal/protocol"
	"github.com/plainlex/plainlex/internal/registry"
	"github.com/plainlex/plainlex/internal/tui"

	"github.com/charmbracelet/huh"
)

type watchOptions struct {
	server            string
	reconnectAttempts int
	reconnectBase     time.Duration
}

func watchCommand(args []string) error {
	opts := &watchOptions{}
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	fs.StringVar(&opts.server, "server", defaultServerURL, "Server base URL")
	fs.IntVar(&opts.reconnectAttempts, "reconnect-attempts", 5, "Reconnect attempts before giving up")
	fs.DurationVar(&opts.reconnectBase, "reconnect-delay", time.Second, "Initial reconnect delay")
	if err := fs.Parse(args); err != nil {
		return err
	}

	processID := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if processID == "" {
		var err error
		processID, err = promptProcessID()
		if err != nil {
			return err
		}
	}

	api, err := newAPIClient(opts.server)
	if err != nil {
		return err
	}
	return watchProcess(api, processID, opts)
}

// promptProcessID asks for a process id interactively.
func promptProcessID() (string, error) {
	var processID string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("process").
				Title("Process ID").
				Placeholder("Paste the process id to watch...").
				Value(&processID).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("process id is required")
					}
					return nil
				}),
		),
	).WithTheme(huh.ThemeCharm())

	if err := form.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(processID), nil
}

func watchProcess(api *apiClient, processID string, opts *watchOptions) error {
	// fail fast on unknown ids before opening the stream
	if _, err := api.status(processID); err != nil {
		return err
	}

	conn, err := client.Dial(context.Background(), client.Options{
		URL:                  api.wsURL(processID),
		MaxReconnectAttempts: opts.reconnectAttempts,
		ReconnectBaseDelay:   opts.reconnectBase,
	})
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer conn.Close()

	aggregator := client.NewAggregator(registry.Default(), 0)
	defer aggregator.Close()

	view, err := tui.Watch(processID, conn, aggregator)
	if err != nil {
		return err
	}

	switch view.Status {
	case protocol.SessionCompleted:
		fmt.Printf("Process %s completed.\n", processID)
		if view.Results != nil {
			printResults(view.Results)
		}
	case protocol.SessionFailed:
		return fmt.Errorf("process %s failed: %s", processID, view.Error)
	default:
		fmt.Printf("Stopped watching process %s (status: %s).\n", processID, view.Status)
	}
	return nil
}
