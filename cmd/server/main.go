// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plainlex/plainlex/internal/config"
	"github.com/plainlex/plainlex/internal/dispatch"
	"github.com/plainlex/plainlex/internal/logger"
	"github.com/plainlex/plainlex/internal/process"
	"github.com/plainlex/plainlex/internal/registry"
	"github.com/plainlex/plainlex/internal/runner"
	"github.com/plainlex/plainlex/internal/server"
	"github.com/plainlex/plainlex/internal/session"
	"github.com/plainlex/plainlex/internal/store"
)

func main() {
	cfg, err := config.NewConfig("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Msg("Starting plainlex status server")

	// Archive backend for evicted sessions and the results endpoint.
	archive, err := store.NewGormStore(&cfg.Database)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error opening session archive")
		fmt.Fprintf(os.Stderr, "Error opening session archive: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()
	if err := archive.AutoMigrate(); err != nil {
		mainLog.Error().Err(err).Msg("Error migrating session archive")
		fmt.Fprintf(os.Stderr, "Error migrating session archive: %v\n", err)
		os.Exit(1)
	}

	var script *runner.Script
	if cfg.Pipeline.ScriptPath != "" {
		script, err = runner.LoadScript(cfg.Pipeline.ScriptPath)
		if err != nil {
			mainLog.Error().Err(err).Msg("Error loading pipeline script")
			fmt.Fprintf(os.Stderr, "Error loading pipeline script: %v\n", err)
			os.Exit(1)
		}
		mainLog.Info().Str("path", cfg.Pipeline.ScriptPath).Msg("Loaded pipeline script")
	}
	stages := runner.NewScriptedRunner(script, cfg.Pipeline.StepInterval, cfg.Pipeline.StepPercent)

	dispatcher := dispatch.New()
	defer dispatcher.Close()

	sessions := session.NewStore(cfg.Session.TTL, cfg.Session.SweepInterval, archive)
	defer sessions.Close()

	service := process.NewService(registry.Default(), dispatcher, sessions, archive, stages)
	defer service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(&cfg.Server, service, sessions)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- srv.Run(ctx)
	}()

	// Wait for signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		mainLog.Info().Msgf("Received signal %v, shutting down...", sig)
	case err := <-serverErrChan:
		if err != nil {
			mainLog.Error().Err(err).Msg("Server error")
		}
	}

	// Graceful shutdown: fresh context with timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error shutting down server")
	}

	mainLog.Info().Msg("Status server shut down")
}
