// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/plainlex/plainlex/internal/config"
	"github.com/plainlex/plainlex/internal/process"
	"github.com/plainlex/plainlex/internal/session"

	"github.com/go-chi/chi/v5"
)

const defaultMaxBodyBytes = 1 << 20

// Server is the REST + WebSocket API server.
type Server struct {
	httpServer *http.Server
	bridge     *EventBridge
}

// New creates and wires up the API server. It does NOT start listening —
// call Run() for that.
func New(cfg *config.ServerConfig, service *process.Service, sessions *session.Store) *Server {
	registry := NewClientRegistry()
	bridge := NewEventBridge(service.Dispatcher(), registry)
	handlers := NewHandlers(service)

	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(CORS(cfg.AllowedOrigins))
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	r.Use(MaxBodySize(maxBody))

	// REST routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/documents/{documentId}/process", handlers.StartProcessing)
		r.Get("/documents/{documentId}/history", handlers.GetHistory)

		r.Route("/process/{processId}", func(r chi.Router) {
			r.Get("/status", handlers.GetStatus)
			r.Get("/results", handlers.GetResults)
			r.Post("/cancel", handlers.CancelProcess)
		})
	})

	// WebSocket
	r.Get("/ws/{processId}", HandleWebSocket(registry, sessions, cfg.AllowedOrigins))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		bridge: bridge,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. Blocks until the server is shut down.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			getLog().Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	getLog().Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and detaches the event bridge.
func (s *Server) Shutdown(ctx context.Context) error {
	s.bridge.Close()
	return s.httpServer.Shutdown(ctx)
}
