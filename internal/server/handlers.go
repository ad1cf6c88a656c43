// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/plainlex/plainlex/internal/process"
	"github.com/plainlex/plainlex/internal/protocol"

	"github.com/go-chi/chi/v5"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	service *process.Service
}

// NewHandlers creates the handler set.
func NewHandlers(service *process.Service) *Handlers {
	return &Handlers{service: service}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// startProcessingResponse is the JSON body returned by StartProcessing.
type startProcessingResponse struct {
	ProcessID  string `json:"processId"`
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
}

// StartProcessing handles POST /api/documents/{documentId}/process
func (h *Handlers) StartProcessing(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSpace(chi.URLParam(r, "documentId"))
	if documentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "documentId is required"})
		return
	}

	sess, err := h.service.StartProcessing(documentID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, startProcessingResponse{
		ProcessID:  sess.ID(),
		DocumentID: documentID,
		Status:     string(sess.Status()),
	})
}

// GetStatus handles GET /api/process/{processId}/status. Evicted sessions
// resolve to their archived terminal snapshot.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "processId")

	snap, err := h.service.Snapshot(r.Context(), processID)
	if err != nil {
		if errors.Is(err, process.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown process id"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load status", "context": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// GetHistory handles GET /api/documents/{documentId}/history
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSpace(chi.URLParam(r, "documentId"))
	if documentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "documentId is required"})
		return
	}

	history, err := h.service.History(r.Context(), documentID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load history", "context": err.Error()})
		return
	}
	if history == nil {
		history = []protocol.SessionSnapshot{}
	}

	writeJSON(w, http.StatusOK, history)
}

// GetResults handles GET /api/process/{processId}/results
func (h *Handlers) GetResults(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "processId")

	results, err := h.service.Results(r.Context(), processID)
	if err != nil {
		if errors.Is(err, process.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown process id"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load results", "context": err.Error()})
		return
	}
	if results == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "processing has not completed"})
		return
	}

	writeJSON(w, http.StatusOK, results)
}

// cancelProcessRequest is the JSON body for process cancellation.
type cancelProcessRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelProcess handles POST /api/process/{processId}/cancel
func (h *Handlers) CancelProcess(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "processId")
	var body cancelProcessRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	}

	if err := h.service.Cancel(processID, body.Reason); err != nil {
		if errors.Is(err, process.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown process id"})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
