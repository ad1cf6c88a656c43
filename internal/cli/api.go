// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/plainlex/plainlex/internal/protocol"
)

const defaultServerURL = "http://localhost:8080"

var httpClient = &http.Client{Timeout: 15 * time.Second}

// apiClient issues REST calls against the status server.
type apiClient struct {
	baseURL string
}

func newAPIClient(serverURL string) (*apiClient, error) {
	base := strings.TrimRight(serverURL, "/")
	if base == "" {
		base = defaultServerURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	return &apiClient{baseURL: base}, nil
}

// wsURL derives the stream endpoint for a process from the base URL.
func (c *apiClient) wsURL(processID string) string {
	ws := c.baseURL
	switch {
	case strings.HasPrefix(ws, "https"):
		ws = "wss" + strings.TrimPrefix(ws, "https")
	case strings.HasPrefix(ws, "http"):
		ws = "ws" + strings.TrimPrefix(ws, "http")
	}
	return ws + "/ws/" + processID
}

type startResponse struct {
	ProcessID  string `json:"processId"`
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
}

func (c *apiClient) startProcessing(documentID string) (*startResponse, error) {
	resp, err := httpClient.Post(c.baseURL+"/api/documents/"+url.PathEscape(documentID)+"/process", "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, apiError(resp)
	}
	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("malformed server response: %w", err)
	}
	return &out, nil
}

func (c *apiClient) status(processID string) (*protocol.SessionSnapshot, error) {
	resp, err := httpClient.Get(c.baseURL + "/api/process/" + url.PathEscape(processID) + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var snap protocol.SessionSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("malformed server response: %w", err)
	}
	return &snap, nil
}

func (c *apiClient) results(processID string) (*protocol.AnalysisResults, error) {
	resp, err := httpClient.Get(c.baseURL + "/api/process/" + url.PathEscape(processID) + "/results")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var results protocol.AnalysisResults
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("malformed server response: %w", err)
	}
	return &results, nil
}

func (c *apiClient) cancel(processID, reason string) error {
	body, _ := json.Marshal(map[string]string{"reason": reason})
	resp, err := httpClient.Post(c.baseURL+"/api/process/"+url.PathEscape(processID)+"/cancel", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("server: %s (%s)", body.Error, resp.Status)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
