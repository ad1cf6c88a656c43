// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/plainlex/plainlex/internal/client"
	"github.com/plainlex/plainlex/internal/config"
	"github.com/plainlex/plainlex/internal/dispatch"
	"github.com/plainlex/plainlex/internal/process"
	"github.com/plainlex/plainlex/internal/protocol"
	"github.com/plainlex/plainlex/internal/registry"
	"github.com/plainlex/plainlex/internal/runner"
	"github.com/plainlex/plainlex/internal/session"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	srv      *httptest.Server
	service  *process.Service
	sessions *session.Store
}

func newFixture(t *testing.T, script *runner.Script) *serverFixture {
	return newCustomFixture(t, script, &config.ServerConfig{Host: "127.0.0.1", Port: 0}, nil)
}

func newCustomFixture(t *testing.T, script *runner.Script, cfg *config.ServerConfig, archive process.Archive) *serverFixture {
	t.Helper()

	d := dispatch.New()
	t.Cleanup(d.Close)
	sessions := session.NewStore(time.Minute, time.Hour, nil)
	t.Cleanup(sessions.Close)

	stages := runner.NewScriptedRunner(script, 0, 25)
	service := process.NewService(registry.Default(), d, sessions, archive, stages)
	t.Cleanup(service.Close)

	api := New(cfg, service, sessions)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &serverFixture{srv: srv, service: service, sessions: sessions}
}

func (f *serverFixture) startProcess(t *testing.T, documentID string) string {
	t.Helper()
	resp, err := http.Post(f.srv.URL+"/api/documents/"+documentID+"/process", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		ProcessID  string `json:"processId"`
		DocumentID string `json:"documentId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.ProcessID)
	require.Equal(t, documentID, body.DocumentID)
	return body.ProcessID
}

func (f *serverFixture) getSnapshot(t *testing.T, processID string) protocol.SessionSnapshot {
	t.Helper()
	resp, err := http.Get(f.srv.URL + "/api/process/" + processID + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap protocol.SessionSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func (f *serverFixture) waitTerminal(t *testing.T, processID string) protocol.SessionSnapshot {
	t.Helper()
	var snap protocol.SessionSnapshot
	require.Eventually(t, func() bool {
		snap = f.getSnapshot(t, processID)
		return snap.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestServerProcessLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	processID := f.startProcess(t, "doc-1")
	snap := f.waitTerminal(t, processID)

	assert.Equal(t, protocol.SessionCompleted, snap.Status)
	assert.Equal(t, float64(100), snap.OverallProgress)
	require.Len(t, snap.Stages, registry.Default().Len())
	for _, st := range snap.Stages {
		assert.Equal(t, protocol.StageCompleted, st.Status)
	}
}

func TestServerStatusUnknownProcess(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/api/process/nope/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerResults(t *testing.T) {
	f := newFixture(t, nil)

	processID := f.startProcess(t, "doc-2")
	f.waitTerminal(t, processID)

	resp, err := http.Get(f.srv.URL + "/api/process/" + processID + "/results")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results protocol.AnalysisResults
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	assert.Contains(t, results.Summary, "doc-2")
	assert.Len(t, results.Metadata.AgentsUsed, registry.Default().Len())
}

func TestServerResultsBeforeCompletion(t *testing.T) {
	// a stalled first stage keeps the session in processing
	script := &runner.Script{Stages: map[string]runner.StageScript{
		"ingestion": {Steps: []runner.ScriptStep{{Progress: 10, Message: "slow", Delay: runner.Duration(time.Minute)}}},
	}}
	f := newFixture(t, script)

	processID := f.startProcess(t, "doc-3")

	resp, err := http.Get(f.srv.URL + "/api/process/" + processID + "/results")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServerFailurePropagates(t *testing.T) {
	script := &runner.Script{Stages: map[string]runner.StageScript{
		"interpretation": {Fail: "Compliance check failed"},
	}}
	f := newFixture(t, script)

	processID := f.startProcess(t, "doc-4")
	snap := f.waitTerminal(t, processID)

	assert.Equal(t, protocol.SessionFailed, snap.Status)
	assert.Equal(t, "Compliance check failed", snap.Stages[2].Error)
}

func TestServerCancel(t *testing.T) {
	script := &runner.Script{Stages: map[string]runner.StageScript{
		"ingestion": {Steps: []runner.ScriptStep{{Progress: 10, Delay: runner.Duration(time.Minute)}}},
	}}
	f := newFixture(t, script)

	processID := f.startProcess(t, "doc-5")

	body := bytes.NewBufferString(`{"reason":"user request"}`)
	resp, err := http.Post(f.srv.URL+"/api/process/"+processID+"/cancel", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := f.waitTerminal(t, processID)
	assert.Equal(t, protocol.SessionFailed, snap.Status)

	// cancelling again conflicts
	resp2, err := http.Post(f.srv.URL+"/api/process/"+processID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestServerCancelUnknownProcess(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/api/process/nope/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func wsURL(httpURL, processID string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws/" + processID
}

func TestServerWebSocketStream(t *testing.T) {
	f := newFixture(t, nil)

	processID := f.startProcess(t, "doc-ws")

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(f.srv.URL, processID), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	sawComplete := false
	deadline := time.Now().Add(5 * time.Second)
	for !sawComplete && time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		event, err := protocol.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, processID, protocol.GetSessionID(event))

		if complete, ok := event.(protocol.ProcessingCompleteEvent); ok {
			assert.Contains(t, complete.Results.Summary, "doc-ws")
			sawComplete = true
		}
	}
	assert.True(t, sawComplete, "stream must deliver the terminal event")
}

func TestServerWebSocketReplayAfterCompletion(t *testing.T) {
	f := newFixture(t, nil)

	processID := f.startProcess(t, "doc-late")
	f.waitTerminal(t, processID)

	// a late subscriber still receives the full state and terminal event
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(f.srv.URL, processID), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	statuses := 0
	sawComplete := false
	for !sawComplete {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		event, err := protocol.Decode(data)
		require.NoError(t, err)
		switch e := event.(type) {
		case protocol.AgentStatusEvent:
			statuses++
			assert.Equal(t, protocol.StageCompleted, e.Status)
		case protocol.ProcessingCompleteEvent:
			sawComplete = true
		}
	}
	assert.Equal(t, registry.Default().Len(), statuses)
}

func nextStreamEvent(t *testing.T, events <-chan protocol.Event) protocol.Event {
	t.Helper()
	select {
	case e, ok := <-events:
		require.True(t, ok, "stream closed early")
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return nil
	}
}

func TestServerReconnectReplayMatchesSnapshot(t *testing.T) {
	// the pipeline stalls inside interpretation after its first report
	script := &runner.Script{Stages: map[string]runner.StageScript{
		"interpretation": {Steps: []runner.ScriptStep{
			{Progress: 30, Message: "interpreting clauses"},
			{Progress: 40, Delay: runner.Duration(time.Minute)},
		}},
	}}
	f := newFixture(t, script)

	processID := f.startProcess(t, "doc-reconnect")

	agg := client.NewAggregator(registry.Default(), 0)
	t.Cleanup(agg.Close)

	conn1, err := client.Dial(context.Background(), client.Options{URL: wsURL(f.srv.URL, processID)})
	require.NoError(t, err)

	// follow live until the stalled stage's report arrived
	deadline := time.Now().Add(5 * time.Second)
	for {
		view := agg.View()
		if view.Stages[2].Status == protocol.StageRunning && view.Stages[2].Progress >= 30 {
			break
		}
		require.True(t, time.Now().Before(deadline), "pipeline never reached the stalled stage")
		agg.Apply(nextStreamEvent(t, conn1.Events()))
	}
	conn1.Close()

	// reconnect: the server replays the full state into the same view
	conn2, err := client.Dial(context.Background(), client.Options{URL: wsURL(f.srv.URL, processID)})
	require.NoError(t, err)
	t.Cleanup(conn2.Close)
	for i := 0; i < registry.Default().Len(); i++ {
		agg.Apply(nextStreamEvent(t, conn2.Events()))
	}

	view := agg.View()
	count := 0
	for _, l := range view.Stages[2].Logs {
		if l.Text == "interpreting clauses" {
			count++
		}
	}
	assert.Equal(t, 1, count, "replay after reconnect must not duplicate log lines")

	snap := f.getSnapshot(t, processID)
	assert.Equal(t, snap.Status, view.Status)
	require.Len(t, view.Stages, len(snap.Stages))
	for i, st := range snap.Stages {
		assert.Equal(t, st.Status, view.Stages[i].Status, st.ID)
		assert.Equal(t, st.Progress, view.Stages[i].Progress, st.ID)
	}
}

func TestServerRejectsOversizedBody(t *testing.T) {
	script := &runner.Script{Stages: map[string]runner.StageScript{
		"ingestion": {Steps: []runner.ScriptStep{{Progress: 10, Delay: runner.Duration(time.Minute)}}},
	}}
	cfg := &config.ServerConfig{Host: "127.0.0.1", Port: 0, MaxBodyBytes: 64}
	f := newCustomFixture(t, script, cfg, nil)

	processID := f.startProcess(t, "doc-big-body")

	body := bytes.NewBufferString(`{"reason":"` + strings.Repeat("a", 512) + `"}`)
	resp, err := http.Post(f.srv.URL+"/api/process/"+processID+"/cancel", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// the truncated request must not have cancelled the run
	snap := f.getSnapshot(t, processID)
	assert.False(t, snap.Status.Terminal())
}

type stubArchive struct {
	history map[string][]protocol.SessionSnapshot
}

func (a *stubArchive) GetResults(context.Context, string) (*protocol.AnalysisResults, error) {
	return nil, nil
}

func (a *stubArchive) GetSession(context.Context, string) (*protocol.SessionSnapshot, error) {
	return nil, nil
}

func (a *stubArchive) GetSessionsByDocument(_ context.Context, documentID string) ([]protocol.SessionSnapshot, error) {
	return a.history[documentID], nil
}

func TestServerDocumentHistory(t *testing.T) {
	archive := &stubArchive{history: map[string][]protocol.SessionSnapshot{
		"doc-old": {
			{SessionID: "run-2", DocumentID: "doc-old", Status: protocol.SessionCompleted},
			{SessionID: "run-1", DocumentID: "doc-old", Status: protocol.SessionFailed},
		},
	}}
	f := newCustomFixture(t, nil, &config.ServerConfig{Host: "127.0.0.1", Port: 0}, archive)

	resp, err := http.Get(f.srv.URL + "/api/documents/doc-old/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history []protocol.SessionSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 2)
	assert.Equal(t, "run-2", history[0].SessionID)

	// unknown documents yield an empty list, not an error
	resp2, err := http.Get(f.srv.URL + "/api/documents/doc-unseen/history")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var empty []protocol.SessionSnapshot
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&empty))
	assert.Empty(t, empty)
}

func TestServerWebSocketUnknownProcess(t *testing.T) {
	f := newFixture(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(f.srv.URL, "nope"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
