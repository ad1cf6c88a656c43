// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/plainlex/plainlex/internal/protocol"
	"github.com/plainlex/plainlex/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	// WebSocket limits
	maxMessageSize = 4096
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxClients     = 1000
)

// newUpgrader creates a WebSocket upgrader that respects the configured allowed
// origins. When allowedOrigins is empty the upgrader accepts any origin
// (localhost development mode). When set, only those origins are permitted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			_, ok := allowed[origin]
			return ok
		},
	}
}

// wsClient represents a single connected WebSocket client watching one
// session's events.
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

// ClientRegistry manages all connected WebSocket clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewClientRegistry creates a new client registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*wsClient]struct{}),
	}
}

// Broadcast sends an event to all clients watching its session.
func (r *ClientRegistry) Broadcast(event protocol.Event) {
	data, err := protocol.Encode(event)
	if err != nil {
		getLog().Error().Err(err).Msg("Failed to encode event for WebSocket broadcast")
		return
	}
	sessionID := protocol.GetSessionID(event)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.clients {
		if c.sessionID != sessionID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// client too slow, skip
			getLog().Warn().Str("session_id", sessionID).Msg("Dropping event for slow WebSocket client")
		}
	}
}

func (r *ClientRegistry) add(c *wsClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) >= maxClients {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

func (r *ClientRegistry) remove(c *wsClient) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
}

// HandleWebSocket upgrades GET /ws/{processId}, replays the session's
// current state to the new client, and streams live events until the
// connection drops. Unknown sessions are rejected before the upgrade.
func HandleWebSocket(registry *ClientRegistry, sessions *session.Store, allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "processId")
		sess, ok := sessions.Get(sessionID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown process id"})
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			getLog().Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := &wsClient{
			conn:      conn,
			send:      make(chan []byte, 64),
			sessionID: sessionID,
		}

		if !registry.add(client) {
			getLog().Warn().Msg("WebSocket connection limit reached")
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
			conn.Close()
			return
		}

		// register first so no live event is missed, then queue the replay.
		// Replay events are derived from current state and carry
		// deterministic idempotency keys, so any interleaved live event is
		// absorbed by the subscriber's fold.
		if !queueReplay(client, sess) {
			registry.remove(client)
			conn.Close()
			return
		}
		getLog().Info().
			Str("remote", r.RemoteAddr).
			Str("session_id", sessionID).
			Msg("WebSocket client connected")

		go client.writePump()
		client.readPump(registry)
	}
}

// queueReplay enqueues the per-stage replay events plus, for terminal
// sessions, the terminal event. Returns false when the send buffer cannot
// even hold the replay.
func queueReplay(c *wsClient, sess *session.Session) bool {
	for _, event := range sess.ReplayEvents() {
		data, err := protocol.Encode(event)
		if err != nil {
			getLog().Error().Err(err).Msg("Failed to encode replay event")
			return false
		}
		select {
		case c.send <- data:
		default:
			return false
		}
	}

	for _, event := range terminalEvents(sess) {
		data, err := protocol.Encode(event)
		if err != nil {
			getLog().Error().Err(err).Msg("Failed to encode terminal replay event")
			return false
		}
		select {
		case c.send <- data:
		default:
			return false
		}
	}
	return true
}

// terminalEvents reconstructs the terminal event for a session that ended
// before the client connected.
func terminalEvents(sess *session.Session) []protocol.Event {
	snap := sess.Snapshot()
	meta := protocol.Metadata{
		SessionID:      sess.ID(),
		IdempotencyKey: "replay:" + sess.ID() + ":terminal",
		Version:        protocol.CurrentProtocolVersion,
	}

	switch snap.Status {
	case protocol.SessionCompleted:
		results, ok := sess.Results()
		if !ok {
			return nil
		}
		return []protocol.Event{protocol.ProcessingCompleteEvent{
			Metadata:    meta,
			CompletedAt: results.Metadata.CompletedAt,
			Results:     results,
		}}
	case protocol.SessionFailed:
		for _, st := range snap.Stages {
			if st.Status == protocol.StageFailed {
				when := sess.TerminalAt()
				return []protocol.Event{protocol.ProcessingErrorEvent{
					Metadata:  meta,
					AgentID:   st.ID,
					Error:     st.Error,
					Timestamp: when,
				}}
			}
		}
	}
	return nil
}

func (c *wsClient) readPump(registry *ClientRegistry) {
	defer func() {
		registry.remove(c)
		close(c.send) // signals writePump to exit
		c.conn.Close()
		getLog().Info().Str("session_id", c.sessionID).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// clients never send application messages; the read loop exists to
	// process control frames and detect disconnects
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				getLog().Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by readPump, send close frame.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				getLog().Error().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
