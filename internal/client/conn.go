// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"sync"
	"time"

	"github.com/plainlex/plainlex/internal/logger"
	"github.com/plainlex/plainlex/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetClientLogger()
		log = &l
	})
	return log
}

// Options configures a managed connection.
type Options struct {
	// URL is the full WebSocket endpoint including the process id.
	URL string
	// MaxReconnectAttempts bounds consecutive failed connection attempts
	// before the stream gives up.
	MaxReconnectAttempts int
	// ReconnectBaseDelay is the wait before the first retry; each further
	// retry doubles it.
	ReconnectBaseDelay time.Duration
	// MaxReconnectDelay caps the doubled delay.
	MaxReconnectDelay time.Duration
	// Dialer overrides the default gorilla dialer, mainly for tests.
	Dialer *websocket.Dialer
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxReconnectAttempts <= 0 {
		out.MaxReconnectAttempts = 5
	}
	if out.ReconnectBaseDelay <= 0 {
		out.ReconnectBaseDelay = time.Second
	}
	if out.MaxReconnectDelay <= 0 {
		out.MaxReconnectDelay = 30 * time.Second
	}
	if out.Dialer == nil {
		out.Dialer = websocket.DefaultDialer
	}
	return out
}

// Conn is a managed WebSocket subscription. It decodes incoming frames
// into events and transparently reconnects on transport failures, up to
// the configured budget. A successful reconnect resets the budget.
type Conn struct {
	opts Options

	events chan protocol.Event

	mu     sync.Mutex
	ws     *websocket.Conn
	err    error
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial opens the stream and starts the read loop. The initial connection
// is attempted synchronously so the caller learns immediately whether the
// endpoint exists; reconnects happen in the background afterwards.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	o := (&opts).withDefaults()

	ws, _, err := o.Dialer.DialContext(ctx, o.URL, nil)
	if err != nil {
		return nil, NewTransportError("dial", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		opts:   o,
		events: make(chan protocol.Event, 64),
		ws:     ws,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(runCtx, ws)
	return c, nil
}

// Events returns the decoded event stream. The channel is closed when the
// connection shuts down, whether by Close or by exhausting reconnects;
// check Err afterwards.
func (c *Conn) Events() <-chan protocol.Event {
	return c.events
}

// Err reports why the stream ended. Nil after a clean Close,
// ErrReconnectExhausted when the retry budget ran out.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the stream down and releases the connection.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		ws.Close()
	}
	<-c.done
}

func (c *Conn) run(ctx context.Context, ws *websocket.Conn) {
	defer close(c.done)
	defer close(c.events)

	for {
		readErr := c.readLoop(ctx, ws)
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		getLog().Warn().Err(readErr).Str("url", c.opts.URL).Msg("Stream connection lost")

		var ok bool
		ws, ok = c.reconnect(ctx)
		if !ok {
			return
		}
	}
}

// readLoop pumps frames from one connection until it fails.
func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return NewTransportError("read", err)
		}

		event, err := protocol.Decode(data)
		if err != nil {
			// malformed frames are a peer bug, not a transport failure:
			// log and keep the connection
			getLog().Warn().Err(err).Msg("Dropping undecodable frame")
			continue
		}

		select {
		case c.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reconnect retries the dial with exponential backoff. Returns the new
// connection, or false once the budget is exhausted or the stream closed.
func (c *Conn) reconnect(ctx context.Context) (*websocket.Conn, bool) {
	delay := c.opts.ReconnectBaseDelay

	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		getLog().Info().
			Int("attempt", attempt).
			Int("max_attempts", c.opts.MaxReconnectAttempts).
			Dur("delay", delay).
			Msg("Reconnecting to stream")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		}

		ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				ws.Close()
				return nil, false
			}
			c.ws = ws
			c.mu.Unlock()
			getLog().Info().Int("attempt", attempt).Msg("Stream reconnected")
			return ws, true
		}
		getLog().Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")

		delay *= 2
		if delay > c.opts.MaxReconnectDelay {
			delay = c.opts.MaxReconnectDelay
		}
	}

	c.mu.Lock()
	c.err = ErrReconnectExhausted
	c.mu.Unlock()
	getLog().Error().
		Int("attempts", c.opts.MaxReconnectAttempts).
		Msg("Reconnect budget exhausted, stream closed")
	return nil, false
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
