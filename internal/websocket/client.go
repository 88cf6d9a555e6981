// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/progress"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 // observers only send pings
	sendBuffer     = 256
)

// clientIDCounter generates unique, monotonically increasing IDs for clients.
// DETERMINISM: clients are broadcast to in ID order.
var clientIDCounter atomic.Uint64

// Client is one websocket observer following a single progress scope.
type Client struct {
	id    uint64
	hub   *Hub
	conn  *websocket.Conn
	send  chan Message
	scope progress.Scope
	subID string

	// ctx ends when the client is unregistered, which ends its subscription.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client following scope/id. conn may be nil in tests.
func NewClient(hub *Hub, conn *websocket.Conn, scope progress.Scope, id string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     clientIDCounter.Add(1),
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		scope:  scope,
		subID:  id,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Scope returns the progress scope and id the client follows.
func (c *Client) Scope() (progress.Scope, string) {
	return c.scope, c.subID
}

// Done is closed when the client has been unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// readPump drains the connection so control frames are processed, answers
// pings, and unregisters the client when the peer goes away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-c.ctx.Done():
			// Already dropped by the hub.
		}
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		if msg.Type == MessageTypePing {
			c.hub.deliver(c, Message{Type: MessageTypePong})
		}
	}
}

// writePump writes queued messages and keepalive pings until send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("failed to write websocket message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
