// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/crmsync/internal/progress"
)

// setupClientServer upgrades every request into a hub client following
// sync/s1 and starts its pumps.
func setupClientServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		client := NewClient(hub, conn, progress.ScopeSync, "s1")
		hub.Add(client)
		client.Start()
	}))
	t.Cleanup(server.Close)
	return server
}

// dialWebSocket establishes a WebSocket connection to the test server
func dialWebSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	a := NewClient(hub, nil, progress.ScopeMapping, "em-1")
	b := NewClient(hub, nil, progress.ScopeMapping, "em-1")

	if a.ID() >= b.ID() {
		t.Errorf("expected increasing ids, got %d then %d", a.ID(), b.ID())
	}
	if scope, id := a.Scope(); scope != progress.ScopeMapping || id != "em-1" {
		t.Errorf("expected mapping/em-1, got %s/%s", scope, id)
	}
	if cap(a.send) != sendBuffer {
		t.Errorf("expected send capacity %d, got %d", sendBuffer, cap(a.send))
	}
	select {
	case <-a.Done():
		t.Error("expected a new client not to be done")
	default:
	}
}

func TestClient_Constants(t *testing.T) {
	t.Parallel()
	if pingPeriod >= pongWait {
		t.Errorf("expected ping period %v below pong wait %v", pingPeriod, pongWait)
	}
}

func TestClient_PingPong(t *testing.T) {
	t.Parallel()
	hub := setupHub(t)
	conn := dialWebSocket(t, setupClientServer(t, hub))

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != MessageTypePong {
		t.Errorf("expected pong, got %s", msg.Type)
	}
}

func TestClient_BroadcastReachesPeer(t *testing.T) {
	t.Parallel()
	hub := setupHub(t)
	conn := dialWebSocket(t, setupClientServer(t, hub))
	waitFor(t, func() bool { return hub.GetClientCount() == 1 }, "registration")

	hub.BroadcastJSON("notice", map[string]string{"text": "hello"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != "notice" {
		t.Errorf("expected notice, got %s", msg.Type)
	}
}

func TestClient_PeerCloseUnregisters(t *testing.T) {
	t.Parallel()
	hub := setupHub(t)
	conn := dialWebSocket(t, setupClientServer(t, hub))
	waitFor(t, func() bool { return hub.GetClientCount() == 1 }, "registration")

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = conn.Close()

	waitFor(t, func() bool { return hub.GetClientCount() == 0 }, "unregistration")
}
