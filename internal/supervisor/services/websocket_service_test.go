// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	ws "github.com/tomtom215/crmsync/internal/websocket"
)

var _ ContextHub = (*ws.Hub)(nil)

func TestWebSocketHubService_Serve(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub()
	svc := NewWebSocketHubService(hub)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	// Broadcasting with no clients must not block the running hub.
	hub.BroadcastJSON(ws.MessageTypeSyncProgress, map[string]string{"sync_id": "s1"})
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if got := hub.GetClientCount(); got != 0 {
		t.Errorf("expected no clients, got %d", got)
	}
}

func TestWebSocketHubService_WithSupervisor(t *testing.T) {
	t.Parallel()

	svc := NewWebSocketHubService(ws.NewHub())
	if svc.String() != "websocket-hub" {
		t.Errorf("expected websocket-hub, got %q", svc.String())
	}

	sup := suture.New("test", suture.Spec{Timeout: time.Second})
	sup.Add(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	select {
	case err := <-sup.ServeBackground(ctx):
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
