// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

//go:build !nats

package natsserver

import (
	"context"
	"errors"
	"testing"
)

func TestStartUnavailable(t *testing.T) {
	t.Parallel()

	srv, err := Start(Config{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if srv != nil {
		t.Errorf("expected nil server, got %v", srv)
	}

	var s *Server
	if s.Running() {
		t.Error("expected stub to report not running")
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
