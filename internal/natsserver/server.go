// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

//go:build nats

package natsserver

import (
	"context"
	"fmt"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/crmsync/internal/logging"
)

// Server wraps an embedded NATS server.
type Server struct {
	ns *server.Server
}

// Start creates the server and waits until it accepts connections.
func Start(cfg Config) (*Server, error) {
	opts := &server.Options{
		ServerName:         "crmsync",
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.JetStreamMaxMem,
		JetStreamMaxStore:  cfg.JetStreamMaxStore,
		NoLog:              true,
		MaxPayload:         1 << 20,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", readyTimeout)
	}

	logging.Info().
		Str("url", ns.ClientURL()).
		Bool("jetstream", ns.JetStreamEnabled()).
		Msg("Embedded NATS server started")
	return &Server{ns: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

// Running reports whether the server is up.
func (s *Server) Running() bool {
	return s.ns.Running()
}

// Shutdown stops the server and waits for it to exit, or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ns.Shutdown()

	done := make(chan struct{})
	go func() {
		s.ns.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
