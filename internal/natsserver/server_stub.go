// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

//go:build !nats

package natsserver

import "context"

// Server is empty in builds without NATS support.
type Server struct{}

// Start always fails with ErrUnavailable.
func Start(Config) (*Server, error) {
	return nil, ErrUnavailable
}

func (s *Server) ClientURL() string { return "" }

func (s *Server) Running() bool { return false }

func (s *Server) Shutdown(context.Context) error { return nil }
