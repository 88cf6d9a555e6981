// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

//go:build !nats

package progress

import "fmt"

// NewNATSBroadcaster returns an error when NATS dependencies are not available.
// Build with -tags=nats to enable the NATS progress transport.
func NewNATSBroadcaster(_ string, _ Store) (*Broadcaster, error) {
	return nil, fmt.Errorf("NATS progress transport not available: build with -tags=nats")
}
