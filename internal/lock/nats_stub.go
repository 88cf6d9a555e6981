// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

//go:build !nats

package lock

import (
	"context"
	"fmt"
	"time"
)

// NATSLocker is a stub when NATS dependencies are not available.
// Build with -tags=nats to enable the JetStream KV locker.
type NATSLocker struct{}

// NewNATSLocker returns an error when NATS dependencies are not available.
func NewNATSLocker(_ context.Context, _ interface{}, _ string, _ time.Duration) (*NATSLocker, error) {
	return nil, fmt.Errorf("NATS locker not available: build with -tags=nats")
}

func (n *NATSLocker) Backend() string { return "nats" }

// Acquire is a stub that returns an error.
func (n *NATSLocker) Acquire(_ context.Context, _ string, _ time.Duration) (Lease, error) {
	return nil, fmt.Errorf("NATS locker not available: build with -tags=nats")
}
