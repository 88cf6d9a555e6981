// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package natsserver

import (
	"errors"
	"time"
)

// ErrUnavailable is returned by Start in builds without NATS support.
var ErrUnavailable = errors.New("embedded NATS server not available: build with -tags=nats")

const readyTimeout = 30 * time.Second

// Config holds embedded server settings. Port -1 picks a free port.
type Config struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}
