// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

// Package lock provides the per-connection mutual exclusion used by sync
// runs. A lock is a lease: it expires after its TTL unless refreshed, so a
// crashed process never holds a connection forever.
//
// Three backends are available:
//
//	MemoryLocker   single process, tests
//	BadgerLocker   TTL keys in a local BadgerDB, survives restarts
//	NATSLocker     JetStream KV bucket, shared by every instance (-tags=nats)
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/metrics"
)

var (
	// ErrLocked is returned by Acquire when another holder owns the key.
	ErrLocked = errors.New("lock is held")

	// ErrLeaseLost is returned when a lease expired or was taken over.
	ErrLeaseLost = errors.New("lock lease lost")
)

// Lease is a held lock.
type Lease interface {
	// Refresh extends the lease by its TTL.
	Refresh(ctx context.Context) error
	// Release gives the lock up. Releasing a lost lease is not an error.
	Release(ctx context.Context) error
}

// Locker hands out leases on string keys.
type Locker interface {
	// Acquire takes the lock on key for ttl, or returns ErrLocked.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	// Backend names the implementation for logs and metrics.
	Backend() string
}

// ConnectionKey is the lock key for a connection's sync runs.
func ConnectionKey(connectionID string) string {
	return "connection:" + connectionID
}

func newOwner() string {
	return uuid.NewString()
}

// Held is a lease kept alive in the background by Hold.
type Held struct {
	lease   Lease
	key     string
	backend string
	ctx     context.Context

	lost chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Hold acquires key and keeps the lease alive in the background, refreshing
// at a third of ttl. If a refresh finds the lease expired or taken over,
// refreshing stops and Lost is closed; the holder must stop work it guards.
func Hold(ctx context.Context, l Locker, key string, ttl time.Duration) (*Held, error) {
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			metrics.LockContention.WithLabelValues(l.Backend()).Inc()
		}
		return nil, err
	}

	h := &Held{
		lease:   lease,
		key:     key,
		backend: l.Backend(),
		ctx:     context.WithoutCancel(ctx),
		lost:    make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	go h.refresh(interval)
	return h, nil
}

func (h *Held) refresh(interval time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			err := h.lease.Refresh(h.ctx)
			if err == nil {
				continue
			}
			logging.Warn().Err(err).Str("key", h.key).Str("backend", h.backend).Msg("Failed to refresh lock lease")
			if errors.Is(err, ErrLeaseLost) {
				close(h.lost)
				return
			}
		}
	}
}

// Lost is closed when the lease was found expired or owned by someone else.
func (h *Held) Lost() <-chan struct{} {
	return h.lost
}

// Release stops refreshing and gives the lock up. It is safe to call more
// than once. A lost lease is left alone, since another holder may own it.
func (h *Held) Release() {
	h.once.Do(func() {
		close(h.stop)
		<-h.done
		if err := h.lease.Release(h.ctx); err != nil {
			logging.Warn().Err(err).Str("key", h.key).Msg("Failed to release lock")
		}
	})
}
