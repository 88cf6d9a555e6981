// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	owner   string
	expires time.Time
}

// MemoryLocker keeps leases in process memory.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryLocker returns an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]memoryEntry), now: time.Now}
}

// SetClock replaces the clock used for expiry.
func (m *MemoryLocker) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryLocker) Backend() string { return "memory" }

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		return nil, ErrLocked
	}
	owner := newOwner()
	m.entries[key] = memoryEntry{owner: owner, expires: now.Add(ttl)}
	return &memoryLease{locker: m, key: key, owner: owner, ttl: ttl}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	owner  string
	ttl    time.Duration
}

func (l *memoryLease) Refresh(_ context.Context) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[l.key]
	if !ok || e.owner != l.owner || !now.Before(e.expires) {
		return ErrLeaseLost
	}
	m.entries[l.key] = memoryEntry{owner: l.owner, expires: now.Add(l.ttl)}
	return nil
}

func (l *memoryLease) Release(_ context.Context) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[l.key]; ok && e.owner == l.owner {
		delete(m.entries, l.key)
	}
	return nil
}
