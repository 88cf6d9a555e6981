// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package ledger

import (
	"strings"
	"sync"

	"github.com/tomtom215/crmsync/internal/models"
)

// KeyedMutex serializes work per key. Entries are removed when their last
// holder unlocks, so the map only holds keys currently in use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// InternalKey is the lock key for an internal record on a connection.
func InternalKey(connectionID string, t models.EntityType, internalID string) string {
	return strings.Join([]string{connectionID, "int", string(t), internalID}, "\x00")
}

// ExternalKey is the lock key for a not yet linked external record.
func ExternalKey(connectionID, externalEntity, externalID string) string {
	return strings.Join([]string{connectionID, "ext", externalEntity, externalID}, "\x00")
}
