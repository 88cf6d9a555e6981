// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// DefaultTTL is how long the latest snapshot of a run is kept.
const DefaultTTL = 24 * time.Hour

const progressKeyPrefix = "progress:sync:"

// Store keeps the latest event of each sync run.
type Store interface {
	Save(ctx context.Context, ev Event) error
	// Latest returns nil, nil when nothing is stored for syncID.
	Latest(ctx context.Context, syncID string) (*Event, error)
}

// BadgerStore persists snapshots in BadgerDB with a TTL, so progress
// survives restarts and expires on its own.
type BadgerStore struct {
	db     *badger.DB
	ttl    time.Duration
	ownsDB bool
}

// OpenBadgerStore opens (or creates) a BadgerDB at path.
func OpenBadgerStore(path string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for progress: %w", err)
	}
	s := NewBadgerStore(db, ttl)
	s.ownsDB = true
	return s, nil
}

// NewBadgerStore uses an already open database.
func NewBadgerStore(db *badger.DB, ttl time.Duration) *BadgerStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BadgerStore{db: db, ttl: ttl}
}

// Close closes the database if the store opened it.
func (s *BadgerStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Save persists ev as the latest snapshot of its run.
func (s *BadgerStore) Save(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(progressKeyPrefix+ev.SyncID), data).WithTTL(s.ttl))
	})
}

// Latest retrieves the last saved snapshot of a run.
func (s *BadgerStore) Latest(_ context.Context, syncID string) (*Event, error) {
	var ev *Event
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(progressKeyPrefix + syncID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ev = &Event{}
			return json.Unmarshal(val, ev)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	return ev, nil
}

type memoryEntry struct {
	event   Event
	expires time.Time
}

// MemoryStore keeps snapshots in memory with the same TTL semantics.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

// SetClock replaces the clock used for expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Save(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ev.SyncID] = memoryEntry{event: ev, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, syncID string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[syncID]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, syncID)
		return nil, nil
	}
	ev := e.event
	return &ev, nil
}
