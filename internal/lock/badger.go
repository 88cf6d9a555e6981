// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const badgerKeyPrefix = "lock:"

type badgerRecord struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// BadgerLocker stores leases as TTL keys in BadgerDB. Expired keys vanish
// on their own; competing acquisitions inside one process are serialized by
// Badger's transaction conflict detection.
type BadgerLocker struct {
	db     *badger.DB
	ownsDB bool
}

// OpenBadgerLocker opens (or creates) a BadgerDB at path for locks.
func OpenBadgerLocker(path string) (*BadgerLocker, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for locks: %w", err)
	}
	return &BadgerLocker{db: db, ownsDB: true}, nil
}

// NewBadgerLocker uses an already open database. Close leaves it open.
func NewBadgerLocker(db *badger.DB) *BadgerLocker {
	return &BadgerLocker{db: db}
}

// Close closes the database if the locker opened it.
func (b *BadgerLocker) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

func (b *BadgerLocker) Backend() string { return "badger" }

func (b *BadgerLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	owner := newOwner()
	data, err := json.Marshal(badgerRecord{Owner: owner, AcquiredAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}
	k := []byte(badgerKeyPrefix + key)

	err = b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return ErrLocked
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry(k, data).WithTTL(ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, ErrLocked
	}
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, err
		}
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return &badgerLease{db: b.db, key: k, owner: owner, data: data, ttl: ttl}, nil
}

type badgerLease struct {
	db    *badger.DB
	key   []byte
	owner string
	data  []byte
	ttl   time.Duration
}

// must be called inside a transaction
func (l *badgerLease) owned(txn *badger.Txn) (bool, error) {
	item, err := txn.Get(l.key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var rec badgerRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return false, err
	}
	return rec.Owner == l.owner, nil
}

func (l *badgerLease) Refresh(_ context.Context) error {
	return l.db.Update(func(txn *badger.Txn) error {
		ok, err := l.owned(txn)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLeaseLost
		}
		return txn.SetEntry(badger.NewEntry(l.key, l.data).WithTTL(l.ttl))
	})
}

func (l *badgerLease) Release(_ context.Context) error {
	return l.db.Update(func(txn *badger.Txn) error {
		ok, err := l.owned(txn)
		if err != nil || !ok {
			return err
		}
		return txn.Delete(l.key)
	})
}
