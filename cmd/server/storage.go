// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/crmsync/internal/config"
	"github.com/tomtom215/crmsync/internal/lock"
	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/progress"
)

// badgerDirs opens each Badger directory once, however many components
// keep data in it.
type badgerDirs struct {
	dbs   map[string]*badger.DB
	order []string
}

func newBadgerDirs() *badgerDirs {
	return &badgerDirs{dbs: make(map[string]*badger.DB)}
}

func (b *badgerDirs) open(path string) (*badger.DB, error) {
	path = filepath.Clean(path)
	if db, ok := b.dbs[path]; ok {
		return db, nil
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db %s: %w", path, err)
	}
	b.dbs[path] = db
	b.order = append(b.order, path)
	logging.Info().Str("path", path).Msg("Badger directory opened")
	return db, nil
}

// each visits open directories in the order they were opened.
func (b *badgerDirs) each(fn func(path string, db *badger.DB)) {
	for _, p := range b.order {
		fn(p, b.dbs[p])
	}
}

func (b *badgerDirs) Close() {
	for i := len(b.order) - 1; i >= 0; i-- {
		p := b.order[i]
		if err := b.dbs[p].Close(); err != nil {
			logging.Error().Err(err).Str("path", p).Msg("Error closing badger db")
		}
	}
}

// initLocker builds the configured connection lock backend.
func initLocker(ctx context.Context, cfg *config.Config, dirs *badgerDirs, nc *NATSComponents) (lock.Locker, error) {
	switch cfg.Lock.Backend {
	case config.LockBackendMemory:
		return lock.NewMemoryLocker(), nil
	case config.LockBackendBadger:
		db, err := dirs.open(cfg.Lock.Path)
		if err != nil {
			return nil, err
		}
		return lock.NewBadgerLocker(db), nil
	case config.LockBackendNATS:
		return nc.NewLocker(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}

// initProgress builds the broadcaster. Snapshots go to Badger when a path
// is configured and to memory otherwise.
func initProgress(cfg *config.Config, dirs *badgerDirs, nc *NATSComponents) (*progress.Broadcaster, error) {
	var store progress.Store = progress.NewMemoryStore(cfg.Progress.TTL)
	if cfg.Progress.Path != "" {
		db, err := dirs.open(cfg.Progress.Path)
		if err != nil {
			return nil, err
		}
		store = progress.NewBadgerStore(db, cfg.Progress.TTL)
	}

	switch cfg.Progress.Transport {
	case config.ProgressTransportMemory:
		return progress.NewInProcessBroadcaster(store), nil
	case config.ProgressTransportNATS:
		return progress.NewNATSBroadcaster(nc.ClientURL(cfg.Progress.NATSURL), store)
	default:
		return nil, fmt.Errorf("unknown progress transport %q", cfg.Progress.Transport)
	}
}
