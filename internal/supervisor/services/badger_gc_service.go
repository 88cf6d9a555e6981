// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package services

import (
	"context"
	"time"

	"github.com/tomtom215/crmsync/internal/logging"
)

const (
	defaultGCInterval   = 5 * time.Minute
	defaultDiscardRatio = 0.5

	// maxGCRounds bounds the rewrites done in one tick.
	maxGCRounds = 10
)

// ValueLogCollector is satisfied by *badger.DB.
type ValueLogCollector interface {
	RunValueLogGC(discardRatio float64) error
}

// BadgerGCService periodically reclaims Badger value-log space left by
// expired locks and progress snapshots. TTL keys stop being readable on
// their own, but their bytes stay on disk until the value log is rewritten.
type BadgerGCService struct {
	db           ValueLogCollector
	interval     time.Duration
	discardRatio float64
	name         string
}

// NewBadgerGCService collects db every interval. A non-positive interval
// takes 5m.
func NewBadgerGCService(name string, db ValueLogCollector, interval time.Duration) *BadgerGCService {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	return &BadgerGCService{
		db:           db,
		interval:     interval,
		discardRatio: defaultDiscardRatio,
		name:         "badger-gc-" + name,
	}
}

func (b *BadgerGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.collect()
		}
	}
}

// collect rewrites value-log files until Badger reports nothing worth
// rewriting, which it signals with an error.
func (b *BadgerGCService) collect() int {
	rounds := 0
	for rounds < maxGCRounds {
		if err := b.db.RunValueLogGC(b.discardRatio); err != nil {
			break
		}
		rounds++
	}
	if rounds > 0 {
		logging.Debug().Str("service", b.name).Int("rewrites", rounds).Msg("Badger value log collected")
	}
	return rounds
}

func (b *BadgerGCService) String() string {
	return b.name
}
