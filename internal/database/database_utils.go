// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package database

import (
	"context"
	"fmt"
	"time"
)

// ensureContext adds the default 30s timeout to a context without a deadline.
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, 30*time.Second)
	}

	return ctx, func() {}
}

// Checkpoint forces a WAL checkpoint
func (db *DB) Checkpoint(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// GetDatabasePath returns the path to the database file
func (db *DB) GetDatabasePath() string {
	return db.cfg.Path
}

// RecordCounts reports row counts of the main tables, for health output.
type RecordCounts struct {
	Connections     int64 `json:"connections"`
	EntityMappings  int64 `json:"entity_mappings"`
	Correspondences int64 `json:"correspondences"`
	SyncLogEntries  int64 `json:"sync_log_entries"`
	Entities        int64 `json:"entities"`
}

// GetRecordCounts returns the count of records in main tables
func (db *DB) GetRecordCounts(ctx context.Context) (*RecordCounts, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var c RecordCounts
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM connections),
			(SELECT COUNT(*) FROM entity_mappings),
			(SELECT COUNT(*) FROM correspondences),
			(SELECT COUNT(*) FROM sync_log),
			(SELECT COUNT(*) FROM entities)`,
	).Scan(&c.Connections, &c.EntityMappings, &c.Correspondences, &c.SyncLogEntries, &c.Entities)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	return &c, nil
}
