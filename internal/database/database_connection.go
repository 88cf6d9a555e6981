// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
database_connection.go - Connection Pool and Write Retries

Connection Pool Configuration:
  - MaxOpenConns: Based on CPU count for parallelism
  - MaxIdleConns: 2 for efficient connection reuse
  - ConnMaxLifetime: 1 hour to prevent stale connections
  - ConnMaxIdleTime: 5 minutes for idle connection cleanup

Write Retries:
DuckDB uses optimistic concurrency control. Two transactions touching the
same row fail one of them with a transaction conflict. Writes go through
withRetry, which retries conflicts with a short exponential backoff and
fails fast on anything else.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// maxWriteRetries bounds attempts for a conflicting write.
const maxWriteRetries = 3

func (db *DB) configureConnectionPool() error {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
	return nil
}

// withRetry runs fn, retrying DuckDB transaction conflicts.
func (db *DB) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%s: operation timed out or canceled: %w", op, ctx.Err())
		}
		if isInternalError(err) {
			return fmt.Errorf("%s: DuckDB internal error: %w", op, err)
		}
		if !isTransactionConflict(err) {
			return err
		}

		if attempt < maxWriteRetries-1 {
			backoff := time.Millisecond * time.Duration(1<<uint(attempt)) // 1ms, 2ms, 4ms
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s: max retries exceeded: %w", op, lastErr)
}
