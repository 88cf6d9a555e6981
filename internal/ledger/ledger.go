// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package ledger defines the correspondence ledger and the sync log.

The ledger is the only source of truth for "has this record ever been
synced". A row links (connection, internal type, internal id) to
(connection, external entity, external id); both sides are unique per
connection. Absence of a row means the record is not linked yet, which makes
the orchestrator create on outbound and link-or-create on inbound.

The sync log is an append-only audit trail with one entry per record-level
sync attempt. Entries are never updated.

Both contracts are implemented in memory here and on DuckDB in
internal/database.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/crmsync/internal/models"
)

var (
	// ErrConflict is returned by Link when the external record is already
	// linked to a different internal record on the same connection.
	ErrConflict = errors.New("external record already linked to another internal record")

	// ErrNotLinked is returned by Touch when no correspondence exists.
	ErrNotLinked = errors.New("correspondence not found")
)

// Store is the correspondence ledger.
type Store interface {
	// Resolve returns the correspondence for an internal record, or nil when
	// the record has never been linked.
	Resolve(ctx context.Context, connectionID string, internalType models.EntityType, internalID string) (*models.CorrespondenceRecord, error)

	// ResolveExternal returns the correspondence for an external record, or nil.
	ResolveExternal(ctx context.Context, connectionID, externalEntity, externalID string) (*models.CorrespondenceRecord, error)

	// Link upserts the row keyed on (connection, internal type, internal id).
	// Calling it twice with the same arguments leaves one row.
	Link(ctx context.Context, rec *models.CorrespondenceRecord) error

	// Touch records a successful sync of an already linked record.
	Touch(ctx context.Context, connectionID string, internalType models.EntityType, internalID string,
		direction models.Direction, snapshot map[string]any, at time.Time) error

	// ListByConnection returns every correspondence of a connection.
	ListByConnection(ctx context.Context, connectionID string) ([]*models.CorrespondenceRecord, error)
}

// SyncLog is the append-only record-level audit trail.
type SyncLog interface {
	Append(ctx context.Context, entry *models.SyncLogEntry) error
	List(ctx context.Context, filter models.SyncLogFilter) ([]*models.SyncLogEntry, error)
}

// CloneSnapshot copies a snapshot map so stored rows never alias caller maps.
func CloneSnapshot(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
