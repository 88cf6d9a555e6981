// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/crmsync/internal/database/query"
	"github.com/tomtom215/crmsync/internal/ledger"
	"github.com/tomtom215/crmsync/internal/models"
)

const correspondenceColumns = `id, connection_id, internal_type, internal_id, external_entity, external_id,
	last_synced_at, last_sync_direction, snapshot, created_at`

// Resolve returns the correspondence of an internal record, or nil.
func (db *DB) Resolve(ctx context.Context, connectionID string, internalType models.EntityType, internalID string) (*models.CorrespondenceRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+correspondenceColumns+` FROM correspondences
		WHERE connection_id = ? AND internal_type = ? AND internal_id = ?`,
		connectionID, string(internalType), internalID)
	return scanCorrespondenceOrNil(row)
}

// ResolveExternal returns the correspondence of an external record, or nil.
func (db *DB) ResolveExternal(ctx context.Context, connectionID, externalEntity, externalID string) (*models.CorrespondenceRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+correspondenceColumns+` FROM correspondences
		WHERE connection_id = ? AND external_entity = ? AND external_id = ?`,
		connectionID, externalEntity, externalID)
	return scanCorrespondenceOrNil(row)
}

func scanCorrespondenceOrNil(row rowScanner) (*models.CorrespondenceRecord, error) {
	rec, err := scanCorrespondence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func scanCorrespondence(row rowScanner) (*models.CorrespondenceRecord, error) {
	var (
		r        models.CorrespondenceRecord
		snapshot string
	)
	if err := row.Scan(&r.ID, &r.ConnectionID, &r.InternalType, &r.InternalID, &r.ExternalEntity,
		&r.ExternalID, &r.LastSyncedAt, &r.LastSyncDirection, &snapshot, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan correspondence: %w", err)
	}
	r.LastSyncedAt = r.LastSyncedAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	if snapshot != "" {
		if err := json.Unmarshal([]byte(snapshot), &r.Snapshot); err != nil {
			return nil, fmt.Errorf("%w: snapshot of correspondence %s: %v", ErrCorruptRow, r.ID, err)
		}
	}
	return &r, nil
}

func encodeSnapshot(snapshot map[string]any) (string, error) {
	if snapshot == nil {
		return "", nil
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return string(raw), nil
}

// Link upserts the correspondence keyed on the internal record. Relinking an
// internal record to a new external id keeps the row's id and creation time.
// It fails with ledger.ErrConflict when the external record already belongs
// to a different internal record.
func (db *DB) Link(ctx context.Context, rec *models.CorrespondenceRecord) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	snapshot, err := encodeSnapshot(rec.Snapshot)
	if err != nil {
		return err
	}

	db.linkMu.Lock()
	defer db.linkMu.Unlock()

	holder, err := db.ResolveExternal(ctx, rec.ConnectionID, rec.ExternalEntity, rec.ExternalID)
	if err != nil {
		return err
	}
	if holder != nil && (holder.InternalType != rec.InternalType || holder.InternalID != rec.InternalID) {
		return ledger.ErrConflict
	}

	existing, err := db.Resolve(ctx, rec.ConnectionID, rec.InternalType, rec.InternalID)
	if err != nil {
		return err
	}

	now := db.now()
	id, createdAt := rec.ID, rec.CreatedAt.UTC()
	if existing != nil {
		id, createdAt = existing.ID, existing.CreatedAt
	} else {
		if id == "" {
			id = uuid.New().String()
		}
		if createdAt.IsZero() {
			createdAt = now
		}
	}
	lastSynced := rec.LastSyncedAt.UTC()
	if lastSynced.IsZero() {
		lastSynced = now
	}

	err = db.withRetry(ctx, "link correspondence", func(ctx context.Context) error {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO correspondences (`+correspondenceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				external_entity = EXCLUDED.external_entity,
				external_id = EXCLUDED.external_id,
				last_synced_at = EXCLUDED.last_synced_at,
				last_sync_direction = EXCLUDED.last_sync_direction,
				snapshot = EXCLUDED.snapshot`,
			id, rec.ConnectionID, string(rec.InternalType), rec.InternalID, rec.ExternalEntity, rec.ExternalID,
			lastSynced, string(rec.LastSyncDirection), snapshot, createdAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to link %s/%s: %w", rec.InternalType, rec.InternalID, err)
	}

	rec.ID = id
	rec.CreatedAt = createdAt
	return nil
}

// Touch records a successful sync of a linked record. A nil snapshot keeps
// the stored one.
func (db *DB) Touch(ctx context.Context, connectionID string, internalType models.EntityType, internalID string,
	direction models.Direction, snapshot map[string]any, at time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var encoded any
	if snapshot != nil {
		s, err := encodeSnapshot(snapshot)
		if err != nil {
			return err
		}
		encoded = s
	}

	return db.withRetry(ctx, "touch correspondence", func(ctx context.Context) error {
		res, err := db.conn.ExecContext(ctx, `
			UPDATE correspondences SET
				last_synced_at = ?,
				last_sync_direction = ?,
				snapshot = COALESCE(?, snapshot)
			WHERE connection_id = ? AND internal_type = ? AND internal_id = ?`,
			at.UTC(), string(direction), encoded, connectionID, string(internalType), internalID)
		if err != nil {
			return fmt.Errorf("failed to touch %s/%s: %w", internalType, internalID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.ErrNotLinked
		}
		return nil
	})
}

// ListByConnection returns a connection's correspondences ordered by
// internal type and id.
func (db *DB) ListByConnection(ctx context.Context, connectionID string) ([]*models.CorrespondenceRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+correspondenceColumns+` FROM correspondences
		WHERE connection_id = ? ORDER BY internal_type, internal_id`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list correspondences: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []*models.CorrespondenceRecord
	for rows.Next() {
		rec, err := scanCorrespondence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Append writes one sync log entry. ID and CreatedAt are filled in when
// empty and copied back to entry.
func (db *DB) Append(ctx context.Context, entry *models.SyncLogEntry) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := entry.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = db.now()
	}
	var changed string
	if len(entry.ChangedFields) > 0 {
		raw, err := json.Marshal(entry.ChangedFields)
		if err != nil {
			return fmt.Errorf("failed to encode changed fields: %w", err)
		}
		changed = string(raw)
	}

	err := db.withRetry(ctx, "append sync log", func(ctx context.Context) error {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO sync_log (id, sync_id, connection_id, entity_mapping_id, internal_type, internal_id,
				external_entity, external_id, direction, action, status, changed_fields, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, entry.SyncID, entry.ConnectionID, entry.EntityMappingID, string(entry.InternalType),
			entry.InternalID, entry.ExternalEntity, entry.ExternalID, string(entry.Direction),
			string(entry.Action), string(entry.Status), changed, entry.Error, createdAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append sync log entry: %w", err)
	}

	entry.ID = id
	entry.CreatedAt = createdAt
	return nil
}

// List returns sync log entries in append order.
func (db *DB) List(ctx context.Context, filter models.SyncLogFilter) ([]*models.SyncLogEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	wb := query.NewWhereBuilder()
	wb.AddEqual("connection_id", filter.ConnectionID)
	wb.AddEqual("sync_id", filter.SyncID)
	wb.AddEqual("status", string(filter.Status))
	where, args := wb.Build()

	q := `SELECT id, sync_id, connection_id, entity_mapping_id, internal_type, internal_id,
		external_entity, external_id, direction, action, status, changed_fields, error, created_at
		FROM sync_log WHERE ` + where + ` ORDER BY seq`
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync log: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []*models.SyncLogEntry
	for rows.Next() {
		var (
			e       models.SyncLogEntry
			changed string
		)
		if err := rows.Scan(&e.ID, &e.SyncID, &e.ConnectionID, &e.EntityMappingID, &e.InternalType,
			&e.InternalID, &e.ExternalEntity, &e.ExternalID, &e.Direction, &e.Action, &e.Status,
			&changed, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if changed != "" {
			if err := json.Unmarshal([]byte(changed), &e.ChangedFields); err != nil {
				return nil, fmt.Errorf("%w: changed fields of sync log entry %s: %v", ErrCorruptRow, e.ID, err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
