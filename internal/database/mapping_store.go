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

	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/models"
)

const connectionColumns = `id, name, provider, credentials, webhook_secret, direction,
	poll_interval_ms, enabled, last_sync_at, last_sync_error, created_at, updated_at`

// GetConnection returns a connection with its credentials decrypted.
func (db *DB) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	conn, err := db.scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", mapping.ErrConnectionNotFound, id)
	}
	return conn, err
}

// ListConnections returns every connection ordered by id.
func (db *DB) ListConnections(ctx context.Context) ([]*models.Connection, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+connectionColumns+` FROM connections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []*models.Connection
	for rows.Next() {
		conn, err := db.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanConnection(row rowScanner) (*models.Connection, error) {
	var (
		c            models.Connection
		credentials  string
		secret       string
		pollInterval int64
		lastSyncAt   sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Name, &c.Provider, &credentials, &secret, &c.Direction,
		&pollInterval, &c.Enabled, &lastSyncAt, &c.LastSyncError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	c.PollInterval = time.Duration(pollInterval) * time.Millisecond
	if lastSyncAt.Valid {
		t := lastSyncAt.Time.UTC()
		c.LastSyncAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	if c.WebhookSecret, err = db.open(secret); err != nil {
		return nil, fmt.Errorf("%w: webhook secret of connection %s: %v", ErrCorruptRow, c.ID, err)
	}
	plain, err := db.open(credentials)
	if err != nil {
		return nil, fmt.Errorf("%w: credentials of connection %s: %v", ErrCorruptRow, c.ID, err)
	}
	if plain != "" {
		if err := json.Unmarshal([]byte(plain), &c.Credentials); err != nil {
			return nil, fmt.Errorf("%w: credentials of connection %s: %v", ErrCorruptRow, c.ID, err)
		}
	}
	return &c, nil
}

// SaveConnection inserts or replaces a connection by id. CreatedAt of an
// existing row is kept.
func (db *DB) SaveConnection(ctx context.Context, conn *models.Connection) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var credentials string
	if len(conn.Credentials) > 0 {
		raw, err := json.Marshal(conn.Credentials)
		if err != nil {
			return fmt.Errorf("failed to encode credentials: %w", err)
		}
		if credentials, err = db.seal(string(raw)); err != nil {
			return err
		}
	}
	secret, err := db.seal(conn.WebhookSecret)
	if err != nil {
		return err
	}

	now := db.now()
	createdAt := conn.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	var lastSyncAt any
	if conn.LastSyncAt != nil {
		lastSyncAt = conn.LastSyncAt.UTC()
	}

	return db.withRetry(ctx, "save connection", func(ctx context.Context) error {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO connections (`+connectionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				provider = EXCLUDED.provider,
				credentials = EXCLUDED.credentials,
				webhook_secret = EXCLUDED.webhook_secret,
				direction = EXCLUDED.direction,
				poll_interval_ms = EXCLUDED.poll_interval_ms,
				enabled = EXCLUDED.enabled,
				last_sync_at = EXCLUDED.last_sync_at,
				last_sync_error = EXCLUDED.last_sync_error,
				updated_at = EXCLUDED.updated_at`,
			conn.ID, conn.Name, string(conn.Provider), credentials, secret, string(conn.Direction),
			conn.PollInterval.Milliseconds(), conn.Enabled, lastSyncAt, conn.LastSyncError, createdAt, now)
		if err != nil {
			return fmt.Errorf("failed to save connection %s: %w", conn.ID, err)
		}
		return nil
	})
}

// RecordSyncResult stores the outcome of a run. A nil watermark leaves
// last_sync_at unchanged.
func (db *DB) RecordSyncResult(ctx context.Context, connectionID string, watermark *time.Time, syncErr string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var wm any
	if watermark != nil {
		wm = watermark.UTC()
	}

	return db.withRetry(ctx, "record sync result", func(ctx context.Context) error {
		res, err := db.conn.ExecContext(ctx, `
			UPDATE connections SET
				last_sync_at = COALESCE(?, last_sync_at),
				last_sync_error = ?,
				updated_at = ?
			WHERE id = ?`,
			wm, syncErr, db.now(), connectionID)
		if err != nil {
			return fmt.Errorf("failed to record sync result for %s: %w", connectionID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", mapping.ErrConnectionNotFound, connectionID)
		}
		return nil
	})
}

// ListEntityMappings returns a connection's entity mappings in save order.
func (db *DB) ListEntityMappings(ctx context.Context, connectionID string) ([]*models.EntityMapping, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, connection_id, external_entity, internal_type, direction, filter, enabled, identity_field
		FROM entity_mappings WHERE connection_id = ? ORDER BY position`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity mappings: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []*models.EntityMapping
	for rows.Next() {
		var m models.EntityMapping
		if err := rows.Scan(&m.ID, &m.ConnectionID, &m.ExternalEntity, &m.InternalType,
			&m.Direction, &m.Filter, &m.Enabled, &m.IdentityField); err != nil {
			return nil, fmt.Errorf("failed to scan entity mapping: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ListFieldMappings returns an entity mapping's field mappings in save order.
func (db *DB) ListFieldMappings(ctx context.Context, entityMappingID string) ([]*models.FieldMapping, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, entity_mapping_id, internal_field, external_field, direction, transform, required
		FROM field_mappings WHERE entity_mapping_id = ? ORDER BY position`, entityMappingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field mappings: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []*models.FieldMapping
	for rows.Next() {
		var (
			fm   models.FieldMapping
			spec string
		)
		if err := rows.Scan(&fm.ID, &fm.EntityMappingID, &fm.InternalField, &fm.ExternalField,
			&fm.Direction, &spec, &fm.Required); err != nil {
			return nil, fmt.Errorf("failed to scan field mapping: %w", err)
		}
		if spec != "" {
			if err := json.Unmarshal([]byte(spec), &fm.Transform); err != nil {
				return nil, fmt.Errorf("%w: transform of field mapping %s: %v", ErrCorruptRow, fm.ID, err)
			}
		}
		out = append(out, &fm)
	}
	return out, rows.Err()
}

// ListRelationshipMappings returns an entity mapping's relationship mappings
// in save order.
func (db *DB) ListRelationshipMappings(ctx context.Context, entityMappingID string) ([]*models.RelationshipMapping, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, entity_mapping_id, internal_field, external_field, related_internal_type,
			related_external_entity, direction, auto_create_related, sync_nulls
		FROM relationship_mappings WHERE entity_mapping_id = ? ORDER BY position`, entityMappingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationship mappings: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var out []*models.RelationshipMapping
	for rows.Next() {
		var rm models.RelationshipMapping
		if err := rows.Scan(&rm.ID, &rm.EntityMappingID, &rm.InternalField, &rm.ExternalField,
			&rm.RelatedInternalType, &rm.RelatedExternalEntity, &rm.Direction,
			&rm.AutoCreateRelated, &rm.SyncNulls); err != nil {
			return nil, fmt.Errorf("failed to scan relationship mapping: %w", err)
		}
		out = append(out, &rm)
	}
	return out, rows.Err()
}

// SaveEntityMapping inserts or replaces an entity mapping by id. A second
// mapping for the same connection, external entity and internal type fails
// with mapping.ErrDuplicateMapping.
func (db *DB) SaveEntityMapping(ctx context.Context, m *models.EntityMapping) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	db.mappingMu.Lock()
	defer db.mappingMu.Unlock()

	if err := db.requireRow(ctx, `SELECT COUNT(*) FROM connections WHERE id = ?`, m.ConnectionID); err != nil {
		return fmt.Errorf("%w: %s", mapping.ErrConnectionNotFound, m.ConnectionID)
	}

	var clash int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entity_mappings
		WHERE connection_id = ? AND external_entity = ? AND internal_type = ? AND id <> ?`,
		m.ConnectionID, m.ExternalEntity, string(m.InternalType), m.ID).Scan(&clash)
	if err != nil {
		return fmt.Errorf("failed to check entity mapping uniqueness: %w", err)
	}
	if clash > 0 {
		return mapping.ErrDuplicateMapping
	}

	return db.withRetry(ctx, "save entity mapping", func(ctx context.Context) error {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO entity_mappings (id, connection_id, external_entity, internal_type, direction, filter, enabled, identity_field)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				connection_id = EXCLUDED.connection_id,
				external_entity = EXCLUDED.external_entity,
				internal_type = EXCLUDED.internal_type,
				direction = EXCLUDED.direction,
				filter = EXCLUDED.filter,
				enabled = EXCLUDED.enabled,
				identity_field = EXCLUDED.identity_field`,
			m.ID, m.ConnectionID, m.ExternalEntity, string(m.InternalType), string(m.Direction),
			m.Filter, m.Enabled, m.IdentityField)
		if err != nil {
			return fmt.Errorf("failed to save entity mapping %s: %w", m.ID, err)
		}
		return nil
	})
}

// SaveFieldMapping inserts or replaces a field mapping by id.
func (db *DB) SaveFieldMapping(ctx context.Context, fm *models.FieldMapping) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if err := db.requireRow(ctx, `SELECT COUNT(*) FROM entity_mappings WHERE id = ?`, fm.EntityMappingID); err != nil {
		return fmt.Errorf("%w: %s", mapping.ErrMappingNotFound, fm.EntityMappingID)
	}

	var spec string
	if !fm.Transform.IsZero() {
		raw, err := json.Marshal(fm.Transform)
		if err != nil {
			return fmt.Errorf("failed to encode transform of field mapping %s: %w", fm.ID, err)
		}
		spec = string(raw)
	}

	return db.withRetry(ctx, "save field mapping", func(ctx context.Context) error {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO field_mappings (id, entity_mapping_id, internal_field, external_field, direction, transform, required)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				entity_mapping_id = EXCLUDED.entity_mapping_id,
				internal_field = EXCLUDED.internal_field,
				external_field = EXCLUDED.external_field,
				direction = EXCLUDED.direction,
				transform = EXCLUDED.transform,
				required = EXCLUDED.required`,
			fm.ID, fm.EntityMappingID, fm.InternalField, fm.ExternalField, string(fm.Direction), spec, fm.Required)
		if err != nil {
			return fmt.Errorf("failed to save field mapping %s: %w", fm.ID, err)
		}
		return nil
	})
}

// SaveRelationshipMapping inserts or replaces a relationship mapping by id.
func (db *DB) SaveRelationshipMapping(ctx context.Context, rm *models.RelationshipMapping) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if err := db.requireRow(ctx, `SELECT COUNT(*) FROM entity_mappings WHERE id = ?`, rm.EntityMappingID); err != nil {
		return fmt.Errorf("%w: %s", mapping.ErrMappingNotFound, rm.EntityMappingID)
	}

	return db.withRetry(ctx, "save relationship mapping", func(ctx context.Context) error {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO relationship_mappings (id, entity_mapping_id, internal_field, external_field,
				related_internal_type, related_external_entity, direction, auto_create_related, sync_nulls)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				entity_mapping_id = EXCLUDED.entity_mapping_id,
				internal_field = EXCLUDED.internal_field,
				external_field = EXCLUDED.external_field,
				related_internal_type = EXCLUDED.related_internal_type,
				related_external_entity = EXCLUDED.related_external_entity,
				direction = EXCLUDED.direction,
				auto_create_related = EXCLUDED.auto_create_related,
				sync_nulls = EXCLUDED.sync_nulls`,
			rm.ID, rm.EntityMappingID, rm.InternalField, rm.ExternalField, string(rm.RelatedInternalType),
			rm.RelatedExternalEntity, string(rm.Direction), rm.AutoCreateRelated, rm.SyncNulls)
		if err != nil {
			return fmt.Errorf("failed to save relationship mapping %s: %w", rm.ID, err)
		}
		return nil
	})
}

// errNoRow is returned by requireRow when the count query finds nothing.
var errNoRow = errors.New("no row")

// requireRow runs a COUNT(*) query and fails when it counts zero rows.
func (db *DB) requireRow(ctx context.Context, query string, args ...any) error {
	var n int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return errNoRow
	}
	return nil
}

// seal encrypts a secret for storage. Empty values stay empty.
func (db *DB) seal(plain string) (string, error) {
	if plain == "" || db.encryptor == nil {
		return plain, nil
	}
	sealed, err := db.encryptor.Encrypt(plain)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}
	return sealed, nil
}

// open reverses seal.
func (db *DB) open(stored string) (string, error) {
	if stored == "" || db.encryptor == nil {
		return stored, nil
	}
	return db.encryptor.Decrypt(stored)
}
