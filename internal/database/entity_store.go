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
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/crmsync/internal/database/query"
	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/models"
)

// Get returns one internal record or entity.ErrNotFound.
func (db *DB) Get(ctx context.Context, t models.EntityType, id string) (entity.Record, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var data string
	err := db.conn.QueryRowContext(ctx,
		`SELECT data FROM entities WHERE entity_type = ? AND id = ?`, string(t), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", t, id, err)
	}
	return db.decodeEntity(t, id, data)
}

func (db *DB) decodeEntity(t models.EntityType, id, data string) (entity.Record, error) {
	rec, err := db.registry.New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), rec); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrCorruptRow, t, id, err)
	}
	return rec, nil
}

// Create inserts rec, assigning a uuid when it has no id.
func (db *DB) Create(ctx context.Context, rec entity.Record) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	schema, err := db.registry.Schema(rec.EntityType())
	if err != nil {
		return err
	}
	if rec.EntityID() == "" {
		schema.SetID(rec, uuid.New().String())
	}
	schema.Touch(rec, db.now())

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.EntityType(), err)
	}

	return db.withRetry(ctx, "create entity", func(ctx context.Context) error {
		_, err := db.conn.ExecContext(ctx,
			`INSERT INTO entities (entity_type, id, data, updated_at) VALUES (?, ?, ?, ?)`,
			string(rec.EntityType()), rec.EntityID(), string(data), rec.Modified().UTC())
		if err != nil {
			return fmt.Errorf("failed to create %s %s: %w", rec.EntityType(), rec.EntityID(), err)
		}
		return nil
	})
}

// Update replaces an existing record and bumps its update time.
func (db *DB) Update(ctx context.Context, rec entity.Record) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	schema, err := db.registry.Schema(rec.EntityType())
	if err != nil {
		return err
	}
	schema.Touch(rec, db.now())

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.EntityType(), err)
	}

	return db.withRetry(ctx, "update entity", func(ctx context.Context) error {
		res, err := db.conn.ExecContext(ctx,
			`UPDATE entities SET data = ?, updated_at = ? WHERE entity_type = ? AND id = ?`,
			string(data), rec.Modified().UTC(), string(rec.EntityType()), rec.EntityID())
		if err != nil {
			return fmt.Errorf("failed to update %s %s: %w", rec.EntityType(), rec.EntityID(), err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return entity.ErrNotFound
		}
		return nil
	})
}

// ListModifiedSince returns records of type t updated at or after since,
// ordered by id. A nil since lists everything.
func (db *DB) ListModifiedSince(ctx context.Context, t models.EntityType, since *time.Time) ([]entity.Record, error) {
	if _, err := db.registry.Schema(t); err != nil {
		return nil, err
	}

	wb := query.NewWhereBuilder()
	wb.AddEqual("entity_type", string(t))
	wb.AddSince("updated_at", since)
	return db.queryEntities(ctx, t, wb)
}

// FindByField returns records of type t whose field at path has the same
// identity key as value. Matching happens in Go so custom fields and
// normalization follow entity.IdentityKey exactly.
func (db *DB) FindByField(ctx context.Context, t models.EntityType, path string, value any) ([]entity.Record, error) {
	if !db.registry.HasField(t, path) {
		return nil, fmt.Errorf("%w: %s.%s", entity.ErrUnknownField, t, path)
	}
	key := entity.IdentityKey(value)
	if key == "" {
		return nil, nil
	}

	all, err := db.queryEntities(ctx, t, query.NewWhereBuilder().AddEqual("entity_type", string(t)))
	if err != nil {
		return nil, err
	}

	var out []entity.Record
	for _, rec := range all {
		v, err := db.registry.Get(rec, path)
		if err != nil {
			return nil, err
		}
		if entity.IdentityKey(v) == key {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (db *DB) queryEntities(ctx context.Context, t models.EntityType, wb *query.WhereBuilder) ([]entity.Record, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args := wb.Build()
	rows, err := db.conn.QueryContext(ctx, `SELECT id, data FROM entities WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", t, err)
	}
	defer closeWithLog(rows, "rows")

	var out []entity.Record
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", t, err)
		}
		rec, err := db.decodeEntity(t, id, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// DuckDB collation can differ from Go's byte order for mixed-case ids.
	sort.SliceStable(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out, nil
}
