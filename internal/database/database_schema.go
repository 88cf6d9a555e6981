// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
database_schema.go - Database Schema Management

Tables:
  - connections: CRM connections with encrypted credentials and the sync watermark
  - entity_mappings, field_mappings, relationship_mappings: per-connection sync configuration
  - correspondences: the ledger linking internal records to external records
  - sync_log: append-only record-level audit trail
  - entities: internal users, companies and locations as JSON documents

JSON columns are plain VARCHAR encoded with goccy/go-json so the schema
needs no DuckDB extension. Timestamps are TIMESTAMP holding UTC.

Ordering:
Listings that must be stable use a sequence-backed position column: mapping
rows list in save order and sync log rows in append order.

Index Strategy:
Indexes only cover columns that are never updated in place, since DuckDB
rewrites index entries of updated columns as delete plus insert.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range getTableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

func getTableCreationQueries() []string {
	return []string{
		`CREATE SEQUENCE IF NOT EXISTS mapping_position_seq START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS sync_log_seq START 1;`,

		`CREATE TABLE IF NOT EXISTS connections (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			provider VARCHAR NOT NULL,
			credentials VARCHAR NOT NULL DEFAULT '',
			webhook_secret VARCHAR NOT NULL DEFAULT '',
			direction VARCHAR NOT NULL,
			poll_interval_ms BIGINT NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT false,
			last_sync_at TIMESTAMP,
			last_sync_error VARCHAR NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS entity_mappings (
			id VARCHAR PRIMARY KEY,
			connection_id VARCHAR NOT NULL,
			external_entity VARCHAR NOT NULL,
			internal_type VARCHAR NOT NULL,
			direction VARCHAR NOT NULL,
			filter VARCHAR NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT false,
			identity_field VARCHAR NOT NULL DEFAULT '',
			position BIGINT NOT NULL DEFAULT nextval('mapping_position_seq')
		);`,

		`CREATE TABLE IF NOT EXISTS field_mappings (
			id VARCHAR PRIMARY KEY,
			entity_mapping_id VARCHAR NOT NULL,
			internal_field VARCHAR NOT NULL,
			external_field VARCHAR NOT NULL,
			direction VARCHAR NOT NULL,
			transform VARCHAR NOT NULL DEFAULT '',
			required BOOLEAN NOT NULL DEFAULT false,
			position BIGINT NOT NULL DEFAULT nextval('mapping_position_seq')
		);`,

		`CREATE TABLE IF NOT EXISTS relationship_mappings (
			id VARCHAR PRIMARY KEY,
			entity_mapping_id VARCHAR NOT NULL,
			internal_field VARCHAR NOT NULL,
			external_field VARCHAR NOT NULL,
			related_internal_type VARCHAR NOT NULL,
			related_external_entity VARCHAR NOT NULL,
			direction VARCHAR NOT NULL,
			auto_create_related BOOLEAN NOT NULL DEFAULT false,
			sync_nulls BOOLEAN NOT NULL DEFAULT false,
			position BIGINT NOT NULL DEFAULT nextval('mapping_position_seq')
		);`,

		`CREATE TABLE IF NOT EXISTS correspondences (
			id VARCHAR PRIMARY KEY,
			connection_id VARCHAR NOT NULL,
			internal_type VARCHAR NOT NULL,
			internal_id VARCHAR NOT NULL,
			external_entity VARCHAR NOT NULL,
			external_id VARCHAR NOT NULL,
			last_synced_at TIMESTAMP NOT NULL,
			last_sync_direction VARCHAR NOT NULL DEFAULT '',
			snapshot VARCHAR NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS sync_log (
			seq BIGINT PRIMARY KEY DEFAULT nextval('sync_log_seq'),
			id VARCHAR NOT NULL,
			sync_id VARCHAR NOT NULL,
			connection_id VARCHAR NOT NULL,
			entity_mapping_id VARCHAR NOT NULL DEFAULT '',
			internal_type VARCHAR NOT NULL DEFAULT '',
			internal_id VARCHAR NOT NULL DEFAULT '',
			external_entity VARCHAR NOT NULL DEFAULT '',
			external_id VARCHAR NOT NULL DEFAULT '',
			direction VARCHAR NOT NULL DEFAULT '',
			action VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			changed_fields VARCHAR NOT NULL DEFAULT '',
			error VARCHAR NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS entities (
			entity_type VARCHAR NOT NULL,
			id VARCHAR NOT NULL,
			data VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (entity_type, id)
		);`,
	}
}

// createIndexes creates all database indexes.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range getIndexQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}
	return nil
}

func getIndexQueries() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_correspondences_connection ON correspondences(connection_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_connection ON sync_log(connection_id, sync_id);`,
	}
}
