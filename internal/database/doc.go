// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

// Package database is the DuckDB persistence layer of the sync engine.
//
// # Overview
//
// A single *DB implements every storage contract the engine depends on:
//
//   - mapping.Store: connections, entity mappings, field mappings and
//     relationship mappings, plus the per-connection sync watermark
//   - ledger.Store: the correspondence ledger linking internal and external
//     records
//   - ledger.SyncLog: the append-only record-level audit trail
//   - entity.Store: internal users, companies and locations
//
// The in-memory implementations in those packages share the same semantics
// and are used by unit tests of the orchestrator.
//
// # Architecture
//
//   - database.go: lifecycle (open, initialize, close)
//   - database_schema.go: tables, sequences and indexes
//   - migrations.go: append-only versioned migrations
//   - database_connection.go: pool configuration and write retries
//   - database_utils.go: context defaults, checkpoints, record counts
//   - mapping_store.go, ledger_store.go, entity_store.go: the stores
//   - query/: parameterized WHERE clause builder
//
// # Uniqueness
//
// The ledger is unique on both (connection, internal type, internal id) and
// (connection, external entity, external id). DuckDB treats an UPDATE of an
// indexed column as delete plus insert, which trips UNIQUE indexes on rows
// that are relinked, so both constraints are checked in Go under a mutex
// held across check and write. Entity mapping uniqueness works the same way.
//
// # Secrets at Rest
//
// Connection credentials and webhook secrets are sealed with
// config.CredentialEncryptor (AES-256-GCM) before they reach the table. A
// row that no longer decrypts with the configured key fails with
// ErrCorruptRow instead of returning garbage.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes that hit a DuckDB
// transaction conflict are retried with a short backoff.
//
// # Usage
//
//	db, err := database.New(&cfg.Database, encryptor, entity.NewRegistry())
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	orch, err := sync.New(sync.Deps{
//	    Mappings: db, Ledger: db, SyncLog: db, Entities: db,
//	    Providers: providers, Locker: locker,
//	}, opts)
package database
