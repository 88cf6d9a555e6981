// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

// Package query provides SQL query building utilities for the database package.
//
// The WhereBuilder assembles parameterized WHERE clauses from optional
// filters: empty values are skipped so a zero filter matches every row.
//
//	wb := query.NewWhereBuilder()
//	wb.AddEqual("connection_id", filter.ConnectionID)
//	wb.AddEqual("sync_id", filter.SyncID)
//	wb.AddEqual("status", string(filter.Status))
//	whereClause, args := wb.Build()
//	// Result: "connection_id = ? AND status = ?"
//	// Args: ["conn-1", "failed"]
//
// Column names are concatenated into the SQL and must be constants chosen by
// the caller. Only values are bound as arguments.
package query
