// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package models defines the data shapes shared by the CRM synchronization
engine.

Configuration (Connection, EntityMapping, FieldMapping, RelationshipMapping)
is created by operators and read-only to the engine. CorrespondenceRecord and
SyncLogEntry are written only by the sync orchestrator. ExternalRecord is
ephemeral: built per provider read and discarded after mapping.

Internal business entities (User, Company, Location) live here too; field
access on them goes through the accessor registry in internal/entity rather
than reflection.
*/
package models
