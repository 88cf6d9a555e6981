// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

// Package mapping holds per-connection sync configuration: which external
// entity corresponds to which internal entity type, and how individual fields
// and relationships map between them.
//
// The orchestrator never reads the store mid-run. It loads a Snapshot once at
// the start of a run; configuration edits take effect on the next run.
package mapping

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/crmsync/internal/models"
)

var (
	// ErrConnectionNotFound is returned when a connection id is unknown.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrMappingNotFound is returned when an entity mapping id is unknown.
	ErrMappingNotFound = errors.New("entity mapping not found")

	// ErrDuplicateMapping is returned when saving a second entity mapping for
	// the same (connection, external entity, internal type).
	ErrDuplicateMapping = errors.New("entity mapping already exists for connection, external entity and internal type")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid mapping configuration")
)

// Store is the persistence contract for sync configuration.
type Store interface {
	GetConnection(ctx context.Context, id string) (*models.Connection, error)
	ListConnections(ctx context.Context) ([]*models.Connection, error)
	ListEntityMappings(ctx context.Context, connectionID string) ([]*models.EntityMapping, error)
	ListFieldMappings(ctx context.Context, entityMappingID string) ([]*models.FieldMapping, error)
	ListRelationshipMappings(ctx context.Context, entityMappingID string) ([]*models.RelationshipMapping, error)

	SaveConnection(ctx context.Context, conn *models.Connection) error
	SaveEntityMapping(ctx context.Context, m *models.EntityMapping) error
	SaveFieldMapping(ctx context.Context, fm *models.FieldMapping) error
	SaveRelationshipMapping(ctx context.Context, rm *models.RelationshipMapping) error

	// RecordSyncResult stores the outcome of a run on the connection. A nil
	// watermark leaves LastSyncAt unchanged.
	RecordSyncResult(ctx context.Context, connectionID string, watermark *time.Time, syncErr string) error
}
