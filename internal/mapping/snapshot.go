// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package mapping

import (
	"context"
	"fmt"

	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/models"
)

// Set is one entity mapping together with its field and relationship mappings.
type Set struct {
	Entity        models.EntityMapping
	Fields        []models.FieldMapping
	Relationships []models.RelationshipMapping
}

// Snapshot is the read-only configuration of one connection as of the start
// of a run.
type Snapshot struct {
	Connection models.Connection
	Sets       []*Set
}

// Load reads the full configuration of a connection.
func Load(ctx context.Context, store Store, connectionID string) (*Snapshot, error) {
	conn, err := store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection %s: %w", connectionID, err)
	}

	entities, err := store.ListEntityMappings(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list entity mappings: %w", err)
	}

	snap := &Snapshot{Connection: *conn, Sets: make([]*Set, 0, len(entities))}
	for _, em := range entities {
		set := &Set{Entity: *em}

		fields, err := store.ListFieldMappings(ctx, em.ID)
		if err != nil {
			return nil, fmt.Errorf("list field mappings for %s: %w", em.ID, err)
		}
		for _, fm := range fields {
			set.Fields = append(set.Fields, *fm)
		}

		rels, err := store.ListRelationshipMappings(ctx, em.ID)
		if err != nil {
			return nil, fmt.Errorf("list relationship mappings for %s: %w", em.ID, err)
		}
		for _, rm := range rels {
			set.Relationships = append(set.Relationships, *rm)
		}

		snap.Sets = append(snap.Sets, set)
	}
	return snap, nil
}

// Set returns the mapping set with the given entity mapping id.
func (s *Snapshot) Set(id string) (*Set, bool) {
	for _, set := range s.Sets {
		if set.Entity.ID == id {
			return set, true
		}
	}
	return nil, false
}

// Enabled returns the enabled mapping sets in configuration order.
func (s *Snapshot) Enabled() []*Set {
	out := make([]*Set, 0, len(s.Sets))
	for _, set := range s.Sets {
		if set.Entity.Enabled {
			out = append(out, set)
		}
	}
	return out
}

// ForExternal returns the first enabled set mapping the given external entity.
func (s *Snapshot) ForExternal(entity string) (*Set, bool) {
	for _, set := range s.Sets {
		if set.Entity.Enabled && set.Entity.ExternalEntity == entity {
			return set, true
		}
	}
	return nil, false
}

// ForInternal returns the first enabled set mapping the given internal type.
func (s *Snapshot) ForInternal(t models.EntityType) (*Set, bool) {
	for _, set := range s.Sets {
		if set.Entity.Enabled && set.Entity.InternalType == t {
			return set, true
		}
	}
	return nil, false
}

// ForRelated returns the enabled set pairing an external entity with an
// internal type, used to sync the target of a relationship.
func (s *Snapshot) ForRelated(external string, t models.EntityType) (*Set, bool) {
	for _, set := range s.Sets {
		if set.Entity.Enabled && set.Entity.ExternalEntity == external && set.Entity.InternalType == t {
			return set, true
		}
	}
	return nil, false
}

// Identity returns the internal field that identifies records of the set,
// falling back to the entity type's default, and the field mapping that
// carries it when one exists.
func (set *Set) Identity(registry *entity.Registry) (string, *models.FieldMapping) {
	field := set.Entity.IdentityField
	if field == "" {
		field = registry.IdentityField(set.Entity.InternalType)
	}
	for i := range set.Fields {
		if registry.SamePath(set.Fields[i].InternalField, field) {
			return field, &set.Fields[i]
		}
	}
	return field, nil
}

// OutboundFields returns the field mappings that write to the external CRM.
func (set *Set) OutboundFields() []models.FieldMapping {
	return set.filterFields(models.Direction.AllowsOutbound)
}

// InboundFields returns the field mappings that write to the internal model.
func (set *Set) InboundFields() []models.FieldMapping {
	return set.filterFields(models.Direction.AllowsInbound)
}

func (set *Set) filterFields(allow func(models.Direction) bool) []models.FieldMapping {
	out := make([]models.FieldMapping, 0, len(set.Fields))
	for _, fm := range set.Fields {
		if allow(fm.Direction) {
			out = append(out, fm)
		}
	}
	return out
}
