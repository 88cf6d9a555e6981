// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package models

import "github.com/tomtom215/crmsync/internal/transform"

// EntityMapping pairs one external entity with one internal entity type
// within a connection. At most one mapping exists per
// (ConnectionID, ExternalEntity, InternalType).
type EntityMapping struct {
	ID             string     `json:"id" validate:"required"`
	ConnectionID   string     `json:"connection_id" validate:"required"`
	ExternalEntity string     `json:"external_entity" validate:"required,max=100"`
	InternalType   EntityType `json:"internal_type" validate:"required,oneof=user company location"`
	Direction      Direction  `json:"direction" validate:"required,oneof=inbound outbound bidirectional"`
	Filter         string     `json:"filter,omitempty"`
	Enabled        bool       `json:"enabled"`

	// IdentityField is the internal field path used as the duplicate
	// detection key. Empty means the entity type's default.
	IdentityField string `json:"identity_field,omitempty"`
}

// FieldMapping pairs one internal field path with one external field name.
// Direction must be included in the owning EntityMapping's direction.
type FieldMapping struct {
	ID              string         `json:"id" validate:"required"`
	EntityMappingID string         `json:"entity_mapping_id" validate:"required"`
	InternalField   string         `json:"internal_field" validate:"required,field_path"`
	ExternalField   string         `json:"external_field" validate:"required"`
	Direction       Direction      `json:"direction" validate:"required,oneof=inbound outbound bidirectional"`
	Transform       transform.Spec `json:"transform"`

	// Required fails the record when the value to write resolves to nil.
	Required bool `json:"required"`
}

// RelationshipMapping maps a foreign-key-like internal field (e.g. a user's
// company_id) to an external lookup field that references another external
// entity.
type RelationshipMapping struct {
	ID                    string     `json:"id" validate:"required"`
	EntityMappingID       string     `json:"entity_mapping_id" validate:"required"`
	InternalField         string     `json:"internal_field" validate:"required,field_path"`
	ExternalField         string     `json:"external_field" validate:"required"`
	RelatedInternalType   EntityType `json:"related_internal_type" validate:"required,oneof=user company location"`
	RelatedExternalEntity string     `json:"related_external_entity" validate:"required"`
	Direction             Direction  `json:"direction" validate:"required,oneof=inbound outbound bidirectional"`
	AutoCreateRelated     bool       `json:"auto_create_related"`
	SyncNulls             bool       `json:"sync_nulls"`
}
