// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package models

import "time"

// SyncLogEntry is the immutable audit row for one record-level sync attempt.
type SyncLogEntry struct {
	ID              string     `json:"id"`
	SyncID          string     `json:"sync_id"`
	ConnectionID    string     `json:"connection_id"`
	EntityMappingID string     `json:"entity_mapping_id"`
	InternalType    EntityType `json:"internal_type"`
	InternalID      string     `json:"internal_id,omitempty"`
	ExternalEntity  string     `json:"external_entity"`
	ExternalID      string     `json:"external_id,omitempty"`
	Direction       Direction  `json:"direction"`
	Action          SyncAction `json:"action"`
	Status          SyncStatus `json:"status"`
	ChangedFields   []string   `json:"changed_fields,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SyncLogFilter narrows a sync log listing. Zero fields match everything.
type SyncLogFilter struct {
	ConnectionID string
	SyncID       string
	Status       SyncStatus
	Limit        int
}
