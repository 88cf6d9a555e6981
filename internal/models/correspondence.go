// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package models

import "time"

// CorrespondenceRecord is durable proof that an internal record and an
// external record are the same thing. It is unique on
// (ConnectionID, InternalType, InternalID) and on
// (ConnectionID, ExternalEntity, ExternalID).
//
// Snapshot holds the external-side field values as of the last successful
// sync and is the baseline for changed-field deltas.
type CorrespondenceRecord struct {
	ID                string         `json:"id"`
	ConnectionID      string         `json:"connection_id"`
	InternalType      EntityType     `json:"internal_type"`
	InternalID        string         `json:"internal_id"`
	ExternalEntity    string         `json:"external_entity"`
	ExternalID        string         `json:"external_id"`
	LastSyncedAt      time.Time      `json:"last_synced_at"`
	LastSyncDirection Direction      `json:"last_sync_direction"`
	Snapshot          map[string]any `json:"snapshot,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
