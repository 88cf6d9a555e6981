// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package models

import "time"

// ExternalRecord is a provider-agnostic bag of field values for one external record.
type ExternalRecord struct {
	ID         string         `json:"id"`
	Entity     string         `json:"entity"`
	Fields     map[string]any `json:"fields"`
	ModifiedAt time.Time      `json:"modified_at"`
}

// WebhookEventType is the change an external CRM reported.
type WebhookEventType string

const (
	WebhookCreated WebhookEventType = "created"
	WebhookUpdated WebhookEventType = "updated"
	WebhookDeleted WebhookEventType = "deleted"
)

// WebhookEvent is a parsed provider callback.
type WebhookEvent struct {
	EventType  WebhookEventType `json:"event_type"`
	Entity     string           `json:"entity"`
	RecordID   string           `json:"record_id"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// EntitySchema describes an external entity for schema discovery.
type EntitySchema struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// FieldSchema describes one field of an external entity.
type FieldSchema struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	ReadOnly    bool   `json:"read_only"`
}
