// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package models

import "time"

// Connection is a configured link to one external CRM tenant.
//
// Credentials are opaque to the engine: they are handed unchanged to the
// provider implementation. An empty WebhookSecret means the connection
// accepts unsigned webhooks.
type Connection struct {
	ID            string            `json:"id" validate:"required"`
	Name          string            `json:"name" validate:"required,max=200"`
	Provider      ProviderType      `json:"provider" validate:"required"`
	Credentials   map[string]string `json:"-"`
	WebhookSecret string            `json:"-"`
	Direction     Direction         `json:"direction" validate:"required,oneof=inbound outbound bidirectional"`
	PollInterval  time.Duration     `json:"poll_interval" validate:"gte=0"`
	Enabled       bool              `json:"enabled"`
	LastSyncAt    *time.Time        `json:"last_sync_at,omitempty"`
	LastSyncError string            `json:"last_sync_error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
