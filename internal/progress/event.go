// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

// Package progress broadcasts sync run progress to any number of observers
// and keeps the latest snapshot of every run for late joiners.
//
// Every event is published on three watermill topics so observers can follow
// a single run, every run of an entity mapping, or every run of a
// connection:
//
//	progress.sync.<sync id>
//	progress.mapping.<entity mapping id>
//	progress.connection.<connection id>
//
// Delivery is best effort. A subscriber that falls behind loses events
// rather than slowing the sync down.
package progress

import (
	"fmt"
	"time"

	"github.com/tomtom215/crmsync/internal/models"
)

// Scope selects which runs a subscription follows.
type Scope string

const (
	ScopeSync       Scope = "sync"
	ScopeMapping    Scope = "mapping"
	ScopeConnection Scope = "connection"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSync, ScopeMapping, ScopeConnection:
		return true
	}
	return false
}

// Topic returns the watermill topic for a scope and id.
func Topic(scope Scope, id string) string {
	return fmt.Sprintf("progress.%s.%s", scope, id)
}

// Event is one progress update of a sync run.
type Event struct {
	SyncID          string          `json:"sync_id"`
	ConnectionID    string          `json:"connection_id"`
	EntityMappingID string          `json:"entity_mapping_id,omitempty"`
	Mode            models.SyncMode `json:"mode,omitempty"`
	State           models.RunState `json:"state"`
	Percent         float64         `json:"percent"`
	Current         int             `json:"current"`
	Total           int             `json:"total"`
	Succeeded       int             `json:"succeeded"`
	Failed          int             `json:"failed"`
	Message         string          `json:"message,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// topics lists the topics e is published on.
func (e *Event) topics() []string {
	out := []string{Topic(ScopeSync, e.SyncID)}
	if e.EntityMappingID != "" {
		out = append(out, Topic(ScopeMapping, e.EntityMappingID))
	}
	if e.ConnectionID != "" {
		out = append(out, Topic(ScopeConnection, e.ConnectionID))
	}
	return out
}

// Percentage computes current/total as a percentage in [0, 100]. An unknown
// total yields 0.
func Percentage(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(current) / float64(total) * 100
	if p > 100 {
		return 100
	}
	return p
}
