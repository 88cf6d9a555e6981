// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package models

// ProviderType identifies an external CRM implementation.
type ProviderType string

const (
	ProviderMemory      ProviderType = "memory"
	ProviderHubSpot     ProviderType = "hubspot"
	ProviderDynamics365 ProviderType = "dynamics365"
)

// Direction is the permitted flow of data for a connection or mapping.
type Direction string

const (
	DirectionInbound       Direction = "inbound"
	DirectionOutbound      Direction = "outbound"
	DirectionBidirectional Direction = "bidirectional"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionInbound, DirectionOutbound, DirectionBidirectional:
		return true
	}
	return false
}

// Includes reports whether every flow permitted by other is also permitted by d.
func (d Direction) Includes(other Direction) bool {
	if d == DirectionBidirectional {
		return other.Valid()
	}
	return d == other
}

// AllowsInbound reports whether external -> internal flow is permitted.
func (d Direction) AllowsInbound() bool {
	return d == DirectionInbound || d == DirectionBidirectional
}

// AllowsOutbound reports whether internal -> external flow is permitted.
func (d Direction) AllowsOutbound() bool {
	return d == DirectionOutbound || d == DirectionBidirectional
}

// EntityType names an internal entity type.
type EntityType string

const (
	EntityUser     EntityType = "user"
	EntityCompany  EntityType = "company"
	EntityLocation EntityType = "location"
)

// SyncAction is what a record-level sync attempt did.
type SyncAction string

const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionDelete SyncAction = "delete"
	ActionSkip   SyncAction = "skip"
)

// SyncStatus is the outcome of a record-level sync attempt.
type SyncStatus string

const (
	StatusSuccess  SyncStatus = "success"
	StatusFailed   SyncStatus = "failed"
	StatusConflict SyncStatus = "conflict"
	StatusSkipped  SyncStatus = "skipped"
)

// SyncMode is the kind of pass a run performs.
type SyncMode string

const (
	ModeFull           SyncMode = "full"
	ModeIncremental    SyncMode = "incremental"
	ModeEntityMapping  SyncMode = "entity_mapping"
	ModeRelationship   SyncMode = "relationship"
	ModeOutboundRecord SyncMode = "outbound_record"
	ModeInboundRecord  SyncMode = "inbound_record"
)

// RunState is the state of a sync run.
type RunState string

const (
	StateIdle           RunState = "idle"
	StateAuthenticating RunState = "authenticating"
	StateFetching       RunState = "fetching"
	StateMapping        RunState = "mapping"
	StateUpserting      RunState = "upserting"
	StateCompleted      RunState = "completed"
	StateFailed         RunState = "failed"
	StateCancelled      RunState = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}
