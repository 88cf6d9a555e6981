// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package provider defines the contract every external CRM implements and the
pieces that sit around it: a capability registry keyed by provider type,
circuit breaker and rate limit decorators, webhook signature helpers, and the
built-in memory and HubSpot implementations.

A Provider is stateless with respect to connections. Every call receives the
connection it operates on, so one Provider value serves all connections of
its type:

	registry := provider.NewRegistry()
	registry.Register(models.ProviderHubSpot, func() provider.Provider {
		return provider.NewHubSpotProvider(provider.HubSpotOptions{})
	})
	p, err := registry.Resolve(conn.Provider)

Errors returned by providers are wrapped in *Error and classified with the
sentinels ErrAuthentication, ErrUnreachable and ErrNotFound so callers can
use errors.Is without knowing which CRM produced them.
*/
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tomtom215/crmsync/internal/models"
)

var (
	// ErrProviderNotSupported is returned when no implementation is registered for a provider type.
	ErrProviderNotSupported = errors.New("provider not supported")

	// ErrAuthentication means the CRM rejected the connection's credentials.
	ErrAuthentication = errors.New("provider authentication failed")

	// ErrUnreachable means the CRM could not be reached or is refusing calls.
	ErrUnreachable = errors.New("provider unreachable")

	// ErrNotFound means the requested record or entity does not exist.
	ErrNotFound = errors.New("provider record not found")

	// ErrInvalidPayload means a webhook body could not be parsed.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// Error wraps a provider failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// RecordIterator streams external records lazily. Next returns io.EOF once
// the sequence is exhausted. Iterators are finite; to restart, call
// ReadChanged again.
type RecordIterator interface {
	Next(ctx context.Context) (*models.ExternalRecord, error)
}

// Provider is the contract a CRM integration implements.
type Provider interface {
	// ValidateConnection reports whether the connection's credentials are
	// accepted by the CRM.
	ValidateConnection(ctx context.Context, conn *models.Connection) bool

	// ListEntities returns the entity types the CRM exposes.
	ListEntities(ctx context.Context, conn *models.Connection) ([]models.EntitySchema, error)

	// ListFields returns the field schema of an external entity.
	ListFields(ctx context.Context, conn *models.Connection, entity string) ([]models.FieldSchema, error)

	// ReadChanged streams records of entity modified after since. A nil
	// since reads everything. filter is provider specific and may be empty.
	ReadChanged(ctx context.Context, conn *models.Connection, entity string, since *time.Time, filter string) RecordIterator

	// Read fetches one record by its external id.
	Read(ctx context.Context, conn *models.Connection, entity, id string) (*models.ExternalRecord, error)

	// Upsert creates the record when externalID is empty and updates it
	// otherwise. It returns the record's external id and whether it was
	// created.
	Upsert(ctx context.Context, conn *models.Connection, entity, externalID string, fields map[string]any) (id string, created bool, err error)

	// ParseWebhookPayload decodes a webhook delivery into an event.
	ParseWebhookPayload(body []byte, headers http.Header) (*models.WebhookEvent, error)

	// ValidateWebhookSignature verifies a webhook delivery against secret.
	ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool
}

// WebhookBatchParser is implemented by providers whose deliveries can carry
// several events.
type WebhookBatchParser interface {
	ParseWebhookBatch(body []byte, headers http.Header) ([]*models.WebhookEvent, error)
}

// ParseWebhookEvents returns every event in a delivery, falling back to
// ParseWebhookPayload for providers that deliver one event at a time.
func ParseWebhookEvents(p Provider, body []byte, headers http.Header) ([]*models.WebhookEvent, error) {
	if bp, ok := p.(WebhookBatchParser); ok {
		return bp.ParseWebhookBatch(body, headers)
	}
	ev, err := p.ParseWebhookPayload(body, headers)
	if err != nil {
		return nil, err
	}
	return []*models.WebhookEvent{ev}, nil
}

// ConnectionChecker is implemented by providers that can report why a
// connection failed validation.
type ConnectionChecker interface {
	CheckConnection(ctx context.Context, conn *models.Connection) error
}

// CheckConnection validates conn. A provider that only answers yes or no has
// its refusal reported as ErrAuthentication.
func CheckConnection(ctx context.Context, p Provider, conn *models.Connection) error {
	if cc, ok := p.(ConnectionChecker); ok {
		return cc.CheckConnection(ctx, conn)
	}
	if !p.ValidateConnection(ctx, conn) {
		return &Error{Op: OpValidateConnection, Err: ErrAuthentication}
	}
	return nil
}

// sliceIterator serves records from memory.
type sliceIterator struct {
	records []*models.ExternalRecord
	pos     int
}

func (it *sliceIterator) Next(ctx context.Context) (*models.ExternalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.records) {
		return nil, io.EOF
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, nil
}

// errIterator yields err on the first call to Next.
type errIterator struct{ err error }

func (it errIterator) Next(context.Context) (*models.ExternalRecord, error) {
	return nil, it.err
}
