// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/metrics"
	"github.com/tomtom215/crmsync/internal/models"
)

// BreakerSettings configures the per-connection circuit breakers.
type BreakerSettings struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts reset.
	Interval time.Duration
	// Timeout before an open breaker moves to half-open.
	Timeout time.Duration
	// MinRequests needed in a window before the breaker may trip.
	MinRequests uint32
	// FailureRatio at or above which the breaker trips.
	FailureRatio float64
}

// DefaultBreakerSettings returns the breaker defaults: trip at 60% failures
// over at least 10 requests, allow a trial request after two minutes.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      2 * time.Minute,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// breakerProvider guards every remote call of the wrapped provider with a
// circuit breaker owned by the connection the call is made for. One failing
// CRM tenant cannot open the breaker of another.
type breakerProvider struct {
	next     Provider
	settings BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// WithCircuitBreaker returns a Decorator adding per-connection breakers.
// While a breaker is open calls fail fast with ErrUnreachable.
func WithCircuitBreaker(settings BreakerSettings) Decorator {
	return func(next Provider) Provider {
		return &breakerProvider{
			next:     next,
			settings: settings,
			breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		}
	}
}

func (b *breakerProvider) breaker(conn *models.Connection) *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := "provider:" + conn.ID
	if cb, ok := b.breakers[name]; ok {
		return cb
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	s := b.settings
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= s.FailureRatio {
				logging.Warn().Str("breaker", name).Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: isBreakerSuccess,
	})
	b.breakers[name] = cb
	return cb
}

// isBreakerSuccess counts only transport-level failures against the breaker.
// Missing records and cancelled contexts say nothing about the CRM's health.
func isBreakerSuccess(err error) bool {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return true
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAuthentication):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// IsCircuitOpen reports whether err was produced by a breaker refusing calls.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (b *breakerProvider) execute(conn *models.Connection, op string, fn func() (any, error)) (any, error) {
	cb := b.breaker(conn)
	result, err := cb.Execute(fn)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(cb.Name(), "rejected").Inc()
		return nil, &Error{Op: op, Err: errors.Join(ErrUnreachable, err)}
	case err != nil && !isBreakerSuccess(err):
		metrics.CircuitBreakerRequests.WithLabelValues(cb.Name(), "failure").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(cb.Name(), "success").Inc()
	}
	if !errors.Is(err, io.EOF) {
		metrics.RecordProviderCall(string(conn.Provider), op, err)
	}
	return result, err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (b *breakerProvider) ValidateConnection(ctx context.Context, conn *models.Connection) bool {
	return b.CheckConnection(ctx, conn) == nil
}

// CheckConnection runs the check through the breaker. Rejected credentials
// do not count against it; an open breaker is reported as ErrUnreachable.
func (b *breakerProvider) CheckConnection(ctx context.Context, conn *models.Connection) error {
	_, err := b.execute(conn, "validate_connection", func() (any, error) {
		return nil, CheckConnection(ctx, b.next, conn)
	})
	return err
}

func (b *breakerProvider) ListEntities(ctx context.Context, conn *models.Connection) ([]models.EntitySchema, error) {
	res, err := b.execute(conn, "list_entities", func() (any, error) {
		return b.next.ListEntities(ctx, conn)
	})
	if err != nil {
		return nil, err
	}
	return res.([]models.EntitySchema), nil
}

func (b *breakerProvider) ListFields(ctx context.Context, conn *models.Connection, entity string) ([]models.FieldSchema, error) {
	res, err := b.execute(conn, "list_fields", func() (any, error) {
		return b.next.ListFields(ctx, conn, entity)
	})
	if err != nil {
		return nil, err
	}
	return res.([]models.FieldSchema), nil
}

func (b *breakerProvider) ReadChanged(ctx context.Context, conn *models.Connection, entity string, since *time.Time, filter string) RecordIterator {
	return &breakerIterator{
		parent: b,
		conn:   conn,
		inner:  b.next.ReadChanged(ctx, conn, entity, since, filter),
	}
}

func (b *breakerProvider) Read(ctx context.Context, conn *models.Connection, entity, id string) (*models.ExternalRecord, error) {
	res, err := b.execute(conn, "read", func() (any, error) {
		return b.next.Read(ctx, conn, entity, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.ExternalRecord), nil
}

type upsertResult struct {
	id      string
	created bool
}

func (b *breakerProvider) Upsert(ctx context.Context, conn *models.Connection, entity, externalID string, fields map[string]any) (string, bool, error) {
	res, err := b.execute(conn, "upsert", func() (any, error) {
		id, created, err := b.next.Upsert(ctx, conn, entity, externalID, fields)
		return upsertResult{id: id, created: created}, err
	})
	if err != nil {
		return "", false, err
	}
	r := res.(upsertResult)
	return r.id, r.created, nil
}

func (b *breakerProvider) ParseWebhookPayload(body []byte, headers http.Header) (*models.WebhookEvent, error) {
	return b.next.ParseWebhookPayload(body, headers)
}

func (b *breakerProvider) ParseWebhookBatch(body []byte, headers http.Header) ([]*models.WebhookEvent, error) {
	return ParseWebhookEvents(b.next, body, headers)
}

func (b *breakerProvider) ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool {
	return b.next.ValidateWebhookSignature(body, headers, secret)
}

// breakerIterator runs each page fetch of the inner iterator through the
// connection's breaker.
type breakerIterator struct {
	parent *breakerProvider
	conn   *models.Connection
	inner  RecordIterator
}

func (it *breakerIterator) Next(ctx context.Context) (*models.ExternalRecord, error) {
	res, err := it.parent.execute(it.conn, "read_changed", func() (any, error) {
		return it.inner.Next(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.ExternalRecord), nil
}
