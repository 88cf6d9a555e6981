// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package provider

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/crmsync/internal/metrics"
	"github.com/tomtom215/crmsync/internal/models"
)

// rateLimitedProvider throttles remote calls per connection with a token
// bucket. Webhook parsing is local and never throttled.
type rateLimitedProvider struct {
	next  Provider
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// WithRateLimit returns a Decorator limiting each connection to perSecond
// calls with the given burst. A non-positive perSecond disables limiting.
func WithRateLimit(perSecond float64, burst int) Decorator {
	return func(next Provider) Provider {
		if perSecond <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		return &rateLimitedProvider{
			next:     next,
			limit:    rate.Limit(perSecond),
			burst:    burst,
			limiters: make(map[string]*rate.Limiter),
		}
	}
}

func (r *rateLimitedProvider) wait(ctx context.Context, conn *models.Connection) error {
	r.mu.Lock()
	lim, ok := r.limiters[conn.ID]
	if !ok {
		lim = rate.NewLimiter(r.limit, r.burst)
		r.limiters[conn.ID] = lim
	}
	r.mu.Unlock()

	start := time.Now()
	err := lim.Wait(ctx)
	metrics.ProviderRateLimitWait.WithLabelValues(string(conn.Provider)).Observe(time.Since(start).Seconds())
	return err
}

func (r *rateLimitedProvider) ValidateConnection(ctx context.Context, conn *models.Connection) bool {
	return r.CheckConnection(ctx, conn) == nil
}

func (r *rateLimitedProvider) CheckConnection(ctx context.Context, conn *models.Connection) error {
	if err := r.wait(ctx, conn); err != nil {
		return wrap("validate_connection", err)
	}
	return CheckConnection(ctx, r.next, conn)
}

func (r *rateLimitedProvider) ListEntities(ctx context.Context, conn *models.Connection) ([]models.EntitySchema, error) {
	if err := r.wait(ctx, conn); err != nil {
		return nil, wrap("list_entities", err)
	}
	return r.next.ListEntities(ctx, conn)
}

func (r *rateLimitedProvider) ListFields(ctx context.Context, conn *models.Connection, entity string) ([]models.FieldSchema, error) {
	if err := r.wait(ctx, conn); err != nil {
		return nil, wrap("list_fields", err)
	}
	return r.next.ListFields(ctx, conn, entity)
}

func (r *rateLimitedProvider) ReadChanged(ctx context.Context, conn *models.Connection, entity string, since *time.Time, filter string) RecordIterator {
	return &rateLimitedIterator{parent: r, conn: conn, inner: r.next.ReadChanged(ctx, conn, entity, since, filter)}
}

func (r *rateLimitedProvider) Read(ctx context.Context, conn *models.Connection, entity, id string) (*models.ExternalRecord, error) {
	if err := r.wait(ctx, conn); err != nil {
		return nil, wrap("read", err)
	}
	return r.next.Read(ctx, conn, entity, id)
}

func (r *rateLimitedProvider) Upsert(ctx context.Context, conn *models.Connection, entity, externalID string, fields map[string]any) (string, bool, error) {
	if err := r.wait(ctx, conn); err != nil {
		return "", false, wrap("upsert", err)
	}
	return r.next.Upsert(ctx, conn, entity, externalID, fields)
}

func (r *rateLimitedProvider) ParseWebhookPayload(body []byte, headers http.Header) (*models.WebhookEvent, error) {
	return r.next.ParseWebhookPayload(body, headers)
}

func (r *rateLimitedProvider) ParseWebhookBatch(body []byte, headers http.Header) ([]*models.WebhookEvent, error) {
	return ParseWebhookEvents(r.next, body, headers)
}

func (r *rateLimitedProvider) ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool {
	return r.next.ValidateWebhookSignature(body, headers, secret)
}

// rateLimitedIterator takes a token per record.
type rateLimitedIterator struct {
	parent *rateLimitedProvider
	conn   *models.Connection
	inner  RecordIterator
}

func (it *rateLimitedIterator) Next(ctx context.Context) (*models.ExternalRecord, error) {
	if err := it.parent.wait(ctx, it.conn); err != nil {
		return nil, wrap("read_changed", err)
	}
	return it.inner.Next(ctx)
}
