// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/metrics"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/provider"
)

// ErrInvalidSignature is returned by HandleWebhook when a delivery does not
// carry a valid signature for the connection's secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// HandleWebhook verifies and parses a raw provider callback and applies the
// event it describes. Deliveries for unknown connections, with a bad
// signature or an unparsable body are rejected with an error and never
// start a run.
func (o *Orchestrator) HandleWebhook(ctx context.Context, connectionID string, body []byte, headers http.Header) (*Result, error) {
	if err := requireIDs(connectionID); err != nil {
		return nil, err
	}

	conn, err := o.deps.Mappings.GetConnection(ctx, connectionID)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("unknown", "unknown_connection").Inc()
		return nil, fmt.Errorf("webhook for connection %s: %w", connectionID, err)
	}
	providerLabel := string(conn.Provider)

	prov, err := o.deps.Providers.Resolve(conn.Provider)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(providerLabel, "unsupported").Inc()
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	// Connections without a secret accept unsigned deliveries.
	if conn.WebhookSecret != "" && !prov.ValidateWebhookSignature(body, headers, conn.WebhookSecret) {
		metrics.WebhooksReceived.WithLabelValues(providerLabel, "bad_signature").Inc()
		logging.Warn().Str("connection_id", connectionID).Msg("Rejected webhook with invalid signature")
		return nil, ErrInvalidSignature
	}

	events, err := provider.ParseWebhookEvents(prov, body, headers)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(providerLabel, "bad_payload").Inc()
		return nil, err
	}
	for _, ev := range events {
		if err := checkEvent(ev); err != nil {
			metrics.WebhooksReceived.WithLabelValues(providerLabel, "bad_payload").Inc()
			return nil, err
		}
	}
	metrics.WebhooksReceived.WithLabelValues(providerLabel, "accepted").Inc()

	if len(events) > 1 {
		logging.Debug().Str("connection_id", connectionID).Int("events", len(events)).Msg("Applying webhook batch")
	}
	return o.applyEvents(ctx, connectionID, events), nil
}

// HandleWebhookEvent applies one change reported by a CRM. Created and
// updated records are synced inbound. Deletions are recorded in the sync
// log and otherwise ignored.
func (o *Orchestrator) HandleWebhookEvent(ctx context.Context, connectionID string, eventType models.WebhookEventType, externalEntity, recordID string) (*Result, error) {
	if err := requireIDs(connectionID); err != nil {
		return nil, err
	}
	ev := &models.WebhookEvent{EventType: eventType, Entity: externalEntity, RecordID: recordID}
	if err := checkEvent(ev); err != nil {
		return nil, err
	}
	return o.applyEvents(ctx, connectionID, []*models.WebhookEvent{ev}), nil
}

func checkEvent(ev *models.WebhookEvent) error {
	if err := requireIDs(ev.Entity, ev.RecordID); err != nil {
		return err
	}
	switch ev.EventType {
	case models.WebhookCreated, models.WebhookUpdated, models.WebhookDeleted:
		return nil
	default:
		return fmt.Errorf("%w: webhook event type %q", ErrInvalidArgument, ev.EventType)
	}
}

// applyEvents applies external changes in order within one run. Every event
// must have an enabled mapping before any record is touched.
func (o *Orchestrator) applyEvents(ctx context.Context, connectionID string, events []*models.WebhookEvent) *Result {
	return o.execute(ctx, models.ModeInboundRecord, connectionID, true, func(r *run) *RunError {
		sets := make([]*mapping.Set, len(events))
		for i, ev := range events {
			set, ok := r.snap.ForExternal(ev.Entity)
			if !ok || (ev.EventType != models.WebhookDeleted && !allowsInbound(r.conn, &set.Entity)) {
				return newRunError(KindValidation,
					fmt.Sprintf("no enabled inbound mapping for %s", ev.Entity), ErrMappingNotFound)
			}
			sets[i] = set
		}

		r.enterMapping(sets[0].Entity.ID, len(events))
		r.setState(models.StateFetching)
		for i, ev := range events {
			if rerr := r.interrupted(); rerr != nil {
				return rerr
			}
			r.switchMapping(sets[i].Entity.ID)
			if ev.EventType == models.WebhookDeleted {
				o.recordDeletion(r, sets[i], ev.RecordID)
				continue
			}
			o.pullOne(r, sets[i], ev.RecordID)
		}
		return nil
	})
}

// recordDeletion logs a deletion reported by the CRM. The internal record
// is left in place.
func (o *Orchestrator) recordDeletion(r *run, set *mapping.Set, recordID string) {
	entry := newEntry(set, models.DirectionInbound)
	entry.ExternalID = recordID
	o.guard(r, entry, func() outcome {
		corr, err := o.deps.Ledger.ResolveExternal(r.work, r.connectionID, set.Entity.ExternalEntity, recordID)
		if err != nil {
			return failed(models.ActionDelete, fmt.Errorf("resolve correspondence: %w", err))
		}
		if corr != nil {
			entry.InternalID = corr.InternalID
		}
		return outcome{action: models.ActionDelete, status: models.StatusSkipped}
	})
}
