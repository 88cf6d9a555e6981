// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/ledger"
	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/metrics"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/transform"
)

// push writes internal records of one mapping changed since the watermark
// to the external CRM.
func (o *Orchestrator) push(r *run, set *mapping.Set, since *time.Time) *RunError {
	em := set.Entity
	r.enterMapping(em.ID, 0)
	r.setState(models.StateFetching)
	o.publish(r, "Reading internal "+string(em.InternalType)+" records")

	recs, err := o.deps.Entities.ListModifiedSince(r.ctx, em.InternalType, since)
	if err != nil {
		if rerr := r.interrupted(); rerr != nil {
			return rerr
		}
		return toRunError(fmt.Sprintf("list internal %s records", em.InternalType), err)
	}

	pending := make([]entity.Record, 0, len(recs))
	for _, rec := range recs {
		if !r.conflicted(ledger.InternalKey(r.connectionID, em.InternalType, rec.EntityID())) {
			pending = append(pending, rec)
		}
	}

	r.enterMapping(em.ID, len(pending))
	r.setState(models.StateMapping)
	o.publish(r, fmt.Sprintf("Mapping %d %s records", len(pending), em.InternalType))
	r.setState(models.StateUpserting)

	p := newPool(r.ctx, o.opts.Concurrency)
	for _, rec := range pending {
		entry := newEntry(set, models.DirectionOutbound)
		entry.InternalID = rec.EntityID()
		if !p.Go(func() {
			o.guard(r, entry, func() outcome { return o.outboundRecord(r, set, rec, entry) })
		}) {
			break
		}
	}
	p.Wait()
	return r.interrupted()
}

// SyncOutboundRecord writes one internal record to the external CRM.
func (o *Orchestrator) SyncOutboundRecord(ctx context.Context, connectionID string, internalType models.EntityType, internalID string) (*Result, error) {
	if err := requireIDs(connectionID, string(internalType), internalID); err != nil {
		return nil, err
	}
	return o.execute(ctx, models.ModeOutboundRecord, connectionID, true, func(r *run) *RunError {
		set, ok := r.snap.ForInternal(internalType)
		if !ok || !allowsOutbound(r.conn, &set.Entity) {
			return newRunError(KindValidation,
				fmt.Sprintf("no enabled outbound mapping for %s", internalType), ErrMappingNotFound)
		}
		r.enterMapping(set.Entity.ID, 1)
		r.setState(models.StateFetching)

		entry := newEntry(set, models.DirectionOutbound)
		entry.InternalID = internalID
		o.guard(r, entry, func() outcome {
			rec, err := o.deps.Entities.Get(r.work, internalType, internalID)
			if err != nil {
				return failed(models.ActionSkip, fmt.Errorf("load %s %s: %w", internalType, internalID, err))
			}
			r.setState(models.StateUpserting)
			return o.outboundRecord(r, set, rec, entry)
		})
		return nil
	}), nil
}

// outboundRecord creates or updates the external record for rec.
func (o *Orchestrator) outboundRecord(r *run, set *mapping.Set, rec entity.Record, entry *models.SyncLogEntry) outcome {
	ctx := r.work

	// Related records are created before the primary record's lock is taken
	// so that two records referencing each other cannot deadlock.
	related, err := o.outboundRelationships(ctx, r, set, rec)
	if err != nil {
		return failed(models.ActionSkip, err)
	}

	unlock := o.records.Lock(ledger.InternalKey(r.connectionID, set.Entity.InternalType, rec.EntityID()))
	defer unlock()

	corr, err := o.deps.Ledger.Resolve(ctx, r.connectionID, set.Entity.InternalType, rec.EntityID())
	if err != nil {
		return failed(models.ActionSkip, fmt.Errorf("resolve correspondence: %w", err))
	}

	action := models.ActionCreate
	if corr != nil {
		action = models.ActionUpdate
		entry.ExternalID = corr.ExternalID
	}

	payload, err := o.outboundPayload(r, set, rec)
	if err != nil {
		return failed(action, err)
	}
	for k, v := range related {
		payload[k] = v
	}

	if corr == nil {
		return o.outboundCreate(ctx, r, set, rec, payload, entry)
	}
	return o.outboundUpdate(ctx, r, set, corr, payload)
}

func (o *Orchestrator) outboundCreate(ctx context.Context, r *run, set *mapping.Set, rec entity.Record,
	payload map[string]any, entry *models.SyncLogEntry) outcome {
	em := set.Entity

	externalID, err := o.createExternal(ctx, r, set, rec, payload)
	if externalID != "" {
		entry.ExternalID = externalID
	}
	if err != nil {
		return failed(models.ActionCreate, err)
	}
	logging.Ctx(r.ctx).Debug().
		Str("internal_type", string(em.InternalType)).
		Str("internal_id", rec.EntityID()).
		Str("external_id", externalID).
		Msg("Created external record")
	return outcome{action: models.ActionCreate, status: models.StatusSuccess, changed: sortedKeys(payload)}
}

// createExternal creates the external record and links it. It returns the
// external id when the create went through, even if linking failed.
func (o *Orchestrator) createExternal(ctx context.Context, r *run, set *mapping.Set, rec entity.Record, payload map[string]any) (string, error) {
	em := set.Entity
	externalID, _, err := r.prov.Upsert(ctx, r.conn, em.ExternalEntity, "", payload)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", em.ExternalEntity, err)
	}

	now := o.now()
	err = o.deps.Ledger.Link(ctx, &models.CorrespondenceRecord{
		ID:                uuid.NewString(),
		ConnectionID:      r.connectionID,
		InternalType:      em.InternalType,
		InternalID:        rec.EntityID(),
		ExternalEntity:    em.ExternalEntity,
		ExternalID:        externalID,
		LastSyncedAt:      now,
		LastSyncDirection: models.DirectionOutbound,
		Snapshot:          ledger.CloneSnapshot(payload),
		CreatedAt:         now,
	})
	metrics.RecordLedgerLink(err)
	if err != nil {
		return externalID, fmt.Errorf("external %s %s created but not linked: %w", em.ExternalEntity, externalID, err)
	}
	return externalID, nil
}

func (o *Orchestrator) outboundUpdate(ctx context.Context, r *run, set *mapping.Set,
	corr *models.CorrespondenceRecord, payload map[string]any) outcome {
	em := set.Entity

	changed := delta(payload, corr.Snapshot)
	if len(changed) == 0 {
		return outcome{action: models.ActionSkip, status: models.StatusSkipped}
	}

	fields := make(map[string]any, len(changed))
	for _, k := range changed {
		fields[k] = payload[k]
	}
	if _, _, err := r.prov.Upsert(ctx, r.conn, em.ExternalEntity, corr.ExternalID, fields); err != nil {
		return failed(models.ActionUpdate, fmt.Errorf("update %s %s: %w", em.ExternalEntity, corr.ExternalID, err))
	}

	snapshot := ledger.CloneSnapshot(corr.Snapshot)
	if snapshot == nil {
		snapshot = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		snapshot[k] = v
	}
	if err := o.deps.Ledger.Touch(ctx, r.connectionID, em.InternalType, corr.InternalID, models.DirectionOutbound, snapshot, o.now()); err != nil {
		return failed(models.ActionUpdate, fmt.Errorf("touch correspondence: %w", err))
	}
	return outcome{action: models.ActionUpdate, status: models.StatusSuccess, changed: changed}
}

// outboundPayload transforms every outbound scalar field of rec.
func (o *Orchestrator) outboundPayload(r *run, set *mapping.Set, rec entity.Record) (map[string]any, error) {
	fields := set.OutboundFields()
	payload := make(map[string]any, len(fields))
	for _, fm := range fields {
		raw, err := o.deps.Registry.Get(rec, fm.InternalField)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fm.InternalField, err)
		}
		value, w := transform.Apply(raw, fm.Transform, transform.Outbound)
		if w != nil {
			warnTransform(r, fm, w)
		}
		if fm.Required && isEmpty(value) {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequired, fm.InternalField)
		}
		payload[fm.ExternalField] = value
	}
	return payload, nil
}

// outboundRelationships resolves rec's foreign keys to external ids,
// creating unlinked related records when the mapping asks for it.
func (o *Orchestrator) outboundRelationships(ctx context.Context, r *run, set *mapping.Set, rec entity.Record) (map[string]any, error) {
	out := make(map[string]any)
	for _, rm := range set.Relationships {
		if !rm.Direction.AllowsOutbound() {
			continue
		}
		raw, err := o.deps.Registry.Get(rec, rm.InternalField)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rm.InternalField, err)
		}
		if isEmpty(raw) {
			if rm.SyncNulls {
				out[rm.ExternalField] = nil
			}
			continue
		}

		relatedID := fmt.Sprint(raw)
		externalID, err := o.resolveRelated(ctx, r, rm, relatedID)
		if err != nil {
			return nil, err
		}
		if externalID == "" {
			logging.Ctx(r.ctx).Debug().
				Str("relationship_mapping_id", rm.ID).
				Str("related_internal_id", relatedID).
				Msg("Related record is not linked; leaving relationship unset")
			continue
		}
		out[rm.ExternalField] = externalID
	}
	return out, nil
}

// resolveRelated returns the external id linked to a related internal
// record. With AutoCreateRelated it creates and links the related record
// first. An empty id means the relationship cannot be resolved yet.
func (o *Orchestrator) resolveRelated(ctx context.Context, r *run, rm models.RelationshipMapping, relatedID string) (string, error) {
	corr, err := o.deps.Ledger.Resolve(ctx, r.connectionID, rm.RelatedInternalType, relatedID)
	if err != nil {
		return "", fmt.Errorf("resolve related %s %s: %w", rm.RelatedInternalType, relatedID, err)
	}
	if corr != nil {
		return corr.ExternalID, nil
	}
	if !rm.AutoCreateRelated {
		return "", nil
	}

	relSet, ok := r.snap.ForRelated(rm.RelatedExternalEntity, rm.RelatedInternalType)
	if !ok {
		return "", fmt.Errorf("%w: %s for %s", ErrMappingNotFound, rm.RelatedExternalEntity, rm.RelatedInternalType)
	}

	unlock := o.records.Lock(ledger.InternalKey(r.connectionID, rm.RelatedInternalType, relatedID))
	defer unlock()

	// Another worker may have created it while we waited.
	corr, err = o.deps.Ledger.Resolve(ctx, r.connectionID, rm.RelatedInternalType, relatedID)
	if err != nil {
		return "", fmt.Errorf("resolve related %s %s: %w", rm.RelatedInternalType, relatedID, err)
	}
	if corr != nil {
		return corr.ExternalID, nil
	}

	relRec, err := o.deps.Entities.Get(ctx, rm.RelatedInternalType, relatedID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return "", fmt.Errorf("related %s %s does not exist: %w", rm.RelatedInternalType, relatedID, err)
		}
		return "", fmt.Errorf("load related %s %s: %w", rm.RelatedInternalType, relatedID, err)
	}

	entry := newEntry(relSet, models.DirectionOutbound)
	entry.InternalID = relatedID

	payload, err := o.outboundPayload(r, relSet, relRec)
	var externalID string
	if err == nil {
		externalID, err = o.createExternal(ctx, r, relSet, relRec, payload)
		entry.ExternalID = externalID
	}
	if err != nil {
		o.record(r, entry, failed(models.ActionCreate, err))
		return "", fmt.Errorf("auto-create related %s %s: %w", rm.RelatedExternalEntity, relatedID, err)
	}

	o.record(r, entry, outcome{action: models.ActionCreate, status: models.StatusSuccess, changed: sortedKeys(payload)})
	logging.Ctx(r.ctx).Info().
		Str("related_type", string(rm.RelatedInternalType)).
		Str("related_id", relatedID).
		Str("external_id", externalID).
		Msg("Created related external record")
	return externalID, nil
}
