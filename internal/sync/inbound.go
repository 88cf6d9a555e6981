// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
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

// pull streams changed external records of one mapping into the internal
// model.
func (o *Orchestrator) pull(r *run, set *mapping.Set, since *time.Time) *RunError {
	em := set.Entity
	// The iterator is lazy, so the total grows as records arrive.
	r.enterMapping(em.ID, 0)
	r.setState(models.StateFetching)
	o.publish(r, "Fetching "+em.ExternalEntity)

	it := r.prov.ReadChanged(r.ctx, r.conn, em.ExternalEntity, since, em.Filter)
	p := newPool(r.ctx, o.opts.Concurrency)
	started := false

	for {
		ext, err := it.Next(r.ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.Wait()
			if rerr := r.interrupted(); rerr != nil {
				return rerr
			}
			return toRunError(fmt.Sprintf("read changed %s records", em.ExternalEntity), err)
		}
		if since != nil && !ext.ModifiedAt.IsZero() && ext.ModifiedAt.Before(*since) {
			continue
		}
		if !started {
			started = true
			r.setState(models.StateUpserting)
		}

		r.discovered()

		entry := newEntry(set, models.DirectionInbound)
		entry.ExternalID = ext.ID
		if !p.Go(func() {
			o.guard(r, entry, func() outcome { return o.inboundRecord(r, set, ext, entry) })
		}) {
			break
		}
	}
	p.Wait()
	return r.interrupted()
}

// SyncInboundRecord reads one external record and applies it to the
// internal model.
func (o *Orchestrator) SyncInboundRecord(ctx context.Context, connectionID, externalEntity, externalID string) (*Result, error) {
	if err := requireIDs(connectionID, externalEntity, externalID); err != nil {
		return nil, err
	}
	ev := &models.WebhookEvent{EventType: models.WebhookUpdated, Entity: externalEntity, RecordID: externalID}
	return o.applyEvents(ctx, connectionID, []*models.WebhookEvent{ev}), nil
}

// pullOne reads one external record and applies it.
func (o *Orchestrator) pullOne(r *run, set *mapping.Set, externalID string) {
	entry := newEntry(set, models.DirectionInbound)
	entry.ExternalID = externalID
	o.guard(r, entry, func() outcome {
		ext, err := r.prov.Read(r.work, r.conn, set.Entity.ExternalEntity, externalID)
		if err != nil {
			return failed(models.ActionSkip, err)
		}
		r.setState(models.StateUpserting)
		return o.inboundRecord(r, set, ext, entry)
	})
}

// inboundRecord links or updates the internal record for ext.
func (o *Orchestrator) inboundRecord(r *run, set *mapping.Set, ext *models.ExternalRecord, entry *models.SyncLogEntry) outcome {
	ctx := r.work
	em := set.Entity

	unlockExt := o.records.Lock(ledger.ExternalKey(r.connectionID, em.ExternalEntity, ext.ID))
	defer unlockExt()

	corr, err := o.deps.Ledger.ResolveExternal(ctx, r.connectionID, em.ExternalEntity, ext.ID)
	if err != nil {
		return failed(models.ActionSkip, fmt.Errorf("resolve correspondence: %w", err))
	}
	if corr == nil {
		match, err := o.matchByIdentity(ctx, r, set, ext)
		switch {
		case errors.Is(err, errAmbiguousIdentity):
			return outcome{action: models.ActionSkip, status: models.StatusConflict, err: err}
		case err != nil:
			return failed(models.ActionSkip, err)
		case match == nil:
			return o.inboundCreate(ctx, r, set, ext, entry)
		}
		return o.inboundLink(ctx, r, set, ext, match, entry)
	}

	entry.InternalID = corr.InternalID
	key := ledger.InternalKey(r.connectionID, corr.InternalType, corr.InternalID)
	unlock := o.records.Lock(key)
	defer unlock()

	// Re-read under the record lock; an outbound worker may have moved it.
	if fresh, err := o.deps.Ledger.Resolve(ctx, r.connectionID, corr.InternalType, corr.InternalID); err == nil && fresh != nil {
		corr = fresh
	}
	return o.inboundUpdate(ctx, r, set, ext, corr, key, entry)
}

var errAmbiguousIdentity = errors.New("several unlinked internal records share the identity key")

// matchByIdentity finds the one unlinked internal record whose identity
// field matches ext. It returns nil when there is none or the set has no
// mapped identity field.
func (o *Orchestrator) matchByIdentity(ctx context.Context, r *run, set *mapping.Set, ext *models.ExternalRecord) (entity.Record, error) {
	field, fm := set.Identity(o.deps.Registry)
	if fm == nil || !fm.Direction.AllowsInbound() {
		return nil, nil
	}
	value, _ := transform.Apply(ext.Fields[fm.ExternalField], fm.Transform, transform.Inbound)
	if entity.IdentityKey(value) == "" {
		return nil, nil
	}

	candidates, err := o.deps.Entities.FindByField(ctx, set.Entity.InternalType, field, value)
	if err != nil {
		return nil, fmt.Errorf("find %s by %s: %w", set.Entity.InternalType, field, err)
	}
	var unlinked []entity.Record
	for _, rec := range candidates {
		corr, err := o.deps.Ledger.Resolve(ctx, r.connectionID, set.Entity.InternalType, rec.EntityID())
		if err != nil {
			return nil, fmt.Errorf("resolve correspondence: %w", err)
		}
		if corr == nil {
			unlinked = append(unlinked, rec)
		}
	}

	switch len(unlinked) {
	case 0:
		return nil, nil
	case 1:
		return unlinked[0], nil
	default:
		return nil, fmt.Errorf("%w: %s %v", errAmbiguousIdentity, field, value)
	}
}

// inboundLink links ext to an existing internal record with the same
// identity and then applies ext to it.
func (o *Orchestrator) inboundLink(ctx context.Context, r *run, set *mapping.Set, ext *models.ExternalRecord,
	rec entity.Record, entry *models.SyncLogEntry) outcome {
	em := set.Entity
	entry.InternalID = rec.EntityID()

	key := ledger.InternalKey(r.connectionID, em.InternalType, rec.EntityID())
	unlock := o.records.Lock(key)
	defer unlock()

	existing, err := o.deps.Ledger.Resolve(ctx, r.connectionID, em.InternalType, rec.EntityID())
	if err != nil {
		return failed(models.ActionSkip, fmt.Errorf("resolve correspondence: %w", err))
	}
	if existing != nil {
		// Linked to another external record meanwhile.
		return o.inboundCreate(ctx, r, set, ext, entry)
	}

	now := o.now()
	corr := &models.CorrespondenceRecord{
		ID:                uuid.NewString(),
		ConnectionID:      r.connectionID,
		InternalType:      em.InternalType,
		InternalID:        rec.EntityID(),
		ExternalEntity:    em.ExternalEntity,
		ExternalID:        ext.ID,
		LastSyncedAt:      now,
		LastSyncDirection: models.DirectionInbound,
		CreatedAt:         now,
	}
	err = o.deps.Ledger.Link(ctx, corr)
	metrics.RecordLedgerLink(err)
	if err != nil {
		return failed(models.ActionUpdate, fmt.Errorf("link %s %s: %w", em.InternalType, rec.EntityID(), err))
	}
	logging.Ctx(r.ctx).Info().
		Str("internal_id", rec.EntityID()).
		Str("external_id", ext.ID).
		Msg("Linked external record to existing internal record by identity")

	out := o.inboundUpdate(ctx, r, set, ext, corr, key, entry)
	if out.status == models.StatusSkipped {
		out.action = models.ActionUpdate
		out.status = models.StatusSuccess
	}
	return out
}

func (o *Orchestrator) inboundCreate(ctx context.Context, r *run, set *mapping.Set, ext *models.ExternalRecord, entry *models.SyncLogEntry) outcome {
	em := set.Entity
	rec, err := o.deps.Registry.New(em.InternalType)
	if err != nil {
		return failed(models.ActionCreate, err)
	}

	var changed []string
	for _, fm := range set.InboundFields() {
		raw, present := ext.Fields[fm.ExternalField]
		if fm.Required && isEmpty(raw) {
			return failed(models.ActionCreate, fmt.Errorf("%w: %s", ErrMissingRequired, fm.ExternalField))
		}
		if !present {
			continue
		}
		if err := o.setInbound(r, rec, fm, raw); err != nil {
			return failed(models.ActionCreate, err)
		}
		changed = append(changed, fm.InternalField)
	}
	for _, rm := range inboundRelationships(set) {
		raw, present := ext.Fields[rm.ExternalField]
		if !present {
			continue
		}
		wrote, err := o.setRelated(ctx, r, rec, rm, raw)
		if err != nil {
			return failed(models.ActionCreate, err)
		}
		if wrote {
			changed = append(changed, rm.InternalField)
		}
	}

	if err := o.deps.Entities.Create(ctx, rec); err != nil {
		return failed(models.ActionCreate, fmt.Errorf("create %s: %w", em.InternalType, err))
	}
	entry.InternalID = rec.EntityID()

	now := o.now()
	err = o.deps.Ledger.Link(ctx, &models.CorrespondenceRecord{
		ID:                uuid.NewString(),
		ConnectionID:      r.connectionID,
		InternalType:      em.InternalType,
		InternalID:        rec.EntityID(),
		ExternalEntity:    em.ExternalEntity,
		ExternalID:        ext.ID,
		LastSyncedAt:      now,
		LastSyncDirection: models.DirectionInbound,
		Snapshot:          externalView(set, ext, nil),
		CreatedAt:         now,
	})
	metrics.RecordLedgerLink(err)
	if err != nil {
		return failed(models.ActionCreate, fmt.Errorf("internal %s %s created but not linked: %w", em.InternalType, rec.EntityID(), err))
	}

	sort.Strings(changed)
	return outcome{action: models.ActionCreate, status: models.StatusSuccess, changed: changed}
}

func (o *Orchestrator) inboundUpdate(ctx context.Context, r *run, set *mapping.Set, ext *models.ExternalRecord,
	corr *models.CorrespondenceRecord, key string, entry *models.SyncLogEntry) outcome {
	em := set.Entity

	rec, err := o.deps.Entities.Get(ctx, em.InternalType, corr.InternalID)
	if err != nil {
		return failed(models.ActionUpdate, fmt.Errorf("load %s %s: %w", em.InternalType, corr.InternalID, err))
	}

	if rec.Modified().After(corr.LastSyncedAt) && ext.ModifiedAt.After(corr.LastSyncedAt) {
		r.markConflict(key)
		logging.Ctx(r.ctx).Info().
			Str("internal_id", corr.InternalID).
			Str("external_id", ext.ID).
			Time("last_synced_at", corr.LastSyncedAt).
			Msg("Record changed on both sides since last sync")
		return outcome{
			action: models.ActionSkip,
			status: models.StatusConflict,
			err:    errors.New("record changed on both sides since last sync"),
		}
	}

	var changed []string
	for _, fm := range set.InboundFields() {
		raw, present := ext.Fields[fm.ExternalField]
		if fm.Required && isEmpty(raw) {
			return failed(models.ActionUpdate, fmt.Errorf("%w: %s", ErrMissingRequired, fm.ExternalField))
		}
		if !present || sameValue(raw, corr.Snapshot[fm.ExternalField]) {
			continue
		}
		if err := o.setInbound(r, rec, fm, raw); err != nil {
			return failed(models.ActionUpdate, err)
		}
		changed = append(changed, fm.InternalField)
	}
	for _, rm := range inboundRelationships(set) {
		raw, present := ext.Fields[rm.ExternalField]
		if !present || sameValue(raw, corr.Snapshot[rm.ExternalField]) {
			continue
		}
		wrote, err := o.setRelated(ctx, r, rec, rm, raw)
		if err != nil {
			return failed(models.ActionUpdate, err)
		}
		if wrote {
			changed = append(changed, rm.InternalField)
		}
	}

	if len(changed) == 0 {
		return outcome{action: models.ActionSkip, status: models.StatusSkipped}
	}
	if err := o.deps.Entities.Update(ctx, rec); err != nil {
		return failed(models.ActionUpdate, fmt.Errorf("update %s %s: %w", em.InternalType, corr.InternalID, err))
	}
	snapshot := externalView(set, ext, corr.Snapshot)
	if err := o.deps.Ledger.Touch(ctx, r.connectionID, em.InternalType, corr.InternalID, models.DirectionInbound, snapshot, o.now()); err != nil {
		return failed(models.ActionUpdate, fmt.Errorf("touch correspondence: %w", err))
	}

	sort.Strings(changed)
	return outcome{action: models.ActionUpdate, status: models.StatusSuccess, changed: changed}
}

// setInbound transforms raw and writes it to the mapped internal field.
func (o *Orchestrator) setInbound(r *run, rec entity.Record, fm models.FieldMapping, raw any) error {
	value, w := transform.Apply(raw, fm.Transform, transform.Inbound)
	if w != nil {
		warnTransform(r, fm, w)
	}
	if err := o.deps.Registry.Set(rec, fm.InternalField, value); err != nil {
		return fmt.Errorf("set %s: %w", fm.InternalField, err)
	}
	return nil
}

// setRelated resolves an external foreign key to the linked internal id and
// writes it. It reports whether the field was written.
func (o *Orchestrator) setRelated(ctx context.Context, r *run, rec entity.Record, rm models.RelationshipMapping, raw any) (bool, error) {
	if isEmpty(raw) {
		if !rm.SyncNulls {
			return false, nil
		}
		if err := o.deps.Registry.Set(rec, rm.InternalField, nil); err != nil {
			return false, fmt.Errorf("clear %s: %w", rm.InternalField, err)
		}
		return true, nil
	}

	relatedID := fmt.Sprint(raw)
	related, err := o.deps.Ledger.ResolveExternal(ctx, r.connectionID, rm.RelatedExternalEntity, relatedID)
	if err != nil {
		return false, fmt.Errorf("resolve related %s %s: %w", rm.RelatedExternalEntity, relatedID, err)
	}
	if related == nil {
		logging.Ctx(r.ctx).Debug().
			Str("relationship_mapping_id", rm.ID).
			Str("related_external_id", relatedID).
			Msg("Related external record is not linked; leaving relationship unset")
		return false, nil
	}
	if err := o.deps.Registry.Set(rec, rm.InternalField, related.InternalID); err != nil {
		return false, fmt.Errorf("set %s: %w", rm.InternalField, err)
	}
	return true, nil
}

func inboundRelationships(set *mapping.Set) []models.RelationshipMapping {
	out := make([]models.RelationshipMapping, 0, len(set.Relationships))
	for _, rm := range set.Relationships {
		if rm.Direction.AllowsInbound() {
			out = append(out, rm)
		}
	}
	return out
}

// externalView is the snapshot of ext's mapped fields, layered over base.
func externalView(set *mapping.Set, ext *models.ExternalRecord, base map[string]any) map[string]any {
	view := ledger.CloneSnapshot(base)
	if view == nil {
		view = make(map[string]any)
	}
	for _, fm := range set.Fields {
		if v, ok := ext.Fields[fm.ExternalField]; ok {
			view[fm.ExternalField] = v
		}
	}
	for _, rm := range set.Relationships {
		if v, ok := ext.Fields[rm.ExternalField]; ok {
			view[rm.ExternalField] = v
		}
	}
	return view
}

func warnTransform(r *run, fm models.FieldMapping, w *transform.Warning) {
	metrics.TransformWarnings.WithLabelValues(string(w.Kind)).Inc()
	logging.Ctx(r.ctx).Warn().
		Str("field_mapping_id", fm.ID).
		Str("transform", string(w.Kind)).
		Str("direction", w.Direction.String()).
		Str("reason", w.Reason).
		Msg("Transformation failed; value passed through")
}
