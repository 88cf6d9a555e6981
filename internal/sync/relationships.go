// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/tomtom215/crmsync/internal/ledger"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/models"
)

// SyncRelationships re-evaluates the relationship fields of every linked
// record of one entity mapping, leaving scalar fields alone.
func (o *Orchestrator) SyncRelationships(ctx context.Context, connectionID, mappingID string) (*Result, error) {
	if err := requireIDs(connectionID, mappingID); err != nil {
		return nil, err
	}
	return o.execute(ctx, models.ModeRelationship, connectionID, false, func(r *run) *RunError {
		set, rerr := enabledSet(r, mappingID)
		if rerr != nil {
			return rerr
		}
		return o.relationships(r, set)
	}), nil
}

func (o *Orchestrator) relationships(r *run, set *mapping.Set) *RunError {
	em := set.Entity
	r.enterMapping(em.ID, 0)
	r.setState(models.StateFetching)
	o.publish(r, "Reading linked "+string(em.InternalType)+" records")

	all, err := o.deps.Ledger.ListByConnection(r.ctx, r.connectionID)
	if err != nil {
		if rerr := r.interrupted(); rerr != nil {
			return rerr
		}
		return toRunError("list correspondences", err)
	}
	linked := make([]*models.CorrespondenceRecord, 0, len(all))
	for _, c := range all {
		if c.InternalType == em.InternalType && c.ExternalEntity == em.ExternalEntity {
			linked = append(linked, c)
		}
	}
	sort.Slice(linked, func(i, j int) bool { return linked[i].InternalID < linked[j].InternalID })

	pullRels := allowsInbound(r.conn, &em) && len(inboundRelationships(set)) > 0
	pushRels := allowsOutbound(r.conn, &em)

	r.enterMapping(em.ID, len(linked))
	r.setState(models.StateUpserting)

	p := newPool(r.ctx, o.opts.Concurrency)
	for _, corr := range linked {
		entry := newEntry(set, em.Direction)
		entry.InternalID = corr.InternalID
		entry.ExternalID = corr.ExternalID
		if !p.Go(func() {
			o.guard(r, entry, func() outcome { return o.relationshipRecord(r, set, corr.InternalID, pullRels, pushRels) })
		}) {
			break
		}
	}
	p.Wait()
	return r.interrupted()
}

// relationshipRecord pulls changed inbound relationship values and then
// pushes outbound ones for one linked record.
func (o *Orchestrator) relationshipRecord(r *run, set *mapping.Set, internalID string, pullRels, pushRels bool) outcome {
	ctx := r.work
	em := set.Entity
	var changed []string

	// Outbound values are resolved, auto-creating related records, before
	// this record's lock is taken.
	var related map[string]any
	if pushRels {
		rec, err := o.deps.Entities.Get(ctx, em.InternalType, internalID)
		if err != nil {
			return failed(models.ActionUpdate, fmt.Errorf("load %s %s: %w", em.InternalType, internalID, err))
		}
		if related, err = o.outboundRelationships(ctx, r, set, rec); err != nil {
			return failed(models.ActionUpdate, err)
		}
	}

	unlock := o.records.Lock(ledger.InternalKey(r.connectionID, em.InternalType, internalID))
	defer unlock()

	corr, err := o.deps.Ledger.Resolve(ctx, r.connectionID, em.InternalType, internalID)
	if err != nil {
		return failed(models.ActionUpdate, fmt.Errorf("resolve correspondence: %w", err))
	}
	if corr == nil {
		return outcome{action: models.ActionSkip, status: models.StatusSkipped}
	}
	rec, err := o.deps.Entities.Get(ctx, em.InternalType, internalID)
	if err != nil {
		return failed(models.ActionUpdate, fmt.Errorf("load %s %s: %w", em.InternalType, internalID, err))
	}
	snapshot := ledger.CloneSnapshot(corr.Snapshot)
	if snapshot == nil {
		snapshot = make(map[string]any)
	}

	pulled := make(map[string]struct{})
	if pullRels {
		ext, err := r.prov.Read(ctx, r.conn, em.ExternalEntity, corr.ExternalID)
		if err != nil {
			return failed(models.ActionUpdate, fmt.Errorf("read %s %s: %w", em.ExternalEntity, corr.ExternalID, err))
		}
		dirty := false
		for _, rm := range inboundRelationships(set) {
			raw, present := ext.Fields[rm.ExternalField]
			if !present || sameValue(raw, snapshot[rm.ExternalField]) {
				continue
			}
			wrote, err := o.setRelated(ctx, r, rec, rm, raw)
			if err != nil {
				return failed(models.ActionUpdate, err)
			}
			snapshot[rm.ExternalField] = raw
			pulled[rm.ExternalField] = struct{}{}
			if wrote {
				dirty = true
				changed = append(changed, rm.InternalField)
			}
		}
		if dirty {
			if err := o.deps.Entities.Update(ctx, rec); err != nil {
				return failed(models.ActionUpdate, fmt.Errorf("update %s %s: %w", em.InternalType, internalID, err))
			}
		}
	}

	if pushRels {
		fields := make(map[string]any)
		for _, k := range delta(related, snapshot) {
			if _, ok := pulled[k]; !ok {
				fields[k] = related[k]
			}
		}
		if len(fields) > 0 {
			if _, _, err := r.prov.Upsert(ctx, r.conn, em.ExternalEntity, corr.ExternalID, fields); err != nil {
				return failed(models.ActionUpdate, fmt.Errorf("update %s %s: %w", em.ExternalEntity, corr.ExternalID, err))
			}
			for k, v := range fields {
				snapshot[k] = v
				changed = append(changed, k)
			}
		}
	}

	if len(changed) == 0 {
		return outcome{action: models.ActionSkip, status: models.StatusSkipped}
	}
	if err := o.deps.Ledger.Touch(ctx, r.connectionID, em.InternalType, internalID, em.Direction, snapshot, o.now()); err != nil {
		return failed(models.ActionUpdate, fmt.Errorf("touch correspondence: %w", err))
	}
	sort.Strings(changed)
	return outcome{action: models.ActionUpdate, status: models.StatusSuccess, changed: changed}
}
