// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

// Package dedupe finds identity collisions between the internal model and an
// external CRM. It only reads: findings are advisory and meant for an
// operator, never applied automatically.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/ledger"
	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/metrics"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/provider"
	"github.com/tomtom215/crmsync/internal/transform"
)

// ErrNoIdentityMapping is returned when the mapping has no field mapping for
// its identity field, so external records cannot be keyed.
var ErrNoIdentityMapping = errors.New("identity field is not mapped")

// Side names which system a duplicate group was found in.
type Side string

const (
	SideInternal Side = "internal"
	SideExternal Side = "external"
)

// DuplicateGroup is a set of records on one side sharing an identity key.
type DuplicateGroup struct {
	Side Side     `json:"side"`
	Key  string   `json:"key"`
	IDs  []string `json:"ids"`
}

// UnlinkedMatch pairs an internal and an external record that share an
// identity key and have no correspondence yet.
type UnlinkedMatch struct {
	Key        string `json:"key"`
	InternalID string `json:"internal_id"`
	ExternalID string `json:"external_id"`
}

// Report is the outcome of one scan.
type Report struct {
	ConnectionID    string           `json:"connection_id"`
	EntityMappingID string           `json:"entity_mapping_id"`
	IdentityField   string           `json:"identity_field"`
	ExternalField   string           `json:"external_field"`
	InternalScanned int              `json:"internal_scanned"`
	ExternalScanned int              `json:"external_scanned"`
	Duplicates      []DuplicateGroup `json:"duplicates"`
	UnlinkedMatches []UnlinkedMatch  `json:"unlinked_matches"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// Detector scans one entity mapping for duplicates.
type Detector struct {
	mappings  mapping.Store
	ledger    ledger.Store
	entities  entity.Store
	registry  *entity.Registry
	providers *provider.Registry
	now       func() time.Time
}

// NewDetector creates a Detector. A nil registry uses the default one.
func NewDetector(mappings mapping.Store, store ledger.Store, entities entity.Store,
	registry *entity.Registry, providers *provider.Registry) *Detector {
	if registry == nil {
		registry = entity.NewRegistry()
	}
	return &Detector{
		mappings:  mappings,
		ledger:    store,
		entities:  entities,
		registry:  registry,
		providers: providers,
		now:       time.Now,
	}
}

// keyed is one record reduced to its identity key.
type keyed struct {
	id     string
	key    string
	linked bool
}

// Detect scans every external record of the mapping's entity and every
// internal record of its type.
func (d *Detector) Detect(ctx context.Context, connectionID, mappingID string) (*Report, error) {
	snap, err := mapping.Load(ctx, d.mappings, connectionID)
	if err != nil {
		return nil, err
	}
	set, ok := snap.Set(mappingID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", mapping.ErrMappingNotFound, mappingID)
	}
	em := set.Entity

	field, fm := set.Identity(d.registry)
	if fm == nil {
		return nil, fmt.Errorf("%w: %s on entity mapping %s", ErrNoIdentityMapping, field, mappingID)
	}

	prov, err := d.providers.Resolve(snap.Connection.Provider)
	if err != nil {
		return nil, err
	}

	linkedInternal, linkedExternal, err := d.linked(ctx, connectionID, em)
	if err != nil {
		return nil, err
	}

	// Keys are compared in internal form when the identity field flows
	// inbound, otherwise in external form.
	inbound := fm.Direction.AllowsInbound()

	external, err := d.scanExternal(ctx, prov, &snap.Connection, em, *fm, inbound, linkedExternal)
	if err != nil {
		return nil, err
	}
	internal, err := d.scanInternal(ctx, em.InternalType, field, *fm, inbound, linkedInternal)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ConnectionID:    connectionID,
		EntityMappingID: mappingID,
		IdentityField:   field,
		ExternalField:   fm.ExternalField,
		InternalScanned: len(internal),
		ExternalScanned: len(external),
		GeneratedAt:     d.now(),
	}
	report.Duplicates = append(groups(SideExternal, external), groups(SideInternal, internal)...)
	sortGroups(report.Duplicates)
	report.UnlinkedMatches = matches(internal, external)

	metrics.DuplicateFindings.WithLabelValues(mappingID, "duplicate_groups").Set(float64(len(report.Duplicates)))
	metrics.DuplicateFindings.WithLabelValues(mappingID, "unlinked_matches").Set(float64(len(report.UnlinkedMatches)))

	logging.Info().
		Str("connection_id", connectionID).
		Str("entity_mapping_id", mappingID).
		Int("internal_scanned", report.InternalScanned).
		Int("external_scanned", report.ExternalScanned).
		Int("duplicate_groups", len(report.Duplicates)).
		Int("unlinked_matches", len(report.UnlinkedMatches)).
		Msg("Duplicate scan finished")

	return report, nil
}

func (d *Detector) linked(ctx context.Context, connectionID string, em models.EntityMapping) (internal, external map[string]bool, err error) {
	all, err := d.ledger.ListByConnection(ctx, connectionID)
	if err != nil {
		return nil, nil, fmt.Errorf("list correspondences: %w", err)
	}
	internal = make(map[string]bool)
	external = make(map[string]bool)
	for _, c := range all {
		if c.InternalType == em.InternalType {
			internal[c.InternalID] = true
		}
		if c.ExternalEntity == em.ExternalEntity {
			external[c.ExternalID] = true
		}
	}
	return internal, external, nil
}

func (d *Detector) scanExternal(ctx context.Context, prov provider.Provider, conn *models.Connection,
	em models.EntityMapping, fm models.FieldMapping, inbound bool, linked map[string]bool) ([]keyed, error) {
	it := prov.ReadChanged(ctx, conn, em.ExternalEntity, nil, em.Filter)
	var out []keyed
	for {
		ext, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s records: %w", em.ExternalEntity, err)
		}
		value := ext.Fields[fm.ExternalField]
		if inbound {
			value, _ = transform.Apply(value, fm.Transform, transform.Inbound)
		}
		out = append(out, keyed{id: ext.ID, key: entity.IdentityKey(value), linked: linked[ext.ID]})
	}
	return out, nil
}

func (d *Detector) scanInternal(ctx context.Context, t models.EntityType, field string,
	fm models.FieldMapping, inbound bool, linked map[string]bool) ([]keyed, error) {
	recs, err := d.entities.ListModifiedSince(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", t, err)
	}
	out := make([]keyed, 0, len(recs))
	for _, rec := range recs {
		value, err := d.registry.Get(rec, field)
		if err != nil {
			return nil, fmt.Errorf("read %s.%s: %w", t, field, err)
		}
		if !inbound {
			value, _ = transform.Apply(value, fm.Transform, transform.Outbound)
		}
		out = append(out, keyed{id: rec.EntityID(), key: entity.IdentityKey(value), linked: linked[rec.EntityID()]})
	}
	return out, nil
}

// groups reports every key shared by two or more records of one side.
// Records without a key are ignored.
func groups(side Side, records []keyed) []DuplicateGroup {
	byKey := make(map[string][]string)
	for _, r := range records {
		if r.key != "" {
			byKey[r.key] = append(byKey[r.key], r.id)
		}
	}
	var out []DuplicateGroup
	for key, ids := range byKey {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		out = append(out, DuplicateGroup{Side: side, Key: key, IDs: ids})
	}
	return out
}

func sortGroups(gs []DuplicateGroup) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].Key != gs[j].Key {
			return gs[i].Key < gs[j].Key
		}
		if gs[i].Side != gs[j].Side {
			return gs[i].Side < gs[j].Side
		}
		return gs[i].IDs[0] < gs[j].IDs[0]
	})
}

// matches pairs unlinked records the next sync would link: a key with
// exactly one unlinked internal record is paired with the first unlinked
// external record carrying it. Keys with several unlinked internal records
// are ambiguous and already show up as internal duplicate groups.
func matches(internal, external []keyed) []UnlinkedMatch {
	unlinkedInternal := make(map[string][]string)
	for _, r := range internal {
		if r.key != "" && !r.linked {
			unlinkedInternal[r.key] = append(unlinkedInternal[r.key], r.id)
		}
	}
	firstExternal := make(map[string]string)
	for _, r := range external {
		if r.key == "" || r.linked {
			continue
		}
		if cur, ok := firstExternal[r.key]; !ok || r.id < cur {
			firstExternal[r.key] = r.id
		}
	}

	var out []UnlinkedMatch
	for key, ids := range unlinkedInternal {
		extID, ok := firstExternal[key]
		if !ok || len(ids) != 1 {
			continue
		}
		out = append(out, UnlinkedMatch{Key: key, InternalID: ids[0], ExternalID: extID})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].InternalID < out[j].InternalID
	})
	return out
}
