// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package dedupe

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/ledger"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/provider"
)

type fixture struct {
	ctx      context.Context
	detector *Detector
	mappings *mapping.MemoryStore
	ledger   *ledger.MemoryStore
	entities *entity.MemoryStore
	crm      *provider.MemoryProvider
}

func newFixture(t *testing.T, identityDirection models.Direction) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		mappings: mapping.NewMemoryStore(),
		ledger:   ledger.NewMemoryStore(),
		entities: entity.NewMemoryStore(entity.NewRegistry()),
		crm:      provider.NewMemoryProvider(),
	}
	providers := provider.NewRegistry()
	providers.Register(models.ProviderMemory, func() provider.Provider { return f.crm })
	f.detector = NewDetector(f.mappings, f.ledger, f.entities, nil, providers)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(f.mappings.SaveConnection(f.ctx, &models.Connection{
		ID: "conn-1", Name: "CRM", Provider: models.ProviderMemory,
		Direction: models.DirectionBidirectional, Enabled: true,
	}))
	must(f.mappings.SaveEntityMapping(f.ctx, &models.EntityMapping{
		ID: "em-users", ConnectionID: "conn-1", ExternalEntity: "contact",
		InternalType: models.EntityUser, Direction: models.DirectionBidirectional, Enabled: true,
	}))
	must(f.mappings.SaveFieldMapping(f.ctx, &models.FieldMapping{
		ID: "fm-email", EntityMappingID: "em-users", InternalField: "email",
		ExternalField: "email", Direction: identityDirection,
	}))
	return f
}

func (f *fixture) putContact(id, email string) {
	f.crm.Put("conn-1", &models.ExternalRecord{ID: id, Entity: "contact", Fields: map[string]any{"email": email}})
}

func (f *fixture) detect(t *testing.T) *Report {
	t.Helper()
	report, err := f.detector.Detect(f.ctx, "conn-1", "em-users")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	return report
}

func TestDetect_ExternalDuplicatesThenUnlinkedMatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.DirectionBidirectional)
	f.putContact("contact-1", "a@x.com")
	f.putContact("contact-2", "A@x.com ")

	report := f.detect(t)
	wantGroups := []DuplicateGroup{{Side: SideExternal, Key: "a@x.com", IDs: []string{"contact-1", "contact-2"}}}
	if !reflect.DeepEqual(report.Duplicates, wantGroups) {
		t.Errorf("expected %+v, got %+v", wantGroups, report.Duplicates)
	}
	if len(report.UnlinkedMatches) != 0 {
		t.Errorf("expected no unlinked matches, got %+v", report.UnlinkedMatches)
	}

	f.entities.Put(&models.User{ID: "u-1", Email: "a@x.com"})

	report = f.detect(t)
	if !reflect.DeepEqual(report.Duplicates, wantGroups) {
		t.Errorf("expected duplicates unchanged %+v, got %+v", wantGroups, report.Duplicates)
	}
	wantMatches := []UnlinkedMatch{{Key: "a@x.com", InternalID: "u-1", ExternalID: "contact-1"}}
	if !reflect.DeepEqual(report.UnlinkedMatches, wantMatches) {
		t.Errorf("expected %+v, got %+v", wantMatches, report.UnlinkedMatches)
	}
	if report.InternalScanned != 1 || report.ExternalScanned != 2 {
		t.Errorf("expected 1 internal and 2 external scanned, got %d and %d", report.InternalScanned, report.ExternalScanned)
	}
}

func TestDetect_LinkedRecordsAreNotMatches(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.DirectionBidirectional)
	f.putContact("contact-1", "b@x.com")
	f.entities.Put(&models.User{ID: "u-1", Email: "b@x.com"})

	if err := f.ledger.Link(f.ctx, &models.CorrespondenceRecord{
		ID: "corr-1", ConnectionID: "conn-1", InternalType: models.EntityUser, InternalID: "u-1",
		ExternalEntity: "contact", ExternalID: "contact-1", LastSyncedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Link: %v", err)
	}

	report := f.detect(t)
	if len(report.UnlinkedMatches) != 0 || len(report.Duplicates) != 0 {
		t.Errorf("expected a clean report, got %+v", report)
	}
}

func TestDetect_InternalDuplicatesAreAmbiguous(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.DirectionBidirectional)
	f.putContact("contact-1", "c@x.com")
	f.entities.Put(&models.User{ID: "u-2", Email: "c@x.com"})
	f.entities.Put(&models.User{ID: "u-1", Email: "C@X.COM"})
	f.entities.Put(&models.User{ID: "u-3"})

	report := f.detect(t)
	want := []DuplicateGroup{{Side: SideInternal, Key: "c@x.com", IDs: []string{"u-1", "u-2"}}}
	if !reflect.DeepEqual(report.Duplicates, want) {
		t.Errorf("expected %+v, got %+v", want, report.Duplicates)
	}
	if len(report.UnlinkedMatches) != 0 {
		t.Errorf("expected no match for an ambiguous key, got %+v", report.UnlinkedMatches)
	}
}

func TestDetect_DoesNotWrite(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.DirectionBidirectional)
	f.putContact("contact-1", "d@x.com")
	f.entities.Put(&models.User{ID: "u-1", Email: "d@x.com"})

	f.detect(t)
	if n := f.ledger.Count(); n != 0 {
		t.Errorf("expected no correspondences, got %d", n)
	}
	if n := f.crm.Calls(provider.OpUpsert); n != 0 {
		t.Errorf("expected no upserts, got %d", n)
	}
}

func TestDetect_Errors(t *testing.T) {
	t.Parallel()

	t.Run("unknown mapping", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, models.DirectionBidirectional)
		_, err := f.detector.Detect(f.ctx, "conn-1", "em-nope")
		if !errors.Is(err, mapping.ErrMappingNotFound) {
			t.Errorf("expected ErrMappingNotFound, got %v", err)
		}
	})

	t.Run("unknown connection", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, models.DirectionBidirectional)
		_, err := f.detector.Detect(f.ctx, "conn-404", "em-users")
		if !errors.Is(err, mapping.ErrConnectionNotFound) {
			t.Errorf("expected ErrConnectionNotFound, got %v", err)
		}
	})

	t.Run("identity not mapped", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, models.DirectionBidirectional)
		if err := f.mappings.SaveEntityMapping(f.ctx, &models.EntityMapping{
			ID: "em-users", ConnectionID: "conn-1", ExternalEntity: "contact",
			InternalType: models.EntityUser, Direction: models.DirectionBidirectional,
			Enabled: true, IdentityField: "phone",
		}); err != nil {
			t.Fatal(err)
		}
		_, err := f.detector.Detect(f.ctx, "conn-1", "em-users")
		if !errors.Is(err, ErrNoIdentityMapping) {
			t.Errorf("expected ErrNoIdentityMapping, got %v", err)
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, models.DirectionBidirectional)
		f.crm.Fail(provider.OpReadChanged, errors.New("timeout"))
		if _, err := f.detector.Detect(f.ctx, "conn-1", "em-users"); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestMatches_OutboundOnlyIdentityUsesExternalForm(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.DirectionOutbound)
	f.putContact("contact-1", "e@x.com")
	f.entities.Put(&models.User{ID: "u-1", Email: " E@x.com"})

	report := f.detect(t)
	want := []UnlinkedMatch{{Key: "e@x.com", InternalID: "u-1", ExternalID: "contact-1"}}
	if !reflect.DeepEqual(report.UnlinkedMatches, want) {
		t.Errorf("expected %+v, got %+v", want, report.UnlinkedMatches)
	}
}
