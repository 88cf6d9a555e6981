// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package mapping

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/transform"
)

type supportAll struct{ unsupported models.ProviderType }

func (s supportAll) IsSupported(p models.ProviderType) bool { return p != s.unsupported }

func seed(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()

	mustSave := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	mustSave(store.SaveConnection(ctx, &models.Connection{
		ID: "conn-1", Name: "HubSpot", Provider: models.ProviderMemory,
		Direction: models.DirectionBidirectional, Enabled: true,
	}))
	mustSave(store.SaveEntityMapping(ctx, &models.EntityMapping{
		ID: "em-users", ConnectionID: "conn-1", ExternalEntity: "contact",
		InternalType: models.EntityUser, Direction: models.DirectionBidirectional, Enabled: true,
	}))
	mustSave(store.SaveEntityMapping(ctx, &models.EntityMapping{
		ID: "em-companies", ConnectionID: "conn-1", ExternalEntity: "company",
		InternalType: models.EntityCompany, Direction: models.DirectionOutbound, Enabled: true,
	}))
	mustSave(store.SaveFieldMapping(ctx, &models.FieldMapping{
		ID: "fm-1", EntityMappingID: "em-users", InternalField: "first_name",
		ExternalField: "firstname", Direction: models.DirectionOutbound, Transform: transform.Uppercase(),
	}))
	mustSave(store.SaveFieldMapping(ctx, &models.FieldMapping{
		ID: "fm-2", EntityMappingID: "em-users", InternalField: "email",
		ExternalField: "email", Direction: models.DirectionBidirectional,
	}))
	mustSave(store.SaveRelationshipMapping(ctx, &models.RelationshipMapping{
		ID: "rm-1", EntityMappingID: "em-users", InternalField: "company_id", ExternalField: "associatedcompanyid",
		RelatedInternalType: models.EntityCompany, RelatedExternalEntity: "company",
		Direction: models.DirectionOutbound, AutoCreateRelated: true,
	}))
	return store
}

func TestLoadSnapshot(t *testing.T) {
	t.Parallel()
	store := seed(t)

	snap, err := Load(context.Background(), store, "conn-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Sets) != 2 {
		t.Fatalf("expected 2 mapping sets, got %d", len(snap.Sets))
	}

	users, ok := snap.Set("em-users")
	if !ok {
		t.Fatal("expected em-users")
	}
	if len(users.OutboundFields()) != 2 || len(users.InboundFields()) != 1 {
		t.Errorf("expected 2 outbound and 1 inbound fields, got %d and %d",
			len(users.OutboundFields()), len(users.InboundFields()))
	}
	if _, ok := snap.ForRelated("company", models.EntityCompany); !ok {
		t.Error("expected company mapping to be found")
	}
	if _, ok := snap.ForExternal("deal"); ok {
		t.Error("expected no deal mapping")
	}

	if _, err := Load(context.Background(), store, "missing"); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("expected ErrConnectionNotFound, got %v", err)
	}
}

func TestSnapshotIsolatedFromLaterEdits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := seed(t)

	snap, err := Load(ctx, store, "conn-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveFieldMapping(ctx, &models.FieldMapping{
		ID: "fm-3", EntityMappingID: "em-users", InternalField: "phone",
		ExternalField: "phone", Direction: models.DirectionInbound,
	}); err != nil {
		t.Fatal(err)
	}

	users, _ := snap.Set("em-users")
	if len(users.Fields) != 2 {
		t.Errorf("expected snapshot to keep 2 fields, got %d", len(users.Fields))
	}
}

func TestDuplicateEntityMappingRejected(t *testing.T) {
	t.Parallel()
	store := seed(t)

	err := store.SaveEntityMapping(context.Background(), &models.EntityMapping{
		ID: "em-users-2", ConnectionID: "conn-1", ExternalEntity: "contact",
		InternalType: models.EntityUser, Direction: models.DirectionInbound, Enabled: true,
	})
	if !errors.Is(err, ErrDuplicateMapping) {
		t.Errorf("expected ErrDuplicateMapping, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	registry := entity.NewRegistry()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		snap, _ := Load(context.Background(), seed(t), "conn-1")
		if err := Validate(snap, registry, supportAll{}); err != nil {
			t.Errorf("expected valid config, got %v", err)
		}
	})

	tests := []struct {
		name    string
		mutate  func(*Snapshot)
		problem string
	}{
		{
			name:    "unsupported provider",
			mutate:  func(s *Snapshot) { s.Connection.Provider = models.ProviderDynamics365 },
			problem: `provider "dynamics365" is not supported`,
		},
		{
			name: "field direction exceeds entity direction",
			mutate: func(s *Snapshot) {
				set, _ := s.Set("em-companies")
				set.Fields = append(set.Fields, models.FieldMapping{
					ID: "fm-x", EntityMappingID: "em-companies", InternalField: "name",
					ExternalField: "name", Direction: models.DirectionInbound,
				})
			},
			problem: "field mapping fm-x direction inbound exceeds entity mapping direction outbound",
		},
		{
			name: "unknown internal field",
			mutate: func(s *Snapshot) {
				set, _ := s.Set("em-users")
				set.Fields[0].InternalField = "shoe_size"
			},
			problem: `user has no field "shoe_size"`,
		},
		{
			name: "invalid transform",
			mutate: func(s *Snapshot) {
				set, _ := s.Set("em-users")
				set.Fields[0].Transform = transform.Spec{Kind: transform.KindSplit}
			},
			problem: "split requires a delimiter",
		},
		{
			name: "duplicate triple",
			mutate: func(s *Snapshot) {
				dup := *s.Sets[0]
				dup.Entity.ID = "em-dup"
				s.Sets = append(s.Sets, &dup)
			},
			problem: "entity mappings em-users and em-dup both map contact to user",
		},
		{
			name: "auto-create without related mapping",
			mutate: func(s *Snapshot) {
				s.Sets = s.Sets[:1]
			},
			problem: "auto-creates company",
		},
		{
			name:    "missing connection name",
			mutate:  func(s *Snapshot) { s.Connection.Name = "" },
			problem: "name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap, err := Load(context.Background(), seed(t), "conn-1")
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(snap)

			err = Validate(snap, registry, supportAll{unsupported: models.ProviderDynamics365})
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("expected %q in %q", tt.problem, err.Error())
			}
		})
	}
}

func TestRecordSyncResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := seed(t)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.RecordSyncResult(ctx, "conn-1", &at, ""); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordSyncResult(ctx, "conn-1", nil, "provider unreachable"); err != nil {
		t.Fatal(err)
	}

	conn, _ := store.GetConnection(ctx, "conn-1")
	if conn.LastSyncAt == nil || !conn.LastSyncAt.Equal(at) {
		t.Errorf("expected watermark %v to be kept, got %v", at, conn.LastSyncAt)
	}
	if conn.LastSyncError != "provider unreachable" {
		t.Errorf("expected last error to be recorded, got %q", conn.LastSyncError)
	}
}

func TestSetIdentity(t *testing.T) {
	t.Parallel()
	store := seed(t)
	reg := entity.NewRegistry()

	snap, err := Load(context.Background(), store, "conn-1")
	if err != nil {
		t.Fatal(err)
	}

	users, _ := snap.Set("em-users")
	field, fm := users.Identity(reg)
	if field != "email" || fm == nil || fm.ExternalField != "email" {
		t.Errorf("expected default identity email mapped to email, got %q %+v", field, fm)
	}

	companies, _ := snap.Set("em-companies")
	field, fm = companies.Identity(reg)
	if field != reg.IdentityField(models.EntityCompany) || fm != nil {
		t.Errorf("expected unmapped default identity, got %q %+v", field, fm)
	}
}
