// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package database

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/crmsync/internal/config"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/transform"
)

func TestConnection_RoundTrip(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	want := seedConnection(t, db, "c1")

	got, err := db.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got.Name != want.Name || got.Provider != want.Provider || got.Direction != want.Direction {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if !reflect.DeepEqual(got.Credentials, want.Credentials) {
		t.Errorf("expected credentials %v, got %v", want.Credentials, got.Credentials)
	}
	if got.WebhookSecret != want.WebhookSecret {
		t.Errorf("expected webhook secret %q, got %q", want.WebhookSecret, got.WebhookSecret)
	}
	if got.PollInterval != 15*time.Minute {
		t.Errorf("expected poll interval 15m, got %v", got.PollInterval)
	}
	if !got.Enabled {
		t.Error("expected connection to be enabled")
	}
	if got.LastSyncAt != nil {
		t.Errorf("expected no watermark, got %v", got.LastSyncAt)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestConnection_NotFound(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)

	_, err := db.GetConnection(context.Background(), "missing")
	if !errors.Is(err, mapping.ErrConnectionNotFound) {
		t.Errorf("expected ErrConnectionNotFound, got %v", err)
	}
}

func TestConnection_SaveKeepsCreatedAt(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	seedConnection(t, db, "c1")
	first, err := db.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}

	first.Name = "Renamed"
	first.CreatedAt = time.Time{}
	if err := db.SaveConnection(ctx, first); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}

	second, err := db.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if second.Name != "Renamed" {
		t.Errorf("expected name Renamed, got %s", second.Name)
	}
	if second.UpdatedAt.Before(second.CreatedAt) {
		t.Errorf("expected updated_at %v not before created_at %v", second.UpdatedAt, second.CreatedAt)
	}
}

func TestListConnections_OrderedByID(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)

	for _, id := range []string{"c3", "c1", "c2"} {
		seedConnection(t, db, id)
	}
	conns, err := db.ListConnections(context.Background())
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	var ids []string
	for _, c := range conns {
		ids = append(ids, c.ID)
	}
	if strings.Join(ids, ",") != "c1,c2,c3" {
		t.Errorf("expected c1,c2,c3, got %v", ids)
	}
}

func TestConnection_CredentialsEncryptedAtRest(t *testing.T) {
	t.Parallel()
	db := setupEncryptedTestDB(t)
	ctx := context.Background()

	seedConnection(t, db, "c1")

	var credentials, secret string
	err := db.Conn().QueryRowContext(ctx,
		`SELECT credentials, webhook_secret FROM connections WHERE id = 'c1'`).Scan(&credentials, &secret)
	if err != nil {
		t.Fatalf("raw select: %v", err)
	}
	if strings.Contains(credentials, "tok-c1") {
		t.Errorf("expected credentials to be encrypted, got %q", credentials)
	}
	if secret == "whsec-c1" {
		t.Error("expected webhook secret to be encrypted")
	}

	got, err := db.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got.Credentials["access_token"] != "tok-c1" {
		t.Errorf("expected decrypted token tok-c1, got %q", got.Credentials["access_token"])
	}
	if got.WebhookSecret != "whsec-c1" {
		t.Errorf("expected decrypted secret whsec-c1, got %q", got.WebhookSecret)
	}
}

func TestConnection_WrongKeyIsCorrupt(t *testing.T) {
	t.Parallel()
	db := setupEncryptedTestDB(t)
	ctx := context.Background()

	seedConnection(t, db, "c1")

	other, err := config.NewCredentialEncryptor("a-different-key")
	if err != nil {
		t.Fatalf("NewCredentialEncryptor: %v", err)
	}
	db.encryptor = other

	_, err = db.GetConnection(ctx, "c1")
	if !errors.Is(err, ErrCorruptRow) {
		t.Errorf("expected ErrCorruptRow, got %v", err)
	}
}

func TestConnection_EmptySecretsStayEmpty(t *testing.T) {
	t.Parallel()
	db := setupEncryptedTestDB(t)
	ctx := context.Background()

	conn := &models.Connection{
		ID: "c1", Name: "Unsigned", Provider: models.ProviderMemory,
		Direction: models.DirectionInbound,
	}
	if err := db.SaveConnection(ctx, conn); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}
	got, err := db.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got.WebhookSecret != "" || len(got.Credentials) != 0 {
		t.Errorf("expected empty secrets, got %q and %v", got.WebhookSecret, got.Credentials)
	}
}

func TestRecordSyncResult(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	seedConnection(t, db, "c1")

	watermark := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := db.RecordSyncResult(ctx, "c1", &watermark, ""); err != nil {
		t.Fatalf("RecordSyncResult: %v", err)
	}

	t.Run("failed run keeps watermark", func(t *testing.T) {
		if err := db.RecordSyncResult(ctx, "c1", nil, "provider unavailable"); err != nil {
			t.Fatalf("RecordSyncResult: %v", err)
		}
		got, err := db.GetConnection(ctx, "c1")
		if err != nil {
			t.Fatalf("GetConnection: %v", err)
		}
		if got.LastSyncAt == nil || !got.LastSyncAt.Equal(watermark) {
			t.Errorf("expected watermark %v, got %v", watermark, got.LastSyncAt)
		}
		if got.LastSyncError != "provider unavailable" {
			t.Errorf("expected last error recorded, got %q", got.LastSyncError)
		}
	})

	t.Run("unknown connection", func(t *testing.T) {
		err := db.RecordSyncResult(ctx, "missing", &watermark, "")
		if !errors.Is(err, mapping.ErrConnectionNotFound) {
			t.Errorf("expected ErrConnectionNotFound, got %v", err)
		}
	})
}

func TestEntityMapping_SaveAndList(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	seedConnection(t, db, "c1")

	mappings := []*models.EntityMapping{
		{ID: "em-z", ConnectionID: "c1", ExternalEntity: "contacts", InternalType: models.EntityUser,
			Direction: models.DirectionBidirectional, Enabled: true, IdentityField: "email"},
		{ID: "em-a", ConnectionID: "c1", ExternalEntity: "companies", InternalType: models.EntityCompany,
			Direction: models.DirectionOutbound, Filter: "industry=retail"},
	}
	for _, m := range mappings {
		if err := db.SaveEntityMapping(ctx, m); err != nil {
			t.Fatalf("SaveEntityMapping(%s): %v", m.ID, err)
		}
	}

	got, err := db.ListEntityMappings(ctx, "c1")
	if err != nil {
		t.Fatalf("ListEntityMappings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(got))
	}
	for i := range mappings {
		if !reflect.DeepEqual(got[i], mappings[i]) {
			t.Errorf("mapping %d: expected %+v, got %+v", i, mappings[i], got[i])
		}
	}
}

func TestEntityMapping_Errors(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	seedConnection(t, db, "c1")

	base := &models.EntityMapping{ID: "em1", ConnectionID: "c1", ExternalEntity: "contacts",
		InternalType: models.EntityUser, Direction: models.DirectionBidirectional}
	if err := db.SaveEntityMapping(ctx, base); err != nil {
		t.Fatalf("SaveEntityMapping: %v", err)
	}

	tests := []struct {
		name    string
		mapping *models.EntityMapping
		wantErr error
	}{
		{"unknown connection", &models.EntityMapping{ID: "em2", ConnectionID: "nope", ExternalEntity: "contacts",
			InternalType: models.EntityUser, Direction: models.DirectionInbound}, mapping.ErrConnectionNotFound},
		{"duplicate triple", &models.EntityMapping{ID: "em2", ConnectionID: "c1", ExternalEntity: "contacts",
			InternalType: models.EntityUser, Direction: models.DirectionInbound}, mapping.ErrDuplicateMapping},
		{"replace by id", &models.EntityMapping{ID: "em1", ConnectionID: "c1", ExternalEntity: "contacts",
			InternalType: models.EntityUser, Direction: models.DirectionInbound}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.SaveEntityMapping(ctx, tt.mapping)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	got, err := db.ListEntityMappings(ctx, "c1")
	if err != nil {
		t.Fatalf("ListEntityMappings: %v", err)
	}
	if len(got) != 1 || got[0].Direction != models.DirectionInbound {
		t.Errorf("expected one replaced inbound mapping, got %+v", got)
	}
}

func TestFieldMapping_TransformRoundTrip(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	seedConnection(t, db, "c1")
	if err := db.SaveEntityMapping(ctx, &models.EntityMapping{ID: "em1", ConnectionID: "c1",
		ExternalEntity: "contacts", InternalType: models.EntityUser, Direction: models.DirectionBidirectional}); err != nil {
		t.Fatalf("SaveEntityMapping: %v", err)
	}

	fields := []*models.FieldMapping{
		{ID: "f1", EntityMappingID: "em1", InternalField: "email", ExternalField: "email",
			Direction: models.DirectionBidirectional, Transform: transform.Lowercase(), Required: true},
		{ID: "f2", EntityMappingID: "em1", InternalField: "phone", ExternalField: "phone",
			Direction: models.DirectionOutbound, Transform: transform.Concat("+", "")},
		{ID: "f3", EntityMappingID: "em1", InternalField: "job_title", ExternalField: "jobtitle",
			Direction: models.DirectionInbound},
	}
	for _, fm := range fields {
		if err := db.SaveFieldMapping(ctx, fm); err != nil {
			t.Fatalf("SaveFieldMapping(%s): %v", fm.ID, err)
		}
	}

	got, err := db.ListFieldMappings(ctx, "em1")
	if err != nil {
		t.Fatalf("ListFieldMappings: %v", err)
	}
	if len(got) != len(fields) {
		t.Fatalf("expected %d field mappings, got %d", len(fields), len(got))
	}
	for i := range fields {
		if !reflect.DeepEqual(got[i], fields[i]) {
			t.Errorf("field %d: expected %+v, got %+v", i, fields[i], got[i])
		}
	}

	err = db.SaveFieldMapping(ctx, &models.FieldMapping{ID: "f4", EntityMappingID: "missing",
		InternalField: "email", ExternalField: "email", Direction: models.DirectionOutbound})
	if !errors.Is(err, mapping.ErrMappingNotFound) {
		t.Errorf("expected ErrMappingNotFound, got %v", err)
	}
}

func TestRelationshipMapping_SaveAndList(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	seedConnection(t, db, "c1")
	if err := db.SaveEntityMapping(ctx, &models.EntityMapping{ID: "em1", ConnectionID: "c1",
		ExternalEntity: "contacts", InternalType: models.EntityUser, Direction: models.DirectionBidirectional}); err != nil {
		t.Fatalf("SaveEntityMapping: %v", err)
	}

	rm := &models.RelationshipMapping{
		ID: "r1", EntityMappingID: "em1", InternalField: "company_id", ExternalField: "associatedcompanyid",
		RelatedInternalType: models.EntityCompany, RelatedExternalEntity: "companies",
		Direction: models.DirectionBidirectional, AutoCreateRelated: true,
	}
	if err := db.SaveRelationshipMapping(ctx, rm); err != nil {
		t.Fatalf("SaveRelationshipMapping: %v", err)
	}
	rm.SyncNulls = true
	if err := db.SaveRelationshipMapping(ctx, rm); err != nil {
		t.Fatalf("SaveRelationshipMapping (replace): %v", err)
	}

	got, err := db.ListRelationshipMappings(ctx, "em1")
	if err != nil {
		t.Fatalf("ListRelationshipMappings: %v", err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0], rm) {
		t.Errorf("expected [%+v], got %+v", rm, got)
	}

	err = db.SaveRelationshipMapping(ctx, &models.RelationshipMapping{ID: "r2", EntityMappingID: "missing"})
	if !errors.Is(err, mapping.ErrMappingNotFound) {
		t.Errorf("expected ErrMappingNotFound, got %v", err)
	}
}

func TestMappingSnapshotLoadsFromDuckDB(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	seedConnection(t, db, "c1")
	if err := db.SaveEntityMapping(ctx, &models.EntityMapping{ID: "em1", ConnectionID: "c1",
		ExternalEntity: "contacts", InternalType: models.EntityUser,
		Direction: models.DirectionBidirectional, Enabled: true}); err != nil {
		t.Fatalf("SaveEntityMapping: %v", err)
	}
	if err := db.SaveFieldMapping(ctx, &models.FieldMapping{ID: "f1", EntityMappingID: "em1",
		InternalField: "email", ExternalField: "email", Direction: models.DirectionBidirectional}); err != nil {
		t.Fatalf("SaveFieldMapping: %v", err)
	}

	snap, err := mapping.Load(ctx, db, "c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Connection.ID != "c1" {
		t.Errorf("expected connection c1, got %s", snap.Connection.ID)
	}
	if len(snap.Sets) != 1 || len(snap.Sets[0].Fields) != 1 {
		t.Errorf("expected one set with one field, got %+v", snap.Sets)
	}
}
