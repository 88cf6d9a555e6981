// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package database

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/crmsync/internal/ledger"
	"github.com/tomtom215/crmsync/internal/models"
)

func newLink(internalID, externalID string) *models.CorrespondenceRecord {
	return &models.CorrespondenceRecord{
		ConnectionID:      "c1",
		InternalType:      models.EntityUser,
		InternalID:        internalID,
		ExternalEntity:    "contacts",
		ExternalID:        externalID,
		LastSyncDirection: models.DirectionOutbound,
		Snapshot:          map[string]any{"email": internalID + "@example.com"},
	}
}

func TestLink_ResolveBothSides(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	rec := newLink("u1", "x1")
	if err := db.Link(ctx, rec); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Errorf("expected Link to assign id and created_at, got %q %v", rec.ID, rec.CreatedAt)
	}

	byInternal, err := db.Resolve(ctx, "c1", models.EntityUser, "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if byInternal == nil || byInternal.ExternalID != "x1" {
		t.Fatalf("expected external id x1, got %+v", byInternal)
	}
	if byInternal.Snapshot["email"] != "u1@example.com" {
		t.Errorf("expected snapshot email, got %v", byInternal.Snapshot)
	}
	if byInternal.LastSyncedAt.IsZero() {
		t.Error("expected last_synced_at to default to now")
	}

	byExternal, err := db.ResolveExternal(ctx, "c1", "contacts", "x1")
	if err != nil {
		t.Fatalf("ResolveExternal: %v", err)
	}
	if byExternal == nil || byExternal.ID != byInternal.ID {
		t.Errorf("expected the same row from both sides, got %+v", byExternal)
	}

	missing, err := db.Resolve(ctx, "c1", models.EntityUser, "u2")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unlinked record, got %+v, %v", missing, err)
	}
	missing, err = db.ResolveExternal(ctx, "c2", "contacts", "x1")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil on another connection, got %+v, %v", missing, err)
	}
}

func TestLink_Idempotent(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	first := newLink("u1", "x1")
	if err := db.Link(ctx, first); err != nil {
		t.Fatalf("Link: %v", err)
	}
	second := newLink("u1", "x1")
	if err := db.Link(ctx, second); err != nil {
		t.Fatalf("second Link: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected id %s to be kept, got %s", first.ID, second.ID)
	}

	rows, err := db.ListByConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("ListByConnection: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected one row, got %d", len(rows))
	}
}

func TestLink_RelinkFreesOldExternal(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Link(ctx, newLink("u1", "x1")); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := db.Link(ctx, newLink("u1", "x2")); err != nil {
		t.Fatalf("relink: %v", err)
	}

	old, err := db.ResolveExternal(ctx, "c1", "contacts", "x1")
	if err != nil {
		t.Fatalf("ResolveExternal: %v", err)
	}
	if old != nil {
		t.Errorf("expected x1 to be free after relink, got %+v", old)
	}

	// x1 can now be claimed by another internal record.
	if err := db.Link(ctx, newLink("u2", "x1")); err != nil {
		t.Errorf("expected x1 to be linkable, got %v", err)
	}
}

func TestLink_Conflict(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Link(ctx, newLink("u1", "x1")); err != nil {
		t.Fatalf("Link: %v", err)
	}
	err := db.Link(ctx, newLink("u2", "x1"))
	if !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	holder, err := db.ResolveExternal(ctx, "c1", "contacts", "x1")
	if err != nil {
		t.Fatalf("ResolveExternal: %v", err)
	}
	if holder.InternalID != "u1" {
		t.Errorf("expected u1 to keep x1, got %s", holder.InternalID)
	}
}

func TestLink_ConcurrentClaimsOneWinner(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	const claimants = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := db.Link(ctx, newLink(fmt.Sprintf("u%d", i), "x1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ledger.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != claimants-1 {
		t.Errorf("expected 1 win and %d conflicts, got %d and %d", claimants-1, wins, conflicts)
	}
}

func TestTouch(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Link(ctx, newLink("u1", "x1")); err != nil {
		t.Fatalf("Link: %v", err)
	}
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	t.Run("nil snapshot keeps stored", func(t *testing.T) {
		if err := db.Touch(ctx, "c1", models.EntityUser, "u1", models.DirectionInbound, nil, at); err != nil {
			t.Fatalf("Touch: %v", err)
		}
		got, err := db.Resolve(ctx, "c1", models.EntityUser, "u1")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if !got.LastSyncedAt.Equal(at) || got.LastSyncDirection != models.DirectionInbound {
			t.Errorf("expected %v inbound, got %v %s", at, got.LastSyncedAt, got.LastSyncDirection)
		}
		if got.Snapshot["email"] != "u1@example.com" {
			t.Errorf("expected snapshot kept, got %v", got.Snapshot)
		}
	})

	t.Run("snapshot replaced", func(t *testing.T) {
		snap := map[string]any{"email": "new@example.com", "score": 4.5}
		if err := db.Touch(ctx, "c1", models.EntityUser, "u1", models.DirectionOutbound, snap, at); err != nil {
			t.Fatalf("Touch: %v", err)
		}
		got, err := db.Resolve(ctx, "c1", models.EntityUser, "u1")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if !reflect.DeepEqual(got.Snapshot, snap) {
			t.Errorf("expected snapshot %v, got %v", snap, got.Snapshot)
		}
	})

	t.Run("not linked", func(t *testing.T) {
		err := db.Touch(ctx, "c1", models.EntityUser, "u9", models.DirectionOutbound, nil, at)
		if !errors.Is(err, ledger.ErrNotLinked) {
			t.Errorf("expected ErrNotLinked, got %v", err)
		}
	})
}

func TestListByConnection_Ordered(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	links := []*models.CorrespondenceRecord{
		newLink("u2", "x2"),
		newLink("u1", "x1"),
		{ConnectionID: "c1", InternalType: models.EntityCompany, InternalID: "co1",
			ExternalEntity: "companies", ExternalID: "x1"},
		{ConnectionID: "c2", InternalType: models.EntityUser, InternalID: "u1",
			ExternalEntity: "contacts", ExternalID: "x1"},
	}
	for _, l := range links {
		if err := db.Link(ctx, l); err != nil {
			t.Fatalf("Link(%s): %v", l.InternalID, err)
		}
	}

	rows, err := db.ListByConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("ListByConnection: %v", err)
	}
	var got []string
	for _, r := range rows {
		got = append(got, string(r.InternalType)+"/"+r.InternalID)
	}
	want := []string{"company/co1", "user/u1", "user/u2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSyncLog_AppendAndFilter(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	entries := []*models.SyncLogEntry{
		{SyncID: "s1", ConnectionID: "c1", InternalType: models.EntityUser, InternalID: "u1",
			Direction: models.DirectionOutbound, Action: models.ActionCreate, Status: models.StatusSuccess,
			ChangedFields: []string{"email", "first_name"}},
		{SyncID: "s1", ConnectionID: "c1", InternalType: models.EntityUser, InternalID: "u2",
			Direction: models.DirectionOutbound, Action: models.ActionUpdate, Status: models.StatusFailed,
			Error: "rate limited"},
		{SyncID: "s2", ConnectionID: "c1", Action: models.ActionSkip, Status: models.StatusConflict},
		{SyncID: "s3", ConnectionID: "c2", Action: models.ActionCreate, Status: models.StatusSuccess},
	}
	for _, e := range entries {
		if err := db.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if e.ID == "" || e.CreatedAt.IsZero() {
			t.Fatalf("expected Append to fill id and created_at, got %+v", e)
		}
	}

	tests := []struct {
		name   string
		filter models.SyncLogFilter
		want   []string
	}{
		{"all", models.SyncLogFilter{}, []string{entries[0].ID, entries[1].ID, entries[2].ID, entries[3].ID}},
		{"by connection", models.SyncLogFilter{ConnectionID: "c1"}, []string{entries[0].ID, entries[1].ID, entries[2].ID}},
		{"by sync", models.SyncLogFilter{SyncID: "s1"}, []string{entries[0].ID, entries[1].ID}},
		{"by status", models.SyncLogFilter{Status: models.StatusFailed}, []string{entries[1].ID}},
		{"limit", models.SyncLogFilter{ConnectionID: "c1", Limit: 2}, []string{entries[0].ID, entries[1].ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			var ids []string
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, ids)
			}
		})
	}

	got, err := db.List(ctx, models.SyncLogFilter{SyncID: "s1", Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(got[0].ChangedFields, []string{"email", "first_name"}) {
		t.Errorf("expected changed fields to round trip, got %v", got[0].ChangedFields)
	}
}
