// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/crmsync/internal/models"
)

func TestRegistryGetSet(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	user := &models.User{ID: "u1", Email: "a@x.com"}

	tests := []struct {
		name     string
		path     string
		value    any
		expected any
	}{
		{"snake case", "first_name", "John", "John"},
		{"pascal case", "LastName", "Doe", "Doe"},
		{"trailing acronym", "CompanyID", "c1", "c1"},
		{"number to string", "phone", float64(5551234), "5551234"},
		{"bool from string", "active", "true", true},
		{"custom field", "custom_fields.tier", "gold", "gold"},
		{"custom field legacy prefix", "CustomFields.region", "emea", "emea"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.Set(user, tt.path, tt.value); err != nil {
				t.Fatalf("Set(%s): %v", tt.path, err)
			}
			got, err := reg.Get(user, tt.path)
			if err != nil {
				t.Fatalf("Get(%s): %v", tt.path, err)
			}
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestRegistryErrors(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	company := &models.Company{ID: "c1"}

	if _, err := reg.Get(company, "email"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if err := reg.Set(company, "id", "other"); !errors.Is(err, ErrReadOnlyField) {
		t.Errorf("expected ErrReadOnlyField, got %v", err)
	}
	if err := reg.Set(company, "employees", 12.5); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
	if err := reg.Set(company, "employees", "40"); err != nil {
		t.Errorf("expected numeric string to coerce, got %v", err)
	}
	if company.Employees != 40 {
		t.Errorf("expected 40 employees, got %d", company.Employees)
	}
	if _, err := reg.Schema("invoice"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestRegistryHasField(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	if !reg.HasField(models.EntityUser, "FirstName") {
		t.Error("expected FirstName on user")
	}
	if !reg.HasField(models.EntityLocation, "custom_fields.floor") {
		t.Error("expected custom field on location")
	}
	if reg.HasField(models.EntityUser, "custom_fields.") {
		t.Error("expected empty custom key to be rejected")
	}
	if reg.HasField(models.EntityCompany, "first_name") {
		t.Error("expected first_name to be absent on company")
	}
}

func TestCustomFieldNilDeletes(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	loc := &models.Location{CustomFields: map[string]any{"floor": 3}}

	if err := reg.Set(loc, "custom_fields.floor", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := loc.CustomFields["floor"]; ok {
		t.Error("expected floor to be removed")
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	user := &models.User{ID: "u1", CustomFields: map[string]any{"tier": "gold"}}

	clone := reg.Clone(user).(*models.User)
	clone.CustomFields["tier"] = "silver"
	if user.CustomFields["tier"] != "gold" {
		t.Error("expected clone to not share custom fields")
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := NewRegistry()
	store := NewMemoryStore(reg)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	user := &models.User{Email: "a@x.com"}
	if err := store.Create(ctx, user); err != nil {
		t.Fatal(err)
	}
	if user.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	store.Put(&models.User{ID: "old", UpdatedAt: base.Add(-time.Hour)})

	got, err := store.Get(ctx, models.EntityUser, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.(*models.User).Email != "a@x.com" {
		t.Errorf("expected stored email, got %+v", got)
	}

	since := base.Add(-time.Minute)
	changed, err := store.ListModifiedSince(ctx, models.EntityUser, &since)
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 || changed[0].EntityID() != user.ID {
		t.Errorf("expected only the new user, got %d records", len(changed))
	}

	all, _ := store.ListModifiedSince(ctx, models.EntityUser, nil)
	if len(all) != 2 {
		t.Errorf("expected 2 users, got %d", len(all))
	}

	if err := store.Update(ctx, &models.User{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, models.EntityCompany, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreFindByField(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := NewRegistry()
	store := NewMemoryStore(reg)

	store.Put(&models.User{ID: "u2", Email: " A@X.com "})
	store.Put(&models.User{ID: "u1", Email: "a@x.com"})
	store.Put(&models.User{ID: "u3", Email: "b@x.com"})

	found, err := store.FindByField(ctx, models.EntityUser, "Email", "a@X.COM")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0].EntityID() != "u1" || found[1].EntityID() != "u2" {
		t.Errorf("expected u1 and u2 in id order, got %v", found)
	}

	none, err := store.FindByField(ctx, models.EntityUser, "email", "  ")
	if err != nil || len(none) != 0 {
		t.Errorf("expected blank value to match nothing, got %v, %v", none, err)
	}

	if _, err := store.FindByField(ctx, models.EntityUser, "shoe_size", "9"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

func TestIdentityKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       any
		expected string
	}{
		{nil, ""},
		{"  Jane@Example.COM ", "jane@example.com"},
		{42, "42"},
	}
	for _, tt := range tests {
		if got := IdentityKey(tt.in); got != tt.expected {
			t.Errorf("IdentityKey(%v): expected %q, got %q", tt.in, tt.expected, got)
		}
	}
}
