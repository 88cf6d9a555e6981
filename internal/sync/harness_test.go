// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/ledger"
	"github.com/tomtom215/crmsync/internal/lock"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/progress"
	"github.com/tomtom215/crmsync/internal/provider"
	"github.com/tomtom215/crmsync/internal/transform"
)

const testConn = "conn-1"

// harness wires an Orchestrator to in-memory collaborators.
type harness struct {
	t        *testing.T
	ctx      context.Context
	orch     *Orchestrator
	mappings *mapping.MemoryStore
	ledger   *ledger.MemoryStore
	entities *entity.MemoryStore
	crm      *provider.MemoryProvider
	registry *provider.Registry
	locker   *lock.MemoryLocker
	progress *progress.Broadcaster
}

// newHarness creates a connection with the given direction and no entity
// mappings. Tests add the mappings they need.
func newHarness(t *testing.T, dir models.Direction, opts Options) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		mappings: mapping.NewMemoryStore(),
		ledger:   ledger.NewMemoryStore(),
		entities: entity.NewMemoryStore(entity.NewRegistry()),
		crm:      provider.NewMemoryProvider(),
		locker:   lock.NewMemoryLocker(),
		progress: progress.NewInProcessBroadcaster(progress.NewMemoryStore(progress.DefaultTTL)),
	}
	t.Cleanup(func() { _ = h.progress.Close() })

	h.registry = provider.NewRegistry()
	h.registry.Register(models.ProviderMemory, func() provider.Provider { return h.crm })

	orch, err := New(Deps{
		Mappings:  h.mappings,
		Ledger:    h.ledger,
		SyncLog:   h.ledger,
		Entities:  h.entities,
		Providers: h.registry,
		Locker:    h.locker,
		Progress:  h.progress,
	}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch

	h.must(h.mappings.SaveConnection(h.ctx, &models.Connection{
		ID: testConn, Name: "CRM", Provider: models.ProviderMemory,
		Direction: dir, Enabled: true, WebhookSecret: "s3cret",
	}))
	return h
}

// setConnection applies fn to the stored connection.
func (h *harness) setConnection(fn func(c *models.Connection)) {
	h.t.Helper()
	conn := h.connection()
	fn(conn)
	h.must(h.mappings.SaveConnection(h.ctx, conn))
}

func (h *harness) must(err error) {
	h.t.Helper()
	if err != nil {
		h.t.Fatal(err)
	}
}

// mapUsers maps user to contact: first_name → firstname uppercased
// outbound, and email both ways.
func (h *harness) mapUsers(dir models.Direction) {
	h.t.Helper()
	h.must(h.mappings.SaveEntityMapping(h.ctx, &models.EntityMapping{
		ID: "em-users", ConnectionID: testConn, ExternalEntity: "contact",
		InternalType: models.EntityUser, Direction: dir, Enabled: true,
	}))
	if dir.AllowsOutbound() {
		h.must(h.mappings.SaveFieldMapping(h.ctx, &models.FieldMapping{
			ID: "fm-first", EntityMappingID: "em-users", InternalField: "first_name",
			ExternalField: "firstname", Direction: models.DirectionOutbound, Transform: transform.Uppercase(),
		}))
	}
	h.must(h.mappings.SaveFieldMapping(h.ctx, &models.FieldMapping{
		ID: "fm-email", EntityMappingID: "em-users", InternalField: "email",
		ExternalField: "email", Direction: dir,
	}))
}

// mapCompanies maps company to company outbound with the company_id
// relationship of users auto-creating it.
func (h *harness) mapCompanies() {
	h.t.Helper()
	h.must(h.mappings.SaveEntityMapping(h.ctx, &models.EntityMapping{
		ID: "em-companies", ConnectionID: testConn, ExternalEntity: "company",
		InternalType: models.EntityCompany, Direction: models.DirectionOutbound, Enabled: true,
	}))
	h.must(h.mappings.SaveFieldMapping(h.ctx, &models.FieldMapping{
		ID: "fm-name", EntityMappingID: "em-companies", InternalField: "name",
		ExternalField: "name", Direction: models.DirectionOutbound,
	}))
	h.must(h.mappings.SaveRelationshipMapping(h.ctx, &models.RelationshipMapping{
		ID: "rm-company", EntityMappingID: "em-users", InternalField: "company_id",
		ExternalField: "associatedcompanyid", RelatedInternalType: models.EntityCompany,
		RelatedExternalEntity: "company", Direction: models.DirectionOutbound, AutoCreateRelated: true,
	}))
}

// putUser stores a user last modified an hour ago.
func (h *harness) putUser(id, first, email string) {
	h.entities.Put(&models.User{
		ID: id, FirstName: first, Email: email,
		CreatedAt: time.Now().Add(-time.Hour), UpdatedAt: time.Now().Add(-time.Hour),
	})
}

func (h *harness) user(id string) *models.User {
	h.t.Helper()
	rec, err := h.entities.Get(h.ctx, models.EntityUser, id)
	if err != nil {
		h.t.Fatalf("get user %s: %v", id, err)
	}
	return rec.(*models.User)
}

func (h *harness) connection() *models.Connection {
	h.t.Helper()
	conn, err := h.mappings.GetConnection(h.ctx, testConn)
	if err != nil {
		h.t.Fatalf("get connection: %v", err)
	}
	return conn
}

func (h *harness) logEntries(syncID string) []*models.SyncLogEntry {
	h.t.Helper()
	entries, err := h.ledger.List(h.ctx, models.SyncLogFilter{ConnectionID: testConn, SyncID: syncID})
	if err != nil {
		h.t.Fatalf("list sync log: %v", err)
	}
	return entries
}

// fullSync runs a full pass and fails the test on an argument error.
func (h *harness) fullSync() *Result {
	h.t.Helper()
	res, err := h.orch.FullSync(h.ctx, testConn)
	if err != nil {
		h.t.Fatalf("FullSync: %v", err)
	}
	return res
}

func expectState(t *testing.T, res *Result, want models.RunState) {
	t.Helper()
	if res.State != want {
		t.Fatalf("expected state %s, got %s (connection error: %v, errors: %v)", want, res.State, res.ConnectionError, res.Errors)
	}
}

func expectKind(t *testing.T, res *Result, want ErrorKind) {
	t.Helper()
	if res.ConnectionError == nil {
		t.Fatalf("expected connection error of kind %s, got none", want)
	}
	if res.ConnectionError.Kind != want {
		t.Errorf("expected error kind %s, got %s (%v)", want, res.ConnectionError.Kind, res.ConnectionError)
	}
}
