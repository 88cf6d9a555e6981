// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/crmsync/internal/models"
)

// Store persists internal entities.
type Store interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, t models.EntityType, id string) (Record, error)

	// Create inserts rec, assigning an id when it has none.
	Create(ctx context.Context, rec Record) error

	// Update replaces an existing record. It returns ErrNotFound when absent.
	Update(ctx context.Context, rec Record) error

	// ListModifiedSince returns records of type t modified at or after since,
	// ordered by id. A nil since returns every record.
	ListModifiedSince(ctx context.Context, t models.EntityType, since *time.Time) ([]Record, error)

	// FindByField returns records of type t whose field at path has the same
	// identity key as value (see IdentityKey), ordered by id.
	FindByField(ctx context.Context, t models.EntityType, path string, value any) ([]Record, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	registry *Registry
	records  map[models.EntityType]map[string]Record
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(registry *Registry) *MemoryStore {
	return &MemoryStore{
		registry: registry,
		records:  make(map[models.EntityType]map[string]Record),
		now:      time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// Put stores rec as-is, keeping its UpdatedAt. Used for seeding fixtures.
func (s *MemoryStore) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(rec.EntityType())[rec.EntityID()] = s.registry.Clone(rec)
}

func (s *MemoryStore) bucket(t models.EntityType) map[string]Record {
	b, ok := s.records[t]
	if !ok {
		b = make(map[string]Record)
		s.records[t] = b
	}
	return b
}

func (s *MemoryStore) Get(_ context.Context, t models.EntityType, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[t][id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.registry.Clone(rec), nil
}

func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	schema, err := s.registry.Schema(rec.EntityType())
	if err != nil {
		return err
	}
	if rec.EntityID() == "" {
		schema.SetID(rec, uuid.New().String())
	}
	schema.Touch(rec, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(rec.EntityType())[rec.EntityID()] = s.registry.Clone(rec)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, rec Record) error {
	schema, err := s.registry.Schema(rec.EntityType())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(rec.EntityType())
	if _, ok := b[rec.EntityID()]; !ok {
		return ErrNotFound
	}
	schema.Touch(rec, s.now())
	b[rec.EntityID()] = s.registry.Clone(rec)
	return nil
}

func (s *MemoryStore) ListModifiedSince(_ context.Context, t models.EntityType, since *time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records[t]))
	for _, rec := range s.records[t] {
		if since != nil && rec.Modified().Before(*since) {
			continue
		}
		out = append(out, s.registry.Clone(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out, nil
}

func (s *MemoryStore) FindByField(_ context.Context, t models.EntityType, path string, value any) ([]Record, error) {
	if !s.registry.HasField(t, path) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, t, path)
	}
	key := IdentityKey(value)
	if key == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.records[t] {
		v, err := s.registry.Get(rec, path)
		if err != nil {
			return nil, err
		}
		if IdentityKey(v) == key {
			out = append(out, s.registry.Clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out, nil
}
