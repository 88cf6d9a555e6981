// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package mapping

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/crmsync/internal/models"
)

// MemoryStore is an in-process Store. Listings preserve insertion order.
type MemoryStore struct {
	mu            sync.RWMutex
	connections   map[string]*models.Connection
	entities      []*models.EntityMapping
	fields        []*models.FieldMapping
	relationships []*models.RelationshipMapping
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{connections: make(map[string]*models.Connection)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetConnection(_ context.Context, id string) (*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return cloneConnection(c), nil
}

func (s *MemoryStore) ListConnections(_ context.Context) ([]*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, cloneConnection(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListEntityMappings(_ context.Context, connectionID string) ([]*models.EntityMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.EntityMapping
	for _, m := range s.entities {
		if m.ConnectionID == connectionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListFieldMappings(_ context.Context, entityMappingID string) ([]*models.FieldMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.FieldMapping
	for _, fm := range s.fields {
		if fm.EntityMappingID == entityMappingID {
			cp := *fm
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRelationshipMappings(_ context.Context, entityMappingID string) ([]*models.RelationshipMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RelationshipMapping
	for _, rm := range s.relationships {
		if rm.EntityMappingID == entityMappingID {
			cp := *rm
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveConnection(_ context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	cp := cloneConnection(conn)
	if existing, ok := s.connections[conn.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.connections[conn.ID] = cp
	return nil
}

func (s *MemoryStore) SaveEntityMapping(_ context.Context, m *models.EntityMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[m.ConnectionID]; !ok {
		return ErrConnectionNotFound
	}
	for i, existing := range s.entities {
		if existing.ID == m.ID {
			cp := *m
			s.entities[i] = &cp
			return nil
		}
		if existing.ConnectionID == m.ConnectionID &&
			existing.ExternalEntity == m.ExternalEntity &&
			existing.InternalType == m.InternalType {
			return ErrDuplicateMapping
		}
	}
	cp := *m
	s.entities = append(s.entities, &cp)
	return nil
}

func (s *MemoryStore) SaveFieldMapping(_ context.Context, fm *models.FieldMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasEntityMapping(fm.EntityMappingID) {
		return ErrMappingNotFound
	}
	cp := *fm
	for i, existing := range s.fields {
		if existing.ID == fm.ID {
			s.fields[i] = &cp
			return nil
		}
	}
	s.fields = append(s.fields, &cp)
	return nil
}

func (s *MemoryStore) SaveRelationshipMapping(_ context.Context, rm *models.RelationshipMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasEntityMapping(rm.EntityMappingID) {
		return ErrMappingNotFound
	}
	cp := *rm
	for i, existing := range s.relationships {
		if existing.ID == rm.ID {
			s.relationships[i] = &cp
			return nil
		}
	}
	s.relationships = append(s.relationships, &cp)
	return nil
}

func (s *MemoryStore) RecordSyncResult(_ context.Context, connectionID string, watermark *time.Time, syncErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[connectionID]
	if !ok {
		return ErrConnectionNotFound
	}
	if watermark != nil {
		t := *watermark
		c.LastSyncAt = &t
	}
	c.LastSyncError = syncErr
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// hasEntityMapping must be called with mu held.
func (s *MemoryStore) hasEntityMapping(id string) bool {
	for _, m := range s.entities {
		if m.ID == id {
			return true
		}
	}
	return false
}

func cloneConnection(c *models.Connection) *models.Connection {
	cp := *c
	if c.Credentials != nil {
		cp.Credentials = make(map[string]string, len(c.Credentials))
		for k, v := range c.Credentials {
			cp.Credentials[k] = v
		}
	}
	if c.LastSyncAt != nil {
		t := *c.LastSyncAt
		cp.LastSyncAt = &t
	}
	return &cp
}
