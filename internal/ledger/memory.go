// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/crmsync/internal/models"
)

// MemoryStore implements Store and SyncLog in process memory. It enforces both
// uniqueness invariants of the ledger.
type MemoryStore struct {
	mu         sync.RWMutex
	byInternal map[string]*models.CorrespondenceRecord
	byExternal map[string]*models.CorrespondenceRecord
	log        []*models.SyncLogEntry
}

// NewMemoryStore creates an empty ledger and sync log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byInternal: make(map[string]*models.CorrespondenceRecord),
		byExternal: make(map[string]*models.CorrespondenceRecord),
	}
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ SyncLog = (*MemoryStore)(nil)
)

func internalIndex(connectionID string, t models.EntityType, id string) string {
	return InternalKey(connectionID, t, id)
}

func externalIndex(connectionID, entity, id string) string {
	return ExternalKey(connectionID, entity, id)
}

func cloneRecord(r *models.CorrespondenceRecord) *models.CorrespondenceRecord {
	cp := *r
	cp.Snapshot = CloneSnapshot(r.Snapshot)
	return &cp
}

func (s *MemoryStore) Resolve(_ context.Context, connectionID string, t models.EntityType, internalID string) (*models.CorrespondenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.byInternal[internalIndex(connectionID, t, internalID)]; ok {
		return cloneRecord(r), nil
	}
	return nil, nil
}

func (s *MemoryStore) ResolveExternal(_ context.Context, connectionID, externalEntity, externalID string) (*models.CorrespondenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.byExternal[externalIndex(connectionID, externalEntity, externalID)]; ok {
		return cloneRecord(r), nil
	}
	return nil, nil
}

func (s *MemoryStore) Link(_ context.Context, rec *models.CorrespondenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ik := internalIndex(rec.ConnectionID, rec.InternalType, rec.InternalID)
	ek := externalIndex(rec.ConnectionID, rec.ExternalEntity, rec.ExternalID)

	if holder, ok := s.byExternal[ek]; ok {
		if holder.InternalType != rec.InternalType || holder.InternalID != rec.InternalID {
			return ErrConflict
		}
	}

	stored := cloneRecord(rec)
	if existing, ok := s.byInternal[ik]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
		delete(s.byExternal, externalIndex(existing.ConnectionID, existing.ExternalEntity, existing.ExternalID))
	} else {
		if stored.ID == "" {
			stored.ID = uuid.New().String()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
	}
	if stored.LastSyncedAt.IsZero() {
		stored.LastSyncedAt = time.Now().UTC()
	}

	s.byInternal[ik] = stored
	s.byExternal[ek] = stored
	rec.ID = stored.ID
	rec.CreatedAt = stored.CreatedAt
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, connectionID string, t models.EntityType, internalID string,
	direction models.Direction, snapshot map[string]any, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byInternal[internalIndex(connectionID, t, internalID)]
	if !ok {
		return ErrNotLinked
	}
	r.LastSyncedAt = at
	r.LastSyncDirection = direction
	if snapshot != nil {
		r.Snapshot = CloneSnapshot(snapshot)
	}
	return nil
}

func (s *MemoryStore) ListByConnection(_ context.Context, connectionID string) ([]*models.CorrespondenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CorrespondenceRecord
	for _, r := range s.byInternal {
		if r.ConnectionID == connectionID {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InternalType != out[j].InternalType {
			return out[i].InternalType < out[j].InternalType
		}
		return out[i].InternalID < out[j].InternalID
	})
	return out, nil
}

// Count returns the number of correspondence rows.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byInternal)
}

func (s *MemoryStore) Append(_ context.Context, entry *models.SyncLogEntry) error {
	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.ChangedFields = append([]string(nil), entry.ChangedFields...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, &cp)
	entry.ID = cp.ID
	entry.CreatedAt = cp.CreatedAt
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter models.SyncLogFilter) ([]*models.SyncLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SyncLogEntry
	for _, e := range s.log {
		if filter.ConnectionID != "" && e.ConnectionID != filter.ConnectionID {
			continue
		}
		if filter.SyncID != "" && e.SyncID != filter.SyncID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
