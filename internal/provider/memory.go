// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/crmsync/internal/models"
)

// Operation names used by MemoryProvider failure scripts and call counts.
const (
	OpValidateConnection = "validate_connection"
	OpListEntities       = "list_entities"
	OpListFields         = "list_fields"
	OpReadChanged        = "read_changed"
	OpRead               = "read"
	OpUpsert             = "upsert"
)

// FailureMatch decides whether a scripted failure applies to a call. id is
// the external id (empty for creates) and fields the payload for upserts.
type FailureMatch func(entity, id string, fields map[string]any) bool

type failure struct {
	op        string
	match     FailureMatch
	err       error
	remaining int // <= 0 means unlimited
}

// MemoryProvider is a complete in-process CRM. Records are kept per
// connection so several connections never see each other's data. It backs
// the "memory" provider type and every orchestrator test.
type MemoryProvider struct {
	mu       sync.Mutex
	data     map[string]map[string]map[string]*models.ExternalRecord
	schemas  map[string][]models.FieldSchema
	rejected map[string]bool
	failures []*failure
	calls    map[string]int
	seq      int
	now      func() time.Time
}

// NewMemoryProvider returns an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		data:     make(map[string]map[string]map[string]*models.ExternalRecord),
		schemas:  make(map[string][]models.FieldSchema),
		rejected: make(map[string]bool),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// SetClock replaces the clock stamping ModifiedAt on writes.
func (m *MemoryProvider) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// DefineEntity declares an external entity and its fields.
func (m *MemoryProvider) DefineEntity(name string, fields ...models.FieldSchema) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[name] = append([]models.FieldSchema(nil), fields...)
}

// RejectConnection makes ValidateConnection fail for the connection id.
func (m *MemoryProvider) RejectConnection(connectionID string, rejected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[connectionID] = rejected
}

// Fail makes every call to op return err until ClearFailures.
func (m *MemoryProvider) Fail(op string, err error) {
	m.FailWhen(op, nil, err, 0)
}

// FailWhen scripts err for calls to op accepted by match. A nil match
// accepts every call. times limits how often the failure fires; zero or
// less means forever.
func (m *MemoryProvider) FailWhen(op string, match FailureMatch, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, &failure{op: op, match: match, err: err, remaining: times})
}

// ClearFailures removes every scripted failure.
func (m *MemoryProvider) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = nil
}

// Calls returns how many times op was invoked.
func (m *MemoryProvider) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put stores a record directly, as if it had been created in the CRM. A
// zero ModifiedAt is stamped with the provider clock.
func (m *MemoryProvider) Put(connectionID string, rec *models.ExternalRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := copyRecord(rec)
	if cp.ModifiedAt.IsZero() {
		cp.ModifiedAt = m.now()
	}
	m.bucket(connectionID, rec.Entity)[cp.ID] = cp
}

// Records returns a copy of every stored record of entity, ordered by id.
func (m *MemoryProvider) Records(connectionID, entity string) []*models.ExternalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(connectionID, entity, nil, "", func(a, b *models.ExternalRecord) bool { return a.ID < b.ID })
}

// must be called with mu held
func (m *MemoryProvider) bucket(connectionID, entity string) map[string]*models.ExternalRecord {
	byEntity, ok := m.data[connectionID]
	if !ok {
		byEntity = make(map[string]map[string]*models.ExternalRecord)
		m.data[connectionID] = byEntity
	}
	records, ok := byEntity[entity]
	if !ok {
		records = make(map[string]*models.ExternalRecord)
		byEntity[entity] = records
	}
	return records
}

// must be called with mu held
func (m *MemoryProvider) begin(op, entity, id string, fields map[string]any) error {
	m.calls[op]++
	for _, f := range m.failures {
		if f.op != op {
			continue
		}
		if f.match != nil && !f.match(entity, id, fields) {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				f.op = ""
			}
		}
		return &Error{Op: op, Err: f.err}
	}
	return nil
}

// must be called with mu held
func (m *MemoryProvider) sorted(connectionID, entity string, since *time.Time, filter string,
	less func(a, b *models.ExternalRecord) bool) []*models.ExternalRecord {
	field, want, hasFilter := parseFilter(filter)
	var out []*models.ExternalRecord
	for _, rec := range m.bucket(connectionID, entity) {
		if since != nil && !rec.ModifiedAt.After(*since) {
			continue
		}
		if hasFilter && fmt.Sprint(rec.Fields[field]) != want {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// parseFilter understands "field=value" equality filters.
func parseFilter(filter string) (field, value string, ok bool) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return "", "", false
	}
	field, value, ok = strings.Cut(filter, "=")
	return strings.TrimSpace(field), strings.TrimSpace(value), ok
}

func (m *MemoryProvider) ValidateConnection(ctx context.Context, conn *models.Connection) bool {
	return m.CheckConnection(ctx, conn) == nil
}

func (m *MemoryProvider) CheckConnection(_ context.Context, conn *models.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpValidateConnection, "", "", nil); err != nil {
		return err
	}
	if m.rejected[conn.ID] {
		return &Error{Op: OpValidateConnection, Err: ErrAuthentication}
	}
	return nil
}

func (m *MemoryProvider) ListEntities(_ context.Context, _ *models.Connection) ([]models.EntitySchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpListEntities, "", "", nil); err != nil {
		return nil, err
	}
	out := make([]models.EntitySchema, 0, len(m.schemas))
	for name := range m.schemas {
		out = append(out, models.EntitySchema{Name: name, DisplayName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryProvider) ListFields(_ context.Context, _ *models.Connection, entity string) ([]models.FieldSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpListFields, entity, "", nil); err != nil {
		return nil, err
	}
	fields, ok := m.schemas[entity]
	if !ok {
		return nil, &Error{Op: OpListFields, Err: fmt.Errorf("%w: entity %q", ErrNotFound, entity)}
	}
	return append([]models.FieldSchema(nil), fields...), nil
}

// ReadChanged snapshots the matching records at call time, ordered by
// modification time then id.
func (m *MemoryProvider) ReadChanged(_ context.Context, conn *models.Connection, entity string, since *time.Time, filter string) RecordIterator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpReadChanged, entity, "", nil); err != nil {
		return errIterator{err: err}
	}
	records := m.sorted(conn.ID, entity, since, filter, func(a, b *models.ExternalRecord) bool {
		if !a.ModifiedAt.Equal(b.ModifiedAt) {
			return a.ModifiedAt.Before(b.ModifiedAt)
		}
		return a.ID < b.ID
	})
	return &sliceIterator{records: records}
}

func (m *MemoryProvider) Read(_ context.Context, conn *models.Connection, entity, id string) (*models.ExternalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpRead, entity, id, nil); err != nil {
		return nil, err
	}
	rec, ok := m.bucket(conn.ID, entity)[id]
	if !ok {
		return nil, &Error{Op: OpRead, Err: fmt.Errorf("%w: %s/%s", ErrNotFound, entity, id)}
	}
	return copyRecord(rec), nil
}

// Upsert merges fields into an existing record, or creates one with a
// sequential id when externalID is empty.
func (m *MemoryProvider) Upsert(_ context.Context, conn *models.Connection, entity, externalID string, fields map[string]any) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpUpsert, entity, externalID, fields); err != nil {
		return "", false, err
	}

	records := m.bucket(conn.ID, entity)
	if externalID == "" {
		m.seq++
		id := fmt.Sprintf("%s-%d", entity, m.seq)
		records[id] = &models.ExternalRecord{ID: id, Entity: entity, Fields: copyFields(fields), ModifiedAt: m.now()}
		return id, true, nil
	}

	rec, ok := records[externalID]
	if !ok {
		return "", false, &Error{Op: OpUpsert, Err: fmt.Errorf("%w: %s/%s", ErrNotFound, entity, externalID)}
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	rec.ModifiedAt = m.now()
	return externalID, false, nil
}

// ParseWebhookPayload decodes the JSON form of models.WebhookEvent.
func (m *MemoryProvider) ParseWebhookPayload(body []byte, _ http.Header) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := checkMemoryEvent(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ParseWebhookBatch accepts a single event object or a JSON array of them.
func (m *MemoryProvider) ParseWebhookBatch(body []byte, headers http.Header) ([]*models.WebhookEvent, error) {
	if !strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		ev, err := m.ParseWebhookPayload(body, headers)
		if err != nil {
			return nil, err
		}
		return []*models.WebhookEvent{ev}, nil
	}

	var events []*models.WebhookEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty event batch", ErrInvalidPayload)
	}
	for _, ev := range events {
		if ev == nil {
			return nil, fmt.Errorf("%w: null event", ErrInvalidPayload)
		}
		if err := checkMemoryEvent(ev); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func checkMemoryEvent(ev *models.WebhookEvent) error {
	if ev.Entity == "" || ev.RecordID == "" {
		return fmt.Errorf("%w: entity and record_id are required", ErrInvalidPayload)
	}
	switch ev.EventType {
	case models.WebhookCreated, models.WebhookUpdated, models.WebhookDeleted:
		return nil
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, ev.EventType)
	}
}

func (m *MemoryProvider) ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool {
	return VerifyHMAC(body, headers, secret)
}

func copyRecord(rec *models.ExternalRecord) *models.ExternalRecord {
	cp := *rec
	cp.Fields = copyFields(rec.Fields)
	return &cp
}

func copyFields(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
