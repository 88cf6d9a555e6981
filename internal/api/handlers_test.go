// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/crmsync/internal/database"
	"github.com/tomtom215/crmsync/internal/dedupe"
	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/models"
	crmsync "github.com/tomtom215/crmsync/internal/sync"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "error",
		Format: "json",
		Output: io.Discard,
	})
}

// syncCall records one call made on fakeSyncer.
type syncCall struct {
	op           string
	connectionID string
	args         []string
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []syncCall
	done  chan syncCall

	result    *crmsync.Result
	err       error
	body      []byte
	headers   http.Header
	cancelled map[string]bool
	active    []crmsync.RunStatus
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		done:      make(chan syncCall, 8),
		result:    &crmsync.Result{SyncID: "s1", State: models.StateCompleted, Success: true},
		cancelled: map[string]bool{},
	}
}

func (f *fakeSyncer) record(op, connectionID string, args ...string) (*crmsync.Result, error) {
	call := syncCall{op: op, connectionID: connectionID, args: args}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	res, err := f.result, f.err
	f.mu.Unlock()
	f.done <- call
	return res, err
}

func (f *fakeSyncer) HandleWebhook(_ context.Context, connectionID string, body []byte, headers http.Header) (*crmsync.Result, error) {
	f.mu.Lock()
	f.body, f.headers = body, headers
	f.mu.Unlock()
	return f.record("webhook", connectionID)
}

func (f *fakeSyncer) FullSync(_ context.Context, connectionID string) (*crmsync.Result, error) {
	return f.record("full", connectionID)
}

func (f *fakeSyncer) IncrementalSync(_ context.Context, connectionID string) (*crmsync.Result, error) {
	return f.record("incremental", connectionID)
}

func (f *fakeSyncer) SyncEntityMapping(_ context.Context, connectionID, mappingID string) (*crmsync.Result, error) {
	return f.record("mapping", connectionID, mappingID)
}

func (f *fakeSyncer) SyncRelationships(_ context.Context, connectionID, mappingID string) (*crmsync.Result, error) {
	return f.record("relationships", connectionID, mappingID)
}

func (f *fakeSyncer) SyncInboundRecord(_ context.Context, connectionID, externalEntity, externalID string) (*crmsync.Result, error) {
	return f.record("inbound", connectionID, externalEntity, externalID)
}

func (f *fakeSyncer) SyncOutboundRecord(_ context.Context, connectionID string, internalType models.EntityType, internalID string) (*crmsync.Result, error) {
	return f.record("outbound", connectionID, string(internalType), internalID)
}

func (f *fakeSyncer) Cancel(syncID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[syncID]
}

func (f *fakeSyncer) ActiveRuns() []crmsync.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// waitCall returns the next call the syncer saw.
func (f *fakeSyncer) waitCall(t *testing.T) syncCall {
	t.Helper()
	select {
	case c := <-f.done:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sync call")
	}
	return syncCall{}
}

type fakeDetector struct {
	report *dedupe.Report
	err    error
}

func (f *fakeDetector) Detect(_ context.Context, connectionID, mappingID string) (*dedupe.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.report
	r.ConnectionID, r.EntityMappingID = connectionID, mappingID
	return &r, nil
}

type fakeSyncLog struct {
	entries []*models.SyncLogEntry
	filter  models.SyncLogFilter
	err     error
}

func (f *fakeSyncLog) List(_ context.Context, filter models.SyncLogFilter) ([]*models.SyncLogEntry, error) {
	f.filter = filter
	return f.entries, f.err
}

type fakeHealth struct {
	pingErr error
	counts  *database.RecordCounts
}

func (f *fakeHealth) Ping(context.Context) error { return f.pingErr }

func (f *fakeHealth) GetRecordCounts(context.Context) (*database.RecordCounts, error) {
	return f.counts, nil
}

// testEnv bundles the fakes behind a router.
type testEnv struct {
	syncer   *fakeSyncer
	detector *fakeDetector
	log      *fakeSyncLog
	health   *fakeHealth
	handler  http.Handler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		syncer:   newFakeSyncer(),
		detector: &fakeDetector{report: &dedupe.Report{}},
		log:      &fakeSyncLog{},
		health:   &fakeHealth{counts: &database.RecordCounts{Connections: 2}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := NewHandler(ctx, Deps{
		Syncer:   env.syncer,
		Detector: env.detector,
		SyncLog:  env.log,
		Health:   env.health,
	}, cfg)
	env.handler = NewRouter(h).SetupChi()
	return env
}

func (e *testEnv) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// envelope mirrors APIResponse with the payload left raw.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	env := decode(t, rec)
	if !env.Success {
		t.Fatalf("expected success, got error %+v", env.Error)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("failed to decode data %s: %v", env.Data, err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	env := decode(t, rec)
	if env.Success || env.Error == nil {
		t.Fatalf("expected an error envelope, got %s", rec.Body.String())
	}
	if env.Error.Code != code {
		t.Errorf("expected code %s, got %s", code, env.Error.Code)
	}
}
