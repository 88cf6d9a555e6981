// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/crmsync/internal/database"
	"github.com/tomtom215/crmsync/internal/dedupe"
	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/models"
	crmsync "github.com/tomtom215/crmsync/internal/sync"
	ws "github.com/tomtom215/crmsync/internal/websocket"
)

const (
	defaultMaxWebhookBytes = 1 << 20
	defaultLogLimit        = 100
	maxLogLimit            = 1000
)

// Syncer is the part of the sync orchestrator the API drives.
type Syncer interface {
	HandleWebhook(ctx context.Context, connectionID string, body []byte, headers http.Header) (*crmsync.Result, error)
	FullSync(ctx context.Context, connectionID string) (*crmsync.Result, error)
	IncrementalSync(ctx context.Context, connectionID string) (*crmsync.Result, error)
	SyncEntityMapping(ctx context.Context, connectionID, mappingID string) (*crmsync.Result, error)
	SyncRelationships(ctx context.Context, connectionID, mappingID string) (*crmsync.Result, error)
	SyncInboundRecord(ctx context.Context, connectionID, externalEntity, externalID string) (*crmsync.Result, error)
	SyncOutboundRecord(ctx context.Context, connectionID string, internalType models.EntityType, internalID string) (*crmsync.Result, error)
	Cancel(syncID string) bool
	ActiveRuns() []crmsync.RunStatus
}

var _ Syncer = (*crmsync.Orchestrator)(nil)

// DuplicateDetector scans one entity mapping for duplicates.
type DuplicateDetector interface {
	Detect(ctx context.Context, connectionID, mappingID string) (*dedupe.Report, error)
}

// SyncLogReader lists sync log entries.
type SyncLogReader interface {
	List(ctx context.Context, filter models.SyncLogFilter) ([]*models.SyncLogEntry, error)
}

// HealthChecker reports database health.
type HealthChecker interface {
	Ping(ctx context.Context) error
	GetRecordCounts(ctx context.Context) (*database.RecordCounts, error)
}

var (
	_ SyncLogReader = (*database.DB)(nil)
	_ HealthChecker = (*database.DB)(nil)
)

// Config holds HTTP-facing settings.
type Config struct {
	// CORSOrigins lists allowed browser origins. "*" allows any.
	CORSOrigins []string

	// RateLimit is the per-IP request budget per minute. 0 disables it.
	RateLimit int

	// MaxWebhookBytes caps webhook bodies. 0 takes the 1 MiB default.
	MaxWebhookBytes int64
}

// Deps are the collaborators handlers call.
type Deps struct {
	Syncer   Syncer
	Detector DuplicateDetector
	SyncLog  SyncLogReader
	Health   HealthChecker
	Hub      *ws.Hub
	Progress ws.ProgressSource
}

// Handler serves the HTTP API.
type Handler struct {
	deps      Deps
	cfg       Config
	startTime time.Time

	// runs is the parent of runs started from a request. It outlives the
	// request so a disconnecting caller does not cancel the sync.
	runs context.Context
}

// NewHandler creates a Handler. ctx bounds runs triggered over HTTP.
func NewHandler(ctx context.Context, deps Deps, cfg Config) *Handler {
	if cfg.MaxWebhookBytes <= 0 {
		cfg.MaxWebhookBytes = defaultMaxWebhookBytes
	}
	return &Handler{
		deps:      deps,
		cfg:       cfg,
		startTime: time.Now(),
		runs:      ctx,
	}
}

func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin admits browser origins on the CORS list. Requests
// without an Origin header are rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}
	for _, allowed := range h.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
