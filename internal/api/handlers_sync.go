// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/models"
	crmsync "github.com/tomtom215/crmsync/internal/sync"
)

// SyncStarted acknowledges a batch run started in the background. Progress
// is followed on /ws/progress?scope=connection&id=<connection_id>.
type SyncStarted struct {
	ConnectionID    string          `json:"connection_id"`
	EntityMappingID string          `json:"entity_mapping_id,omitempty"`
	Mode            models.SyncMode `json:"mode"`
}

// TriggerSync starts a full or incremental run of a connection.
//
//	POST /api/v1/connections/{connectionID}/sync?mode=full|incremental
//
// The mode defaults to incremental.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")

	mode := models.SyncMode(r.URL.Query().Get("mode"))
	var run func(ctx context.Context) (*crmsync.Result, error)
	switch mode {
	case "", models.ModeIncremental:
		mode = models.ModeIncremental
		run = func(ctx context.Context) (*crmsync.Result, error) {
			return h.deps.Syncer.IncrementalSync(ctx, connectionID)
		}
	case models.ModeFull:
		run = func(ctx context.Context) (*crmsync.Result, error) {
			return h.deps.Syncer.FullSync(ctx, connectionID)
		}
	default:
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "mode must be full or incremental", nil)
		return
	}

	h.startRun(r, connectionID, mode, run)
	respondJSON(w, r, http.StatusAccepted, SyncStarted{ConnectionID: connectionID, Mode: mode})
}

// TriggerMappingSync starts a run of one entity mapping, or of its
// relationships only.
//
//	POST /api/v1/connections/{connectionID}/mappings/{mappingID}/sync
//	POST /api/v1/connections/{connectionID}/mappings/{mappingID}/relationships/sync
func (h *Handler) TriggerMappingSync(relationships bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connectionID := chi.URLParam(r, "connectionID")
		mappingID := chi.URLParam(r, "mappingID")

		mode := models.ModeEntityMapping
		run := func(ctx context.Context) (*crmsync.Result, error) {
			return h.deps.Syncer.SyncEntityMapping(ctx, connectionID, mappingID)
		}
		if relationships {
			mode = models.ModeRelationship
			run = func(ctx context.Context) (*crmsync.Result, error) {
				return h.deps.Syncer.SyncRelationships(ctx, connectionID, mappingID)
			}
		}

		h.startRun(r, connectionID, mode, run)
		respondJSON(w, r, http.StatusAccepted, SyncStarted{
			ConnectionID:    connectionID,
			EntityMappingID: mappingID,
			Mode:            mode,
		})
	}
}

// startRun runs fn detached from the request. The outcome is logged; the
// run's own progress events and sync log entries carry the detail.
func (h *Handler) startRun(r *http.Request, connectionID string, mode models.SyncMode,
	fn func(ctx context.Context) (*crmsync.Result, error)) {
	ctx := logging.ContextWithCorrelationID(h.runs, logging.CorrelationIDFromContext(r.Context()))
	go func() {
		res, err := fn(ctx)
		log := logging.Ctx(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("connection_id", connectionID).Str("mode", string(mode)).Msg("Sync request rejected")
		case !res.Success:
			log.Warn().Str("sync_id", res.SyncID).Str("state", string(res.State)).Msg("Requested sync did not complete")
		default:
			log.Info().Str("sync_id", res.SyncID).Int("processed", res.TotalProcessed).Msg("Requested sync completed")
		}
	}()
}

// SyncInboundRecord pulls one external record.
//
//	POST /api/v1/connections/{connectionID}/records/inbound/{entity}/{externalID}
func (h *Handler) SyncInboundRecord(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Syncer.SyncInboundRecord(r.Context(),
		chi.URLParam(r, "connectionID"), chi.URLParam(r, "entity"), chi.URLParam(r, "externalID"))
	h.respondResult(w, r, res, err)
}

// SyncOutboundRecord pushes one internal record.
//
//	POST /api/v1/connections/{connectionID}/records/outbound/{type}/{id}
func (h *Handler) SyncOutboundRecord(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Syncer.SyncOutboundRecord(r.Context(),
		chi.URLParam(r, "connectionID"), models.EntityType(chi.URLParam(r, "type")), chi.URLParam(r, "id"))
	h.respondResult(w, r, res, err)
}

func (h *Handler) respondResult(w http.ResponseWriter, r *http.Request, res *crmsync.Result, err error) {
	switch {
	case err == nil:
	case errors.Is(err, crmsync.ErrInvalidArgument):
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid sync request", err)
		return
	default:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Sync failed", err)
		return
	}

	if ce := res.ConnectionError; ce != nil {
		switch {
		case ce.Kind == crmsync.KindBusy:
			w.Header().Set("Retry-After", "5")
			respondError(w, r, http.StatusServiceUnavailable, ErrCodeBusy, "Connection is busy, retry later", nil)
			return
		case errors.Is(ce, mapping.ErrConnectionNotFound):
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Unknown connection", nil)
			return
		}
	}
	respondJSON(w, r, http.StatusOK, res)
}

// ActiveRuns lists in-flight runs.
//
//	GET /api/v1/syncs
func (h *Handler) ActiveRuns(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, h.deps.Syncer.ActiveRuns())
}

// CancelSync cancels an in-flight run. Records already being processed
// finish first.
//
//	DELETE /api/v1/syncs/{syncID}
func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	syncID := chi.URLParam(r, "syncID")
	if !h.deps.Syncer.Cancel(syncID) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "No active sync with that id", nil)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"sync_id": syncID, "status": "cancelling"})
}

// SyncLog lists a connection's sync log, oldest first.
//
//	GET /api/v1/connections/{connectionID}/log?sync_id=&status=&limit=
func (h *Handler) SyncLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.SyncLogFilter{
		ConnectionID: chi.URLParam(r, "connectionID"),
		SyncID:       q.Get("sync_id"),
		Status:       models.SyncStatus(q.Get("status")),
		Limit:        defaultLogLimit,
	}

	switch filter.Status {
	case "", models.StatusSuccess, models.StatusFailed, models.StatusConflict, models.StatusSkipped:
	default:
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "status must be success, failed, conflict or skipped", nil)
		return
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLogLimit {
			respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed,
				"limit must be between 1 and "+strconv.Itoa(maxLogLimit), nil)
			return
		}
		filter.Limit = limit
	}

	entries, err := h.deps.SyncLog.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Failed to list sync log", err)
		return
	}
	if entries == nil {
		entries = []*models.SyncLogEntry{}
	}
	respondJSON(w, r, http.StatusOK, entries)
}
