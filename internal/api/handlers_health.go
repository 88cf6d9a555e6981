// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/crmsync/internal/database"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status            string                 `json:"status"`
	DatabaseConnected bool                   `json:"database_connected"`
	Records           *database.RecordCounts `json:"records,omitempty"`
	ActiveRuns        int                    `json:"active_runs"`
	WebSocketClients  int                    `json:"websocket_clients"`
	Uptime            float64                `json:"uptime_seconds"`
}

// Health reports database connectivity, table sizes and run activity. It
// answers 200 even when degraded; readiness checks use HealthReady.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status: "healthy",
		Uptime: time.Since(h.startTime).Seconds(),
	}

	if h.deps.Health != nil && h.deps.Health.Ping(r.Context()) == nil {
		status.DatabaseConnected = true
		if counts, err := h.deps.Health.GetRecordCounts(r.Context()); err == nil {
			status.Records = counts
		}
	}
	if !status.DatabaseConnected {
		status.Status = "degraded"
	}
	if h.deps.Syncer != nil {
		status.ActiveRuns = len(h.deps.Syncer.ActiveRuns())
	}
	if h.deps.Hub != nil {
		status.WebSocketClients = h.deps.Hub.GetClientCount()
	}

	respondJSON(w, r, http.StatusOK, status)
}

// HealthLive answers 200 while the process serves HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady answers 503 until the database responds.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Database not configured", nil)
		return
	}
	if err := h.deps.Health.Ping(r.Context()); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Database unavailable", err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}
