// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package api

import (
	"net/http"

	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/progress"
	ws "github.com/tomtom215/crmsync/internal/websocket"
)

// ProgressStream upgrades to a websocket that streams progress events of
// one scope.
//
//	GET /ws/progress?scope=sync|mapping|connection&id=...
//
// The scope is validated before the upgrade so a bad request gets a JSON
// 400 instead of a dropped socket.
func (h *Handler) ProgressStream(w http.ResponseWriter, r *http.Request) {
	if h.deps.Hub == nil || h.deps.Progress == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "WebSocket service unavailable", nil)
		return
	}

	scope := progress.Scope(r.URL.Query().Get("scope"))
	id := r.URL.Query().Get("id")
	if !scope.Valid() || id == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "scope must be sync, mapping or connection and id is required", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.deps.Hub, conn, scope, id)
	h.deps.Hub.Add(client)
	if err := h.deps.Hub.Follow(client, h.deps.Progress); err != nil {
		logging.Warn().Err(err).Str("scope", string(scope)).Msg("Failed to subscribe websocket client")
		h.deps.Hub.Unregister <- client
		_ = conn.Close()
		return
	}
	client.Start()
}
