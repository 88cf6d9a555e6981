// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/provider"
	crmsync "github.com/tomtom215/crmsync/internal/sync"
)

// Webhook receives a provider callback for one connection and applies it.
//
// Responses:
//   - 202 with the run result once the event was applied. Record-level
//     failures are still 202; they are in the result and the sync log.
//   - 400 for an unparsable payload or an event the connection cannot apply
//   - 401 for a bad signature
//   - 404 for an unknown connection
//   - 413 for a body over the size limit
//   - 503 with Retry-After when another run holds the connection, so the
//     provider redelivers
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "Webhook body too large", err)
			return
		}
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read webhook body", err)
		return
	}

	res, err := h.deps.Syncer.HandleWebhook(r.Context(), connectionID, body, r.Header)
	switch {
	case err == nil:
	case errors.Is(err, mapping.ErrConnectionNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Unknown connection", err)
		return
	case errors.Is(err, crmsync.ErrInvalidSignature):
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid webhook signature", nil)
		return
	case errors.Is(err, provider.ErrInvalidPayload), errors.Is(err, crmsync.ErrInvalidArgument):
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid webhook payload", err)
		return
	default:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Failed to process webhook", err)
		return
	}

	if res.ConnectionError != nil && res.ConnectionError.Kind == crmsync.KindBusy {
		w.Header().Set("Retry-After", "5")
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeBusy, "Connection is busy, retry later", nil)
		return
	}
	respondJSON(w, r, http.StatusAccepted, res)
}
