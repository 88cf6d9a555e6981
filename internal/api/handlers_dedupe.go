// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/crmsync/internal/dedupe"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/provider"
)

// Duplicates scans an entity mapping for duplicate records on either side
// and for unlinked pairs that share an identity key. The scan reads every
// record of the mapping, so it is an operator action, not a polling target.
//
//	GET /api/v1/connections/{connectionID}/mappings/{mappingID}/duplicates
func (h *Handler) Duplicates(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Detector.Detect(r.Context(),
		chi.URLParam(r, "connectionID"), chi.URLParam(r, "mappingID"))
	switch {
	case err == nil:
		respondJSON(w, r, http.StatusOK, report)
	case errors.Is(err, mapping.ErrConnectionNotFound), errors.Is(err, mapping.ErrMappingNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Unknown connection or entity mapping", err)
	case errors.Is(err, dedupe.ErrNoIdentityMapping):
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "Entity mapping does not map its identity field", err)
	case errors.Is(err, provider.ErrAuthentication), errors.Is(err, provider.ErrUnreachable):
		respondError(w, r, http.StatusBadGateway, ErrCodeExternalServiceFail, "CRM unavailable", err)
	default:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Duplicate scan failed", err)
	}
}
