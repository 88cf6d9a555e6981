// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/tomtom215/crmsync/internal/dedupe"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/provider"
)

func TestDuplicates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	env.detector.report = &dedupe.Report{
		IdentityField: "email",
		Duplicates: []dedupe.DuplicateGroup{
			{Side: dedupe.SideExternal, Key: "a@example.com", IDs: []string{"1", "2"}},
		},
		UnlinkedMatches: []dedupe.UnlinkedMatch{
			{Key: "b@example.com", InternalID: "c-1", ExternalID: "3"},
		},
	}

	rec := env.do(http.MethodGet, "/api/v1/connections/conn-1/mappings/em-1/duplicates", nil)
	var report dedupe.Report
	decodeData(t, rec, &report)

	if report.ConnectionID != "conn-1" || report.EntityMappingID != "em-1" {
		t.Errorf("expected conn-1/em-1, got %s/%s", report.ConnectionID, report.EntityMappingID)
	}
	if len(report.Duplicates) != 1 || len(report.Duplicates[0].IDs) != 2 {
		t.Errorf("expected one group of two, got %+v", report.Duplicates)
	}
	if len(report.UnlinkedMatches) != 1 || report.UnlinkedMatches[0].ExternalID != "3" {
		t.Errorf("expected one unlinked match, got %+v", report.UnlinkedMatches)
	}
}

func TestDuplicates_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown connection", fmt.Errorf("load: %w", mapping.ErrConnectionNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"unknown mapping", fmt.Errorf("%w: em-9", mapping.ErrMappingNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"identity not mapped", dedupe.ErrNoIdentityMapping, http.StatusBadRequest, ErrCodeValidationFailed},
		{"crm rejected credentials", fmt.Errorf("list: %w", provider.ErrAuthentication), http.StatusBadGateway, ErrCodeExternalServiceFail},
		{"crm unreachable", fmt.Errorf("list: %w", provider.ErrUnreachable), http.StatusBadGateway, ErrCodeExternalServiceFail},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, Config{})
			env.detector.err = tt.err

			rec := env.do(http.MethodGet, "/api/v1/connections/conn-1/mappings/em-1/duplicates", nil)
			expectError(t, rec, tt.status, tt.code)
		})
	}
}
