// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/metrics"
)

func TestPrometheusMetrics_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Post("/webhooks/{connectionID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	c := metrics.APIRequests.WithLabelValues("POST", "/webhooks/{connectionID}", "202")
	before := testutil.ToFloat64(c)

	for _, id := range []string{"conn-a", "conn-b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/"+id, nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(c) - before; got != 2 {
		t.Errorf("expected two requests on one series, got %v", got)
	}
}

func TestPrometheusMetrics_ImplicitOK(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	c := metrics.APIRequests.WithLabelValues("GET", "/ok", "200")
	before := testutil.ToFloat64(c)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))

	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("expected 200 series +1, got %v", got)
	}
}

func TestPrometheusMetrics_UnmatchedRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/known", func(http.ResponseWriter, *http.Request) {})

	c := metrics.APIRequests.WithLabelValues("GET", unmatchedRoute, "404")
	before := testutil.ToFloat64(c)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/no-such-route/123", nil))

	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("expected unmatched series +1, got %v", got)
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf))
	t.Cleanup(func() { logging.SetLogger(prev) })

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{`"route":"/health"`, `"status":200`, `"correlation_id":"req-7"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected access log to contain %s, got %s", want, out)
		}
	}
}
