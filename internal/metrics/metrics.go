// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync run metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_runs_total",
			Help: "Total number of sync runs by mode and terminal state",
		},
		[]string{"mode", "state"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crmsync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"mode"},
	)

	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_records_total",
			Help: "Record-level sync attempts by direction, action and status",
		},
		[]string{"direction", "action", "status"},
	)

	SyncActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crmsync_active_runs",
			Help: "Number of sync runs currently in progress",
		},
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crmsync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run per connection",
		},
		[]string{"connection"},
	)

	TransformWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_transform_warnings_total",
			Help: "Values passed through untransformed because a transformation failed",
		},
		[]string{"kind"},
	)

	// Provider metrics
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_provider_calls_total",
			Help: "Provider calls by provider, operation and result",
		},
		[]string{"provider", "operation", "result"},
	)

	ProviderRateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crmsync_provider_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the per-connection provider rate limiter",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"provider"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crmsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Duplicate detection metrics
	DuplicateFindings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crmsync_duplicate_findings",
			Help: "Findings of the last duplicate scan per entity mapping and kind",
		},
		[]string{"entity_mapping", "kind"},
	)

	// Ledger and lock metrics
	LedgerLinks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_ledger_links_total",
			Help: "Correspondence ledger link attempts by result",
		},
		[]string{"result"},
	)

	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_connection_lock_busy_total",
			Help: "Sync runs rejected because the connection lock was held",
		},
		[]string{"backend"},
	)

	// Progress metrics
	ProgressEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmsync_progress_events_published_total",
			Help: "Progress events published to the broadcaster",
		},
	)

	ProgressEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_progress_events_dropped_total",
			Help: "Progress events dropped because a subscriber was slow",
		},
		[]string{"sink"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crmsync_websocket_connections",
			Help: "Connected progress websocket clients",
		},
	)

	// HTTP metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crmsync_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crmsync_http_active_requests",
			Help: "HTTP requests currently being served",
		},
	)

	// Webhook metrics
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_webhooks_total",
			Help: "Webhooks received by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
)

// RecordSyncRun records the terminal state and duration of a run.
func RecordSyncRun(mode, state string, duration time.Duration) {
	SyncRuns.WithLabelValues(mode, state).Inc()
	SyncRunDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordSyncRecord records one record-level sync attempt.
func RecordSyncRecord(direction, action, status string) {
	SyncRecords.WithLabelValues(direction, action, status).Inc()
}

// RecordProviderCall records a provider call outcome.
func RecordProviderCall(provider, operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ProviderCalls.WithLabelValues(provider, operation, result).Inc()
}

// RecordLedgerLink records a ledger Link outcome.
func RecordLedgerLink(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	LedgerLinks.WithLabelValues(result).Inc()
}

// RecordAPIRequest records one served HTTP request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest moves the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}
