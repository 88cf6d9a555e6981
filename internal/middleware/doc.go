// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package middleware provides HTTP middleware for the sync engine's API.

Every middleware has the chi signature func(http.Handler) http.Handler:

  - RequestID: X-Request-ID propagation into the logging correlation id
  - PrometheusMetrics: request count, latency and in-flight gauge, labelled
    by chi route pattern
  - AccessLog: one zerolog line per request

Typical stack, outermost first:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog)

RequestID must run before AccessLog so access lines carry the
correlation_id field.
*/
package middleware
