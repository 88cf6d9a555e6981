// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/crmsync/internal/middleware"
)

// Router builds the HTTP routes.
type Router struct {
	handler *Handler
}

// NewRouter creates a Router.
func NewRouter(handler *Handler) *Router {
	return &Router{handler: handler}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	h := router.handler
	r := chi.NewRouter()

	// Global middleware, outermost first.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         86400,
	}))

	// Health and metrics are scraped often and stay outside the rate limit.
	r.Get("/health", h.Health)
	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if h.cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(h.cfg.RateLimit, time.Minute))
		}

		r.Post("/webhooks/{connectionID}", h.Webhook)
		r.Get("/ws/progress", h.ProgressStream)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/syncs", h.ActiveRuns)
			r.Delete("/syncs/{syncID}", h.CancelSync)

			r.Route("/connections/{connectionID}", func(r chi.Router) {
				r.Post("/sync", h.TriggerSync)
				r.Get("/log", h.SyncLog)
				r.Post("/records/inbound/{entity}/{externalID}", h.SyncInboundRecord)
				r.Post("/records/outbound/{type}/{id}", h.SyncOutboundRecord)

				r.Route("/mappings/{mappingID}", func(r chi.Router) {
					r.Post("/sync", h.TriggerMappingSync(false))
					r.Post("/relationships/sync", h.TriggerMappingSync(true))
					r.Get("/duplicates", h.Duplicates)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed", nil)
	})

	return r
}
