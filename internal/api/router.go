// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig controls the middleware stack.
type RouterConfig struct {
	// RateLimitRequests per RateLimitWindow per client IP; 0 disables limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc Service, cfg RouterConfig) http.Handler {
	h := NewHandler(svc)
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit(cfg))
		r.Use(RequestLogging)
		r.Use(PrometheusMetrics)

		r.Get("/health", h.Health)

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", h.ListBackups)
			r.Post("/", h.CreateBackup)
			r.Get("/stats", h.BackupStats)
			r.Get("/{id}", h.GetBackup)
			r.Delete("/{id}", h.DeleteBackup)
			r.Post("/{id}/verify", h.VerifyBackup)
			r.Post("/{id}/restore", h.RestoreBackup)
		})

		r.Route("/restores", func(r chi.Router) {
			r.Get("/", h.ListRestores)
			r.Get("/{id}", h.GetRestore)
			r.Post("/{id}/abandon", h.AbandonRestore)
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", h.ListSnapshots)
			r.Post("/", h.CreateSnapshot)
			r.Get("/{id}", h.GetSnapshot)
			r.Post("/{id}/rollback", h.RollbackSnapshot)
		})

		r.Route("/recovery", func(r chi.Router) {
			r.Get("/plans", h.ListPlans)
			r.Post("/plans", h.CreatePlan)
			r.Get("/plans/{id}", h.GetPlan)
			r.Post("/plans/{id}/execute", h.ExecutePlan)
			r.Get("/status", h.RecoveryStatus)
		})

		r.Get("/schedule/jobs", h.ScheduledJobs)
		r.Post("/schedule/prune", h.Prune)
	})

	return r
}

func rateLimit(cfg RouterConfig) func(http.Handler) http.Handler {
	if cfg.RateLimitRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(
		cfg.RateLimitRequests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
		}),
	)
}
