// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/dlguard/internal/middleware"
)

// Router owns the handler and middleware factory.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a Router.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw}
}

// SetupChi builds the route tree.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Get("/health", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.Timeout(router.chiMiddleware.config.RequestTimeout))

		r.Post("/downloads/check", router.handler.CheckDownload)
		r.Post("/downloads/record", router.handler.RecordDownload)
		r.Post("/resources/{id}/views", router.handler.RecordView)

		r.Route("/admin", func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimitAdmin())

			r.Get("/bans", router.handler.ListBans)
			r.Post("/bans", router.handler.BanIP)
			r.Delete("/bans/{ip}", router.handler.UnbanIP)
			r.Get("/bans/{ip}/history", router.handler.BanHistory)

			r.Get("/whitelist", router.handler.ListWhitelist)
			r.Post("/whitelist", router.handler.AddToWhitelist)
			r.Delete("/whitelist/{ip}", router.handler.RemoveFromWhitelist)

			r.Get("/config", router.handler.GetConfig)
			r.Put("/config", router.handler.PutConfig)
			r.Delete("/config", router.handler.ResetConfig)

			r.Get("/anomalies", router.handler.ListAnomalies)
			r.Post("/anomalies/{id}/resolve", router.handler.ResolveAnomaly)

			r.Get("/stats", router.handler.CombinedStats)
			r.Get("/stats/anomalies", router.handler.AnomalyStats)
			r.Get("/stats/bans", router.handler.BanStats)

			r.Get("/actions", router.handler.SecurityActions)
		})
	})

	return r
}
