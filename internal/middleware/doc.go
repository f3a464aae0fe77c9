// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

/*
Package middleware provides the HTTP middleware shared by the DLGuard API.

  - RequestID: accepts or generates X-Request-ID and stores it, together with a
    fresh correlation ID, in the request context for logging.Ctx.
  - PrometheusMetrics: counts requests and observes latency per chi route
    pattern in dlguard_api_requests_total and
    dlguard_api_request_duration_seconds.
  - Timeout: bounds the request context so datastore calls give up with the
    client.

All middleware has the chi signature func(http.Handler) http.Handler:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.Timeout(10 * time.Second))
*/
package middleware
