// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// ChiMiddlewareConfig holds configuration for the chi middleware factories.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins []string
	CORSMaxAge         int // seconds

	// AdminRateLimit is requests per AdminRateWindow per client IP; zero
	// disables admin rate limiting.
	AdminRateLimit  int
	AdminRateWindow time.Duration

	RequestTimeout time.Duration
}

// DefaultChiMiddlewareConfig returns a closed-CORS default.
func DefaultChiMiddlewareConfig() *ChiMiddlewareConfig {
	return &ChiMiddlewareConfig{
		CORSAllowedOrigins: []string{},
		CORSMaxAge:         86400,
		AdminRateLimit:     120,
		AdminRateWindow:    time.Minute,
		RequestTimeout:     10 * time.Second,
	}
}

// ChiMiddleware builds chi-compatible middleware from a config.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewChiMiddleware creates the middleware factory.
func NewChiMiddleware(config *ChiMiddlewareConfig) *ChiMiddleware {
	if config == nil {
		config = DefaultChiMiddlewareConfig()
	}
	return &ChiMiddleware{
		config: config,
		cors: cors.Handler(cors.Options{
			AllowedOrigins: config.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID", AdminUserHeader},
			ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
			MaxAge:         config.CORSMaxAge,
		}),
	}
}

// CORS returns the go-chi/cors handler.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimitAdmin limits admin routes per client IP with go-chi/httprate.
// chi's RealIP runs first, so RemoteAddr is already the client address.
func (m *ChiMiddleware) RateLimitAdmin() func(http.Handler) http.Handler {
	if m.config.AdminRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	window := m.config.AdminRateWindow
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(
		m.config.AdminRateLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, r, http.StatusTooManyRequests, ErrCodeTooManyRequests, "admin rate limit exceeded", nil)
		}),
	)
}
