// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/dlguard/internal/guard"
)

// healthResponse adds process uptime to the service health.
type healthResponse struct {
	guard.Health
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Health reports datastore reachability and the settings source. A degraded
// service still answers 200 so load balancers keep routing to it; only an
// unreachable datastore yields 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.svc.Health(r.Context())
	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, r, status, healthResponse{
		Health:        health,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}
