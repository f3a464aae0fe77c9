// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/dlguard/internal/audit"
	"github.com/tomtom215/dlguard/internal/bans"
	"github.com/tomtom215/dlguard/internal/detection"
	"github.com/tomtom215/dlguard/internal/models"
	"github.com/tomtom215/dlguard/internal/settings"
)

// ListBans handles GET /admin/bans.
func (h *Handler) ListBans(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if b := getBoolParam(r, "active"); b != nil {
		activeOnly = *b
	}
	list, err := h.svc.ListBans(r.Context(), activeOnly, getIntParam(r, "limit", 0), getIntParam(r, "offset", 0))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondList(w, r, list)
}

// BanIP handles POST /admin/bans.
func (h *Handler) BanIP(w http.ResponseWriter, r *http.Request) {
	var req BanRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	severity, _ := models.ParseSeverity(req.Severity)

	err := h.svc.BanIP(r.Context(), bans.BanRequest{
		IP:            req.IPAddress,
		Reason:        req.Reason,
		Severity:      severity,
		DurationHours: req.DurationHours,
		Actor:         actorFromRequest(r),
		Notes:         req.Notes,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, map[string]string{"ip_address": req.IPAddress, "status": "banned"})
}

// UnbanIP handles DELETE /admin/bans/{ip}.
func (h *Handler) UnbanIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if err := h.svc.UnbanIP(r.Context(), ip, actorFromRequest(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"ip_address": ip, "status": "unbanned"})
}

// BanHistory handles GET /admin/bans/{ip}/history.
func (h *Handler) BanHistory(w http.ResponseWriter, r *http.Request) {
	ip, err := bans.NormalizeIP(chi.URLParam(r, "ip"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	events, err := h.svc.BanHistory(r.Context(), ip, getIntParam(r, "limit", 0))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondList(w, r, events)
}

// ListWhitelist handles GET /admin/whitelist.
func (h *Handler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListWhitelist(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondList(w, r, list)
}

// AddToWhitelist handles POST /admin/whitelist.
func (h *Handler) AddToWhitelist(w http.ResponseWriter, r *http.Request) {
	var req WhitelistRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.AddToWhitelist(r.Context(), req.IPAddress, req.Description, actorFromRequest(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, map[string]string{"ip_address": req.IPAddress, "status": "whitelisted"})
}

// RemoveFromWhitelist handles DELETE /admin/whitelist/{ip}.
func (h *Handler) RemoveFromWhitelist(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if err := h.svc.RemoveFromWhitelist(r.Context(), ip, actorFromRequest(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"ip_address": ip, "status": "removed"})
}

// configResponse pairs the effective settings with their provenance.
type configResponse struct {
	Settings settings.Settings `json:"settings"`
	Status   settings.Status   `json:"status"`
}

// GetConfig handles GET /admin/config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, st := h.svc.EffectiveConfig(r.Context())
	respondJSON(w, r, http.StatusOK, configResponse{Settings: cfg, Status: st})
}

// PutConfig handles PUT /admin/config. The body is overlaid on the current
// effective settings, so omitted fields keep their values.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	cfg, _ := h.svc.EffectiveConfig(r.Context())
	if err := decodeJSON(w, r, &cfg); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	if err := h.svc.PersistConfig(r.Context(), cfg, actorFromRequest(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}
	cfg, st := h.svc.EffectiveConfig(r.Context())
	respondJSON(w, r, http.StatusOK, configResponse{Settings: cfg, Status: st})
}

// ResetConfig handles DELETE /admin/config.
func (h *Handler) ResetConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetConfig(r.Context(), actorFromRequest(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}
	cfg, st := h.svc.EffectiveConfig(r.Context())
	respondJSON(w, r, http.StatusOK, configResponse{Settings: cfg, Status: st})
}

// ListAnomalies handles GET /admin/anomalies.
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := detection.AnomalyFilter{
		AnomalyType: models.AnomalyType(q.Get("type")),
		IPAddress:   q.Get("ip"),
		Resolved:    getBoolParam(r, "resolved"),
		Limit:       getIntParam(r, "limit", 0),
		Offset:      getIntParam(r, "offset", 0),
	}
	for _, s := range parseCommaSeparated(q.Get("severity")) {
		sev, ok := models.ParseSeverity(s)
		if !ok {
			respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "severity must be one of: low medium high critical", nil)
			return
		}
		filter.Severities = append(filter.Severities, sev)
	}

	var err error
	if filter.UserID, err = getInt64Param(r, "user_id"); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error(), nil)
		return
	}
	if filter.PackageID, err = getInt64Param(r, "package_id"); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error(), nil)
		return
	}
	if filter.Since, err = getSinceParam(r); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error(), nil)
		return
	}

	list, err := h.svc.ListAnomalies(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondList(w, r, list)
}

// ResolveAnomaly handles POST /admin/anomalies/{id}/resolve.
func (h *Handler) ResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "anomaly id must be a positive integer", nil)
		return
	}
	a, err := h.svc.ResolveAnomaly(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, a)
}

// AnomalyStats handles GET /admin/stats/anomalies.
func (h *Handler) AnomalyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.AnomalyStats(r.Context(), statsDays(getIntParam(r, "days", defaultStatsDays)))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, stats)
}

// BanStats handles GET /admin/stats/bans.
func (h *Handler) BanStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.BanStats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, stats)
}

// CombinedStats handles GET /admin/stats.
func (h *Handler) CombinedStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CombinedStats(r.Context(), statsDays(getIntParam(r, "days", defaultStatsDays)))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, stats)
}

// SecurityActions handles GET /admin/actions.
func (h *Handler) SecurityActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		TargetType: audit.TargetType(q.Get("target_type")),
		TargetID:   q.Get("target_id"),
		CreatedBy:  q.Get("created_by"),
		Limit:      getIntParam(r, "limit", 0),
		Offset:     getIntParam(r, "offset", 0),
	}
	for _, a := range parseCommaSeparated(q.Get("action_type")) {
		filter.ActionTypes = append(filter.ActionTypes, audit.ActionType(a))
	}
	var err error
	if filter.Since, err = getSinceParam(r); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error(), nil)
		return
	}

	actions, err := h.svc.SecurityActions(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondList(w, r, actions)
}
