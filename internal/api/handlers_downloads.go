// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/dlguard/internal/guard"
)

// CheckDownload decides a download attempt. The decision, allowed or not,
// is always a 200; callers read is_allowed.
func (h *Handler) CheckDownload(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = clientIP(r)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	result := h.svc.CheckDownloadAllowed(r.Context(), guard.CheckRequest{
		UserID:    req.UserID,
		PackageID: req.PackageID,
		IP:        req.IPAddress,
		UserAgent: req.UserAgent,
	})
	respondJSON(w, r, http.StatusOK, result)
}

// RecordDownload appends a completed download to the ledger.
func (h *Handler) RecordDownload(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = clientIP(r)
	}
	if req.UserAgent == nil {
		if ua := r.UserAgent(); ua != "" {
			req.UserAgent = &ua
		}
	}

	err := h.svc.RecordDownload(r.Context(), guard.RecordRequest{
		UserID:        req.UserID,
		PackageID:     req.PackageID,
		IP:            req.IPAddress,
		UserAgent:     req.UserAgent,
		ReservationID: req.ReservationID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, map[string]bool{"recorded": true})
}

// RecordView counts a view of the resource in the URL.
func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "resource id must be a positive integer", nil)
		return
	}
	if err := h.svc.RecordView(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, map[string]bool{"recorded": true})
}
