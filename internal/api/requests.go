// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package api

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/dlguard/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// CheckRequest is the body of POST /api/v1/downloads/check. IPAddress and
// UserAgent default to the caller's when omitted.
type CheckRequest struct {
	UserID    *int64 `json:"user_id" validate:"omitempty,gt=0"`
	PackageID int64  `json:"package_id" validate:"required,gt=0"`
	IPAddress string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent" validate:"max=1024"`
}

// RecordRequest is the body of POST /api/v1/downloads/record.
// ReservationID echoes the reservation_id of the check that admitted the
// download.
type RecordRequest struct {
	UserID        *int64  `json:"user_id" validate:"omitempty,gt=0"`
	PackageID     int64   `json:"package_id" validate:"required,gt=0"`
	IPAddress     string  `json:"ip_address" validate:"omitempty,ip"`
	UserAgent     *string `json:"user_agent" validate:"omitempty,max=1024"`
	ReservationID string  `json:"reservation_id" validate:"omitempty,max=64"`
}

// BanRequest is the body of POST /api/v1/admin/bans.
type BanRequest struct {
	IPAddress     string  `json:"ip_address" validate:"required,ip"`
	Reason        string  `json:"reason" validate:"required,max=500"`
	Severity      string  `json:"severity" validate:"omitempty,severity"`
	DurationHours *int    `json:"duration_hours" validate:"omitempty,gte=1,lte=8760"`
	Notes         *string `json:"notes" validate:"omitempty,max=1000"`
}

// WhitelistRequest is the body of POST /api/v1/admin/whitelist.
type WhitelistRequest struct {
	IPAddress   string `json:"ip_address" validate:"required,ip"`
	Description string `json:"description" validate:"max=500"`
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// decodeAndValidate decodes and validates the body, writing a 400 response
// on failure. It reports whether the handler should continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := decodeJSON(w, r, v); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return false
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return false
	}
	return true
}

// clientIP returns the request's remote IP. chi's RealIP has already
// replaced RemoteAddr when a forwarding header was present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// getIntParam extracts an integer query parameter with a default value.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// getBoolParam returns nil when key is absent or unparseable.
func getBoolParam(r *http.Request, key string) *bool {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil
	}
	return &b
}

// getInt64Param returns nil when key is absent; a malformed value is an error.
func getInt64Param(r *http.Request, key string) (*int64, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &n, nil
}

// getSinceParam parses an RFC 3339 timestamp.
func getSinceParam(r *http.Request) (*time.Time, error) {
	value := r.URL.Query().Get("since")
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("since must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// parseCommaSeparated splits a comma-separated value, dropping blanks.
func parseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// actorFromRequest returns the X-Admin-User header or "admin".
func actorFromRequest(r *http.Request) string {
	actor := strings.TrimSpace(r.Header.Get(AdminUserHeader))
	if actor == "" || len(actor) > 128 {
		return defaultActor
	}
	return sanitizeLogValue(actor)
}
