// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/dlguard/internal/bans"
	"github.com/tomtom215/dlguard/internal/detection"
	"github.com/tomtom215/dlguard/internal/ledger"
	"github.com/tomtom215/dlguard/internal/settings"
)

// Error codes for API responses.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeDatabase           = "DATABASE_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// classifyError maps a service error to a status, code and client-safe
// message. Unknown errors become a generic database error; their text is
// logged by respondError, never returned.
func classifyError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, bans.ErrInvalidIP):
		return http.StatusBadRequest, ErrCodeValidation, bans.ErrInvalidIP.Error()
	case errors.Is(err, ledger.ErrInvalidRecord):
		return http.StatusBadRequest, ErrCodeValidation, err.Error()
	case errors.Is(err, settings.ErrInvalidSettings):
		return http.StatusBadRequest, ErrCodeValidation, err.Error()
	case errors.Is(err, bans.ErrBanNotFound):
		return http.StatusNotFound, ErrCodeNotFound, bans.ErrBanNotFound.Error()
	case errors.Is(err, bans.ErrNotWhitelisted):
		return http.StatusNotFound, ErrCodeNotFound, bans.ErrNotWhitelisted.Error()
	case errors.Is(err, detection.ErrAnomalyNotFound):
		return http.StatusNotFound, ErrCodeNotFound, detection.ErrAnomalyNotFound.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, ErrCodeDatabase, "a database error occurred"
	}
}
