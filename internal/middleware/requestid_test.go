// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tomtom215/dlguard/internal/logging"
)

func serveWithRequestID(t *testing.T, header string) (responseID, ctxID, correlationID string) {
	t.Helper()
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = logging.RequestIDFromContext(r.Context())
		correlationID = logging.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if header != "" {
		req.Header.Set(RequestIDHeader, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Header().Get(RequestIDHeader), ctxID, correlationID
}

func TestRequestID_GeneratesNewID(t *testing.T) {
	t.Parallel()

	responseID, ctxID, correlationID := serveWithRequestID(t, "")
	if _, err := uuid.Parse(responseID); err != nil {
		t.Errorf("X-Request-ID %q is not a UUID: %v", responseID, err)
	}
	if ctxID != responseID {
		t.Errorf("context request ID = %q, want %q", ctxID, responseID)
	}
	if len(correlationID) != 8 {
		t.Errorf("correlation ID = %q, want 8 chars", correlationID)
	}
}

func TestRequestID_Upstream(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		header   string
		preserve bool
	}{
		{"well formed", "proxy-req-12345", true},
		{"embedded newline", "abc\ninjected", false},
		{"space", "abc def", false},
		{"oversized", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			responseID, ctxID, _ := serveWithRequestID(t, tt.header)
			if got := responseID == tt.header; got != tt.preserve {
				t.Errorf("preserved = %v, want %v (got %q)", got, tt.preserve, responseID)
			}
			if ctxID != responseID {
				t.Errorf("context request ID = %q, want %q", ctxID, responseID)
			}
		})
	}
}
