// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package api

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/tomtom215/dlguard/internal/guard"
	"github.com/tomtom215/dlguard/internal/models"
	"github.com/tomtom215/dlguard/internal/ratelimit"
	"github.com/tomtom215/dlguard/internal/settings"
)

// envelope mirrors APIResponse with a raw data payload.
type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Error    *APIError       `json:"error"`
}

func setupTestServer(t *testing.T, mwCfg *ChiMiddlewareConfig) http.Handler {
	t.Helper()
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory DuckDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stack, err := guard.Build(db, guard.Options{
		Defaults:      settings.Defaults(),
		Limiter:       ratelimit.Config{Reserve: true, ReservationTTL: time.Minute},
		RetentionDays: 30,
	})
	if err != nil {
		t.Fatalf("guard.Build() error = %v", err)
	}
	for _, s := range stack.Schemas {
		if err := s.InitSchema(context.Background()); err != nil {
			t.Fatalf("InitSchema() error = %v", err)
		}
	}
	return NewRouter(NewHandler(stack.Service), NewChiMiddleware(mwCfg)).SetupChi()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func TestCheckDownload(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"allowed", CheckRequest{PackageID: 7, IPAddress: "198.51.100.1", UserAgent: "Mozilla/5.0"}, http.StatusOK, ""},
		{"missing package", CheckRequest{IPAddress: "198.51.100.1"}, http.StatusBadRequest, ErrCodeValidation},
		{"bad ip", CheckRequest{PackageID: 7, IPAddress: "not-an-ip"}, http.StatusBadRequest, ErrCodeValidation},
		{"malformed json", "{", http.StatusBadRequest, ErrCodeBadRequest},
		{"empty body", "", http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, h, http.MethodPost, "/api/v1/downloads/check", tt.body, nil)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%+v)", status, tt.wantStatus, env.Error)
			}
			if tt.wantCode != "" {
				if env.Error == nil || env.Error.Code != tt.wantCode {
					t.Errorf("error = %+v, want code %s", env.Error, tt.wantCode)
				}
				return
			}
			var result models.DownloadCheckResult
			decodeData(t, env, &result)
			if !result.IsAllowed {
				t.Errorf("IsAllowed = false, want true (reason %q)", result.Reason)
			}
		})
	}
}

func TestCheckDownload_BannedClientIPFromHeader(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)

	status, _ := do(t, h, http.MethodPost, "/api/v1/admin/bans",
		BanRequest{IPAddress: "203.0.113.9", Reason: "scraping"}, nil)
	if status != http.StatusCreated {
		t.Fatalf("ban status = %d, want %d", status, http.StatusCreated)
	}

	status, env := do(t, h, http.MethodPost, "/api/v1/downloads/check",
		CheckRequest{PackageID: 1}, map[string]string{"X-Real-IP": "203.0.113.9"})
	if status != http.StatusOK {
		t.Fatalf("check status = %d, want %d", status, http.StatusOK)
	}
	var result models.DownloadCheckResult
	decodeData(t, env, &result)
	if result.IsAllowed || result.Reason != guard.ReasonBanned {
		t.Errorf("result = %+v, want denied with reason %q", result, guard.ReasonBanned)
	}
}

func TestRecordDownloadAndView(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)

	status, env := do(t, h, http.MethodPost, "/api/v1/downloads/record",
		RecordRequest{PackageID: 3, IPAddress: "198.51.100.4"}, nil)
	if status != http.StatusCreated {
		t.Fatalf("record status = %d, want %d (%+v)", status, http.StatusCreated, env.Error)
	}

	status, _ = do(t, h, http.MethodPost, "/api/v1/resources/3/views", nil, nil)
	if status != http.StatusCreated {
		t.Errorf("view status = %d, want %d", status, http.StatusCreated)
	}
	status, _ = do(t, h, http.MethodPost, "/api/v1/resources/abc/views", nil, nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want %d", status, http.StatusBadRequest)
	}

	status, env = do(t, h, http.MethodGet, "/api/v1/admin/stats?days=1", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d, want %d", status, http.StatusOK)
	}
	var stats models.CombinedStats
	decodeData(t, env, &stats)
	if stats.Downloads.TotalDownloads != 1 {
		t.Errorf("TotalDownloads = %d, want 1", stats.Downloads.TotalDownloads)
	}
	if stats.Views.TotalViews != 1 {
		t.Errorf("TotalViews = %d, want 1", stats.Views.TotalViews)
	}
}

func TestAdminBanLifecycle(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)
	admin := map[string]string{AdminUserHeader: "alice"}

	status, _ := do(t, h, http.MethodPost, "/api/v1/admin/bans",
		BanRequest{IPAddress: "192.0.2.50", Reason: "abuse", Severity: "high", DurationHours: intPtr(2)}, admin)
	if status != http.StatusCreated {
		t.Fatalf("ban status = %d, want %d", status, http.StatusCreated)
	}

	status, env := do(t, h, http.MethodGet, "/api/v1/admin/bans?active=true", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d, want %d", status, http.StatusOK)
	}
	var list []models.IPBan
	decodeData(t, env, &list)
	if len(list) != 1 || list[0].CreatedBy != "alice" || list[0].BanType != models.BanTypeTemporary {
		t.Fatalf("bans = %+v, want one temporary ban by alice", list)
	}
	if env.Metadata.Count == nil || *env.Metadata.Count != 1 {
		t.Errorf("metadata.count = %v, want 1", env.Metadata.Count)
	}

	status, _ = do(t, h, http.MethodDelete, "/api/v1/admin/bans/192.0.2.50", nil, admin)
	if status != http.StatusOK {
		t.Fatalf("unban status = %d, want %d", status, http.StatusOK)
	}
	status, env = do(t, h, http.MethodDelete, "/api/v1/admin/bans/192.0.2.50", nil, admin)
	if status != http.StatusNotFound || env.Error == nil || env.Error.Code != ErrCodeNotFound {
		t.Errorf("second unban = %d %+v, want 404 %s", status, env.Error, ErrCodeNotFound)
	}

	status, env = do(t, h, http.MethodGet, "/api/v1/admin/bans/192.0.2.50/history", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("history status = %d, want %d", status, http.StatusOK)
	}
	var events []models.BanEvent
	decodeData(t, env, &events)
	if len(events) != 2 || events[0].Action != models.BanEventUnban || events[1].Action != models.BanEventBan {
		t.Errorf("history = %+v, want [unban ban]", events)
	}

	status, env = do(t, h, http.MethodGet, "/api/v1/admin/actions?action_type=ip_ban,ip_unban&created_by=alice", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("actions status = %d, want %d", status, http.StatusOK)
	}
	if env.Metadata.Count == nil || *env.Metadata.Count != 2 {
		t.Errorf("audited actions = %v, want 2", env.Metadata.Count)
	}
}

func TestAdminBan_Validation(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)

	tests := []struct {
		name string
		body BanRequest
	}{
		{"missing ip", BanRequest{Reason: "x"}},
		{"bad ip", BanRequest{IPAddress: "999.1.1.1", Reason: "x"}},
		{"missing reason", BanRequest{IPAddress: "192.0.2.1"}},
		{"bad severity", BanRequest{IPAddress: "192.0.2.1", Reason: "x", Severity: "extreme"}},
		{"duration too long", BanRequest{IPAddress: "192.0.2.1", Reason: "x", DurationHours: intPtr(9000)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, h, http.MethodPost, "/api/v1/admin/bans", tt.body, nil)
			if status != http.StatusBadRequest || env.Error == nil || env.Error.Code != ErrCodeValidation {
				t.Errorf("got %d %+v, want 400 %s", status, env.Error, ErrCodeValidation)
			}
		})
	}
}

func TestWhitelistRoutes(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)

	status, _ := do(t, h, http.MethodPost, "/api/v1/admin/whitelist",
		WhitelistRequest{IPAddress: "10.0.0.5", Description: "office"}, nil)
	if status != http.StatusCreated {
		t.Fatalf("add status = %d, want %d", status, http.StatusCreated)
	}

	_, env := do(t, h, http.MethodGet, "/api/v1/admin/whitelist", nil, nil)
	var list []models.WhitelistEntry
	decodeData(t, env, &list)
	if len(list) != 1 || list[0].Description != "office" || list[0].CreatedBy != defaultActor {
		t.Fatalf("whitelist = %+v, want one office entry by %s", list, defaultActor)
	}

	if status, _ := do(t, h, http.MethodDelete, "/api/v1/admin/whitelist/10.0.0.5", nil, nil); status != http.StatusOK {
		t.Errorf("remove status = %d, want %d", status, http.StatusOK)
	}
	if status, _ := do(t, h, http.MethodDelete, "/api/v1/admin/whitelist/10.0.0.5", nil, nil); status != http.StatusNotFound {
		t.Errorf("second remove status = %d, want %d", status, http.StatusNotFound)
	}
	if status, _ := do(t, h, http.MethodDelete, "/api/v1/admin/whitelist/bogus", nil, nil); status != http.StatusBadRequest {
		t.Errorf("invalid ip status = %d, want %d", status, http.StatusBadRequest)
	}
}

func TestConfigRoutes(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)

	_, env := do(t, h, http.MethodGet, "/api/v1/admin/config", nil, nil)
	var got configResponse
	decodeData(t, env, &got)
	if got.Status.Source != settings.SourceDefault {
		t.Errorf("initial source = %q, want %q", got.Status.Source, settings.SourceDefault)
	}

	status, env := do(t, h, http.MethodPut, "/api/v1/admin/config", `{"auto_ban_threshold": 5}`, nil)
	if status != http.StatusOK {
		t.Fatalf("put status = %d, want %d (%+v)", status, http.StatusOK, env.Error)
	}
	decodeData(t, env, &got)
	if got.Settings.AutoBanThreshold != 5 || got.Status.Source != settings.SourcePersisted {
		t.Errorf("after put = %+v, want threshold 5 from %q", got, settings.SourcePersisted)
	}
	if got.Settings.BanDurationHours != settings.Defaults().BanDurationHours {
		t.Errorf("BanDurationHours = %d, want untouched %d", got.Settings.BanDurationHours, settings.Defaults().BanDurationHours)
	}

	status, env = do(t, h, http.MethodPut, "/api/v1/admin/config", `{"ban_duration_hours": 0}`, nil)
	if status != http.StatusBadRequest || env.Error == nil || env.Error.Code != ErrCodeValidation {
		t.Errorf("invalid put = %d %+v, want 400 %s", status, env.Error, ErrCodeValidation)
	}

	status, env = do(t, h, http.MethodDelete, "/api/v1/admin/config", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("reset status = %d, want %d", status, http.StatusOK)
	}
	decodeData(t, env, &got)
	if got.Status.Source != settings.SourceDefault || got.Settings.AutoBanThreshold != settings.Defaults().AutoBanThreshold {
		t.Errorf("after reset = %+v, want defaults", got)
	}
}

func TestAnomalyRoutes(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"list", http.MethodGet, "/api/v1/admin/anomalies?severity=high,critical&resolved=false", http.StatusOK},
		{"bad severity", http.MethodGet, "/api/v1/admin/anomalies?severity=extreme", http.StatusBadRequest},
		{"bad since", http.MethodGet, "/api/v1/admin/anomalies?since=yesterday", http.StatusBadRequest},
		{"bad user id", http.MethodGet, "/api/v1/admin/anomalies?user_id=x", http.StatusBadRequest},
		{"resolve missing", http.MethodPost, "/api/v1/admin/anomalies/999/resolve", http.StatusNotFound},
		{"resolve bad id", http.MethodPost, "/api/v1/admin/anomalies/zero/resolve", http.StatusBadRequest},
		{"anomaly stats", http.MethodGet, "/api/v1/admin/stats/anomalies?days=30", http.StatusOK},
		{"ban stats", http.MethodGet, "/api/v1/admin/stats/bans", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, env := do(t, h, tt.method, tt.path, nil, nil); status != tt.wantStatus {
				t.Errorf("status = %d, want %d (%+v)", status, tt.wantStatus, env.Error)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)

	status, env := do(t, h, http.MethodGet, "/health", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	var got healthResponse
	decodeData(t, env, &got)
	if got.Status != "ok" || got.Database != "ok" || got.ConfigSource != settings.SourceDefault {
		t.Errorf("health = %+v, want ok/ok/default", got)
	}
	if env.Metadata.RequestID == "" {
		t.Error("metadata.request_id is empty")
	}
}

func TestAdminRateLimit(t *testing.T) {
	t.Parallel()
	cfg := DefaultChiMiddlewareConfig()
	cfg.AdminRateLimit = 2
	h := setupTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if status, _ := do(t, h, http.MethodGet, "/api/v1/admin/whitelist", nil, nil); status != http.StatusOK {
			t.Fatalf("request %d status = %d, want %d", i+1, status, http.StatusOK)
		}
	}
	status, env := do(t, h, http.MethodGet, "/api/v1/admin/whitelist", nil, nil)
	if status != http.StatusTooManyRequests || env.Error == nil || env.Error.Code != ErrCodeTooManyRequests {
		t.Errorf("third request = %d %+v, want 429", status, env.Error)
	}

	// Download checks are not admin routes.
	if status, _ := do(t, h, http.MethodPost, "/api/v1/downloads/check", CheckRequest{PackageID: 1}, nil); status != http.StatusOK {
		t.Errorf("check status = %d, want %d", status, http.StatusOK)
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)

	status, env := do(t, h, http.MethodGet, "/api/v1/nope", nil, nil)
	if status != http.StatusNotFound || env.Status != "error" {
		t.Errorf("got %d %q, want 404 error envelope", status, env.Status)
	}
}

func TestActorFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
	}{
		{"", defaultActor},
		{"  bob  ", "bob"},
		{"eve\nforged", "eve\\x0aforged"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set(AdminUserHeader, tt.header)
		}
		if got := actorFromRequest(req); got != tt.want {
			t.Errorf("actorFromRequest(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func intPtr(v int) *int { return &v }

func TestRecordDownload_ReservationIDValidated(t *testing.T) {
	t.Parallel()
	h := setupTestServer(t, nil)

	status, env := do(t, h, http.MethodPost, "/api/v1/downloads/record",
		RecordRequest{PackageID: 3, IPAddress: "198.51.100.4", ReservationID: string(bytes.Repeat([]byte("r"), 65))}, nil)
	if status != http.StatusBadRequest || env.Error == nil || env.Error.Code != ErrCodeValidation {
		t.Errorf("status = %d, error = %+v, want %d %s", status, env.Error, http.StatusBadRequest, ErrCodeValidation)
	}

	status, _ = do(t, h, http.MethodPost, "/api/v1/downloads/record",
		RecordRequest{PackageID: 3, IPAddress: "198.51.100.4", ReservationID: "unknown"}, nil)
	if status != http.StatusCreated {
		t.Errorf("unknown reservation status = %d, want %d", status, http.StatusCreated)
	}
}
