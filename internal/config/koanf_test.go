// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 8095 {
		t.Errorf("Server.Port = %d, want 8095", cfg.Server.Port)
	}
	if cfg.Database.Path != "/data/dlguard.duckdb" {
		t.Errorf("Database.Path = %q, want /data/dlguard.duckdb", cfg.Database.Path)
	}
	if !cfg.RateLimit.Reserve {
		t.Error("RateLimit.Reserve should default to true")
	}
	if cfg.Security.SuspiciousPatternThreshold != 0.8 {
		t.Errorf("Security.SuspiciousPatternThreshold = %v, want 0.8", cfg.Security.SuspiciousPatternThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig().Validate() = %v", err)
	}
}

func TestLoadFile_LayersFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
  request_timeout: 2s
database:
  path: /tmp/test.duckdb
security:
  auto_ban_threshold: 5
  enable_ip_whitelist: true
ratelimit:
  reservation_ttl: 90s
notify:
  webhook_url: https://hooks.example.com/dlguard
  webhook_headers:
    Authorization: Bearer abc
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 2*time.Second {
		t.Errorf("Server.RequestTimeout = %v, want 2s", cfg.Server.RequestTimeout)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want default 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Security.AutoBanThreshold != 5 || !cfg.Security.EnableIPWhitelist {
		t.Errorf("Security = %+v, want threshold 5 with whitelist enabled", cfg.Security)
	}
	if cfg.Security.BanDurationHours != 24 {
		t.Errorf("Security.BanDurationHours = %d, want default 24", cfg.Security.BanDurationHours)
	}
	if cfg.RateLimit.ReservationTTL != 90*time.Second {
		t.Errorf("RateLimit.ReservationTTL = %v, want 90s", cfg.RateLimit.ReservationTTL)
	}
	if got := cfg.Notify.WebhookHeaders["Authorization"]; got != "Bearer abc" {
		t.Errorf("WebhookHeaders[Authorization] = %q", got)
	}
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9000\n")
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("BAN_DURATION_HOURS", "72")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Security.BanDurationHours != 72 {
		t.Errorf("Security.BanDurationHours = %d, want 72", cfg.Security.BanDurationHours)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("Server.CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadWithKoanf_ConfigPathEnv(t *testing.T) {
	path := writeConfigFile(t, "database:\n  path: /srv/dl.duckdb\n")
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Database.Path != "/srv/dl.duckdb" {
		t.Errorf("Database.Path = %q, want /srv/dl.duckdb", cfg.Database.Path)
	}
}

func TestLoadFile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad port", "server:\n  port: 70000\n", "HTTP_PORT"},
		{"bad log format", "logging:\n  format: xml\n", "LOG_FORMAT"},
		{"bad security threshold", "security:\n  auto_ban_threshold: 0\n", "security"},
		{"bad webhook", "notify:\n  webhook_url: ftp://example.com\n", "NOTIFY_WEBHOOK_URL"},
		{"nats without subject", "notify:\n  nats_url: nats://127.0.0.1:4222\n  nats_subject: \"\"\n", "NOTIFY_NATS_SUBJECT"},
		{"zero retention", "audit:\n  retention_days: 0\n", "AUDIT_RETENTION_DAYS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfigFile(t, tt.yaml))
			if err == nil {
				t.Fatal("LoadFile() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"DUCKDB_PATH":          "database.path",
		"HTTP_PORT":            "server.port",
		"AUTO_BAN_THRESHOLD":   "security.auto_ban_threshold",
		"NOTIFY_NATS_URL":      "notify.nats_url",
		"RATELIMIT_RULES_FILE": "ratelimit.rules_file",
		"AUDIT_RETENTION_DAYS": "audit.retention_days",
		"HOME":                 "",
		"PATH":                 "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
