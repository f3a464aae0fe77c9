// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

// Package config loads DLGuard configuration with koanf.
//
// Sources are layered, later ones overriding earlier ones:
//
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, or the first of DefaultConfigPaths that exists)
//  3. Environment variables (explicit mapping in envTransformFunc)
//
// The Security section is the compiled-in default for the dynamic
// download-security settings; an administrator can override it at runtime
// with a persisted document (see package settings).
package config

import (
	"time"

	"github.com/tomtom215/dlguard/internal/settings"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig      `koanf:"server"`
	Database  DatabaseConfig    `koanf:"database"`
	Logging   LoggingConfig     `koanf:"logging"`
	Security  settings.Settings `koanf:"security"`
	RateLimit RateLimitConfig   `koanf:"ratelimit"`
	Notify    NotifyConfig      `koanf:"notify"`
	Audit     AuditConfig       `koanf:"audit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`

	// AdminRateLimit is the number of admin API requests allowed per IP per minute.
	AdminRateLimit int `koanf:"admin_rate_limit"`
}

// DatabaseConfig configures the DuckDB datastore.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// LoggingConfig configures package logging.
type LoggingConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	Caller     bool   `koanf:"caller"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// Reserve makes a passing check hold a slot until the download is recorded.
	Reserve bool `koanf:"reserve"`

	// ReservationTTL bounds how long an unrecorded reservation is held.
	ReservationTTL time.Duration `koanf:"reservation_ttl"`

	// RulesFile is an optional YAML file seeding download_rate_limits when empty.
	RulesFile string `koanf:"rules_file"`
}

// NotifyConfig configures admin notification channels. A channel with an
// empty URL is disabled.
type NotifyConfig struct {
	WebhookURL      string            `koanf:"webhook_url"`
	WebhookHeaders  map[string]string `koanf:"webhook_headers"`
	WebhookInterval time.Duration     `koanf:"webhook_interval"`
	Timeout         time.Duration     `koanf:"timeout"`
	NATSURL         string            `koanf:"nats_url"`
	NATSSubject     string            `koanf:"nats_subject"`
}

// AuditConfig configures security action retention.
type AuditConfig struct {
	RetentionDays int `koanf:"retention_days"`

	// MaintenanceInterval is how often expired reservations and old
	// security actions are cleaned up.
	MaintenanceInterval time.Duration `koanf:"maintenance_interval"`
}

// Load reads the configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
