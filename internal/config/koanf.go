// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/dlguard/internal/settings"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/dlguard/config.yaml",
	"/etc/dlguard/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8095,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			RequestTimeout:  5 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			AdminRateLimit:  120,
		},
		Database: DatabaseConfig{
			Path:      "/data/dlguard.duckdb",
			MaxMemory: "512MB",
			Threads:   0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		Security: settings.Defaults(),
		RateLimit: RateLimitConfig{
			Reserve:        true,
			ReservationTTL: 5 * time.Minute,
		},
		Notify: NotifyConfig{
			WebhookInterval: 30 * time.Second,
			Timeout:         10 * time.Second,
			NATSSubject:     "dlguard.security",
		},
		Audit: AuditConfig{
			RetentionDays:       365,
			MaintenanceInterval: time.Minute,
		},
	}
}

// LoadWithKoanf loads configuration using koanf with layered sources:
//
//  1. Defaults
//  2. Config file, if one is found
//  3. Environment variables
func LoadWithKoanf() (*Config, error) {
	return loadFrom(findConfigFile())
}

// LoadFile loads configuration with an explicit YAML file layered over the
// defaults (and under the environment).
func LoadFile(path string) (*Config, error) {
	return loadFrom(path)
}

func loadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ConfigFilePath returns the file Load reads, or "" when none exists.
func ConfigFilePath() string {
	return findConfigFile()
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_request_timeout":  "server.request_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"cors_origins":          "server.cors_origins",
	"admin_rate_limit":      "server.admin_rate_limit",

	// Database
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// Logging
	"log_level":       "logging.level",
	"log_format":      "logging.format",
	"log_caller":      "logging.caller",
	"log_file":        "logging.file",
	"log_max_size_mb": "logging.max_size_mb",
	"log_max_backups": "logging.max_backups",

	// Security defaults
	"enable_rate_limiting":          "security.enable_rate_limiting",
	"enable_anomaly_detection":      "security.enable_anomaly_detection",
	"enable_statistical_analysis":   "security.enable_statistical_analysis",
	"suspicious_pattern_threshold":  "security.suspicious_pattern_threshold",
	"statistical_anomaly_threshold": "security.statistical_anomaly_threshold",
	"enable_auto_ban":               "security.enable_auto_ban",
	"auto_ban_threshold":            "security.auto_ban_threshold",
	"ban_duration_hours":            "security.ban_duration_hours",
	"critical_anomaly_auto_ban":     "security.critical_anomaly_auto_ban",
	"enable_ip_whitelist":           "security.enable_ip_whitelist",
	"enable_admin_notification":     "security.enable_admin_notification",
	"notification_email":            "security.notification_email",

	// Rate limiter
	"ratelimit_reserve":         "ratelimit.reserve",
	"ratelimit_reservation_ttl": "ratelimit.reservation_ttl",
	"ratelimit_rules_file":      "ratelimit.rules_file",

	// Notifications
	"notify_webhook_url":      "notify.webhook_url",
	"notify_webhook_interval": "notify.webhook_interval",
	"notify_timeout":          "notify.timeout",
	"notify_nats_url":         "notify.nats_url",
	"notify_nats_subject":     "notify.nats_subject",

	// Audit
	"audit_retention_days":       "audit.retention_days",
	"audit_maintenance_interval": "audit.maintenance_interval",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - DUCKDB_PATH -> database.path
//   - HTTP_PORT -> server.port
//   - AUTO_BAN_THRESHOLD -> security.auto_ban_threshold
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// WatchConfigFile invokes callback whenever the file at path changes.
// The caller is responsible for reloading and for synchronization.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(_ interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
