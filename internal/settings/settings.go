// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

// Package settings holds the dynamic download-security configuration.
//
// The effective configuration is either the document persisted in the
// security_settings table or, when none exists, the compiled-in defaults
// supplied at construction. The two are never merged field by field. A read
// error also yields the defaults; that fallback is visible through Status,
// the dlguard_config_fallback_total counter and the /health endpoint.
package settings

import (
	"errors"
	"fmt"

	"github.com/tomtom215/dlguard/internal/validation"
)

// ErrInvalidSettings is returned when a settings document fails validation.
var ErrInvalidSettings = errors.New("invalid security settings")

// Settings are the toggles and thresholds consulted on every decision.
type Settings struct {
	EnableRateLimiting        bool `koanf:"enable_rate_limiting" json:"enable_rate_limiting"`
	EnableAnomalyDetection    bool `koanf:"enable_anomaly_detection" json:"enable_anomaly_detection"`
	EnableStatisticalAnalysis bool `koanf:"enable_statistical_analysis" json:"enable_statistical_analysis"`

	// SuspiciousPatternThreshold is the heuristic confidence at or above
	// which a request is treated as anomalous.
	SuspiciousPatternThreshold float64 `koanf:"suspicious_pattern_threshold" json:"suspicious_pattern_threshold" validate:"gte=0,lte=2"`

	// StatisticalAnomalyThreshold is reported for operators; the statistical
	// detector itself uses a fixed download/view ratio.
	StatisticalAnomalyThreshold float64 `koanf:"statistical_anomaly_threshold" json:"statistical_anomaly_threshold" validate:"gte=0"`

	EnableAutoBan          bool `koanf:"enable_auto_ban" json:"enable_auto_ban"`
	AutoBanThreshold       int  `koanf:"auto_ban_threshold" json:"auto_ban_threshold" validate:"gte=1"`
	BanDurationHours       int  `koanf:"ban_duration_hours" json:"ban_duration_hours" validate:"gte=1,lte=8760"`
	CriticalAnomalyAutoBan bool `koanf:"critical_anomaly_auto_ban" json:"critical_anomaly_auto_ban"`

	EnableIPWhitelist       bool   `koanf:"enable_ip_whitelist" json:"enable_ip_whitelist"`
	EnableAdminNotification bool   `koanf:"enable_admin_notification" json:"enable_admin_notification"`
	NotificationEmail       string `koanf:"notification_email" json:"notification_email,omitempty" validate:"omitempty,email"`
}

// Defaults returns the compiled-in settings.
func Defaults() Settings {
	return Settings{
		EnableRateLimiting:          true,
		EnableAnomalyDetection:      true,
		EnableStatisticalAnalysis:   true,
		SuspiciousPatternThreshold:  0.8,
		StatisticalAnomalyThreshold: 2.0,
		EnableAutoBan:               true,
		AutoBanThreshold:            3,
		BanDurationHours:            24,
		CriticalAnomalyAutoBan:      true,
		EnableIPWhitelist:           false,
		EnableAdminNotification:     true,
	}
}

// Validate checks thresholds and the notification address.
func (s *Settings) Validate() error {
	if verr := validation.ValidateStruct(s); verr != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, verr.Error())
	}
	return nil
}
