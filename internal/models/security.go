// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

// Package models defines the data structures shared by the DLGuard packages:
// download records, rate limit rules, anomalies, IP bans and the decision
// returned for a download attempt.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Severity is the categorical weight of an anomaly or enforcement action.
type Severity string

// Severity levels, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below Low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ParseSeverity converts a case-insensitive name to a Severity.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", false
	}
	return sev, true
}

// RuleType selects which ledger scope a rate limit rule counts against.
type RuleType string

// Rule types.
const (
	RuleTypeUser     RuleType = "user"
	RuleTypeIP       RuleType = "ip"
	RuleTypeResource RuleType = "resource"
	RuleTypeGlobal   RuleType = "global"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeUser, RuleTypeIP, RuleTypeResource, RuleTypeGlobal:
		return true
	}
	return false
}

// AnomalyType tags the detector that produced an anomaly.
type AnomalyType string

// Anomaly types.
const (
	AnomalyRateLimitExceeded AnomalyType = "rate_limit_exceeded"
	AnomalySuspiciousPattern AnomalyType = "suspicious_pattern"
	AnomalyStatistical       AnomalyType = "statistical_anomaly"
)

// BanType distinguishes expiring bans from permanent ones.
type BanType string

// Ban types.
const (
	BanTypeTemporary BanType = "temporary"
	BanTypePermanent BanType = "permanent"
)

// DownloadRecord is one completed (or started) download. Records are never
// updated or deleted.
type DownloadRecord struct {
	ID           int64     `json:"id"`
	UserID       *int64    `json:"user_id,omitempty"`
	PackageID    int64     `json:"package_id"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    *string   `json:"user_agent,omitempty"`
	DownloadTime time.Time `json:"download_time"`
}

// RateLimitRule caps downloads in a trailing window of TimeWindowHours.
// TargetID, when set, scopes the rule to one package.
type RateLimitRule struct {
	ID              int64     `json:"id"`
	RuleType        RuleType  `json:"rule_type"`
	TargetID        *int64    `json:"target_id,omitempty"`
	TimeWindowHours int       `json:"time_window"`
	MaxDownloads    int       `json:"max_downloads"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DownloadAnomaly is a persisted detector finding.
type DownloadAnomaly struct {
	ID          int64           `json:"id"`
	AnomalyType AnomalyType     `json:"anomaly_type"`
	UserID      *int64          `json:"user_id,omitempty"`
	PackageID   *int64          `json:"package_id,omitempty"`
	IPAddress   *string         `json:"ip_address,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	Severity    Severity        `json:"severity"`
	Confidence  *float64        `json:"confidence,omitempty"`
	IsResolved  bool            `json:"is_resolved"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// IPBan is the current ban state of one IP address.
type IPBan struct {
	IPAddress     string     `json:"ip_address"`
	Reason        string     `json:"reason"`
	BanType       BanType    `json:"ban_type"`
	DurationHours *int       `json:"duration_hours,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	IsActive      bool       `json:"is_active"`
	CreatedBy     string     `json:"created_by"`
	Notes         *string    `json:"notes,omitempty"`
}

// Expired reports whether the ban has an expiry at or before now.
func (b *IPBan) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}

// BanEventAction is a transition recorded in the ban history.
type BanEventAction string

// Ban history actions.
const (
	BanEventBan    BanEventAction = "ban"
	BanEventUnban  BanEventAction = "unban"
	BanEventExpire BanEventAction = "expire"
)

// BanEvent is one append-only entry in an IP's ban history.
type BanEvent struct {
	ID             int64          `json:"id"`
	IPAddress      string         `json:"ip_address"`
	Action         BanEventAction `json:"action"`
	BanType        BanType        `json:"ban_type,omitempty"`
	Reason         string         `json:"reason"`
	PreviousActive bool           `json:"previous_active"`
	NewActive      bool           `json:"new_active"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	Actor          string         `json:"actor"`
	CreatedAt      time.Time      `json:"created_at"`
}

// WhitelistEntry exempts an IP from ban enforcement.
type WhitelistEntry struct {
	IPAddress   string    `json:"ip_address"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// DownloadCheckResult is the decision for one download attempt.
// RemainingDownloads and CooldownSeconds are nil when no rule applied.
type DownloadCheckResult struct {
	IsAllowed          bool   `json:"is_allowed"`
	Reason             string `json:"reason,omitempty"`
	RemainingDownloads *int   `json:"remaining_downloads,omitempty"`
	CooldownSeconds    *int   `json:"cooldown_seconds,omitempty"`
	AnomalyDetected    bool   `json:"anomaly_detected"`
	AnomalyDetails     string `json:"anomaly_details,omitempty"`
	// ReservationID is returned with allowed decisions that hold rate limit
	// slots. Recording the download with it gives the slots back.
	ReservationID      string `json:"reservation_id,omitempty"`
}
