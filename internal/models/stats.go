// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package models

import "time"

// ResourceAccessStat is one day of view/download counters for a package.
type ResourceAccessStat struct {
	PackageID         int64     `json:"package_id"`
	Day               time.Time `json:"day"`
	ViewCount         int64     `json:"view_count"`
	DownloadCount     int64     `json:"download_count"`
	UniqueDownloaders int64     `json:"unique_downloaders"`
}

// SeverityCounts is an anomaly count per severity.
type SeverityCounts struct {
	Critical int64 `json:"critical"`
	High     int64 `json:"high"`
	Medium   int64 `json:"medium"`
	Low      int64 `json:"low"`
}

// TypeCounts is an anomaly count per anomaly type.
type TypeCounts struct {
	RateLimitExceeded  int64 `json:"rate_limit_exceeded"`
	SuspiciousPattern  int64 `json:"suspicious_pattern"`
	StatisticalAnomaly int64 `json:"statistical_anomaly"`
}

// AnomalyStats summarizes anomalies over a trailing window.
type AnomalyStats struct {
	WindowDays     int            `json:"window_days"`
	TotalAnomalies int64          `json:"total_anomalies"`
	BySeverity     SeverityCounts `json:"by_severity"`
	ByType         TypeCounts     `json:"by_type"`
}

// BanStats summarizes ban state.
type BanStats struct {
	TotalBans        int64 `json:"total_bans"`
	ActiveBans       int64 `json:"active_bans"`
	RecentBans24h    int64 `json:"recent_bans_24h"`
	AutoBanEnabled   bool  `json:"auto_ban_enabled"`
	WhitelistEnabled bool  `json:"whitelist_enabled"`
}

// DownloadStats summarizes the ledger over a trailing window.
type DownloadStats struct {
	WindowHours    int   `json:"window_hours"`
	TotalDownloads int64 `json:"total_downloads"`
	UniqueIPs      int64 `json:"unique_ips"`
	UniqueUsers    int64 `json:"unique_users"`
	UniquePackages int64 `json:"unique_packages"`
}

// ViewStats summarizes resource_access_stats over a trailing window.
type ViewStats struct {
	WindowDays     int     `json:"window_days"`
	TotalViews     int64   `json:"total_views"`
	TotalDownloads int64   `json:"total_downloads"`
	DownloadRate   float64 `json:"download_rate"`
}

// CombinedStats is the admin overview report.
type CombinedStats struct {
	Downloads DownloadStats `json:"downloads"`
	Views     ViewStats     `json:"views"`
	Anomalies AnomalyStats  `json:"anomalies"`
	Bans      BanStats      `json:"bans"`
}
