// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package detection

import (
	"context"
	"fmt"

	"github.com/tomtom215/dlguard/internal/models"
)

const (
	// StatisticalWindowDays is how far back the download rate is computed.
	StatisticalWindowDays = 7
	// StatisticalMinDays is the minimum number of daily rows required.
	StatisticalMinDays = 3
	// DownloadRateThreshold is the downloads/views ratio above which a
	// package is flagged.
	DownloadRateThreshold = 0.5
)

// DailyStatsSource reads per-package daily counters.
type DailyStatsSource interface {
	DailyStats(ctx context.Context, packageID int64, days int) ([]models.ResourceAccessStat, error)
}

// StatisticalFinding describes an abnormal download rate.
type StatisticalFinding struct {
	DownloadRate   float64 `json:"download_rate"`
	TotalViews     int64   `json:"total_views"`
	TotalDownloads int64   `json:"total_downloads"`
	Days           int     `json:"days"`
}

// Summary is the user-facing description of the finding.
func (f *StatisticalFinding) Summary() string {
	return fmt.Sprintf("abnormal download rate: %.2f%%", f.DownloadRate*100)
}

// EvaluateDaily returns a finding when the aggregate rate of stats exceeds
// DownloadRateThreshold, or nil when there is too little data, no views, or a
// normal rate.
func EvaluateDaily(stats []models.ResourceAccessStat) *StatisticalFinding {
	if len(stats) < StatisticalMinDays {
		return nil
	}
	var views, downloads int64
	for _, s := range stats {
		views += s.ViewCount
		downloads += s.DownloadCount
	}
	if views == 0 {
		return nil
	}
	rate := float64(downloads) / float64(views)
	if rate <= DownloadRateThreshold {
		return nil
	}
	return &StatisticalFinding{
		DownloadRate:   rate,
		TotalViews:     views,
		TotalDownloads: downloads,
		Days:           len(stats),
	}
}

// Statistical is the ledger-backed statistical detector.
type Statistical struct {
	src DailyStatsSource
}

// NewStatistical creates a statistical detector.
func NewStatistical(src DailyStatsSource) *Statistical {
	return &Statistical{src: src}
}

// Analyze evaluates the trailing window for packageID.
func (s *Statistical) Analyze(ctx context.Context, packageID int64) (*StatisticalFinding, error) {
	stats, err := s.src.DailyStats(ctx, packageID, StatisticalWindowDays)
	if err != nil {
		return nil, fmt.Errorf("read daily stats: %w", err)
	}
	return EvaluateDaily(stats), nil
}
