// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package api

import (
	"context"
	"time"

	"github.com/tomtom215/dlguard/internal/audit"
	"github.com/tomtom215/dlguard/internal/bans"
	"github.com/tomtom215/dlguard/internal/detection"
	"github.com/tomtom215/dlguard/internal/guard"
	"github.com/tomtom215/dlguard/internal/models"
	"github.com/tomtom215/dlguard/internal/settings"
)

// AdminUserHeader names the acting operator on admin routes.
const AdminUserHeader = "X-Admin-User"

const (
	defaultActor     = "admin"
	defaultStatsDays = 7
	maxStatsDays     = 365
)

// Service is the download security service as used by the handlers.
// *guard.Service implements it.
type Service interface {
	CheckDownloadAllowed(ctx context.Context, req guard.CheckRequest) models.DownloadCheckResult
	RecordDownload(ctx context.Context, req guard.RecordRequest) error
	RecordView(ctx context.Context, packageID int64) error

	BanIP(ctx context.Context, req bans.BanRequest) error
	UnbanIP(ctx context.Context, ip, actor string) error
	AddToWhitelist(ctx context.Context, ip, description, actor string) error
	RemoveFromWhitelist(ctx context.Context, ip, actor string) error
	ListBans(ctx context.Context, activeOnly bool, limit, offset int) ([]models.IPBan, error)
	ListWhitelist(ctx context.Context) ([]models.WhitelistEntry, error)
	BanHistory(ctx context.Context, ip string, limit int) ([]models.BanEvent, error)

	EffectiveConfig(ctx context.Context) (settings.Settings, settings.Status)
	PersistConfig(ctx context.Context, cfg settings.Settings, actor string) error
	ResetConfig(ctx context.Context, actor string) error

	ListAnomalies(ctx context.Context, filter detection.AnomalyFilter) ([]models.DownloadAnomaly, error)
	ResolveAnomaly(ctx context.Context, id int64) (*models.DownloadAnomaly, error)
	AnomalyStats(ctx context.Context, days int) (models.AnomalyStats, error)
	BanStats(ctx context.Context) (models.BanStats, error)
	CombinedStats(ctx context.Context, days int) (models.CombinedStats, error)
	SecurityActions(ctx context.Context, filter audit.QueryFilter) ([]audit.SecurityAction, error)

	Health(ctx context.Context) guard.Health
}

// Handler serves the API routes.
type Handler struct {
	svc       Service
	startTime time.Time
}

// NewHandler creates a Handler for svc.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc, startTime: time.Now()}
}

// statsDays reads ?days, clamped to [1, maxStatsDays].
func statsDays(days int) int {
	switch {
	case days < 1:
		return defaultStatsDays
	case days > maxStatsDays:
		return maxStatsDays
	default:
		return days
	}
}
