// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/dlguard/internal/audit"
	"github.com/tomtom215/dlguard/internal/bans"
	"github.com/tomtom215/dlguard/internal/detection"
	"github.com/tomtom215/dlguard/internal/logging"
	"github.com/tomtom215/dlguard/internal/metrics"
	"github.com/tomtom215/dlguard/internal/models"
	"github.com/tomtom215/dlguard/internal/settings"
)

// RecordRequest describes a completed download. ReservationID is the token
// from the check that admitted it, if any.
type RecordRequest struct {
	UserID        *int64
	PackageID     int64
	IP            string
	UserAgent     *string
	ReservationID string
}

// RecordDownload appends the download to the ledger and returns the rate
// limit slots held under req.ReservationID. A download recorded without a
// token releases nothing.
func (s *Service) RecordDownload(ctx context.Context, req RecordRequest) error {
	req.IP = bans.CanonicalIP(req.IP)
	_, err := s.ledger.Record(ctx, models.DownloadRecord{
		UserID:    req.UserID,
		PackageID: req.PackageID,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return err
	}
	s.limiter.Release(req.ReservationID)
	metrics.DownloadsRecorded.Inc()
	return nil
}

// RecordView counts a view of packageID for the statistical detector.
func (s *Service) RecordView(ctx context.Context, packageID int64) error {
	return s.ledger.RecordView(ctx, packageID)
}

// BanIP bans an IP manually.
func (s *Service) BanIP(ctx context.Context, req bans.BanRequest) error {
	return s.bans.BanIP(ctx, req)
}

// UnbanIP lifts the ban on ip.
func (s *Service) UnbanIP(ctx context.Context, ip, actor string) error {
	return s.bans.UnbanIP(ctx, ip, actor)
}

// AddToWhitelist exempts ip from bans.
func (s *Service) AddToWhitelist(ctx context.Context, ip, description, actor string) error {
	return s.bans.AddToWhitelist(ctx, ip, description, actor)
}

// RemoveFromWhitelist removes ip from the whitelist.
func (s *Service) RemoveFromWhitelist(ctx context.Context, ip, actor string) error {
	return s.bans.RemoveFromWhitelist(ctx, ip, actor)
}

// EffectiveConfig returns the settings the next decision will use and where
// they came from.
func (s *Service) EffectiveConfig(ctx context.Context) (settings.Settings, settings.Status) {
	cfg := s.settings.Effective(ctx)
	return cfg, s.settings.Status()
}

// PersistConfig stores cfg as the effective settings.
func (s *Service) PersistConfig(ctx context.Context, cfg settings.Settings, actor string) error {
	if err := s.settings.Persist(ctx, cfg, actor); err != nil {
		return err
	}
	s.logConfigChange(ctx, "security settings replaced", actor)
	return nil
}

// ResetConfig deletes the persisted settings so the defaults apply.
func (s *Service) ResetConfig(ctx context.Context, actor string) error {
	if err := s.settings.Reset(ctx, actor); err != nil {
		return err
	}
	s.logConfigChange(ctx, "security settings reset to defaults", actor)
	return nil
}

func (s *Service) logConfigChange(ctx context.Context, reason, actor string) {
	if err := s.audit.Log(ctx, &audit.SecurityAction{
		ActionType: audit.ActionConfigChange,
		TargetType: audit.TargetConfig,
		TargetID:   "download_security",
		Reason:     reason,
		CreatedBy:  actor,
	}); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to audit config change")
	}
}

// AnomalyStats aggregates anomalies over the last days days.
func (s *Service) AnomalyStats(ctx context.Context, days int) (models.AnomalyStats, error) {
	return s.anomalies.Stats(ctx, days)
}

// BanStats summarizes ban state.
func (s *Service) BanStats(ctx context.Context) (models.BanStats, error) {
	return s.bans.BanStats(ctx)
}

// ListBans returns bans, newest first.
func (s *Service) ListBans(ctx context.Context, activeOnly bool, limit, offset int) ([]models.IPBan, error) {
	return s.bans.ListBans(ctx, activeOnly, limit, offset)
}

// ListWhitelist returns the whitelist.
func (s *Service) ListWhitelist(ctx context.Context) ([]models.WhitelistEntry, error) {
	return s.bans.ListWhitelist(ctx)
}

// BanHistory returns the ban events for ip.
func (s *Service) BanHistory(ctx context.Context, ip string, limit int) ([]models.BanEvent, error) {
	return s.bans.BanHistory(ctx, ip, limit)
}

// ListAnomalies returns anomalies matching filter.
func (s *Service) ListAnomalies(ctx context.Context, filter detection.AnomalyFilter) ([]models.DownloadAnomaly, error) {
	return s.anomalies.List(ctx, filter)
}

// ResolveAnomaly marks an anomaly resolved.
func (s *Service) ResolveAnomaly(ctx context.Context, id int64) (*models.DownloadAnomaly, error) {
	return s.anomalies.Resolve(ctx, id)
}

// SecurityActions returns audited actions matching filter.
func (s *Service) SecurityActions(ctx context.Context, filter audit.QueryFilter) ([]audit.SecurityAction, error) {
	return s.audit.Query(ctx, filter)
}

// CombinedStats builds the admin overview for the last days days.
func (s *Service) CombinedStats(ctx context.Context, days int) (models.CombinedStats, error) {
	var (
		out  models.CombinedStats
		err  error
		errs []error
	)
	if out.Downloads, err = s.ledger.DownloadStats(ctx, days*24); err != nil {
		errs = append(errs, err)
	}
	if out.Views, err = s.ledger.ViewStats(ctx, days); err != nil {
		errs = append(errs, err)
	}
	if out.Anomalies, err = s.anomalies.Stats(ctx, days); err != nil {
		errs = append(errs, err)
	}
	if out.Bans, err = s.bans.BanStats(ctx); err != nil {
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

// Health describes service readiness.
type Health struct {
	Status              string          `json:"status"` // ok, degraded, unhealthy
	Database            string          `json:"database"`
	ConfigSource        settings.Source `json:"config_source"`
	Degraded            bool            `json:"degraded"`
	PendingReservations int64           `json:"pending_reservations"`
	CheckedAt           time.Time       `json:"checked_at"`
}

// Health pings the datastore and reports the config source.
func (s *Service) Health(ctx context.Context) Health {
	// Effective refreshes Status with the current read.
	s.settings.Effective(ctx)
	st := s.settings.Status()

	h := Health{
		Status:              "ok",
		Database:            "ok",
		ConfigSource:        st.Source,
		Degraded:            st.Degraded,
		PendingReservations: s.limiter.Pending(),
		CheckedAt:           time.Now().UTC(),
	}
	if st.Degraded {
		h.Status = "degraded"
	}
	if err := s.db.PingContext(ctx); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Health check: database ping failed")
		h.Status = "unhealthy"
		h.Database = "unreachable"
	}
	return h
}

// Maintain drops expired rate limit reservations and old security actions.
func (s *Service) Maintain(ctx context.Context) error {
	if n := s.limiter.Cleanup(); n > 0 {
		logging.Debug().Int("keys", n).Msg("Dropped expired reservation keys")
	}
	if _, err := s.audit.Cleanup(ctx); err != nil {
		return fmt.Errorf("security action retention: %w", err)
	}
	return nil
}
