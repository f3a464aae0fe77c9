// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

// Package bans owns IP ban and whitelist state and the escalation policy
// that turns repeated anomalies into bans.
//
// Expired bans are deactivated lazily: the first IsIPBanned call after the
// expiry flips the row inactive and appends an "expire" event, later calls
// see an inactive row and change nothing.
package bans

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/dlguard/internal/audit"
	"github.com/tomtom215/dlguard/internal/detection"
	"github.com/tomtom215/dlguard/internal/logging"
	"github.com/tomtom215/dlguard/internal/metrics"
	"github.com/tomtom215/dlguard/internal/models"
	"github.com/tomtom215/dlguard/internal/settings"
)

var (
	// ErrInvalidIP is returned when an address cannot be parsed.
	ErrInvalidIP = errors.New("invalid IP address")

	// ErrBanNotFound is returned when unbanning an IP that has no active ban.
	ErrBanNotFound = errors.New("no active ban for IP")

	// ErrNotWhitelisted is returned when removing an IP that is not whitelisted.
	ErrNotWhitelisted = errors.New("IP is not whitelisted")
)

// escalationWindow is the lookback for counting High and Critical anomalies.
const escalationWindow = 24 * time.Hour

// SettingsSource supplies the effective security settings.
type SettingsSource interface {
	Effective(ctx context.Context) settings.Settings
}

// AnomalyCounter counts recent anomalies for an IP.
type AnomalyCounter interface {
	CountForIP(ctx context.Context, ip string, severities []models.Severity, since time.Time) (int, error)
}

// ActionLogger records security actions.
type ActionLogger interface {
	Log(ctx context.Context, action *audit.SecurityAction) error
}

// BanRequest describes a manual or automatic ban.
type BanRequest struct {
	IP            string
	Reason        string
	Severity      models.Severity
	DurationHours *int
	Actor         string
	Notes         *string
}

// Manager applies ban policy.
type Manager struct {
	store     *Store
	settings  SettingsSource
	anomalies AnomalyCounter
	actions   ActionLogger
	notifiers []detection.Notifier

	inflight sync.WaitGroup
	now      func() time.Time
}

// NewManager creates a ban manager. notifiers may be empty.
func NewManager(store *Store, cfg SettingsSource, anomalies AnomalyCounter, actions ActionLogger, notifiers []detection.Notifier) *Manager {
	return &Manager{
		store:     store,
		settings:  cfg,
		anomalies: anomalies,
		actions:   actions,
		notifiers: notifiers,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeIP returns the canonical form of ip, or ErrInvalidIP.
func NormalizeIP(ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	return parsed.String(), nil
}

// CanonicalIP canonicalizes ip when it parses and otherwise uses it as given,
// so lookups for odd client strings never fail.
func CanonicalIP(ip string) string {
	if n, err := NormalizeIP(ip); err == nil {
		return n
	}
	return strings.TrimSpace(ip)
}

// IsIPBanned reports whether ip is currently banned.
func (m *Manager) IsIPBanned(ctx context.Context, ip string) (bool, error) {
	ip = CanonicalIP(ip)
	cfg := m.settings.Effective(ctx)

	if cfg.EnableIPWhitelist {
		whitelisted, err := m.store.IsWhitelisted(ctx, ip)
		if err != nil {
			return false, err
		}
		if whitelisted {
			return false, nil
		}
	}

	ban, err := m.store.GetBan(ctx, ip)
	if err != nil {
		return false, err
	}
	if ban == nil || !ban.IsActive {
		return false, nil
	}

	now := m.now()
	if ban.Expired(now) {
		changed, err := m.store.Deactivate(ctx, ip, models.BanEventExpire, "ban expired", audit.SystemActor, true, now)
		if err != nil {
			return false, err
		}
		if changed {
			metrics.RecordBanAction(string(models.BanEventExpire), string(ban.BanType))
			logging.Ctx(ctx).Info().Str("ip", ip).Msg("IP ban expired, deactivated")
		}
		return false, nil
	}
	return true, nil
}

// HandleAnomaly escalates a, which must already be persisted, according to
// its severity and the effective settings.
func (m *Manager) HandleAnomaly(ctx context.Context, a *models.DownloadAnomaly) error {
	if a == nil || a.IPAddress == nil || *a.IPAddress == "" {
		return nil
	}
	ip := CanonicalIP(*a.IPAddress)
	cfg := m.settings.Effective(ctx)

	whitelisted := false
	if cfg.EnableIPWhitelist {
		var err error
		if whitelisted, err = m.store.IsWhitelisted(ctx, ip); err != nil {
			return err
		}
	}

	reason := fmt.Sprintf("anomaly detected: %s", a.AnomalyType)
	var err error
	switch a.Severity {
	case models.SeverityCritical:
		if cfg.CriticalAnomalyAutoBan && !whitelisted {
			notes := "automatic ban, severity critical"
			err = m.BanIP(ctx, BanRequest{
				IP:       ip,
				Reason:   string(a.AnomalyType),
				Severity: models.SeverityCritical,
				Notes:    &notes,
			})
		} else {
			err = m.logAction(ctx, audit.ActionLogOnly, ip, reason, a.Severity)
		}
	case models.SeverityHigh:
		if !whitelisted {
			err = m.escalateHigh(ctx, ip, a, cfg)
		}
	case models.SeverityMedium:
		err = m.logAction(ctx, audit.ActionUserWarning, ip, reason, models.SeverityMedium)
	default:
		err = m.logAction(ctx, audit.ActionLogOnly, ip, reason, models.SeverityLow)
	}

	if cfg.EnableAdminNotification && a.Severity == models.SeverityCritical && len(m.notifiers) > 0 {
		wg := detection.Dispatch(ctx, m.notifiers, detection.NewCriticalAnomalyEvent(a, cfg.NotificationEmail))
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			wg.Wait()
		}()
	}
	return err
}

func (m *Manager) escalateHigh(ctx context.Context, ip string, a *models.DownloadAnomaly, cfg settings.Settings) error {
	count, err := m.anomalies.CountForIP(ctx, ip,
		[]models.Severity{models.SeverityHigh, models.SeverityCritical}, m.now().Add(-escalationWindow))
	if err != nil {
		return fmt.Errorf("count anomalies for escalation: %w", err)
	}
	if count < cfg.AutoBanThreshold {
		logging.Ctx(ctx).Debug().Str("ip", ip).Int("count", count).
			Int("threshold", cfg.AutoBanThreshold).Msg("High anomaly below auto-ban threshold")
		return nil
	}

	hours := cfg.BanDurationHours
	notes := fmt.Sprintf("automatic ban, %d high severity anomalies in 24h", count)
	return m.BanIP(ctx, BanRequest{
		IP:            ip,
		Reason:        string(a.AnomalyType),
		Severity:      models.SeverityHigh,
		DurationHours: &hours,
		Notes:         &notes,
	})
}

// WaitNotifications blocks until notifications started by HandleAnomaly finish.
func (m *Manager) WaitNotifications() {
	m.inflight.Wait()
}

// BanIP bans req.IP. Critical severity gives a permanent ban; anything else
// a temporary ban for req.DurationHours, defaulting to ban_duration_hours.
// Re-banning replaces the existing ban.
func (m *Manager) BanIP(ctx context.Context, req BanRequest) error {
	ip, err := NormalizeIP(req.IP)
	if err != nil {
		return err
	}
	actor := req.Actor
	if actor == "" {
		actor = audit.SystemActor
	}
	severity := req.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}

	now := m.now()
	ban := &models.IPBan{
		IPAddress: ip,
		Reason:    req.Reason,
		BanType:   models.BanTypeTemporary,
		CreatedAt: now,
		IsActive:  true,
		CreatedBy: actor,
		Notes:     req.Notes,
	}
	if severity == models.SeverityCritical {
		ban.BanType = models.BanTypePermanent
	} else {
		hours := m.settings.Effective(ctx).BanDurationHours
		if req.DurationHours != nil {
			hours = *req.DurationHours
		}
		expires := now.Add(time.Duration(hours) * time.Hour)
		ban.DurationHours = &hours
		ban.ExpiresAt = &expires
	}

	if err := m.store.UpsertBan(ctx, ban); err != nil {
		return err
	}
	metrics.RecordBanAction(string(models.BanEventBan), string(ban.BanType))
	logging.Ctx(ctx).Warn().
		Str("ip", ip).
		Str("ban_type", string(ban.BanType)).
		Str("reason", ban.Reason).
		Str("actor", actor).
		Msg("IP banned")

	return m.actions.Log(ctx, &audit.SecurityAction{
		ActionType:    audit.ActionIPBan,
		TargetType:    audit.TargetIP,
		TargetID:      ip,
		Reason:        ban.Reason,
		Severity:      severity,
		DurationHours: ban.DurationHours,
		CreatedAt:     now,
		ExpiresAt:     ban.ExpiresAt,
		CreatedBy:     actor,
		Notes:         ban.Notes,
	})
}

// UnbanIP deactivates the ban for ip.
func (m *Manager) UnbanIP(ctx context.Context, ip, actor string) error {
	ip, err := NormalizeIP(ip)
	if err != nil {
		return err
	}
	if actor == "" {
		actor = audit.SystemActor
	}

	reason := "manually unbanned"
	changed, err := m.store.Deactivate(ctx, ip, models.BanEventUnban, reason, actor, false, m.now())
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w: %s", ErrBanNotFound, ip)
	}
	metrics.RecordBanAction(string(models.BanEventUnban), "")
	logging.Ctx(ctx).Info().Str("ip", ip).Str("actor", actor).Msg("IP unbanned")

	return m.actions.Log(ctx, &audit.SecurityAction{
		ActionType: audit.ActionIPUnban,
		TargetType: audit.TargetIP,
		TargetID:   ip,
		Reason:     reason,
		Severity:   models.SeverityLow,
		CreatedBy:  actor,
	})
}

// AddToWhitelist exempts ip from ban enforcement while the whitelist is enabled.
func (m *Manager) AddToWhitelist(ctx context.Context, ip, description, actor string) error {
	ip, err := NormalizeIP(ip)
	if err != nil {
		return err
	}
	if actor == "" {
		actor = audit.SystemActor
	}
	if err := m.store.UpsertWhitelist(ctx, &models.WhitelistEntry{
		IPAddress:   ip,
		Description: description,
		CreatedBy:   actor,
		CreatedAt:   m.now(),
	}); err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("ip", ip).Str("actor", actor).Msg("IP added to whitelist")

	return m.actions.Log(ctx, &audit.SecurityAction{
		ActionType: audit.ActionWhitelistAdd,
		TargetType: audit.TargetIP,
		TargetID:   ip,
		Reason:     description,
		CreatedBy:  actor,
	})
}

// RemoveFromWhitelist deletes the whitelist entry for ip.
func (m *Manager) RemoveFromWhitelist(ctx context.Context, ip, actor string) error {
	ip, err := NormalizeIP(ip)
	if err != nil {
		return err
	}
	if actor == "" {
		actor = audit.SystemActor
	}
	removed, err := m.store.DeleteWhitelist(ctx, ip)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", ErrNotWhitelisted, ip)
	}
	logging.Ctx(ctx).Info().Str("ip", ip).Str("actor", actor).Msg("IP removed from whitelist")

	return m.actions.Log(ctx, &audit.SecurityAction{
		ActionType: audit.ActionWhitelistRemove,
		TargetType: audit.TargetIP,
		TargetID:   ip,
		Reason:     "removed from whitelist",
		CreatedBy:  actor,
	})
}

func (m *Manager) logAction(ctx context.Context, action audit.ActionType, ip, reason string, severity models.Severity) error {
	return m.actions.Log(ctx, &audit.SecurityAction{
		ActionType: action,
		TargetType: audit.TargetIP,
		TargetID:   ip,
		Reason:     reason,
		Severity:   severity,
	})
}

// ListBans returns bans, newest first.
func (m *Manager) ListBans(ctx context.Context, activeOnly bool, limit, offset int) ([]models.IPBan, error) {
	return m.store.ListBans(ctx, activeOnly, limit, offset, m.now())
}

// ListWhitelist returns all whitelist entries.
func (m *Manager) ListWhitelist(ctx context.Context) ([]models.WhitelistEntry, error) {
	return m.store.ListWhitelist(ctx)
}

// BanHistory returns the ban events for ip, newest first.
func (m *Manager) BanHistory(ctx context.Context, ip string, limit int) ([]models.BanEvent, error) {
	return m.store.History(ctx, CanonicalIP(ip), limit)
}

// BanStats summarizes ban state.
func (m *Manager) BanStats(ctx context.Context) (models.BanStats, error) {
	cfg := m.settings.Effective(ctx)
	st := models.BanStats{
		AutoBanEnabled:   cfg.EnableAutoBan,
		WhitelistEnabled: cfg.EnableIPWhitelist,
	}
	total, active, recent, err := m.store.Counts(ctx, m.now())
	if err != nil {
		return st, err
	}
	st.TotalBans, st.ActiveBans, st.RecentBans24h = total, active, recent
	return st, nil
}
