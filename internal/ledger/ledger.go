// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

// Package ledger is the append-only log of download events and the daily
// per-resource access counters derived from it.
//
// Every rate limit and velocity signal is a windowed count over this log, so
// CountInWindow is the hot path: it is served by the (column, download_time)
// indexes created in InitSchema.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/dlguard/internal/database"
	"github.com/tomtom215/dlguard/internal/logging"
	"github.com/tomtom215/dlguard/internal/models"
)

// ErrInvalidRecord is returned when a download record lacks a package or IP.
var ErrInvalidRecord = errors.New("invalid download record")

// Scope selects the column set a windowed count is keyed on.
type Scope int

const (
	// ScopeUserResource counts one user's downloads of one package.
	ScopeUserResource Scope = iota
	// ScopeIP counts an IP's downloads.
	ScopeIP
	// ScopeResource counts all downloads of one package.
	ScopeResource
	// ScopeGlobalByIP counts an IP's downloads across every package.
	ScopeGlobalByIP
)

func (s Scope) String() string {
	switch s {
	case ScopeUserResource:
		return "user_resource"
	case ScopeIP:
		return "ip"
	case ScopeResource:
		return "resource"
	case ScopeGlobalByIP:
		return "global_ip"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Target identifies the subject of a count. Only the fields the scope needs
// are read.
type Target struct {
	UserID    *int64
	PackageID int64
	IP        string
}

// Store persists download records in DuckDB.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a ledger on db. Call InitSchema before use.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// InitSchema creates the ledger tables and their window indexes.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS download_records_id_seq START 1`,
		`CREATE TABLE IF NOT EXISTS download_records (
			id BIGINT PRIMARY KEY DEFAULT nextval('download_records_id_seq'),
			user_id BIGINT,
			package_id BIGINT NOT NULL,
			ip_address VARCHAR NOT NULL,
			user_agent VARCHAR,
			download_time TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_download_records_user_pkg ON download_records(user_id, package_id, download_time)`,
		`CREATE INDEX IF NOT EXISTS idx_download_records_ip ON download_records(ip_address, download_time)`,
		`CREATE INDEX IF NOT EXISTS idx_download_records_pkg ON download_records(package_id, download_time)`,
		`CREATE TABLE IF NOT EXISTS resource_access_stats (
			package_id BIGINT NOT NULL,
			day DATE NOT NULL,
			view_count BIGINT NOT NULL DEFAULT 0,
			download_count BIGINT NOT NULL DEFAULT 0,
			unique_downloaders BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (package_id, day)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create ledger schema: %w", err)
		}
	}
	return nil
}

// Record appends a download. The daily counters are updated afterwards; a
// failure there is logged and does not fail the append.
func (s *Store) Record(ctx context.Context, rec models.DownloadRecord) (int64, error) {
	if rec.PackageID <= 0 || strings.TrimSpace(rec.IPAddress) == "" {
		return 0, ErrInvalidRecord
	}
	if rec.DownloadTime.IsZero() {
		rec.DownloadTime = s.now()
	}
	rec.DownloadTime = rec.DownloadTime.UTC()

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO download_records (user_id, package_id, ip_address, user_agent, download_time)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		database.NullInt64(rec.UserID), rec.PackageID, rec.IPAddress,
		database.NullString(rec.UserAgent), rec.DownloadTime,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record download: %w", err)
	}

	if err := s.bumpDownloadStats(ctx, rec.PackageID, rec.DownloadTime); err != nil {
		logging.Warn().Err(err).
			Int64("package_id", rec.PackageID).
			Msg("Failed to update resource access stats")
	}
	return id, nil
}

func (s *Store) bumpDownloadStats(ctx context.Context, packageID int64, at time.Time) error {
	dayStart := truncateDay(at)
	return database.WithRetry(ctx, func(ctx context.Context) error {
		var unique int64
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(DISTINCT ip_address) FROM download_records
			WHERE package_id = ? AND download_time >= ? AND download_time < ?`,
			packageID, dayStart, dayStart.AddDate(0, 0, 1),
		).Scan(&unique)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO resource_access_stats (package_id, day, view_count, download_count, unique_downloaders)
			VALUES (?, CAST(? AS DATE), 0, 1, ?)
			ON CONFLICT (package_id, day) DO UPDATE SET
				download_count = download_count + 1,
				unique_downloaders = EXCLUDED.unique_downloaders`,
			packageID, dayStart, unique)
		return err
	})
}

// RecordView increments today's view counter for a package.
func (s *Store) RecordView(ctx context.Context, packageID int64) error {
	if packageID <= 0 {
		return ErrInvalidRecord
	}
	day := truncateDay(s.now())
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO resource_access_stats (package_id, day, view_count, download_count, unique_downloaders)
			VALUES (?, CAST(? AS DATE), 1, 0, 0)
			ON CONFLICT (package_id, day) DO UPDATE SET view_count = view_count + 1`,
			packageID, day)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record view: %w", err)
	}
	return nil
}

// CountInWindow counts downloads for target in the trailing window of the
// given hours. The window start is inclusive.
func (s *Store) CountInWindow(ctx context.Context, scope Scope, target Target, hours int) (int, error) {
	since := s.now().Add(-time.Duration(hours) * time.Hour)

	var (
		where string
		args  []interface{}
	)
	switch scope {
	case ScopeUserResource:
		if target.UserID == nil {
			return 0, nil
		}
		where = "user_id = ? AND package_id = ?"
		args = []interface{}{*target.UserID, target.PackageID}
	case ScopeIP, ScopeGlobalByIP:
		where = "ip_address = ?"
		args = []interface{}{target.IP}
	case ScopeResource:
		where = "package_id = ?"
		args = []interface{}{target.PackageID}
	default:
		return 0, fmt.Errorf("unknown count scope %s", scope)
	}
	args = append(args, since)

	var n int
	// #nosec G202 -- where is one of the constant clauses above
	q := "SELECT COUNT(*) FROM download_records WHERE " + where + " AND download_time >= ?"
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s downloads: %w", scope, err)
	}
	return n, nil
}

// DailyStats returns the counters for a package from the last days days,
// newest first.
func (s *Store) DailyStats(ctx context.Context, packageID int64, days int) ([]models.ResourceAccessStat, error) {
	since := truncateDay(s.now()).AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT package_id, day, view_count, download_count, unique_downloaders
		FROM resource_access_stats
		WHERE package_id = ? AND day >= CAST(? AS DATE)
		ORDER BY day DESC`,
		packageID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query access stats: %w", err)
	}
	defer rows.Close()

	var stats []models.ResourceAccessStat
	for rows.Next() {
		var st models.ResourceAccessStat
		if err := rows.Scan(&st.PackageID, &st.Day, &st.ViewCount, &st.DownloadCount, &st.UniqueDownloaders); err != nil {
			return nil, fmt.Errorf("failed to scan access stats: %w", err)
		}
		st.Day = st.Day.UTC()
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// DownloadStats summarizes the ledger over the trailing hours.
func (s *Store) DownloadStats(ctx context.Context, hours int) (models.DownloadStats, error) {
	st := models.DownloadStats{WindowHours: hours}
	since := s.now().Add(-time.Duration(hours) * time.Hour)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT ip_address), COUNT(DISTINCT user_id), COUNT(DISTINCT package_id)
		FROM download_records
		WHERE download_time >= ?`, since,
	).Scan(&st.TotalDownloads, &st.UniqueIPs, &st.UniqueUsers, &st.UniquePackages)
	if err != nil {
		return st, fmt.Errorf("failed to query download stats: %w", err)
	}
	return st, nil
}

// ViewStats sums views and downloads across all packages for the last days.
func (s *Store) ViewStats(ctx context.Context, days int) (models.ViewStats, error) {
	st := models.ViewStats{WindowDays: days}
	since := truncateDay(s.now()).AddDate(0, 0, -days)
	err := s.db.QueryRowContext(ctx, `
		SELECT CAST(COALESCE(SUM(view_count), 0) AS BIGINT),
		       CAST(COALESCE(SUM(download_count), 0) AS BIGINT)
		FROM resource_access_stats
		WHERE day >= CAST(? AS DATE)`, since,
	).Scan(&st.TotalViews, &st.TotalDownloads)
	if err != nil {
		return st, fmt.Errorf("failed to query view stats: %w", err)
	}
	if st.TotalViews > 0 {
		st.DownloadRate = float64(st.TotalDownloads) / float64(st.TotalViews)
	}
	return st, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
