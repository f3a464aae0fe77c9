// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package detection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/dlguard/internal/database"
	"github.com/tomtom215/dlguard/internal/database/query"
	"github.com/tomtom215/dlguard/internal/models"
)

// AnomalyStore persists anomalies in DuckDB.
type AnomalyStore struct {
	db *sql.DB
}

// NewAnomalyStore creates an anomaly store on db.
func NewAnomalyStore(db *sql.DB) *AnomalyStore {
	return &AnomalyStore{db: db}
}

const anomalySelectColumns = `id, anomaly_type, user_id, package_id, ip_address, details,
	severity, confidence, is_resolved, created_at, resolved_at`

// InitSchema creates the download_anomalies table.
func (s *AnomalyStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS download_anomalies_id_seq START 1`,
		`CREATE TABLE IF NOT EXISTS download_anomalies (
			id BIGINT PRIMARY KEY DEFAULT nextval('download_anomalies_id_seq'),
			anomaly_type VARCHAR NOT NULL,
			user_id BIGINT,
			package_id BIGINT,
			ip_address VARCHAR,
			details VARCHAR,
			severity VARCHAR NOT NULL,
			confidence DOUBLE,
			is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_download_anomalies_ip ON download_anomalies(ip_address, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_download_anomalies_created ON download_anomalies(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create anomaly schema: %w", err)
		}
	}
	return nil
}

// NewDetails marshals v into an anomaly details document.
func NewDetails(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Save inserts a and sets its ID and CreatedAt.
func (s *AnomalyStore) Save(ctx context.Context, a *models.DownloadAnomaly) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var details interface{}
	if len(a.Details) > 0 {
		details = string(a.Details)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO download_anomalies
			(anomaly_type, user_id, package_id, ip_address, details, severity, confidence, is_resolved, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		string(a.AnomalyType), database.NullInt64(a.UserID), database.NullInt64(a.PackageID),
		database.NullString(a.IPAddress), details, string(a.Severity),
		database.NullFloat64(a.Confidence), a.IsResolved, a.CreatedAt.UTC(), database.NullTime(a.ResolvedAt),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to save anomaly: %w", err)
	}
	return nil
}

// Get returns the anomaly with id, or nil when it does not exist.
func (s *AnomalyStore) Get(ctx context.Context, id int64) (*models.DownloadAnomaly, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anomalySelectColumns+` FROM download_anomalies WHERE id = ?`, id)
	a, err := scanAnomaly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly: %w", err)
	}
	return a, nil
}

// Resolve marks an anomaly resolved. Resolving twice keeps the first
// resolution time.
func (s *AnomalyStore) Resolve(ctx context.Context, id int64) (*models.DownloadAnomaly, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE download_anomalies SET is_resolved = TRUE, resolved_at = ?
		WHERE id = ? AND is_resolved = FALSE`,
		time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve anomaly: %w", err)
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAnomalyNotFound
	}
	return a, nil
}

// List returns anomalies matching f, newest first.
func (s *AnomalyStore) List(ctx context.Context, f AnomalyFilter) ([]models.DownloadAnomaly, error) {
	severities := make([]string, len(f.Severities))
	for i, sev := range f.Severities {
		severities[i] = string(sev)
	}

	where, args := query.NewWhereBuilder().
		AddEquals("anomaly_type", string(f.AnomalyType)).
		AddIn("severity", severities).
		AddEquals("ip_address", f.IPAddress).
		AddInt64("user_id", f.UserID).
		AddInt64("package_id", f.PackageID).
		AddBool("is_resolved", f.Resolved).
		AddSince("created_at", f.Since).
		BuildWithPrefix()
	page, pageArgs := query.Pagination(f.Limit, f.Offset, 100, 1000)

	// #nosec G202 -- where is built from constant column names with bound values
	q := `SELECT ` + anomalySelectColumns + ` FROM download_anomalies ` + where +
		` ORDER BY created_at DESC, id DESC` + page
	rows, err := s.db.QueryContext(ctx, q, append(args, pageArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var out []models.DownloadAnomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CountForIP counts anomalies for ip at the given severities since since.
func (s *AnomalyStore) CountForIP(ctx context.Context, ip string, severities []models.Severity, since time.Time) (int, error) {
	sevs := make([]string, len(severities))
	for i, sev := range severities {
		sevs[i] = string(sev)
	}
	where, args := query.NewWhereBuilder().
		AddEquals("ip_address", ip).
		AddIn("severity", sevs).
		AddSince("created_at", &since).
		Build()

	var n int
	// #nosec G202 -- where is built from constant column names with bound values
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM download_anomalies WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count anomalies: %w", err)
	}
	return n, nil
}

// Stats aggregates anomalies created in the last days days.
func (s *AnomalyStore) Stats(ctx context.Context, days int) (models.AnomalyStats, error) {
	st := models.AnomalyStats{WindowDays: days}
	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `
		SELECT anomaly_type, severity, COUNT(*)
		FROM download_anomalies
		WHERE created_at >= ?
		GROUP BY anomaly_type, severity`, since)
	if err != nil {
		return st, fmt.Errorf("failed to query anomaly stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			anomalyType, severity string
			n                     int64
		)
		if err := rows.Scan(&anomalyType, &severity, &n); err != nil {
			return st, fmt.Errorf("failed to scan anomaly stats: %w", err)
		}
		st.TotalAnomalies += n

		switch models.Severity(severity) {
		case models.SeverityCritical:
			st.BySeverity.Critical += n
		case models.SeverityHigh:
			st.BySeverity.High += n
		case models.SeverityMedium:
			st.BySeverity.Medium += n
		case models.SeverityLow:
			st.BySeverity.Low += n
		}
		switch models.AnomalyType(anomalyType) {
		case models.AnomalyRateLimitExceeded:
			st.ByType.RateLimitExceeded += n
		case models.AnomalySuspiciousPattern:
			st.ByType.SuspiciousPattern += n
		case models.AnomalyStatistical:
			st.ByType.StatisticalAnomaly += n
		}
	}
	return st, rows.Err()
}

// scanAnomaly scans a single anomaly row with nullable fields handling.
func scanAnomaly(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.DownloadAnomaly, error) {
	var (
		a                 models.DownloadAnomaly
		anomalyType, sev  string
		userID, packageID sql.NullInt64
		ip, details       sql.NullString
		confidence        sql.NullFloat64
		resolvedAt        sql.NullTime
	)
	if err := scanner.Scan(&a.ID, &anomalyType, &userID, &packageID, &ip, &details,
		&sev, &confidence, &a.IsResolved, &a.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	a.AnomalyType = models.AnomalyType(anomalyType)
	a.Severity = models.Severity(sev)
	a.UserID = database.Int64Ptr(userID)
	a.PackageID = database.Int64Ptr(packageID)
	a.IPAddress = database.StringPtr(ip)
	a.Confidence = database.Float64Ptr(confidence)
	a.ResolvedAt = database.TimePtr(resolvedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	if details.Valid && details.String != "" {
		a.Details = json.RawMessage(details.String)
	}
	return &a, nil
}
