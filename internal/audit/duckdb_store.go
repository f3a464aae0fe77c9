// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/dlguard/internal/database"
	"github.com/tomtom215/dlguard/internal/database/query"
	"github.com/tomtom215/dlguard/internal/models"
)

// DuckDBStore implements Store using DuckDB for persistent storage.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore creates a new DuckDB-backed audit store.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// InitSchema creates the security_actions table.
func (s *DuckDBStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS security_actions_id_seq START 1`,
		`CREATE TABLE IF NOT EXISTS security_actions (
			id BIGINT PRIMARY KEY DEFAULT nextval('security_actions_id_seq'),
			action_type VARCHAR NOT NULL,
			target_type VARCHAR NOT NULL,
			target_id VARCHAR NOT NULL,
			reason VARCHAR NOT NULL,
			severity VARCHAR,
			duration_hours INTEGER,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			created_by VARCHAR NOT NULL,
			notes VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_security_actions_target ON security_actions(target_type, target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_security_actions_created ON security_actions(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create audit schema: %w", err)
		}
	}
	return nil
}

// Save inserts action and sets its ID.
func (s *DuckDBStore) Save(ctx context.Context, action *SecurityAction) error {
	var severity interface{}
	if action.Severity != "" {
		severity = string(action.Severity)
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO security_actions
			(action_type, target_type, target_id, reason, severity, duration_hours, created_at, expires_at, created_by, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		string(action.ActionType), string(action.TargetType), action.TargetID, action.Reason,
		severity, database.NullInt(action.DurationHours), action.CreatedAt.UTC(),
		database.NullTime(action.ExpiresAt), action.CreatedBy, database.NullString(action.Notes),
	).Scan(&action.ID)
	if err != nil {
		return fmt.Errorf("failed to save security action: %w", err)
	}
	return nil
}

func buildFilter(filter QueryFilter) (string, []interface{}) {
	types := make([]string, len(filter.ActionTypes))
	for i, t := range filter.ActionTypes {
		types[i] = string(t)
	}
	return query.NewWhereBuilder().
		AddIn("action_type", types).
		AddEquals("target_type", string(filter.TargetType)).
		AddEquals("target_id", filter.TargetID).
		AddEquals("created_by", filter.CreatedBy).
		AddSince("created_at", filter.Since).
		BuildWithPrefix()
}

// Query returns actions matching filter, newest first.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]SecurityAction, error) {
	where, args := buildFilter(filter)
	page, pageArgs := query.Pagination(filter.Limit, filter.Offset, 100, 1000)

	// #nosec G202 -- where is built from constant column names with bound values
	q := `SELECT id, action_type, target_type, target_id, reason, severity, duration_hours,
			created_at, expires_at, created_by, notes
		FROM security_actions ` + where + ` ORDER BY created_at DESC, id DESC` + page
	rows, err := s.db.QueryContext(ctx, q, append(args, pageArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security actions: %w", err)
	}
	defer rows.Close()

	var out []SecurityAction
	for rows.Next() {
		var (
			a                      SecurityAction
			actionType, targetType string
			severity, notes        sql.NullString
			duration               sql.NullInt64
			expiresAt              sql.NullTime
		)
		if err := rows.Scan(&a.ID, &actionType, &targetType, &a.TargetID, &a.Reason, &severity,
			&duration, &a.CreatedAt, &expiresAt, &a.CreatedBy, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan security action: %w", err)
		}
		a.ActionType = ActionType(actionType)
		a.TargetType = TargetType(targetType)
		a.Severity = models.Severity(severity.String)
		a.DurationHours = database.IntPtr(duration)
		a.ExpiresAt = database.TimePtr(expiresAt)
		a.Notes = database.StringPtr(notes)
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Count returns the number of actions matching filter.
func (s *DuckDBStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	where, args := buildFilter(filter)
	var n int64
	// #nosec G202 -- where is built from constant column names with bound values
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_actions `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count security actions: %w", err)
	}
	return n, nil
}

// Delete removes actions created before olderThan.
func (s *DuckDBStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_actions WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete security actions: %w", err)
	}
	return res.RowsAffected()
}
