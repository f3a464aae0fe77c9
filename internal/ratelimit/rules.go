// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/dlguard/internal/database"
	"github.com/tomtom215/dlguard/internal/models"
)

// ErrInvalidRule is returned for rules with an unknown type or non-positive
// limits.
var ErrInvalidRule = errors.New("invalid rate limit rule")

// RuleStore persists rate limit rules in DuckDB.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore creates a rule store on db.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// InitSchema creates the download_rate_limits table.
func (s *RuleStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS download_rate_limits_id_seq START 1`,
		`CREATE TABLE IF NOT EXISTS download_rate_limits (
			id BIGINT PRIMARY KEY DEFAULT nextval('download_rate_limits_id_seq'),
			rule_type VARCHAR NOT NULL,
			target_id BIGINT,
			time_window INTEGER NOT NULL,
			max_downloads INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create rate limit schema: %w", err)
		}
	}
	return nil
}

// ValidateRule checks a rule before it is stored.
func ValidateRule(r *models.RateLimitRule) error {
	if !r.RuleType.Valid() {
		return fmt.Errorf("%w: unknown rule_type %q", ErrInvalidRule, r.RuleType)
	}
	if r.TimeWindowHours <= 0 {
		return fmt.Errorf("%w: time_window must be positive", ErrInvalidRule)
	}
	if r.MaxDownloads <= 0 {
		return fmt.Errorf("%w: max_downloads must be positive", ErrInvalidRule)
	}
	return nil
}

// Create inserts a rule and returns its ID.
func (s *RuleStore) Create(ctx context.Context, r *models.RateLimitRule) (int64, error) {
	if err := ValidateRule(r); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO download_rate_limits
			(rule_type, target_id, time_window, max_downloads, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		string(r.RuleType), database.NullInt64(r.TargetID), r.TimeWindowHours,
		r.MaxDownloads, r.IsActive, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create rate limit rule: %w", err)
	}
	return id, nil
}

// SetActive toggles a rule.
func (s *RuleStore) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE download_rate_limits SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update rate limit rule: %w", err)
	}
	return nil
}

// Count returns the number of stored rules, active or not.
func (s *RuleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM download_rate_limits`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rate limit rules: %w", err)
	}
	return n, nil
}

// ActiveRules returns the active rules in evaluation order.
func (s *RuleStore) ActiveRules(ctx context.Context) ([]models.RateLimitRule, error) {
	return s.query(ctx, `WHERE is_active = TRUE`)
}

// List returns every rule.
func (s *RuleStore) List(ctx context.Context) ([]models.RateLimitRule, error) {
	return s.query(ctx, "")
}

func (s *RuleStore) query(ctx context.Context, where string) ([]models.RateLimitRule, error) {
	// #nosec G202 -- where is a constant supplied by the callers above
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_type, target_id, time_window, max_downloads, is_active, created_at, updated_at
		FROM download_rate_limits `+where+`
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate limit rules: %w", err)
	}
	defer rows.Close()

	var rules []models.RateLimitRule
	for rows.Next() {
		var (
			r        models.RateLimitRule
			ruleType string
			targetID sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &ruleType, &targetID, &r.TimeWindowHours, &r.MaxDownloads,
			&r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rate limit rule: %w", err)
		}
		r.RuleType = models.RuleType(ruleType)
		r.TargetID = database.Int64Ptr(targetID)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
