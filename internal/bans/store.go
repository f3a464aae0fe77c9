// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package bans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/dlguard/internal/database"
	"github.com/tomtom215/dlguard/internal/database/query"
	"github.com/tomtom215/dlguard/internal/models"
)

// Store persists ban state, the ban event history and the whitelist.
//
// ip_bans holds the current state per IP and is rewritten in place; every
// transition is also appended to ip_ban_events in the same transaction.
type Store struct {
	db *sql.DB
}

// NewStore creates a ban store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates the ban, ban event and whitelist tables.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ip_bans (
			ip_address VARCHAR PRIMARY KEY,
			reason VARCHAR NOT NULL,
			ban_type VARCHAR NOT NULL,
			duration_hours INTEGER,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_by VARCHAR NOT NULL,
			notes VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ip_bans_active ON ip_bans(is_active)`,
		`CREATE SEQUENCE IF NOT EXISTS ip_ban_events_id_seq START 1`,
		`CREATE TABLE IF NOT EXISTS ip_ban_events (
			id BIGINT PRIMARY KEY DEFAULT nextval('ip_ban_events_id_seq'),
			ip_address VARCHAR NOT NULL,
			action VARCHAR NOT NULL,
			ban_type VARCHAR,
			reason VARCHAR NOT NULL,
			previous_active BOOLEAN NOT NULL,
			new_active BOOLEAN NOT NULL,
			expires_at TIMESTAMP,
			actor VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ip_ban_events_ip ON ip_ban_events(ip_address)`,
		`CREATE TABLE IF NOT EXISTS ip_whitelist (
			ip_address VARCHAR PRIMARY KEY,
			description VARCHAR NOT NULL,
			created_by VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create ban schema: %w", err)
		}
	}
	return nil
}

const banColumns = `ip_address, reason, ban_type, duration_hours, created_at, expires_at, is_active, created_by, notes`

// GetBan returns the ban row for ip, or nil when none exists.
func (s *Store) GetBan(ctx context.Context, ip string) (*models.IPBan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+banColumns+` FROM ip_bans WHERE ip_address = ?`, ip)
	ban, err := scanBan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ban: %w", err)
	}
	return ban, nil
}

// UpsertBan replaces the ban row for ban.IPAddress and appends a ban event.
func (s *Store) UpsertBan(ctx context.Context, ban *models.IPBan) error {
	return database.WithRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin ban transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // no-op after commit

		var previous bool
		err = tx.QueryRowContext(ctx, `SELECT is_active FROM ip_bans WHERE ip_address = ?`, ban.IPAddress).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read ban state: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO ip_bans (`+banColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (ip_address) DO UPDATE SET
				reason = EXCLUDED.reason,
				ban_type = EXCLUDED.ban_type,
				duration_hours = EXCLUDED.duration_hours,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at,
				is_active = EXCLUDED.is_active,
				created_by = EXCLUDED.created_by,
				notes = EXCLUDED.notes`,
			ban.IPAddress, ban.Reason, string(ban.BanType), database.NullInt(ban.DurationHours),
			ban.CreatedAt.UTC(), database.NullTime(ban.ExpiresAt), ban.IsActive, ban.CreatedBy,
			database.NullString(ban.Notes))
		if err != nil {
			return fmt.Errorf("failed to upsert ban: %w", err)
		}

		if err := insertEvent(ctx, tx, &models.BanEvent{
			IPAddress:      ban.IPAddress,
			Action:         models.BanEventBan,
			BanType:        ban.BanType,
			Reason:         ban.Reason,
			PreviousActive: previous,
			NewActive:      ban.IsActive,
			ExpiresAt:      ban.ExpiresAt,
			Actor:          ban.CreatedBy,
			CreatedAt:      ban.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Deactivate marks the ban for ip inactive and appends an event with the
// given action. When onlyExpired is set the row is only touched if it is
// active and its expiry is before now. It reports whether a row changed.
func (s *Store) Deactivate(ctx context.Context, ip string, action models.BanEventAction, reason, actor string, onlyExpired bool, now time.Time) (bool, error) {
	var changed bool
	err := database.WithRetry(ctx, func(ctx context.Context) error {
		changed = false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin ban transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // no-op after commit

		q := `UPDATE ip_bans SET is_active = false WHERE ip_address = ? AND is_active`
		args := []interface{}{ip}
		if onlyExpired {
			q += ` AND expires_at IS NOT NULL AND expires_at < ?`
			args = append(args, now.UTC())
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("failed to deactivate ban: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to deactivate ban: %w", err)
		}
		if n == 0 {
			return nil
		}

		var (
			banType   string
			expiresAt sql.NullTime
		)
		if err := tx.QueryRowContext(ctx,
			`SELECT ban_type, expires_at FROM ip_bans WHERE ip_address = ?`, ip).Scan(&banType, &expiresAt); err != nil {
			return fmt.Errorf("failed to read ban: %w", err)
		}

		if err := insertEvent(ctx, tx, &models.BanEvent{
			IPAddress:      ip,
			Action:         action,
			BanType:        models.BanType(banType),
			Reason:         reason,
			PreviousActive: true,
			NewActive:      false,
			ExpiresAt:      database.TimePtr(expiresAt),
			Actor:          actor,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit ban transaction: %w", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev *models.BanEvent) error {
	var banType interface{}
	if ev.BanType != "" {
		banType = string(ev.BanType)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ip_ban_events
			(ip_address, action, ban_type, reason, previous_active, new_active, expires_at, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.IPAddress, string(ev.Action), banType, ev.Reason, ev.PreviousActive, ev.NewActive,
		database.NullTime(ev.ExpiresAt), ev.Actor, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append ban event: %w", err)
	}
	return nil
}

// ListBans returns bans, newest first. activeOnly excludes inactive and
// already expired bans.
func (s *Store) ListBans(ctx context.Context, activeOnly bool, limit, offset int, now time.Time) ([]models.IPBan, error) {
	wb := query.NewWhereBuilder()
	if activeOnly {
		wb.AddClause("is_active").
			AddClause("(expires_at IS NULL OR expires_at >= ?)", now.UTC())
	}
	where, args := wb.BuildWithPrefix()
	page, pageArgs := query.Pagination(limit, offset, 100, 1000)

	// #nosec G202 -- where is built from constant clauses with bound values
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+banColumns+` FROM ip_bans `+where+` ORDER BY created_at DESC, ip_address`+page,
		append(args, pageArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	defer rows.Close()

	var out []models.IPBan
	for rows.Next() {
		ban, err := scanBan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ban: %w", err)
		}
		out = append(out, *ban)
	}
	return out, rows.Err()
}

// History returns the ban events for ip, newest first.
func (s *Store) History(ctx context.Context, ip string, limit int) ([]models.BanEvent, error) {
	page, pageArgs := query.Pagination(limit, 0, 50, 1000)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ip_address, action, ban_type, reason, previous_active, new_active, expires_at, actor, created_at
		FROM ip_ban_events
		WHERE ip_address = ?
		ORDER BY id DESC`+page,
		append([]interface{}{ip}, pageArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ban history: %w", err)
	}
	defer rows.Close()

	var out []models.BanEvent
	for rows.Next() {
		var (
			ev        models.BanEvent
			action    string
			banType   sql.NullString
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.IPAddress, &action, &banType, &ev.Reason, &ev.PreviousActive,
			&ev.NewActive, &expiresAt, &ev.Actor, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ban event: %w", err)
		}
		ev.Action = models.BanEventAction(action)
		ev.BanType = models.BanType(banType.String)
		ev.ExpiresAt = database.TimePtr(expiresAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Counts returns total, currently active and recently created ban counts.
func (s *Store) Counts(ctx context.Context, now time.Time) (total, active, recent int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active AND (expires_at IS NULL OR expires_at >= ?)),
			COUNT(*) FILTER (WHERE created_at >= ?)
		FROM ip_bans`, now.UTC(), now.UTC().Add(-24*time.Hour)).Scan(&total, &active, &recent)
	if err != nil {
		err = fmt.Errorf("failed to count bans: %w", err)
	}
	return total, active, recent, err
}

// IsWhitelisted reports whether ip has a whitelist entry.
func (s *Store) IsWhitelisted(ctx context.Context, ip string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ip_whitelist WHERE ip_address = ?`, ip).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check whitelist: %w", err)
	}
	return n > 0, nil
}

// UpsertWhitelist adds or replaces a whitelist entry.
func (s *Store) UpsertWhitelist(ctx context.Context, e *models.WhitelistEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_whitelist (ip_address, description, created_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ip_address) DO UPDATE SET
			description = EXCLUDED.description,
			created_by = EXCLUDED.created_by,
			created_at = EXCLUDED.created_at`,
		e.IPAddress, e.Description, e.CreatedBy, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert whitelist entry: %w", err)
	}
	return nil
}

// DeleteWhitelist removes ip from the whitelist and reports whether it was present.
func (s *Store) DeleteWhitelist(ctx context.Context, ip string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ip_whitelist WHERE ip_address = ?`, ip)
	if err != nil {
		return false, fmt.Errorf("failed to delete whitelist entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete whitelist entry: %w", err)
	}
	return n > 0, nil
}

// ListWhitelist returns every whitelist entry, newest first.
func (s *Store) ListWhitelist(ctx context.Context) ([]models.WhitelistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ip_address, description, created_by, created_at
		FROM ip_whitelist
		ORDER BY created_at DESC, ip_address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list whitelist: %w", err)
	}
	defer rows.Close()

	var out []models.WhitelistEntry
	for rows.Next() {
		var e models.WhitelistEntry
		if err := rows.Scan(&e.IPAddress, &e.Description, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanBan(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.IPBan, error) {
	var (
		ban       models.IPBan
		banType   string
		duration  sql.NullInt64
		expiresAt sql.NullTime
		notes     sql.NullString
	)
	if err := scanner.Scan(&ban.IPAddress, &ban.Reason, &banType, &duration, &ban.CreatedAt,
		&expiresAt, &ban.IsActive, &ban.CreatedBy, &notes); err != nil {
		return nil, err
	}
	ban.BanType = models.BanType(banType)
	ban.DurationHours = database.IntPtr(duration)
	ban.ExpiresAt = database.TimePtr(expiresAt)
	ban.Notes = database.StringPtr(notes)
	return &ban, nil
}
