// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package audit

import (
	"context"
	"time"

	"github.com/tomtom215/dlguard/internal/logging"
)

// DefaultRetentionDays is how long security actions are kept.
const DefaultRetentionDays = 365

// Logger records security actions and mirrors them to the structured log.
type Logger struct {
	store         Store
	retentionDays int
	now           func() time.Time
}

// NewLogger creates a logger on store. retentionDays <= 0 uses the default.
func NewLogger(store Store, retentionDays int) *Logger {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Logger{
		store:         store,
		retentionDays: retentionDays,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Log persists action, filling in CreatedAt and CreatedBy when unset.
func (l *Logger) Log(ctx context.Context, action *SecurityAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = l.now()
	}
	if action.CreatedBy == "" {
		action.CreatedBy = SystemActor
	}

	if err := l.store.Save(ctx, action); err != nil {
		logging.Error().Err(err).
			Str("action", string(action.ActionType)).
			Str("target", action.TargetID).
			Msg("Failed to save security action")
		return err
	}

	logging.Info().
		Int64("action_id", action.ID).
		Str("action", string(action.ActionType)).
		Str("target_type", string(action.TargetType)).
		Str("target", action.TargetID).
		Str("severity", string(action.Severity)).
		Str("actor", action.CreatedBy).
		Str("reason", action.Reason).
		Msg("Security action")
	return nil
}

// Query returns matching actions, newest first.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]SecurityAction, error) {
	return l.store.Query(ctx, filter)
}

// Count returns the number of matching actions.
func (l *Logger) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return l.store.Count(ctx, filter)
}

// Cleanup deletes actions older than the retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := l.now().AddDate(0, 0, -l.retentionDays)
	n, err := l.store.Delete(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info().Int64("deleted", n).Int("retention_days", l.retentionDays).Msg("Security action retention cleanup")
	}
	return n, nil
}
