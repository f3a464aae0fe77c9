// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

// Package audit records enforcement and administrative actions (bans,
// unbans, whitelist changes, warnings) in the security_actions table.
package audit

import (
	"context"
	"time"

	"github.com/tomtom215/dlguard/internal/models"
)

// ActionType categorizes security actions.
type ActionType string

const (
	ActionIPBan           ActionType = "ip_ban"
	ActionIPUnban         ActionType = "ip_unban"
	ActionWhitelistAdd    ActionType = "whitelist_add"
	ActionWhitelistRemove ActionType = "whitelist_remove"
	ActionUserWarning     ActionType = "user_warning"
	ActionLogOnly         ActionType = "log_only"
	ActionConfigChange    ActionType = "config_change"
)

// TargetType is the kind of subject an action applies to.
type TargetType string

const (
	TargetIP     TargetType = "ip"
	TargetUser   TargetType = "user"
	TargetConfig TargetType = "config"
)

// SystemActor is the creator of automatic actions.
const SystemActor = "system"

// SecurityAction is one audited action.
type SecurityAction struct {
	ID            int64           `json:"id"`
	ActionType    ActionType      `json:"action_type"`
	TargetType    TargetType      `json:"target_type"`
	TargetID      string          `json:"target_id"`
	Reason        string          `json:"reason"`
	Severity      models.Severity `json:"severity,omitempty"`
	DurationHours *int            `json:"duration_hours,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	CreatedBy     string          `json:"created_by"`
	Notes         *string         `json:"notes,omitempty"`
}

// QueryFilter narrows Query and Count. Zero values are ignored.
type QueryFilter struct {
	ActionTypes []ActionType
	TargetType  TargetType
	TargetID    string
	CreatedBy   string
	Since       *time.Time
	Limit       int
	Offset      int
}

// Store persists security actions.
type Store interface {
	Save(ctx context.Context, action *SecurityAction) error
	Query(ctx context.Context, filter QueryFilter) ([]SecurityAction, error)
	Count(ctx context.Context, filter QueryFilter) (int64, error)
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}
