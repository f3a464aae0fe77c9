// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/dlguard/internal/logging"
	"github.com/tomtom215/dlguard/internal/metrics"
)

// documentName is the primary key of the single persisted document.
const documentName = "download_security"

// Source names where the effective settings came from.
type Source string

// Settings sources.
const (
	SourcePersisted Source = "persisted"
	SourceDefault   Source = "default"
)

// Status describes the most recent effective-settings read.
type Status struct {
	Source Source `json:"source"`

	// Degraded is true when the last read fell back to defaults because the
	// persisted document could not be loaded.
	Degraded    bool       `json:"degraded"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	Fallbacks   int64      `json:"fallbacks"`
}

// Store reads and writes the persisted settings document.
type Store struct {
	db *sql.DB

	mu       sync.RWMutex
	defaults Settings
	status   Status
}

// NewStore creates a settings store. defaults are the compiled-in settings
// used whenever no document is persisted.
func NewStore(db *sql.DB, defaults Settings) *Store {
	return &Store{
		db:       db,
		defaults: defaults,
		status:   Status{Source: SourceDefault},
	}
}

// InitSchema creates the settings table.
func (s *Store) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS security_settings (
			name VARCHAR PRIMARY KEY,
			document VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			updated_by VARCHAR NOT NULL DEFAULT 'system'
		)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create security_settings: %w", err)
	}
	return nil
}

// Defaults returns the compiled-in settings currently in use.
func (s *Store) Defaults() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// SetDefaults replaces the compiled-in settings, e.g. after the config file
// is reloaded. It has no effect while a document is persisted.
func (s *Store) SetDefaults(defaults Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = defaults
}

// Status returns a snapshot of the last effective-settings read.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Effective returns the persisted document if present, else the defaults.
// It never fails: load errors fall back to the defaults and are recorded.
func (s *Store) Effective(ctx context.Context) Settings {
	persisted, err := s.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case err != nil:
		now := time.Now().UTC()
		s.status.Source = SourceDefault
		s.status.Degraded = true
		s.status.LastError = err.Error()
		s.status.LastErrorAt = &now
		s.status.Fallbacks++
		metrics.RecordConfigRead(true)
		logging.Ctx(ctx).Warn().Err(err).Msg("security settings unavailable, using compiled defaults")
		return s.defaults
	case persisted == nil:
		s.status.Source = SourceDefault
		s.status.Degraded = false
		metrics.RecordConfigRead(false)
		return s.defaults
	default:
		s.status.Source = SourcePersisted
		s.status.Degraded = false
		metrics.RecordConfigRead(false)
		return *persisted
	}
}

// Load returns the persisted document, or nil when none exists.
func (s *Store) Load(ctx context.Context) (*Settings, error) {
	var document string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM security_settings WHERE name = ?`, documentName).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query security settings: %w", err)
	}

	var cfg Settings
	if err := json.Unmarshal([]byte(document), &cfg); err != nil {
		return nil, fmt.Errorf("decode security settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Persist validates cfg and stores it as the effective settings. The whole
// document is replaced.
func (s *Store) Persist(ctx context.Context, cfg Settings, actor string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if actor == "" {
		actor = "system"
	}

	document, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode security settings: %w", err)
	}

	query := `
		INSERT INTO security_settings (name, document, updated_at, updated_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`
	if _, err := s.db.ExecContext(ctx, query, documentName, string(document), time.Now().UTC(), actor); err != nil {
		return fmt.Errorf("persist security settings: %w", err)
	}

	logging.Ctx(ctx).Info().Str("actor", actor).Msg("security settings persisted")
	return nil
}

// Reset deletes the persisted document so the defaults become effective.
func (s *Store) Reset(ctx context.Context, actor string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM security_settings WHERE name = ?`, documentName); err != nil {
		return fmt.Errorf("reset security settings: %w", err)
	}
	logging.Ctx(ctx).Info().Str("actor", actor).Msg("security settings reset to defaults")
	return nil
}
