// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

// Package guard is the single decision point for download attempts.
//
// CheckDownloadAllowed runs the ban check, the rate limiter, the heuristic
// detector and the statistical detector in that order against the effective
// settings read fresh for each call. Every stage fails open: a datastore
// error is logged, counted in dlguard_check_errors_total and the stage is
// skipped, so infrastructure trouble never turns into a denial.
package guard

import (
	"database/sql"
	"fmt"

	"github.com/tomtom215/dlguard/internal/audit"
	"github.com/tomtom215/dlguard/internal/bans"
	"github.com/tomtom215/dlguard/internal/database"
	"github.com/tomtom215/dlguard/internal/detection"
	"github.com/tomtom215/dlguard/internal/ledger"
	"github.com/tomtom215/dlguard/internal/ratelimit"
	"github.com/tomtom215/dlguard/internal/settings"
)

// Deps are the collaborators of a Service. All are required.
type Deps struct {
	DB          *sql.DB
	Settings    *settings.Store
	Ledger      *ledger.Store
	Limiter     *ratelimit.Limiter
	Heuristic   *detection.Heuristic
	Statistical *detection.Statistical
	Anomalies   *detection.AnomalyStore
	Bans        *bans.Manager
	Audit       *audit.Logger
}

// Service is the download security service.
type Service struct {
	db          *sql.DB
	settings    *settings.Store
	ledger      *ledger.Store
	limiter     *ratelimit.Limiter
	heuristic   *detection.Heuristic
	statistical *detection.Statistical
	anomalies   *detection.AnomalyStore
	bans        *bans.Manager
	audit       *audit.Logger
}

// New creates a Service.
func New(d Deps) (*Service, error) {
	switch {
	case d.DB == nil:
		return nil, fmt.Errorf("guard: DB is required")
	case d.Settings == nil:
		return nil, fmt.Errorf("guard: Settings is required")
	case d.Ledger == nil:
		return nil, fmt.Errorf("guard: Ledger is required")
	case d.Limiter == nil:
		return nil, fmt.Errorf("guard: Limiter is required")
	case d.Heuristic == nil || d.Statistical == nil:
		return nil, fmt.Errorf("guard: detectors are required")
	case d.Anomalies == nil:
		return nil, fmt.Errorf("guard: Anomalies is required")
	case d.Bans == nil:
		return nil, fmt.Errorf("guard: Bans is required")
	case d.Audit == nil:
		return nil, fmt.Errorf("guard: Audit is required")
	}
	return &Service{
		db:          d.DB,
		settings:    d.Settings,
		ledger:      d.Ledger,
		limiter:     d.Limiter,
		heuristic:   d.Heuristic,
		statistical: d.Statistical,
		anomalies:   d.Anomalies,
		bans:        d.Bans,
		audit:       d.Audit,
	}, nil
}

// Options configure Build.
type Options struct {
	Defaults      settings.Settings
	Limiter       ratelimit.Config
	RetentionDays int
	Notifiers     []detection.Notifier
}

// Stack is a Service with the stores it was built on.
type Stack struct {
	Service *Service
	Rules   *ratelimit.RuleStore
	Schemas []database.SchemaInitializer
}

// Build wires a Service and all its stores on db. The caller initializes
// Schemas before use.
func Build(db *sql.DB, opts Options) (*Stack, error) {
	settingsStore := settings.NewStore(db, opts.Defaults)
	ledgerStore := ledger.NewStore(db)
	rules := ratelimit.NewRuleStore(db)
	anomalies := detection.NewAnomalyStore(db)
	banStore := bans.NewStore(db)
	auditStore := audit.NewDuckDBStore(db)
	actions := audit.NewLogger(auditStore, opts.RetentionDays)

	svc, err := New(Deps{
		DB:          db,
		Settings:    settingsStore,
		Ledger:      ledgerStore,
		Limiter:     ratelimit.NewLimiter(rules, ledgerStore, opts.Limiter),
		Heuristic:   detection.NewHeuristic(ledgerStore),
		Statistical: detection.NewStatistical(ledgerStore),
		Anomalies:   anomalies,
		Bans:        bans.NewManager(banStore, settingsStore, anomalies, actions, opts.Notifiers),
		Audit:       actions,
	})
	if err != nil {
		return nil, err
	}
	return &Stack{
		Service: svc,
		Rules:   rules,
		Schemas: []database.SchemaInitializer{settingsStore, ledgerStore, rules, anomalies, banStore, auditStore},
	}, nil
}

// Settings returns the settings store.
func (s *Service) Settings() *settings.Store {
	return s.settings
}

// Limiter returns the rate limiter.
func (s *Service) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// WaitNotifications blocks until in-flight admin notifications finish.
func (s *Service) WaitNotifications() {
	s.bans.WaitNotifications()
}
