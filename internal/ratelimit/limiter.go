// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

// Package ratelimit enforces per-user, per-IP, per-resource and global
// download caps over trailing windows of the download ledger.
//
// Rules are evaluated in ID order. The first rule whose window count has
// reached its limit denies the download with a cooldown of the rule's full
// window; otherwise the decision carries the smallest headroom left across
// all rules that applied.
//
// Check-then-record is not atomic against the ledger: two concurrent checks
// can both see count = max-1 before either download is recorded. When
// reservations are enabled the limiter closes that gap for a single process
// by counting admitted-but-unrecorded downloads (held in a
// cache.SlidingWindowStore) and evaluating plus reserving under one mutex.
// Each allowed decision carries a reservation token naming the keys it took;
// only that token can give them back.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/dlguard/internal/cache"
	"github.com/tomtom215/dlguard/internal/ledger"
	"github.com/tomtom215/dlguard/internal/logging"
	"github.com/tomtom215/dlguard/internal/metrics"
	"github.com/tomtom215/dlguard/internal/models"
)

// RuleSource supplies the active rule set.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]models.RateLimitRule, error)
}

// Counter counts ledger entries in a trailing window.
type Counter interface {
	CountInWindow(ctx context.Context, scope ledger.Scope, target ledger.Target, hours int) (int, error)
}

// Identity is the subject of a download attempt.
type Identity struct {
	UserID    *int64
	PackageID int64
	IP        string
}

func (id Identity) target() ledger.Target {
	return ledger.Target{UserID: id.UserID, PackageID: id.PackageID, IP: id.IP}
}

// Decision is the outcome of a rate limit evaluation. Remaining and
// CooldownSeconds are nil when no rule applied.
type Decision struct {
	Allowed         bool
	Reason          string
	Remaining       *int
	CooldownSeconds *int
	// Rule is the denying rule, nil when allowed.
	Rule *models.RateLimitRule
	// Reservation is the token for the slots held by an allowed decision,
	// empty when nothing was reserved. Pass it to Release.
	Reservation string
}

const (
	defaultReservationTTL = 5 * time.Minute
	defaultMaxKeys        = 100000
)

// reservation is the set of keys one allowed decision holds.
type reservation struct {
	keys    []string
	expires time.Time
}

// Config controls the reservation behavior.
type Config struct {
	Reserve        bool
	ReservationTTL time.Duration
	// MaxKeys bounds the number of reservation keys held in memory.
	MaxKeys int
}

// Limiter evaluates rate limit rules.
type Limiter struct {
	rules        RuleSource
	counter      Counter
	reservations *cache.SlidingWindowStore // nil when reservations are disabled
	held         map[string]reservation    // by token
	ttl          time.Duration
	now          func() time.Time

	mu sync.Mutex
}

// NewLimiter creates a limiter.
func NewLimiter(rules RuleSource, counter Counter, cfg Config) *Limiter {
	l := &Limiter{rules: rules, counter: counter, now: time.Now}
	if cfg.Reserve {
		maxKeys := cfg.MaxKeys
		if maxKeys <= 0 {
			maxKeys = defaultMaxKeys
		}
		l.ttl = cfg.ReservationTTL
		if l.ttl <= 0 {
			l.ttl = defaultReservationTTL
		}
		l.reservations = cache.NewSlidingWindowStore(l.ttl, maxKeys)
		l.held = make(map[string]reservation)
	}
	return l
}

// scopeFor maps a rule to the ledger scope it counts against. ok is false
// when the rule does not apply to this identity.
func scopeFor(rule *models.RateLimitRule, id Identity) (scope ledger.Scope, ok bool) {
	switch rule.RuleType {
	case models.RuleTypeUser:
		if id.UserID == nil {
			return 0, false
		}
		if rule.TargetID != nil && *rule.TargetID != id.PackageID {
			return 0, false
		}
		return ledger.ScopeUserResource, true
	case models.RuleTypeIP:
		return ledger.ScopeIP, true
	case models.RuleTypeResource:
		if rule.TargetID != nil && *rule.TargetID != id.PackageID {
			return 0, false
		}
		return ledger.ScopeResource, true
	case models.RuleTypeGlobal:
		return ledger.ScopeGlobalByIP, true
	default:
		return 0, false
	}
}

// reservationKey identifies the counter a pending download is held against.
// IP and global rules count the same ledger rows and share a key.
func reservationKey(scope ledger.Scope, id Identity) string {
	switch scope {
	case ledger.ScopeUserResource:
		return "user:" + strconv.FormatInt(*id.UserID, 10) + ":" + strconv.FormatInt(id.PackageID, 10)
	case ledger.ScopeResource:
		return "res:" + strconv.FormatInt(id.PackageID, 10)
	default:
		return "ip:" + id.IP
	}
}

// DenyReason formats the user-visible message for a denying rule.
func DenyReason(rule *models.RateLimitRule) string {
	return fmt.Sprintf("download limit exceeded: %d per %dh (%s)",
		rule.MaxDownloads, rule.TimeWindowHours, rule.RuleType)
}

// Evaluate applies the active rules to id. An error loading the rules is
// returned; an error counting a single rule is logged and that rule is
// skipped.
func (l *Limiter) Evaluate(ctx context.Context, id Identity) (Decision, error) {
	rules, err := l.rules.ActiveRules(ctx)
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("load rate limit rules: %w", err)
	}
	if len(rules) == 0 {
		return Decision{Allowed: true}, nil
	}

	if l.reservations != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
	}

	var (
		remaining *int
		keys      []string
		seen      = make(map[string]struct{})
	)
	for i := range rules {
		rule := &rules[i]
		scope, ok := scopeFor(rule, id)
		if !ok {
			continue
		}

		count, err := l.counter.CountInWindow(ctx, scope, id.target(), rule.TimeWindowHours)
		if err != nil {
			logging.Warn().Err(err).
				Int64("rule_id", rule.ID).
				Str("rule_type", string(rule.RuleType)).
				Msg("Rate limit count failed, skipping rule")
			metrics.RecordCheckError("rate_limit_rule")
			continue
		}

		key := reservationKey(scope, id)
		if l.reservations != nil {
			count += int(l.reservations.Count(key))
		}

		if count >= rule.MaxDownloads {
			zero := 0
			cooldown := rule.TimeWindowHours * 3600
			return Decision{
				Allowed:         false,
				Reason:          DenyReason(rule),
				Remaining:       &zero,
				CooldownSeconds: &cooldown,
				Rule:            rule,
			}, nil
		}

		left := rule.MaxDownloads - count
		if remaining == nil || left < *remaining {
			remaining = &left
		}
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	d := Decision{Allowed: true, Remaining: remaining}
	if l.reservations != nil && len(keys) > 0 {
		for _, key := range keys {
			l.reservations.Add(key)
		}
		d.Reservation = uuid.NewString()
		l.held[d.Reservation] = reservation{keys: keys, expires: l.now().Add(l.ttl)}
		metrics.ReservationsPending.Set(float64(l.reservations.Total()))
	}
	return d, nil
}

// Release returns the slots held by the reservation token, once. It is
// called when the reserved download is recorded in the ledger or when a later
// check denies an admitted download. Unknown, already released and expired
// tokens are ignored. It reports whether anything was released.
func (l *Limiter) Release(token string) bool {
	if l.reservations == nil || token == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.held[token]
	if !ok {
		return false
	}
	delete(l.held, token)
	if !l.now().Before(r.expires) {
		// The window store has already dropped these entries.
		return false
	}
	for _, key := range r.keys {
		l.reservations.Release(key)
	}
	metrics.ReservationsPending.Set(float64(l.reservations.Total()))
	return true
}

// Pending returns the number of outstanding reservations.
func (l *Limiter) Pending() int64 {
	if l.reservations == nil {
		return 0
	}
	return l.reservations.Total()
}

// Cleanup drops expired reservation keys.
func (l *Limiter) Cleanup() int {
	if l.reservations == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := l.reservations.CleanupInactive()
	now := l.now()
	for token, r := range l.held {
		if !now.Before(r.expires) {
			delete(l.held, token)
		}
	}
	metrics.ReservationsPending.Set(float64(l.reservations.Total()))
	return removed
}
