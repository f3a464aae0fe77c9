// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/dlguard/internal/ledger"
	"github.com/tomtom215/dlguard/internal/models"
)

type staticRules struct {
	rules []models.RateLimitRule
	err   error
}

func (s staticRules) ActiveRules(context.Context) ([]models.RateLimitRule, error) {
	out := make([]models.RateLimitRule, len(s.rules))
	copy(out, s.rules)
	return out, s.err
}

// fakeCounter returns a fixed count per scope, or an error for failing scopes.
type fakeCounter struct {
	counts  map[ledger.Scope]int
	failing map[ledger.Scope]bool
	calls   atomic.Int32
}

func (f *fakeCounter) CountInWindow(_ context.Context, scope ledger.Scope, _ ledger.Target, _ int) (int, error) {
	f.calls.Add(1)
	if f.failing[scope] {
		return 0, errors.New("count failed")
	}
	return f.counts[scope], nil
}

func ptr[T any](v T) *T { return &v }

func rule(id int64, typ models.RuleType, window, max int) models.RateLimitRule {
	return models.RateLimitRule{ID: id, RuleType: typ, TimeWindowHours: window, MaxDownloads: max, IsActive: true}
}

func TestEvaluate_NoRules(t *testing.T) {
	t.Parallel()

	l := NewLimiter(staticRules{}, &fakeCounter{}, Config{Reserve: true})
	d, err := l.Evaluate(context.Background(), Identity{PackageID: 1, IP: "192.0.2.1"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !d.Allowed || d.Remaining != nil || d.CooldownSeconds != nil {
		t.Errorf("Evaluate() = %+v, want allowed with nil remaining", d)
	}
	if l.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", l.Pending())
	}
}

func TestEvaluate_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		rules         []models.RateLimitRule
		counts        map[ledger.Scope]int
		id            Identity
		wantAllowed   bool
		wantRemaining *int
		wantCooldown  *int
		wantReason    string
	}{
		{
			name:          "minimum remaining across rules",
			rules:         []models.RateLimitRule{rule(1, models.RuleTypeIP, 1, 10), rule(2, models.RuleTypeResource, 24, 100)},
			counts:        map[ledger.Scope]int{ledger.ScopeIP: 7, ledger.ScopeResource: 98},
			id:            Identity{PackageID: 1, IP: "192.0.2.1"},
			wantAllowed:   true,
			wantRemaining: ptr(2),
		},
		{
			name:         "first exceeded rule denies",
			rules:        []models.RateLimitRule{rule(1, models.RuleTypeIP, 1, 10), rule(2, models.RuleTypeResource, 24, 5)},
			counts:       map[ledger.Scope]int{ledger.ScopeIP: 10, ledger.ScopeResource: 9},
			id:           Identity{PackageID: 1, IP: "192.0.2.1"},
			wantCooldown: ptr(3600),
			wantReason:   "download limit exceeded: 10 per 1h (ip)",
		},
		{
			name:         "cooldown uses the rule window",
			rules:        []models.RateLimitRule{rule(3, models.RuleTypeResource, 24, 5)},
			counts:       map[ledger.Scope]int{ledger.ScopeResource: 5},
			id:           Identity{PackageID: 1, IP: "192.0.2.1"},
			wantCooldown: ptr(24 * 3600),
			wantReason:   "download limit exceeded: 5 per 24h (resource)",
		},
		{
			name:          "user rule skipped without user",
			rules:         []models.RateLimitRule{rule(1, models.RuleTypeUser, 1, 1)},
			counts:        map[ledger.Scope]int{ledger.ScopeUserResource: 50},
			id:            Identity{PackageID: 1, IP: "192.0.2.1"},
			wantAllowed:   true,
			wantRemaining: nil,
		},
		{
			name: "targeted resource rule ignores other packages",
			rules: []models.RateLimitRule{{
				ID: 1, RuleType: models.RuleTypeResource, TargetID: ptr(int64(99)),
				TimeWindowHours: 24, MaxDownloads: 1, IsActive: true,
			}},
			counts:      map[ledger.Scope]int{ledger.ScopeResource: 10},
			id:          Identity{PackageID: 1, IP: "192.0.2.1"},
			wantAllowed: true,
		},
		{
			name:         "global rule counts ip downloads",
			rules:        []models.RateLimitRule{rule(1, models.RuleTypeGlobal, 1, 50)},
			counts:       map[ledger.Scope]int{ledger.ScopeGlobalByIP: 50},
			id:           Identity{PackageID: 1, IP: "192.0.2.1"},
			wantCooldown: ptr(3600),
			wantReason:   "download limit exceeded: 50 per 1h (global)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := NewLimiter(staticRules{rules: tt.rules}, &fakeCounter{counts: tt.counts}, Config{})
			d, err := l.Evaluate(context.Background(), tt.id)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if d.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.wantAllowed)
			}
			if !tt.wantAllowed {
				if d.Remaining == nil || *d.Remaining != 0 {
					t.Errorf("Remaining = %v, want 0 on deny", d.Remaining)
				}
				if d.Reason != tt.wantReason {
					t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
				}
			} else if (d.Remaining == nil) != (tt.wantRemaining == nil) ||
				(d.Remaining != nil && *d.Remaining != *tt.wantRemaining) {
				t.Errorf("Remaining = %v, want %v", d.Remaining, tt.wantRemaining)
			}
			if (d.CooldownSeconds == nil) != (tt.wantCooldown == nil) ||
				(d.CooldownSeconds != nil && *d.CooldownSeconds != *tt.wantCooldown) {
				t.Errorf("CooldownSeconds = %v, want %v", d.CooldownSeconds, tt.wantCooldown)
			}
		})
	}
}

func TestEvaluate_RuleLoadErrorReturned(t *testing.T) {
	t.Parallel()

	l := NewLimiter(staticRules{err: errors.New("db down")}, &fakeCounter{}, Config{})
	d, err := l.Evaluate(context.Background(), Identity{PackageID: 1, IP: "192.0.2.1"})
	if err == nil {
		t.Fatal("Evaluate() error = nil, want error")
	}
	if !d.Allowed {
		t.Error("decision on error should be allowed")
	}
}

func TestEvaluate_CountErrorSkipsRule(t *testing.T) {
	t.Parallel()

	rules := []models.RateLimitRule{rule(1, models.RuleTypeIP, 1, 1), rule(2, models.RuleTypeResource, 1, 10)}
	counter := &fakeCounter{
		counts:  map[ledger.Scope]int{ledger.ScopeIP: 100, ledger.ScopeResource: 4},
		failing: map[ledger.Scope]bool{ledger.ScopeIP: true},
	}
	l := NewLimiter(staticRules{rules: rules}, counter, Config{})
	d, err := l.Evaluate(context.Background(), Identity{PackageID: 1, IP: "192.0.2.1"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !d.Allowed || d.Remaining == nil || *d.Remaining != 6 {
		t.Errorf("Evaluate() = %+v, want allowed with remaining 6", d)
	}
}

func setupLedger(t *testing.T) (*ledger.Store, *RuleStore) {
	t.Helper()
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	l := ledger.NewStore(db)
	if err := l.InitSchema(ctx); err != nil {
		t.Fatalf("ledger InitSchema() error = %v", err)
	}
	rs := NewRuleStore(db)
	if err := rs.InitSchema(ctx); err != nil {
		t.Fatalf("rules InitSchema() error = %v", err)
	}
	return l, rs
}

// The N-th download of a resource by a user inside the window is allowed
// and the (N+1)-th is denied with the full window as cooldown.
func TestEvaluate_UserRuleBoundary(t *testing.T) {
	t.Parallel()
	store, rules := setupLedger(t)
	ctx := context.Background()

	const n = 3
	if _, err := rules.Create(ctx, &models.RateLimitRule{
		RuleType: models.RuleTypeUser, TimeWindowHours: 1, MaxDownloads: n, IsActive: true,
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	l := NewLimiter(rules, store, Config{Reserve: true, ReservationTTL: time.Minute})
	id := Identity{UserID: ptr(int64(7)), PackageID: 11, IP: "192.0.2.10"}

	for i := 1; i <= n; i++ {
		d, err := l.Evaluate(ctx, id)
		if err != nil {
			t.Fatalf("Evaluate(#%d) error = %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("download #%d denied: %s", i, d.Reason)
		}
		if d.Remaining == nil || *d.Remaining != n-i+1 {
			t.Errorf("download #%d Remaining = %v, want %d", i, d.Remaining, n-i+1)
		}
		if _, err := store.Record(ctx, models.DownloadRecord{UserID: id.UserID, PackageID: id.PackageID, IPAddress: id.IP}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if !l.Release(d.Reservation) {
			t.Errorf("Release(#%d) = false, want true", i)
		}
	}

	d, err := l.Evaluate(ctx, id)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Allowed {
		t.Fatal("download N+1 allowed, want denied")
	}
	if d.CooldownSeconds == nil || *d.CooldownSeconds != 3600 {
		t.Errorf("CooldownSeconds = %v, want 3600", d.CooldownSeconds)
	}
	if l.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", l.Pending())
	}

	// Another resource is unaffected.
	other := id
	other.PackageID = 12
	if d, _ := l.Evaluate(ctx, other); !d.Allowed {
		t.Error("different resource should be allowed")
	}
}

func TestEvaluate_ConcurrentChecksDoNotOverAdmit(t *testing.T) {
	t.Parallel()

	const limit = 5
	rules := staticRules{rules: []models.RateLimitRule{rule(1, models.RuleTypeIP, 1, limit)}}
	l := NewLimiter(rules, &fakeCounter{counts: map[ledger.Scope]int{}}, Config{Reserve: true, ReservationTTL: time.Minute})
	id := Identity{PackageID: 1, IP: "192.0.2.20"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed atomic.Int32
		tokens  []string
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Evaluate(context.Background(), id)
			if err == nil && d.Allowed {
				allowed.Add(1)
				mu.Lock()
				tokens = append(tokens, d.Reservation)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != limit {
		t.Errorf("allowed = %d, want %d", got, limit)
	}
	if got := l.Pending(); got != limit {
		t.Errorf("Pending() = %d, want %d", got, limit)
	}

	l.Release(tokens[0])
	if got := l.Pending(); got != limit-1 {
		t.Errorf("Pending() after release = %d, want %d", got, limit-1)
	}
}

func TestRelease_OnlyFreesOwnReservation(t *testing.T) {
	t.Parallel()

	rules := staticRules{rules: []models.RateLimitRule{rule(1, models.RuleTypeResource, 24, 3)}}
	l := NewLimiter(rules, &fakeCounter{counts: map[ledger.Scope]int{}}, Config{Reserve: true, ReservationTTL: time.Minute})
	ctx := context.Background()

	first, err := l.Evaluate(ctx, Identity{PackageID: 7, IP: "192.0.2.40"})
	if err != nil || !first.Allowed || first.Reservation == "" {
		t.Fatalf("Evaluate() = %+v, %v, want allowed with a reservation", first, err)
	}

	// A download recorded without a reserving check carries no token.
	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"unknown token", "not-a-reservation"},
	}
	for _, tt := range tests {
		if l.Release(tt.token) {
			t.Errorf("Release(%s) = true, want false", tt.name)
		}
		if got := l.Pending(); got != 1 {
			t.Errorf("Pending() after Release(%s) = %d, want 1", tt.name, got)
		}
	}

	if !l.Release(first.Reservation) {
		t.Error("Release(own token) = false, want true")
	}
	if l.Release(first.Reservation) {
		t.Error("second Release(own token) = true, want false")
	}
	if got := l.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestRelease_ExpiredReservationIsNoop(t *testing.T) {
	t.Parallel()

	rules := staticRules{rules: []models.RateLimitRule{rule(1, models.RuleTypeIP, 1, 10)}}
	l := NewLimiter(rules, &fakeCounter{counts: map[ledger.Scope]int{}}, Config{Reserve: true, ReservationTTL: time.Minute})
	base := time.Now()
	l.now = func() time.Time { return base }

	d, err := l.Evaluate(context.Background(), Identity{PackageID: 1, IP: "192.0.2.41"})
	if err != nil || d.Reservation == "" {
		t.Fatalf("Evaluate() = %+v, %v, want a reservation", d, err)
	}

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	if l.Release(d.Reservation) {
		t.Error("Release(expired token) = true, want false")
	}
	if got := len(l.held); got != 0 {
		t.Errorf("held tokens = %d, want 0", got)
	}
}

func TestCleanup_DropsExpiredTokens(t *testing.T) {
	t.Parallel()

	rules := staticRules{rules: []models.RateLimitRule{rule(1, models.RuleTypeIP, 1, 10)}}
	l := NewLimiter(rules, &fakeCounter{counts: map[ledger.Scope]int{}}, Config{Reserve: true, ReservationTTL: time.Minute})
	base := time.Now()
	l.now = func() time.Time { return base }

	if _, err := l.Evaluate(context.Background(), Identity{PackageID: 1, IP: "192.0.2.42"}); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	l.Cleanup()
	if got := len(l.held); got != 0 {
		t.Errorf("held tokens after Cleanup() = %d, want 0", got)
	}
}

func TestEvaluate_NoReservationWithoutReserve(t *testing.T) {
	t.Parallel()

	rules := staticRules{rules: []models.RateLimitRule{rule(1, models.RuleTypeIP, 1, 10)}}
	l := NewLimiter(rules, &fakeCounter{counts: map[ledger.Scope]int{}}, Config{})
	d, err := l.Evaluate(context.Background(), Identity{PackageID: 1, IP: "192.0.2.43"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Reservation != "" {
		t.Errorf("Reservation = %q, want empty", d.Reservation)
	}
	if l.Release("anything") {
		t.Error("Release() = true on a limiter without reservations")
	}
}

func TestEvaluate_SharedKeyReservedOnce(t *testing.T) {
	t.Parallel()

	rules := staticRules{rules: []models.RateLimitRule{
		rule(1, models.RuleTypeIP, 1, 10),
		rule(2, models.RuleTypeGlobal, 24, 100),
	}}
	l := NewLimiter(rules, &fakeCounter{counts: map[ledger.Scope]int{}}, Config{Reserve: true})
	if _, err := l.Evaluate(context.Background(), Identity{PackageID: 1, IP: "192.0.2.30"}); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got := l.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
}

func TestRuleStore_ActiveRulesOrdered(t *testing.T) {
	t.Parallel()
	_, rs := setupLedger(t)
	ctx := context.Background()

	for _, r := range []models.RateLimitRule{
		rule(0, models.RuleTypeGlobal, 1, 100),
		rule(0, models.RuleTypeUser, 1, 10),
		rule(0, models.RuleTypeIP, 1, 20),
	} {
		r := r
		if _, err := rs.Create(ctx, &r); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := rs.SetActive(ctx, 2, false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	active, err := rs.ActiveRules(ctx)
	if err != nil {
		t.Fatalf("ActiveRules() error = %v", err)
	}
	if len(active) != 2 || active[0].RuleType != models.RuleTypeGlobal || active[1].RuleType != models.RuleTypeIP {
		t.Errorf("ActiveRules() = %+v, want [global ip]", active)
	}

	if _, err := rs.Create(ctx, &models.RateLimitRule{RuleType: "weekly", TimeWindowHours: 1, MaxDownloads: 1}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("Create(invalid) error = %v, want ErrInvalidRule", err)
	}
}

func TestLoadRulesFileAndSeed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `rules:
  - rule_type: user
    time_window: 1
    max_downloads: 10
  - rule_type: resource
    target_id: 42
    time_window: 24
    max_downloads: 500
    active: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRulesFile(path)
	if err != nil {
		t.Fatalf("LoadRulesFile() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(rules))
	}
	if !rules[0].IsActive || rules[1].IsActive {
		t.Errorf("IsActive = %v,%v, want true,false", rules[0].IsActive, rules[1].IsActive)
	}
	if rules[1].TargetID == nil || *rules[1].TargetID != 42 {
		t.Errorf("TargetID = %v, want 42", rules[1].TargetID)
	}

	_, rs := setupLedger(t)
	ctx := context.Background()
	n, err := Seed(ctx, rs, rules)
	if err != nil || n != 2 {
		t.Fatalf("Seed() = %d, %v, want 2", n, err)
	}
	n, err = Seed(ctx, rs, rules)
	if err != nil || n != 0 {
		t.Errorf("second Seed() = %d, %v, want 0", n, err)
	}
}

func TestLoadRulesFile_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := map[string]string{
		"empty":        "rules: []\n",
		"bad type":     "rules:\n  - rule_type: weekly\n    time_window: 1\n    max_downloads: 1\n",
		"zero window":  "rules:\n  - rule_type: ip\n    time_window: 0\n    max_downloads: 1\n",
		"invalid yaml": "rules: [",
	}
	for name, content := range tests {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadRulesFile(path); err == nil {
			t.Errorf("%s: LoadRulesFile() error = nil, want error", name)
		}
	}
	if _, err := LoadRulesFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: want error")
	}
}
