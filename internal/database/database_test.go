// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/dlguard/internal/config"
)

type tableInit struct {
	db   *sql.DB
	name string
}

func (ti tableInit) InitSchema(ctx context.Context) error {
	_, err := ti.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ti.name+` (id INTEGER)`)
	return err
}

func TestNew_OpenInitClose(t *testing.T) {
	t.Parallel()

	cfg := &config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "nested", "dlguard.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	}
	db, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := db.InitSchemas(ctx, tableInit{db.Conn(), "a"}, tableInit{db.Conn(), "b"}); err != nil {
		t.Fatalf("InitSchemas() error = %v", err)
	}

	var n int
	err = db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_name IN ('a', 'b')`).Scan(&n)
	if err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if n != 2 {
		t.Errorf("tables = %d, want 2", n)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestIsTransactionConflict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("TransactionContext Error: Catalog write-write conflict"), false},
		{errors.New("Transaction conflict: cannot update"), true},
		{errors.New("Conflict on update!"), true},
		{errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		if got := IsTransactionConflict(tt.err); got != tt.want {
			t.Errorf("IsTransactionConflict(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	t.Run("retries conflicts then succeeds", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := WithRetry(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("Transaction conflict")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithRetry() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		t.Parallel()
		calls := 0
		boom := errors.New("boom")
		err := WithRetry(context.Background(), func(context.Context) error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) || calls != 1 {
			t.Errorf("err = %v calls = %d, want boom after 1 call", err, calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := WithRetry(context.Background(), func(context.Context) error {
			calls++
			return errors.New("Transaction conflict")
		})
		if err == nil || calls != maxRetries {
			t.Errorf("err = %v calls = %d, want error after %d calls", err, calls, maxRetries)
		}
	})
}

func TestNullableHelpers(t *testing.T) {
	t.Parallel()

	id := int64(42)
	if NullInt64(nil) != nil || NullInt64(&id) != int64(42) {
		t.Error("NullInt64 mismatch")
	}
	if p := Int64Ptr(sql.NullInt64{Int64: 5, Valid: true}); p == nil || *p != 5 {
		t.Errorf("Int64Ptr = %v, want 5", p)
	}
	if Int64Ptr(sql.NullInt64{}) != nil {
		t.Error("Int64Ptr(NULL) should be nil")
	}
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if p := TimePtr(sql.NullTime{Time: ts, Valid: true}); p == nil || !p.Equal(ts) {
		t.Errorf("TimePtr = %v, want %v", p, ts)
	}
}
