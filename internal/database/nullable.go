// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package database

import (
	"database/sql"
	"time"
)

// NullInt64 converts an optional identifier to a bind argument.
func NullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// NullInt converts an optional int to a bind argument.
func NullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// NullString converts an optional string to a bind argument.
func NullString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// NullFloat64 converts an optional float to a bind argument.
func NullFloat64(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// NullTime converts an optional time to a bind argument.
func NullTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// Int64Ptr returns the value of n, or nil when NULL.
func Int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// IntPtr returns the value of n as an int, or nil when NULL.
func IntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// StringPtr returns the value of s, or nil when NULL.
func StringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// Float64Ptr returns the value of f, or nil when NULL.
func Float64Ptr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// TimePtr returns the value of t in UTC, or nil when NULL.
func TimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
