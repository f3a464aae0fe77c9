// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

// Package query provides SQL query building utilities for the DuckDB stores.
package query

import (
	"fmt"
	"strings"
	"time"
)

// WhereBuilder constructs SQL WHERE clauses with parameterized arguments.
// Column names are always supplied by the caller's code, never by user input.
//
//	wb := query.NewWhereBuilder()
//	wb.AddEquals("ip_address", ip).AddSince("created_at", since)
//	where, args := wb.BuildWithPrefix()
//	// WHERE ip_address = ? AND created_at >= ?
type WhereBuilder struct {
	clauses []string
	args    []interface{}
}

// NewWhereBuilder creates a new WhereBuilder instance.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{}
}

// AddClause adds a raw condition with its arguments.
func (wb *WhereBuilder) AddClause(clause string, args ...interface{}) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddEquals adds "column = ?" unless value is empty.
func (wb *WhereBuilder) AddEquals(column, value string) *WhereBuilder {
	if value == "" {
		return wb
	}
	return wb.AddClause(column+" = ?", value)
}

// AddInt64 adds "column = ?" when value is non-nil.
func (wb *WhereBuilder) AddInt64(column string, value *int64) *WhereBuilder {
	if value == nil {
		return wb
	}
	return wb.AddClause(column+" = ?", *value)
}

// AddBool adds "column = ?" when value is non-nil.
func (wb *WhereBuilder) AddBool(column string, value *bool) *WhereBuilder {
	if value == nil {
		return wb
	}
	return wb.AddClause(column+" = ?", *value)
}

// AddSince adds "column >= ?" when since is non-nil.
func (wb *WhereBuilder) AddSince(column string, since *time.Time) *WhereBuilder {
	if since == nil {
		return wb
	}
	return wb.AddClause(column+" >= ?", *since)
}

// AddIn adds "column IN (?, ...)"; an empty list is skipped.
func (wb *WhereBuilder) AddIn(column string, values []string) *WhereBuilder {
	if len(values) == 0 {
		return wb
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		wb.args = append(wb.args, v)
	}
	wb.clauses = append(wb.clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
	return wb
}

// Build returns the clauses joined with AND, or "1=1" when empty.
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.clauses) == 0 {
		return "1=1", []interface{}{}
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns the WHERE clause with "WHERE " prefix.
func (wb *WhereBuilder) BuildWithPrefix() (string, []interface{}) {
	whereClause, args := wb.Build()
	return "WHERE " + whereClause, args
}

// Pagination returns " LIMIT ? OFFSET ?" arguments, applying defaultLimit
// when limit is not positive and capping at maxLimit.
func Pagination(limit, offset, defaultLimit, maxLimit int) (string, []interface{}) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return " LIMIT ? OFFSET ?", []interface{}{limit, offset}
}
