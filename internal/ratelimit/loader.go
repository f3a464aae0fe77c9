// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tomtom215/dlguard/internal/logging"
	"github.com/tomtom215/dlguard/internal/models"
)

// rulesFile is the on-disk layout of a rule seed file:
//
//	rules:
//	  - rule_type: user
//	    time_window: 1
//	    max_downloads: 10
//	  - rule_type: resource
//	    target_id: 42
//	    time_window: 24
//	    max_downloads: 500
//	    active: false
type rulesFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	RuleType     string `yaml:"rule_type"`
	TargetID     *int64 `yaml:"target_id"`
	TimeWindow   int    `yaml:"time_window"`
	MaxDownloads int    `yaml:"max_downloads"`
	Active       *bool  `yaml:"active"`
}

// LoadRulesFile reads and validates a YAML rule seed file. Rules default to
// active when the active key is omitted.
func LoadRulesFile(path string) ([]models.RateLimitRule, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
	if err != nil {
		return nil, fmt.Errorf("read rate limit rules: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rate limit rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, errors.New("rate limit rules: rules is empty")
	}

	rules := make([]models.RateLimitRule, 0, len(f.Rules))
	for i, e := range f.Rules {
		r := models.RateLimitRule{
			RuleType:        models.RuleType(e.RuleType),
			TargetID:        e.TargetID,
			TimeWindowHours: e.TimeWindow,
			MaxDownloads:    e.MaxDownloads,
			IsActive:        e.Active == nil || *e.Active,
		}
		if err := ValidateRule(&r); err != nil {
			return nil, fmt.Errorf("rate limit rules[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Seed inserts rules only when the rule table is empty, so a seed file never
// overwrites rules managed in the database. It returns the number inserted.
func Seed(ctx context.Context, store *RuleStore, rules []models.RateLimitRule) (int, error) {
	existing, err := store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if existing > 0 {
		logging.Info().Int("existing", existing).Msg("Rate limit rules already present, skipping seed")
		return 0, nil
	}

	for i := range rules {
		if _, err := store.Create(ctx, &rules[i]); err != nil {
			return i, err
		}
	}
	logging.Info().Int("count", len(rules)).Msg("Seeded rate limit rules")
	return len(rules), nil
}
