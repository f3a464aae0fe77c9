// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/dlguard/internal/cache"
	"github.com/tomtom215/dlguard/internal/ledger"
	"github.com/tomtom215/dlguard/internal/models"
)

// Signal weights and thresholds, weights in hundredths.
const (
	WeightSuspiciousAgent  = 30
	WeightUserVelocity     = 40
	WeightIPVelocity       = 50
	WeightResourceVelocity = 30

	UserVelocityLimit     = 5
	IPVelocityLimit       = 10
	ResourceVelocityLimit = 100

	severityHighAt   = 80
	severityMediumAt = 60
)

// SuspiciousAgentKeywords mark automated clients.
var SuspiciousAgentKeywords = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget",
	"python", "java", "headless", "phantom", "selenium", "automation",
}

// VelocityCounter is the ledger read the heuristic needs.
type VelocityCounter interface {
	CountInWindow(ctx context.Context, scope ledger.Scope, target ledger.Target, hours int) (int, error)
}

// Observation is the raw input to Signals. A nil count means it could not
// be read, and its signal is not evaluated.
type Observation struct {
	UserAgent            string
	UserDownloads1h      *int
	IPDownloads1h        *int
	ResourceDownloads24h *int
}

// Factor is one fired signal.
type Factor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Weight      int    `json:"weight"`
}

// Assessment is the heuristic verdict for one attempt.
type Assessment struct {
	Confidence float64         `json:"confidence"`
	Severity   models.Severity `json:"severity"`
	IsAnomaly  bool            `json:"is_anomaly"`
	Factors    []Factor        `json:"factors"`
}

// Descriptions returns the factor descriptions in firing order.
func (a Assessment) Descriptions() []string {
	out := make([]string, len(a.Factors))
	for i, f := range a.Factors {
		out[i] = f.Description
	}
	return out
}

// Signals evaluates the four heuristic signals.
func Signals(agents *cache.KeywordMatcher, obs Observation) []Factor {
	var factors []Factor

	if obs.UserAgent != "" && agents != nil {
		if hits := agents.Matches(obs.UserAgent); len(hits) > 0 {
			factors = append(factors, Factor{
				Name:        "suspicious_user_agent",
				Description: "suspicious user agent: " + strings.Join(hits, ","),
				Weight:      WeightSuspiciousAgent,
			})
		}
	}
	if obs.UserDownloads1h != nil && *obs.UserDownloads1h > UserVelocityLimit {
		factors = append(factors, Factor{
			Name:        "user_velocity",
			Description: fmt.Sprintf("user downloaded %d times in 1h", *obs.UserDownloads1h),
			Weight:      WeightUserVelocity,
		})
	}
	if obs.IPDownloads1h != nil && *obs.IPDownloads1h > IPVelocityLimit {
		factors = append(factors, Factor{
			Name:        "ip_velocity",
			Description: fmt.Sprintf("IP downloaded %d times in 1h", *obs.IPDownloads1h),
			Weight:      WeightIPVelocity,
		})
	}
	if obs.ResourceDownloads24h != nil && *obs.ResourceDownloads24h > ResourceVelocityLimit {
		factors = append(factors, Factor{
			Name:        "resource_velocity",
			Description: fmt.Sprintf("resource downloaded %d times in 24h", *obs.ResourceDownloads24h),
			Weight:      WeightResourceVelocity,
		})
	}
	return factors
}

// SeverityFor buckets a score in hundredths.
func SeverityFor(hundredths int) models.Severity {
	switch {
	case hundredths >= severityHighAt:
		return models.SeverityHigh
	case hundredths >= severityMediumAt:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Assess combines fired factors into an assessment against threshold.
func Assess(factors []Factor, threshold float64) Assessment {
	total := 0
	for _, f := range factors {
		total += f.Weight
	}
	confidence := float64(total) / 100
	return Assessment{
		Confidence: confidence,
		Severity:   SeverityFor(total),
		IsAnomaly:  len(factors) > 0 && confidence >= threshold,
		Factors:    factors,
	}
}

// Input describes one download attempt for scoring.
type Input struct {
	UserID    *int64
	PackageID int64
	IP        string
	UserAgent string
	// Threshold is the effective suspicious-pattern threshold.
	Threshold float64
}

// Heuristic is the ledger-backed heuristic detector.
type Heuristic struct {
	counter VelocityCounter
	agents  *cache.KeywordMatcher
}

// NewHeuristic creates a detector using the default agent keywords.
func NewHeuristic(counter VelocityCounter) *Heuristic {
	return &Heuristic{counter: counter, agents: cache.NewKeywordMatcher(SuspiciousAgentKeywords)}
}

// Score reads the velocity counts and assesses in. Count failures drop their
// signal and are reported in the returned error; the assessment is valid
// either way.
func (h *Heuristic) Score(ctx context.Context, in Input) (Assessment, error) {
	target := ledger.Target{UserID: in.UserID, PackageID: in.PackageID, IP: in.IP}
	obs := Observation{UserAgent: in.UserAgent}

	var errs []error
	count := func(scope ledger.Scope, hours int) *int {
		n, err := h.counter.CountInWindow(ctx, scope, target, hours)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		return &n
	}
	if in.UserID != nil {
		obs.UserDownloads1h = count(ledger.ScopeUserResource, 1)
	}
	obs.IPDownloads1h = count(ledger.ScopeIP, 1)
	obs.ResourceDownloads24h = count(ledger.ScopeResource, 24)

	return Assess(Signals(h.agents, obs), in.Threshold), errors.Join(errs...)
}
