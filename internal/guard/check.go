// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package guard

import (
	"context"
	"strings"
	"time"

	"github.com/tomtom215/dlguard/internal/bans"
	"github.com/tomtom215/dlguard/internal/detection"
	"github.com/tomtom215/dlguard/internal/logging"
	"github.com/tomtom215/dlguard/internal/metrics"
	"github.com/tomtom215/dlguard/internal/models"
	"github.com/tomtom215/dlguard/internal/ratelimit"
)

// User-visible denial reasons other than rate limit messages.
const (
	ReasonBanned         = "banned"
	ReasonSevereAnomaly  = "severe anomaly, blocked"
	anomalyDetailsJoiner = "; "
)

// Check outcomes reported to dlguard_download_checks_total.
const (
	outcomeAllowed        = "allowed"
	outcomeBanned         = "banned"
	outcomeRateLimited    = "rate_limited"
	outcomeAnomalyBlocked = "anomaly_blocked"
)

// CheckRequest identifies one download attempt.
type CheckRequest struct {
	UserID    *int64
	PackageID int64
	IP        string
	UserAgent string
}

func (r CheckRequest) identity() ratelimit.Identity {
	return ratelimit.Identity{UserID: r.UserID, PackageID: r.PackageID, IP: r.IP}
}

// CheckDownloadAllowed decides whether the attempt may proceed. It never
// returns an error; see the package documentation for the fail-open rules.
func (s *Service) CheckDownloadAllowed(ctx context.Context, req CheckRequest) models.DownloadCheckResult {
	start := time.Now()
	req.IP = bans.CanonicalIP(req.IP)
	result, outcome := s.check(ctx, req)
	metrics.RecordCheck(outcome, time.Since(start))
	return result
}

func (s *Service) check(ctx context.Context, req CheckRequest) (models.DownloadCheckResult, string) {
	log := logging.Ctx(ctx)
	cfg := s.settings.Effective(ctx)
	result := models.DownloadCheckResult{IsAllowed: true}

	banned, err := s.bans.IsIPBanned(ctx, req.IP)
	if err != nil {
		log.Error().Err(err).Str("ip", req.IP).Msg("Ban check failed, treating as not banned")
		metrics.RecordCheckError("ban")
	} else if banned {
		log.Info().Str("ip", req.IP).Int64("package_id", req.PackageID).Msg("Download denied: IP banned")
		return models.DownloadCheckResult{IsAllowed: false, Reason: ReasonBanned}, outcomeBanned
	}

	reservation := ""
	if cfg.EnableRateLimiting {
		decision, err := s.limiter.Evaluate(ctx, req.identity())
		if err != nil {
			log.Error().Err(err).Msg("Rate limit evaluation failed, skipping")
			metrics.RecordCheckError("rate_limit")
		}
		if !decision.Allowed {
			s.recordRateLimitAnomaly(ctx, req, decision)
			return models.DownloadCheckResult{
				IsAllowed:          false,
				Reason:             decision.Reason,
				RemainingDownloads: decision.Remaining,
				CooldownSeconds:    decision.CooldownSeconds,
			}, outcomeRateLimited
		}
		result.RemainingDownloads = decision.Remaining
		reservation = decision.Reservation
	}

	var details []string

	if cfg.EnableAnomalyDetection {
		assessment, err := s.heuristic.Score(ctx, detection.Input{
			UserID:    req.UserID,
			PackageID: req.PackageID,
			IP:        req.IP,
			UserAgent: req.UserAgent,
			Threshold: cfg.SuspiciousPatternThreshold,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Heuristic signal unavailable, scoring without it")
			metrics.RecordCheckError("heuristic")
		}
		if assessment.IsAnomaly {
			result.AnomalyDetected = true
			details = append(details, assessment.Descriptions()...)
			s.recordAnomaly(ctx, s.heuristicAnomaly(req, assessment), true)

			switch assessment.Severity {
			case models.SeverityHigh, models.SeverityCritical:
				s.limiter.Release(reservation)
				log.Warn().
					Str("ip", req.IP).
					Int64("package_id", req.PackageID).
					Float64("confidence", assessment.Confidence).
					Msg("Download denied: severe anomaly")
				return models.DownloadCheckResult{
					IsAllowed:       false,
					Reason:          ReasonSevereAnomaly,
					AnomalyDetected: true,
					AnomalyDetails:  strings.Join(details, anomalyDetailsJoiner),
				}, outcomeAnomalyBlocked
			case models.SeverityMedium:
				log.Warn().
					Str("ip", req.IP).
					Int64("package_id", req.PackageID).
					Float64("confidence", assessment.Confidence).
					Msg("Suspicious download allowed")
			}
		}
	}

	if cfg.EnableStatisticalAnalysis {
		finding, err := s.statistical.Analyze(ctx, req.PackageID)
		if err != nil {
			log.Warn().Err(err).Int64("package_id", req.PackageID).Msg("Statistical analysis failed, skipping")
			metrics.RecordCheckError("statistical")
		}
		if finding != nil {
			result.AnomalyDetected = true
			details = append(details, finding.Summary())
			s.recordAnomaly(ctx, &models.DownloadAnomaly{
				AnomalyType: models.AnomalyStatistical,
				PackageID:   &req.PackageID,
				Details:     detection.NewDetails(finding),
				Severity:    models.SeverityMedium,
			}, false)
		}
	}

	result.AnomalyDetails = strings.Join(details, anomalyDetailsJoiner)
	result.ReservationID = reservation
	return result, outcomeAllowed
}

func (s *Service) heuristicAnomaly(req CheckRequest, a detection.Assessment) *models.DownloadAnomaly {
	confidence := a.Confidence
	factors := a.Factors
	if factors == nil {
		factors = []detection.Factor{}
	}
	return &models.DownloadAnomaly{
		AnomalyType: models.AnomalySuspiciousPattern,
		UserID:      req.UserID,
		PackageID:   &req.PackageID,
		IPAddress:   &req.IP,
		Details: detection.NewDetails(struct {
			Confidence float64            `json:"confidence"`
			Factors    []detection.Factor `json:"factors"`
			UserAgent  string             `json:"user_agent"`
		}{confidence, factors, req.UserAgent}),
		Severity:   a.Severity,
		Confidence: &confidence,
	}
}

func (s *Service) recordRateLimitAnomaly(ctx context.Context, req CheckRequest, d ratelimit.Decision) {
	details := map[string]interface{}{"reason": d.Reason}
	if d.Rule != nil {
		details["rule_id"] = d.Rule.ID
		details["rule_type"] = d.Rule.RuleType
		details["max_downloads"] = d.Rule.MaxDownloads
		details["time_window"] = d.Rule.TimeWindowHours
	}
	s.recordAnomaly(ctx, &models.DownloadAnomaly{
		AnomalyType: models.AnomalyRateLimitExceeded,
		UserID:      req.UserID,
		PackageID:   &req.PackageID,
		IPAddress:   &req.IP,
		Details:     detection.NewDetails(details),
		Severity:    models.SeverityLow,
	}, false)
}

// recordAnomaly persists a and, when escalate is set, hands it to the ban
// manager. Failures are logged and counted, never returned.
func (s *Service) recordAnomaly(ctx context.Context, a *models.DownloadAnomaly, escalate bool) {
	log := logging.Ctx(ctx)
	if err := s.anomalies.Save(ctx, a); err != nil {
		log.Error().Err(err).Str("anomaly_type", string(a.AnomalyType)).Msg("Failed to record anomaly")
		metrics.RecordCheckError("anomaly_store")
		return
	}
	metrics.RecordAnomaly(string(a.AnomalyType), string(a.Severity))

	if !escalate {
		return
	}
	if err := s.bans.HandleAnomaly(ctx, a); err != nil {
		log.Error().Err(err).Int64("anomaly_id", a.ID).Msg("Anomaly escalation failed")
		metrics.RecordCheckError("escalation")
	}
}
