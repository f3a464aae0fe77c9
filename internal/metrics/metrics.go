// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

// Package metrics holds the Prometheus collectors for DLGuard. Collectors
// are registered on the default registry at init and exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decision Metrics
	DownloadChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlguard_download_checks_total",
			Help: "Download checks by outcome",
		},
		[]string{"outcome"}, // "allowed", "banned", "rate_limited", "anomaly_blocked"
	)

	DownloadCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dlguard_download_check_duration_seconds",
			Help:    "Duration of a full download check",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	CheckErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlguard_check_errors_total",
			Help: "Datastore errors skipped by fail-open checks",
		},
		[]string{"stage"}, // "ban", "rate_limit", "heuristic", "statistical", "anomaly_store"
	)

	DownloadsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dlguard_downloads_recorded_total",
			Help: "Downloads appended to the ledger",
		},
	)

	ReservationsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dlguard_rate_limit_reservations_pending",
			Help: "Rate limit slots reserved by checks and not yet recorded",
		},
	)

	// Anomaly Metrics
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlguard_anomalies_total",
			Help: "Anomalies recorded by type and severity",
		},
		[]string{"type", "severity"},
	)

	// Ban Metrics
	BanActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlguard_ban_actions_total",
			Help: "Ban state transitions",
		},
		[]string{"action", "ban_type"}, // action: "ban", "unban", "expire"
	)

	// Config Metrics
	ConfigFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dlguard_config_fallback_total",
			Help: "Effective config reads that fell back to compiled defaults after a load error",
		},
	)

	ConfigDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dlguard_config_degraded",
			Help: "1 while the last config read fell back to defaults because of an error",
		},
	)

	// Notification Metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlguard_notifications_total",
			Help: "Admin notifications by notifier and result",
		},
		[]string{"notifier", "result"}, // result: "sent", "failed", "rate_limited"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dlguard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlguard_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlguard_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dlguard_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dlguard_api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)

// RecordCheck records the outcome and latency of one download check.
func RecordCheck(outcome string, duration time.Duration) {
	DownloadChecks.WithLabelValues(outcome).Inc()
	DownloadCheckDuration.Observe(duration.Seconds())
}

// RecordCheckError counts a swallowed datastore error for a check stage.
func RecordCheckError(stage string) {
	CheckErrors.WithLabelValues(stage).Inc()
}

// RecordAnomaly counts a persisted anomaly.
func RecordAnomaly(anomalyType, severity string) {
	AnomaliesDetected.WithLabelValues(anomalyType, severity).Inc()
}

// RecordBanAction counts a ban state transition.
func RecordBanAction(action, banType string) {
	BanActions.WithLabelValues(action, banType).Inc()
}

// RecordConfigRead tracks whether the last effective config read fell back
// because of an error.
func RecordConfigRead(fellBack bool) {
	if fellBack {
		ConfigFallbacks.Inc()
		ConfigDegraded.Set(1)
		return
	}
	ConfigDegraded.Set(0)
}

// RecordNotification counts a notifier delivery attempt.
func RecordNotification(notifier, result string) {
	NotificationsSent.WithLabelValues(notifier, result).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
