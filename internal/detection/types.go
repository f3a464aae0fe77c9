// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package detection

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/dlguard/internal/models"
)

// ErrAnomalyNotFound is returned when resolving an unknown anomaly.
var ErrAnomalyNotFound = errors.New("anomaly not found")

// AnomalyFilter narrows ListAnomalies. Zero values are ignored.
type AnomalyFilter struct {
	AnomalyType models.AnomalyType
	Severities  []models.Severity
	IPAddress   string
	UserID      *int64
	PackageID   *int64
	Resolved    *bool
	Since       *time.Time
	Limit       int
	Offset      int
}

// SecurityEvent is the payload delivered to notifiers.
type SecurityEvent struct {
	EventType string                  `json:"event_type"` // critical_anomaly
	Anomaly   *models.DownloadAnomaly `json:"anomaly"`
	Recipient string                  `json:"recipient,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Source    string                  `json:"source"` // dlguard
}

// NewCriticalAnomalyEvent wraps a for delivery.
func NewCriticalAnomalyEvent(a *models.DownloadAnomaly, recipient string) *SecurityEvent {
	return &SecurityEvent{
		EventType: "critical_anomaly",
		Anomaly:   a,
		Recipient: recipient,
		Timestamp: time.Now().UTC(),
		Source:    "dlguard",
	}
}

// Notifier sends security events to external systems.
type Notifier interface {
	// Send delivers an event to the notification channel.
	Send(ctx context.Context, event *SecurityEvent) error

	// Name returns the notifier name (e.g., "webhook", "nats").
	Name() string

	// Enabled returns whether this notifier is enabled.
	Enabled() bool
}
