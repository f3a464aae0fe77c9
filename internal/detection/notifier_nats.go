// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/dlguard/internal/logging"
	"github.com/tomtom215/dlguard/internal/metrics"
)

// DefaultNATSSubject is the subject security events are published on.
const DefaultNATSSubject = "dlguard.security"

const natsFlushTimeout = 5 * time.Second

// NATSNotifier publishes security events on a NATS subject. The event type
// is appended to the subject, e.g. dlguard.security.critical_anomaly.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
}

// NewNATSNotifier connects to natsURL.
func NewNATSNotifier(natsURL, subject string) (*NATSNotifier, error) {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	nc, err := nats.Connect(natsURL,
		nats.Name("dlguard-notifier"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS notifier disconnected")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSNotifier{nc: nc, subject: subject}, nil
}

// Name returns the notifier name.
func (n *NATSNotifier) Name() string {
	return "nats"
}

// Enabled reports whether the connection is usable.
func (n *NATSNotifier) Enabled() bool {
	return n.nc != nil && !n.nc.IsClosed()
}

// Subject returns the full subject for an event type.
func (n *NATSNotifier) Subject(eventType string) string {
	return n.subject + "." + eventType
}

// Send publishes event and flushes so delivery errors surface here.
func (n *NATSNotifier) Send(ctx context.Context, event *SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal NATS payload: %w", err)
	}
	if err := n.nc.Publish(n.Subject(event.EventType), data); err != nil {
		metrics.RecordNotification(n.Name(), "failed")
		return fmt.Errorf("publish security event: %w", err)
	}
	if err := n.flush(ctx); err != nil {
		metrics.RecordNotification(n.Name(), "failed")
		return fmt.Errorf("flush security event: %w", err)
	}
	metrics.RecordNotification(n.Name(), "sent")
	return nil
}

// flush waits for the server to acknowledge outstanding publishes, bounded
// by ctx's deadline or natsFlushTimeout when ctx has none.
func (n *NATSNotifier) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); ok {
		return n.nc.FlushWithContext(ctx)
	}
	return n.nc.FlushTimeout(natsFlushTimeout)
}

// Close drains the connection.
func (n *NATSNotifier) Close() error {
	if n.nc == nil || n.nc.IsClosed() {
		return nil
	}
	return n.nc.Drain()
}
