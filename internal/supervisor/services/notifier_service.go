// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package services

import (
	"context"
	"time"

	"github.com/tomtom215/dlguard/internal/logging"
)

// NotificationWaiter is satisfied by *guard.Service.
type NotificationWaiter interface {
	WaitNotifications()
}

// Closer releases a notifier transport.
type Closer interface {
	Close() error
}

// NotifierDrainService holds notifier transports open while the process
// runs. On cancel it waits up to drainTimeout for in-flight notifications
// and then closes every transport.
type NotifierDrainService struct {
	waiter       NotificationWaiter
	closers      []Closer
	drainTimeout time.Duration
	name         string
}

// NewNotifierDrainService creates the service.
func NewNotifierDrainService(waiter NotificationWaiter, drainTimeout time.Duration, closers ...Closer) *NotifierDrainService {
	if drainTimeout <= 0 {
		drainTimeout = defaultShutdownTimeout
	}
	return &NotifierDrainService{
		waiter:       waiter,
		closers:      closers,
		drainTimeout: drainTimeout,
		name:         "notifier-drain",
	}
}

// Serve implements suture.Service.
func (n *NotifierDrainService) Serve(ctx context.Context) error {
	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		n.waiter.WaitNotifications()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(n.drainTimeout):
		logging.Warn().Dur("timeout", n.drainTimeout).Msg("Admin notifications still in flight at shutdown")
	}

	for _, c := range n.closers {
		if err := c.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close notifier")
		}
	}
	return ctx.Err()
}

func (n *NotifierDrainService) String() string {
	return n.name
}
