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

// Maintainer is satisfied by *guard.Service.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// MaintenanceService calls Maintain every interval. A failed pass is logged
// and retried on the next tick; the service itself only stops on cancel.
type MaintenanceService struct {
	target   Maintainer
	interval time.Duration
	name     string
}

// NewMaintenanceService creates the service. Non-positive intervals use one
// minute.
func NewMaintenanceService(target Maintainer, interval time.Duration) *MaintenanceService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MaintenanceService{target: target, interval: interval, name: "maintenance"}
}

// Serve implements suture.Service.
func (m *MaintenanceService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.target.Maintain(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Msg("Maintenance pass failed")
			}
		}
	}
}

func (m *MaintenanceService) String() string {
	return m.name
}
