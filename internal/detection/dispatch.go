// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package detection

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/dlguard/internal/logging"
)

// sendTimeout bounds a single notifier delivery.
const sendTimeout = 15 * time.Second

// Dispatch sends event to every enabled notifier in its own goroutine and
// returns immediately. Failures are logged. The returned WaitGroup completes
// when all deliveries finish.
//
// Deliveries run on a context detached from ctx so that a finished request
// does not cancel them.
func Dispatch(ctx context.Context, notifiers []Notifier, event *SecurityEvent) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, n := range notifiers {
		if n == nil || !n.Enabled() {
			continue
		}
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
			defer cancel()
			if err := n.Send(sendCtx, event); err != nil {
				logging.Error().Err(err).Str("notifier", n.Name()).Msg("failed to send security event")
			}
		}(n)
	}
	return &wg
}
