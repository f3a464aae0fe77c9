// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCheck(t *testing.T) {
	before := testutil.ToFloat64(DownloadChecks.WithLabelValues("rate_limited"))
	RecordCheck("rate_limited", 3*time.Millisecond)
	RecordCheck("rate_limited", 1*time.Millisecond)

	if got := testutil.ToFloat64(DownloadChecks.WithLabelValues("rate_limited")) - before; got != 2 {
		t.Errorf("rate_limited delta = %v, want 2", got)
	}
}

func TestRecordConfigRead(t *testing.T) {
	before := testutil.ToFloat64(ConfigFallbacks)

	RecordConfigRead(true)
	if got := testutil.ToFloat64(ConfigDegraded); got != 1 {
		t.Errorf("ConfigDegraded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ConfigFallbacks) - before; got != 1 {
		t.Errorf("ConfigFallbacks delta = %v, want 1", got)
	}

	RecordConfigRead(false)
	if got := testutil.ToFloat64(ConfigDegraded); got != 0 {
		t.Errorf("ConfigDegraded = %v, want 0 after a clean read", got)
	}
	if got := testutil.ToFloat64(ConfigFallbacks) - before; got != 1 {
		t.Errorf("clean read should not count a fallback, delta = %v", got)
	}
}

func TestLabelledCounters(t *testing.T) {
	tests := []struct {
		name   string
		record func()
		read   func() float64
	}{
		{
			name:   "check error",
			record: func() { RecordCheckError("heuristic") },
			read:   func() float64 { return testutil.ToFloat64(CheckErrors.WithLabelValues("heuristic")) },
		},
		{
			name:   "anomaly",
			record: func() { RecordAnomaly("suspicious_pattern", "high") },
			read: func() float64 {
				return testutil.ToFloat64(AnomaliesDetected.WithLabelValues("suspicious_pattern", "high"))
			},
		},
		{
			name:   "ban action",
			record: func() { RecordBanAction("expire", "temporary") },
			read:   func() float64 { return testutil.ToFloat64(BanActions.WithLabelValues("expire", "temporary")) },
		},
		{
			name:   "notification",
			record: func() { RecordNotification("webhook", "sent") },
			read:   func() float64 { return testutil.ToFloat64(NotificationsSent.WithLabelValues("webhook", "sent")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.read()
			tt.record()
			if got := tt.read() - before; got != 1 {
				t.Errorf("delta = %v, want 1", got)
			}
		})
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != before+1 {
		t.Errorf("active = %v, want %v", got, before+1)
	}
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != before {
		t.Errorf("active = %v, want %v", got, before)
	}
}
