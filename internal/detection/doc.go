// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

/*
Package detection scores download attempts for abuse and persists the
resulting anomalies.

# Detectors

Heuristic scores a single attempt from four signals:

	Signal              Trigger                                   Weight
	suspicious agent    UA contains an automation keyword         0.30
	user velocity       user's downloads of the package in 1h > 5  0.40
	IP velocity         IP's downloads in 1h > 10                  0.50
	resource velocity   package downloads in 24h > 100            0.30

Weights are summed in hundredths, so 0.3 + 0.4 is exactly 0.7. The sum maps
to a severity (>= 0.8 high, >= 0.6 medium, else low) and is an anomaly when
it reaches the configured suspicious-pattern threshold. A velocity count that
fails drops only that signal.

Statistical looks at the trailing week of per-package view and download
counters and flags a package whose downloads exceed half its views. It needs
at least three days of data and never blocks a download by itself.

Signals, Assess and EvaluateDaily are pure functions; the detector types only
add the ledger reads.

# Storage

AnomalyStore persists DownloadAnomaly rows in the download_anomalies table
and serves the listing, resolution and statistics queries used by the admin
API and by ban escalation.

# Notifications

Critical anomalies are fanned out to every enabled Notifier. WebhookNotifier
posts JSON through a circuit breaker and a token bucket; NATSNotifier
publishes the same payload on a subject. Dispatch sends in goroutines and
only logs failures.
*/
package detection
