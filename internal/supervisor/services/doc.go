// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

/*
Package services adapts DLGuard components to suture.Service.

  - HTTPServerService: ListenAndServe with graceful Shutdown on cancel.
  - MaintenanceService: periodic Maintain calls (reservation sweep, audit
    retention).
  - NotifierDrainService: on shutdown, waits for in-flight admin
    notifications and then closes the notifier transports.

Each service returns ctx.Err() on a normal stop and a wrapped error on
failure so the supervisor can decide whether to restart it.
*/
package services
