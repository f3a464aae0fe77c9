// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

/*
Package supervisor runs DLGuard's long-lived services under a suture v4 tree.

	RootSupervisor ("dlguard")
	├── BackgroundSupervisor ("background-layer")
	│   ├── MaintenanceService     reservation sweep and audit retention
	│   └── NotifierDrainService   flushes admin notifications on shutdown
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A failing maintenance pass restarts only the background layer; the HTTP
server keeps answering download checks. Supervisor events are logged through
sutureslog backed by the zerolog adapter in internal/logging.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddBackgroundService(services.NewMaintenanceService(svc, time.Minute))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	err = tree.Serve(ctx)
*/
package supervisor
