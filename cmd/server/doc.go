// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

/*
Command server runs the DLGuard download security service.

	RootSupervisor ("dlguard")
	├── BackgroundSupervisor ("background-layer")
	│   ├── MaintenanceService
	│   └── NotifierDrainService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Startup order:

 1. Configuration (koanf: defaults, YAML file, environment)
 2. Logging (zerolog, optional rotated file)
 3. DuckDB and schema creation for every store
 4. Rate limit rule seeding from RATELIMIT_RULES_FILE when the table is empty
 5. Admin notifiers (webhook, NATS)
 6. Config file watch: the security section is re-applied as the compiled
    default on change
 7. Supervisor tree until SIGINT or SIGTERM

Common environment variables:

	HTTP_PORT=8095
	DUCKDB_PATH=/data/dlguard.duckdb
	LOG_LEVEL=info
	LOG_FORMAT=json
	CORS_ORIGINS=https://downloads.example.org
	ADMIN_RATE_LIMIT=120
	RATELIMIT_RULES_FILE=/etc/dlguard/rules.yaml
	NOTIFY_WEBHOOK_URL=https://hooks.example.org/dlguard
	NOTIFY_NATS_URL=nats://localhost:4222
	ENABLE_AUTO_BAN=true
	BAN_DURATION_HOURS=24

CONFIG_PATH selects the YAML file explicitly.
*/
package main
