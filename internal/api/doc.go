// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

/*
Package api exposes the download security service over HTTP.

Routes (chi):

	POST   /api/v1/downloads/check             decide a download attempt
	POST   /api/v1/downloads/record            append a completed download
	POST   /api/v1/resources/{id}/views        count a resource view

	GET    /api/v1/admin/bans                  list bans (?active=true&limit&offset)
	POST   /api/v1/admin/bans                  ban an IP
	DELETE /api/v1/admin/bans/{ip}             unban an IP
	GET    /api/v1/admin/bans/{ip}/history     ban history
	GET    /api/v1/admin/whitelist             list the whitelist
	POST   /api/v1/admin/whitelist             whitelist an IP
	DELETE /api/v1/admin/whitelist/{ip}        remove a whitelist entry
	GET    /api/v1/admin/config                effective settings and their source
	PUT    /api/v1/admin/config                persist settings
	DELETE /api/v1/admin/config                drop persisted settings
	GET    /api/v1/admin/anomalies             list anomalies
	POST   /api/v1/admin/anomalies/{id}/resolve
	GET    /api/v1/admin/stats                 combined report (?days=7)
	GET    /api/v1/admin/stats/anomalies
	GET    /api/v1/admin/stats/bans
	GET    /api/v1/admin/actions               security action audit trail

	GET    /health
	GET    /metrics                            Prometheus exposition

Every response is a JSON envelope with status, data, metadata and, on
failure, error{code,message}. Admin routes are rate limited per client IP by
httprate and take the acting operator from the X-Admin-User header;
authentication happens in front of this service.

The client IP for download checks comes from the request body when present,
otherwise from chi's RealIP (X-Forwarded-For, X-Real-IP) and RemoteAddr.
*/
package api
