// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
Package api serves the time capsule operations over HTTP using the chi router.

Every response uses the same envelope:

	{"status": "success", "data": ..., "metadata": {"timestamp": ...}}
	{"status": "error", "data": null, "metadata": {...}, "error": {"code": ..., "message": ...}}

Error kinds map to status codes:

	not_found        404 NOT_FOUND
	validation       400 VALIDATION_ERROR (422 NO_SUITABLE_BACKUP)
	integrity        409 INTEGRITY_ERROR
	io_failure       500 IO_FAILURE
	partial_failure  500 PARTIAL_FAILURE

Routes (all under /api/v1, rate limited per client IP):

	GET    /health
	GET    /backups                      ?kind=&limit=
	POST   /backups
	GET    /backups/stats
	GET    /backups/{id}
	DELETE /backups/{id}
	POST   /backups/{id}/verify
	POST   /backups/{id}/restore
	GET    /restores                     ?backup_id=&limit=
	GET    /restores/{id}
	POST   /restores/{id}/abandon
	GET    /snapshots                    ?limit=
	POST   /snapshots
	GET    /snapshots/{id}
	POST   /snapshots/{id}/rollback
	GET    /recovery/plans               ?limit=
	POST   /recovery/plans
	GET    /recovery/plans/{id}
	POST   /recovery/plans/{id}/execute
	GET    /recovery/status
	GET    /schedule/jobs
	POST   /schedule/prune

Prometheus metrics are served at /metrics outside the rate limiter.
*/
package api
