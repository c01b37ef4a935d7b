// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
Package metrics provides Prometheus instrumentation for backup, restore and
recovery operations.

Metrics are registered on the default registry through promauto and exposed
at /metrics by the API server:

	curl http://localhost:8642/metrics

# Available Metrics

Backup Metrics:
  - timecapsule_backups_total: Backups attempted (counter)
    Labels: kind, result
  - timecapsule_backup_duration_seconds: Archive creation time (histogram)
  - timecapsule_backup_compressed_bytes: Size of the last archive (gauge)
  - timecapsule_verifications_total: Integrity checks (counter)
    Labels: result
  - timecapsule_pruned_backups_total: Backups removed by retention (counter)

Restore and Recovery Metrics:
  - timecapsule_restores_total: Restores finished (counter)
    Labels: result
  - timecapsule_recovery_plans_total: Plans created and executed (counter)
    Labels: result
  - timecapsule_snapshots_total: State snapshots recorded (counter)

Scheduler Metrics:
  - timecapsule_scheduler_job_runs_total: Scheduled job runs (counter)
    Labels: job, result

HTTP Metrics:
  - api_requests_total, api_request_duration_seconds, api_active_requests
*/
package metrics
