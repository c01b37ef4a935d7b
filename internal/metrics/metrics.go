// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// Backup Metrics
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timecapsule_backups_total",
			Help: "Total number of backups attempted",
		},
		[]string{"kind", "result"},
	)

	BackupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timecapsule_backup_duration_seconds",
			Help:    "Duration of backup archive creation in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
	)

	BackupCompressedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timecapsule_backup_compressed_bytes",
			Help: "Compressed size of the most recent backup archive",
		},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timecapsule_verifications_total",
			Help: "Total number of backup integrity checks",
		},
		[]string{"result"},
	)

	PrunedBackupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timecapsule_pruned_backups_total",
			Help: "Total number of backups removed by the retention pass",
		},
	)

	// Restore and Recovery Metrics
	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timecapsule_restores_total",
			Help: "Total number of restores finished",
		},
		[]string{"result"},
	)

	RecoveryPlansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timecapsule_recovery_plans_total",
			Help: "Total number of recovery plans by outcome (planned, completed, failed)",
		},
		[]string{"result"},
	)

	SnapshotsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timecapsule_snapshots_total",
			Help: "Total number of state snapshots recorded",
		},
	)

	// Scheduler Metrics
	SchedulerJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timecapsule_scheduler_job_runs_total",
			Help: "Total number of scheduled job runs",
		},
		[]string{"job", "result"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordBackup records one backup attempt.
func RecordBackup(kind string, duration time.Duration, compressedBytes int64, err error) {
	BackupsTotal.WithLabelValues(kind, result(err)).Inc()
	if err != nil {
		return
	}
	BackupDuration.Observe(duration.Seconds())
	BackupCompressedBytes.Set(float64(compressedBytes))
}

// RecordVerification records an integrity check outcome.
func RecordVerification(ok bool) {
	if ok {
		VerificationsTotal.WithLabelValues(ResultSuccess).Inc()
		return
	}
	VerificationsTotal.WithLabelValues(ResultFailure).Inc()
}

// RecordRestore records a finished restore.
func RecordRestore(err error) {
	RestoresTotal.WithLabelValues(result(err)).Inc()
}

// RecordRecoveryPlan records a plan lifecycle outcome such as "planned".
func RecordRecoveryPlan(outcome string) {
	RecoveryPlansTotal.WithLabelValues(outcome).Inc()
}

// RecordSchedulerJob records one scheduled job run.
func RecordSchedulerJob(job string, err error) {
	SchedulerJobRuns.WithLabelValues(job, result(err)).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// SetAppInfo publishes the build version.
func SetAppInfo(version string) {
	AppInfo.WithLabelValues(version, runtime.Version()).Set(1)
}
