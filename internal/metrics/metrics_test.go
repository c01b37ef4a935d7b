// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordBackup(t *testing.T) {
	before := testutil.ToFloat64(BackupsTotal.WithLabelValues("full", ResultSuccess))
	failedBefore := testutil.ToFloat64(BackupsTotal.WithLabelValues("full", ResultFailure))

	RecordBackup("full", 2*time.Second, 4096, nil)
	RecordBackup("full", time.Second, 0, errors.New("disk full"))

	if got := testutil.ToFloat64(BackupsTotal.WithLabelValues("full", ResultSuccess)); got != before+1 {
		t.Errorf("success counter = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(BackupsTotal.WithLabelValues("full", ResultFailure)); got != failedBefore+1 {
		t.Errorf("failure counter = %v, want %v", got, failedBefore+1)
	}
	if got := testutil.ToFloat64(BackupCompressedBytes); got != 4096 {
		t.Errorf("compressed bytes = %v, want 4096 (failures must not overwrite)", got)
	}
}

func TestRecordOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		record func()
		read   func() float64
	}{
		{
			name:   "verification failure",
			record: func() { RecordVerification(false) },
			read:   func() float64 { return testutil.ToFloat64(VerificationsTotal.WithLabelValues(ResultFailure)) },
		},
		{
			name:   "restore success",
			record: func() { RecordRestore(nil) },
			read:   func() float64 { return testutil.ToFloat64(RestoresTotal.WithLabelValues(ResultSuccess)) },
		},
		{
			name:   "scheduler job failure",
			record: func() { RecordSchedulerJob("prune", errors.New("boom")) },
			read:   func() float64 { return testutil.ToFloat64(SchedulerJobRuns.WithLabelValues("prune", ResultFailure)) },
		},
		{
			name:   "plan completed",
			record: func() { RecordRecoveryPlan("completed") },
			read:   func() float64 { return testutil.ToFloat64(RecoveryPlansTotal.WithLabelValues("completed")) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.read()
			tt.record()
			if got := tt.read(); got != before+1 {
				t.Errorf("counter = %v, want %v", got, before+1)
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
