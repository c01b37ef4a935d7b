// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/timecapsule/internal/apperr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog", "catalog.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testBackup(at time.Time, kind Kind) *Backup {
	return &Backup{
		ID:                 NewBackupID(at, kind),
		CreatedAt:          at.UTC().Truncate(time.Microsecond),
		Kind:               kind,
		Description:        "test",
		Manifest:           []string{"data/constitution.json", "vault/a.md"},
		RawSize:            100,
		CompressedSize:     40,
		Counters:           map[string]int64{"documents": 1},
		Checksum:           strings.Repeat("a", 64),
		VerificationStatus: VerificationVerified,
		Tags:               []string{"scheduled"},
		RetentionDays:      30,
		ArchivePath:        "/tmp/x.tar.gz",
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusPending, false},
		{StatusPlanned, StatusExecuting, true},
		{StatusExecuting, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusInProgress, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestNewBackupID(t *testing.T) {
	at := time.Date(2026, 10, 18, 2, 0, 0, 123456000, time.UTC)
	id := NewBackupID(at, KindFull)
	assert.True(t, strings.HasPrefix(id, "bk-20261018T020000.123456Z-full-"), id)
	assert.NotEqual(t, id, NewBackupID(at, KindFull))
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.duckdb")
	s, err := Open(path)
	require.NoError(t, err)
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations()), v)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, err = s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations()), v)
}

func TestBackups_InsertGetList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	first := testBackup(base, KindFull)
	second := testBackup(base.Add(time.Hour), KindIncremental)
	third := testBackup(base.Add(2*time.Hour), KindFull)
	for _, b := range []*Backup{first, second, third} {
		require.NoError(t, s.InsertBackup(ctx, b))
	}

	got, err := s.GetBackup(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Manifest, got.Manifest)
	assert.Equal(t, first.Counters, got.Counters)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	all, err := s.ListBackups(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	fulls, err := s.ListBackups(ctx, ListOptions{Kind: KindFull, Limit: 1})
	require.NoError(t, err)
	require.Len(t, fulls, 1)
	assert.Equal(t, third.ID, fulls[0].ID)

	_, err = s.GetBackup(ctx, "bk-missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestBackups_LatestVerifiedAtOrBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	t1 := testBackup(base, KindFull)
	t2 := testBackup(base.Add(48*time.Hour), KindFull)
	failed := testBackup(base.Add(24*time.Hour), KindFull)
	failed.VerificationStatus = VerificationFailed
	for _, b := range []*Backup{t1, t2, failed} {
		require.NoError(t, s.InsertBackup(ctx, b))
	}

	got, err := s.LatestVerifiedAtOrBefore(ctx, base.Add(36*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, t1.ID, got.ID, "failed backups are skipped")

	got, err = s.LatestVerifiedAtOrBefore(ctx, t2.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, t2.ID, got.ID, "boundary is inclusive")

	got, err = s.LatestVerifiedAtOrBefore(ctx, base.Add(-time.Second))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBackups_DeleteCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := testBackup(time.Now(), KindFull)
	require.NoError(t, s.InsertBackup(ctx, b))

	r := &Restore{ID: NewRestoreID(time.Now()), BackupID: b.ID, CreatedAt: time.Now(), Status: StatusPending}
	require.NoError(t, s.InsertRestore(ctx, r))

	var seen *Backup
	ok, err := s.DeleteBackup(ctx, b.ID, func(del *Backup) error {
		seen = del
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, seen)
	assert.Equal(t, b.ArchivePath, seen.ArchivePath)

	_, err = s.GetRestore(ctx, r.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "restore rows cascade")

	ok, err = s.DeleteBackup(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok, "second delete reports false")
}

func TestBackups_DeleteRollsBackOnHookError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := testBackup(time.Now(), KindFull)
	require.NoError(t, s.InsertBackup(ctx, b))

	_, err := s.DeleteBackup(ctx, b.ID, func(*Backup) error { return errors.New("permission denied") })
	require.Error(t, err)

	_, err = s.GetBackup(ctx, b.ID)
	assert.NoError(t, err, "row survives a failed archive removal")
}

func TestBackups_VerificationAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	a := testBackup(base, KindFull)
	b := testBackup(base.Add(time.Hour), KindDifferential)
	require.NoError(t, s.InsertBackup(ctx, a))
	require.NoError(t, s.InsertBackup(ctx, b))

	require.NoError(t, s.SetVerificationStatus(ctx, a.ID, VerificationFailed, time.Now()))
	got, err := s.GetBackup(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, VerificationFailed, got.VerificationStatus)
	assert.NotNil(t, got.VerifiedAt)

	err = s.SetVerificationStatus(ctx, "bk-missing", VerificationVerified, time.Now())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	stats, err := s.BackupStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, int64(200), stats.TotalRawBytes)
	assert.Equal(t, int64(80), stats.TotalCompressed)
	assert.Equal(t, 1, stats.CountByKind[KindFull])
	assert.Equal(t, 1, stats.CountByVerification[string(VerificationFailed)])
	require.NotNil(t, stats.Oldest)
	assert.True(t, stats.Oldest.Equal(a.CreatedAt))
}

func TestRestores_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := testBackup(time.Now(), KindFull)
	require.NoError(t, s.InsertBackup(ctx, b))

	r := &Restore{
		ID:        NewRestoreID(time.Now()),
		BackupID:  b.ID,
		CreatedAt: time.Now(),
		Scope:     map[string]bool{"documents": true},
		Status:    StatusPending,
	}
	require.NoError(t, s.InsertRestore(ctx, r))

	err := s.SetRestoreProgress(ctx, r.ID, 10)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation), "pending restores take no progress")

	require.NoError(t, s.StartRestore(ctx, r.ID))
	require.NoError(t, s.SetRestoreProgress(ctx, r.ID, 50))
	require.NoError(t, s.SetRestoreProgress(ctx, r.ID, 30))
	require.NoError(t, s.SetRestoreProgress(ctx, r.ID, 100))

	got, err := s.GetRestore(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 99, got.Progress, "progress is monotonic and capped below 100")
	assert.Equal(t, map[string]bool{"documents": true}, got.Scope)

	require.NoError(t, s.CompleteRestore(ctx, r.ID, time.Now()))
	got, err = s.GetRestore(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.CompletedAt)

	err = s.FailRestore(ctx, r.ID, "late", time.Now())
	assert.True(t, apperr.IsKind(err, apperr.KindValidation), "completed is terminal")
}

func TestRestores_InsertRequiresBackup(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertRestore(context.Background(), &Restore{
		ID: NewRestoreID(time.Now()), BackupID: "bk-missing", CreatedAt: time.Now(), Status: StatusPending,
	})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	older := &Snapshot{
		ID: NewSnapshotID(base), CreatedAt: base, Version: SnapshotFormatVersion,
		Blobs: map[string][]byte{"constitution": []byte(`{"rules":{}}`), "settings": {}},
	}
	newer := &Snapshot{ID: NewSnapshotID(base.Add(time.Minute)), CreatedAt: base.Add(time.Minute), Version: SnapshotFormatVersion}
	require.NoError(t, s.InsertSnapshot(ctx, older))
	require.NoError(t, s.InsertSnapshot(ctx, newer))

	got, err := s.GetSnapshot(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"rules":{}}`), got.Blobs["constitution"])
	assert.Empty(t, got.Blobs["settings"])

	list, err := s.ListSnapshots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, newer.ID, list[0].ID)

	n, err := s.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetSnapshot(ctx, "snap-missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestPlans_Lifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &Plan{
		ID:              NewPlanID(now),
		Description:     "roll back documents",
		TargetTimestamp: now.Add(-time.Hour),
		BackupID:        "bk-1",
		Steps: []Step{
			{Type: StepBackup, Action: ActionCreateBackup, Description: "pre-recovery backup"},
			{Type: StepRestore, Action: ActionRestoreBackup, Params: map[string]string{"backup_id": "bk-1"}},
		},
		EstimatedDuration: 25 * time.Minute,
		RiskLevel:         RiskLow,
		AffectedDomains:   []string{"documents"},
		Status:            StatusPlanned,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.InsertPlan(ctx, p))

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Steps, got.Steps)
	assert.Equal(t, 25*time.Minute, got.EstimatedDuration)

	err = s.UpdatePlanProgress(ctx, p.ID, 1, 50, now)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation), "planned plans take no progress")

	require.NoError(t, s.TransitionPlan(ctx, p.ID, StatusExecuting, "", now))
	require.NoError(t, s.SetPlanSnapshots(ctx, p.ID, "snap-pre", ""))
	require.NoError(t, s.UpdatePlanProgress(ctx, p.ID, 1, 50, now))
	require.NoError(t, s.TransitionPlan(ctx, p.ID, StatusFailed, "restore failed", now))

	got, err = s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "restore failed", got.Error)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, "snap-pre", got.PreSnapshotID)

	err = s.TransitionPlan(ctx, p.ID, StatusExecuting, "", now)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	counts, err := s.CountPlansByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusFailed: 1}, counts)
}
