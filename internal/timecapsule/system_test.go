// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package timecapsule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/config"
	"github.com/tomtom215/timecapsule/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.BaseDir = base
	cfg.BackupDir = filepath.Join(base, "backups")
	cfg.CatalogPath = filepath.Join(base, "backups", "catalog.duckdb")
	cfg.StateDir = filepath.Join(base, "backups", "state")
	cfg.Backup.CompressionLevel = 1

	writeFile(t, filepath.Join(base, "vault", "journal.md"), "day one")
	writeFile(t, filepath.Join(base, "data", "constitution.json"), `{"rules":{"honest":true,"kind":true}}`)
	writeFile(t, filepath.Join(base, "config", "app.yaml"), "theme: dark\n")
	return cfg
}

func openSystem(t *testing.T, cfg *config.Config) *System {
	t.Helper()
	sys, err := Open(cfg, Options{InMemoryState: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	return sys
}

func TestSystem_BackupLifecycle(t *testing.T) {
	cfg := testConfig(t)
	sys := openSystem(t, cfg)
	ctx := context.Background()

	b, err := sys.CreateBackup(ctx, catalog.KindFull, "first", []string{"manual"})
	require.NoError(t, err)
	assert.Contains(t, b.Manifest, "vault/journal.md")
	assert.Equal(t, int64(2), b.Counters["constitution"])

	ok, err := sys.VerifyBackup(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := sys.ListBackups(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, catalog.VerificationVerified, list[0].VerificationStatus)

	journal := filepath.Join(cfg.BaseDir, "vault", "journal.md")
	writeFile(t, journal, "overwritten")
	restoreID, err := sys.RestoreFromBackup(ctx, b.ID, domain.ScopeOf("documents"))
	require.NoError(t, err)
	assert.Equal(t, "day one", readFile(t, journal))

	r, err := sys.RestoreStatus(ctx, restoreID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, r.Status)

	deleted, err := sys.DeleteBackup(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoFileExists(t, b.ArchivePath)

	_, err = sys.RestoreStatus(ctx, restoreID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "restore history goes with the backup")
}

func TestSystem_SnapshotCoversFileAndBadgerState(t *testing.T) {
	cfg := testConfig(t)
	sys := openSystem(t, cfg)
	ctx := context.Background()
	require.NotNil(t, sys.StateStore())
	require.NoError(t, sys.StateStore().Set("settings:theme", []byte("dark")))

	snap, err := sys.CreateSystemSnapshot(ctx, "baseline", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Blobs["constitution"])
	assert.NotEmpty(t, snap.Blobs["settings"])

	constPath := filepath.Join(cfg.BaseDir, "data", "constitution.json")
	writeFile(t, constPath, `{"rules":{}}`)
	require.NoError(t, sys.StateStore().Set("settings:theme", []byte("light")))

	preID, err := sys.RollbackToSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.NotEqual(t, snap.ID, preID)

	assert.JSONEq(t, `{"rules":{"honest":true,"kind":true}}`, readFile(t, constPath))
	theme, ok, err := sys.StateStore().Get("settings:theme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dark", string(theme))
}

func TestSystem_PointInTimeRecovery(t *testing.T) {
	cfg := testConfig(t)
	sys := openSystem(t, cfg)
	ctx := context.Background()

	b, err := sys.CreateBackup(ctx, catalog.KindFull, "nightly", nil)
	require.NoError(t, err)
	_, err = sys.CreateRecoveryPlan(ctx, time.Now(), []string{"documents"})
	require.ErrorIs(t, err, apperr.ErrNoSuitableBackup, "unverified backups are not recovery sources")

	ok, err := sys.VerifyBackup(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)

	journal := filepath.Join(cfg.BaseDir, "vault", "journal.md")
	writeFile(t, journal, "bad edit")

	plan, err := sys.CreateRecoveryPlan(ctx, time.Now(), []string{"documents"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, plan.BackupID)
	assert.True(t, plan.DataLossRisk, "journal changed after the backup")

	require.NoError(t, sys.ExecuteRecoveryPlan(ctx, plan.ID))
	assert.Equal(t, "day one", readFile(t, journal))

	done, err := sys.GetRecoveryPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, done.Status)
	assert.NotEmpty(t, done.PreSnapshotID)
	assert.NotEmpty(t, done.PostSnapshotID)

	backups, err := sys.ListBackups(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Contains(t, backups[0].Tags, "pre-recovery")
	assert.Contains(t, backups[0].Tags, "safety")

	status, err := sys.GetRecoveryStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalPlans)
	assert.Equal(t, 2, status.TotalSnapshots)
}

func TestSystem_NoBadgerStateWithoutBadgerDomains(t *testing.T) {
	cfg := testConfig(t)
	cfg.StateDomains = []config.StateDomainConfig{{Name: "constitution", Kind: "file", Target: "data/constitution.json"}}
	sys := openSystem(t, cfg)

	assert.Nil(t, sys.StateStore())
	assert.Len(t, sys.Registry().States(), 1)
	require.NoError(t, sys.Ping(context.Background()))
}

func TestSystem_PruneAndJobs(t *testing.T) {
	cfg := testConfig(t)
	sys := openSystem(t, cfg)

	pruned, err := sys.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pruned)

	names := make([]string, 0)
	for _, j := range sys.ScheduledJobs() {
		names = append(names, j.Name)
	}
	assert.ElementsMatch(t, []string{"prune", "scheduled-full", "scheduled-incremental"}, names)
}
