// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package backup

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/domain"
)

// fixture is a base directory with two domains, a catalog and an archiver.
type fixture struct {
	baseDir  string
	cfg      Config
	store    *catalog.Store
	registry *domain.Registry
	archiver *Archiver
	restorer *Restorer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDomains(t, []domain.Domain{
		{Name: "vault", Root: "vault"},
		{Name: "data", Root: "data", Sensitivity: domain.SensitivityHigh},
	})
}

func newFixtureWithDomains(t *testing.T, domains []domain.Domain) *fixture {
	t.Helper()

	root := t.TempDir()
	baseDir := filepath.Join(root, "app")

	writeTestFile(t, baseDir, "vault/notes/a.md", "# first note\n")
	writeTestFile(t, baseDir, "vault/notes/b.md", "# second note\n")
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "vault", "empty"), 0o750))
	writeTestFile(t, baseDir, "data/constitution.json", `{"rules":{"a":1,"b":2}}`)
	writeTestFile(t, baseDir, "data/other.sqlite3-wal", "not a real wal")
	createTestDatabase(t, filepath.Join(baseDir, "data", "app.db"), 3)

	registry, err := domain.NewRegistry(domains, nil)
	require.NoError(t, err)

	store, err := catalog.Open(filepath.Join(root, "catalog.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := Config{
		BaseDir:          baseDir,
		BackupDir:        filepath.Join(root, "backups"),
		CompressionLevel: 6,
		RetentionDays:    30,
		DefaultTags:      []string{"test"},
	}

	archiver, err := NewArchiver(cfg, store, registry, nil)
	require.NoError(t, err)
	restorer, err := NewRestorer(cfg, store, registry, nil)
	require.NoError(t, err)

	return &fixture{
		baseDir:  baseDir,
		cfg:      archiver.Config(),
		store:    store,
		registry: registry,
		archiver: archiver,
		restorer: restorer,
	}
}

func writeTestFile(t *testing.T, baseDir, rel, content string) {
	t.Helper()
	path := filepath.Join(baseDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

func readTestFile(t *testing.T, baseDir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(baseDir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func createTestDatabase(t *testing.T, path string, rows int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE entries (id INTEGER PRIMARY KEY, body TEXT)`)
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		_, err = db.Exec(`INSERT INTO entries (body) VALUES (?)`, "entry")
		require.NoError(t, err)
	}
}

func countTestRows(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n))
	return n
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestArchiver_CreateRecordsBackup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.archiver.Create(ctx, catalog.KindFull, "nightly", []string{"manual", "test"})
	require.NoError(t, err)

	assert.Equal(t, catalog.KindFull, b.Kind)
	assert.Equal(t, catalog.VerificationVerified, b.VerificationStatus)
	assert.NotNil(t, b.VerifiedAt)
	assert.Equal(t, []string{"test", "manual"}, b.Tags)
	assert.Equal(t, 30, b.RetentionDays)
	assert.Len(t, b.Checksum, 64)
	assert.Positive(t, b.RawSize)
	assert.Positive(t, b.CompressedSize)

	assert.Equal(t, []string{
		"data/app.db",
		"data/constitution.json",
		"vault/empty/",
		"vault/notes/a.md",
		"vault/notes/b.md",
	}, b.Manifest)
	assert.True(t, sort.StringsAreSorted(b.Manifest))

	sum, size, err := calculateFileChecksum(b.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, b.Checksum, sum)
	assert.Equal(t, b.CompressedSize, size)

	stored, err := f.archiver.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Manifest, stored.Manifest)
	assert.Equal(t, b.Checksum, stored.Checksum)

	assert.Empty(t, dirEntries(t, f.cfg.TempDir()), "staging tree must be removed")
}

func TestArchiver_KindIsLabelOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	full, err := f.archiver.Create(ctx, catalog.KindFull, "", nil)
	require.NoError(t, err)
	inc, err := f.archiver.Create(ctx, catalog.KindIncremental, "", nil)
	require.NoError(t, err)

	assert.Equal(t, catalog.KindIncremental, inc.Kind)
	assert.Equal(t, full.Manifest, inc.Manifest)
	assert.Equal(t, full.RawSize, inc.RawSize)
}

func TestArchiver_CreateRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)

	_, err := f.archiver.Create(context.Background(), catalog.Kind("weekly"), "", nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

// failingInsert makes the catalog insert fail after the archive is written.
type failingInsert struct {
	*catalog.Store
}

func (failingInsert) InsertBackup(context.Context, *catalog.Backup) error {
	return errors.New("disk full")
}

func TestArchiver_CreateFailureLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	archiver, err := NewArchiver(f.cfg, failingInsert{f.store}, f.registry, nil)
	require.NoError(t, err)

	_, err = archiver.Create(ctx, catalog.KindFull, "", nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIOFailure))

	assert.Empty(t, dirEntries(t, f.cfg.TempDir()), "staging tree must be removed")
	assert.Empty(t, dirEntries(t, f.cfg.ArchiveDir()), "partial archive must be removed")

	backups, err := f.archiver.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestArchiver_CreateHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.archiver.Create(ctx, catalog.KindFull, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dirEntries(t, f.cfg.ArchiveDir()))
}

func TestArchiver_FilesStagedByteForByte(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	writeTestFile(t, f.baseDir, "data/app.db-wal", "committed pages")
	before := readTestFile(t, f.baseDir, "data/app.db")

	b, err := f.archiver.Create(ctx, catalog.KindFull, "", nil)
	require.NoError(t, err)
	assert.Contains(t, b.Manifest, "data/app.db")
	assert.Contains(t, b.Manifest, "data/app.db-wal")
	assert.Contains(t, b.Manifest, "data/other.sqlite3-wal", "a sidecar without its database is an ordinary file")

	require.NoError(t, os.RemoveAll(filepath.Join(f.baseDir, "data")))

	_, err = f.restorer.Restore(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, before, readTestFile(t, f.baseDir, "data/app.db"))
	assert.Equal(t, "committed pages", readTestFile(t, f.baseDir, "data/app.db-wal"))
	assert.Equal(t, "not a real wal", readTestFile(t, f.baseDir, "data/other.sqlite3-wal"))
}

func TestArchiver_SQLiteSnapshotDomain(t *testing.T) {
	f := newFixtureWithDomains(t, []domain.Domain{
		{Name: "vault", Root: "vault"},
		{Name: "data", Root: "data", SQLiteSnapshot: true},
	})
	ctx := context.Background()

	writeTestFile(t, f.baseDir, "data/app.db-shm", "stale shared memory")
	writeTestFile(t, f.baseDir, "data/broken.sqlite", "not a database")
	writeTestFile(t, f.baseDir, "data/broken.sqlite-wal", "wal of a broken database")

	b, err := f.archiver.Create(ctx, catalog.KindFull, "", nil)
	require.NoError(t, err)
	assert.Contains(t, b.Manifest, "data/app.db")
	assert.NotContains(t, b.Manifest, "data/app.db-shm", "sidecars of a vacuumed database are folded in")
	assert.Contains(t, b.Manifest, "data/broken.sqlite")
	assert.Contains(t, b.Manifest, "data/broken.sqlite-wal", "a database copied as-is keeps its sidecars")
	assert.Contains(t, b.Manifest, "data/other.sqlite3-wal")

	dbPath := filepath.Join(f.baseDir, "data", "app.db")
	require.NoError(t, os.Remove(dbPath))

	_, err = f.restorer.Restore(ctx, b.ID, domain.ScopeOf("data"))
	require.NoError(t, err)
	assert.Equal(t, 3, countTestRows(t, dbPath))
	assert.Equal(t, "not a database", readTestFile(t, f.baseDir, "data/broken.sqlite"))
	assert.Equal(t, "wal of a broken database", readTestFile(t, f.baseDir, "data/broken.sqlite-wal"))
}

func TestReadOnlyDSN_EscapesReservedCharacters(t *testing.T) {
	dsn, err := readOnlyDSN("/srv/odd?name#dir/app.db")
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/odd%3Fname%23dir/app.db?mode=ro", dsn)

	dbPath := filepath.Join(t.TempDir(), "notes#2026", "app.db")
	createTestDatabase(t, dbPath, 2)

	dst := filepath.Join(t.TempDir(), "copy.db")
	vacuumed, err := snapshotSQLite(context.Background(), dbPath, dst)
	require.NoError(t, err)
	assert.True(t, vacuumed, "reserved characters in the path must not force a plain copy")
	assert.Equal(t, 2, countTestRows(t, dst))
}

func TestArchiver_Verify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.archiver.Create(ctx, catalog.KindFull, "", nil)
	require.NoError(t, err)

	ok, err := f.archiver.Verify(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, dirEntries(t, f.cfg.TempDir()), "scratch directory must be removed")

	// Tamper with the archive
	fh, err := os.OpenFile(b.ArchivePath, os.O_APPEND|os.O_WRONLY, 0o640)
	require.NoError(t, err)
	_, err = fh.Write([]byte{0x00})
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	ok, err = f.archiver.Verify(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := f.archiver.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.VerificationFailed, stored.VerificationStatus)

	result, err := f.archiver.VerifyDetailed(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIntegrity))
	require.NotNil(t, result)
	assert.False(t, result.ChecksumValid)
	assert.NotEqual(t, result.ExpectedChecksum, result.ActualChecksum)
}

func TestArchiver_VerifyMissingArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.archiver.Create(ctx, catalog.KindFull, "", nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(b.ArchivePath))

	ok, err := f.archiver.Verify(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.archiver.Verify(ctx, "bk-missing")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestArchiver_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.archiver.Create(ctx, catalog.KindFull, "", nil)
	require.NoError(t, err)
	_, err = f.restorer.Restore(ctx, b.ID, nil)
	require.NoError(t, err)

	deleted, err := f.archiver.Delete(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = os.Stat(b.ArchivePath)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	restores, err := f.restorer.List(ctx, b.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, restores)

	deleted, err = f.archiver.Delete(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestArchiver_ListAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 2, 0, 0, 0, time.UTC)
	step := 0
	f.archiver.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Hour)
	}

	_, err := f.archiver.Create(ctx, catalog.KindFull, "", nil)
	require.NoError(t, err)
	second, err := f.archiver.Create(ctx, catalog.KindDifferential, "", nil)
	require.NoError(t, err)

	all, err := f.archiver.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	diffs, err := f.archiver.List(ctx, catalog.KindDifferential, 0)
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	stats, err := f.archiver.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 1, stats.CountByKind[catalog.KindFull])
	assert.Equal(t, 1, stats.CountByKind[catalog.KindDifferential])
}

func TestMergeTags(t *testing.T) {
	tests := []struct {
		name     string
		defaults []string
		extra    []string
		want     []string
	}{
		{"both empty", nil, nil, []string{}},
		{"defaults only", []string{"a"}, nil, []string{"a"}},
		{"dedupe", []string{"a", "b"}, []string{"b", "c"}, []string{"a", "b", "c"}},
		{"drop empty", []string{""}, []string{"x", ""}, []string{"x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeTags(tt.defaults, tt.extra))
		})
	}
}
