// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/domain"
)

type fixture struct {
	dir       string
	constPath string
	prefPath  string
	store     *catalog.Store
	recorder  *Recorder
	registry  *domain.Registry
}

func newFixture(t *testing.T, states ...domain.StateDomain) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:       dir,
		constPath: filepath.Join(dir, "app", "data", "constitution.json"),
		prefPath:  filepath.Join(dir, "app", "prefs.json"),
	}
	writeFile(t, f.constPath, `{"rules":{"a":1}}`)
	writeFile(t, f.prefPath, `{"theme":"dark"}`)

	if len(states) == 0 {
		states = []domain.StateDomain{
			domain.NewFileState("constitution", f.constPath),
			domain.NewFileState("preferences", f.prefPath),
		}
	}
	registry, err := domain.NewRegistry([]domain.Domain{{Name: "vault", Root: "vault"}}, states)
	require.NoError(t, err)
	f.registry = registry

	f.store, err = catalog.Open(filepath.Join(dir, "catalog.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.store.Close() })

	f.recorder, err = NewRecorder(filepath.Join(dir, "backups", "snapshots"), f.store, registry, nil)
	require.NoError(t, err)
	return f
}

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

func TestRecorder_SnapshotWritesCatalogAndAuditFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.recorder.Snapshot(ctx, "before upgrade", []string{"manual"})
	require.NoError(t, err)
	assert.Equal(t, catalog.SnapshotFormatVersion, snap.Version)
	assert.Equal(t, `{"rules":{"a":1}}`, string(snap.Blobs["constitution"]))
	assert.Equal(t, `{"theme":"dark"}`, string(snap.Blobs["preferences"]))

	stored, err := f.recorder.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Blobs, stored.Blobs)
	assert.Equal(t, []string{"manual"}, stored.Tags)

	audit, err := ReadAuditFile(f.recorder.AuditPath(snap.ID))
	require.NoError(t, err)
	assert.Equal(t, snap.ID, audit.ID)
	assert.Equal(t, snap.Blobs, audit.Blobs)
}

// failingStore rejects every insert.
type failingStore struct {
	*catalog.Store
}

func (failingStore) InsertSnapshot(context.Context, *catalog.Snapshot) error {
	return apperr.IO("test", errors.New("catalog offline"))
}

func TestRecorder_FailedInsertRemovesAuditFile(t *testing.T) {
	f := newFixture(t)
	recorder, err := NewRecorder(f.recorder.dir, failingStore{f.store}, f.registry, nil)
	require.NoError(t, err)

	_, err = recorder.Snapshot(context.Background(), "", nil)
	require.Error(t, err)

	entries, err := os.ReadDir(f.recorder.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecorder_RollbackRestoresStateAndIsReversible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	original, err := f.recorder.Snapshot(ctx, "good state", nil)
	require.NoError(t, err)

	writeFile(t, f.constPath, `{"rules":{}}`)
	require.NoError(t, os.Remove(f.prefPath))

	preID, err := f.recorder.Rollback(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"rules":{"a":1}}`, readFile(t, f.constPath))
	assert.Equal(t, `{"theme":"dark"}`, readFile(t, f.prefPath))

	pre, err := f.recorder.Get(ctx, preID)
	require.NoError(t, err)
	assert.Equal(t, `{"rules":{}}`, string(pre.Blobs["constitution"]))
	assert.Empty(t, pre.Blobs["preferences"])
	assert.Contains(t, pre.Tags, "pre-rollback")

	// Undo the rollback
	_, err = f.recorder.Rollback(ctx, preID)
	require.NoError(t, err)
	assert.Equal(t, `{"rules":{}}`, readFile(t, f.constPath))
	assert.NoFileExists(t, f.prefPath)

	snaps, err := f.recorder.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
}

func TestRecorder_RollbackUnknownSnapshot(t *testing.T) {
	f := newFixture(t)

	_, err := f.recorder.Rollback(context.Background(), "snap-missing")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	snaps, err := f.recorder.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, snaps, "no pre-rollback snapshot for an unknown target")
}

// brokenState serializes fine but refuses to deserialize.
type brokenState struct{ name string }

func (b brokenState) Name() string { return b.name }
func (b brokenState) Serialize(context.Context) ([]byte, error) { return []byte("x"), nil }
func (b brokenState) Deserialize(context.Context, []byte) error { return errors.New("read-only") }

func TestRecorder_RollbackPartialFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "a.json")
	writeFile(t, good, "one")

	f := newFixture(t, domain.NewFileState("a", good), brokenState{name: "b"})
	ctx := context.Background()

	snap, err := f.recorder.Snapshot(ctx, "", nil)
	require.NoError(t, err)
	writeFile(t, good, "two")

	preID, err := f.recorder.Rollback(ctx, snap.ID)
	require.Error(t, err)
	assert.NotEmpty(t, preID)
	assert.True(t, apperr.IsKind(err, apperr.KindPartialFailure))
	assert.Equal(t, "one", readFile(t, good), "domains before the failure stay restored")
}
