// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

// Package snapshot captures and rolls back small non-file state.
//
// A snapshot asks every registered state domain for its serialized blob and
// stores the composite record in the catalog, with a JSON audit copy under
// <backup_dir>/snapshots. Rolling back first snapshots the current state, so
// a rollback can itself be rolled back. Snapshots never touch file backups
// and are never pruned automatically.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/domain"
	"github.com/tomtom215/timecapsule/internal/events"
	"github.com/tomtom215/timecapsule/internal/logging"
	"github.com/tomtom215/timecapsule/internal/metrics"
)

// Store is the catalog subset the recorder uses.
type Store interface {
	InsertSnapshot(ctx context.Context, snap *catalog.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*catalog.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]*catalog.Snapshot, error)
}

// Recorder captures and restores state domain snapshots.
type Recorder struct {
	dir      string
	store    Store
	registry *domain.Registry
	events   events.Publisher
	now      func() time.Time
}

// NewRecorder creates a recorder writing audit files into dir.
func NewRecorder(dir string, store Store, registry *domain.Registry, pub events.Publisher) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("domain registry is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Recorder{
		dir:      dir,
		store:    store,
		registry: registry,
		events:   pub,
		now:      time.Now,
	}, nil
}

// Snapshot captures every state domain into one versioned record.
func (r *Recorder) Snapshot(ctx context.Context, description string, tags []string) (*catalog.Snapshot, error) {
	const op = "snapshot.Snapshot"

	created := r.now().UTC()
	snap := &catalog.Snapshot{
		ID:          catalog.NewSnapshotID(created),
		CreatedAt:   created,
		Description: description,
		Version:     catalog.SnapshotFormatVersion,
		Blobs:       make(map[string][]byte),
		Counters:    r.registry.CollectCounters(ctx),
		Tags:        tags,
	}
	if snap.Tags == nil {
		snap.Tags = []string{}
	}

	for _, state := range r.registry.States() {
		blob, err := state.Serialize(ctx)
		if err != nil {
			return nil, apperr.IO(op, fmt.Errorf("failed to serialize %s: %w", state.Name(), err))
		}
		snap.Blobs[state.Name()] = blob
	}

	auditPath, err := r.writeAuditFile(snap)
	if err != nil {
		return nil, apperr.IO(op, err)
	}
	if err := r.store.InsertSnapshot(ctx, snap); err != nil {
		if rmErr := os.Remove(auditPath); rmErr != nil {
			logging.Warn().Err(rmErr).Str("path", auditPath).Msg("Failed to remove orphaned snapshot audit file")
		}
		return nil, err
	}

	metrics.SnapshotsTotal.Inc()
	logging.Info().
		Str("snapshot_id", snap.ID).
		Strs("domains", blobNames(snap.Blobs)).
		Msg("System snapshot created")
	r.events.Publish(events.New(events.TopicSnapshotCreated, snap.ID, map[string]string{
		"domains": strconv.Itoa(len(snap.Blobs)),
	}))
	return snap, nil
}

// Rollback restores every state domain present in both the target snapshot
// and the registry. The current state is snapshotted first; its id is
// returned so the rollback can be undone.
func (r *Recorder) Rollback(ctx context.Context, id string) (string, error) {
	const op = "snapshot.Rollback"

	target, err := r.store.GetSnapshot(ctx, id)
	if err != nil {
		return "", err
	}
	if target.Version > catalog.SnapshotFormatVersion {
		return "", apperr.Validation(op, "snapshot %s has unsupported format version %d", id, target.Version)
	}

	pre, err := r.Snapshot(ctx, "Pre-rollback state before "+id, []string{"pre-rollback"})
	if err != nil {
		return "", fmt.Errorf("failed to capture pre-rollback state: %w", err)
	}

	var states []domain.StateDomain
	for _, name := range blobNames(target.Blobs) {
		if state, ok := r.registry.State(name); ok {
			states = append(states, state)
		} else {
			logging.Warn().Str("snapshot_id", id).Str("domain", name).Msg("Snapshot domain no longer registered, skipping")
		}
	}

	for i, state := range states {
		if err := state.Deserialize(ctx, target.Blobs[state.Name()]); err != nil {
			err = fmt.Errorf("failed to restore %s: %w", state.Name(), err)
			logging.Error().Err(err).Str("snapshot_id", id).Str("pre_rollback_id", pre.ID).Msg("Snapshot rollback failed")
			if i == 0 {
				return pre.ID, apperr.IO(op, err)
			}
			return pre.ID, apperr.Partial(op, i, len(states), err)
		}
	}

	logging.Info().
		Str("snapshot_id", id).
		Str("pre_rollback_id", pre.ID).
		Int("domains", len(states)).
		Msg("Rolled back to snapshot")
	return pre.ID, nil
}

// Get returns one snapshot or a NotFound error.
func (r *Recorder) Get(ctx context.Context, id string) (*catalog.Snapshot, error) {
	return r.store.GetSnapshot(ctx, id)
}

// List returns snapshots newest first.
func (r *Recorder) List(ctx context.Context, limit int) ([]*catalog.Snapshot, error) {
	return r.store.ListSnapshots(ctx, limit)
}

// AuditPath returns the audit file location for a snapshot id.
func (r *Recorder) AuditPath(id string) string {
	return filepath.Join(r.dir, id+".json")
}

func (r *Recorder) writeAuditFile(snap *catalog.Snapshot) (string, error) {
	path := r.AuditPath(snap.ID)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	//nolint:gosec // G304: path is built from the configured snapshot directory
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot audit file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()       //nolint:errcheck // Best effort cleanup on error
		os.Remove(path) //nolint:errcheck // Best effort cleanup on error
		return "", fmt.Errorf("failed to write snapshot audit file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path) //nolint:errcheck // Best effort cleanup on error
		return "", fmt.Errorf("failed to close snapshot audit file: %w", err)
	}
	return path, nil
}

// ReadAuditFile decodes a snapshot audit file.
//
//nolint:gosec // G304: path is supplied by the operator
func ReadAuditFile(path string) (*catalog.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("snapshot.ReadAuditFile", "snapshot audit file", path)
		}
		return nil, fmt.Errorf("failed to read snapshot audit file: %w", err)
	}
	var snap catalog.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot audit file: %w", err)
	}
	return &snap, nil
}

func blobNames(blobs map[string][]byte) []string {
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
