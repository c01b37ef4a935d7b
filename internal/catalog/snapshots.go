// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tomtom215/timecapsule/internal/apperr"
)

const snapshotColumns = `id, created_at, description, version, blobs, counters, tags`

// InsertSnapshot records a composite state snapshot. Snapshots are never
// updated or pruned.
func (s *Store) InsertSnapshot(ctx context.Context, snap *Snapshot) error {
	const op = "catalog.InsertSnapshot"

	blobs := snap.Blobs
	if blobs == nil {
		blobs = map[string][]byte{}
	}
	blobsJSON, err := encodeJSON(blobs)
	if err != nil {
		return apperr.IO(op, err)
	}
	counters, err := encodeJSON(nonNilCounters(snap.Counters))
	if err != nil {
		return apperr.IO(op, err)
	}
	tags, err := encodeJSON(nonNilStrings(snap.Tags))
	if err != nil {
		return apperr.IO(op, err)
	}

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, snap.CreatedAt.UTC(), snap.Description, snap.Version, blobsJSON, counters, tags)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot %s: %w", snap.ID, err)
		}
		return nil
	})
}

// GetSnapshot returns one snapshot or a NotFound error.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	snap, err := scanSnapshot(s.conn.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("catalog.GetSnapshot", "snapshot", id)
	}
	if err != nil {
		return nil, apperr.IO("catalog.GetSnapshot", err)
	}
	return snap, nil
}

// ListSnapshots returns snapshots newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]*Snapshot, error) {
	const op = "catalog.ListSnapshots"

	query := `SELECT ` + snapshotColumns + ` FROM snapshots ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.IO(op, fmt.Errorf("failed to query snapshots: %w", err))
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, apperr.IO(op, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IO(op, err)
	}
	return out, nil
}

// CountSnapshots returns the total number of snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, apperr.IO("catalog.CountSnapshots", fmt.Errorf("failed to count snapshots: %w", err))
	}
	return n, nil
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var (
		snap                  Snapshot
		blobs, counters, tags string
	)
	if err := row.Scan(&snap.ID, &snap.CreatedAt, &snap.Description, &snap.Version, &blobs, &counters, &tags); err != nil {
		return nil, err
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	if err := decodeJSON(blobs, &snap.Blobs); err != nil {
		return nil, err
	}
	if err := decodeJSON(counters, &snap.Counters); err != nil {
		return nil, err
	}
	if err := decodeJSON(tags, &snap.Tags); err != nil {
		return nil, err
	}
	return &snap, nil
}
