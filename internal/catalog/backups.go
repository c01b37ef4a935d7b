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
	"strings"
	"time"

	"github.com/tomtom215/timecapsule/internal/apperr"
)

const backupColumns = `id, created_at, kind, description, manifest, raw_size, compressed_size,
	counters, checksum, verification_status, verified_at, tags, retention_days, archive_path`

// InsertBackup records a fully written, checksummed archive.
func (s *Store) InsertBackup(ctx context.Context, b *Backup) error {
	const op = "catalog.InsertBackup"

	manifest, err := encodeJSON(nonNilStrings(b.Manifest))
	if err != nil {
		return apperr.IO(op, err)
	}
	counters, err := encodeJSON(nonNilCounters(b.Counters))
	if err != nil {
		return apperr.IO(op, err)
	}
	tags, err := encodeJSON(nonNilStrings(b.Tags))
	if err != nil {
		return apperr.IO(op, err)
	}

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO backups (`+backupColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.CreatedAt.UTC(), string(b.Kind), b.Description, manifest, b.RawSize, b.CompressedSize,
			counters, b.Checksum, string(b.VerificationStatus), nullTime(b.VerifiedAt), tags,
			b.RetentionDays, b.ArchivePath)
		if err != nil {
			return fmt.Errorf("failed to insert backup %s: %w", b.ID, err)
		}
		return nil
	})
}

// GetBackup returns one backup or a NotFound error.
func (s *Store) GetBackup(ctx context.Context, id string) (*Backup, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("catalog.GetBackup", "backup", id)
	}
	if err != nil {
		return nil, apperr.IO("catalog.GetBackup", err)
	}
	return b, nil
}

// ListBackups returns backups newest first.
func (s *Store) ListBackups(ctx context.Context, opts ListOptions) ([]*Backup, error) {
	var (
		where []string
		args  []any
	)
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.VerifiedOnly {
		where = append(where, "verification_status = ?")
		args = append(args, string(VerificationVerified))
	}

	query := `SELECT ` + backupColumns + ` FROM backups`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	return s.queryBackups(ctx, "catalog.ListBackups", query, args...)
}

// LatestVerifiedAtOrBefore returns the verified backup with the greatest
// created_at not after t, or nil when none exists.
func (s *Store) LatestVerifiedAtOrBefore(ctx context.Context, t time.Time) (*Backup, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+backupColumns+` FROM backups
		WHERE verification_status = ? AND created_at <= ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		string(VerificationVerified), t.UTC())
	b, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.IO("catalog.LatestVerifiedAtOrBefore", err)
	}
	return b, nil
}

// SetVerificationStatus records the outcome of an integrity check.
func (s *Store) SetVerificationStatus(ctx context.Context, id string, status VerificationStatus, at time.Time) error {
	const op = "catalog.SetVerificationStatus"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE backups SET verification_status = ?, verified_at = ? WHERE id = ?`,
			string(status), at.UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to update verification status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound(op, "backup", id)
		}
		return nil
	})
}

// DeleteBackup removes a backup row and its dependent restore rows in one
// transaction. beforeCommit runs inside the transaction after the rows are
// deleted; an error from it rolls the deletion back. It reports false when
// the id does not exist.
func (s *Store) DeleteBackup(ctx context.Context, id string, beforeCommit func(*Backup) error) (bool, error) {
	const op = "catalog.DeleteBackup"
	deleted := false

	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		b, err := scanBackup(tx.QueryRowContext(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM restores WHERE backup_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete restores of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete backup %s: %w", id, err)
		}
		if beforeCommit != nil {
			if err := beforeCommit(b); err != nil {
				return err
			}
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// BackupStats aggregates the backup catalog.
func (s *Store) BackupStats(ctx context.Context) (*Stats, error) {
	const op = "catalog.BackupStats"
	stats := &Stats{
		CountByKind:         make(map[Kind]int),
		CountByVerification: make(map[string]int),
	}

	var oldest, newest sql.NullTime
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*), CAST(COALESCE(SUM(raw_size), 0) AS BIGINT),
		CAST(COALESCE(SUM(compressed_size), 0) AS BIGINT),
		MIN(created_at), MAX(created_at) FROM backups`).
		Scan(&stats.TotalCount, &stats.TotalRawBytes, &stats.TotalCompressed, &oldest, &newest)
	if err != nil {
		return nil, apperr.IO(op, fmt.Errorf("failed to aggregate backups: %w", err))
	}
	stats.Oldest = timePtr(oldest)
	stats.Newest = timePtr(newest)

	rows, err := s.conn.QueryContext(ctx, `SELECT kind, verification_status, COUNT(*) FROM backups GROUP BY kind, verification_status`)
	if err != nil {
		return nil, apperr.IO(op, fmt.Errorf("failed to group backups: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind, status string
			n            int
		)
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return nil, apperr.IO(op, fmt.Errorf("failed to scan backup group: %w", err))
		}
		stats.CountByKind[Kind(kind)] += n
		stats.CountByVerification[status] += n
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IO(op, err)
	}
	return stats, nil
}

func (s *Store) queryBackups(ctx context.Context, op, query string, args ...any) ([]*Backup, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.IO(op, fmt.Errorf("failed to query backups: %w", err))
	}
	defer rows.Close()

	var out []*Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, apperr.IO(op, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IO(op, err)
	}
	return out, nil
}

func scanBackup(row rowScanner) (*Backup, error) {
	var (
		b                        Backup
		kind, status             string
		manifest, counters, tags string
		verifiedAt               sql.NullTime
	)
	err := row.Scan(&b.ID, &b.CreatedAt, &kind, &b.Description, &manifest, &b.RawSize, &b.CompressedSize,
		&counters, &b.Checksum, &status, &verifiedAt, &tags, &b.RetentionDays, &b.ArchivePath)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.Kind = Kind(kind)
	b.VerificationStatus = VerificationStatus(status)
	b.VerifiedAt = timePtr(verifiedAt)
	if err := decodeJSON(manifest, &b.Manifest); err != nil {
		return nil, err
	}
	if err := decodeJSON(counters, &b.Counters); err != nil {
		return nil, err
	}
	if err := decodeJSON(tags, &b.Tags); err != nil {
		return nil, err
	}
	return &b, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilCounters(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
