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
	"time"

	"github.com/tomtom215/timecapsule/internal/apperr"
)

const restoreColumns = `id, backup_id, created_at, scope, status, progress, error, completed_at`

// InsertRestore records a new pending restore for an existing backup.
func (s *Store) InsertRestore(ctx context.Context, r *Restore) error {
	const op = "catalog.InsertRestore"

	scope := r.Scope
	if scope == nil {
		scope = map[string]bool{}
	}
	scopeJSON, err := encodeJSON(scope)
	if err != nil {
		return apperr.IO(op, err)
	}

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM backups WHERE id = ?`, r.BackupID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check backup %s: %w", r.BackupID, err)
		}
		if exists == 0 {
			return apperr.NotFound(op, "backup", r.BackupID)
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO restores (`+restoreColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.BackupID, r.CreatedAt.UTC(), scopeJSON, string(r.Status), r.Progress, r.Error, nullTime(r.CompletedAt))
		if err != nil {
			return fmt.Errorf("failed to insert restore %s: %w", r.ID, err)
		}
		return nil
	})
}

// GetRestore returns one restore or a NotFound error.
func (s *Store) GetRestore(ctx context.Context, id string) (*Restore, error) {
	r, err := scanRestore(s.conn.QueryRowContext(ctx, `SELECT `+restoreColumns+` FROM restores WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("catalog.GetRestore", "restore", id)
	}
	if err != nil {
		return nil, apperr.IO("catalog.GetRestore", err)
	}
	return r, nil
}

// ListRestores returns restores newest first, optionally for one backup.
func (s *Store) ListRestores(ctx context.Context, backupID string, limit int) ([]*Restore, error) {
	const op = "catalog.ListRestores"

	query := `SELECT ` + restoreColumns + ` FROM restores`
	var args []any
	if backupID != "" {
		query += ` WHERE backup_id = ?`
		args = append(args, backupID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.IO(op, fmt.Errorf("failed to query restores: %w", err))
	}
	defer rows.Close()

	var out []*Restore
	for rows.Next() {
		r, err := scanRestore(rows)
		if err != nil {
			return nil, apperr.IO(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IO(op, err)
	}
	return out, nil
}

// StartRestore moves a pending restore to in_progress.
func (s *Store) StartRestore(ctx context.Context, id string) error {
	return s.updateRestore(ctx, "catalog.StartRestore", id, StatusInProgress, func(tx *sql.Tx, _ *Restore) error {
		_, err := tx.ExecContext(ctx, `UPDATE restores SET status = ? WHERE id = ?`, string(StatusInProgress), id)
		return err
	})
}

// SetRestoreProgress persists progress for an in_progress restore. Progress
// never decreases and stays below 100 until CompleteRestore.
func (s *Store) SetRestoreProgress(ctx context.Context, id string, progress int) error {
	const op = "catalog.SetRestoreProgress"
	if progress < 0 {
		progress = 0
	}
	if progress > 99 {
		progress = 99
	}

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		r, err := lockRestore(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if r.Status != StatusInProgress {
			return apperr.Validation(op, "restore %s is %s, not in_progress", id, r.Status)
		}
		if progress <= r.Progress {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE restores SET progress = ? WHERE id = ?`, progress, id)
		return err
	})
}

// CompleteRestore marks a restore completed with progress 100 in one write.
func (s *Store) CompleteRestore(ctx context.Context, id string, at time.Time) error {
	return s.updateRestore(ctx, "catalog.CompleteRestore", id, StatusCompleted, func(tx *sql.Tx, _ *Restore) error {
		_, err := tx.ExecContext(ctx, `UPDATE restores SET status = ?, progress = 100, completed_at = ? WHERE id = ?`,
			string(StatusCompleted), at.UTC(), id)
		return err
	})
}

// FailRestore marks a restore failed, keeping its last progress value.
func (s *Store) FailRestore(ctx context.Context, id, message string, at time.Time) error {
	return s.updateRestore(ctx, "catalog.FailRestore", id, StatusFailed, func(tx *sql.Tx, _ *Restore) error {
		_, err := tx.ExecContext(ctx, `UPDATE restores SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
			string(StatusFailed), message, at.UTC(), id)
		return err
	})
}

func (s *Store) updateRestore(ctx context.Context, op, id string, to Status, apply func(*sql.Tx, *Restore) error) error {
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		r, err := lockRestore(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if !CanTransition(r.Status, to) {
			return apperr.Validation(op, "restore %s cannot move from %s to %s", id, r.Status, to)
		}
		if err := apply(tx, r); err != nil {
			return fmt.Errorf("failed to update restore %s: %w", id, err)
		}
		return nil
	})
}

func lockRestore(ctx context.Context, tx *sql.Tx, op, id string) (*Restore, error) {
	r, err := scanRestore(tx.QueryRowContext(ctx, `SELECT `+restoreColumns+` FROM restores WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "restore", id)
	}
	return r, err
}

func scanRestore(row rowScanner) (*Restore, error) {
	var (
		r           Restore
		scope       string
		status      string
		completedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.BackupID, &r.CreatedAt, &scope, &status, &r.Progress, &r.Error, &completedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.Status = Status(status)
	r.CompletedAt = timePtr(completedAt)
	if err := decodeJSON(scope, &r.Scope); err != nil {
		return nil, err
	}
	return &r, nil
}
