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

const planColumns = `id, description, target_timestamp, backup_id, steps, estimated_seconds, risk_level,
	risk_score, affected_domains, data_loss_risk, status, current_step, progress, error,
	pre_snapshot_id, post_snapshot_id, created_at, updated_at`

// InsertPlan records a new plan. Steps are immutable once inserted.
func (s *Store) InsertPlan(ctx context.Context, p *Plan) error {
	const op = "catalog.InsertPlan"

	steps := p.Steps
	if steps == nil {
		steps = []Step{}
	}
	stepsJSON, err := encodeJSON(steps)
	if err != nil {
		return apperr.IO(op, err)
	}
	domains, err := encodeJSON(nonNilStrings(p.AffectedDomains))
	if err != nil {
		return apperr.IO(op, err)
	}

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO recovery_plans (`+planColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Description, p.TargetTimestamp.UTC(), p.BackupID, stepsJSON, int64(p.EstimatedDuration/time.Second),
			string(p.RiskLevel), p.RiskScore, domains, p.DataLossRisk, string(p.Status), p.CurrentStep, p.Progress,
			p.Error, p.PreSnapshotID, p.PostSnapshotID, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert plan %s: %w", p.ID, err)
		}
		return nil
	})
}

// GetPlan returns one plan or a NotFound error.
func (s *Store) GetPlan(ctx context.Context, id string) (*Plan, error) {
	p, err := scanPlan(s.conn.QueryRowContext(ctx, `SELECT `+planColumns+` FROM recovery_plans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("catalog.GetPlan", "recovery plan", id)
	}
	if err != nil {
		return nil, apperr.IO("catalog.GetPlan", err)
	}
	return p, nil
}

// ListPlans returns plans newest first.
func (s *Store) ListPlans(ctx context.Context, limit int) ([]*Plan, error) {
	const op = "catalog.ListPlans"

	query := `SELECT ` + planColumns + ` FROM recovery_plans ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.IO(op, fmt.Errorf("failed to query plans: %w", err))
	}
	defer rows.Close()

	var out []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, apperr.IO(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IO(op, err)
	}
	return out, nil
}

// TransitionPlan moves a plan to a new status. errMsg is recorded when
// moving to failed.
func (s *Store) TransitionPlan(ctx context.Context, id string, to Status, errMsg string, at time.Time) error {
	const op = "catalog.TransitionPlan"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		p, err := lockPlan(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if !CanTransition(p.Status, to) {
			return apperr.Validation(op, "recovery plan %s cannot move from %s to %s", id, p.Status, to)
		}

		query := `UPDATE recovery_plans SET status = ?, error = ?, updated_at = ? WHERE id = ?`
		if to == StatusCompleted {
			query = `UPDATE recovery_plans SET status = ?, error = ?, updated_at = ?, progress = 100 WHERE id = ?`
		}
		if _, err := tx.ExecContext(ctx, query, string(to), errMsg, at.UTC(), id); err != nil {
			return fmt.Errorf("failed to transition plan %s: %w", id, err)
		}
		return nil
	})
}

// UpdatePlanProgress persists the step cursor and progress of an executing plan.
func (s *Store) UpdatePlanProgress(ctx context.Context, id string, currentStep, progress int, at time.Time) error {
	const op = "catalog.UpdatePlanProgress"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		p, err := lockPlan(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if p.Status != StatusExecuting {
			return apperr.Validation(op, "recovery plan %s is %s, not executing", id, p.Status)
		}
		if progress < p.Progress {
			progress = p.Progress
		}
		_, err = tx.ExecContext(ctx, `UPDATE recovery_plans SET current_step = ?, progress = ?, updated_at = ? WHERE id = ?`,
			currentStep, progress, at.UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to update plan progress %s: %w", id, err)
		}
		return nil
	})
}

// SetPlanSnapshots records the safety-net snapshot ids. Empty values leave
// the stored id unchanged.
func (s *Store) SetPlanSnapshots(ctx context.Context, id, preSnapshotID, postSnapshotID string) error {
	const op = "catalog.SetPlanSnapshots"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		p, err := lockPlan(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if preSnapshotID == "" {
			preSnapshotID = p.PreSnapshotID
		}
		if postSnapshotID == "" {
			postSnapshotID = p.PostSnapshotID
		}
		_, err = tx.ExecContext(ctx, `UPDATE recovery_plans SET pre_snapshot_id = ?, post_snapshot_id = ? WHERE id = ?`,
			preSnapshotID, postSnapshotID, id)
		if err != nil {
			return fmt.Errorf("failed to record plan snapshots %s: %w", id, err)
		}
		return nil
	})
}

// CountPlansByStatus returns the number of plans per status.
func (s *Store) CountPlansByStatus(ctx context.Context) (map[Status]int, error) {
	const op = "catalog.CountPlansByStatus"

	rows, err := s.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM recovery_plans GROUP BY status`)
	if err != nil {
		return nil, apperr.IO(op, fmt.Errorf("failed to count plans: %w", err))
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.IO(op, fmt.Errorf("failed to scan plan count: %w", err))
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IO(op, err)
	}
	return counts, nil
}

func lockPlan(ctx context.Context, tx *sql.Tx, op, id string) (*Plan, error) {
	p, err := scanPlan(tx.QueryRowContext(ctx, `SELECT `+planColumns+` FROM recovery_plans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "recovery plan", id)
	}
	return p, err
}

func scanPlan(row rowScanner) (*Plan, error) {
	var (
		p                 Plan
		steps, domains    string
		riskLevel, status string
		estimatedSeconds  int64
	)
	err := row.Scan(&p.ID, &p.Description, &p.TargetTimestamp, &p.BackupID, &steps, &estimatedSeconds, &riskLevel,
		&p.RiskScore, &domains, &p.DataLossRisk, &status, &p.CurrentStep, &p.Progress, &p.Error,
		&p.PreSnapshotID, &p.PostSnapshotID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.TargetTimestamp = p.TargetTimestamp.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.EstimatedDuration = time.Duration(estimatedSeconds) * time.Second
	p.RiskLevel = RiskLevel(riskLevel)
	p.Status = Status(status)
	if err := decodeJSON(steps, &p.Steps); err != nil {
		return nil, err
	}
	if err := decodeJSON(domains, &p.AffectedDomains); err != nil {
		return nil, err
	}
	return &p, nil
}
