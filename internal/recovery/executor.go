// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
executor.go - Recovery Plan Execution

Execute runs a planned recovery exactly once:

 1. Move the plan from planned to executing
 2. Capture a pre-recovery state snapshot
 3. Run every step in order, persisting current_step and progress after each
 4. On the first failure, mark the plan failed and stop
 5. On success, mark the plan completed and capture a post-recovery snapshot

A failure after at least one step committed is reported as a partial
failure. Services paused by the plan are resumed on a best-effort basis
when a later step fails.
*/

//nolint:staticcheck // File documentation, not package doc
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/domain"
	"github.com/tomtom215/timecapsule/internal/events"
	"github.com/tomtom215/timecapsule/internal/logging"
	"github.com/tomtom215/timecapsule/internal/metrics"
)

// ExecStore is the catalog subset the executor uses.
type ExecStore interface {
	GetPlan(ctx context.Context, id string) (*catalog.Plan, error)
	TransitionPlan(ctx context.Context, id string, to catalog.Status, errMsg string, at time.Time) error
	UpdatePlanProgress(ctx context.Context, id string, currentStep, progress int, at time.Time) error
	SetPlanSnapshots(ctx context.Context, id, preSnapshotID, postSnapshotID string) error
	CountPlansByStatus(ctx context.Context) (map[catalog.Status]int, error)
	CountSnapshots(ctx context.Context) (int, error)
}

// Backups creates and verifies backups.
type Backups interface {
	Create(ctx context.Context, kind catalog.Kind, description string, tags []string) (*catalog.Backup, error)
	Verify(ctx context.Context, id string) (bool, error)
}

// Restores runs scoped restores.
type Restores interface {
	Restore(ctx context.Context, backupID string, scope domain.Scope) (string, error)
	Status(ctx context.Context, restoreID string) (*catalog.Restore, error)
}

// Snapshots captures and rolls back state snapshots.
type Snapshots interface {
	Snapshot(ctx context.Context, description string, tags []string) (*catalog.Snapshot, error)
	Rollback(ctx context.Context, id string) (string, error)
	List(ctx context.Context, limit int) ([]*catalog.Snapshot, error)
}

// ServiceController pauses and resumes the services that depend on the
// restored data.
type ServiceController interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// LogServiceController is a ServiceController that only logs.
type LogServiceController struct{}

// Pause implements ServiceController.
func (LogServiceController) Pause(context.Context) error {
	logging.Info().Msg("Dependent services paused")
	return nil
}

// Resume implements ServiceController.
func (LogServiceController) Resume(context.Context) error {
	logging.Info().Msg("Dependent services resumed")
	return nil
}

// Deps are the executor's collaborators.
type Deps struct {
	Backups   Backups
	Restores  Restores
	Snapshots Snapshots

	// Services defaults to LogServiceController
	Services ServiceController

	// Events defaults to events.Nop
	Events events.Publisher

	// PreRecoveryTags are added to the pre-recovery backup
	PreRecoveryTags []string
}

// Executor runs recovery plans.
type Executor struct {
	store ExecStore
	deps  Deps
	now   func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(store ExecStore, deps Deps) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if deps.Backups == nil || deps.Restores == nil || deps.Snapshots == nil {
		return nil, fmt.Errorf("backups, restores and snapshots are required")
	}
	if deps.Services == nil {
		deps.Services = LogServiceController{}
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Executor{store: store, deps: deps, now: time.Now}, nil
}

// run tracks state shared between the steps of one execution.
type run struct {
	plan      *catalog.Plan
	paused    bool
	restoreID string
	backupID  string
}

// Execute runs a planned recovery plan.
func (e *Executor) Execute(ctx context.Context, planID string) error {
	const op = "recovery.Execute"

	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status != catalog.StatusPlanned {
		return apperr.Validation(op, "recovery plan %s is %s, only planned plans can be executed", planID, plan.Status)
	}
	if err := e.store.TransitionPlan(ctx, planID, catalog.StatusExecuting, "", e.now().UTC()); err != nil {
		return err
	}

	log := logging.With().Str("plan_id", planID).Logger()
	log.Info().Int("steps", len(plan.Steps)).Str("backup_id", plan.BackupID).Msg("Executing recovery plan")

	pre, err := e.deps.Snapshots.Snapshot(ctx, "Pre-recovery snapshot for "+planID, []string{"pre-recovery", planID})
	if err != nil {
		return e.fail(ctx, op, &run{plan: plan}, 0, fmt.Errorf("failed to capture pre-recovery snapshot: %w", err))
	}
	if err := e.store.SetPlanSnapshots(ctx, planID, pre.ID, ""); err != nil {
		log.Warn().Err(err).Msg("Failed to record pre-recovery snapshot")
	}

	r := &run{plan: plan}
	total := len(plan.Steps)
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, op, r, i, err)
		}

		log.Info().Int("step", i+1).Int("total", total).Str("action", step.Action).Msg(step.Description)
		if err := e.runStep(ctx, r, step); err != nil {
			return e.fail(ctx, op, r, i, fmt.Errorf("step %d (%s) failed: %w", i+1, step.Action, err))
		}

		if err := e.store.UpdatePlanProgress(ctx, planID, i+1, (i+1)*100/total, e.now().UTC()); err != nil {
			return e.fail(ctx, op, r, i+1, err)
		}
	}

	if err := e.store.TransitionPlan(ctx, planID, catalog.StatusCompleted, "", e.now().UTC()); err != nil {
		return err
	}
	metrics.RecordRecoveryPlan(string(catalog.StatusCompleted))

	post, err := e.deps.Snapshots.Snapshot(ctx, "Post-recovery snapshot for "+planID, []string{"post-recovery", planID})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to capture post-recovery snapshot")
	} else if err := e.store.SetPlanSnapshots(ctx, planID, "", post.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to record post-recovery snapshot")
	}

	log.Info().Str("restore_id", r.restoreID).Msg("Recovery plan completed")
	e.deps.Events.Publish(events.New(events.TopicPlanCompleted, planID, map[string]string{
		"backup_id":  plan.BackupID,
		"restore_id": r.restoreID,
	}))
	return nil
}

// fail marks the plan failed after step index failed. Earlier committed
// steps turn the error into a partial failure.
func (e *Executor) fail(ctx context.Context, op string, r *run, index int, cause error) error {
	planID := r.plan.ID
	log := logging.With().Str("plan_id", planID).Logger()

	// The caller's context may be the reason for the failure
	bg := context.WithoutCancel(ctx)

	if r.paused {
		if err := e.deps.Services.Resume(bg); err != nil {
			log.Error().Err(err).Msg("Failed to resume services after recovery failure")
		}
	}

	if err := e.store.TransitionPlan(bg, planID, catalog.StatusFailed, cause.Error(), e.now().UTC()); err != nil {
		log.Error().Err(err).Msg("Failed to record recovery plan failure")
	}
	metrics.RecordRecoveryPlan(string(catalog.StatusFailed))
	log.Error().Err(cause).Int("failed_step", index).Msg("Recovery plan failed")
	e.deps.Events.Publish(events.New(events.TopicPlanFailed, planID, map[string]string{
		"backup_id":   r.plan.BackupID,
		"failed_step": strconv.Itoa(index),
		"error":       cause.Error(),
	}))

	if index > 0 {
		return apperr.Partial(op, index, len(r.plan.Steps), cause)
	}
	var appErr *apperr.Error
	if errors.As(cause, &appErr) {
		return cause
	}
	return apperr.IO(op, cause)
}

func (e *Executor) runStep(ctx context.Context, r *run, step catalog.Step) error {
	const op = "recovery.runStep"

	switch step.Action {
	case catalog.ActionCreateBackup:
		kind, err := catalog.ParseKind(step.Params[ParamKind])
		if err != nil {
			return apperr.Validation(op, "%v", err)
		}
		description := step.Params[ParamDescription]
		if description == "" {
			description = "Pre-recovery backup"
		}
		tags := append(append([]string{}, e.deps.PreRecoveryTags...), "pre-recovery", r.plan.ID)
		b, err := e.deps.Backups.Create(ctx, kind, description, tags)
		if err != nil {
			return err
		}
		r.backupID = b.ID
		return nil

	case catalog.ActionStopServices:
		if err := e.deps.Services.Pause(ctx); err != nil {
			return err
		}
		r.paused = true
		return nil

	case catalog.ActionStartServices:
		if err := e.deps.Services.Resume(ctx); err != nil {
			return err
		}
		r.paused = false
		return nil

	case catalog.ActionRestoreBackup:
		id, err := e.deps.Restores.Restore(ctx, step.Params[ParamBackupID], scopeParam(step.Params[ParamScope]))
		r.restoreID = id
		return err

	case catalog.ActionVerifySystem:
		backupID := step.Params[ParamBackupID]
		ok, err := e.deps.Backups.Verify(ctx, backupID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Integrity(op, "source backup %s failed verification", backupID)
		}
		if r.restoreID == "" {
			return nil
		}
		rec, err := e.deps.Restores.Status(ctx, r.restoreID)
		if err != nil {
			return err
		}
		if rec.Status != catalog.StatusCompleted {
			return apperr.Integrity(op, "restore %s is %s, not completed", r.restoreID, rec.Status)
		}
		return nil

	default:
		return apperr.Validation(op, "unknown recovery action %q", step.Action)
	}
}

// RollbackToSnapshot restores state domains from a snapshot, independent of
// any plan. It returns the id of the snapshot taken just before.
func (e *Executor) RollbackToSnapshot(ctx context.Context, snapshotID string) (string, error) {
	return e.deps.Snapshots.Rollback(ctx, snapshotID)
}

// SnapshotSummary is a snapshot without its blobs.
type SnapshotSummary struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
}

// Status aggregates snapshot and plan state.
type Status struct {
	TotalSnapshots  int                    `json:"total_snapshots"`
	LatestSnapshot  *time.Time             `json:"latest_snapshot,omitempty"`
	RecentSnapshots []SnapshotSummary      `json:"recent_snapshots"`
	PlansByStatus   map[catalog.Status]int `json:"plans_by_status"`
	TotalPlans      int                    `json:"total_plans"`
	ActivePlans     int                    `json:"active_plans"`
}

// recentSnapshotLimit bounds Status.RecentSnapshots.
const recentSnapshotLimit = 10

// Status reports recent snapshots and plan counts by status.
func (e *Executor) Status(ctx context.Context) (*Status, error) {
	total, err := e.store.CountSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := e.deps.Snapshots.List(ctx, recentSnapshotLimit)
	if err != nil {
		return nil, err
	}
	counts, err := e.store.CountPlansByStatus(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		TotalSnapshots:  total,
		RecentSnapshots: make([]SnapshotSummary, 0, len(recent)),
		PlansByStatus:   counts,
		ActivePlans:     counts[catalog.StatusExecuting],
	}
	for _, n := range counts {
		st.TotalPlans += n
	}
	for _, s := range recent {
		st.RecentSnapshots = append(st.RecentSnapshots, SnapshotSummary{
			ID:          s.ID,
			CreatedAt:   s.CreatedAt,
			Description: s.Description,
			Tags:        s.Tags,
		})
	}
	if len(recent) > 0 {
		latest := recent[0].CreatedAt
		st.LatestSnapshot = &latest
	}
	return st, nil
}

func scopeParam(raw string) domain.Scope {
	if raw == "" {
		return nil
	}
	return domain.ScopeOf(strings.Split(raw, ",")...)
}
