// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package recovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/domain"
	"github.com/tomtom215/timecapsule/internal/events"
)

type fakeBackups struct {
	created   []string
	createErr error
	verifyOK  bool
}

func (f *fakeBackups) Create(_ context.Context, kind catalog.Kind, _ string, tags []string) (*catalog.Backup, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	id := fmt.Sprintf("bk-pre-%d", len(f.created))
	f.created = append(f.created, id)
	return &catalog.Backup{ID: id, Kind: kind, Tags: tags}, nil
}

func (f *fakeBackups) Verify(context.Context, string) (bool, error) {
	return f.verifyOK, nil
}

type fakeRestores struct {
	scopes  []domain.Scope
	err     error
	outcome catalog.Status
}

func (f *fakeRestores) Restore(_ context.Context, _ string, scope domain.Scope) (string, error) {
	f.scopes = append(f.scopes, scope)
	if f.err != nil {
		return "rs-failed", f.err
	}
	return "rs-1", nil
}

func (f *fakeRestores) Status(_ context.Context, id string) (*catalog.Restore, error) {
	return &catalog.Restore{ID: id, Status: f.outcome}, nil
}

type fakeSnapshots struct {
	taken      []string
	rolledBack []string
}

func (f *fakeSnapshots) Snapshot(_ context.Context, description string, tags []string) (*catalog.Snapshot, error) {
	id := fmt.Sprintf("snap-%d", len(f.taken))
	f.taken = append(f.taken, description)
	return &catalog.Snapshot{ID: id, Description: description, Tags: tags, CreatedAt: testNow}, nil
}

func (f *fakeSnapshots) Rollback(_ context.Context, id string) (string, error) {
	f.rolledBack = append(f.rolledBack, id)
	return "snap-pre-rollback", nil
}

func (f *fakeSnapshots) List(context.Context, int) ([]*catalog.Snapshot, error) {
	out := make([]*catalog.Snapshot, 0, len(f.taken))
	for i := len(f.taken) - 1; i >= 0; i-- {
		out = append(out, &catalog.Snapshot{ID: fmt.Sprintf("snap-%d", i), Description: f.taken[i], CreatedAt: testNow})
	}
	return out, nil
}

type fakeServices struct {
	calls []string
}

func (f *fakeServices) Pause(context.Context) error {
	f.calls = append(f.calls, "pause")
	return nil
}

func (f *fakeServices) Resume(context.Context) error {
	f.calls = append(f.calls, "resume")
	return nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingPublisher) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, e.Type)
}

type execFixture struct {
	store     *catalog.Store
	planner   *Planner
	executor  *Executor
	backups   *fakeBackups
	restores  *fakeRestores
	snapshots *fakeSnapshots
	services  *fakeServices
	events    *recordingPublisher
}

func newExecFixture(t *testing.T) *execFixture {
	t.Helper()
	store := openStore(t)
	planner, _ := newTestPlanner(t, store)
	insertBackup(t, store, testNow.Add(-2*time.Hour), catalog.VerificationVerified)

	f := &execFixture{
		store:     store,
		planner:   planner,
		backups:   &fakeBackups{verifyOK: true},
		restores:  &fakeRestores{outcome: catalog.StatusCompleted},
		snapshots: &fakeSnapshots{},
		services:  &fakeServices{},
		events:    &recordingPublisher{},
	}
	var err error
	f.executor, err = NewExecutor(store, Deps{
		Backups:         f.backups,
		Restores:        f.restores,
		Snapshots:       f.snapshots,
		Services:        f.services,
		Events:          f.events,
		PreRecoveryTags: []string{"safety-net"},
	})
	require.NoError(t, err)
	return f
}

func (f *execFixture) plan(t *testing.T) *catalog.Plan {
	t.Helper()
	plan, err := f.planner.Plan(context.Background(), testNow.Add(-time.Hour), []string{"vault"})
	require.NoError(t, err)
	return plan
}

func TestExecutor_Success(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	plan := f.plan(t)

	require.NoError(t, f.executor.Execute(ctx, plan.ID))

	got, err := f.store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, len(plan.Steps), got.CurrentStep)
	assert.Equal(t, "snap-0", got.PreSnapshotID)
	assert.Equal(t, "snap-1", got.PostSnapshotID)

	assert.Len(t, f.backups.created, 1)
	assert.Equal(t, []domain.Scope{{"vault": true}}, f.restores.scopes)
	assert.Equal(t, []string{"pause", "resume"}, f.services.calls)
	assert.Equal(t, []string{events.TopicPlanCompleted}, f.events.topics)

	err = f.executor.Execute(ctx, plan.ID)
	require.Error(t, err, "a completed plan cannot run again")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestExecutor_FailureAfterCommittedStepsIsPartial(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	plan := f.plan(t)
	f.restores.err = apperr.IO("backup.Restore", fmt.Errorf("disk full"))

	err := f.executor.Execute(ctx, plan.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindPartialFailure))

	got, err := f.store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "disk full")
	assert.Equal(t, 2, got.CurrentStep, "steps before the restore committed")
	assert.Less(t, got.Progress, 100)

	assert.Equal(t, []string{"pause", "resume"}, f.services.calls, "paused services are resumed")
	assert.Equal(t, []string{events.TopicPlanFailed}, f.events.topics)
	assert.Len(t, f.snapshots.taken, 1, "no post-recovery snapshot")
}

func TestExecutor_FirstStepFailureIsNotPartial(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	plan := f.plan(t)
	f.backups.createErr = apperr.IO("backup.Create", fmt.Errorf("no space left"))

	err := f.executor.Execute(ctx, plan.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIOFailure))

	got, err := f.store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, got.Status)
	assert.Empty(t, f.services.calls)
	assert.Empty(t, f.restores.scopes)
}

func TestExecutor_VerificationFailure(t *testing.T) {
	tests := []struct {
		name     string
		verifyOK bool
		outcome  catalog.Status
	}{
		{"source backup corrupted", false, catalog.StatusCompleted},
		{"restore did not complete", true, catalog.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExecFixture(t)
			ctx := context.Background()
			plan := f.plan(t)
			f.backups.verifyOK = tt.verifyOK
			f.restores.outcome = tt.outcome

			err := f.executor.Execute(ctx, plan.ID)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindPartialFailure))

			got, err := f.store.GetPlan(ctx, plan.ID)
			require.NoError(t, err)
			assert.Equal(t, catalog.StatusFailed, got.Status)
			assert.Equal(t, 3, got.CurrentStep)
		})
	}
}

func TestExecutor_UnknownPlan(t *testing.T) {
	f := newExecFixture(t)
	err := f.executor.Execute(context.Background(), "plan-missing")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestExecutor_RollbackAndStatus(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()

	f.plan(t)
	done := f.plan(t)
	require.NoError(t, f.executor.Execute(ctx, done.ID))

	preID, err := f.executor.RollbackToSnapshot(ctx, "snap-0")
	require.NoError(t, err)
	assert.Equal(t, "snap-pre-rollback", preID)
	assert.Equal(t, []string{"snap-0"}, f.snapshots.rolledBack)

	st, err := f.executor.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalPlans)
	assert.Equal(t, 1, st.PlansByStatus[catalog.StatusPlanned])
	assert.Equal(t, 1, st.PlansByStatus[catalog.StatusCompleted])
	assert.Equal(t, 0, st.ActivePlans)
	assert.Len(t, st.RecentSnapshots, 2)
	assert.NotNil(t, st.LatestSnapshot)
}
