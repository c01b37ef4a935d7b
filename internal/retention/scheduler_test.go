// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
)

// mockArchiver implements Archiver for testing.
type mockArchiver struct {
	mu        sync.Mutex
	backups   []*catalog.Backup
	created   []catalog.Kind
	deleted   []string
	createFn  func(ctx context.Context, kind catalog.Kind) error
	deleteErr map[string]error
}

func (m *mockArchiver) Create(ctx context.Context, kind catalog.Kind, _ string, tags []string) (*catalog.Backup, error) {
	m.mu.Lock()
	fn := m.createFn
	m.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, kind); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, kind)
	return &catalog.Backup{ID: "bk-" + string(kind), Kind: kind, Tags: tags}, nil
}

func (m *mockArchiver) List(_ context.Context, _ catalog.Kind, _ int) ([]*catalog.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*catalog.Backup, len(m.backups))
	copy(out, m.backups)
	return out, nil
}

func (m *mockArchiver) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[id]; err != nil {
		return false, err
	}
	for i, b := range m.backups {
		if b.ID == id {
			m.backups = append(m.backups[:i], m.backups[i+1:]...)
			m.deleted = append(m.deleted, id)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockArchiver) createdKinds() []catalog.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]catalog.Kind(nil), m.created...)
}

// fakeClock is a settable clock shared with the worker goroutine.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestScheduler(t *testing.T, archiver Archiver, cfg Config, clock *fakeClock) *Scheduler {
	t.Helper()
	s, err := NewScheduler(archiver, cfg)
	require.NoError(t, err)
	s.now = clock.Now
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestNewScheduler_InvalidCron(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FullCron = "not a cron"

	_, err := NewScheduler(&mockArchiver{}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobScheduledFull)
}

func TestNewScheduler_EmptyIncrementalDisablesJob(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncrementalCron = ""

	s, err := NewScheduler(&mockArchiver{}, cfg)
	require.NoError(t, err)

	names := make([]string, 0)
	for _, j := range s.Jobs() {
		names = append(names, j.Name)
		assert.False(t, j.NextRun.IsZero(), "next run is known before Start")
	}
	assert.Equal(t, []string{JobPrune, JobScheduledFull}, names)
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 18, 0, 30, 0, 0, time.UTC)}
	s := newTestScheduler(t, &mockArchiver{}, DefaultConfig(), clock)

	require.NoError(t, s.Stop(), "stop before start")
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestScheduler_MissedTicksCatchUpOnce(t *testing.T) {
	start := time.Date(2026, 10, 18, 0, 30, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	archiver := &mockArchiver{}

	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour
	s := newTestScheduler(t, archiver, cfg, clock)
	require.NoError(t, s.Start(context.Background()))

	// Nothing is due yet
	s.tick(context.Background())
	assert.Empty(t, archiver.createdKinds())

	// Three nightly runs missed
	later := start.Add(72 * time.Hour)
	clock.Set(later)
	s.tick(context.Background())

	kinds := archiver.createdKinds()
	assert.Equal(t, 1, countKind(kinds, catalog.KindFull), "missed full backups run once")
	assert.Equal(t, 1, countKind(kinds, catalog.KindIncremental), "missed incrementals run once")

	for _, j := range s.Jobs() {
		assert.True(t, j.NextRun.After(later), "%s next run recomputed from now", j.Name)
	}

	// Same instant again: nothing new is due
	s.tick(context.Background())
	assert.Len(t, archiver.createdKinds(), 2)
}

func countKind(kinds []catalog.Kind, kind catalog.Kind) int {
	n := 0
	for _, k := range kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func TestScheduler_PanickingJobIsIsolated(t *testing.T) {
	start := time.Date(2026, 10, 18, 0, 30, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	archiver := &mockArchiver{
		createFn: func(context.Context, catalog.Kind) error { panic("boom") },
		backups: []*catalog.Backup{
			{ID: "bk-old", CreatedAt: start.AddDate(0, 0, -40), RetentionDays: 30},
		},
	}

	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour
	cfg.PruneCron = "0 1 * * *"
	s := newTestScheduler(t, archiver, cfg, clock)
	require.NoError(t, s.Start(context.Background()))

	clock.Set(start.Add(24 * time.Hour))
	assert.NotPanics(t, func() { s.tick(context.Background()) })

	archiver.mu.Lock()
	assert.Equal(t, []string{"bk-old"}, archiver.deleted, "prune still ran")
	archiver.mu.Unlock()

	err := s.RunNow(context.Background(), JobScheduledFull)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestScheduler_RunNow(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	archiver := &mockArchiver{}
	s := newTestScheduler(t, archiver, DefaultConfig(), clock)

	require.NoError(t, s.RunNow(context.Background(), JobScheduledIncremental))
	assert.Equal(t, []catalog.Kind{catalog.KindIncremental}, archiver.createdKinds())

	err := s.RunNow(context.Background(), "hourly")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestScheduler_StopTimesOut(t *testing.T) {
	start := time.Date(2026, 10, 18, 0, 30, 0, 0, time.UTC)
	clock := &fakeClock{now: start}

	entered := make(chan struct{})
	release := make(chan struct{})
	archiver := &mockArchiver{
		createFn: func(context.Context, catalog.Kind) error {
			close(entered)
			<-release
			return nil
		},
	}

	cfg := DefaultConfig()
	cfg.IncrementalCron = ""
	cfg.PollInterval = 10 * time.Millisecond
	cfg.StopTimeout = 50 * time.Millisecond
	s := newTestScheduler(t, archiver, cfg, clock)
	require.NoError(t, s.Start(context.Background()))

	clock.Set(start.Add(2 * time.Hour))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job never started")
	}

	err := s.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not stop")

	close(release)
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	archiver := &mockArchiver{
		backups: []*catalog.Backup{
			{ID: "fresh", CreatedAt: now.AddDate(0, 0, -5), RetentionDays: 30},
			{ID: "boundary", CreatedAt: now.Add(-(30*24 + 23) * time.Hour), RetentionDays: 30},
			{ID: "expired", CreatedAt: now.AddDate(0, 0, -31), RetentionDays: 30},
			{ID: "short", CreatedAt: now.AddDate(0, 0, -2), RetentionDays: 1},
		},
		deleteErr: map[string]error{},
	}
	s := newTestScheduler(t, archiver, DefaultConfig(), clock)

	n, err := s.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"expired", "short"}, archiver.deleted)
}

func TestPrune_ContinuesPastFailures(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	archiver := &mockArchiver{
		backups: []*catalog.Backup{
			{ID: "locked", CreatedAt: now.AddDate(0, 0, -60), RetentionDays: 30},
			{ID: "expired", CreatedAt: now.AddDate(0, 0, -40), RetentionDays: 30},
		},
		deleteErr: map[string]error{"locked": errors.New("permission denied")},
	}
	s := newTestScheduler(t, archiver, DefaultConfig(), clock)

	n, err := s.Prune(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"expired"}, archiver.deleted)
}
