// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

// Package retention runs scheduled backups and prunes expired ones.
//
// scheduler.go - Retention Scheduler
//
// The scheduler owns one worker goroutine that:
//   - Wakes every poll interval (default: 1 minute)
//   - Runs each job whose next run time has passed, once
//   - Recomputes that job's next run time from the current clock, so missed
//     ticks are caught up once and never replayed
//
// Jobs are scheduled-full, scheduled-incremental and prune, each driven by a
// standard five-field cron expression. A failing or panicking job is logged
// and counted without affecting other jobs or the next tick.
//
// The scheduler integrates with the supervisor tree for lifecycle management.
package retention

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/config"
	"github.com/tomtom215/timecapsule/internal/logging"
	"github.com/tomtom215/timecapsule/internal/metrics"
)

// Job names.
const (
	JobScheduledFull        = "scheduled-full"
	JobScheduledIncremental = "scheduled-incremental"
	JobPrune                = "prune"
)

// Archiver defines the backup operations required by the scheduler.
type Archiver interface {
	Create(ctx context.Context, kind catalog.Kind, description string, tags []string) (*catalog.Backup, error)
	List(ctx context.Context, kind catalog.Kind, limit int) ([]*catalog.Backup, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Config holds configuration for the retention scheduler.
type Config struct {
	// PollInterval is how often the worker checks for due jobs (default: 1 minute)
	PollInterval time.Duration

	// StopTimeout bounds how long Stop waits for the worker (default: 5 seconds)
	StopTimeout time.Duration

	// Cron expressions; an empty IncrementalCron disables that job
	FullCron        string
	IncrementalCron string
	PruneCron       string
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Minute,
		StopTimeout:     5 * time.Second,
		FullCron:        "0 2 * * *",
		IncrementalCron: "0 */6 * * *",
		PruneCron:       "0 1 * * 0",
	}
}

// ConfigFrom derives scheduler settings from the application config.
func ConfigFrom(cfg config.ScheduleConfig) Config {
	return Config{
		PollInterval:    cfg.PollInterval,
		StopTimeout:     cfg.StopTimeout,
		FullCron:        cfg.FullCron,
		IncrementalCron: cfg.IncrementalCron,
		PruneCron:       cfg.PruneCron,
	}
}

// job is one cron-driven task.
type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	next     time.Time
	run      func(ctx context.Context) error
}

// JobStatus describes a job for status reporting.
type JobStatus struct {
	Name    string    `json:"name"`
	Cron    string    `json:"cron"`
	NextRun time.Time `json:"next_run"`
}

// Scheduler runs scheduled backups and retention pruning.
type Scheduler struct {
	archiver Archiver
	config   Config
	logger   zerolog.Logger
	now      func() time.Time

	// Runtime state
	mu      sync.Mutex
	jobs    []*job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler and parses every cron expression.
func NewScheduler(archiver Archiver, cfg Config) (*Scheduler, error) {
	if archiver == nil {
		return nil, fmt.Errorf("archiver is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	s := &Scheduler{
		archiver: archiver,
		config:   cfg,
		logger:   logging.Component("retention-scheduler"),
		now:      time.Now,
	}

	specs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{JobScheduledFull, cfg.FullCron, s.backupJob(catalog.KindFull, JobScheduledFull)},
		{JobScheduledIncremental, cfg.IncrementalCron, s.backupJob(catalog.KindIncremental, JobScheduledIncremental)},
		{JobPrune, cfg.PruneCron, func(ctx context.Context) error {
			_, err := s.Prune(ctx)
			return err
		}},
	}
	for _, sp := range specs {
		if sp.spec == "" {
			continue
		}
		schedule, err := cron.ParseStandard(sp.spec)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression for %s %q: %w", sp.name, sp.spec, err)
		}
		s.jobs = append(s.jobs, &job{name: sp.name, spec: sp.spec, schedule: schedule, run: sp.run})
	}

	return s, nil
}

// Start launches the worker. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	now := s.now()
	for _, j := range s.jobs {
		j.next = j.schedule.Next(now)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.logger.Info().
		Dur("poll_interval", s.config.PollInterval).
		Int("jobs", len(s.jobs)).
		Msg("Starting retention scheduler")

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop cancels the worker and waits up to the stop timeout for it to exit.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping retention scheduler...")
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Retention scheduler stopped")
		return nil
	case <-time.After(s.config.StopTimeout):
		return fmt.Errorf("retention scheduler did not stop within %s", s.config.StopTimeout)
	}
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Jobs returns every job with its next run time, ordered by name. Before
// Start the next run is computed from the current time.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		next := j.next
		if next.IsZero() {
			next = j.schedule.Next(s.now())
		}
		out = append(out, JobStatus{Name: j.name, Cron: j.spec, NextRun: next})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// RunNow runs one job immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.name == name {
			return s.execute(ctx, j)
		}
	}
	return apperr.Validation("retention.RunNow", "unknown job %q", name)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick runs every due job once and reschedules it from the current clock.
func (s *Scheduler) tick(ctx context.Context) {
	for _, j := range s.dueJobs() {
		if ctx.Err() != nil {
			return
		}
		_ = s.execute(ctx, j) //nolint:errcheck // logged and counted by execute

		s.mu.Lock()
		j.next = j.schedule.Next(s.now())
		s.mu.Unlock()
	}
}

func (s *Scheduler) dueJobs() []*job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []*job
	for _, j := range s.jobs {
		if !now.Before(j.next) {
			due = append(due, j)
		}
	}
	return due
}

// execute runs one job, converting a panic into an error.
func (s *Scheduler) execute(ctx context.Context, j *job) (err error) {
	start := time.Now()
	logger := s.logger.With().Str("job", j.name).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
		metrics.RecordSchedulerJob(j.name, err)
		if err != nil {
			logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Scheduled job failed")
			return
		}
		logger.Info().Dur("duration", time.Since(start)).Msg("Scheduled job completed")
	}()

	return j.run(ctx)
}

func (s *Scheduler) backupJob(kind catalog.Kind, name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.archiver.Create(ctx, kind, "Scheduled "+string(kind)+" backup", []string{"scheduled", name})
		return err
	}
}
