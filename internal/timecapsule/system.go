// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
system.go - Time Capsule Facade

System owns every component built from one configuration and exposes the
operations the CLI and HTTP API call:

	Backups:    CreateBackup, ListBackups, VerifyBackup, DeleteBackup
	Restores:   RestoreFromBackup
	Snapshots:  CreateSystemSnapshot, RollbackToSnapshot
	Recovery:   CreateRecoveryPlan, ExecuteRecoveryPlan, GetRecoveryStatus

Construction order:
 1. DuckDB catalog (migrations run on open)
 2. Badger state store, only when a badger state domain is configured
 3. Domain registry (file domains plus file and badger state domains)
 4. Event bus, archiver, restorer, snapshot recorder
 5. Recovery planner and executor, retention scheduler

Close releases them in reverse.
*/

//nolint:staticcheck // File documentation, not package doc
package timecapsule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/timecapsule/internal/backup"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/config"
	"github.com/tomtom215/timecapsule/internal/domain"
	"github.com/tomtom215/timecapsule/internal/events"
	"github.com/tomtom215/timecapsule/internal/logging"
	"github.com/tomtom215/timecapsule/internal/recovery"
	"github.com/tomtom215/timecapsule/internal/retention"
	"github.com/tomtom215/timecapsule/internal/snapshot"
	"github.com/tomtom215/timecapsule/internal/statestore"
)

// System is the assembled time capsule.
type System struct {
	cfg      *config.Config
	store    *catalog.Store
	state    *statestore.Store
	bus      *events.Bus
	registry *domain.Registry

	archiver  *backup.Archiver
	restorer  *backup.Restorer
	recorder  *snapshot.Recorder
	planner   *recovery.Planner
	executor  *recovery.Executor
	scheduler *retention.Scheduler
}

// Options adjusts Open for embedding and tests.
type Options struct {
	// Services pauses and resumes dependents during recovery.
	Services recovery.ServiceController

	// InMemoryState keeps badger state domains in memory.
	InMemoryState bool
}

// Open builds a System from cfg.
func Open(cfg *config.Config, opts Options) (_ *System, err error) {
	s := &System{cfg: cfg}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.store, err = catalog.Open(cfg.ResolvePath(cfg.CatalogPath))
	if err != nil {
		return nil, err
	}

	if err = s.openState(opts.InMemoryState); err != nil {
		return nil, err
	}

	domains, err := domain.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	s.registry, err = domain.NewRegistry(domains, s.stateDomains())
	if err != nil {
		return nil, fmt.Errorf("failed to build domain registry: %w", err)
	}

	s.bus = events.NewBus()

	bcfg := backup.ConfigFrom(cfg)
	if s.archiver, err = backup.NewArchiver(bcfg, s.store, s.registry, s.bus); err != nil {
		return nil, err
	}
	if s.restorer, err = backup.NewRestorer(bcfg, s.store, s.registry, s.bus); err != nil {
		return nil, err
	}
	if s.recorder, err = snapshot.NewRecorder(bcfg.SnapshotDir(), s.store, s.registry, s.bus); err != nil {
		return nil, err
	}
	if s.planner, err = recovery.NewPlanner(s.store, s.registry, bcfg.BaseDir); err != nil {
		return nil, err
	}
	s.executor, err = recovery.NewExecutor(s.store, recovery.Deps{
		Backups:         s.archiver,
		Restores:        s.restorer,
		Snapshots:       s.recorder,
		Services:        opts.Services,
		Events:          s.bus,
		PreRecoveryTags: cfg.Recovery.PreRecoveryTags,
	})
	if err != nil {
		return nil, err
	}
	if s.scheduler, err = retention.NewScheduler(s.archiver, retention.ConfigFrom(cfg.Schedule)); err != nil {
		return nil, err
	}

	logging.Info().
		Str("base_dir", bcfg.BaseDir).
		Str("backup_dir", bcfg.BackupDir).
		Strs("domains", s.registry.Names()).
		Int("state_domains", len(s.registry.States())).
		Msg("Time capsule ready")
	return s, nil
}

func (s *System) openState(inMemory bool) error {
	needed := false
	for _, sc := range s.cfg.StateDomains {
		if sc.Kind == "badger" {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	var err error
	if inMemory {
		s.state, err = statestore.OpenInMemory()
	} else {
		s.state, err = statestore.Open(s.cfg.ResolvePath(s.cfg.StateDir))
	}
	return err
}

// stateDomains returns the configured state domains in configuration order.
func (s *System) stateDomains() []domain.StateDomain {
	files := make(map[string]domain.StateDomain)
	for _, sd := range domain.FileStatesFromConfig(s.cfg) {
		files[sd.Name()] = sd
	}

	out := make([]domain.StateDomain, 0, len(s.cfg.StateDomains))
	for _, sc := range s.cfg.StateDomains {
		switch sc.Kind {
		case "file":
			out = append(out, files[sc.Name])
		case "badger":
			out = append(out, s.state.Domain(sc.Name, sc.Target))
		}
	}
	return out
}

// Close releases the bus, state store and catalog.
func (s *System) Close() error {
	var errs []error
	if s.scheduler != nil && s.scheduler.IsRunning() {
		errs = append(errs, s.scheduler.Stop())
	}
	if s.bus != nil {
		errs = append(errs, s.bus.Close())
	}
	if s.state != nil {
		errs = append(errs, s.state.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// Config returns the configuration the system was built from.
func (s *System) Config() *config.Config { return s.cfg }

// Bus returns the lifecycle event bus.
func (s *System) Bus() *events.Bus { return s.bus }

// Scheduler returns the retention scheduler. It is not started by Open.
func (s *System) Scheduler() *retention.Scheduler { return s.scheduler }

// StateStore returns the badger state store, or nil when none is configured.
func (s *System) StateStore() *statestore.Store { return s.state }

// Registry returns the domain registry.
func (s *System) Registry() *domain.Registry { return s.registry }

// Ping checks the catalog connection.
func (s *System) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// CreateBackup archives every file domain.
func (s *System) CreateBackup(ctx context.Context, kind catalog.Kind, description string, tags []string) (*catalog.Backup, error) {
	return s.archiver.Create(ctx, kind, description, tags)
}

// ListBackups returns backups newest first, optionally filtered by kind.
func (s *System) ListBackups(ctx context.Context, kind catalog.Kind, limit int) ([]*catalog.Backup, error) {
	return s.archiver.List(ctx, kind, limit)
}

// GetBackup returns one backup.
func (s *System) GetBackup(ctx context.Context, id string) (*catalog.Backup, error) {
	return s.archiver.Get(ctx, id)
}

// BackupStats aggregates the backup catalog.
func (s *System) BackupStats(ctx context.Context) (*catalog.Stats, error) {
	return s.archiver.Stats(ctx)
}

// VerifyBackup checks an archive and records the outcome.
func (s *System) VerifyBackup(ctx context.Context, id string) (bool, error) {
	return s.archiver.Verify(ctx, id)
}

// VerifyBackupDetailed is VerifyBackup with the per-check breakdown.
func (s *System) VerifyBackupDetailed(ctx context.Context, id string) (*backup.ValidationResult, error) {
	return s.archiver.VerifyDetailed(ctx, id)
}

// DeleteBackup removes a backup, its archive and its restore history.
func (s *System) DeleteBackup(ctx context.Context, id string) (bool, error) {
	return s.archiver.Delete(ctx, id)
}

// RestoreFromBackup restores the scoped domains. A nil scope restores all.
func (s *System) RestoreFromBackup(ctx context.Context, backupID string, scope domain.Scope) (string, error) {
	return s.restorer.Restore(ctx, backupID, scope)
}

// RestoreStatus returns one restore.
func (s *System) RestoreStatus(ctx context.Context, id string) (*catalog.Restore, error) {
	return s.restorer.Status(ctx, id)
}

// ListRestores returns restores newest first, optionally for one backup.
func (s *System) ListRestores(ctx context.Context, backupID string, limit int) ([]*catalog.Restore, error) {
	return s.restorer.List(ctx, backupID, limit)
}

// AbandonRestore fails a restore left in progress by an interrupted run.
func (s *System) AbandonRestore(ctx context.Context, id, reason string) error {
	return s.restorer.Abandon(ctx, id, reason)
}

// CreateSystemSnapshot captures every state domain.
func (s *System) CreateSystemSnapshot(ctx context.Context, description string, tags []string) (*catalog.Snapshot, error) {
	return s.recorder.Snapshot(ctx, description, tags)
}

// GetSnapshot returns one snapshot.
func (s *System) GetSnapshot(ctx context.Context, id string) (*catalog.Snapshot, error) {
	return s.recorder.Get(ctx, id)
}

// ListSnapshots returns snapshots newest first.
func (s *System) ListSnapshots(ctx context.Context, limit int) ([]*catalog.Snapshot, error) {
	return s.recorder.List(ctx, limit)
}

// RollbackToSnapshot restores state domains and returns the id of the
// snapshot taken just before.
func (s *System) RollbackToSnapshot(ctx context.Context, id string) (string, error) {
	return s.executor.RollbackToSnapshot(ctx, id)
}

// CreateRecoveryPlan plans a restore of domains to their state at target.
func (s *System) CreateRecoveryPlan(ctx context.Context, target time.Time, domains []string) (*catalog.Plan, error) {
	return s.planner.Plan(ctx, target, domains)
}

// GetRecoveryPlan returns one plan.
func (s *System) GetRecoveryPlan(ctx context.Context, id string) (*catalog.Plan, error) {
	return s.planner.Get(ctx, id)
}

// ListRecoveryPlans returns plans newest first.
func (s *System) ListRecoveryPlans(ctx context.Context, limit int) ([]*catalog.Plan, error) {
	return s.planner.List(ctx, limit)
}

// ExecuteRecoveryPlan runs a planned recovery.
func (s *System) ExecuteRecoveryPlan(ctx context.Context, planID string) error {
	return s.executor.Execute(ctx, planID)
}

// GetRecoveryStatus summarizes snapshots and plans.
func (s *System) GetRecoveryStatus(ctx context.Context) (*recovery.Status, error) {
	return s.executor.Status(ctx)
}

// Prune deletes expired backups once.
func (s *System) Prune(ctx context.Context) (int, error) {
	return s.scheduler.Prune(ctx)
}

// ScheduledJobs lists the retention jobs and their next run.
func (s *System) ScheduledJobs() []retention.JobStatus {
	return s.scheduler.Jobs()
}

// RunJob runs one retention job immediately.
func (s *System) RunJob(ctx context.Context, name string) error {
	return s.scheduler.RunNow(ctx, name)
}
