// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
restore.go - Scoped Restore Execution

Restore copies the files of one backup back under the base directory for a
chosen set of domains.

Restore Process:
 1. Resolve the scope against the domain registry (unknown names are rejected)
 2. Confirm the backup exists before anything destructive happens
 3. Record the restore as pending, then in_progress
 4. Extract the archive into <backup_dir>/tmp/restore-<id>
 5. Clear the root of every selected domain the backup holds entries for,
    so files created after the backup do not survive
 6. Walk the recorded manifest, copying each entry whose domain is in scope
 7. Persist progress after every entry, capped below 100
 8. Mark completed with progress 100, or failed with the error message

Files already copied are not rolled back on failure. The extraction
directory is removed on every exit path.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/domain"
	"github.com/tomtom215/timecapsule/internal/events"
	"github.com/tomtom215/timecapsule/internal/logging"
	"github.com/tomtom215/timecapsule/internal/metrics"
)

// progressLogInterval throttles per-entry progress logging.
const progressLogInterval = 2 * time.Second

// Restorer copies backup contents back into the base directory.
type Restorer struct {
	cfg      Config
	store    Catalog
	registry *domain.Registry
	events   events.Publisher
	now      func() time.Time
}

// NewRestorer creates a restorer sharing the archiver's directory layout.
func NewRestorer(cfg Config, store Catalog, registry *domain.Registry, pub events.Publisher) (*Restorer, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("domain registry is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backup configuration: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	if pub == nil {
		pub = events.Nop{}
	}

	return &Restorer{
		cfg:      cfg,
		store:    store,
		registry: registry,
		events:   pub,
		now:      time.Now,
	}, nil
}

// Restore restores the domains selected by scope from a backup and returns
// the restore id. A nil or empty scope restores every domain. When the copy
// itself fails, the restore id is returned along with the error so callers
// can inspect the failed row.
func (r *Restorer) Restore(ctx context.Context, backupID string, scope domain.Scope) (string, error) {
	const op = "backup.Restore"

	sel, err := r.registry.Resolve(scope)
	if err != nil {
		return "", err
	}

	b, err := r.store.GetBackup(ctx, backupID)
	if err != nil {
		return "", err
	}

	created := r.now().UTC()
	rec := &catalog.Restore{
		ID:        catalog.NewRestoreID(created),
		BackupID:  b.ID,
		CreatedAt: created,
		Scope:     scopeFlags(r.registry, sel),
		Status:    catalog.StatusPending,
	}
	if err := r.store.InsertRestore(ctx, rec); err != nil {
		return "", err
	}
	if err := r.store.StartRestore(ctx, rec.ID); err != nil {
		return "", err
	}

	log := logging.With().Str("restore_id", rec.ID).Str("backup_id", b.ID).Logger()
	log.Info().Strs("domains", sel.Names()).Msg("Restore started")

	copied, runErr := r.run(ctx, rec.ID, b, sel)
	if runErr != nil {
		var appErr *apperr.Error
		if !errors.As(runErr, &appErr) {
			runErr = apperr.IO(op, runErr)
		}
		// The caller's context may be the reason for the failure
		if err := r.store.FailRestore(context.WithoutCancel(ctx), rec.ID, runErr.Error(), r.now().UTC()); err != nil {
			log.Error().Err(err).Msg("Failed to record restore failure")
		}
		metrics.RecordRestore(runErr)
		log.Error().Err(runErr).Int("files_copied", copied).Msg("Restore failed")
		r.events.Publish(events.New(events.TopicRestoreFailed, rec.ID, map[string]string{
			"backup_id": b.ID,
			"error":     runErr.Error(),
		}))
		return rec.ID, runErr
	}

	if err := r.store.CompleteRestore(ctx, rec.ID, r.now().UTC()); err != nil {
		metrics.RecordRestore(err)
		return rec.ID, err
	}
	metrics.RecordRestore(nil)
	log.Info().Int("files_copied", copied).Msg("Restore completed")
	r.events.Publish(events.New(events.TopicRestoreCompleted, rec.ID, map[string]string{
		"backup_id":    b.ID,
		"files_copied": strconv.Itoa(copied),
	}))
	return rec.ID, nil
}

// run extracts the archive and copies the selected entries. It returns the
// number of entries written.
func (r *Restorer) run(ctx context.Context, restoreID string, b *catalog.Backup, sel domain.Selection) (int, error) {
	extractDir := filepath.Join(r.cfg.TempDir(), "restore-"+restoreID)
	defer os.RemoveAll(extractDir) //nolint:errcheck // Best effort cleanup

	if err := os.MkdirAll(extractDir, 0o750); err != nil {
		return 0, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	if _, err := extractArchive(b.ArchivePath, extractDir, r.cfg.MaxExtractFileSize); err != nil {
		return 0, fmt.Errorf("failed to extract archive: %w", err)
	}

	if err := r.clearDomainRoots(b.Manifest, sel); err != nil {
		return 0, err
	}

	progressLog := rate.Sometimes{Interval: progressLogInterval}
	total := len(b.Manifest)
	copied := 0

	for i, entry := range b.Manifest {
		if err := ctx.Err(); err != nil {
			return copied, err
		}

		if sel.Includes(entry) {
			if err := r.restoreEntry(extractDir, entry); err != nil {
				return copied, err
			}
			copied++
		}

		progress := (i + 1) * 100 / total
		if err := r.store.SetRestoreProgress(ctx, restoreID, progress); err != nil {
			return copied, err
		}
		progressLog.Do(func() {
			logging.Debug().Str("restore_id", restoreID).Int("progress", progress).
				Int("entry", i+1).Int("total", total).Msg("Restore progress")
		})
	}
	return copied, nil
}

// clearDomainRoots removes the root of each selected domain that has entries
// in manifest. Domains absent from the backup, and domains out of scope, are
// left untouched.
func (r *Restorer) clearDomainRoots(manifest []string, sel domain.Selection) error {
	for _, d := range sel.Domains() {
		if !slices.ContainsFunc(manifest, func(entry string) bool {
			return d.Matches(strings.TrimSuffix(entry, "/"))
		}) {
			continue
		}
		root, err := validateAndBuildDestPath(r.cfg.BaseDir, d.Root)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(root); err != nil {
			return fmt.Errorf("failed to clear domain %s: %w", d.Name, err)
		}
		logging.Debug().Str("domain", d.Name).Str("root", root).Msg("Cleared domain root before restore")
	}
	return nil
}

// restoreEntry copies one manifest entry from the extraction tree into the
// base directory. Directory entries replace the destination wholesale.
func (r *Restorer) restoreEntry(extractDir, entry string) error {
	rel := strings.TrimSuffix(entry, "/")
	dest, err := validateAndBuildDestPath(r.cfg.BaseDir, rel)
	if err != nil {
		return err
	}

	if isDirEntry(entry) {
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("failed to clear %s: %w", entry, err)
		}
		if err := os.MkdirAll(dest, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", entry, err)
		}
		return nil
	}

	src := filepath.Join(extractDir, filepath.FromSlash(rel))
	if err := copyFile(src, dest); err != nil {
		return fmt.Errorf("failed to restore %s: %w", entry, err)
	}
	return nil
}

// Abandon marks an in_progress restore as failed. It is the operator action
// for restores interrupted by a crash or cancellation.
func (r *Restorer) Abandon(ctx context.Context, restoreID, reason string) error {
	rec, err := r.store.GetRestore(ctx, restoreID)
	if err != nil {
		return err
	}
	if rec.Status != catalog.StatusInProgress {
		return apperr.Validation("backup.Abandon", "restore %s is %s, not in_progress", restoreID, rec.Status)
	}
	if reason == "" {
		reason = "abandoned by operator"
	}
	if err := r.store.FailRestore(ctx, restoreID, reason, r.now().UTC()); err != nil {
		return err
	}

	logging.Warn().Str("restore_id", restoreID).Str("reason", reason).Msg("Restore abandoned")
	r.events.Publish(events.New(events.TopicRestoreFailed, restoreID, map[string]string{
		"backup_id": rec.BackupID,
		"error":     reason,
	}))
	return nil
}

// Status returns a restore record.
func (r *Restorer) Status(ctx context.Context, restoreID string) (*catalog.Restore, error) {
	return r.store.GetRestore(ctx, restoreID)
}

// List returns restores newest first. An empty backupID lists all restores.
func (r *Restorer) List(ctx context.Context, backupID string, limit int) ([]*catalog.Restore, error) {
	return r.store.ListRestores(ctx, backupID, limit)
}

// scopeFlags records every registered domain with its selection flag.
func scopeFlags(registry *domain.Registry, sel domain.Selection) map[string]bool {
	selected := make(map[string]bool)
	for _, name := range sel.Names() {
		selected[name] = true
	}
	flags := make(map[string]bool)
	for _, name := range registry.Names() {
		flags[name] = selected[name]
	}
	return flags
}
