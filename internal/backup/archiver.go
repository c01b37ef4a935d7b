// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
archiver.go - Backup Creation

Create produces one full copy of every registered domain:

 1. Stage every domain root into <backup_dir>/tmp/<id>
 2. Compress the staging tree into <backup_dir>/archives/<id>.tar.gz
 3. Stream the archive through SHA-256
 4. Collect per-domain counters (display only)
 5. Insert the catalog row

Nothing is written to the catalog until steps 2 and 3 succeed. The staging
tree is removed on every exit path and a partial archive is removed on
failure.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/domain"
	"github.com/tomtom215/timecapsule/internal/events"
	"github.com/tomtom215/timecapsule/internal/logging"
	"github.com/tomtom215/timecapsule/internal/metrics"
)

// Catalog is the subset of the catalog store the backup package writes to.
type Catalog interface {
	InsertBackup(ctx context.Context, b *catalog.Backup) error
	GetBackup(ctx context.Context, id string) (*catalog.Backup, error)
	ListBackups(ctx context.Context, opts catalog.ListOptions) ([]*catalog.Backup, error)
	SetVerificationStatus(ctx context.Context, id string, status catalog.VerificationStatus, at time.Time) error
	DeleteBackup(ctx context.Context, id string, beforeCommit func(*catalog.Backup) error) (bool, error)
	BackupStats(ctx context.Context) (*catalog.Stats, error)

	InsertRestore(ctx context.Context, r *catalog.Restore) error
	GetRestore(ctx context.Context, id string) (*catalog.Restore, error)
	ListRestores(ctx context.Context, backupID string, limit int) ([]*catalog.Restore, error)
	StartRestore(ctx context.Context, id string) error
	SetRestoreProgress(ctx context.Context, id string, progress int) error
	CompleteRestore(ctx context.Context, id string, at time.Time) error
	FailRestore(ctx context.Context, id, message string, at time.Time) error
}

// Archiver creates and manages backup archives.
type Archiver struct {
	cfg      Config
	store    Catalog
	registry *domain.Registry
	events   events.Publisher
	now      func() time.Time
}

// NewArchiver creates an archiver and its directory layout.
func NewArchiver(cfg Config, store Catalog, registry *domain.Registry, pub events.Publisher) (*Archiver, error) {
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

	return &Archiver{
		cfg:      cfg,
		store:    store,
		registry: registry,
		events:   pub,
		now:      time.Now,
	}, nil
}

// Config returns the archiver settings.
func (a *Archiver) Config() Config { return a.cfg }

// Create archives every registered domain and records the backup. Tags are
// appended to the configured default tags.
func (a *Archiver) Create(ctx context.Context, kind catalog.Kind, description string, tags []string) (*catalog.Backup, error) {
	const op = "backup.Create"

	kind, err := catalog.ParseKind(string(kind))
	if err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}

	start := a.now().UTC()
	id := catalog.NewBackupID(start, kind)
	log := logging.With().Str("backup_id", id).Str("kind", string(kind)).Logger()

	b, err := a.create(ctx, id, start, kind, description, tags)
	metrics.RecordBackup(string(kind), time.Since(start), compressedSize(b), err)
	if err != nil {
		log.Error().Err(err).Msg("Backup failed")
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperr.IO(op, err)
	}

	log.Info().
		Int("files", len(b.Manifest)).
		Int64("raw_size", b.RawSize).
		Int64("compressed_size", b.CompressedSize).
		Dur("duration", time.Since(start)).
		Msg("Backup created")

	a.events.Publish(events.New(events.TopicBackupCreated, b.ID, map[string]string{
		"kind":     string(b.Kind),
		"checksum": b.Checksum,
	}))
	return b, nil
}

func (a *Archiver) create(ctx context.Context, id string, start time.Time, kind catalog.Kind, description string, tags []string) (_ *catalog.Backup, err error) {
	stagingDir := filepath.Join(a.cfg.TempDir(), id)
	archivePath := filepath.Join(a.cfg.ArchiveDir(), id+".tar.gz")

	defer os.RemoveAll(stagingDir) //nolint:errcheck // Best effort cleanup
	defer func() {
		if err != nil {
			if rmErr := os.Remove(archivePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logging.Warn().Err(rmErr).Str("path", archivePath).Msg("Failed to remove partial archive")
			}
		}
	}()

	if err := os.MkdirAll(stagingDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	staged, err := stageDomains(ctx, a.cfg.BaseDir, stagingDir, a.registry.Domains())
	if err != nil {
		return nil, err
	}

	if err := writeArchive(stagingDir, archivePath, staged.manifest, a.cfg.CompressionLevel); err != nil {
		return nil, err
	}

	checksum, size, err := calculateFileChecksum(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum archive: %w", err)
	}

	verifiedAt := a.now().UTC()
	b := &catalog.Backup{
		ID:                 id,
		CreatedAt:          start,
		Kind:               kind,
		Description:        description,
		Manifest:           staged.manifest,
		RawSize:            staged.rawSize,
		CompressedSize:     size,
		Counters:           a.registry.CollectCounters(ctx),
		Checksum:           checksum,
		VerificationStatus: catalog.VerificationVerified,
		VerifiedAt:         &verifiedAt,
		Tags:               mergeTags(a.cfg.DefaultTags, tags),
		RetentionDays:      a.cfg.RetentionDays,
		ArchivePath:        archivePath,
	}

	if err := a.store.InsertBackup(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func compressedSize(b *catalog.Backup) int64 {
	if b == nil {
		return 0
	}
	return b.CompressedSize
}

func mergeTags(defaults, extra []string) []string {
	seen := make(map[string]bool, len(defaults)+len(extra))
	out := make([]string, 0, len(defaults)+len(extra))
	for _, list := range [][]string{defaults, extra} {
		for _, tag := range list {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
