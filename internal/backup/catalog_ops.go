// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/events"
	"github.com/tomtom215/timecapsule/internal/logging"
)

// List returns backups newest first, optionally filtered by kind.
func (a *Archiver) List(ctx context.Context, kind catalog.Kind, limit int) ([]*catalog.Backup, error) {
	return a.store.ListBackups(ctx, catalog.ListOptions{Kind: kind, Limit: limit})
}

// Get returns one backup or a NotFound error.
func (a *Archiver) Get(ctx context.Context, id string) (*catalog.Backup, error) {
	return a.store.GetBackup(ctx, id)
}

// Delete removes the archive file, the catalog row and its restore rows.
// An unknown id reports false without error.
func (a *Archiver) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := a.store.DeleteBackup(ctx, id, func(b *catalog.Backup) error {
		if err := os.Remove(b.ArchivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove archive %s: %w", b.ArchivePath, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !deleted {
		logging.Debug().Str("backup_id", id).Msg("Delete requested for unknown backup")
		return false, nil
	}

	logging.Info().Str("backup_id", id).Msg("Backup deleted")
	a.events.Publish(events.New(events.TopicBackupDeleted, id, nil))
	return true, nil
}

// Stats aggregates the catalog.
func (a *Archiver) Stats(ctx context.Context) (*catalog.Stats, error) {
	return a.store.BackupStats(ctx)
}
