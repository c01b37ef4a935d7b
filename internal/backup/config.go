// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package backup

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomtom215/timecapsule/internal/config"
)

// DefaultMaxExtractFileSize limits a single extracted file (1 GiB).
const DefaultMaxExtractFileSize int64 = 1 << 30

// Config holds archiver and restorer settings.
type Config struct {
	// Root that domain paths are relative to
	BaseDir string

	// Directory holding archives/, tmp/ and snapshots/
	BackupDir string

	// gzip level, -1 for the library default
	CompressionLevel int

	// Retention window recorded on new backups
	RetentionDays int

	// Tags added to every new backup
	DefaultTags []string

	// Per-file extraction limit
	MaxExtractFileSize int64
}

// ConfigFrom derives the backup settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BaseDir:            cfg.ResolvePath("."),
		BackupDir:          cfg.ResolvePath(cfg.BackupDir),
		CompressionLevel:   cfg.Backup.CompressionLevel,
		RetentionDays:      cfg.Backup.RetentionDays,
		DefaultTags:        cfg.Backup.DefaultTags,
		MaxExtractFileSize: cfg.Backup.MaxExtractFileSize,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base directory is required")
	}
	if c.BackupDir == "" {
		return fmt.Errorf("backup directory is required")
	}
	if c.CompressionLevel < gzip.DefaultCompression || c.CompressionLevel > gzip.BestCompression {
		return fmt.Errorf("compression level must be between %d and %d, got: %d",
			gzip.DefaultCompression, gzip.BestCompression, c.CompressionLevel)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1, got: %d", c.RetentionDays)
	}
	if c.MaxExtractFileSize <= 0 {
		c.MaxExtractFileSize = DefaultMaxExtractFileSize
	}
	return nil
}

// ArchiveDir is where finished archives live.
func (c *Config) ArchiveDir() string { return filepath.Join(c.BackupDir, "archives") }

// TempDir holds staging and extraction trees.
func (c *Config) TempDir() string { return filepath.Join(c.BackupDir, "tmp") }

// SnapshotDir holds snapshot audit files.
func (c *Config) SnapshotDir() string { return filepath.Join(c.BackupDir, "snapshots") }

// EnsureDirs creates the backup directory layout if it doesn't exist.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.ArchiveDir(), c.TempDir(), c.SnapshotDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create backup directory %s: %w", dir, err)
		}
	}
	return nil
}
