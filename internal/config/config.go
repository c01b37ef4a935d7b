// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

// Package config loads time capsule configuration from defaults, an optional
// YAML file and TIMECAPSULE_* environment variables, in that order of precedence.
package config

import (
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	// BaseDir is the application root that every data domain path is relative to.
	BaseDir string `koanf:"base_dir" validate:"required"`

	// BackupDir holds archives, staging space and snapshot audit files.
	BackupDir string `koanf:"backup_dir" validate:"required"`

	// CatalogPath is the DuckDB catalog file.
	CatalogPath string `koanf:"catalog_path" validate:"required"`

	// StateDir is the badger directory backing key/value state domains.
	StateDir string `koanf:"state_dir"`

	Backup       BackupConfig        `koanf:"backup"`
	Schedule     ScheduleConfig      `koanf:"schedule"`
	Recovery     RecoveryConfig      `koanf:"recovery"`
	Domains      []DomainConfig      `koanf:"domains" validate:"min=1,dive"`
	StateDomains []StateDomainConfig `koanf:"state_domains" validate:"dive"`
	Server       ServerConfig        `koanf:"server"`
	Logging      LoggingConfig       `koanf:"logging"`
}

// BackupConfig controls archive creation.
type BackupConfig struct {
	// CompressionLevel is the gzip level, -1 (default) through 9.
	CompressionLevel int `koanf:"compression_level" validate:"min=-1,max=9"`

	// RetentionDays is stamped on every new backup.
	RetentionDays int `koanf:"retention_days" validate:"min=1,max=36500"`

	// DefaultTags are added to every backup.
	DefaultTags []string `koanf:"default_tags"`

	// MaxExtractFileSize caps a single archive entry during extraction.
	MaxExtractFileSize int64 `koanf:"max_extract_file_size" validate:"min=1"`
}

// ScheduleConfig controls the retention scheduler.
type ScheduleConfig struct {
	Enabled bool `koanf:"enabled"`

	// PollInterval is how often the worker checks for due jobs.
	PollInterval time.Duration `koanf:"poll_interval" validate:"min=1s"`

	// StopTimeout bounds how long Stop waits for the worker to exit.
	StopTimeout time.Duration `koanf:"stop_timeout" validate:"min=1ms"`

	// Standard five-field cron expressions.
	FullCron        string `koanf:"full_cron" validate:"required"`
	IncrementalCron string `koanf:"incremental_cron"`
	PruneCron       string `koanf:"prune_cron" validate:"required"`
}

// RecoveryConfig controls recovery plan execution.
type RecoveryConfig struct {
	// PreRecoveryTags are added to the safety backup taken before a restore.
	PreRecoveryTags []string `koanf:"pre_recovery_tags"`
}

// DomainConfig describes one backed-up data root.
type DomainConfig struct {
	Name string `koanf:"name" validate:"required,max=64"`

	// Path is relative to BaseDir and uses forward slashes.
	Path string `koanf:"path" validate:"required"`

	Sensitivity string `koanf:"sensitivity" validate:"omitempty,oneof=normal elevated high"`

	// Counter selects the display counter: files, sqlite, json_keys or none.
	Counter string `koanf:"counter" validate:"omitempty,oneof=files sqlite json_keys none"`

	// CounterTarget is the counter argument: a glob for files, "file.db:table"
	// for sqlite, "file.json:field" for json_keys.
	CounterTarget string `koanf:"counter_target"`

	// SQLiteSnapshot stages SQLite databases with VACUUM INTO rather than a
	// byte copy. Restored databases are then consistent but not byte-identical.
	SQLiteSnapshot bool `koanf:"sqlite_snapshot"`
}

// StateDomainConfig describes one small-state blob captured by system snapshots.
type StateDomainConfig struct {
	Name string `koanf:"name" validate:"required,max=64"`

	// Kind is file (a single file under BaseDir) or badger (a key prefix in StateDir).
	Kind string `koanf:"kind" validate:"required,oneof=file badger"`

	// Target is the file path or key prefix.
	Target string `koanf:"target" validate:"required"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ResolvePath returns p joined to BaseDir unless p is already absolute.
func (c *Config) ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, filepath.FromSlash(p))
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
