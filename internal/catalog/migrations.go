// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/timecapsule/internal/logging"
)

// Migration is one versioned schema change. Migrations are append-only.
type Migration struct {
	Version     int
	Name        string
	Description string
	SQL         string
	AppliedAt   time.Time
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_backups", Description: "Backup catalog", SQL: `
CREATE TABLE IF NOT EXISTS backups (
	id VARCHAR PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	kind VARCHAR NOT NULL,
	description VARCHAR NOT NULL DEFAULT '',
	manifest VARCHAR NOT NULL,
	raw_size BIGINT NOT NULL,
	compressed_size BIGINT NOT NULL,
	counters VARCHAR NOT NULL,
	checksum VARCHAR NOT NULL,
	verification_status VARCHAR NOT NULL,
	verified_at TIMESTAMP,
	tags VARCHAR NOT NULL,
	retention_days INTEGER NOT NULL,
	archive_path VARCHAR NOT NULL
);`},
		{Version: 2, Name: "create_restores", Description: "Restore operation records", SQL: `
CREATE TABLE IF NOT EXISTS restores (
	id VARCHAR PRIMARY KEY,
	backup_id VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL,
	scope VARCHAR NOT NULL,
	status VARCHAR NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	error VARCHAR NOT NULL DEFAULT '',
	completed_at TIMESTAMP
);`},
		{Version: 3, Name: "create_snapshots", Description: "Small-state snapshots", SQL: `
CREATE TABLE IF NOT EXISTS snapshots (
	id VARCHAR PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	description VARCHAR NOT NULL DEFAULT '',
	version INTEGER NOT NULL,
	blobs VARCHAR NOT NULL,
	counters VARCHAR NOT NULL,
	tags VARCHAR NOT NULL
);`},
		{Version: 4, Name: "create_recovery_plans", Description: "Recovery plans and execution state", SQL: `
CREATE TABLE IF NOT EXISTS recovery_plans (
	id VARCHAR PRIMARY KEY,
	description VARCHAR NOT NULL DEFAULT '',
	target_timestamp TIMESTAMP NOT NULL,
	backup_id VARCHAR NOT NULL,
	steps VARCHAR NOT NULL,
	estimated_seconds BIGINT NOT NULL,
	risk_level VARCHAR NOT NULL,
	risk_score INTEGER NOT NULL,
	affected_domains VARCHAR NOT NULL,
	data_loss_risk BOOLEAN NOT NULL,
	status VARCHAR NOT NULL,
	current_step INTEGER NOT NULL DEFAULT 0,
	progress INTEGER NOT NULL DEFAULT 0,
	error VARCHAR NOT NULL DEFAULT '',
	pre_snapshot_id VARCHAR NOT NULL DEFAULT '',
	post_snapshot_id VARCHAR NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`},
	}
}

func (s *Store) getAppliedMigrations(ctx context.Context) (map[int]Migration, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT version, name, description, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]Migration)
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[m.Version] = m
	}
	return applied, rows.Err()
}

func (s *Store) runMigrations() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.conn.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	newMigrations := 0
	for _, m := range migrations() {
		if _, exists := applied[m.Version]; exists {
			continue
		}
		if _, err := s.conn.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("failed to execute migration v%d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := s.conn.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, description) VALUES (?, ?, ?)`,
			m.Version, m.Name, m.Description); err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
		}
		newMigrations++
	}

	if newMigrations > 0 {
		logging.Info().Int("count", newMigrations).Msg("Applied catalog migrations")
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
