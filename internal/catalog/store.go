// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
store.go - DuckDB Catalog Store

The catalog is the durable record of every backup, restore, snapshot and
recovery plan. It lives in a single DuckDB file next to the archives.

Every mutation runs in its own transaction, so a crash leaves each record
either fully written or absent. Writes are additionally serialized through a
mutex because DuckDB reports concurrent updates to one row as transaction
conflicts rather than blocking.

Structured fields (manifest, counters, tags, scope, steps, blobs) are stored
as JSON text columns.
*/
//nolint:staticcheck // File documentation, not package doc
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/logging"
)

// Store is the DuckDB-backed catalog. It is safe for concurrent use.
type Store struct {
	conn    *sql.DB
	path    string
	writeMu sync.Mutex
}

// Open opens (creating if needed) the catalog at path and applies pending
// migrations. An empty path opens an in-memory catalog.
func Open(path string) (*Store, error) {
	if path != "" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create catalog directory %s: %w", dir, err)
			}
		}
	}

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// An in-memory database is per connection; pin the pool to one.
	if path == "" {
		conn.SetMaxOpenConns(1)
	}

	s := &Store{conn: conn, path: path}
	if err := s.runMigrations(); err != nil {
		closeQuietly(conn)
		return nil, err
	}

	logging.Debug().Str("path", path).Msg("Catalog opened")
	return s, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.path != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
			logging.Warn().Err(err).Msg("Catalog checkpoint before close failed")
		}
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close catalog: %w", err)
	}
	return nil
}

// Ping checks that the catalog is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// withTx runs fn inside a serialized write transaction.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperr.IO(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback() //nolint:errcheck // Rollback after failure
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return err
		}
		return apperr.IO(op, err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.IO(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func closeQuietly(c interface{ Close() error }) {
	_ = c.Close() //nolint:errcheck // Best effort cleanup
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(data), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
