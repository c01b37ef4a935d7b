// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver for VACUUM INTO snapshots

	"github.com/tomtom215/timecapsule/internal/domain"
	"github.com/tomtom215/timecapsule/internal/logging"
)

// sqliteSuffixes marks files that domains with SQLiteSnapshot set stage
// with VACUUM INTO.
var sqliteSuffixes = []string{".db", ".sqlite", ".sqlite3"}

// sqliteSidecars are the files SQLite keeps next to a database.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// stageResult is the frozen outcome of copying every domain into staging.
type stageResult struct {
	manifest []string
	rawSize  int64
}

// stageDomains copies every registered domain root from baseDir into
// stagingDir byte for byte, preserving relative paths. Missing roots are
// skipped. Domains with SQLiteSnapshot set stage their databases with
// VACUUM INTO instead, and drop the sidecars of each vacuumed database.
func stageDomains(ctx context.Context, baseDir, stagingDir string, domains []domain.Domain) (*stageResult, error) {
	res := &stageResult{}

	for _, d := range domains {
		// WalkDir visits "x.db" before "x.db-wal", so a main file is always
		// settled before its sidecars.
		vacuumed := make(map[string]bool)

		root := filepath.Join(baseDir, filepath.FromSlash(d.Root))
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			logging.Debug().Str("domain", d.Name).Str("root", root).Msg("Domain root absent, nothing to stage")
			continue
		}

		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel, err := filepath.Rel(baseDir, path)
			if err != nil {
				return fmt.Errorf("failed to relativize %s: %w", path, err)
			}
			rel = filepath.ToSlash(rel)
			dest := filepath.Join(stagingDir, filepath.FromSlash(rel))

			switch {
			case entry.IsDir():
				return stageDir(path, dest, rel, res)
			case !entry.Type().IsRegular():
				logging.Warn().Str("path", rel).Msg("Skipping non-regular file")
				return nil
			case vacuumed[sidecarMain(path)]:
				// Folded into the VACUUM INTO snapshot of the main file
				return nil
			case d.SQLiteSnapshot && isSQLiteFile(path):
				ok, err := snapshotSQLite(ctx, path, dest)
				if err != nil {
					return fmt.Errorf("failed to stage %s: %w", rel, err)
				}
				vacuumed[path] = ok
				return recordStaged(dest, rel, res)
			default:
				if err := copyFile(path, dest); err != nil {
					return fmt.Errorf("failed to stage %s: %w", rel, err)
				}
				return recordStaged(dest, rel, res)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to stage domain %s: %w", d.Name, err)
		}
	}

	sort.Strings(res.manifest)
	return res, nil
}

// stageDir records empty directories so restores recreate them.
func stageDir(src, dest, rel string, res *stageResult) error {
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return fmt.Errorf("failed to create staging dir %s: %w", rel, err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", rel, err)
	}
	if len(entries) == 0 {
		res.manifest = append(res.manifest, rel+"/")
	}
	return nil
}

func recordStaged(dest, rel string, res *stageResult) error {
	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("failed to stat staged %s: %w", rel, err)
	}
	res.rawSize += info.Size()
	res.manifest = append(res.manifest, rel)
	return nil
}

// sidecarMain returns the database path a sidecar belongs to, or "" when
// path is not a SQLite sidecar.
func sidecarMain(path string) string {
	for _, sidecar := range sqliteSidecars {
		if base, ok := strings.CutSuffix(path, sidecar); ok && isSQLiteFile(base) {
			return base
		}
	}
	return ""
}

func isSQLiteFile(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range sqliteSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// snapshotSQLite writes a consistent copy of a database via VACUUM INTO and
// reports whether the vacuum succeeded. Sources that cannot be vacuumed are
// copied byte for byte instead, and their sidecars are staged with them.
func snapshotSQLite(ctx context.Context, srcPath, dstPath string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return false, err
	}

	vacErr := vacuumInto(ctx, srcPath, dstPath)
	if vacErr == nil {
		return true, keepModTime(srcPath, dstPath)
	}
	logging.Warn().Err(vacErr).Str("path", srcPath).Msg("VACUUM INTO failed, copying database file instead")
	_ = os.Remove(dstPath) //nolint:errcheck // partial output from a failed vacuum

	return false, copyFile(srcPath, dstPath)
}

func vacuumInto(ctx context.Context, srcPath, dstPath string) error {
	dsn, err := readOnlyDSN(srcPath)
	if err != nil {
		return err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Best effort cleanup

	_, err = db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(dstPath, "'", "''")))
	return err
}

// readOnlyDSN builds a read-only SQLite URI for path with every reserved
// character percent-encoded.
func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}
	return u.String(), nil
}

func keepModTime(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
