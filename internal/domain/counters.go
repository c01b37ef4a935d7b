// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package domain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite" // pure-Go SQLite driver for row counters

	"github.com/tomtom215/timecapsule/internal/logging"
)

// maxParallelCounters bounds concurrent counter calls during a backup.
const maxParallelCounters = 4

// FileCounter counts regular files under Root whose base name matches Pattern.
// An empty Pattern matches every file.
type FileCounter struct {
	Root    string
	Pattern string
}

// Count implements Counter. A missing root counts as zero.
func (c FileCounter) Count(ctx context.Context) (int64, error) {
	var n int64
	err := filepath.WalkDir(c.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == c.Root {
				return filepath.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if c.Pattern != "" {
			ok, matchErr := filepath.Match(c.Pattern, d.Name())
			if matchErr != nil {
				return matchErr
			}
			if !ok {
				return nil
			}
		}
		n++
		return nil
	})
	return n, err
}

// SQLiteRowCounter counts rows of Table in the SQLite database at Path.
type SQLiteRowCounter struct {
	Path  string
	Table string
}

// Count implements Counter. A missing database counts as zero.
func (c SQLiteRowCounter) Count(ctx context.Context) (int64, error) {
	if _, err := os.Stat(c.Path); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	db, err := sql.Open("sqlite", "file:"+c.Path+"?mode=ro")
	if err != nil {
		return 0, fmt.Errorf("open sqlite %s: %w", c.Path, err)
	}
	defer db.Close() //nolint:errcheck // read-only handle

	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, strings.ReplaceAll(c.Table, `"`, `""`))
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s.%s: %w", filepath.Base(c.Path), c.Table, err)
	}
	return n, nil
}

// JSONKeyCounter counts the members of Field in the JSON object stored at Path.
// Objects count keys, arrays count elements.
type JSONKeyCounter struct {
	Path  string
	Field string
}

// Count implements Counter. A missing file or field counts as zero.
//
//nolint:gosec // G304: Path comes from configuration
func (c JSONKeyCounter) Count(_ context.Context) (int64, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Base(c.Path), err)
	}
	raw, ok := doc[c.Field]
	if !ok {
		return 0, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		return int64(len(obj)), nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return int64(len(arr)), nil
	}
	return 0, fmt.Errorf("field %q in %s is neither an object nor an array", c.Field, filepath.Base(c.Path))
}

// CollectCounters calls every domain counter concurrently through its circuit
// breaker. A failing counter is logged and reported as zero; counters never
// fail the caller.
func (r *Registry) CollectCounters(ctx context.Context) map[string]int64 {
	out := make(map[string]int64, len(r.domains))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCounters)

	for _, d := range r.domains {
		if d.Counter == nil {
			continue
		}
		d := d
		cb := r.breakers[d.Name]
		g.Go(func() error {
			n, err := cb.Execute(func() (int64, error) {
				return d.Counter.Count(gctx)
			})
			if err != nil {
				logging.Warn().Err(err).Str("domain", d.Name).Msg("Domain counter failed, recording zero")
				n = 0
			}
			mu.Lock()
			out[d.Name] = n
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // goroutines never return errors

	return out
}
