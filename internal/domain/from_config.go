// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package domain

import (
	"fmt"
	"path"
	"strings"

	"github.com/tomtom215/timecapsule/internal/config"
)

// FromConfig builds the file domains described by cfg, resolving counter
// targets against the base directory.
func FromConfig(cfg *config.Config) ([]Domain, error) {
	out := make([]Domain, 0, len(cfg.Domains))
	for _, dc := range cfg.Domains {
		d := Domain{
			Name:           dc.Name,
			Root:           path.Clean(dc.Path),
			Sensitivity:    Sensitivity(dc.Sensitivity),
			SQLiteSnapshot: dc.SQLiteSnapshot,
		}
		counter, err := counterFor(cfg, dc)
		if err != nil {
			return nil, err
		}
		d.Counter = counter
		out = append(out, d)
	}
	return out, nil
}

func counterFor(cfg *config.Config, dc config.DomainConfig) (Counter, error) {
	root := cfg.ResolvePath(dc.Path)

	switch dc.Counter {
	case "", "none":
		return nil, nil
	case "files":
		return FileCounter{Root: root, Pattern: dc.CounterTarget}, nil
	case "sqlite", "json_keys":
		file, name, ok := strings.Cut(dc.CounterTarget, ":")
		if !ok || file == "" || name == "" {
			return nil, fmt.Errorf("domain %q: counter_target %q must be file:name", dc.Name, dc.CounterTarget)
		}
		target := cfg.ResolvePath(path.Join(dc.Path, file))
		if dc.Counter == "sqlite" {
			return SQLiteRowCounter{Path: target, Table: name}, nil
		}
		return JSONKeyCounter{Path: target, Field: name}, nil
	default:
		return nil, fmt.Errorf("domain %q: unknown counter %q", dc.Name, dc.Counter)
	}
}

// FileStatesFromConfig builds the file-backed state domains in cfg. Badger
// state domains are built by the caller that owns the badger handle.
func FileStatesFromConfig(cfg *config.Config) []StateDomain {
	var out []StateDomain
	for _, sc := range cfg.StateDomains {
		if sc.Kind == "file" {
			out = append(out, NewFileState(sc.Name, cfg.ResolvePath(sc.Target)))
		}
	}
	return out
}
