// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package config

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/timecapsule/internal/validation"
)

// Validate checks struct tags first, then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateDomains(); err != nil {
		return err
	}
	if err := c.validateStorageOutsideDomains(); err != nil {
		return err
	}
	return c.validateStateDomains()
}

func (c *Config) validateSchedule() error {
	exprs := map[string]string{
		"schedule.full_cron":        c.Schedule.FullCron,
		"schedule.incremental_cron": c.Schedule.IncrementalCron,
		"schedule.prune_cron":       c.Schedule.PruneCron,
	}
	for key, expr := range exprs {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("%s: invalid cron expression %q: %w", key, expr, err)
		}
	}
	return nil
}

// validateDomains rejects duplicate names and roots that overlap, since a
// manifest entry must map to exactly one domain.
func (c *Config) validateDomains() error {
	names := make(map[string]bool, len(c.Domains))
	roots := make([]string, 0, len(c.Domains))

	for _, d := range c.Domains {
		if !validation.IsRelPath(d.Path) {
			return fmt.Errorf("domain %q: path %q must be relative to base_dir", d.Name, d.Path)
		}
		if names[d.Name] {
			return fmt.Errorf("duplicate domain name %q", d.Name)
		}
		names[d.Name] = true

		root := path.Clean(d.Path)
		for _, other := range roots {
			if root == other || strings.HasPrefix(root, other+"/") || strings.HasPrefix(other, root+"/") {
				return fmt.Errorf("domain %q: path %q overlaps another domain root %q", d.Name, d.Path, other)
			}
		}
		roots = append(roots, root)

		if d.Counter == "sqlite" || d.Counter == "json_keys" {
			if !strings.Contains(d.CounterTarget, ":") {
				return fmt.Errorf("domain %q: counter_target must be file:name for %s counters", d.Name, d.Counter)
			}
		}
	}
	return nil
}

// validateStorageOutsideDomains keeps archives, the catalog and badger state
// out of every domain root. Restores clear selected roots wholesale.
func (c *Config) validateStorageOutsideDomains() error {
	storage := map[string]string{
		"backup_dir":   c.BackupDir,
		"catalog_path": c.CatalogPath,
		"state_dir":    c.StateDir,
	}
	for _, d := range c.Domains {
		root := filepath.Clean(c.ResolvePath(d.Path))
		for key, p := range storage {
			if p == "" {
				continue
			}
			target := filepath.Clean(c.ResolvePath(p))
			if target == root || strings.HasPrefix(target, root+string(filepath.Separator)) {
				return fmt.Errorf("%s %q must not be inside domain %q root %q", key, p, d.Name, d.Path)
			}
		}
	}
	return nil
}

func (c *Config) validateStateDomains() error {
	seen := make(map[string]bool, len(c.StateDomains))
	for _, s := range c.StateDomains {
		if seen[s.Name] {
			return fmt.Errorf("duplicate state domain name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Kind == "file" && !validation.IsRelPath(s.Target) {
			return fmt.Errorf("state domain %q: target %q must be relative to base_dir", s.Name, s.Target)
		}
		if s.Kind == "badger" && c.StateDir == "" {
			return fmt.Errorf("state domain %q: state_dir is required for badger state domains", s.Name)
		}
	}
	return nil
}
