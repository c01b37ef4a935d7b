// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when TIMECAPSULE_CONFIG is unset.
var DefaultConfigPaths = []string{
	"timecapsule.yaml",
	"timecapsule.yml",
	"/etc/timecapsule/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "TIMECAPSULE_CONFIG"

// envPrefix is stripped from every environment key before mapping.
const envPrefix = "TIMECAPSULE_"

// Default returns the configuration used when nothing overrides it. The data
// roots and state domains match the layout of the journaling application the
// tool was first written for.
func Default() *Config {
	return &Config{
		BaseDir:     ".",
		BackupDir:   "backups",
		CatalogPath: "backups/catalog.duckdb",
		StateDir:    "backups/state",
		Backup: BackupConfig{
			CompressionLevel:   -1,
			RetentionDays:      30,
			DefaultTags:        []string{},
			MaxExtractFileSize: 1 << 30,
		},
		Schedule: ScheduleConfig{
			Enabled:         true,
			PollInterval:    time.Minute,
			StopTimeout:     5 * time.Second,
			FullCron:        "0 2 * * *",
			IncrementalCron: "0 */6 * * *",
			PruneCron:       "0 1 * * 0",
		},
		Recovery: RecoveryConfig{
			PreRecoveryTags: []string{"safety"},
		},
		Domains: []DomainConfig{
			{Name: "constitution", Path: "data", Sensitivity: "high", Counter: "json_keys", CounterTarget: "constitution.json:rules"},
			{Name: "conversations", Path: "conversations", Sensitivity: "normal", Counter: "files", CounterTarget: "*.json"},
			{Name: "documents", Path: "vault", Sensitivity: "normal", Counter: "files", CounterTarget: "*.md"},
			{Name: "configuration", Path: "config", Sensitivity: "elevated", Counter: "files"},
			{Name: "curation", Path: "curation_data", Sensitivity: "normal", Counter: "sqlite", CounterTarget: "curation.db:items"},
			{Name: "logs", Path: "logs", Sensitivity: "normal", Counter: "none"},
		},
		StateDomains: []StateDomainConfig{
			{Name: "constitution", Kind: "file", Target: "data/constitution.json"},
			{Name: "settings", Kind: "badger", Target: "settings:"},
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8642,
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
			ShutdownTimeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, the config file (explicitPath, then TIMECAPSULE_CONFIG,
// then DefaultConfigPaths) and environment variables, then validates the result.
func Load(explicitPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := explicitPath
	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps TIMECAPSULE_-stripped, lowercased env names to koanf paths.
var envMappings = map[string]string{
	"base_dir":     "base_dir",
	"backup_dir":   "backup_dir",
	"catalog_path": "catalog_path",
	"state_dir":    "state_dir",

	"compression_level":     "backup.compression_level",
	"retention_days":        "backup.retention_days",
	"default_tags":          "backup.default_tags",
	"max_extract_file_size": "backup.max_extract_file_size",

	"schedule_enabled":  "schedule.enabled",
	"poll_interval":     "schedule.poll_interval",
	"stop_timeout":      "schedule.stop_timeout",
	"full_cron":         "schedule.full_cron",
	"incremental_cron":  "schedule.incremental_cron",
	"prune_cron":        "schedule.prune_cron",
	"pre_recovery_tags": "recovery.pre_recovery_tags",
	"http_host":         "server.host",
	"http_port":         "server.port",
	"rate_limit":        "server.rate_limit_requests",
	"rate_limit_window": "server.rate_limit_window",
	"shutdown_timeout":  "server.shutdown_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc returns "" for unknown variables so koanf skips them.
//
// Examples:
//   - TIMECAPSULE_BASE_DIR -> base_dir
//   - TIMECAPSULE_RETENTION_DAYS -> backup.retention_days
//   - TIMECAPSULE_LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return envMappings[key]
}

var listFields = []string{"backup.default_tags", "recovery.pre_recovery_tags"}

// splitListFields turns comma-separated env values into slices.
func splitListFields(k *koanf.Koanf) error {
	for _, path := range listFields {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0)
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
