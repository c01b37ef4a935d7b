// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/timecapsule/internal/config"
	"github.com/tomtom215/timecapsule/internal/logging"
	"github.com/tomtom215/timecapsule/internal/timecapsule"
)

// addGlobalFlags adds the persistent flags shared by every subcommand.
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", "", "Config file (default: $TIMECAPSULE_CONFIG or ./timecapsule.yaml)")
	cmd.PersistentFlags().StringP("output", "o", "table", "Output format: table|json")
	cmd.PersistentFlags().String("log-level", "", "Override the configured log level")
}

// loadConfig reads the configuration and points the logger at stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Root().PersistentFlags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, nil
}

// withSystem opens the system for the duration of fn.
func withSystem(cmd *cobra.Command, fn func(ctx context.Context, sys *timecapsule.System) error) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sys, err := timecapsule.Open(cfg, timecapsule.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sys.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close catalog: %w", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, sys)
}

// render writes v as indented JSON with --output json, otherwise calls table.
func render(cmd *cobra.Command, w io.Writer, v interface{}, table func(tw *tabwriter.Writer)) error {
	output, _ := cmd.Root().PersistentFlags().GetString("output")
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported --output: %s", output)
	}
}
