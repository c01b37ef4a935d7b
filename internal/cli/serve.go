// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/timecapsule/internal/api"
	"github.com/tomtom215/timecapsule/internal/config"
	"github.com/tomtom215/timecapsule/internal/events"
	"github.com/tomtom215/timecapsule/internal/logging"
	"github.com/tomtom215/timecapsule/internal/metrics"
	"github.com/tomtom215/timecapsule/internal/supervisor"
	"github.com/tomtom215/timecapsule/internal/supervisor/services"
	"github.com/tomtom215/timecapsule/internal/timecapsule"
)

const readHeaderTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API under a supervisor tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logging.Info().Str("version", Version).Msg("Starting Time Capsule with supervisor tree")

	sys, err := timecapsule.Open(cfg, timecapsule.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := sys.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing time capsule")
		}
	}()
	metrics.SetAppInfo(Version)

	tree := buildTree(sys, cfg)

	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Time Capsule stopped gracefully")
	return nil
}

// buildTree wires the long-running services into their layers.
func buildTree(sys *timecapsule.System, cfg *config.Config) *supervisor.Tree {
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(events.NewAuditLogger(sys.Bus()))
	if st := sys.StateStore(); st != nil {
		tree.AddDataService(services.NewStateGCService(st, services.DefaultGCInterval))
	}

	if cfg.Schedule.Enabled {
		tree.AddSchedulingService(services.NewSchedulerService("retention-scheduler", sys.Scheduler()))
	} else {
		logging.Info().Msg("Scheduled backups disabled")
	}

	addr := cfg.Server.Addr()
	server := &http.Server{
		Addr: addr,
		Handler: api.NewRouter(sys, api.RouterConfig{
			RateLimitRequests: cfg.Server.RateLimitRequests,
			RateLimitWindow:   cfg.Server.RateLimitWindow,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, addr, cfg.Server.ShutdownTimeout))
	return tree
}
