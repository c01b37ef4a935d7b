// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/domain"
	"github.com/tomtom215/timecapsule/internal/timecapsule"
)

func newRestoreCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore data domains from a backup",
	}
	cmd.AddCommand(
		newRestoreRunCmd(stdout),
		newRestoreStatusCmd(stdout),
		newRestoreAbandonCmd(stdout),
	)
	return cmd
}

func newRestoreRunCmd(stdout io.Writer) *cobra.Command {
	var domains []string
	cmd := &cobra.Command{
		Use:   "run <backup-id>",
		Short: "Restore domains from a verified backup",
		Long: "Restore replaces the selected domains with their contents in the backup.\n" +
			"Without --domain every domain is restored.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var scope domain.Scope
			if len(domains) > 0 {
				scope = domain.ScopeOf(domains...)
			}
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				id, restoreErr := sys.RestoreFromBackup(ctx, args[0], scope)
				if id == "" {
					return restoreErr
				}
				rs, err := sys.RestoreStatus(ctx, id)
				if err != nil {
					return err
				}
				if err := render(cmd, stdout, rs, func(tw *tabwriter.Writer) {
					writeRestoreDetail(tw, rs)
				}); err != nil {
					return err
				}
				return restoreErr
			})
		},
	}
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "Domain to restore (repeatable, default all)")
	return cmd
}

func newRestoreStatusCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status <restore-id>",
		Short: "Show the progress of a restore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				rs, err := sys.RestoreStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd, stdout, rs, func(tw *tabwriter.Writer) {
					writeRestoreDetail(tw, rs)
				})
			})
		},
	}
}

func newRestoreAbandonCmd(stdout io.Writer) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "abandon <restore-id>",
		Short: "Mark a restore interrupted by a crash as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				if err := sys.AbandonRestore(ctx, args[0], reason); err != nil {
					return err
				}
				_, err := fmt.Fprintf(stdout, "Abandoned restore %s\n", args[0])
				return err
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "abandoned by operator", "Reason recorded on the restore")
	return cmd
}

func writeRestoreDetail(tw *tabwriter.Writer, rs *catalog.Restore) {
	fmt.Fprintf(tw, "ID:\t%s\n", rs.ID)
	fmt.Fprintf(tw, "Backup:\t%s\n", rs.BackupID)
	fmt.Fprintf(tw, "Domains:\t%s\n", strings.Join(sortedKeys(rs.Scope), ", "))
	fmt.Fprintf(tw, "Status:\t%s\n", rs.Status)
	fmt.Fprintf(tw, "Progress:\t%d%%\n", rs.Progress)
	if rs.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", rs.Error)
	}
	if rs.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", rs.CompletedAt.Local().Format(time.DateTime))
	}
}
