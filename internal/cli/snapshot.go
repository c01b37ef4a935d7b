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

	"github.com/tomtom215/timecapsule/internal/recovery"
	"github.com/tomtom215/timecapsule/internal/timecapsule"
)

func newSnapshotCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture and roll back small state domains",
	}
	cmd.AddCommand(
		newSnapshotCreateCmd(stdout),
		newSnapshotListCmd(stdout),
		newSnapshotRollbackCmd(stdout),
	)
	return cmd
}

func newSnapshotCreateCmd(stdout io.Writer) *cobra.Command {
	var description string
	var tags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Capture every state domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				snap, err := sys.CreateSystemSnapshot(ctx, description, tags)
				if err != nil {
					return err
				}
				return render(cmd, stdout, snap, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "ID:\t%s\n", snap.ID)
					fmt.Fprintf(tw, "Created:\t%s\n", snap.CreatedAt.Local().Format(time.DateTime))
					for _, name := range sortedKeys(snap.Blobs) {
						fmt.Fprintf(tw, "State %s:\t%s\n", name, formatBytes(int64(len(snap.Blobs[name]))))
					}
				})
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Free-form description")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Tag to attach (repeatable)")
	return cmd
}

func newSnapshotListCmd(stdout io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				snaps, err := sys.ListSnapshots(ctx, limit)
				if err != nil {
					return err
				}
				summaries := make([]recovery.SnapshotSummary, 0, len(snaps))
				for _, s := range snaps {
					summaries = append(summaries, recovery.SnapshotSummary{
						ID: s.ID, CreatedAt: s.CreatedAt, Description: s.Description, Tags: s.Tags,
					})
				}
				return render(cmd, stdout, summaries, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ID\tCREATED\tDESCRIPTION\tTAGS")
					for _, s := range summaries {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
							s.ID, s.CreatedAt.Local().Format(time.DateTime), s.Description, strings.Join(s.Tags, ","))
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows (0 = all)")
	return cmd
}

func newSnapshotRollbackCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <snapshot-id>",
		Short: "Write a snapshot back to every state domain",
		Long: "Rollback first captures the current state so it can itself be undone.\n" +
			"The id of that capture is printed on success and on partial failure.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				preID, err := sys.RollbackToSnapshot(ctx, args[0])
				if preID != "" {
					fmt.Fprintf(stdout, "Pre-rollback snapshot: %s\n", preID)
				}
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(stdout, "Rolled back to %s\n", args[0])
				return err
			})
		},
	}
}
