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
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/timecapsule/internal/timecapsule"
)

func newPruneCmd(stdout io.Writer) *cobra.Command {
	var listJobs bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete backups past their retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				if listJobs {
					jobs := sys.ScheduledJobs()
					return render(cmd, stdout, jobs, func(tw *tabwriter.Writer) {
						fmt.Fprintln(tw, "JOB\tCRON\tNEXT RUN")
						for _, j := range jobs {
							fmt.Fprintf(tw, "%s\t%s\t%s\n", j.Name, j.Cron, j.NextRun.Local().Format(time.DateTime))
						}
					})
				}
				n, err := sys.Prune(ctx)
				if n > 0 || err == nil {
					fmt.Fprintf(stdout, "Pruned %d backups\n", n)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&listJobs, "jobs", false, "List the scheduled jobs instead of pruning")
	return cmd
}
