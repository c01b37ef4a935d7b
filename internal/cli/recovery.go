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
	"github.com/tomtom215/timecapsule/internal/timecapsule"
)

func newRecoveryCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Plan and execute point-in-time recovery",
	}
	cmd.AddCommand(
		newRecoveryPlanCmd(stdout),
		newRecoveryExecuteCmd(stdout),
		newRecoveryShowCmd(stdout),
		newRecoveryListCmd(stdout),
		newRecoveryStatusCmd(stdout),
	)
	return cmd
}

func newRecoveryPlanCmd(stdout io.Writer) *cobra.Command {
	var domains []string
	cmd := &cobra.Command{
		Use:   "plan <target>",
		Short: "Plan a recovery to a point in time",
		Long: "The target is an RFC3339 timestamp (2026-10-17T08:30:00Z) or a duration\n" +
			"before now (90m, 36h). Without --domain every domain is recovered.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseTarget(args[0], time.Now())
			if err != nil {
				return err
			}
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				plan, err := sys.CreateRecoveryPlan(ctx, target, domains)
				if err != nil {
					return err
				}
				return render(cmd, stdout, plan, func(tw *tabwriter.Writer) {
					writePlanDetail(tw, plan)
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "Domain to recover (repeatable, default all)")
	return cmd
}

func newRecoveryExecuteCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <plan-id>",
		Short: "Run a planned recovery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				execErr := sys.ExecuteRecoveryPlan(ctx, args[0])
				plan, err := sys.GetRecoveryPlan(context.WithoutCancel(ctx), args[0])
				if err != nil {
					if execErr != nil {
						return execErr
					}
					return err
				}
				if err := render(cmd, stdout, plan, func(tw *tabwriter.Writer) {
					writePlanDetail(tw, plan)
				}); err != nil {
					return err
				}
				return execErr
			})
		},
	}
}

func newRecoveryShowCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show one recovery plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				plan, err := sys.GetRecoveryPlan(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd, stdout, plan, func(tw *tabwriter.Writer) {
					writePlanDetail(tw, plan)
				})
			})
		},
	}
}

func newRecoveryListCmd(stdout io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recovery plans newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				plans, err := sys.ListRecoveryPlans(ctx, limit)
				if err != nil {
					return err
				}
				return render(cmd, stdout, plans, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ID\tTARGET\tSTATUS\tRISK\tDOMAINS")
					for _, p := range plans {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
							p.ID, p.TargetTimestamp.Local().Format(time.DateTime), p.Status,
							p.RiskLevel, strings.Join(p.AffectedDomains, ","))
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows (0 = all)")
	return cmd
}

func newRecoveryStatusCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize snapshots and recovery plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				st, err := sys.GetRecoveryStatus(ctx)
				if err != nil {
					return err
				}
				return render(cmd, stdout, st, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "Snapshots:\t%d\n", st.TotalSnapshots)
					if st.LatestSnapshot != nil {
						fmt.Fprintf(tw, "Latest snapshot:\t%s\n", st.LatestSnapshot.Local().Format(time.DateTime))
					}
					fmt.Fprintf(tw, "Plans:\t%d\n", st.TotalPlans)
					fmt.Fprintf(tw, "Active plans:\t%d\n", st.ActivePlans)
					for _, s := range sortedKeys(st.PlansByStatus) {
						fmt.Fprintf(tw, "Plans %s:\t%d\n", s, st.PlansByStatus[s])
					}
				})
			})
		},
	}
}

func writePlanDetail(tw *tabwriter.Writer, p *catalog.Plan) {
	fmt.Fprintf(tw, "ID:\t%s\n", p.ID)
	fmt.Fprintf(tw, "Target:\t%s\n", p.TargetTimestamp.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Backup:\t%s\n", p.BackupID)
	fmt.Fprintf(tw, "Domains:\t%s\n", strings.Join(p.AffectedDomains, ", "))
	fmt.Fprintf(tw, "Risk:\t%s (%d)\n", p.RiskLevel, p.RiskScore)
	fmt.Fprintf(tw, "Data loss risk:\t%t\n", p.DataLossRisk)
	fmt.Fprintf(tw, "Estimated duration:\t%s\n", p.EstimatedDuration)
	fmt.Fprintf(tw, "Status:\t%s (step %d/%d, %d%%)\n", p.Status, p.CurrentStep, len(p.Steps), p.Progress)
	for i, s := range p.Steps {
		fmt.Fprintf(tw, "  %d.\t%s\n", i+1, s.Description)
	}
	if p.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", p.Error)
	}
	if p.PreSnapshotID != "" {
		fmt.Fprintf(tw, "Pre-recovery snapshot:\t%s\n", p.PreSnapshotID)
	}
	if p.PostSnapshotID != "" {
		fmt.Fprintf(tw, "Post-recovery snapshot:\t%s\n", p.PostSnapshotID)
	}
}

// parseTarget accepts an RFC3339 timestamp or a positive duration before now.
func parseTarget(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid target %q: want an RFC3339 timestamp or a duration such as 36h", raw)
	}
	return now.Add(-d), nil
}
