// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/timecapsule"
)

func newBackupCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, inspect and verify backups",
	}
	cmd.AddCommand(
		newBackupCreateCmd(stdout),
		newBackupListCmd(stdout),
		newBackupShowCmd(stdout),
		newBackupVerifyCmd(stdout),
		newBackupDeleteCmd(stdout),
		newBackupStatsCmd(stdout),
	)
	return cmd
}

func newBackupCreateCmd(stdout io.Writer) *cobra.Command {
	var kind, description string
	var tags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Archive every data domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := catalog.ParseKind(kind)
			if err != nil {
				return err
			}
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				b, err := sys.CreateBackup(ctx, k, description, tags)
				if err != nil {
					return err
				}
				return render(cmd, stdout, b, func(tw *tabwriter.Writer) {
					writeBackupDetail(tw, b)
				})
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "full", "Backup kind label: full|incremental|differential")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Free-form description")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Tag to attach (repeatable)")
	return cmd
}

func newBackupListCmd(stdout io.Writer) *cobra.Command {
	var kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var k catalog.Kind
			if kind != "" {
				parsed, err := catalog.ParseKind(kind)
				if err != nil {
					return err
				}
				k = parsed
			}
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				backups, err := sys.ListBackups(ctx, k, limit)
				if err != nil {
					return err
				}
				return render(cmd, stdout, backups, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ID\tCREATED\tKIND\tSIZE\tVERIFIED\tTAGS")
					for _, b := range backups {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
							b.ID, b.CreatedAt.Local().Format(time.DateTime), b.Kind,
							formatBytes(b.CompressedSize), b.VerificationStatus, strings.Join(b.Tags, ","))
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Only list backups of this kind")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (0 = all)")
	return cmd
}

func newBackupShowCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show <backup-id>",
		Short: "Show one backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				b, err := sys.GetBackup(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd, stdout, b, func(tw *tabwriter.Writer) {
					writeBackupDetail(tw, b)
				})
			})
		},
	}
}

func newBackupVerifyCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Check an archive against its recorded checksum and manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				result, verifyErr := sys.VerifyBackupDetailed(ctx, args[0])
				if result == nil {
					return verifyErr
				}
				err := render(cmd, stdout, result, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "Backup:\t%s\n", result.BackupID)
					fmt.Fprintf(tw, "Valid:\t%t\n", result.Valid)
					fmt.Fprintf(tw, "Archive exists:\t%t\n", result.ArchiveExists)
					fmt.Fprintf(tw, "Checksum valid:\t%t\n", result.ChecksumValid)
					fmt.Fprintf(tw, "Archive readable:\t%t\n", result.ArchiveReadable)
					for _, m := range result.MissingEntries {
						fmt.Fprintf(tw, "Missing:\t%s\n", m)
					}
					for _, e := range result.Errors {
						fmt.Fprintf(tw, "Error:\t%s\n", e)
					}
				})
				if err != nil {
					return err
				}
				return verifyErr
			})
		},
	}
}

func newBackupDeleteCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "Delete a backup archive and its catalog row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				deleted, err := sys.DeleteBackup(ctx, args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return apperr.NotFound("backup.Delete", "backup", args[0])
				}
				_, err = fmt.Fprintf(stdout, "Deleted backup %s\n", args[0])
				return err
			})
		},
	}
}

func newBackupStatsCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the backup catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, func(ctx context.Context, sys *timecapsule.System) error {
				stats, err := sys.BackupStats(ctx)
				if err != nil {
					return err
				}
				return render(cmd, stdout, stats, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "Backups:\t%d\n", stats.TotalCount)
					fmt.Fprintf(tw, "Raw size:\t%s\n", formatBytes(stats.TotalRawBytes))
					fmt.Fprintf(tw, "Compressed size:\t%s\n", formatBytes(stats.TotalCompressed))
					for _, k := range sortedKeys(stats.CountByKind) {
						fmt.Fprintf(tw, "Kind %s:\t%d\n", k, stats.CountByKind[catalog.Kind(k)])
					}
					if stats.Oldest != nil {
						fmt.Fprintf(tw, "Oldest:\t%s\n", stats.Oldest.Local().Format(time.DateTime))
					}
				})
			})
		},
	}
}

func writeBackupDetail(tw *tabwriter.Writer, b *catalog.Backup) {
	fmt.Fprintf(tw, "ID:\t%s\n", b.ID)
	fmt.Fprintf(tw, "Created:\t%s\n", b.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Kind:\t%s\n", b.Kind)
	if b.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", b.Description)
	}
	fmt.Fprintf(tw, "Files:\t%d\n", len(b.Manifest))
	fmt.Fprintf(tw, "Size:\t%s (%s raw)\n", formatBytes(b.CompressedSize), formatBytes(b.RawSize))
	fmt.Fprintf(tw, "Checksum:\t%s\n", b.Checksum)
	fmt.Fprintf(tw, "Verification:\t%s\n", b.VerificationStatus)
	fmt.Fprintf(tw, "Retention:\t%d days\n", b.RetentionDays)
	if len(b.Tags) > 0 {
		fmt.Fprintf(tw, "Tags:\t%s\n", strings.Join(b.Tags, ", "))
	}
	for _, name := range sortedKeys(b.Counters) {
		fmt.Fprintf(tw, "Count %s:\t%d\n", name, b.Counters[name])
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
