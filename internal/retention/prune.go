// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package retention

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/timecapsule/internal/metrics"
)

// Prune deletes every backup older than its own retention window, measured
// in whole days. It keeps going past individual failures and returns the
// number deleted along with the joined errors.
func (s *Scheduler) Prune(ctx context.Context) (int, error) {
	backups, err := s.archiver.List(ctx, "", 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	pruned := 0
	var errs []error
	for _, b := range backups {
		if !b.Expired(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		deleted, err := s.archiver.Delete(ctx, b.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("backup_id", b.ID).Msg("Failed to prune backup")
			errs = append(errs, fmt.Errorf("prune %s: %w", b.ID, err))
			continue
		}
		if deleted {
			pruned++
			s.logger.Info().
				Str("backup_id", b.ID).
				Int("age_days", b.AgeDays(now)).
				Int("retention_days", b.RetentionDays).
				Msg("Pruned expired backup")
		}
	}

	metrics.PrunedBackupsTotal.Add(float64(pruned))
	s.logger.Info().Int("pruned", pruned).Int("examined", len(backups)).Msg("Retention prune finished")
	return pruned, errors.Join(errs...)
}
