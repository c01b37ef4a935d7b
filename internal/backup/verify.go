// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
verify.go - Backup Integrity Checking

Verification never mutates the archive. It runs three checks:
 1. Archive Existence: the archive file is present
 2. Checksum: the SHA-256 of the compressed bytes matches the catalog
 3. Test Restore: a full extraction into a scratch directory succeeds and
    yields every manifest entry

The scratch directory is removed on every exit path. The outcome is
recorded as the backup's verification status.

Validation failures are collected in the result rather than returned as
errors, so Verify reports false for a damaged archive and only errors for
unknown ids or catalog failures.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/logging"
	"github.com/tomtom215/timecapsule/internal/metrics"
)

// ValidationResult describes one integrity check.
type ValidationResult struct {
	BackupID         string   `json:"backup_id"`
	Valid            bool     `json:"valid"`
	ArchiveExists    bool     `json:"archive_exists"`
	ChecksumValid    bool     `json:"checksum_valid"`
	ExpectedChecksum string   `json:"expected_checksum"`
	ActualChecksum   string   `json:"actual_checksum,omitempty"`
	ArchiveReadable  bool     `json:"archive_readable"`
	MissingEntries   []string `json:"missing_entries,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Verify recomputes the checksum and performs a throwaway extraction. It
// reports false, not an error, for a missing or damaged archive.
func (a *Archiver) Verify(ctx context.Context, id string) (bool, error) {
	result, err := a.validate(ctx, id)
	if err != nil {
		return false, err
	}
	return result.Valid, nil
}

// VerifyDetailed is Verify returning the full result. A failed check is
// returned as an Integrity error alongside the result.
func (a *Archiver) VerifyDetailed(ctx context.Context, id string) (*ValidationResult, error) {
	result, err := a.validate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return result, apperr.Integrity("backup.VerifyDetailed", "backup %s failed verification: %s",
			id, strings.Join(result.Errors, "; "))
	}
	return result, nil
}

func (a *Archiver) validate(ctx context.Context, id string) (*ValidationResult, error) {
	b, err := a.store.GetBackup(ctx, id)
	if err != nil {
		return nil, err
	}

	result := a.checkArchive(b)

	status := catalog.VerificationVerified
	if !result.Valid {
		status = catalog.VerificationFailed
	}
	if err := a.store.SetVerificationStatus(ctx, id, status, a.now()); err != nil {
		return nil, err
	}
	metrics.RecordVerification(result.Valid)

	event := logging.Info()
	if !result.Valid {
		event = logging.Warn().Strs("errors", result.Errors)
	}
	event.Str("backup_id", id).Bool("valid", result.Valid).Msg("Backup verified")

	return result, nil
}

// checkArchive runs every integrity check against b's archive.
func (a *Archiver) checkArchive(b *catalog.Backup) *ValidationResult {
	result := &ValidationResult{
		BackupID:         b.ID,
		Valid:            true,
		ExpectedChecksum: b.Checksum,
	}

	if !fileExists(b.ArchivePath) {
		result.fail("archive file does not exist")
		return result
	}
	result.ArchiveExists = true

	actual, _, err := calculateFileChecksum(b.ArchivePath)
	if err != nil {
		result.fail("failed to calculate checksum: %v", err)
		return result
	}
	result.ActualChecksum = actual
	result.ChecksumValid = actual == b.Checksum
	if !result.ChecksumValid {
		result.fail("checksum mismatch - archive may be corrupted")
		return result
	}

	a.testRestore(b, result)
	return result
}

// testRestore extracts the archive into a scratch directory and confirms
// every manifest entry is present.
func (a *Archiver) testRestore(b *catalog.Backup, result *ValidationResult) {
	scratch, err := os.MkdirTemp(a.cfg.TempDir(), "verify-"+b.ID+"-*")
	if err != nil {
		result.fail("failed to create scratch directory: %v", err)
		return
	}
	defer os.RemoveAll(scratch) //nolint:errcheck // Best effort cleanup

	extracted, err := extractArchive(b.ArchivePath, scratch, a.cfg.MaxExtractFileSize)
	if err != nil {
		result.fail("test extraction failed: %v", err)
		return
	}
	result.ArchiveReadable = true

	for _, entry := range b.Manifest {
		if !extracted[entry] {
			result.MissingEntries = append(result.MissingEntries, entry)
		}
	}
	if len(result.MissingEntries) > 0 {
		result.fail("%d manifest entries missing from archive", len(result.MissingEntries))
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
