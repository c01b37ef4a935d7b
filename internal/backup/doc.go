// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

// Package backup creates, verifies and restores compressed point-in-time
// archives of the configured data domains.
//
// # Overview
//
// The package has two entry points:
//
//	Archiver - stages, compresses, checksums and catalogues one full copy of
//	           every registered domain; also lists, verifies and deletes them
//	Restorer - extracts an archive and copies the manifest entries selected by
//	           a domain scope back into the live tree
//
// Every backup is a full copy. The kind (full, incremental, differential) is a
// label recorded in the catalog and never changes what is archived.
//
// # Archive Layout
//
// One tar.gz per backup, rooted at the base directory:
//
//	<backup_dir>/archives/bk-20261018T020000.000000Z-full-1a2b3c4d.tar.gz
//	├── data/constitution.json
//	├── vault/notes/a.md
//	└── journal/journal.db          (byte copy, or VACUUM INTO with sqlite_snapshot)
//
// The manifest recorded in the catalog lists these relative paths in sorted
// order. Restores clear each selected domain root the backup holds, then
// walk the manifest, never the live filesystem. Empty directories are
// recorded with a trailing slash.
//
// # Integrity
//
// The SHA-256 of the compressed archive is computed in 4 KiB chunks before the
// catalog row is written. Verify recomputes it and performs a throwaway full
// extraction into a scratch directory.
//
// # Failure Semantics
//
// Staging and extraction directories are removed on every exit path. A failed
// Create deletes the partial archive and writes nothing to the catalog. A
// failed Restore marks its row failed; files already copied are left in place.
package backup
