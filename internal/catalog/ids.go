// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package catalog

import (
	"time"

	"github.com/google/uuid"
)

const idTimeLayout = "20060102T150405.000000Z"

// newID builds a sortable, collision-resistant identifier such as
// bk-20261018T020000.000000Z-full-1a2b3c4d.
func newID(prefix string, at time.Time, label string) string {
	id := prefix + "-" + at.UTC().Format(idTimeLayout)
	if label != "" {
		id += "-" + label
	}
	return id + "-" + uuid.NewString()[:8]
}

// NewBackupID derives a backup id from its creation time and kind.
func NewBackupID(at time.Time, kind Kind) string { return newID("bk", at, string(kind)) }

// NewRestoreID derives a restore id.
func NewRestoreID(at time.Time) string { return newID("rs", at, "") }

// NewSnapshotID derives a snapshot id.
func NewSnapshotID(at time.Time) string { return newID("snap", at, "") }

// NewPlanID derives a recovery plan id.
func NewPlanID(at time.Time) string { return newID("plan", at, "") }
