// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package api

// CreateBackupRequest is the body of POST /backups. Kind defaults to full.
type CreateBackupRequest struct {
	Kind        string   `json:"kind" validate:"omitempty,oneof=full incremental differential"`
	Description string   `json:"description" validate:"max=500"`
	Tags        []string `json:"tags" validate:"max=20,dive,required,max=64"`
}

// RestoreRequest is the body of POST /backups/{id}/restore. No domains
// means every domain.
type RestoreRequest struct {
	Domains []string `json:"domains" validate:"max=64,dive,domainname"`
}

// AbandonRestoreRequest is the body of POST /restores/{id}/abandon.
type AbandonRestoreRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// CreateSnapshotRequest is the body of POST /snapshots.
type CreateSnapshotRequest struct {
	Description string   `json:"description" validate:"max=500"`
	Tags        []string `json:"tags" validate:"max=20,dive,required,max=64"`
}

// CreatePlanRequest is the body of POST /recovery/plans.
type CreatePlanRequest struct {
	// Target is an RFC3339 timestamp
	Target  string   `json:"target" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Domains []string `json:"domains" validate:"max=64,dive,domainname"`
}

// listQuery bounds list endpoints.
type listQuery struct {
	Limit int `validate:"min=0,max=1000"`
}

// RestoreResponse is returned by POST /backups/{id}/restore.
type RestoreResponse struct {
	RestoreID string `json:"restore_id"`
}

// RollbackResponse is returned by POST /snapshots/{id}/rollback.
type RollbackResponse struct {
	PreRollbackSnapshotID string `json:"pre_rollback_snapshot_id"`
}

// DeleteResponse is returned by DELETE /backups/{id}.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// PruneResponse is returned by POST /schedule/prune.
type PruneResponse struct {
	Pruned int `json:"pruned"`
}
