// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/timecapsule/internal/backup"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/domain"
	"github.com/tomtom215/timecapsule/internal/recovery"
	"github.com/tomtom215/timecapsule/internal/retention"
)

// Service is the subset of *timecapsule.System the handlers call.
type Service interface {
	Ping(ctx context.Context) error

	CreateBackup(ctx context.Context, kind catalog.Kind, description string, tags []string) (*catalog.Backup, error)
	ListBackups(ctx context.Context, kind catalog.Kind, limit int) ([]*catalog.Backup, error)
	GetBackup(ctx context.Context, id string) (*catalog.Backup, error)
	BackupStats(ctx context.Context) (*catalog.Stats, error)
	VerifyBackupDetailed(ctx context.Context, id string) (*backup.ValidationResult, error)
	DeleteBackup(ctx context.Context, id string) (bool, error)

	RestoreFromBackup(ctx context.Context, backupID string, scope domain.Scope) (string, error)
	RestoreStatus(ctx context.Context, id string) (*catalog.Restore, error)
	ListRestores(ctx context.Context, backupID string, limit int) ([]*catalog.Restore, error)
	AbandonRestore(ctx context.Context, id, reason string) error

	CreateSystemSnapshot(ctx context.Context, description string, tags []string) (*catalog.Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*catalog.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]*catalog.Snapshot, error)
	RollbackToSnapshot(ctx context.Context, id string) (string, error)

	CreateRecoveryPlan(ctx context.Context, target time.Time, domains []string) (*catalog.Plan, error)
	GetRecoveryPlan(ctx context.Context, id string) (*catalog.Plan, error)
	ListRecoveryPlans(ctx context.Context, limit int) ([]*catalog.Plan, error)
	ExecuteRecoveryPlan(ctx context.Context, planID string) error
	GetRecoveryStatus(ctx context.Context) (*recovery.Status, error)

	Prune(ctx context.Context) (int, error)
	ScheduledJobs() []retention.JobStatus
}

// Handler serves the API routes.
type Handler struct {
	svc Service
}

// NewHandler creates a handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// defaultListLimit applies when a list request has no limit.
const defaultListLimit = 100

func (h *Handler) listLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	q := listQuery{Limit: getIntParam(r, "limit", defaultListLimit)}
	if !validateRequest(w, &q) {
		return 0, false
	}
	return q.Limit, true
}

// Health reports whether the catalog is reachable.
// GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE", "Catalog is not reachable", nil)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"catalog": "ok"})
}

// ListBackups returns backups newest first.
// GET /api/v1/backups?kind=&limit=
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.listLimit(w, r)
	if !ok {
		return
	}
	var kind catalog.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := catalog.ParseKind(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		kind = k
	}

	backups, err := h.svc.ListBackups(r.Context(), kind, limit)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, backups)
}

// CreateBackup archives every domain.
// POST /api/v1/backups
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req CreateBackupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	kind := catalog.KindFull
	if req.Kind != "" {
		kind = catalog.Kind(req.Kind)
	}

	b, err := h.svc.CreateBackup(r.Context(), kind, req.Description, req.Tags)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusCreated, b)
}

// BackupStats aggregates the catalog.
// GET /api/v1/backups/stats
func (h *Handler) BackupStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.BackupStats(r.Context())
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, stats)
}

// GetBackup returns one backup.
// GET /api/v1/backups/{id}
func (h *Handler) GetBackup(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, b)
}

// DeleteBackup removes a backup and its archive.
// DELETE /api/v1/backups/{id}
func (h *Handler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.svc.DeleteBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "backup not found", nil)
		return
	}
	respondSuccess(w, http.StatusOK, DeleteResponse{Deleted: true})
}

// VerifyBackup checks the archive. A failed check answers 409 with the
// per-check breakdown in the error details.
// POST /api/v1/backups/{id}/verify
func (h *Handler) VerifyBackup(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.VerifyBackupDetailed(r.Context(), chi.URLParam(r, "id"))
	if err != nil && result != nil {
		respondError(w, http.StatusConflict, "INTEGRITY_ERROR", err.Error(), map[string]interface{}{"result": result})
		return
	}
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, result)
}

// RestoreBackup restores the requested domains.
// POST /api/v1/backups/{id}/restore
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	var scope domain.Scope
	if len(req.Domains) > 0 {
		scope = domain.ScopeOf(req.Domains...)
	}

	id, err := h.svc.RestoreFromBackup(r.Context(), chi.URLParam(r, "id"), scope)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, RestoreResponse{RestoreID: id})
}

// ListRestores returns restores newest first.
// GET /api/v1/restores?backup_id=&limit=
func (h *Handler) ListRestores(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.listLimit(w, r)
	if !ok {
		return
	}
	restores, err := h.svc.ListRestores(r.Context(), r.URL.Query().Get("backup_id"), limit)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, restores)
}

// GetRestore returns one restore.
// GET /api/v1/restores/{id}
func (h *Handler) GetRestore(w http.ResponseWriter, r *http.Request) {
	rs, err := h.svc.RestoreStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, rs)
}

// AbandonRestore fails an interrupted restore.
// POST /api/v1/restores/{id}/abandon
func (h *Handler) AbandonRestore(w http.ResponseWriter, r *http.Request) {
	var req AbandonRestoreRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.AbandonRestore(r.Context(), id, req.Reason); err != nil {
		respondAppError(w, r, err)
		return
	}
	rs, err := h.svc.RestoreStatus(r.Context(), id)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, rs)
}

// ListSnapshots returns snapshot summaries newest first.
// GET /api/v1/snapshots?limit=
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.listLimit(w, r)
	if !ok {
		return
	}
	snaps, err := h.svc.ListSnapshots(r.Context(), limit)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	out := make([]recovery.SnapshotSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, recovery.SnapshotSummary{
			ID:          s.ID,
			CreatedAt:   s.CreatedAt,
			Description: s.Description,
			Tags:        s.Tags,
		})
	}
	respondSuccess(w, http.StatusOK, out)
}

// CreateSnapshot captures every state domain.
// POST /api/v1/snapshots
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req CreateSnapshotRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	snap, err := h.svc.CreateSystemSnapshot(r.Context(), req.Description, req.Tags)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusCreated, snap)
}

// GetSnapshot returns one snapshot including its blobs.
// GET /api/v1/snapshots/{id}
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, snap)
}

// RollbackSnapshot restores state domains from a snapshot.
// POST /api/v1/snapshots/{id}/rollback
func (h *Handler) RollbackSnapshot(w http.ResponseWriter, r *http.Request) {
	preID, err := h.svc.RollbackToSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, RollbackResponse{PreRollbackSnapshotID: preID})
}

// ListPlans returns recovery plans newest first.
// GET /api/v1/recovery/plans?limit=
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.listLimit(w, r)
	if !ok {
		return
	}
	plans, err := h.svc.ListRecoveryPlans(r.Context(), limit)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, plans)
}

// CreatePlan plans a point-in-time recovery.
// POST /api/v1/recovery/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	target, err := time.Parse(time.RFC3339, req.Target)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "target must be an RFC3339 timestamp", nil)
		return
	}

	plan, err := h.svc.CreateRecoveryPlan(r.Context(), target, req.Domains)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusCreated, plan)
}

// GetPlan returns one plan.
// GET /api/v1/recovery/plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.GetRecoveryPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, plan)
}

// ExecutePlan runs a plan to completion and returns its final state.
// POST /api/v1/recovery/plans/{id}/execute
func (h *Handler) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.ExecuteRecoveryPlan(r.Context(), id); err != nil {
		respondAppError(w, r, err)
		return
	}
	plan, err := h.svc.GetRecoveryPlan(r.Context(), id)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, plan)
}

// RecoveryStatus summarizes snapshots and plans.
// GET /api/v1/recovery/status
func (h *Handler) RecoveryStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetRecoveryStatus(r.Context())
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, st)
}

// ScheduledJobs lists retention jobs.
// GET /api/v1/schedule/jobs
func (h *Handler) ScheduledJobs(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, h.svc.ScheduledJobs())
}

// Prune deletes expired backups once.
// POST /api/v1/schedule/prune
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Prune(r.Context())
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, PruneResponse{Pruned: n})
}
