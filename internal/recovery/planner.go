// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
planner.go - Recovery Planning

Plan turns "restore these domains to how they were at time T" into a
persisted, immutable step list.

Planning Process:
 1. Resolve the domain names (empty means every file domain)
 2. Select the verified backup with the greatest created_at <= T
 3. Score the risk from the rollback distance and domain sensitivity
 4. Build the fixed five-step template and estimate its duration
 5. Flag data loss when T is over a day ago or any selected file changed
    after the backup was taken

Risk Scoring:
  - +2 when the rollback distance exceeds 30 whole days, +1 when it exceeds 7
  - +2 when any selected domain has high sensitivity
  - +1 when any selected domain has elevated sensitivity
  - score < 2 is low, 2-3 is medium, >= 4 is high
*/

//nolint:staticcheck // File documentation, not package doc
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/timecapsule/internal/apperr"
	"github.com/tomtom215/timecapsule/internal/catalog"
	"github.com/tomtom215/timecapsule/internal/domain"
	"github.com/tomtom215/timecapsule/internal/logging"
	"github.com/tomtom215/timecapsule/internal/metrics"
)

// Step durations used for estimates.
var stepDurations = map[catalog.StepType]time.Duration{
	catalog.StepBackup:       10 * time.Minute,
	catalog.StepService:      2 * time.Minute,
	catalog.StepRestore:      15 * time.Minute,
	catalog.StepVerification: 5 * time.Minute,
}

// defaultStepDuration applies to step types missing from stepDurations.
const defaultStepDuration = 5 * time.Minute

// dataLossWindow is how far back a target may be before data loss is assumed.
const dataLossWindow = 24 * time.Hour

// Step parameter keys.
const (
	ParamBackupID    = "backup_id"
	ParamKind        = "kind"
	ParamDescription = "description"
	ParamScope       = "scope"
)

// PlanStore is the catalog subset the planner uses.
type PlanStore interface {
	LatestVerifiedAtOrBefore(ctx context.Context, t time.Time) (*catalog.Backup, error)
	InsertPlan(ctx context.Context, p *catalog.Plan) error
	GetPlan(ctx context.Context, id string) (*catalog.Plan, error)
	ListPlans(ctx context.Context, limit int) ([]*catalog.Plan, error)
}

// Planner builds recovery plans.
type Planner struct {
	store    PlanStore
	registry *domain.Registry
	baseDir  string
	now      func() time.Time
}

// NewPlanner creates a planner. baseDir is the root the domain paths are
// relative to, scanned for changes newer than the selected backup.
func NewPlanner(store PlanStore, registry *domain.Registry, baseDir string) (*Planner, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("domain registry is required")
	}
	return &Planner{
		store:    store,
		registry: registry,
		baseDir:  baseDir,
		now:      time.Now,
	}, nil
}

// Plan creates and persists a recovery plan restoring domains to their
// state at target. An empty domains list selects every file domain.
func (p *Planner) Plan(ctx context.Context, target time.Time, domains []string) (*catalog.Plan, error) {
	const op = "recovery.Plan"

	sel, err := p.registry.ResolveNames(domains)
	if err != nil {
		return nil, err
	}

	b, err := p.store.LatestVerifiedAtOrBefore(ctx, target)
	if err != nil {
		return nil, err
	}
	if b == nil {
		logging.Warn().Time("target", target).Msg("No verified backup at or before recovery target")
		return nil, apperr.NoSuitableBackup(op)
	}

	now := p.now().UTC()
	score := RiskScore(now.Sub(target), sel.Domains())
	steps := BuildSteps(b, sel.Names())

	dataLoss := now.Sub(target) > dataLossWindow
	if !dataLoss {
		dataLoss = p.modifiedSince(ctx, sel.Domains(), b.CreatedAt)
	}

	plan := &catalog.Plan{
		ID:                catalog.NewPlanID(now),
		Description:       fmt.Sprintf("Recover %s to %s", strings.Join(sel.Names(), ", "), target.UTC().Format(time.RFC3339)),
		TargetTimestamp:   target.UTC(),
		BackupID:          b.ID,
		Steps:             steps,
		EstimatedDuration: EstimateDuration(steps),
		RiskScore:         score,
		RiskLevel:         RiskLevelFor(score),
		AffectedDomains:   sel.Names(),
		DataLossRisk:      dataLoss,
		Status:            catalog.StatusPlanned,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := p.store.InsertPlan(ctx, plan); err != nil {
		return nil, err
	}
	metrics.RecordRecoveryPlan(string(catalog.StatusPlanned))

	logging.Info().
		Str("plan_id", plan.ID).
		Str("backup_id", b.ID).
		Strs("domains", plan.AffectedDomains).
		Str("risk_level", string(plan.RiskLevel)).
		Dur("estimated_duration", plan.EstimatedDuration).
		Bool("data_loss_risk", plan.DataLossRisk).
		Msg("Recovery plan created")
	return plan, nil
}

// Get returns one plan or a NotFound error.
func (p *Planner) Get(ctx context.Context, id string) (*catalog.Plan, error) {
	return p.store.GetPlan(ctx, id)
}

// List returns plans newest first.
func (p *Planner) List(ctx context.Context, limit int) ([]*catalog.Plan, error) {
	return p.store.ListPlans(ctx, limit)
}

// RiskScore scores a rollback of the given distance over the given domains.
func RiskScore(distance time.Duration, domains []domain.Domain) int {
	score := 0
	switch days := int(distance / (24 * time.Hour)); {
	case days > 30:
		score += 2
	case days > 7:
		score++
	}

	var high, elevated bool
	for _, d := range domains {
		switch d.Sensitivity {
		case domain.SensitivityHigh:
			high = true
		case domain.SensitivityElevated:
			elevated = true
		}
	}
	if high {
		score += 2
	}
	if elevated {
		score++
	}
	return score
}

// RiskLevelFor maps a risk score to its level.
func RiskLevelFor(score int) catalog.RiskLevel {
	switch {
	case score >= 4:
		return catalog.RiskHigh
	case score >= 2:
		return catalog.RiskMedium
	default:
		return catalog.RiskLow
	}
}

// BuildSteps returns the recovery step template for a backup and scope.
func BuildSteps(b *catalog.Backup, domains []string) []catalog.Step {
	scope := strings.Join(domains, ",")
	return []catalog.Step{
		{
			Type:        catalog.StepBackup,
			Description: "Create pre-recovery backup",
			Action:      catalog.ActionCreateBackup,
			Params:      map[string]string{ParamKind: string(catalog.KindFull), ParamDescription: "Pre-recovery backup"},
		},
		{
			Type:        catalog.StepService,
			Description: "Pause dependent services",
			Action:      catalog.ActionStopServices,
		},
		{
			Type:        catalog.StepRestore,
			Description: "Restore from backup " + b.ID,
			Action:      catalog.ActionRestoreBackup,
			Params:      map[string]string{ParamBackupID: b.ID, ParamScope: scope},
		},
		{
			Type:        catalog.StepVerification,
			Description: "Verify system integrity",
			Action:      catalog.ActionVerifySystem,
			Params:      map[string]string{ParamBackupID: b.ID, ParamScope: scope},
		},
		{
			Type:        catalog.StepService,
			Description: "Resume dependent services",
			Action:      catalog.ActionStartServices,
		},
	}
}

// EstimateDuration sums the per-type step durations.
func EstimateDuration(steps []catalog.Step) time.Duration {
	var total time.Duration
	for _, s := range steps {
		d, ok := stepDurations[s.Type]
		if !ok {
			d = defaultStepDuration
		}
		total += d
	}
	return total
}

// modifiedSince reports whether any file under the domains changed after t.
// Scan errors are logged and treated as no change.
func (p *Planner) modifiedSince(ctx context.Context, domains []domain.Domain, t time.Time) bool {
	errFound := errors.New("modified")
	for _, d := range domains {
		root := filepath.Join(p.baseDir, filepath.FromSlash(d.Root))
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if errors.Is(walkErr, fs.ErrNotExist) {
					return nil
				}
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			info, err := entry.Info()
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}
			if info.ModTime().After(t) {
				return errFound
			}
			return nil
		})
		if errors.Is(err, errFound) {
			return true
		}
		if err != nil {
			logging.Warn().Err(err).Str("domain", d.Name).Msg("Failed to scan domain for changes")
		}
	}
	return false
}
