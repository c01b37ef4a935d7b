// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package catalog

import (
	"fmt"
	"time"
)

// Kind labels a backup. Every backup is a full copy regardless of kind.
type Kind string

const (
	KindFull         Kind = "full"
	KindIncremental  Kind = "incremental"
	KindDifferential Kind = "differential"
)

// ParseKind validates a kind label. An empty string means full.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindFull:
		return KindFull, nil
	case KindIncremental, KindDifferential:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown backup kind %q", s)
	}
}

// VerificationStatus is the last integrity check result for a backup.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// Status is the lifecycle state shared by restores and recovery plans.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPlanned    Status = "planned"
	StatusExecuting  Status = "executing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
	StatusPlanned:    {StatusExecuting, StatusFailed},
	StatusExecuting:  {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a restore or plan may move from one status to
// another. Completed and failed are terminal.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Backup is one catalogued archive.
type Backup struct {
	ID                 string             `json:"id"`
	CreatedAt          time.Time          `json:"created_at"`
	Kind               Kind               `json:"kind"`
	Description        string             `json:"description"`
	Manifest           []string           `json:"manifest"`
	RawSize            int64              `json:"raw_size"`
	CompressedSize     int64              `json:"compressed_size"`
	Counters           map[string]int64   `json:"counters"`
	Checksum           string             `json:"checksum"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	Tags               []string           `json:"tags"`
	RetentionDays      int                `json:"retention_days"`
	ArchivePath        string             `json:"archive_path"`
}

// AgeDays is the whole number of days between CreatedAt and now.
func (b *Backup) AgeDays(now time.Time) int {
	return int(now.Sub(b.CreatedAt) / (24 * time.Hour))
}

// Expired reports whether the backup is older than its retention window.
func (b *Backup) Expired(now time.Time) bool {
	return b.AgeDays(now) > b.RetentionDays
}

// Restore records one restore operation.
type Restore struct {
	ID          string          `json:"id"`
	BackupID    string          `json:"backup_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Scope       map[string]bool `json:"scope"`
	Status      Status          `json:"status"`
	Progress    int             `json:"progress"`
	Error       string          `json:"error,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// SnapshotFormatVersion is written into every new snapshot.
const SnapshotFormatVersion = 1

// Snapshot is a composite capture of small-state blobs.
type Snapshot struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	Description string            `json:"description"`
	Version     int               `json:"version"`
	Blobs       map[string][]byte `json:"blobs"`
	Counters    map[string]int64  `json:"counters"`
	Tags        []string          `json:"tags"`
}

// StepType groups plan steps for duration estimates.
type StepType string

const (
	StepBackup       StepType = "backup"
	StepService      StepType = "service"
	StepRestore      StepType = "restore"
	StepVerification StepType = "verification"
)

// Step actions understood by the recovery executor.
const (
	ActionCreateBackup  = "create_backup"
	ActionStopServices  = "stop_services"
	ActionRestoreBackup = "restore_backup"
	ActionVerifySystem  = "verify_system"
	ActionStartServices = "start_services"
)

// Step is one immutable plan step.
type Step struct {
	Type        StepType          `json:"type"`
	Description string            `json:"description"`
	Action      string            `json:"action"`
	Params      map[string]string `json:"params,omitempty"`
}

// RiskLevel summarizes a plan's risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Plan is a recovery plan and its execution state.
type Plan struct {
	ID                string        `json:"id"`
	Description       string        `json:"description"`
	TargetTimestamp   time.Time     `json:"target_timestamp"`
	BackupID          string        `json:"backup_id"`
	Steps             []Step        `json:"steps"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	RiskLevel         RiskLevel     `json:"risk_level"`
	RiskScore         int           `json:"risk_score"`
	AffectedDomains   []string      `json:"affected_domains"`
	DataLossRisk      bool          `json:"data_loss_risk"`
	Status            Status        `json:"status"`
	CurrentStep       int           `json:"current_step"`
	Progress          int           `json:"progress"`
	Error             string        `json:"error,omitempty"`
	PreSnapshotID     string        `json:"pre_snapshot_id,omitempty"`
	PostSnapshotID    string        `json:"post_snapshot_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// ListOptions filters ListBackups.
type ListOptions struct {
	Kind         Kind
	VerifiedOnly bool
	Limit        int // <= 0 means unlimited
}

// Stats aggregates the backup catalog.
type Stats struct {
	TotalCount          int            `json:"total_count"`
	TotalRawBytes       int64          `json:"total_raw_bytes"`
	TotalCompressed     int64          `json:"total_compressed_bytes"`
	CountByKind         map[Kind]int   `json:"count_by_kind"`
	CountByVerification map[string]int `json:"count_by_verification"`
	Oldest              *time.Time     `json:"oldest,omitempty"`
	Newest              *time.Time     `json:"newest,omitempty"`
}
