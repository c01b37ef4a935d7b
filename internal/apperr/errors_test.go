// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"not found", NotFound("get", "backup", "bk-1"), KindNotFound},
		{"validation", Validation("plan", "bad scope %q", "x"), KindValidation},
		{"integrity", Integrity("verify", "checksum mismatch"), KindIntegrity},
		{"io", IO("create", fs.ErrPermission), KindIOFailure},
		{"partial", Partial("execute", 2, 5, errors.New("boom")), KindPartialFailure},
		{"wrapped", fmt.Errorf("outer: %w", NotFound("get", "plan", "p")), KindNotFound},
		{"plain error", errors.New("plain"), KindIOFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNoSuitableBackupIs(t *testing.T) {
	err := fmt.Errorf("plan: %w", NoSuitableBackup("recovery.Plan"))
	if !errors.Is(err, ErrNoSuitableBackup) {
		t.Fatal("expected errors.Is to match ErrNoSuitableBackup")
	}
	if !IsKind(err, KindValidation) {
		t.Error("no suitable backup should be a validation error")
	}
	if errors.Is(Validation("x", "other"), ErrNoSuitableBackup) {
		t.Error("unrelated validation error must not match the sentinel")
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := IO("archive", fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("IO error should unwrap to its cause")
	}
	want := "archive: i/o failure: file does not exist"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestPartialMessage(t *testing.T) {
	err := Partial("recovery.Execute", 3, 5, errors.New("restore failed"))
	want := "recovery.Execute: failed after 3 of 5 steps: restore failed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
