// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package validation

import (
	"strings"
	"testing"
)

type scheduleRequest struct {
	Name string `validate:"required,domainname"`
	Cron string `validate:"required,cron"`
	Path string `validate:"omitempty,relpath"`
	Kind string `validate:"omitempty,oneof=full incremental differential"`
}

func TestGetValidator_Singleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator() should return the same instance")
	}
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		input     scheduleRequest
		wantTags  []string
		wantValid bool
	}{
		{
			name:      "valid",
			input:     scheduleRequest{Name: "documents", Cron: "0 */6 * * *", Path: "vault/notes", Kind: "full"},
			wantValid: true,
		},
		{
			name:     "bad cron",
			input:    scheduleRequest{Name: "documents", Cron: "every day"},
			wantTags: []string{"cron"},
		},
		{
			name:     "uppercase domain",
			input:    scheduleRequest{Name: "Documents", Cron: "0 2 * * *"},
			wantTags: []string{"domainname"},
		},
		{
			name:     "escaping path and bad kind",
			input:    scheduleRequest{Name: "logs", Cron: "0 2 * * *", Path: "../etc", Kind: "weekly"},
			wantTags: []string{"relpath", "oneof"},
		},
		{
			name:     "missing required",
			input:    scheduleRequest{},
			wantTags: []string{"required", "required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if tt.wantValid {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if len(err.Fields) != len(tt.wantTags) {
				t.Fatalf("got %d field errors, want %d: %v", len(err.Fields), len(tt.wantTags), err)
			}
			for i, tag := range tt.wantTags {
				if err.Fields[i].Tag != tag {
					t.Errorf("field %d tag = %q, want %q", i, err.Fields[i].Tag, tag)
				}
			}
		})
	}
}

func TestIsRelPath(t *testing.T) {
	cases := map[string]bool{
		"vault":        true,
		"vault/a.md":   true,
		"a/../b":       true,
		"":             false,
		"/etc/passwd":  false,
		"..":           false,
		"../x":         false,
		"a/../../x":    false,
		".":            false,
		`win\path.txt`: false,
	}
	for in, want := range cases {
		if got := IsRelPath(in); got != want {
			t.Errorf("IsRelPath(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestToAPIError(t *testing.T) {
	err := ValidateStruct(&scheduleRequest{Name: "docs", Cron: "nope"})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "cron expression") {
		t.Errorf("Message = %q", apiErr.Message)
	}
}
