// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package domain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileState is a StateDomain backed by one small file, such as the
// constitution document. An absent file serializes to an empty blob and an
// empty blob deserializes to an absent file.
type FileState struct {
	name string
	path string
}

// NewFileState returns a file-backed state domain.
func NewFileState(name, path string) *FileState {
	return &FileState{name: name, path: path}
}

// Name implements StateDomain.
func (f *FileState) Name() string { return f.name }

// Serialize implements StateDomain.
//
//nolint:gosec // G304: path comes from configuration
func (f *FileState) Serialize(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", f.name, err)
	}
	return data, nil
}

// Deserialize implements StateDomain. The file is replaced atomically.
func (f *FileState) Deserialize(_ context.Context, data []byte) error {
	if len(data) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove state %s: %w", f.name, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("create state dir for %s: %w", f.name, err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write state %s: %w", f.name, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state %s: %w", f.name, err)
	}
	return nil
}
