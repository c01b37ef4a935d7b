// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package statestore

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// PrefixState is a snapshot state domain covering every key under a prefix.
// Its blob is a JSON object of prefix-relative keys to base64 values; an
// empty prefix serializes to an empty blob.
type PrefixState struct {
	name   string
	prefix string
	store  *Store
}

// Domain returns the state domain for prefix.
func (s *Store) Domain(name, prefix string) *PrefixState {
	return &PrefixState{name: name, prefix: prefix, store: s}
}

// Name implements domain.StateDomain.
func (p *PrefixState) Name() string { return p.name }

// Serialize implements domain.StateDomain.
func (p *PrefixState) Serialize(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := p.store.Scan(p.prefix)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return []byte{}, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode state %s: %w", p.name, err)
	}
	return data, nil
}

// Deserialize implements domain.StateDomain, replacing the whole prefix.
func (p *PrefixState) Deserialize(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	values := map[string][]byte{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("decode state %s: %w", p.name, err)
		}
	}
	return p.store.Replace(p.prefix, values)
}
