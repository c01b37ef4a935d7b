// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package services

import (
	"context"
	"time"

	"github.com/tomtom215/timecapsule/internal/logging"
)

// DefaultGCInterval is how often the state store reclaims value log space.
const DefaultGCInterval = 10 * time.Minute

// GarbageCollector is satisfied by *statestore.Store.
type GarbageCollector interface {
	RunGC() error
}

// StateGCService periodically runs value log GC on the state store. GC
// failures are logged and do not stop the service.
type StateGCService struct {
	gc       GarbageCollector
	interval time.Duration
}

// NewStateGCService creates the service. A non-positive interval uses
// DefaultGCInterval.
func NewStateGCService(gc GarbageCollector, interval time.Duration) *StateGCService {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return &StateGCService{gc: gc, interval: interval}
}

// Serve implements suture.Service.
func (s *StateGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.gc.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("State store GC failed")
			}
		}
	}
}

// String implements fmt.Stringer.
func (s *StateGCService) String() string {
	return "state-gc"
}
