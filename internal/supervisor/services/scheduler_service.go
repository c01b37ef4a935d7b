// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package services

import (
	"context"
	"fmt"
)

// StartStopper is the lifecycle of *retention.Scheduler.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService adapts a Start/Stop component to suture's Serve:
// Start, block until cancellation, then Stop.
type SchedulerService struct {
	manager StartStopper
	name    string
}

// NewSchedulerService wraps manager under the given service name.
func NewSchedulerService(name string, manager StartStopper) *SchedulerService {
	return &SchedulerService{manager: manager, name: name}
}

// Serve implements suture.Service. A Start failure is returned so suture
// restarts the service with backoff.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *SchedulerService) String() string {
	return s.name
}
