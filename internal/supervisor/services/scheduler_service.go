// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package services

import (
	"context"
	"fmt"
)

// StartStopper is a component with its own background goroutines, such as
// *sync.Orchestrator's polling scheduler.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService runs the polling scheduler under a supervisor. Start
// spawns the loop and returns; Stop waits for the loop and for runs the
// scheduler started.
type SchedulerService struct {
	scheduler StartStopper
	name      string
}

// NewSchedulerService wraps s.
func NewSchedulerService(s StartStopper) *SchedulerService {
	return &SchedulerService{scheduler: s, name: "sync-scheduler"}
}

// Serve starts the scheduler, blocks until ctx ends, then stops it. A
// failing Start is returned so suture restarts the service with backoff.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()

	if err := s.scheduler.Stop(); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	return ctx.Err()
}

func (s *SchedulerService) String() string {
	return s.name
}
