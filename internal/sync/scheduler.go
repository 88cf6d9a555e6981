// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/models"
)

// Start launches the polling scheduler, which runs incremental passes for
// enabled connections whose poll interval has elapsed.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("sync scheduler is already running")
	}
	o.running = true
	o.stopChan = make(chan struct{})
	o.mu.Unlock()

	logging.Info().Dur("tick", o.opts.SchedulerTick).Msg("Starting sync scheduler...")

	o.wg.Add(1)
	go o.schedulerLoop(ctx)
	return nil
}

// Stop halts the scheduler and waits for passes it started to finish.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return fmt.Errorf("sync scheduler is not running")
	}
	o.running = false
	o.mu.Unlock()

	logging.Info().Msg("Stopping sync scheduler...")
	close(o.stopChan)
	o.wg.Wait()
	logging.Info().Msg("Sync scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler loop is active.
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

func (o *Orchestrator) schedulerLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.opts.SchedulerTick)
	defer ticker.Stop()

	o.mu.RLock()
	stop := o.stopChan
	o.mu.RUnlock()

	o.pollDue(ctx, stop)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			o.pollDue(ctx, stop)
		}
	}
}

// pollDue starts an incremental pass for every due connection and waits
// for them.
func (o *Orchestrator) pollDue(ctx context.Context, stop <-chan struct{}) {
	conns, err := o.deps.Mappings.ListConnections(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list connections for scheduling")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	done := make(chan struct{}, len(conns))
	started := 0
	for _, conn := range conns {
		if !o.due(conn) {
			continue
		}
		started++
		go func(id string) {
			defer func() { done <- struct{}{} }()
			res, err := o.IncrementalSync(runCtx, id)
			if err != nil {
				logging.Error().Err(err).Str("connection_id", id).Msg("Scheduled sync rejected")
				return
			}
			if res.ConnectionError != nil && res.ConnectionError.Kind == KindBusy {
				logging.Debug().Str("connection_id", id).Msg("Scheduled sync skipped; connection busy")
			}
		}(conn.ID)
	}
	for i := 0; i < started; i++ {
		<-done
	}
}

// due reports whether conn should be polled now and marks the attempt.
func (o *Orchestrator) due(conn *models.Connection) bool {
	if !conn.Enabled || conn.PollInterval <= 0 {
		return false
	}
	now := o.now()

	o.mu.Lock()
	defer o.mu.Unlock()

	last := o.lastAttempt[conn.ID]
	if conn.LastSyncAt != nil && conn.LastSyncAt.After(last) {
		last = *conn.LastSyncAt
	}
	if !last.IsZero() && now.Sub(last) < conn.PollInterval {
		return false
	}
	o.lastAttempt[conn.ID] = now
	return true
}
