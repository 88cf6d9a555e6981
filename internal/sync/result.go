// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"sync"
	"time"

	"github.com/tomtom215/crmsync/internal/models"
)

// Result is the outcome of one sync run.
type Result struct {
	SyncID       string          `json:"sync_id"`
	ConnectionID string          `json:"connection_id"`
	Mode         models.SyncMode `json:"mode"`
	State        models.RunState `json:"state"`
	Success      bool            `json:"success"`

	TotalProcessed int `json:"total_processed"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	Conflicts      int `json:"conflicts"`

	// Errors holds record-level failure messages, capped at
	// Options.MaxResultErrors.
	Errors []string `json:"errors,omitempty"`

	// ConnectionError is set when the run as a whole failed.
	ConnectionError *RunError `json:"connection_error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunStatus describes an in-flight run.
type RunStatus struct {
	SyncID       string          `json:"sync_id"`
	ConnectionID string          `json:"connection_id"`
	Mode         models.SyncMode `json:"mode"`
	State        models.RunState `json:"state"`
	Processed    int             `json:"processed"`
	Failed       int             `json:"failed"`
	StartedAt    time.Time       `json:"started_at"`
}

// outcome is what processing one record produced.
type outcome struct {
	action  models.SyncAction
	status  models.SyncStatus
	changed []string
	err     error
}

// tally accumulates record outcomes from concurrent workers.
type tally struct {
	mu        sync.Mutex
	maxErrors int
	res       *Result
}

func newTally(res *Result, maxErrors int) *tally {
	return &tally{res: res, maxErrors: maxErrors}
}

func (t *tally) add(o outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.res.TotalProcessed++
	switch o.status {
	case models.StatusFailed:
		t.res.Failed++
		if o.err != nil && len(t.res.Errors) < t.maxErrors {
			t.res.Errors = append(t.res.Errors, o.err.Error())
		}
	case models.StatusConflict:
		t.res.Conflicts++
	case models.StatusSkipped:
		t.res.Skipped++
	case models.StatusSuccess:
		switch o.action {
		case models.ActionCreate:
			t.res.Created++
		case models.ActionUpdate:
			t.res.Updated++
		}
	}
}

func (t *tally) counts() (processed, succeeded, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.res.TotalProcessed, t.res.Created + t.res.Updated, t.res.Failed
}
