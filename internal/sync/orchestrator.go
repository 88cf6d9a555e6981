// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/crmsync/internal/entity"
	"github.com/tomtom215/crmsync/internal/ledger"
	"github.com/tomtom215/crmsync/internal/lock"
	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/mapping"
	"github.com/tomtom215/crmsync/internal/metrics"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/progress"
	"github.com/tomtom215/crmsync/internal/provider"
)

const (
	defaultConcurrency     = 4
	defaultMaxResultErrors = 100
	defaultLockTTL         = 2 * time.Minute
	defaultLockWait        = 5 * time.Second
	defaultSchedulerTick   = 30 * time.Second
	lockRetryInterval      = 100 * time.Millisecond
)

// Deps are the collaborators an Orchestrator works against. Progress is
// optional; everything else is required.
type Deps struct {
	Mappings  mapping.Store
	Ledger    ledger.Store
	SyncLog   ledger.SyncLog
	Entities  entity.Store
	Registry  *entity.Registry
	Providers *provider.Registry
	Locker    lock.Locker
	Progress  *progress.Broadcaster
}

// Options tune an Orchestrator. Zero values take defaults.
type Options struct {
	// Concurrency bounds the records processed in parallel within a run.
	Concurrency int

	// MaxResultErrors caps Result.Errors.
	MaxResultErrors int

	// LockTTL is the lease length of the per-connection lock.
	LockTTL time.Duration

	// LockWait is how long single-record and webhook runs wait for a busy
	// connection before reporting it busy. Batch runs never wait.
	LockWait time.Duration

	// SchedulerTick is how often the scheduler looks for due connections.
	SchedulerTick time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.MaxResultErrors <= 0 {
		o.MaxResultErrors = defaultMaxResultErrors
	}
	if o.LockTTL <= 0 {
		o.LockTTL = defaultLockTTL
	}
	if o.LockWait < 0 {
		o.LockWait = 0
	} else if o.LockWait == 0 {
		o.LockWait = defaultLockWait
	}
	if o.SchedulerTick <= 0 {
		o.SchedulerTick = defaultSchedulerTick
	}
	return o
}

// Orchestrator runs sync passes between the internal model and external CRMs.
type Orchestrator struct {
	deps    Deps
	opts    Options
	records *ledger.KeyedMutex
	now     func() time.Time

	runsMu sync.Mutex
	runs   map[string]*run

	// Scheduler lifecycle.
	mu          sync.RWMutex
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
	lastAttempt map[string]time.Time
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Mappings == nil:
		return nil, errors.New("sync: mapping store is required")
	case deps.Ledger == nil:
		return nil, errors.New("sync: ledger store is required")
	case deps.SyncLog == nil:
		return nil, errors.New("sync: sync log is required")
	case deps.Entities == nil:
		return nil, errors.New("sync: entity store is required")
	case deps.Providers == nil:
		return nil, errors.New("sync: provider registry is required")
	case deps.Locker == nil:
		return nil, errors.New("sync: locker is required")
	}
	if deps.Registry == nil {
		deps.Registry = entity.NewRegistry()
	}

	return &Orchestrator{
		deps:        deps,
		opts:        opts.withDefaults(),
		records:     ledger.NewKeyedMutex(),
		now:         time.Now,
		runs:        make(map[string]*run),
		stopChan:    make(chan struct{}),
		lastAttempt: make(map[string]time.Time),
	}, nil
}

// run is the state of one sync pass.
type run struct {
	id           string
	mode         models.SyncMode
	connectionID string
	startedAt    time.Time

	// ctx is cancelled by Cancel; work is the context per-record calls use,
	// so records already started finish after a cancel.
	ctx    context.Context
	work   context.Context
	cancel context.CancelFunc

	snap *mapping.Snapshot
	conn *models.Connection
	prov provider.Provider

	res   *Result
	tally *tally

	mu        sync.Mutex
	state     models.RunState
	mappingID string
	current   int
	total     int
	failure   *RunError
	locked    bool
	conflicts map[string]struct{}
}

func (r *run) setState(state models.RunState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

func (r *run) enterMapping(id string, total int) {
	r.mu.Lock()
	r.mappingID = id
	r.current = 0
	r.total = total
	r.mu.Unlock()
}

// switchMapping moves to another mapping without resetting the counters,
// for runs whose records span mappings.
func (r *run) switchMapping(id string) {
	r.mu.Lock()
	r.mappingID = id
	r.mu.Unlock()
}

// discovered adds one streamed record to the mapping total.
func (r *run) discovered() {
	r.mu.Lock()
	r.total++
	r.mu.Unlock()
}

// abort stops the run with a connection-level failure.
func (r *run) abort(err *RunError) {
	r.mu.Lock()
	if r.failure == nil {
		r.failure = err
	}
	r.mu.Unlock()
	r.cancel()
}

// loseLock stops the run after its connection lease was lost. The
// connection row now belongs to whoever holds the lock, so the run no
// longer records its outcome there.
func (r *run) loseLock() {
	r.mu.Lock()
	if r.failure == nil {
		r.failure = newRunError(KindBusy, "connection lock lease was lost during the sync",
			fmt.Errorf("%w: %w", ErrConnectionBusy, lock.ErrLeaseLost))
	}
	r.locked = false
	r.mu.Unlock()
	r.cancel()
}

func (r *run) holdsLock() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

// interrupted returns the failure that stopped the run early, if any.
func (r *run) interrupted() *RunError {
	r.mu.Lock()
	failure := r.failure
	r.mu.Unlock()
	if failure != nil {
		return failure
	}
	if err := r.ctx.Err(); err != nil {
		return newRunError(KindCancelled, "sync cancelled", err)
	}
	return nil
}

func (r *run) markConflict(key string) {
	r.mu.Lock()
	r.conflicts[key] = struct{}{}
	r.mu.Unlock()
}

func (r *run) conflicted(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conflicts[key]
	return ok
}

func (r *run) status() RunStatus {
	processed, _, failed := r.tally.counts()
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunStatus{
		SyncID:       r.id,
		ConnectionID: r.connectionID,
		Mode:         r.mode,
		State:        r.state,
		Processed:    processed,
		Failed:       failed,
		StartedAt:    r.startedAt,
	}
}

// execute drives one run through its lifecycle. body runs with the
// connection locked, the mapping snapshot loaded and validated and the
// provider authenticated.
func (o *Orchestrator) execute(ctx context.Context, mode models.SyncMode, connectionID string, wait bool, body func(r *run) *RunError) *Result {
	r := o.begin(ctx, mode, connectionID)
	defer o.end(r)

	held, rerr := o.acquire(r, wait)
	if rerr != nil {
		return o.finish(r, rerr)
	}
	defer held.Release()
	go func() {
		select {
		case <-held.Lost():
			logging.Ctx(r.ctx).Warn().Msg("Connection lock lease lost, stopping sync")
			r.loseLock()
		case <-r.ctx.Done():
		}
	}()

	if rerr := o.prepare(r); rerr != nil {
		return o.finish(r, rerr)
	}
	return o.finish(r, body(r))
}

func (o *Orchestrator) begin(parent context.Context, mode models.SyncMode, connectionID string) *run {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(logging.ContextWithSync(parent, id, connectionID))
	started := o.now()

	r := &run{
		id:           id,
		mode:         mode,
		connectionID: connectionID,
		startedAt:    started,
		ctx:          ctx,
		work:         context.WithoutCancel(ctx),
		cancel:       cancel,
		state:        models.StateIdle,
		conflicts:    make(map[string]struct{}),
		res: &Result{
			SyncID:       id,
			ConnectionID: connectionID,
			Mode:         mode,
			State:        models.StateIdle,
			StartedAt:    started,
		},
	}
	r.tally = newTally(r.res, o.opts.MaxResultErrors)

	o.runsMu.Lock()
	o.runs[id] = r
	o.runsMu.Unlock()
	metrics.SyncActiveRuns.Inc()

	logging.Ctx(ctx).Info().Str("mode", string(mode)).Msg("Sync started")
	return r
}

func (o *Orchestrator) end(r *run) {
	r.cancel()
	o.runsMu.Lock()
	delete(o.runs, r.id)
	o.runsMu.Unlock()
	metrics.SyncActiveRuns.Dec()
}

// acquire takes the connection lock. When wait is set it retries until
// Options.LockWait has elapsed.
func (o *Orchestrator) acquire(r *run, wait bool) (*lock.Held, *RunError) {
	key := lock.ConnectionKey(r.connectionID)
	deadline := time.Now().Add(o.opts.LockWait)

	for {
		held, err := lock.Hold(r.ctx, o.deps.Locker, key, o.opts.LockTTL)
		if err == nil {
			r.mu.Lock()
			r.locked = true
			r.mu.Unlock()
			return held, nil
		}
		if !errors.Is(err, lock.ErrLocked) {
			return nil, newRunError(KindPersistence, "acquire connection lock", err)
		}
		if !wait || !time.Now().Before(deadline) {
			return nil, newRunError(KindBusy,
				fmt.Sprintf("connection %s already has a sync in progress", r.connectionID),
				fmt.Errorf("%w: %w", ErrConnectionBusy, err))
		}

		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return nil, newRunError(KindCancelled, "sync cancelled while waiting for the connection", r.ctx.Err())
		case <-timer.C:
		}
	}
}

// prepare loads and validates configuration and authenticates the provider.
func (o *Orchestrator) prepare(r *run) *RunError {
	snap, err := mapping.Load(r.ctx, o.deps.Mappings, r.connectionID)
	if err != nil {
		return toRunError("load mapping configuration", err)
	}
	r.snap = snap
	r.conn = &snap.Connection

	if !r.conn.Enabled {
		return newRunError(KindValidation, fmt.Sprintf("connection %s is disabled", r.connectionID), mapping.ErrInvalidConfig)
	}
	if err := mapping.Validate(snap, o.deps.Registry, o.deps.Providers); err != nil {
		return newRunError(KindValidation, "mapping configuration is invalid", err)
	}

	r.setState(models.StateAuthenticating)
	o.publish(r, "Authenticating")

	prov, err := o.deps.Providers.Resolve(r.conn.Provider)
	if err != nil {
		return newRunError(KindValidation, "resolve provider", err)
	}
	if err := provider.CheckConnection(r.ctx, prov, r.conn); err != nil {
		switch {
		case r.ctx.Err() != nil:
			return newRunError(KindCancelled, "sync cancelled", r.ctx.Err())
		case provider.IsCircuitOpen(err):
			return newRunError(KindProvider, "provider is unreachable", err)
		case errors.Is(err, provider.ErrAuthentication):
			return newRunError(KindAuthentication, "connection credentials were rejected", err)
		}
		return toRunError("validate connection", err)
	}
	r.prov = prov
	return nil
}

// finish settles the terminal state, stores the connection outcome and
// reports the run.
func (o *Orchestrator) finish(r *run, rerr *RunError) *Result {
	if rerr == nil {
		rerr = r.interrupted()
	}

	state := models.StateCompleted
	switch {
	case rerr == nil:
	case rerr.Kind == KindCancelled:
		state = models.StateCancelled
	default:
		state = models.StateFailed
	}
	r.setState(state)

	res := r.res
	res.State = state
	res.ConnectionError = rerr
	res.FinishedAt = o.now()
	res.Success = state == models.StateCompleted && res.Failed == 0
	if rerr != nil && len(res.Errors) < o.opts.MaxResultErrors {
		res.Errors = append(res.Errors, rerr.Error())
	}

	o.recordConnection(r, state, rerr)

	duration := res.FinishedAt.Sub(res.StartedAt)
	metrics.RecordSyncRun(string(r.mode), string(state), duration)
	if state == models.StateCompleted {
		metrics.SyncLastSuccess.WithLabelValues(r.connectionID).Set(float64(res.FinishedAt.Unix()))
	}

	msg := "Sync " + string(state)
	if rerr != nil {
		msg += ": " + rerr.Message
	}
	o.publish(r, msg)

	var event *zerolog.Event
	if state == models.StateFailed {
		event = logging.Ctx(r.ctx).Warn().Str("error_kind", string(rerr.Kind)).Err(rerr)
	} else {
		event = logging.Ctx(r.ctx).Info()
	}
	event.
		Str("mode", string(r.mode)).
		Str("state", string(state)).
		Int("processed", res.TotalProcessed).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("conflicts", res.Conflicts).
		Dur("duration", duration).
		Msg("Sync finished")

	return res
}

// recordConnection stores the run outcome on the connection. Single-record
// runs leave the connection alone; only full and incremental passes move
// the watermark, and only when they completed.
func (o *Orchestrator) recordConnection(r *run, state models.RunState, rerr *RunError) {
	if !r.holdsLock() || r.snap == nil {
		return
	}
	switch r.mode {
	case models.ModeOutboundRecord, models.ModeInboundRecord:
		return
	}

	var watermark *time.Time
	if state == models.StateCompleted && (r.mode == models.ModeFull || r.mode == models.ModeIncremental) {
		started := r.startedAt
		watermark = &started
	}
	var syncErr string
	if rerr != nil {
		syncErr = rerr.Error()
	}
	if err := o.deps.Mappings.RecordSyncResult(r.work, r.connectionID, watermark, syncErr); err != nil {
		logging.Ctx(r.ctx).Error().Err(err).Msg("Failed to record sync result on connection")
	}
}

func (o *Orchestrator) publish(r *run, message string) {
	if o.deps.Progress == nil {
		return
	}
	_, succeeded, failed := r.tally.counts()

	r.mu.Lock()
	ev := progress.Event{
		SyncID:          r.id,
		ConnectionID:    r.connectionID,
		EntityMappingID: r.mappingID,
		Mode:            r.mode,
		State:           r.state,
		Current:         r.current,
		Total:           r.total,
		Percent:         progress.Percentage(r.current, r.total),
		Succeeded:       succeeded,
		Failed:          failed,
		Message:         message,
	}
	r.mu.Unlock()

	if ev.State == models.StateCompleted {
		ev.Percent = 100
	}
	if err := o.deps.Progress.Publish(r.work, ev); err != nil {
		logging.Ctx(r.ctx).Debug().Err(err).Msg("Failed to publish progress")
	}
}

// Cancel stops the run with the given sync id. Records already in flight
// finish; no new records start. It reports whether the run was found.
func (o *Orchestrator) Cancel(syncID string) bool {
	o.runsMu.Lock()
	r, ok := o.runs[syncID]
	o.runsMu.Unlock()
	if !ok {
		return false
	}
	logging.Ctx(r.ctx).Info().Msg("Sync cancellation requested")
	r.cancel()
	return true
}

// ActiveRuns lists the runs in progress in this process, oldest first.
func (o *Orchestrator) ActiveRuns() []RunStatus {
	o.runsMu.Lock()
	runs := make([]*run, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	o.runsMu.Unlock()

	out := make([]RunStatus, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SyncID < out[j].SyncID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func requireIDs(ids ...string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty identifier", ErrInvalidArgument)
		}
	}
	return nil
}

// FullSync reads every external record and every internal record of each
// enabled entity mapping and reconciles them.
func (o *Orchestrator) FullSync(ctx context.Context, connectionID string) (*Result, error) {
	if err := requireIDs(connectionID); err != nil {
		return nil, err
	}
	return o.execute(ctx, models.ModeFull, connectionID, false, func(r *run) *RunError {
		return o.syncSets(r, r.snap.Enabled(), nil)
	}), nil
}

// IncrementalSync reconciles only records changed since the connection's
// watermark. A connection that has never synced is read in full.
func (o *Orchestrator) IncrementalSync(ctx context.Context, connectionID string) (*Result, error) {
	if err := requireIDs(connectionID); err != nil {
		return nil, err
	}
	return o.execute(ctx, models.ModeIncremental, connectionID, false, func(r *run) *RunError {
		return o.syncSets(r, r.snap.Enabled(), r.conn.LastSyncAt)
	}), nil
}

// SyncEntityMapping fully re-syncs one entity mapping.
func (o *Orchestrator) SyncEntityMapping(ctx context.Context, connectionID, mappingID string) (*Result, error) {
	if err := requireIDs(connectionID, mappingID); err != nil {
		return nil, err
	}
	return o.execute(ctx, models.ModeEntityMapping, connectionID, false, func(r *run) *RunError {
		set, rerr := enabledSet(r, mappingID)
		if rerr != nil {
			return rerr
		}
		return o.syncSets(r, []*mapping.Set{set}, nil)
	}), nil
}

func enabledSet(r *run, mappingID string) (*mapping.Set, *RunError) {
	set, ok := r.snap.Set(mappingID)
	if !ok || !set.Entity.Enabled {
		return nil, newRunError(KindValidation, fmt.Sprintf("entity mapping %s", mappingID), ErrMappingNotFound)
	}
	return set, nil
}

// syncSets pulls then pushes each set. A connection-level failure stops the
// pass.
func (o *Orchestrator) syncSets(r *run, sets []*mapping.Set, since *time.Time) *RunError {
	for _, set := range sets {
		if rerr := r.interrupted(); rerr != nil {
			return rerr
		}
		if allowsInbound(r.conn, &set.Entity) {
			if rerr := o.pull(r, set, since); rerr != nil {
				return rerr
			}
		}
		if allowsOutbound(r.conn, &set.Entity) {
			if rerr := o.push(r, set, since); rerr != nil {
				return rerr
			}
		}
	}
	return r.interrupted()
}

func allowsInbound(conn *models.Connection, em *models.EntityMapping) bool {
	return conn.Direction.AllowsInbound() && em.Direction.AllowsInbound()
}

func allowsOutbound(conn *models.Connection, em *models.EntityMapping) bool {
	return conn.Direction.AllowsOutbound() && em.Direction.AllowsOutbound()
}

// record stores the audit entry for one record and counts its outcome.
func (o *Orchestrator) record(r *run, entry *models.SyncLogEntry, out outcome) {
	entry.ID = uuid.NewString()
	entry.SyncID = r.id
	entry.ConnectionID = r.connectionID
	entry.Action = out.action
	entry.Status = out.status
	entry.ChangedFields = out.changed
	entry.CreatedAt = o.now()
	if out.err != nil {
		entry.Error = out.err.Error()
	}

	if err := o.deps.SyncLog.Append(r.work, entry); err != nil {
		logging.Ctx(r.ctx).Error().Err(err).Str("entity_mapping_id", entry.EntityMappingID).Msg("Failed to append sync log entry")
	}
	r.tally.add(out)
	metrics.RecordSyncRecord(string(entry.Direction), string(out.action), string(out.status))

	if out.status == models.StatusFailed {
		logging.Ctx(r.ctx).Warn().
			Err(out.err).
			Str("direction", string(entry.Direction)).
			Str("internal_id", entry.InternalID).
			Str("external_id", entry.ExternalID).
			Msg("Record sync failed")
	}

	if out.err != nil && provider.IsCircuitOpen(out.err) {
		r.abort(newRunError(KindProvider, "provider is unreachable", out.err))
	}

	r.mu.Lock()
	r.current++
	r.mu.Unlock()
	o.publish(r, "")
}

// guard runs one record's work, turning a panic into a failed outcome.
func (o *Orchestrator) guard(r *run, entry *models.SyncLogEntry, fn func() outcome) {
	out := func() (out outcome) {
		defer func() {
			if p := recover(); p != nil {
				logging.Ctx(r.ctx).Error().Interface("panic", p).Msg("Recovered panic while syncing record")
				out = outcome{action: models.ActionSkip, status: models.StatusFailed, err: fmt.Errorf("panic: %v", p)}
			}
		}()
		return fn()
	}()
	o.record(r, entry, out)
}

func failed(action models.SyncAction, err error) outcome {
	return outcome{action: action, status: models.StatusFailed, err: err}
}

func newEntry(set *mapping.Set, dir models.Direction) *models.SyncLogEntry {
	return &models.SyncLogEntry{
		EntityMappingID: set.Entity.ID,
		InternalType:    set.Entity.InternalType,
		ExternalEntity:  set.Entity.ExternalEntity,
		Direction:       dir,
	}
}
