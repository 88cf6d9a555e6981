// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package sync orchestrates record synchronization between the internal entity
model and external CRMs.

An Orchestrator runs sync passes for one connection at a time. Each pass is
identified by a sync id that tags every log line, every sync log entry and
every progress event of the run.

Run Lifecycle:

	Idle → Authenticating → Fetching → Mapping → Upserting → Completed | Failed | Cancelled

 1. Lock: the per-connection lock (internal/lock) is acquired. Batch runs
    fail immediately when it is held; single-record and webhook runs wait up
    to Options.LockWait.
 2. Configure: the connection's mapping snapshot is loaded and validated. A
    configuration problem fails the run before any record is touched.
 3. Authenticate: the provider is resolved through the registry and asked to
    validate the connection's credentials.
 4. Sync: each enabled entity mapping is pulled (inbound) and then pushed
    (outbound), records running on a bounded worker pool.
 5. Record: full and incremental passes that completed move the connection's
    watermark to the run's start time.

Modes:

  - FullSync: every record of every enabled mapping
  - IncrementalSync: records changed since the watermark
  - SyncEntityMapping: one mapping, in full
  - SyncRelationships: relationship fields of already linked records
  - SyncOutboundRecord / SyncInboundRecord: a single record
  - HandleWebhook / HandleWebhookEvent: a single record announced by the CRM

Per-Record Rules:

The correspondence ledger decides create versus update. Updates send only the
fields that differ from the correspondence snapshot, the last known external
state of the record. An inbound record whose internal and external sides both
changed since the last sync is logged as a conflict and left untouched; an
unlinked external record whose identity key matches exactly one unlinked
internal record is linked to it instead of creating a duplicate.

Failures:

A record failure is logged, counted and never stops the batch. Failures of
the run as a whole (busy connection, bad configuration, rejected credentials,
an unreachable provider, cancellation) are reported in Result.ConnectionError
with a Kind from the error taxonomy in errors.go. Entry points return a Go
error only for malformed arguments.

Usage Example:

	orch, err := sync.New(sync.Deps{
	    Mappings:  db,
	    Ledger:    db,
	    SyncLog:   db,
	    Entities:  db,
	    Providers: providers,
	    Locker:    locker,
	    Progress:  broadcaster,
	}, sync.Options{Concurrency: 8})

	res, err := orch.IncrementalSync(ctx, "conn-1")
	if err != nil {
	    return err // malformed arguments only
	}
	if !res.Success {
	    log.Printf("sync %s: %d failed, connection error: %v", res.SyncID, res.Failed, res.ConnectionError)
	}

Thread Safety:

All Orchestrator methods are goroutine-safe. Ledger work on one internal
record is serialized with a keyed mutex; runs on one connection are
serialized by the connection lock.
*/
package sync
