// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package services adapts crmsync's long-running components to
suture.Service so the supervisor tree can start, restart and stop them.

  - SchedulerService: the orchestrator's polling scheduler (Start/Stop)
  - WebSocketHubService: the progress WebSocket hub (RunWithContext)
  - HTTPServerService: the webhook and operator API server
  - BadgerGCService: value-log garbage collection for a Badger directory

Each adapter blocks in Serve until its context ends and returns
ctx.Err() on a clean stop, so suture can tell shutdown from failure.
*/
package services
