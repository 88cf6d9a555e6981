// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package supervisor runs crmsync's long-lived services under a suture v4
supervisor tree.

# Layout

	RootSupervisor ("crmsync")
	├── "storage-layer"
	│   └── BadgerGCService (one per open Badger directory)
	├── "sync-layer"
	│   └── SchedulerService (polls connections that are due)
	└── "api-layer"
	    ├── WebSocketHubService
	    └── HTTPServerService

A service that returns is restarted with backoff once FailureThreshold
failures accumulate faster than FailureDecay forgives them. Failures are
counted per layer.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddSyncService(services.NewSchedulerService(orchestrator))
	tree.AddAPIService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("Supervisor tree stopped")
	}

Supervisor events (service panics, restarts, backoff) are logged through
the slog logger bridged onto zerolog.
*/
package supervisor
