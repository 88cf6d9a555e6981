// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Command server runs the crmsync engine: the webhook receiver, the polling
scheduler, the operator API and the progress WebSocket, backed by DuckDB.

# Startup order

 1. Configuration (Koanf v2: defaults, config.yaml, environment)
 2. Logging (zerolog)
 3. DuckDB store, with credentials sealed when CREDENTIAL_KEY is set
 4. NATS, when LOCK_BACKEND or PROGRESS_TRANSPORT is nats (embedded when
    NATS_EMBEDDED=true)
 5. Connection lock backend (memory, badger or nats)
 6. Progress broadcaster and its snapshot store
 7. Provider registry with per-connection rate limits and circuit breakers
 8. Sync orchestrator and duplicate detector
 9. WebSocket hub and HTTP router
 10. Supervisor tree

# Build tags

	go build ./cmd/server               # memory and badger backends
	go build -tags nats ./cmd/server    # adds the nats lock backend, the nats
	                                    # progress transport and embedded NATS

# Signals

SIGINT and SIGTERM cancel the root context. The HTTP server drains, the
scheduler stops after its in-flight runs, then the broadcaster, NATS, the
Badger directories and DuckDB are closed in that order.
*/
package main
