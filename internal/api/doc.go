// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package api is the HTTP surface of the sync engine, routed with chi.

# Routes

Webhook ingress and progress:

	POST   /webhooks/{connectionID}
	GET    /ws/progress?scope=sync|mapping|connection&id=...

Operator endpoints under /api/v1:

	GET    /syncs                                         in-flight runs
	DELETE /syncs/{syncID}                                cancel a run
	POST   /connections/{id}/sync?mode=full|incremental   start a batch run
	GET    /connections/{id}/log                          sync log
	POST   /connections/{id}/records/inbound/{entity}/{externalID}
	POST   /connections/{id}/records/outbound/{type}/{id}
	POST   /connections/{id}/mappings/{mappingID}/sync
	POST   /connections/{id}/mappings/{mappingID}/relationships/sync
	GET    /connections/{id}/mappings/{mappingID}/duplicates

Health and metrics:

	GET    /health, /health/live, /health/ready
	GET    /metrics

Batch runs start in the background and answer 202; single-record runs
answer with their result. Every JSON response uses the APIResponse
envelope.

# Middleware

Request id, real IP, panic recovery, Prometheus instrumentation, access
logging and CORS apply to every route. Everything except health and
metrics is rate limited per client IP with httprate.

# Security

Webhook authenticity is the connection's signing secret, checked by the
orchestrator. Operator endpoints carry no authentication; deploy them
behind a trusted network boundary.
*/
package api
