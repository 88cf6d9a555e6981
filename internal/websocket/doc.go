// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
Package websocket streams sync progress to browser observers.

Each connection follows exactly one progress scope chosen at upgrade time:

	GET /ws/progress?scope=sync&id=<sync id>
	GET /ws/progress?scope=mapping&id=<entity mapping id>
	GET /ws/progress?scope=connection&id=<connection id>

# Components

  - Hub: tracks connected clients, broadcasts hub-wide messages and closes
    every client on shutdown. RunWithContext is supervised by suture.
  - Client: a gorilla/websocket connection with read and write pumps and
    keepalive pings.
  - Hub.Follow: bridges a progress.Broadcaster subscription into a client.

# Message Format

All messages are JSON:

	{"type": "subscribed",    "data": {"scope": "sync", "id": "..."}}
	{"type": "sync_progress", "data": {"sync_id": "...", "state": "running", "percent": 42.0, ...}}
	{"type": "pong"}

Clients may send {"type": "ping"} and receive a pong.

# Delivery

Delivery is best effort. A client whose buffer is full loses progress
messages but stays connected; the next event carries the full counters, so
nothing needs replaying. A sync-scoped client first receives the latest
known event of its run.

# Thread Safety

Hub methods are safe for concurrent use. A client's send channel is closed
only by the hub while holding its lock, and every send checks membership
under the same lock.
*/
package websocket
