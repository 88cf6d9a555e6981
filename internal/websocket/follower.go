// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package websocket

import (
	"context"

	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/progress"
)

// ProgressSource is the part of progress.Broadcaster a client follows.
type ProgressSource interface {
	Subscribe(ctx context.Context, scope progress.Scope, id string) (<-chan progress.Event, error)
	Latest(ctx context.Context, syncID string) (*progress.Event, error)
}

var _ ProgressSource = (*progress.Broadcaster)(nil)

// Follow subscribes client to its scope on src and forwards every event as a
// sync_progress message until the client is unregistered. The client must
// already be registered.
//
// Sync-scoped clients first receive the run's latest known event, so an
// observer that joins mid-run starts from the current state.
func (h *Hub) Follow(client *Client, src ProgressSource) error {
	scope, id := client.Scope()
	events, err := src.Subscribe(client.ctx, scope, id)
	if err != nil {
		return err
	}

	h.deliver(client, Message{
		Type: MessageTypeSubscribed,
		Data: SubscribedData{Scope: string(scope), ID: id},
	})

	if scope == progress.ScopeSync {
		latest, err := src.Latest(client.ctx, id)
		if err != nil {
			logging.Warn().Err(err).Str("sync_id", id).Msg("failed to load latest progress")
		} else if latest != nil {
			h.deliver(client, Message{Type: MessageTypeSyncProgress, Data: latest})
		}
	}

	go func() {
		for ev := range events {
			h.deliver(client, Message{Type: MessageTypeSyncProgress, Data: ev})
		}
	}()
	return nil
}
