// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/metrics"
)

// DefaultSubscriberBuffer is the per-subscriber event buffer.
const DefaultSubscriberBuffer = 64

// ErrInvalidScope is returned by Subscribe for unknown scopes or empty ids.
var ErrInvalidScope = errors.New("invalid progress scope")

// Broadcaster publishes progress events over a watermill transport and
// records the latest event of every run in a Store.
type Broadcaster struct {
	pub    message.Publisher
	sub    message.Subscriber
	store  Store
	buffer int
	now    func() time.Time
	closer func() error
}

// NewBroadcaster wires a broadcaster to an existing transport. store may be
// nil, in which case Latest always reports nothing.
func NewBroadcaster(pub message.Publisher, sub message.Subscriber, store Store) *Broadcaster {
	return &Broadcaster{
		pub:    pub,
		sub:    sub,
		store:  store,
		buffer: DefaultSubscriberBuffer,
		now:    time.Now,
	}
}

// NewInProcessBroadcaster uses a watermill gochannel transport, suitable for
// a single process.
func NewInProcessBroadcaster(store Store) *Broadcaster {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: DefaultSubscriberBuffer,
	}, logging.NewWatermillAdapter("progress"))
	b := NewBroadcaster(ch, ch, store)
	b.closer = ch.Close
	return b
}

// Close shuts down a transport created by the broadcaster.
func (b *Broadcaster) Close() error {
	if b.closer != nil {
		return b.closer()
	}
	return nil
}

// Publish stamps, stores and fans out ev. Failures are returned joined but
// never stop later topics from being published.
func (b *Broadcaster) Publish(ctx context.Context, ev Event) error {
	if ev.SyncID == "" {
		return fmt.Errorf("publish progress: empty sync id")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}

	var errs []error
	if b.store != nil {
		if err := b.store.Save(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("save progress: %w", err))
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	for _, topic := range ev.topics() {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set("sync_id", ev.SyncID)
		if err := b.pub.Publish(topic, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", topic, err))
		}
	}
	metrics.ProgressEventsPublished.Inc()
	return errors.Join(errs...)
}

// Subscribe follows every event published for scope and id until ctx is
// cancelled, when the returned channel is closed. Events that arrive while
// the channel buffer is full are dropped.
func (b *Broadcaster) Subscribe(ctx context.Context, scope Scope, id string) (<-chan Event, error) {
	if !scope.Valid() || id == "" {
		return nil, fmt.Errorf("%w: %q/%q", ErrInvalidScope, scope, id)
	}
	topic := Topic(scope, id)
	messages, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	out := make(chan Event, b.buffer)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			err := json.Unmarshal(msg.Payload, &ev)
			msg.Ack()
			if err != nil {
				logging.Warn().Err(err).Str("topic", topic).Msg("Discarding malformed progress event")
				continue
			}
			select {
			case out <- ev:
			default:
				metrics.ProgressEventsDropped.WithLabelValues(string(scope)).Inc()
			}
		}
	}()
	return out, nil
}

// Latest returns the most recent event of a run, or nil when none is known
// (never published, or expired).
func (b *Broadcaster) Latest(ctx context.Context, syncID string) (*Event, error) {
	if b.store == nil {
		return nil, nil
	}
	return b.store.Latest(ctx, syncID)
}
