// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

//go:build nats

package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSLocker keeps leases in a JetStream key-value bucket, so every process
// connected to the same NATS cluster shares them. The bucket's MaxAge is the
// lease TTL; the ttl passed to Acquire must not exceed it.
type NATSLocker struct {
	kv  jetstream.KeyValue
	ttl time.Duration
}

// NewNATSLocker creates or updates bucket with the given TTL.
func NewNATSLocker(ctx context.Context, nc *natsgo.Conn, bucket string, ttl time.Duration) (*NATSLocker, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "crmsync connection locks",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create lock bucket %s: %w", bucket, err)
	}
	return &NATSLocker{kv: kv, ttl: ttl}, nil
}

func (n *NATSLocker) Backend() string { return "nats" }

func (n *NATSLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if ttl > n.ttl {
		return nil, fmt.Errorf("lock ttl %s exceeds bucket ttl %s", ttl, n.ttl)
	}
	owner := newOwner()
	k := natsKey(key)
	rev, err := n.kv.Create(ctx, k, []byte(owner))
	if errors.Is(err, jetstream.ErrKeyExists) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return &natsLease{kv: n.kv, key: k, owner: owner, revision: rev}, nil
}

// natsKey maps a lock key onto the KV key alphabet.
func natsKey(key string) string {
	out := []byte(key)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '=', c == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

type natsLease struct {
	kv       jetstream.KeyValue
	key      string
	owner    string
	revision uint64
}

func (l *natsLease) Refresh(ctx context.Context) error {
	rev, err := l.kv.Update(ctx, l.key, []byte(l.owner), l.revision)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLeaseLost, err)
	}
	l.revision = rev
	return nil
}

func (l *natsLease) Release(ctx context.Context) error {
	err := l.kv.Delete(ctx, l.key, jetstream.LastRevision(l.revision))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		// A revision mismatch means someone else holds it now.
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) {
			return nil
		}
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
