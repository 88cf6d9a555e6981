// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

//go:build nats

package main

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/crmsync/internal/config"
	"github.com/tomtom215/crmsync/internal/lock"
	"github.com/tomtom215/crmsync/internal/models"
	"github.com/tomtom215/crmsync/internal/progress"
)

func TestInitNATS_Embedded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lock.Backend = config.LockBackendNATS
	cfg.Lock.Bucket = "crmsync-locks-test"
	cfg.Lock.NATSURL = "nats://127.0.0.1:1"
	cfg.Progress.Transport = config.ProgressTransportNATS
	cfg.Progress.NATSURL = "nats://127.0.0.1:1"
	cfg.NATS = config.NATSConfig{Embedded: true, Host: "127.0.0.1", Port: -1, StoreDir: t.TempDir()}

	nc, err := InitNATS(cfg)
	if err != nil {
		t.Fatalf("InitNATS: %v", err)
	}
	defer nc.Shutdown(context.Background())

	if got := nc.ClientURL("fallback"); got == "fallback" {
		t.Error("expected the embedded server URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	locker, err := initLocker(ctx, cfg, newBadgerDirs(), nc)
	if err != nil {
		t.Fatalf("initLocker: %v", err)
	}
	if locker.Backend() != "nats" {
		t.Errorf("expected nats backend, got %s", locker.Backend())
	}
	lease, err := locker.Acquire(ctx, lock.ConnectionKey("c1"), time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_ = lease.Release(ctx)

	bc, err := initProgress(cfg, newBadgerDirs(), nc)
	if err != nil {
		t.Fatalf("initProgress: %v", err)
	}
	defer bc.Close()

	events, err := bc.Subscribe(ctx, progress.ScopeConnection, "c1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Core NATS subscriptions are asynchronous; publish until one arrives.
	ev := progress.Event{SyncID: "s1", ConnectionID: "c1", State: models.StateCompleted}
	for {
		if err := bc.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case got := <-events:
			if got.SyncID != "s1" {
				t.Errorf("expected s1, got %s", got.SyncID)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no progress event over NATS")
		}
	}
}

func TestNATSComponents_NilSafe(t *testing.T) {
	t.Parallel()

	var nc *NATSComponents
	if got := nc.ClientURL("nats://x:4222"); got != "nats://x:4222" {
		t.Errorf("expected fallback, got %s", got)
	}
	nc.Shutdown(context.Background())
	if _, err := nc.NewLocker(context.Background(), testConfig(t)); err == nil {
		t.Error("expected an error from a nil NATSComponents")
	}
}
