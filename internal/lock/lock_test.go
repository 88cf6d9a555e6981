// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func lockers(t *testing.T) map[string]Locker {
	t.Helper()
	bl, err := OpenBadgerLocker(t.TempDir())
	if err != nil {
		t.Fatalf("open badger locker: %v", err)
	}
	t.Cleanup(func() { _ = bl.Close() })
	return map[string]Locker{
		"memory": NewMemoryLocker(),
		"badger": bl,
	}
}

func TestLocker_MutualExclusion(t *testing.T) {
	t.Parallel()

	for name, l := range lockers(t) {
		l := l
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := ConnectionKey("c1")

			lease, err := l.Acquire(ctx, key, time.Minute)
			if err != nil {
				t.Fatalf("first acquire: %v", err)
			}
			if _, err := l.Acquire(ctx, key, time.Minute); !errors.Is(err, ErrLocked) {
				t.Fatalf("expected ErrLocked, got %v", err)
			}
			if _, err := l.Acquire(ctx, ConnectionKey("c2"), time.Minute); err != nil {
				t.Errorf("expected other key to be free, got %v", err)
			}
			if err := lease.Refresh(ctx); err != nil {
				t.Errorf("refresh: %v", err)
			}
			if err := lease.Release(ctx); err != nil {
				t.Fatalf("release: %v", err)
			}
			if err := lease.Release(ctx); err != nil {
				t.Errorf("expected double release to be harmless, got %v", err)
			}
			again, err := l.Acquire(ctx, key, time.Minute)
			if err != nil {
				t.Fatalf("expected reacquire after release, got %v", err)
			}
			if err := lease.Refresh(ctx); !errors.Is(err, ErrLeaseLost) {
				t.Errorf("expected stale lease refresh to fail with ErrLeaseLost, got %v", err)
			}
			_ = again.Release(ctx)
		})
	}
}

func TestLocker_ConcurrentAcquireHasOneWinner(t *testing.T) {
	t.Parallel()

	for name, l := range lockers(t) {
		l := l
		t.Run(name, func(t *testing.T) {
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := l.Acquire(context.Background(), "race", time.Minute); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			if wins.Load() != 1 {
				t.Errorf("expected exactly one winner, got %d", wins.Load())
			}
		})
	}
}

func TestMemoryLocker_Expiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker()
	l.SetClock(func() time.Time { return now })

	lease, err := l.Acquire(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(2 * time.Minute)

	if _, err := l.Acquire(context.Background(), "k", time.Minute); err != nil {
		t.Errorf("expected expired lease to be reclaimable, got %v", err)
	}
	if err := lease.Refresh(context.Background()); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("expected ErrLeaseLost, got %v", err)
	}
}

func TestBadgerLocker_Expiry(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a badger TTL")
	}
	t.Parallel()

	l, err := OpenBadgerLocker(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	if _, err := l.Acquire(context.Background(), "k", time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(2100 * time.Millisecond)
	if _, err := l.Acquire(context.Background(), "k", time.Second); err != nil {
		t.Errorf("expected expired key to be reclaimable, got %v", err)
	}
}

func TestHold_RefreshesUntilReleased(t *testing.T) {
	t.Parallel()

	l := NewMemoryLocker()
	held, err := Hold(context.Background(), l, "held", 60*time.Millisecond)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if _, err := l.Acquire(context.Background(), "held", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected refreshed lease to still be held, got %v", err)
	}
	select {
	case <-held.Lost():
		t.Fatal("expected a refreshed lease not to be reported lost")
	default:
	}

	held.Release()
	held.Release()
	if _, err := l.Acquire(context.Background(), "held", time.Minute); err != nil {
		t.Errorf("expected lock to be free after release, got %v", err)
	}

	if _, err := Hold(context.Background(), l, "held", time.Minute); !errors.Is(err, ErrLocked) {
		t.Errorf("expected Hold on a held key to fail with ErrLocked, got %v", err)
	}
}

func TestHold_ReportsLostLease(t *testing.T) {
	t.Parallel()

	l := NewMemoryLocker()
	key := ConnectionKey("c1")
	held, err := Hold(context.Background(), l, key, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	// The lease expires before the next refresh and another holder takes it.
	l.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	if _, err := l.Acquire(context.Background(), key, time.Hour); err != nil {
		t.Fatalf("expected expired key to be taken over, got %v", err)
	}

	select {
	case <-held.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("expected Lost to be closed once the lease was taken over")
	}

	held.Release()
	if _, err := l.Acquire(context.Background(), key, time.Minute); !errors.Is(err, ErrLocked) {
		t.Errorf("expected releasing a lost lease to leave the new holder alone, got %v", err)
	}
}
