// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

package sync

import (
	"context"
	"sync"
)

// pool runs record work on at most size goroutines.
type pool struct {
	ctx context.Context
	sem chan struct{}
	wg  sync.WaitGroup
}

func newPool(ctx context.Context, size int) *pool {
	if size < 1 {
		size = 1
	}
	return &pool{ctx: ctx, sem: make(chan struct{}, size)}
}

// Go runs fn once a slot is free. It returns false without running fn when
// ctx is done first.
func (p *pool) Go(fn func()) bool {
	select {
	case p.sem <- struct{}{}:
	case <-p.ctx.Done():
		return false
	}
	if p.ctx.Err() != nil {
		<-p.sem
		return false
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
	return true
}

// Wait blocks until every started fn has returned.
func (p *pool) Wait() {
	p.wg.Wait()
}
