// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements synchronization primitives used by the simulated pipes.
package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// DynamicWaitGroup counts outstanding operations, like sync.WaitGroup, but new operations may be added while
// someone is waiting: Wait returns whenever the count reaches zero.
//
// Pipes use it to count queued operations, so that barriers can wait for them to drain while the issuer
// may still be adding more from another goroutine.
type DynamicWaitGroup struct {
	mu    sync.Mutex
	cond  sync.Cond
	count int64
	total int64
}

// NewDynamicWaitGroup creates a new DynamicWaitGroup.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	g := &DynamicWaitGroup{}
	g.cond.L = &g.mu
	return g
}

// Add changes the counter by delta. It panics if the counter becomes negative.
func (g *DynamicWaitGroup) Add(delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count += int64(delta)
	if g.count < 0 {
		panic(errors.Errorf("DynamicWaitGroup: negative counter"))
	}
	if delta > 0 {
		g.total += int64(delta)
	}
	if g.count == 0 {
		g.cond.Broadcast()
	}
}

// Done decrements the counter by one.
func (g *DynamicWaitGroup) Done() {
	g.Add(-1)
}

// Count returns the number of outstanding operations.
func (g *DynamicWaitGroup) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Total returns the number of operations ever added.
func (g *DynamicWaitGroup) Total() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}

// Wait blocks until the counter is zero.
func (g *DynamicWaitGroup) Wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.count > 0 {
		g.cond.Wait()
	}
}
