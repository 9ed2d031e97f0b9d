// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BoundedParallelism(t *testing.T) {
	pool := New(3)
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, int(maxRunning.Load()), 3)
	assert.Equal(t, 3, pool.MaxParallelism())
}

func TestPool_Inline(t *testing.T) {
	pool := New(0)
	var count int
	for range 5 {
		pool.WaitToStart(func() { count++ })
	}
	assert.Equal(t, 5, count)
}

func TestPool_Unlimited(t *testing.T) {
	pool := New(-1)
	require.True(t, pool.IsUnlimited())
	// All tasks wait for the last one: it only works if they all run at once.
	const numTasks = 10
	var arrived sync.WaitGroup
	arrived.Add(numTasks)
	var finished sync.WaitGroup
	finished.Add(numTasks)
	for range numTasks {
		pool.WaitToStart(func() {
			arrived.Done()
			arrived.Wait()
			finished.Done()
		})
	}
	finished.Wait()
}

func TestPool_Asleep(t *testing.T) {
	// With parallelism 1, the first task can only finish if a second one starts while it sleeps.
	pool := New(1)
	signal := make(chan struct{})
	var finished sync.WaitGroup
	finished.Add(2)
	pool.WaitToStart(func() {
		defer finished.Done()
		pool.WorkerIsAsleep()
		<-signal
		pool.WorkerRestarted()
	})
	pool.WaitToStart(func() {
		defer finished.Done()
		close(signal)
	})
	done := make(chan struct{})
	go func() {
		finished.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second task never started while the first one was asleep")
	}
}
