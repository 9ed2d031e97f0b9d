// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs the AI cores of a launch with bounded parallelism.
package workerspool

import (
	"sync"
	"sync/atomic"
)

// Pool runs tasks in goroutines, at most maxParallelism at a time, plus one for every task currently asleep.
type Pool struct {
	// maxParallelism is the limit of tasks running at once: 0 runs tasks inline and -1 is unlimited.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning decreases or extraParallelism increases.
	numRunning     int

	// extraParallelism is temporarily increased when a task goes to sleep.
	extraParallelism atomic.Int32
}

// New returns a new Pool with the given parallelism.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the limit of tasks running at once.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// NumRunning returns the number of tasks started and not yet finished.
func (w *Pool) NumRunning() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRunning
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism+int(w.extraParallelism.Load())
}

// WaitToStart waits until there is a worker available, and runs task in a new goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished:
// tasks that wait on each other deadlock in that case.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if w.maxParallelism == 0 {
		task()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Broadcast()
		w.mu.Unlock()
	}()
}

// WorkerIsAsleep indicates the calling task is going to block waiting for other tasks, possibly not started yet,
// and temporarily increases the available number of workers.
//
// Call WorkerRestarted when the task is ready to run again.
func (w *Pool) WorkerIsAsleep() {
	w.extraParallelism.Add(1)
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

// WorkerRestarted indicates the calling task is running again. It should only be called after WorkerIsAsleep.
func (w *Pool) WorkerRestarted() {
	w.extraParallelism.Add(-1)
}
