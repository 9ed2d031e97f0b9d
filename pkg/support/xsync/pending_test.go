// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicWaitGroup(t *testing.T) {
	g := NewDynamicWaitGroup()
	g.Wait() // Zero: returns immediately.

	var executed atomic.Int32
	g.Add(1)
	go func() {
		// Adds more work before finishing the first one.
		for range 3 {
			g.Add(1)
			go func() {
				executed.Add(1)
				g.Done()
			}()
		}
		executed.Add(1)
		g.Done()
	}()
	g.Wait()
	assert.Equal(t, int32(4), executed.Load())
	assert.Equal(t, int64(0), g.Count())
	assert.Equal(t, int64(4), g.Total())

	require.Panics(t, func() { g.Done() })
}
