// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide slice helpers for the host side of the kernels: filling inputs, surrounding
// tensors with sentinels and comparing results with tolerances.
package xslices

import (
	"math"
	"runtime"
	"sync"

	"golang.org/x/exp/constraints"
)

// FillSlice with fill the slice with the given value.
func FillSlice[T any](slice []T, value T) {
	// Apparently, the fastest way is by using copy.
	if len(slice) == 0 {
		return
	}
	slice[0] = value
	filled := 1
	for ; filled < len(slice); filled *= 2 {
		copy(slice[filled:], slice[:filled])
	}
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// ParallelFor calls fn(ii) for every ii in [0, n) with at most `runtime.NumCPU` goroutines.
// The execution order is not guaranteed.
func ParallelFor(n int, fn func(ii int)) {
	if n <= 1 {
		for ii := 0; ii < n; ii++ {
			fn(ii)
		}
		return
	}
	goroutines := min(runtime.NumCPU(), n)
	indices := make(chan int, goroutines)
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			for ii := range indices {
				fn(ii)
			}
			wg.Done()
		}()
	}
	for ii := 0; ii < n; ii++ {
		indices <- ii
	}
	close(indices)
	wg.Wait()
}

// Padded returns a slice of size+2*margin elements filled with sentinel, and the view of its size elements
// in the middle. Writes outside the view can be detected with SentinelsIntact.
func Padded[T any](size, margin int, sentinel T) (full, view []T) {
	full = make([]T, size+2*margin)
	FillSlice(full, sentinel)
	view = full[margin : margin+size : margin+size]
	return
}

// SentinelsIntact returns whether the margins of a slice created by Padded still hold the sentinel.
// It returns the index (in full) of the first modified element otherwise.
func SentinelsIntact[T comparable](full []T, margin int, sentinel T) (ok bool, index int) {
	for ii := 0; ii < margin; ii++ {
		if full[ii] != sentinel {
			return false, ii
		}
		if jj := len(full) - 1 - ii; full[jj] != sentinel {
			return false, jj
		}
	}
	return true, -1
}

// AllClose returns whether |got[ii]-want[ii]| <= atol + rtol*|want[ii]| for every element, and otherwise
// the index of the worst offending element. NaN never compares close.
func AllClose[T constraints.Float](got, want []T, atol, rtol float64) (ok bool, worst int) {
	if len(got) != len(want) {
		return false, min(len(got), len(want))
	}
	worst = -1
	var worstExcess float64
	for ii := range got {
		g, w := float64(got[ii]), float64(want[ii])
		diff := math.Abs(g - w)
		tolerance := atol + rtol*math.Abs(w)
		if math.IsNaN(diff) {
			return false, ii
		}
		if excess := diff - tolerance; excess > 0 && (worst < 0 || excess > worstExcess) {
			worst, worstExcess = ii, excess
		}
	}
	return worst < 0, worst
}

// MaxAbsDiff returns the largest absolute difference between got and want, over their common length.
func MaxAbsDiff[T constraints.Float](got, want []T) float64 {
	var maxDiff float64
	for ii := range min(len(got), len(want)) {
		maxDiff = math.Max(maxDiff, math.Abs(float64(got[ii])-float64(want[ii])))
	}
	return maxDiff
}
