// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tla implements nested (hierarchical) layouts: a layout is a list of modes, each mode a
// shape-of-shapes with a matching stride-of-strides (depth 2).
//
// A coordinate maps to an offset by a fold-left over the modes (Crd2Offset): the coordinate of
// each mode is decomposed colexicographically over the mode's sub-shapes, and each sub-coordinate is
// multiplied by its stride. Blocked fractal formats are the natural fit: the row mode of a zN layout is
// (16, rows/16) with strides (C0, 512/sizeof), so row r lands in fractal r/16 at fractal row r%16.
//
// The package is the stride-unconstrained reference for the data-movement operators: Copy moves every
// element individually through Crd2Offset, with no descriptor or limit involved.
package tla

import (
	"fmt"
	"strings"

	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/pkg/errors"
)

// Mode is one dimension of a Layout: a flat shape and stride tuple of the same rank.
// The logical extent of the mode is the product of its shape.
type Mode struct {
	Shape  []int
	Stride []int
}

// M is a shortcut to build a Mode from shape and stride tuples.
func M(shape []int, stride []int) Mode {
	if len(shape) != len(stride) || len(shape) == 0 {
		panic(errors.Errorf("tla.M: shape %v and stride %v must have the same non-zero rank", shape, stride))
	}
	return Mode{Shape: shape, Stride: stride}
}

// S is a shortcut for a Mode with one sub-shape.
func S(shape, stride int) Mode {
	return Mode{Shape: []int{shape}, Stride: []int{stride}}
}

// Size is the logical extent of the mode.
func (m Mode) Size() int {
	size := 1
	for _, s := range m.Shape {
		size *= s
	}
	return size
}

// offset decomposes the mode coordinate x colexicographically; the last sub-mode absorbs the remainder.
func (m Mode) offset(x int) int {
	offset := 0
	last := len(m.Shape) - 1
	for i, s := range m.Shape {
		if i == last {
			offset += x * m.Stride[i]
			break
		}
		offset += (x % s) * m.Stride[i]
		x /= s
	}
	return offset
}

func (m Mode) String() string {
	if len(m.Shape) == 1 {
		return fmt.Sprintf("%d:%d", m.Shape[0], m.Stride[0])
	}
	return fmt.Sprintf("%v:%v", m.Shape, m.Stride)
}

// Layout is an immutable list of modes.
type Layout struct {
	modes []Mode
}

// MakeLayout creates a layout from its modes.
func MakeLayout(modes ...Mode) Layout {
	return Layout{modes: modes}
}

// Rank is the number of modes.
func (l Layout) Rank() int { return len(l.modes) }

// Mode returns the i-th mode.
func (l Layout) Mode(i int) Mode { return l.modes[i] }

// Shape returns the logical extent of the i-th mode.
func (l Layout) Shape(i int) int { return l.modes[i].Size() }

// Crd2Offset folds the coordinate over the modes. It panics if the coordinate rank differs from the layout rank.
func (l Layout) Crd2Offset(crd ...int) int {
	if len(crd) != len(l.modes) {
		panic(errors.Errorf("tla: coordinate of rank %d used with layout of rank %d", len(crd), len(l.modes)))
	}
	offset := 0
	for i, m := range l.modes {
		offset += m.offset(crd[i])
	}
	return offset
}

// Cosize is one past the largest offset addressed by the layout.
func (l Layout) Cosize() int {
	cosize := 1
	for _, m := range l.modes {
		for i, s := range m.Shape {
			if s == 0 {
				return 0
			}
			cosize += (s - 1) * m.Stride[i]
		}
	}
	return cosize
}

// TileLayout returns the layout of a tile of the given per-mode extents: strides are kept, the inner
// sub-shapes of each mode are kept, and the outer sub-shape is recomputed to cover the tile extent.
func (l Layout) TileLayout(extents ...int) Layout {
	if len(extents) != len(l.modes) {
		panic(errors.Errorf("tla: tile of rank %d used with layout of rank %d", len(extents), len(l.modes)))
	}
	modes := make([]Mode, len(l.modes))
	for i, m := range l.modes {
		shape := append([]int(nil), m.Shape...)
		inner := 1
		for _, s := range shape[:len(shape)-1] {
			inner *= s
		}
		shape[len(shape)-1] = coord.CeilDiv(extents[i], inner)
		modes[i] = Mode{Shape: shape, Stride: m.Stride}
	}
	return Layout{modes: modes}
}

func (l Layout) String() string {
	parts := make([]string, len(l.modes))
	for i, m := range l.modes {
		parts[i] = m.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

type blockedLayout interface {
	layout.Matrix
	Shape(i int) int
	Stride(i int) int
}

// FromMatrix converts any 2D layout of package layout to the equivalent nested layout, with the row mode
// first and the column mode second.
func FromMatrix(m layout.Matrix) Layout {
	switch l := m.(type) {
	case layout.RowMajor:
		return MakeLayout(S(l.Rows(), l.Ldm()), S(l.Cols(), 1))
	case layout.ColumnMajor:
		return MakeLayout(S(l.Rows(), 1), S(l.Cols(), l.Ldm()))
	case blockedLayout:
		return MakeLayout(
			M([]int{l.Shape(0), l.Shape(1)}, []int{l.Stride(0), l.Stride(1)}),
			M([]int{l.Shape(2), l.Shape(3)}, []int{l.Stride(2), l.Stride(3)}))
	}
	panic(errors.Errorf("tla.FromMatrix: unsupported layout %T", m))
}

// Copy moves the rows x cols logical region from src to dst element by element, addressing both
// through their nested layouts.
func Copy[T any](dst []T, dstLayout Layout, src []T, srcLayout Layout, rows, cols int) {
	for r := range rows {
		for c := range cols {
			dst[dstLayout.Crd2Offset(r, c)] = src[srcLayout.Crd2Offset(r, c)]
		}
	}
}
