// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layout

import (
	"fmt"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
)

// blocked holds the shape and strides common to the four fractal formats:
//
//	shape  = (rowsInFractal, fractalsInRows, colsInFractal, fractalsInCols)
//	stride = (inner row stride, fractal-row stride, inner column stride, fractal-column stride)
//
// plus the logical (original) shape the layout describes.
type blocked struct {
	org    coord.MatrixCoord
	shape  [4]int
	stride [4]int
}

func (l blocked) Shape(i int) int             { return l.shape[i] }
func (l blocked) Stride(i int) int            { return l.stride[i] }
func (l blocked) OrgShape() coord.MatrixCoord { return l.org }

// FractalShape returns the (rows, columns) of one fractal.
func (l blocked) FractalShape() coord.MatrixCoord {
	return coord.MakeMatrixCoord(l.shape[0], l.shape[2])
}

// Offset of the (row, column) coordinate.
func (l blocked) Offset(c coord.MatrixCoord) int {
	return c.Row/l.shape[0]*l.stride[1] + c.Column/l.shape[2]*l.stride[3] +
		(c.Row%l.shape[0])*l.stride[0] + (c.Column%l.shape[2])*l.stride[2]
}

// Span implements Matrix: one past the offset of the last element of the last fractal.
func (l blocked) Span() int {
	for _, s := range l.shape {
		if s == 0 {
			return 0
		}
	}
	span := 1
	for i, s := range l.shape {
		span += (s - 1) * l.stride[i]
	}
	return span
}

func (l blocked) tile(tile coord.MatrixCoord) blocked {
	return blocked{
		org: tile,
		shape: [4]int{
			l.shape[0], coord.CeilDiv(tile.Row, l.shape[0]),
			l.shape[2], coord.CeilDiv(tile.Column, l.shape[2]),
		},
		stride: l.stride,
	}
}

func (l blocked) format(name string) string {
	return fmt.Sprintf("%s(org=%s, shape=%v, stride=%v)", name, l.org, l.shape, l.stride)
}

func newBlocked(org coord.MatrixCoord, shape, stride [4]int) blocked {
	for i := range shape {
		if shape[i] < 0 || stride[i] < 0 {
			panicf("invalid blocked layout shape=%v, stride=%v", shape, stride)
		}
	}
	if shape[0] == 0 || shape[2] == 0 {
		panicf("invalid blocked layout with empty fractal: shape=%v", shape)
	}
	return blocked{org: org, shape: shape, stride: stride}
}

// ZN is the blocked format with row-major fractals of (16 x C0) ordered column-major.
// It is the scratchpad (L1) format for row-major operands.
type ZN struct{ blocked }

// NewZN creates a ZN layout from explicit shape and strides.
func NewZN(org coord.MatrixCoord, shape, stride [4]int) ZN {
	return ZN{newBlocked(org, shape, stride)}
}

// MakeZN returns the dense ZN layout of a rows x cols matrix of dtype: rows are padded to 16 and columns to C0.
func MakeZN(dtype dtypes.DType, rows, cols int) ZN {
	c0 := ElementsPerC0(dtype)
	rowsRound := coord.RoundUp(rows, arch.C0NumPerFractal)
	colsRound := coord.RoundUp(cols, c0)
	return NewZN(coord.MakeMatrixCoord(rows, cols),
		[4]int{arch.C0NumPerFractal, rowsRound / arch.C0NumPerFractal, c0, colsRound / c0},
		[4]int{c0, ElementsPerFractal(dtype), 1, rowsRound * c0})
}

// MakeZNInL0C returns the accumulator (L0C) layout of a matrix: fractals of 16 x 16 elements, for
// both the 32-bit float and int accumulators.
func MakeZNInL0C(shape coord.MatrixCoord) ZN {
	const c0 = arch.C0NumPerFractal
	return NewZN(shape,
		[4]int{c0, coord.CeilDiv(shape.Row, c0), c0, coord.CeilDiv(shape.Column, c0)},
		[4]int{c0, c0 * c0, 1, coord.RoundUp(shape.Row, c0) * c0})
}

func (l ZN) Kind() Kind { return KindZN }

// TileLayout returns the layout of a tile: same strides, shape in fractals recomputed for the tile.
func (l ZN) TileLayout(tile coord.MatrixCoord) ZN { return ZN{l.tile(tile)} }

func (l ZN) String() string { return l.format("zN") }

// NZ is the blocked format with column-major fractals of (C0 x 16) ordered row-major.
// It is the format of the B operand in the operand buffer (L0B), and of column-major operands in L1.
type NZ struct{ blocked }

// NewNZ creates a NZ layout from explicit shape and strides.
func NewNZ(org coord.MatrixCoord, shape, stride [4]int) NZ {
	return NZ{newBlocked(org, shape, stride)}
}

// MakeNZ returns the dense NZ layout of a rows x cols matrix of dtype: rows are padded to C0 and columns to 16.
func MakeNZ(dtype dtypes.DType, rows, cols int) NZ {
	c0 := ElementsPerC0(dtype)
	rowsRound := coord.RoundUp(rows, c0)
	colsRound := coord.RoundUp(cols, arch.C0NumPerFractal)
	return NewNZ(coord.MakeMatrixCoord(rows, cols),
		[4]int{c0, rowsRound / c0, arch.C0NumPerFractal, colsRound / arch.C0NumPerFractal},
		[4]int{1, colsRound * c0, c0, ElementsPerFractal(dtype)})
}

func (l NZ) Kind() Kind                           { return KindNZ }
func (l NZ) TileLayout(tile coord.MatrixCoord) NZ { return NZ{l.tile(tile)} }
func (l NZ) String() string                       { return l.format("nZ") }

// ZZ is the blocked format with row-major fractals of (16 x C0) ordered row-major.
// It is the format of the A operand in the operand buffer (L0A).
type ZZ struct{ blocked }

// NewZZ creates a ZZ layout from explicit shape and strides.
func NewZZ(org coord.MatrixCoord, shape, stride [4]int) ZZ {
	return ZZ{newBlocked(org, shape, stride)}
}

// MakeZZ returns the dense ZZ layout of a rows x cols matrix of dtype.
func MakeZZ(dtype dtypes.DType, rows, cols int) ZZ {
	c0 := ElementsPerC0(dtype)
	rowsRound := coord.RoundUp(rows, arch.C0NumPerFractal)
	colsRound := coord.RoundUp(cols, c0)
	return NewZZ(coord.MakeMatrixCoord(rows, cols),
		[4]int{arch.C0NumPerFractal, rowsRound / arch.C0NumPerFractal, c0, colsRound / c0},
		[4]int{c0, colsRound * arch.C0NumPerFractal, 1, ElementsPerFractal(dtype)})
}

func (l ZZ) Kind() Kind                           { return KindZZ }
func (l ZZ) TileLayout(tile coord.MatrixCoord) ZZ { return ZZ{l.tile(tile)} }
func (l ZZ) String() string                       { return l.format("zZ") }

// NN is the blocked format with column-major fractals of (C0 x 16) ordered column-major.
type NN struct{ blocked }

// NewNN creates a NN layout from explicit shape and strides.
func NewNN(org coord.MatrixCoord, shape, stride [4]int) NN {
	return NN{newBlocked(org, shape, stride)}
}

// MakeNN returns the dense NN layout of a rows x cols matrix of dtype.
func MakeNN(dtype dtypes.DType, rows, cols int) NN {
	c0 := ElementsPerC0(dtype)
	rowsRound := coord.RoundUp(rows, c0)
	colsRound := coord.RoundUp(cols, arch.C0NumPerFractal)
	return NewNN(coord.MakeMatrixCoord(rows, cols),
		[4]int{c0, rowsRound / c0, arch.C0NumPerFractal, colsRound / arch.C0NumPerFractal},
		[4]int{1, ElementsPerFractal(dtype), c0, rowsRound * arch.C0NumPerFractal})
}

func (l NN) Kind() Kind                           { return KindNN }
func (l NN) TileLayout(tile coord.MatrixCoord) NN { return NN{l.tile(tile)} }
func (l NN) String() string                       { return l.format("nN") }
