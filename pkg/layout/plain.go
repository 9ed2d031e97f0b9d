// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layout

import (
	"fmt"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
)

// RowMajor layout: element (r, c) is at r*ldm + c.
type RowMajor struct {
	shape  [2]int
	stride [2]int
}

// NewRowMajor creates a densely packed RowMajor layout (ldm = cols).
func NewRowMajor(rows, cols int) RowMajor {
	return NewRowMajorLd(rows, cols, cols)
}

// NewRowMajorLd creates a RowMajor layout with the given leading dimension (row stride).
func NewRowMajorLd(rows, cols, ldm int) RowMajor {
	if rows < 0 || cols < 0 || ldm < 0 {
		panicf("invalid RowMajor(%d, %d, ldm=%d)", rows, cols, ldm)
	}
	return RowMajor{shape: [2]int{rows, cols}, stride: [2]int{ldm, 1}}
}

// RowMajorInUb creates the layout of a tile of the given shape in the vector buffer: rows are
// padded to a multiple of 32 bytes, so every row starts block-aligned.
func RowMajorInUb(dtype dtypes.DType, shape coord.MatrixCoord) RowMajor {
	return NewRowMajorLd(shape.Row, shape.Column, coord.RoundUp(shape.Column, ElementsPerC0(dtype)))
}

func (l RowMajor) Kind() Kind                  { return KindRowMajor }
func (l RowMajor) Shape(i int) int             { return l.shape[i] }
func (l RowMajor) Stride(i int) int            { return l.stride[i] }
func (l RowMajor) Rows() int                   { return l.shape[0] }
func (l RowMajor) Cols() int                   { return l.shape[1] }
func (l RowMajor) Ldm() int                    { return l.stride[0] }
func (l RowMajor) OrgShape() coord.MatrixCoord { return coord.MakeMatrixCoord(l.shape[0], l.shape[1]) }

// Offset of the (row, column) coordinate.
func (l RowMajor) Offset(c coord.MatrixCoord) int {
	return c.Row*l.stride[0] + c.Column
}

// TileLayout returns the layout of a tile: same stride, new shape.
func (l RowMajor) TileLayout(tile coord.MatrixCoord) RowMajor {
	return RowMajor{shape: [2]int{tile.Row, tile.Column}, stride: l.stride}
}

// Span implements Matrix.
func (l RowMajor) Span() int {
	if l.shape[0] == 0 || l.shape[1] == 0 {
		return 0
	}
	return (l.shape[0]-1)*l.stride[0] + l.shape[1]
}

// IsContiguous returns whether the rows are packed back to back.
func (l RowMajor) IsContiguous() bool {
	return l.shape[0] <= 1 || l.stride[0] == l.shape[1]
}

func (l RowMajor) String() string {
	return fmt.Sprintf("RowMajor(%d, %d, ldm=%d)", l.shape[0], l.shape[1], l.stride[0])
}

// ColumnMajor layout: element (r, c) is at r + c*ldm.
type ColumnMajor struct {
	shape  [2]int
	stride [2]int
}

// NewColumnMajor creates a densely packed ColumnMajor layout (ldm = rows).
func NewColumnMajor(rows, cols int) ColumnMajor {
	return NewColumnMajorLd(rows, cols, rows)
}

// NewColumnMajorLd creates a ColumnMajor layout with the given leading dimension (column stride).
func NewColumnMajorLd(rows, cols, ldm int) ColumnMajor {
	if rows < 0 || cols < 0 || ldm < 0 {
		panicf("invalid ColumnMajor(%d, %d, ldm=%d)", rows, cols, ldm)
	}
	return ColumnMajor{shape: [2]int{rows, cols}, stride: [2]int{1, ldm}}
}

func (l ColumnMajor) Kind() Kind                  { return KindColumnMajor }
func (l ColumnMajor) Shape(i int) int             { return l.shape[i] }
func (l ColumnMajor) Stride(i int) int            { return l.stride[i] }
func (l ColumnMajor) Rows() int                   { return l.shape[0] }
func (l ColumnMajor) Cols() int                   { return l.shape[1] }
func (l ColumnMajor) Ldm() int                    { return l.stride[1] }
func (l ColumnMajor) OrgShape() coord.MatrixCoord { return coord.MakeMatrixCoord(l.Rows(), l.Cols()) }

// Offset of the (row, column) coordinate.
func (l ColumnMajor) Offset(c coord.MatrixCoord) int {
	return c.Row + c.Column*l.stride[1]
}

// TileLayout returns the layout of a tile: same stride, new shape.
func (l ColumnMajor) TileLayout(tile coord.MatrixCoord) ColumnMajor {
	return ColumnMajor{shape: [2]int{tile.Row, tile.Column}, stride: l.stride}
}

// Span implements Matrix.
func (l ColumnMajor) Span() int {
	if l.shape[0] == 0 || l.shape[1] == 0 {
		return 0
	}
	return (l.shape[1]-1)*l.stride[1] + l.shape[0]
}

// Transposed returns the RowMajor view of the transposed matrix, which shares the same memory.
func (l ColumnMajor) Transposed() RowMajor {
	return NewRowMajorLd(l.shape[1], l.shape[0], l.stride[1])
}

func (l ColumnMajor) String() string {
	return fmt.Sprintf("ColumnMajor(%d, %d, ldm=%d)", l.shape[0], l.shape[1], l.stride[1])
}

// Vector is the layout of a 1D tensor with a stride.
type Vector struct {
	length int
	stride int
}

// NewVector creates a dense vector layout.
func NewVector(length int) Vector {
	return Vector{length: length, stride: 1}
}

// VectorInUb returns the layout of a vector tile in the vector buffer, with its length padded to 32 bytes.
func VectorInUb(dtype dtypes.DType, length int) Vector {
	return Vector{length: coord.RoundUp(length, ElementsPerC0(dtype)), stride: 1}
}

func (l Vector) Kind() Kind       { return KindVector }
func (l Vector) Len() int         { return l.length }
func (l Vector) Stride() int      { return l.stride }
func (l Vector) Offset(i int) int { return i * l.stride }

// TileLayout returns the layout of a sub-vector of the given length.
func (l Vector) TileLayout(length int) Vector {
	return Vector{length: length, stride: l.stride}
}

// Span returns the number of elements addressed by the vector.
func (l Vector) Span() int {
	if l.length == 0 {
		return 0
	}
	return (l.length-1)*l.stride + 1
}

func (l Vector) String() string {
	return fmt.Sprintf("Vector(%d)", l.length)
}

// isBlkAligned returns whether n elements of dtype fill whole 32-byte blocks.
func isBlkAligned(dtype dtypes.DType, n int) bool {
	return (n*dtype.Size())%arch.BytePerBlk == 0
}

// IsRowBlkAligned returns whether every row of the layout starts and ends at a 32-byte boundary, which
// allows whole-block DataCopy transfers.
func (l RowMajor) IsRowBlkAligned(dtype dtypes.DType) bool {
	return isBlkAligned(dtype, l.shape[1]) && isBlkAligned(dtype, l.stride[0])
}
