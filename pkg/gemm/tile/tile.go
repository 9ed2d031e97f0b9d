// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tile implements the tile-level operators of the cube GEMM: the copies between the memory
// levels (GM -> L1 -> L0A/L0B, L0C -> GM, GM <-> UB), with the format conversions each hop requires,
// and TileMmad.
//
// The copies issue isa instructions on the pipes of the given core and return immediately: ordering
// against other pipes is the caller's job (see gemm/block).
//
// Descriptor fields are bounded (strides below arch.StrideLimit, counts up to arch.MaxBlockCount):
// every copy plans its descriptors with PlanTransfer, falling back to smaller or per-row transfers
// for large leading dimensions.
package tile

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/pkg/errors"
)

// panicf panics with an error: invalid layouts reaching a copy are bugs of the caller.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// SubMatrix returns the offset and the layout of the shape tile starting at origin in l.
//
// Tiles of padding layouts must start on a block boundary, tiles of blocked layouts on a fractal boundary.
func SubMatrix(l layout.Matrix, origin, shape coord.MatrixCoord) (int, layout.Matrix) {
	offset := l.Offset(origin)
	switch t := l.(type) {
	case layout.RowMajor:
		return offset, t.TileLayout(shape)
	case layout.ColumnMajor:
		return offset, t.TileLayout(shape)
	case layout.ZN:
		checkTileOrigin(t, t.FractalShape(), origin)
		return offset, t.TileLayout(shape)
	case layout.NZ:
		checkTileOrigin(t, t.FractalShape(), origin)
		return offset, t.TileLayout(shape)
	case layout.ZZ:
		checkTileOrigin(t, t.FractalShape(), origin)
		return offset, t.TileLayout(shape)
	case layout.NN:
		checkTileOrigin(t, t.FractalShape(), origin)
		return offset, t.TileLayout(shape)
	case layout.PaddingRowMajor:
		checkTileOrigin(t, t.BlockShape(), origin)
		return offset, t.TileLayout(shape)
	case layout.PaddingColumnMajor:
		checkTileOrigin(t, t.BlockShape(), origin)
		return offset, t.TileLayout(shape)
	}
	panicf("SubMatrix: layout %s has no tiles", l.Kind())
	return 0, nil
}

func checkTileOrigin(l layout.Matrix, block, origin coord.MatrixCoord) {
	if origin.Row%block.Row != 0 || origin.Column%block.Column != 0 {
		panicf("SubMatrix: tile origin %s of %s is not aligned to %s", origin, l, block)
	}
}

// MakeL1Layout returns the dense layout of a rows x cols tile of dtype in the given format.
func MakeL1Layout(kind layout.Kind, dtype dtypes.DType, rows, cols int) layout.Matrix {
	switch kind {
	case layout.KindZN:
		return layout.MakeZN(dtype, rows, cols)
	case layout.KindNZ:
		return layout.MakeNZ(dtype, rows, cols)
	case layout.KindZZ:
		return layout.MakeZZ(dtype, rows, cols)
	case layout.KindNN:
		return layout.MakeNN(dtype, rows, cols)
	case layout.KindRowMajor:
		return layout.RowMajorInUb(dtype, coord.MakeMatrixCoord(rows, cols))
	}
	panicf("MakeL1Layout: no L1 layout %s", kind)
	return nil
}

// TileCopy bundles the copies of one GEMM configuration: operands of type AB, accumulator C and output D,
// with A and B stored in L1 in the L1A and L1B formats (zN or nZ).
type TileCopy[AB, C, D dtypes.Supported] struct {
	L1A, L1B layout.Kind
	Quant    Quant
}

// NewTileCopy returns the TileCopy for operands stored in L1 with the given formats.
func NewTileCopy[AB, C, D dtypes.Supported](l1A, l1B layout.Kind, q Quant) TileCopy[AB, C, D] {
	for _, k := range []layout.Kind{l1A, l1B} {
		if k != layout.KindZN && k != layout.KindNZ {
			panicf("NewTileCopy: L1 operands must be zN or nZ, got %s", k)
		}
	}
	return TileCopy[AB, C, D]{L1A: l1A, L1B: l1B, Quant: q}
}

// L1ALayout is the layout of an m x k A tile in L1.
func (t TileCopy[AB, C, D]) L1ALayout(m, k int) layout.Matrix {
	return MakeL1Layout(t.L1A, dtypes.FromGenericsType[AB](), m, k)
}

// L1BLayout is the layout of a k x n B tile in L1.
func (t TileCopy[AB, C, D]) L1BLayout(k, n int) layout.Matrix {
	return MakeL1Layout(t.L1B, dtypes.FromGenericsType[AB](), k, n)
}

func (t TileCopy[AB, C, D]) L0ALayout(m, k int) layout.ZZ {
	return layout.MakeZZ(dtypes.FromGenericsType[AB](), m, k)
}

func (t TileCopy[AB, C, D]) L0BLayout(k, n int) layout.NZ {
	return layout.MakeNZ(dtypes.FromGenericsType[AB](), k, n)
}

func (t TileCopy[AB, C, D]) L0CLayout(m, n int) layout.ZN {
	return layout.MakeZNInL0C(coord.MakeMatrixCoord(m, n))
}

// CopyGmToL1A moves the A tile described by srcLayout to an L1 slot holding A tiles of l1Shape.
func (t TileCopy[AB, C, D]) CopyGmToL1A(core *arch.Core, dst arch.Tensor[AB], l1Shape coord.MatrixCoord,
	src arch.Tensor[AB], srcLayout layout.Matrix) {
	_, dstLayout := SubMatrix(t.L1ALayout(l1Shape.Row, l1Shape.Column), coord.MatrixCoord{}, srcLayout.OrgShape())
	CopyGmToL1(core, dst, dstLayout, src, srcLayout)
}

// CopyGmToL1B moves the B tile described by srcLayout to an L1 slot holding B tiles of l1Shape.
func (t TileCopy[AB, C, D]) CopyGmToL1B(core *arch.Core, dst arch.Tensor[AB], l1Shape coord.MatrixCoord,
	src arch.Tensor[AB], srcLayout layout.Matrix) {
	_, dstLayout := SubMatrix(t.L1BLayout(l1Shape.Row, l1Shape.Column), coord.MatrixCoord{}, srcLayout.OrgShape())
	CopyGmToL1(core, dst, dstLayout, src, srcLayout)
}

// CopyL1ToL0A loads the m x k slice starting at column kOffset of an L1 A tile of l1Shape.
func (t TileCopy[AB, C, D]) CopyL1ToL0A(core *arch.Core, dst arch.Tensor[AB], src arch.Tensor[AB],
	l1Shape coord.MatrixCoord, kOffset, m, k int) {
	offset, srcLayout := SubMatrix(t.L1ALayout(l1Shape.Row, l1Shape.Column), coord.MakeMatrixCoord(0, kOffset),
		coord.MakeMatrixCoord(m, k))
	CopyL1ToL0A(core, dst, t.L0ALayout(m, k), src.Offset(offset), srcLayout)
}

// CopyL1ToL0B loads the k x n slice starting at row kOffset of an L1 B tile of l1Shape.
func (t TileCopy[AB, C, D]) CopyL1ToL0B(core *arch.Core, dst arch.Tensor[AB], src arch.Tensor[AB],
	l1Shape coord.MatrixCoord, kOffset, k, n int) {
	offset, srcLayout := SubMatrix(t.L1BLayout(l1Shape.Row, l1Shape.Column), coord.MakeMatrixCoord(kOffset, 0),
		coord.MakeMatrixCoord(k, n))
	CopyL1ToL0B(core, dst, t.L0BLayout(k, n), src.Offset(offset), srcLayout)
}

// CopyL0CToGm stores the accumulator to the GM tile described by dstLayout. scales are the per-channel
// scales of the tile in FB, ignored unless the quant mode is isa.QuantModeVDEQF16.
func (t TileCopy[AB, C, D]) CopyL0CToGm(core *arch.Core, dst arch.Tensor[D], dstLayout layout.Matrix,
	src arch.Tensor[C], scales arch.Tensor[float32]) {
	org := dstLayout.OrgShape()
	q := t.Quant
	q.Scales = scales
	CopyL0CToGm(core, dst, dstLayout, src, t.L0CLayout(org.Row, org.Column), q)
}
