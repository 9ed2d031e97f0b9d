// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tile implements the vector-unit operations the block epilogues are built from: element-wise
// arithmetic and activations over UB tiles, the row and column broadcasts used by dequantization and
// softmax, row reductions, and the swizzles that walk the tiles of an output block.
//
// UB tiles are row-major with rows starting at 32-byte boundaries: their layout is a layout.RowMajor whose
// leading dimension is a multiple of the elements per block. Operations issue on the V pipe of the core and
// don't synchronize: the caller sets and waits the flags around them.
package tile

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	gemmtile "github.com/gomlx/tilegemm/pkg/gemm/tile"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/pkg/errors"
)

func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// elementsPerBlk of the element type T.
func elementsPerBlk[T dtypes.Supported]() int {
	return layout.ElementsPerBlk(dtypes.FromGenericsType[T]())
}

// perRepeat is the number of elements of type T processed by one vector repeat.
func perRepeat[T dtypes.Supported]() int {
	return arch.BytePerVectorFractal / dtypes.FromGenericsType[T]().Size()
}

// ldBlocks returns the leading dimension of a UB tile in 32-byte blocks, checking rows start at block
// boundaries.
func ldBlocks[T dtypes.Supported](name string, l layout.RowMajor) int {
	epb := elementsPerBlk[T]()
	ld := l.Ldm()
	if ld%epb != 0 {
		panicf("%s: UB rows of %d elements are not 32-byte aligned (%s)", name, ld, dtypes.FromGenericsType[T]())
	}
	return ld / epb
}

// rowRepeats returns how many rows one instruction can cover when a repeat walks one row, and the repeat
// stride that goes with it. Rows more than arch.MaxRepeatStride blocks apart take one instruction each.
func rowRepeats(ld int) (rows, repStride int) {
	if ld > arch.MaxRepeatStride {
		return 1, 0
	}
	return arch.MaxRepeat, ld
}

// contiguousRepeats calls fn for the instructions that cover n contiguous elements, per elements per repeat:
// runs of up to arch.MaxRepeat full repeats and a last masked repeat.
func contiguousRepeats(n, per int, fn func(offset, mask, repeat int)) {
	full := n / per
	for r := 0; r < full; r += arch.MaxRepeat {
		fn(r*per, per, min(arch.MaxRepeat, full-r))
	}
	if tail := n % per; tail > 0 {
		fn(full*per, tail, 1)
	}
}

// UbLayout returns the layout in UB of a tile of the given shape, with rows ld elements apart.
func UbLayout(shape coord.MatrixCoord, ld int) layout.RowMajor {
	return layout.NewRowMajorLd(shape.Row, shape.Column, ld)
}

// LoadTile moves the tile of shape at origin of the GM matrix (gm, gmLayout) into UB, with rows ubLd elements
// apart. It returns the layout of the tile in UB.
func LoadTile[T dtypes.Supported](core *arch.Core, ub arch.Tensor[T], ubLd int, gm arch.Tensor[T],
	gmLayout layout.RowMajor, origin, shape coord.MatrixCoord) layout.RowMajor {
	ubLayout := UbLayout(shape, ubLd)
	gmTile := gmLayout.TileLayout(shape)
	gemmtile.CopyGmToUb(core, ub, ubLayout, gm.Offset(gmLayout.Offset(origin)), gmTile)
	return ubLayout
}

// StoreTile moves the UB tile (ub, ubLayout) to origin of the GM matrix (gm, gmLayout).
func StoreTile[T dtypes.Supported](core *arch.Core, gm arch.Tensor[T], gmLayout layout.RowMajor, origin coord.MatrixCoord,
	ub arch.Tensor[T], ubLayout layout.RowMajor) {
	gemmtile.CopyUbToGm(core, gm.Offset(gmLayout.Offset(origin)), gmLayout.TileLayout(ubLayout.OrgShape()), ub, ubLayout)
}
