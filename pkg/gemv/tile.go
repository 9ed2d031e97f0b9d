// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemv

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemm/tile"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// UbTile is a chunk of A resident in UB: Shape is its actual (m, n) and Rounded the (m, n) of the slot,
// which sets the leading dimension (n for row-major chunks, m for column-major ones).
type UbTile struct {
	Kind    layout.Kind
	Shape   coord.GemvCoord
	Rounded coord.GemvCoord
}

// ubLayout is the row-major view of the chunk in UB: the chunk itself, or its transpose if column-major.
func (u UbTile) ubLayout() layout.RowMajor {
	if u.Kind == layout.KindColumnMajor {
		return layout.NewRowMajorLd(u.Shape.N, u.Shape.M, u.Rounded.M)
	}
	return layout.NewRowMajorLd(u.Shape.M, u.Shape.N, u.Rounded.N)
}

// MatrixCopyGmToUb moves the chunk u of A, starting at src, from GM to UB. srcLayout is the layout of the
// whole matrix A: only its stride is used.
func MatrixCopyGmToUb[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], srcLayout layout.Matrix, u UbTile) {
	var gm layout.RowMajor
	switch l := srcLayout.(type) {
	case layout.RowMajor:
		gm = l.TileLayout(coord.MakeMatrixCoord(u.Shape.M, u.Shape.N))
	case layout.ColumnMajor:
		gm = l.TileLayout(coord.MakeMatrixCoord(u.Shape.M, u.Shape.N)).Transposed()
	default:
		panicf("MatrixCopyGmToUb: A layout %s is not supported", srcLayout)
	}
	tile.CopyGmToUb(core, dst, u.ubLayout(), src, gm)
}

// TileVmuls scales n elements: dst = src * scalar.
func TileVmuls[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], scalar T, n int) {
	isa.Muls(core, dst, src, scalar, n)
}

// TileVmad accumulates the product of the UB chunk a with the vector x into y: y += a·x.
//
// The dot products are accumulated in float32 in temp; a is overwritten with the partial results.
// For row-major chunks each row accumulates one vector repeat wide in temp before a whole-row reduction;
// column-major chunks are accumulated column by column with Axpy, reading x on the scalar unit.
func TileVmad[T dtypes.Float](core *arch.Core, y, x, a arch.Tensor[T], temp arch.Tensor[float32], u UbTile) {
	m, n := u.Shape.M, u.Shape.N
	if m == 0 || n == 0 {
		return
	}
	switch u.Kind {
	case layout.KindRowMajor:
		vmadRowMajor(core, x, a, temp, u)
	case layout.KindColumnMajor:
		vmadColumnMajor(core, x, a, temp, u)
	default:
		panicf("TileVmad: layout %s is not supported", u.Kind)
	}
	isa.Cast(core, a, temp, dtypes.RoundRint, m)
	core.PipeBarrier(arch.PipeV)
	isa.Add(core, y, a, y, m)
}

func vmadRowMajor[T dtypes.Float](core *arch.Core, x, a arch.Tensor[T], temp arch.Tensor[float32], u UbTile) {
	m, n := u.Shape.M, u.Shape.N
	isa.DuplicateMasked(core, temp, 0, accRepeat, m, isa.UnaryRepeatParams{DstBlkStride: 1, DstRepStride: arch.BlkNumPerVectorFractal})
	core.PipeBarrier(arch.PipeV)

	// Repeat r works on row r of a, against the same chunk of x (repeat stride 0).
	params := isa.BinaryRepeatParams{
		DstBlkStride: 1, Src0BlkStride: 1, Src1BlkStride: 1,
		DstRepStride:  arch.BlkNumPerVectorFractal,
		Src0RepStride: u.Rounded.N / layout.ElementsPerBlk(dtypes.FromGenericsType[T]()),
	}
	full, remain := n/accRepeat, n%accRepeat
	for i := range full {
		offset := i * accRepeat
		isa.MulAddDstMasked(core, temp, a.Offset(offset), x.Offset(offset), accRepeat, m, params)
		core.PipeBarrier(arch.PipeV)
	}
	if remain > 0 {
		offset := full * accRepeat
		isa.MulAddDstMasked(core, temp, a.Offset(offset), x.Offset(offset), remain, m, params)
	}
	reduceMask := accRepeat
	if full == 0 {
		reduceMask = remain
	}
	core.PipeBarrier(arch.PipeV)
	isa.WholeReduceSum(core, temp, temp, reduceMask, m, isa.DefaultReduceParams())
	core.PipeBarrier(arch.PipeV)
}

func vmadColumnMajor[T dtypes.Float](core *arch.Core, x, a arch.Tensor[T], temp arch.Tensor[float32], u UbTile) {
	m, n := u.Shape.M, u.Shape.N
	isa.Duplicate(core, temp, 0, m)
	core.PipeBarrier(arch.PipeV)

	// The elements of x are scalar operands: read them once the vector unit is done with x.
	core.SetFlag(arch.VToS, 0)
	core.WaitFlag(arch.VToS, 0)
	pix := make([]T, n)
	for i := range pix {
		pix[i] = x.GetValue(i)
	}
	core.SetFlag(arch.SToV, 0)
	core.WaitFlag(arch.SToV, 0)

	epb := layout.ElementsPerBlk(dtypes.FromGenericsType[T]())
	params := isa.UnaryRepeatParams{
		DstBlkStride: 1, SrcBlkStride: 1,
		DstRepStride: arch.BlkNumPerVectorFractal,
		SrcRepStride: accRepeat / epb,
	}
	full, remain := m/accRepeat, m%accRepeat
	for i, v := range pix {
		column := a.Offset(i * u.Rounded.M)
		if full > 0 {
			isa.AxpyMasked(core, temp, column, v, accRepeat, full, params)
		}
		if remain > 0 {
			isa.AxpyMasked(core, temp.Offset(full*accRepeat), column.Offset(full*accRepeat), v, remain, 1, params)
		}
		core.PipeBarrier(arch.PipeV)
	}
}
