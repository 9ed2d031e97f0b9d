// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// CopyGmToL1 moves a tile from global memory to L1, converting it to the L1 format. The extent of the tile
// is the OrgShape of the source layout. Supported (source, destination) pairs:
//
//	RowMajor -> ZN, ZZ or RowMajor
//	ColumnMajor -> NZ or NN
//	ZN -> ZN, NZ -> NZ
//	PaddingRowMajor -> ZN, PaddingColumnMajor -> NZ
//
// Other pairs panic: gemm.Config.Validate rejects them before any kernel runs.
func CopyGmToL1[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.Matrix,
	src arch.Tensor[T], srcLayout layout.Matrix) {
	switch s := srcLayout.(type) {
	case layout.RowMajor:
		switch d := dstLayout.(type) {
		case layout.ZN:
			CopyRowMajorToZN(core, dst, d, src, s)
			return
		case layout.ZZ:
			CopyRowMajorToZZ(core, dst, d, src, s)
			return
		case layout.RowMajor:
			CopyRowMajorToRowMajor(core, dst, d, src, s)
			return
		}
	case layout.ColumnMajor:
		switch d := dstLayout.(type) {
		case layout.NZ:
			CopyColumnMajorToNZ(core, dst, d, src, s)
			return
		case layout.NN:
			CopyColumnMajorToNN(core, dst, d, src, s)
			return
		}
	case layout.ZN:
		if d, ok := dstLayout.(layout.ZN); ok {
			CopyZNToZN(core, dst, d, src, s)
			return
		}
	case layout.NZ:
		if d, ok := dstLayout.(layout.NZ); ok {
			CopyNZToNZ(core, dst, d, src, s)
			return
		}
	case layout.PaddingRowMajor:
		if d, ok := dstLayout.(layout.ZN); ok {
			CopyPaddingRowMajorToZN(core, dst, d, src, s)
			return
		}
	case layout.PaddingColumnMajor:
		if d, ok := dstLayout.(layout.NZ); ok {
			CopyPaddingColumnMajorToNZ(core, dst, d, src, s)
			return
		}
	}
	panicf("CopyGmToL1: no copy from %s to %s", srcLayout.Kind(), dstLayout.Kind())
}

// checkRowFractals panics unless the blocked layout has dense row-major fractals of 16 x C0 (zN, zZ).
func checkRowFractals(name string, dtype dtypes.DType, shape0, stride0, shape2, stride2 int) {
	c0 := layout.ElementsPerC0(dtype)
	if shape0 != arch.C0NumPerFractal || shape2 != c0 || stride0 != c0 || stride2 != 1 {
		panicf("%s: destination fractals must be dense 16 x %d row-major, got shape (%d, _, %d, _) and strides (%d, _, %d, _)",
			name, c0, shape0, shape2, stride0, stride2)
	}
}

// CopyRowMajorToZN converts a row-major tile to the zN format with Nd2Nz.
//
// Columns are padded with zeros up to C0; rows of the last fractal past the tile are left untouched.
func CopyRowMajorToZN[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.ZN,
	src arch.Tensor[T], srcLayout layout.RowMajor) {
	const name = "CopyRowMajorToZN"
	rows, cols := srcLayout.Rows(), srcLayout.Cols()
	if rows == 0 || cols == 0 {
		return
	}
	dtype := dtypes.FromGenericsType[T]()
	checkRowFractals(name, dtype, dstLayout.Shape(0), dstLayout.Stride(0), dstLayout.Shape(2), dstLayout.Stride(2))
	c0 := layout.ElementsPerC0(dtype)
	if dstLayout.Stride(1) != layout.ElementsPerFractal(dtype) {
		panicf("%s: fractals of a zN column must be contiguous, got %s", name, dstLayout)
	}
	ld := srcLayout.Ldm()
	plan := PlanTransfer(rows, ld, arch.C0NumPerFractal)
	for _, piece := range plan.Pieces {
		params := isa.Nd2NzParams{
			NdNum:         1,
			NValue:        piece.Count,
			DValue:        cols,
			SrcDValue:     ld,
			DstNzC0Stride: dstLayout.Stride(3) / c0,
			DstNzNStride:  1,
		}
		if plan.Tier == TierPerRow {
			params.SrcDValue = 0
		}
		isa.Nd2Nz(core,
			dst.Offset(dstLayout.Offset(coord.MakeMatrixCoord(piece.First, 0))),
			src.Offset(piece.First*ld), params)
	}
}

// CopyRowMajorToZZ converts a row-major tile to the zZ format: each group of 16 rows is one Nd2Nz matrix.
func CopyRowMajorToZZ[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.ZZ,
	src arch.Tensor[T], srcLayout layout.RowMajor) {
	const name = "CopyRowMajorToZZ"
	const f = arch.C0NumPerFractal
	rows, cols := srcLayout.Rows(), srcLayout.Cols()
	if rows == 0 || cols == 0 {
		return
	}
	dtype := dtypes.FromGenericsType[T]()
	checkRowFractals(name, dtype, dstLayout.Shape(0), dstLayout.Stride(0), dstLayout.Shape(2), dstLayout.Stride(2))
	c0 := layout.ElementsPerC0(dtype)
	ld := srcLayout.Ldm()
	c0Stride := dstLayout.Stride(3) / c0
	fractalRow := dstLayout.Stride(1)

	// copyRows moves n <= 16 rows starting at row r0, all in the same row of fractals.
	copyRows := func(r0, n int) {
		plan := PlanTransfer(n, ld, 1)
		for _, piece := range plan.Pieces {
			params := isa.Nd2NzParams{
				NdNum: 1, NValue: piece.Count, DValue: cols, SrcDValue: ld,
				DstNzC0Stride: c0Stride, DstNzNStride: 1,
			}
			if plan.Tier == TierPerRow {
				params.SrcDValue = 0
			}
			r := r0 + piece.First
			isa.Nd2Nz(core, dst.Offset(dstLayout.Offset(coord.MakeMatrixCoord(r, 0))), src.Offset(r*ld), params)
		}
	}

	full, tail := rows/f, rows%f
	if full > 0 {
		plan := PlanTransfer(full, max(f*ld, fractalRow), 1)
		if plan.Tier == TierPerRow {
			for g := range full {
				copyRows(g*f, f)
			}
		} else {
			for _, piece := range plan.Pieces {
				isa.Nd2Nz(core, dst.Offset(piece.First*fractalRow), src.Offset(piece.First*f*ld), isa.Nd2NzParams{
					NdNum:             piece.Count,
					NValue:            f,
					DValue:            cols,
					SrcNdMatrixStride: f * ld,
					SrcDValue:         ld,
					DstNzC0Stride:     c0Stride,
					DstNzNStride:      1,
					DstNzMatrixStride: fractalRow,
				})
			}
		}
	}
	if tail > 0 {
		copyRows(full*f, tail)
	}
}

// transposedBlocked returns the shape and strides of the transposed view of a blocked layout: the view
// of a column-major fractal format (nZ, nN) as the row-major one (zN, zZ) of the transposed matrix.
func transposedBlocked(shape, stride func(int) int) (tShape, tStride [4]int) {
	tShape = [4]int{shape(2), shape(3), shape(0), shape(1)}
	tStride = [4]int{stride(2), stride(3), stride(0), stride(1)}
	return
}

// CopyColumnMajorToNZ converts a column-major tile to the nZ format. It is the row-major to zN copy of the
// transposed matrix.
func CopyColumnMajorToNZ[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.NZ,
	src arch.Tensor[T], srcLayout layout.ColumnMajor) {
	shape, stride := transposedBlocked(dstLayout.Shape, dstLayout.Stride)
	org := dstLayout.OrgShape()
	dstT := layout.NewZN(coord.MakeMatrixCoord(org.Column, org.Row), shape, stride)
	CopyRowMajorToZN(core, dst, dstT, src, srcLayout.Transposed())
}

// CopyColumnMajorToNN converts a column-major tile to the nN format, as the row-major to zZ copy of the
// transposed matrix.
func CopyColumnMajorToNN[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.NN,
	src arch.Tensor[T], srcLayout layout.ColumnMajor) {
	shape, stride := transposedBlocked(dstLayout.Shape, dstLayout.Stride)
	org := dstLayout.OrgShape()
	dstT := layout.NewZZ(coord.MakeMatrixCoord(org.Column, org.Row), shape, stride)
	CopyRowMajorToZZ(core, dst, dstT, src, srcLayout.Transposed())
}

// copyFractalLines moves lines runs of blockLen 32-byte blocks, srcPitch and dstPitch elements apart,
// with DataCopy.
func copyFractalLines[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], lines, blockLen, srcPitch, dstPitch int) {
	epb := layout.ElementsPerBlk(dtypes.FromGenericsType[T]())
	srcGap := srcPitch/epb - blockLen
	dstGap := dstPitch/epb - blockLen
	if srcGap < 0 || dstGap < 0 {
		panicf("copy of %d lines of %d blocks: pitches %d and %d elements overlap", lines, blockLen, srcPitch, dstPitch)
	}
	plan := PlanTransfer(lines, max(srcGap, dstGap), 1)
	for _, piece := range plan.Pieces {
		params := isa.DataCopyParams{BlockCount: piece.Count, BlockLen: blockLen, SrcStride: srcGap, DstStride: dstGap}
		if plan.Tier == TierPerRow {
			params.SrcStride, params.DstStride = 0, 0
		}
		isa.DataCopy(core, dst.Offset(piece.First*dstPitch), src.Offset(piece.First*srcPitch), params)
	}
}

// CopyZNToZN moves a tile already in the zN format, one column of fractals per line.
func CopyZNToZN[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.ZN,
	src arch.Tensor[T], srcLayout layout.ZN) {
	org := srcLayout.OrgShape()
	if org.IsZero() {
		return
	}
	dtype := dtypes.FromGenericsType[T]()
	checkRowFractals("CopyZNToZN", dtype, srcLayout.Shape(0), srcLayout.Stride(0), srcLayout.Shape(2), srcLayout.Stride(2))
	checkRowFractals("CopyZNToZN", dtype, dstLayout.Shape(0), dstLayout.Stride(0), dstLayout.Shape(2), dstLayout.Stride(2))
	c0 := layout.ElementsPerC0(dtype)
	copyFractalLines(core, dst, src, coord.CeilDiv(org.Column, c0), coord.RoundUp(org.Row, arch.C0NumPerFractal),
		srcLayout.Stride(3), dstLayout.Stride(3))
}

// CopyNZToNZ moves a tile already in the nZ format, one row of fractals per line.
func CopyNZToNZ[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.NZ,
	src arch.Tensor[T], srcLayout layout.NZ) {
	org := srcLayout.OrgShape()
	if org.IsZero() {
		return
	}
	dtype := dtypes.FromGenericsType[T]()
	c0 := layout.ElementsPerC0(dtype)
	for _, l := range []layout.NZ{srcLayout, dstLayout} {
		if l.Shape(0) != c0 || l.Stride(0) != 1 || l.Stride(2) != c0 || l.Stride(3) != layout.ElementsPerFractal(dtype) {
			panicf("CopyNZToNZ: layout %s is not a dense nZ", l)
		}
	}
	copyFractalLines(core, dst, src, coord.CeilDiv(org.Row, c0), coord.RoundUp(org.Column, arch.C0NumPerFractal),
		srcLayout.Stride(1), dstLayout.Stride(1))
}

// forEachBlock calls fn for each padding block overlapped by a tile of the given shape, with the block
// coordinates, its origin in the tile and its extent.
func forEachBlock(tileShape, blockShape coord.MatrixCoord, fn func(bi, bj int, origin, extent coord.MatrixCoord)) {
	for bi := range coord.CeilDiv(tileShape.Row, blockShape.Row) {
		for bj := range coord.CeilDiv(tileShape.Column, blockShape.Column) {
			origin := coord.MakeMatrixCoord(bi*blockShape.Row, bj*blockShape.Column)
			fn(bi, bj, origin, blockShape.Min(tileShape.Sub(origin)))
		}
	}
}

// CopyPaddingRowMajorToZN converts a tile of a PaddingRowMajor matrix to zN, one row-major block at a time.
// The tile must start on a block boundary, and blocks must hold whole fractals.
func CopyPaddingRowMajorToZN[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.ZN,
	src arch.Tensor[T], srcLayout layout.PaddingRowMajor) {
	block := srcLayout.BlockShape()
	c0 := layout.ElementsPerC0(dtypes.FromGenericsType[T]())
	if block.Row%arch.C0NumPerFractal != 0 || block.Column%c0 != 0 {
		panicf("CopyPaddingRowMajorToZN: blocks %s must hold whole 16 x %d fractals", block, c0)
	}
	forEachBlock(srcLayout.OrgShape(), block, func(bi, bj int, origin, extent coord.MatrixCoord) {
		blockSrc := src.Offset(bi*srcLayout.Stride(1) + bj*srcLayout.Stride(3))
		CopyRowMajorToZN(core, dst.Offset(dstLayout.Offset(origin)), dstLayout.TileLayout(extent),
			blockSrc, layout.NewRowMajorLd(extent.Row, extent.Column, srcLayout.Stride(0)))
	})
}

// CopyPaddingColumnMajorToNZ converts a tile of a PaddingColumnMajor matrix to nZ, one column-major block
// at a time.
func CopyPaddingColumnMajorToNZ[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.NZ,
	src arch.Tensor[T], srcLayout layout.PaddingColumnMajor) {
	block := srcLayout.BlockShape()
	c0 := layout.ElementsPerC0(dtypes.FromGenericsType[T]())
	if block.Row%c0 != 0 || block.Column%arch.C0NumPerFractal != 0 {
		panicf("CopyPaddingColumnMajorToNZ: blocks %s must hold whole %d x 16 fractals", block, c0)
	}
	forEachBlock(srcLayout.OrgShape(), block, func(bi, bj int, origin, extent coord.MatrixCoord) {
		blockSrc := src.Offset(bi*srcLayout.Stride(1) + bj*srcLayout.Stride(3))
		CopyColumnMajorToNZ(core, dst.Offset(dstLayout.Offset(origin)), dstLayout.TileLayout(extent),
			blockSrc, layout.NewColumnMajorLd(extent.Row, extent.Column, srcLayout.Stride(2)))
	})
}

// CopyRowMajorToRowMajor moves a row-major tile with DataCopy (GM to L1 or UB). Rows and leading dimensions
// must be 32-byte aligned: unaligned tiles going to UB use CopyGmToUb.
func CopyRowMajorToRowMajor[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.RowMajor,
	src arch.Tensor[T], srcLayout layout.RowMajor) {
	rows, cols := srcLayout.Rows(), srcLayout.Cols()
	if rows == 0 || cols == 0 {
		return
	}
	dtype := dtypes.FromGenericsType[T]()
	if !srcLayout.IsRowBlkAligned(dtype) || !dstLayout.TileLayout(srcLayout.OrgShape()).IsRowBlkAligned(dtype) {
		panicf("CopyRowMajorToRowMajor: rows of %s and %s are not 32-byte aligned for %s", srcLayout, dstLayout, dtype)
	}
	epb := layout.ElementsPerBlk(dtype)
	copyFractalLines(core, dst, src, rows, cols/epb, srcLayout.Ldm(), dstLayout.Ldm())
}

// CopyVectorToL1 moves a vector of n elements (a bias or per-channel scales) to L1, zero-padded to 32 bytes.
func CopyVectorToL1[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], src arch.Tensor[T], n int) {
	if n == 0 {
		return
	}
	isa.Nd2Nz(core, dst, src, isa.Nd2NzParams{NdNum: 1, NValue: 1, DValue: n, DstNzC0Stride: 1, DstNzNStride: 1})
}
