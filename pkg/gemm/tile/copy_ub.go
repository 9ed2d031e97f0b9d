// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// ubGapBlocks returns the gap, in 32-byte blocks, between rows of cols elements stored ld elements apart in UB.
func ubGapBlocks(dtype dtypes.DType, cols, ld int) int {
	epb := layout.ElementsPerBlk(dtype)
	if ld%epb != 0 || ld < coord.RoundUp(cols, epb) {
		panicf("rows of %d %s elements can't be %d elements apart in UB", cols, dtype, ld)
	}
	return (ld - coord.RoundUp(cols, epb)) / epb
}

// CopyGmToUb moves a row-major tile (the OrgShape of srcLayout) from GM to UB. UB rows start at 32-byte
// boundaries; rows not aligned in GM are moved with DataCopyPad, the others with DataCopy.
func CopyGmToUb[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.RowMajor,
	src arch.Tensor[T], srcLayout layout.RowMajor) {
	rows, cols := srcLayout.Rows(), srcLayout.Cols()
	if rows == 0 || cols == 0 {
		return
	}
	dtype := dtypes.FromGenericsType[T]()
	if srcLayout.IsRowBlkAligned(dtype) {
		CopyRowMajorToRowMajor(core, dst, dstLayout, src, srcLayout)
		return
	}
	size := dtype.Size()
	srcLd, dstLd := srcLayout.Ldm(), dstLayout.Ldm()
	srcGap := (srcLd - cols) * size
	dstGap := ubGapBlocks(dtype, cols, dstLd)
	plan := PlanTransfer(rows, max(srcGap, dstGap), 1)
	for _, piece := range plan.Pieces {
		p := isa.DataCopyExtParams{BlockCount: piece.Count, BlockLen: cols * size, SrcStride: srcGap, DstStride: dstGap}
		if plan.Tier == TierPerRow {
			p.SrcStride, p.DstStride = 0, 0
		}
		isa.DataCopyPad(core, dst.Offset(piece.First*dstLd), src.Offset(piece.First*srcLd), p, isa.DataCopyPadParams[T]{})
	}
}

// CopyUbToGm moves a row-major tile (the OrgShape of dstLayout) from UB to GM. Only the cols elements of
// each row are written: unaligned rows use DataCopyPad, so the padding of the UB rows never reaches GM.
func CopyUbToGm[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.RowMajor,
	src arch.Tensor[T], srcLayout layout.RowMajor) {
	rows, cols := dstLayout.Rows(), dstLayout.Cols()
	if rows == 0 || cols == 0 {
		return
	}
	dtype := dtypes.FromGenericsType[T]()
	if dstLayout.IsRowBlkAligned(dtype) {
		CopyRowMajorToRowMajor(core, dst, dstLayout, src, srcLayout.TileLayout(dstLayout.OrgShape()))
		return
	}
	size := dtype.Size()
	srcLd, dstLd := srcLayout.Ldm(), dstLayout.Ldm()
	srcGap := ubGapBlocks(dtype, cols, srcLd)
	dstGap := (dstLd - cols) * size
	plan := PlanTransfer(rows, max(srcGap, dstGap), 1)
	for _, piece := range plan.Pieces {
		p := isa.DataCopyExtParams{BlockCount: piece.Count, BlockLen: cols * size, SrcStride: srcGap, DstStride: dstGap}
		if plan.Tier == TierPerRow {
			p.SrcStride, p.DstStride = 0, 0
		}
		isa.DataCopyPad(core, dst.Offset(piece.First*dstLd), src.Offset(piece.First*srcLd), p, isa.DataCopyPadParams[T]{})
	}
}

// CopyVectorGmToUb moves a dense vector of n elements from GM to UB.
func CopyVectorGmToUb[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], src arch.Tensor[T], n int) {
	CopyGmToUb(core, dst, layout.RowMajorInUb(dtypes.FromGenericsType[T](), coord.MakeMatrixCoord(1, n)),
		src, layout.NewRowMajor(1, n))
}

// CopyVectorUbToGm moves a dense vector of n elements from UB to GM.
func CopyVectorUbToGm[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], src arch.Tensor[T], n int) {
	CopyUbToGm(core, dst, layout.NewRowMajor(1, n),
		src, layout.RowMajorInUb(dtypes.FromGenericsType[T](), coord.MakeMatrixCoord(1, n)))
}
