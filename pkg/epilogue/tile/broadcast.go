// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// BroadcastOneBlk expands each of the n values of src into a full 32-byte block of dst: block i of dst holds
// copies of src[i]. Brcb reads and writes groups of 8, so src must hold RoundUp(n, 8) values and dst
// RoundUp(n, 8) blocks.
func BroadcastOneBlk[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], n int) {
	const group = arch.BlkNumPerVectorFractal
	epb := elementsPerBlk[T]()
	chunk := arch.MaxRepeat * group
	for offset := 0; offset < n; offset += chunk {
		count := min(chunk, n-offset)
		isa.Brcb(core, dst.Offset(offset*epb), src.Offset(offset), coord.CeilDiv(count, group),
			isa.BrcbRepeatParams{DstBlkStride: 1, DstRepStride: group})
	}
}

// RowBroadcastMul issues dst[r][c] = src0[r][c] * src1[c] over the tile l: src1 is one row, broadcast to every
// row of src0. dst and src0 share the layout l.
func RowBroadcastMul[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], l layout.RowMajor) {
	rows, cols := l.Rows(), l.Cols()
	step, rep := rowRepeats(ldBlocks[T]("RowBroadcastMul", l))
	per := perRepeat[T]()
	params := isa.BinaryRepeatParams{
		DstBlkStride: 1, Src0BlkStride: 1, Src1BlkStride: 1,
		DstRepStride: rep, Src0RepStride: rep, Src1RepStride: 0,
	}
	for r := 0; r < rows; r += step {
		repeat := min(step, rows-r)
		for c := 0; c < cols; c += per {
			offset := r*l.Ldm() + c
			isa.MulMasked(core, dst.Offset(offset), src0.Offset(offset), src1.Offset(c), min(per, cols-c), repeat, params)
		}
	}
}

type blkOp[T dtypes.Float] func(core *arch.Core, dst, src0, src1 arch.Tensor[T], mask, repeat int, p isa.BinaryRepeatParams)

// oneBlkColumnBroadcast issues dst[r][c] = op(src0[r][c], src1[r]) where src1 is the output of
// BroadcastOneBlk: one block per row. A repeat covers one column block of up to 8 rows, or, when rows are
// too far apart for a block stride, 256 bytes of a single row.
func oneBlkColumnBroadcast[T dtypes.Float](core *arch.Core, name string, op blkOp[T], dst, src0, src1 arch.Tensor[T],
	l layout.RowMajor) {
	rows, cols := l.Rows(), l.Cols()
	if rows == 0 || cols == 0 {
		return
	}
	const group = arch.BlkNumPerVectorFractal
	ld := ldBlocks[T](name, l)
	epb := elementsPerBlk[T]()
	colBlocks := coord.CeilDiv(cols, epb)
	if ld > arch.MaxBlockStride {
		params := isa.BinaryRepeatParams{
			DstBlkStride: 1, Src0BlkStride: 1, Src1BlkStride: 0,
			DstRepStride: group, Src0RepStride: group, Src1RepStride: 0,
		}
		for r := range rows {
			row := r * l.Ldm()
			contiguousRepeats(colBlocks*epb, perRepeat[T](), func(offset, mask, repeat int) {
				op(core, dst.Offset(row+offset), src0.Offset(row+offset), src1.Offset(r*epb), mask, repeat, params)
			})
		}
		return
	}
	params := isa.BinaryRepeatParams{
		DstBlkStride: ld, Src0BlkStride: ld, Src1BlkStride: 1,
		DstRepStride: 1, Src0RepStride: 1, Src1RepStride: 0,
	}
	for r := 0; r < rows; r += group {
		mask := min(group, rows-r) * epb
		for b := 0; b < colBlocks; b += arch.MaxRepeat {
			offset := r*l.Ldm() + b*epb
			op(core, dst.Offset(offset), src0.Offset(offset), src1.Offset(r*epb), mask, min(arch.MaxRepeat, colBlocks-b), params)
		}
	}
}

// OneBlkColumnBroadcastMul issues dst[r][c] = src0[r][c] * v[r], with src1 holding v[r] in its block r
// (see BroadcastOneBlk). Columns are processed in whole blocks: the padding of each row up to the
// next block boundary is computed too.
func OneBlkColumnBroadcastMul[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], l layout.RowMajor) {
	oneBlkColumnBroadcast(core, "OneBlkColumnBroadcastMul", isa.MulMasked[T], dst, src0, src1, l)
}

// OneBlkColumnBroadcastSub is OneBlkColumnBroadcastMul with subtraction: dst[r][c] = src0[r][c] - v[r].
func OneBlkColumnBroadcastSub[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], l layout.RowMajor) {
	oneBlkColumnBroadcast(core, "OneBlkColumnBroadcastSub", isa.SubMasked[T], dst, src0, src1, l)
}

// OneBlkColumnBroadcastDiv is OneBlkColumnBroadcastMul with division: dst[r][c] = src0[r][c] / v[r].
func OneBlkColumnBroadcastDiv[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], l layout.RowMajor) {
	oneBlkColumnBroadcast(core, "OneBlkColumnBroadcastDiv", isa.DivMasked[T], dst, src0, src1, l)
}

// BroadcastInplaceByRow copies the first row of the tile l over all its other rows.
func BroadcastInplaceByRow[T dtypes.Float](core *arch.Core, ub arch.Tensor[T], l layout.RowMajor) {
	rows, cols := l.Rows(), l.Cols()
	step, rep := rowRepeats(ldBlocks[T]("BroadcastInplaceByRow", l))
	per := perRepeat[T]()
	params := isa.UnaryRepeatParams{DstBlkStride: 1, SrcBlkStride: 1, DstRepStride: rep, SrcRepStride: 0}
	for r := 1; r < rows; r += step {
		repeat := min(step, rows-r)
		for c := 0; c < cols; c += per {
			isa.Copy(core, ub.Offset(r*l.Ldm()+c), ub.Offset(c), min(per, cols-c), repeat, params)
		}
	}
}

// BroadcastInplaceByColumn repeats the first 32-byte block of each row of the tile l across the rest of the
// row, up to the block boundary after its last column.
func BroadcastInplaceByColumn[T dtypes.Float](core *arch.Core, ub arch.Tensor[T], l layout.RowMajor) {
	rows, cols := l.Rows(), l.Cols()
	const group = arch.BlkNumPerVectorFractal
	ld := ldBlocks[T]("BroadcastInplaceByColumn", l)
	epb := elementsPerBlk[T]()
	colBlocks := coord.CeilDiv(cols, epb)
	if ld > arch.MaxBlockStride {
		params := isa.UnaryRepeatParams{DstBlkStride: 1, SrcBlkStride: 0, DstRepStride: group, SrcRepStride: 0}
		for r := range rows {
			row := ub.Offset(r * l.Ldm())
			contiguousRepeats((colBlocks-1)*epb, perRepeat[T](), func(offset, mask, repeat int) {
				isa.Copy(core, row.Offset(epb+offset), row, mask, repeat, params)
			})
		}
		return
	}
	params := isa.UnaryRepeatParams{DstBlkStride: ld, SrcBlkStride: ld, DstRepStride: 1, SrcRepStride: 0}
	for r := 0; r < rows; r += group {
		mask := min(group, rows-r) * epb
		for b := 1; b < colBlocks; b += arch.MaxRepeat {
			row := ub.Offset(r * l.Ldm())
			isa.Copy(core, row.Offset(b*epb), row, mask, min(arch.MaxRepeat, colBlocks-b), params)
		}
	}
}
