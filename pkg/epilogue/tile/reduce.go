// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
)

type reduction[T dtypes.Float] struct {
	name    string
	combine func(core *arch.Core, dst, src0, src1 arch.Tensor[T], mask, repeat int, p isa.BinaryRepeatParams)
	whole   func(core *arch.Core, dst, src arch.Tensor[T], mask, repeat int, p isa.ReduceParams)
}

// RowReduceSum writes the sum of each row of the tile (src, l) to dst[r].
//
// Rows wider than one vector repeat are first folded into tmp, which must hold rows x 256 bytes; src is
// left untouched.
func RowReduceSum[T dtypes.Float](core *arch.Core, dst, src, tmp arch.Tensor[T], l layout.RowMajor) {
	rowReduce(core, reduction[T]{"RowReduceSum", isa.AddMasked[T], isa.WholeReduceSum[T]}, dst, src, tmp, l)
}

// RowReduceMax writes the maximum of each row of the tile (src, l) to dst[r]. See RowReduceSum.
func RowReduceMax[T dtypes.Float](core *arch.Core, dst, src, tmp arch.Tensor[T], l layout.RowMajor) {
	rowReduce(core, reduction[T]{"RowReduceMax", isa.MaxMasked[T], isa.WholeReduceMax[T]}, dst, src, tmp, l)
}

func rowReduce[T dtypes.Float](core *arch.Core, red reduction[T], dst, src, tmp arch.Tensor[T], l layout.RowMajor) {
	rows, cols := l.Rows(), l.Cols()
	if rows == 0 || cols == 0 {
		return
	}
	step, ld := rowRepeats(ldBlocks[T](red.name, l))
	per := perRepeat[T]()
	const fractal = arch.BlkNumPerVectorFractal
	for r := 0; r < rows; r += step {
		repeat := min(step, rows-r)
		block := src.Offset(r * l.Ldm())
		if cols <= per {
			red.whole(core, dst.Offset(r), block, cols, repeat,
				isa.ReduceParams{DstRepStride: 1, SrcBlkStride: 1, SrcRepStride: ld})
			continue
		}
		isa.Copy(core, tmp, block, per, repeat,
			isa.UnaryRepeatParams{DstBlkStride: 1, SrcBlkStride: 1, DstRepStride: fractal, SrcRepStride: ld})
		core.PipeBarrier(arch.PipeV)
		params := isa.BinaryRepeatParams{
			DstBlkStride: 1, Src0BlkStride: 1, Src1BlkStride: 1,
			DstRepStride: fractal, Src0RepStride: fractal, Src1RepStride: ld,
		}
		for c := per; c < cols; c += per {
			red.combine(core, tmp, tmp, block.Offset(c), min(per, cols-c), repeat, params)
			core.PipeBarrier(arch.PipeV)
		}
		red.whole(core, dst.Offset(r), tmp, per, repeat, isa.DefaultReduceParams())
		core.PipeBarrier(arch.PipeV)
	}
}
