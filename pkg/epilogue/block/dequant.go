// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	gemmtile "github.com/gomlx/tilegemm/pkg/gemm/tile"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// BlockPerTokenDequant dequantizes the int32 accumulators of an int8 GEMM on the vector unit:
//
//	D[i][j] = D(C[i][j] · scale[j] · perTokenScale[i])
//
// The scales have the element type S (float32, or the output type D). The arithmetic is done in float32.
type BlockPerTokenDequant[D dtypes.Float, S dtypes.Float] struct {
	core   *arch.Core
	cfg    Config
	stages int
	ld     int

	ubC                      []arch.Tensor[int32]
	ubScale, ubToken         []arch.Tensor[S]
	ubScaleF, ubTokenF, ubBr []arch.Tensor[float32]
	ubD                      []arch.Tensor[D]

	stage  int
	closed bool
}

// Event ids of the three inputs of a stage: the accumulators, the column scales and the per-token scales.
func dequantCEvent(stage int) int     { return 3 * stage }
func dequantScaleEvent(stage int) int { return 3*stage + 1 }
func dequantTokenEvent(stage int) int { return 3*stage + 2 }

// NewBlockPerTokenDequant partitions the UB of the vector core in UBStages slots and sets the slot-free flags.
func NewBlockPerTokenDequant[D dtypes.Float, S dtypes.Float](core *arch.Core, cfg Config) (*BlockPerTokenDequant[D, S], error) {
	return build("NewBlockPerTokenDequant", func() *BlockPerTokenDequant[D, S] {
		cfg = prepare("BlockPerTokenDequant", core, cfg, func(p DispatchPolicy) bool {
			_, ok := p.(EpilogueAtlasA2PerTokenDequant)
			return ok
		})
		outType, scaleType := dtypes.FromGenericsType[D](), dtypes.FromGenericsType[S]()
		if scaleType != dtypes.Float32 && scaleType != outType {
			panicf("BlockPerTokenDequant: %s scales must be float32 or of the output type %s", scaleType, outType)
		}
		narrowest := outType
		if scaleType.Size() < narrowest.Size() {
			narrowest = scaleType
		}
		b := &BlockPerTokenDequant[D, S]{core: core, cfg: cfg, stages: cfg.Policy.Stages(), ld: cfg.ubLd(narrowest)}
		rows := coord.RoundUp(cfg.UBTileShape.Row, arch.BlkNumPerVectorFractal)
		res := core.Resource()
		var ub ubAllocator
		for range b.stages {
			b.ubC = append(b.ubC, arch.GetBufferByByte[int32](res.UB, ub.alloc(rows*b.ld*4)))
			b.ubScale = append(b.ubScale, arch.GetBufferByByte[S](res.UB, ub.alloc(b.ld*scaleType.Size())))
			b.ubToken = append(b.ubToken, arch.GetBufferByByte[S](res.UB, ub.alloc(rows*scaleType.Size())))
			b.ubScaleF = append(b.ubScaleF, arch.GetBufferByByte[float32](res.UB, ub.alloc(b.ld*4)))
			b.ubTokenF = append(b.ubTokenF, arch.GetBufferByByte[float32](res.UB, ub.alloc(rows*4)))
			b.ubBr = append(b.ubBr, arch.GetBufferByByte[float32](res.UB, ub.alloc(rows*arch.BytePerBlk)))
			b.ubD = append(b.ubD, arch.GetBufferByByte[D](res.UB, ub.alloc(rows*b.ld*outType.Size())))
		}
		checkUB("BlockPerTokenDequant", ub.offset, cfg.Arch)
		for i := range b.stages {
			core.SetFlag(arch.VToMTE2, dequantCEvent(i))
			core.SetFlag(arch.VToMTE2, dequantScaleEvent(i))
			core.SetFlag(arch.VToMTE2, dequantTokenEvent(i))
			core.SetFlag(arch.MTE3ToV, i)
		}
		return b
	})
}

// Run dequantizes the block whose shape is layoutD.OrgShape(). gmScale holds the scales of the columns of the
// block and gmPerToken the ones of its rows.
func (b *BlockPerTokenDequant[D, S]) Run(gmC arch.Tensor[int32], layoutC layout.RowMajor, gmScale, gmPerToken arch.Tensor[S],
	gmD arch.Tensor[D], layoutD layout.RowMajor) {
	if b.closed {
		panicf("BlockPerTokenDequant.Run after Close")
	}
	core := b.core
	forEachTile(core, layoutD.OrgShape(), b.cfg.UBTileShape, func(origin, shape coord.MatrixCoord) {
		st := b.stage
		rows, cols := shape.Row, shape.Column
		n := rows * b.ld

		core.WaitFlag(arch.VToMTE2, dequantCEvent(st))
		ubLayout := tile.LoadTile(core, b.ubC[st], b.ld, gmC, layoutC, origin, shape)
		core.SetFlag(arch.MTE2ToV, dequantCEvent(st))
		core.WaitFlag(arch.VToMTE2, dequantScaleEvent(st))
		gemmtile.CopyVectorGmToUb(core, b.ubScale[st], gmScale.Offset(origin.Column), cols)
		core.SetFlag(arch.MTE2ToV, dequantScaleEvent(st))
		core.WaitFlag(arch.VToMTE2, dequantTokenEvent(st))
		gemmtile.CopyVectorGmToUb(core, b.ubToken[st], gmPerToken.Offset(origin.Row), rows)
		core.SetFlag(arch.MTE2ToV, dequantTokenEvent(st))

		// The float32 accumulators overwrite the int32 ones in place.
		cF := arch.Reinterpret[float32](b.ubC[st])
		core.WaitFlag(arch.MTE2ToV, dequantCEvent(st))
		tile.Cast(core, cF, b.ubC[st], n)
		core.WaitFlag(arch.MTE2ToV, dequantScaleEvent(st))
		tile.Cast(core, b.ubScaleF[st], b.ubScale[st], cols)
		core.SetFlag(arch.VToMTE2, dequantScaleEvent(st))
		core.WaitFlag(arch.MTE2ToV, dequantTokenEvent(st))
		tile.Cast(core, b.ubTokenF[st], b.ubToken[st], rows)
		core.SetFlag(arch.VToMTE2, dequantTokenEvent(st))
		core.PipeBarrier(arch.PipeV)

		tile.RowBroadcastMul(core, cF, cF, b.ubScaleF[st], ubLayout)
		tile.BroadcastOneBlk(core, b.ubBr[st], b.ubTokenF[st], rows)
		core.PipeBarrier(arch.PipeV)
		tile.OneBlkColumnBroadcastMul(core, cF, cF, b.ubBr[st], ubLayout)
		core.PipeBarrier(arch.PipeV)

		core.WaitFlag(arch.MTE3ToV, st)
		tile.Cast(core, b.ubD[st], cF, n)
		core.SetFlag(arch.VToMTE2, dequantCEvent(st))
		core.SetFlag(arch.VToMTE3, st)
		core.WaitFlag(arch.VToMTE3, st)
		tile.StoreTile(core, gmD, layoutD, origin, b.ubD[st], ubLayout)
		core.SetFlag(arch.MTE3ToV, st)
		b.stage = (st + 1) % b.stages
	})
}

// Close waits for the slot-free flags.
func (b *BlockPerTokenDequant[D, S]) Close() {
	if b.closed {
		return
	}
	b.closed = true
	for i := range b.stages {
		b.core.WaitFlag(arch.VToMTE2, dequantCEvent(i))
		b.core.WaitFlag(arch.VToMTE2, dequantScaleEvent(i))
		b.core.WaitFlag(arch.VToMTE2, dequantTokenEvent(i))
		b.core.WaitFlag(arch.MTE3ToV, i)
	}
}
