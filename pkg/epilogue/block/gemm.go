// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// BlockGemm is the epilogue of a GEMM with scalars: D = alpha·C + beta·X. C is the float32 result of the
// cube (usually a workspace in global memory); X and D have the element type T and the arithmetic is done in
// float32.
type BlockGemm[T dtypes.Float] struct {
	core   *arch.Core
	cfg    Config
	stages int
	ld     int

	ubC, ubXF []arch.Tensor[float32]
	ubX, ubD  []arch.Tensor[T]

	stage  int
	closed bool
}

// Event ids of the two inputs of a stage.
func gemmCEvent(stage int) int { return 2 * stage }
func gemmXEvent(stage int) int { return 2*stage + 1 }

// NewBlockGemm partitions the UB of the vector core and sets the slot-free flags.
func NewBlockGemm[T dtypes.Float](core *arch.Core, cfg Config) (*BlockGemm[T], error) {
	return build("NewBlockGemm", func() *BlockGemm[T] {
		cfg = prepare("BlockGemm", core, cfg, func(p DispatchPolicy) bool {
			_, ok := p.(EpilogueAtlasA2Gemm)
			return ok
		})
		dtype := dtypes.FromGenericsType[T]()
		b := &BlockGemm[T]{core: core, cfg: cfg, stages: cfg.Policy.Stages(), ld: cfg.ubLd(dtype)}
		elems := cfg.UBTileShape.Row * b.ld
		res := core.Resource()
		var ub ubAllocator
		for range b.stages {
			b.ubC = append(b.ubC, arch.GetBufferByByte[float32](res.UB, ub.alloc(elems*4)))
			b.ubXF = append(b.ubXF, arch.GetBufferByByte[float32](res.UB, ub.alloc(elems*4)))
			b.ubX = append(b.ubX, arch.GetBufferByByte[T](res.UB, ub.alloc(elems*dtype.Size())))
			b.ubD = append(b.ubD, arch.GetBufferByByte[T](res.UB, ub.alloc(elems*dtype.Size())))
		}
		checkUB("BlockGemm", ub.offset, cfg.Arch)
		for i := range b.stages {
			core.SetFlag(arch.VToMTE2, gemmCEvent(i))
			core.SetFlag(arch.VToMTE2, gemmXEvent(i))
			core.SetFlag(arch.MTE3ToV, i)
		}
		return b
	})
}

// Run computes D = alpha·C + beta·X over the block whose shape is layoutD.OrgShape(). If gmX is nil or beta
// is 0, X is not read.
func (b *BlockGemm[T]) Run(gmC arch.Tensor[float32], layoutC layout.RowMajor, gmX arch.Tensor[T], layoutX layout.RowMajor,
	gmD arch.Tensor[T], layoutD layout.RowMajor, alpha, beta float32) {
	if b.closed {
		panicf("BlockGemm.Run after Close")
	}
	core := b.core
	withX := !gmX.IsNil() && beta != 0
	forEachTile(core, layoutD.OrgShape(), b.cfg.UBTileShape, func(origin, shape coord.MatrixCoord) {
		st := b.stage
		n := shape.Row * b.ld
		core.WaitFlag(arch.VToMTE2, gemmCEvent(st))
		ubLayout := tile.LoadTile(core, b.ubC[st], b.ld, gmC, layoutC, origin, shape)
		core.SetFlag(arch.MTE2ToV, gemmCEvent(st))
		if withX {
			core.WaitFlag(arch.VToMTE2, gemmXEvent(st))
			tile.LoadTile(core, b.ubX[st], b.ld, gmX, layoutX, origin, shape)
			core.SetFlag(arch.MTE2ToV, gemmXEvent(st))
		}

		core.WaitFlag(arch.MTE2ToV, gemmCEvent(st))
		tile.ElemWiseMuls(core, b.ubC[st], b.ubC[st], alpha, n)
		if withX {
			core.WaitFlag(arch.MTE2ToV, gemmXEvent(st))
			tile.Cast(core, b.ubXF[st], b.ubX[st], n)
			core.SetFlag(arch.VToMTE2, gemmXEvent(st))
			core.PipeBarrier(arch.PipeV)
			tile.ElemWiseMuls(core, b.ubXF[st], b.ubXF[st], beta, n)
			core.PipeBarrier(arch.PipeV)
			tile.ElemWiseAdd(core, b.ubC[st], b.ubC[st], b.ubXF[st], n)
		}
		core.PipeBarrier(arch.PipeV)
		core.WaitFlag(arch.MTE3ToV, st)
		tile.Cast(core, b.ubD[st], b.ubC[st], n)
		core.SetFlag(arch.VToMTE2, gemmCEvent(st))

		core.SetFlag(arch.VToMTE3, st)
		core.WaitFlag(arch.VToMTE3, st)
		tile.StoreTile(core, gmD, layoutD, origin, b.ubD[st], ubLayout)
		core.SetFlag(arch.MTE3ToV, st)
		b.stage = (st + 1) % b.stages
	})
}

// Close waits for the slot-free flags.
func (b *BlockGemm[T]) Close() {
	if b.closed {
		return
	}
	b.closed = true
	for i := range b.stages {
		b.core.WaitFlag(arch.VToMTE2, gemmCEvent(i))
		b.core.WaitFlag(arch.VToMTE2, gemmXEvent(i))
		b.core.WaitFlag(arch.MTE3ToV, i)
	}
}
