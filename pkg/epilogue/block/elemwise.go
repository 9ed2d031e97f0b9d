// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// BlockElemWise is the element-wise epilogue: D = act(C) (EpilogueAtlasA2ElemWiseNoSource) or D = C + X
// (EpilogueAtlasA2ElemWiseOneSource), with C, X and D of the same element type.
type BlockElemWise[T dtypes.Float] struct {
	core      *arch.Core
	cfg       Config
	oneSource bool
	stages    int
	ld        int

	ubC, ubX, ubD []arch.Tensor[T]

	stage, tiles int
	closed       bool
}

// NewBlockElemWise partitions the UB of the vector core and sets the slot-free flags.
func NewBlockElemWise[T dtypes.Float](core *arch.Core, cfg Config) (*BlockElemWise[T], error) {
	return build("NewBlockElemWise", func() *BlockElemWise[T] {
		cfg = prepare("BlockElemWise", core, cfg, func(p DispatchPolicy) bool {
			switch p.(type) {
			case EpilogueAtlasA2ElemWiseNoSource, EpilogueAtlasA2ElemWiseOneSource:
				return true
			}
			return false
		})
		_, oneSource := cfg.Policy.(EpilogueAtlasA2ElemWiseOneSource)
		dtype := dtypes.FromGenericsType[T]()
		b := &BlockElemWise[T]{core: core, cfg: cfg, oneSource: oneSource, stages: cfg.Policy.Stages(), ld: cfg.ubLd(dtype)}
		tileBytes := cfg.UBTileShape.Row * b.ld * dtype.Size()
		var ub ubAllocator
		for range b.stages {
			b.ubC = append(b.ubC, arch.GetBufferByByte[T](core.Resource().UB, ub.alloc(tileBytes)))
			if oneSource {
				b.ubX = append(b.ubX, arch.GetBufferByByte[T](core.Resource().UB, ub.alloc(tileBytes)))
			}
			b.ubD = append(b.ubD, arch.GetBufferByByte[T](core.Resource().UB, ub.alloc(tileBytes)))
		}
		checkUB("BlockElemWise", ub.offset, cfg.Arch)
		for i := range b.stages {
			core.SetFlag(arch.VToMTE2, i)
			core.SetFlag(arch.MTE3ToV, i)
		}
		return b
	})
}

// Run applies the epilogue to the block whose shape is layoutD.OrgShape(). The tensors start at the origin of
// the block: layoutC and layoutX give the strides of C and X, and are ignored past the block shape. gmX and
// layoutX are only used by EpilogueAtlasA2ElemWiseOneSource.
func (b *BlockElemWise[T]) Run(gmC arch.Tensor[T], layoutC layout.RowMajor, gmX arch.Tensor[T], layoutX layout.RowMajor,
	gmD arch.Tensor[T], layoutD layout.RowMajor) {
	if b.closed {
		panicf("BlockElemWise.Run after Close")
	}
	core := b.core
	forEachTile(core, layoutD.OrgShape(), b.cfg.UBTileShape, func(origin, shape coord.MatrixCoord) {
		st := b.stage
		core.WaitFlag(arch.VToMTE2, st)
		ubLayout := tile.LoadTile(core, b.ubC[st], b.ld, gmC, layoutC, origin, shape)
		if b.oneSource {
			tile.LoadTile(core, b.ubX[st], b.ld, gmX, layoutX, origin, shape)
		}
		core.SetFlag(arch.MTE2ToV, st)
		core.WaitFlag(arch.MTE2ToV, st)

		n := shape.Row * b.ld
		core.WaitFlag(arch.MTE3ToV, st)
		if b.oneSource {
			tile.ElemWiseAdd(core, b.ubD[st], b.ubC[st], b.ubX[st], n)
		} else {
			tile.Activate(core, b.cfg.Activation, b.ubD[st], b.ubC[st], n)
		}
		core.SetFlag(arch.VToMTE2, st)

		core.SetFlag(arch.VToMTE3, st)
		core.WaitFlag(arch.VToMTE3, st)
		tile.StoreTile(core, gmD, layoutD, origin, b.ubD[st], ubLayout)
		core.SetFlag(arch.MTE3ToV, st)
		b.stage = (st + 1) % b.stages
		b.tiles++
	})
}

// Close waits for the slot-free flags.
func (b *BlockElemWise[T]) Close() {
	if b.closed {
		return
	}
	b.closed = true
	for i := range b.stages {
		b.core.WaitFlag(arch.VToMTE2, i)
		b.core.WaitFlag(arch.MTE3ToV, i)
	}
}
