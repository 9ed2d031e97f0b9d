// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemm"
	"github.com/pkg/errors"
)

// BlockMmad is the ping-pong block GEMM of gemm.MmadAtlasA2Pingpong: while K tile k is multiplied from one
// pair of L1 slots, K tile k+1 is loaded into the other one.
//
// AB is the operand type, C the accumulator and D the output type.
type BlockMmad[AB, C, D dtypes.Supported] struct {
	*engine[AB, C, D]
}

// NewBlockMmad creates the BlockMmad of cfg on the cube core. It must be closed with Close before the core is.
func NewBlockMmad[AB, C, D dtypes.Supported](core *arch.Core, cfg gemm.Config) (*BlockMmad[AB, C, D], error) {
	if _, ok := cfg.Policy.(gemm.MmadAtlasA2Pingpong); !ok {
		return nil, errors.Errorf("NewBlockMmad: policy %v is not MmadAtlasA2Pingpong", cfg.Policy)
	}
	e, err := newEngine[AB, C, D](core, cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "NewBlockMmad")
	}
	return &BlockMmad[AB, C, D]{e}, nil
}

// Run issues the computation of the output tile t.
func (b *BlockMmad[AB, C, D]) Run(t Tile[AB, D]) {
	if !b.checkTile(t) {
		return
	}
	b.beginTile(t)
	kTiles := b.kTiles(t)
	b.loadL1(t, 0, b.l1Idx, false)
	for kt := range kTiles {
		slot := b.l1Idx
		next := (slot + 1) % b.stages
		if kt+1 < kTiles {
			b.loadL1(t, kt+1, next, false)
		}
		b.compute(t, kt, slot, kt == 0)
		b.l1Idx = next
	}
	b.store(t)
}

// Close waits for the slot-free flags: after it, every event of the block is paired.
func (b *BlockMmad[AB, C, D]) Close() {
	b.close()
}
