// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemm"
	"github.com/pkg/errors"
)

// BlockGemm is the preloading block GEMM of gemm.MmadAtlasA2Preload and gemm.GemmAtlasA2.
//
// Run takes the next output tile of the core, if any: the first K tile of the next output tile is loaded
// while the last K tile of the current one is multiplied.
type BlockGemm[AB, C, D dtypes.Supported] struct {
	*engine[AB, C, D]

	shuffleK, abba bool

	// preloaded is set when the first K tile of the next Run was already loaded.
	preloaded bool
}

// NewBlockGemm creates the BlockGemm of cfg on the cube core. It must be closed with Close before the core is.
func NewBlockGemm[AB, C, D dtypes.Supported](core *arch.Core, cfg gemm.Config) (*BlockGemm[AB, C, D], error) {
	b := &BlockGemm[AB, C, D]{}
	switch p := cfg.Policy.(type) {
	case gemm.MmadAtlasA2Preload:
		b.shuffleK = p.EnableShuffleK
	case gemm.GemmAtlasA2:
		b.shuffleK, b.abba = p.EnableShuffleK, p.EnableABBA
	default:
		return nil, errors.Errorf("NewBlockGemm: policy %v is not a preloading policy", cfg.Policy)
	}
	e, err := newEngine[AB, C, D](core, cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "NewBlockGemm")
	}
	b.engine = e
	return b, nil
}

// kOrder returns the order in which the K tiles are processed: with shuffle-K, starting at the K tile
// BlockIdx mod kTiles.
func (b *BlockGemm[AB, C, D]) kOrder(kTiles int) []int {
	start := 0
	if b.shuffleK && kTiles > 0 {
		start = b.core.BlockIdx() % kTiles
	}
	order := make([]int, kTiles)
	for i := range order {
		order[i] = (start + i) % kTiles
	}
	return order
}

// Run issues the computation of the output tile t. next is the tile the following Run will compute, or
// nil if t is the last one of the core.
func (b *BlockGemm[AB, C, D]) Run(t Tile[AB, D], next *Tile[AB, D]) {
	if !b.checkTile(t) {
		if b.preloaded {
			panicf("BlockGemm.Run: an empty tile can't follow a preloaded one")
		}
		return
	}
	if next != nil && next.Shape.M > 0 && next.Shape.N > 0 {
		b.checkTile(*next)
	} else {
		next = nil
	}
	order := b.kOrder(b.kTiles(t))
	if !b.preloaded {
		b.loadL1(t, order[0], b.l1Idx, false)
	}
	b.beginTile(t)
	for i, kt := range order {
		slot := b.l1Idx
		nextSlot := (slot + 1) % b.stages
		switch {
		case i+1 < len(order):
			b.loadL1(t, order[i+1], nextSlot, b.abba && (i+1)%2 == 1)
		case next != nil:
			b.loadL1(*next, b.kOrder(b.kTiles(*next))[0], nextSlot, false)
		}
		b.compute(t, kt, slot, i == 0)
		b.l1Idx = nextSlot
	}
	b.preloaded = next != nil
	b.store(t)
}

// Close waits for the slot-free flags. A tile preloaded but never run is discarded.
func (b *BlockGemm[AB, C, D]) Close() {
	if b.closed {
		return
	}
	if b.preloaded {
		slot := b.l1Idx
		b.core.WaitFlag(arch.MTE2ToMTE1, b.l1AEvent(slot))
		b.core.WaitFlag(arch.MTE2ToMTE1, b.l1BEvent(slot))
		b.core.SetFlag(arch.MTE1ToMTE2, b.l1AEvent(slot))
		b.core.SetFlag(arch.MTE1ToMTE2, b.l1BEvent(slot))
		b.preloaded = false
	}
	b.close()
}
