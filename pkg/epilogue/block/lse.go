// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	gemmtile "github.com/gomlx/tilegemm/pkg/gemm/tile"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
	"k8s.io/klog/v2"
)

// Event ids of LSECombine: the log-sum-exps and the two partial output slots on VToMTE2/MTE2ToV, the output
// on MTE3ToV/VToMTE3.
const (
	lseInEvent       = 0
	lsePartialEvent0 = 1
	lseOutEvent      = 0
)

// LSEConfig configures LSECombine.
type LSEConfig struct {
	// Arch is the target architecture. The zero value means arch.AtlasA2.
	Arch arch.Tag

	// Policy must be EpilogueAtlasA2LSECombine.
	Policy DispatchPolicy

	// Splits is the number of partial outputs of each row, HeadDim their number of columns.
	Splits, HeadDim int
}

// WithDefaults fills the architecture and the policy.
func (c LSEConfig) WithDefaults() LSEConfig {
	if c.Arch.Name == "" {
		c.Arch = arch.AtlasA2
	}
	if c.Policy == nil {
		c.Policy = EpilogueAtlasA2LSECombine{}
	}
	return c
}

// Validate checks the configuration and that it fits the UB.
func (c LSEConfig) Validate() error {
	return exceptions.TryCatch[error](c.WithDefaults().validate)
}

func (c LSEConfig) validate() {
	if err := c.Arch.Validate(); err != nil {
		panic(err)
	}
	if _, ok := c.Policy.(EpilogueAtlasA2LSECombine); !ok {
		panicf("lse config: policy %s is not EpilogueAtlasA2LSECombine", c.Policy)
	}
	if c.Splits <= 0 || c.HeadDim <= 0 {
		panicf("lse config: invalid shape %s", c)
	}
	_, used := c.plan()
	checkUB("LSECombine", used, c.Arch)
}

func (c LSEConfig) String() string {
	return fmt.Sprintf("lse.Config{splits=%d, headDim=%d}", c.Splits, c.HeadDim)
}

// plan returns the rows combined at once and the UB they need.
func (c LSEConfig) plan() (rows, used int) {
	ld := attentionLd(c.HeadDim)
	rows = rowChunk(ld, coord.RoundDown(arch.MaxRepeat, arch.BlkNumPerVectorFractal))
	var ub ubAllocator
	ub.alloc(c.Splits * rows * 4) // log-sum-exps, then weights
	for range 4 {                 // 2 partial slots, accumulator, output
		ub.alloc(rows * ld * 4)
	}
	ub.alloc(2 * rows * 4) // max, sum
	ub.alloc(rows * arch.BytePerBlk)
	return rows, ub.offset
}

// LSECombine merges the partial outputs O_s of split-KV attention, each computed over a part of the keys, using
// their log-sum-exps l_s:
//
//	lse = ln Σ_s exp(l_s - max_s l_s) + max_s l_s
//	O = Σ_s exp(l_s - lse)·O_s
type LSECombine[D dtypes.Float] struct {
	core *arch.Core
	cfg  LSEConfig
	ld   int
	rows int

	ubL          arch.Tensor[float32]
	ubO          []arch.Tensor[float32]
	ubAcc, ubBlk arch.Tensor[float32]
	ubMax, ubSum arch.Tensor[float32]
	ubOut        arch.Tensor[D]

	slot   int
	closed bool
}

// NewLSECombine partitions the UB of the vector core and sets the slot-free flags.
func NewLSECombine[D dtypes.Float](core *arch.Core, cfg LSEConfig) (*LSECombine[D], error) {
	return build("NewLSECombine", func() *LSECombine[D] {
		cfg = cfg.WithDefaults()
		if err := cfg.Validate(); err != nil {
			panic(err)
		}
		checkVectorCore("LSECombine", core, cfg.Arch)
		b := &LSECombine[D]{core: core, cfg: cfg, ld: attentionLd(cfg.HeadDim)}
		b.rows, _ = cfg.plan()
		chunk := b.rows * b.ld
		res := core.Resource()
		var ub ubAllocator
		f32 := func(n int) arch.Tensor[float32] { return arch.GetBufferByByte[float32](res.UB, ub.alloc(n*4)) }
		b.ubL = f32(cfg.Splits * b.rows)
		b.ubO = []arch.Tensor[float32]{f32(chunk), f32(chunk)}
		b.ubAcc = f32(chunk)
		b.ubOut = arch.GetBufferByByte[D](res.UB, ub.alloc(chunk*4))
		b.ubMax, b.ubSum = f32(b.rows), f32(b.rows)
		b.ubBlk = f32(b.rows * arch.BytePerBlk / 4)
		klog.V(2).Infof("vector core %d: LSECombine %s, %d rows at once", core.VectorIdx(), cfg, b.rows)

		core.SetFlag(arch.VToMTE2, lseInEvent)
		core.SetFlag(arch.VToMTE2, lsePartialEvent0)
		core.SetFlag(arch.VToMTE2, lsePartialEvent0+1)
		core.SetFlag(arch.MTE3ToV, lseOutEvent)
		return b
	})
}

// Run combines the rows [row, row+n) of the partial outputs. Split s has its outputs at
// gmO.Offset(s*oSplitStride), rows of HeadDim elements one after the other, and its log-sum-exps at
// gmLSE.Offset(s*lseSplitStride). Row i of the result is written at gmOut.Offset(layoutOut.Offset((i, 0))).
func (b *LSECombine[D]) Run(gmO arch.Tensor[float32], oSplitStride int, gmLSE arch.Tensor[float32], lseSplitStride int,
	gmOut arch.Tensor[D], layoutOut layout.RowMajor, row, n int) {
	if b.closed {
		panicf("LSECombine.Run after Close")
	}
	core, splits, hd := b.core, b.cfg.Splits, b.cfg.HeadDim
	gmLayout := layout.NewRowMajor(row+n, hd)
	for c := 0; c < n; c += b.rows {
		rows := min(b.rows, n-c)
		shape := coord.MakeMatrixCoord(rows, hd)
		origin := coord.MakeMatrixCoord(row+c, 0)
		ubLayout := tile.UbLayout(shape, b.ld)
		total := rows * b.ld
		weight := func(s int) arch.Tensor[float32] { return b.ubL.Offset(s * b.rows) }

		core.WaitFlag(arch.VToMTE2, lseInEvent)
		for s := range splits {
			gemmtile.CopyVectorGmToUb(core, weight(s), gmLSE.Offset(s*lseSplitStride+row+c), rows)
		}
		core.SetFlag(arch.MTE2ToV, lseInEvent)
		core.WaitFlag(arch.MTE2ToV, lseInEvent)

		// lse = ln Σ exp(l_s - lMax) + lMax
		isa.Adds(core, b.ubMax, weight(0), 0, rows)
		for s := 1; s < splits; s++ {
			core.PipeBarrier(arch.PipeV)
			isa.Max(core, b.ubMax, b.ubMax, weight(s), rows)
		}
		core.PipeBarrier(arch.PipeV)
		for s := range splits {
			isa.Sub(core, b.ubBlk, weight(s), b.ubMax, rows)
			core.PipeBarrier(arch.PipeV)
			isa.Exp(core, b.ubBlk, b.ubBlk, rows)
			core.PipeBarrier(arch.PipeV)
			if s == 0 {
				isa.Adds(core, b.ubSum, b.ubBlk, 0, rows)
			} else {
				isa.Add(core, b.ubSum, b.ubSum, b.ubBlk, rows)
			}
			core.PipeBarrier(arch.PipeV)
		}
		isa.Ln(core, b.ubSum, b.ubSum, rows)
		core.PipeBarrier(arch.PipeV)
		isa.Add(core, b.ubSum, b.ubSum, b.ubMax, rows)
		core.PipeBarrier(arch.PipeV)

		// w_s = exp(l_s - lse), in place of l_s.
		for s := range splits {
			isa.Sub(core, weight(s), weight(s), b.ubSum, rows)
			core.PipeBarrier(arch.PipeV)
			isa.Exp(core, weight(s), weight(s), rows)
		}
		core.PipeBarrier(arch.PipeV)

		// O = Σ w_s·O_s
		for s := range splits {
			st := b.slot
			o := b.ubO[st]
			core.WaitFlag(arch.VToMTE2, lsePartialEvent0+st)
			tile.LoadTile(core, o, b.ld, gmO.Offset(s*oSplitStride), gmLayout, origin, shape)
			core.SetFlag(arch.MTE2ToV, lsePartialEvent0+st)
			core.WaitFlag(arch.MTE2ToV, lsePartialEvent0+st)
			tile.BroadcastOneBlk(core, b.ubBlk, weight(s), rows)
			core.PipeBarrier(arch.PipeV)
			if s == 0 {
				tile.OneBlkColumnBroadcastMul(core, b.ubAcc, o, b.ubBlk, ubLayout)
			} else {
				tile.OneBlkColumnBroadcastMul(core, o, o, b.ubBlk, ubLayout)
				core.PipeBarrier(arch.PipeV)
				isa.Add(core, b.ubAcc, b.ubAcc, o, total)
			}
			core.SetFlag(arch.VToMTE2, lsePartialEvent0+st)
			core.PipeBarrier(arch.PipeV)
			b.slot = 1 - st
		}
		core.SetFlag(arch.VToMTE2, lseInEvent)

		core.WaitFlag(arch.MTE3ToV, lseOutEvent)
		tile.Cast(core, b.ubOut, b.ubAcc, total)
		core.SetFlag(arch.VToMTE3, lseOutEvent)
		core.WaitFlag(arch.VToMTE3, lseOutEvent)
		tile.StoreTile(core, gmOut, layoutOut, origin, b.ubOut, ubLayout)
		core.SetFlag(arch.MTE3ToV, lseOutEvent)
	}
}

// Close waits for the slot-free flags.
func (b *LSECombine[D]) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.core.WaitFlag(arch.VToMTE2, lseInEvent)
	b.core.WaitFlag(arch.VToMTE2, lsePartialEvent0)
	b.core.WaitFlag(arch.VToMTE2, lsePartialEvent0+1)
	b.core.WaitFlag(arch.MTE3ToV, lseOutEvent)
}
