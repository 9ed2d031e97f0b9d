// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	gemmtile "github.com/gomlx/tilegemm/pkg/gemm/tile"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// Event ids of RescaleO.
const (
	rescaleLoEvent0 = 3 // and 4, on VToMTE2/MTE2ToV
	rescaleLoEvents = 2
	rescaleOutEvent = 2 // on MTE3ToV/VToMTE3
	rescaleLSEEvent = 3
)

// AttentionOutput is where RescaleO writes the rows of a block of queries.
type AttentionOutput[D dtypes.Float] struct {
	// O receives the rows of group g from O.Offset(g*GroupStride), laid out by Layout: at least the rows of
	// a group and HeadDim columns.
	O           arch.Tensor[D]
	Layout      layout.RowMajor
	GroupStride int

	// LSE, if not nil, receives the log-sum-exp of row i of group g at LSE.Offset(g*LSEGroupStride + i).
	LSE            arch.Tensor[float32]
	LSEGroupStride int
}

// RescaleO accumulates the partial outputs P_j·V_j of flash attention, on the rows of the sub-block of the
// OnlineSoftmax it's built on:
//
//	O = O·exp(m_{j-1} - m_j) + P_j·V_j
//
// and after the last tile normalizes O by the running sum and writes it, cast to D. D is T for the final
// output, or float32 for the partial outputs of split-KV attention merged by LSECombine.
type RescaleO[T, D dtypes.Float] struct {
	sm   *OnlineSoftmax[T]
	core *arch.Core
	ld   int
	rows int

	ubGo         arch.Tensor[float32]
	ubLo         []arch.Tensor[float32]
	ubOut        arch.Tensor[D]
	ubLSE, ubBlk arch.Tensor[float32]

	slot   int
	closed bool
}

// NewRescaleO allocates the UB left free by the softmax and sets the slot-free flags.
func NewRescaleO[T, D dtypes.Float](sm *OnlineSoftmax[T]) (*RescaleO[T, D], error) {
	return build("NewRescaleO", func() *RescaleO[T, D] {
		if sm.closed {
			panicf("RescaleO on a closed OnlineSoftmax")
		}
		if sm.rescaling {
			panicf("OnlineSoftmax already has a RescaleO")
		}
		cfg, core := sm.cfg, sm.core
		r := &RescaleO[T, D]{sm: sm, core: core, ld: attentionLd(cfg.HeadDim)}
		r.rows = rowChunk(r.ld, sm.stat)
		res := core.Resource()
		ub := ubAllocator{offset: sm.ubUsed}
		f32 := func(n int) arch.Tensor[float32] { return arch.GetBufferByByte[float32](res.UB, ub.alloc(n*4)) }
		r.ubGo = f32(sm.stat * r.ld)
		for range rescaleLoEvents {
			r.ubLo = append(r.ubLo, f32(r.rows*r.ld))
		}
		r.ubOut = arch.GetBufferByByte[D](res.UB, ub.alloc(r.rows*r.ld*dtypes.FromGenericsType[D]().Size()))
		r.ubLSE = f32(r.rows)
		r.ubBlk = f32(r.rows * arch.BytePerBlk / 4)
		checkUB("OnlineSoftmax+RescaleO", ub.offset, cfg.Arch)
		logAttention("RescaleO", core, cfg, ub.offset)

		for i := range rescaleLoEvents {
			core.SetFlag(arch.VToMTE2, rescaleLoEvent0+i)
		}
		core.SetFlag(arch.MTE3ToV, rescaleOutEvent)
		core.SetFlag(arch.MTE3ToV, rescaleLSEEvent)
		sm.rescaling = true
		return r
	})
}

// Run adds the partial output of the tile of keys stack, read from gmO: the rows of the block, HeadDim
// elements each, one after the other. groupRows, first and stack are the ones given to OnlineSoftmax.Run for
// the tile. With last, O is normalized and written to out.
func (r *RescaleO[T, D]) Run(gmO arch.Tensor[float32], groupRows int, first, last bool, stack int, out AttentionOutput[D]) {
	if r.closed {
		panicf("RescaleO.Run after Close")
	}
	sm, core := r.sm, r.core
	cfg := sm.cfg
	start, n := cfg.share(core.SubBlockIdx(), groupRows)
	gmLayout := layout.NewRowMajor(groupRows*cfg.Groups, cfg.HeadDim)
	dm := sm.ubDm[stack%2]
	for c := 0; c < n; c += r.rows {
		rows := min(r.rows, n-c)
		shape := coord.MakeMatrixCoord(rows, cfg.HeadDim)
		st := r.slot
		lo, o := r.ubLo[st], r.ubGo.Offset(c*r.ld)
		total := rows * r.ld

		core.WaitFlag(arch.VToMTE2, rescaleLoEvent0+st)
		ubLayout := tile.LoadTile(core, lo, r.ld, gmO, gmLayout, coord.MakeMatrixCoord(start+c, 0), shape)
		core.SetFlag(arch.MTE2ToV, rescaleLoEvent0+st)
		core.WaitFlag(arch.MTE2ToV, rescaleLoEvent0+st)
		if first {
			isa.Adds(core, o, lo, 0, total)
		} else {
			tile.BroadcastOneBlk(core, r.ubBlk, dm.Offset(c), rows)
			core.PipeBarrier(arch.PipeV)
			tile.OneBlkColumnBroadcastMul(core, o, o, r.ubBlk, ubLayout)
			core.PipeBarrier(arch.PipeV)
			isa.Add(core, o, o, lo, total)
		}
		core.SetFlag(arch.VToMTE2, rescaleLoEvent0+st)
		core.PipeBarrier(arch.PipeV)
		r.slot = (st + 1) % rescaleLoEvents
		if last {
			r.finish(out, start, c, rows, groupRows, o, ubLayout)
		}
	}
}

// finish normalizes the chunk o of rows rows, starting at row c of the share of the sub-block, and writes it.
func (r *RescaleO[T, D]) finish(out AttentionOutput[D], start, c, rows, groupRows int, o arch.Tensor[float32],
	ubLayout layout.RowMajor) {
	sm, core := r.sm, r.core
	row := start + c
	tile.BroadcastOneBlk(core, r.ubBlk, sm.ubGl.Offset(c), rows)
	core.PipeBarrier(arch.PipeV)
	tile.OneBlkColumnBroadcastDiv(core, o, o, r.ubBlk, ubLayout)
	core.PipeBarrier(arch.PipeV)
	core.WaitFlag(arch.MTE3ToV, rescaleOutEvent)
	tile.Cast(core, r.ubOut, o, rows*r.ld)
	core.SetFlag(arch.VToMTE3, rescaleOutEvent)
	core.WaitFlag(arch.VToMTE3, rescaleOutEvent)
	segments(row, rows, groupRows, func(offset, group, groupRow, count int) {
		tile.StoreTile(core, out.O.Offset(group*out.GroupStride), out.Layout, coord.MakeMatrixCoord(groupRow, 0),
			r.ubOut.Offset(offset*r.ld), tile.UbLayout(coord.MakeMatrixCoord(count, sm.cfg.HeadDim), r.ld))
	})
	core.SetFlag(arch.MTE3ToV, rescaleOutEvent)

	if out.LSE.IsNil() {
		return
	}
	// lse = m + ln(l)
	core.WaitFlag(arch.MTE3ToV, rescaleLSEEvent)
	isa.Ln(core, r.ubLSE, sm.ubGl.Offset(c), rows)
	core.PipeBarrier(arch.PipeV)
	isa.Add(core, r.ubLSE, r.ubLSE, sm.ubGm.Offset(c), rows)
	core.SetFlag(arch.VToMTE3, rescaleLSEEvent)
	core.WaitFlag(arch.VToMTE3, rescaleLSEEvent)
	segments(row, rows, groupRows, func(offset, group, groupRow, count int) {
		gemmtile.CopyVectorUbToGm(core, out.LSE.Offset(group*out.LSEGroupStride+groupRow), r.ubLSE.Offset(offset), count)
	})
	core.SetFlag(arch.MTE3ToV, rescaleLSEEvent)
}

// Close waits for the slot-free flags, after which the softmax can be closed.
func (r *RescaleO[T, D]) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for i := range rescaleLoEvents {
		r.core.WaitFlag(arch.VToMTE2, rescaleLoEvent0+i)
	}
	r.core.WaitFlag(arch.MTE3ToV, rescaleOutEvent)
	r.core.WaitFlag(arch.MTE3ToV, rescaleLSEEvent)
	r.sm.rescaling = false
}
