// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// Event ids of OnlineSoftmax: the score slots 0 and 1 and the mask on VToMTE2/MTE2ToV, the probability slots
// 0 and 1 on MTE3ToV/VToMTE3.
const softmaxMaskEvent = 2

// OnlineSoftmax is the softmax stage of flash attention, on one sub-block. For each tile of keys j it reads
// the float32 scores S_j of its rows and writes P_j = exp(scale·S_j - m_j), with the element type T the
// cube multiplies by V. It keeps in UB, for each of its rows:
//
//   - the running maximum m_j = max(m_{j-1}, rowmax(scale·S_j)), which never decreases;
//   - the running sum l_j = l_{j-1}·exp(m_{j-1} - m_j) + rowsum(P_j);
//   - the correction exp(m_{j-1} - m_j) of the two last tiles, used by RescaleO.
type OnlineSoftmax[T dtypes.Float] struct {
	core *arch.Core
	cfg  AttentionConfig
	ld   int
	rows int // rows per chunk
	stat int

	ubS              []arch.Tensor[float32]
	ubP              []arch.Tensor[T]
	ubMask           arch.Tensor[T]
	ubMaskF          arch.Tensor[float32]
	ubTmp, ubBlk     arch.Tensor[float32]
	ubLm, ubLl, ubHm arch.Tensor[float32]
	ubGm, ubGl       arch.Tensor[float32]
	ubDm             [2]arch.Tensor[float32]
	ubUsed           int

	slot              int
	closed, rescaling bool
}

// NewOnlineSoftmax partitions the first part of the UB of the vector core: NewRescaleO takes the rest.
func NewOnlineSoftmax[T dtypes.Float](core *arch.Core, cfg AttentionConfig) (*OnlineSoftmax[T], error) {
	return build("NewOnlineSoftmax", func() *OnlineSoftmax[T] {
		cfg = cfg.WithDefaults()
		if err := cfg.Validate(); err != nil {
			panic(err)
		}
		checkVectorCore("OnlineSoftmax", core, cfg.Arch)
		dtype := dtypes.FromGenericsType[T]()
		if dtype == dtypes.Float32 {
			panicf("OnlineSoftmax: P must be float16 or bfloat16 to feed the cube, got %s", dtype)
		}
		sm := &OnlineSoftmax[T]{core: core, cfg: cfg, ld: attentionLd(cfg.BlockN), stat: cfg.statRows()}
		sm.rows = rowChunk(sm.ld, sm.stat)
		chunk := sm.rows * sm.ld
		res := core.Resource()
		var ub ubAllocator
		f32 := func(n int) arch.Tensor[float32] { return arch.GetBufferByByte[float32](res.UB, ub.alloc(n*4)) }
		for range 2 {
			sm.ubS = append(sm.ubS, f32(chunk))
			sm.ubP = append(sm.ubP, arch.GetBufferByByte[T](res.UB, ub.alloc(chunk*dtype.Size())))
		}
		if cfg.Masked {
			sm.ubMask = arch.GetBufferByByte[T](res.UB, ub.alloc(chunk*dtype.Size()))
			sm.ubMaskF = f32(chunk)
		}
		sm.ubTmp = f32(sm.rows * arch.BytePerVectorFractal / 4)
		sm.ubBlk = f32(sm.rows * arch.BytePerBlk / 4)
		sm.ubLm, sm.ubLl, sm.ubHm = f32(sm.rows), f32(sm.rows), f32(sm.rows)
		sm.ubGm, sm.ubGl = f32(sm.stat), f32(sm.stat)
		sm.ubDm = [2]arch.Tensor[float32]{f32(sm.stat), f32(sm.stat)}
		sm.ubUsed = ub.offset
		checkUB("OnlineSoftmax", sm.ubUsed, cfg.Arch)
		logAttention("OnlineSoftmax", core, cfg, sm.ubUsed)

		for i := range 2 {
			core.SetFlag(arch.VToMTE2, i)
			core.SetFlag(arch.MTE3ToV, i)
		}
		core.SetFlag(arch.VToMTE2, softmaxMaskEvent)
		return sm
	})
}

// Config returns the configuration, with its defaults.
func (sm *OnlineSoftmax[T]) Config() AttentionConfig { return sm.cfg }

// Run processes the tile of cols keys whose scores are at gmS, for a block of groupRows query rows per group,
// and writes the probabilities to gmP. Both workspaces hold the rows of the block one after the other with a
// leading dimension of BlockN. first starts a new block of queries, and stack is the index of the tile:
// RescaleO finds the correction of the tile at stack%2.
//
// With a masked configuration gmMask is the mask of the tile: groupRows rows and cols columns described by
// layoutMask, shared by all groups.
func (sm *OnlineSoftmax[T]) Run(gmS arch.Tensor[float32], gmP arch.Tensor[T], gmMask arch.Tensor[T], layoutMask layout.RowMajor,
	groupRows, cols int, first bool, stack int) {
	if sm.closed {
		panicf("OnlineSoftmax.Run after Close")
	}
	if groupRows > sm.cfg.GroupRows || cols > sm.cfg.BlockN || cols <= 0 {
		panicf("OnlineSoftmax.Run: tile of %d rows per group and %d keys exceeds %s", groupRows, cols, sm.cfg)
	}
	core := sm.core
	start, n := sm.cfg.share(core.SubBlockIdx(), groupRows)
	gmLayout := layout.NewRowMajorLd(groupRows*sm.cfg.Groups, cols, sm.cfg.BlockN)
	dm := sm.ubDm[stack%2]
	for c := 0; c < n; c += sm.rows {
		rows := min(sm.rows, n-c)
		shape := coord.MakeMatrixCoord(rows, cols)
		origin := coord.MakeMatrixCoord(start+c, 0)
		st := sm.slot
		s, p := sm.ubS[st], sm.ubP[st]
		total := rows * sm.ld

		core.WaitFlag(arch.VToMTE2, st)
		ubLayout := tile.LoadTile(core, s, sm.ld, gmS, gmLayout, origin, shape)
		core.SetFlag(arch.MTE2ToV, st)
		if sm.cfg.Masked {
			core.WaitFlag(arch.VToMTE2, softmaxMaskEvent)
			segments(start+c, rows, groupRows, func(offset, _, groupRow, count int) {
				tile.LoadTile(core, sm.ubMask.Offset(offset*sm.ld), sm.ld, gmMask, layoutMask,
					coord.MakeMatrixCoord(groupRow, 0), coord.MakeMatrixCoord(count, cols))
			})
			core.SetFlag(arch.MTE2ToV, softmaxMaskEvent)
		}

		core.WaitFlag(arch.MTE2ToV, st)
		tile.ElemWiseMuls(core, s, s, sm.cfg.Scale, total)
		if sm.cfg.Masked {
			maskF := sm.ubMaskF
			core.WaitFlag(arch.MTE2ToV, softmaxMaskEvent)
			tile.Cast(core, maskF, sm.ubMask, total)
			core.SetFlag(arch.VToMTE2, softmaxMaskEvent)
			core.PipeBarrier(arch.PipeV)
			tile.ElemWiseMuls(core, maskF, maskF, maskScale, total)
			core.PipeBarrier(arch.PipeV)
			tile.ElemWiseAdd(core, s, s, maskF, total)
		}
		core.PipeBarrier(arch.PipeV)

		// Running maximum, and the correction of the previous tiles.
		gm, gl := sm.ubGm.Offset(c), sm.ubGl.Offset(c)
		tile.RowReduceMax(core, sm.ubLm, s, sm.ubTmp, ubLayout)
		core.PipeBarrier(arch.PipeV)
		if first {
			isa.Adds(core, gm, sm.ubLm, 0, rows)
		} else {
			isa.Max(core, sm.ubHm, sm.ubLm, gm, rows)
			core.PipeBarrier(arch.PipeV)
			isa.Sub(core, dm.Offset(c), gm, sm.ubHm, rows)
			core.PipeBarrier(arch.PipeV)
			isa.Exp(core, dm.Offset(c), dm.Offset(c), rows)
			isa.Adds(core, gm, sm.ubHm, 0, rows)
		}
		core.PipeBarrier(arch.PipeV)

		// P = exp(S - m).
		tile.BroadcastOneBlk(core, sm.ubBlk, gm, rows)
		core.PipeBarrier(arch.PipeV)
		tile.OneBlkColumnBroadcastSub(core, s, s, sm.ubBlk, ubLayout)
		core.PipeBarrier(arch.PipeV)
		isa.Exp(core, s, s, total)
		core.PipeBarrier(arch.PipeV)
		core.WaitFlag(arch.MTE3ToV, st)
		tile.Cast(core, p, s, total)

		// Running sum.
		tile.RowReduceSum(core, sm.ubLl, s, sm.ubTmp, ubLayout)
		core.SetFlag(arch.VToMTE2, st)
		core.PipeBarrier(arch.PipeV)
		if first {
			isa.Adds(core, gl, sm.ubLl, 0, rows)
		} else {
			isa.Mul(core, gl, gl, dm.Offset(c), rows)
			core.PipeBarrier(arch.PipeV)
			isa.Add(core, gl, gl, sm.ubLl, rows)
		}

		core.SetFlag(arch.VToMTE3, st)
		core.WaitFlag(arch.VToMTE3, st)
		tile.StoreTile(core, gmP, gmLayout, origin, p, ubLayout)
		core.SetFlag(arch.MTE3ToV, st)
		sm.slot = 1 - st
	}
}

// Close waits for the slot-free flags. A RescaleO built on the softmax must be closed first.
func (sm *OnlineSoftmax[T]) Close() {
	if sm.closed {
		return
	}
	if sm.rescaling {
		panicf("OnlineSoftmax.Close before the RescaleO using it")
	}
	sm.closed = true
	for i := range 2 {
		sm.core.WaitFlag(arch.VToMTE2, i)
		sm.core.WaitFlag(arch.MTE3ToV, i)
	}
	sm.core.WaitFlag(arch.VToMTE2, softmaxMaskEvent)
}
