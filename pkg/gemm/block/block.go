// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package block implements the block-level GEMM of a cube core: one output tile at a time, it streams
// the K tiles of A and B through double-buffered L1 and L0 slots, accumulates into L0C and stores the
// result with the fixpipe.
//
// BlockMmad (policy gemm.MmadAtlasA2Pingpong) ping-pongs the K tiles of one output tile. BlockGemm
// (gemm.MmadAtlasA2Preload and gemm.GemmAtlasA2) also preloads the first K tile of the next output tile,
// optionally starting the K loop at a per-block offset (shuffle-K) and alternating the load order of A and B
// (ABBA), with L0C split in several slots.
//
// Slots are guarded by hardware events: a slot-free flag is set for every slot when the block is created,
// and waited on by Close, so every SetFlag of a run is paired with a WaitFlag.
package block

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemm"
	"github.com/gomlx/tilegemm/pkg/gemm/tile"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stage of the block pipeline, as last issued by the scalar unit.
type Stage int

//go:generate go tool enumer -type=Stage -trimprefix=Stage -output=gen_stage_enumer.go block.go

const (
	StageLoadA Stage = iota
	StageLoadB
	StageComputeMac
	StageDone
)

func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// Tile is one output tile of a block GEMM and the GM operands it reads.
type Tile[AB, D dtypes.Supported] struct {
	// A is M x K, described by LayoutA starting at the first element of A.
	A       arch.Tensor[AB]
	LayoutA layout.Matrix

	// B is K x N.
	B       arch.Tensor[AB]
	LayoutB layout.Matrix

	// C is the M x N output.
	C       arch.Tensor[D]
	LayoutC layout.Matrix

	// Shape is the actual (M, N, K) of the tile, clamped at the edges of the problem.
	Shape coord.GemmCoord

	// Column of the first output column of the tile: where its bias and per-channel scales start.
	Column int
}

// Bias is a bias vector in GM, added to every row of the product. Its elements are widened to the
// accumulator type C when moved to the bias table.
type Bias[C dtypes.Supported] struct {
	dtype dtypes.DType
	toL1  func(core *arch.Core, l1Offset, col, n int)
	toBT  func(core *arch.Core, l1Offset int, bt arch.Tensor[C], n int)
}

// GmBias returns the Bias read from gm, a vector of elements of type B.
func GmBias[C, B dtypes.Supported](gm arch.Tensor[B]) Bias[C] {
	l1 := func(core *arch.Core, offset int) arch.Tensor[B] {
		return arch.GetBufferByByteAt[B](core.Resource().L1, arch.PositionC1, offset)
	}
	return Bias[C]{
		dtype: dtypes.FromGenericsType[B](),
		toL1: func(core *arch.Core, l1Offset, col, n int) {
			tile.CopyVectorToL1(core, l1(core, l1Offset), gm.Offset(col), n)
		},
		toBT: func(core *arch.Core, l1Offset int, bt arch.Tensor[C], n int) {
			tile.CopyL1ToBT(core, bt, l1(core, l1Offset), n)
		},
	}
}

// engine holds the state shared by BlockMmad and BlockGemm.
type engine[AB, C, D dtypes.Supported] struct {
	core *arch.Core
	cfg  gemm.Config
	part gemm.Partition
	copy tile.TileCopy[AB, C, D]

	stages             int
	eventBase          int
	l1AShape, l1BShape coord.MatrixCoord

	l1A, l1B []arch.Tensor[AB]
	l0A, l0B []arch.Tensor[AB]
	l0C      []arch.Tensor[C]
	bt       arch.Tensor[C]
	l1Scale  arch.Tensor[float32]
	fb       arch.Tensor[float32]

	bias       *Bias[C]
	gmScales   arch.Tensor[float32]
	perChannel bool

	l1Idx, l0Idx, l0CIdx int
	stage                Stage
	tiles                int
	closed               bool
}

// newEngine validates cfg against the type parameters and the core, partitions the on-chip memories
// and sets the slot-free flags.
func newEngine[AB, C, D dtypes.Supported](core *arch.Core, cfg gemm.Config) (e *engine[AB, C, D], err error) {
	cfg = cfg.WithDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	err = exceptions.TryCatch[error](func() {
		checkTypes[AB, C, D](cfg)
		if core.Kind() != arch.CoreKindCube {
			panicf("block GEMM requires a cube core, got a %s core", core.Kind())
		}
		if core.Config().Tag.Name != cfg.Arch.Name {
			panicf("block GEMM configured for %s running on %s", cfg.Arch.Name, core.Config().Tag.Name)
		}
		e = buildEngine[AB, C, D](core, cfg)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func checkTypes[AB, C, D dtypes.Supported](cfg gemm.Config) {
	for _, check := range []struct {
		name      string
		got, want dtypes.DType
	}{
		{"A/B", dtypes.FromGenericsType[AB](), cfg.A.DType},
		{"accumulator", dtypes.FromGenericsType[C](), cfg.Accumulator()},
		{"output", dtypes.FromGenericsType[D](), cfg.C.DType},
	} {
		if check.got != check.want {
			panicf("block GEMM %s type %s doesn't match the configuration %s", check.name, check.got, cfg)
		}
	}
}

func buildEngine[AB, C, D dtypes.Supported](core *arch.Core, cfg gemm.Config) *engine[AB, C, D] {
	l1A, _ := gemm.L1AType(cfg.A)
	l1B, _ := gemm.L1BType(cfg.B)
	e := &engine[AB, C, D]{
		core:       core,
		cfg:        cfg,
		part:       cfg.Partition(),
		copy:       tile.NewTileCopy[AB, C, D](l1A.Layout, l1B.Layout, tile.Quant{Mode: cfg.QuantMode()}),
		stages:     cfg.Policy.Stages(),
		eventBase:  cfg.Region.EventBase,
		l1AShape:   cfg.L1TileShape.MK(),
		l1BShape:   cfg.L1TileShape.KN(),
		perChannel: cfg.ScaleGranularity == gemm.ScaleGranularityPerChannel,
	}
	res := core.Resource()
	p := e.part
	for i := range e.stages {
		e.l1A = append(e.l1A, arch.GetBufferByByteAt[AB](res.L1, arch.PositionA1, p.L1A[i]).Limit(p.L1ATileLen))
		e.l1B = append(e.l1B, arch.GetBufferByByteAt[AB](res.L1, arch.PositionB1, p.L1B[i]).Limit(p.L1BTileLen))
		e.l0A = append(e.l0A, arch.GetBufferByByte[AB](res.L0A, p.L0A[i]).Limit(p.L0ATileLen))
		e.l0B = append(e.l0B, arch.GetBufferByByte[AB](res.L0B, p.L0B[i]).Limit(p.L0BTileLen))
	}
	for _, offset := range p.L0C {
		e.l0C = append(e.l0C, arch.GetBufferByByte[C](res.L0C, offset).Limit(p.L0CTileLen))
	}
	if cfg.HasBias() {
		e.bt = arch.GetBufferByByte[C](res.BT, 0)
	}
	if e.perChannel {
		e.l1Scale = arch.GetBufferByByteAt[float32](res.L1, arch.PositionC1, p.L1Scale)
		e.fb = arch.GetBufferByByte[float32](res.FB, 0)
	}
	if klog.V(2).Enabled() {
		klog.Infof("block %d: %s, %s", core.BlockIdx(), cfg, p)
	}

	for i := range e.stages {
		core.SetFlag(arch.MTE1ToMTE2, e.l1AEvent(i))
		core.SetFlag(arch.MTE1ToMTE2, e.l1BEvent(i))
		core.SetFlag(arch.MToMTE1, e.l0Event(i))
	}
	for i := range e.l0C {
		core.SetFlag(arch.FixToM, e.l0CEvent(i))
	}
	if cfg.HasBias() {
		core.SetFlag(arch.MTE1ToMTE2, e.l1BiasEvent())
		core.SetFlag(arch.MToMTE1, e.btEvent())
	}
	if e.perChannel {
		core.SetFlag(arch.FixToMTE2, e.scaleEvent())
	}
	return e
}

// Event ids, relative to the Region.EventBase of the configuration: L1 slots of A use [0, stages), of B
// [stages, 2*stages) and the bias slot 2*stages. L0 slot pairs use [0, stages) and the bias table stages.
// L0C slots use [0, len(l0C)) and the L1 slot of the per-channel scales 0.
func (e *engine[AB, C, D]) l1AEvent(slot int) int { return e.eventBase + slot }
func (e *engine[AB, C, D]) l1BEvent(slot int) int { return e.eventBase + e.stages + slot }
func (e *engine[AB, C, D]) l1BiasEvent() int      { return e.eventBase + 2*e.stages }
func (e *engine[AB, C, D]) btEvent() int          { return e.eventBase + e.stages }
func (e *engine[AB, C, D]) l0Event(slot int) int  { return e.eventBase + slot }
func (e *engine[AB, C, D]) l0CEvent(slot int) int { return e.eventBase + slot }
func (e *engine[AB, C, D]) scaleEvent() int       { return e.eventBase }

// SetBias sets the bias added to the following tiles. It is required if the configuration has a bias.
func (e *engine[AB, C, D]) SetBias(bias Bias[C]) {
	if !e.cfg.HasBias() {
		panicf("SetBias: the configuration %s has no bias", e.cfg)
	}
	if bias.dtype != e.cfg.Bias {
		panicf("SetBias: bias of %s, but the configuration expects %s", bias.dtype, e.cfg.Bias)
	}
	e.bias = &bias
}

// SetScales sets the per-channel descale vector (one float32 per output column) of the following tiles.
// It is required if the configuration has gemm.ScaleGranularityPerChannel.
func (e *engine[AB, C, D]) SetScales(gm arch.Tensor[float32]) {
	if !e.perChannel {
		panicf("SetScales: the configuration %s has no per-channel scales", e.cfg)
	}
	e.gmScales = gm
}

// SetDequantScale sets the per-tensor descale of gemm.ScaleGranularityPerTensor.
func (e *engine[AB, C, D]) SetDequantScale(scale float32) {
	e.copy.Quant.Scalar = scale
}

// Stage returns the last stage issued.
func (e *engine[AB, C, D]) Stage() Stage { return e.stage }

// Config returns the validated configuration of the block.
func (e *engine[AB, C, D]) Config() gemm.Config { return e.cfg }

// Partition returns the on-chip allocation of the block.
func (e *engine[AB, C, D]) Partition() gemm.Partition { return e.part }

func (e *engine[AB, C, D]) setStage(s Stage) {
	e.stage = s
	if klog.V(3).Enabled() {
		klog.Infof("block %d: tile %d %s", e.core.BlockIdx(), e.tiles, s)
	}
}

// checkTile rejects tiles that don't fit the configured tile shapes. It returns false for empty outputs.
func (e *engine[AB, C, D]) checkTile(t Tile[AB, D]) bool {
	if e.closed {
		panicf("block GEMM used after Close")
	}
	s, l1 := t.Shape, e.cfg.L1TileShape
	if s.M < 0 || s.N < 0 || s.M > l1.M || s.N > l1.N {
		panicf("tile %s doesn't fit the L1 tile %s", s, l1)
	}
	if s.M == 0 || s.N == 0 {
		return false
	}
	if s.K <= 0 {
		panicf("tile %s has no K", s)
	}
	if e.cfg.HasBias() && e.bias == nil {
		panicf("the configuration %s has a bias, but SetBias was not called", e.cfg)
	}
	if e.perChannel && e.gmScales.IsNil() {
		panicf("the configuration %s has per-channel scales, but SetScales was not called", e.cfg)
	}
	return true
}

// beginTile loads the bias and the scales of the tile.
func (e *engine[AB, C, D]) beginTile(t Tile[AB, D]) {
	core := e.core
	n := t.Shape.N
	if e.cfg.HasBias() {
		core.WaitFlag(arch.MTE1ToMTE2, e.l1BiasEvent())
		e.bias.toL1(core, e.part.L1Bias, t.Column, n)
		core.SetFlag(arch.MTE2ToMTE1, e.l1BiasEvent())
	}
	if e.perChannel {
		core.WaitFlag(arch.FixToMTE2, e.scaleEvent())
		tile.CopyVectorToL1(core, e.l1Scale, e.gmScales.Offset(t.Column), n)
		core.SetFlag(arch.MTE2ToFix, e.scaleEvent())
	}
}

// kTiles returns the number of L1 K tiles of t.
func (e *engine[AB, C, D]) kTiles(t Tile[AB, D]) int {
	return coord.CeilDiv(t.Shape.K, e.cfg.L1TileShape.K)
}

// kExtent returns the offset and the length of K tile kt.
func (e *engine[AB, C, D]) kExtent(t Tile[AB, D], kt int) (offset, length int) {
	offset = kt * e.cfg.L1TileShape.K
	return offset, min(e.cfg.L1TileShape.K, t.Shape.K-offset)
}

// loadL1 moves K tile kt of A and B to the L1 slot, B first if bFirst.
func (e *engine[AB, C, D]) loadL1(t Tile[AB, D], kt, slot int, bFirst bool) {
	core := e.core
	kOffset, k := e.kExtent(t, kt)
	m, n := t.Shape.M, t.Shape.N
	loadA := func() {
		e.setStage(StageLoadA)
		offset, l := tile.SubMatrix(t.LayoutA, coord.MakeMatrixCoord(0, kOffset), coord.MakeMatrixCoord(m, k))
		core.WaitFlag(arch.MTE1ToMTE2, e.l1AEvent(slot))
		e.copy.CopyGmToL1A(core, e.l1A[slot], e.l1AShape, t.A.Offset(offset), l)
		core.SetFlag(arch.MTE2ToMTE1, e.l1AEvent(slot))
	}
	loadB := func() {
		e.setStage(StageLoadB)
		offset, l := tile.SubMatrix(t.LayoutB, coord.MakeMatrixCoord(kOffset, 0), coord.MakeMatrixCoord(k, n))
		core.WaitFlag(arch.MTE1ToMTE2, e.l1BEvent(slot))
		e.copy.CopyGmToL1B(core, e.l1B[slot], e.l1BShape, t.B.Offset(offset), l)
		core.SetFlag(arch.MTE2ToMTE1, e.l1BEvent(slot))
	}
	if bFirst {
		loadB()
		loadA()
	} else {
		loadA()
		loadB()
	}
}

// compute multiplies the K tile kt held in the L1 slot, one L0 K tile at a time. first marks the
// first K tile of the output tile: it initializes the accumulator (with the bias, if any).
func (e *engine[AB, C, D]) compute(t Tile[AB, D], kt, slot int, first bool) {
	core := e.core
	e.setStage(StageComputeMac)
	_, k := e.kExtent(t, kt)
	m, n := t.Shape.M, t.Shape.N
	l0K := e.cfg.L0TileShape.K
	l0C := e.l0C[e.l0CIdx]

	core.WaitFlag(arch.MTE2ToMTE1, e.l1AEvent(slot))
	core.WaitFlag(arch.MTE2ToMTE1, e.l1BEvent(slot))
	parts := coord.CeilDiv(k, l0K)
	for p := range parts {
		l0 := e.l0Idx
		kOffset := p * l0K
		kPart := min(l0K, k-kOffset)
		core.WaitFlag(arch.MToMTE1, e.l0Event(l0))
		e.copy.CopyL1ToL0A(core, e.l0A[l0], e.l1A[slot], e.l1AShape, kOffset, m, kPart)
		e.copy.CopyL1ToL0B(core, e.l0B[l0], e.l1B[slot], e.l1BShape, kOffset, kPart, n)
		if p == parts-1 {
			core.SetFlag(arch.MTE1ToMTE2, e.l1AEvent(slot))
			core.SetFlag(arch.MTE1ToMTE2, e.l1BEvent(slot))
		}
		initC := first && p == 0
		withBias := initC && e.cfg.HasBias()
		if withBias {
			core.WaitFlag(arch.MTE2ToMTE1, e.l1BiasEvent())
			core.WaitFlag(arch.MToMTE1, e.btEvent())
			e.bias.toBT(core, e.part.L1Bias, e.bt, n)
			core.SetFlag(arch.MTE1ToMTE2, e.l1BiasEvent())
		}
		core.SetFlag(arch.MTE1ToM, e.l0Event(l0))
		core.WaitFlag(arch.MTE1ToM, e.l0Event(l0))
		if initC {
			core.WaitFlag(arch.FixToM, e.l0CEvent(e.l0CIdx))
		}
		if withBias {
			tile.TileMmadWithBias(core, l0C, e.l0A[l0], e.l0B[l0], e.bt, m, n, kPart)
			core.SetFlag(arch.MToMTE1, e.btEvent())
		} else {
			tile.TileMmad(core, l0C, e.l0A[l0], e.l0B[l0], m, n, kPart, initC)
		}
		core.SetFlag(arch.MToMTE1, e.l0Event(l0))
		e.l0Idx = (l0 + 1) % e.stages
	}
}

// store moves the accumulator of the tile to GM and releases its L0C slot.
func (e *engine[AB, C, D]) store(t Tile[AB, D]) {
	core := e.core
	c := e.l0CIdx
	core.SetFlag(arch.MToFix, e.l0CEvent(c))
	core.WaitFlag(arch.MToFix, e.l0CEvent(c))
	var scales arch.Tensor[float32]
	if e.perChannel {
		core.WaitFlag(arch.MTE2ToFix, e.scaleEvent())
		tile.CopyL1ToFB(core, e.fb, e.l1Scale, t.Shape.N)
		scales = e.fb
	}
	e.copy.CopyL0CToGm(core, t.C, t.LayoutC, e.l0C[c], scales)
	if e.perChannel {
		core.SetFlag(arch.FixToMTE2, e.scaleEvent())
	}
	core.SetFlag(arch.FixToM, e.l0CEvent(c))
	e.l0CIdx = (c + 1) % len(e.l0C)
	e.tiles++
}

// close waits for the slot-free flags set at construction.
func (e *engine[AB, C, D]) close() {
	if e.closed {
		return
	}
	core := e.core
	for i := range e.stages {
		core.WaitFlag(arch.MTE1ToMTE2, e.l1AEvent(i))
		core.WaitFlag(arch.MTE1ToMTE2, e.l1BEvent(i))
		core.WaitFlag(arch.MToMTE1, e.l0Event(i))
	}
	for i := range e.l0C {
		core.WaitFlag(arch.FixToM, e.l0CEvent(i))
	}
	if e.cfg.HasBias() {
		core.WaitFlag(arch.MTE1ToMTE2, e.l1BiasEvent())
		core.WaitFlag(arch.MToMTE1, e.btEvent())
	}
	if e.perChannel {
		core.WaitFlag(arch.FixToMTE2, e.scaleEvent())
	}
	e.setStage(StageDone)
	e.closed = true
	if klog.V(2).Enabled() {
		klog.Infof("block %d: closed after %d tiles", e.core.BlockIdx(), e.tiles)
	}
}
