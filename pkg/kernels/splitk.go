// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	"github.com/gomlx/tilegemm/pkg/gemm"
	gemmblock "github.com/gomlx/tilegemm/pkg/gemm/block"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// SplitKOptions configure SplitKMatmul.
type SplitKOptions struct {
	MatmulOptions

	// SplitK is the number of slices K is divided in. It is clamped to the number of K tiles.
	SplitK int

	// UBTileShape is the part of the output reduced at once by a vector core. The zero value means (32, 256).
	UBTileShape coord.MatrixCoord
}

// SplitKMatmul computes C = A·B dividing K in SplitK slices, so that a few large output tiles keep more cores
// busy. Each task multiplies one output tile over one slice into a float32 workspace; once every cube core is
// done, the vector cores of the launch sum the slices and convert the result to D. C must be row-major.
func SplitKMatmul[AB, D dtypes.Float](a, b Matrix[AB], c Matrix[D], opts SplitKOptions) (report arch.LaunchReport, err error) {
	var (
		cfg      gemm.Config
		p        gemmOperands[AB, float32]
		lc       layout.RowMajor
		ubTile   coord.MatrixCoord
		sw       gemmblock.SplitKBlockSwizzle
		sliceLen int
	)
	err = checked("split-k-matmul", func() {
		if a.Layout == nil || b.Layout == nil {
			panicf("operands A and B need a layout")
		}
		m, n := a.Layout.OrgShape().Row, b.Layout.OrgShape().Column
		if opts.SplitK < 1 {
			panicf("invalid SplitK %d", opts.SplitK)
		}
		gemmCfg := opts.Gemm.WithDefaults()
		sw = gemmblock.NewSplitKBlockSwizzle(coord.MakeGemmCoord(m, n, a.Layout.OrgShape().Column), gemmCfg.L1TileShape,
			opts.SplitK)
		sliceLen = m * n
		p = newGemmOperands(a, b, RowMajor(make([]float32, sw.SplitK*sliceLen), m, n))
		gemmCfg.C = gemm.GmType(dtypes.Float32, layout.KindRowMajor)
		cfg = checkGemm[AB, float32, float32](gemmCfg, p)
		c.check("C", m, n)
		lc = c.rowMajor("C")
		ubTile = opts.UBTileShape
		if ubTile == (coord.MatrixCoord{}) {
			ubTile = coord.MakeMatrixCoord(32, 256)
		}
		newSplitKReduce[D](ubTile, sw.SplitK, gemmCfg.Arch)
	})
	if err != nil {
		return
	}
	l1 := cfg.L1TileShape
	ws := p.c
	tileAt := func(idx int) gemmblock.Tile[AB, float32] {
		bc := sw.BlockCoord(idx)
		t := p.tile(bc.M*l1.M, bc.N*l1.N, bc.K*l1.K, sw.ActualBlockShape(bc, idx))
		t.C = t.C.Offset(sw.SliceIdx(idx) * sliceLen)
		return t
	}
	gmC := c.tensor()
	wsLayout := p.lc.(layout.RowMajor)
	return launch(opts.LaunchOptions, sw.CoreLoops(), fmt.Sprintf("%s splitK=%d", p.shape, sw.SplitK), arch.Kernel{
		Name: "split-k-matmul",
		Cube: func(core *arch.Core) {
			runCube[AB, float32, float32](core, cfg, coreTasks(core, sw.CoreLoops()), tileAt, nil, nil)
			core.CrossCoreSetFlag(arch.CrossCorePair, arch.PipeFIX, flagCubeDone)
		},
		Vector: func(core *arch.Core) {
			// All slices of a tile are complete once every cube core is done: wait for the own cube core, and
			// then for the vector cores of all the others.
			core.CrossCoreWaitFlag(flagCubeDone)
			core.CrossCoreBarrier(arch.CrossCoreAll, arch.PipeMTE3)
			r := newSplitKReduce[D](ubTile, sw.SplitK, cfg.Arch)
			r.start(core)
			swz := tile.NewIdentityTileSwizzle(p.shape.MN(), ubTile)
			for i := core.VectorIdx(); i < swz.Loops(); i += core.BlockNum() * core.SubBlockNum() {
				tc := swz.TileCoord(i)
				r.run(core, ws, wsLayout, sliceLen, gmC, lc, tc.Mul(ubTile), swz.ActualTileShape(tc))
			}
			r.close(core)
		},
	})
}

// Event ids of splitKReduce: the accumulator and the two input slots on MTE2/V, the output on V/MTE3.
const (
	reduceAccEvent = 0
	reduceInEvent0 = 1
	reduceOutEvent = 0
)

// splitKReduce sums the slices of the float32 workspace of SplitKMatmul in UB, one tile at a time, and
// converts the sum to D.
type splitKReduce[D dtypes.Float] struct {
	ubTile coord.MatrixCoord
	splitK int
	ld     int
	used   int
	acc    arch.Tensor[float32]
	in     [2]arch.Tensor[float32]
	out    arch.Tensor[D]
}

// newSplitKReduce plans the UB of the reduction. It panics if it doesn't fit the architecture.
func newSplitKReduce[D dtypes.Float](ubTile coord.MatrixCoord, splitK int, tag arch.Tag) *splitKReduce[D] {
	if ubTile.Row <= 0 || ubTile.Column <= 0 {
		panicf("invalid UB tile shape %s", ubTile)
	}
	narrowest := min(dtypes.FromGenericsType[D]().Size(), 4)
	r := &splitKReduce[D]{ubTile: ubTile, splitK: splitK, ld: coord.RoundUp(ubTile.Column, arch.BytePerBlk/narrowest)}
	if r.ld/(arch.BytePerBlk/4) > arch.MaxRepeatStride {
		panicf("UB tile %s: rows too long for the vector unit", ubTile)
	}
	tileBytes := coord.RoundUp(ubTile.Row*r.ld*4, arch.BytePerBlk)
	r.used = 3*tileBytes + coord.RoundUp(ubTile.Row*r.ld*dtypes.FromGenericsType[D]().Size(), arch.BytePerBlk)
	if r.used > tag.UBSize {
		panicf("split-K reduction of UB tile %s needs %s of UB, %s has %s", ubTile, humanize.IBytes(uint64(r.used)),
			tag.Name, humanize.IBytes(uint64(tag.UBSize)))
	}
	return r
}

// start allocates the buffers on the core and sets the slot-free flags.
func (r *splitKReduce[D]) start(core *arch.Core) {
	ub := core.Resource().UB
	tileBytes := coord.RoundUp(r.ubTile.Row*r.ld*4, arch.BytePerBlk)
	r.acc = arch.GetBufferByByte[float32](ub, 0)
	r.in[0] = arch.GetBufferByByte[float32](ub, tileBytes)
	r.in[1] = arch.GetBufferByByte[float32](ub, 2*tileBytes)
	r.out = arch.GetBufferByByte[D](ub, 3*tileBytes)
	core.SetFlag(arch.VToMTE2, reduceAccEvent)
	core.SetFlag(arch.VToMTE2, reduceInEvent0)
	core.SetFlag(arch.VToMTE2, reduceInEvent0+1)
	core.SetFlag(arch.MTE3ToV, reduceOutEvent)
}

// run reduces the tile of shape at origin: c = sum over the slices of ws.
func (r *splitKReduce[D]) run(core *arch.Core, ws arch.Tensor[float32], wsLayout layout.RowMajor, sliceLen int,
	c arch.Tensor[D], lc layout.RowMajor, origin, shape coord.MatrixCoord) {
	n := shape.Row * r.ld
	load := func(dst arch.Tensor[float32], slice int) layout.RowMajor {
		return tile.LoadTile(core, dst, r.ld, ws.Offset(slice*sliceLen), wsLayout, origin, shape)
	}
	core.WaitFlag(arch.VToMTE2, reduceAccEvent)
	ubLayout := load(r.acc, 0)
	core.SetFlag(arch.MTE2ToV, reduceAccEvent)
	loadIn := func(slice int) {
		slot := slice % 2
		core.WaitFlag(arch.VToMTE2, reduceInEvent0+slot)
		load(r.in[slot], slice)
		core.SetFlag(arch.MTE2ToV, reduceInEvent0+slot)
	}
	if r.splitK > 1 {
		loadIn(1)
	}
	core.WaitFlag(arch.MTE2ToV, reduceAccEvent)
	for s := 1; s < r.splitK; s++ {
		slot := s % 2
		if s+1 < r.splitK {
			loadIn(s + 1)
		}
		core.WaitFlag(arch.MTE2ToV, reduceInEvent0+slot)
		tile.ElemWiseAdd(core, r.acc, r.acc, r.in[slot], n)
		core.SetFlag(arch.VToMTE2, reduceInEvent0+slot)
		core.PipeBarrier(arch.PipeV)
	}

	core.WaitFlag(arch.MTE3ToV, reduceOutEvent)
	tile.Cast(core, r.out, r.acc, n)
	core.SetFlag(arch.VToMTE2, reduceAccEvent)
	core.SetFlag(arch.VToMTE3, reduceOutEvent)
	core.WaitFlag(arch.VToMTE3, reduceOutEvent)
	tile.StoreTile(core, c, lc, origin, r.out, ubLayout)
	core.SetFlag(arch.MTE3ToV, reduceOutEvent)
}

// close waits for the slot-free flags.
func (r *splitKReduce[D]) close(core *arch.Core) {
	core.WaitFlag(arch.VToMTE2, reduceAccEvent)
	core.WaitFlag(arch.VToMTE2, reduceInEvent0)
	core.WaitFlag(arch.VToMTE2, reduceInEvent0+1)
	core.WaitFlag(arch.MTE3ToV, reduceOutEvent)
}
