// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemm"
	gemmtile "github.com/gomlx/tilegemm/pkg/gemm/tile"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// padPlan is a padding copy seen as row-major: a column-major matrix is padded as its transpose.
type padPlan struct {
	src        layout.RowMajor
	dst        layout.PaddingRowMajor
	block      coord.MatrixCoord
	blockGrid  coord.MatrixCoord
	ubLd       int
	chunkRows  int
	chunkBytes int
}

func (p padPlan) blocks() int { return p.blockGrid.Row * p.blockGrid.Column }

// newPadPlan checks that a block row fits in UB, double buffered, and splits the blocks in chunks of rows that do.
func newPadPlan[T dtypes.Supported](src layout.RowMajor, dst layout.PaddingRowMajor, tag arch.Tag) padPlan {
	p := padPlan{src: src, dst: dst, block: dst.BlockShape()}
	p.blockGrid = src.OrgShape().CeilDiv(p.block)
	size := dtypes.FromGenericsType[T]().Size()
	p.ubLd = coord.RoundUp(p.block.Column, arch.BytePerBlk/size)
	rowBytes := p.ubLd * size
	if 2*rowBytes > tag.UBSize {
		panicf("padding blocks of %d columns don't fit the UB of %s", p.block.Column, tag.Name)
	}
	p.chunkRows = min(p.block.Row, tag.UBSize/2/rowBytes)
	p.chunkBytes = coord.RoundUp(p.chunkRows*rowBytes, arch.BytePerBlk)
	return p
}

// Pad copies src, row-major or column-major, to a padded layout of blockRows x blockCols blocks: PaddingRowMajor
// or PaddingColumnMajor respectively. The padding elements of the edge blocks are left zero. Each vector core
// of the launch takes every (BlockNum·SubBlockNum)-th block, moving it through UB with two buffers.
func Pad[T dtypes.Supported](src Matrix[T], blockRows, blockCols int, opts LaunchOptions) (
	padded Matrix[T], report arch.LaunchReport, err error) {
	var p padPlan
	err = checked("pad", func() {
		if src.Layout == nil {
			panicf("operand has no layout")
		}
		shape := src.Layout.OrgShape()
		src.check("src", shape.Row, shape.Column)
		if blockRows <= 0 || blockCols <= 0 {
			panicf("invalid padding blocks %d x %d", blockRows, blockCols)
		}
		tag := opts.Exec.WithDefaults().Tag
		switch l := src.Layout.(type) {
		case layout.RowMajor:
			dst := layout.NewPaddingRowMajor(shape.Row, shape.Column, blockRows, blockCols)
			p = newPadPlan[T](l, dst, tag)
			padded = Matrix[T]{Data: make([]T, dst.Span()), Layout: dst}
		case layout.ColumnMajor:
			dst := layout.NewPaddingColumnMajor(shape.Row, shape.Column, blockRows, blockCols)
			p = newPadPlan[T](l.Transposed(), layout.NewPaddingRowMajor(shape.Column, shape.Row, blockCols, blockRows), tag)
			padded = Matrix[T]{Data: make([]T, dst.Span()), Layout: dst}
		default:
			panicf("can't pad a %s operand", src.Layout.Kind())
		}
	})
	if err != nil {
		return
	}
	gmSrc, gmDst := src.tensor(), padded.tensor()
	report, err = launch(opts, coord.CeilDiv(p.blocks(), arch.SubBlockNum), padded.String(), arch.Kernel{
		Name: "pad",
		Vector: func(core *arch.Core) {
			ub := core.Resource().UB
			bufs := [2]arch.Tensor[T]{arch.GetBufferByByte[T](ub, 0), arch.GetBufferByByte[T](ub, p.chunkBytes)}
			core.SetFlag(arch.MTE3ToMTE2, 0)
			core.SetFlag(arch.MTE3ToMTE2, 1)
			slot := 0
			for i := core.VectorIdx(); i < p.blocks(); i += core.BlockNum() * core.SubBlockNum() {
				origin := coord.MakeMatrixCoord(i/p.blockGrid.Column, i%p.blockGrid.Column).Mul(p.block)
				extent := p.block.Min(p.src.OrgShape().Sub(origin))
				for r := 0; r < extent.Row; r += p.chunkRows {
					rows := min(p.chunkRows, extent.Row-r)
					at := coord.MakeMatrixCoord(origin.Row+r, origin.Column)
					ubLayout := layout.NewRowMajorLd(rows, extent.Column, p.ubLd)
					core.WaitFlag(arch.MTE3ToMTE2, slot)
					gemmtile.CopyGmToUb(core, bufs[slot], ubLayout, gmSrc.Offset(p.src.Offset(at)),
						layout.NewRowMajorLd(rows, extent.Column, p.src.Ldm()))
					core.SetFlag(arch.MTE2ToMTE3, slot)
					core.WaitFlag(arch.MTE2ToMTE3, slot)
					gemmtile.CopyUbToGm(core, gmDst.Offset(p.dst.Offset(at)),
						layout.NewRowMajorLd(rows, extent.Column, p.block.Column), bufs[slot], ubLayout)
					core.SetFlag(arch.MTE3ToMTE2, slot)
					slot = 1 - slot
				}
			}
			core.WaitFlag(arch.MTE3ToMTE2, 0)
			core.WaitFlag(arch.MTE3ToMTE2, 1)
		},
	})
	return
}

// paddedKind returns the padded counterpart of a plain layout kind.
func paddedKind(kind layout.Kind) layout.Kind {
	if kind == layout.KindColumnMajor {
		return layout.KindPaddingColumnMajor
	}
	return layout.KindPaddingRowMajor
}

// PaddingMatmul computes C = A·B like Matmul, after copying A and B with Pad to blocks of the L1 tile shapes:
// every transfer to L1 then reads whole contiguous blocks, whatever the leading dimensions of the operands.
// The returned report sums the three launches.
func PaddingMatmul[AB, C, D dtypes.Supported](a, b Matrix[AB], c Matrix[D], opts MatmulOptions) (report arch.LaunchReport, err error) {
	var cfg gemm.Config
	err = checked("padding-matmul", func() {
		p := newGemmOperands(a, b, c)
		cfg = checkGemm[AB, C, D](opts.Gemm, p)
		checkPlainOutput(cfg)
		for _, op := range []struct {
			name string
			kind layout.Kind
		}{{"A", cfg.A.Layout}, {"B", cfg.B.Layout}} {
			if op.kind != layout.KindRowMajor && op.kind != layout.KindColumnMajor {
				panicf("operand %s must be row-major or column-major to be padded, got %s", op.name, op.kind)
			}
		}
	})
	if err != nil {
		return
	}
	l1 := cfg.L1TileShape
	merge := func(r arch.LaunchReport) {
		report.Stats.Add(r.Stats)
		report.Elapsed += r.Elapsed
	}
	pa, ra, err := Pad(a, l1.M, l1.K, opts.LaunchOptions)
	if err != nil {
		return
	}
	pb, rb, err := Pad(b, l1.K, l1.N, opts.LaunchOptions)
	if err != nil {
		return
	}
	cfg.A.Layout, cfg.B.Layout = paddedKind(cfg.A.Layout), paddedKind(cfg.B.Layout)
	paddedOpts := opts
	paddedOpts.Gemm = cfg
	report, err = matmul[AB, C, D]("padding-matmul", pa, pb, c, paddedOpts, func(cfg gemm.Config, _ gemmOperands[AB, D]) {
		checkPlainOutput(cfg)
	}, nil)
	merge(ra)
	merge(rb)
	return
}

// checkPlainOutput panics if cfg needs the bias or the scales of MatmulBias or QuantMatmul.
func checkPlainOutput(cfg gemm.Config) {
	g := cfg.ScaleGranularity
	if cfg.HasBias() || g == gemm.ScaleGranularityPerTensor || g == gemm.ScaleGranularityPerChannel {
		panicf("%s needs the bias or scales of MatmulBias or QuantMatmul", cfg)
	}
}
