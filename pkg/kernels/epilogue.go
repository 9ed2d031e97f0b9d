// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	epilogue "github.com/gomlx/tilegemm/pkg/epilogue/block"
	"github.com/gomlx/tilegemm/pkg/gemm"
	gemmblock "github.com/gomlx/tilegemm/pkg/gemm/block"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/janpfeifer/must"
)

// EpilogueOptions configure the matmuls whose output goes through a vector epilogue.
//
// The cube writes each output tile to a row-major workspace in global memory and raises a cross-core flag;
// the vector cores of the same AI core wait for it and run the epilogue on the tile. Gemm.C is replaced by
// the workspace type.
type EpilogueOptions struct {
	MatmulOptions

	// Epilogue configures the vector stage. A nil policy selects the one of the kernel.
	Epilogue epilogue.Config
}

// epilogueRun processes one output tile, given its origin and shape, on a vector core.
type epilogueRun func(origin, shape coord.MatrixCoord)

// newEpilogueFn builds the epilogue of a vector core, reading the products from the workspace (gmWs, wsLayout).
// It returns the function processing one tile and the one closing the epilogue.
type newEpilogueFn[W dtypes.Supported] func(core *arch.Core, gmWs arch.Tensor[W], wsLayout layout.RowMajor) (epilogueRun, func())

// matmulEpilogue launches W = A·B on the cube cores into a workspace, followed by the vector epilogue built by
// newEpilogue for each output tile.
func matmulEpilogue[AB, C, W dtypes.Supported](name string, a, b Matrix[AB], opts MatmulOptions,
	check func(p gemmOperands[AB, W]), newEpilogue newEpilogueFn[W]) (report arch.LaunchReport, err error) {
	var (
		cfg gemm.Config
		p   gemmOperands[AB, W]
	)
	err = checked(name, func() {
		if a.Layout == nil || b.Layout == nil {
			panicf("operands A and B need a layout")
		}
		m, n := a.Layout.OrgShape().Row, b.Layout.OrgShape().Column
		p = newGemmOperands(a, b, RowMajor(make([]W, m*n), m, n))
		gemmCfg := opts.Gemm
		gemmCfg.C = gemm.GmType(dtypes.FromGenericsType[W](), layout.KindRowMajor)
		cfg = checkGemm[AB, C, W](gemmCfg, p)
		check(p)
	})
	if err != nil {
		return
	}
	l1 := cfg.L1TileShape
	sw := opts.swizzle(p.shape, l1)
	tileAt := func(idx int) gemmblock.Tile[AB, W] {
		bc := sw.BlockCoord(idx)
		return p.tile(bc.M*l1.M, bc.N*l1.N, 0, sw.ActualBlockShape(bc))
	}
	wsLayout := p.lc.(layout.RowMajor)
	return launch(opts.LaunchOptions, sw.CoreLoops(), p.shape.String(), arch.Kernel{
		Name: name,
		Cube: func(core *arch.Core) {
			runCube[AB, C, W](core, cfg, coreTasks(core, sw.CoreLoops()), tileAt, nil, func(int) {
				core.CrossCoreSetFlag(arch.CrossCorePair, arch.PipeFIX, flagCubeDone)
			})
		},
		Vector: func(core *arch.Core) {
			run, closeFn := newEpilogue(core, p.c, wsLayout)
			for _, idx := range coreTasks(core, sw.CoreLoops()) {
				bc := sw.BlockCoord(idx)
				shape := sw.ActualBlockShape(bc)
				core.CrossCoreWaitFlag(flagCubeDone)
				run(coord.MakeMatrixCoord(bc.M*l1.M, bc.N*l1.N), shape.MN())
			}
			closeFn()
		},
	})
}

// sub returns the tensor and the layout of the block at origin of a row-major matrix.
func sub[T dtypes.Supported](t arch.Tensor[T], l layout.RowMajor, origin, shape coord.MatrixCoord) (arch.Tensor[T], layout.RowMajor) {
	return t.Offset(l.Offset(origin)), l.TileLayout(shape)
}

func withPolicy(cfg epilogue.Config, policy epilogue.DispatchPolicy) epilogue.Config {
	if cfg.Policy == nil {
		cfg.Policy = policy
	}
	return cfg
}

// MatmulElemWise computes D = act(A·B) with EpilogueAtlasA2ElemWiseNoSource (the default), or D = A·B + X
// with EpilogueAtlasA2ElemWiseOneSource. The product is rounded to D before the epilogue. D and X must be
// row-major; x is ignored without a source.
func MatmulElemWise[AB, C, D dtypes.Float](a, b Matrix[AB], x, d Matrix[D], opts EpilogueOptions) (arch.LaunchReport, error) {
	epiCfg := withPolicy(opts.Epilogue, epilogue.EpilogueAtlasA2ElemWiseNoSource{})
	_, oneSource := epiCfg.Policy.(epilogue.EpilogueAtlasA2ElemWiseOneSource)
	var ld, lx layout.RowMajor
	return matmulEpilogue[AB, C, D]("matmul-elemwise", a, b, opts.MatmulOptions, func(p gemmOperands[AB, D]) {
		d.check("D", p.shape.M, p.shape.N)
		ld = d.rowMajor("D")
		if oneSource {
			x.check("X", p.shape.M, p.shape.N)
			lx = x.rowMajor("X")
		}
		if err := epiCfg.Validate(); err != nil {
			panic(err)
		}
	}, func(core *arch.Core, gmWs arch.Tensor[D], wsLayout layout.RowMajor) (epilogueRun, func()) {
		blk := must.M1(epilogue.NewBlockElemWise[D](core, epiCfg))
		gmD := d.tensor()
		var gmX arch.Tensor[D]
		if oneSource {
			gmX = x.tensor()
		}
		return func(origin, shape coord.MatrixCoord) {
			c, lc := sub(gmWs, wsLayout, origin, shape)
			out, lOut := sub(gmD, ld, origin, shape)
			var src arch.Tensor[D]
			srcLayout := lc
			if oneSource {
				src, srcLayout = sub(gmX, lx, origin, shape)
			}
			blk.Run(c, lc, src, srcLayout, out, lOut)
		}, blk.Close
	})
}

// Gemm computes D = alpha·A·B + beta·X, the product accumulated in float32 and combined with X on the vector
// cores (EpilogueAtlasA2Gemm). X may be empty, or beta 0, for D = alpha·A·B. D and X must be row-major.
func Gemm[AB, D dtypes.Float](a, b Matrix[AB], x, d Matrix[D], alpha, beta float32, opts EpilogueOptions) (arch.LaunchReport, error) {
	epiCfg := withPolicy(opts.Epilogue, epilogue.EpilogueAtlasA2Gemm{})
	withX := x.Data != nil && beta != 0
	var ld, lx layout.RowMajor
	return matmulEpilogue[AB, float32, float32]("gemm", a, b, opts.MatmulOptions, func(p gemmOperands[AB, float32]) {
		d.check("D", p.shape.M, p.shape.N)
		ld = d.rowMajor("D")
		if withX {
			x.check("X", p.shape.M, p.shape.N)
			lx = x.rowMajor("X")
		}
		if err := epiCfg.Validate(); err != nil {
			panic(err)
		}
	}, func(core *arch.Core, gmWs arch.Tensor[float32], wsLayout layout.RowMajor) (epilogueRun, func()) {
		blk := must.M1(epilogue.NewBlockGemm[D](core, epiCfg))
		gmD := d.tensor()
		var gmX arch.Tensor[D]
		if withX {
			gmX = x.tensor()
		}
		return func(origin, shape coord.MatrixCoord) {
			c, lc := sub(gmWs, wsLayout, origin, shape)
			out, lOut := sub(gmD, ld, origin, shape)
			var src arch.Tensor[D]
			srcLayout := lOut
			if withX {
				src, srcLayout = sub(gmX, lx, origin, shape)
			}
			blk.Run(c, lc, src, srcLayout, out, lOut, alpha, beta)
		}, blk.Close
	})
}

// QuantMatmulPerToken computes D[i][j] = (A·B)[i][j]·scale[j]·perToken[i] for int8 operands: the cube keeps
// the int32 accumulators and the vector cores dequantize them (EpilogueAtlasA2PerTokenDequant, one stage by
// default). S is float32 or D.
func QuantMatmulPerToken[D, S dtypes.Float](a, b Matrix[int8], scale, perToken []S, d Matrix[D], opts EpilogueOptions) (
	arch.LaunchReport, error) {
	epiCfg := withPolicy(opts.Epilogue, epilogue.EpilogueAtlasA2PerTokenDequant{UBStages: 1})
	var ld layout.RowMajor
	return matmulEpilogue[int8, int32, int32]("quant-matmul-per-token", a, b, opts.MatmulOptions, func(p gemmOperands[int8, int32]) {
		d.check("D", p.shape.M, p.shape.N)
		ld = d.rowMajor("D")
		if len(scale) < p.shape.N || len(perToken) < p.shape.M {
			panicf("%d x %d output needs %d scales and %d per-token scales, got %d and %d", p.shape.M, p.shape.N,
				p.shape.N, p.shape.M, len(scale), len(perToken))
		}
		if err := epiCfg.Validate(); err != nil {
			panic(err)
		}
	}, func(core *arch.Core, gmWs arch.Tensor[int32], wsLayout layout.RowMajor) (epilogueRun, func()) {
		blk := must.M1(epilogue.NewBlockPerTokenDequant[D, S](core, epiCfg))
		gmD := d.tensor()
		gmScale, gmToken := arch.GlobalTensor(scale), arch.GlobalTensor(perToken)
		return func(origin, shape coord.MatrixCoord) {
			c, lc := sub(gmWs, wsLayout, origin, shape)
			out, lOut := sub(gmD, ld, origin, shape)
			blk.Run(c, lc, gmScale.Offset(origin.Column), gmToken.Offset(origin.Row), out, lOut)
		}, blk.Close
	})
}

// shape returns the logical shape of the matrix, or (0, 0) if it has no layout.
func (m Matrix[T]) shape() (rows, cols int) {
	if m.Layout == nil {
		return 0, 0
	}
	s := m.Layout.OrgShape()
	return s.Row, s.Column
}
