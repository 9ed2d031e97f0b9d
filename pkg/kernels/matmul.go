// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemm"
	gemmblock "github.com/gomlx/tilegemm/pkg/gemm/block"
	"github.com/gomlx/tilegemm/pkg/gemm/tile"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/janpfeifer/must"
)

// DefaultSwizzleOffset is the width, in tiles, of the bands walked by the block swizzle.
const DefaultSwizzleOffset = 3

// MatmulOptions configure the cube part of the matmul kernels.
type MatmulOptions struct {
	LaunchOptions

	// Gemm is the block GEMM: policy, tile shapes and operand types. The element types and layout kinds
	// must match the operands.
	Gemm gemm.Config

	// SwizzleOffset and SwizzleDirection select the order in which the output tiles are dealt to the AI cores.
	// A zero SwizzleOffset means DefaultSwizzleOffset.
	SwizzleOffset    int
	SwizzleDirection gemmblock.SwizzleDirection
}

func (o MatmulOptions) swizzle(shape coord.GemmCoord, l1 coord.GemmCoord) gemmblock.IdentityBlockSwizzle {
	offset := o.SwizzleOffset
	if offset <= 0 {
		offset = DefaultSwizzleOffset
	}
	return gemmblock.NewIdentityBlockSwizzle(shape, l1.MN(), offset, o.SwizzleDirection)
}

// gemmOperands are the GM operands of a matmul.
type gemmOperands[AB, D dtypes.Supported] struct {
	shape  coord.GemmCoord
	a, b   arch.Tensor[AB]
	la, lb layout.Matrix
	c      arch.Tensor[D]
	lc     layout.Matrix
}

func newGemmOperands[AB, D dtypes.Supported](a, b Matrix[AB], c Matrix[D]) gemmOperands[AB, D] {
	if a.Layout == nil || b.Layout == nil {
		panicf("operands A and B need a layout")
	}
	m, k := a.Layout.OrgShape().Row, a.Layout.OrgShape().Column
	n := b.Layout.OrgShape().Column
	a.check("A", m, k)
	b.check("B", k, n)
	c.check("C", m, n)
	return gemmOperands[AB, D]{
		shape: coord.MakeGemmCoord(m, n, k),
		a:     a.tensor(), la: a.Layout,
		b: b.tensor(), lb: b.Layout,
		c: c.tensor(), lc: c.Layout,
	}
}

// tile returns the output tile at (row, col) of the given shape, reading K from k0.
func (p gemmOperands[AB, D]) tile(row, col, k0 int, shape coord.GemmCoord) gemmblock.Tile[AB, D] {
	offA, tileA := tile.SubMatrix(p.la, coord.MakeMatrixCoord(row, k0), shape.MK())
	offB, tileB := tile.SubMatrix(p.lb, coord.MakeMatrixCoord(k0, col), shape.KN())
	offC, tileC := tile.SubMatrix(p.lc, coord.MakeMatrixCoord(row, col), shape.MN())
	return gemmblock.Tile[AB, D]{
		A: p.a.Offset(offA), LayoutA: tileA,
		B: p.b.Offset(offB), LayoutB: tileB,
		C: p.c.Offset(offC), LayoutC: tileC,
		Shape: shape, Column: col,
	}
}

// checkGemm validates cfg against the type parameters and the operands.
func checkGemm[AB, C, D dtypes.Supported](cfg gemm.Config, p gemmOperands[AB, D]) gemm.Config {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	if got := dtypes.FromGenericsType[AB](); got != cfg.A.DType || got != cfg.B.DType {
		panicf("operands of type %s, configured for %s", got, cfg)
	}
	if got := dtypes.FromGenericsType[C](); got != cfg.Accumulator() {
		panicf("accumulator of type %s, configured for %s", got, cfg.Accumulator())
	}
	if got := dtypes.FromGenericsType[D](); got != cfg.C.DType {
		panicf("output of type %s, configured for %s", got, cfg)
	}
	for _, op := range []struct {
		name string
		l    layout.Matrix
		kind layout.Kind
	}{{"A", p.la, cfg.A.Layout}, {"B", p.lb, cfg.B.Layout}, {"C", p.lc, cfg.C.Layout}} {
		if op.l.Kind() != op.kind {
			panicf("operand %s has layout %s, configured for %s", op.name, op.l.Kind(), op.kind)
		}
	}
	return cfg
}

// fixpipeSetter is implemented by BlockMmad and BlockGemm.
type fixpipeSetter[C dtypes.Supported] interface {
	SetBias(gemmblock.Bias[C])
	SetScales(arch.Tensor[float32])
	SetDequantScale(float32)
}

// runCube issues the output tiles tasks on a block GEMM of cfg: a BlockMmad for the ping-pong policy, a
// BlockGemm preloading the next tile otherwise. setup, if not nil, is called before the first tile, and
// issued, if not nil, after each tile is issued.
func runCube[AB, C, D dtypes.Supported](core *arch.Core, cfg gemm.Config, tasks []int,
	tileAt func(idx int) gemmblock.Tile[AB, D], setup func(fixpipeSetter[C]), issued func(idx int)) {
	if _, ok := cfg.Policy.(gemm.MmadAtlasA2Pingpong); ok {
		blk := must.M1(gemmblock.NewBlockMmad[AB, C, D](core, cfg))
		if setup != nil {
			setup(blk)
		}
		for _, idx := range tasks {
			blk.Run(tileAt(idx))
			if issued != nil {
				issued(idx)
			}
		}
		blk.Close()
		return
	}
	blk := must.M1(gemmblock.NewBlockGemm[AB, C, D](core, cfg))
	if setup != nil {
		setup(blk)
	}
	for i, idx := range tasks {
		var nextTile *gemmblock.Tile[AB, D]
		if i+1 < len(tasks) {
			t := tileAt(tasks[i+1])
			nextTile = &t
		}
		blk.Run(tileAt(idx), nextTile)
		if issued != nil {
			issued(idx)
		}
	}
	blk.Close()
}

// matmul launches C = A·B with the fixpipe extras set by setup.
func matmul[AB, C, D dtypes.Supported](name string, a, b Matrix[AB], c Matrix[D], opts MatmulOptions,
	check func(cfg gemm.Config, p gemmOperands[AB, D]), setup func(fixpipeSetter[C])) (report arch.LaunchReport, err error) {
	var (
		cfg gemm.Config
		p   gemmOperands[AB, D]
	)
	err = checked(name, func() {
		p = newGemmOperands(a, b, c)
		cfg = checkGemm[AB, C, D](opts.Gemm, p)
		if check != nil {
			check(cfg, p)
		}
	})
	if err != nil {
		return
	}
	l1 := cfg.L1TileShape
	sw := opts.swizzle(p.shape, l1)
	tileAt := func(idx int) gemmblock.Tile[AB, D] {
		bc := sw.BlockCoord(idx)
		return p.tile(bc.M*l1.M, bc.N*l1.N, 0, sw.ActualBlockShape(bc))
	}
	return launch(opts.LaunchOptions, sw.CoreLoops(), p.shape.String(), arch.Kernel{
		Name: name,
		Cube: func(core *arch.Core) {
			runCube(core, cfg, coreTasks(core, sw.CoreLoops()), tileAt, setup, nil)
		},
	})
}

// Matmul computes C = A·B on the cube cores. AB is the operand type, C the accumulator type and D the output
// type: the fixpipe converts the accumulators to D while moving them to global memory.
func Matmul[AB, C, D dtypes.Supported](a, b Matrix[AB], c Matrix[D], opts MatmulOptions) (arch.LaunchReport, error) {
	return matmul[AB, C, D]("matmul", a, b, c, opts, func(cfg gemm.Config, _ gemmOperands[AB, D]) {
		checkPlainOutput(cfg)
	}, nil)
}

// MatmulBias computes C = A·B + bias, the bias of type B (the accumulator type, or a 16-bit float for float32
// accumulators) added to every row by the cube.
func MatmulBias[AB, C, D, B dtypes.Supported](a, b Matrix[AB], bias []B, c Matrix[D], opts MatmulOptions) (arch.LaunchReport, error) {
	return matmul[AB, C, D]("matmul-bias", a, b, c, opts, func(cfg gemm.Config, p gemmOperands[AB, D]) {
		if cfg.Bias != dtypes.FromGenericsType[B]() {
			panicf("bias of type %s, configured for %s", dtypes.FromGenericsType[B](), cfg.Bias)
		}
		if len(bias) < p.shape.N {
			panicf("bias of %d elements for %d columns", len(bias), p.shape.N)
		}
	}, func(blk fixpipeSetter[C]) {
		blk.SetBias(gemmblock.GmBias[C](arch.GlobalTensor(bias)))
	})
}

// QuantMatmul computes C = dequant(A·B) for int8 operands, the int32 accumulators scaled and converted to
// float16 by the fixpipe. With gemm.ScaleGranularityPerTensor scales holds one scale; with
// gemm.ScaleGranularityPerChannel one per column of C.
func QuantMatmul[D dtypes.Supported](a, b Matrix[int8], scales []float32, c Matrix[D], opts MatmulOptions) (arch.LaunchReport, error) {
	return matmul[int8, int32, D]("quant-matmul", a, b, c, opts, func(cfg gemm.Config, p gemmOperands[int8, D]) {
		switch cfg.ScaleGranularity {
		case gemm.ScaleGranularityPerTensor:
			if len(scales) != 1 {
				panicf("per-tensor dequantization takes 1 scale, got %d", len(scales))
			}
		case gemm.ScaleGranularityPerChannel:
			if len(scales) < p.shape.N {
				panicf("per-channel dequantization of %d columns got %d scales", p.shape.N, len(scales))
			}
		default:
			panicf("QuantMatmul requires a per-tensor or per-channel scale granularity, got %s", cfg.ScaleGranularity)
		}
	}, func(blk fixpipeSetter[int32]) {
		if opts.Gemm.ScaleGranularity == gemm.ScaleGranularityPerTensor {
			blk.SetDequantScale(scales[0])
			return
		}
		blk.SetScales(arch.GlobalTensor(scales))
	})
}
