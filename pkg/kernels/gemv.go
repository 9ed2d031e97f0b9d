// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemm"
	"github.com/gomlx/tilegemm/pkg/gemv"
	"github.com/janpfeifer/must"
)

// GemvOptions configure Gemv.
type GemvOptions struct {
	LaunchOptions

	// Gemv configures the block. The zero values of the policy and of the operand type are taken from the
	// arguments.
	Gemv gemv.Config
}

// Gemv computes z = alpha·A·x + beta·y on the vector cores, each taking every (BlockNum·SubBlockNum)-th tile
// of UBTileShape.M rows of A. A is row-major or column-major; a nil y (or beta 0) means y = 0.
func Gemv[T dtypes.Float](a Matrix[T], x, y, z []T, alpha, beta float32, opts GemvOptions) (report arch.LaunchReport, err error) {
	var (
		cfg   gemv.Config
		shape coord.GemvCoord
	)
	err = checked("gemv", func() {
		if a.Layout == nil {
			panicf("operand A has no layout")
		}
		s := a.Layout.OrgShape()
		shape = coord.GemvCoord{M: s.Row, N: s.Column}
		a.check("A", shape.M, shape.N)
		if len(x) < shape.N {
			panicf("x has %d elements for %d columns", len(x), shape.N)
		}
		if y != nil && len(y) < shape.M {
			panicf("y has %d elements for %d rows", len(y), shape.M)
		}
		if len(z) < shape.M {
			panicf("z has %d elements for %d rows", len(z), shape.M)
		}
		cfg = opts.Gemv
		if cfg.Policy == nil {
			cfg.Policy = gemm.GemvAtlasA2{}
		}
		if cfg.A == (gemm.Type{}) {
			cfg.A = gemm.GmType(dtypes.FromGenericsType[T](), a.Layout.Kind())
		}
		cfg = cfg.WithDefaults()
		if err := cfg.Validate(); err != nil {
			panic(err)
		}
		if cfg.A.Layout != a.Layout.Kind() {
			panicf("operand A has layout %s, configured for %s", a.Layout.Kind(), cfg.A.Layout)
		}
	})
	if err != nil {
		return
	}
	rowsPerTile := cfg.UBTileShape.M
	tiles := coord.CeilDiv(shape.M, rowsPerTile)
	gmA, gmX, gmY, gmZ := a.tensor(), arch.GlobalTensor(x), arch.GlobalTensor(y), arch.GlobalTensor(z)
	vectorCores := func(tasks int) int { return coord.CeilDiv(tasks, arch.SubBlockNum) }
	return launch(opts.LaunchOptions, vectorCores(tiles), shape.String(), arch.Kernel{
		Name: "gemv",
		Vector: func(core *arch.Core) {
			blk := must.M1(gemv.NewBlockGemv[T](core, cfg))
			for i := core.VectorIdx(); i < tiles; i += core.BlockNum() * core.SubBlockNum() {
				row := i * rowsPerTile
				var tileY arch.Tensor[T]
				if !gmY.IsNil() {
					tileY = gmY.Offset(row)
				}
				blk.Run(gmA.Offset(a.Layout.Offset(coord.MakeMatrixCoord(row, 0))), a.Layout, gmX, tileY, gmZ.Offset(row),
					coord.GemvCoord{M: min(rowsPerTile, shape.M-row), N: shape.N}, alpha, beta)
			}
			blk.Close()
		},
	})
}
