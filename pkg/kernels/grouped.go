// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	epilogue "github.com/gomlx/tilegemm/pkg/epilogue/block"
	"github.com/gomlx/tilegemm/pkg/gemm"
	gemmblock "github.com/gomlx/tilegemm/pkg/gemm/block"
	"github.com/gomlx/tilegemm/pkg/gemm/tile"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/janpfeifer/must"
)

// matmulGroup is one non-empty group of a grouped matmul.
type matmulGroup struct {
	index int // in the group list
	row   int // first row of the group in A and D
	p     gemmOperands[int8, int32]
	sw    gemmblock.IdentityBlockSwizzle
}

// groupTask is the output tile idx of group.
type groupTask struct {
	group, idx int
}

// GroupedMatmulSliceMPerTokenDequant runs one int8 matmul per group of consecutive rows of A, as the expert
// layers of mixture-of-experts models do: group g is made of the rows groupList[g-1] (0 for the first group)
// to groupList[g] of A, multiplied by its own K x N matrix B_g. The int32 products are dequantized on the
// vector cores (EpilogueAtlasA2PerTokenDequant, one stage by default):
//
//	D[i][j] = (A[i]·B_g)[j] · scale[g·N + j] · perToken[i]
//
// groupList holds the prefix sums of the group sizes, so empty groups repeat the previous value. b.Layout
// describes one K x N matrix, and b.Data holds the len(groupList) matrices one after the other, b.Layout.Span()
// elements apart. Rows of D past the last group are left untouched.
//
// The output tiles of all groups are dealt round-robin to the AI cores, each group continuing where the
// previous one stopped.
func GroupedMatmulSliceMPerTokenDequant[D, S dtypes.Float](groupList []int64, a, b Matrix[int8], scale, perToken []S,
	d Matrix[D], opts EpilogueOptions) (report arch.LaunchReport, err error) {
	const name = "grouped-matmul-slice-m-per-token-dequant"
	epiCfg := withPolicy(opts.Epilogue, epilogue.EpilogueAtlasA2PerTokenDequant{UBStages: 1})
	var (
		cfg    gemm.Config
		shape  coord.GemmCoord
		ws     Matrix[int32]
		ld     layout.RowMajor
		groups []matmulGroup
		tasks  []groupTask
	)
	err = checked(name, func() {
		if a.Layout == nil || b.Layout == nil {
			panicf("operands A and B need a layout")
		}
		m, k := a.Layout.OrgShape().Row, a.Layout.OrgShape().Column
		n := b.Layout.OrgShape().Column
		a.check("A", m, k)
		b.check("B", k, n)
		if len(groupList) == 0 {
			panicf("empty group list")
		}
		bStride := b.Layout.Span()
		if need := len(groupList) * bStride; need > len(b.Data) {
			panicf("%d groups of B %s need %d elements, got %d", len(groupList), b.Layout, need, len(b.Data))
		}
		d.check("D", m, n)
		ld = d.rowMajor("D")
		if len(scale) < len(groupList)*n || len(perToken) < m {
			panicf("%d groups of %d x %d outputs need %d scales and %d per-token scales, got %d and %d",
				len(groupList), m, n, len(groupList)*n, m, len(scale), len(perToken))
		}
		if err := epiCfg.Validate(); err != nil {
			panic(err)
		}

		shape = coord.MakeGemmCoord(m, n, k)
		ws = RowMajor(make([]int32, m*n), m, n)
		gemmCfg := opts.Gemm
		gemmCfg.C = gemm.GmType(dtypes.Int32, layout.KindRowMajor)
		cfg = checkGemm[int8, int32, int32](gemmCfg, gemmOperands[int8, int32]{
			shape: shape, la: a.Layout, lb: b.Layout, lc: ws.Layout,
		})

		gmA, gmB, gmWs := a.tensor(), b.tensor(), ws.tensor()
		start := 0
		for g, prefix := range groupList {
			end := int(prefix)
			if end < start || end > m {
				panicf("group list %v: group %d ends at row %d, expected a row in [%d, %d]", groupList, g, end, start, m)
			}
			if end == start {
				continue
			}
			groupShape := coord.MakeGemmCoord(end-start, n, k)
			offA, la := tile.SubMatrix(a.Layout, coord.MakeMatrixCoord(start, 0), groupShape.MK())
			offC, lc := tile.SubMatrix(ws.Layout, coord.MakeMatrixCoord(start, 0), groupShape.MN())
			grp := matmulGroup{
				index: g,
				row:   start,
				p: gemmOperands[int8, int32]{
					shape: groupShape,
					a:     gmA.Offset(offA), la: la,
					b: gmB.Offset(g * bStride), lb: b.Layout,
					c: gmWs.Offset(offC), lc: lc,
				},
				sw: opts.swizzle(groupShape, cfg.L1TileShape),
			}
			for idx := range grp.sw.CoreLoops() {
				tasks = append(tasks, groupTask{group: len(groups), idx: idx})
			}
			groups = append(groups, grp)
			start = end
		}
	})
	if err != nil {
		return
	}

	l1 := cfg.L1TileShape
	// origin returns the group, the position in D and the shape of the output tile of task t.
	origin := func(t int) (*matmulGroup, coord.MatrixCoord, coord.GemmCoord) {
		grp := &groups[tasks[t].group]
		bc := grp.sw.BlockCoord(tasks[t].idx)
		return grp, coord.MakeMatrixCoord(grp.row+bc.M*l1.M, bc.N*l1.N), grp.sw.ActualBlockShape(bc)
	}
	tileAt := func(t int) gemmblock.Tile[int8, int32] {
		grp, org, tileShape := origin(t)
		return grp.p.tile(org.Row-grp.row, org.Column, 0, tileShape)
	}
	wsLayout := ws.Layout.(layout.RowMajor)
	problem := fmt.Sprintf("%d groups, %s", len(groupList), shape)
	return launch(opts.LaunchOptions, len(tasks), problem, arch.Kernel{
		Name: name,
		Cube: func(core *arch.Core) {
			runCube[int8, int32, int32](core, cfg, coreTasks(core, len(tasks)), tileAt, nil, func(int) {
				core.CrossCoreSetFlag(arch.CrossCorePair, arch.PipeFIX, flagCubeDone)
			})
		},
		Vector: func(core *arch.Core) {
			blk := must.M1(epilogue.NewBlockPerTokenDequant[D, S](core, epiCfg))
			gmWs, gmD := ws.tensor(), d.tensor()
			gmScale, gmToken := arch.GlobalTensor(scale), arch.GlobalTensor(perToken)
			for _, t := range coreTasks(core, len(tasks)) {
				grp, org, tileShape := origin(t)
				core.CrossCoreWaitFlag(flagCubeDone)
				c, lc := sub(gmWs, wsLayout, org, tileShape.MN())
				out, lOut := sub(gmD, ld, org, tileShape.MN())
				blk.Run(c, lc, gmScale.Offset(grp.index*shape.N+org.Column), gmToken.Offset(org.Row), out, lOut)
			}
			blk.Close()
		},
	})
}
