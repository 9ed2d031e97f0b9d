// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"testing"

	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemm"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/gomlx/tilegemm/pkg/reference"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestGroupedMatmulSliceMPerTokenDequant(t *testing.T) {
	const m, n, k = 120, 80, 64
	// Group 1 is empty, group 2 has 67 rows, and the last 13 rows belong to no group.
	groupList := []int64{40, 40, 107}
	cfg := gemm.Config{
		Policy:      gemm.MmadAtlasA2Preload{},
		A:           gemm.GmType(dtypes.Int8, layout.KindRowMajor),
		B:           gemm.GmType(dtypes.Int8, layout.KindColumnMajor),
		L1TileShape: coord.MakeGemmCoord(64, 64, 128),
	}
	powers := []float32{0.25, 0.5, 1, 2}
	a, refA := operand[int8](layout.KindRowMajor, m, k, 1)
	bLayout := layout.NewColumnMajor(k, n)
	var bData []int8
	refB := make([]reference.Matrix, len(groupList))
	for g := range groupList {
		data := reference.FillInts[int8](k*n, g+2)
		refB[g] = reference.FromLayout(data, bLayout)
		bData = append(bData, data...)
	}
	b := Matrix[int8]{Data: bData, Layout: bLayout}
	scale, perToken := make([]float32, len(groupList)*n), make([]float32, m)
	for j := range scale {
		scale[j] = powers[(j+j/n)%4]
	}
	for i := range perToken {
		perToken[i] = powers[(i+1)%4]
	}

	want := reference.NewMatrix(m, n)
	for i := range want.Data {
		want.Data[i] = 99
	}
	start := 0
	for g, prefix := range groupList {
		end := int(prefix)
		if end == start {
			continue
		}
		rowsA := reference.Matrix{Rows: end - start, Cols: k, Data: refA.Data[start*k : end*k]}
		acc := reference.Gemm(rowsA, refB[g])
		out := reference.ScaleColumns(acc, reference.Vector(scale[g*n:(g+1)*n]), reference.Vector(perToken[start:end]))
		copy(want.Data[start*n:end*n], out.Data)
		start = end
	}
	want = reference.Round[float16.Float16](want)

	testModes(t, func(t *testing.T, lo LaunchOptions) {
		for _, blockDim := range []int{0, 3} {
			lo.BlockDim = blockDim
			d := newOutput[float16.Float16](m, n)
			_, err := GroupedMatmulSliceMPerTokenDequant(groupList, a, b, scale, perToken, d.Matrix, EpilogueOptions{
				MatmulOptions: MatmulOptions{LaunchOptions: lo, Gemm: cfg},
			})
			require.NoError(t, err)
			d.check(t, want, 0, 1e-3)
		}
	})

	t.Run("errors", func(t *testing.T) {
		opts := EpilogueOptions{MatmulOptions: MatmulOptions{Gemm: cfg}}
		d := newOutput[float16.Float16](m, n)
		for name, groups := range map[string][]int64{
			"decreasing":    {40, 30, 107},
			"past-the-rows": {40, 40, m + 1},
			"no-groups":     nil,
		} {
			_, err := GroupedMatmulSliceMPerTokenDequant(groups, a, b, scale, perToken, d.Matrix, opts)
			require.Error(t, err, name)
		}
		_, err := GroupedMatmulSliceMPerTokenDequant(groupList, a, b, scale[:2*n], perToken, d.Matrix, opts)
		require.ErrorContains(t, err, "scales")
		short := Matrix[int8]{Data: bData[:2*k*n], Layout: bLayout}
		_, err = GroupedMatmulSliceMPerTokenDequant(groupList, a, short, scale, perToken, d.Matrix, opts)
		require.ErrorContains(t, err, "groups of B")
	})
}
