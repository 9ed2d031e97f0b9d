// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"testing"

	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemv"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/gomlx/tilegemm/pkg/reference"
	"github.com/gomlx/tilegemm/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

type gemvCase struct {
	kind        layout.Kind
	m, n        int
	ubTile      coord.GemvCoord
	alpha, beta float32
	withY       bool
	blockDim    int
}

func runGemv[T dtypes.Float](t *testing.T, lo LaunchOptions, c gemvCase, atol, rtol float64) {
	data := reference.FillUniform[T](c.m*c.n, 1, 1)
	a := RowMajor(data, c.m, c.n)
	if c.kind == layout.KindColumnMajor {
		a = ColumnMajor(data, c.m, c.n)
	}
	x := reference.FillUniform[T](c.n, 2, 1)
	var y []T
	if c.withY {
		y = reference.FillUniform[T](c.m, 3, 1)
	}
	sentinel := dtypes.FromFloat32[T](-777, dtypes.RoundNone)
	zFull, z := xslices.Padded(c.m, sentinelMargin, sentinel)
	lo.BlockDim = c.blockDim
	report, err := Gemv(a, x, y, z, c.alpha, c.beta, GemvOptions{LaunchOptions: lo, Gemv: gemv.Config{UBTileShape: c.ubTile}})
	require.NoError(t, err)
	assert.Equal(t, "gemv", report.Kernel)

	ok, idx := xslices.SentinelsIntact(zFull, sentinelMargin, sentinel)
	require.True(t, ok, "z written out of bounds at %d", idx)
	// A nil y reads as zeros whatever beta.
	var yRef []float64
	beta := 0.0
	if c.withY {
		yRef, beta = reference.Vector(y), float64(c.beta)
	}
	want := reference.Gemv(reference.FromLayout(data, a.Layout), reference.Vector(x), float64(c.alpha), beta, yRef)
	got := reference.Vector(z)
	ok, worst := xslices.AllClose(got, want, atol, rtol)
	require.True(t, ok, "z[%d]=%g, want %g", worst, got[max(worst, 0)], want[max(worst, 0)])
}

func TestGemv(t *testing.T) {
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		t.Run("f32-row-major", func(t *testing.T) {
			runGemv[float32](t, lo, gemvCase{kind: layout.KindRowMajor, m: 150, n: 300,
				ubTile: coord.GemvCoord{M: 16, N: 128}, alpha: 1.5, beta: -0.5, withY: true}, 1e-4, 1e-4)
		})
		t.Run("f32-column-major-default-tile", func(t *testing.T) {
			runGemv[float32](t, lo, gemvCase{kind: layout.KindColumnMajor, m: 600, n: 90, alpha: 2, beta: 0.25,
				withY: true}, 1e-4, 1e-4)
		})
		t.Run("f16-row-major-no-y", func(t *testing.T) {
			runGemv[float16.Float16](t, lo, gemvCase{kind: layout.KindRowMajor, m: 45, n: 200,
				ubTile: coord.GemvCoord{M: 16, N: 64}, alpha: 1, beta: 3, blockDim: 1}, 5e-2, 1e-2)
		})
		t.Run("f16-column-major-few-cores", func(t *testing.T) {
			runGemv[float16.Float16](t, lo, gemvCase{kind: layout.KindColumnMajor, m: 100, n: 37,
				ubTile: coord.GemvCoord{M: 48, N: 32}, alpha: 1, beta: 2, withY: true, blockDim: 1}, 5e-2, 1e-2)
		})
	})
}
