// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemv

import (
	"fmt"
	"testing"
	"time"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/tilegemm/pkg/gemm"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/gomlx/tilegemm/pkg/reference"
	"github.com/gomlx/tilegemm/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

const sentinelMargin = 32

type gemvCase struct {
	name        string
	kind        layout.Kind
	m, n        int
	ubTile      coord.GemvCoord
	alpha, beta float32
	withY       bool
	blockDim    int
}

func runGemv[T dtypes.Float](t *testing.T, c gemvCase, sequential bool, atol, rtol float64) {
	cfg := Config{
		Policy:      gemm.GemvAtlasA2{},
		A:           gemm.GmType(dtypes.FromGenericsType[T](), c.kind),
		UBTileShape: c.ubTile,
	}
	require.NoError(t, cfg.Validate())

	var l layout.Matrix
	var size int
	if c.kind == layout.KindRowMajor {
		rm := layout.NewRowMajorLd(c.m, c.n, c.n+3)
		l, size = rm, rm.Span()
	} else {
		cm := layout.NewColumnMajorLd(c.m, c.n, c.m+5)
		l, size = cm, cm.Span()
	}
	a := reference.FillUniform[T](size, 1, 1)
	x := reference.FillUniform[T](c.n, 2, 1)
	var y []T
	var gmY arch.Tensor[T]
	if c.withY {
		y = reference.FillUniform[T](c.m, 3, 2)
		gmY = arch.GlobalTensor(y)
	}
	sentinel := dtypes.FromFloat32[T](-777, dtypes.RoundNone)
	zFull, z := xslices.Padded(c.m, sentinelMargin, sentinel)

	gmA, gmX, gmZ := arch.GlobalTensor(a), arch.GlobalTensor(x), arch.GlobalTensor(z)
	tileM := c.ubTile.M
	tiles := coord.CeilDiv(c.m, tileM)
	kernel := arch.Kernel{Name: "gemv-" + c.name, Vector: func(core *arch.Core) {
		b := must.M1(NewBlockGemv[T](core, cfg))
		for i := core.VectorIdx(); i < tiles; i += core.BlockNum() * core.SubBlockNum() {
			row := i * tileM
			tileY := gmY
			if !gmY.IsNil() {
				tileY = gmY.Offset(row)
			}
			b.Run(gmA.Offset(l.Offset(coord.MakeMatrixCoord(row, 0))), l, gmX, tileY, gmZ.Offset(row),
				coord.GemvCoord{M: min(tileM, c.m-row), N: c.n}, c.alpha, c.beta)
		}
		b.Close()
	}}
	_, err := arch.Launch(arch.Config{Sequential: sequential, Poison: true, Watchdog: time.Minute}, c.blockDim, kernel)
	require.NoError(t, err)

	ok, idx := xslices.SentinelsIntact(zFull, sentinelMargin, sentinel)
	require.True(t, ok, "z written out of bounds at %d", idx)
	var yRef []float64
	if c.withY {
		yRef = reference.Vector(y)
	}
	want := reference.Gemv(reference.FromLayout(a, l), reference.Vector(x), float64(c.alpha), float64(c.beta), yRef)
	ok, worst := xslices.AllClose(reference.Vector(z), want, atol, rtol)
	if !ok {
		t.Fatalf("z[%d]=%g, want %g", worst, dtypes.ToFloat32(z[worst]), want[worst])
	}
}

func TestBlockGemv(t *testing.T) {
	for _, sequential := range []bool{true, false} {
		mode := map[bool]string{true: "sequential", false: "pipelined"}[sequential]
		t.Run(mode, func(t *testing.T) {
			t.Run("f32-row-major", func(t *testing.T) {
				runGemv[float32](t, gemvCase{name: "f32-rm", kind: layout.KindRowMajor, m: 70, n: 300,
					ubTile: coord.GemvCoord{M: 16, N: 128}, alpha: 1.5, beta: -0.5, withY: true, blockDim: 2},
					sequential, 1e-4, 1e-4)
			})
			t.Run("f16-row-major", func(t *testing.T) {
				runGemv[float16.Float16](t, gemvCase{name: "f16-rm", kind: layout.KindRowMajor, m: 45, n: 200,
					ubTile: coord.GemvCoord{M: 16, N: 64}, alpha: 1, beta: 1, withY: true, blockDim: 1},
					sequential, 5e-2, 1e-2)
			})
			t.Run("bf16-row-major-no-y", func(t *testing.T) {
				runGemv[bfloat16.BFloat16](t, gemvCase{name: "bf16-rm", kind: layout.KindRowMajor, m: 33, n: 70,
					ubTile: coord.GemvCoord{M: 32, N: 96}, alpha: 0.5, blockDim: 3},
					sequential, 1e-1, 2e-2)
			})
			t.Run("f32-column-major", func(t *testing.T) {
				runGemv[float32](t, gemvCase{name: "f32-cm", kind: layout.KindColumnMajor, m: 150, n: 90,
					ubTile: coord.GemvCoord{M: 72, N: 40}, alpha: 2, beta: 0.25, withY: true, blockDim: 1},
					sequential, 1e-4, 1e-4)
			})
			t.Run("f16-column-major", func(t *testing.T) {
				runGemv[float16.Float16](t, gemvCase{name: "f16-cm", kind: layout.KindColumnMajor, m: 100, n: 37,
					ubTile: coord.GemvCoord{M: 48, N: 32}, alpha: 1, beta: 2, withY: true, blockDim: 2},
					sequential, 5e-2, 1e-2)
			})
		})
	}
}

func TestGemvConfig(t *testing.T) {
	valid := Config{
		Policy:      gemm.GemvAtlasA2{},
		A:           gemm.GmType(dtypes.Float16, layout.KindRowMajor),
		UBTileShape: coord.GemvCoord{M: 32, N: 512},
	}
	require.NoError(t, valid.Validate())
	assert.Equal(t, coord.GemvCoord{M: 32, N: 512}, valid.Rounded())

	for name, mutate := range map[string]func(c *Config){
		"cube policy":      func(c *Config) { c.Policy = gemm.MmadAtlasA2Pingpong{} },
		"int8":             func(c *Config) { c.A.DType = dtypes.Int8 },
		"blocked A":        func(c *Config) { c.A.Layout = layout.KindZN },
		"A in UB":          func(c *Config) { c.A.Position = arch.PositionVECIN },
		"oversized A":      func(c *Config) { c.UBTileShape = coord.GemvCoord{M: 64, N: 1024} },
		"oversized acc":    func(c *Config) { c.UBTileShape = coord.GemvCoord{M: 128, N: 64} },
		"row beyond limit": func(c *Config) { c.UBTileShape = coord.GemvCoord{M: 1, N: 8192} },
	} {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			fmt.Printf("\t%s: %v\n", name, err)
		})
	}

	// Defaults are valid for both layouts.
	for _, kind := range []layout.Kind{layout.KindRowMajor, layout.KindColumnMajor} {
		for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.Float32} {
			c := Config{Policy: gemm.GemvAtlasA2{}, A: gemm.GmType(dtype, kind)}
			assert.NoError(t, c.Validate(), "defaults for %s %s", dtype, kind)
		}
	}

	core := arch.NewCore(arch.Config{Sequential: true}, arch.CoreKindVector)
	_, err := NewBlockGemv[float32](core, valid)
	require.Error(t, err, "element type mismatch")
	b, err := NewBlockGemv[float16.Float16](core, valid)
	require.NoError(t, err)
	b.Close()
	core.Close()

	cube := arch.NewCore(arch.Config{Sequential: true}, arch.CoreKindCube)
	_, err = NewBlockGemv[float16.Float16](cube, valid)
	require.Error(t, err)
	cube.Close()
}
