// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"
	"testing"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	epilogue "github.com/gomlx/tilegemm/pkg/epilogue/block"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	"github.com/gomlx/tilegemm/pkg/gemm"
	gemmblock "github.com/gomlx/tilegemm/pkg/gemm/block"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/gomlx/tilegemm/pkg/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestMatmul(t *testing.T) {
	const m, n, k = 70, 90, 100
	policies := []gemm.DispatchPolicy{
		gemm.MmadAtlasA2Pingpong{},
		gemm.MmadAtlasA2Preload{EnableShuffleK: true},
		gemm.GemmAtlasA2{EnableABBA: true},
	}
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		for _, policy := range policies {
			for _, kinds := range [][2]layout.Kind{
				{layout.KindRowMajor, layout.KindRowMajor},
				{layout.KindColumnMajor, layout.KindRowMajor},
				{layout.KindRowMajor, layout.KindColumnMajor},
			} {
				t.Run(fmt.Sprintf("%s/%s-%s", policy, kinds[0], kinds[1]), func(t *testing.T) {
					a, refA := operand[float16.Float16](kinds[0], m, k, 1)
					b, refB := operand[float16.Float16](kinds[1], k, n, 2)
					c := newOutput[float16.Float16](m, n)
					report, err := Matmul[float16.Float16, float32, float16.Float16](a, b, c.Matrix, MatmulOptions{
						LaunchOptions: lo,
						Gemm:          f16Gemm(policy, kinds[0], kinds[1]),
					})
					require.NoError(t, err)
					assert.Equal(t, "matmul", report.Kernel)
					assert.Equal(t, 6, report.BlockDim)
					c.check(t, reference.Round[float16.Float16](reference.Gemm(refA, refB)), 0, 0)
				})
			}
		}

		// Every swizzle walks the whole output, with more tasks than cores.
		for _, dir := range gemmblock.SwizzleDirectionValues() {
			t.Run("swizzle-"+dir.String(), func(t *testing.T) {
				a, refA := operand[bfloat16.BFloat16](layout.KindRowMajor, 130, 64, 3)
				b, refB := operand[bfloat16.BFloat16](layout.KindRowMajor, 64, 150, 4)
				c := newOutput[float32](130, 150)
				cfg := gemm.Config{
					Policy:      gemm.MmadAtlasA2Preload{},
					A:           gemm.GmType(dtypes.BFloat16, layout.KindRowMajor),
					B:           gemm.GmType(dtypes.BFloat16, layout.KindRowMajor),
					C:           gemm.GmType(dtypes.Float32, layout.KindRowMajor),
					L1TileShape: coord.MakeGemmCoord(32, 32, 64),
				}
				lo := lo
				lo.BlockDim = 4
				_, err := Matmul[bfloat16.BFloat16, float32, float32](a, b, c.Matrix, MatmulOptions{
					LaunchOptions: lo, Gemm: cfg, SwizzleOffset: 2, SwizzleDirection: dir,
				})
				require.NoError(t, err)
				c.check(t, reference.Gemm(refA, refB), 0, 0)
			})
		}
	})
}

// TestMatmulLargeStrides runs a matmul whose leading dimensions don't fit a descriptor stride, so that every
// copy between GM and L1, and from L0C back to GM, moves one row per descriptor.
func TestMatmulLargeStrides(t *testing.T) {
	const m, n, k = 40, 48, 80
	ldA, ldB, ldC := arch.StrideLimit+8, arch.StrideLimit, arch.StrideLimit+16
	a := Matrix[float16.Float16]{Data: reference.FillInts[float16.Float16](m*ldA, 5), Layout: layout.NewRowMajorLd(m, k, ldA)}
	b := Matrix[float16.Float16]{Data: reference.FillInts[float16.Float16](n*ldB, 6), Layout: layout.NewColumnMajorLd(k, n, ldB)}
	want := reference.Round[float16.Float16](reference.Gemm(reference.FromLayout(a.Data, a.Layout),
		reference.FromLayout(b.Data, b.Layout)))
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		for _, policy := range []gemm.DispatchPolicy{gemm.MmadAtlasA2Pingpong{}, gemm.MmadAtlasA2Preload{}} {
			t.Run(policy.String(), func(t *testing.T) {
				sentinel := float16.Fromfloat32(99)
				c := Matrix[float16.Float16]{Data: make([]float16.Float16, m*ldC), Layout: layout.NewRowMajorLd(m, n, ldC)}
				for i := range c.Data {
					c.Data[i] = sentinel
				}
				_, err := Matmul[float16.Float16, float32, float16.Float16](a, b, c, MatmulOptions{
					LaunchOptions: lo,
					Gemm:          f16Gemm(policy, layout.KindRowMajor, layout.KindColumnMajor),
				})
				require.NoError(t, err)
				got := reference.FromLayout(c.Data, c.Layout)
				ok, worst := reference.AllClose(got, want, 0, 0)
				require.True(t, ok, "C[%d] = %g, want %g", worst, got.Data[max(worst, 0)], want.Data[max(worst, 0)])
				// The padding between rows of C is untouched.
				for i := range m {
					require.Equal(t, sentinel, c.Data[i*ldC+n], "row %d", i)
					require.Equal(t, sentinel, c.Data[(i+1)*ldC-1], "row %d", i)
				}
			})
		}
	})
}

func TestMatmulBias(t *testing.T) {
	const m, n, k = 45, 70, 129
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		t.Run("f16-bias", func(t *testing.T) {
			a, refA := operand[float16.Float16](layout.KindRowMajor, m, k, 1)
			b, refB := operand[float16.Float16](layout.KindColumnMajor, k, n, 2)
			bias := reference.FillInts[float16.Float16](n, 5)
			c := newOutput[float32](m, n)
			cfg := f16Gemm(gemm.GemmAtlasA2{EnableShuffleK: true}, layout.KindRowMajor, layout.KindColumnMajor)
			cfg.C = gemm.GmType(dtypes.Float32, layout.KindRowMajor)
			cfg.Bias = dtypes.Float16
			_, err := MatmulBias[float16.Float16, float32, float32](a, b, bias, c.Matrix, MatmulOptions{LaunchOptions: lo, Gemm: cfg})
			require.NoError(t, err)
			c.check(t, reference.AddRowVector(reference.Gemm(refA, refB), reference.Vector(bias)), 0, 0)
		})
		t.Run("int32-bias", func(t *testing.T) {
			a, refA := operand[int8](layout.KindRowMajor, m, k, 1)
			b, refB := operand[int8](layout.KindRowMajor, k, n, 2)
			bias := reference.FillInts[int32](n, 7)
			c := newOutput[int32](m, n)
			cfg := gemm.Config{
				Policy:      gemm.MmadAtlasA2Pingpong{},
				A:           gemm.GmType(dtypes.Int8, layout.KindRowMajor),
				B:           gemm.GmType(dtypes.Int8, layout.KindRowMajor),
				C:           gemm.GmType(dtypes.Int32, layout.KindRowMajor),
				Bias:        dtypes.Int32,
				L1TileShape: coord.MakeGemmCoord(32, 64, 128),
			}
			_, err := MatmulBias[int8, int32, int32](a, b, bias, c.Matrix, MatmulOptions{LaunchOptions: lo, Gemm: cfg})
			require.NoError(t, err)
			c.check(t, reference.AddRowVector(reference.Gemm(refA, refB), reference.Vector(bias)), 0, 0)
		})
	})
}

func TestQuantMatmul(t *testing.T) {
	const m, n, k = 70, 100, 200
	cfg := gemm.Config{
		Policy:      gemm.GemmAtlasA2{},
		A:           gemm.GmType(dtypes.Int8, layout.KindRowMajor),
		B:           gemm.GmType(dtypes.Int8, layout.KindColumnMajor),
		C:           gemm.GmType(dtypes.Float16, layout.KindRowMajor),
		L1TileShape: coord.MakeGemmCoord(64, 64, 128),
	}
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		a, refA := operand[int8](layout.KindRowMajor, m, k, 1)
		b, refB := operand[int8](layout.KindColumnMajor, k, n, 2)
		acc := reference.Gemm(refA, refB)
		t.Run("per-tensor", func(t *testing.T) {
			cfg := cfg
			cfg.ScaleGranularity = gemm.ScaleGranularityPerTensor
			c := newOutput[float16.Float16](m, n)
			_, err := QuantMatmul(a, b, []float32{0.5}, c.Matrix, MatmulOptions{LaunchOptions: lo, Gemm: cfg})
			require.NoError(t, err)
			c.check(t, reference.Round[float16.Float16](reference.Apply(acc, func(v float64) float64 { return v * 0.5 })), 0, 0)
		})
		t.Run("per-channel", func(t *testing.T) {
			cfg := cfg
			cfg.ScaleGranularity = gemm.ScaleGranularityPerChannel
			scales := make([]float32, n)
			for j := range scales {
				scales[j] = []float32{0.25, 0.5, 1, 0.125}[j%4]
			}
			c := newOutput[float16.Float16](m, n)
			_, err := QuantMatmul(a, b, scales, c.Matrix, MatmulOptions{LaunchOptions: lo, Gemm: cfg})
			require.NoError(t, err)
			c.check(t, reference.Round[float16.Float16](reference.ScaleColumns(acc, reference.Vector(scales), nil)), 0, 0)
		})
	})
}

func TestMatmulElemWise(t *testing.T) {
	const m, n, k = 50, 90, 64
	cfg := f16Gemm(gemm.MmadAtlasA2Preload{}, layout.KindRowMajor, layout.KindRowMajor)
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		aData, bData := reference.FillUniform[float16.Float16](m*k, 1, 0.5), reference.FillUniform[float16.Float16](k*n, 2, 0.5)
		a, b := RowMajor(aData, m, k), RowMajor(bData, k, n)
		product := reference.Round[float16.Float16](reference.Gemm(reference.FromLayout(aData, a.Layout),
			reference.FromLayout(bData, b.Layout)))
		for _, act := range tile.ActivationValues() {
			fn := map[tile.Activation]func(float64) float64{
				tile.ActivationIdentity: func(v float64) float64 { return v },
				tile.ActivationGelu:     reference.Gelu,
				tile.ActivationSwish:    reference.Swish,
			}[act]
			t.Run(act.String(), func(t *testing.T) {
				d := newOutput[float16.Float16](m, n)
				_, err := MatmulElemWise[float16.Float16, float32, float16.Float16](a, b, Matrix[float16.Float16]{}, d.Matrix,
					EpilogueOptions{
						MatmulOptions: MatmulOptions{LaunchOptions: lo, Gemm: cfg},
						Epilogue:      epilogue.Config{Activation: act, UBTileShape: coord.MakeMatrixCoord(16, 48)},
					})
				require.NoError(t, err)
				d.check(t, reference.Round[float16.Float16](reference.Apply(product, fn)), 1e-2, 1e-2)
			})
		}
		t.Run("one-source", func(t *testing.T) {
			x, refX := operand[float16.Float16](layout.KindRowMajor, m, n, 3)
			d := newOutput[float16.Float16](m, n)
			_, err := MatmulElemWise[float16.Float16, float32, float16.Float16](a, b, x, d.Matrix, EpilogueOptions{
				MatmulOptions: MatmulOptions{LaunchOptions: lo, Gemm: cfg},
				Epilogue:      epilogue.Config{Policy: epilogue.EpilogueAtlasA2ElemWiseOneSource{}},
			})
			require.NoError(t, err)
			d.check(t, reference.Round[float16.Float16](reference.Axpby(1, product, 1, refX)), 1e-2, 1e-2)
		})
	})
}

func TestGemm(t *testing.T) {
	const m, n, k = 60, 80, 96
	cfg := f16Gemm(gemm.GemmAtlasA2{EnableShuffleK: true}, layout.KindRowMajor, layout.KindColumnMajor)
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		a, refA := operand[float16.Float16](layout.KindRowMajor, m, k, 1)
		b, refB := operand[float16.Float16](layout.KindColumnMajor, k, n, 2)
		x, refX := operand[float16.Float16](layout.KindRowMajor, m, n, 3)
		acc := reference.Gemm(refA, refB)
		for _, tc := range []struct {
			name        string
			alpha, beta float32
			withX       bool
		}{
			{"alpha-beta", 0.5, 2, true},
			{"beta-zero", 1.5, 0, true},
			{"no-x", 2, 1, false},
		} {
			t.Run(tc.name, func(t *testing.T) {
				d := newOutput[float16.Float16](m, n)
				var src Matrix[float16.Float16]
				beta := float64(tc.beta)
				if tc.withX {
					src = x
				} else {
					beta = 0
				}
				_, err := Gemm(a, b, src, d.Matrix, tc.alpha, tc.beta, EpilogueOptions{
					MatmulOptions: MatmulOptions{LaunchOptions: lo, Gemm: cfg},
					Epilogue:      epilogue.Config{UBTileShape: coord.MakeMatrixCoord(16, 64)},
				})
				require.NoError(t, err)
				d.check(t, reference.Round[float16.Float16](reference.Axpby(float64(tc.alpha), acc, beta, refX)), 1e-3, 1e-3)
			})
		}
	})
}

func TestQuantMatmulPerToken(t *testing.T) {
	const m, n, k = 70, 100, 96
	cfg := gemm.Config{
		Policy:      gemm.MmadAtlasA2Preload{},
		A:           gemm.GmType(dtypes.Int8, layout.KindRowMajor),
		B:           gemm.GmType(dtypes.Int8, layout.KindColumnMajor),
		L1TileShape: coord.MakeGemmCoord(64, 64, 128),
	}
	powers := []float32{0.25, 0.5, 1, 2}
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		a, refA := operand[int8](layout.KindRowMajor, m, k, 1)
		b, refB := operand[int8](layout.KindColumnMajor, k, n, 2)
		acc := reference.Gemm(refA, refB)
		for _, stages := range []int{1, 2} {
			t.Run(fmt.Sprintf("f16-scales/stages=%d", stages), func(t *testing.T) {
				scale, perToken := make([]float16.Float16, n), make([]float16.Float16, m)
				for j := range scale {
					scale[j] = float16.Fromfloat32(powers[j%4])
				}
				for i := range perToken {
					perToken[i] = float16.Fromfloat32(powers[(i+1)%4])
				}
				d := newOutput[float16.Float16](m, n)
				_, err := QuantMatmulPerToken(a, b, scale, perToken, d.Matrix, EpilogueOptions{
					MatmulOptions: MatmulOptions{LaunchOptions: lo, Gemm: cfg},
					Epilogue:      epilogue.Config{Policy: epilogue.EpilogueAtlasA2PerTokenDequant{UBStages: stages}},
				})
				require.NoError(t, err)
				want := reference.ScaleColumns(acc, reference.Vector(scale), reference.Vector(perToken))
				d.check(t, reference.Round[float16.Float16](want), 0, 1e-3)
			})
		}
		t.Run("f32-scales-bf16", func(t *testing.T) {
			scale, perToken := make([]float32, n), make([]float32, m)
			for j := range scale {
				scale[j] = powers[(j+2)%4]
			}
			for i := range perToken {
				perToken[i] = powers[i%4]
			}
			d := newOutput[bfloat16.BFloat16](m, n)
			_, err := QuantMatmulPerToken(a, b, scale, perToken, d.Matrix, EpilogueOptions{
				MatmulOptions: MatmulOptions{LaunchOptions: lo, Gemm: cfg},
			})
			require.NoError(t, err)
			want := reference.ScaleColumns(acc, reference.Vector(scale), reference.Vector(perToken))
			d.check(t, reference.Round[bfloat16.BFloat16](want), 0, 1e-2)
		})
	})
}

func TestSplitKMatmul(t *testing.T) {
	const m, n, k = 40, 50, 300
	cfg := f16Gemm(gemm.MmadAtlasA2Pingpong{}, layout.KindRowMajor, layout.KindColumnMajor)
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		a, refA := operand[float16.Float16](layout.KindRowMajor, m, k, 1)
		b, refB := operand[float16.Float16](layout.KindColumnMajor, k, n, 2)
		want := reference.Gemm(refA, refB)
		for _, splitK := range []int{1, 2, 3, 5, 9} {
			t.Run(fmt.Sprintf("splitK=%d", splitK), func(t *testing.T) {
				c := newOutput[float16.Float16](m, n)
				report, err := SplitKMatmul(a, b, c.Matrix, SplitKOptions{
					MatmulOptions: MatmulOptions{LaunchOptions: lo, Gemm: cfg},
					SplitK:        splitK,
					UBTileShape:   coord.MakeMatrixCoord(16, 32),
				})
				require.NoError(t, err)
				assert.Equal(t, "split-k-matmul", report.Kernel)
				c.check(t, reference.Round[float16.Float16](want), 0, 0)
			})
		}
		t.Run("preload-f32-output", func(t *testing.T) {
			cfg := cfg
			cfg.Policy = gemm.MmadAtlasA2Preload{EnableShuffleK: true}
			c := newOutput[float32](m, n)
			lo := lo
			lo.BlockDim = 2
			_, err := SplitKMatmul(a, b, c.Matrix, SplitKOptions{
				MatmulOptions: MatmulOptions{LaunchOptions: lo, Gemm: cfg},
				SplitK:        4,
			})
			require.NoError(t, err)
			c.check(t, want, 0, 0)
		})
	})
}

func TestPad(t *testing.T) {
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		for _, tc := range []struct {
			name   string
			src    func(data []float16.Float16) Matrix[float16.Float16]
			blocks coord.MatrixCoord
		}{
			{"row-major-unaligned-ld", func(data []float16.Float16) Matrix[float16.Float16] {
				return Matrix[float16.Float16]{Data: data, Layout: layout.NewRowMajorLd(37, 50, 53)}
			}, coord.MakeMatrixCoord(16, 32)},
			{"column-major", func(data []float16.Float16) Matrix[float16.Float16] {
				return Matrix[float16.Float16]{Data: data, Layout: layout.NewColumnMajorLd(37, 50, 41)}
			}, coord.MakeMatrixCoord(32, 16)},
			{"large-blocks", func(data []float16.Float16) Matrix[float16.Float16] {
				return RowMajor(data, 37, 50)
			}, coord.MakeMatrixCoord(64, 64)},
		} {
			t.Run(tc.name, func(t *testing.T) {
				src := tc.src(reference.FillInts[float16.Float16](53*50, 1))
				padded, report, err := Pad(src, tc.blocks.Row, tc.blocks.Column, lo)
				require.NoError(t, err)
				assert.Equal(t, "pad", report.Kernel)
				block := padded.Layout.(interface{ BlockShape() coord.MatrixCoord }).BlockShape()
				assert.Equal(t, tc.blocks, block)
				want := reference.FromLayout(src.Data, src.Layout)
				got := reference.FromLayout(padded.Data, padded.Layout)
				ok, worst := reference.AllClose(got, want, 0, 0)
				require.True(t, ok, "padded[%d] = %g, want %g", worst, got.Data[max(worst, 0)], want.Data[max(worst, 0)])
			})
		}
	})
}

func TestPaddingMatmul(t *testing.T) {
	const m, n, k = 70, 90, 100
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		for _, kinds := range [][2]layout.Kind{
			{layout.KindRowMajor, layout.KindRowMajor},
			{layout.KindColumnMajor, layout.KindColumnMajor},
		} {
			t.Run(fmt.Sprintf("%s-%s", kinds[0], kinds[1]), func(t *testing.T) {
				aData, bData := reference.FillInts[float16.Float16](110*110, 1), reference.FillInts[float16.Float16](110*110, 2)
				a := Matrix[float16.Float16]{Data: aData, Layout: layout.NewRowMajorLd(m, k, k+3)}
				b := Matrix[float16.Float16]{Data: bData, Layout: layout.NewRowMajorLd(k, n, n+5)}
				if kinds[0] == layout.KindColumnMajor {
					a.Layout = layout.NewColumnMajorLd(m, k, m+7)
					b.Layout = layout.NewColumnMajorLd(k, n, k+1)
				}
				c := newOutput[float16.Float16](m, n)
				report, err := PaddingMatmul[float16.Float16, float32, float16.Float16](a, b, c.Matrix, MatmulOptions{
					LaunchOptions: lo,
					Gemm:          f16Gemm(gemm.MmadAtlasA2Preload{}, kinds[0], kinds[1]),
				})
				require.NoError(t, err)
				assert.Equal(t, "padding-matmul", report.Kernel)
				want := reference.Gemm(reference.FromLayout(aData, a.Layout), reference.FromLayout(bData, b.Layout))
				c.check(t, reference.Round[float16.Float16](want), 0, 0)
			})
		}
	})
}
