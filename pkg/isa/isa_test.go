// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"math"
	"testing"
	"time"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func testBothModes(t *testing.T, kind arch.CoreKind, fn func(t *testing.T, core *arch.Core)) {
	for _, sequential := range []bool{true, false} {
		name := "pipelined"
		if sequential {
			name = "sequential"
		}
		t.Run(name, func(t *testing.T) {
			core := arch.NewCore(arch.Config{Sequential: sequential, Poison: true, Watchdog: 30 * time.Second}, kind)
			fn(t, core)
			core.Close()
		})
	}
}

// drain waits for every pipe: tests use it instead of event flags between stages.
func drain(core *arch.Core) { core.PipeBarrier(arch.PipeAll) }

func f16(v float32) float16.Float16 { return float16.Fromfloat32(v) }

func TestDataCopy(t *testing.T) {
	testBothModes(t, arch.CoreKindVector, func(t *testing.T, core *arch.Core) {
		const rows, cols, ld = 4, 24, 32
		src := make([]float32, rows*ld)
		for i := range src {
			src[i] = float32(i)
		}
		ub := arch.GetBufferByByte[float32](core.Resource().UB, 0)
		gm := arch.GlobalTensor(src)
		DataCopy(core, ub, gm, DataCopyParams{BlockCount: rows, BlockLen: 3, SrcStride: 1})
		drain(core)
		for r := range rows {
			assert.Equal(t, src[r*ld:r*ld+cols], ub.Data()[r*cols:(r+1)*cols])
		}

		out := make([]float32, rows*ld)
		DataCopy(core, arch.GlobalTensor(out), ub, DataCopyParams{BlockCount: rows, BlockLen: 3, DstStride: 1})
		drain(core)
		for r := range rows {
			assert.Equal(t, src[r*ld:r*ld+cols], out[r*ld:r*ld+cols])
			assert.Equal(t, make([]float32, ld-cols), out[r*ld+cols:(r+1)*ld])
		}

		require.Panics(t, func() { DataCopy(core, ub, gm, DataCopyParams{BlockCount: 4096, BlockLen: 1}) })
		require.Panics(t, func() { DataCopy(core, ub, gm, DataCopyParams{BlockCount: 1, BlockLen: 1, SrcStride: arch.StrideLimit}) })
		require.Panics(t, func() { DataCopy(core, gm, arch.GlobalTensor(out), DataCopyParams{BlockCount: 1, BlockLen: 1}) })
		require.Panics(t, func() { DataCopyContiguous(core, ub, gm, 7) })
	})
}

func TestDataCopyPad(t *testing.T) {
	testBothModes(t, arch.CoreKindVector, func(t *testing.T, core *arch.Core) {
		const rows, cols, ld = 3, 5, 7
		src := make([]float16.Float16, rows*ld)
		for i := range src {
			src[i] = f16(float32(i))
		}
		ub := arch.GetBufferByByte[float16.Float16](core.Resource().UB, 0)
		DataCopyPad(core, ub, arch.GlobalTensor(src),
			DataCopyExtParams{BlockCount: rows, BlockLen: cols * 2, SrcStride: (ld - cols) * 2},
			DataCopyPadParams[float16.Float16]{IsPad: true, RightPadding: 3, PadValue: f16(9)})
		drain(core)
		for r := range rows {
			row := ub.Data()[r*16 : r*16+8]
			for c := range cols {
				assert.Equal(t, src[r*ld+c], row[c])
			}
			for c := cols; c < 8; c++ {
				assert.Equal(t, f16(9), row[c])
			}
		}

		out := make([]float16.Float16, rows*cols)
		DataCopyPad(core, arch.GlobalTensor(out), ub,
			DataCopyExtParams{BlockCount: rows, BlockLen: cols * 2}, DataCopyPadParams[float16.Float16]{})
		drain(core)
		for r := range rows {
			assert.Equal(t, src[r*ld:r*ld+cols], out[r*cols:(r+1)*cols])
		}
		require.Panics(t, func() {
			DataCopyPad(core, ub, arch.GlobalTensor(src), DataCopyExtParams{BlockCount: 1, BlockLen: 3},
				DataCopyPadParams[float16.Float16]{})
		})
	})
}

func TestNd2Nz(t *testing.T) {
	testBothModes(t, arch.CoreKindCube, func(t *testing.T, core *arch.Core) {
		const rows, cols = 17, 33
		src := make([]float16.Float16, rows*cols)
		for i := range src {
			src[i] = f16(float32(i + 1))
		}
		l1 := arch.GetBufferByByte[float16.Float16](core.Resource().L1, 0)
		zn := layout.MakeZN(dtypes.Float16, rows, cols)
		Nd2Nz(core, l1, arch.GlobalTensor(src), Nd2NzParams{
			NdNum: 1, NValue: rows, DValue: cols, SrcDValue: cols,
			DstNzC0Stride: zn.Stride(3) / 16, DstNzNStride: 1,
		})
		drain(core)
		for r := range rows {
			for c := range 48 {
				got := l1.Data()[zn.Offset(coord.MakeMatrixCoord(r, c))]
				if c < cols {
					require.Equal(t, src[r*cols+c], got, "(%d, %d)", r, c)
				} else {
					require.Equal(t, f16(0), got, "padding (%d, %d)", r, c)
				}
			}
		}
		// Rows past NValue are not written: the arena is poisoned (NaN).
		assert.True(t, math.IsNaN(float64(l1.Data()[zn.Offset(coord.MakeMatrixCoord(rows, 0))].Float32())))

		require.Panics(t, func() {
			Nd2Nz(core, l1, arch.GlobalTensor(src), Nd2NzParams{NdNum: 1, NValue: 1, DValue: 1, SrcDValue: arch.StrideLimit})
		})
	})
}

func TestLoadData2D(t *testing.T) {
	testBothModes(t, arch.CoreKindCube, func(t *testing.T, core *arch.Core) {
		const frac = 256
		l1 := arch.GetBufferByByte[float16.Float16](core.Resource().L1, 0)
		for i := range 4 * frac {
			l1.SetValue(i, f16(float32(i)))
		}
		l0a := arch.GetBufferByByte[float16.Float16](core.Resource().L0A, 0)
		LoadData2D(core, l0a, l1, LoadData2DParams{StartIndex: 1, RepeatTimes: 2, SrcStride: 2, DstGap: 1})
		l0b := arch.GetBufferByByte[float16.Float16](core.Resource().L0B, 0)
		LoadData2D(core, l0b, l1, LoadData2DParams{RepeatTimes: 1, IfTranspose: true})
		drain(core)
		assert.Equal(t, l1.Data()[frac:2*frac], l0a.Data()[:frac])
		assert.Equal(t, l1.Data()[3*frac:4*frac], l0a.Data()[2*frac:3*frac])
		for r := range 16 {
			for c := range 16 {
				require.Equal(t, l1.Data()[r*16+c], l0b.Data()[c*16+r])
			}
		}

		require.Panics(t, func() { LoadData2D(core, l0a, l1, LoadData2DParams{RepeatTimes: 256}) })
		l1f32 := arch.Reinterpret[float32](l1)
		l0f32 := arch.Reinterpret[float32](l0a)
		require.Panics(t, func() { LoadData2D(core, l0f32, l1f32, LoadData2DParams{RepeatTimes: 1, IfTranspose: true}) })
	})
}

func TestLoadDataWithTranspose(t *testing.T) {
	testBothModes(t, arch.CoreKindCube, func(t *testing.T, core *arch.Core) {
		// float32: a 16x16 square is two 16x8 fractals side by side.
		l1 := arch.GetBufferByByte[float32](core.Resource().L1, 0)
		at := func(a, b int) int { return (b/8)*128 + a*8 + b%8 }
		for a := range 16 {
			for b := range 16 {
				l1.SetValue(at(a, b), float32(a*16+b))
			}
		}
		l0b := arch.GetBufferByByte[float32](core.Resource().L0B, 0)
		LoadDataWithTranspose(core, l0b, l1, LoadData2DTransposeParams{RepeatTimes: 1})
		drain(core)
		for a := range 16 {
			for b := range 16 {
				require.Equal(t, float32(b*16+a), l0b.Data()[at(a, b)], "(%d, %d)", a, b)
			}
		}

		// int8: a 32x32 square is two 16x32 fractals stacked.
		l1i8 := arch.GetBufferByByte[int8](core.Resource().L1, 4096)
		at8 := func(a, b int) int { return (a/16)*512 + (a%16)*32 + b }
		for a := range 32 {
			for b := range 32 {
				l1i8.SetValue(at8(a, b), int8(a-b))
			}
		}
		l0i8 := arch.GetBufferByByte[int8](core.Resource().L0A, 0)
		LoadDataWithTranspose(core, l0i8, l1i8, LoadData2DTransposeParams{RepeatTimes: 1})
		drain(core)
		for a := range 32 {
			for b := range 32 {
				require.Equal(t, int8(b-a), l0i8.Data()[at8(a, b)])
			}
		}
		l1f16 := arch.Reinterpret[float16.Float16](l1)
		require.Panics(t, func() {
			LoadDataWithTranspose(core, arch.Reinterpret[float16.Float16](l0b), l1f16, LoadData2DTransposeParams{RepeatTimes: 1})
		})
	})
}

func TestMmadFixpipe(t *testing.T) {
	testBothModes(t, arch.CoreKindCube, func(t *testing.T, core *arch.Core) {
		const m, n, k = 18, 20, 40
		zz := layout.MakeZZ(dtypes.Float16, m, k)
		nz := layout.MakeNZ(dtypes.Float16, k, n)
		l0a := arch.GetBufferByByte[float16.Float16](core.Resource().L0A, 0)
		l0b := arch.GetBufferByByte[float16.Float16](core.Resource().L0B, 0)
		a := func(i, kk int) float32 { return float32((i+2*kk)%7 - 3) }
		b := func(kk, j int) float32 { return float32((3*kk+j)%5-2) / 2 }
		for i := range m {
			for kk := range k {
				l0a.SetValue(zz.Offset(coord.MakeMatrixCoord(i, kk)), f16(a(i, kk)))
			}
		}
		for kk := range k {
			for j := range n {
				l0b.SetValue(nz.Offset(coord.MakeMatrixCoord(kk, j)), f16(b(kk, j)))
			}
		}
		l0c := arch.GetBufferByByte[float32](core.Resource().L0C, 0)
		Mmad(core, l0c, l0a, l0b, MmadParams{M: m, N: n, K: k, CmatrixInitVal: true})
		// Accumulate a second time.
		Mmad(core, l0c, l0a, l0b, MmadParams{M: m, N: n, K: k})
		out := make([]float32, m*n)
		drain(core)
		Fixpipe(core, arch.GlobalTensor(out), l0c, arch.Tensor[float32]{},
			FixpipeParams{M: m, N: n, SrcStride: 32, DstStride: n})
		outT := make([]float16.Float16, m*n)
		Fixpipe(core, arch.GlobalTensor(outT), l0c, arch.Tensor[float32]{},
			FixpipeParams{M: m, N: n, SrcStride: 32, DstStride: m, Quant: QuantModeF322F16, Layout: FixpipeLayoutNz2Dn})
		drain(core)
		for i := range m {
			for j := range n {
				var want float32
				for kk := range k {
					want += a(i, kk) * b(kk, j)
				}
				require.Equal(t, 2*want, out[i*n+j], "(%d, %d)", i, j)
				require.Equal(t, f16(2*want), outT[j*m+i])
			}
		}

		require.Panics(t, func() { Mmad(core, l0c, l0a, l0b, MmadParams{M: 4096, N: 1, K: 1}) })
		require.Panics(t, func() {
			Mmad(core, arch.Reinterpret[int32](l0c), l0a, l0b, MmadParams{M: 1, N: 1, K: 1})
		})
	})
}

func TestFixpipePerChannelDescale(t *testing.T) {
	testBothModes(t, arch.CoreKindCube, func(t *testing.T, core *arch.Core) {
		const m, n = 3, 20
		l0c := arch.GetBufferByByte[int32](core.Resource().L0C, 0)
		zn := layout.MakeZNInL0C(coord.MakeMatrixCoord(m, n))
		acc := func(i, j int) int32 { return int32((i+1)*1000 - j*37) }
		for i := range m {
			for j := range n {
				l0c.SetValue(zn.Offset(coord.MakeMatrixCoord(i, j)), acc(i, j))
			}
		}
		fb := arch.GetBufferByByte[float32](core.Resource().FB, 0)
		scales := make([]float32, n)
		for j := range n {
			scales[j] = 0.001 * float32(j+1)
			fb.SetValue(j, scales[j])
		}
		out := make([]float16.Float16, m*n)
		p := FixpipeParams{M: m, N: n, SrcStride: 16, DstStride: n, Quant: QuantModeVDEQF16}
		Fixpipe(core, arch.GlobalTensor(out), l0c, fb, p)
		drain(core)
		for i := range m {
			for j := range n {
				require.Equal(t, f16(float32(acc(i, j))*scales[j]), out[i*n+j])
			}
		}

		perTensor := make([]float16.Float16, m*n)
		p.Quant, p.DeqScalar = QuantModeDEQF16, 0.5
		Fixpipe(core, arch.GlobalTensor(perTensor), l0c, arch.Tensor[float32]{}, p)
		drain(core)
		assert.Equal(t, f16(500), perTensor[0])

		p.Quant = QuantModeF322F16
		require.Panics(t, func() { Fixpipe(core, arch.GlobalTensor(out), l0c, fb, p) })
		p.Quant, p.SrcStride = QuantModeDEQF16, 8
		require.Panics(t, func() { Fixpipe(core, arch.GlobalTensor(out), l0c, fb, p) })
	})
}

func TestVectorOps(t *testing.T) {
	testBothModes(t, arch.CoreKindVector, func(t *testing.T, core *arch.Core) {
		ub := core.Resource().UB
		x := arch.GetBufferByByte[float32](ub, 0)
		y := arch.GetBufferByByte[float32](ub, 1024)
		z := arch.GetBufferByByte[float32](ub, 2048)
		for i := range 128 {
			x.SetValue(i, float32(i))
			y.SetValue(i, 2)
		}
		Add(core, z, x, y, 100)
		drain(core)
		assert.Equal(t, float32(101), z.GetValue(99))
		assert.True(t, math.IsNaN(float64(z.GetValue(100))), "element past count must not be written")

		// Row broadcast: two rows of 16, multiplied by the same 16 values of y (src1 repeat stride 0).
		for i := range 16 {
			y.SetValue(i, float32(i))
		}
		MulMasked(core, z, x, y, 16, 2, BinaryRepeatParams{1, 1, 1, 2, 2, 0})
		drain(core)
		assert.Equal(t, float32(17*1), z.GetValue(17))
		assert.Equal(t, float32(31*15), z.GetValue(31))

		// Brcb + Sub: subtract a per-row value from 8 rows of 8.
		Brcb(core, z, x, 1, BrcbRepeatParams{DstBlkStride: 1, DstRepStride: 8})
		drain(core)
		assert.Equal(t, float32(3), z.GetValue(3*8+5))
		SubMasked(core, y, x, z, 64, 1, DefaultBinaryRepeatParams())
		drain(core)
		assert.Equal(t, float32(3*8+5-3), y.GetValue(3*8+5))

		WholeReduceMax(core, z, x, 64, 2, DefaultReduceParams())
		BlockReduceSum(core, y, x, 64, 1, ReduceParams{DstRepStride: 8, SrcBlkStride: 1, SrcRepStride: 8})
		drain(core)
		assert.Equal(t, []float32{63, 127}, z.Data()[:2])
		assert.Equal(t, float32(0+1+2+3+4+5+6+7), y.GetValue(0))
		assert.Equal(t, float32(56+57+58+59+60+61+62+63), y.GetValue(7))

		Muls(core, z, x, -1, 4)
		Exp(core, z, z, 4)
		drain(core)
		assert.InDelta(t, math.Exp(-3), z.GetValue(3), 1e-6)

		h := arch.GetBufferByByte[float16.Float16](ub, 4096)
		CastMasked(core, h, x, dtypes.RoundRint, 64, 2, UnaryRepeatParams{1, 1, 4, 8})
		drain(core)
		assert.Equal(t, f16(127), h.GetValue(127))

		Duplicate(core, z, 7, 40)
		drain(core)
		assert.Equal(t, float32(7), z.GetValue(39))

		require.Panics(t, func() { AddMasked(core, z, x, y, 65, 1, DefaultBinaryRepeatParams()) })
		require.Panics(t, func() { AddMasked(core, z, x, y, 64, 256, DefaultBinaryRepeatParams()) })
		require.Panics(t, func() { MulsMasked(core, z, x, 1, 64, 1, UnaryRepeatParams{256, 1, 8, 8}) })
		require.Panics(t, func() { Add(core, z, x, arch.GlobalTensor(make([]float32, 8)), 8) })
	})
}

func TestMixedPrecisionAccumulate(t *testing.T) {
	testBothModes(t, arch.CoreKindVector, func(t *testing.T, core *arch.Core) {
		ub := core.Resource().UB
		a := arch.GetBufferByByte[float16.Float16](ub, 0)
		x := arch.GetBufferByByte[float16.Float16](ub, 1024)
		acc := arch.GetBufferByByte[float32](ub, 2048)
		// Two rows of 32 halves; each row is multiplied by the same x and accumulated in its own 64 floats.
		for i := range 64 {
			a.SetValue(i, f16(float32(i%32)))
		}
		for i := range 32 {
			x.SetValue(i, f16(0.5))
		}
		Duplicate(core, acc, 1, 128)
		MulAddDstMasked(core, acc, a, x, 32, 2, BinaryRepeatParams{1, 1, 1, 8, 2, 0})
		drain(core)
		assert.Equal(t, float32(1+31*0.5), acc.GetValue(31))
		assert.Equal(t, float32(1+5*0.5), acc.GetValue(64+5))
		assert.Equal(t, float32(1), acc.GetValue(32), "masked out")

		AxpyMasked(core, acc, a, f16(2), 16, 1, UnaryRepeatParams{1, 1, 8, 8})
		drain(core)
		assert.Equal(t, float32(1+3*0.5+3*2), acc.GetValue(3))
	})
}
