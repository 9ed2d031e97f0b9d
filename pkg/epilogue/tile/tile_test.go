// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"math"
	"testing"
	"time"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func testBothModes(t *testing.T, fn func(t *testing.T, core *arch.Core)) {
	for _, sequential := range []bool{true, false} {
		name := "pipelined"
		if sequential {
			name = "sequential"
		}
		t.Run(name, func(t *testing.T) {
			core := arch.NewCore(arch.Config{Sequential: sequential, Poison: true, Watchdog: 30 * time.Second}, arch.CoreKindVector)
			fn(t, core)
			core.Close()
		})
	}
}

func drain(core *arch.Core) { core.PipeBarrier(arch.PipeAll) }

// ubTensor returns the float32 UB tensor at byteOffset filled with fn(i) for i < n.
func ubTensor(core *arch.Core, byteOffset, n int, fn func(i int) float32) arch.Tensor[float32] {
	t := arch.GetBufferByByte[float32](core.Resource().UB, byteOffset)
	for i := range n {
		t.SetValue(i, fn(i))
	}
	return t
}

func TestElemWise(t *testing.T) {
	testBothModes(t, func(t *testing.T, core *arch.Core) {
		const n = 300
		x := ubTensor(core, 0, n, func(i int) float32 { return float32(i-150) / 25 })
		y := ubTensor(core, 4096, n, func(i int) float32 { return float32(i%7) - 3 })
		z := arch.GetBufferByByte[float32](core.Resource().UB, 8192)

		ElemWiseAdd(core, z, x, y, n)
		drain(core)
		assert.Equal(t, x.GetValue(17)+y.GetValue(17), z.GetValue(17))
		ElemWiseMul(core, z, x, y, n)
		drain(core)
		assert.Equal(t, x.GetValue(299)*y.GetValue(299), z.GetValue(299))
		ElemWiseMuls(core, z, x, 0.5, n)
		drain(core)
		assert.Equal(t, x.GetValue(3)/2, z.GetValue(3))

		h := arch.GetBufferByByte[float16.Float16](core.Resource().UB, 12288)
		Cast(core, h, x, n)
		drain(core)
		assert.Equal(t, float16.Fromfloat32(x.GetValue(101)), h.GetValue(101))

		gelu := func(v float64) float64 {
			return v / (1 + math.Exp(-geluScale*(v+geluCubic*v*v*v)))
		}
		Gelu(core, z, x, n)
		drain(core)
		for i := range n {
			v := float64(x.GetValue(i))
			require.InDelta(t, gelu(v), float64(z.GetValue(i)), 1e-4, "gelu(%g)", v)
		}
		assert.Greater(t, float64(z.GetValue(n-1)), 5.9, "gelu(x) ~ x for large x")

		Activate(core, ActivationSwish, z, x, n)
		drain(core)
		for i := range n {
			v := float64(x.GetValue(i))
			require.InDelta(t, v/(1+math.Exp(-v)), float64(z.GetValue(i)), 1e-4, "swish(%g)", v)
		}

		Activate(core, ActivationIdentity, x, x, n)
		drain(core)
		assert.Equal(t, float32(-6), x.GetValue(0))
		require.Panics(t, func() { Activate(core, Activation(7), z, x, n) })
	})
}

func TestBroadcasts(t *testing.T) {
	testBothModes(t, func(t *testing.T, core *arch.Core) {
		const rows, cols, ld = 19, 70, 72
		l := layout.NewRowMajorLd(rows, cols, ld)
		a := ubTensor(core, 0, rows*ld, func(i int) float32 { return float32(i%ld + 1) })
		rowVec := ubTensor(core, 8*1024, 24, func(i int) float32 { return float32(i + 2) })
		colVec := ubTensor(core, 9*1024, cols, func(i int) float32 { return float32(i%5 - 2) })
		blk := arch.GetBufferByByte[float32](core.Resource().UB, 10*1024)
		dst := arch.GetBufferByByte[float32](core.Resource().UB, 16*1024)

		BroadcastOneBlk(core, blk, rowVec, rows)
		drain(core)
		for r := range rows {
			for e := range 8 {
				require.Equal(t, float32(r+2), blk.GetValue(r*8+e))
			}
		}

		check := func(name string, want func(v float32, r, c int) float32) {
			drain(core)
			for r := range rows {
				for c := range cols {
					require.Equal(t, want(a.GetValue(r*ld+c), r, c), dst.GetValue(r*ld+c), "%s[%d][%d]", name, r, c)
				}
			}
		}
		OneBlkColumnBroadcastMul(core, dst, a, blk, l)
		check("mul", func(v float32, r, _ int) float32 { return v * float32(r+2) })
		OneBlkColumnBroadcastSub(core, dst, a, blk, l)
		check("sub", func(v float32, r, _ int) float32 { return v - float32(r+2) })
		OneBlkColumnBroadcastDiv(core, dst, a, blk, l)
		check("div", func(v float32, r, _ int) float32 { return v / float32(r+2) })
		RowBroadcastMul(core, dst, a, colVec, l)
		check("row", func(v float32, _, c int) float32 { return v * float32(c%5-2) })

		// In-place broadcasts of dst.
		BroadcastInplaceByRow(core, dst, l)
		check("by-row", func(_ float32, _, c int) float32 { return float32(c+1) * float32(c%5-2) })
		OneBlkColumnBroadcastMul(core, dst, a, blk, l)
		BroadcastInplaceByColumn(core, dst, l)
		check("by-column", func(_ float32, r, c int) float32 { return float32(c%8+1) * float32(r+2) })
	})
}

func TestWideTileBroadcasts(t *testing.T) {
	// Rows of 2048 float32 are 256 blocks apart, past the largest block and repeat strides: every broadcast
	// and reduction goes one row at a time.
	testBothModes(t, func(t *testing.T, core *arch.Core) {
		const rows, cols, ld = 5, 2040, 2048
		l := layout.NewRowMajorLd(rows, cols, ld)
		a := ubTensor(core, 0, rows*ld, func(i int) float32 { return float32(i%ld%11) - 5 + float32(i/ld) })
		dst := arch.GetBufferByByte[float32](core.Resource().UB, 48*1024)
		colVec := ubTensor(core, 96*1024, cols, func(i int) float32 { return float32(i%3 + 1) })
		rowVec := ubTensor(core, 104*1024, 8, func(i int) float32 { return float32(i + 2) })
		blk := arch.GetBufferByByte[float32](core.Resource().UB, 105*1024)
		tmp := arch.GetBufferByByte[float32](core.Resource().UB, 106*1024)
		sum := arch.GetBufferByByte[float32](core.Resource().UB, 110*1024)
		mx := arch.GetBufferByByte[float32](core.Resource().UB, 111*1024)

		check := func(name string, want func(r, c int) float32) {
			drain(core)
			for r := range rows {
				for c := range cols {
					require.Equal(t, want(r, c), dst.GetValue(r*ld+c), "%s[%d][%d]", name, r, c)
				}
			}
		}
		at := func(r, c int) float32 { return a.GetValue(r*ld + c) }

		RowBroadcastMul(core, dst, a, colVec, l)
		check("row", func(r, c int) float32 { return at(r, c) * float32(c%3+1) })
		BroadcastOneBlk(core, blk, rowVec, rows)
		drain(core)
		OneBlkColumnBroadcastMul(core, dst, a, blk, l)
		check("mul", func(r, c int) float32 { return at(r, c) * float32(r+2) })
		OneBlkColumnBroadcastSub(core, dst, a, blk, l)
		check("sub", func(r, c int) float32 { return at(r, c) - float32(r+2) })

		BroadcastInplaceByRow(core, dst, l)
		check("by-row", func(_, c int) float32 { return at(0, c) - 2 })
		OneBlkColumnBroadcastMul(core, dst, a, blk, l)
		BroadcastInplaceByColumn(core, dst, l)
		check("by-column", func(r, c int) float32 { return at(r, c%8) * float32(r+2) })

		RowReduceSum(core, sum, a, tmp, l)
		RowReduceMax(core, mx, a, tmp, l)
		drain(core)
		for r := range rows {
			var wantSum float32
			wantMax := float32(math.Inf(-1))
			for c := range cols {
				wantSum += at(r, c)
				wantMax = max(wantMax, at(r, c))
			}
			require.InDelta(t, wantSum, sum.GetValue(r), 1e-2, "sum of row %d", r)
			require.Equal(t, wantMax, mx.GetValue(r), "max of row %d", r)
		}
	})
}

func TestRowReduce(t *testing.T) {
	for _, c := range []struct {
		name           string
		rows, cols, ld int
	}{
		{"narrow", 260, 50, 56},
		{"one-repeat", 9, 64, 64},
		{"wide", 20, 150, 152},
		{"wide-many-rows", 260, 72, 72},
	} {
		t.Run(c.name, func(t *testing.T) {
			testBothModes(t, func(t *testing.T, core *arch.Core) {
				l := layout.NewRowMajorLd(c.rows, c.cols, c.ld)
				src := ubTensor(core, 0, c.rows*c.ld, func(i int) float32 {
					return float32((i*7)%13) - 6 + float32(i/c.ld%3)
				})
				tmp := arch.GetBufferByByte[float32](core.Resource().UB, 80*1024)
				sum := arch.GetBufferByByte[float32](core.Resource().UB, 150*1024)
				mx := arch.GetBufferByByte[float32](core.Resource().UB, 152*1024)
				RowReduceSum(core, sum, src, tmp, l)
				RowReduceMax(core, mx, src, tmp, l)
				drain(core)
				for r := range c.rows {
					var wantSum float32
					wantMax := float32(math.Inf(-1))
					for j := range c.cols {
						v := src.GetValue(r*c.ld + j)
						wantSum += v
						wantMax = max(wantMax, v)
					}
					require.InDelta(t, wantSum, sum.GetValue(r), 1e-3, "sum of row %d", r)
					require.Equal(t, wantMax, mx.GetValue(r), "max of row %d", r)
				}
			})
		})
	}
}

func TestTileSwizzle(t *testing.T) {
	block := coord.MakeMatrixCoord(70, 45)
	tile := coord.MakeMatrixCoord(32, 16)
	for _, s := range []Swizzle{NewIdentityTileSwizzle(block, tile), NewHorizontalTileSwizzle(block, tile)} {
		require.Equal(t, 9, s.Loops())
		seen := map[coord.MatrixCoord]bool{}
		covered := 0
		for i := range s.Loops() {
			c := s.TileCoord(i)
			require.False(t, seen[c], "%s visits %s twice", s, c)
			seen[c] = true
			covered += s.ActualTileShape(c).Count()
		}
		assert.Equal(t, block.Count(), covered)
	}
	assert.Equal(t, coord.MakeMatrixCoord(0, 1), NewIdentityTileSwizzle(block, tile).TileCoord(1))
	assert.Equal(t, coord.MakeMatrixCoord(1, 0), NewHorizontalTileSwizzle(block, tile).TileCoord(1))
	assert.Equal(t, coord.MakeMatrixCoord(6, 13), NewIdentityTileSwizzle(block, tile).ActualTileShape(coord.MakeMatrixCoord(2, 2)))
}

func TestLoadStoreTile(t *testing.T) {
	testBothModes(t, func(t *testing.T, core *arch.Core) {
		gmLayout := layout.NewRowMajor(20, 30)
		data := make([]float32, gmLayout.Span())
		for i := range data {
			data[i] = float32(i)
		}
		out := make([]float32, len(data))
		gm, gmOut := arch.GlobalTensor(data), arch.GlobalTensor(out)
		ub := arch.GetBufferByByte[float32](core.Resource().UB, 0)
		origin, shape := coord.MakeMatrixCoord(3, 5), coord.MakeMatrixCoord(7, 11)
		l := LoadTile(core, ub, 16, gm, gmLayout, origin, shape)
		drain(core)
		assert.Equal(t, float32(3*30+5), ub.GetValue(0))
		assert.Equal(t, float32(4*30+5+10), ub.GetValue(16+10))
		StoreTile(core, gmOut, gmLayout, origin, ub, l)
		drain(core)
		for i := range out {
			r, c := i/30, i%30
			inside := r >= 3 && r < 10 && c >= 5 && c < 16
			if inside {
				require.Equal(t, data[i], out[i])
			} else {
				require.Zero(t, out[i], "written outside the tile at (%d, %d)", r, c)
			}
		}
	})
}
