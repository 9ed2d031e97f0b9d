// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/gomlx/tilegemm/pkg/reference"
	"github.com/gomlx/tilegemm/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

const sentinelMargin = 32

// forBothModes runs fn with the pipes sequential and pipelined.
func forBothModes(t *testing.T, fn func(t *testing.T, sequential bool)) {
	for _, sequential := range []bool{true, false} {
		mode := map[bool]string{true: "sequential", false: "pipelined"}[sequential]
		t.Run(mode, func(t *testing.T) { fn(t, sequential) })
	}
}

// launchVector runs body on the vector cores of blockDim AI cores.
func launchVector(t *testing.T, name string, sequential bool, blockDim int, body func(core *arch.Core)) {
	_, err := arch.Launch(arch.Config{Sequential: sequential, Poison: true, Watchdog: time.Minute}, blockDim,
		arch.Kernel{Name: name, Vector: body})
	require.NoError(t, err)
}

// checkOutput verifies the sentinels around full and that the OrgShape of l in got is close to want.
func checkOutput[T dtypes.Float](t *testing.T, full, got []T, sentinel T, l layout.RowMajor, want reference.Matrix,
	atol, rtol float64) {
	ok, idx := xslices.SentinelsIntact(full, sentinelMargin, sentinel)
	require.True(t, ok, "output written out of bounds at %d", idx)
	m := reference.FromLayout(got, l)
	ok, worst := reference.AllClose(m, want, atol, rtol)
	if !ok {
		t.Fatalf("element %d (row %d, column %d) = %g, want %g", worst, worst/m.Cols, worst%m.Cols,
			m.Data[worst], want.Data[worst])
	}
}

func runElemWise[T dtypes.Float](t *testing.T, sequential bool, cfg Config, want func(c, x reference.Matrix) reference.Matrix,
	atol, rtol float64) {
	const rows, cols = 45, 70
	lC, lD := layout.NewRowMajorLd(rows, cols, 75), layout.NewRowMajorLd(rows, cols, 72)
	c := reference.FillUniform[T](lC.Span(), 1, 3)
	x := reference.FillUniform[T](lC.Span(), 2, 1)
	sentinel := dtypes.FromFloat32[T](-777, dtypes.RoundNone)
	full, d := xslices.Padded(lD.Span(), sentinelMargin, sentinel)
	gmC, gmX, gmD := arch.GlobalTensor(c), arch.GlobalTensor(x), arch.GlobalTensor(d)
	launchVector(t, "elemwise", sequential, 1, func(core *arch.Core) {
		b := must.M1(NewBlockElemWise[T](core, cfg))
		b.Run(gmC, lC, gmX, lC, gmD, lD)
		b.Close()
	})
	checkOutput(t, full, d, sentinel, lD, reference.Round[T](want(reference.FromLayout(c, lC), reference.FromLayout(x, lC))),
		atol, rtol)
}

func TestBlockElemWise(t *testing.T) {
	forBothModes(t, func(t *testing.T, sequential bool) {
		for _, act := range tile.ActivationValues() {
			fn := map[tile.Activation]func(float64) float64{
				tile.ActivationIdentity: func(v float64) float64 { return v },
				tile.ActivationGelu:     reference.Gelu,
				tile.ActivationSwish:    reference.Swish,
			}[act]
			cfg := Config{Policy: EpilogueAtlasA2ElemWiseNoSource{}, Activation: act, UBTileShape: coord.MakeMatrixCoord(16, 48)}
			want := func(c, _ reference.Matrix) reference.Matrix { return reference.Apply(c, fn) }
			t.Run(act.String()+"-f32", func(t *testing.T) { runElemWise[float32](t, sequential, cfg, want, 1e-4, 1e-4) })
			t.Run(act.String()+"-f16", func(t *testing.T) { runElemWise[float16.Float16](t, sequential, cfg, want, 1e-2, 1e-2) })
		}
		add := func(c, x reference.Matrix) reference.Matrix { return reference.Axpby(1, c, 1, x) }
		t.Run("one-source-f16", func(t *testing.T) {
			cfg := Config{Policy: EpilogueAtlasA2ElemWiseOneSource{}, UBTileShape: coord.MakeMatrixCoord(8, 64)}
			runElemWise[float16.Float16](t, sequential, cfg, add, 1e-2, 1e-2)
		})
		t.Run("one-source-bf16-default-tile", func(t *testing.T) {
			cfg := Config{Policy: EpilogueAtlasA2ElemWiseOneSource{}}
			runElemWise[bfloat16.BFloat16](t, sequential, cfg, add, 5e-2, 1e-2)
		})
	})
}

func runBlockGemm[T dtypes.Float](t *testing.T, sequential, withX bool, alpha, beta float32, atol, rtol float64) {
	const rows, cols = 50, 90
	lC, lX, lD := layout.NewRowMajor(rows, cols), layout.NewRowMajorLd(rows, cols, 100), layout.NewRowMajorLd(rows, cols, 96)
	c := reference.FillUniform[float32](lC.Span(), 3, 4)
	x := reference.FillUniform[T](lX.Span(), 4, 2)
	sentinel := dtypes.FromFloat32[T](-777, dtypes.RoundNone)
	full, d := xslices.Padded(lD.Span(), sentinelMargin, sentinel)
	gmC, gmD := arch.GlobalTensor(c), arch.GlobalTensor(d)
	var gmX arch.Tensor[T]
	if withX {
		gmX = arch.GlobalTensor(x)
	}
	cfg := Config{Policy: EpilogueAtlasA2Gemm{}, UBTileShape: coord.MakeMatrixCoord(20, 64)}
	launchVector(t, "gemm-epilogue", sequential, 1, func(core *arch.Core) {
		b := must.M1(NewBlockGemm[T](core, cfg))
		b.Run(gmC, lC, gmX, lX, gmD, lD, alpha, beta)
		b.Close()
	})
	effectiveBeta := float64(beta)
	if !withX {
		effectiveBeta = 0
	}
	want := reference.Axpby(float64(alpha), reference.FromLayout(c, lC), effectiveBeta, reference.FromLayout(x, lX))
	checkOutput(t, full, d, sentinel, lD, reference.Round[T](want), atol, rtol)
}

func TestBlockGemm(t *testing.T) {
	forBothModes(t, func(t *testing.T, sequential bool) {
		t.Run("f16", func(t *testing.T) { runBlockGemm[float16.Float16](t, sequential, true, 1.5, -0.5, 1e-2, 1e-2) })
		t.Run("f32", func(t *testing.T) { runBlockGemm[float32](t, sequential, true, 2, 0.25, 1e-5, 1e-5) })
		t.Run("bf16-no-x", func(t *testing.T) { runBlockGemm[bfloat16.BFloat16](t, sequential, false, 0.5, 3, 5e-2, 1e-2) })
		t.Run("zero-beta", func(t *testing.T) { runBlockGemm[float32](t, sequential, true, 1, 0, 1e-5, 1e-5) })
	})
}

func runDequant[D, S dtypes.Float](t *testing.T, sequential bool, stages int, atol, rtol float64) {
	const rows, cols = 37, 100
	lC, lD := layout.NewRowMajorLd(rows, cols, 104), layout.NewRowMajor(rows, cols)
	c := xslices.Map(reference.FillInts[int32](lC.Span(), 5), func(v int32) int32 { return v * 1000 })
	scale := reference.FillUniform[S](cols, 6, 1e-3)
	token := reference.FillUniform[S](rows, 7, 2)
	sentinel := dtypes.FromFloat32[D](-777, dtypes.RoundNone)
	full, d := xslices.Padded(lD.Span(), sentinelMargin, sentinel)
	gmC, gmScale, gmToken, gmD := arch.GlobalTensor(c), arch.GlobalTensor(scale), arch.GlobalTensor(token), arch.GlobalTensor(d)
	cfg := Config{Policy: EpilogueAtlasA2PerTokenDequant{UBStages: stages}, UBTileShape: coord.MakeMatrixCoord(16, 64)}
	launchVector(t, "dequant", sequential, 1, func(core *arch.Core) {
		b := must.M1(NewBlockPerTokenDequant[D, S](core, cfg))
		// Two column blocks, as the kernel issues them.
		b.Run(gmC, lC, gmScale, gmToken, gmD, lD.TileLayout(coord.MakeMatrixCoord(rows, 64)))
		b.Run(gmC.Offset(64), lC, gmScale.Offset(64), gmToken, gmD.Offset(64), lD.TileLayout(coord.MakeMatrixCoord(rows, cols-64)))
		b.Close()
	})
	want := reference.ScaleColumns(reference.FromLayout(c, lC), reference.Vector(scale), reference.Vector(token))
	checkOutput(t, full, d, sentinel, lD, reference.Round[D](want), atol, rtol)
}

func TestBlockPerTokenDequant(t *testing.T) {
	forBothModes(t, func(t *testing.T, sequential bool) {
		for _, stages := range []int{1, 2} {
			t.Run(fmt.Sprintf("f16-f32-stages=%d", stages), func(t *testing.T) {
				runDequant[float16.Float16, float32](t, sequential, stages, 1e-3, 1e-2)
			})
			t.Run(fmt.Sprintf("bf16-bf16-stages=%d", stages), func(t *testing.T) {
				runDequant[bfloat16.BFloat16, bfloat16.BFloat16](t, sequential, stages, 1e-2, 2e-2)
			})
		}
	})
}

func TestBlockPerTokenDequantWideTile(t *testing.T) {
	// UB rows of 2048 float32 are too far apart for the strided vector forms.
	forBothModes(t, func(t *testing.T, sequential bool) {
		const rows, cols = 10, 2100
		lC, lD := layout.NewRowMajor(rows, cols), layout.NewRowMajor(rows, cols)
		c := reference.FillInts[int32](lC.Span(), 8)
		scale := reference.FillUniform[float32](cols, 9, 0.5)
		token := reference.FillUniform[float32](rows, 10, 2)
		sentinel := dtypes.FromFloat32[float16.Float16](-777, dtypes.RoundNone)
		full, d := xslices.Padded(lD.Span(), sentinelMargin, sentinel)
		cfg := Config{Policy: EpilogueAtlasA2PerTokenDequant{UBStages: 1}, UBTileShape: coord.MakeMatrixCoord(8, 2048)}
		require.NoError(t, cfg.Validate())
		launchVector(t, "dequant-wide", sequential, 1, func(core *arch.Core) {
			b := must.M1(NewBlockPerTokenDequant[float16.Float16, float32](core, cfg))
			b.Run(arch.GlobalTensor(c), lC, arch.GlobalTensor(scale), arch.GlobalTensor(token), arch.GlobalTensor(d), lD)
			b.Close()
		})
		want := reference.ScaleColumns(reference.FromLayout(c, lC), reference.Vector(scale), reference.Vector(token))
		checkOutput(t, full, d, sentinel, lD, reference.Round[float16.Float16](want), 1e-3, 1e-2)
	})
}

// attentionProblem is a block of queries of groups heads sharing one key/value head.
type attentionProblem struct {
	groups, groupRows int
	keys, headDim     int
	causal            bool
}

func (p attentionProblem) rows() int { return p.groups * p.groupRows }

type attentionData struct {
	q, k, v reference.Matrix // q holds the groups one after the other
	mask    []float16.Float16
}

func newAttentionData(p attentionProblem) attentionData {
	round := func(n int, seed uint64) []float64 {
		return reference.Vector(reference.FillUniform[float16.Float16](n, seed, 1))
	}
	d := attentionData{
		q: reference.Matrix{Rows: p.rows(), Cols: p.headDim, Data: round(p.rows()*p.headDim, 11)},
		k: reference.Matrix{Rows: p.keys, Cols: p.headDim, Data: round(p.keys*p.headDim, 12)},
		v: reference.Matrix{Rows: p.keys, Cols: p.headDim, Data: round(p.keys*p.headDim, 13)},
	}
	if p.causal {
		d.mask = make([]float16.Float16, p.groupRows*p.keys)
		for i := range p.groupRows {
			for j := range p.keys {
				if j > i+p.keys-p.groupRows {
					d.mask[i*p.keys+j] = float16.Fromfloat32(1)
				}
			}
		}
	}
	return d
}

// want returns the reference output and log-sum-exp of the rows of the problem.
func (d attentionData) want(p attentionProblem, scale float64) (o reference.Matrix, lse []float64) {
	o = reference.NewMatrix(p.rows(), p.headDim)
	for g := range p.groups {
		qg := reference.Matrix{Rows: p.groupRows, Cols: p.headDim,
			Data: d.q.Data[g*p.groupRows*p.headDim : (g+1)*p.groupRows*p.headDim]}
		og, lg := reference.Attention(qg, d.k, d.v, scale, p.causal)
		copy(o.Data[g*p.groupRows*p.headDim:], og.Data)
		lse = append(lse, lg...)
	}
	return
}

// runAttention runs the softmax and rescale epilogues over the key tiles of blockN keys. The scores are
// computed on the host, and so are the products P·V of each sub-block, in place of the cube core.
func runAttention(t *testing.T, sequential bool, p attentionProblem, rescale DispatchPolicy, blockN int) (
	o reference.Matrix, lse []float64) {
	data := newAttentionData(p)
	scale := float32(1 / math.Sqrt(float64(p.headDim)))
	cfg := AttentionConfig{Rescale: rescale, GroupRows: p.groupRows, Groups: p.groups, BlockN: blockN,
		HeadDim: p.headDim, Scale: scale, Masked: p.causal}
	require.NoError(t, cfg.Validate())

	tiles := coord.CeilDiv(p.keys, blockN)
	rows := p.rows()
	gmS := make([]arch.Tensor[float32], tiles)
	gmP := make([]arch.Tensor[float16.Float16], tiles)
	pData := make([][]float16.Float16, tiles)
	oWorkspace := make([][]float32, tiles)
	for j := range tiles {
		s := make([]float32, rows*blockN)
		for r := range rows {
			for c := range min(blockN, p.keys-j*blockN) {
				var dot float64
				for e := range p.headDim {
					dot += data.q.At(r, e) * data.k.At(j*blockN+c, e)
				}
				s[r*blockN+c] = float32(dot)
			}
		}
		gmS[j] = arch.GlobalTensor(s)
		pData[j] = make([]float16.Float16, rows*blockN)
		gmP[j] = arch.GlobalTensor(pData[j])
		oWorkspace[j] = make([]float32, rows*p.headDim)
	}
	var gmMask arch.Tensor[float16.Float16]
	if p.causal {
		gmMask = arch.GlobalTensor(data.mask)
	}

	sentinel := float16.Fromfloat32(-777)
	fullO, outO := xslices.Padded(rows*p.headDim, sentinelMargin, sentinel)
	outLSE := make([]float32, rows)
	out := AttentionOutput[float16.Float16]{
		O: arch.GlobalTensor(outO), Layout: layout.NewRowMajor(p.groupRows, p.headDim), GroupStride: p.groupRows * p.headDim,
		LSE: arch.GlobalTensor(outLSE), LSEGroupStride: p.groupRows,
	}
	launchVector(t, "attention", sequential, 1, func(core *arch.Core) {
		sm := must.M1(NewOnlineSoftmax[float16.Float16](core, cfg))
		r := must.M1(NewRescaleO[float16.Float16, float16.Float16](sm))
		start, n := sm.Config().share(core.SubBlockIdx(), p.groupRows)
		for j := range tiles {
			cols := min(blockN, p.keys-j*blockN)
			mask := gmMask
			if p.causal {
				mask = gmMask.Offset(j * blockN)
			}
			sm.Run(gmS[j], gmP[j], mask, layout.NewRowMajorLd(p.groupRows, cols, p.keys), p.groupRows, cols, j == 0, j)
			core.PipeBarrier(arch.PipeAll)
			for row := start; row < start+n; row++ {
				for e := range p.headDim {
					var acc float64
					for c := range cols {
						acc += float64(pData[j][row*blockN+c].Float32()) * data.v.At(j*blockN+c, e)
					}
					oWorkspace[j][row*p.headDim+e] = float32(acc)
				}
			}
			r.Run(arch.GlobalTensor(oWorkspace[j]), p.groupRows, j == 0, j == tiles-1, j, out)
		}
		r.Close()
		sm.Close()
	})
	ok, idx := xslices.SentinelsIntact(fullO, sentinelMargin, sentinel)
	require.True(t, ok, "O written out of bounds at %d", idx)

	wantO, wantLSE := data.want(p, float64(scale))
	o = reference.Matrix{Rows: rows, Cols: p.headDim, Data: reference.Vector(outO)}
	ok, worst := reference.AllClose(o, wantO, 1e-2, 2e-2)
	require.True(t, ok, "O[%d]=%g, want %g", worst, o.Data[max(worst, 0)], wantO.Data[max(worst, 0)])
	lse = reference.Vector(outLSE)
	ok, worst = xslices.AllClose(lse, wantLSE, 1e-3, 1e-3)
	require.True(t, ok, "lse[%d]=%g, want %g", worst, lse[max(worst, 0)], wantLSE[max(worst, 0)])
	return o, lse
}

func TestAttentionEpilogues(t *testing.T) {
	forBothModes(t, func(t *testing.T, sequential bool) {
		for _, tc := range []struct {
			name    string
			problem attentionProblem
			rescale DispatchPolicy
		}{
			{"single-sub-block", attentionProblem{groups: 1, groupRows: 13, keys: 70, headDim: 40}, EpilogueAtlasA2RescaleO{}},
			{"split-row", attentionProblem{groups: 1, groupRows: 13, keys: 70, headDim: 40}, EpilogueAtlasA2RescaleOSplitRow{}},
			{"groups", attentionProblem{groups: 3, groupRows: 5, keys: 70, headDim: 40}, EpilogueAtlasA2RescaleO{}},
			{"groups-split-row", attentionProblem{groups: 3, groupRows: 5, keys: 70, headDim: 40}, EpilogueAtlasA2RescaleOSplitRow{}},
			{"causal", attentionProblem{groups: 2, groupRows: 24, keys: 90, headDim: 64, causal: true}, EpilogueAtlasA2RescaleOSplitRow{}},
			{"tall", attentionProblem{groups: 1, groupRows: 150, keys: 40, headDim: 128}, EpilogueAtlasA2RescaleOSplitRow{}},
		} {
			t.Run(tc.name, func(t *testing.T) {
				// The result must not depend on the number of key tiles: 1, 2 or many.
				o1, lse1 := runAttention(t, sequential, tc.problem, tc.rescale, tc.problem.keys)
				for _, blockN := range []int{coord.CeilDiv(tc.problem.keys, 2), 16} {
					o, lse := runAttention(t, sequential, tc.problem, tc.rescale, blockN)
					assert.Less(t, xslices.MaxAbsDiff(o.Data, o1.Data), 2e-2, "blockN=%d", blockN)
					assert.Less(t, xslices.MaxAbsDiff(lse, lse1), 1e-3, "blockN=%d", blockN)
				}
			})
		}
	})
}

func TestAttentionShare(t *testing.T) {
	cfg := AttentionConfig{GroupRows: 16, Groups: 3, BlockN: 128, HeadDim: 64, Scale: 1}.WithDefaults()
	start, n := cfg.share(0, 16)
	assert.Equal(t, []int{0, 32}, []int{start, n}, "whole groups")
	start, n = cfg.share(1, 16)
	assert.Equal(t, []int{32, 16}, []int{start, n})
	assert.Equal(t, 32, cfg.statRows())

	cfg.Rescale = EpilogueAtlasA2RescaleOSplitRow{}
	start, n = cfg.share(0, 15)
	assert.Equal(t, []int{0, 23}, []int{start, n}, "the first sub-block takes the odd row")
	start, n = cfg.share(1, 15)
	assert.Equal(t, []int{23, 22}, []int{start, n})

	cfg.Groups, cfg.Rescale = 1, EpilogueAtlasA2RescaleO{}
	_, n = cfg.share(1, 16)
	assert.Zero(t, n, "a single group isn't split")

	var got [][4]int
	segments(3, 20, 8, func(offset, group, groupRow, count int) {
		got = append(got, [4]int{offset, group, groupRow, count})
	})
	assert.Equal(t, [][4]int{{0, 0, 3, 5}, {5, 1, 0, 8}, {13, 2, 0, 7}}, got)
}

func TestLSECombine(t *testing.T) {
	const splits, rows, keys, headDim = 3, 37, 90, 40
	p := attentionProblem{groups: 1, groupRows: rows, keys: keys, headDim: headDim}
	data := newAttentionData(p)
	scale := 1 / math.Sqrt(headDim)
	partials := make([]float32, splits*rows*headDim)
	lses := make([]float32, splits*rows)
	splitKeys := coord.CeilDiv(keys, splits)
	for s := range splits {
		first, last := s*splitKeys, min((s+1)*splitKeys, keys)
		part := func(m reference.Matrix) reference.Matrix {
			return reference.Matrix{Rows: last - first, Cols: headDim, Data: m.Data[first*headDim : last*headDim]}
		}
		o, lse := reference.Attention(data.q, part(data.k), part(data.v), scale, false)
		for i, v := range o.Data {
			partials[s*rows*headDim+i] = float32(v)
		}
		for i, v := range lse {
			lses[s*rows+i] = float32(v)
		}
	}
	want, _ := reference.Attention(data.q, data.k, data.v, scale, false)

	run := func(t *testing.T, sequential bool, blockDim int) []float32 {
		out := make([]float32, rows*headDim)
		gmO, gmLSE, gmOut := arch.GlobalTensor(partials), arch.GlobalTensor(lses), arch.GlobalTensor(out)
		launchVector(t, "lse-combine", sequential, blockDim, func(core *arch.Core) {
			b := must.M1(NewLSECombine[float32](core, LSEConfig{Splits: splits, HeadDim: headDim}))
			cores := core.BlockNum() * core.SubBlockNum()
			per := coord.CeilDiv(rows, cores)
			first := core.VectorIdx() * per
			if n := min(per, rows-first); n > 0 {
				b.Run(gmO, rows*headDim, gmLSE, rows, gmOut, layout.NewRowMajor(rows, headDim), first, n)
			}
			b.Close()
		})
		return out
	}
	forBothModes(t, func(t *testing.T, sequential bool) {
		for _, blockDim := range []int{1, 3} {
			out := run(t, sequential, blockDim)
			got := reference.Matrix{Rows: rows, Cols: headDim, Data: reference.Vector(out)}
			ok, worst := reference.AllClose(got, want, 1e-4, 1e-3)
			require.True(t, ok, "blockDim=%d: O[%d]=%g, want %g", blockDim, worst, got.Data[max(worst, 0)],
				want.Data[max(worst, 0)])
		}
	})
}

func TestEpilogueConfig(t *testing.T) {
	valid := Config{Policy: EpilogueAtlasA2ElemWiseNoSource{}, Activation: tile.ActivationGelu}
	require.NoError(t, valid.Validate())
	for name, mutate := range map[string]func(c *Config){
		"no policy":              func(c *Config) { c.Policy = nil },
		"attention policy":       func(c *Config) { c.Policy = EpilogueAtlasA2OnlineSoftmax{} },
		"activation with source": func(c *Config) { c.Policy = EpilogueAtlasA2ElemWiseOneSource{} },
		"invalid activation":     func(c *Config) { c.Activation = 7 },
		"three stages":           func(c *Config) { c.Policy, c.Activation = EpilogueAtlasA2PerTokenDequant{UBStages: 3}, 0 },
		"too many rows":          func(c *Config) { c.UBTileShape = coord.MakeMatrixCoord(300, 16) },
	} {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			fmt.Printf("\t%s: %v\n", name, err)
		})
	}

	core := arch.NewCore(arch.Config{Sequential: true}, arch.CoreKindVector)
	_, err := NewBlockGemm[float32](core, valid)
	require.Error(t, err, "elemwise policy for BlockGemm")
	_, err = NewBlockElemWise[float32](core, Config{Policy: EpilogueAtlasA2ElemWiseNoSource{},
		UBTileShape: coord.MakeMatrixCoord(200, 256)})
	require.Error(t, err, "UB overflow")
	_, err = NewBlockPerTokenDequant[float16.Float16, bfloat16.BFloat16](core, Config{Policy: EpilogueAtlasA2PerTokenDequant{UBStages: 1}})
	require.Error(t, err, "mixed scale type")

	attention := AttentionConfig{GroupRows: 64, BlockN: 128, HeadDim: 128, Scale: 0.125}
	_, err = NewOnlineSoftmax[float32](core, attention)
	require.Error(t, err, "float32 probabilities")
	_, err = NewOnlineSoftmax[float16.Float16](core, AttentionConfig{GroupRows: 64, BlockN: 128, HeadDim: 128})
	require.Error(t, err, "zero scale")
	_, err = NewOnlineSoftmax[float16.Float16](core, AttentionConfig{Rescale: EpilogueAtlasA2Gemm{}, GroupRows: 64,
		BlockN: 128, HeadDim: 128, Scale: 1})
	require.Error(t, err, "not a rescale policy")
	big := attention
	big.GroupRows, big.HeadDim = 200, 512
	sm, err := NewOnlineSoftmax[float16.Float16](core, big)
	require.NoError(t, err)
	_, err = NewRescaleO[float16.Float16, float16.Float16](sm)
	require.Error(t, err, "O doesn't fit the UB")
	sm.Close()
	_, err = NewLSECombine[float16.Float16](core, LSEConfig{Splits: 0, HeadDim: 64})
	require.Error(t, err)
	core.Close()

	cube := arch.NewCore(arch.Config{Sequential: true}, arch.CoreKindCube)
	_, err = NewBlockElemWise[float32](cube, valid)
	require.Error(t, err)
	cube.Close()
}
