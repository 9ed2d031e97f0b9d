// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	epilogue "github.com/gomlx/tilegemm/pkg/epilogue/block"
	"github.com/gomlx/tilegemm/pkg/reference"
	"github.com/gomlx/tilegemm/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

type attentionCase struct {
	name  string
	shape AttentionShape
	opts  AttentionOptions
}

func runAttention[T dtypes.Float](t *testing.T, lo LaunchOptions, c attentionCase) {
	s := c.shape
	qLen, kvLen := s.Batch*s.Heads*s.QuerySeq*s.HeadDim, s.Batch*s.KVHeads*s.KeySeq*s.HeadDim
	q := reference.FillUniform[T](qLen, 1, 1)
	k := reference.FillUniform[T](kvLen, 2, 1)
	v := reference.FillUniform[T](kvLen, 3, 1)
	sentinel := dtypes.FromFloat32[T](-777, dtypes.RoundNone)
	full, o := xslices.Padded(qLen, sentinelMargin, sentinel)
	var lse []float32
	if c.opts.KVSplits <= 1 {
		lse = make([]float32, s.Batch*s.Heads*s.QuerySeq)
	}
	opts := c.opts
	opts.LaunchOptions = lo
	report, err := FlashAttention(q, k, v, o, lse, s, opts)
	require.NoError(t, err)
	if c.opts.KVSplits > 1 {
		assert.Equal(t, "flash-decoding", report.Kernel)
	} else {
		assert.Equal(t, "flash-attention", report.Kernel)
	}
	assert.Positive(t, report.Stats.CrossCoreFlags)

	ok, idx := xslices.SentinelsIntact(full, sentinelMargin, sentinel)
	require.True(t, ok, "O written out of bounds at %d", idx)
	scale := 1 / math.Sqrt(float64(s.HeadDim))
	if c.opts.Scale != 0 {
		scale = float64(c.opts.Scale)
	}
	wantO, wantLSE := reference.GroupedAttention(reference.Vector(q), reference.Vector(k), reference.Vector(v),
		s.Batch, s.Heads, s.KVHeads, s.QuerySeq, s.KeySeq, s.HeadDim, scale, c.opts.Causal)
	got := reference.Matrix{Rows: wantO.Rows, Cols: wantO.Cols, Data: reference.Vector(o)}
	atol, rtol := 1e-2, 2e-2
	if dtypes.FromGenericsType[T]() == dtypes.BFloat16 {
		atol, rtol = 3e-2, 5e-2
	}
	ok, worst := reference.AllClose(got, wantO, atol, rtol)
	require.True(t, ok, "O[%d]=%g, want %g", worst, got.Data[max(worst, 0)], wantO.Data[max(worst, 0)])
	if lse != nil {
		gotLSE := xslices.Map(lse, func(v float32) float64 { return float64(v) })
		ok, worst = xslices.AllClose(gotLSE, wantLSE, 1e-3, 1e-3)
		require.True(t, ok, "lse[%d]=%g, want %g", worst, gotLSE[max(worst, 0)], wantLSE[max(worst, 0)])
	}
}

func TestFlashAttention(t *testing.T) {
	cases := []attentionCase{
		{name: "mha", shape: AttentionShape{Batch: 2, Heads: 2, KVHeads: 2, QuerySeq: 40, KeySeq: 70, HeadDim: 64},
			opts: AttentionOptions{BlockM: 16, BlockN: 32}},
		{name: "gqa-default-blocks", shape: AttentionShape{Batch: 1, Heads: 4, KVHeads: 2, QuerySeq: 20, KeySeq: 150, HeadDim: 32}},
		{name: "gqa-split-row", shape: AttentionShape{Batch: 1, Heads: 4, KVHeads: 1, QuerySeq: 9, KeySeq: 50, HeadDim: 32},
			opts: AttentionOptions{BlockN: 16, Rescale: epilogue.EpilogueAtlasA2RescaleOSplitRow{}}},
		{name: "causal", shape: AttentionShape{Batch: 1, Heads: 2, KVHeads: 1, QuerySeq: 33, KeySeq: 60, HeadDim: 64},
			opts: AttentionOptions{BlockM: 16, BlockN: 32, Causal: true}},
		{name: "causal-square-scaled", shape: AttentionShape{Batch: 2, Heads: 1, KVHeads: 1, QuerySeq: 48, KeySeq: 48, HeadDim: 16},
			opts: AttentionOptions{BlockN: 16, Causal: true, Scale: 0.5}},
		{name: "decoding-splits", shape: AttentionShape{Batch: 2, Heads: 4, KVHeads: 1, QuerySeq: 1, KeySeq: 200, HeadDim: 128},
			opts: AttentionOptions{BlockN: 32, KVSplits: 3}},
		{name: "decoding-more-splits-than-tiles", shape: AttentionShape{Batch: 1, Heads: 2, KVHeads: 2, QuerySeq: 2, KeySeq: 40, HeadDim: 32},
			opts: AttentionOptions{BlockN: 16, KVSplits: 8}},
	}
	testModes(t, func(t *testing.T, lo LaunchOptions) {
		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) { runAttention[float16.Float16](t, lo, c) })
		}
		t.Run("bf16", func(t *testing.T) {
			runAttention[bfloat16.BFloat16](t, lo, attentionCase{
				shape: AttentionShape{Batch: 1, Heads: 2, KVHeads: 1, QuerySeq: 24, KeySeq: 64, HeadDim: 32},
				opts:  AttentionOptions{BlockN: 32},
			})
		})

		// The result doesn't depend on how the keys are tiled: one tile, two, or one per 16 keys.
		for _, blockN := range []int{16, 48, 64} {
			t.Run(fmt.Sprintf("blockN=%d", blockN), func(t *testing.T) {
				runAttention[float16.Float16](t, lo, attentionCase{
					shape: AttentionShape{Batch: 1, Heads: 1, KVHeads: 1, QuerySeq: 17, KeySeq: 64, HeadDim: 48},
					opts:  AttentionOptions{BlockN: blockN},
				})
			})
		}
	})
}
