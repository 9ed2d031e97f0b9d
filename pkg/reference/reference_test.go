// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"math"
	"testing"

	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestLayoutRoundTrip(t *testing.T) {
	m := Matrix{Rows: 2, Cols: 3, Data: []float64{1, 2, 3, 4, 5, 6}}
	for _, l := range []layout.Matrix{
		layout.NewRowMajorLd(2, 3, 5),
		layout.NewColumnMajor(2, 3),
		layout.MakeZN(dtypes.Float16, 2, 3),
		layout.NewPaddingRowMajor(2, 3, 16, 16),
	} {
		data := make([]float16.Float16, l.Span())
		ToLayout(m, data, l, dtypes.RoundRint)
		assert.Equal(t, m.Data, FromLayout(data, l).Data, "%s", l)
	}
	cm := make([]float32, 6)
	ToLayout(m, cm, layout.NewColumnMajor(2, 3), dtypes.RoundNone)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, cm)
}

func TestGemm(t *testing.T) {
	a := Matrix{Rows: 2, Cols: 2, Data: []float64{1, 2, 3, 4}}
	b := Matrix{Rows: 2, Cols: 3, Data: []float64{1, 0, -1, 0, 1, 2}}
	c := Gemm(a, b)
	assert.Equal(t, []float64{1, 2, 3, 3, 4, 5}, c.Data)
	assert.Equal(t, []float64{2, 2, 4, 4, 4, 6}, AddRowVector(c, []float64{1, 0, 1}).Data)
	assert.Equal(t, []float64{1, 2, 3, 1.5, 2, 2.5}, ScaleColumns(c, []float64{1, 1, 1}, []float64{1, 0.5}).Data)
	assert.Equal(t, []float64{-1, 0, 1, 1, 2, 3}, Axpby(1, c, -2, Matrix{Rows: 2, Cols: 3, Data: []float64{1, 1, 1, 1, 1, 1}}).Data)
	assert.Equal(t, []float64{5, 11}, Gemv(a, []float64{1, 2}, 1, 0, nil))
	assert.Equal(t, []float64{11, 23}, Gemv(a, []float64{1, 2}, 2, 1, []float64{1, 1}))
}

func TestRound(t *testing.T) {
	m := Matrix{Rows: 1, Cols: 2, Data: []float64{1.0001, 2049}}
	assert.Equal(t, []float64{1, 2048}, Round[float16.Float16](m).Data)
	assert.Equal(t, float32(1.0001), float32(Round[float32](m).Data[0]))
}

func TestActivations(t *testing.T) {
	assert.InDelta(t, 0, Gelu(0), 1e-12)
	assert.InDelta(t, 0.8412, Gelu(1), 1e-3)
	assert.InDelta(t, 0.7311, Swish(1), 1e-3)
}

func TestAttention(t *testing.T) {
	q := Matrix{Rows: 2, Cols: 2, Data: []float64{1, 0, 0, 1}}
	k := Matrix{Rows: 3, Cols: 2, Data: []float64{1, 0, 0, 1, 1, 1}}
	v := Matrix{Rows: 3, Cols: 1, Data: []float64{1, 2, 3}}

	// Causal, aligned to the end: query 0 sees keys 0 and 1, query 1 sees them all.
	o, lse := Attention(q, k, v, 1, true)
	e := math.E
	assert.InDelta(t, (e*1+1*2)/(e+1), o.At(0, 0), 1e-12)
	assert.InDelta(t, math.Log(e+1), lse[0], 1e-12)
	assert.InDelta(t, (1+e*2+e*3)/(1+2*e), o.At(1, 0), 1e-12)

	// Splitting the keys and combining the partial results with their log-sum-exps gives the same output.
	full, _ := Attention(q, k, v, 0.5, false)
	o1, lse1 := Attention(q, Matrix{Rows: 2, Cols: 2, Data: k.Data[:4]}, Matrix{Rows: 2, Cols: 1, Data: v.Data[:2]}, 0.5, false)
	o2, lse2 := Attention(q, Matrix{Rows: 1, Cols: 2, Data: k.Data[4:]}, Matrix{Rows: 1, Cols: 1, Data: v.Data[2:]}, 0.5, false)
	ok, worst := AllClose(CombineLSE([]Matrix{o1, o2}, [][]float64{lse1, lse2}), full, 1e-12, 0)
	require.True(t, ok, "worst element %d", worst)
}

func TestGroupedAttention(t *testing.T) {
	const batch, heads, kvHeads, sq, sk, d = 2, 4, 2, 3, 5, 4
	q := Vector(FillUniform[float32](batch*heads*sq*d, 1, 1))
	k := Vector(FillUniform[float32](batch*kvHeads*sk*d, 2, 1))
	v := Vector(FillUniform[float32](batch*kvHeads*sk*d, 3, 1))
	o, lse := GroupedAttention(q, k, v, batch, heads, kvHeads, sq, sk, d, 0.5, false)
	require.Equal(t, batch*heads*sq, o.Rows)
	require.Len(t, lse, o.Rows)

	// Head 3 of batch 1 uses key/value head 1 of batch 1.
	head, kv := 1*heads+3, 1*kvHeads+1
	want, wantLSE := Attention(
		Matrix{Rows: sq, Cols: d, Data: q[head*sq*d : (head+1)*sq*d]},
		Matrix{Rows: sk, Cols: d, Data: k[kv*sk*d : (kv+1)*sk*d]},
		Matrix{Rows: sk, Cols: d, Data: v[kv*sk*d : (kv+1)*sk*d]},
		0.5, false)
	assert.Equal(t, want.Data, o.Data[head*sq*d:(head+1)*sq*d])
	assert.Equal(t, wantLSE, lse[head*sq:(head+1)*sq])
}

func TestFill(t *testing.T) {
	ints := FillInts[int8](100, 3)
	for _, v := range ints {
		assert.True(t, v >= -3 && v <= 3)
	}
	assert.Equal(t, FillUniform[float32](10, 7, 1), FillUniform[float32](10, 7, 1))
	for _, v := range FillUniform[float32](100, 7, 0.5) {
		assert.True(t, v >= -0.5 && v <= 0.5)
	}
}
