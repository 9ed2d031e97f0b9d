// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reference implements the kernels of tilegemm on the host, in float64, to verify the results
// of the simulated device.
package reference

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/gomlx/tilegemm/pkg/support/xslices"
)

// Matrix is a dense row-major float64 matrix.
type Matrix struct {
	Rows, Cols int
	Data       []float64
}

// NewMatrix returns a zero rows x cols matrix.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

func (m Matrix) At(i, j int) float64     { return m.Data[i*m.Cols+j] }
func (m Matrix) Set(i, j int, v float64) { m.Data[i*m.Cols+j] = v }

// Row returns row i, sharing the storage of m.
func (m Matrix) Row(i int) []float64 { return m.Data[i*m.Cols : (i+1)*m.Cols] }

func (m Matrix) String() string { return fmt.Sprintf("Matrix(%d x %d)", m.Rows, m.Cols) }

// FromLayout reads the OrgShape of l from data.
func FromLayout[T dtypes.Supported](data []T, l layout.Matrix) Matrix {
	shape := l.OrgShape()
	m := NewMatrix(shape.Row, shape.Column)
	for i := range m.Rows {
		for j := range m.Cols {
			m.Set(i, j, float64(dtypes.ToFloat32(data[l.Offset(coord.MakeMatrixCoord(i, j))])))
		}
	}
	return m
}

// ToLayout writes m to data with layout l, converting with mode. Elements of data outside l are untouched.
func ToLayout[T dtypes.Supported](m Matrix, data []T, l layout.Matrix, mode dtypes.RoundMode) {
	for i := range m.Rows {
		for j := range m.Cols {
			data[l.Offset(coord.MakeMatrixCoord(i, j))] = dtypes.FromFloat32[T](float32(m.At(i, j)), mode)
		}
	}
}

// Round returns m with every element rounded to T: the value a device output of type T would hold.
func Round[T dtypes.Supported](m Matrix) Matrix {
	r := NewMatrix(m.Rows, m.Cols)
	for i, v := range m.Data {
		r.Data[i] = float64(dtypes.ToFloat32(dtypes.FromFloat32[T](float32(v), dtypes.RoundRint)))
	}
	return r
}

// Vector converts data to float64.
func Vector[T dtypes.Supported](data []T) []float64 {
	return xslices.Map(data, func(v T) float64 { return float64(dtypes.ToFloat32(v)) })
}

// FillInts returns n small integers in [-3, 3]: products of them accumulate exactly in every accumulator.
func FillInts[T dtypes.Supported](n, seed int) []T {
	data := make([]T, n)
	for i := range data {
		data[i] = dtypes.FromFloat32[T](float32((i*3+i/5+seed)%7-3), dtypes.RoundNone)
	}
	return data
}

// FillUniform returns n values uniformly distributed in [-scale, scale), rounded to T.
func FillUniform[T dtypes.Supported](n int, seed uint64, scale float64) []T {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]T, n)
	for i := range data {
		data[i] = dtypes.FromFloat32[T](float32((rng.Float64()*2-1)*scale), dtypes.RoundRint)
	}
	return data
}

// Gemm returns a x b.
func Gemm(a, b Matrix) Matrix {
	if a.Cols != b.Rows {
		panic(fmt.Sprintf("reference.Gemm: %s x %s", a, b))
	}
	c := NewMatrix(a.Rows, b.Cols)
	xslices.ParallelFor(a.Rows, func(i int) {
		for j := range b.Cols {
			var sum float64
			for k := range a.Cols {
				sum += a.At(i, k) * b.At(k, j)
			}
			c.Set(i, j, sum)
		}
	})
	return c
}

// AddRowVector adds v[j] to every element of column j.
func AddRowVector(m Matrix, v []float64) Matrix {
	r := NewMatrix(m.Rows, m.Cols)
	for i := range m.Rows {
		for j := range m.Cols {
			r.Set(i, j, m.At(i, j)+v[j])
		}
	}
	return r
}

// ScaleColumns multiplies column j by colScale[j] and, if rowScale is not nil, row i by rowScale[i].
func ScaleColumns(m Matrix, colScale, rowScale []float64) Matrix {
	r := NewMatrix(m.Rows, m.Cols)
	for i := range m.Rows {
		for j := range m.Cols {
			v := m.At(i, j) * colScale[j]
			if rowScale != nil {
				v *= rowScale[i]
			}
			r.Set(i, j, v)
		}
	}
	return r
}

// Axpby returns alpha*x + beta*y, elementwise. y may be empty when beta is 0.
func Axpby(alpha float64, x Matrix, beta float64, y Matrix) Matrix {
	r := NewMatrix(x.Rows, x.Cols)
	for i, v := range x.Data {
		r.Data[i] = alpha * v
		if beta != 0 {
			r.Data[i] += beta * y.Data[i]
		}
	}
	return r
}

// Apply returns fn applied to every element of m.
func Apply(m Matrix, fn func(float64) float64) Matrix {
	r := NewMatrix(m.Rows, m.Cols)
	for i, v := range m.Data {
		r.Data[i] = fn(v)
	}
	return r
}

// Gelu is the tanh approximation of the Gaussian error linear unit.
func Gelu(x float64) float64 {
	return 0.5 * x * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(x+0.044715*x*x*x)))
}

// Swish is x*sigmoid(x).
func Swish(x float64) float64 { return x / (1 + math.Exp(-x)) }

// Gemv returns alpha*a*x + beta*y, with a of m x n.
func Gemv(a Matrix, x []float64, alpha, beta float64, y []float64) []float64 {
	out := make([]float64, a.Rows)
	for i := range a.Rows {
		var sum float64
		for j := range a.Cols {
			sum += a.At(i, j) * x[j]
		}
		out[i] = alpha * sum
		if beta != 0 {
			out[i] += beta * y[i]
		}
	}
	return out
}

// Attention returns softmax(scale * q kᵀ + mask) v and the log-sum-exp of each row of the scores.
// With causal, query i (of sq) attends to the keys j <= i + sk - sq.
func Attention(q, k, v Matrix, scale float64, causal bool) (o Matrix, lse []float64) {
	sq, sk := q.Rows, k.Rows
	o = NewMatrix(sq, v.Cols)
	lse = make([]float64, sq)
	xslices.ParallelFor(sq, func(i int) {
		scores := make([]float64, sk)
		rowMax := math.Inf(-1)
		for j := range sk {
			if causal && j > i+sk-sq {
				scores[j] = math.Inf(-1)
				continue
			}
			var dot float64
			for d := range q.Cols {
				dot += q.At(i, d) * k.At(j, d)
			}
			scores[j] = dot * scale
			rowMax = max(rowMax, scores[j])
		}
		var sum float64
		for j := range sk {
			scores[j] = math.Exp(scores[j] - rowMax)
			sum += scores[j]
		}
		lse[i] = math.Log(sum) + rowMax
		for d := range v.Cols {
			var acc float64
			for j := range sk {
				acc += scores[j] * v.At(j, d)
			}
			o.Set(i, d, acc/sum)
		}
	})
	return o, lse
}

// GroupedAttention runs Attention on every (batch, head) of BNSD tensors: q is [batch][heads][sq][d], k and v
// [batch][kvHeads][sk][d], each key/value head serving heads/kvHeads consecutive query heads. It returns the
// output as a [batch·heads·sq][d] matrix, and the log-sum-exps of its rows.
func GroupedAttention(q, k, v []float64, batch, heads, kvHeads, sq, sk, d int, scale float64, causal bool) (Matrix, []float64) {
	o := NewMatrix(batch*heads*sq, d)
	lse := make([]float64, batch*heads*sq)
	qLen, kvLen := sq*d, sk*d
	for b := range batch {
		for h := range heads {
			head := b*heads + h
			kv := b*kvHeads + h/(heads/kvHeads)
			ho, hLSE := Attention(
				Matrix{Rows: sq, Cols: d, Data: q[head*qLen : (head+1)*qLen]},
				Matrix{Rows: sk, Cols: d, Data: k[kv*kvLen : (kv+1)*kvLen]},
				Matrix{Rows: sk, Cols: d, Data: v[kv*kvLen : (kv+1)*kvLen]},
				scale, causal)
			copy(o.Data[head*qLen:], ho.Data)
			copy(lse[head*sq:], hLSE)
		}
	}
	return o, lse
}

// CombineLSE merges the partial outputs of split-KV attention: each split s has the output os[s] of
// its keys and their log-sum-exp lses[s] (one per row).
func CombineLSE(os []Matrix, lses [][]float64) Matrix {
	out := NewMatrix(os[0].Rows, os[0].Cols)
	for i := range out.Rows {
		lMax := math.Inf(-1)
		for _, l := range lses {
			lMax = max(lMax, l[i])
		}
		var sum float64
		for _, l := range lses {
			sum += math.Exp(l[i] - lMax)
		}
		lse := math.Log(sum) + lMax
		for s, o := range os {
			w := math.Exp(lses[s][i] - lse)
			for j := range out.Cols {
				out.Set(i, j, out.At(i, j)+w*o.At(i, j))
			}
		}
	}
	return out
}

// AllClose compares got and want elementwise, with |got-want| <= atol + rtol*|want|. It returns the index
// of the worst element.
func AllClose(got, want Matrix, atol, rtol float64) (ok bool, worst int) {
	if got.Rows != want.Rows || got.Cols != want.Cols {
		return false, -1
	}
	return xslices.AllClose(got.Data, want.Data, atol, rtol)
}
