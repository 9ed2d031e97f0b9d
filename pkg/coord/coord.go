// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package coord defines the small coordinate value types used to address blocks and tiles
// (MatrixCoord, GemmCoord, GemvCoord), and the integer rounding helpers used for alignment.
package coord

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// CeilDiv returns ceil(a/b) for non-negative a and positive b.
func CeilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// RoundUp rounds a up to a multiple of align.
func RoundUp[T constraints.Integer](a, align T) T {
	return CeilDiv(a, align) * align
}

// RoundDown rounds a down to a multiple of align.
func RoundDown[T constraints.Integer](a, align T) T {
	return a / align * align
}

// MatrixCoord is a (row, column) pair. It is used both as a coordinate and as a 2D shape.
type MatrixCoord struct {
	Row, Column int
}

// MakeMatrixCoord is a shortcut to create a MatrixCoord.
func MakeMatrixCoord(row, column int) MatrixCoord {
	return MatrixCoord{Row: row, Column: column}
}

// Count returns Row*Column.
func (c MatrixCoord) Count() int { return c.Row * c.Column }

// Add returns the element-wise sum.
func (c MatrixCoord) Add(o MatrixCoord) MatrixCoord {
	return MatrixCoord{c.Row + o.Row, c.Column + o.Column}
}

// Sub returns the element-wise difference.
func (c MatrixCoord) Sub(o MatrixCoord) MatrixCoord {
	return MatrixCoord{c.Row - o.Row, c.Column - o.Column}
}

// Mul returns the element-wise product: used to convert a tile index to an element offset.
func (c MatrixCoord) Mul(o MatrixCoord) MatrixCoord {
	return MatrixCoord{c.Row * o.Row, c.Column * o.Column}
}

// CeilDiv returns the element-wise ceil division, the number of tiles of shape o covering c.
func (c MatrixCoord) CeilDiv(o MatrixCoord) MatrixCoord {
	return MatrixCoord{CeilDiv(c.Row, o.Row), CeilDiv(c.Column, o.Column)}
}

// Min returns the element-wise minimum. Used to clamp nominal tile shapes at the tensor edges.
func (c MatrixCoord) Min(o MatrixCoord) MatrixCoord {
	return MatrixCoord{min(c.Row, o.Row), min(c.Column, o.Column)}
}

// IsZero returns whether any dimension is 0.
func (c MatrixCoord) IsZero() bool { return c.Row == 0 || c.Column == 0 }

func (c MatrixCoord) String() string { return fmt.Sprintf("(%d, %d)", c.Row, c.Column) }

// GemmCoord holds the (m, n, k) extents or indices of a matrix multiplication C[m,n] = A[m,k]·B[k,n].
type GemmCoord struct {
	M, N, K int
}

// MakeGemmCoord is a shortcut to create a GemmCoord.
func MakeGemmCoord(m, n, k int) GemmCoord {
	return GemmCoord{M: m, N: n, K: k}
}

// MN returns the (m, n) pair as a MatrixCoord.
func (c GemmCoord) MN() MatrixCoord { return MatrixCoord{c.M, c.N} }

// MK returns the (m, k) pair, the shape of the A operand.
func (c GemmCoord) MK() MatrixCoord { return MatrixCoord{c.M, c.K} }

// KN returns the (k, n) pair, the shape of the B operand.
func (c GemmCoord) KN() MatrixCoord { return MatrixCoord{c.K, c.N} }

// Mul returns the element-wise product.
func (c GemmCoord) Mul(o GemmCoord) GemmCoord {
	return GemmCoord{c.M * o.M, c.N * o.N, c.K * o.K}
}

// CeilDiv returns the element-wise ceil division.
func (c GemmCoord) CeilDiv(o GemmCoord) GemmCoord {
	return GemmCoord{CeilDiv(c.M, o.M), CeilDiv(c.N, o.N), CeilDiv(c.K, o.K)}
}

// Min returns the element-wise minimum.
func (c GemmCoord) Min(o GemmCoord) GemmCoord {
	return GemmCoord{min(c.M, o.M), min(c.N, o.N), min(c.K, o.K)}
}

func (c GemmCoord) String() string { return fmt.Sprintf("(m=%d, n=%d, k=%d)", c.M, c.N, c.K) }

// GemvCoord holds the (m, n) extents of a matrix-vector product y[m] = A[m,n]·x[n].
type GemvCoord struct {
	M, N int
}

func (c GemvCoord) String() string { return fmt.Sprintf("(m=%d, n=%d)", c.M, c.N) }
