// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gemm holds the descriptors shared by the block GEMM implementations: the (element type, layout,
// position) Type of each operand, the dispatch policies selecting a block algorithm, the accumulator and
// alignment rules of the cube, and the Config validated before any kernel runs.
//
// The tile-level operators live in gemm/tile and the block-level ones in gemm/block.
package gemm

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/pkg/errors"
)

// panicf panics with an error created with errors.Errorf. Config validation converts them back to errors.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// Type describes one operand of a GEMM: element type, layout format and memory position.
type Type struct {
	DType    dtypes.DType
	Layout   layout.Kind
	Position arch.Position
}

// GmType returns the Type of an operand in global memory.
func GmType(dtype dtypes.DType, kind layout.Kind) Type {
	return Type{DType: dtype, Layout: kind, Position: arch.PositionGM}
}

func (t Type) String() string {
	return t.DType.String() + "/" + t.Layout.String() + "@" + t.Position.String()
}

// AccumulatorFor returns the L0C accumulator element type for A and B operands of the given types.
func AccumulatorFor(a, b dtypes.DType) (dtypes.DType, error) {
	if a != b {
		return dtypes.InvalidDType, errors.Errorf("the cube requires A and B of the same type, got %s and %s", a, b)
	}
	switch a {
	case dtypes.Float16, dtypes.BFloat16, dtypes.Float32:
		return dtypes.Float32, nil
	case dtypes.Int8:
		return dtypes.Int32, nil
	}
	return dtypes.InvalidDType, errors.Errorf("no accumulator for %s operands", a)
}

// Align is the granularity (in elements) to which the M, N and K extents of an L1 tile are rounded.
type Align struct {
	M, N, K int
}

// L1Align returns the alignment of L1 tiles for an operand stored in GM with the given layout.
// Row-major formats align M to the fractal height and K/N to C0; column-major formats the reverse.
func L1Align(dtype dtypes.DType, kind layout.Kind) (Align, error) {
	c0 := layout.ElementsPerC0(dtype)
	switch kind {
	case layout.KindRowMajor, layout.KindPaddingRowMajor, layout.KindZN:
		return Align{M: arch.C0NumPerFractal, N: c0, K: c0}, nil
	case layout.KindColumnMajor, layout.KindPaddingColumnMajor, layout.KindNZ:
		return Align{M: c0, N: arch.C0NumPerFractal, K: c0}, nil
	}
	return Align{}, errors.Errorf("no L1 alignment for %s operands", kind)
}

// L1AType returns the L1 type of the A operand, given its GM type.
func L1AType(gm Type) (Type, error) {
	switch gm.Layout {
	case layout.KindRowMajor, layout.KindPaddingRowMajor, layout.KindZN:
		return Type{gm.DType, layout.KindZN, arch.PositionA1}, nil
	case layout.KindColumnMajor, layout.KindPaddingColumnMajor, layout.KindNZ:
		return Type{gm.DType, layout.KindNZ, arch.PositionA1}, nil
	}
	return Type{}, errors.Errorf("A operand in GM with layout %s is not supported", gm.Layout)
}

// L1BType returns the L1 type of the B operand, given its GM type.
func L1BType(gm Type) (Type, error) {
	t, err := L1AType(gm)
	if err != nil {
		return Type{}, errors.Errorf("B operand in GM with layout %s is not supported", gm.Layout)
	}
	t.Position = arch.PositionB1
	return t, nil
}

// L0AType is the operand-buffer type of A: always zZ.
func L0AType(dtype dtypes.DType) Type { return Type{dtype, layout.KindZZ, arch.PositionA2} }

// L0BType is the operand-buffer type of B: always nZ.
func L0BType(dtype dtypes.DType) Type { return Type{dtype, layout.KindNZ, arch.PositionB2} }

// L0CType is the accumulator type: zN with 16x16 fractals.
func L0CType(dtype dtypes.DType) Type { return Type{dtype, layout.KindZN, arch.PositionCO1} }

// IsTransposed returns whether moving an L1 operand of the given layout to its L0 format requires a transpose.
// A is transposed from nZ (column-major in GM), B from zN (row-major in GM).
func IsTransposed(l1 Type) bool {
	switch l1.Position {
	case arch.PositionA1:
		return l1.Layout == layout.KindNZ
	case arch.PositionB1:
		return l1.Layout == layout.KindZN
	}
	return false
}
