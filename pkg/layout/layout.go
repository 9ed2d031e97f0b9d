// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layout defines how a logical 2D (or blocked 4D) tensor maps to linear memory.
//
// Layouts are immutable values: a shape and a stride of the same rank. Tiles are views on a parent layout:
// TileLayout keeps the parent stride and only changes the shape, and Offset gives the linear position of a
// coordinate. Edge tiles can be smaller than the nominal tile shape, and every layout accepts them.
//
// Besides the plain RowMajor, ColumnMajor and Vector layouts, it implements the hardware-native blocked
// ("fractal") formats. A fractal holds 16 rows of 32 bytes (C0). The format names read inner-outer:
//
//   - ZN: row-major inside the fractal ("z"), fractals ordered column-major ("N"). The scratchpad format for A/B.
//   - NZ: column-major inside the fractal, fractals ordered row-major. The operand-buffer format of B (L0B).
//   - ZZ: row-major inside and outside. The operand-buffer format of A (L0A).
//   - NN: column-major inside and outside.
//
// And the padded formats PaddingRowMajor / PaddingColumnMajor: row or column major blocks of
// (blockRows x blockCols), where blocks are padded to full size.
package layout

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// Kind enumerates the layout formats.
type Kind int

//go:generate go tool enumer -type=Kind -trimprefix=Kind -output=gen_kind_enumer.go layout.go

const (
	KindInvalid Kind = iota
	KindRowMajor
	KindColumnMajor
	KindVector
	KindZN
	KindNZ
	KindZZ
	KindNN
	KindPaddingRowMajor
	KindPaddingColumnMajor
)

// IsBlocked returns whether the kind is one of the fractal formats.
func (k Kind) IsBlocked() bool {
	return k == KindZN || k == KindNZ || k == KindZZ || k == KindNN
}

// Matrix is implemented by every 2D layout.
type Matrix interface {
	// Kind of the layout.
	Kind() Kind

	// OrgShape returns the logical shape (rows, columns) described by the layout.
	OrgShape() coord.MatrixCoord

	// Offset returns the linear offset (in elements) of the coordinate.
	Offset(c coord.MatrixCoord) int

	// Span returns the number of elements from offset 0 to one past the last addressable element.
	// For padded or blocked formats it includes the padding.
	Span() int
}

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters break the documented contract.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// ElementsPerC0 returns the number of elements of dtype in a 32-byte C0 block.
func ElementsPerC0(dtype dtypes.DType) int {
	return dtype.ElementsIn(arch.BytePerC0)
}

// ElementsPerFractal returns the number of elements of dtype in a 512-byte fractal.
func ElementsPerFractal(dtype dtypes.DType) int {
	return dtype.ElementsIn(arch.BytePerFractal)
}

// ElementsPerBlk returns the number of elements of dtype in a 32-byte data-copy block.
func ElementsPerBlk(dtype dtypes.DType) int {
	return dtype.ElementsIn(arch.BytePerBlk)
}
