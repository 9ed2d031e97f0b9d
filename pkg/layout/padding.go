// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layout

import (
	"fmt"

	"github.com/gomlx/tilegemm/pkg/coord"
)

// PaddingRowMajor stores a matrix as row-major blocks of (blockRows x blockCols), blocks ordered row-major.
// Blocks at the right and bottom edges are padded to full size.
//
// It is the global-memory layout produced by the padding kernels, so that every tile transfer is a
// single contiguous block regardless of the original leading dimension.
type PaddingRowMajor struct{ blocked }

// NewPaddingRowMajor creates the layout of an orgRows x orgCols matrix padded to blocks of blockRows x blockCols.
func NewPaddingRowMajor(orgRows, orgCols, blockRows, blockCols int) PaddingRowMajor {
	return PaddingRowMajor{newBlocked(coord.MakeMatrixCoord(orgRows, orgCols),
		[4]int{blockRows, coord.CeilDiv(orgRows, blockRows), blockCols, coord.CeilDiv(orgCols, blockCols)},
		[4]int{blockCols, blockRows * coord.RoundUp(orgCols, blockCols), 1, blockRows * blockCols})}
}

func (l PaddingRowMajor) Kind() Kind { return KindPaddingRowMajor }

// BlockShape returns the (blockRows, blockCols) of the padded blocks.
func (l PaddingRowMajor) BlockShape() coord.MatrixCoord { return l.FractalShape() }

// TileLayout returns the layout of a tile: a padded layout with the same block shape and strides.
func (l PaddingRowMajor) TileLayout(tile coord.MatrixCoord) PaddingRowMajor {
	return PaddingRowMajor{l.tile(tile)}
}

func (l PaddingRowMajor) String() string {
	return fmt.Sprintf("PaddingRowMajor(org=%s, block=%s)", l.org, l.FractalShape())
}

// PaddingColumnMajor stores a matrix as column-major blocks of (blockRows x blockCols), blocks ordered
// column-major.
type PaddingColumnMajor struct{ blocked }

// NewPaddingColumnMajor creates the layout of an orgRows x orgCols matrix padded to blocks of
// blockRows x blockCols.
func NewPaddingColumnMajor(orgRows, orgCols, blockRows, blockCols int) PaddingColumnMajor {
	return PaddingColumnMajor{newBlocked(coord.MakeMatrixCoord(orgRows, orgCols),
		[4]int{blockRows, coord.CeilDiv(orgRows, blockRows), blockCols, coord.CeilDiv(orgCols, blockCols)},
		[4]int{1, blockRows * blockCols, blockRows, coord.RoundUp(orgRows, blockRows) * blockCols})}
}

func (l PaddingColumnMajor) Kind() Kind { return KindPaddingColumnMajor }

// BlockShape returns the (blockRows, blockCols) of the padded blocks.
func (l PaddingColumnMajor) BlockShape() coord.MatrixCoord { return l.FractalShape() }

// TileLayout returns the layout of a tile: a padded layout with the same block shape and strides.
func (l PaddingColumnMajor) TileLayout(tile coord.MatrixCoord) PaddingColumnMajor {
	return PaddingColumnMajor{l.tile(tile)}
}

func (l PaddingColumnMajor) String() string {
	return fmt.Sprintf("PaddingColumnMajor(org=%s, block=%s)", l.org, l.FractalShape())
}
