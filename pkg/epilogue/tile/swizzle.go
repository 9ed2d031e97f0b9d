// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"fmt"

	"github.com/gomlx/tilegemm/pkg/coord"
)

// Swizzle maps the linear index of an epilogue sub-tile to its position inside the output block.
type Swizzle interface {
	// Loops is the number of sub-tiles of the block.
	Loops() int

	// TileCoord returns the (row, column) index, in tiles, of sub-tile idx.
	TileCoord(idx int) coord.MatrixCoord

	// ActualTileShape returns the shape of the sub-tile at tile coordinates c, clamped at the block edges.
	ActualTileShape(c coord.MatrixCoord) coord.MatrixCoord
}

type tileGrid struct {
	block, tile, loops coord.MatrixCoord
}

func newTileGrid(block, tile coord.MatrixCoord) tileGrid {
	if tile.Row <= 0 || tile.Column <= 0 {
		panicf("invalid epilogue tile shape %s", tile)
	}
	return tileGrid{block: block, tile: tile, loops: block.CeilDiv(tile)}
}

func (g tileGrid) Loops() int { return g.loops.Count() }

func (g tileGrid) ActualTileShape(c coord.MatrixCoord) coord.MatrixCoord {
	return g.tile.Min(g.block.Sub(c.Mul(g.tile)))
}

// IdentityTileSwizzle visits the sub-tiles row after row.
type IdentityTileSwizzle struct{ tileGrid }

// NewIdentityTileSwizzle splits block into tiles of the given shape.
func NewIdentityTileSwizzle(block, tile coord.MatrixCoord) IdentityTileSwizzle {
	return IdentityTileSwizzle{newTileGrid(block, tile)}
}

func (s IdentityTileSwizzle) TileCoord(idx int) coord.MatrixCoord {
	return coord.MakeMatrixCoord(idx/s.loops.Column, idx%s.loops.Column)
}

func (s IdentityTileSwizzle) String() string {
	return fmt.Sprintf("IdentityTileSwizzle(block=%s, tile=%s)", s.block, s.tile)
}

// HorizontalTileSwizzle visits the sub-tiles column after column.
type HorizontalTileSwizzle struct{ tileGrid }

// NewHorizontalTileSwizzle splits block into tiles of the given shape.
func NewHorizontalTileSwizzle(block, tile coord.MatrixCoord) HorizontalTileSwizzle {
	return HorizontalTileSwizzle{newTileGrid(block, tile)}
}

func (s HorizontalTileSwizzle) TileCoord(idx int) coord.MatrixCoord {
	return coord.MakeMatrixCoord(idx%s.loops.Row, idx/s.loops.Row)
}

func (s HorizontalTileSwizzle) String() string {
	return fmt.Sprintf("HorizontalTileSwizzle(block=%s, tile=%s)", s.block, s.tile)
}
