// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layout

import (
	"testing"

	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allOffsets returns the offsets of every logical element of the layout.
func allOffsets(l Matrix) []int {
	shape := l.OrgShape()
	offsets := make([]int, 0, shape.Count())
	for r := range shape.Row {
		for c := range shape.Column {
			offsets = append(offsets, l.Offset(coord.MakeMatrixCoord(r, c)))
		}
	}
	return offsets
}

func TestPlainLayouts(t *testing.T) {
	rm := NewRowMajorLd(4, 5, 8)
	assert.Equal(t, 2*8+3, rm.Offset(coord.MakeMatrixCoord(2, 3)))
	assert.Equal(t, 3*8+5, rm.Span())
	tile := rm.TileLayout(coord.MakeMatrixCoord(2, 2))
	assert.Equal(t, 8, tile.Ldm())
	assert.False(t, rm.IsContiguous())
	assert.True(t, NewRowMajor(3, 7).IsContiguous())

	cm := NewColumnMajor(6, 3)
	assert.Equal(t, 1+2*6, cm.Offset(coord.MakeMatrixCoord(1, 2)))
	assert.Equal(t, 18, cm.Span())
	tr := cm.Transposed()
	assert.Equal(t, cm.Offset(coord.MakeMatrixCoord(4, 1)), tr.Offset(coord.MakeMatrixCoord(1, 4)))

	ub := RowMajorInUb(dtypes.Float16, coord.MakeMatrixCoord(3, 17))
	assert.Equal(t, 32, ub.Ldm())
	// Rows start at block boundaries, but 17 halves end mid-block: whole-block copies would write past the row.
	assert.False(t, ub.IsRowBlkAligned(dtypes.Float16))
	assert.True(t, RowMajorInUb(dtypes.Float16, coord.MakeMatrixCoord(3, 32)).IsRowBlkAligned(dtypes.Float16))
	assert.False(t, NewRowMajorLd(3, 32, 40).IsRowBlkAligned(dtypes.Float16))
	assert.Equal(t, 16, VectorInUb(dtypes.Float16, 9).Len())
}

func TestBlockedLayouts(t *testing.T) {
	t.Run("zN float16", func(t *testing.T) {
		l := MakeZN(dtypes.Float16, 17, 33)
		assert.Equal(t, [4]int{16, 2, 16, 3}, l.shape)
		// Row 0..15 of the first column of fractals are contiguous rows of 16 halves.
		assert.Equal(t, 0, l.Offset(coord.MakeMatrixCoord(0, 0)))
		assert.Equal(t, 16, l.Offset(coord.MakeMatrixCoord(1, 0)))
		assert.Equal(t, 256, l.Offset(coord.MakeMatrixCoord(16, 0)))
		// Next column of fractals starts after all (rounded) rows: 32 rows * 16 elements.
		assert.Equal(t, 512, l.Offset(coord.MakeMatrixCoord(0, 16)))
		assert.Equal(t, 32*48, l.Span())
	})
	t.Run("nZ float32", func(t *testing.T) {
		l := MakeNZ(dtypes.Float32, 10, 20)
		// C0 = 8 float32: rows padded to 16, columns padded to 32.
		assert.Equal(t, [4]int{8, 2, 16, 2}, l.shape)
		assert.Equal(t, 1, l.Offset(coord.MakeMatrixCoord(1, 0)))
		assert.Equal(t, 8, l.Offset(coord.MakeMatrixCoord(0, 1)))
		assert.Equal(t, 128, l.Offset(coord.MakeMatrixCoord(0, 16)))
		assert.Equal(t, 32*8, l.Offset(coord.MakeMatrixCoord(8, 0)))
	})
	t.Run("zZ int8", func(t *testing.T) {
		l := MakeZZ(dtypes.Int8, 20, 40)
		// C0 = 32 int8: rows padded to 32, columns padded to 64.
		assert.Equal(t, 512, l.Offset(coord.MakeMatrixCoord(0, 32)))
		assert.Equal(t, 64*16, l.Offset(coord.MakeMatrixCoord(16, 0)))
	})
	t.Run("L0C", func(t *testing.T) {
		l := MakeZNInL0C(coord.MakeMatrixCoord(20, 20))
		assert.Equal(t, 256, l.Offset(coord.MakeMatrixCoord(16, 0)))
		assert.Equal(t, 32*16, l.Offset(coord.MakeMatrixCoord(0, 16)))
	})
	t.Run("tiles keep strides", func(t *testing.T) {
		l := MakeZN(dtypes.Float16, 64, 64)
		tile := l.TileLayout(coord.MakeMatrixCoord(17, 20))
		assert.Equal(t, l.stride, tile.stride)
		assert.Equal(t, [4]int{16, 2, 16, 2}, tile.shape)
		assert.Equal(t, coord.MakeMatrixCoord(17, 20), tile.OrgShape())
	})
	t.Run("bijective", func(t *testing.T) {
		for _, l := range []Matrix{
			MakeZN(dtypes.Float16, 32, 48), MakeNZ(dtypes.Float16, 32, 48),
			MakeZZ(dtypes.Float16, 32, 48), MakeNN(dtypes.Float16, 32, 48),
			NewPaddingRowMajor(30, 50, 16, 16), NewPaddingColumnMajor(30, 50, 16, 16),
		} {
			seen := make(map[int]bool)
			for _, off := range allOffsets(l) {
				require.Less(t, off, l.Span(), "layout %s", l)
				require.False(t, seen[off], "layout %s maps two coordinates to offset %d", l, off)
				seen[off] = true
			}
		}
	})
	require.Panics(t, func() { NewZN(coord.MatrixCoord{}, [4]int{0, 1, 1, 1}, [4]int{1, 1, 1, 1}) })
}

func TestPaddingLayouts(t *testing.T) {
	l := NewPaddingRowMajor(30, 50, 16, 32)
	// Second block row starts after a full row of blocks: 16 rows * 64 padded columns.
	assert.Equal(t, 16*64, l.Offset(coord.MakeMatrixCoord(16, 0)))
	assert.Equal(t, 16*32, l.Offset(coord.MakeMatrixCoord(0, 32)))
	assert.Equal(t, 32+1, l.Offset(coord.MakeMatrixCoord(1, 1)))
	assert.Equal(t, coord.MakeMatrixCoord(16, 32), l.BlockShape())

	c := NewPaddingColumnMajor(30, 50, 16, 32)
	assert.Equal(t, 16, c.Offset(coord.MakeMatrixCoord(0, 1)))
	assert.Equal(t, 16*32, c.Offset(coord.MakeMatrixCoord(16, 0)))
	assert.Equal(t, 32*32, c.Offset(coord.MakeMatrixCoord(0, 32)))
	assert.Equal(t, "PaddingRowMajor", KindPaddingRowMajor.String())
}
