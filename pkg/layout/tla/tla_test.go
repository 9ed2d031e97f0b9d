// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tla

import (
	"testing"

	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrd2Offset(t *testing.T) {
	// Column-major fractals of 2x2 row-major elements in a 4x4 matrix.
	l := MakeLayout(M([]int{2, 2}, []int{2, 8}), M([]int{2, 2}, []int{1, 4}))
	assert.Equal(t, 0, l.Crd2Offset(0, 0))
	assert.Equal(t, 1, l.Crd2Offset(0, 1))
	assert.Equal(t, 2, l.Crd2Offset(1, 0))
	assert.Equal(t, 4, l.Crd2Offset(0, 2))
	assert.Equal(t, 8, l.Crd2Offset(2, 0))
	assert.Equal(t, 15, l.Crd2Offset(3, 3))
	assert.Equal(t, 16, l.Cosize())
	assert.Equal(t, 4, l.Shape(0))
	require.Panics(t, func() { l.Crd2Offset(1) })
	assert.Equal(t, "([2 2]:[2 8], [2 2]:[1 4])", l.String())
}

func TestFromMatrix(t *testing.T) {
	for _, m := range []layout.Matrix{
		layout.NewRowMajorLd(7, 9, 12),
		layout.NewColumnMajorLd(7, 9, 10),
		layout.MakeZN(dtypes.Float16, 33, 40),
		layout.MakeNZ(dtypes.Int8, 33, 40),
		layout.MakeZZ(dtypes.Float32, 33, 40),
		layout.MakeNN(dtypes.BFloat16, 33, 40),
		layout.MakeZNInL0C(coord.MakeMatrixCoord(20, 30)),
	} {
		nested := FromMatrix(m)
		shape := m.OrgShape()
		for r := range shape.Row {
			for c := range shape.Column {
				require.Equal(t, m.Offset(coord.MakeMatrixCoord(r, c)), nested.Crd2Offset(r, c), "%s at (%d, %d)", m, r, c)
			}
		}
	}
}

func TestTileLayoutAndCopy(t *testing.T) {
	zn := FromMatrix(layout.MakeZN(dtypes.Float16, 64, 64))
	tile := zn.TileLayout(17, 20)
	assert.Equal(t, []int{16, 2}, tile.Mode(0).Shape)
	assert.Equal(t, zn.Mode(0).Stride, tile.Mode(0).Stride)

	rows, cols := 5, 6
	src := make([]int, rows*cols)
	for i := range src {
		src[i] = i + 1
	}
	srcLayout := FromMatrix(layout.NewRowMajor(rows, cols))
	dstLayout := FromMatrix(layout.NewColumnMajor(rows, cols))
	dst := make([]int, rows*cols)
	Copy(dst, dstLayout, src, srcLayout, rows, cols)
	assert.Equal(t, src[1*cols+2], dst[2*rows+1])
}
