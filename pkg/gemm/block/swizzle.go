// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"fmt"

	"github.com/gomlx/tilegemm/pkg/coord"
)

// SwizzleDirection is the order in which an IdentityBlockSwizzle walks the output tiles.
type SwizzleDirection int

//go:generate go tool enumer -type=SwizzleDirection -trimprefix=SwizzleDirection -output=gen_swizzledirection_enumer.go swizzle.go

const (
	// SwizzleDirectionZn walks down bands of Offset tile rows, column after column.
	SwizzleDirectionZn SwizzleDirection = iota

	// SwizzleDirectionNz walks across bands of Offset tile columns, row after row.
	SwizzleDirectionNz
)

// IdentityBlockSwizzle maps a linear task index to the output tile of a GEMM.
//
// Tiles are visited in bands of Offset tile rows (Zn) or tile columns (Nz); odd bands are walked in
// reverse, so consecutive tasks share either an A or a B tile.
type IdentityBlockSwizzle struct {
	Offset    int
	Direction SwizzleDirection

	problem   coord.GemmCoord
	tileShape coord.MatrixCoord
	loops     coord.MatrixCoord
}

// NewIdentityBlockSwizzle returns the swizzle of problem in tiles of tileShape (M x N).
// An offset < 1 is taken as 1.
func NewIdentityBlockSwizzle(problem coord.GemmCoord, tileShape coord.MatrixCoord, offset int, dir SwizzleDirection) IdentityBlockSwizzle {
	return IdentityBlockSwizzle{
		Offset:    max(offset, 1),
		Direction: dir,
		problem:   problem,
		tileShape: tileShape,
		loops: coord.MakeMatrixCoord(coord.CeilDiv(problem.M, tileShape.Row),
			coord.CeilDiv(problem.N, tileShape.Column)),
	}
}

// Loops is the number of tiles along M and N.
func (s IdentityBlockSwizzle) Loops() coord.MatrixCoord { return s.loops }

// CoreLoops is the number of output tiles.
func (s IdentityBlockSwizzle) CoreLoops() int { return s.loops.Count() }

// BlockCoord returns the (M, N) tile coordinates of task idx, with K = 0.
func (s IdentityBlockSwizzle) BlockCoord(idx int) coord.GemmCoord {
	rows, cols := s.loops.Row, s.loops.Column
	if s.Direction == SwizzleDirectionZn {
		band := s.Offset * cols
		bandIdx, inBand := idx/band, idx%band
		nRow := s.Offset
		if bandIdx == coord.CeilDiv(rows, s.Offset)-1 {
			nRow = rows - bandIdx*s.Offset
		}
		mIdx := bandIdx*s.Offset + inBand%nRow
		nIdx := inBand / nRow
		if bandIdx%2 == 1 {
			nIdx = cols - nIdx - 1
		}
		return coord.MakeGemmCoord(mIdx, nIdx, 0)
	}
	band := s.Offset * rows
	bandIdx, inBand := idx/band, idx%band
	nCol := s.Offset
	if bandIdx == coord.CeilDiv(cols, s.Offset)-1 {
		nCol = cols - bandIdx*s.Offset
	}
	mIdx := inBand / nCol
	nIdx := bandIdx*s.Offset + inBand%nCol
	if bandIdx%2 == 1 {
		mIdx = rows - mIdx - 1
	}
	return coord.MakeGemmCoord(mIdx, nIdx, 0)
}

// ActualBlockShape returns the shape of the tile at blockCoord, clamped at the edges of the problem.
// K is the full K of the problem.
func (s IdentityBlockSwizzle) ActualBlockShape(blockCoord coord.GemmCoord) coord.GemmCoord {
	m := min(s.tileShape.Row, s.problem.M-blockCoord.M*s.tileShape.Row)
	n := min(s.tileShape.Column, s.problem.N-blockCoord.N*s.tileShape.Column)
	return coord.MakeGemmCoord(m, n, s.problem.K)
}

func (s IdentityBlockSwizzle) String() string {
	return fmt.Sprintf("IdentityBlockSwizzle{%d, %s, loops=%s}", s.Offset, s.Direction, s.loops)
}

// SplitKBlockSwizzle maps a linear task index to an output tile and a slice of K: each output tile is
// computed by SplitK tasks, whose partial results are reduced afterwards.
//
// The K tiles are divided as evenly as possible: the first kTiles%SplitK slices get one extra K tile.
type SplitKBlockSwizzle struct {
	SplitK int

	problem   coord.GemmCoord
	tileShape coord.GemmCoord
	loops     coord.GemmCoord
}

// NewSplitKBlockSwizzle returns the swizzle of problem in tiles of tileShape. splitK is clamped to
// [1, number of K tiles].
func NewSplitKBlockSwizzle(problem, tileShape coord.GemmCoord, splitK int) SplitKBlockSwizzle {
	loops := coord.MakeGemmCoord(coord.CeilDiv(problem.M, tileShape.M), coord.CeilDiv(problem.N, tileShape.N),
		coord.CeilDiv(problem.K, tileShape.K))
	return SplitKBlockSwizzle{
		SplitK:    max(1, min(splitK, loops.K)),
		problem:   problem,
		tileShape: tileShape,
		loops:     loops,
	}
}

// Loops is the number of tiles along M, N and K.
func (s SplitKBlockSwizzle) Loops() coord.GemmCoord { return s.loops }

// CoreLoops is the number of tasks: output tiles times SplitK.
func (s SplitKBlockSwizzle) CoreLoops() int { return s.loops.M * s.loops.N * s.SplitK }

// SliceIdx is the K slice computed by task idx.
func (s SplitKBlockSwizzle) SliceIdx(idx int) int {
	return idx % s.CoreLoops() / (s.loops.M * s.loops.N)
}

// BlockCoord returns the tile coordinates of task idx: M and N in tiles, K as the index of the first
// K tile of its slice.
func (s SplitKBlockSwizzle) BlockCoord(idx int) coord.GemmCoord {
	mn := idx % (s.loops.M * s.loops.N)
	slice := s.SliceIdx(idx)
	perSlice, rem := s.loops.K/s.SplitK, s.loops.K%s.SplitK
	kIdx := slice*perSlice + rem
	if slice < rem {
		kIdx = (perSlice + 1) * slice
	}
	return coord.MakeGemmCoord(mn/s.loops.N, mn%s.loops.N, kIdx)
}

// ActualBlockShape returns the shape of the tile at blockCoord: M and N clamped at the edges, K the length
// of the slice of task idx.
func (s SplitKBlockSwizzle) ActualBlockShape(blockCoord coord.GemmCoord, idx int) coord.GemmCoord {
	m := min(s.tileShape.M, s.problem.M-blockCoord.M*s.tileShape.M)
	n := min(s.tileShape.N, s.problem.N-blockCoord.N*s.tileShape.N)
	slice := s.SliceIdx(idx)
	perSlice, rem := s.loops.K/s.SplitK, s.loops.K%s.SplitK
	kTiles := perSlice
	if slice < rem {
		kTiles++
	}
	k := kTiles * s.tileShape.K
	if slice == s.SplitK-1 {
		k = s.problem.K - blockCoord.K*s.tileShape.K
	}
	return coord.MakeGemmCoord(m, n, k)
}
