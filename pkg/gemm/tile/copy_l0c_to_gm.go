// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// Quant is the conversion applied on the way out of L0C.
type Quant struct {
	Mode isa.QuantMode

	// Scalar is the per-tensor scale of isa.QuantModeDEQF16.
	Scalar float32

	// Scales are the per-channel scales of isa.QuantModeVDEQF16, in FB, one per column of the tile.
	Scales arch.Tensor[float32]
}

// scalesAt returns the scales starting at column j0, if any.
func (q Quant) scalesAt(j0 int) arch.Tensor[float32] {
	if q.Mode != isa.QuantModeVDEQF16 {
		return arch.Tensor[float32]{}
	}
	return q.Scales.Offset(j0)
}

// CopyL0CToGm stores the accumulator tile (the OrgShape of dstLayout) from L0C to GM with the fixpipe.
// srcLayout is the zN layout of the accumulator slot, as made by layout.MakeZNInL0C.
//
// The destination can be RowMajor, ColumnMajor or ZN (2-byte outputs). Leading dimensions too large
// for one descriptor fall back to one store per row (or per column).
func CopyL0CToGm[D, S dtypes.Supported](core *arch.Core, dst arch.Tensor[D], dstLayout layout.Matrix,
	src arch.Tensor[S], srcLayout layout.ZN, q Quant) {
	const f = arch.C0NumPerFractal
	org := dstLayout.OrgShape()
	m, n := org.Row, org.Column
	if m == 0 || n == 0 {
		return
	}
	// Rows in a column of fractals of the accumulator.
	srcRows := srcLayout.Stride(3) / f
	if srcRows < m || srcLayout.Stride(1) != f*f {
		panicf("CopyL0CToGm: accumulator %s can't hold a %s tile", srcLayout, org)
	}
	// srcAt returns the accumulator starting at (i, j), with j a multiple of 16 or i == 0.
	srcAt := func(i, j int) arch.Tensor[S] {
		return src.Offset((j/f)*srcRows*f + i*f + j%f)
	}
	params := isa.FixpipeParams{SrcStride: srcRows, Quant: q.Mode, DeqScalar: q.Scalar}

	switch d := dstLayout.(type) {
	case layout.RowMajor:
		ld := d.Ldm()
		params.Layout = isa.FixpipeLayoutNz2Nd
		params.N, params.DstStride = n, ld
		plan := PlanTransfer(m, ld, f)
		if plan.Tier == TierPerRow {
			params.DstStride = n
		}
		for _, piece := range plan.Pieces {
			params.M = piece.Count
			isa.Fixpipe(core, dst.Offset(piece.First*ld), srcAt(piece.First, 0), q.scalesAt(0), params)
		}
		return

	case layout.ColumnMajor:
		ld := d.Ldm()
		params.Layout = isa.FixpipeLayoutNz2Dn
		params.M, params.DstStride = m, ld
		plan := PlanTransfer(n, ld, f)
		if plan.Tier == TierPerRow {
			params.DstStride = m
		}
		for _, piece := range plan.Pieces {
			params.N = piece.Count
			isa.Fixpipe(core, dst.Offset(piece.First*ld), srcAt(0, piece.First), q.scalesAt(piece.First), params)
		}
		return

	case layout.ZN:
		if d.Shape(0) != f || d.Stride(0) != f || d.Stride(1) != f*f {
			panicf("CopyL0CToGm: zN output %s must have dense 16 x 16 fractals", d)
		}
		pitch := d.Stride(3)
		params.Layout = isa.FixpipeLayoutNz
		params.M, params.DstStride = m, pitch
		plan := PlanTransfer(coord.CeilDiv(n, f), pitch, 1)
		for _, piece := range plan.Pieces {
			j0 := piece.First * f
			params.N = min(piece.Count*f, n-j0)
			if plan.Tier == TierPerRow {
				params.DstStride = m * f
			}
			isa.Fixpipe(core, dst.Offset(piece.First*pitch), srcAt(0, j0), q.scalesAt(j0), params)
		}
		return
	}
	panicf("CopyL0CToGm: no store from L0C to %s", dstLayout.Kind())
}
