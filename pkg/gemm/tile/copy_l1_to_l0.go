// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
)

// loadFractals issues LoadData2D for repeat fractals, split in instructions of at most arch.MaxRepeat.
// srcStride and dstGap are in fractals, as in isa.LoadData2DParams.
func loadFractals[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], repeat, srcStride, dstGap int, transpose bool) {
	frac := layout.ElementsPerFractal(dtypes.FromGenericsType[T]())
	for first := 0; first < repeat; first += arch.MaxRepeat {
		isa.LoadData2D(core, dst.Offset(first*(1+dstGap)*frac), src.Offset(first*srcStride*frac), isa.LoadData2DParams{
			RepeatTimes: min(arch.MaxRepeat, repeat-first),
			SrcStride:   srcStride,
			DstGap:      dstGap,
			IfTranspose: transpose,
		})
	}
}

// loadSquares issues LoadDataWithTranspose for repeat squares, split in instructions of at most arch.MaxRepeat.
func loadSquares[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], repeat int, p isa.LoadData2DTransposeParams) {
	frac := layout.ElementsPerFractal(dtypes.FromGenericsType[T]())
	for first := 0; first < repeat; first += arch.MaxRepeat {
		p.RepeatTimes = min(arch.MaxRepeat, repeat-first)
		isa.LoadDataWithTranspose(core, dst.Offset(first*(1+p.DstGap)*frac), src.Offset(first*p.SrcStride*frac), p)
	}
}

type blockedLayout interface {
	layout.Matrix
	Stride(i int) int
}

// fractalStrides returns the strides between row-fractals and between column-fractals, in fractals.
func fractalStrides(dtype dtypes.DType, l blockedLayout) (s1, s3 int) {
	frac := layout.ElementsPerFractal(dtype)
	return l.Stride(1) / frac, l.Stride(3) / frac
}

// CopyL1ToL0A loads an A tile (m x k, the OrgShape of dstLayout) from L1 to the zZ format of L0A.
//
// A zN source is copied fractal by fractal. An nZ source (A column-major in GM) is transposed: with
// LoadData2D for 2-byte types, and with LoadDataWithTranspose on squares of two fractals otherwise.
// Transposed int8 loads write whole 32-row squares: dst must hold m rounded up to 32.
func CopyL1ToL0A[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.ZZ,
	src arch.Tensor[T], srcLayout layout.Matrix) {
	const f = arch.C0NumPerFractal
	org := dstLayout.OrgShape()
	m, k := org.Row, org.Column
	if m == 0 || k == 0 {
		return
	}
	dtype := dtypes.FromGenericsType[T]()
	c0 := layout.ElementsPerC0(dtype)
	d1, d3 := fractalStrides(dtype, dstLayout)
	d1Elems := dstLayout.Stride(1)

	switch s := srcLayout.(type) {
	case layout.ZN:
		_, s3 := fractalStrides(dtype, s)
		for i := range coord.CeilDiv(m, f) {
			loadFractals(core, dst.Offset(i*d1Elems), src.Offset(i*s.Stride(1)), coord.CeilDiv(k, c0), s3, d3-1, false)
		}
		return

	case layout.NZ:
		s1, s3 := fractalStrides(dtype, s)
		switch dtype.Size() {
		case 2:
			for i := range coord.CeilDiv(m, f) {
				loadFractals(core, dst.Offset(i*d1Elems), src.Offset(i*s.Stride(1)), coord.CeilDiv(k, f), s3, d3-1, true)
			}
		case 1:
			// Squares of 32 x 32: two nZ fractals side by side in K, two zZ fractals stacked in M.
			for i := range coord.CeilDiv(m, c0) {
				loadSquares(core, dst.Offset(2*i*d1Elems), src.Offset(i*s.Stride(1)), coord.CeilDiv(k, c0),
					isa.LoadData2DTransposeParams{SrcStride: 2 * s3, SrcFracGap: s3 - 1, DstGap: d3 - 1, DstFracGap: d1 - 1})
			}
		case 4:
			// Squares of 16 x 16: two nZ fractals stacked in M, two zZ fractals side by side in K.
			// When k%16 is at most 8, the second half of the last square of a row lands on the first fractal of
			// the next row, which the next iteration overwrites.
			for i := range coord.CeilDiv(m, f) {
				loadSquares(core, dst.Offset(i*d1Elems), src.Offset(2*i*s.Stride(1)), coord.CeilDiv(k, f),
					isa.LoadData2DTransposeParams{SrcStride: s3, SrcFracGap: s1 - 1, DstGap: 2*d3 - 1, DstFracGap: d3 - 1})
			}
		}
		return
	}
	panicf("CopyL1ToL0A: no load from %s to zZ", srcLayout.Kind())
}

// CopyL1ToL0B loads a B tile (k x n, the OrgShape of dstLayout) from L1 to the nZ format of L0B.
//
// An nZ source is copied fractal by fractal; a zN source (B row-major in GM) is transposed.
// Transposed float32 loads write whole 16-row squares: dst must hold k rounded up to 16.
func CopyL1ToL0B[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], dstLayout layout.NZ,
	src arch.Tensor[T], srcLayout layout.Matrix) {
	const f = arch.C0NumPerFractal
	org := dstLayout.OrgShape()
	k, n := org.Row, org.Column
	if k == 0 || n == 0 {
		return
	}
	dtype := dtypes.FromGenericsType[T]()
	c0 := layout.ElementsPerC0(dtype)
	d1, d3 := fractalStrides(dtype, dstLayout)
	d1Elems := dstLayout.Stride(1)

	switch s := srcLayout.(type) {
	case layout.NZ:
		_, s3 := fractalStrides(dtype, s)
		for i := range coord.CeilDiv(k, c0) {
			loadFractals(core, dst.Offset(i*d1Elems), src.Offset(i*s.Stride(1)), coord.CeilDiv(n, f), s3, d3-1, false)
		}
		return

	case layout.ZN:
		s1, s3 := fractalStrides(dtype, s)
		switch dtype.Size() {
		case 2:
			for i := range coord.CeilDiv(k, f) {
				loadFractals(core, dst.Offset(i*d1Elems), src.Offset(i*s.Stride(1)), coord.CeilDiv(n, f), s3, d3-1, true)
			}
		case 1:
			// Squares of 32 x 32: two zN fractals stacked in K, two nZ fractals side by side in N.
			// When n%32 is at most 16, the second half of the last square lands on the first fractal of the
			// next row of fractals, which the next iteration overwrites.
			for i := range coord.CeilDiv(k, c0) {
				loadSquares(core, dst.Offset(i*d1Elems), src.Offset(2*i*s.Stride(1)), coord.CeilDiv(n, c0),
					isa.LoadData2DTransposeParams{SrcStride: s3, SrcFracGap: s1 - 1, DstGap: 2*d3 - 1, DstFracGap: d3 - 1})
			}
		case 4:
			// Squares of 16 x 16: two zN fractals side by side in N, two nZ fractals stacked in K.
			for i := range coord.CeilDiv(k, f) {
				loadSquares(core, dst.Offset(2*i*d1Elems), src.Offset(i*s.Stride(1)), coord.CeilDiv(n, f),
					isa.LoadData2DTransposeParams{SrcStride: 2 * s3, SrcFracGap: s3 - 1, DstGap: d3 - 1, DstFracGap: d1 - 1})
			}
		}
		return
	}
	panicf("CopyL1ToL0B: no load from %s to nZ", srcLayout.Kind())
}

// CopyL1ToBT moves n bias elements from L1 to the bias table, widened to the accumulator type.
func CopyL1ToBT[D, S dtypes.Supported](core *arch.Core, dst arch.Tensor[D], src arch.Tensor[S], n int) {
	if n == 0 {
		return
	}
	isa.DataCopyBias(core, dst, src, n)
}

// CopyL1ToFB moves n per-channel scales from L1 to the fixpipe buffer.
func CopyL1ToFB(core *arch.Core, dst, src arch.Tensor[float32], n int) {
	if n == 0 {
		return
	}
	epb := layout.ElementsPerBlk(dtypes.Float32)
	isa.DataCopy(core, dst, src, isa.DataCopyParams{BlockCount: 1, BlockLen: coord.CeilDiv(n, epb)})
}
