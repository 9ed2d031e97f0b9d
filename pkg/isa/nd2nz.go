// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
)

// Nd2NzParams describes the conversion of NdNum row-major matrices of NValue rows by DValue columns into
// the fractal format, while moving them from GM to L1.
//
// Element (m, r, c) (matrix, row, column) is read from src[m*SrcNdMatrixStride + r*SrcDValue + c] and written to
// dst[m*DstNzMatrixStride + (c/C0)*DstNzC0Stride*C0 + r*DstNzNStride*C0 + c%C0].
// The columns from DValue up to the next multiple of C0 are filled with zeros.
type Nd2NzParams struct {
	NdNum             int
	NValue            int
	DValue            int
	SrcNdMatrixStride int // In elements.
	SrcDValue         int // Row stride of the source, in elements.
	DstNzC0Stride     int // Distance between C0 column groups, in C0 units (32 bytes).
	DstNzNStride      int // Distance between rows, in C0 units.
	DstNzMatrixStride int // In elements.
}

// Nd2Nz issues a GM to L1 data copy that converts row-major matrices to the fractal format.
func Nd2Nz[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], p Nd2NzParams) {
	const name = "Nd2Nz"
	checkLevel(name, "src", src, arch.LevelGM)
	checkLevel(name, "dst", dst, arch.LevelL1)
	checkRange(name, "NdNum", p.NdNum, 1, arch.MaxNdNum)
	checkRange(name, "NValue", p.NValue, 1, arch.MaxBlockCount)
	checkRange(name, "DValue", p.DValue, 1, arch.StrideLimit-1)
	checkStride(name, "SrcNdMatrixStride", p.SrcNdMatrixStride)
	checkStride(name, "SrcDValue", p.SrcDValue)
	checkStride(name, "DstNzC0Stride", p.DstNzC0Stride)
	checkStride(name, "DstNzNStride", p.DstNzNStride)
	checkStride(name, "DstNzMatrixStride", p.DstNzMatrixStride)

	c0 := elementsPerC0[T]()
	dRound := coord.RoundUp(p.DValue, c0)
	srcOffset := func(m, r, c int) int { return m*p.SrcNdMatrixStride + r*p.SrcDValue + c }
	dstOffset := func(m, r, c int) int {
		return m*p.DstNzMatrixStride + (c/c0)*p.DstNzC0Stride*c0 + r*p.DstNzNStride*c0 + c%c0
	}
	last := p.NdNum - 1
	checkExtent(name, "src", src, srcOffset(last, p.NValue-1, p.DValue-1)+1)
	maxDst := 0
	for _, r := range []int{0, p.NValue - 1} {
		for _, c := range []int{0, dRound - 1} {
			maxDst = max(maxDst, dstOffset(last, r, c))
		}
	}
	checkExtent(name, "dst", dst, maxDst+1)

	core.Issue(arch.PipeMTE2, func() {
		s, d := src.Data(), dst.Data()
		var zero T
		for m := range p.NdNum {
			for r := range p.NValue {
				for c := range dRound {
					if c < p.DValue {
						d[dstOffset(m, r, c)] = s[srcOffset(m, r, c)]
					} else {
						d[dstOffset(m, r, c)] = zero
					}
				}
			}
		}
	})
}
