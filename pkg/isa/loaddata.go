// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
)

// LoadData2DParams moves RepeatTimes fractals (512 bytes each) from L1 to L0A/L0B.
//
// Fractal i is read at fractal index StartIndex + i*SrcStride of the source, and written at fractal index
// i*(1+DstGap) of the destination.
type LoadData2DParams struct {
	StartIndex  int
	RepeatTimes int
	SrcStride   int
	DstGap      int

	// IfTranspose transposes each fractal. Only 2-byte types have square fractals (16x16): other types
	// transpose with LoadDataWithTranspose.
	IfTranspose bool
}

// LoadData2D issues the L1 to L0 fractal load.
func LoadData2D[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], p LoadData2DParams) {
	const name = "LoadData2D"
	checkLevel(name, "src", src, arch.LevelL1)
	checkLevel(name, "dst", dst, arch.LevelL0A, arch.LevelL0B)
	checkRange(name, "RepeatTimes", p.RepeatTimes, 1, arch.MaxRepeat)
	checkRange(name, "StartIndex", p.StartIndex, 0, arch.StrideLimit-1)
	checkStride(name, "SrcStride", p.SrcStride)
	checkStride(name, "DstGap", p.DstGap)
	c0 := elementsPerC0[T]()
	if p.IfTranspose && c0 != arch.C0NumPerFractal {
		exceptions.Panicf("%s: transpose requires 2-byte elements, got %s", name, dtypes.FromGenericsType[T]())
	}
	frac := arch.C0NumPerFractal * c0
	last := p.RepeatTimes - 1
	checkExtent(name, "src", src, (p.StartIndex+last*p.SrcStride+1)*frac)
	checkExtent(name, "dst", dst, (last*(1+p.DstGap)+1)*frac)

	core.Issue(arch.PipeMTE1, func() {
		s, d := src.Data(), dst.Data()
		for i := range p.RepeatTimes {
			from := s[(p.StartIndex+i*p.SrcStride)*frac:][:frac]
			to := d[i*(1+p.DstGap)*frac:][:frac]
			if !p.IfTranspose {
				copy(to, from)
				continue
			}
			for r := range arch.C0NumPerFractal {
				for c := range c0 {
					to[c*c0+r] = from[r*c0+c]
				}
			}
		}
	})
}

// LoadData2DTransposeParams moves RepeatTimes squares from L1 to L0A/L0B, transposing each.
//
// A square is made of two fractals: for 1-byte types two 16x32 fractals stacked vertically (32x32), and for
// 4-byte types two 16x8 fractals side by side (16x16). Square i is read from the source fractals
// f0 = StartIndex + i*SrcStride and f1 = f0 + 1 + SrcFracGap; its transpose is written to the destination
// fractals g0 = i*(1+DstGap) and g1 = g0 + 1 + DstFracGap, split the same way.
type LoadData2DTransposeParams struct {
	StartIndex  int
	RepeatTimes int
	SrcStride   int
	SrcFracGap  int
	DstGap      int
	DstFracGap  int
}

// LoadDataWithTranspose issues the transposing L1 to L0 load for 1-byte and 4-byte types.
func LoadDataWithTranspose[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], p LoadData2DTransposeParams) {
	const name = "LoadDataWithTranspose"
	checkLevel(name, "src", src, arch.LevelL1)
	checkLevel(name, "dst", dst, arch.LevelL0A, arch.LevelL0B)
	checkRange(name, "RepeatTimes", p.RepeatTimes, 1, arch.MaxRepeat)
	checkRange(name, "StartIndex", p.StartIndex, 0, arch.StrideLimit-1)
	checkStride(name, "SrcStride", p.SrcStride)
	checkStride(name, "SrcFracGap", p.SrcFracGap)
	checkStride(name, "DstGap", p.DstGap)
	checkStride(name, "DstFracGap", p.DstFracGap)
	c0 := elementsPerC0[T]()
	const rows = arch.C0NumPerFractal
	if c0 == rows {
		exceptions.Panicf("%s: 2-byte elements transpose with LoadData2D", name)
	}
	frac := rows * c0
	last := p.RepeatTimes - 1
	checkExtent(name, "src", src, (p.StartIndex+last*p.SrcStride+1+p.SrcFracGap+1)*frac)
	checkExtent(name, "dst", dst, (last*(1+p.DstGap)+1+p.DstFracGap+1)*frac)

	// locate returns the fractal (0 or 1) and the offset within it of element (a, b) of a square.
	var side int
	var locate func(a, b int) (int, int)
	if c0 > rows {
		// 1-byte: fractals of 16x32 stacked.
		side = c0
		locate = func(a, b int) (int, int) { return a / rows, (a%rows)*c0 + b }
	} else {
		// 4-byte: fractals of 16x8 side by side.
		side = rows
		locate = func(a, b int) (int, int) { return b / c0, a*c0 + b%c0 }
	}
	core.Issue(arch.PipeMTE1, func() {
		s, d := src.Data(), dst.Data()
		for i := range p.RepeatTimes {
			f0 := p.StartIndex + i*p.SrcStride
			g0 := i * (1 + p.DstGap)
			srcFracs := [2][]T{s[f0*frac:][:frac], s[(f0+1+p.SrcFracGap)*frac:][:frac]}
			dstFracs := [2][]T{d[g0*frac:][:frac], d[(g0+1+p.DstFracGap)*frac:][:frac]}
			for a := range side {
				for b := range side {
					fs, os := locate(b, a)
					fd, od := locate(a, b)
					dstFracs[fd][od] = srcFracs[fs][os]
				}
			}
		}
	})
}
