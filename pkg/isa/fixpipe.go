// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/x448/float16"
)

// QuantMode is the conversion applied by the fixpipe to the accumulator values on their way out of L0C.
type QuantMode int

//go:generate go tool enumer -type=QuantMode -trimprefix=QuantMode -output=gen_quantmode_enumer.go fixpipe.go

const (
	// QuantModeNoQuant copies the accumulator as is: float32 to float32, int32 to int32.
	QuantModeNoQuant QuantMode = iota

	// QuantModeF322F16 rounds float32 to float16.
	QuantModeF322F16

	// QuantModeF322BF16 rounds float32 to bfloat16.
	QuantModeF322BF16

	// QuantModeDEQF16 converts int32 to float16 multiplied by one scalar scale (per-tensor).
	QuantModeDEQF16

	// QuantModeVDEQF16 converts int32 to float16 multiplied by a scale per column (per-channel), read from the
	// fixpipe buffer (FB).
	QuantModeVDEQF16
)

// FixpipeLayout selects the format written by the fixpipe.
type FixpipeLayout int

//go:generate go tool enumer -type=FixpipeLayout -trimprefix=FixpipeLayout -output=gen_fixpipelayout_enumer.go fixpipe.go

const (
	// FixpipeLayoutNz2Nd writes row-major: dst[i*DstStride + j].
	FixpipeLayoutNz2Nd FixpipeLayout = iota

	// FixpipeLayoutNz2Dn writes column-major: dst[j*DstStride + i].
	FixpipeLayoutNz2Dn

	// FixpipeLayoutNz keeps the 16x16 fractal format (2-byte destinations only):
	// dst[(j/16)*DstStride + i*16 + j%16].
	FixpipeLayoutNz
)

// FixpipeParams describes the M x N tile moved from L0C.
type FixpipeParams struct {
	M, N int

	// SrcStride is the number of rows of one column of fractals in L0C: a multiple of 16, at least M.
	SrcStride int

	// DstStride is the leading dimension of the destination, in elements.
	DstStride int

	Quant     QuantMode
	DeqScalar float32
	Layout    FixpipeLayout
}

// Fixpipe issues the L0C to GM store, converting the accumulator per the quant mode.
//
// scales holds the N per-channel scales in the fixpipe buffer (FB), and is only used (and required)
// by QuantModeVDEQF16.
func Fixpipe[D, S dtypes.Supported](core *arch.Core, dst arch.Tensor[D], src arch.Tensor[S], scales arch.Tensor[float32], p FixpipeParams) {
	const name = "Fixpipe"
	const f = arch.C0NumPerFractal
	checkLevel(name, "src", src, arch.LevelL0C)
	checkLevel(name, "dst", dst, arch.LevelGM)
	checkRange(name, "M", p.M, 1, arch.MaxBlockCount)
	checkRange(name, "N", p.N, 1, arch.MaxBlockCount)
	checkStride(name, "SrcStride", p.SrcStride)
	checkStride(name, "DstStride", p.DstStride)
	if p.SrcStride < p.M || p.SrcStride%f != 0 {
		exceptions.Panicf("%s: SrcStride=%d must be a multiple of %d and at least M=%d", name, p.SrcStride, f, p.M)
	}
	convert := fixpipeConversion[D, S](name, p)
	if p.Quant == QuantModeVDEQF16 {
		checkLevel(name, "scales", scales, arch.LevelFB)
		checkExtent(name, "scales", scales, p.N)
	}

	var dstOffset func(i, j int) int
	switch p.Layout {
	case FixpipeLayoutNz2Nd:
		if p.DstStride < p.N {
			exceptions.Panicf("%s: DstStride=%d smaller than N=%d for %s", name, p.DstStride, p.N, p.Layout)
		}
		dstOffset = func(i, j int) int { return i*p.DstStride + j }
	case FixpipeLayoutNz2Dn:
		if p.DstStride < p.M {
			exceptions.Panicf("%s: DstStride=%d smaller than M=%d for %s", name, p.DstStride, p.M, p.Layout)
		}
		dstOffset = func(i, j int) int { return j*p.DstStride + i }
	case FixpipeLayoutNz:
		if sizeOf[D]() != 2 {
			exceptions.Panicf("%s: %s output requires 2-byte elements, got %s", name, p.Layout, dtypes.FromGenericsType[D]())
		}
		if p.DstStride < p.M*f {
			exceptions.Panicf("%s: DstStride=%d smaller than a column of fractals (%d) for %s", name, p.DstStride, p.M*f, p.Layout)
		}
		dstOffset = func(i, j int) int { return (j/f)*p.DstStride + i*f + j%f }
	default:
		exceptions.Panicf("%s: invalid layout %s", name, p.Layout)
	}
	srcOffset := func(i, j int) int { return (j/f)*p.SrcStride*f + i*f + j%f }
	checkExtent(name, "src", src, srcOffset(p.M-1, p.N-1)+1)
	checkExtent(name, "dst", dst, max(dstOffset(p.M-1, p.N-1), dstOffset(p.M-1, 0), dstOffset(0, p.N-1))+1)

	core.Issue(arch.PipeFIX, func() {
		s, d := src.Data(), dst.Data()
		var sc []float32
		if p.Quant == QuantModeVDEQF16 {
			sc = scales.Data()
		}
		for i := range p.M {
			for j := range p.N {
				scale := p.DeqScalar
				if sc != nil {
					scale = sc[j]
				}
				d[dstOffset(i, j)] = convert(s[srcOffset(i, j)], scale)
			}
		}
	})
}

// fixpipeConversion validates the (D, S, QuantMode) combination and returns the element conversion.
func fixpipeConversion[D, S dtypes.Supported](name string, p FixpipeParams) func(v S, scale float32) D {
	srcDType, dstDType := dtypes.FromGenericsType[S](), dtypes.FromGenericsType[D]()
	valid := false
	switch p.Quant {
	case QuantModeNoQuant:
		valid = srcDType == dstDType && (srcDType == dtypes.Float32 || srcDType == dtypes.Int32)
	case QuantModeF322F16:
		valid = srcDType == dtypes.Float32 && dstDType == dtypes.Float16
	case QuantModeF322BF16:
		valid = srcDType == dtypes.Float32 && dstDType == dtypes.BFloat16
	case QuantModeDEQF16, QuantModeVDEQF16:
		valid = srcDType == dtypes.Int32 && dstDType == dtypes.Float16
	}
	if !valid {
		exceptions.Panicf("%s: quant mode %s doesn't convert %s to %s", name, p.Quant, srcDType, dstDType)
	}
	switch p.Quant {
	case QuantModeDEQF16, QuantModeVDEQF16:
		return func(v S, scale float32) D {
			x := float32(any(v).(int32)) * scale
			return any(float16.Fromfloat32(x)).(D)
		}
	case QuantModeNoQuant:
		return func(v S, _ float32) D { return any(v).(D) }
	default:
		return func(v S, _ float32) D { return dtypes.Convert[D](v, dtypes.RoundRint) }
	}
}
