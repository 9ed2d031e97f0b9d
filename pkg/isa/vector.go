// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
)

// The vector unit processes up to 256 bytes per repeat, as 8 blocks of 32 bytes. Each instruction comes in two forms:
//
//   - The "count" form (e.g. Add) processes count contiguous elements.
//   - The "masked" form (e.g. AddMasked) processes repeat iterations of the first mask elements of a repeat, with
//     block and repeat strides (in 32-byte blocks) for each operand. Element e of repeat r of an operand is at
//     r*RepStride*epb + (e/epb)*BlkStride*epb + e%epb, where epb is the number of elements per 32-byte block.
//
// Arithmetic is done in float32 and rounded (to nearest even) to the element type.

// UnaryRepeatParams are the block and repeat strides, in 32-byte blocks, of a one-source vector instruction.
type UnaryRepeatParams struct {
	DstBlkStride, SrcBlkStride int
	DstRepStride, SrcRepStride int
}

// BinaryRepeatParams are the block and repeat strides, in 32-byte blocks, of a two-source vector instruction.
type BinaryRepeatParams struct {
	DstBlkStride, Src0BlkStride, Src1BlkStride int
	DstRepStride, Src0RepStride, Src1RepStride int
}

// DefaultUnaryRepeatParams processes contiguous repeats of 256 bytes.
func DefaultUnaryRepeatParams() UnaryRepeatParams {
	return UnaryRepeatParams{1, 1, arch.BlkNumPerVectorFractal, arch.BlkNumPerVectorFractal}
}

// DefaultBinaryRepeatParams processes contiguous repeats of 256 bytes.
func DefaultBinaryRepeatParams() BinaryRepeatParams {
	const r = arch.BlkNumPerVectorFractal
	return BinaryRepeatParams{1, 1, 1, r, r, r}
}

// operand of a masked vector instruction.
type operand struct {
	epb, blk, rep int
}

func (o operand) offset(r, e int) int {
	return r*o.rep*o.epb + (e/o.epb)*o.blk*o.epb + e%o.epb
}

// extent is one past the largest offset addressed by repeat x mask elements.
func (o operand) extent(mask, repeat int) int {
	last := 0
	for b := 0; b*o.epb < mask; b++ {
		e := min(mask, (b+1)*o.epb) - 1
		last = max(last, o.offset(repeat-1, e))
	}
	return last + 1
}

// checkMasked validates the mask, repeat and strides of a masked instruction whose widest operand has
// maxSize bytes per element. It returns false if there is nothing to do.
func checkMasked(name string, mask, repeat, maxSize int, ops ...operand) bool {
	checkRange(name, "mask", mask, 1, arch.BytePerVectorFractal/maxSize)
	checkRange(name, "repeat", repeat, 0, arch.MaxRepeat)
	for _, o := range ops {
		checkRange(name, "block stride", o.blk, 0, arch.MaxBlockStride)
		checkRange(name, "repeat stride", o.rep, 0, arch.MaxRepeatStride)
	}
	return repeat > 0
}

// unaryMasked issues dst = fn(src) over the masked elements.
func unaryMasked[D, S dtypes.Supported](core *arch.Core, name string, dst arch.Tensor[D], src arch.Tensor[S],
	mask, repeat int, p UnaryRepeatParams, fn func(S) D) {
	checkLevel(name, "dst", dst, arch.LevelUB)
	checkLevel(name, "src", src, arch.LevelUB)
	od := operand{elementsPerBlk[D](), p.DstBlkStride, p.DstRepStride}
	osrc := operand{elementsPerBlk[S](), p.SrcBlkStride, p.SrcRepStride}
	if !checkMasked(name, mask, repeat, max(sizeOf[D](), sizeOf[S]()), od, osrc) {
		return
	}
	checkExtent(name, "dst", dst, od.extent(mask, repeat))
	checkExtent(name, "src", src, osrc.extent(mask, repeat))
	core.Issue(arch.PipeV, func() {
		d, s := dst.Data(), src.Data()
		for r := range repeat {
			for e := range mask {
				d[od.offset(r, e)] = fn(s[osrc.offset(r, e)])
			}
		}
	})
}

// unaryCount issues dst[i] = fn(src[i]) for i < count.
func unaryCount[D, S dtypes.Supported](core *arch.Core, name string, dst arch.Tensor[D], src arch.Tensor[S], count int, fn func(S) D) {
	checkLevel(name, "dst", dst, arch.LevelUB)
	checkLevel(name, "src", src, arch.LevelUB)
	checkRange(name, "count", count, 0, math.MaxInt32)
	checkExtent(name, "dst", dst, count)
	checkExtent(name, "src", src, count)
	core.Issue(arch.PipeV, func() {
		d, s := dst.Data(), src.Data()
		for i := range count {
			d[i] = fn(s[i])
		}
	})
}

// binaryMasked issues dst = fn(src0, src1, dst) over the masked elements.
func binaryMasked[T dtypes.Supported](core *arch.Core, name string, dst, src0, src1 arch.Tensor[T],
	mask, repeat int, p BinaryRepeatParams, fn func(a, b, d T) T) {
	checkLevel(name, "dst", dst, arch.LevelUB)
	checkLevel(name, "src0", src0, arch.LevelUB)
	checkLevel(name, "src1", src1, arch.LevelUB)
	epb := elementsPerBlk[T]()
	od := operand{epb, p.DstBlkStride, p.DstRepStride}
	o0 := operand{epb, p.Src0BlkStride, p.Src0RepStride}
	o1 := operand{epb, p.Src1BlkStride, p.Src1RepStride}
	if !checkMasked(name, mask, repeat, sizeOf[T](), od, o0, o1) {
		return
	}
	checkExtent(name, "dst", dst, od.extent(mask, repeat))
	checkExtent(name, "src0", src0, o0.extent(mask, repeat))
	checkExtent(name, "src1", src1, o1.extent(mask, repeat))
	core.Issue(arch.PipeV, func() {
		d, s0, s1 := dst.Data(), src0.Data(), src1.Data()
		for r := range repeat {
			for e := range mask {
				i := od.offset(r, e)
				d[i] = fn(s0[o0.offset(r, e)], s1[o1.offset(r, e)], d[i])
			}
		}
	})
}

// binaryCount issues dst[i] = fn(src0[i], src1[i], dst[i]) for i < count.
func binaryCount[T dtypes.Supported](core *arch.Core, name string, dst, src0, src1 arch.Tensor[T], count int, fn func(a, b, d T) T) {
	checkLevel(name, "dst", dst, arch.LevelUB)
	checkLevel(name, "src0", src0, arch.LevelUB)
	checkLevel(name, "src1", src1, arch.LevelUB)
	checkRange(name, "count", count, 0, math.MaxInt32)
	checkExtent(name, "dst", dst, count)
	checkExtent(name, "src0", src0, count)
	checkExtent(name, "src1", src1, count)
	core.Issue(arch.PipeV, func() {
		d, s0, s1 := dst.Data(), src0.Data(), src1.Data()
		for i := range count {
			d[i] = fn(s0[i], s1[i], d[i])
		}
	})
}

// float1 lifts a float32 function to the element type T.
func float1[T dtypes.Float](fn func(x float32) float32) func(T) T {
	return func(v T) T {
		return dtypes.FromFloat32[T](fn(dtypes.ToFloat32(v)), dtypes.RoundRint)
	}
}

// float2 lifts a float32 binary function to the element type T, ignoring the destination.
func float2[T dtypes.Float](fn func(a, b float32) float32) func(a, b, d T) T {
	return func(a, b, _ T) T {
		return dtypes.FromFloat32[T](fn(dtypes.ToFloat32(a), dtypes.ToFloat32(b)), dtypes.RoundRint)
	}
}

func add(a, b float32) float32 { return a + b }
func sub(a, b float32) float32 { return a - b }
func mul(a, b float32) float32 { return a * b }
func div(a, b float32) float32 { return a / b }

func maxF(a, b float32) float32 {
	if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
		return float32(math.NaN())
	}
	return max(a, b)
}

func minF(a, b float32) float32 {
	if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
		return float32(math.NaN())
	}
	return min(a, b)
}

// Add issues dst = src0 + src1 over count elements.
func Add[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], count int) {
	binaryCount(core, "Add", dst, src0, src1, count, float2[T](add))
}

// AddMasked is the masked form of Add.
func AddMasked[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], mask, repeat int, p BinaryRepeatParams) {
	binaryMasked(core, "Add", dst, src0, src1, mask, repeat, p, float2[T](add))
}

// Sub issues dst = src0 - src1 over count elements.
func Sub[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], count int) {
	binaryCount(core, "Sub", dst, src0, src1, count, float2[T](sub))
}

// SubMasked is the masked form of Sub.
func SubMasked[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], mask, repeat int, p BinaryRepeatParams) {
	binaryMasked(core, "Sub", dst, src0, src1, mask, repeat, p, float2[T](sub))
}

// Mul issues dst = src0 * src1 over count elements.
func Mul[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], count int) {
	binaryCount(core, "Mul", dst, src0, src1, count, float2[T](mul))
}

// MulMasked is the masked form of Mul.
func MulMasked[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], mask, repeat int, p BinaryRepeatParams) {
	binaryMasked(core, "Mul", dst, src0, src1, mask, repeat, p, float2[T](mul))
}

// Div issues dst = src0 / src1 over count elements.
func Div[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], count int) {
	binaryCount(core, "Div", dst, src0, src1, count, float2[T](div))
}

// DivMasked is the masked form of Div.
func DivMasked[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], mask, repeat int, p BinaryRepeatParams) {
	binaryMasked(core, "Div", dst, src0, src1, mask, repeat, p, float2[T](div))
}

// Max issues dst = max(src0, src1) over count elements.
func Max[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], count int) {
	binaryCount(core, "Max", dst, src0, src1, count, float2[T](maxF))
}

// MaxMasked is the masked form of Max.
func MaxMasked[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], mask, repeat int, p BinaryRepeatParams) {
	binaryMasked(core, "Max", dst, src0, src1, mask, repeat, p, float2[T](maxF))
}

// Min issues dst = min(src0, src1) over count elements.
func Min[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], count int) {
	binaryCount(core, "Min", dst, src0, src1, count, float2[T](minF))
}

// MulAddDst issues dst = src0 * src1 + dst over count elements.
func MulAddDst[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], count int) {
	binaryCount(core, "MulAddDst", dst, src0, src1, count, func(a, b, d T) T {
		return dtypes.FromFloat32[T](dtypes.ToFloat32(a)*dtypes.ToFloat32(b)+dtypes.ToFloat32(d), dtypes.RoundRint)
	})
}

// Adds issues dst = src + scalar over count elements.
func Adds[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], scalar T, count int) {
	s := dtypes.ToFloat32(scalar)
	unaryCount(core, "Adds", dst, src, count, float1[T](func(x float32) float32 { return x + s }))
}

// AddsMasked is the masked form of Adds.
func AddsMasked[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], scalar T, mask, repeat int, p UnaryRepeatParams) {
	s := dtypes.ToFloat32(scalar)
	unaryMasked(core, "Adds", dst, src, mask, repeat, p, float1[T](func(x float32) float32 { return x + s }))
}

// Muls issues dst = src * scalar over count elements.
func Muls[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], scalar T, count int) {
	s := dtypes.ToFloat32(scalar)
	unaryCount(core, "Muls", dst, src, count, float1[T](func(x float32) float32 { return x * s }))
}

// MulsMasked is the masked form of Muls.
func MulsMasked[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], scalar T, mask, repeat int, p UnaryRepeatParams) {
	s := dtypes.ToFloat32(scalar)
	unaryMasked(core, "Muls", dst, src, mask, repeat, p, float1[T](func(x float32) float32 { return x * s }))
}

// Maxs issues dst = max(src, scalar) over count elements.
func Maxs[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], scalar T, count int) {
	s := dtypes.ToFloat32(scalar)
	unaryCount(core, "Maxs", dst, src, count, float1[T](func(x float32) float32 { return maxF(x, s) }))
}

// Mins issues dst = min(src, scalar) over count elements.
func Mins[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], scalar T, count int) {
	s := dtypes.ToFloat32(scalar)
	unaryCount(core, "Mins", dst, src, count, float1[T](func(x float32) float32 { return minF(x, s) }))
}

// Axpy issues dst = src * scalar + dst over count elements.
func Axpy[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], scalar T, count int) {
	s := dtypes.ToFloat32(scalar)
	binaryCount(core, "Axpy", dst, src, dst, count, func(a, _, d T) T {
		return dtypes.FromFloat32[T](dtypes.ToFloat32(a)*s+dtypes.ToFloat32(d), dtypes.RoundRint)
	})
}

// Exp issues dst = e^src over count elements.
func Exp[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], count int) {
	unaryCount(core, "Exp", dst, src, count, float1[T](func(x float32) float32 { return float32(math.Exp(float64(x))) }))
}

// Ln issues dst = ln(src) over count elements.
func Ln[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], count int) {
	unaryCount(core, "Ln", dst, src, count, float1[T](func(x float32) float32 { return float32(math.Log(float64(x))) }))
}

// Abs issues dst = |src| over count elements.
func Abs[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], count int) {
	unaryCount(core, "Abs", dst, src, count, float1[T](func(x float32) float32 { return float32(math.Abs(float64(x))) }))
}

// Sqrt issues dst = sqrt(src) over count elements.
func Sqrt[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], count int) {
	unaryCount(core, "Sqrt", dst, src, count, float1[T](func(x float32) float32 { return float32(math.Sqrt(float64(x))) }))
}

// Reciprocal issues dst = 1/src over count elements.
func Reciprocal[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], count int) {
	unaryCount(core, "Reciprocal", dst, src, count, float1[T](func(x float32) float32 { return 1 / x }))
}

// Relu issues dst = max(src, 0) over count elements.
func Relu[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], count int) {
	unaryCount(core, "Relu", dst, src, count, float1[T](func(x float32) float32 { return maxF(x, 0) }))
}

// Duplicate fills count elements of dst with value.
func Duplicate[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], value T, count int) {
	unaryCount(core, "Duplicate", dst, dst, count, func(T) T { return value })
}

// DuplicateMasked is the masked form of Duplicate. Only the destination strides of p are used.
func DuplicateMasked[T dtypes.Supported](core *arch.Core, dst arch.Tensor[T], value T, mask, repeat int, p UnaryRepeatParams) {
	p.SrcBlkStride, p.SrcRepStride = p.DstBlkStride, p.DstRepStride
	unaryMasked(core, "Duplicate", dst, dst, mask, repeat, p, func(T) T { return value })
}

// Copy issues a masked UB to UB copy, for 2-byte and 4-byte elements.
func Copy[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], mask, repeat int, p UnaryRepeatParams) {
	if sizeOf[T]() == 1 {
		exceptions.Panicf("Copy: 1-byte elements (%s) are not supported by the vector copy", dtypes.FromGenericsType[T]())
	}
	unaryMasked(core, "Copy", dst, src, mask, repeat, p, func(v T) T { return v })
}

// Cast issues dst = convert(src) over count elements, with the given rounding mode.
func Cast[D, S dtypes.Supported](core *arch.Core, dst arch.Tensor[D], src arch.Tensor[S], mode dtypes.RoundMode, count int) {
	unaryCount(core, "Cast", dst, src, count, func(v S) D { return dtypes.Convert[D](v, mode) })
}

// CastMasked is the masked form of Cast. The mask is bounded by the widest of the two types.
func CastMasked[D, S dtypes.Supported](core *arch.Core, dst arch.Tensor[D], src arch.Tensor[S], mode dtypes.RoundMode,
	mask, repeat int, p UnaryRepeatParams) {
	unaryMasked(core, "Cast", dst, src, mask, repeat, p, func(v S) D { return dtypes.Convert[D](v, mode) })
}

// BrcbRepeatParams are the destination strides, in 32-byte blocks, of Brcb.
type BrcbRepeatParams struct {
	DstBlkStride int
	DstRepStride int
}

// Brcb broadcasts each source element to a full 32-byte block: repeat r reads the 8 elements src[8r:8r+8],
// and fills the block i (of 8) of the destination repeat r with copies of src[8r+i].
// Only 2-byte and 4-byte elements are supported.
func Brcb[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], repeat int, p BrcbRepeatParams) {
	const name = "Brcb"
	checkLevel(name, "dst", dst, arch.LevelUB)
	checkLevel(name, "src", src, arch.LevelUB)
	if sizeOf[T]() == 1 {
		exceptions.Panicf("%s: 1-byte elements (%s) are not supported", name, dtypes.FromGenericsType[T]())
	}
	const blocks = arch.BlkNumPerVectorFractal
	epb := elementsPerBlk[T]()
	od := operand{epb, p.DstBlkStride, p.DstRepStride}
	if !checkMasked(name, blocks*epb, repeat, sizeOf[T](), od) {
		return
	}
	checkExtent(name, "src", src, repeat*blocks)
	checkExtent(name, "dst", dst, od.extent(blocks*epb, repeat))
	core.Issue(arch.PipeV, func() {
		d, s := dst.Data(), src.Data()
		for r := range repeat {
			for e := range blocks * epb {
				d[od.offset(r, e)] = s[r*blocks+e/epb]
			}
		}
	})
}

// MulAddDstMasked issues dst = src0 * src1 + dst over the masked elements, with sources of type S accumulated
// into a destination of type D (e.g. float16 products into float32). Strides of each operand are in blocks of
// its own type.
func MulAddDstMasked[D, S dtypes.Float](core *arch.Core, dst arch.Tensor[D], src0, src1 arch.Tensor[S],
	mask, repeat int, p BinaryRepeatParams) {
	const name = "MulAddDst"
	checkLevel(name, "dst", dst, arch.LevelUB)
	checkLevel(name, "src0", src0, arch.LevelUB)
	checkLevel(name, "src1", src1, arch.LevelUB)
	od := operand{elementsPerBlk[D](), p.DstBlkStride, p.DstRepStride}
	o0 := operand{elementsPerBlk[S](), p.Src0BlkStride, p.Src0RepStride}
	o1 := operand{elementsPerBlk[S](), p.Src1BlkStride, p.Src1RepStride}
	if !checkMasked(name, mask, repeat, max(sizeOf[D](), sizeOf[S]()), od, o0, o1) {
		return
	}
	checkExtent(name, "dst", dst, od.extent(mask, repeat))
	checkExtent(name, "src0", src0, o0.extent(mask, repeat))
	checkExtent(name, "src1", src1, o1.extent(mask, repeat))
	core.Issue(arch.PipeV, func() {
		d, s0, s1 := dst.Data(), src0.Data(), src1.Data()
		for r := range repeat {
			for e := range mask {
				i := od.offset(r, e)
				v := dtypes.ToFloat32(s0[o0.offset(r, e)])*dtypes.ToFloat32(s1[o1.offset(r, e)]) + dtypes.ToFloat32(d[i])
				d[i] = dtypes.FromFloat32[D](v, dtypes.RoundRint)
			}
		}
	})
}

// AxpyMasked issues dst = src * scalar + dst over the masked elements, with a source of type S accumulated into
// a destination of type D.
func AxpyMasked[D, S dtypes.Float](core *arch.Core, dst arch.Tensor[D], src arch.Tensor[S], scalar S,
	mask, repeat int, p UnaryRepeatParams) {
	const name = "Axpy"
	checkLevel(name, "dst", dst, arch.LevelUB)
	checkLevel(name, "src", src, arch.LevelUB)
	od := operand{elementsPerBlk[D](), p.DstBlkStride, p.DstRepStride}
	osrc := operand{elementsPerBlk[S](), p.SrcBlkStride, p.SrcRepStride}
	if !checkMasked(name, mask, repeat, max(sizeOf[D](), sizeOf[S]()), od, osrc) {
		return
	}
	checkExtent(name, "dst", dst, od.extent(mask, repeat))
	checkExtent(name, "src", src, osrc.extent(mask, repeat))
	s := dtypes.ToFloat32(scalar)
	core.Issue(arch.PipeV, func() {
		d, x := dst.Data(), src.Data()
		for r := range repeat {
			for e := range mask {
				i := od.offset(r, e)
				d[i] = dtypes.FromFloat32[D](dtypes.ToFloat32(x[osrc.offset(r, e)])*s+dtypes.ToFloat32(d[i]), dtypes.RoundRint)
			}
		}
	})
}
