// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
)

// DataCopyParams describes BlockCount blocks (rows) of BlockLen 32-byte units each.
// Strides are the gaps between the end of a block and the start of the next one, in 32-byte units.
type DataCopyParams struct {
	BlockCount int
	BlockLen   int
	SrcStride  int
	DstStride  int
}

// DataCopy copies 32-byte aligned blocks between GM and L1/UB, or within UB.
func DataCopy[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], p DataCopyParams) {
	const name = "DataCopy"
	pipe := copyPipe(name, src.Position(), dst.Position())
	checkRange(name, "BlockCount", p.BlockCount, 1, arch.MaxBlockCount)
	checkRange(name, "BlockLen", p.BlockLen, 1, arch.StrideLimit-1)
	checkStride(name, "SrcStride", p.SrcStride)
	checkStride(name, "DstStride", p.DstStride)
	epb := elementsPerBlk[T]()
	blockElems := p.BlockLen * epb
	srcPitch := (p.BlockLen + p.SrcStride) * epb
	dstPitch := (p.BlockLen + p.DstStride) * epb
	checkExtent(name, "src", src, (p.BlockCount-1)*srcPitch+blockElems)
	checkExtent(name, "dst", dst, (p.BlockCount-1)*dstPitch+blockElems)
	core.Issue(pipe, func() {
		s, d := src.Data(), dst.Data()
		for i := range p.BlockCount {
			copy(d[i*dstPitch:i*dstPitch+blockElems], s[i*srcPitch:i*srcPitch+blockElems])
		}
	})
}

// DataCopyContiguous copies count elements, which must fill whole 32-byte blocks.
func DataCopyContiguous[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], count int) {
	epb := elementsPerBlk[T]()
	if count%epb != 0 {
		exceptions.Panicf("DataCopy: %d elements of %s are not a whole number of 32-byte blocks",
			count, dtypes.FromGenericsType[T]())
	}
	DataCopy(core, dst, src, DataCopyParams{BlockCount: 1, BlockLen: count / epb})
}

// DataCopyExtParams describes BlockCount blocks of BlockLen bytes each, for DataCopyPad.
//
// On the GM side strides are gaps in bytes; on the UB side gaps are in 32-byte units, and every block starts
// 32-byte aligned (a block occupies BlockLen rounded up to 32 bytes).
type DataCopyExtParams struct {
	BlockCount int
	BlockLen   int
	SrcStride  int
	DstStride  int
}

// DataCopyPadParams fills the tail of each UB block when copying GM to UB.
type DataCopyPadParams[T dtypes.Supported] struct {
	IsPad bool

	// RightPadding is the number of elements after each block filled with PadValue. They must fit in the
	// block rounded up to 32 bytes.
	RightPadding int
	PadValue     T
}

// DataCopyPad copies blocks of any byte length between GM and UB.
func DataCopyPad[T dtypes.Supported](core *arch.Core, dst, src arch.Tensor[T], p DataCopyExtParams, pad DataCopyPadParams[T]) {
	const name = "DataCopyPad"
	pipe := copyPipe(name, src.Position(), dst.Position())
	if pipe != arch.PipeMTE2 && pipe != arch.PipeMTE3 || src.Level() == arch.LevelL1 || dst.Level() == arch.LevelL1 {
		exceptions.Panicf("%s: only GM<->UB transfers are supported, got %s to %s", name, src.Position(), dst.Position())
	}
	size := sizeOf[T]()
	checkRange(name, "BlockCount", p.BlockCount, 1, arch.MaxBlockCount)
	checkRange(name, "BlockLen", p.BlockLen, 1, arch.StrideLimit-1)
	if p.BlockLen%size != 0 {
		exceptions.Panicf("%s: BlockLen=%d is not a multiple of the element size %d", name, p.BlockLen, size)
	}
	checkStride(name, "SrcStride", p.SrcStride)
	checkStride(name, "DstStride", p.DstStride)
	blockElems := p.BlockLen / size
	ubBlockElems := coord.RoundUp(p.BlockLen, arch.BytePerBlk) / size
	epb := elementsPerBlk[T]()

	var srcPitch, dstPitch int
	if pipe == arch.PipeMTE2 {
		if p.SrcStride%size != 0 {
			exceptions.Panicf("%s: SrcStride=%d bytes is not a multiple of the element size", name, p.SrcStride)
		}
		srcPitch = blockElems + p.SrcStride/size
		dstPitch = ubBlockElems + p.DstStride*epb
	} else {
		if p.DstStride%size != 0 {
			exceptions.Panicf("%s: DstStride=%d bytes is not a multiple of the element size", name, p.DstStride)
		}
		srcPitch = ubBlockElems + p.SrcStride*epb
		dstPitch = blockElems + p.DstStride/size
	}
	padElems := 0
	if pad.IsPad {
		if pipe != arch.PipeMTE2 {
			exceptions.Panicf("%s: padding is only supported from GM to UB", name)
		}
		checkRange(name, "RightPadding", pad.RightPadding, 0, ubBlockElems-blockElems)
		padElems = pad.RightPadding
	}
	checkExtent(name, "src", src, (p.BlockCount-1)*srcPitch+blockElems)
	checkExtent(name, "dst", dst, (p.BlockCount-1)*dstPitch+blockElems+padElems)
	core.Issue(pipe, func() {
		s, d := src.Data(), dst.Data()
		for i := range p.BlockCount {
			row := d[i*dstPitch : i*dstPitch+blockElems+padElems]
			copy(row, s[i*srcPitch:i*srcPitch+blockElems])
			for j := blockElems; j < len(row); j++ {
				row[j] = pad.PadValue
			}
		}
	})
}

// DataCopyBias moves count bias elements from L1 to the bias table (BT), converting them to the accumulator
// type: float16 and bfloat16 biases are widened to float32, float32 and int32 biases are copied as is.
func DataCopyBias[D, S dtypes.Supported](core *arch.Core, dst arch.Tensor[D], src arch.Tensor[S], count int) {
	const name = "DataCopyBias"
	checkLevel(name, "src", src, arch.LevelL1)
	checkLevel(name, "dst", dst, arch.LevelBT)
	srcDType, dstDType := dtypes.FromGenericsType[S](), dtypes.FromGenericsType[D]()
	switch {
	case srcDType == dstDType && (dstDType == dtypes.Float32 || dstDType == dtypes.Int32):
	case dstDType == dtypes.Float32 && (srcDType == dtypes.Float16 || srcDType == dtypes.BFloat16):
	default:
		exceptions.Panicf("%s: no conversion from %s bias to a %s bias table", name, srcDType, dstDType)
	}
	// The bias table is written in 64-byte units of the destination type.
	checkRange(name, "count", count, 1, arch.StrideLimit-1)
	rounded := coord.RoundUp(count*sizeOf[D](), 2*arch.BytePerBlk) / sizeOf[D]()
	checkExtent(name, "src", src, count)
	checkExtent(name, "dst", dst, rounded)
	core.Issue(arch.PipeMTE1, func() {
		s, d := src.Data(), dst.Data()
		for i := range count {
			d[i] = dtypes.Convert[D](s[i], dtypes.RoundNone)
		}
		var zero D
		for i := count; i < rounded; i++ {
			d[i] = zero
		}
	})
}
