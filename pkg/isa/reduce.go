// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
)

// ReduceParams are the strides of the reduction instructions.
type ReduceParams struct {
	// DstRepStride is the distance between the results of consecutive repeats, in elements.
	DstRepStride int

	// SrcBlkStride and SrcRepStride are in 32-byte blocks, as in UnaryRepeatParams.
	SrcBlkStride int
	SrcRepStride int
}

// DefaultReduceParams reduces contiguous repeats into consecutive results.
func DefaultReduceParams() ReduceParams {
	return ReduceParams{DstRepStride: 1, SrcBlkStride: 1, SrcRepStride: arch.BlkNumPerVectorFractal}
}

type reduceFn func(acc, x float32) float32

// WholeReduceSum reduces the first mask elements of each repeat to one value: dst[r*DstRepStride].
func WholeReduceSum[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], mask, repeat int, p ReduceParams) {
	wholeReduce(core, "WholeReduceSum", dst, src, mask, repeat, p, add)
}

// WholeReduceMax is WholeReduceSum with max. Only the value is written, not its index.
func WholeReduceMax[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], mask, repeat int, p ReduceParams) {
	wholeReduce(core, "WholeReduceMax", dst, src, mask, repeat, p, maxF)
}

// WholeReduceMin is WholeReduceSum with min.
func WholeReduceMin[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], mask, repeat int, p ReduceParams) {
	wholeReduce(core, "WholeReduceMin", dst, src, mask, repeat, p, minF)
}

// BlockReduceSum reduces each 32-byte block of the first mask elements of each repeat:
// block b of repeat r is written to dst[r*DstRepStride + b].
func BlockReduceSum[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], mask, repeat int, p ReduceParams) {
	blockReduce(core, "BlockReduceSum", dst, src, mask, repeat, p, add)
}

// BlockReduceMax is BlockReduceSum with max.
func BlockReduceMax[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], mask, repeat int, p ReduceParams) {
	blockReduce(core, "BlockReduceMax", dst, src, mask, repeat, p, maxF)
}

// BlockReduceMin is BlockReduceSum with min.
func BlockReduceMin[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], mask, repeat int, p ReduceParams) {
	blockReduce(core, "BlockReduceMin", dst, src, mask, repeat, p, minF)
}

func checkReduce[T dtypes.Float](name string, dst, src arch.Tensor[T], mask, repeat int, p ReduceParams, osrc operand) bool {
	checkLevel(name, "dst", dst, arch.LevelUB)
	checkLevel(name, "src", src, arch.LevelUB)
	checkRange(name, "DstRepStride", p.DstRepStride, 0, arch.MaxRepeatStride*elementsPerBlk[T]())
	if !checkMasked(name, mask, repeat, sizeOf[T](), osrc) {
		return false
	}
	checkExtent(name, "src", src, osrc.extent(mask, repeat))
	return true
}

func wholeReduce[T dtypes.Float](core *arch.Core, name string, dst, src arch.Tensor[T], mask, repeat int, p ReduceParams, fn reduceFn) {
	osrc := operand{elementsPerBlk[T](), p.SrcBlkStride, p.SrcRepStride}
	if !checkReduce(name, dst, src, mask, repeat, p, osrc) {
		return
	}
	checkExtent(name, "dst", dst, (repeat-1)*p.DstRepStride+1)
	core.Issue(arch.PipeV, func() {
		d, s := dst.Data(), src.Data()
		for r := range repeat {
			acc := dtypes.ToFloat32(s[osrc.offset(r, 0)])
			for e := 1; e < mask; e++ {
				acc = fn(acc, dtypes.ToFloat32(s[osrc.offset(r, e)]))
			}
			d[r*p.DstRepStride] = dtypes.FromFloat32[T](acc, dtypes.RoundRint)
		}
	})
}

func blockReduce[T dtypes.Float](core *arch.Core, name string, dst, src arch.Tensor[T], mask, repeat int, p ReduceParams, fn reduceFn) {
	epb := elementsPerBlk[T]()
	osrc := operand{epb, p.SrcBlkStride, p.SrcRepStride}
	if !checkReduce(name, dst, src, mask, repeat, p, osrc) {
		return
	}
	blocks := (mask + epb - 1) / epb
	checkExtent(name, "dst", dst, (repeat-1)*p.DstRepStride+blocks)
	core.Issue(arch.PipeV, func() {
		d, s := dst.Data(), src.Data()
		for r := range repeat {
			for b := range blocks {
				acc := dtypes.ToFloat32(s[osrc.offset(r, b*epb)])
				for e := b*epb + 1; e < min(mask, (b+1)*epb); e++ {
					acc = fn(acc, dtypes.ToFloat32(s[osrc.offset(r, e)]))
				}
				d[r*p.DstRepStride+b] = dtypes.FromFloat32[T](acc, dtypes.RoundRint)
			}
		}
	})
}
