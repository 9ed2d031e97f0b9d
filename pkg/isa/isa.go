// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package isa implements the instructions of the accelerator: data movement between memory levels,
// the cube multiply-accumulate, the fixpipe and the vector unit.
//
// Each instruction takes the core that issues it and a descriptor with the hardware fields. The descriptor
// is validated when the instruction is issued: a field beyond its hardware limit (see the limits in package arch)
// is a hardware fault, raised as a panic on the issuing goroutine. The data movement itself runs later, on the
// pipe of the instruction.
package isa

import (
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
)

// sizeOf returns the size in bytes of the element type.
func sizeOf[T dtypes.Supported]() int {
	var t T
	return int(unsafe.Sizeof(t))
}

// elementsPerBlk is the number of elements in a 32-byte block.
func elementsPerBlk[T dtypes.Supported]() int {
	return arch.BytePerBlk / sizeOf[T]()
}

// elementsPerC0 is the number of elements in a fractal row.
func elementsPerC0[T dtypes.Supported]() int {
	return arch.BytePerC0 / sizeOf[T]()
}

// copyPipe returns the pipe moving data from src to dst, or panics if there is no data path between them.
func copyPipe(instruction string, src, dst arch.Position) arch.Pipe {
	switch from, to := src.Level(), dst.Level(); {
	case from == arch.LevelGM && (to == arch.LevelL1 || to == arch.LevelUB):
		return arch.PipeMTE2
	case from == arch.LevelUB && to == arch.LevelGM:
		return arch.PipeMTE3
	case from == arch.LevelUB && to == arch.LevelUB:
		return arch.PipeV
	case from == arch.LevelL1 && (to == arch.LevelL0A || to == arch.LevelL0B || to == arch.LevelBT):
		return arch.PipeMTE1
	case from == arch.LevelL1 && to == arch.LevelFB:
		return arch.PipeFIX
	}
	exceptions.Panicf("%s: no data path from %s to %s", instruction, src, dst)
	panic(nil)
}

// checkRange panics if v is not in [lo, hi].
func checkRange(instruction, field string, v, lo, hi int) {
	if v < lo || v > hi {
		exceptions.Panicf("%s: %s=%d out of the hardware range [%d, %d]", instruction, field, v, lo, hi)
	}
}

// checkStride panics if a stride field is negative or not below arch.StrideLimit.
func checkStride(instruction, field string, v int) {
	if v < 0 || v >= arch.StrideLimit {
		exceptions.Panicf("%s: %s=%d exceeds the stride limit %d", instruction, field, v, arch.StrideLimit)
	}
}

// checkExtent panics if the instruction would address n elements of t or more than it holds.
func checkExtent[T dtypes.Supported](instruction, operand string, t arch.Tensor[T], n int) {
	if n > t.Len() {
		exceptions.Panicf("%s: %s addresses %d elements, but %s holds only %d", instruction, operand, n, t, t.Len())
	}
}

// checkLevel panics if t is not in the given level.
func checkLevel[T dtypes.Supported](instruction, operand string, t arch.Tensor[T], levels ...arch.Level) {
	for _, l := range levels {
		if t.Level() == l {
			return
		}
	}
	exceptions.Panicf("%s: %s must be in %v, got %s", instruction, operand, levels, t.Position())
}
