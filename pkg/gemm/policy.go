// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import "fmt"

// DispatchPolicy selects the block-level algorithm of a GEMM. The set of policies is closed: only the
// types in this package implement it.
type DispatchPolicy interface {
	fmt.Stringer

	// Stages is the number of L1/L0 buffer slots used to overlap loads and computation.
	Stages() int

	isDispatchPolicy()
}

// MmadAtlasA2Pingpong is the double-buffered BlockMmad: one output tile at a time, K tiles ping-pong
// between two L1 and two L0 slots.
type MmadAtlasA2Pingpong struct {
	// EnableUnitFlag lets the fixpipe start on completed fractals before the Mmad ends. It must be false
	// for int8 operands. It is accepted for compatibility and doesn't change the results.
	EnableUnitFlag bool
}

func (MmadAtlasA2Pingpong) Stages() int       { return 2 }
func (MmadAtlasA2Pingpong) isDispatchPolicy() {}
func (p MmadAtlasA2Pingpong) String() string {
	return fmt.Sprintf("MmadAtlasA2Pingpong{unitFlag=%v}", p.EnableUnitFlag)
}

// MmadAtlasA2Preload is the BlockGemm that preloads the first K tile of the next output tile while the
// current one finishes, with optional shuffled K order.
type MmadAtlasA2Preload struct {
	EnableUnitFlag bool

	// EnableShuffleK starts the K loop of each block at a different K tile (block index modulo the number
	// of K tiles), so cores running concurrently don't read the same GM region.
	EnableShuffleK bool
}

func (MmadAtlasA2Preload) Stages() int       { return 2 }
func (MmadAtlasA2Preload) isDispatchPolicy() {}
func (p MmadAtlasA2Preload) String() string {
	return fmt.Sprintf("MmadAtlasA2Preload{unitFlag=%v, shuffleK=%v}", p.EnableUnitFlag, p.EnableShuffleK)
}

// GemmAtlasA2 is MmadAtlasA2Preload plus the ABBA load order: consecutive K tiles alternate the order in
// which A and B are loaded, so the operand loaded last of one iteration is the first of the next one.
type GemmAtlasA2 struct {
	EnableUnitFlag bool
	EnableShuffleK bool
	EnableABBA     bool
}

func (GemmAtlasA2) Stages() int       { return 2 }
func (GemmAtlasA2) isDispatchPolicy() {}
func (p GemmAtlasA2) String() string {
	return fmt.Sprintf("GemmAtlasA2{unitFlag=%v, shuffleK=%v, abba=%v}", p.EnableUnitFlag, p.EnableShuffleK, p.EnableABBA)
}

// GemvAtlasA2 is the matrix-vector product on the vector unit.
type GemvAtlasA2 struct{}

func (GemvAtlasA2) Stages() int       { return 2 }
func (GemvAtlasA2) isDispatchPolicy() {}
func (GemvAtlasA2) String() string    { return "GemvAtlasA2" }
