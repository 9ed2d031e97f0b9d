// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arch

import "fmt"

// Pipe is an in-order hardware execution unit of a core.
type Pipe int

//go:generate go tool enumer -type=Pipe -trimprefix=Pipe -output=gen_pipe_enumer.go pipe.go

const (
	// PipeS is the scalar unit: it is the issuing goroutine itself.
	PipeS Pipe = iota

	// PipeV is the vector unit.
	PipeV

	// PipeM is the cube (matrix multiply-accumulate) unit.
	PipeM

	// PipeMTE1 moves data from L1 to L0A/L0B.
	PipeMTE1

	// PipeMTE2 moves data from GM to L1 or UB.
	PipeMTE2

	// PipeMTE3 moves data from UB to GM.
	PipeMTE3

	// PipeFIX is the fixpipe: L0C to GM, with optional quantization.
	PipeFIX

	// PipeAll is only used with PipeBarrier, to wait for every pipe to drain.
	PipeAll
)

// NumPipes is the number of real pipes (PipeAll excluded).
const NumPipes = int(PipeAll)

// HardEvent names a synchronization between a producer pipe (Src) and a consumer pipe (Dst).
type HardEvent struct {
	Src, Dst Pipe
}

// Events used by the kernels. The name reads as "Src to Dst".
var (
	MTE2ToMTE1 = HardEvent{PipeMTE2, PipeMTE1}
	MTE1ToMTE2 = HardEvent{PipeMTE1, PipeMTE2}
	MTE1ToM    = HardEvent{PipeMTE1, PipeM}
	MToMTE1    = HardEvent{PipeM, PipeMTE1}
	MToFix     = HardEvent{PipeM, PipeFIX}
	FixToM     = HardEvent{PipeFIX, PipeM}
	MTE2ToV    = HardEvent{PipeMTE2, PipeV}
	VToMTE2    = HardEvent{PipeV, PipeMTE2}
	VToMTE3    = HardEvent{PipeV, PipeMTE3}
	MTE3ToV    = HardEvent{PipeMTE3, PipeV}
	MTE3ToMTE2 = HardEvent{PipeMTE3, PipeMTE2}
	MTE2ToMTE3 = HardEvent{PipeMTE2, PipeMTE3}
	FixToMTE2  = HardEvent{PipeFIX, PipeMTE2}
	MTE2ToFix  = HardEvent{PipeMTE2, PipeFIX}
	MTE2ToM    = HardEvent{PipeMTE2, PipeM}
	VToS       = HardEvent{PipeV, PipeS}
	SToV       = HardEvent{PipeS, PipeV}
	MTE2ToS    = HardEvent{PipeMTE2, PipeS}
	SToMTE2    = HardEvent{PipeS, PipeMTE2}
	MTE3ToS    = HardEvent{PipeMTE3, PipeS}
	SToMTE3    = HardEvent{PipeS, PipeMTE3}
)

// String implements fmt.Stringer, using the hardware naming, e.g. "MTE2_MTE1".
func (e HardEvent) String() string {
	return fmt.Sprintf("%s_%s", e.Src, e.Dst)
}

// IsValid returns whether the event connects two distinct real pipes.
func (e HardEvent) IsValid() bool {
	return e.Src >= 0 && e.Src < PipeAll && e.Dst >= 0 && e.Dst < PipeAll && e.Src != e.Dst
}
