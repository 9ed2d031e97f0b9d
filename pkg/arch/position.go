// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arch

// Position is the memory-space tag of a tensor: which memory (and for what purpose) it lives in.
type Position int

//go:generate go tool enumer -type=Position -trimprefix=Position -output=gen_position_enumer.go position.go

const (
	PositionInvalid Position = iota

	// PositionGM is the global (device) memory.
	PositionGM

	// PositionA1 is the scratchpad (L1) staging of the A operand.
	PositionA1

	// PositionB1 is the scratchpad (L1) staging of the B operand.
	PositionB1

	// PositionC1 is the scratchpad (L1) staging of the bias or of quantization parameters.
	PositionC1

	// PositionA2 is the operand buffer of A (L0A).
	PositionA2

	// PositionB2 is the operand buffer of B (L0B).
	PositionB2

	// PositionC2 is the bias table feeding the multiply-accumulate unit (BT).
	PositionC2

	// PositionCO1 is the accumulator (L0C).
	PositionCO1

	// PositionCO2 is the accumulator staging area the fixpipe writes to before global memory.
	PositionCO2

	// PositionC2PIPE2GM is the fixpipe parameter buffer (FB), holding per-channel quantization scales.
	PositionC2PIPE2GM

	// PositionVECIN is a vector-buffer (UB) region used as input of vector operations.
	PositionVECIN

	// PositionVECOUT is a vector-buffer (UB) region holding results to be copied out.
	PositionVECOUT

	// PositionVECCALC is a vector-buffer (UB) region used for temporaries.
	PositionVECCALC
)

// Level is a physical memory of the architecture. Several positions share the same level.
type Level int

//go:generate go tool enumer -type=Level -trimprefix=Level -output=gen_level_enumer.go position.go

const (
	LevelInvalid Level = iota
	LevelGM
	LevelL1
	LevelL0A
	LevelL0B
	LevelL0C
	LevelUB
	LevelBT
	LevelFB
)

// Level returns the physical memory of the position.
func (p Position) Level() Level {
	switch p {
	case PositionGM, PositionCO2:
		return LevelGM
	case PositionA1, PositionB1, PositionC1:
		return LevelL1
	case PositionA2:
		return LevelL0A
	case PositionB2:
		return LevelL0B
	case PositionC2:
		return LevelBT
	case PositionCO1:
		return LevelL0C
	case PositionC2PIPE2GM:
		return LevelFB
	case PositionVECIN, PositionVECOUT, PositionVECCALC:
		return LevelUB
	default:
		return LevelInvalid
	}
}

// DefaultPosition returns the position given to a buffer of the level when no specific purpose is given.
func (l Level) DefaultPosition() Position {
	switch l {
	case LevelGM:
		return PositionGM
	case LevelL1:
		return PositionA1
	case LevelL0A:
		return PositionA2
	case LevelL0B:
		return PositionB2
	case LevelL0C:
		return PositionCO1
	case LevelUB:
		return PositionVECCALC
	case LevelBT:
		return PositionC2
	case LevelFB:
		return PositionC2PIPE2GM
	default:
		return PositionInvalid
	}
}
