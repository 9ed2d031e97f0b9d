// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bfloat16 implements the bfloat16 storage type of the cube and vector units,
// in the manner of https://github.com/x448/float16 for float16.
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 is the upper half of an IEEE 754 float32: same sign and exponent, 7 bits of mantissa.
type BFloat16 uint16

func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16, rounding to the nearest value with ties to even.
// This is the rounding of the accelerator cast units (RINT), and also of the default (NONE) mode.
func FromFloat32(x float32) BFloat16 {
	bits := math.Float32bits(x)
	if x != x {
		// Keep NaNs quiet: truncation alone could turn a NaN with low mantissa bits into an infinity.
		return BFloat16(bits>>16 | 0x0040)
	}
	bias := uint32(0x7FFF) + (bits>>16)&1
	return BFloat16((bits + bias) >> 16)
}

// FromBits returns the BFloat16 encoded by bits.
func FromBits(bits uint16) BFloat16 { return BFloat16(bits) }

// Bits returns the encoding of f.
func (f BFloat16) Bits() uint16 { return uint16(f) }

// String implements fmt.Stringer with the shortest decimal that reads back as f.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}
