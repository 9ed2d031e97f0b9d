// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bfloat16

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromFloat32(t *testing.T) {
	for bits, want := range map[uint32]uint16{
		0x3F800000: 0x3F80, // 1
		0x3F808000: 0x3F80, // tie, even below
		0x3F818000: 0x3F82, // tie, even above
		0x3F808001: 0x3F81,
		0xBF80FFFF: 0xBF81,
		0x7F7FFFFF: 0x7F80, // max float32 overflows to +Inf
	} {
		assert.Equal(t, want, FromFloat32(math.Float32frombits(bits)).Bits(), "float32 bits %#08x", bits)
	}

	// A NaN whose payload is in the dropped bits stays a NaN.
	nan := math.Float32frombits(0x7F800001)
	assert.True(t, math.IsNaN(float64(FromFloat32(nan).Float32())))
}

func TestBits(t *testing.T) {
	assert.Equal(t, float32(-2), FromBits(0xC000).Float32())
	assert.Equal(t, uint16(0x3FC0), FromFloat32(1.5).Bits())
	assert.Equal(t, "1.5", FromBits(0x3FC0).String())
	assert.Equal(t, "-2", FromBits(0xC000).String())
}
