// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"math"
	"testing"

	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestMapOfNames(t *testing.T) {
	assert.Equal(t, Float16, MapOfNames["Float16"])
	assert.Equal(t, Float16, MapOfNames["float16"])
	assert.Equal(t, Float16, MapOfNames["f16"])
	assert.Equal(t, Float16, MapOfNames["half"])
	assert.Equal(t, BFloat16, MapOfNames["bf16"])
	assert.Equal(t, Int32, MapOfNames["s32"])
}

func TestFromAny(t *testing.T) {
	assert.Equal(t, Int32, FromAny(int32(7)))
	assert.Equal(t, Float32, FromAny(float32(13)))
	assert.Equal(t, BFloat16, FromAny(bfloat16.FromFloat32(1.0)))
	assert.Equal(t, Float16, FromAny(float16.Fromfloat32(3.0)))
	assert.Equal(t, InvalidDType, FromAny(int64(3)))
	assert.Equal(t, Int8, FromGenericsType[int8]())
}

func TestSize(t *testing.T) {
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 2, BFloat16.Size())
	assert.Equal(t, 1, Int8.Size())
	assert.Equal(t, 2*3*4, Int32.SizeForDimensions(2, 3))
	assert.Equal(t, 16, Float16.ElementsIn(32))
	assert.Equal(t, 32, Int8.ElementsIn(32))
	assert.Equal(t, "BFloat16", BFloat16.String())
	require.Panics(t, func() { _ = DType(99).Size() })
}

func TestConvert(t *testing.T) {
	t.Run("float16", func(t *testing.T) {
		// 2049 is not representable in float16: neighbors are 2048 and 2050.
		assert.Equal(t, float32(2048), Convert[float16.Float16](float32(2049), RoundRint).Float32())
		assert.Equal(t, float32(2050), Convert[float16.Float16](float32(2049), RoundCeil).Float32())
		assert.Equal(t, float32(2048), Convert[float16.Float16](float32(2049), RoundFloor).Float32())
		assert.Equal(t, float32(2050), Convert[float16.Float16](float32(2049), RoundRound).Float32())
		assert.Equal(t, float32(-2048), Convert[float16.Float16](float32(-2049), RoundTrunc).Float32())
		assert.Equal(t, float32(-2050), Convert[float16.Float16](float32(-2049), RoundFloor).Float32())
	})
	t.Run("bfloat16", func(t *testing.T) {
		// bfloat16 has 8 bits of precision: 257 falls between 256 and 258, ties to even gives 256.
		assert.Equal(t, float32(256), bfloat16.FromFloat32(257).Float32())
		assert.Equal(t, float32(260), bfloat16.FromFloat32(259).Float32())
		assert.Equal(t, float32(258), Convert[bfloat16.BFloat16](float32(257), RoundCeil).Float32())
		assert.True(t, math.IsNaN(float64(bfloat16.FromFloat32(float32(math.NaN())).Float32())))
	})
	t.Run("integers", func(t *testing.T) {
		assert.Equal(t, int8(127), Convert[int8](float32(1000), RoundRint))
		assert.Equal(t, int8(-128), Convert[int8](int32(-1000), RoundNone))
		assert.Equal(t, int32(2), Convert[int32](float32(2.5), RoundRint))
		assert.Equal(t, int32(3), Convert[int32](float32(2.5), RoundRound))
		assert.Equal(t, int32(-3), Convert[int32](float32(-2.5), RoundFloor))
		assert.Equal(t, int32(0), Convert[int32](float32(math.NaN()), RoundRint))
		assert.Equal(t, float32(-7), Convert[float32](int32(-7), RoundNone))
	})
	t.Run("slices", func(t *testing.T) {
		dst := make([]float16.Float16, 3)
		ConvertSlice(dst, []float32{1, 0.5, -3}, RoundRint)
		assert.Equal(t, float32(0.5), dst[1].Float32())
		require.Panics(t, func() { ConvertSlice(dst, []float32{1}, RoundRint) })
	})
}
