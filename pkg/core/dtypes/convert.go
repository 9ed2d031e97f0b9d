// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"math"

	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// RoundMode selects how a cast unit rounds when the destination cannot represent the source value.
type RoundMode int

//go:generate go tool enumer -type=RoundMode -trimprefix=Round -output=gen_roundmode_enumer.go convert.go

const (
	// RoundNone uses the default of the cast unit: round-to-nearest-even for narrowing float casts,
	// and exact for widening casts.
	RoundNone RoundMode = iota

	// RoundRint rounds to the nearest value, ties to even.
	RoundRint

	// RoundFloor rounds toward negative infinity.
	RoundFloor

	// RoundCeil rounds toward positive infinity.
	RoundCeil

	// RoundRound rounds to the nearest value, ties away from zero.
	RoundRound

	// RoundTrunc rounds toward zero.
	RoundTrunc
)

// ToFloat32 converts any supported element to float32, which is exact for every type except large int32 values.
func ToFloat32[T Supported](v T) float32 {
	switch x := any(v).(type) {
	case float32:
		return x
	case float16.Float16:
		return x.Float32()
	case bfloat16.BFloat16:
		return x.Float32()
	case int32:
		return float32(x)
	case int16:
		return float32(x)
	case int8:
		return float32(x)
	case uint8:
		return float32(x)
	}
	panicf("unsupported type %T in ToFloat32", v)
	panic(nil)
}

// FromFloat32 converts a float32 to the element type T using the given rounding mode.
// Integer destinations saturate at their range, and NaN converts to 0.
func FromFloat32[T Supported](v float32, mode RoundMode) T {
	var t T
	switch any(t).(type) {
	case float32:
		return any(v).(T)
	case float16.Float16:
		return any(toFloat16(v, mode)).(T)
	case bfloat16.BFloat16:
		return any(toBFloat16(v, mode)).(T)
	case int32:
		return any(int32(roundSaturate(v, mode, math.MinInt32, math.MaxInt32))).(T)
	case int16:
		return any(int16(roundSaturate(v, mode, math.MinInt16, math.MaxInt16))).(T)
	case int8:
		return any(int8(roundSaturate(v, mode, math.MinInt8, math.MaxInt8))).(T)
	case uint8:
		return any(uint8(roundSaturate(v, mode, 0, math.MaxUint8))).(T)
	}
	panicf("unsupported type %T in FromFloat32", t)
	panic(nil)
}

// Convert casts an element from type S to type D with the given rounding mode.
// Same-type and int-to-int conversions are exact (integers saturate).
func Convert[D, S Supported](v S, mode RoundMode) D {
	if d, ok := any(v).(D); ok {
		return d
	}
	if i, ok := any(v).(int32); ok {
		var d D
		switch any(d).(type) {
		case int16:
			return any(int16(min(max(i, math.MinInt16), math.MaxInt16))).(D)
		case int8:
			return any(int8(min(max(i, math.MinInt8), math.MaxInt8))).(D)
		}
	}
	return FromFloat32[D](ToFloat32(v), mode)
}

// ConvertSlice converts src into dst element by element. Both must have the same length.
func ConvertSlice[D, S Supported](dst []D, src []S, mode RoundMode) {
	if len(dst) != len(src) {
		panicf("ConvertSlice: len(dst)=%d != len(src)=%d", len(dst), len(src))
	}
	for i, v := range src {
		dst[i] = Convert[D](v, mode)
	}
}

func roundFloat64(v float64, mode RoundMode) float64 {
	switch mode {
	case RoundFloor:
		return math.Floor(v)
	case RoundCeil:
		return math.Ceil(v)
	case RoundRound:
		return math.Round(v)
	case RoundTrunc:
		return math.Trunc(v)
	default:
		return math.RoundToEven(v)
	}
}

func roundSaturate(v float32, mode RoundMode, lo, hi float64) float64 {
	if v != v {
		return 0
	}
	r := roundFloat64(float64(v), mode)
	return min(max(r, lo), hi)
}

func toFloat16(v float32, mode RoundMode) float16.Float16 {
	rne := float16.Fromfloat32(v)
	if mode == RoundNone || mode == RoundRint {
		return rne
	}
	bits := directed16(v, uint16(rne), func(b uint16) float32 { return float16.Frombits(b).Float32() }, mode)
	return float16.Frombits(bits)
}

func toBFloat16(v float32, mode RoundMode) bfloat16.BFloat16 {
	rne := bfloat16.FromFloat32(v)
	if mode == RoundNone || mode == RoundRint {
		return rne
	}
	bits := directed16(v, rne.Bits(), func(b uint16) float32 { return bfloat16.FromBits(b).Float32() }, mode)
	return bfloat16.FromBits(bits)
}

// nextUp16 returns the 16-bit float encoding that follows b toward +Inf.
func nextUp16(b uint16) uint16 {
	if b&0x8000 != 0 {
		if b == 0x8000 {
			return 0x0001
		}
		return b - 1
	}
	return b + 1
}

// nextDown16 returns the 16-bit float encoding that follows b toward -Inf.
func nextDown16(b uint16) uint16 {
	if b&0x8000 == 0 {
		if b == 0 {
			return 0x8001
		}
		return b - 1
	}
	return b + 1
}

// directed16 corrects a round-to-nearest-even 16-bit float result rne of v to the directed mode.
// It works for both float16 and bfloat16, since both order their encodings by sign-magnitude.
func directed16(v float32, rne uint16, toF32 func(uint16) float32, mode RoundMode) uint16 {
	f := toF32(rne)
	if f == v || v != v || math.IsInf(float64(f), 0) {
		return rne
	}
	lo, hi := rne, rne
	if f > v {
		lo = nextDown16(rne)
	} else {
		hi = nextUp16(rne)
	}
	switch mode {
	case RoundFloor:
		return lo
	case RoundCeil:
		return hi
	case RoundTrunc:
		if v > 0 {
			return lo
		}
		return hi
	case RoundRound:
		dLo := float64(v) - float64(toF32(lo))
		dHi := float64(toF32(hi)) - float64(v)
		if dLo == dHi {
			if v > 0 {
				return hi
			}
			return lo
		}
		return rne
	}
	return rne
}
