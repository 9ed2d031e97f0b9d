// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/isa"
)

// Activation applied by an element-wise epilogue.
type Activation int

//go:generate go tool enumer -type=Activation -trimprefix=Activation -output=gen_activation_enumer.go elemwise.go

const (
	ActivationIdentity Activation = iota
	ActivationGelu
	ActivationSwish
)

// Coefficients of the tanh approximation of GELU, written as x / (1 + exp(-geluScale*(x + geluCubic*x³))).
const (
	geluCubic = 0.044715
	geluScale = 1.595769121
)

// ElemWiseAdd issues dst = src0 + src1 over n elements.
func ElemWiseAdd[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], n int) {
	isa.Add(core, dst, src0, src1, n)
}

// ElemWiseMul issues dst = src0 * src1 over n elements.
func ElemWiseMul[T dtypes.Float](core *arch.Core, dst, src0, src1 arch.Tensor[T], n int) {
	isa.Mul(core, dst, src0, src1, n)
}

// ElemWiseMuls issues dst = src * scalar over n elements.
func ElemWiseMuls[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], scalar T, n int) {
	isa.Muls(core, dst, src, scalar, n)
}

// Cast converts n elements rounding to nearest even.
func Cast[D, S dtypes.Supported](core *arch.Core, dst arch.Tensor[D], src arch.Tensor[S], n int) {
	isa.Cast(core, dst, src, dtypes.RoundRint, n)
}

// Gelu issues dst = gelu(src) over n elements. dst and src must not overlap.
func Gelu[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], n int) {
	isa.Mul(core, dst, src, src, n)
	core.PipeBarrier(arch.PipeV)
	isa.Mul(core, dst, dst, src, n)
	core.PipeBarrier(arch.PipeV)
	// dst = x³ + x/c, so that -scale*c*dst is the exponent.
	isa.Axpy(core, dst, src, dtypes.FromFloat32[T](1/geluCubic, dtypes.RoundRint), n)
	core.PipeBarrier(arch.PipeV)
	isa.Muls(core, dst, dst, dtypes.FromFloat32[T](-geluScale*geluCubic, dtypes.RoundRint), n)
	core.PipeBarrier(arch.PipeV)
	sigmoidDenominatorDiv(core, dst, src, n)
}

// Swish issues dst = src * sigmoid(src) over n elements. dst and src must not overlap.
func Swish[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], n int) {
	isa.Muls(core, dst, src, dtypes.FromFloat32[T](-1, dtypes.RoundNone), n)
	core.PipeBarrier(arch.PipeV)
	sigmoidDenominatorDiv(core, dst, src, n)
}

// sigmoidDenominatorDiv turns dst = e into dst = src / (1 + exp(e)).
func sigmoidDenominatorDiv[T dtypes.Float](core *arch.Core, dst, src arch.Tensor[T], n int) {
	isa.Exp(core, dst, dst, n)
	core.PipeBarrier(arch.PipeV)
	isa.Adds(core, dst, dst, dtypes.FromFloat32[T](1, dtypes.RoundNone), n)
	core.PipeBarrier(arch.PipeV)
	isa.Div(core, dst, src, dst, n)
}

// Activate issues dst = act(src) over n elements. Only ActivationIdentity accepts dst == src.
func Activate[T dtypes.Float](core *arch.Core, act Activation, dst, src arch.Tensor[T], n int) {
	switch act {
	case ActivationIdentity:
		isa.Muls(core, dst, src, dtypes.FromFloat32[T](1, dtypes.RoundNone), n)
	case ActivationGelu:
		Gelu(core, dst, src, n)
	case ActivationSwish:
		Swish(core, dst, src, n)
	default:
		panicf("Activate: unknown activation %s", act)
	}
}
