// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isa

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
)

// MmadParams are the extents of one cube multiply-accumulate: C[M, N] (+)= A[M, K] x B[K, N].
type MmadParams struct {
	M, N, K int

	// CmatrixInitVal overwrites the accumulator instead of accumulating into it.
	CmatrixInitVal bool
}

// Mmad issues the cube multiply-accumulate.
//
// The operands are dense fractal tiles: A in L0A in the zZ format with K padded to C0, B in L0B in the nZ
// format with N padded to 16, and C in L0C in the zN format with fractals of 16x16 and M padded to 16.
// Only the M x N x K elements are read: the padding of the fractals is never accumulated.
//
// Accumulation is done in the type of C: int32 for int8 operands, float32 for float operands.
func Mmad[C, AB dtypes.Supported](core *arch.Core, dst arch.Tensor[C], a, b arch.Tensor[AB], p MmadParams) {
	mmad(core, dst, a, b, arch.Tensor[C]{}, p)
}

// MmadWithBias is Mmad initializing the accumulator with a bias vector of N elements held in the
// bias table (BT): C[i, j] = bias[j] + sum_k A[i, k] * B[k, j]. The accumulator is always overwritten.
func MmadWithBias[C, AB dtypes.Supported](core *arch.Core, dst arch.Tensor[C], a, b arch.Tensor[AB], bias arch.Tensor[C], p MmadParams) {
	checkLevel("MmadWithBias", "bias", bias, arch.LevelBT)
	checkExtent("MmadWithBias", "bias", bias, p.N)
	p.CmatrixInitVal = true
	mmad(core, dst, a, b, bias, p)
}

func mmad[C, AB dtypes.Supported](core *arch.Core, dst arch.Tensor[C], a, b arch.Tensor[AB], bias arch.Tensor[C], p MmadParams) {
	const name = "Mmad"
	checkLevel(name, "a", a, arch.LevelL0A)
	checkLevel(name, "b", b, arch.LevelL0B)
	checkLevel(name, "dst", dst, arch.LevelL0C)
	checkRange(name, "M", p.M, 1, arch.MaxBlockCount)
	checkRange(name, "N", p.N, 1, arch.MaxBlockCount)
	checkRange(name, "K", p.K, 1, arch.MaxBlockCount)
	accumulate := accumulatorFor[C, AB](name)

	const f = arch.C0NumPerFractal
	c0 := elementsPerC0[AB]()
	frac := f * c0
	mRound, nRound, kRound := coord.RoundUp(p.M, f), coord.RoundUp(p.N, f), coord.RoundUp(p.K, c0)
	checkExtent(name, "a", a, mRound*kRound)
	checkExtent(name, "b", b, kRound*nRound)
	checkExtent(name, "dst", dst, mRound*nRound)

	core.Issue(arch.PipeM, func() {
		av, bv, cv := a.Data(), b.Data(), dst.Data()
		row := make([]AB, p.K)
		col := make([]AB, p.K)
		for i := range p.M {
			for kk := range p.K {
				row[kk] = av[(i/f)*(kRound*f)+(kk/c0)*frac+(i%f)*c0+kk%c0]
			}
			for j := range p.N {
				for kk := range p.K {
					col[kk] = bv[(kk/c0)*(nRound*c0)+(j/f)*frac+(j%f)*c0+kk%c0]
				}
				idx := (j/f)*(mRound*f) + (i/f)*f*f + (i%f)*f + j%f
				var init C
				switch {
				case !bias.IsNil():
					init = bias.Data()[j]
				case !p.CmatrixInitVal:
					init = cv[idx]
				}
				cv[idx] = accumulate(init, row, col)
			}
		}
	})
}

// accumulatorFor returns the dot-product accumulation of the cube for the (C, AB) types, or panics if
// the cube doesn't support the combination.
func accumulatorFor[C, AB dtypes.Supported](name string) func(init C, row, col []AB) C {
	var c C
	var ab AB
	switch any(c).(type) {
	case int32:
		if _, ok := any(ab).(int8); ok {
			return func(init C, row, col []AB) C {
				acc := any(init).(int32)
				for kk := range row {
					acc += int32(any(row[kk]).(int8)) * int32(any(col[kk]).(int8))
				}
				return any(acc).(C)
			}
		}
	case float32:
		if dtypes.FromGenericsType[AB]().IsFloat() {
			return func(init C, row, col []AB) C {
				acc := any(init).(float32)
				for kk := range row {
					acc += dtypes.ToFloat32(row[kk]) * dtypes.ToFloat32(col[kk])
				}
				return any(acc).(C)
			}
		}
	}
	exceptions.Panicf("%s: the cube has no %s accumulator for %s operands",
		name, dtypes.FromGenericsType[C](), dtypes.FromGenericsType[AB]())
	return nil
}
