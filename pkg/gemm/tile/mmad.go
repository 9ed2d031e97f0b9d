// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/isa"
)

// SmallTileBarrierThreshold is the number of 16x16 output fractals under which TileMmad drains the cube
// pipe after the multiply: small products finish faster than the flags that would order them.
const SmallTileBarrierThreshold = 10

// TileMmad multiplies the L0A tile (m x k, zZ) by the L0B tile (k x n, nZ) into the L0C tile (m x n, zN).
// If initC is set the accumulator is overwritten, otherwise the product is accumulated into it.
func TileMmad[C, AB dtypes.Supported](core *arch.Core, l0C arch.Tensor[C], l0A, l0B arch.Tensor[AB], m, n, k int, initC bool) {
	isa.Mmad(core, l0C, l0A, l0B, isa.MmadParams{M: m, N: n, K: k, CmatrixInitVal: initC})
	smallTileBarrier(core, m, n)
}

// TileMmadWithBias is TileMmad initializing the accumulator with the bias vector held in the bias table.
func TileMmadWithBias[C, AB dtypes.Supported](core *arch.Core, l0C arch.Tensor[C], l0A, l0B arch.Tensor[AB],
	bias arch.Tensor[C], m, n, k int) {
	isa.MmadWithBias(core, l0C, l0A, l0B, bias, isa.MmadParams{M: m, N: n, K: k})
	smallTileBarrier(core, m, n)
}

func smallTileBarrier(core *arch.Core, m, n int) {
	if (m/arch.C0NumPerFractal)*(n/arch.C0NumPerFractal) < SmallTileBarrierThreshold {
		core.PipeBarrier(arch.PipeM)
	}
}
