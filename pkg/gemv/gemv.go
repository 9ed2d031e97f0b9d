// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gemv implements the matrix-vector product z = alpha·A·x + beta·y on the vector unit.
//
// A vector core holds one UB tile of at most UBTileShape.M rows of A at a time. BlockGemv walks the N
// extent of that tile in chunks of UBTileShape.N columns, double buffering the chunks of A and x in UB,
// and accumulates the partial dot products (in float32) into its slice of y before writing it to z.
package gemv

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemm"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/pkg/errors"
)

func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// Sizes of the UB regions of a BlockGemv, each split in Stages slots.
const (
	ABufSize         = 128 * 1024
	XBufSize         = 16 * 1024
	YBufSize         = 16 * 1024
	WorkspaceBufSize = 32 * 1024
)

// accRepeat is the number of float32 accumulators per row of the row-major workspace: one vector repeat.
const accRepeat = arch.BytePerVectorFractal / 4

// Config of a GEMV. The vectors x, y and z have the element type of A.
type Config struct {
	// Arch is the target architecture. The zero value means arch.AtlasA2.
	Arch arch.Tag

	// Policy must be gemm.GemvAtlasA2.
	Policy gemm.DispatchPolicy

	// A is the matrix in global memory: RowMajor or ColumnMajor.
	A gemm.Type

	// UBTileShape is the (M, N) of the chunk of A held by one UB slot.
	UBTileShape coord.GemvCoord
}

// WithDefaults fills the architecture and the UB tile shape.
func (c Config) WithDefaults() Config {
	if c.Arch.Name == "" {
		c.Arch = arch.AtlasA2
	}
	if c.UBTileShape == (coord.GemvCoord{}) {
		c.UBTileShape = coord.GemvCoord{M: 32, N: 512}
		if c.A.Layout == layout.KindColumnMajor {
			c.UBTileShape = coord.GemvCoord{M: 256, N: 64}
		}
	}
	return c
}

// Rounded returns the UB tile shape rounded up to whole 32-byte blocks.
func (c Config) Rounded() coord.GemvCoord {
	epb := layout.ElementsPerBlk(c.A.DType)
	return coord.GemvCoord{M: coord.RoundUp(c.UBTileShape.M, epb), N: coord.RoundUp(c.UBTileShape.N, epb)}
}

// Validate checks the configuration and that one slot of each UB region holds its tile.
func (c Config) Validate() error {
	return exceptions.TryCatch[error](c.WithDefaults().validate)
}

func (c Config) validate() {
	if err := c.Arch.Validate(); err != nil {
		panic(err)
	}
	if _, ok := c.Policy.(gemm.GemvAtlasA2); !ok {
		panicf("gemv config: policy %v is not GemvAtlasA2", c.Policy)
	}
	if c.A.Position != arch.PositionGM {
		panicf("gemv config: A must be in global memory, got %s", c.A)
	}
	if !c.A.DType.IsFloat() {
		panicf("gemv config: the vector unit can't multiply %s elements", c.A.DType)
	}
	if c.A.Layout != layout.KindRowMajor && c.A.Layout != layout.KindColumnMajor {
		panicf("gemv config: A layout %s is not supported", c.A.Layout)
	}
	if c.UBTileShape.M <= 0 || c.UBTileShape.N <= 0 {
		panicf("gemv config: invalid UB tile shape %s", c.UBTileShape)
	}
	r := c.Rounded()
	size := c.A.DType.Size()
	stages := c.Policy.Stages()
	workspace := r.M * 4
	if c.A.Layout == layout.KindRowMajor {
		workspace = r.M * accRepeat * 4
		if ld := r.N / layout.ElementsPerBlk(c.A.DType); ld > arch.MaxRepeatStride {
			panicf("gemv config: rows of %d elements exceed the vector repeat stride limit", r.N)
		}
	} else if r.M/layout.ElementsPerBlk(c.A.DType) > arch.MaxRepeatStride {
		panicf("gemv config: columns of %d elements exceed the vector repeat stride limit", r.M)
	}
	for _, region := range []struct {
		name       string
		need, have int
	}{
		{"A", r.M * r.N * size, ABufSize / stages},
		{"x", r.N * size, XBufSize / stages},
		{"y", r.M * size, YBufSize / stages},
		{"workspace", workspace, WorkspaceBufSize / stages},
	} {
		if region.need > region.have {
			panicf("gemv config: UB tile %s needs %s for %s, but a slot has only %s", c.UBTileShape,
				humanize.IBytes(uint64(region.need)), region.name, humanize.IBytes(uint64(region.have)))
		}
	}
	if total := ABufSize + XBufSize + YBufSize + WorkspaceBufSize; total > c.Arch.UBSize {
		panicf("gemv config: BlockGemv needs %s of UB, %s has %s", humanize.IBytes(uint64(total)), c.Arch.Name,
			humanize.IBytes(uint64(c.Arch.UBSize)))
	}
}

func (c Config) String() string {
	return fmt.Sprintf("gemv.Config{A=%s, UB tile=%s}", c.A, c.UBTileShape)
}

func checkType[T dtypes.Float](cfg Config) {
	if got := dtypes.FromGenericsType[T](); got != cfg.A.DType {
		panicf("BlockGemv element type %s doesn't match the configuration %s", got, cfg)
	}
}
