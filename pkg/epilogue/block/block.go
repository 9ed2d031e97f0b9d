// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package block implements the block epilogues: the vector-unit stage that turns the accumulators a cube
// core wrote to global memory into the final output of a kernel.
//
// Each epilogue runs on a vector core (one of the two sub-blocks of an AI core) and processes its share of
// an output block: element-wise activations and sums (BlockElemWise), D = alpha·C + beta·X (BlockGemm),
// per-token dequantization (BlockPerTokenDequant) and the flash-attention trio OnlineSoftmax, RescaleO and
// LSECombine.
//
// Like the block GEMMs, an epilogue partitions the UB of its core at construction, sets its slot-free flags,
// and must be closed (which waits them) before the core is.
package block

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/pkg/errors"
)

func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// DispatchPolicy selects a block epilogue. The set of policies is closed: only the types in this package
// implement it.
type DispatchPolicy interface {
	fmt.Stringer

	// Stages is the number of UB slots used to overlap the transfers of consecutive tiles with computation.
	Stages() int

	isEpiloguePolicy()
}

// EpilogueAtlasA2ElemWiseNoSource computes D = act(C).
type EpilogueAtlasA2ElemWiseNoSource struct{}

func (EpilogueAtlasA2ElemWiseNoSource) Stages() int       { return 2 }
func (EpilogueAtlasA2ElemWiseNoSource) isEpiloguePolicy() {}
func (EpilogueAtlasA2ElemWiseNoSource) String() string    { return "EpilogueAtlasA2ElemWiseNoSource" }

// EpilogueAtlasA2ElemWiseOneSource computes D = C + X.
type EpilogueAtlasA2ElemWiseOneSource struct{}

func (EpilogueAtlasA2ElemWiseOneSource) Stages() int       { return 2 }
func (EpilogueAtlasA2ElemWiseOneSource) isEpiloguePolicy() {}
func (EpilogueAtlasA2ElemWiseOneSource) String() string    { return "EpilogueAtlasA2ElemWiseOneSource" }

// EpilogueAtlasA2Gemm computes D = alpha·C + beta·X from a float32 C.
type EpilogueAtlasA2Gemm struct{}

func (EpilogueAtlasA2Gemm) Stages() int       { return 2 }
func (EpilogueAtlasA2Gemm) isEpiloguePolicy() {}
func (EpilogueAtlasA2Gemm) String() string    { return "EpilogueAtlasA2Gemm" }

// EpilogueAtlasA2PerTokenDequant computes D = C·scale[column]·perTokenScale[row] from an int32 C.
type EpilogueAtlasA2PerTokenDequant struct {
	// UBStages is the number of tiles in flight, 1 or 2.
	UBStages int
}

func (p EpilogueAtlasA2PerTokenDequant) Stages() int     { return p.UBStages }
func (EpilogueAtlasA2PerTokenDequant) isEpiloguePolicy() {}
func (p EpilogueAtlasA2PerTokenDequant) String() string {
	return fmt.Sprintf("EpilogueAtlasA2PerTokenDequant{ubStages=%d}", p.UBStages)
}

// EpilogueAtlasA2OnlineSoftmax is the softmax of flash attention: P = exp(S·scale - rowmax) for one tile of
// keys, with the running row maximum and sum kept in UB across tiles.
type EpilogueAtlasA2OnlineSoftmax struct{}

func (EpilogueAtlasA2OnlineSoftmax) Stages() int       { return 2 }
func (EpilogueAtlasA2OnlineSoftmax) isEpiloguePolicy() {}
func (EpilogueAtlasA2OnlineSoftmax) String() string    { return "EpilogueAtlasA2OnlineSoftmax" }

// EpilogueAtlasA2RescaleO accumulates the P·V tiles of flash attention into O. Each sub-block takes whole
// groups of rows (the query heads sharing a key/value head).
type EpilogueAtlasA2RescaleO struct{}

func (EpilogueAtlasA2RescaleO) Stages() int       { return 2 }
func (EpilogueAtlasA2RescaleO) isEpiloguePolicy() {}
func (EpilogueAtlasA2RescaleO) String() string    { return "EpilogueAtlasA2RescaleO" }

// EpilogueAtlasA2RescaleOSplitRow is EpilogueAtlasA2RescaleO with the rows of the block split evenly between
// the two sub-blocks, the first taking the odd row.
type EpilogueAtlasA2RescaleOSplitRow struct{}

func (EpilogueAtlasA2RescaleOSplitRow) Stages() int       { return 2 }
func (EpilogueAtlasA2RescaleOSplitRow) isEpiloguePolicy() {}
func (EpilogueAtlasA2RescaleOSplitRow) String() string    { return "EpilogueAtlasA2RescaleOSplitRow" }

// EpilogueAtlasA2LSECombine merges the partial outputs of split-KV attention using their log-sum-exp.
type EpilogueAtlasA2LSECombine struct{}

func (EpilogueAtlasA2LSECombine) Stages() int       { return 2 }
func (EpilogueAtlasA2LSECombine) isEpiloguePolicy() {}
func (EpilogueAtlasA2LSECombine) String() string    { return "EpilogueAtlasA2LSECombine" }

// checkVectorCore panics unless core is a vector core of the architecture tag.
func checkVectorCore(name string, core *arch.Core, tag arch.Tag) {
	if core.Kind() != arch.CoreKindVector {
		panicf("%s requires a vector core, got a %s core", name, core.Kind())
	}
	if core.Config().Tag.Name != tag.Name {
		panicf("%s configured for %s running on %s", name, tag.Name, core.Config().Tag.Name)
	}
}

// build runs the constructor fn converting panics to an error prefixed by name.
func build[E any](name string, fn func() E) (e E, err error) {
	err = exceptions.TryCatch[error](func() { e = fn() })
	if err != nil {
		return e, errors.WithMessage(err, name)
	}
	return e, nil
}

// ubAllocator hands out consecutive 32-byte aligned regions of UB.
type ubAllocator struct {
	offset int
}

func (a *ubAllocator) alloc(bytes int) int {
	offset := a.offset
	a.offset += coord.RoundUp(bytes, arch.BytePerBlk)
	return offset
}
