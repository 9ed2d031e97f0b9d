// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemv

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/gemm/tile"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Event ids of a BlockGemv, per slot i: the A and x slots of the input ping-pong and the y slot of the output.
func aEvent(i int) int      { return i }
func xEvent(i int) int      { return 2 + i }
func yEvent(i int) int      { return i }
func yLocalEvent(i int) int { return 4 + i }

// BlockGemv computes z = alpha·A·x + beta·y for one tile of at most UBTileShape.M rows on a vector core.
type BlockGemv[T dtypes.Float] struct {
	core    *arch.Core
	cfg     Config
	stages  int
	rounded coord.GemvCoord

	ubA, ubX, ubY []arch.Tensor[T]
	ubW           []arch.Tensor[float32]

	inIdx, outIdx int
	closed        bool
}

// NewBlockGemv partitions the UB of the vector core and sets the slot-free flags. It must be closed with
// Close before the core is.
func NewBlockGemv[T dtypes.Float](core *arch.Core, cfg Config) (b *BlockGemv[T], err error) {
	cfg = cfg.WithDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "NewBlockGemv")
	}
	err = exceptions.TryCatch[error](func() {
		checkType[T](cfg)
		if core.Kind() != arch.CoreKindVector {
			panicf("BlockGemv requires a vector core, got a %s core", core.Kind())
		}
		b = buildBlockGemv[T](core, cfg)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "NewBlockGemv")
	}
	return b, nil
}

func buildBlockGemv[T dtypes.Float](core *arch.Core, cfg Config) *BlockGemv[T] {
	b := &BlockGemv[T]{core: core, cfg: cfg, stages: cfg.Policy.Stages(), rounded: cfg.Rounded()}
	ub := core.Resource().UB
	offA, offX := 0, ABufSize
	offY := offX + XBufSize
	offW := offY + YBufSize
	for i := range b.stages {
		b.ubA = append(b.ubA, arch.GetBufferByByte[T](ub, offA+i*ABufSize/b.stages).Limit(b.rounded.M*b.rounded.N))
		b.ubX = append(b.ubX, arch.GetBufferByByte[T](ub, offX+i*XBufSize/b.stages).Limit(b.rounded.N))
		b.ubY = append(b.ubY, arch.GetBufferByByte[T](ub, offY+i*YBufSize/b.stages).Limit(b.rounded.M))
		b.ubW = append(b.ubW, arch.GetBufferByByte[float32](ub, offW+i*WorkspaceBufSize/b.stages).
			Limit(WorkspaceBufSize/b.stages/4))
	}
	klog.V(2).Infof("vector core %d: %s", core.VectorIdx(), cfg)
	for i := range b.stages {
		core.SetFlag(arch.VToMTE2, aEvent(i))
		core.SetFlag(arch.VToMTE2, xEvent(i))
		core.SetFlag(arch.MTE3ToMTE2, yEvent(i))
	}
	return b
}

// Config returns the configuration of the block, with its defaults.
func (b *BlockGemv[T]) Config() Config { return b.cfg }

// Run issues z = alpha·A·x + beta·y for the shape.M rows of A starting at gmA, with shape.M <= UBTileShape.M.
// layoutA is the layout of the whole matrix: it gives the stride between rows (or columns). x has shape.N
// elements, y and z shape.M. If gmY is nil, y is taken as zero.
func (b *BlockGemv[T]) Run(gmA arch.Tensor[T], layoutA layout.Matrix, gmX, gmY, gmZ arch.Tensor[T],
	shape coord.GemvCoord, alpha, beta float32) {
	if b.closed {
		panicf("BlockGemv.Run after Close")
	}
	if shape.M <= 0 {
		return
	}
	if shape.M > b.cfg.UBTileShape.M || shape.N < 0 {
		panicf("BlockGemv.Run: shape %s doesn't fit the UB tile %s", shape, b.cfg.UBTileShape)
	}
	if layoutA.Kind() != b.cfg.A.Layout {
		panicf("BlockGemv.Run: A layout %s, configured for %s", layoutA, b.cfg.A.Layout)
	}
	core := b.core
	out := b.outIdx
	y := b.ubY[out]

	core.WaitFlag(arch.MTE3ToMTE2, yEvent(out))
	if gmY.IsNil() || beta == 0 {
		// Zero the slot instead of loading y, once the store of its previous contents is done.
		core.SetFlag(arch.MTE2ToV, yLocalEvent(out))
		core.WaitFlag(arch.MTE2ToV, yLocalEvent(out))
		var zero T
		isa.Duplicate(core, y, zero, shape.M)
	} else {
		tile.CopyVectorGmToUb(core, y, gmY, shape.M)
		core.SetFlag(arch.MTE2ToV, yLocalEvent(out))
		core.WaitFlag(arch.MTE2ToV, yLocalEvent(out))
		TileVmuls(core, y, y, dtypes.FromFloat32[T](beta, dtypes.RoundRint), shape.M)
	}
	core.SetFlag(arch.VToMTE2, yLocalEvent(out))
	core.WaitFlag(arch.VToMTE2, yLocalEvent(out))

	chunkN := b.rounded.N
	loops := coord.CeilDiv(shape.N, chunkN)
	chunk := func(j int) UbTile {
		return UbTile{
			Kind:    b.cfg.A.Layout,
			Shape:   coord.GemvCoord{M: shape.M, N: min(chunkN, shape.N-j*chunkN)},
			Rounded: b.rounded,
		}
	}
	load := func(j, slot int) {
		u := chunk(j)
		core.WaitFlag(arch.VToMTE2, xEvent(slot))
		tile.CopyVectorGmToUb(core, b.ubX[slot], gmX.Offset(j*chunkN), u.Shape.N)
		core.SetFlag(arch.MTE2ToV, xEvent(slot))
		core.WaitFlag(arch.VToMTE2, aEvent(slot))
		MatrixCopyGmToUb(core, b.ubA[slot], gmA.Offset(layoutA.Offset(coord.MakeMatrixCoord(0, j*chunkN))), layoutA, u)
		core.SetFlag(arch.MTE2ToV, aEvent(slot))
	}
	if loops > 0 {
		load(0, b.inIdx)
	}
	alphaT := dtypes.FromFloat32[T](alpha, dtypes.RoundRint)
	for j := range loops {
		slot := b.inIdx
		next := (slot + 1) % b.stages
		if j+1 < loops {
			load(j+1, next)
		}
		u := chunk(j)
		core.WaitFlag(arch.MTE2ToV, xEvent(slot))
		TileVmuls(core, b.ubX[slot], b.ubX[slot], alphaT, u.Shape.N)
		core.PipeBarrier(arch.PipeV)
		core.WaitFlag(arch.MTE2ToV, aEvent(slot))
		TileVmad(core, y, b.ubX[slot], b.ubA[slot], b.ubW[slot], u)
		core.SetFlag(arch.VToMTE2, aEvent(slot))
		core.SetFlag(arch.VToMTE2, xEvent(slot))
		b.inIdx = next
	}

	core.SetFlag(arch.VToMTE3, yEvent(out))
	core.WaitFlag(arch.VToMTE3, yEvent(out))
	tile.CopyVectorUbToGm(core, gmZ, y, shape.M)
	core.SetFlag(arch.MTE3ToMTE2, yEvent(out))
	b.outIdx = (out + 1) % b.stages
}

// Close waits for the slot-free flags.
func (b *BlockGemv[T]) Close() {
	if b.closed {
		return
	}
	b.closed = true
	for i := range b.stages {
		b.core.WaitFlag(arch.VToMTE2, aEvent(i))
		b.core.WaitFlag(arch.VToMTE2, xEvent(i))
		b.core.WaitFlag(arch.MTE3ToMTE2, yEvent(i))
	}
}
