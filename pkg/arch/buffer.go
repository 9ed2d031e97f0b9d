// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arch

import (
	"fmt"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
)

// LocalTensorBuffer is the arena of one on-chip memory level.
//
// Block-level components partition it statically at construction, carving typed tensors with
// GetBufferByByte.
type LocalTensorBuffer struct {
	level Level
	words []uint64 // Backing storage, 8-byte aligned.
	bytes []byte

	// highWater is the largest byte offset handed out, for reporting.
	highWater atomic.Int64
}

// PoisonByte fills arenas when Config.Poison is set: garbage left over by "previous kernels".
// 0xFF is a NaN for float16, bfloat16 and float32, and -1 for integers.
const PoisonByte = 0xFF

// NewLocalTensorBuffer allocates an arena of size bytes for the level.
func NewLocalTensorBuffer(level Level, size int, poison bool) *LocalTensorBuffer {
	if size < 0 || size%8 != 0 {
		panicf("invalid size %d for %s arena: it must be a non-negative multiple of 8", size, level)
	}
	b := &LocalTensorBuffer{level: level, words: make([]uint64, size/8)}
	if size > 0 {
		b.bytes = unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(b.words))), size)
	}
	if poison {
		for i := range b.bytes {
			b.bytes[i] = PoisonByte
		}
	}
	return b
}

// Level of the arena.
func (b *LocalTensorBuffer) Level() Level { return b.level }

// Size in bytes of the arena.
func (b *LocalTensorBuffer) Size() int { return len(b.bytes) }

// HighWater returns the largest byte offset requested from the arena.
func (b *LocalTensorBuffer) HighWater() int { return int(b.highWater.Load()) }

// GetBufferByByte returns a tensor of the arena starting at byteOffset and extending to the end of the arena,
// tagged with the default position of the arena level.
func GetBufferByByte[T dtypes.Supported](b *LocalTensorBuffer, byteOffset int) Tensor[T] {
	if b == nil {
		panicf("arena not available on this core")
	}
	return GetBufferByByteAt[T](b, b.level.DefaultPosition(), byteOffset)
}

// GetBufferByByteAt is like GetBufferByByte, but tags the tensor with the given position.
func GetBufferByByteAt[T dtypes.Supported](b *LocalTensorBuffer, pos Position, byteOffset int) Tensor[T] {
	if b == nil {
		panicf("arena for position %s not available on this core", pos)
	}
	if pos.Level() != b.level {
		panicf("position %s does not belong to the %s arena", pos, b.level)
	}
	if byteOffset < 0 || byteOffset > len(b.bytes) {
		panicf("byte offset %d out of the %s arena of %s", byteOffset, b.level, humanize.IBytes(uint64(len(b.bytes))))
	}
	if byteOffset%BytePerBlk != 0 {
		panicf("byte offset %d in the %s arena is not %d-byte aligned", byteOffset, b.level, BytePerBlk)
	}
	for {
		hw := b.highWater.Load()
		if int64(byteOffset) <= hw || b.highWater.CompareAndSwap(hw, int64(byteOffset)) {
			break
		}
	}
	return Tensor[T]{pos: pos, data: viewAs[T](b.bytes[byteOffset:])}
}

// Resource holds the arenas of one core. Cube cores own L1, L0A, L0B, L0C, BT and FB; vector cores own UB.
// Arenas not owned by a core are nil.
type Resource struct {
	L1, L0A, L0B, L0C, UB, BT, FB *LocalTensorBuffer
}

// NewResource allocates the arenas of a core of the given kind.
func NewResource(tag Tag, kind CoreKind, poison bool) *Resource {
	r := &Resource{}
	switch kind {
	case CoreKindCube:
		r.L1 = NewLocalTensorBuffer(LevelL1, tag.L1Size, poison)
		r.L0A = NewLocalTensorBuffer(LevelL0A, tag.L0ASize, poison)
		r.L0B = NewLocalTensorBuffer(LevelL0B, tag.L0BSize, poison)
		r.L0C = NewLocalTensorBuffer(LevelL0C, tag.L0CSize, poison)
		r.BT = NewLocalTensorBuffer(LevelBT, tag.BTSize, poison)
		r.FB = NewLocalTensorBuffer(LevelFB, tag.FBSize, poison)
	case CoreKindVector:
		r.UB = NewLocalTensorBuffer(LevelUB, tag.UBSize, poison)
	default:
		panicf("invalid core kind %s", kind)
	}
	return r
}

// Arena returns the arena of the level, or nil if the core does not own it.
func (r *Resource) Arena(l Level) *LocalTensorBuffer {
	switch l {
	case LevelL1:
		return r.L1
	case LevelL0A:
		return r.L0A
	case LevelL0B:
		return r.L0B
	case LevelL0C:
		return r.L0C
	case LevelUB:
		return r.UB
	case LevelBT:
		return r.BT
	case LevelFB:
		return r.FB
	default:
		return nil
	}
}

// String lists the owned arenas with their size.
func (r *Resource) String() string {
	var parts []string
	for _, arena := range []*LocalTensorBuffer{r.L1, r.L0A, r.L0B, r.L0C, r.UB, r.BT, r.FB} {
		if arena == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", arena.level, humanize.IBytes(uint64(arena.Size()))))
	}
	return "Resource{" + strings.Join(parts, ", ") + "}"
}
