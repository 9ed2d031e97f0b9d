// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arch

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// panicf panics with an error created with errors.Errorf, so it carries a stack trace.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// Tensor is a typed view of memory tagged with its position.
//
// Local tensors (on-chip) are views into the arena of their level (see LocalTensorBuffer), and
// global tensors wrap a Go slice owned by the caller. Like device pointers, tensors carry no shape:
// the layout is given separately to every operation that uses them.
type Tensor[T dtypes.Supported] struct {
	pos  Position
	data []T
}

// GlobalTensor binds a Go slice as a tensor in global memory.
func GlobalTensor[T dtypes.Supported](data []T) Tensor[T] {
	return Tensor[T]{pos: PositionGM, data: data}
}

// Position of the tensor.
func (t Tensor[T]) Position() Position { return t.pos }

// Level of the memory holding the tensor.
func (t Tensor[T]) Level() Level { return t.pos.Level() }

// DType of the tensor elements.
func (t Tensor[T]) DType() dtypes.DType { return dtypes.FromGenericsType[T]() }

// Len is the number of elements addressable from the start of the tensor.
func (t Tensor[T]) Len() int { return len(t.data) }

// IsNil returns whether the tensor is unbound.
func (t Tensor[T]) IsNil() bool { return t.data == nil }

// Data returns the underlying elements. Operations on it bypass the pipes, so it should only be used
// by instruction implementations (which run on their pipe) and by tests after a kernel returns.
func (t Tensor[T]) Data() []T { return t.data }

// Offset returns the tensor starting n elements after t, the equivalent of indexing a device pointer.
func (t Tensor[T]) Offset(n int) Tensor[T] {
	if n < 0 || n > len(t.data) {
		panicf("tensor offset %d out of bounds for %s tensor of %d elements", n, t.pos, len(t.data))
	}
	return Tensor[T]{pos: t.pos, data: t.data[n:]}
}

// Limit returns the tensor truncated to n elements.
func (t Tensor[T]) Limit(n int) Tensor[T] {
	if n < 0 || n > len(t.data) {
		panicf("tensor limit %d out of bounds for %s tensor of %d elements", n, t.pos, len(t.data))
	}
	return Tensor[T]{pos: t.pos, data: t.data[:n:n]}
}

// As returns the same memory tagged with another position of the same level.
func (t Tensor[T]) As(pos Position) Tensor[T] {
	if pos.Level() != t.pos.Level() {
		panicf("cannot view %s tensor as %s: levels %s and %s differ", t.pos, pos, t.pos.Level(), pos.Level())
	}
	return Tensor[T]{pos: pos, data: t.data}
}

// GetValue reads one element, as the scalar unit does.
// The caller must have synchronized with the pipe that produced it (e.g. WaitFlag on V_S or MTE2_S).
func (t Tensor[T]) GetValue(i int) T {
	return t.data[i]
}

// SetValue writes one element, as the scalar unit does.
func (t Tensor[T]) SetValue(i int, v T) {
	t.data[i] = v
}

// String implements fmt.Stringer.
func (t Tensor[T]) String() string {
	return fmt.Sprintf("Tensor[%s]{%s, %d elements}", t.DType(), t.pos, len(t.data))
}

// Reinterpret views the memory of a tensor as elements of another type (ReinterpretCast).
func Reinterpret[U, T dtypes.Supported](t Tensor[T]) Tensor[U] {
	if len(t.data) == 0 {
		return Tensor[U]{pos: t.pos}
	}
	var zeroT T
	numBytes := len(t.data) * int(unsafe.Sizeof(zeroT))
	raw := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(t.data))), numBytes)
	return Tensor[U]{pos: t.pos, data: viewAs[U](raw)}
}

// viewAs returns the bytes viewed as elements of type T. It panics if the address is not aligned to the
// element size.
func viewAs[T dtypes.Supported](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) < size {
		return []T{}
	}
	ptr := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(ptr)%uintptr(size) != 0 {
		panicf("address %p is not aligned to %s elements", ptr, dtypes.FromGenericsType[T]())
	}
	return unsafe.Slice((*T)(ptr), len(b)/size)
}
