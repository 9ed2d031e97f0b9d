// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arch

// Hardware granularities of the on-chip formats.
const (
	// BytePerC0 is the width in bytes of one row of a fractal (a "C0" block).
	BytePerC0 = 32

	// C0NumPerFractal is the number of C0 rows in a fractal.
	C0NumPerFractal = 16

	// BytePerFractal is the size of one fractal: 16 rows of 32 bytes.
	BytePerFractal = BytePerC0 * C0NumPerFractal

	// BytePerBlk is the unit of the data-copy descriptors (block length and strides) and of
	// vector-unit block strides.
	BytePerBlk = 32

	// BlkNumPerVectorFractal is the number of 32-byte blocks processed by one vector repeat.
	BlkNumPerVectorFractal = 8

	// BytePerVectorFractal is the number of bytes processed by one vector repeat.
	BytePerVectorFractal = BytePerBlk * BlkNumPerVectorFractal
)

// Addressing limits of the instruction descriptors. Copy operators must never emit a descriptor exceeding these,
// and fall back to grouped or per-row issuance instead.
const (
	// StrideLimit bounds every stride field of the data-movement descriptors (source stride of Nd2Nz,
	// block strides of DataCopy): a stride must be strictly smaller than StrideLimit.
	StrideLimit = 65536

	// MaxBlockCount is the largest block count (number of rows) of one DataCopy descriptor, and the largest
	// nValue of one Nd2Nz descriptor.
	MaxBlockCount = 4095

	// MaxNdNum is the largest number of matrices moved by one Nd2Nz descriptor.
	MaxNdNum = 4095

	// MaxRepeat is the largest repeat count of one LoadData2D or vector instruction.
	MaxRepeat = 255

	// MaxBlockStride is the largest block stride (in 32-byte units) of a vector instruction.
	MaxBlockStride = 255

	// MaxRepeatStride is the largest repeat stride (in 32-byte units) of a vector instruction.
	MaxRepeatStride = 255

	// MaxCrossCoreFlagCount is the number of outstanding CrossCoreSetFlag a flag id can hold.
	MaxCrossCoreFlagCount = 15

	// MaxEventID is the number of event ids per hardware event kind.
	MaxEventID = 8

	// SubBlockNum is the number of vector sub-blocks (AIV) paired with one cube core (AIC).
	SubBlockNum = 2
)
