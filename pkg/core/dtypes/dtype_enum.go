// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

// DType is an enum representing the element type of a buffer on the accelerator.
//
// Values are kept aligned with the XLA/PJRT numbering used across GoMLX, so a DType
// can be exchanged with other GoMLX packages. Only the types the tile units
// operate on are listed.
type DType int32

const (
	// InvalidDType is the zero value, used to flag unset or unsupported types.
	InvalidDType DType = 0

	// Int8 is the quantized operand type of the cube unit.
	Int8 DType = 2

	// Int16 is only used by vector-unit temporaries.
	Int16 DType = 3

	// Int32 is the accumulator type of int8 matrix multiplications.
	Int32 DType = 4

	// Uint8 is used for masks and raw byte views of buffers.
	Uint8 DType = 6

	// Float16 is IEEE half precision, the main operand type of the cube unit.
	Float16 DType = 10

	// Float32 is the accumulator type for float operands, and the vector-unit compute type.
	Float32 DType = 11

	// BFloat16 is the truncated 16 bit floating-point format: 1 bit sign, 8 bits exponent, 7 bits mantissa.
	BFloat16 DType = 13
)

// Aliases using the C enum names.
const (
	S8   = Int8
	S16  = Int16
	S32  = Int32
	U8   = Uint8
	F16  = Float16
	F32  = Float32
	BF16 = BFloat16
)

// MapOfNames to their dtypes. It includes also aliases to the various dtypes.
// It is also later initialized to include the lower-case version of the names.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"INVALID":      InvalidDType,
	"Int8":         Int8,
	"S8":           Int8,
	"Int16":        Int16,
	"S16":          Int16,
	"Int32":        Int32,
	"S32":          Int32,
	"Uint8":        Uint8,
	"U8":           Uint8,
	"Float16":      Float16,
	"F16":          Float16,
	"Half":         Float16,
	"Float32":      Float32,
	"F32":          Float32,
	"BFloat16":     BFloat16,
	"BF16":         BFloat16,
}

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Uint8:        "Uint8",
	Float16:      "Float16",
	Float32:      "Float32",
	BFloat16:     "BFloat16",
}
