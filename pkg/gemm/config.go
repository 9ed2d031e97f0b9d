// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/isa"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/pkg/errors"
)

// ScaleGranularity of the quantization scales applied when the accumulator leaves L0C.
type ScaleGranularity int

//go:generate go tool enumer -type=ScaleGranularity -trimprefix=ScaleGranularity -output=gen_scalegranularity_enumer.go config.go

const (
	// ScaleGranularityUndefined is used for plain (non-quantized) outputs.
	ScaleGranularityUndefined ScaleGranularity = iota - 1

	// ScaleGranularityNoQuant explicitly requests no scaling.
	ScaleGranularityNoQuant

	// ScaleGranularityPerTensor uses one scalar scale.
	ScaleGranularityPerTensor

	// ScaleGranularityPerChannel uses one scale per output column.
	ScaleGranularityPerChannel

	// ScaleGranularityPerGroup uses one scale per group of K. The fixpipe can't apply it.
	ScaleGranularityPerGroup
)

// QuantModeFor returns the fixpipe conversion from the accumulator type to the output type for the given
// scale granularity. The choice is made once per configuration.
func QuantModeFor(acc, out dtypes.DType, g ScaleGranularity) (isa.QuantMode, error) {
	plain := g == ScaleGranularityUndefined || g == ScaleGranularityNoQuant
	switch {
	case acc == dtypes.Float32 && out == dtypes.Float16 && plain:
		return isa.QuantModeF322F16, nil
	case acc == dtypes.Float32 && out == dtypes.BFloat16 && plain:
		return isa.QuantModeF322BF16, nil
	case acc == out && (acc == dtypes.Float32 || acc == dtypes.Int32) && plain:
		return isa.QuantModeNoQuant, nil
	case acc == dtypes.Int32 && out == dtypes.Float16 && g == ScaleGranularityPerTensor:
		return isa.QuantModeDEQF16, nil
	case acc == dtypes.Int32 && out == dtypes.Float16 && g == ScaleGranularityPerChannel:
		return isa.QuantModeVDEQF16, nil
	}
	return isa.QuantModeNoQuant, errors.Errorf("the fixpipe can't convert a %s accumulator to %s with scale granularity %s",
		acc, out, g)
}

// Config is the static configuration of a block GEMM: operand types, tile shapes and dispatch policy.
//
// It plays the role of the template arguments of the device code: Validate rejects every unsupported
// combination before any kernel runs.
type Config struct {
	// Arch is the target architecture. The zero value means arch.AtlasA2.
	Arch arch.Tag

	Policy DispatchPolicy

	// A, B and C are the types of the operands in global memory.
	A, B, C Type

	// Bias is the element type of the bias vector, or dtypes.InvalidDType if there is no bias.
	Bias dtypes.DType

	// L1TileShape is the (M, N, K) tile staged in L1; L0TileShape the one fed to the cube.
	// L0TileShape.M and .N must equal the L1 ones, and its K must not exceed L1TileShape.K.
	L1TileShape, L0TileShape coord.GemmCoord

	// ScaleGranularity of the descale applied by the fixpipe for int8 GEMMs.
	ScaleGranularity ScaleGranularity

	// Region places the block in a part of the on-chip memories of the core, so that blocks of different
	// configurations can be alive on the same core. The zero value starts every allocation at 0.
	Region Region
}

// Region is where a block GEMM starts its L1, L0A, L0B and L0C allocations (byte offsets, multiples of 32)
// and the first event id it uses.
//
// The bias table and the fixpipe buffer are not relocated: at most one block of a core may have a bias or
// per-channel scales.
type Region struct {
	L1, L0A, L0B, L0C int
	EventBase         int
}

// After returns the region that starts where the partition p ends, events included.
func (p Partition) After() Region {
	return Region{L1: p.L1End, L0A: p.L0AEnd, L0B: p.L0BEnd, L0C: p.L0CEnd, EventBase: p.EventEnd}
}

// WithDefaults fills the architecture and the tile shapes left empty.
func (c Config) WithDefaults() Config {
	if c.Arch.Name == "" {
		c.Arch = arch.AtlasA2
	}
	if c.L1TileShape == (coord.GemmCoord{}) {
		c.L1TileShape = DefaultL1TileShape(c.A.DType)
	}
	if c.L0TileShape == (coord.GemmCoord{}) {
		c.L0TileShape = coord.MakeGemmCoord(c.L1TileShape.M, c.L1TileShape.N, min(c.L1TileShape.K, 64))
		if c.A.DType == dtypes.Int8 {
			c.L0TileShape.K = min(c.L1TileShape.K, 128)
		}
	}
	return c
}

// DefaultL1TileShape returns the L1 tile shape used when a Config doesn't set one.
func DefaultL1TileShape(dtype dtypes.DType) coord.GemmCoord {
	switch dtype {
	case dtypes.Int8:
		return coord.MakeGemmCoord(128, 256, 512)
	case dtypes.Float32:
		return coord.MakeGemmCoord(128, 128, 128)
	default:
		return coord.MakeGemmCoord(128, 256, 256)
	}
}

// Accumulator returns the L0C element type.
func (c Config) Accumulator() dtypes.DType {
	acc, err := AccumulatorFor(c.A.DType, c.B.DType)
	if err != nil {
		return dtypes.InvalidDType
	}
	return acc
}

// HasBias returns whether the configuration adds a bias.
func (c Config) HasBias() bool { return c.Bias != dtypes.InvalidDType }

// TileAlignment is the granularity of all tile extents: a multiple of both the fractal height and C0,
// so every transposing load works on whole squares.
func TileAlignment(dtype dtypes.DType) int {
	return max(arch.C0NumPerFractal, layout.ElementsPerC0(dtype))
}

// Partition is the static allocation of the on-chip memories of a cube core for a block GEMM.
// Offsets are in bytes from the start of each arena.
type Partition struct {
	L1A, L1B   []int
	L1Bias     int
	L1Scale    int
	L1End      int
	L0A, L0B   []int
	L0C        []int
	L0AEnd     int
	L0BEnd     int
	L0CEnd     int
	BTEnd      int
	FBEnd      int
	EventEnd   int // One past the last event id.
	L1ATileLen int // Elements of one L1 A slot.
	L1BTileLen int
	L0ATileLen int
	L0BTileLen int
	L0CTileLen int
}

// Partition computes the allocation of the configuration. It doesn't check the capacities: see Validate.
func (c Config) Partition() Partition {
	c = c.WithDefaults()
	stages := 2
	if c.Policy != nil {
		stages = c.Policy.Stages()
	}
	size := c.A.DType.Size()
	const accSize = 4 // Both accumulators, float32 and int32.
	l1, l0 := c.L1TileShape, c.L0TileShape
	roundBlk := func(n int) int { return coord.RoundUp(n, arch.BytePerBlk) }

	var p Partition
	p.L1ATileLen = l1.M * l1.K
	p.L1BTileLen = l1.K * l1.N
	r := c.Region
	offset := r.L1
	for range stages {
		p.L1A = append(p.L1A, offset)
		offset += roundBlk(p.L1ATileLen * size)
		p.L1B = append(p.L1B, offset)
		offset += roundBlk(p.L1BTileLen * size)
	}
	p.L1Bias = offset
	if c.HasBias() {
		offset += coord.RoundUp(l1.N*c.Bias.Size(), 2*arch.BytePerBlk)
	}
	p.L1Scale = offset
	if c.ScaleGranularity == ScaleGranularityPerChannel {
		offset += roundBlk(l1.N * 4)
	}
	p.L1End = offset

	p.L0ATileLen = l0.M * l0.K
	p.L0BTileLen = l0.K * l0.N
	for i := range stages {
		p.L0A = append(p.L0A, r.L0A+i*roundBlk(p.L0ATileLen*size))
		p.L0B = append(p.L0B, r.L0B+i*roundBlk(p.L0BTileLen*size))
	}
	p.L0AEnd = r.L0A + stages*roundBlk(p.L0ATileLen*size)
	p.L0BEnd = r.L0B + stages*roundBlk(p.L0BTileLen*size)

	p.L0CTileLen = l0.M * l0.N
	tileBytes := roundBlk(p.L0CTileLen * accSize)
	numL0C := 1
	if _, isPingpong := c.Policy.(MmadAtlasA2Pingpong); !isPingpong && c.Policy != nil && tileBytes > 0 {
		// Preloading policies split L0C in as many slots as fit, up to one per stage.
		numL0C = max(1, min(stages, c.Arch.L0CSize/tileBytes))
	}
	for i := range numL0C {
		p.L0C = append(p.L0C, r.L0C+i*tileBytes)
	}
	p.L0CEnd = r.L0C + numL0C*tileBytes
	p.EventEnd = r.EventBase + 2*stages
	if c.HasBias() {
		p.EventEnd++
	}
	if c.HasBias() {
		p.BTEnd = coord.RoundUp(l1.N*accSize, 2*arch.BytePerBlk)
	}
	if c.ScaleGranularity == ScaleGranularityPerChannel {
		p.FBEnd = roundBlk(l1.N * 4)
	}
	return p
}

// String lists the usage of each memory.
func (p Partition) String() string {
	parts := []string{
		"L1=" + humanize.IBytes(uint64(p.L1End)),
		"L0A=" + humanize.IBytes(uint64(p.L0AEnd)),
		"L0B=" + humanize.IBytes(uint64(p.L0BEnd)),
		fmt.Sprintf("L0C=%s (%d slots)", humanize.IBytes(uint64(p.L0CEnd)), len(p.L0C)),
	}
	if p.BTEnd > 0 {
		parts = append(parts, "BT="+humanize.IBytes(uint64(p.BTEnd)))
	}
	if p.FBEnd > 0 {
		parts = append(parts, "FB="+humanize.IBytes(uint64(p.FBEnd)))
	}
	return "Partition{" + strings.Join(parts, ", ") + "}"
}

// Validate checks that the configuration is supported by the architecture and that its partition fits
// the on-chip memories.
func (c Config) Validate() error {
	return exceptions.TryCatch[error](c.WithDefaults().validate)
}

// QuantMode returns the fixpipe conversion of the configuration. It must be valid.
func (c Config) QuantMode() isa.QuantMode {
	mode, err := QuantModeFor(c.Accumulator(), c.C.DType, c.ScaleGranularity)
	if err != nil {
		panic(err)
	}
	return mode
}

func (c Config) validate() {
	if err := c.Arch.Validate(); err != nil {
		panic(err)
	}
	if c.Policy == nil {
		panicf("gemm config: no dispatch policy")
	}
	if _, isGemv := c.Policy.(GemvAtlasA2); isGemv {
		panicf("gemm config: %s is a vector-unit policy, use the gemv package", c.Policy)
	}
	for _, t := range []struct {
		name string
		t    Type
	}{{"A", c.A}, {"B", c.B}, {"C", c.C}} {
		if t.t.Position != arch.PositionGM {
			panicf("gemm config: operand %s must be in global memory, got %s", t.name, t.t)
		}
		if !t.t.DType.IsSupported() {
			panicf("gemm config: operand %s has unsupported element type %s", t.name, t.t.DType)
		}
	}
	acc, err := AccumulatorFor(c.A.DType, c.B.DType)
	if err != nil {
		panic(errors.WithMessage(err, "gemm config"))
	}
	if _, err := L1AType(c.A); err != nil {
		panic(errors.WithMessage(err, "gemm config"))
	}
	if _, err := L1BType(c.B); err != nil {
		panic(errors.WithMessage(err, "gemm config"))
	}
	switch c.C.Layout {
	case layout.KindRowMajor, layout.KindColumnMajor:
	case layout.KindZN:
		if c.C.DType.Size() != 2 {
			panicf("gemm config: a zN output requires 2-byte elements, got %s", c.C.DType)
		}
	default:
		panicf("gemm config: output layout %s is not supported", c.C.Layout)
	}
	if _, err := QuantModeFor(acc, c.C.DType, c.ScaleGranularity); err != nil {
		panic(errors.WithMessage(err, "gemm config"))
	}
	if c.HasBias() {
		ok := c.Bias == acc || (acc == dtypes.Float32 && (c.Bias == dtypes.Float16 || c.Bias == dtypes.BFloat16))
		if !ok {
			panicf("gemm config: a %s bias can't be added to a %s accumulator", c.Bias, acc)
		}
	}
	if c.A.DType == dtypes.Int8 {
		switch p := c.Policy.(type) {
		case MmadAtlasA2Pingpong:
			if p.EnableUnitFlag {
				panicf("gemm config: unit flag is not supported with int8 operands")
			}
		case MmadAtlasA2Preload:
			if p.EnableUnitFlag {
				panicf("gemm config: unit flag is not supported with int8 operands")
			}
		}
	}
	c.validateTiles()
	c.validateRegion()
	c.validateCapacity()
}

func (c Config) validateRegion() {
	r := c.Region
	for _, base := range []int{r.L1, r.L0A, r.L0B, r.L0C} {
		if base < 0 || base%arch.BytePerBlk != 0 {
			panicf("gemm config: region %+v must have non-negative offsets aligned to %d bytes", r, arch.BytePerBlk)
		}
	}
	if end := c.Partition().EventEnd; r.EventBase < 0 || end > arch.MaxEventID {
		panicf("gemm config: region %+v needs event ids up to %d, the limit is %d", r, end-1, arch.MaxEventID-1)
	}
}

func (c Config) validateTiles() {
	l1, l0 := c.L1TileShape, c.L0TileShape
	align := TileAlignment(c.A.DType)
	for _, dim := range []struct {
		name string
		v    int
	}{{"L1 M", l1.M}, {"L1 N", l1.N}, {"L1 K", l1.K}, {"L0 K", l0.K}} {
		if dim.v <= 0 || dim.v%align != 0 {
			panicf("gemm config: tile %s=%d must be a positive multiple of %d for %s operands", dim.name, dim.v, align, c.A.DType)
		}
		if dim.v > coord.RoundDown(arch.MaxBlockCount, align) {
			panicf("gemm config: tile %s=%d exceeds the instruction limit %d", dim.name, dim.v, arch.MaxBlockCount)
		}
	}
	if l0.M != l1.M || l0.N != l1.N {
		panicf("gemm config: L0 tile %s must have the M and N of the L1 tile %s", l0, l1)
	}
	if l0.K > l1.K {
		panicf("gemm config: L0 tile K=%d larger than the L1 tile K=%d", l0.K, l1.K)
	}
}

func (c Config) validateCapacity() {
	p := c.Partition()
	for _, use := range []struct {
		level arch.Level
		bytes int
	}{
		{arch.LevelL1, p.L1End},
		{arch.LevelL0A, p.L0AEnd},
		{arch.LevelL0B, p.L0BEnd},
		{arch.LevelL0C, p.L0CEnd},
		{arch.LevelBT, p.BTEnd},
		{arch.LevelFB, p.FBEnd},
	} {
		if capacity := c.Arch.Capacity(use.level); use.bytes > capacity {
			panicf("gemm config: tiles L1=%s, L0=%s need %s of %s, but %s has only %s",
				c.L1TileShape, c.L0TileShape, humanize.IBytes(uint64(use.bytes)), use.level, c.Arch.Name,
				humanize.IBytes(uint64(capacity)))
		}
	}
}

func (c Config) String() string {
	return fmt.Sprintf("gemm.Config{%s, A=%s, B=%s, C=%s, L1=%s, L0=%s}", c.Policy, c.A, c.B, c.C, c.L1TileShape, c.L0TileShape)
}
