// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	"github.com/gomlx/tilegemm/pkg/layout"
	"k8s.io/klog/v2"
)

// Config of the matrix epilogues: BlockElemWise, BlockGemm and BlockPerTokenDequant.
type Config struct {
	// Arch is the target architecture. The zero value means arch.AtlasA2.
	Arch arch.Tag

	Policy DispatchPolicy

	// Activation applied by EpilogueAtlasA2ElemWiseNoSource.
	Activation tile.Activation

	// UBTileShape is the part of the output block a sub-block processes at once. The tiles of a block are
	// dealt to the two sub-blocks of the AI core alternately.
	UBTileShape coord.MatrixCoord
}

// WithDefaults fills the architecture and the UB tile shape.
func (c Config) WithDefaults() Config {
	if c.Arch.Name == "" {
		c.Arch = arch.AtlasA2
	}
	if c.UBTileShape == (coord.MatrixCoord{}) {
		c.UBTileShape = coord.MakeMatrixCoord(32, 256)
	}
	return c
}

// Validate checks the parts of the configuration that don't depend on the element types: the UB capacity
// is checked by the constructors.
func (c Config) Validate() error {
	return exceptions.TryCatch[error](c.WithDefaults().validate)
}

func (c Config) validate() {
	if err := c.Arch.Validate(); err != nil {
		panic(err)
	}
	switch p := c.Policy.(type) {
	case EpilogueAtlasA2ElemWiseNoSource, EpilogueAtlasA2ElemWiseOneSource, EpilogueAtlasA2Gemm:
	case EpilogueAtlasA2PerTokenDequant:
		if p.UBStages < 1 || p.UBStages > 2 {
			panicf("epilogue config: %s must have 1 or 2 UB stages", p)
		}
	case nil:
		panicf("epilogue config: no dispatch policy")
	default:
		panicf("epilogue config: %s is not a matrix epilogue", c.Policy)
	}
	if !c.Activation.IsAActivation() {
		panicf("epilogue config: invalid activation %d", c.Activation)
	}
	if c.Activation != tile.ActivationIdentity {
		if _, ok := c.Policy.(EpilogueAtlasA2ElemWiseNoSource); !ok {
			panicf("epilogue config: activation %s requires EpilogueAtlasA2ElemWiseNoSource, got %s", c.Activation, c.Policy)
		}
	}
	if c.UBTileShape.Row <= 0 || c.UBTileShape.Column <= 0 {
		panicf("epilogue config: invalid UB tile shape %s", c.UBTileShape)
	}
	if c.UBTileShape.Row > arch.MaxRepeat {
		panicf("epilogue config: UB tiles of %d rows exceed the repeat limit %d", c.UBTileShape.Row, arch.MaxRepeat)
	}
}

func (c Config) String() string {
	s := fmt.Sprintf("epilogue.Config{%s, UB tile=%s", c.Policy, c.UBTileShape)
	if c.Activation != tile.ActivationIdentity {
		s += ", activation=" + c.Activation.String()
	}
	return s + "}"
}

// ubLd returns the length, in elements, of the UB rows of a tile. Rows of every element type staged with the
// same row length must start at 32-byte boundaries, so it's rounded for the narrowest of them.
func (c Config) ubLd(narrowest dtypes.DType) int {
	return coord.RoundUp(c.UBTileShape.Column, layout.ElementsPerBlk(narrowest))
}

// checkUB panics if the used bytes don't fit the UB of the architecture.
func checkUB(name string, used int, tag arch.Tag) {
	if used > tag.UBSize {
		panicf("%s needs %s of UB, %s has %s", name, humanize.IBytes(uint64(used)), tag.Name, humanize.IBytes(uint64(tag.UBSize)))
	}
}

// prepare validates the configuration for a constructor of the given name and returns it with its defaults.
func prepare(name string, core *arch.Core, cfg Config, policyOK func(DispatchPolicy) bool) Config {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	if !policyOK(cfg.Policy) {
		panicf("%s can't run policy %s", name, cfg.Policy)
	}
	checkVectorCore(name, core, cfg.Arch)
	klog.V(2).Infof("vector core %d: %s %s", core.VectorIdx(), name, cfg)
	return cfg
}

// forEachTile calls fn with the origin and shape of the UB tiles of block that belong to the sub-block of core.
func forEachTile(core *arch.Core, block, tileShape coord.MatrixCoord, fn func(origin, shape coord.MatrixCoord)) {
	swz := tile.NewIdentityTileSwizzle(block, tileShape)
	for i := core.SubBlockIdx(); i < swz.Loops(); i += core.SubBlockNum() {
		c := swz.TileCoord(i)
		fn(c.Mul(tileShape), swz.ActualTileShape(c))
	}
}
