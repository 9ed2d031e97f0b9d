// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package block

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"k8s.io/klog/v2"
)

// softmaxTileElems is the number of float32 elements of a UB slot of scores or partial outputs: it sets the
// number of rows processed at once.
const softmaxTileElems = 4096

// maskScale turns a 0/1 mask into an additive one: masked scores become too small to survive the exp.
const maskScale = -3e38

// AttentionConfig configures the flash-attention epilogues of one AI core: OnlineSoftmax and RescaleO.
//
// A block of queries holds Groups groups of up to GroupRows rows: the query heads sharing one key/value head,
// one after the other. The scores S, the probabilities P and the partial outputs O of a block are stored in
// global memory group after group, in row-major order.
type AttentionConfig struct {
	// Arch is the target architecture. The zero value means arch.AtlasA2.
	Arch arch.Tag

	// Rescale is EpilogueAtlasA2RescaleO (the zero value) or EpilogueAtlasA2RescaleOSplitRow. It decides
	// how the rows of a block are shared by the two sub-blocks.
	Rescale DispatchPolicy

	// GroupRows is the largest number of query rows per group, Groups the number of groups (1 without
	// grouped-query attention).
	GroupRows, Groups int

	// BlockN is the largest number of keys of a tile, HeadDim the number of columns of O.
	BlockN, HeadDim int

	// Scale multiplies the scores before the softmax, usually 1/sqrt(HeadDim).
	Scale float32

	// Masked enables the 0/1 mask: keys with a mask value of 1 are ignored.
	Masked bool
}

// WithDefaults fills the architecture, the rescale policy and a single group.
func (c AttentionConfig) WithDefaults() AttentionConfig {
	if c.Arch.Name == "" {
		c.Arch = arch.AtlasA2
	}
	if c.Rescale == nil {
		c.Rescale = EpilogueAtlasA2RescaleO{}
	}
	if c.Groups == 0 {
		c.Groups = 1
	}
	return c
}

// Validate checks the configuration. The UB capacity is checked by NewOnlineSoftmax and NewRescaleO.
func (c AttentionConfig) Validate() error {
	return exceptions.TryCatch[error](c.WithDefaults().validate)
}

func (c AttentionConfig) validate() {
	if err := c.Arch.Validate(); err != nil {
		panic(err)
	}
	switch c.Rescale.(type) {
	case EpilogueAtlasA2RescaleO, EpilogueAtlasA2RescaleOSplitRow:
	default:
		panicf("attention config: %s is not a rescale policy", c.Rescale)
	}
	if c.GroupRows <= 0 || c.Groups <= 0 || c.BlockN <= 0 || c.HeadDim <= 0 {
		panicf("attention config: invalid shape %s", c)
	}
	if rows := c.GroupRows * c.Groups; rows > 2*arch.MaxRepeat {
		panicf("attention config: blocks of %d rows exceed the repeat limit", rows)
	}
	if c.Scale == 0 {
		panicf("attention config: zero scale")
	}
}

func (c AttentionConfig) String() string {
	s := fmt.Sprintf("attention.Config{%s, rows=%dx%d, blockN=%d, headDim=%d, scale=%g", c.Rescale, c.Groups,
		c.GroupRows, c.BlockN, c.HeadDim, c.Scale)
	if c.Masked {
		s += ", masked"
	}
	return s + "}"
}

// splitRow reports whether the rows of a block are split evenly between the sub-blocks. Otherwise each
// sub-block takes whole groups, and a block of a single group is processed by the first sub-block alone.
func (c AttentionConfig) splitRow() bool {
	_, ok := c.Rescale.(EpilogueAtlasA2RescaleOSplitRow)
	return ok
}

// share returns the first row and the number of rows of a block of groupRows rows per group processed by
// the sub-block.
func (c AttentionConfig) share(subBlock, groupRows int) (start, n int) {
	rows := groupRows * c.Groups
	first := coord.CeilDiv(rows, 2)
	if !c.splitRow() {
		first = coord.CeilDiv(c.Groups, 2) * groupRows
		if c.Groups == 1 {
			first = rows
		}
	}
	if subBlock == 0 {
		return 0, first
	}
	return first, rows - first
}

// statRows is the number of rows of the running statistics kept in UB: the largest share, rounded to
// whole groups of 8 for Brcb.
func (c AttentionConfig) statRows() int {
	_, n1 := c.share(1, c.GroupRows)
	_, n0 := c.share(0, c.GroupRows)
	return coord.RoundUp(max(n0, n1), arch.BlkNumPerVectorFractal)
}

// segments splits n rows starting at row of a block at the group boundaries: fn gets the offset of the
// segment in the n rows, its group, its first row in the group and its number of rows.
func segments(row, n, groupRows int, fn func(offset, group, groupRow, count int)) {
	for offset := 0; offset < n; {
		r := row + offset
		g, i := r/groupRows, r%groupRows
		count := min(n-offset, groupRows-i)
		fn(offset, g, i, count)
		offset += count
	}
}

// rowChunk is the number of rows processed at once for rows of ld float32 elements.
func rowChunk(ld, statRows int) int {
	rows := max(coord.RoundDown(softmaxTileElems/ld, arch.BlkNumPerVectorFractal), arch.BlkNumPerVectorFractal)
	return min(rows, statRows, coord.RoundDown(arch.MaxRepeat, arch.BlkNumPerVectorFractal))
}

// attentionLd is the length of the UB rows of n columns: whole blocks of the narrowest element type, 16-bit.
func attentionLd(n int) int {
	return coord.RoundUp(n, arch.BytePerBlk/2)
}

func logAttention(name string, core *arch.Core, cfg AttentionConfig, ub int) {
	klog.V(2).Infof("vector core %d: %s %s, UB %d bytes", core.VectorIdx(), name, cfg, ub)
}
