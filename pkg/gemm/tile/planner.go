// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tile

import (
	"fmt"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"k8s.io/klog/v2"
)

// Tier of a transfer plan: how many descriptors move a run of units (rows, fractal groups, ...).
type Tier int

//go:generate go tool enumer -type=Tier -trimprefix=Tier -output=gen_tier_enumer.go planner.go

const (
	// TierSingle moves all units with one descriptor.
	TierSingle Tier = iota

	// TierGrouped moves the units in chunks of at most arch.MaxBlockCount units per descriptor.
	TierGrouped

	// TierPerRow moves one unit per descriptor: the stride between units can't be expressed.
	TierPerRow
)

// Piece is a run of Count consecutive units, starting at unit First, moved by one descriptor.
type Piece struct {
	First, Count int
}

// Plan is the list of descriptors of a transfer.
type Plan struct {
	Tier   Tier
	Pieces []Piece
}

func (p Plan) String() string {
	return fmt.Sprintf("%s(%d descriptors)", p.Tier, len(p.Pieces))
}

// PlanTransfer splits the transfer of n units into descriptors, given the value of the stride field the
// descriptors would carry. Strides must stay below arch.StrideLimit, and a descriptor moves at most
// arch.MaxBlockCount units; chunks other than the last are multiples of align units (e.g. 16 rows, so that
// every chunk starts on a fractal boundary).
//
// The tiers are tried in order: single, grouped, per-row.
func PlanTransfer(n, stride, align int) Plan {
	if n <= 0 {
		return Plan{Tier: TierSingle}
	}
	align = max(align, 1)
	var plan Plan
	switch {
	case stride < arch.StrideLimit && n <= arch.MaxBlockCount:
		plan = Plan{Tier: TierSingle, Pieces: []Piece{{0, n}}}
	case stride < arch.StrideLimit:
		chunk := coord.RoundDown(arch.MaxBlockCount, align)
		plan.Tier = TierGrouped
		for first := 0; first < n; first += chunk {
			plan.Pieces = append(plan.Pieces, Piece{first, min(chunk, n-first)})
		}
	default:
		plan.Tier = TierPerRow
		plan.Pieces = make([]Piece, n)
		for i := range n {
			plan.Pieces[i] = Piece{i, 1}
		}
	}
	if plan.Tier != TierSingle && klog.V(2).Enabled() {
		klog.Infof("transfer of %d units with stride %d: %s", n, stride, plan)
	}
	return plan
}
