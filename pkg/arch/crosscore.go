// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arch

import (
	"sync"
)

// NumCrossCoreFlagIDs is the number of cross-core flag ids of a core.
const NumCrossCoreFlagIDs = 16

// CrossCoreMode selects who is signalled by a CrossCoreSetFlag.
type CrossCoreMode int

const (
	// CrossCoreAll synchronizes all cores of the same kind of the launch: the flag is raised on every one of
	// them once all of them have set it.
	CrossCoreAll CrossCoreMode = 0

	// CrossCoreSubBlocks synchronizes the vector cores of one AI core: the flag is raised on both once
	// both have set it.
	CrossCoreSubBlocks CrossCoreMode = 1

	// CrossCorePair signals between the cube core and its vector cores: a set by the cube core raises the flag
	// on each vector core, and the flag is raised on the cube core once every vector core has set it.
	CrossCorePair CrossCoreMode = 2
)

// Flag ids reserved for the barriers.
const (
	VectorAllBarrierFlag       = 8
	CubeAllBarrierFlag         = 9
	VectorSubBlockBarrierFlag  = 10
	FirstReservedCrossCoreFlag = VectorAllBarrierFlag
)

// group is one AI core: a cube core and SubBlockNum vector cores, any of which may be absent.
type group struct {
	blockIdx int
	cube     *Core
	vectors  [SubBlockNum]*Core

	mu         sync.Mutex
	fromVector [NumCrossCoreFlagIDs][SubBlockNum]int
	subBlocks  [NumCrossCoreFlagIDs]int
}

// raise signals one cross-core flag of the core. It blocks while the core already holds
// MaxCrossCoreFlagCount unconsumed signals.
func (c *Core) raise(id int) {
	select {
	case c.cross[id] <- struct{}{}:
	case <-c.launch.fault.Done():
	}
}

// CrossCoreSetFlag raises flag id on other cores, as selected by mode, once pipe p reaches this point.
func (c *Core) CrossCoreSetFlag(mode CrossCoreMode, p Pipe, id int) {
	if id < 0 || id >= NumCrossCoreFlagIDs {
		panicf("invalid cross-core flag id %d, it must be in [0, %d)", id, NumCrossCoreFlagIDs)
	}
	var targets func() []*Core
	switch mode {
	case CrossCoreAll:
		targets = func() []*Core { return c.launch.arriveAll(c, id) }
	case CrossCoreSubBlocks:
		if c.kind != CoreKindVector || c.group == nil {
			panicf("cross-core mode %d requires a vector core of a launch", mode)
		}
		targets = func() []*Core { return c.group.arriveSubBlocks(id) }
	case CrossCorePair:
		if c.group == nil {
			panicf("cross-core mode %d requires a core of a launch", mode)
		}
		targets = func() []*Core { return c.group.arrivePair(c, id) }
	default:
		panicf("invalid cross-core mode %d", mode)
	}
	c.stats.CrossCoreFlags++
	c.Issue(p, func() {
		for _, target := range targets() {
			target.raise(id)
		}
	})
}

// CrossCoreWaitFlag blocks the issuing goroutine until flag id is raised on this core, and consumes it.
func (c *Core) CrossCoreWaitFlag(id int) {
	if id < 0 || id >= NumCrossCoreFlagIDs {
		panicf("invalid cross-core flag id %d, it must be in [0, %d)", id, NumCrossCoreFlagIDs)
	}
	c.checkFault()
	select {
	case <-c.cross[id]:
		return
	default:
	}
	if pool := c.launch.pool; pool != nil {
		// Let other AI cores of the launch start while this one sleeps: they may be the ones to set the flag.
		pool.WorkerIsAsleep()
		defer pool.WorkerRestarted()
	}
	select {
	case <-c.cross[id]:
	case <-c.launch.fault.Done():
		c.checkFault()
	}
}

// CrossCoreBarrier synchronizes the cores selected by mode (CrossCoreAll or CrossCoreSubBlocks), after pipe p
// drains up to this point.
func (c *Core) CrossCoreBarrier(mode CrossCoreMode, p Pipe) {
	var id int
	switch {
	case mode == CrossCoreAll && c.kind == CoreKindVector:
		id = VectorAllBarrierFlag
	case mode == CrossCoreAll && c.kind == CoreKindCube:
		id = CubeAllBarrierFlag
	case mode == CrossCoreSubBlocks && c.kind == CoreKindVector:
		id = VectorSubBlockBarrierFlag
	default:
		panicf("unsupported cross-core barrier mode %d for a %s core", mode, c.kind)
	}
	c.CrossCoreSetFlag(mode, p, id)
	c.CrossCoreWaitFlag(id)
}

func (g *group) arriveSubBlocks(id int) []*Core {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subBlocks[id]++
	if g.subBlocks[id] < SubBlockNum {
		return nil
	}
	g.subBlocks[id] = 0
	return g.vectors[:]
}

func (g *group) arrivePair(c *Core, id int) []*Core {
	if c.kind == CoreKindCube {
		var targets []*Core
		for _, v := range g.vectors {
			if v != nil {
				targets = append(targets, v)
			}
		}
		return targets
	}
	if g.cube == nil {
		panicf("cross-core flag %d set towards the cube core, but the kernel has no cube body", id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	counts := &g.fromVector[id]
	counts[c.subBlockIdx]++
	for _, n := range counts {
		if n == 0 {
			return nil
		}
	}
	for i := range counts {
		counts[i]--
	}
	return []*Core{g.cube}
}
