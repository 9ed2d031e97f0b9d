// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arch

import (
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/internal/workerspool"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Kernel holds the bodies run on each AI core of a launch.
// Cube runs on the cube core and Vector on each of the SubBlockNum vector cores; either may be nil.
type Kernel struct {
	Name   string
	Cube   func(core *Core)
	Vector func(core *Core)
}

// LaunchReport summarizes a finished launch.
type LaunchReport struct {
	ID       uuid.UUID
	Kernel   string
	BlockDim int
	Stats    Stats
	Elapsed  time.Duration
}

// launchState is shared by all cores of a launch.
type launchState struct {
	cfg      Config
	blockNum int
	pool     *workerspool.Pool
	fault    *faultState
	groups   []*group

	mu         sync.Mutex
	allArrived [2][NumCrossCoreFlagIDs]int
}

func newLaunchState(cfg Config, blockNum int, pool *workerspool.Pool) *launchState {
	return &launchState{cfg: cfg, blockNum: blockNum, pool: pool, fault: newFaultState()}
}

// cores returns all cores of the kind.
func (ls *launchState) cores(kind CoreKind) []*Core {
	var cores []*Core
	for _, g := range ls.groups {
		if kind == CoreKindCube {
			if g.cube != nil {
				cores = append(cores, g.cube)
			}
			continue
		}
		for _, v := range g.vectors {
			if v != nil {
				cores = append(cores, v)
			}
		}
	}
	return cores
}

// arriveAll registers the arrival of c at the all-cores synchronization of flag id, and returns the cores
// to signal once every core of its kind has arrived.
func (ls *launchState) arriveAll(c *Core, id int) []*Core {
	if ls.groups == nil {
		// Standalone core: it is alone of its kind.
		return []*Core{c}
	}
	participants := ls.cores(c.kind)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.allArrived[c.kind][id]++
	if ls.allArrived[c.kind][id] < len(participants) {
		return nil
	}
	ls.allArrived[c.kind][id] = 0
	return participants
}

// Launch runs the kernel on blockDim AI cores and waits for all of them to finish.
//
// A panic in a kernel body or in an operation executing on a pipe (a hardware fault, e.g. a descriptor
// exceeding an addressing limit) stops the launch and is returned as an error.
func Launch(cfg Config, blockDim int, kernel Kernel) (report LaunchReport, err error) {
	cfg = cfg.WithDefaults()
	if err = cfg.Tag.Validate(); err != nil {
		return
	}
	if blockDim <= 0 {
		err = errors.Errorf("kernel %q: invalid blockDim %d", kernel.Name, blockDim)
		return
	}
	if kernel.Cube == nil && kernel.Vector == nil {
		err = errors.Errorf("kernel %q has no cube nor vector body", kernel.Name)
		return
	}
	report = LaunchReport{ID: uuid.New(), Kernel: kernel.Name, BlockDim: blockDim}
	start := time.Now()
	klog.V(1).Infof("launch %s: kernel %q, blockDim=%d, %s, sequential=%v",
		report.ID, kernel.Name, blockDim, cfg.Tag.Name, cfg.Sequential)

	pool := workerspool.New(cfg.MaxParallelism)
	ls := newLaunchState(cfg, blockDim, pool)
	ls.groups = make([]*group, blockDim)
	for blockIdx := range ls.groups {
		g := &group{blockIdx: blockIdx}
		if kernel.Cube != nil {
			g.cube = newCore(cfg, ls, g, CoreKindCube, blockIdx, blockDim, 0)
		}
		if kernel.Vector != nil {
			for subIdx := range g.vectors {
				g.vectors[subIdx] = newCore(cfg, ls, g, CoreKindVector, blockIdx, blockDim, subIdx)
			}
		}
		ls.groups[blockIdx] = g
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	go func() {
		for _, g := range ls.groups {
			if ls.fault.Err() != nil {
				break
			}
			wg.Add(1)
			pool.WaitToStart(func() {
				defer wg.Done()
				if groupErr := runGroup(g, kernel); groupErr != nil {
					ls.fault.raise(groupErr)
				}
			})
		}
		wg.Wait()
		close(done)
	}()

	if cfg.Watchdog > 0 {
		timer := time.NewTimer(cfg.Watchdog)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			ls.fault.raise(errors.Errorf("watchdog expired after %s: cores blocked on flags never set", cfg.Watchdog))
			<-done
		}
	} else {
		<-done
	}

	report.Elapsed = time.Since(start)
	for _, g := range ls.groups {
		if g.cube != nil {
			report.Stats.Add(g.cube.stats)
		}
		for _, v := range g.vectors {
			if v != nil {
				report.Stats.Add(v.stats)
			}
		}
	}
	if faultErr := ls.fault.Err(); faultErr != nil {
		err = errors.WithMessagef(faultErr, "kernel %q (launch %s)", kernel.Name, report.ID)
		klog.Errorf("%+v", err)
		return
	}
	klog.V(1).Infof("launch %s: done in %s, %d ops issued", report.ID, report.Elapsed, report.Stats.TotalOps())
	return
}

// runGroup runs the cube and vector bodies of one AI core concurrently.
func runGroup(g *group, kernel Kernel) error {
	var eg errgroup.Group
	if g.cube != nil {
		eg.Go(func() error { return runCore(g.cube, kernel.Cube) })
	}
	for _, v := range g.vectors {
		if v != nil {
			eg.Go(func() error { return runCore(v, kernel.Vector) })
		}
	}
	return eg.Wait()
}

// runCore runs body on the core, and converts any panic into an error.
func runCore(c *Core, body func(*Core)) error {
	exception := exceptions.Try(func() {
		c.start()
		body(c)
		c.Close()
	})
	if exception == nil {
		return nil
	}
	err := errors.WithMessagef(errorFromPanic(exception), "%s core %d.%d", c.kind, c.blockIdx, c.subBlockIdx)
	// Release the other cores before shutting down the pipes: queued operations are skipped once faulted.
	c.launch.fault.raise(err)
	c.shutdown()
	return err
}

// shutdown stops the pipes of a faulted core.
func (c *Core) shutdown() {
	if c.closed {
		return
	}
	c.drain()
	c.closed = true
	for _, p := range c.pipes {
		if p != nil {
			p.stop()
		}
	}
}
