// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arch

import (
	"sync"

	"github.com/gomlx/tilegemm/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CoreKind is the kind of core running a kernel body.
type CoreKind int

//go:generate go tool enumer -type=CoreKind -trimprefix=CoreKind -output=gen_corekind_enumer.go core.go

const (
	// CoreKindCube is the AIC: it owns the L1/L0 memories and the M, MTE1, MTE2 and FIX pipes.
	CoreKindCube CoreKind = iota

	// CoreKindVector is the AIV: it owns the UB and the V, MTE2 and MTE3 pipes.
	CoreKindVector
)

// Stats counts what a core issued.
type Stats struct {
	Ops            [NumPipes]int64
	Flags          int64
	Barriers       int64
	CrossCoreFlags int64
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	for i := range s.Ops {
		s.Ops[i] += other.Ops[i]
	}
	s.Flags += other.Flags
	s.Barriers += other.Barriers
	s.CrossCoreFlags += other.CrossCoreFlags
}

// TotalOps is the number of operations issued on all pipes.
func (s Stats) TotalOps() int64 {
	var total int64
	for _, n := range s.Ops {
		total += n
	}
	return total
}

// Core is one cube or vector core executing a kernel body.
//
// The goroutine running the kernel body plays the scalar unit: it issues operations to the pipes.
// Each pipe executes its operations in issue order, on its own goroutine, so operations on different
// pipes overlap unless ordered with SetFlag/WaitFlag. With Config.Sequential every operation is executed
// inline instead.
type Core struct {
	cfg         Config
	kind        CoreKind
	blockIdx    int
	blockNum    int
	subBlockIdx int
	resource    *Resource
	launch      *launchState
	group       *group

	pipes   [NumPipes]*pipe
	flagsMu sync.Mutex
	flags   map[flagKey]chan struct{}

	// cross holds the cross-core flags targeting this core.
	cross [NumCrossCoreFlagIDs]chan struct{}

	stats   Stats
	started bool
	closed  bool
}

type flagKey struct {
	event HardEvent
	id    int
}

// NewCore returns a standalone core, not part of any launch: useful to run instructions directly.
// It must be closed with Close.
func NewCore(cfg Config, kind CoreKind) *Core {
	cfg = cfg.WithDefaults()
	ls := newLaunchState(cfg, 1, nil)
	c := newCore(cfg, ls, nil, kind, 0, 1, 0)
	c.start()
	return c
}

func newCore(cfg Config, ls *launchState, g *group, kind CoreKind, blockIdx, blockNum, subBlockIdx int) *Core {
	c := &Core{
		cfg:         cfg,
		kind:        kind,
		blockIdx:    blockIdx,
		blockNum:    blockNum,
		subBlockIdx: subBlockIdx,
		launch:      ls,
		group:       g,
		flags:       make(map[flagKey]chan struct{}),
	}
	for i := range c.cross {
		c.cross[i] = make(chan struct{}, MaxCrossCoreFlagCount)
	}
	return c
}

// start allocates the arenas and starts the pipes.
func (c *Core) start() {
	if c.started {
		return
	}
	c.started = true
	c.resource = NewResource(c.cfg.Tag, c.kind, c.cfg.Poison)
	if c.cfg.Sequential {
		return
	}
	for p := PipeV; p < PipeAll; p++ {
		c.pipes[p] = newPipe(c, p)
	}
}

// Kind of the core.
func (c *Core) Kind() CoreKind { return c.kind }

// BlockIdx is the index of the AI core running this kernel body, in [0, BlockNum).
func (c *Core) BlockIdx() int { return c.blockIdx }

// BlockNum is the number of AI cores of the launch.
func (c *Core) BlockNum() int { return c.blockNum }

// SubBlockIdx is the index of this vector core within its AI core (always 0 for the cube core).
func (c *Core) SubBlockIdx() int { return c.subBlockIdx }

// SubBlockNum is the number of vector cores per AI core.
func (c *Core) SubBlockNum() int { return SubBlockNum }

// VectorIdx is the global index of a vector core: BlockIdx*SubBlockNum+SubBlockIdx.
func (c *Core) VectorIdx() int { return c.blockIdx*SubBlockNum + c.subBlockIdx }

// Resource returns the arenas owned by the core.
func (c *Core) Resource() *Resource { return c.resource }

// Config of the device the core belongs to.
func (c *Core) Config() Config { return c.cfg }

// Stats returns what the core issued so far.
func (c *Core) Stats() Stats { return c.stats }

// checkFault re-raises, on the issuing goroutine, a fault raised anywhere in the launch.
func (c *Core) checkFault() {
	if err := c.launch.fault.Err(); err != nil {
		panic(err)
	}
}

// Issue queues op on pipe p. Operations on PipeS (and every operation in sequential mode) run immediately.
func (c *Core) Issue(p Pipe, op func()) {
	if c.closed {
		panicf("operation issued on %s pipe of a closed %s core", p, c.kind)
	}
	if p < 0 || p >= PipeAll {
		panicf("invalid pipe %s for an operation", p)
	}
	c.stats.Ops[p]++
	c.enqueue(p, op)
}

func (c *Core) enqueue(p Pipe, op func()) {
	c.checkFault()
	if p == PipeS || c.cfg.Sequential {
		op()
		return
	}
	c.pipes[p].push(op)
}

func (c *Core) flag(event HardEvent, id int) chan struct{} {
	if !event.IsValid() {
		panicf("invalid hardware event %s", event)
	}
	if id < 0 || id >= MaxEventID {
		panicf("invalid event id %d for %s, it must be in [0, %d)", id, event, MaxEventID)
	}
	c.flagsMu.Lock()
	defer c.flagsMu.Unlock()
	key := flagKey{event, id}
	ch, found := c.flags[key]
	if !found {
		ch = make(chan struct{}, 1)
		c.flags[key] = ch
	}
	return ch
}

// SetFlag signals the event once the source pipe reaches this point.
func (c *Core) SetFlag(event HardEvent, id int) {
	ch := c.flag(event, id)
	c.stats.Flags++
	if c.cfg.Sequential {
		c.checkFault()
		select {
		case ch <- struct{}{}:
		default:
			panicf("flag %s (id=%d) set twice without a wait", event, id)
		}
		return
	}
	c.enqueue(event.Src, func() {
		select {
		case ch <- struct{}{}:
		case <-c.launch.fault.Done():
		}
	})
}

// WaitFlag blocks the destination pipe of the event until the matching SetFlag has executed.
// If the destination is PipeS, the issuing goroutine itself blocks.
func (c *Core) WaitFlag(event HardEvent, id int) {
	ch := c.flag(event, id)
	if c.cfg.Sequential {
		c.checkFault()
		select {
		case <-ch:
		default:
			panicf("waiting on flag %s (id=%d): flag never set", event, id)
		}
		return
	}
	wait := func() {
		select {
		case <-ch:
		case <-c.launch.fault.Done():
		}
	}
	if event.Dst == PipeS {
		c.checkFault()
		wait()
		c.checkFault()
		return
	}
	c.enqueue(event.Dst, wait)
}

// PipeBarrier orders the later operations of pipe p after its earlier ones.
// With PipeAll the issuing goroutine blocks until every pipe has drained.
func (c *Core) PipeBarrier(p Pipe) {
	c.stats.Barriers++
	if p == PipeAll {
		c.drain()
		c.checkFault()
		return
	}
	if p < 0 || p > PipeAll {
		panicf("invalid pipe %s for a barrier", p)
	}
	// Pipes execute in order, so a single-pipe barrier needs no extra synchronization.
}

// drain waits until all issued operations have executed.
func (c *Core) drain() {
	for _, p := range c.pipes {
		if p != nil {
			p.pending.Wait()
		}
	}
}

// Close drains and stops the pipes, and checks that every flag set was waited on.
// It panics if the core left flags set, which indicates a SetFlag/WaitFlag pairing error.
func (c *Core) Close() {
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
	c.checkFault()
	c.flagsMu.Lock()
	defer c.flagsMu.Unlock()
	for key, ch := range c.flags {
		if len(ch) > 0 {
			panicf("%s core %d.%d closed with flag %s (id=%d) set but never waited",
				c.kind, c.blockIdx, c.subBlockIdx, key.event, key.id)
		}
	}
	if klog.V(3).Enabled() {
		klog.Infof("%s core %d.%d closed: %d ops, %d flags, %d barriers",
			c.kind, c.blockIdx, c.subBlockIdx, c.stats.TotalOps(), c.stats.Flags, c.stats.Barriers)
	}
}

// pipe is an in-order executor of the operations of one hardware pipe.
type pipe struct {
	id      Pipe
	core    *Core
	mu      sync.Mutex
	cond    sync.Cond
	queue   []func()
	stopped bool
	pending *xsync.DynamicWaitGroup
	done    chan struct{}
}

func newPipe(c *Core, id Pipe) *pipe {
	p := &pipe{id: id, core: c, pending: xsync.NewDynamicWaitGroup(), done: make(chan struct{})}
	p.cond = sync.Cond{L: &p.mu}
	go p.loop()
	return p
}

func (p *pipe) push(op func()) {
	p.pending.Add(1)
	p.mu.Lock()
	p.queue = append(p.queue, op)
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *pipe) stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Signal()
	p.mu.Unlock()
	<-p.done
}

func (p *pipe) loop() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		op := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(op)
		p.pending.Done()
	}
}

// run executes op, converting a panic into a launch fault. Once the launch is faulted, operations are skipped.
func (p *pipe) run(op func()) {
	fault := p.core.launch.fault
	if fault.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := errorFromPanic(r)
			fault.raise(errors.WithMessagef(err, "%s pipe of %s core %d.%d",
				p.id, p.core.kind, p.core.blockIdx, p.core.subBlockIdx))
		}
	}()
	op()
}

// errorFromPanic converts a recovered value to an error.
func errorFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.Errorf("%v", r)
}

// faultState records the first fault of a launch. Blocked waits select on Done, so that a fault never
// leaves the other cores deadlocked.
type faultState struct {
	once sync.Once
	err  error
	done chan struct{}
}

func newFaultState() *faultState {
	return &faultState{done: make(chan struct{})}
}

func (f *faultState) raise(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the launch faults.
func (f *faultState) Done() <-chan struct{} { return f.done }

// Err returns the fault, or nil if there was none.
func (f *faultState) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}
