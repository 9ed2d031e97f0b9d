// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arch

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Tag describes an architecture: the capacity of each on-chip memory level and the number of AI cores.
type Tag struct {
	Name string

	// Capacities in bytes.
	L1Size, L0ASize, L0BSize, L0CSize, UBSize, BTSize, FBSize int

	// CoreNum is the number of AI cores (each with one cube core and SubBlockNum vector cores).
	CoreNum int
}

// AtlasA2 is the only architecture modelled.
var AtlasA2 = Tag{
	Name:    "AtlasA2",
	L1Size:  512 * 1024,
	L0ASize: 64 * 1024,
	L0BSize: 64 * 1024,
	L0CSize: 128 * 1024,
	UBSize:  192 * 1024,
	BTSize:  1024,
	FBSize:  2048,
	CoreNum: 24,
}

// Capacity returns the size in bytes of the level. GM is unbounded and returns 0.
func (t Tag) Capacity(l Level) int {
	switch l {
	case LevelL1:
		return t.L1Size
	case LevelL0A:
		return t.L0ASize
	case LevelL0B:
		return t.L0BSize
	case LevelL0C:
		return t.L0CSize
	case LevelUB:
		return t.UBSize
	case LevelBT:
		return t.BTSize
	case LevelFB:
		return t.FBSize
	default:
		return 0
	}
}

// Validate checks that every capacity is a positive multiple of BytePerBlk.
func (t Tag) Validate() error {
	for _, l := range []Level{LevelL1, LevelL0A, LevelL0B, LevelL0C, LevelUB, LevelBT, LevelFB} {
		c := t.Capacity(l)
		if c <= 0 || c%BytePerBlk != 0 {
			return errors.Errorf("architecture %q: invalid capacity %d for %s, it must be a positive multiple of %d bytes",
				t.Name, c, l, BytePerBlk)
		}
	}
	if t.CoreNum <= 0 {
		return errors.Errorf("architecture %q: invalid number of cores %d", t.Name, t.CoreNum)
	}
	return nil
}

// String returns the name and the on-chip capacities in human-readable form.
func (t Tag) String() string {
	return t.Name + "{L1=" + humanize.IBytes(uint64(t.L1Size)) +
		", L0A=" + humanize.IBytes(uint64(t.L0ASize)) +
		", L0B=" + humanize.IBytes(uint64(t.L0BSize)) +
		", L0C=" + humanize.IBytes(uint64(t.L0CSize)) +
		", UB=" + humanize.IBytes(uint64(t.UBSize)) + "}"
}

// Config of the simulated device.
type Config struct {
	// Tag is the architecture. The zero value means AtlasA2.
	Tag Tag

	// Sequential executes every pipe operation inline, in issue order, on the issuing goroutine.
	// Flag misuse (a wait without a matching set) is then detected deterministically.
	Sequential bool

	// Poison fills the arenas with PoisonByte instead of zeros, to expose reads of data never written.
	Poison bool

	// Watchdog, if > 0, bounds the duration of a launch: a launch still running after it is reported as
	// a (likely) flag pairing deadlock.
	Watchdog time.Duration

	// MaxParallelism is the number of AI cores of a launch that may run at the same time.
	// 0 means the number of cores of the architecture, and -1 means unlimited.
	MaxParallelism int
}

// WithDefaults returns a copy of the configuration with the zero values replaced by the defaults.
func (c Config) WithDefaults() Config {
	if c.Tag.Name == "" {
		c.Tag = AtlasA2
	}
	if c.MaxParallelism == 0 {
		c.MaxParallelism = c.Tag.CoreNum
	}
	return c
}
