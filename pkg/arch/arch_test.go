// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestPositions(t *testing.T) {
	assert.Equal(t, LevelL1, PositionB1.Level())
	assert.Equal(t, LevelL0C, PositionCO1.Level())
	assert.Equal(t, LevelUB, PositionVECCALC.Level())
	assert.Equal(t, LevelFB, PositionC2PIPE2GM.Level())
	assert.Equal(t, PositionA2, LevelL0A.DefaultPosition())
	assert.Equal(t, "VECIN", PositionVECIN.String())
	assert.Equal(t, "MTE2_MTE1", MTE2ToMTE1.String())
	assert.False(t, HardEvent{PipeV, PipeV}.IsValid())
	assert.False(t, HardEvent{PipeV, PipeAll}.IsValid())
}

func TestTag(t *testing.T) {
	require.NoError(t, AtlasA2.Validate())
	assert.Equal(t, 192*1024, AtlasA2.Capacity(LevelUB))
	bad := AtlasA2
	bad.UBSize = 100
	require.Error(t, bad.Validate())
	assert.Contains(t, AtlasA2.String(), "L1=512 KiB")
	cfg := Config{}.WithDefaults()
	assert.Equal(t, "AtlasA2", cfg.Tag.Name)
	assert.Equal(t, AtlasA2.CoreNum, cfg.MaxParallelism)
}

func TestArena(t *testing.T) {
	res := NewResource(AtlasA2, CoreKindCube, false)
	require.Nil(t, res.UB)
	require.Equal(t, 512*1024, res.L1.Size())

	f32 := GetBufferByByte[float32](res.L1, 64)
	assert.Equal(t, PositionA1, f32.Position())
	assert.Equal(t, (512*1024-64)/4, f32.Len())
	f32.SetValue(0, 1)

	// Views of the same bytes alias.
	u8 := GetBufferByByte[uint8](res.L1, 64)
	assert.Equal(t, []uint8{0, 0, 0x80, 0x3f}, u8.Data()[:4])
	assert.Equal(t, 64, res.L1.HighWater())

	b1 := GetBufferByByteAt[float16.Float16](res.L1, PositionB1, 1024)
	assert.Equal(t, PositionB1, b1.Position())
	require.Panics(t, func() { GetBufferByByteAt[float32](res.L1, PositionA2, 0) })
	require.Panics(t, func() { GetBufferByByte[float32](res.L1, 48) })
	require.Panics(t, func() { GetBufferByByte[float32](res.UB, 0) })
	assert.Contains(t, res.String(), "L0C=128 KiB")

	poisoned := NewResource(AtlasA2, CoreKindVector, true)
	ub := GetBufferByByte[bfloat16.BFloat16](poisoned.UB, 0)
	assert.True(t, ub.GetValue(17).Float32() != ub.GetValue(17).Float32()) // NaN
}

func TestTensor(t *testing.T) {
	data := []int32{1, 2, 3, 4, 5, 6}
	gm := GlobalTensor(data)
	assert.Equal(t, dtypes.Int32, gm.DType())
	assert.Equal(t, PositionGM, gm.Position())
	sub := gm.Offset(2).Limit(3)
	assert.Equal(t, []int32{3, 4, 5}, sub.Data())
	sub.SetValue(0, 30)
	assert.Equal(t, int32(30), data[2])
	require.Panics(t, func() { gm.Offset(7) })
	require.Panics(t, func() { gm.As(PositionA1) })

	asF32 := Reinterpret[float32](GlobalTensor([]float32{1.5, -2}))
	asI32 := Reinterpret[int32](asF32)
	assert.Equal(t, int32(0x3fc00000), asI32.GetValue(0))
	asHalf := Reinterpret[float16.Float16](asF32)
	assert.Equal(t, 4, asHalf.Len())
}

func testBothModes(t *testing.T, fn func(t *testing.T, cfg Config)) {
	for _, sequential := range []bool{true, false} {
		name := "pipelined"
		if sequential {
			name = "sequential"
		}
		t.Run(name, func(t *testing.T) {
			fn(t, Config{Sequential: sequential, Watchdog: 30 * time.Second})
		})
	}
}

func TestCoreFlags(t *testing.T) {
	testBothModes(t, func(t *testing.T, cfg Config) {
		core := NewCore(cfg, CoreKindVector)
		ub := GetBufferByByte[float32](core.Resource().UB, 0)
		out := make([]float32, 100)
		for iter := range 100 {
			// MTE2 writes, V transforms, MTE3 writes back: ordered only by the flags.
			core.Issue(PipeMTE2, func() {
				time.Sleep(10 * time.Microsecond)
				ub.Data()[0] = float32(iter)
			})
			core.SetFlag(MTE2ToV, 0)
			core.WaitFlag(MTE2ToV, 0)
			core.Issue(PipeV, func() { ub.Data()[1] = 2 * ub.Data()[0] })
			core.SetFlag(VToMTE3, 0)
			core.WaitFlag(VToMTE3, 0)
			core.Issue(PipeMTE3, func() { out[iter] = ub.Data()[1] })
			core.SetFlag(MTE3ToMTE2, 0)
			core.WaitFlag(MTE3ToMTE2, 0)
		}
		core.PipeBarrier(PipeAll)
		for iter, v := range out {
			require.Equal(t, float32(2*iter), v)
		}
		core.Close()
		stats := core.Stats()
		assert.Equal(t, int64(100), stats.Ops[PipeV])
		assert.Equal(t, int64(300), stats.Flags)
	})
}

func TestCoreFlagMisuse(t *testing.T) {
	core := NewCore(Config{Sequential: true}, CoreKindCube)
	require.PanicsWithError(t, "waiting on flag MTE1_M (id=3): flag never set", func() { core.WaitFlag(MTE1ToM, 3) })
	core.SetFlag(MToFix, 1)
	require.Panics(t, func() { core.SetFlag(MToFix, 1) })
	require.Panics(t, func() { core.SetFlag(MToFix, MaxEventID) })
	require.Panics(t, func() { core.Close() }, "flag set but never waited")
}

func TestLaunch(t *testing.T) {
	testBothModes(t, func(t *testing.T, cfg Config) {
		const blockDim = 4
		results := make([]int32, blockDim*SubBlockNum)
		var cubeRuns atomic.Int32
		kernel := Kernel{
			Name: "ping",
			Cube: func(core *Core) {
				cubeRuns.Add(1)
				assert.Equal(t, blockDim, core.BlockNum())
				// Signal both vector cores, and wait for both to answer.
				core.CrossCoreSetFlag(CrossCorePair, PipeFIX, 0)
				core.CrossCoreWaitFlag(1)
			},
			Vector: func(core *Core) {
				core.CrossCoreWaitFlag(0)
				out := GlobalTensor(results)
				core.Issue(PipeMTE3, func() { out.SetValue(core.VectorIdx(), int32(100*core.BlockIdx()+core.SubBlockIdx())) })
				core.CrossCoreSetFlag(CrossCorePair, PipeMTE3, 1)
			},
		}
		report, err := Launch(cfg, blockDim, kernel)
		require.NoError(t, err)
		assert.Equal(t, int32(blockDim), cubeRuns.Load())
		assert.Equal(t, []int32{0, 1, 100, 101, 200, 201, 300, 301}, results)
		assert.Equal(t, "ping", report.Kernel)
		assert.Equal(t, int64(3*blockDim), report.Stats.CrossCoreFlags)
	})
}

func TestLaunchAllCoresBarrier(t *testing.T) {
	testBothModes(t, func(t *testing.T, cfg Config) {
		// Only one AI core may run at a time: the barrier must let the others start while it sleeps.
		cfg.MaxParallelism = 1
		const blockDim = 5
		var arrived atomic.Int32
		var sawAll atomic.Int32
		_, err := Launch(cfg, blockDim, Kernel{
			Name: "barrier",
			Vector: func(core *Core) {
				arrived.Add(1)
				core.CrossCoreBarrier(CrossCoreAll, PipeMTE3)
				if arrived.Load() == blockDim*SubBlockNum {
					sawAll.Add(1)
				}
				core.CrossCoreBarrier(CrossCoreSubBlocks, PipeV)
			},
		})
		require.NoError(t, err)
		assert.Equal(t, int32(blockDim*SubBlockNum), sawAll.Load())
	})
}

func TestLaunchFaults(t *testing.T) {
	testBothModes(t, func(t *testing.T, cfg Config) {
		// A panic on a pipe of one vector core while the cube core waits for it.
		_, err := Launch(cfg, 2, Kernel{
			Name: "fault",
			Cube: func(core *Core) {
				core.CrossCoreWaitFlag(2)
			},
			Vector: func(core *Core) {
				if core.BlockIdx() == 1 && core.SubBlockIdx() == 1 {
					core.Issue(PipeV, func() { panicf("repeat 300 exceeds limit") })
				}
				core.PipeBarrier(PipeAll)
				core.CrossCoreSetFlag(CrossCorePair, PipeV, 2)
			},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "repeat 300 exceeds limit")
		assert.Contains(t, err.Error(), `kernel "fault"`)
	})

	// A wait that is never satisfied is caught by the watchdog.
	_, err := Launch(Config{Watchdog: 100 * time.Millisecond}, 1, Kernel{
		Name: "deadlock",
		Vector: func(core *Core) {
			core.WaitFlag(MTE2ToV, 0)
			core.Issue(PipeV, func() {})
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watchdog")

	_, err = Launch(Config{}, 0, Kernel{Name: "empty", Cube: func(*Core) {}})
	require.Error(t, err)
	_, err = Launch(Config{}, 1, Kernel{Name: "nobody"})
	require.Error(t, err)
}
