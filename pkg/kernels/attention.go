// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"
	"math"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	epilogue "github.com/gomlx/tilegemm/pkg/epilogue/block"
	"github.com/gomlx/tilegemm/pkg/gemm"
	gemmblock "github.com/gomlx/tilegemm/pkg/gemm/block"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/janpfeifer/must"
)

// AttentionShape is the shape of an attention problem in BNSD order: Q and O are [Batch][Heads][QuerySeq][HeadDim],
// K and V [Batch][KVHeads][KeySeq][HeadDim]. Heads must be a multiple of KVHeads: each key/value head serves
// Heads/KVHeads consecutive query heads (grouped-query attention).
type AttentionShape struct {
	Batch, Heads, KVHeads     int
	QuerySeq, KeySeq, HeadDim int
}

func (s AttentionShape) String() string {
	return fmt.Sprintf("(b=%d, heads=%d/%d, sq=%d, sk=%d, d=%d)", s.Batch, s.Heads, s.KVHeads, s.QuerySeq, s.KeySeq,
		s.HeadDim)
}

// groups is the number of query heads per key/value head.
func (s AttentionShape) groups() int { return s.Heads / s.KVHeads }

// AttentionOptions configure FlashAttention.
type AttentionOptions struct {
	LaunchOptions

	// BlockM is the number of query rows of each head processed by a task, BlockN the number of keys of a
	// tile. Zero values select 128 (fewer if the heads of a group don't fit the vector unit) and 128.
	BlockM, BlockN int

	// Scale multiplies the scores. 0 means 1/sqrt(HeadDim).
	Scale float32

	// Causal masks the keys after each query, aligned to the end: query i sees the keys j <= i+KeySeq-QuerySeq.
	// It requires KeySeq >= QuerySeq and a single split.
	Causal bool

	// Rescale is epilogue.EpilogueAtlasA2RescaleO (the default) or epilogue.EpilogueAtlasA2RescaleOSplitRow.
	Rescale epilogue.DispatchPolicy

	// KVSplits > 1 divides the keys in as many parts processed by different tasks (flash decoding): each
	// writes a partial output and its log-sum-exp, merged by a second launch with LSECombine.
	KVSplits int
}

// attentionPlan holds the validated parameters of a FlashAttention launch.
type attentionPlan struct {
	shape          AttentionShape
	tag            arch.Tag
	blockM, blockN int
	qBlocks        int
	splits         int
	splitKeys      int
	causal         bool
	epi            epilogue.AttentionConfig
	qk, pv         gemm.Config
}

// tasks of the attention launch: (batch, kv head, query block, split).
func (p attentionPlan) tasks() int { return p.shape.Batch * p.shape.KVHeads * p.qBlocks * p.splits }

// attentionTask is one block of queries of the heads of a group, against one part of the keys.
type attentionTask struct {
	b, kv      int
	q0, rows   int
	split      int
	key0, keys int
	tiles      int
}

func (p attentionPlan) task(idx int) attentionTask {
	var t attentionTask
	t.split = idx % p.splits
	idx /= p.splits
	qb := idx % p.qBlocks
	idx /= p.qBlocks
	t.kv = idx % p.shape.KVHeads
	t.b = idx / p.shape.KVHeads
	t.q0 = qb * p.blockM
	t.rows = min(p.blockM, p.shape.QuerySeq-t.q0)
	t.key0 = t.split * p.splitKeys
	t.keys = min(p.splitKeys, p.shape.KeySeq-t.key0)
	if p.causal {
		t.keys = min(t.keys, t.q0+t.rows+p.shape.KeySeq-p.shape.QuerySeq)
	}
	t.tiles = coord.CeilDiv(t.keys, p.blockN)
	return t
}

// cols is the number of keys of tile j.
func (t attentionTask) cols(j, blockN int) int { return min(blockN, t.keys-j*blockN) }

func newAttentionPlan[T dtypes.Float](shape AttentionShape, opts AttentionOptions) attentionPlan {
	s := shape
	if s.Batch <= 0 || s.Heads <= 0 || s.KVHeads <= 0 || s.QuerySeq <= 0 || s.KeySeq <= 0 || s.HeadDim <= 0 {
		panicf("invalid attention shape %s", s)
	}
	if s.Heads%s.KVHeads != 0 {
		panicf("%d query heads can't be grouped over %d key/value heads", s.Heads, s.KVHeads)
	}
	dtype := dtypes.FromGenericsType[T]()
	if dtype == dtypes.Float32 {
		panicf("attention operands must be float16 or bfloat16, got %s", dtype)
	}
	p := attentionPlan{shape: s, tag: opts.Exec.WithDefaults().Tag, blockM: opts.BlockM, blockN: opts.BlockN,
		causal: opts.Causal}
	g := s.groups()
	if p.blockM == 0 {
		p.blockM = min(s.QuerySeq, 128)
		if limit := 2 * arch.MaxRepeat / g; p.blockM > limit {
			p.blockM = limit
		}
	}
	if p.blockN == 0 {
		p.blockN = 128
	}
	if p.blockM <= 0 || p.blockN <= 0 {
		panicf("invalid attention blocks %d x %d for %d heads per group", p.blockM, p.blockN, g)
	}
	p.qBlocks = coord.CeilDiv(s.QuerySeq, p.blockM)

	p.splits = max(opts.KVSplits, 1)
	p.splitKeys = coord.CeilDiv(s.KeySeq, p.splits)
	p.splits = coord.CeilDiv(s.KeySeq, p.splitKeys)
	if p.causal {
		if s.KeySeq < s.QuerySeq {
			panicf("causal attention needs at least as many keys as queries, got %s", s)
		}
		if p.splits > 1 {
			panicf("causal attention can't split the keys")
		}
	}

	scale := opts.Scale
	if scale == 0 {
		scale = float32(1 / math.Sqrt(float64(s.HeadDim)))
	}
	p.epi = epilogue.AttentionConfig{Arch: p.tag, Rescale: opts.Rescale, GroupRows: p.blockM, Groups: g,
		BlockN: p.blockN, HeadDim: s.HeadDim, Scale: scale, Masked: p.causal}.WithDefaults()
	if err := p.epi.Validate(); err != nil {
		panic(err)
	}

	m, d := coord.RoundUp(p.blockM, arch.C0NumPerFractal), coord.RoundUp(s.HeadDim, arch.C0NumPerFractal)
	p.qk = gemm.Config{
		Arch:        p.tag,
		Policy:      gemm.MmadAtlasA2Pingpong{},
		A:           gemm.GmType(dtype, layout.KindRowMajor),
		B:           gemm.GmType(dtype, layout.KindColumnMajor),
		C:           gemm.GmType(dtypes.Float32, layout.KindRowMajor),
		L1TileShape: coord.MakeGemmCoord(m, p.blockN, d),
	}.WithDefaults()
	if err := p.qk.Validate(); err != nil {
		panic(err)
	}
	p.pv = gemm.Config{
		Arch:        p.tag,
		Policy:      gemm.MmadAtlasA2Pingpong{},
		A:           gemm.GmType(dtype, layout.KindRowMajor),
		B:           gemm.GmType(dtype, layout.KindRowMajor),
		C:           gemm.GmType(dtypes.Float32, layout.KindRowMajor),
		L1TileShape: coord.MakeGemmCoord(m, d, p.blockN),
		Region:      p.qk.Partition().After(),
	}.WithDefaults()
	if err := p.pv.Validate(); err != nil {
		panic(err)
	}
	return p
}

// dryBuildVector builds the vector-side blocks of fn on a standalone sequential core, so that UB overflows are
// reported before the launch. A core whose blocks failed is dropped without closing it.
func dryBuildVector(tag arch.Tag, fn func(core *arch.Core) error) {
	core := arch.NewCore(arch.Config{Tag: tag, Sequential: true}, arch.CoreKindVector)
	if err := fn(core); err != nil {
		panic(err)
	}
	core.Close()
}

// causalMask returns the [sq][sk] mask of the queries aligned to the end of the keys: 1 for the keys a query
// doesn't see.
func causalMask[T dtypes.Float](sq, sk int) []T {
	mask := make([]T, sq*sk)
	one := dtypes.FromFloat32[T](1, dtypes.RoundNone)
	for i := range sq {
		for j := i + sk - sq + 1; j < sk; j++ {
			mask[i*sk+j] = one
		}
	}
	return mask
}

// attentionWorkspace are the per AI core global-memory slots between the cube and the vector cores: the
// scores S and probabilities P of two key tiles, and the partial outputs P·V of two tiles.
type attentionWorkspace[T dtypes.Float] struct {
	s              arch.Tensor[float32]
	p              arch.Tensor[T]
	o              arch.Tensor[float32]
	sLen, oLen     int
	perCoreS, perO int
}

func newAttentionWorkspace[T dtypes.Float](p attentionPlan, blockDim int) attentionWorkspace[T] {
	rows := p.epi.Groups * p.blockM
	w := attentionWorkspace[T]{sLen: rows * p.blockN, oLen: rows * p.shape.HeadDim}
	w.perCoreS, w.perO = 2*w.sLen, 2*w.oLen
	w.s = arch.GlobalTensor(make([]float32, blockDim*w.perCoreS))
	w.p = arch.GlobalTensor(make([]T, blockDim*w.perCoreS))
	w.o = arch.GlobalTensor(make([]float32, blockDim*w.perO))
	return w
}

// slots returns the S, P and O slots of key tile j on the AI core blockIdx.
func (w attentionWorkspace[T]) slots(blockIdx, j int) (s arch.Tensor[float32], p arch.Tensor[T], o arch.Tensor[float32]) {
	slot := j % 2
	s = w.s.Offset(blockIdx*w.perCoreS + slot*w.sLen)
	p = w.p.Offset(blockIdx*w.perCoreS + slot*w.sLen)
	o = w.o.Offset(blockIdx*w.perO + slot*w.oLen)
	return
}

// FlashAttention computes O = softmax(scale·Q·Kᵀ)·V, head by head, without materializing the scores: for each
// block of queries the cube multiplies Q by one tile of keys at a time, the vector cores keep the online
// softmax statistics and rescale the accumulated output.
//
// lse, if not nil, receives the log-sum-exp of the scores of each query row, [Batch][Heads][QuerySeq]. It
// isn't available with KVSplits > 1.
func FlashAttention[T dtypes.Float](q, k, v, o []T, lse []float32, shape AttentionShape, opts AttentionOptions) (
	report arch.LaunchReport, err error) {
	var p attentionPlan
	err = checked("flash-attention", func() {
		p = newAttentionPlan[T](shape, opts)
		s := shape
		qLen, kvLen := s.Batch*s.Heads*s.QuerySeq*s.HeadDim, s.Batch*s.KVHeads*s.KeySeq*s.HeadDim
		for _, operand := range []struct {
			name      string
			have, len int
		}{{"Q", len(q), qLen}, {"K", len(k), kvLen}, {"V", len(v), kvLen}, {"O", len(o), qLen}} {
			if operand.have < operand.len {
				panicf("operand %s has %d elements, %s needs %d", operand.name, operand.have, s, operand.len)
			}
		}
		if lse != nil {
			if p.splits > 1 {
				panicf("the log-sum-exp output isn't available with %d key splits", p.splits)
			}
			if rows := s.Batch * s.Heads * s.QuerySeq; len(lse) < rows {
				panicf("lse has %d elements for %d rows", len(lse), rows)
			}
		}
		dryBuildVector(p.tag, func(core *arch.Core) error {
			sm, err := epilogue.NewOnlineSoftmax[T](core, p.epi)
			if err != nil {
				return err
			}
			var closeRescale func()
			if p.splits > 1 {
				r, err := epilogue.NewRescaleO[T, float32](sm)
				if err != nil {
					return err
				}
				closeRescale = r.Close
			} else {
				r, err := epilogue.NewRescaleO[T, T](sm)
				if err != nil {
					return err
				}
				closeRescale = r.Close
			}
			closeRescale()
			sm.Close()
			if p.splits > 1 {
				c, err := epilogue.NewLSECombine[T](core, epilogue.LSEConfig{Arch: p.tag, Splits: p.splits, HeadDim: s.HeadDim})
				if err != nil {
					return err
				}
				c.Close()
			}
			return nil
		})
	})
	if err != nil {
		return
	}
	if p.splits == 1 {
		out := attentionOutputs[T]{o: arch.GlobalTensor(o)}
		if lse != nil {
			out.lse = arch.GlobalTensor(lse)
		}
		return launchAttention(p, opts.LaunchOptions, q, k, v, out)
	}

	// Flash decoding: partial outputs and log-sum-exps of each split, [splits][rows][HeadDim] and [splits][rows].
	rows := shape.Batch * shape.Heads * shape.QuerySeq
	partials, lses := make([]float32, p.splits*rows*shape.HeadDim), make([]float32, p.splits*rows)
	report, err = launchAttention(p, opts.LaunchOptions, q, k, v, attentionOutputs[float32]{
		o: arch.GlobalTensor(partials), lse: arch.GlobalTensor(lses),
		splitStride: rows * shape.HeadDim, lseSplitStride: rows,
	})
	if err != nil {
		return
	}
	combine, err := launchLSECombine(p, opts.LaunchOptions, partials, lses, o, rows)
	report.Stats.Add(combine.Stats)
	report.Elapsed += combine.Elapsed
	return report, err
}

// attentionOutputs is where the attention launch writes the rows of [Batch][Heads][QuerySeq]: the output (or
// the partial outputs of each split, splitStride apart) and optionally the log-sum-exps.
type attentionOutputs[D dtypes.Float] struct {
	o                           arch.Tensor[D]
	lse                         arch.Tensor[float32]
	splitStride, lseSplitStride int
}

// launchAttention runs the tasks of p: the cube core of each AI core computes the scores and the products P·V,
// its vector cores the online softmax and the rescaling of the output.
func launchAttention[T, D dtypes.Float](p attentionPlan, lo LaunchOptions, q, k, v []T, out attentionOutputs[D]) (
	arch.LaunchReport, error) {
	s, g, d := p.shape, p.shape.groups(), p.shape.HeadDim
	tasks := p.tasks()
	lo.BlockDim = lo.blockDim(tasks)
	ws := newAttentionWorkspace[T](p, lo.BlockDim)
	gmQ, gmK, gmV := arch.GlobalTensor(q), arch.GlobalTensor(k), arch.GlobalTensor(v)
	var gmMask arch.Tensor[T]
	if p.causal {
		gmMask = arch.GlobalTensor(causalMask[T](s.QuerySeq, s.KeySeq))
	}
	// firstRow is the index of the first query row of the task, in group 0, in [Batch][Heads][QuerySeq].
	firstRow := func(t attentionTask) int { return (t.b*s.Heads+t.kv*g)*s.QuerySeq + t.q0 }
	name := "flash-attention"
	if p.splits > 1 {
		name = "flash-decoding"
	}
	return launch(lo, tasks, fmt.Sprintf("%s splits=%d", s, p.splits), arch.Kernel{
		Name: name,
		Cube: func(core *arch.Core) {
			qk := must.M1(gemmblock.NewBlockMmad[T, float32, float32](core, p.qk))
			pv := must.M1(gemmblock.NewBlockMmad[T, float32, float32](core, p.pv))
			for _, idx := range coreTasks(core, tasks) {
				t := p.task(idx)
				qBase := firstRow(t) * d
				kvBase := ((t.b*s.KVHeads+t.kv)*s.KeySeq + t.key0) * d
				scores := func(j int) {
					gmS, _, _ := ws.slots(core.BlockIdx(), j)
					cols := t.cols(j, p.blockN)
					for gi := range g {
						qk.Run(gemmblock.Tile[T, float32]{
							A: gmQ.Offset(qBase + gi*s.QuerySeq*d), LayoutA: layout.NewRowMajor(t.rows, d),
							B: gmK.Offset(kvBase + j*p.blockN*d), LayoutB: layout.NewColumnMajorLd(d, cols, d),
							C: gmS.Offset(gi * t.rows * p.blockN), LayoutC: layout.NewRowMajorLd(t.rows, cols, p.blockN),
							Shape: coord.MakeGemmCoord(t.rows, cols, d),
						})
					}
					core.CrossCoreSetFlag(arch.CrossCorePair, arch.PipeFIX, flagCubeDone)
				}
				scores(0)
				for j := range t.tiles {
					if j+1 < t.tiles {
						scores(j + 1)
					}
					core.CrossCoreWaitFlag(flagVectorDone)
					_, gmP, gmO := ws.slots(core.BlockIdx(), j)
					cols := t.cols(j, p.blockN)
					for gi := range g {
						pv.Run(gemmblock.Tile[T, float32]{
							A: gmP.Offset(gi * t.rows * p.blockN), LayoutA: layout.NewRowMajorLd(t.rows, cols, p.blockN),
							B: gmV.Offset(kvBase + j*p.blockN*d), LayoutB: layout.NewRowMajor(cols, d),
							C: gmO.Offset(gi * t.rows * d), LayoutC: layout.NewRowMajor(t.rows, d),
							Shape: coord.MakeGemmCoord(t.rows, d, cols),
						})
					}
					core.CrossCoreSetFlag(arch.CrossCorePair, arch.PipeFIX, flagPVDone)
				}
			}
			pv.Close()
			qk.Close()
		},
		Vector: func(core *arch.Core) {
			sm := must.M1(epilogue.NewOnlineSoftmax[T](core, p.epi))
			r := must.M1(epilogue.NewRescaleO[T, D](sm))
			for _, idx := range coreTasks(core, tasks) {
				t := p.task(idx)
				row := firstRow(t)
				dst := epilogue.AttentionOutput[D]{
					O:      out.o.Offset(t.split*out.splitStride + row*d),
					Layout: layout.NewRowMajor(t.rows, d), GroupStride: s.QuerySeq * d,
				}
				if !out.lse.IsNil() {
					dst.LSE, dst.LSEGroupStride = out.lse.Offset(t.split*out.lseSplitStride+row), s.QuerySeq
				}
				rescale := func(j int) {
					core.CrossCoreWaitFlag(flagPVDone)
					_, _, gmO := ws.slots(core.BlockIdx(), j)
					r.Run(gmO, t.rows, j == 0, j == t.tiles-1, j, dst)
				}
				for j := range t.tiles {
					core.CrossCoreWaitFlag(flagCubeDone)
					gmS, gmP, _ := ws.slots(core.BlockIdx(), j)
					cols := t.cols(j, p.blockN)
					var (
						mask       arch.Tensor[T]
						maskLayout layout.RowMajor
					)
					if p.causal {
						mask = gmMask.Offset(t.q0*s.KeySeq + j*p.blockN)
						maskLayout = layout.NewRowMajorLd(t.rows, cols, s.KeySeq)
					}
					sm.Run(gmS, gmP, mask, maskLayout, t.rows, cols, j == 0, j)
					core.CrossCoreSetFlag(arch.CrossCorePair, arch.PipeMTE3, flagVectorDone)
					if j > 0 {
						rescale(j - 1)
					}
				}
				rescale(t.tiles - 1)
			}
			r.Close()
			sm.Close()
		},
	})
}

// combineRows is the number of rows merged by a task of the LSE combine launch.
const combineRows = 64

// launchLSECombine merges the partial outputs of the splits of p into o, with every vector core of the launch
// taking chunks of combineRows rows.
func launchLSECombine[T dtypes.Float](p attentionPlan, lo LaunchOptions, partials, lses []float32, o []T, rows int) (
	arch.LaunchReport, error) {
	d := p.shape.HeadDim
	chunks := coord.CeilDiv(rows, combineRows)
	gmO, gmLSE, gmOut := arch.GlobalTensor(partials), arch.GlobalTensor(lses), arch.GlobalTensor(o)
	layoutOut := layout.NewRowMajor(rows, d)
	return launch(lo, coord.CeilDiv(chunks, arch.SubBlockNum), fmt.Sprintf("%d rows x %d splits", rows, p.splits),
		arch.Kernel{
			Name: "lse-combine",
			Vector: func(core *arch.Core) {
				c := must.M1(epilogue.NewLSECombine[T](core, epilogue.LSEConfig{Arch: p.tag, Splits: p.splits, HeadDim: d}))
				for i := core.VectorIdx(); i < chunks; i += core.BlockNum() * core.SubBlockNum() {
					row := i * combineRows
					c.Run(gmO, rows*d, gmLSE, rows, gmOut, layoutOut, row, min(combineRows, rows-row))
				}
				c.Close()
			},
		})
}
