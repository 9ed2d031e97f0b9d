// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"time"

	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/core/dtypes/bfloat16"
	epilogue "github.com/gomlx/tilegemm/pkg/epilogue/block"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	"github.com/gomlx/tilegemm/pkg/gemm"
	"github.com/gomlx/tilegemm/pkg/gemv"
	"github.com/gomlx/tilegemm/pkg/kernels"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/gomlx/tilegemm/pkg/reference"
	"github.com/gomlx/tilegemm/pkg/support/xslices"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Result of one case, as reported in the table and in the JSON report.
type Result struct {
	Case           string           `json:"case"`
	Kernel         string           `json:"kernel"`
	DType          string           `json:"dtype"`
	LaunchID       string           `json:"launch_id,omitempty"`
	BlockDim       int              `json:"block_dim"`
	Elapsed        time.Duration    `json:"elapsed_ns"`
	Ops            int64            `json:"ops"`
	PipeOps        map[string]int64 `json:"pipe_ops,omitempty"`
	CrossCoreFlags int64            `json:"cross_core_flags"`
	Bytes          int              `json:"bytes"`
	MaxAbsDiff     float64          `json:"max_abs_diff"`
	Passed         bool             `json:"passed"`
	Error          string           `json:"error,omitempty"`
}

// outcome is what a kernel run returns to runCase: the launch report, the output and its expected value, and
// the global memory used by the operands.
type outcome struct {
	report    arch.LaunchReport
	got, want reference.Matrix
	bytes     int
}

// runCase runs c and checks its output. Errors are reported in the result.
func runCase(c *Case, lo kernels.LaunchOptions) Result {
	res := Result{Case: c.Name, Kernel: c.Kernel, DType: c.DType}
	var (
		out outcome
		err error
	)
	switch c.DType {
	case "float16":
		out, err = runFloat[float16.Float16](c, lo)
	case "bfloat16":
		out, err = runFloat[bfloat16.BFloat16](c, lo)
	case "float32":
		out, err = runFloat[float32](c, lo)
	case "int8":
		out, err = runQuant(c, lo)
	default:
		err = errors.Errorf("unknown dtype %q", c.DType)
	}
	if err != nil {
		klog.Errorf("case %s: %+v", c.Name, err)
		res.Error = err.Error()
		return res
	}
	r := out.report
	res.LaunchID, res.BlockDim, res.Elapsed = r.ID.String(), r.BlockDim, r.Elapsed
	res.CrossCoreFlags = r.Stats.CrossCoreFlags
	res.PipeOps = make(map[string]int64)
	for p, n := range r.Stats.Ops {
		res.Ops += n
		if n > 0 {
			res.PipeOps[arch.Pipe(p).String()] = n
		}
	}
	res.Bytes = out.bytes
	res.MaxAbsDiff = xslices.MaxAbsDiff(out.got.Data, out.want.Data)
	atol, rtol := c.tolerance()
	res.Passed, _ = reference.AllClose(out.got, out.want, atol, rtol)
	return res
}

// tolerance of the check of the case.
func (c *Case) tolerance() (atol, rtol float64) {
	switch c.DType {
	case "float32":
		atol, rtol = 1e-4, 1e-4
	case "bfloat16":
		atol, rtol = 5e-2, 2e-2
	default:
		atol, rtol = 1e-2, 2e-2
	}
	if c.Atol != nil {
		atol = *c.Atol
	}
	if c.Rtol != nil {
		rtol = *c.Rtol
	}
	return
}

// newMatrix returns a rows x cols matrix of the kind with ldPad extra elements per leading dimension.
func newMatrix[T dtypes.Supported](kind layout.Kind, rows, cols, ldPad int, fill func(n int) []T) kernels.Matrix[T] {
	if kind == layout.KindColumnMajor {
		return kernels.Matrix[T]{Data: fill(cols * (rows + ldPad)), Layout: layout.NewColumnMajorLd(rows, cols, rows+ldPad)}
	}
	return kernels.Matrix[T]{Data: fill(rows * (cols + ldPad)), Layout: layout.NewRowMajorLd(rows, cols, cols+ldPad)}
}

func ints[T dtypes.Supported](seed int) func(n int) []T {
	return func(n int) []T { return reference.FillInts[T](n, seed) }
}

func uniform[T dtypes.Supported](seed uint64, scale float64) func(n int) []T {
	return func(n int) []T { return reference.FillUniform[T](n, seed, scale) }
}

func toReference[T dtypes.Supported](m kernels.Matrix[T]) reference.Matrix {
	return reference.FromLayout(m.Data, m.Layout)
}

func sizeOf[T dtypes.Supported](slices ...[]T) int {
	n := 0
	for _, s := range slices {
		n += len(s)
	}
	return n * dtypes.FromGenericsType[T]().Size()
}

// typed fills the element types of the cube configuration with AB operands and a D row-major output.
func typed[AB, D dtypes.Supported](opts kernels.MatmulOptions, a, b kernels.Matrix[AB]) kernels.MatmulOptions {
	ab := dtypes.FromGenericsType[AB]()
	opts.Gemm.A = gemm.GmType(ab, a.Layout.Kind())
	opts.Gemm.B = gemm.GmType(ab, b.Layout.Kind())
	opts.Gemm.C = gemm.GmType(dtypes.FromGenericsType[D](), layout.KindRowMajor)
	return opts
}

func runFloat[T dtypes.Float](c *Case, lo kernels.LaunchOptions) (out outcome, err error) {
	switch c.Kernel {
	case "gemv":
		return runGemv[T](c, lo)
	case "attention":
		return runAttention[T](c, lo)
	}

	kindA, _ := c.layout(c.LayoutA)
	kindB, _ := c.layout(c.LayoutB)
	fillA, fillB := ints[T](1), ints[T](2)
	if c.Kernel == "elemwise" {
		fillA, fillB = uniform[T](1, 0.5), uniform[T](2, 0.5)
	}
	a := newMatrix(kindA, c.M, c.K, c.LdPad, fillA)
	b := newMatrix(kindB, c.K, c.N, c.LdPad, fillB)
	d := kernels.RowMajor(make([]T, c.M*c.N), c.M, c.N)
	product := reference.Gemm(toReference(a), toReference(b))
	out.bytes = sizeOf(a.Data, b.Data, d.Data)
	opts := typed[T, T](c.matmulOptions(lo), a, b)

	switch c.Kernel {
	case "matmul":
		out.report, err = kernels.Matmul[T, float32, T](a, b, d, opts)
		out.want = reference.Round[T](product)
	case "padding-matmul":
		out.report, err = kernels.PaddingMatmul[T, float32, T](a, b, d, opts)
		out.want = reference.Round[T](product)
	case "split-k":
		out.report, err = kernels.SplitKMatmul(a, b, d, kernels.SplitKOptions{MatmulOptions: opts, SplitK: c.SplitK})
		out.want = reference.Round[T](product)
	case "gemm":
		x := kernels.RowMajor(reference.FillInts[T](c.M*c.N, 3), c.M, c.N)
		out.bytes += sizeOf(x.Data)
		out.report, err = kernels.Gemm(a, b, x, d, c.Alpha, c.Beta, kernels.EpilogueOptions{MatmulOptions: opts})
		out.want = reference.Round[T](reference.Axpby(float64(c.Alpha), product, float64(c.Beta), toReference(x)))
	case "elemwise":
		act := tile.ActivationIdentity
		if c.Activation != "" {
			act, _ = tile.ActivationString(c.Activation)
		}
		epi := epilogue.Config{Activation: act}
		rounded := reference.Round[T](product)
		var x kernels.Matrix[T]
		if c.WithSource {
			epi.Policy = epilogue.EpilogueAtlasA2ElemWiseOneSource{}
			x = kernels.RowMajor(reference.FillUniform[T](c.M*c.N, 3, 1), c.M, c.N)
			out.bytes += sizeOf(x.Data)
			out.want = reference.Round[T](reference.Axpby(1, rounded, 1, toReference(x)))
		} else {
			out.want = reference.Round[T](reference.Apply(rounded, activation(act)))
		}
		out.report, err = kernels.MatmulElemWise[T, float32, T](a, b, x, d, kernels.EpilogueOptions{MatmulOptions: opts, Epilogue: epi})
	default:
		err = errors.Errorf("kernel %s doesn't take %s operands", c.Kernel, c.DType)
	}
	out.got = toReference(d)
	return
}

func activation(act tile.Activation) func(float64) float64 {
	switch act {
	case tile.ActivationGelu:
		return reference.Gelu
	case tile.ActivationSwish:
		return reference.Swish
	}
	return func(v float64) float64 { return v }
}

func runGemv[T dtypes.Float](c *Case, lo kernels.LaunchOptions) (out outcome, err error) {
	kindA, _ := c.layout(c.LayoutA)
	a := newMatrix(kindA, c.M, c.N, c.LdPad, uniform[T](1, 1))
	x := reference.FillUniform[T](c.N, 2, 1)
	var y []T
	beta := 0.0
	if c.Beta != 0 {
		y, beta = reference.FillUniform[T](c.M, 3, 1), float64(c.Beta)
	}
	z := make([]T, c.M)
	out.bytes = sizeOf(a.Data, x, y, z)
	out.report, err = kernels.Gemv(a, x, y, z, c.Alpha, c.Beta, kernels.GemvOptions{LaunchOptions: lo, Gemv: gemv.Config{}})
	var yRef []float64
	if y != nil {
		yRef = reference.Vector(y)
	}
	want := reference.Gemv(toReference(a), reference.Vector(x), float64(c.Alpha), beta, yRef)
	out.want = reference.Matrix{Rows: c.M, Cols: 1, Data: want}
	out.got = reference.Matrix{Rows: c.M, Cols: 1, Data: reference.Vector(z)}
	return
}

func runAttention[T dtypes.Float](c *Case, lo kernels.LaunchOptions) (out outcome, err error) {
	ac := c.Attention
	shape := kernels.AttentionShape{Batch: ac.Batch, Heads: ac.Heads, KVHeads: ac.KVHeads, QuerySeq: ac.QuerySeq,
		KeySeq: ac.KeySeq, HeadDim: ac.HeadDim}
	if shape.KVHeads == 0 {
		shape.KVHeads = shape.Heads
	}
	if shape.Batch <= 0 || shape.Heads <= 0 || shape.KVHeads <= 0 {
		return out, errors.Errorf("invalid attention shape %s", shape)
	}
	qLen := shape.Batch * shape.Heads * shape.QuerySeq * shape.HeadDim
	kvLen := shape.Batch * shape.KVHeads * shape.KeySeq * shape.HeadDim
	q, k, v := reference.FillUniform[T](qLen, 1, 1), reference.FillUniform[T](kvLen, 2, 1), reference.FillUniform[T](kvLen, 3, 1)
	o := make([]T, qLen)
	out.bytes = sizeOf(q, k, v, o)
	opts := kernels.AttentionOptions{LaunchOptions: lo, BlockM: ac.BlockM, BlockN: ac.BlockN, Scale: ac.Scale,
		Causal: ac.Causal, KVSplits: ac.KVSplits}
	if ac.SplitRow {
		opts.Rescale = epilogue.EpilogueAtlasA2RescaleOSplitRow{}
	}
	out.report, err = kernels.FlashAttention(q, k, v, o, nil, shape, opts)
	if err != nil {
		return
	}
	scale := 1 / math.Sqrt(float64(shape.HeadDim))
	if ac.Scale != 0 {
		scale = float64(ac.Scale)
	}
	out.want, _ = reference.GroupedAttention(reference.Vector(q), reference.Vector(k), reference.Vector(v), shape.Batch,
		shape.Heads, shape.KVHeads, shape.QuerySeq, shape.KeySeq, shape.HeadDim, scale, ac.Causal)
	out.got = reference.Matrix{Rows: out.want.Rows, Cols: out.want.Cols, Data: reference.Vector(o)}
	return
}

// quantPowers are the scales of the int8 kernels.
var quantPowers = []float32{0.25, 0.5, 1, 0.125}

// runQuant runs the int8 kernels, with float16 outputs and power-of-two scales.
func runQuant(c *Case, lo kernels.LaunchOptions) (out outcome, err error) {
	kindA, _ := c.layout(c.LayoutA)
	kindB, _ := c.layout(c.LayoutB)
	a := newMatrix(kindA, c.M, c.K, c.LdPad, ints[int8](1))
	b := newMatrix(kindB, c.K, c.N, c.LdPad, ints[int8](2))
	d := kernels.RowMajor(make([]float16.Float16, c.M*c.N), c.M, c.N)
	product := reference.Gemm(toReference(a), toReference(b))
	scales := make([]float32, c.N)
	for j := range scales {
		scales[j] = quantPowers[j%len(quantPowers)]
	}
	out.bytes = sizeOf(a.Data, b.Data) + sizeOf(d.Data) + sizeOf(scales)
	opts := typed[int8, float16.Float16](c.matmulOptions(lo), a, b)
	switch c.Kernel {
	case "quant-matmul":
		opts.Gemm.ScaleGranularity = gemm.ScaleGranularityPerChannel
		out.report, err = kernels.QuantMatmul(a, b, scales, d, opts)
		out.want = reference.Round[float16.Float16](reference.ScaleColumns(product, reference.Vector(scales), nil))
	case "grouped-dequant":
		return runGroupedDequant(c, a, d, kernels.EpilogueOptions{MatmulOptions: opts})
	case "per-token-dequant":
		perToken := make([]float32, c.M)
		for i := range perToken {
			perToken[i] = quantPowers[(i+1)%len(quantPowers)]
		}
		out.bytes += sizeOf(perToken)
		out.report, err = kernels.QuantMatmulPerToken(a, b, scales, perToken, d, kernels.EpilogueOptions{MatmulOptions: opts})
		out.want = reference.Round[float16.Float16](reference.ScaleColumns(product, reference.Vector(scales),
			reference.Vector(perToken)))
	default:
		err = errors.Errorf("kernel %s doesn't take int8 operands", c.Kernel)
	}
	out.got = toReference(d)
	return
}

// runGroupedDequant runs the grouped per-token dequant matmul over c.Groups, with a B for each group.
func runGroupedDequant(c *Case, a kernels.Matrix[int8], d kernels.Matrix[float16.Float16], opts kernels.EpilogueOptions) (
	out outcome, err error) {
	kindB, _ := c.layout(c.LayoutB)
	var b kernels.Matrix[int8]
	refB := make([]reference.Matrix, len(c.Groups))
	for g := range c.Groups {
		bg := newMatrix(kindB, c.K, c.N, c.LdPad, ints[int8](g+2))
		refB[g] = toReference(bg)
		b.Data, b.Layout = append(b.Data, bg.Data...), bg.Layout
	}
	scales, perToken := make([]float32, len(c.Groups)*c.N), make([]float32, c.M)
	for j := range scales {
		scales[j] = quantPowers[(j+j/c.N)%len(quantPowers)]
	}
	for i := range perToken {
		perToken[i] = quantPowers[(i+1)%len(quantPowers)]
	}
	out.bytes = sizeOf(a.Data, b.Data) + sizeOf(d.Data) + sizeOf(scales, perToken)
	out.report, err = kernels.GroupedMatmulSliceMPerTokenDequant(c.Groups, a, b, scales, perToken, d, opts)
	if err != nil {
		return
	}
	refA := toReference(a)
	want := reference.NewMatrix(c.M, c.N)
	start := 0
	for g, prefix := range c.Groups {
		end := int(prefix)
		rows := reference.Matrix{Rows: end - start, Cols: c.K, Data: refA.Data[start*c.K : end*c.K]}
		scaled := reference.ScaleColumns(reference.Gemm(rows, refB[g]), reference.Vector(scales[g*c.N:(g+1)*c.N]),
			reference.Vector(perToken[start:end]))
		copy(want.Data[start*c.N:end*c.N], scaled.Data)
		start = end
	}
	out.want = reference.Round[float16.Float16](want)
	out.got = toReference(d)
	return
}
