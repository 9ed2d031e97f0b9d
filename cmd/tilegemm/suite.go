// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"slices"
	"strings"

	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/epilogue/tile"
	"github.com/gomlx/tilegemm/pkg/gemm"
	gemmblock "github.com/gomlx/tilegemm/pkg/gemm/block"
	"github.com/gomlx/tilegemm/pkg/kernels"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Suite is a YAML file of problems.
type Suite struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`
}

// Case is one problem of a suite. Fields irrelevant to the kernel are ignored.
type Case struct {
	Name   string `yaml:"name"`
	Kernel string `yaml:"kernel"`

	// DType of the operands: float16 (default), bfloat16, float32, or int8 for the quantized matmuls.
	DType string `yaml:"dtype"`

	M int `yaml:"m"`
	N int `yaml:"n"`
	K int `yaml:"k"`

	// LayoutA and LayoutB are "row" (default) or "column".
	LayoutA string `yaml:"layout_a"`
	LayoutB string `yaml:"layout_b"`

	// LdPad is added to the leading dimension of A and B.
	LdPad int `yaml:"ld_pad"`

	// Groups are the prefix sums of the group sizes along M of grouped-dequant. Each group has its own B.
	Groups []int64 `yaml:"groups"`

	// Policy of the block GEMM: pingpong (default), preload or gemm.
	Policy   string `yaml:"policy"`
	ShuffleK bool   `yaml:"shuffle_k"`
	ABBA     bool   `yaml:"abba"`

	// L1 is the (M, N, K) L1 tile shape; empty selects the default of the operand type.
	L1 []int `yaml:"l1"`

	Swizzle       string `yaml:"swizzle"`
	SwizzleOffset int    `yaml:"swizzle_offset"`
	SplitK        int    `yaml:"split_k"`

	Alpha      float32 `yaml:"alpha"`
	Beta       float32 `yaml:"beta"`
	Activation string  `yaml:"activation"`
	WithSource bool    `yaml:"with_source"`

	Attention *AttentionCase `yaml:"attention"`

	// Atol and Rtol override the tolerance of the check, which otherwise depends on DType.
	Atol *float64 `yaml:"atol"`
	Rtol *float64 `yaml:"rtol"`
}

// AttentionCase is the shape and the options of an attention problem.
type AttentionCase struct {
	Batch    int     `yaml:"batch"`
	Heads    int     `yaml:"heads"`
	KVHeads  int     `yaml:"kv_heads"`
	QuerySeq int     `yaml:"query_seq"`
	KeySeq   int     `yaml:"key_seq"`
	HeadDim  int     `yaml:"head_dim"`
	BlockM   int     `yaml:"block_m"`
	BlockN   int     `yaml:"block_n"`
	Causal   bool    `yaml:"causal"`
	KVSplits int     `yaml:"kv_splits"`
	SplitRow bool    `yaml:"split_row"`
	Scale    float32 `yaml:"scale"`
}

// Kernels accepted in Case.Kernel.
var caseKernels = []string{"matmul", "padding-matmul", "split-k", "gemm", "elemwise", "quant-matmul",
	"per-token-dequant", "grouped-dequant", "gemv", "attention"}

// quantized returns whether the kernel takes int8 operands.
func quantized(kernel string) bool {
	return kernel == "quant-matmul" || kernel == "per-token-dequant" || kernel == "grouped-dequant"
}

// defaultSuite is run when no suite file is given.
const defaultSuite = `
name: default
cases:
  - {name: matmul-f16, kernel: matmul, m: 256, n: 320, k: 512, policy: preload, shuffle_k: true}
  - {name: matmul-bf16-nt, kernel: matmul, dtype: bfloat16, m: 200, n: 130, k: 300, layout_b: column, policy: gemm, abba: true}
  - {name: matmul-f32, kernel: matmul, dtype: float32, m: 64, n: 96, k: 100, swizzle: Nz}
  - {name: padding-matmul, kernel: padding-matmul, m: 130, n: 150, k: 257, ld_pad: 3}
  - {name: split-k, kernel: split-k, m: 64, n: 64, k: 2048, split_k: 8}
  - {name: gemm, kernel: gemm, m: 100, n: 130, k: 96, alpha: 0.5, beta: 2}
  - {name: gelu, kernel: elemwise, m: 90, n: 128, k: 64, activation: gelu}
  - {name: quant-per-channel, kernel: quant-matmul, dtype: int8, m: 128, n: 256, k: 512}
  - {name: per-token-dequant, kernel: per-token-dequant, dtype: int8, m: 96, n: 200, k: 256}
  - {name: grouped-dequant, kernel: grouped-dequant, m: 160, n: 96, k: 128, groups: [50, 50, 130]}
  - {name: gemv-f32, kernel: gemv, dtype: float32, m: 1000, n: 700, alpha: 1.5, beta: 0.5}
  - {name: gemv-f16-t, kernel: gemv, m: 300, n: 200, layout_a: column, alpha: 1}
  - name: attention-gqa
    kernel: attention
    attention: {batch: 2, heads: 8, kv_heads: 2, query_seq: 64, key_seq: 300, head_dim: 64}
  - name: attention-causal
    kernel: attention
    attention: {batch: 1, heads: 4, kv_heads: 4, query_seq: 96, key_seq: 96, head_dim: 128, causal: true, block_n: 64}
  - name: flash-decoding
    kernel: attention
    attention: {batch: 4, heads: 16, kv_heads: 2, query_seq: 1, key_seq: 1000, head_dim: 128, kv_splits: 4}
`

// parseSuite decodes and validates a suite.
func parseSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "failed to decode suite")
	}
	if len(s.Cases) == 0 {
		return nil, errors.Errorf("suite %q has no cases", s.Name)
	}
	for i := range s.Cases {
		c := &s.Cases[i]
		if c.Name == "" {
			c.Name = c.Kernel
		}
		if err := c.validate(); err != nil {
			return nil, errors.WithMessagef(err, "suite %q, case #%d (%s)", s.Name, i, c.Name)
		}
	}
	return &s, nil
}

// loadSuite reads the suite at path.
func loadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read suite %q", path)
	}
	s, err := parseSuite(data)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}

func (c *Case) validate() error {
	if !slices.Contains(caseKernels, c.Kernel) {
		return errors.Errorf("unknown kernel %q, valid kernels are %s", c.Kernel, strings.Join(caseKernels, ", "))
	}
	if c.DType == "" {
		c.DType = "float16"
		if quantized(c.Kernel) {
			c.DType = "int8"
		}
	}
	switch c.DType {
	case "float16", "bfloat16", "float32", "int8":
	default:
		return errors.Errorf("unknown dtype %q", c.DType)
	}
	if (c.DType == "int8") != quantized(c.Kernel) {
		return errors.Errorf("dtype int8 goes with the quantized kernels only, got %s for %s", c.DType, c.Kernel)
	}
	if c.Kernel == "attention" {
		if c.Attention == nil {
			return errors.New("attention case without an attention shape")
		}
		return nil
	}
	if c.M <= 0 || c.N <= 0 || (c.Kernel != "gemv" && c.K <= 0) {
		return errors.Errorf("invalid problem m=%d, n=%d, k=%d", c.M, c.N, c.K)
	}
	if c.Kernel == "grouped-dequant" && len(c.Groups) == 0 {
		return errors.New("grouped-dequant case without groups")
	}
	if c.L1 != nil && len(c.L1) != 3 {
		return errors.Errorf("l1 must hold (M, N, K), got %v", c.L1)
	}
	if _, err := c.layout(c.LayoutA); err != nil {
		return err
	}
	if _, err := c.layout(c.LayoutB); err != nil {
		return err
	}
	if _, err := c.policy(); err != nil {
		return err
	}
	if c.Swizzle != "" {
		if _, err := gemmblock.SwizzleDirectionString(c.Swizzle); err != nil {
			return errors.Wrap(err, "invalid swizzle")
		}
	}
	if c.Activation != "" {
		if _, err := tile.ActivationString(c.Activation); err != nil {
			return errors.Wrap(err, "invalid activation")
		}
	}
	if c.Kernel == "split-k" && c.SplitK == 0 {
		c.SplitK = 4
	}
	if c.Alpha == 0 && (c.Kernel == "gemm" || c.Kernel == "gemv") {
		c.Alpha = 1
	}
	return nil
}

func (c *Case) layout(name string) (layout.Kind, error) {
	switch name {
	case "", "row":
		return layout.KindRowMajor, nil
	case "column":
		return layout.KindColumnMajor, nil
	}
	return 0, errors.Errorf("unknown layout %q, use row or column", name)
}

func (c *Case) policy() (gemm.DispatchPolicy, error) {
	switch c.Policy {
	case "", "pingpong":
		return gemm.MmadAtlasA2Pingpong{}, nil
	case "preload":
		return gemm.MmadAtlasA2Preload{EnableShuffleK: c.ShuffleK}, nil
	case "gemm":
		return gemm.GemmAtlasA2{EnableShuffleK: c.ShuffleK, EnableABBA: c.ABBA}, nil
	}
	return nil, errors.Errorf("unknown policy %q, use pingpong, preload or gemm", c.Policy)
}

// matmulOptions builds the cube options of the case; the element types are set by the runner.
func (c *Case) matmulOptions(lo kernels.LaunchOptions) kernels.MatmulOptions {
	policy, _ := c.policy()
	opts := kernels.MatmulOptions{LaunchOptions: lo, Gemm: gemm.Config{Policy: policy}, SwizzleOffset: c.SwizzleOffset}
	if c.Swizzle != "" {
		opts.SwizzleDirection, _ = gemmblock.SwizzleDirectionString(c.Swizzle)
	}
	if c.L1 != nil {
		opts.Gemm.L1TileShape = coord.MakeGemmCoord(c.L1[0], c.L1[1], c.L1[2])
	}
	return opts
}
