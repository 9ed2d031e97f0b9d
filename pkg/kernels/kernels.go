// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels holds complete kernels built from the block GEMMs and the block epilogues: the code that
// runs on each AI core of a launch, and the host-side entry points that validate a problem and launch it.
//
// Operands are Go slices bound to global memory. The entry points return an error only when the problem or
// its configuration is invalid (before anything runs), or when the launch faults.
//
// Kernels that need both units split the work between the cube core and the two vector cores of each AI core,
// and hand the intermediate results over through global-memory workspaces guarded by cross-core flags.
package kernels

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// Cross-core flags used between the cube core and the vector cores of an AI core.
const (
	// flagCubeDone is raised on the vector cores when the cube core finished writing a tile of the workspace.
	flagCubeDone = 0

	// flagVectorDone is raised on the cube core when both vector cores are done with a workspace slot.
	flagVectorDone = 1

	// flagPVDone is raised on the vector cores when the partial output P·V of a key tile is in the workspace.
	flagPVDone = 2
)

// Matrix is an operand in global memory: its elements and the layout that addresses them.
type Matrix[T dtypes.Supported] struct {
	Data   []T
	Layout layout.Matrix
}

// RowMajor returns the dense rows x cols row-major matrix over data.
func RowMajor[T dtypes.Supported](data []T, rows, cols int) Matrix[T] {
	return Matrix[T]{Data: data, Layout: layout.NewRowMajor(rows, cols)}
}

// ColumnMajor returns the dense rows x cols column-major matrix over data.
func ColumnMajor[T dtypes.Supported](data []T, rows, cols int) Matrix[T] {
	return Matrix[T]{Data: data, Layout: layout.NewColumnMajor(rows, cols)}
}

// tensor returns the global tensor over the elements.
func (m Matrix[T]) tensor() arch.Tensor[T] { return arch.GlobalTensor(m.Data) }

func (m Matrix[T]) String() string {
	if m.Layout == nil {
		return "Matrix(nil)"
	}
	return fmt.Sprintf("Matrix(%s, %s)", dtypes.FromGenericsType[T](), m.Layout)
}

// check panics unless the layout describes a rows x cols matrix that fits in the data.
func (m Matrix[T]) check(name string, rows, cols int) {
	if m.Layout == nil {
		panicf("operand %s has no layout", name)
	}
	if shape := m.Layout.OrgShape(); shape.Row != rows || shape.Column != cols {
		panicf("operand %s is %s, expected %d x %d", name, shape, rows, cols)
	}
	if span := m.Layout.Span(); span > len(m.Data) {
		panicf("operand %s: layout %s addresses %d elements, the slice has %d", name, m.Layout, span, len(m.Data))
	}
}

// rowMajor returns the layout of the operand if it is row-major.
func (m Matrix[T]) rowMajor(name string) layout.RowMajor {
	rm, ok := m.Layout.(layout.RowMajor)
	if !ok {
		panicf("operand %s must be row-major for the vector epilogues, got %s", name, m.Layout)
	}
	return rm
}

// LaunchOptions are the execution options shared by all kernels.
type LaunchOptions struct {
	// Exec configures the simulated device: architecture, pipe mode, watchdog.
	Exec arch.Config

	// BlockDim is the number of AI cores of the launch. 0 uses as many cores as there are tasks, up to the
	// number of cores of the architecture.
	BlockDim int
}

// blockDim returns the number of AI cores to launch for the number of tasks.
func (o LaunchOptions) blockDim(tasks int) int {
	if o.BlockDim > 0 {
		return o.BlockDim
	}
	return max(1, min(tasks, o.Exec.WithDefaults().Tag.CoreNum))
}

// checked runs the validation fn, converting panics to an error prefixed by the kernel name.
func checked(name string, fn func()) error {
	if err := exceptions.TryCatch[error](fn); err != nil {
		return errors.WithMessage(err, name)
	}
	return nil
}

// launch runs the kernel and logs the problem it solved.
func launch(opts LaunchOptions, tasks int, problem string, kernel arch.Kernel) (arch.LaunchReport, error) {
	report, err := arch.Launch(opts.Exec, opts.blockDim(tasks), kernel)
	if err != nil {
		return report, err
	}
	klog.V(1).Infof("%s %s: %d tasks on %d cores, launch %s took %s", kernel.Name, problem, tasks, report.BlockDim,
		report.ID, report.Elapsed)
	return report, nil
}

// coreTasks returns the tasks of the AI core of core: every BlockNum-th task starting at its BlockIdx.
func coreTasks(core *arch.Core, tasks int) []int {
	var mine []int
	for idx := core.BlockIdx(); idx < tasks; idx += core.BlockNum() {
		mine = append(mine, idx)
	}
	return mine
}
