// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/tilegemm/pkg/coord"
	"github.com/gomlx/tilegemm/pkg/core/dtypes"
	"github.com/gomlx/tilegemm/pkg/layout"
	"github.com/gomlx/tilegemm/pkg/layout/tla"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

func layoutsCmd() *cli.Command {
	var (
		rows, cols           int
		blockRows, blockCols int
		dtypeName            string
	)
	return &cli.Command{
		Name:  "layouts",
		Usage: "show how a matrix is addressed by each layout",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "rows", Value: 40, Destination: &rows},
			&cli.IntFlag{Name: "cols", Value: 70, Destination: &cols},
			&cli.StringFlag{Name: "dtype", Value: "float16", Usage: "element type", Destination: &dtypeName},
			&cli.IntFlag{Name: "block-rows", Value: 32, Usage: "rows of the blocks of the padding layouts",
				Destination: &blockRows},
			&cli.IntFlag{Name: "block-cols", Value: 64, Usage: "columns of the blocks of the padding layouts",
				Destination: &blockCols},
		},
		Action: func(_ context.Context, _ *cli.Command) error {
			dtype, found := dtypes.MapOfNames[dtypeName]
			if !found {
				return errors.Errorf("unknown dtype %q", dtypeName)
			}
			if rows <= 0 || cols <= 0 || blockRows <= 0 || blockCols <= 0 {
				return errors.Errorf("invalid shape %d x %d or block %d x %d", rows, cols, blockRows, blockCols)
			}
			printLayouts(os.Stdout, dtype, allLayouts(dtype, rows, cols, blockRows, blockCols))
			return nil
		},
	}
}

// allLayouts returns every layout of a rows x cols matrix of dtype.
func allLayouts(dtype dtypes.DType, rows, cols, blockRows, blockCols int) []layout.Matrix {
	return []layout.Matrix{
		layout.NewRowMajor(rows, cols),
		layout.NewColumnMajor(rows, cols),
		layout.MakeZN(dtype, rows, cols),
		layout.MakeNZ(dtype, rows, cols),
		layout.MakeZZ(dtype, rows, cols),
		layout.MakeNN(dtype, rows, cols),
		layout.NewPaddingRowMajor(rows, cols, blockRows, blockCols),
		layout.NewPaddingColumnMajor(rows, cols, blockRows, blockCols),
	}
}

// printLayouts prints the nested shape and stride of each layout, the offsets of the corners, and the memory
// with its overhead over the dense matrix.
func printLayouts(w io.Writer, dtype dtypes.DType, layouts []layout.Matrix) {
	t := newTable(2, nil)
	t.Headers("kind", "shape:stride", "(0,1)", "(1,0)", "last", "span", "memory", "padding")
	for _, l := range layouts {
		org := l.OrgShape()
		dense := org.Count()
		last := coord.MakeMatrixCoord(org.Row-1, org.Column-1)
		span := l.Span()
		t.Row(l.Kind().String(), tla.FromMatrix(l).String(),
			offset(l, coord.MakeMatrixCoord(0, 1)), offset(l, coord.MakeMatrixCoord(1, 0)),
			strconv.Itoa(l.Offset(last)), humanize.Comma(int64(span)),
			humanize.IBytes(uint64(dtype.SizeForDimensions(span))),
			fmt.Sprintf("%.1f%%", 100*float64(span-dense)/float64(dense)))
	}
	_, _ = fmt.Fprintln(w, t.Render())
}

// offset of c, or "-" if it is outside the matrix.
func offset(l layout.Matrix, c coord.MatrixCoord) string {
	org := l.OrgShape()
	if c.Row >= org.Row || c.Column >= org.Column {
		return "-"
	}
	return strconv.Itoa(l.Offset(c))
}
