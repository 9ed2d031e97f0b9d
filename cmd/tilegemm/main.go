// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// tilegemm runs suites of GEMM, GEMV and attention problems on the simulated tile accelerator, checks every
// output against the host reference and reports the launches.
//
//	tilegemm run [--json report.json] [suite.yaml...]
//	tilegemm layouts --rows 40 --cols 70 --dtype float16
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	app := &cli.Command{
		Name:  "tilegemm",
		Usage: "block/tile matrix kernels on a simulated AI-core accelerator",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "v",
				Usage: "klog verbosity: 1 logs every launch, 2 the block stages",
				Action: func(_ context.Context, _ *cli.Command, v int) error {
					return flag.Set("v", strconv.Itoa(v))
				},
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			layoutsCmd(),
		},
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		klog.Errorf("%+v", err)
		_, _ = fmt.Fprintln(os.Stderr, err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}
