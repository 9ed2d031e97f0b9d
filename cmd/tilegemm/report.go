// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/gomlx/tilegemm/pkg/arch"
	"github.com/gomlx/tilegemm/pkg/kernels"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"k8s.io/klog/v2"
)

// Report is the JSON report of a run.
type Report struct {
	Started time.Time `json:"started"`
	Arch    string    `json:"arch"`
	Suites  []string  `json:"suites"`
	Results []Result  `json:"results"`
	Failed  int       `json:"failed"`
}

func runCmd() *cli.Command {
	var (
		jsonPath   string
		sequential bool
		poison     bool
		watchdog   time.Duration
		blockDim   int
	)
	return &cli.Command{
		Name:      "run",
		Usage:     "run suites of problems and check them against the host reference",
		ArgsUsage: "[suite.yaml...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "json", Usage: "write the report as JSON to this file", Destination: &jsonPath},
			&cli.BoolFlag{Name: "sequential", Usage: "run the pipes of each core one instruction at a time",
				Destination: &sequential},
			&cli.BoolFlag{Name: "poison", Usage: "fill freshly allocated on-chip buffers with garbage",
				Destination: &poison},
			&cli.DurationFlag{Name: "watchdog", Usage: "abort a launch stuck on a synchronization for this long",
				Value: time.Minute, Destination: &watchdog},
			&cli.IntFlag{Name: "block-dim", Usage: "number of AI cores of each launch, 0 for one per task",
				Destination: &blockDim},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			suites, err := suitesFromArgs(cmd.Args().Slice())
			if err != nil {
				return err
			}
			lo := kernels.LaunchOptions{
				Exec:     arch.Config{Sequential: sequential, Poison: poison, Watchdog: watchdog},
				BlockDim: blockDim,
			}
			report := runSuites(suites, lo, os.Stderr)
			printResults(os.Stdout, report.Results)
			if jsonPath != "" {
				if err := writeJSON(jsonPath, report); err != nil {
					return err
				}
			}
			if report.Failed > 0 {
				return errors.Errorf("%d of %d cases failed", report.Failed, len(report.Results))
			}
			return nil
		},
	}
}

// suitesFromArgs loads the suite files, or the default suite if there are none.
func suitesFromArgs(paths []string) ([]*Suite, error) {
	if len(paths) == 0 {
		return []*Suite{must.M1(parseSuite([]byte(defaultSuite)))}, nil
	}
	suites := make([]*Suite, 0, len(paths))
	for _, path := range paths {
		s, err := loadSuite(path)
		if err != nil {
			return nil, err
		}
		suites = append(suites, s)
	}
	return suites, nil
}

// runSuites runs every case, drawing a progress bar to w.
func runSuites(suites []*Suite, lo kernels.LaunchOptions, w io.Writer) Report {
	report := Report{Started: time.Now(), Arch: lo.Exec.WithDefaults().Tag.String()}
	numCases := 0
	for _, s := range suites {
		report.Suites = append(report.Suites, s.Name)
		numCases += len(s.Cases)
	}
	bar := progressbar.NewOptions(numCases,
		progressbar.OptionSetDescription("cases"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("cases"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(w),
		progressbar.OptionClearOnFinish(),
	)
	for _, s := range suites {
		for i := range s.Cases {
			c := &s.Cases[i]
			bar.Describe(c.Name)
			res := runCase(c, lo)
			klog.V(1).Infof("%s/%s: passed=%v, %s in %s", s.Name, c.Name, res.Passed, humanize.Comma(res.Ops),
				res.Elapsed)
			if !res.Passed {
				report.Failed++
			}
			report.Results = append(report.Results, res)
			_ = bar.Add(1)
		}
	}
	_ = bar.Finish()
	return report
}

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	passStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#40a040")).Padding(0, 1)
	failStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#d04040")).Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// newTable returns a table in the style of the tool, with the columns from firstRight on right-aligned.
func newTable(firstRight int, styles func(row, col int) (lipgloss.Style, bool)) *lgtable.Table {
	lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			if styles != nil {
				if s, ok := styles(row, col); ok {
					return s
				}
			}
			if col >= firstRight {
				return rightAlignedStyle
			}
			return normalStyle
		})
}

// printResults prints one row per case.
func printResults(w io.Writer, results []Result) {
	const statusCol = 8
	t := newTable(3, func(row, col int) (lipgloss.Style, bool) {
		if col != statusCol || row < 0 || row >= len(results) {
			return lipgloss.Style{}, false
		}
		if results[row].Passed {
			return passStyle, true
		}
		return failStyle, true
	})
	t.Headers("case", "kernel", "dtype", "cores", "ops", "flags", "memory", "max |diff|", "status")
	for _, r := range results {
		status := "ok"
		switch {
		case r.Error != "":
			status = r.Error
		case !r.Passed:
			status = "mismatch"
		}
		t.Row(r.Case, r.Kernel, r.DType, strconv.Itoa(r.BlockDim), humanize.Comma(r.Ops),
			humanize.Comma(r.CrossCoreFlags), humanize.IBytes(uint64(r.Bytes)), fmt.Sprintf("%.3g", r.MaxAbsDiff), status)
	}
	_, _ = fmt.Fprintln(w, t.Render())
}

// writeJSON writes the report to path.
func writeJSON(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode the report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write the report to %q", path)
	}
	klog.V(1).Infof("report written to %s", path)
	return nil
}
