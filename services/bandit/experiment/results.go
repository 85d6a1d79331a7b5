// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// TSVFiles lists the files WriteTSV creates for a run: the summary first,
// then one grid per mode.
func TSVFiles(dir string, run *Run) []string {
	files := []string{filepath.Join(dir, fmt.Sprintf("output_%s.txt", run.Label))}
	for _, mode := range run.Modes {
		files = append(files, filepath.Join(dir, fmt.Sprintf("output_%s_%s.txt", run.Label, mode)))
	}
	return files
}

// WriteTSV writes the summary and per-mode grids of run into dir.
//
// Description:
//
//	output_<label>.txt describes the tree and lists the policies.
//	output_<label>_<mode>.txt has a header row, then one row per sweep
//	value: the value followed by the mean time of every policy, separated
//	by tabs.
//
// Outputs:
//
//	[]string - The files written.
//	error - Non-nil if dir or a file cannot be written.
func WriteTSV(dir string, run *Run) ([]string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	files := TSVFiles(dir, run)

	if err := writeFile(files[0], func(w io.Writer) error { return WriteSummary(w, run) }); err != nil {
		return nil, err
	}
	for i, mode := range run.Modes {
		if err := writeFile(files[i+1], func(w io.Writer) error { return WriteGrid(w, run, mode) }); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// WriteSummary writes the human-readable description of run.
func WriteSummary(w io.Writer, run *Run) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Run %s\n", run.ID)
	fmt.Fprintf(bw, "%d policies loaded, %d trials per policy\n", len(run.Policies), run.Trials)
	fmt.Fprintf(bw, "Tree setup:\n")
	fmt.Fprintf(bw, "    Tree has %d levels, including the root node\n", run.Tree.Depth)
	fmt.Fprintf(bw, "    Root node has %d children\n", run.Tree.RootChildren)
	fmt.Fprintf(bw, "    Other nodes have %d children\n", run.Tree.Children)
	fmt.Fprintf(bw, "    Total nodes = %d\n", run.Stats.Nodes)
	fmt.Fprintf(bw, "    Total agents = %d\n", run.Stats.Agents)
	fmt.Fprintf(bw, "    Total leaf-suppliers = %d\n", run.Stats.Leaves)
	fmt.Fprintf(bw, "    Arm averages start at %.1f and are %.2f apart (%s).\n",
		run.Tree.MeanTimeMin, run.Tree.MeanTimeIncrement, run.Tree.Shape)
	if run.Variable == SweepBudget {
		fmt.Fprintf(bw, "    The scale of all arm pulls is %.1f\n", run.Scale)
		fmt.Fprintf(bw, "    The root node's budget is swept.\n")
	} else {
		fmt.Fprintf(bw, "    The scale of all arm pulls is swept.\n")
		fmt.Fprintf(bw, "    The root node has an initial budget of %.1f.\n", run.Budget)
	}
	fmt.Fprintf(bw, "    All arms cost %.1f to pull.\n\n", run.Cost)
	for i, p := range run.Policies {
		fmt.Fprintf(bw, "Policy %2d: %15s\n", i+1, p)
	}
	return bw.Flush()
}

// WriteGrid writes the tab-separated mean times of one mode.
func WriteGrid(w io.Writer, run *Run, mode string) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(run.Variable)
	for _, p := range run.Policies {
		bw.WriteByte('\t')
		bw.WriteString(p)
	}
	bw.WriteByte('\n')

	values, rows := run.Grid(mode)
	for i, v := range values {
		bw.WriteString(formatFloat(v))
		for _, res := range rows[i] {
			bw.WriteByte('\t')
			bw.WriteString(formatFloat(res.MeanTime))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := fn(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
