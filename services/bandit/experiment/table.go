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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

var (
	colorTeal  = lipgloss.Color("#20B9B4")
	colorDeep  = lipgloss.Color("#16858E")
	colorSlate = lipgloss.Color("#2C4A54")
	colorBest  = lipgloss.Color("#2CD7C7")
)

// BestMarker follows the lowest mean time of every table row.
const BestMarker = " *"

// IsTerminal reports whether w is a terminal, so colour is worth emitting.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// RenderTable renders the mean times of one mode as a table: one row per
// sweep value, one column per policy. The best policy of every row is
// suffixed with BestMarker, and highlighted when color is set.
func RenderTable(run *Run, mode string, color bool) string {
	values, rows := run.Grid(mode)

	headers := append([]string{run.Variable}, run.Policies...)
	cells := make([][]string, len(values))
	bestCol := make([]int, len(values))
	for i, v := range values {
		best := 0
		for j, res := range rows[i] {
			if res.MeanTime < rows[i][best].MeanTime {
				best = j
			}
		}
		bestCol[i] = best + 1

		row := make([]string, 0, len(rows[i])+1)
		row = append(row, formatFloat(v))
		for j, res := range rows[i] {
			cell := fmt.Sprintf("%.2f", res.MeanTime)
			if j == best {
				cell += BestMarker
			}
			row = append(row, cell)
		}
		cells[i] = row
	}

	base := lipgloss.NewStyle().Padding(0, 1)
	header := base.Bold(true)
	border := lipgloss.NewStyle()
	if color {
		header = header.Foreground(colorTeal)
		border = border.Foreground(colorDeep)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(border).
		Headers(headers...).
		Rows(cells...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case !color:
				return base
			case row >= 0 && row < len(bestCol) && col == bestCol[row]:
				return base.Foreground(colorBest).Bold(true)
			case col == 0:
				return base.Foreground(colorSlate)
			default:
				return base
			}
		})

	var b strings.Builder
	title := fmt.Sprintf("%s (%s), mean service time over %d trials", run.Label, mode, run.Trials)
	if color {
		title = lipgloss.NewStyle().Bold(true).Foreground(colorTeal).Render(title)
	}
	b.WriteString(title)
	b.WriteByte('\n')
	b.WriteString(t.Render())
	b.WriteByte('\n')
	return b.String()
}
