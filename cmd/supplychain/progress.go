// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/supplychain/services/bandit/experiment"
)

type resultMsg experiment.Result

type runDoneMsg struct{}

var progressLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#16858E"))

// progressModel shows how many policy runs of an experiment have finished.
type progressModel struct {
	bar   progress.Model
	total int
	done  int
	last  string
}

func newProgressModel(total int) progressModel {
	return progressModel{
		bar:   progress.New(progress.WithGradient("#2C4A54", "#20B9B4"), progress.WithWidth(40)),
		total: total,
	}
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case resultMsg:
		m.done++
		m.last = fmt.Sprintf("%s (%s, %g)", msg.Policy, msg.Mode, msg.SweepValue)
		return m, nil
	case runDoneMsg:
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-30, 10), 60)
		return m, nil
	}
	return m, nil
}

func (m progressModel) View() string {
	frac := 0.0
	if m.total > 0 {
		frac = float64(m.done) / float64(m.total)
	}
	var b strings.Builder
	b.WriteString(m.bar.ViewAs(frac))
	fmt.Fprintf(&b, " %d/%d", m.done, m.total)
	if m.last != "" {
		b.WriteString("  " + progressLabelStyle.Render(m.last))
	}
	b.WriteString("\n")
	return b.String()
}

// progressReporter draws a progress bar on out while a run executes.
type progressReporter struct {
	program *tea.Program
	done    chan struct{}
}

// startProgress starts drawing. Call finish once the run has returned.
func startProgress(ctx context.Context, out io.Writer, total int) *progressReporter {
	p := &progressReporter{
		program: tea.NewProgram(newProgressModel(total),
			tea.WithContext(ctx),
			tea.WithOutput(out),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		_, _ = p.program.Run()
	}()
	return p
}

func (p *progressReporter) report(res experiment.Result) {
	p.program.Send(resultMsg(res))
}

func (p *progressReporter) finish() {
	p.program.Send(runDoneMsg{})
	<-p.done
}
