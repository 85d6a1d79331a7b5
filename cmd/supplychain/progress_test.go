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
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/supplychain/services/bandit/experiment"
)

func TestProgressModel_CountsResults(t *testing.T) {
	var m tea.Model = newProgressModel(4)
	assert.Contains(t, m.View(), "0/4")

	m, cmd := m.Update(resultMsg(experiment.Result{Policy: "greedy", Mode: "dynamic", SweepValue: 1.5}))
	assert.Nil(t, cmd)
	m, _ = m.Update(resultMsg(experiment.Result{Policy: "l-split", Mode: "static", SweepValue: 2}))

	view := m.View()
	assert.Contains(t, view, "2/4")
	assert.Contains(t, view, "l-split (static, 2)")
}

func TestProgressModel_QuitsWhenDone(t *testing.T) {
	m := newProgressModel(1)
	_, cmd := m.Update(runDoneMsg{})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestProgressModel_ZeroTotal(t *testing.T) {
	assert.Contains(t, newProgressModel(0).View(), "0/0")
}
