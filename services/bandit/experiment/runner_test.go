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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunner_RejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Trials = 0

	_, err := NewRunner(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewRunner_RejectsDuplicateLabels(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Policies = []PolicyConfig{{Kind: KindGreedy}, {Kind: KindGreedy}}

	_, err := NewRunner(cfg, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "duplicate policy label")
}

func TestNewRunner_RejectsUnbuildablePolicy(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Policies = []PolicyConfig{{Kind: KindPEEF, Epsilon: 0.05}}

	_, err := NewRunner(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunner_Run(t *testing.T) {
	r, err := NewRunner(smallConfig(t), nil)
	require.NoError(t, err)

	run, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "test", run.Label)
	assert.Equal(t, []string{"greedy", "(random)", "e-first(0.25)"}, run.Policies)
	assert.Equal(t, 6, run.Stats.Nodes)
	assert.Equal(t, 5, run.Stats.Leaves)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))
	require.Len(t, run.Results, 2*3*3)

	for _, mode := range []string{ModeDynamic, ModeStatic} {
		values, rows := run.Grid(mode)
		assert.Equal(t, []float64{1, 1.5, 2}, values)
		for i, row := range rows {
			require.Len(t, row, 3)
			for j, res := range row {
				assert.Equal(t, run.ID, res.RunID)
				assert.Equal(t, mode, res.Mode)
				assert.Equal(t, values[i], res.SweepValue)
				assert.Equal(t, run.Policies[j], res.Policy)
				assert.Equal(t, 20, res.Trials)
				assert.Equal(t, 20*40, res.Pulls)
				assert.Greater(t, res.MeanTime, 0.0)
				assert.GreaterOrEqual(t, res.OptimalRate, 0.0)
				assert.LessOrEqual(t, res.OptimalRate, 1.0)
			}
		}
	}
}

func TestRunner_OnResultSeesEveryResult(t *testing.T) {
	r, err := NewRunner(smallConfig(t), nil)
	require.NoError(t, err)

	var seen []Result
	run, err := r.OnResult(func(res Result) { seen = append(seen, res) }).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, len(run.Results))
	assert.ElementsMatch(t, run.Results, seen)
}

func TestRunner_RunIsIndependentOfWorkers(t *testing.T) {
	results := func(workers int) []Result {
		cfg := smallConfig(t)
		cfg.Workers = workers
		r, err := NewRunner(cfg, nil)
		require.NoError(t, err)
		run, err := r.Run(context.Background())
		require.NoError(t, err)
		return run.Results
	}

	serial, parallel := results(1), results(8)
	require.Len(t, parallel, len(serial))
	for i := range serial {
		assert.Equal(t, serial[i].MeanTime, parallel[i].MeanTime, "result %d", i)
		assert.Equal(t, serial[i].OptimalRate, parallel[i].OptimalRate, "result %d", i)
	}
}

func TestRunner_NoiselessFixedPolicyMatchesAcrossModes(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Sweep = SweepConfig{Variable: SweepScale, Start: 0, Stop: 0, Step: 1}
	cfg.Policies = []PolicyConfig{{Kind: KindArbitrary}}
	r, err := NewRunner(cfg, nil)
	require.NoError(t, err)

	run, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Results, 2)

	// Every trial pulls the same leaf without noise, so the mean time is
	// that leaf's mean, and both modes share the same tree.
	got := run.Results[0].MeanTime
	assert.Contains(t, []float64{10, 11, 12, 13, 14}, got)
	assert.Equal(t, got, run.Results[1].MeanTime)
}

func TestRunner_BudgetSweep(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Modes = []string{ModeDynamic}
	cfg.Sweep = SweepConfig{Variable: SweepBudget, Start: 20, Stop: 40, Step: 10}
	cfg.Policies = []PolicyConfig{{Kind: KindGreedy}, {Kind: KindPEEF, Epsilon: 0.5}}
	r, err := NewRunner(cfg, nil)
	require.NoError(t, err)

	run, err := r.Run(context.Background())
	require.NoError(t, err)

	values, rows := run.Grid(ModeDynamic)
	require.Equal(t, []float64{20, 30, 40}, values)
	for i, v := range values {
		for _, res := range rows[i] {
			assert.Equal(t, int(v)*cfg.Trials, res.Pulls)
		}
	}
}

func TestRunner_DeepStaticTree(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Tree.Depth = 3
	cfg.Tree.RootChildren = 3
	cfg.Tree.Children = 2
	cfg.Policies = []PolicyConfig{{Kind: KindGreedy}, {Kind: KindKDE, Epsilon: 0.25}}
	r, err := NewRunner(cfg, nil)
	require.NoError(t, err)

	run, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, run.Stats.Nodes)
	assert.Equal(t, 4, run.Stats.Agents)
	assert.Len(t, run.Results, 2*3*2)
}

func TestRunner_RunCancelled(t *testing.T) {
	r, err := NewRunner(smallConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := r.Run(ctx)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_GridUnknownMode(t *testing.T) {
	run := sampleRun()
	values, rows := run.Grid("sideways")
	assert.Empty(t, values)
	assert.Empty(t, rows)
}

func TestMix_Spreads(t *testing.T) {
	seen := make(map[uint64]bool)
	for m := uint64(0); m < 2; m++ {
		for s := uint64(0); s < 10; s++ {
			for p := uint64(0); p < 10; p++ {
				seen[mix(1, m, s, p)] = true
			}
		}
	}
	assert.Len(t, seen, 200)
	assert.Equal(t, mix(4, 5), mix(4, 5))
}
