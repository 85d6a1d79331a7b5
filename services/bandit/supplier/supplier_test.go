// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supplier

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/supplychain/services/bandit/policy"
)

// =============================================================================
// Test Helpers
// =============================================================================

// constDist always draws value and reports mean.
type constDist struct {
	value float64
	mean  float64
}

func (d constDist) Rand() float64 { return d.value }
func (d constDist) Mean() float64 { return d.mean }

// noiseless centres to exactly the supplier's mean time.
var noiseless = constDist{}

func newLeaves(t *testing.T, means ...float64) []Supplier {
	t.Helper()
	out := make([]Supplier, len(means))
	for i, m := range means {
		leaf, err := NewLeaf(1, m, noiseless, 1)
		require.NoError(t, err)
		out[i] = leaf
	}
	return out
}

func newAgent(t *testing.T, p policy.Policy, isRoot bool, means ...float64) *Agent {
	t.Helper()
	a, err := NewAgent(AgentConfig{
		Policy:           p,
		Children:         newLeaves(t, means...),
		Cost:             1,
		MeanTime:         2,
		Distribution:     noiseless,
		Scale:            1,
		BudgetMultiplier: float64(len(means)),
		IsRoot:           isRoot,
	})
	require.NoError(t, err)
	return a
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

// =============================================================================
// Leaf
// =============================================================================

func TestLeaf_SampleCentresAndScales(t *testing.T) {
	leaf, err := NewLeaf(1, 10, constDist{value: 3, mean: 1}, 2.5)
	require.NoError(t, err)

	d, err := leaf.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 15.0, d, 1e-12)
	assert.True(t, leaf.IsLeaf())
	assert.Nil(t, leaf.Children())
}

func TestLeaf_ResetSwapsNoise(t *testing.T) {
	leaf, err := NewLeaf(1, 10, constDist{value: 3, mean: 1}, 2.5)
	require.NoError(t, err)

	leaf.Reset(constDist{value: 0, mean: 1}, 4)
	d, err := leaf.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 6.0, d, 1e-12)
}

func TestLeaf_RequiresDistribution(t *testing.T) {
	_, err := NewLeaf(1, 10, nil, 1)
	assert.ErrorIs(t, err, ErrNilDistribution)
}

// =============================================================================
// Agent
// =============================================================================

func TestNewAgent_BudgetPolicyRequiresRoot(t *testing.T) {
	eps, err := policy.NewEpsilonFirst(100, 0.25, 1)
	require.NoError(t, err)

	_, err = NewAgent(AgentConfig{
		Policy:       eps,
		Children:     newLeaves(t, 1, 2),
		Cost:         1,
		Distribution: noiseless,
	})
	assert.ErrorIs(t, err, ErrPrecommittedBudgetNotRoot)

	root := newAgent(t, eps, true, 1, 2)
	assert.True(t, root.IsRoot())
}

func TestNewAgent_IncompleteConfig(t *testing.T) {
	_, err := NewAgent(AgentConfig{Children: newLeaves(t, 1), Distribution: noiseless})
	assert.ErrorIs(t, err, ErrNilPolicy)

	_, err = NewAgent(AgentConfig{Policy: policy.NewGreedy(), Distribution: noiseless})
	assert.ErrorIs(t, err, ErrNoChildren)
}

func TestAgent_SpendPullsOncePerCost(t *testing.T) {
	a := newAgent(t, policy.NewGreedy(), true, 10, 20, 5)

	avg, err := a.Spend(5)
	require.NoError(t, err)

	// Sweep 10, 20, 5 then exploit 5 twice.
	assert.InDelta(t, 9.0, avg, 1e-12)
	assert.Equal(t, 5, a.TotalPulls())
	assert.InDelta(t, 9.0, a.TotalTimeTaken(), 1e-12)
	assert.Zero(t, a.RemainingBudget())
	assert.Equal(t, 2, a.Memory().Best().Index())
}

func TestAgent_SpendCarriesFractionalBudget(t *testing.T) {
	a := newAgent(t, policy.NewGreedy(), true, 10)

	_, err := a.Spend(0.5)
	assert.ErrorIs(t, err, ErrBudgetBelowCost)

	avg, err := a.Spend(0.5)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, avg, 1e-12)
	assert.Equal(t, 1, a.TotalPulls())
}

func TestAgent_SampleAddsOwnTime(t *testing.T) {
	a := newAgent(t, policy.NewGreedy(), false, 4, 8)

	// Budget multiplier 2 buys one pull of each child: average 6, plus the
	// agent's own mean of 2.
	d, err := a.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 8.0, d, 1e-12)
}

func TestAgent_ResetDuplicatesPolicy(t *testing.T) {
	a := newAgent(t, policy.NewGreedy(), true, 10, 20, 5)
	_, err := a.Spend(6)
	require.NoError(t, err)

	a.Reset(noiseless, 1)
	assert.Zero(t, a.TotalPulls())
	assert.Zero(t, a.TotalTimeTaken())
	for _, rec := range a.Memory().Records() {
		assert.True(t, rec.IsUntested())
	}

	// A fresh greedy sweeps again: 10, 20, 5.
	avg, err := a.Spend(3)
	require.NoError(t, err)
	assert.InDelta(t, 35.0/3.0, avg, 1e-12)
}

func TestAgent_ResetWithPolicyChecksRoot(t *testing.T) {
	child := newAgent(t, policy.NewGreedy(), false, 1, 2)
	kde, err := policy.NewKDE(100, 0.2, 1, seeded(1))
	require.NoError(t, err)

	err = child.ResetWithPolicy(noiseless, 1, kde)
	assert.ErrorIs(t, err, ErrPrecommittedBudgetNotRoot)
	assert.Equal(t, "greedy", child.Policy().Name())
}

// =============================================================================
// Tree
// =============================================================================

func baseTreeConfig(p policy.Policy) TreeConfig {
	return TreeConfig{
		Depth:             2,
		RootChildren:      20,
		Children:          5,
		MeanTimeMin:       10,
		MeanTimeIncrement: 0.25,
		SuperFactor:       1.0 / 3.0,
		Shape:             ShapeLinear,
		Cost:              1,
		Distribution:      noiseless,
		Scale:             10,
		Policy:            p,
		Rand:              seeded(7),
	}
}

func TestBuildTree_LinearRootOverLeaves(t *testing.T) {
	tree, err := BuildTree(baseTreeConfig(policy.NewGreedy()))
	require.NoError(t, err)

	assert.Equal(t, TreeStats{Nodes: 21, Agents: 1, Leaves: 20}, tree.Stats())
	assert.Equal(t, 20.0, tree.Root.BudgetMultiplier())

	var bestCount int
	means := make(map[float64]bool)
	for _, c := range tree.Root.Children() {
		means[c.MeanTime()] = true
		if c.IsBestArm() {
			bestCount++
			assert.Equal(t, 10.0, c.MeanTime())
		}
	}
	assert.Equal(t, 1, bestCount)
	assert.Len(t, means, 20)
	assert.True(t, means[10+19*0.25])
}

func TestBuildTree_ScramblesChildren(t *testing.T) {
	tree, err := BuildTree(baseTreeConfig(policy.NewGreedy()))
	require.NoError(t, err)

	inOrder := true
	for i, c := range tree.Root.Children() {
		if c.MeanTime() != 10+float64(i)*0.25 {
			inOrder = false
		}
	}
	assert.False(t, inOrder)
}

func TestBuildTree_SameSeedSameTree(t *testing.T) {
	a, err := BuildTree(baseTreeConfig(policy.NewGreedy()))
	require.NoError(t, err)
	b, err := BuildTree(baseTreeConfig(policy.NewGreedy()))
	require.NoError(t, err)

	for i := range a.Root.Children() {
		assert.Equal(t, a.Root.Children()[i].MeanTime(), b.Root.Children()[i].MeanTime())
	}
}

func TestBuildTree_DeepTreeUsesFallbackForBudgetPolicies(t *testing.T) {
	eps, err := policy.NewEpsilonFirst(200, 0.25, 1)
	require.NoError(t, err)
	cfg := baseTreeConfig(eps)
	cfg.Depth = 3
	cfg.RootChildren = 4
	cfg.Children = 3

	_, err = BuildTree(cfg)
	require.ErrorIs(t, err, ErrInvalidTree)

	fallback, err := policy.NewLSplit(2)
	require.NoError(t, err)
	cfg.Fallback = fallback
	cfg.Rand = seeded(7)
	tree, err := BuildTree(cfg)
	require.NoError(t, err)

	assert.Equal(t, TreeStats{Nodes: 17, Agents: 5, Leaves: 12}, tree.Stats())
	for _, c := range tree.Root.Children() {
		agent, ok := c.(*Agent)
		require.True(t, ok)
		assert.Equal(t, "l-split(2)", agent.Policy().Name())
		assert.False(t, agent.IsRoot())
		assert.Equal(t, 3.0, agent.BudgetMultiplier())
	}
}

func TestBuildTree_SuperlinearMeans(t *testing.T) {
	cfg := baseTreeConfig(policy.NewGreedy())
	cfg.Shape = ShapeSuperlinear
	cfg.RootChildren = 9

	assert.InDelta(t, 10.0, cfg.childMean(0, 9), 1e-12)
	assert.InDelta(t, 10+8*0.25*0.5, cfg.childMean(1, 9), 1e-12, "(1/8)^(1/3) = 1/2")
	assert.InDelta(t, 12.0, cfg.childMean(8, 9), 1e-12)

	_, err := BuildTree(cfg)
	require.NoError(t, err)
}

func TestBuildTree_TerracedMeansAndScale(t *testing.T) {
	cfg := baseTreeConfig(policy.NewGreedy())
	cfg.Shape = ShapeTerraced
	cfg.RootChildren = 5

	assert.Equal(t, 10.0, cfg.childMean(0, 5))
	assert.Equal(t, 10.125, cfg.childMean(1, 5))
	assert.Equal(t, 10.125, cfg.childMean(2, 5))
	assert.Equal(t, 10.375, cfg.childMean(3, 5))

	tree, err := BuildTree(cfg)
	require.NoError(t, err)
	for _, c := range tree.Root.Children() {
		leaf := c.(*Leaf)
		if leaf.IsBestArm() {
			assert.Zero(t, leaf.Scale())
		} else {
			assert.Equal(t, 10.0, leaf.Scale())
		}
	}
}

func TestBuildTree_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TreeConfig)
	}{
		{"shallow", func(c *TreeConfig) { c.Depth = 1 }},
		{"no children", func(c *TreeConfig) { c.RootChildren = 0 }},
		{"zero cost", func(c *TreeConfig) { c.Cost = 0 }},
		{"no rand", func(c *TreeConfig) { c.Rand = nil }},
		{"bad shape", func(c *TreeConfig) { c.Shape = "zigzag" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseTreeConfig(policy.NewGreedy())
			tt.mutate(&cfg)
			_, err := BuildTree(cfg)
			assert.ErrorIs(t, err, ErrInvalidTree)
		})
	}
}

func TestTree_ResetInstallsPolicyAndScale(t *testing.T) {
	tree, err := BuildTree(baseTreeConfig(policy.NewGreedy()))
	require.NoError(t, err)
	_, err = tree.Root.Spend(40)
	require.NoError(t, err)

	lsplit, err := policy.NewLSplit(2)
	require.NoError(t, err)
	require.NoError(t, tree.Reset(lsplit, noiseless, 3))

	assert.Equal(t, "l-split(2)", tree.Root.Policy().Name())
	assert.NotSame(t, lsplit, tree.Root.Policy(), "the root runs a duplicate")
	assert.Zero(t, tree.Root.TotalPulls())
	for _, c := range tree.Root.Children() {
		assert.Equal(t, 3.0, c.(*Leaf).Scale())
	}

	require.NoError(t, tree.Reset(nil, noiseless, 3))
	assert.Equal(t, "l-split(2)", tree.Root.Policy().Name())
}

func TestTree_RootConvergesOnBestLeaf(t *testing.T) {
	lsplit, err := policy.NewLSplit(2)
	require.NoError(t, err)
	tree, err := BuildTree(baseTreeConfig(lsplit))
	require.NoError(t, err)

	_, err = tree.Root.Spend(200)
	require.NoError(t, err)
	assert.True(t, tree.Root.Memory().IsTopRankOptimal())
}

// =============================================================================
// Distributions
// =============================================================================

func TestNewDistribution(t *testing.T) {
	src := rand.NewPCG(1, 2)
	tests := []struct {
		cfg  DistributionConfig
		mean float64
	}{
		{DistributionConfig{Kind: DistributionNormal}, 0},
		{DistributionConfig{Kind: DistributionUniform}, 0.5},
		{DistributionConfig{Kind: DistributionBeta, Alpha: 1, Beta: 2}, 1.0 / 3.0},
		{DistributionConfig{Kind: DistributionChiSquared, DegreesOfFreedom: 4}, 4},
		{DistributionConfig{Kind: DistributionExponential, Rate: 2}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Kind, func(t *testing.T) {
			d, err := NewDistribution(tt.cfg, src)
			require.NoError(t, err)
			assert.InDelta(t, tt.mean, d.Mean(), 1e-12)

			var sum float64
			for range 20000 {
				sum += d.Rand()
			}
			assert.InDelta(t, tt.mean, sum/20000, 0.1)
		})
	}
}

func TestNewDistribution_Errors(t *testing.T) {
	_, err := NewDistribution(DistributionConfig{Kind: "cauchy"}, rand.NewPCG(1, 2))
	assert.ErrorIs(t, err, ErrUnknownDistribution)

	_, err = NewDistribution(DistributionConfig{Kind: DistributionBeta}, rand.NewPCG(1, 2))
	assert.Error(t, err)
}
