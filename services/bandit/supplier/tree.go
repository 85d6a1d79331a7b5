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
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/AleutianAI/supplychain/services/bandit/policy"
)

// Shape selects how child mean times are spread.
type Shape string

const (
	// ShapeLinear spaces child means evenly: min + i·increment.
	ShapeLinear Shape = "linear"

	// ShapeSuperlinear bends the linear spread with an exponent:
	// min + (n-1)·increment·(i/(n-1))^superFactor.
	ShapeSuperlinear Shape = "superlinear"

	// ShapeTerraced puts one noiseless best child at min, the first half
	// of the rest at min + increment/2 and the others at min + 1.5·increment.
	ShapeTerraced Shape = "terraced"
)

// ErrInvalidTree is returned for a tree configuration that cannot be built.
var ErrInvalidTree = errors.New("invalid tree configuration")

// TreeConfig describes a supply chain tree.
type TreeConfig struct {
	// Depth counts levels including the root. Depth 2 is a root over leaves.
	Depth int

	// RootChildren and Children are the branching factors of the root and
	// of every other agent.
	RootChildren int
	Children     int

	// MeanTimeMin, MeanTimeIncrement and SuperFactor parameterise Shape.
	MeanTimeMin       float64
	MeanTimeIncrement float64
	SuperFactor       float64
	Shape             Shape

	// Cost is the price of pulling any node.
	Cost float64

	// Distribution and Scale form the noise model of every node.
	Distribution Distribution
	Scale        float64

	// Policy drives the root. Non-root agents get a duplicate of Policy,
	// or of Fallback when FallbackOverride is set or Policy needs a
	// precommitted budget.
	Policy           policy.Policy
	Fallback         policy.Policy
	FallbackOverride bool

	// Rand scrambles child order. Required.
	Rand *rand.Rand

	// Logger is handed to every agent. Default: slog.Default().
	Logger *slog.Logger
}

// Tree is a built supply chain.
type Tree struct {
	Root *Agent
	cfg  TreeConfig
}

// TreeStats counts the nodes of a tree.
type TreeStats struct {
	Nodes  int
	Agents int
	Leaves int
}

// BuildTree constructs the tree described by cfg.
//
// Description:
//
//	Children are created in mean order with child 0 labelled best, then
//	shuffled with cfg.Rand so a policy cannot find the best arm by index.
//	Each agent's budget multiplier is its number of children.
//
// Outputs:
//
//	*Tree - The tree, every memory untested.
//	error - ErrInvalidTree for a malformed config, or an agent build error.
func BuildTree(cfg TreeConfig) (*Tree, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	root, err := cfg.build(cfg.Depth, cfg.RootChildren, cfg.MeanTimeMin, cfg.Scale, cfg.Policy, true)
	if err != nil {
		return nil, err
	}
	return &Tree{Root: root.(*Agent), cfg: cfg}, nil
}

// Reset prepares the tree for the next trial.
//
// Inputs:
//
//	p - Policy for the root. Nil keeps every agent's current policy,
//	  duplicated fresh.
//	dist - Noise distribution for every node.
//	scale - Noise scale for every node. Terraced best children stay noiseless.
func (t *Tree) Reset(p policy.Policy, dist Distribution, scale float64) error {
	if dist == nil {
		return ErrNilDistribution
	}
	t.cfg.Distribution = dist
	t.cfg.Scale = scale
	if p != nil {
		t.cfg.Policy = p
	}
	return t.reset(t.Root, p, scale)
}

// Stats counts the tree's nodes.
func (t *Tree) Stats() TreeStats {
	var s TreeStats
	var walk func(Supplier)
	walk = func(n Supplier) {
		s.Nodes++
		if n.IsLeaf() {
			s.Leaves++
			return
		}
		s.Agents++
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(t.Root)
	return s
}

// ChildPolicy returns the policy non-root agents run when the root runs p.
func (t *Tree) ChildPolicy(p policy.Policy) policy.Policy {
	return t.cfg.childPolicy(p)
}

func (t *Tree) reset(n Supplier, p policy.Policy, scale float64) error {
	agent, ok := n.(*Agent)
	if !ok {
		leafScale := scale
		if t.cfg.Shape == ShapeTerraced && n.IsBestArm() {
			leafScale = 0
		}
		n.Reset(t.cfg.Distribution, leafScale)
		return nil
	}

	ownScale := scale
	if t.cfg.Shape == ShapeTerraced && agent.IsBestArm() {
		ownScale = 0
	}
	if p == nil {
		agent.Reset(t.cfg.Distribution, ownScale)
	} else if err := agent.ResetWithPolicy(t.cfg.Distribution, ownScale, p.Duplicate()); err != nil {
		return err
	}

	var childPolicy policy.Policy
	if p != nil {
		childPolicy = t.cfg.childPolicy(p)
	}
	for _, c := range agent.Children() {
		if err := t.reset(c, childPolicy, scale); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *TreeConfig) validate() error {
	switch {
	case cfg.Depth < 2:
		return fmt.Errorf("%w: depth must be >= 2, got %d", ErrInvalidTree, cfg.Depth)
	case cfg.RootChildren < 1 || (cfg.Depth > 2 && cfg.Children < 1):
		return fmt.Errorf("%w: every agent needs at least one child", ErrInvalidTree)
	case cfg.Cost <= 0:
		return fmt.Errorf("%w: cost must be > 0, got %g", ErrInvalidTree, cfg.Cost)
	case cfg.Policy == nil:
		return fmt.Errorf("%w: %w", ErrInvalidTree, ErrNilPolicy)
	case cfg.Distribution == nil:
		return fmt.Errorf("%w: %w", ErrInvalidTree, ErrNilDistribution)
	case cfg.Rand == nil:
		return fmt.Errorf("%w: a random source is required", ErrInvalidTree)
	case cfg.Depth > 2 && cfg.Fallback == nil && (cfg.FallbackOverride || cfg.Policy.RequiresPrecommittedBudget()):
		return fmt.Errorf("%w: non-root agents need a fallback policy", ErrInvalidTree)
	}
	switch cfg.Shape {
	case ShapeLinear, ShapeSuperlinear, ShapeTerraced:
	case "":
		cfg.Shape = ShapeLinear
	default:
		return fmt.Errorf("%w: unknown shape %q", ErrInvalidTree, cfg.Shape)
	}
	return nil
}

func (cfg *TreeConfig) childPolicy(p policy.Policy) policy.Policy {
	if cfg.Fallback != nil && (cfg.FallbackOverride || p.RequiresPrecommittedBudget()) {
		return cfg.Fallback
	}
	return p
}

// build creates a subtree of the given depth whose own mean is meanTime.
func (cfg *TreeConfig) build(depth, numChildren int, meanTime, scale float64, p policy.Policy, isRoot bool) (Supplier, error) {
	if depth == 1 {
		return NewLeaf(cfg.Cost, meanTime, cfg.Distribution, scale)
	}

	childPolicy := cfg.childPolicy(p)
	ordered := make([]Supplier, numChildren)
	for i := range ordered {
		childMean, childScale := cfg.childMean(i, numChildren), cfg.Scale
		if cfg.Shape == ShapeTerraced && i == 0 {
			childScale = 0
		}
		child, err := cfg.build(depth-1, cfg.Children, childMean, childScale, childPolicy, false)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			child.SetBestArm(true)
		}
		ordered[i] = child
	}
	cfg.Rand.Shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})

	return NewAgent(AgentConfig{
		Policy:           p.Duplicate(),
		Children:         ordered,
		Cost:             cfg.Cost,
		MeanTime:         meanTime,
		Distribution:     cfg.Distribution,
		Scale:            scale,
		BudgetMultiplier: float64(numChildren),
		IsRoot:           isRoot,
		Logger:           cfg.Logger,
	})
}

func (cfg *TreeConfig) childMean(i, n int) float64 {
	switch cfg.Shape {
	case ShapeSuperlinear:
		if n < 2 {
			return cfg.MeanTimeMin
		}
		frac := float64(i) / float64(n-1)
		return cfg.MeanTimeMin + float64(n-1)*cfg.MeanTimeIncrement*math.Pow(frac, cfg.SuperFactor)
	case ShapeTerraced:
		switch {
		case i == 0:
			return cfg.MeanTimeMin
		case i < (n+1)/2:
			return cfg.MeanTimeMin + cfg.MeanTimeIncrement*0.5
		default:
			return cfg.MeanTimeMin + cfg.MeanTimeIncrement*1.5
		}
	default:
		return cfg.MeanTimeMin + float64(i)*cfg.MeanTimeIncrement
	}
}
