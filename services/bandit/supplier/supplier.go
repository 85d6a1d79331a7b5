// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supplier models a supply chain as a tree of arms.
//
// # Overview
//
// Leaves are simple suppliers whose service time is drawn from a
// distribution. Every inner node is an Agent: an arm to its parent and a
// bandit player over its own children. Pulling an agent makes it spend a
// fixed budget on its children before adding its own service time, so a
// single pull at the root ripples through the whole subtree.
//
// # Thread Safety
//
// A tree is NOT safe for concurrent use. Run independent trees in
// independent goroutines.
package supplier

import (
	"errors"

	"github.com/AleutianAI/supplychain/services/bandit/memory"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrPrecommittedBudgetNotRoot is returned when a policy that needs the
	// total budget up front is attached to a non-root agent.
	ErrPrecommittedBudgetNotRoot = errors.New("budget-dependent policy requires the root agent")

	// ErrBudgetBelowCost is returned when a spend cannot afford a single pull.
	ErrBudgetBelowCost = errors.New("budget below the cost of one pull")

	// ErrNoChildren is returned when an agent is built without children.
	ErrNoChildren = errors.New("agent requires at least one child")

	// ErrNilPolicy is returned when an agent is built without a policy.
	ErrNilPolicy = errors.New("agent requires a policy")

	// ErrNilDistribution is returned when a node is built without a
	// distribution.
	ErrNilDistribution = errors.New("supplier requires a distribution")
)

// =============================================================================
// Interfaces
// =============================================================================

// Distribution is the noise source of a supplier. gonum's distuv
// distributions satisfy it.
type Distribution interface {
	Rand() float64
	Mean() float64
}

// Supplier is one node of the supply chain.
type Supplier interface {
	memory.Arm

	// Cost is the budget consumed by one pull of this supplier.
	Cost() float64

	// MeanTime is the configured mean of the supplier's own service time.
	MeanTime() float64

	// SetBestArm labels the supplier as the ground-truth best among its
	// siblings.
	SetBestArm(best bool)

	// Children returns the supplier's children, or nil for a leaf.
	Children() []Supplier

	// IsLeaf reports whether the supplier has no children.
	IsLeaf() bool

	// Reset swaps the noise model and clears per-trial state.
	Reset(dist Distribution, scale float64)
}

var (
	_ Supplier = (*Leaf)(nil)
	_ Supplier = (*Agent)(nil)
)

// =============================================================================
// Node
// =============================================================================

// node holds what every supplier shares: a cost, a centred noise model and
// the best-arm label.
type node struct {
	cost     float64
	meanTime float64
	scale    float64
	dist     Distribution
	best     bool
}

// sample draws the supplier's own service time. The distribution is
// centred on zero, stretched by scale and shifted to meanTime.
func (n *node) sample() float64 {
	return (n.dist.Rand()-n.dist.Mean())*n.scale + n.meanTime
}

func (n *node) Cost() float64        { return n.cost }
func (n *node) MeanTime() float64    { return n.meanTime }
func (n *node) Scale() float64       { return n.scale }
func (n *node) IsBestArm() bool      { return n.best }
func (n *node) SetBestArm(best bool) { n.best = best }

func (n *node) setNoise(dist Distribution, scale float64) {
	n.dist = dist
	n.scale = scale
}

// =============================================================================
// Leaf
// =============================================================================

// Leaf is a supplier with no children.
type Leaf struct {
	node
}

// NewLeaf creates a leaf supplier.
//
// Inputs:
//
//	cost - Budget consumed per pull.
//	meanTime - Mean service time.
//	dist - Noise distribution. Must not be nil.
//	scale - Multiplier applied to the centred noise.
func NewLeaf(cost, meanTime float64, dist Distribution, scale float64) (*Leaf, error) {
	if dist == nil {
		return nil, ErrNilDistribution
	}
	return &Leaf{node: node{cost: cost, meanTime: meanTime, scale: scale, dist: dist}}, nil
}

// Sample draws one service time.
func (l *Leaf) Sample() (float64, error) { return l.sample(), nil }

// Children returns nil.
func (l *Leaf) Children() []Supplier { return nil }

// IsLeaf returns true.
func (l *Leaf) IsLeaf() bool { return true }

// Reset swaps the noise model.
func (l *Leaf) Reset(dist Distribution, scale float64) { l.setNoise(dist, scale) }
