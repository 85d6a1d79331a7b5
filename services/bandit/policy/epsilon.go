// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"fmt"
	"math/rand/v2"

	"github.com/AleutianAI/supplychain/services/bandit/memory"
)

// =============================================================================
// Epsilon-first
// =============================================================================

// EpsilonFirst spends the first budget·epsilon of the budget sweeping arms
// by index, wrapping around as often as that allows, and exploits the best
// arm for the remainder.
type EpsilonFirst struct {
	initialBudget float64
	epsilon       float64
	cost          float64

	explorationBudget float64
	index             int
}

// NewEpsilonFirst creates an epsilon-first policy for a known total budget.
//
// Inputs:
//
//	budget - Total budget committed to the agent. Must be > 0.
//	epsilon - Fraction of the budget used for exploration, in [0, 1].
//	cost - Cost of one pull. Must be > 0.
func NewEpsilonFirst(budget, epsilon, cost float64) (*EpsilonFirst, error) {
	if err := checkBudgetParams(budget, epsilon, cost); err != nil {
		return nil, err
	}
	return &EpsilonFirst{
		initialBudget:     budget,
		epsilon:           epsilon,
		cost:              cost,
		explorationBudget: budget * epsilon,
	}, nil
}

func (p *EpsilonFirst) Next(m Memory) (memory.PullRequest, error) {
	if p.explorationBudget < p.cost {
		return exploit(m), nil
	}
	if p.index >= m.Len() {
		p.index = 0
	}
	p.explorationBudget -= p.cost
	req := memory.ByIndex(p.index)
	p.index++
	return req, nil
}

func (p *EpsilonFirst) Duplicate() Policy {
	return &EpsilonFirst{
		initialBudget:     p.initialBudget,
		epsilon:           p.epsilon,
		cost:              p.cost,
		explorationBudget: p.initialBudget * p.epsilon,
	}
}

func (p *EpsilonFirst) RequiresPrecommittedBudget() bool { return true }
func (p *EpsilonFirst) Name() string                     { return fmt.Sprintf("e-first(%g)", p.epsilon) }

// =============================================================================
// Decreasing exploration
// =============================================================================

// KDE sweeps arms until gamma = floor(budget·epsilon/cost) pulls have been
// made, then explores a uniformly random rank with probability
// min(1, gamma/pulls) and otherwise exploits, so exploration decays as the
// run goes on.
type KDE struct {
	initialBudget float64
	epsilon       float64
	cost          float64
	rng           *rand.Rand

	gamma int
	pulls int
}

// NewKDE creates a decreasing-exploration policy for a known total budget.
func NewKDE(budget, epsilon, cost float64, rng *rand.Rand) (*KDE, error) {
	if err := checkBudgetParams(budget, epsilon, cost); err != nil {
		return nil, err
	}
	return &KDE{
		initialBudget: budget,
		epsilon:       epsilon,
		cost:          cost,
		rng:           rng,
		gamma:         int(budget * epsilon / cost),
	}, nil
}

func (p *KDE) Next(m Memory) (memory.PullRequest, error) {
	if p.pulls < p.gamma {
		req := memory.ByIndex(p.pulls % m.Len())
		p.pulls++
		return req, nil
	}

	var explore float64
	if p.pulls > 0 {
		explore = min(1, float64(p.gamma)/float64(p.pulls))
	}
	p.pulls++
	if p.rng.Float64() < explore {
		return memory.ByRank(p.rng.IntN(m.Len())), nil
	}
	return exploit(m), nil
}

func (p *KDE) Duplicate() Policy {
	dup, _ := NewKDE(p.initialBudget, p.epsilon, p.cost, p.rng)
	return dup
}

func (p *KDE) RequiresPrecommittedBudget() bool { return true }
func (p *KDE) Name() string                     { return fmt.Sprintf("kde(%g)", p.epsilon) }

func checkBudgetParams(budget, epsilon, cost float64) error {
	switch {
	case budget <= 0:
		return fmt.Errorf("%w: budget must be > 0, got %g", ErrInvalidParameter, budget)
	case epsilon < 0 || epsilon > 1:
		return fmt.Errorf("%w: epsilon must be in [0, 1], got %g", ErrInvalidParameter, epsilon)
	case cost <= 0:
		return fmt.Errorf("%w: cost must be > 0, got %g", ErrInvalidParameter, cost)
	}
	return nil
}
