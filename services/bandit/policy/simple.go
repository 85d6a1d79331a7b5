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
	"math/rand/v2"

	"github.com/AleutianAI/supplychain/services/bandit/memory"
)

// =============================================================================
// Random
// =============================================================================

// Random pulls a uniformly random rank on every call. It is the
// no-learning baseline.
type Random struct {
	rng *rand.Rand
}

// NewRandom creates a Random policy drawing from rng.
func NewRandom(rng *rand.Rand) *Random {
	return &Random{rng: rng}
}

func (p *Random) Next(m Memory) (memory.PullRequest, error) {
	return memory.ByRank(p.rng.IntN(m.Len())), nil
}

func (p *Random) Duplicate() Policy                { return NewRandom(p.rng) }
func (p *Random) RequiresPrecommittedBudget() bool { return false }
func (p *Random) Name() string                     { return "random" }

// =============================================================================
// Greedy
// =============================================================================

// Greedy pulls every arm once in index order, then always pulls the best
// ranked arm.
type Greedy struct {
	index int
}

// NewGreedy creates a Greedy policy.
func NewGreedy() *Greedy { return &Greedy{} }

func (p *Greedy) Next(m Memory) (memory.PullRequest, error) {
	if p.index >= m.Len() {
		return exploit(m), nil
	}
	req := memory.ByIndex(p.index)
	p.index++
	return req, nil
}

func (p *Greedy) Duplicate() Policy                { return NewGreedy() }
func (p *Greedy) RequiresPrecommittedBudget() bool { return false }
func (p *Greedy) Name() string                     { return "greedy" }

// =============================================================================
// Fixed
// =============================================================================

// Fixed always pulls the arm with index 0. With scrambled children this is
// an arbitrary arm, which makes it the exploitation-without-exploration
// baseline.
type Fixed struct{}

// NewFixed creates a Fixed policy.
func NewFixed() *Fixed { return &Fixed{} }

func (p *Fixed) Next(Memory) (memory.PullRequest, error) {
	return memory.ByIndex(0), nil
}

func (p *Fixed) Duplicate() Policy                { return NewFixed() }
func (p *Fixed) RequiresPrecommittedBudget() bool { return false }
func (p *Fixed) Name() string                     { return "arbitrary" }
