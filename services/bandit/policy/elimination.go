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
	"math"

	"github.com/AleutianAI/supplychain/services/bandit/memory"
	"github.com/AleutianAI/supplychain/services/bandit/sorted"
)

// =============================================================================
// L-split
// =============================================================================

// LSplit runs passes over a frozen snapshot of the ranked view. After each
// pass the feasible fraction of arms shrinks by a factor of 1 - 1/l and the
// worst arms drop out of the next pass. Once at most one arm is feasible
// the policy exploits the best arm for good.
//
// Thread Safety: not safe for concurrent use.
type LSplit struct {
	l         float64
	threshold float64
	budgeted  bool

	feasible   float64
	index      int
	snapshot   *sorted.List[*memory.ArmRecord]
	exploiting bool
}

// NewLSplit creates an l-split policy. l must be > 0; values at or below 1
// eliminate every arm but the best after the first pass.
func NewLSplit(l float64) (*LSplit, error) {
	if l <= 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return nil, fmt.Errorf("%w: l must be a positive finite number, got %g", ErrInvalidParameter, l)
	}
	return newLSplit(l, false), nil
}

// NewPEEF creates the budget-derived variant of l-split, with
// l = (εB - 1) / (εB - K) for K arms.
//
// Inputs:
//
//	arms - Number of arms K the agent will manage.
//	budget - Total budget B committed to the agent.
//	epsilon - Exploration fraction ε. εB must exceed K.
func NewPEEF(arms int, budget, epsilon float64) (*LSplit, error) {
	explorationBudget := epsilon * budget
	if arms < 1 || explorationBudget <= float64(arms) {
		return nil, fmt.Errorf("%w: exploration budget %g must exceed arm count %d",
			ErrInvalidParameter, explorationBudget, arms)
	}
	l := (explorationBudget - 1) / (explorationBudget - float64(arms))
	return newLSplit(l, true), nil
}

func newLSplit(l float64, budgeted bool) *LSplit {
	return &LSplit{
		l:         l,
		threshold: 1 - 1/l,
		budgeted:  budgeted,
		feasible:  1,
	}
}

// L returns the elimination parameter in use.
func (p *LSplit) L() float64 { return p.l }

func (p *LSplit) Next(m Memory) (memory.PullRequest, error) {
	if p.exploiting {
		return exploit(m), nil
	}

	if p.snapshot == nil {
		p.snapshot = m.RankedSnapshot()
	} else if p.index >= p.snapshot.Len() {
		p.snapshot = m.RankedSnapshot()
		p.feasible *= p.threshold
		size := float64(p.snapshot.Len())
		p.index = int(size - size*p.feasible)
		if p.index >= p.snapshot.Len()-1 {
			p.exploiting = true
			p.snapshot = nil
			return exploit(m), nil
		}
	}

	req := memory.ByIndex(p.snapshot.At(p.index).Index())
	p.index++
	return req, nil
}

func (p *LSplit) Duplicate() Policy                { return newLSplit(p.l, p.budgeted) }
func (p *LSplit) RequiresPrecommittedBudget() bool { return p.budgeted }

func (p *LSplit) Name() string {
	if p.budgeted {
		return fmt.Sprintf("peef(l=%.3g)", p.l)
	}
	return fmt.Sprintf("l-split(%g)", p.l)
}

// =============================================================================
// SOAAV
// =============================================================================

// SOAAV (successive over-average arm value) eliminates, after each pass,
// every arm whose mean is worse than the average of the arms still in play
// scaled by 1 + x. Larger x keeps more arms feasible.
type SOAAV struct {
	x          float64
	multiplier float64

	threshold  float64
	position   int
	lastStart  int
	snapshot   *sorted.List[*memory.ArmRecord]
	exploiting bool
}

// NewSOAAV creates a SOAAV policy. x must be >= 0.
func NewSOAAV(x float64) (*SOAAV, error) {
	if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return nil, fmt.Errorf("%w: x must be a finite number >= 0, got %g", ErrInvalidParameter, x)
	}
	return &SOAAV{x: x, multiplier: 1 + x, threshold: math.SmallestNonzeroFloat64}, nil
}

// Threshold returns the mean-time cut-off computed at the last pass
// boundary.
func (p *SOAAV) Threshold() float64 { return p.threshold }

func (p *SOAAV) Next(m Memory) (memory.PullRequest, error) {
	if p.exploiting {
		return exploit(m), nil
	}

	if p.snapshot == nil {
		p.snapshot = m.RankedSnapshot()
	} else if p.position >= p.snapshot.Len() {
		p.snapshot = m.RankedSnapshot()
		avg, err := m.AverageFrom(p.lastStart)
		if err != nil {
			return 0, fmt.Errorf("soaav threshold: %w", err)
		}
		p.threshold = avg * p.multiplier

		p.position = 0
		for p.position < p.snapshot.Len() && p.snapshot.At(p.position).MeanTime() > p.threshold {
			p.position++
		}
		p.lastStart = p.position
		if p.position >= p.snapshot.Len()-1 {
			p.exploiting = true
			p.snapshot = nil
			return exploit(m), nil
		}
	}

	req := memory.ByIndex(p.snapshot.At(p.position).Index())
	p.position++
	return req, nil
}

func (p *SOAAV) Duplicate() Policy {
	dup, _ := NewSOAAV(p.x)
	return dup
}

func (p *SOAAV) RequiresPrecommittedBudget() bool { return false }
func (p *SOAAV) Name() string                     { return fmt.Sprintf("soaav(%g)", p.x) }
