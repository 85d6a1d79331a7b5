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
	"math"

	"github.com/AleutianAI/supplychain/services/bandit/memory"
)

// UCBBV1 is the budget-limited upper-confidence-bound policy UCB-BV1 with
// reward taken as the inverse of mean service time.
//
// Description:
//
//	For t = 1..K each arm is pulled once by index. Afterwards the arm with
//	the highest index
//
//	  1/mean + 2τ/(1 - τ),  τ = sqrt(ln(t - 1) / pulls)
//
//	is pulled, ties going to the lowest index.
type UCBBV1 struct {
	time   int
	scores []float64
}

// NewUCBBV1 creates the policy.
func NewUCBBV1() *UCBBV1 { return &UCBBV1{} }

// Scores returns the indices computed by the most recent exploitation step.
func (p *UCBBV1) Scores() []float64 {
	out := make([]float64, len(p.scores))
	copy(out, p.scores)
	return out
}

func (p *UCBBV1) Next(m Memory) (memory.PullRequest, error) {
	p.time++
	if p.time <= m.Len() {
		return memory.ByIndex(p.time - 1), nil
	}

	if len(p.scores) != m.Len() {
		p.scores = make([]float64, m.Len())
	}
	logT := math.Log(float64(p.time - 1))
	maxIndex := 0
	for i := range p.scores {
		arm := m.ArmAt(i)
		tau := math.Sqrt(logT / float64(arm.Pulls()))
		p.scores[i] = 1/arm.MeanTime() + 2*tau/(1-tau)
		if p.scores[i] > p.scores[maxIndex] {
			maxIndex = i
		}
	}
	return memory.ByIndex(maxIndex), nil
}

func (p *UCBBV1) Duplicate() Policy                { return NewUCBBV1() }
func (p *UCBBV1) RequiresPrecommittedBudget() bool { return false }
func (p *UCBBV1) Name() string                     { return "ucb-bv1" }
