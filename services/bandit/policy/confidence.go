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
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/AleutianAI/supplychain/services/bandit/memory"
)

// AlmostOne is the dominance probability at or above which an arm is
// treated as indistinguishable from the best arm and ignored for
// exploration. Rounding keeps exact matches from always reaching 1.
const AlmostOne = 0.996

// Reason explains why a policy chose an arm.
type Reason int

const (
	// ReasonInitialExplore marks the first sweep over every arm.
	ReasonInitialExplore Reason = iota

	// ReasonInitialGreedy marks warm-up pulls of the best arm while it
	// gathers enough samples.
	ReasonInitialGreedy

	// ReasonExplore marks a pull of the arm most likely to usurp the best.
	ReasonExplore

	// ReasonExploit marks a pull of the best arm.
	ReasonExploit
)

// String returns the snake_case name of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonInitialExplore:
		return "initial_explore"
	case ReasonInitialGreedy:
		return "initial_greedy"
	case ReasonExplore:
		return "explore"
	case ReasonExploit:
		return "exploit"
	default:
		return "unknown"
	}
}

// ConfidenceBiasedGreedy is a greedy policy that explores in proportion to
// the evidence that another arm might be as good as the current best.
//
// Description:
//
//	The first call enables sample tracking on every arm. Every arm is then
//	pulled once by index. While the best arm has fewer than
//	InitialExplorationSize pulls it is exploited unconditionally. After
//	that, each arm's dominance probability against the best arm is summed
//	(skipping arms at or above AlmostOne); with that probability the arm
//	with the highest dominance probability is explored, otherwise the
//	best arm is exploited.
//
// Thread Safety: not safe for concurrent use.
type ConfidenceBiasedGreedy struct {
	initialExplorationSize int
	rng                    *rand.Rand
	logger                 *slog.Logger

	initialized    bool
	initialExplore bool
	index          int
	last           Reason
}

// NewConfidenceBiasedGreedy creates the policy.
//
// Inputs:
//
//	initialExplorationSize - Pulls the best arm must accumulate before
//	  dominance-driven exploration starts. Must be >= 1.
//	rng - Source of exploration decisions.
//	logger - Receives one Debug record per decision. Nil uses slog.Default().
func NewConfidenceBiasedGreedy(initialExplorationSize int, rng *rand.Rand, logger *slog.Logger) (*ConfidenceBiasedGreedy, error) {
	if initialExplorationSize < 1 {
		return nil, fmt.Errorf("%w: initial exploration size must be >= 1, got %d",
			ErrInvalidParameter, initialExplorationSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfidenceBiasedGreedy{
		initialExplorationSize: initialExplorationSize,
		rng:                    rng,
		logger:                 logger,
		initialExplore:         true,
	}, nil
}

// LastReason returns the reason behind the most recent decision.
func (p *ConfidenceBiasedGreedy) LastReason() Reason { return p.last }

func (p *ConfidenceBiasedGreedy) Next(m Memory) (memory.PullRequest, error) {
	if !p.initialized {
		for i := range m.Len() {
			m.ArmAt(i).EnableSampleTracking()
		}
		p.initialized = true
	}

	if p.initialExplore {
		req := memory.ByIndex(p.index)
		p.index++
		if p.index >= m.Len() {
			p.initialExplore = false
		}
		return p.decide(m, req, ReasonInitialExplore, 0), nil
	}

	best := m.RankedAt(m.Len() - 1)
	if best.Pulls() < p.initialExplorationSize {
		return p.decide(m, exploit(m), ReasonInitialGreedy, 0), nil
	}

	var (
		explore  float64
		usurper  *memory.ArmRecord
		usurperP float64
	)
	for i := range m.Len() {
		arm := m.ArmAt(i)
		prob := arm.DominanceProbability(best)
		if prob >= AlmostOne {
			continue
		}
		if usurper == nil || prob > usurperP {
			usurper, usurperP = arm, prob
		}
		explore += prob
	}

	if usurper != nil && p.rng.Float64() < explore {
		return p.decide(m, memory.ByIndex(usurper.Index()), ReasonExplore, explore), nil
	}
	return p.decide(m, exploit(m), ReasonExploit, explore), nil
}

func (p *ConfidenceBiasedGreedy) decide(m Memory, req memory.PullRequest, reason Reason, explore float64) memory.PullRequest {
	p.last = reason
	if !p.logger.Enabled(context.Background(), slog.LevelDebug) {
		return req
	}

	var selected *memory.ArmRecord
	if req.UsesRankedView() {
		selected = m.RankedAt(req.Position())
	} else {
		selected = m.ArmAt(req.Position())
	}
	observed := make([]float64, m.Len())
	for i := range observed {
		observed[i] = m.ArmAt(i).MeanTime()
	}
	p.logger.Debug("confidence-biased greedy decision",
		slog.String("reason", reason.String()),
		slog.Int("arm", selected.Index()),
		slog.Float64("explore_probability", explore),
		slog.Any("observed_means", observed),
	)
	return req
}

func (p *ConfidenceBiasedGreedy) Duplicate() Policy {
	dup, _ := NewConfidenceBiasedGreedy(p.initialExplorationSize, p.rng, p.logger)
	return dup
}

func (p *ConfidenceBiasedGreedy) RequiresPrecommittedBudget() bool { return false }

func (p *ConfidenceBiasedGreedy) Name() string {
	return fmt.Sprintf("cb-greedy(%d)", p.initialExplorationSize)
}
