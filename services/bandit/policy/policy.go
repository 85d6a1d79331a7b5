// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy implements arm-selection strategies for bandit agents.
//
// # Overview
//
// A Policy looks at an agent's memory and answers one question per budget
// unit: which arm should be pulled next. Policies hold their own state
// (sweep cursors, phase flags, snapshots) and mutate it on every call, so
// one instance belongs to exactly one agent. Duplicate produces a fresh
// instance with the same parameters for the next trial.
//
// # Randomness
//
// Randomised policies take an explicit *rand.Rand. Nothing in this package
// reads a global generator, so a seeded run is reproducible.
//
// # Thread Safety
//
// Policies are NOT safe for concurrent use.
package policy

import (
	"errors"

	"github.com/AleutianAI/supplychain/services/bandit/memory"
	"github.com/AleutianAI/supplychain/services/bandit/sorted"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidParameter is returned by constructors given parameters that
	// cannot produce a working policy.
	ErrInvalidParameter = errors.New("invalid policy parameter")
)

// =============================================================================
// Interfaces
// =============================================================================

// Memory is the read side of an agent's arm memory that policies consult.
// *memory.AgentMemory satisfies it.
type Memory interface {
	// Len returns the number of arms.
	Len() int

	// ArmAt returns the record with the given stable index.
	ArmAt(index int) *memory.ArmRecord

	// RankedAt returns the record at a rank; Len()-1 is the best arm.
	RankedAt(rank int) *memory.ArmRecord

	// RankedSnapshot returns an independent copy of the ranked view.
	RankedSnapshot() *sorted.List[*memory.ArmRecord]

	// AverageFrom averages MeanTime over ranks [start, Len()-1].
	AverageFrom(start int) (float64, error)
}

// Policy chooses the next arm to pull.
type Policy interface {
	// Next returns the arm to pull. It is called exactly once per budget
	// unit and may mutate the policy's state.
	Next(m Memory) (memory.PullRequest, error)

	// Duplicate returns a fresh instance with identical parameters and
	// initial state.
	Duplicate() Policy

	// RequiresPrecommittedBudget reports whether the policy was configured
	// from the total budget up front. Such policies can only drive the
	// root agent, whose budget is known before the run.
	RequiresPrecommittedBudget() bool

	// Name returns a short label used in reports.
	Name() string
}

var (
	_ Memory = (*memory.AgentMemory)(nil)

	_ Policy = (*Random)(nil)
	_ Policy = (*Greedy)(nil)
	_ Policy = (*Fixed)(nil)
	_ Policy = (*EpsilonFirst)(nil)
	_ Policy = (*KDE)(nil)
	_ Policy = (*LSplit)(nil)
	_ Policy = (*SOAAV)(nil)
	_ Policy = (*ConfidenceBiasedGreedy)(nil)
	_ Policy = (*UCBBV1)(nil)
)

// exploit returns a request for the best-ranked arm.
func exploit(m Memory) memory.PullRequest {
	return memory.ByRank(m.Len() - 1)
}
