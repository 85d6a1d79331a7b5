// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory tracks what an agent has learned about its arms.
//
// # Overview
//
// AgentMemory keeps one ArmRecord per arm and exposes two views over them:
//
//   - by index: fixed creation order, used by policies that sweep arms.
//   - by rank: ordered worst to best by mean service time, so the last rank
//     is always the current best arm.
//
// Policies talk to the memory through PullRequest values, which address
// either view with a single integer.
//
// # Invariants
//
//   - The ranked view is a permutation of the by-index view.
//   - After every Pull the ranked view is fully ordered again.
//   - Untested arms rank worst because their mean is UntestedMeanTime.
//
// # Thread Safety
//
// AgentMemory is NOT safe for concurrent use. One agent owns one memory and
// drives it from a single goroutine.
package memory

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/supplychain/services/bandit/sorted"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidPullRequest is returned when a request addresses a position
	// outside the memory.
	ErrInvalidPullRequest = errors.New("pull request out of range")

	// ErrEmptyRange is returned by AverageFrom when the requested rank range
	// holds no arms.
	ErrEmptyRange = errors.New("rank range is empty")

	// ErrNoArms is returned by New when no arms are supplied.
	ErrNoArms = errors.New("memory requires at least one arm")
)

// =============================================================================
// AgentMemory
// =============================================================================

// AgentMemory holds the arm records of one agent.
type AgentMemory struct {
	byIndex []*ArmRecord
	byRank  *sorted.List[*ArmRecord]
}

// New creates a memory over arms. Arm i receives stable index i.
//
// Outputs:
//
//	*AgentMemory - Memory with every arm untested.
//	error - ErrNoArms when arms is empty.
func New(arms []Arm) (*AgentMemory, error) {
	if len(arms) == 0 {
		return nil, ErrNoArms
	}
	m := &AgentMemory{
		byIndex: make([]*ArmRecord, len(arms)),
		byRank:  sorted.NewWithCapacity(compareRecords, len(arms)),
	}
	for i, arm := range arms {
		m.byIndex[i] = newArmRecord(i, arm)
	}
	if err := m.rebuildRanks(); err != nil {
		return nil, err
	}
	return m, nil
}

// Len returns the number of arms.
func (m *AgentMemory) Len() int { return len(m.byIndex) }

// ArmAt returns the record with the given stable index.
func (m *AgentMemory) ArmAt(index int) *ArmRecord { return m.byIndex[index] }

// RankedAt returns the record at the given rank. Rank 0 is the worst arm.
func (m *AgentMemory) RankedAt(rank int) *ArmRecord { return m.byRank.At(rank) }

// Best returns the best-ranked record.
func (m *AgentMemory) Best() *ArmRecord { return m.byRank.Last() }

// Index resolves a request to the stable index of the arm it names.
func (m *AgentMemory) Index(req PullRequest) (int, error) {
	rec, err := m.resolve(req)
	if err != nil {
		return 0, err
	}
	return rec.index, nil
}

// Pull samples the arm named by req and updates its statistics.
//
// Description:
//
//	The record leaves the ranked view before its statistics change and is
//	inserted again afterwards, so the ranked view is never searched with
//	stale keys. A ranked request removes by position; an indexed request
//	locates the record by binary search first.
//
// Inputs:
//
//	req - Ranked or indexed request.
//
// Outputs:
//
//	float64 - The sampled duration.
//	error - ErrInvalidPullRequest for an out-of-range request, or the
//	  arm's sampling error.
func (m *AgentMemory) Pull(req PullRequest) (float64, error) {
	rec, err := m.resolve(req)
	if err != nil {
		return 0, err
	}

	if req.UsesRankedView() {
		m.byRank.RemoveAt(req.Position())
	} else if !m.byRank.Remove(rec) {
		panic(fmt.Sprintf("memory: %s missing from ranked view", rec))
	}

	duration, err := rec.arm.Sample()
	if err != nil {
		m.byRank.Insert(rec)
		return 0, fmt.Errorf("sampling arm %d: %w", rec.index, err)
	}
	rec.record(duration)
	m.byRank.Insert(rec)
	return duration, nil
}

// Reset clears every record and restores the ranked view to index order.
func (m *AgentMemory) Reset() error {
	for _, rec := range m.byIndex {
		rec.reset()
	}
	return m.rebuildRanks()
}

// AverageFrom returns the average mean time of the arms ranked start and
// above.
//
// Outputs:
//
//	float64 - Average of MeanTime over ranks [start, Len()-1].
//	error - ErrEmptyRange when start is outside [0, Len()).
func (m *AgentMemory) AverageFrom(start int) (float64, error) {
	if start < 0 || start >= m.byRank.Len() {
		return 0, fmt.Errorf("%w: start %d with %d arms", ErrEmptyRange, start, m.byRank.Len())
	}
	var sum float64
	for i := start; i < m.byRank.Len(); i++ {
		sum += m.byRank.At(i).MeanTime()
	}
	return sum / float64(m.byRank.Len()-start), nil
}

// IsTopRankOptimal reports whether the best-ranked arm is the ground-truth
// best arm.
func (m *AgentMemory) IsTopRankOptimal() bool {
	return m.Best().arm.IsBestArm()
}

// RankedSnapshot returns an independent copy of the ranked view. Later
// pulls reorder the memory but not the snapshot; records are shared.
func (m *AgentMemory) RankedSnapshot() *sorted.List[*ArmRecord] {
	return m.byRank.Clone()
}

// Records returns the records in index order.
func (m *AgentMemory) Records() []*ArmRecord {
	out := make([]*ArmRecord, len(m.byIndex))
	copy(out, m.byIndex)
	return out
}

func (m *AgentMemory) resolve(req PullRequest) (*ArmRecord, error) {
	pos := req.Position()
	if pos >= len(m.byIndex) {
		return nil, fmt.Errorf("%w: %s with %d arms", ErrInvalidPullRequest, req, len(m.byIndex))
	}
	if req.UsesRankedView() {
		return m.byRank.At(pos), nil
	}
	return m.byIndex[pos], nil
}

// rebuildRanks appends every record in index order. All records are
// untested at this point, so index order is already rank order.
func (m *AgentMemory) rebuildRanks() error {
	m.byRank.Clear()
	for _, rec := range m.byIndex {
		if err := m.byRank.Append(rec); err != nil {
			return fmt.Errorf("rebuilding ranked view: %w", err)
		}
	}
	return nil
}
