// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"cmp"
	"fmt"
	"math"

	"github.com/AleutianAI/supplychain/services/bandit/sorted"
)

// UntestedMeanTime is the mean time reported by an arm that has never been
// pulled. It ranks unpulled arms as the worst possible choice.
const UntestedMeanTime = math.MaxFloat64

// Arm is anything that can be pulled to produce a service time.
//
// Description:
//
//	Sample returns a non-negative duration for one pull. IsBestArm is the
//	ground-truth label used only for reporting whether a policy converged on
//	the globally best arm; selection logic never reads it.
type Arm interface {
	Sample() (float64, error)
	IsBestArm() bool
}

// ArmRecord holds the running statistics for one arm.
//
// Thread Safety: not safe for concurrent use; owned by one AgentMemory.
type ArmRecord struct {
	index     int
	arm       Arm
	pulls     int
	totalTime float64

	// samples is non-nil only while tracking is enabled. Ordered by
	// descending duration so position 0 holds the worst sample.
	samples *sorted.List[float64]

	// generation changes every time the statistics change. Dominance
	// results cached against another record are keyed by its generation.
	generation uint64
	cache      dominanceCache
}

func newArmRecord(index int, arm Arm) *ArmRecord {
	return &ArmRecord{index: index, arm: arm}
}

// Index returns the stable creation-order index of the arm.
func (r *ArmRecord) Index() int { return r.index }

// Arm returns the underlying arm.
func (r *ArmRecord) Arm() Arm { return r.arm }

// Pulls returns how many times the arm has been pulled since the last reset.
func (r *ArmRecord) Pulls() int { return r.pulls }

// TotalTime returns the sum of all observed durations.
func (r *ArmRecord) TotalTime() float64 { return r.totalTime }

// IsUntested reports whether the arm has not been pulled since the last reset.
func (r *ArmRecord) IsUntested() bool { return r.pulls == 0 }

// MeanTime returns the average observed duration, or UntestedMeanTime when
// the arm has never been pulled.
func (r *ArmRecord) MeanTime() float64 {
	if r.pulls == 0 {
		return UntestedMeanTime
	}
	return r.totalTime / float64(r.pulls)
}

// EnableSampleTracking starts retaining individual samples. Samples observed
// before tracking was enabled are not recovered.
func (r *ArmRecord) EnableSampleTracking() {
	if r.samples == nil {
		r.samples = sorted.New(descending)
		r.invalidate()
	}
}

// TracksSamples reports whether individual samples are retained.
func (r *ArmRecord) TracksSamples() bool { return r.samples != nil }

// Samples returns the retained samples ordered worst (longest) first.
// It returns nil when tracking is disabled.
func (r *ArmRecord) Samples() []float64 {
	if r.samples == nil {
		return nil
	}
	return r.samples.Items()
}

// SampleCount returns the number of retained samples.
func (r *ArmRecord) SampleCount() int {
	if r.samples == nil {
		return 0
	}
	return r.samples.Len()
}

// Equal reports whether both records describe the same arm.
func (r *ArmRecord) Equal(other *ArmRecord) bool {
	return other != nil && r.index == other.index
}

// Compare orders records by descending mean time, so the slowest arm sorts
// first, breaking ties by ascending index.
func (r *ArmRecord) Compare(other *ArmRecord) int {
	return compareRecords(r, other)
}

func (r *ArmRecord) String() string {
	if r.pulls == 0 {
		return fmt.Sprintf("arm[%d] untested", r.index)
	}
	return fmt.Sprintf("arm[%d] mean=%.4f pulls=%d", r.index, r.MeanTime(), r.pulls)
}

func (r *ArmRecord) record(duration float64) {
	r.pulls++
	r.totalTime += duration
	if r.samples != nil {
		r.samples.Insert(duration)
	}
	r.invalidate()
}

func (r *ArmRecord) reset() {
	r.pulls = 0
	r.totalTime = 0
	r.samples = nil
	r.invalidate()
}

func (r *ArmRecord) invalidate() {
	r.generation++
	r.cache = dominanceCache{}
}

func compareRecords(a, b *ArmRecord) int {
	am, bm := a.MeanTime(), b.MeanTime()
	switch {
	case am > bm:
		return -1
	case am < bm:
		return 1
	}
	return cmp.Compare(a.index, b.index)
}

func descending(a, b float64) int {
	return cmp.Compare(b, a)
}
