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
	"fmt"
	"math/big"
)

// DominancePrecision is the number of decimal places kept by
// DominanceProbability. The single division is rounded half-to-even.
const DominancePrecision = 5

type dominanceCache struct {
	valid          bool
	best           *ArmRecord
	bestGeneration uint64
	value          float64
}

// DominanceProbability estimates how likely it is that this arm's samples
// were drawn from the same distribution as best's samples.
//
// Description:
//
//	Counts the subsets of best's samples, of the same size as this arm's
//	sample set, that dominate it: pairing both sets worst-first, every
//	sample of this arm is matched with a best sample that is equal or
//	worse. The count is divided by C(|best|, |this|). Identical sample
//	sets give 1, a challenger holding a sample worse than anything best
//	has seen gives 0.
//
//	Both counts are arbitrary precision. The result is rounded to
//	DominancePrecision decimal places.
//
// Inputs:
//
//	best - The currently best-ranked record. Both records must track samples.
//
// Outputs:
//
//	float64 - Probability in [0, 1]. Zero when best has fewer samples.
//
// Thread Safety: not safe for concurrent use.
func (r *ArmRecord) DominanceProbability(best *ArmRecord) float64 {
	n, k := best.SampleCount(), r.SampleCount()
	if n < k {
		return 0
	}
	if c := r.cache; c.valid && c.best == best && c.bestGeneration == best.generation {
		return c.value
	}

	value := dominance(best.Samples(), r.Samples(), best.samples.LastIndexOfEqual)
	r.cache = dominanceCache{valid: true, best: best, bestGeneration: best.generation, value: value}
	return value
}

// dominance computes the rounded probability for two descending sample sets.
// lastEqual locates the last position in bestSamples equal to a value, or
// its insertion position when absent.
func dominance(bestSamples, challenger []float64, lastEqual func(float64) int) float64 {
	n, k := len(bestSamples), len(challenger)
	if k == 0 {
		return 1
	}

	// worse[p] is how many best samples are equal to or worse than the
	// challenger's p-th worst sample. Because both lists are descending,
	// worse is non-decreasing and the eligible best samples always form a
	// prefix of bestSamples.
	worse := make([]int, k)
	for p, s := range challenger {
		w := lastEqual(s)
		if w < n && bestSamples[w] == s {
			w++
		}
		if w-p <= 0 {
			return 0
		}
		worse[p] = w
	}

	numerator := countDominatingSubsets(worse, n)
	denominator := binomial(n, k)
	value := roundHalfEven(numerator, denominator, DominancePrecision)
	if value > 1 {
		panic(fmt.Sprintf("memory: dominance probability %v exceeds 1 (n=%d k=%d)", value, n, k))
	}
	return value
}

// countDominatingSubsets counts strictly increasing position sequences
// i_0 < i_1 < ... < i_{k-1} with i_p < worse[p]. Each such sequence is one
// subset of the best samples that dominates the challenger.
func countDominatingSubsets(worse []int, n int) *big.Int {
	ways := make([]*big.Int, n)
	for i := range ways {
		ways[i] = new(big.Int)
		if i < worse[0] {
			ways[i].SetInt64(1)
		}
	}

	next := make([]*big.Int, n)
	for i := range next {
		next[i] = new(big.Int)
	}
	prefix := new(big.Int)
	for p := 1; p < len(worse); p++ {
		prefix.SetInt64(0)
		for i := 0; i < n; i++ {
			if i < worse[p] {
				next[i].Set(prefix)
			} else {
				next[i].SetInt64(0)
			}
			prefix.Add(prefix, ways[i])
		}
		ways, next = next, ways
	}

	total := new(big.Int)
	for _, w := range ways {
		total.Add(total, w)
	}
	return total
}

// binomial returns C(n, k) using the multiplicative recurrence
// C(n, i+1) = C(n, i) * (n - i) / (i + 1), which stays integral.
func binomial(n, k int) *big.Int {
	if k > n-k {
		k = n - k
	}
	ret := big.NewInt(1)
	tmp := new(big.Int)
	for i := 0; i < k; i++ {
		ret.Mul(ret, tmp.SetInt64(int64(n-i)))
		ret.Quo(ret, tmp.SetInt64(int64(i+1)))
	}
	return ret
}

// roundHalfEven divides num by den and rounds to the given decimal places.
func roundHalfEven(num, den *big.Int, places int) float64 {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)
	scaled := new(big.Int).Mul(num, scale)
	q, rem := new(big.Int).QuoRem(scaled, den, new(big.Int))

	switch new(big.Int).Lsh(rem, 1).Cmp(den) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}

	f, _ := new(big.Rat).SetFrac(q, scale).Float64()
	return f
}
