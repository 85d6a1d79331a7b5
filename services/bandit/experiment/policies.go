// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/AleutianAI/supplychain/services/bandit/policy"
)

// Policy kinds accepted in PolicyConfig.Kind.
const (
	KindRandom       = "random"
	KindGreedy       = "greedy"
	KindArbitrary    = "arbitrary"
	KindEpsilonFirst = "e-first"
	KindKDE          = "kde"
	KindLSplit       = "l-split"
	KindPEEF         = "peef"
	KindSOAAV        = "soaav"
	KindCBGreedy     = "cb-greedy"
	KindUCBBV1       = "ucb-bv1"
)

// policyKinds maps every kind to whether it needs a precommitted budget.
var policyKinds = map[string]bool{
	KindRandom:       false,
	KindGreedy:       false,
	KindArbitrary:    false,
	KindEpsilonFirst: true,
	KindKDE:          true,
	KindLSplit:       false,
	KindPEEF:         true,
	KindSOAAV:        false,
	KindCBGreedy:     false,
	KindUCBBV1:       false,
}

// PolicyKinds returns every supported kind in alphabetical order.
func PolicyKinds() []string {
	kinds := make([]string, 0, len(policyKinds))
	for k := range policyKinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// PolicyEnv is what a policy may depend on at a given sweep point.
type PolicyEnv struct {
	Budget float64
	Cost   float64
	Arms   int
	Rand   *rand.Rand
	Logger *slog.Logger
}

// Build constructs the configured policy.
//
// Outputs:
//
//	policy.Policy - A fresh policy.
//	error - An unknown kind, or the policy's own parameter error.
func (pc PolicyConfig) Build(env PolicyEnv) (policy.Policy, error) {
	var (
		p   policy.Policy
		err error
	)
	switch pc.Kind {
	case KindRandom:
		p = policy.NewRandom(env.Rand)
	case KindGreedy:
		p = policy.NewGreedy()
	case KindArbitrary:
		p = policy.NewFixed()
	case KindEpsilonFirst:
		p, err = policy.NewEpsilonFirst(env.Budget, pc.Epsilon, env.Cost)
	case KindKDE:
		p, err = policy.NewKDE(env.Budget, pc.Epsilon, env.Cost, env.Rand)
	case KindLSplit:
		p, err = policy.NewLSplit(pc.L)
	case KindPEEF:
		p, err = policy.NewPEEF(env.Arms, env.Budget, pc.Epsilon)
	case KindSOAAV:
		p, err = policy.NewSOAAV(pc.X)
	case KindCBGreedy:
		p, err = policy.NewConfidenceBiasedGreedy(pc.InitialExplorationSize, env.Rand, env.Logger)
	case KindUCBBV1:
		p = policy.NewUCBBV1()
	default:
		return nil, fmt.Errorf("unknown policy kind %q", pc.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", pc.Kind, err)
	}
	return p, nil
}

// Label returns Name, or the name the built policy reports.
func (pc PolicyConfig) Label(p policy.Policy) string {
	if pc.Name != "" {
		return pc.Name
	}
	return p.Name()
}

// RequiresBudget reports whether the kind needs a precommitted budget.
func (pc PolicyConfig) RequiresBudget() bool {
	return policyKinds[pc.Kind]
}
