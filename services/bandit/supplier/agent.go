// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supplier

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/supplychain/services/bandit/memory"
	"github.com/AleutianAI/supplychain/services/bandit/policy"
)

// AgentConfig describes one agent node.
type AgentConfig struct {
	// Policy chooses which child to pull. Required.
	Policy policy.Policy

	// Children are the agent's arms. Required, all with the same cost.
	Children []Supplier

	// Cost is the budget the agent's parent pays per pull of this agent.
	Cost float64

	// MeanTime is the mean of the agent's own service time, added on top
	// of whatever its children take.
	MeanTime float64

	// Distribution and Scale form the agent's own noise model.
	Distribution Distribution
	Scale        float64

	// BudgetMultiplier is the number of child pulls bought per unit of
	// the agent's own cost.
	BudgetMultiplier float64

	// IsRoot marks the agent whose budget is committed up front.
	IsRoot bool

	// Logger receives Debug records for every spend. Default: slog.Default().
	Logger *slog.Logger
}

// Agent is a supplier that plays a bandit over its children.
//
// Thread Safety: not safe for concurrent use.
type Agent struct {
	node

	policy           policy.Policy
	children         []Supplier
	memory           *memory.AgentMemory
	budget           float64
	totalTimeTaken   float64
	totalPulls       int
	budgetMultiplier float64
	isRoot           bool
	logger           *slog.Logger
}

// NewAgent creates an agent.
//
// Outputs:
//
//	*Agent - The agent with an untested memory over its children.
//	error - ErrPrecommittedBudgetNotRoot when a budget-dependent policy is
//	  attached to a non-root agent; ErrNoChildren, ErrNilPolicy or
//	  ErrNilDistribution for an incomplete config.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Policy == nil {
		return nil, ErrNilPolicy
	}
	if len(cfg.Children) == 0 {
		return nil, ErrNoChildren
	}
	if cfg.Distribution == nil {
		return nil, ErrNilDistribution
	}
	if err := checkPolicy(cfg.Policy, cfg.IsRoot); err != nil {
		return nil, err
	}

	arms := make([]memory.Arm, len(cfg.Children))
	for i, child := range cfg.Children {
		arms[i] = child
	}
	mem, err := memory.New(arms)
	if err != nil {
		return nil, fmt.Errorf("creating agent memory: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		node: node{
			cost:     cfg.Cost,
			meanTime: cfg.MeanTime,
			scale:    cfg.Scale,
			dist:     cfg.Distribution,
		},
		policy:           cfg.Policy,
		children:         cfg.Children,
		memory:           mem,
		budgetMultiplier: cfg.BudgetMultiplier,
		isRoot:           cfg.IsRoot,
		logger:           logger,
	}, nil
}

// Sample spends the agent's per-pull budget on its children and returns
// the average child time plus the agent's own service time.
func (a *Agent) Sample() (float64, error) {
	childTime, err := a.Spend(a.cost * a.budgetMultiplier)
	if err != nil {
		return 0, err
	}
	return childTime + a.sample(), nil
}

// Spend adds budget to the agent and pulls children until the remaining
// budget cannot pay for another pull.
//
// Description:
//
//	Every iteration asks the policy for a request, pays one child cost,
//	then pulls. Budget left over below one cost carries into the next
//	spend. The average duration of this spend is also added to
//	TotalTimeTaken.
//
// Inputs:
//
//	budget - Budget added before pulling.
//
// Outputs:
//
//	float64 - Average duration of the pulls made by this spend.
//	error - ErrBudgetBelowCost when no pull was affordable, or any policy or
//	  pull failure.
func (a *Agent) Spend(budget float64) (float64, error) {
	cost := a.children[0].Cost()
	a.budget += budget

	var (
		total float64
		pulls int
	)
	for a.budget >= cost {
		req, err := a.policy.Next(a.memory)
		if err != nil {
			return 0, fmt.Errorf("%s choosing arm: %w", a.policy.Name(), err)
		}
		a.budget -= cost
		d, err := a.memory.Pull(req)
		if err != nil {
			return 0, fmt.Errorf("%s pulling %s: %w", a.policy.Name(), req, err)
		}
		a.totalPulls++
		pulls++
		total += d
	}

	if pulls == 0 {
		return 0, fmt.Errorf("%w: have %g, need %g", ErrBudgetBelowCost, a.budget, cost)
	}

	avg := total / float64(pulls)
	a.totalTimeTaken += avg
	a.logger.Debug("agent spend complete",
		slog.String("policy", a.policy.Name()),
		slog.Bool("root", a.isRoot),
		slog.Int("pulls", pulls),
		slog.Float64("average_time", avg),
		slog.Int("best_index", a.memory.Best().Index()),
	)
	return avg, nil
}

// Reset clears the agent's memory and counters, swaps its noise model and
// replaces its policy with a fresh duplicate.
func (a *Agent) Reset(dist Distribution, scale float64) {
	a.setNoise(dist, scale)
	// Reset only fails if rebuilding the ranked view breaks ordering,
	// which cannot happen once every record is untested.
	if err := a.memory.Reset(); err != nil {
		panic(fmt.Sprintf("supplier: resetting agent memory: %v", err))
	}
	a.budget = 0
	a.totalTimeTaken = 0
	a.totalPulls = 0
	a.policy = a.policy.Duplicate()
}

// ResetWithPolicy resets the agent and installs p.
func (a *Agent) ResetWithPolicy(dist Distribution, scale float64, p policy.Policy) error {
	if p == nil {
		return ErrNilPolicy
	}
	if err := checkPolicy(p, a.isRoot); err != nil {
		return err
	}
	a.Reset(dist, scale)
	a.policy = p
	return nil
}

// Children returns the agent's children in index order.
func (a *Agent) Children() []Supplier { return a.children }

// IsLeaf returns false.
func (a *Agent) IsLeaf() bool { return false }

// Memory returns the agent's arm memory.
func (a *Agent) Memory() *memory.AgentMemory { return a.memory }

// Policy returns the policy currently in use.
func (a *Agent) Policy() policy.Policy { return a.policy }

// TotalTimeTaken returns the sum of per-spend average durations since the
// last reset.
func (a *Agent) TotalTimeTaken() float64 { return a.totalTimeTaken }

// TotalPulls returns the number of child pulls since the last reset.
func (a *Agent) TotalPulls() int { return a.totalPulls }

// BudgetMultiplier returns the child pulls bought per unit of own cost.
func (a *Agent) BudgetMultiplier() float64 { return a.budgetMultiplier }

// IsRoot reports whether this is the root agent.
func (a *Agent) IsRoot() bool { return a.isRoot }

// RemainingBudget returns budget carried over from previous spends.
func (a *Agent) RemainingBudget() float64 { return a.budget }

func checkPolicy(p policy.Policy, isRoot bool) error {
	if p.RequiresPrecommittedBudget() && !isRoot {
		return fmt.Errorf("%w: %s", ErrPrecommittedBudgetNotRoot, p.Name())
	}
	return nil
}
