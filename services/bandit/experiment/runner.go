// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiment runs policy comparisons over supply chain trees.
//
// # Overview
//
// A run sweeps one variable (noise scale or budget). At every sweep point
// each configured policy drives the root of its own copy of the tree for a
// number of independent trials. The mean service time and the fraction of
// trials whose root ranked the true best arm first are reported per policy.
//
// Every policy run owns its tree and random sources, seeded from the run
// seed, its mode, sweep index and policy index. Runs are reproducible
// regardless of how many workers execute them. All trees share the same
// shuffled structure so that policies are compared on identical chains.
//
// # Thread Safety
//
// Runner.Run may be called from several goroutines; each call is
// independent.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/supplychain/services/bandit/policy"
	"github.com/AleutianAI/supplychain/services/bandit/supplier"
	"github.com/AleutianAI/supplychain/services/bandit/telemetry"
)

const instrumentationName = "supplychain.experiment"

// Salts separating the random streams derived from one seed.
const (
	saltTree uint64 = iota + 1
	saltPolicy
	saltNoise
)

// Result aggregates the trials of one policy at one sweep point.
type Result struct {
	RunID      string  `json:"run_id"`
	Mode       string  `json:"mode"`
	SweepValue float64 `json:"sweep_value"`
	Policy     string  `json:"policy"`

	// MeanTime is the average over trials of the root's total time taken.
	MeanTime float64 `json:"mean_time"`

	// OptimalRate is the fraction of trials whose root ranked the true best
	// arm first.
	OptimalRate float64 `json:"optimal_rate"`

	Trials int `json:"trials"`

	// Pulls is the number of root-level pulls over all trials.
	Pulls int `json:"pulls"`
}

// Run is one finished experiment.
type Run struct {
	ID         string             `json:"id"`
	Label      string             `json:"label"`
	Variable   string             `json:"variable"`
	Modes      []string           `json:"modes"`
	Policies   []string           `json:"policies"`
	Trials     int                `json:"trials"`
	Budget     float64            `json:"budget"`
	Cost       float64            `json:"cost"`
	Scale      float64            `json:"scale"`
	Tree       TreeConfig         `json:"tree"`
	Stats      supplier.TreeStats `json:"stats"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`

	// Results are ordered by mode, then sweep value, then policy.
	Results []Result `json:"results,omitempty"`
}

// Grid returns the sweep values of mode and, for each, one result per
// policy in Policies order.
func (run *Run) Grid(mode string) ([]float64, [][]Result) {
	var (
		values []float64
		rows   [][]Result
	)
	n := len(run.Policies)
	if n == 0 {
		return nil, nil
	}
	for i := 0; i+n <= len(run.Results); i += n {
		if run.Results[i].Mode != mode {
			continue
		}
		values = append(values, run.Results[i].SweepValue)
		rows = append(rows, run.Results[i:i+n])
	}
	return values, rows
}

// Runner executes experiments.
type Runner struct {
	cfg          Config
	logger       *slog.Logger
	trialCounter metric.Int64Counter

	progressMu sync.Mutex
	onResult   func(Result)
}

// NewRunner validates cfg and prepares a runner.
//
// Outputs:
//
//	*Runner - Ready to Run.
//	error - ErrInvalidConfig, a policy parameter error, or an instrument
//	  registration failure.
func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"supplychain.experiment.trials",
		metric.WithDescription("Trials run by policy and mode"),
	)
	if err != nil {
		return nil, fmt.Errorf("create trial counter: %w", err)
	}
	r := &Runner{cfg: cfg, logger: logger, trialCounter: counter}
	if _, err := r.labels(); err != nil {
		return nil, err
	}
	return r, nil
}

// OnResult registers fn to receive each result as its policy run
// finishes, in completion order. Calls are serialised. Set it before Run.
func (r *Runner) OnResult(fn func(Result)) *Runner {
	r.onResult = fn
	return r
}

// Config returns the runner's configuration.
func (r *Runner) Config() Config { return r.cfg }

// task identifies one policy run.
type task struct {
	modeIndex   int
	mode        string
	sweepIndex  int
	sweepValue  float64
	policyIndex int
	label       string
}

// Run executes every mode, sweep point and policy.
//
// Description:
//
//	Policy runs execute in parallel on at most Workers goroutines. The
//	first failure cancels the rest. The context is checked between
//	trials.
//
// Outputs:
//
//	*Run - Results ordered by mode, sweep value and policy.
//	error - The first policy failure or the context's error.
func (r *Runner) Run(ctx context.Context) (*Run, error) {
	values := r.cfg.Sweep.Values()
	ctx, span := telemetry.StartSpan(ctx, instrumentationName, "Runner.Run",
		trace.WithAttributes(
			attribute.String("sweep.variable", r.cfg.Sweep.Variable),
			attribute.Int("sweep.points", len(values)),
			attribute.Int("policies", len(r.cfg.Policies)),
			attribute.Int("trials", r.cfg.Trials),
		),
	)
	defer span.End()

	labels, err := r.labels()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	stats, err := r.treeStats()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	run := &Run{
		ID:        uuid.NewString(),
		Label:     r.cfg.Output.Label,
		Variable:  r.cfg.Sweep.Variable,
		Modes:     append([]string(nil), r.cfg.Modes...),
		Policies:  labels,
		Trials:    r.cfg.Trials,
		Budget:    r.cfg.Budget,
		Cost:      r.cfg.Cost,
		Scale:     r.cfg.Scale,
		Tree:      r.cfg.Tree,
		Stats:     stats,
		StartedAt: time.Now().UTC(),
	}
	span.SetAttributes(attribute.String("run.id", run.ID))
	r.logger.Info("experiment started",
		slog.String("run_id", run.ID),
		slog.String("variable", run.Variable),
		slog.Int("sweep_points", len(values)),
		slog.Int("policies", len(labels)),
		slog.Int("nodes", stats.Nodes),
	)

	workers := r.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]Result, len(r.cfg.Modes)*len(values)*len(labels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for mi, mode := range r.cfg.Modes {
		for si, v := range values {
			for pi, label := range labels {
				idx := (mi*len(values)+si)*len(labels) + pi
				t := task{
					modeIndex:   mi,
					mode:        mode,
					sweepIndex:  si,
					sweepValue:  v,
					policyIndex: pi,
					label:       label,
				}
				g.Go(func() error {
					res, err := r.runPolicy(gctx, t)
					if err != nil {
						RecordRunError(t.label)
						return err
					}
					res.RunID = run.ID
					results[idx] = res
					RecordResult(res)
					r.report(res)
					return nil
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		r.logger.Error("experiment failed", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		return nil, err
	}

	run.Results = results
	run.FinishedAt = time.Now().UTC()
	telemetry.SetSpanOK(span)
	r.logger.Info("experiment finished",
		slog.String("run_id", run.ID),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

func (r *Runner) report(res Result) {
	if r.onResult == nil {
		return
	}
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.onResult(res)
}

// runPolicy runs every trial of one policy at one sweep point.
func (r *Runner) runPolicy(ctx context.Context, t task) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, instrumentationName, "Runner.runPolicy",
		trace.WithAttributes(
			attribute.String("policy", t.label),
			attribute.String("mode", t.mode),
			attribute.Float64("sweep.value", t.sweepValue),
		),
	)
	defer span.End()

	res, err := r.runTrials(ctx, t)
	if err != nil {
		err = fmt.Errorf("%s (%s, %s=%g): %w", t.label, t.mode, r.cfg.Sweep.Variable, t.sweepValue, err)
		telemetry.RecordError(span, err)
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Float64("mean_time", res.MeanTime),
		attribute.Float64("optimal_rate", res.OptimalRate),
	)
	return res, nil
}

func (r *Runner) runTrials(ctx context.Context, t task) (Result, error) {
	budget, scale := r.cfg.Budget, r.cfg.Scale
	if r.cfg.Sweep.Variable == SweepBudget {
		budget = t.sweepValue
	} else {
		scale = t.sweepValue
	}

	seed := mix(r.cfg.Seed, uint64(t.modeIndex), uint64(t.sweepIndex), uint64(t.policyIndex))
	rng := rand.New(rand.NewPCG(seed, mix(seed, saltPolicy)))
	dist, err := supplier.NewDistribution(r.cfg.Distribution, rand.NewPCG(mix(seed, saltNoise), seed))
	if err != nil {
		return Result{}, err
	}

	env := PolicyEnv{
		Budget: budget,
		Cost:   r.cfg.Cost,
		Arms:   r.cfg.Tree.RootChildren,
		Rand:   rng,
		Logger: r.logger,
	}
	p, err := r.cfg.Policies[t.policyIndex].Build(env)
	if err != nil {
		return Result{}, err
	}
	fallback, err := r.cfg.Tree.Fallback.Build(env)
	if err != nil {
		return Result{}, fmt.Errorf("fallback: %w", err)
	}

	tree, err := supplier.BuildTree(r.treeConfig(p, fallback, dist, scale, t.mode == ModeStatic))
	if err != nil {
		return Result{}, err
	}

	attrs := metric.WithAttributes(attribute.String("policy", t.label), attribute.String("mode", t.mode))
	var (
		totalTime float64
		optimal   int
		pulls     int
	)
	for trial := 0; trial < r.cfg.Trials; trial++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if trial > 0 {
			if err := tree.Reset(nil, dist, scale); err != nil {
				return Result{}, fmt.Errorf("reset before trial %d: %w", trial, err)
			}
		}

		start := time.Now()
		if _, err := tree.Root.Spend(budget); err != nil {
			return Result{}, fmt.Errorf("trial %d: %w", trial, err)
		}
		totalTime += tree.Root.TotalTimeTaken()
		if tree.Root.Memory().IsTopRankOptimal() {
			optimal++
		}
		pulls += tree.Root.TotalPulls()

		RecordTrial(t.label, t.mode, tree.Root.TotalPulls(), time.Since(start).Seconds())
		r.trialCounter.Add(ctx, 1, attrs)
	}

	res := Result{
		Mode:        t.mode,
		SweepValue:  t.sweepValue,
		Policy:      t.label,
		MeanTime:    totalTime / float64(r.cfg.Trials),
		OptimalRate: float64(optimal) / float64(r.cfg.Trials),
		Trials:      r.cfg.Trials,
		Pulls:       pulls,
	}
	r.logger.Debug("policy run complete",
		slog.String("policy", t.label),
		slog.String("mode", t.mode),
		slog.Float64(r.cfg.Sweep.Variable, t.sweepValue),
		slog.Float64("mean_time", res.MeanTime),
		slog.Float64("optimal_rate", res.OptimalRate),
	)
	return res, nil
}

func (r *Runner) treeConfig(p, fallback policy.Policy, dist supplier.Distribution, scale float64, static bool) supplier.TreeConfig {
	tc := r.cfg.Tree
	return supplier.TreeConfig{
		Depth:             tc.Depth,
		RootChildren:      tc.RootChildren,
		Children:          tc.Children,
		MeanTimeMin:       tc.MeanTimeMin,
		MeanTimeIncrement: tc.MeanTimeIncrement,
		SuperFactor:       tc.SuperFactor,
		Shape:             supplier.Shape(tc.Shape),
		Cost:              r.cfg.Cost,
		Distribution:      dist,
		Scale:             scale,
		Policy:            p,
		Fallback:          fallback,
		FallbackOverride:  static,
		Rand:              rand.New(rand.NewPCG(r.cfg.Seed, saltTree)),
		Logger:            r.logger,
	}
}

// labels builds every policy once at the base budget to name it.
func (r *Runner) labels() ([]string, error) {
	values := r.cfg.Sweep.Values()
	budget := r.cfg.Budget
	if r.cfg.Sweep.Variable == SweepBudget && len(values) > 0 {
		budget = values[0]
	}
	env := PolicyEnv{
		Budget: budget,
		Cost:   r.cfg.Cost,
		Arms:   r.cfg.Tree.RootChildren,
		Rand:   rand.New(rand.NewPCG(r.cfg.Seed, saltPolicy)),
		Logger: r.logger,
	}
	labels := make([]string, len(r.cfg.Policies))
	seen := make(map[string]bool, len(labels))
	for i, pc := range r.cfg.Policies {
		p, err := pc.Build(env)
		if err != nil {
			return nil, fmt.Errorf("%w: policies[%d]: %w", ErrInvalidConfig, i, err)
		}
		labels[i] = pc.Label(p)
		if seen[labels[i]] {
			return nil, fmt.Errorf("%w: duplicate policy label %q", ErrInvalidConfig, labels[i])
		}
		seen[labels[i]] = true
	}
	if _, err := r.cfg.Tree.Fallback.Build(env); err != nil {
		return nil, fmt.Errorf("%w: tree.fallback: %w", ErrInvalidConfig, err)
	}
	return labels, nil
}

func (r *Runner) treeStats() (supplier.TreeStats, error) {
	dist, err := supplier.NewDistribution(r.cfg.Distribution, rand.NewPCG(r.cfg.Seed, saltNoise))
	if err != nil {
		return supplier.TreeStats{}, err
	}
	env := PolicyEnv{Cost: r.cfg.Cost, Arms: r.cfg.Tree.RootChildren, Rand: rand.New(rand.NewPCG(r.cfg.Seed, 0))}
	fallback, err := r.cfg.Tree.Fallback.Build(env)
	if err != nil {
		return supplier.TreeStats{}, err
	}
	tree, err := supplier.BuildTree(r.treeConfig(fallback, fallback, dist, r.cfg.Scale, false))
	if err != nil {
		return supplier.TreeStats{}, err
	}
	return tree.Stats(), nil
}

// mix folds values into a seed with the splitmix64 finaliser.
func mix(vals ...uint64) uint64 {
	h := uint64(0x9e3779b97f4a7c15)
	for _, v := range vals {
		h ^= v
		h += 0x9e3779b97f4a7c15
		h = (h ^ (h >> 30)) * 0xbf58476d1ce4e5b9
		h = (h ^ (h >> 27)) * 0x94d049bb133111eb
		h ^= h >> 31
	}
	return h
}
