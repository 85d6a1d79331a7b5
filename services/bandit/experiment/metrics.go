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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Experiment Runs
// =============================================================================

var (
	// trialsTotal counts finished trials.
	// Labels: policy, mode
	trialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supplychain",
		Subsystem: "experiment",
		Name:      "trials_total",
		Help:      "Total trials run by policy and mode",
	}, []string{"policy", "mode"})

	// pullsTotal counts root-level arm pulls.
	// Labels: policy, mode
	pullsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supplychain",
		Subsystem: "experiment",
		Name:      "root_pulls_total",
		Help:      "Total arm pulls made by root agents",
	}, []string{"policy", "mode"})

	// trialDuration measures wall time of one trial.
	// Labels: policy
	trialDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "supplychain",
		Subsystem: "experiment",
		Name:      "trial_duration_seconds",
		Help:      "Wall time of one trial",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{"policy"})

	// meanServiceTime is the latest mean service time per sweep point.
	// Labels: policy, mode
	meanServiceTime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "supplychain",
		Subsystem: "experiment",
		Name:      "mean_service_time",
		Help:      "Mean service time of the last finished sweep point",
	}, []string{"policy", "mode"})

	// optimalRate is the latest fraction of trials ending on the best arm.
	// Labels: policy, mode
	optimalRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "supplychain",
		Subsystem: "experiment",
		Name:      "optimal_arm_rate",
		Help:      "Fraction of trials whose root ranked the best arm first",
	}, []string{"policy", "mode"})

	// runErrors counts failed policy runs.
	// Labels: policy
	runErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supplychain",
		Subsystem: "experiment",
		Name:      "errors_total",
		Help:      "Total failed policy runs",
	}, []string{"policy"})
)

// RecordTrial records one finished trial.
//
// Inputs:
//
//	policy - Policy label.
//	mode - dynamic or static.
//	pulls - Root pulls made in the trial.
//	durationSec - Wall time in seconds.
func RecordTrial(policy, mode string, pulls int, durationSec float64) {
	trialsTotal.WithLabelValues(policy, mode).Inc()
	pullsTotal.WithLabelValues(policy, mode).Add(float64(pulls))
	trialDuration.WithLabelValues(policy).Observe(durationSec)
}

// RecordResult publishes the aggregate of one sweep point.
func RecordResult(r Result) {
	meanServiceTime.WithLabelValues(r.Policy, r.Mode).Set(r.MeanTime)
	optimalRate.WithLabelValues(r.Policy, r.Mode).Set(r.OptimalRate)
}

// RecordRunError records a failed policy run.
func RecordRunError(policy string) {
	runErrors.WithLabelValues(policy).Inc()
}
