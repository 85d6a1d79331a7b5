// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import "github.com/AleutianAI/supplychain/services/bandit/experiment"

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details carries the underlying error, if any.
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// GridResponse is the mean time grid of one mode of a run.
type GridResponse struct {
	RunID    string    `json:"run_id"`
	Mode     string    `json:"mode"`
	Variable string    `json:"variable"`
	Policies []string  `json:"policies"`
	Values   []float64 `json:"values"`

	// MeanTimes has one row per value and one column per policy.
	MeanTimes [][]float64 `json:"mean_times"`
}

// BestPolicy names the fastest policy at one sweep value.
type BestPolicy struct {
	Value  float64 `json:"value"`
	Policy string  `json:"policy"`
}

// BestResponse lists the fastest policy per sweep value.
type BestResponse struct {
	RunID string       `json:"run_id"`
	Mode  string       `json:"mode"`
	Best  []BestPolicy `json:"best"`
}

// Stream message types.
const (
	StreamStarted = "started"
	StreamResult  = "result"
	StreamDone    = "done"
	StreamError   = "error"
)

// StreamMessage is sent by GET /v1/stream while a submitted run executes.
type StreamMessage struct {
	Type string `json:"type"`

	// Tasks is the number of results to expect, on "started".
	Tasks int `json:"tasks,omitempty"`

	// Result is one finished policy run, on "result".
	Result *experiment.Result `json:"result,omitempty"`

	// RunID names the stored run, on "done".
	RunID string `json:"run_id,omitempty"`

	// Error is set on "error", after which the server closes the stream.
	Error *ErrorResponse `json:"error,omitempty"`
}
