// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves experiment runs over HTTP.
//
// Runs are read from an experiment.Store. New runs can be submitted as a
// JSON config overlaid on experiment.DefaultConfig; they run synchronously
// within the request and are saved before the response is written.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/supplychain/services/bandit/experiment"
)

// ServiceVersion is the results API version.
const ServiceVersion = "0.1.0"

// bestFinder is implemented by stores that can rank policies themselves.
type bestFinder interface {
	BestPolicies(ctx context.Context, id, mode string) (map[float64]string, error)
}

// Handlers contains the HTTP handlers of the results API.
type Handlers struct {
	store    experiment.Store
	logger   *slog.Logger
	maxTasks int
	limiter  *rate.Limiter
}

// NewHandlers creates handlers reading from and saving to store.
func NewHandlers(store experiment.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: store, logger: logger}
}

// WithMaxTasks rejects submitted runs with more than n policy runs
// (modes × sweep points × policies). Zero means no limit.
func (h *Handlers) WithMaxTasks(n int) *Handlers {
	h.maxTasks = n
	return h
}

// WithRateLimit admits at most perSecond run submissions per second with
// bursts of burst. Reads are never limited.
func (h *Handlers) WithRateLimit(perSecond float64, burst int) *Handlers {
	if perSecond <= 0 {
		h.limiter = nil
		return h
	}
	h.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	return h
}

// HandleHealth handles GET /v1/health.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleCreateRun handles POST /v1/runs.
//
// Description:
//
//	Decodes the body over experiment.DefaultConfig, runs the experiment
//	and saves it. Sinks in the config are ignored.
//
// Response:
//
//	201 Created: experiment.Run
//	400 Bad Request: Malformed or invalid config
//	413 Request Entity Too Large: More policy runs than allowed
//	429 Too Many Requests: Submission rate exceeded
//	500 Internal Server Error: Run or save failure
func (h *Handlers) HandleCreateRun(c *gin.Context) {
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "handler", "HandleCreateRun")

	if !h.admit(c) {
		logger.Warn("run submission rate limited")
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST", Details: err.Error()})
		return
	}
	cfg, err := decodeRunConfig(data)
	if err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST", Details: err.Error()})
		return
	}
	if resp, ok := h.checkSize(cfg); !ok {
		c.JSON(http.StatusRequestEntityTooLarge, resp)
		return
	}

	runner, err := experiment.NewRunner(cfg, logger)
	if err != nil {
		logger.Warn("invalid config", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid config", Code: "INVALID_CONFIG", Details: err.Error()})
		return
	}

	run, err := runner.Run(c.Request.Context())
	if err != nil {
		logger.Error("run failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Run failed", Code: "RUN_FAILED", Details: err.Error()})
		return
	}
	if err := h.store.Save(c.Request.Context(), run); err != nil {
		logger.Error("save failed", "run_id", run.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Save failed", Code: "SAVE_FAILED", Details: err.Error()})
		return
	}

	logger.Info("run created", "run_id", run.ID, "results", len(run.Results))
	c.JSON(http.StatusCreated, run)
}

// HandleGetRun handles GET /v1/runs/:id.
//
// Response:
//
//	200 OK: experiment.Run
//	404 Not Found: No such run
func (h *Handlers) HandleGetRun(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

// HandleGrid handles GET /v1/runs/:id/grid?mode=dynamic.
//
// Response:
//
//	200 OK: GridResponse
//	400 Bad Request: The run has no such mode
//	404 Not Found: No such run
func (h *Handlers) HandleGrid(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	mode, ok := modeParam(c, run)
	if !ok {
		return
	}

	values, rows := run.Grid(mode)
	resp := GridResponse{
		RunID:     run.ID,
		Mode:      mode,
		Variable:  run.Variable,
		Policies:  run.Policies,
		Values:    values,
		MeanTimes: make([][]float64, len(rows)),
	}
	for i, row := range rows {
		resp.MeanTimes[i] = make([]float64, len(row))
		for j, res := range row {
			resp.MeanTimes[i][j] = res.MeanTime
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleBest handles GET /v1/runs/:id/best?mode=dynamic.
//
// Response:
//
//	200 OK: BestResponse, ordered by sweep value
//	400 Bad Request: The run has no such mode
//	404 Not Found: No such run
func (h *Handlers) HandleBest(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	mode, ok := modeParam(c, run)
	if !ok {
		return
	}

	var best map[float64]string
	if finder, ok := h.store.(bestFinder); ok {
		found, err := finder.BestPolicies(c.Request.Context(), run.ID, mode)
		if err != nil {
			h.logger.Error("best policies failed", "run_id", run.ID, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Query failed", Code: "QUERY_FAILED", Details: err.Error()})
			return
		}
		best = found
	} else {
		best = bestFromGrid(run, mode)
	}

	resp := BestResponse{RunID: run.ID, Mode: mode, Best: make([]BestPolicy, 0, len(best))}
	for v, p := range best {
		resp.Best = append(resp.Best, BestPolicy{Value: v, Policy: p})
	}
	sort.Slice(resp.Best, func(i, j int) bool { return resp.Best[i].Value < resp.Best[j].Value })
	c.JSON(http.StatusOK, resp)
}

// admit applies the submission rate limit, writing 429 when exceeded.
func (h *Handlers) admit(c *gin.Context) bool {
	if h.limiter == nil || h.limiter.Allow() {
		return true
	}
	c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "Too many run submissions", Code: "RATE_LIMITED"})
	return false
}

func (h *Handlers) checkSize(cfg experiment.Config) (ErrorResponse, bool) {
	tasks := len(cfg.Modes) * len(cfg.Sweep.Values()) * len(cfg.Policies)
	if h.maxTasks > 0 && tasks > h.maxTasks {
		return ErrorResponse{Error: "Experiment too large", Code: "TOO_LARGE"}, false
	}
	return ErrorResponse{}, true
}

// decodeRunConfig overlays a submitted JSON config on the defaults and
// clears every sink, so submitted runs only reach the API's own store.
func decodeRunConfig(data []byte) (experiment.Config, error) {
	// JSON decodes into existing slice elements, so lists start empty.
	defaults := experiment.DefaultConfig()
	cfg := defaults
	cfg.Modes, cfg.Policies = nil, nil
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Modes == nil {
		cfg.Modes = defaults.Modes
	}
	if cfg.Policies == nil {
		cfg.Policies = defaults.Policies
	}
	cfg.Output.TSV = false
	cfg.Output.BadgerPath = ""
	cfg.Output.SQLitePath = ""
	cfg.Output.Influx = experiment.InfluxConfig{}
	cfg.Output.GCS = experiment.GCSConfig{}
	return cfg, nil
}

func (h *Handlers) loadRun(c *gin.Context) (*experiment.Run, bool) {
	id := c.Param("id")
	logger := h.logger.With("request_id", getOrCreateRequestID(c), "run_id", id)
	run, err := h.store.Load(c.Request.Context(), id)
	if errors.Is(err, experiment.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Run not found", Code: "NOT_FOUND"})
		return nil, false
	}
	if err != nil {
		logger.Error("load run failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Load failed", Code: "LOAD_FAILED", Details: err.Error()})
		return nil, false
	}
	return run, true
}

// modeParam reads ?mode=, defaulting to the run's first mode.
func modeParam(c *gin.Context, run *experiment.Run) (string, bool) {
	mode := c.Query("mode")
	if mode == "" && len(run.Modes) > 0 {
		return run.Modes[0], true
	}
	for _, m := range run.Modes {
		if m == mode {
			return mode, true
		}
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unknown mode", Code: "INVALID_MODE", Details: mode})
	return "", false
}

func bestFromGrid(run *experiment.Run, mode string) map[float64]string {
	values, rows := run.Grid(mode)
	best := make(map[float64]string, len(values))
	for i, v := range values {
		if len(rows[i]) == 0 {
			continue
		}
		lowest := 0
		for j, res := range rows[i] {
			if res.MeanTime < rows[i][lowest].MeanTime {
				lowest = j
			}
		}
		best[v] = rows[i][lowest].Policy
	}
	return best
}

// getOrCreateRequestID echoes X-Request-ID, generating one if absent.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
