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

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/supplychain/services/bandit/experiment"
	badgerstore "github.com/AleutianAI/supplychain/services/bandit/storage/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const smallRunBody = `{
	"trials": 5,
	"budget": 20,
	"seed": 2,
	"modes": ["dynamic"],
	"tree": {"root_children": 4},
	"sweep": {"variable": "scale", "start": 1, "stop": 2, "step": 1},
	"policies": [{"kind": "greedy"}, {"kind": "random"}],
	"output": {"label": "api", "tsv": true}
}`

func newBadgerHandlers(t *testing.T) *Handlers {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	store := experiment.NewBadgerStore(db)
	t.Cleanup(func() { store.Close() })
	return NewHandlers(store, nil)
}

func setupTestRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createRun(t *testing.T, router http.Handler) experiment.Run {
	t.Helper()
	w := do(t, router, http.MethodPost, "/v1/runs", smallRunBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[experiment.Run](t, w)
}

func TestHandleHealth(t *testing.T) {
	router := setupTestRouter(newBadgerHandlers(t))

	w := do(t, router, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
}

func TestHandleCreateRun_RunsAndStores(t *testing.T) {
	router := setupTestRouter(newBadgerHandlers(t))

	run := createRun(t, router)
	assert.Equal(t, "api", run.Label)
	assert.Equal(t, []string{"greedy", "random"}, run.Policies)
	assert.Equal(t, []string{experiment.ModeDynamic}, run.Modes)
	assert.Equal(t, 4, run.Tree.RootChildren)
	assert.Equal(t, experiment.DefaultConfig().Tree.Depth, run.Tree.Depth)
	require.Len(t, run.Results, 4)

	w := do(t, router, http.MethodGet, "/v1/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	stored := decode[experiment.Run](t, w)
	assert.Equal(t, run.ID, stored.ID)
	assert.Equal(t, run.Results, stored.Results)
}

func TestHandleCreateRun_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{"trials": `, "INVALID_REQUEST"},
		{"invalid", `{"trials": 0}`, "INVALID_CONFIG"},
		{"unknown policy", `{"policies": [{"kind": "thompson"}]}`, "INVALID_CONFIG"},
	}
	router := setupTestRouter(newBadgerHandlers(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/v1/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandleCreateRun_TooLarge(t *testing.T) {
	router := setupTestRouter(newBadgerHandlers(t).WithMaxTasks(3))

	w := do(t, router, http.MethodPost, "/v1/runs", smallRunBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "TOO_LARGE", decode[ErrorResponse](t, w).Code)
}

func TestHandleCreateRun_RateLimited(t *testing.T) {
	router := setupTestRouter(newBadgerHandlers(t).WithRateLimit(0.001, 1))

	run := createRun(t, router)

	w := do(t, router, http.MethodPost, "/v1/runs", smallRunBody)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)

	w = do(t, router, http.MethodGet, "/v1/runs/"+run.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleGetRun_NotFound(t *testing.T) {
	router := setupTestRouter(newBadgerHandlers(t))

	w := do(t, router, http.MethodGet, "/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestHandleGrid(t *testing.T) {
	router := setupTestRouter(newBadgerHandlers(t))
	run := createRun(t, router)

	w := do(t, router, http.MethodGet, "/v1/runs/"+run.ID+"/grid", "")
	require.Equal(t, http.StatusOK, w.Code)
	grid := decode[GridResponse](t, w)
	assert.Equal(t, experiment.ModeDynamic, grid.Mode)
	assert.Equal(t, experiment.SweepScale, grid.Variable)
	assert.Equal(t, []float64{1, 2}, grid.Values)
	require.Len(t, grid.MeanTimes, 2)
	assert.Equal(t, run.Results[1].MeanTime, grid.MeanTimes[0][1])

	w = do(t, router, http.MethodGet, "/v1/runs/"+run.ID+"/grid?mode=static", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_MODE", decode[ErrorResponse](t, w).Code)
}

func TestHandleBest_FromGrid(t *testing.T) {
	router := setupTestRouter(newBadgerHandlers(t))
	run := createRun(t, router)

	w := do(t, router, http.MethodGet, "/v1/runs/"+run.ID+"/best?mode=dynamic", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[BestResponse](t, w)
	require.Len(t, resp.Best, 2)
	assert.Equal(t, 1.0, resp.Best[0].Value)
	assert.Equal(t, 2.0, resp.Best[1].Value)
	for i, b := range resp.Best {
		row := run.Results[2*i : 2*i+2]
		want := row[0].Policy
		if row[1].MeanTime < row[0].MeanTime {
			want = row[1].Policy
		}
		assert.Equal(t, want, b.Policy)
	}
}

func TestHandleBest_FromSQLite(t *testing.T) {
	store, err := experiment.OpenSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	run := &experiment.Run{
		ID:         "fixed",
		Label:      "fixed",
		Variable:   experiment.SweepBudget,
		Modes:      []string{experiment.ModeStatic},
		Policies:   []string{"a", "b"},
		StartedAt:  now,
		FinishedAt: now,
		Results: []experiment.Result{
			{Mode: experiment.ModeStatic, SweepValue: 10, Policy: "a", MeanTime: 3},
			{Mode: experiment.ModeStatic, SweepValue: 10, Policy: "b", MeanTime: 2},
			{Mode: experiment.ModeStatic, SweepValue: 20, Policy: "a", MeanTime: 1},
			{Mode: experiment.ModeStatic, SweepValue: 20, Policy: "b", MeanTime: 4},
		},
	}
	require.NoError(t, store.Save(context.Background(), run))

	router := setupTestRouter(NewHandlers(store, nil))
	w := do(t, router, http.MethodGet, "/v1/runs/fixed/best", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []BestPolicy{{Value: 10, Policy: "b"}, {Value: 20, Policy: "a"}}, decode[BestResponse](t, w).Best)
}

func TestRequestIDEchoed(t *testing.T) {
	router := setupTestRouter(newBadgerHandlers(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/missing", bytes.NewReader(nil))
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestNewRouter_ServesMetrics(t *testing.T) {
	router := NewRouter("supplychain-test", newBadgerHandlers(t))

	w := do(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
