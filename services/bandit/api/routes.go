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
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/supplychain/services/bandit/telemetry"
)

// RegisterRoutes registers the results API under rg.
//
// Endpoints:
//
//	GET  /v1/health - Health check
//	POST /v1/runs - Run and store an experiment
//	GET  /v1/runs/:id - A stored run with all results
//	GET  /v1/runs/:id/grid - Mean times of one mode
//	GET  /v1/runs/:id/best - Fastest policy per sweep value
//	GET  /v1/stream - WebSocket: run an experiment and stream its results
//
// Example:
//
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, api.NewHandlers(store, logger))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.GET("/health", handlers.HandleHealth)
	rg.GET("/stream", handlers.HandleStreamRun)

	runs := rg.Group("/runs")
	{
		runs.POST("", handlers.HandleCreateRun)
		runs.GET("/:id", handlers.HandleGetRun)
		runs.GET("/:id/grid", handlers.HandleGrid)
		runs.GET("/:id/best", handlers.HandleBest)
	}
}

// NewRouter builds the full server: recovery, tracing, the results API
// under /v1 and Prometheus metrics at /metrics.
func NewRouter(serviceName string, handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	RegisterRoutes(router.Group("/v1"), handlers)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return router
}
