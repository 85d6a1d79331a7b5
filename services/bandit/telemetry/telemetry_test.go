// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func stdoutConfig(buf *bytes.Buffer) Config {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterStdout
	cfg.MetricExporter = ExporterNone
	cfg.Writer = buf
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "stdout")

	cfg := DefaultConfig()
	assert.Equal(t, "supplychain", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.Equal(t, ExporterStdout, cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_UnknownExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "zipkin"
	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg = DefaultConfig()
	cfg.MetricExporter = "statsd"
	_, err = Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_NoneIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterNone

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_ExportsToWriter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), stdoutConfig(&buf))
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "test.tracer", "Runner.Run",
		trace.WithAttributes(attribute.Int("policies", 3)),
	)
	assert.True(t, span.SpanContext().IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), TraceID(ctx))
	SetSpanOK(span)
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "Runner.Run")
	assert.Contains(t, buf.String(), "policies")
}

func TestRecordError_MarksSpan(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), stdoutConfig(&buf))
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "test.tracer", "Failing")
	RecordError(span, errors.New("budget below cost"), attribute.String("policy", "greedy"))
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "budget below cost")
	assert.Contains(t, buf.String(), `"Code":"Error"`)
}

func TestRecordError_NilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError(nil, errors.New("x"))
		_, span := StartSpan(context.Background(), "test.tracer", "Noop")
		RecordError(span, nil)
		SetSpanOK(nil)
		span.End()
	})
}

func TestTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
}

func TestInit_PrometheusServesOTelInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterPrometheus
	cfg.Registry = reg

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	counter, err := otel.Meter("test.meter").Int64Counter("supplychain.test.trials")
	require.NoError(t, err)
	counter.Add(context.Background(), 4)

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "supplychain_test_trials_total")
}

func TestDialOTLP_InsecureAndTLS(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		cfg := DefaultConfig()
		cfg.OTLPEndpoint = "127.0.0.1:4317"
		cfg.OTLPInsecure = insecure

		conn, err := dialOTLP(cfg)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:4317", conn.Target())
		assert.NoError(t, conn.Close())
	}
}

func TestInit_OTLPDoesNotDialEagerly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterOTLP
	cfg.MetricExporter = ExporterNone
	cfg.OTLPEndpoint = "127.0.0.1:1"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
