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
	"context"
	"errors"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// DefaultMeasurement is the InfluxDB measurement results are written to.
const DefaultMeasurement = "policy_results"

// InfluxConfig enables the InfluxDB sink when URL is set.
type InfluxConfig struct {
	URL    string `yaml:"url,omitempty" json:"url,omitempty"`
	Token  string `yaml:"token,omitempty" json:"-"`
	Org    string `yaml:"org,omitempty" json:"org,omitempty"`
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty"`

	// Measurement defaults to DefaultMeasurement.
	Measurement string `yaml:"measurement,omitempty" json:"measurement,omitempty"`
}

// Enabled reports whether the sink is configured.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

// InfluxSink writes every result of a run as one point, tagged with run,
// policy, mode and sweep variable and timestamped with the run's end.
type InfluxSink struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
}

// NewInfluxSink connects a blocking writer to the configured bucket.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx: url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return newInfluxSink(client, client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement), nil
}

func newInfluxSink(client influxdb2.Client, writeAPI api.WriteAPIBlocking, measurement string) *InfluxSink {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &InfluxSink{client: client, writeAPI: writeAPI, measurement: measurement}
}

// Write sends the results of run.
func (s *InfluxSink) Write(ctx context.Context, run *Run) error {
	points := s.points(run)
	if len(points) == 0 {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx: write %d points: %w", len(points), err)
	}
	return nil
}

func (s *InfluxSink) points(run *Run) []*write.Point {
	points := make([]*write.Point, 0, len(run.Results))
	for _, res := range run.Results {
		p := influxdb2.NewPoint(
			s.measurement,
			map[string]string{
				"run_id":   run.ID,
				"label":    run.Label,
				"policy":   res.Policy,
				"mode":     res.Mode,
				"variable": run.Variable,
			},
			map[string]interface{}{
				"sweep_value":  res.SweepValue,
				"mean_time":    res.MeanTime,
				"optimal_rate": res.OptimalRate,
				"trials":       res.Trials,
				"pulls":        res.Pulls,
			},
			run.FinishedAt,
		)
		points = append(points, p)
	}
	return points
}

// Close releases the client's connections.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
