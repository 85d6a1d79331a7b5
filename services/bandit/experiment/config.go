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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/supplychain/services/bandit/supplier"
	"github.com/AleutianAI/supplychain/services/bandit/telemetry"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Sweep variables.
const (
	SweepScale  = "scale"
	SweepBudget = "budget"
)

// Modes. A dynamic run gives every agent the root's policy, swapping in the
// fallback only where a policy needs a precommitted budget. A static run
// gives every non-root agent the fallback.
const (
	ModeDynamic = "dynamic"
	ModeStatic  = "static"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SUPPLYCHAIN_"

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("policykind", validatePolicyKind)
}

func validatePolicyKind(fl validator.FieldLevel) bool {
	_, ok := policyKinds[fl.Field().String()]
	return ok
}

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full description of an experiment.
type Config struct {
	// Trials is the number of independent trials per policy and sweep point.
	Trials int `yaml:"trials" json:"trials" validate:"gte=1"`

	// Budget is the root's budget per trial. Overridden by a budget sweep.
	Budget float64 `yaml:"budget" json:"budget" validate:"gt=0"`

	// Cost is the price of one pull of any supplier.
	Cost float64 `yaml:"cost" json:"cost" validate:"gt=0"`

	// Scale is the noise scale. Overridden by a scale sweep.
	Scale float64 `yaml:"scale" json:"scale" validate:"gte=0"`

	// Seed makes a run reproducible.
	Seed uint64 `yaml:"seed" json:"seed"`

	// Workers bounds concurrent policy runs. Zero means GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers" validate:"gte=0"`

	// Modes lists the tree modes to run: dynamic, static or both.
	Modes []string `yaml:"modes" json:"modes" validate:"required,min=1,unique,dive,oneof=dynamic static"`

	Tree         TreeConfig                  `yaml:"tree" json:"tree"`
	Distribution supplier.DistributionConfig `yaml:"distribution" json:"distribution"`
	Sweep        SweepConfig                 `yaml:"sweep" json:"sweep"`
	Policies     []PolicyConfig              `yaml:"policies" json:"policies" validate:"required,min=1,dive"`
	Output       OutputConfig                `yaml:"output" json:"output"`
	Telemetry    telemetry.Config            `yaml:"telemetry" json:"telemetry"`
}

// TreeConfig shapes the supply chain.
type TreeConfig struct {
	// Depth counts levels including the root.
	Depth int `yaml:"depth" json:"depth" validate:"gte=2"`

	RootChildren int `yaml:"root_children" json:"root_children" validate:"gte=1"`
	Children     int `yaml:"children" json:"children" validate:"gte=0"`

	MeanTimeMin       float64 `yaml:"mean_time_min" json:"mean_time_min"`
	MeanTimeIncrement float64 `yaml:"mean_time_increment" json:"mean_time_increment" validate:"gte=0"`
	SuperFactor       float64 `yaml:"super_factor" json:"super_factor" validate:"gt=0"`

	// Shape is linear, superlinear or terraced.
	Shape string `yaml:"shape" json:"shape" validate:"oneof=linear superlinear terraced"`

	// Fallback runs non-root agents in static mode and wherever the root's
	// policy needs a precommitted budget.
	Fallback PolicyConfig `yaml:"fallback" json:"fallback"`
}

// SweepConfig names the independent variable and its range.
type SweepConfig struct {
	Variable string  `yaml:"variable" json:"variable" validate:"oneof=scale budget"`
	Start    float64 `yaml:"start" json:"start" validate:"gte=0"`
	Stop     float64 `yaml:"stop" json:"stop" validate:"gtefield=Start"`
	Step     float64 `yaml:"step" json:"step" validate:"gt=0"`
}

// PolicyConfig describes one policy. Only the parameters of Kind are read.
type PolicyConfig struct {
	// Kind is one of random, greedy, arbitrary, e-first, kde, l-split,
	// peef, soaav, cb-greedy, ucb-bv1.
	Kind string `yaml:"kind" json:"kind" validate:"required,policykind"`

	// Name labels the policy in results. Default: the policy's own name.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Epsilon is the exploration fraction of e-first, kde and peef.
	Epsilon float64 `yaml:"epsilon,omitempty" json:"epsilon,omitempty" validate:"gte=0,lte=1"`

	// L is the l-split divisor.
	L float64 `yaml:"l,omitempty" json:"l,omitempty" validate:"gte=0"`

	// X is the soaav tolerance.
	X float64 `yaml:"x,omitempty" json:"x,omitempty" validate:"gte=0"`

	// InitialExplorationSize is the cb-greedy warm-up length.
	InitialExplorationSize int `yaml:"initial_exploration_size,omitempty" json:"initial_exploration_size,omitempty" validate:"gte=0"`
}

// OutputConfig selects the result sinks.
type OutputConfig struct {
	// Dir receives the TSV files.
	Dir string `yaml:"dir" json:"dir"`

	// Label names the TSV files: output_<label>.txt and so on.
	Label string `yaml:"label" json:"label" validate:"required"`

	// TSV enables the text files.
	TSV bool `yaml:"tsv" json:"tsv"`

	// BadgerPath enables the BadgerDB store at this directory.
	BadgerPath string `yaml:"badger_path,omitempty" json:"badger_path,omitempty"`

	// SQLitePath enables the SQLite store at this file.
	SQLitePath string `yaml:"sqlite_path,omitempty" json:"sqlite_path,omitempty"`

	// Influx enables writing results as InfluxDB points.
	Influx InfluxConfig `yaml:"influx,omitempty" json:"influx,omitempty"`

	// GCS enables uploading the TSV files to a bucket. Requires TSV.
	GCS GCSConfig `yaml:"gcs,omitempty" json:"gcs,omitempty"`
}

// =============================================================================
// Defaults and Loading
// =============================================================================

// DefaultConfig returns the reference experiment: a root over twenty
// linearly spaced leaves, 500 trials at budget 200, sweeping the noise
// scale from 1 to 50.7 in steps of 1.6.
func DefaultConfig() Config {
	return Config{
		Trials:  500,
		Budget:  200,
		Cost:    1,
		Scale:   1,
		Seed:    1,
		Workers: 0,
		Modes:   []string{ModeDynamic, ModeStatic},
		Tree: TreeConfig{
			Depth:             2,
			RootChildren:      20,
			Children:          5,
			MeanTimeMin:       10,
			MeanTimeIncrement: 0.25,
			SuperFactor:       1.0 / 3.0,
			Shape:             string(supplier.ShapeLinear),
			Fallback:          PolicyConfig{Kind: KindLSplit, L: 2},
		},
		Distribution: supplier.DefaultDistributionConfig(),
		Sweep: SweepConfig{
			Variable: SweepScale,
			Start:    1,
			Stop:     50.7,
			Step:     1.6,
		},
		Policies: []PolicyConfig{
			{Kind: KindSOAAV, X: 0},
			{Kind: KindLSplit, L: 2},
			{Kind: KindRandom, Name: "(random)"},
			{Kind: KindArbitrary, Name: "(arbitrary)"},
			{Kind: KindPEEF, Epsilon: 0.25, Name: "PEEF (.25)"},
			{Kind: KindEpsilonFirst, Epsilon: 0.25, Name: "E-First (.25)"},
			{Kind: KindKDE, Epsilon: 0.25, Name: "KDE (.25)"},
			{Kind: KindGreedy},
		},
		Output: OutputConfig{
			Dir:   ".",
			Label: "linear",
			TSV:   true,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadConfig loads configuration with priority env > file > defaults.
//
// Description:
//
//	Starts from DefaultConfig, overlays the file at path (YAML, or JSON
//	when YAML parsing fails), applies SUPPLYCHAIN_* environment overrides
//	and validates the result. A missing file is not an error.
//
// Outputs:
//
//	Config - The effective configuration.
//	error - A read, parse or ErrInvalidConfig failure.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadConfigFromEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := unmarshalJSONOverlay(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// unmarshalJSONOverlay decodes data over cfg. Lists in data replace the
// defaults instead of merging into their elements.
func unmarshalJSONOverlay(data []byte, cfg *Config) error {
	modes, policies := cfg.Modes, cfg.Policies
	cfg.Modes, cfg.Policies = nil, nil
	if err := json.Unmarshal(data, cfg); err != nil {
		cfg.Modes, cfg.Policies = modes, policies
		return err
	}
	if cfg.Modes == nil {
		cfg.Modes = modes
	}
	if cfg.Policies == nil {
		cfg.Policies = policies
	}
	return nil
}

func loadConfigFromEnv(cfg *Config) error {
	ints := map[string]*int{
		"TRIALS":             &cfg.Trials,
		"WORKERS":            &cfg.Workers,
		"TREE_DEPTH":         &cfg.Tree.Depth,
		"TREE_ROOT_CHILDREN": &cfg.Tree.RootChildren,
		"TREE_CHILDREN":      &cfg.Tree.Children,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = i
		}
	}

	floats := map[string]*float64{
		"BUDGET":      &cfg.Budget,
		"COST":        &cfg.Cost,
		"SCALE":       &cfg.Scale,
		"SWEEP_START": &cfg.Sweep.Start,
		"SWEEP_STOP":  &cfg.Sweep.Stop,
		"SWEEP_STEP":  &cfg.Sweep.Step,
	}
	for key, dst := range floats {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = f
		}
	}

	if v := os.Getenv(EnvPrefix + "SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED: %w", EnvPrefix, err)
		}
		cfg.Seed = seed
	}

	strs := map[string]*string{
		"TREE_SHAPE":     &cfg.Tree.Shape,
		"DISTRIBUTION":   &cfg.Distribution.Kind,
		"SWEEP_VARIABLE": &cfg.Sweep.Variable,
		"OUTPUT_DIR":     &cfg.Output.Dir,
		"OUTPUT_LABEL":   &cfg.Output.Label,
		"BADGER_PATH":    &cfg.Output.BadgerPath,
		"SQLITE_PATH":    &cfg.Output.SQLitePath,
		"INFLUX_URL":     &cfg.Output.Influx.URL,
		"INFLUX_TOKEN":   &cfg.Output.Influx.Token,
		"INFLUX_ORG":     &cfg.Output.Influx.Org,
		"INFLUX_BUCKET":  &cfg.Output.Influx.Bucket,
		"GCS_BUCKET":     &cfg.Output.GCS.Bucket,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	return nil
}

// Validate checks struct tags and the rules that span fields.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Tree.Depth > 2 && c.Tree.Children < 1 {
		return fmt.Errorf("%w: tree.children must be >= 1 when depth > 2", ErrInvalidConfig)
	}
	if policyKinds[c.Tree.Fallback.Kind] {
		return fmt.Errorf("%w: tree.fallback %q needs a precommitted budget", ErrInvalidConfig, c.Tree.Fallback.Kind)
	}
	if c.Output.GCS.Enabled() && !c.Output.TSV {
		return fmt.Errorf("%w: output.gcs needs output.tsv", ErrInvalidConfig)
	}
	if c.Output.Influx.Enabled() && (c.Output.Influx.Org == "" || c.Output.Influx.Bucket == "") {
		return fmt.Errorf("%w: output.influx needs org and bucket", ErrInvalidConfig)
	}
	if len(c.Sweep.Values()) == 0 {
		return fmt.Errorf("%w: sweep has no points", ErrInvalidConfig)
	}
	return nil
}

// Values returns the sweep points start, start+step, ... up to stop.
func (s SweepConfig) Values() []float64 {
	if s.Step <= 0 || s.Stop < s.Start || math.IsInf(s.Stop, 0) || math.IsNaN(s.Start) {
		return nil
	}
	// Points are rounded to 1e-9 so that 1 + 31·1.6 prints as 50.6.
	const slack = 1e-9
	var out []float64
	for i := 0; ; i++ {
		v := math.Round((s.Start+float64(i)*s.Step)*1e9) / 1e9
		if v > s.Stop+slack {
			return out
		}
		out = append(out, v)
	}
}
