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
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrUnknownDistribution is returned for an unsupported distribution kind.
var ErrUnknownDistribution = errors.New("unknown distribution")

// Supported distribution kinds.
const (
	DistributionNormal      = "normal"
	DistributionUniform     = "uniform"
	DistributionBeta        = "beta"
	DistributionChiSquared  = "chisquared"
	DistributionExponential = "exponential"
)

// DistributionConfig selects the noise shape shared by every supplier in a
// tree. Only the parameters of the chosen kind are read.
type DistributionConfig struct {
	// Kind is one of normal, uniform, beta, chisquared, exponential.
	Kind string `yaml:"kind" json:"kind" validate:"required,oneof=normal uniform beta chisquared exponential"`

	// Alpha and Beta shape the beta distribution. Beta(0.5, 0.5) is the
	// arcsine shape, Beta(1, 2) a triangle.
	Alpha float64 `yaml:"alpha,omitempty" json:"alpha,omitempty" validate:"gte=0"`
	Beta  float64 `yaml:"beta,omitempty" json:"beta,omitempty" validate:"gte=0"`

	// DegreesOfFreedom parameterises the chi-squared distribution.
	DegreesOfFreedom float64 `yaml:"degrees_of_freedom,omitempty" json:"degrees_of_freedom,omitempty" validate:"gte=0"`

	// Rate parameterises the exponential distribution.
	Rate float64 `yaml:"rate,omitempty" json:"rate,omitempty" validate:"gte=0"`
}

// DefaultDistributionConfig returns the standard normal distribution.
func DefaultDistributionConfig() DistributionConfig {
	return DistributionConfig{Kind: DistributionNormal}
}

// NewDistribution builds the configured distribution drawing from src.
//
// Description:
//
//	Normal is the standard normal and uniform covers [0, 1). Suppliers
//	centre every distribution on its mean, so only the shape matters.
//
// Outputs:
//
//	Distribution - A gonum distuv distribution.
//	error - ErrUnknownDistribution for an unknown kind, or a parameter error.
func NewDistribution(cfg DistributionConfig, src rand.Source) (Distribution, error) {
	switch cfg.Kind {
	case DistributionNormal, "":
		return distuv.Normal{Mu: 0, Sigma: 1, Src: src}, nil
	case DistributionUniform:
		return distuv.Uniform{Min: 0, Max: 1, Src: src}, nil
	case DistributionBeta:
		if cfg.Alpha <= 0 || cfg.Beta <= 0 {
			return nil, fmt.Errorf("beta distribution needs alpha > 0 and beta > 0, got %g and %g", cfg.Alpha, cfg.Beta)
		}
		return distuv.Beta{Alpha: cfg.Alpha, Beta: cfg.Beta, Src: src}, nil
	case DistributionChiSquared:
		if cfg.DegreesOfFreedom <= 0 {
			return nil, fmt.Errorf("chi-squared distribution needs degrees_of_freedom > 0, got %g", cfg.DegreesOfFreedom)
		}
		return distuv.ChiSquared{K: cfg.DegreesOfFreedom, Src: src}, nil
	case DistributionExponential:
		if cfg.Rate <= 0 {
			return nil, fmt.Errorf("exponential distribution needs rate > 0, got %g", cfg.Rate)
		}
		return distuv.Exponential{Rate: cfg.Rate, Src: src}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDistribution, cfg.Kind)
	}
}
