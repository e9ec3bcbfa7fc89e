// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package search

import "fmt"

// DefaultLowPercentageLimit is the LowPercentageLimit set by DefaultParams.
const DefaultLowPercentageLimit = 2.5

const (
	defaultConsecutiveLimitChange  = 3
	defaultMaxModRetries           = 6
	defaultMaxBinarySearchAttempts = 3
	defaultSkewDivisor             = 8
)

// Params are the tunables of the search.
type Params struct {
	// LowPercentageLimit is the smallest acceptable spread, in percentage
	// points, between the two profiling probes.  Unlike the other
	// tunables zero is a usable value, it only rejects an inverted or flat
	// profile.
	LowPercentageLimit float64

	// ConsecutiveLimitChange is the number of consecutive moves of one
	// bound after which the other bound is probed again.
	ConsecutiveLimitChange int

	// MaxModRetries is the number of failed sanity checks tolerated for a
	// single probe.  Half way through, the accumulated samples are
	// discarded.
	MaxModRetries int

	// MaxBinarySearchAttempts is the number of complete warm-up, profile
	// and search runs attempted per coordinate.
	MaxBinarySearchAttempts int

	// SkewDivisor controls how far a skewed probe lands from the moved
	// bound.
	SkewDivisor uint16

	// Skew biases probes towards the only bound that has moved.
	Skew bool

	// Confirm re-probes both bounds before reporting a value.
	Confirm bool

	WarmupIterations  int
	ProfileIterations int
	Iterations        int
}

// DefaultParams returns Params with the default tunables and the given
// iteration counts.
func DefaultParams(warmup, profile, iterations int) *Params {
	p := &Params{
		LowPercentageLimit: DefaultLowPercentageLimit,
		WarmupIterations:   warmup,
		ProfileIterations:  profile,
		Iterations:         iterations,
		Skew:               true,
		Confirm:            true,
	}
	p.applyDefaults()
	return p
}

func (p *Params) applyDefaults() {
	if p.ConsecutiveLimitChange == 0 {
		p.ConsecutiveLimitChange = defaultConsecutiveLimitChange
	}
	if p.MaxModRetries == 0 {
		p.MaxModRetries = defaultMaxModRetries
	}
	if p.MaxBinarySearchAttempts == 0 {
		p.MaxBinarySearchAttempts = defaultMaxBinarySearchAttempts
	}
	if p.SkewDivisor == 0 {
		p.SkewDivisor = defaultSkewDivisor
	}
}

// Validate fills in unset tunables other than LowPercentageLimit and rejects unusable values.
func (p *Params) Validate() error {
	p.applyDefaults()
	switch {
	case p.LowPercentageLimit < 0 || p.LowPercentageLimit >= 100:
		return fmt.Errorf("search: LowPercentageLimit %v not in [0, 100)", p.LowPercentageLimit)
	case p.ConsecutiveLimitChange < 1:
		return fmt.Errorf("search: ConsecutiveLimitChange must be positive")
	case p.MaxModRetries < 2:
		return fmt.Errorf("search: MaxModRetries must be at least 2")
	case p.SkewDivisor < 2:
		return fmt.Errorf("search: SkewDivisor must be at least 2")
	case p.MaxBinarySearchAttempts < 1:
		return fmt.Errorf("search: MaxBinarySearchAttempts must be positive")
	case p.WarmupIterations < 1 || p.ProfileIterations < 1 || p.Iterations < 1:
		return fmt.Errorf("search: iteration counts must be positive")
	}
	return nil
}
