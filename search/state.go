// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package search

import (
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/recorder"
)

type phase int

const (
	profileLow phase = iota
	profileHigh
	searching
)

// state is the bound tracking of one search over [0, maxMod].  The value
// searched for is the smallest modification classified TooHigh; it always
// lies in (lowlim, highlim].
type state struct {
	p   *Params
	log *logging.Logger

	index  int
	maxMod uint16
	phase  phase

	lowlim  uint16
	highlim uint16

	lowMoved  bool
	highMoved bool

	confirming    bool
	lowConfirmed  bool
	highConfirmed bool

	consecutiveLow  int
	consecutiveHigh int

	lowPercentage float64
	threshold     *Threshold

	valueLimit uint64
	limitBelow uint64
}

func newState(p *Params, log *logging.Logger, index int, maxMod uint16) *state {
	return &state{
		p:       p,
		log:     log,
		index:   index,
		maxMod:  maxMod,
		highlim: maxMod,
	}
}

func (s *state) iterations() int {
	if s.phase == searching {
		return s.p.Iterations
	}
	return s.p.ProfileIterations
}

// calcProbe returns the next modification amount to measure.
func (s *state) calcProbe() uint16 {
	switch s.phase {
	case profileLow:
		return 1
	case profileHigh:
		return s.maxMod
	}

	d := s.highlim - s.lowlim
	switch {
	case s.p.Skew && s.lowMoved && !s.highMoved:
		probe := max(s.lowlim+1, s.lowlim+d/s.p.SkewDivisor)
		s.log.Debugf("Skewing the search downwards, %d + (%d - %d) / %d = %d", s.lowlim, s.highlim, s.lowlim, s.p.SkewDivisor, probe)
		return probe
	case s.p.Skew && s.highMoved && !s.lowMoved:
		probe := min(s.highlim-1, s.highlim-d/s.p.SkewDivisor)
		s.log.Debugf("Skewing the search upwards, %d - (%d - %d) / %d = %d", s.highlim, s.highlim, s.lowlim, s.p.SkewDivisor, probe)
		return probe
	// A bound still at its start value has never been measured as a bound;
	// amount 0 is the unmodified ciphertext, which the cutoff drops.
	case s.consecutiveLow >= s.p.ConsecutiveLimitChange && s.highlim != s.maxMod:
		s.log.Warningf("Upper bound (%d) has not changed for a while, checking it again", s.highlim)
		s.consecutiveLow, s.consecutiveHigh = 0, 0
		return s.highlim
	case s.consecutiveHigh >= s.p.ConsecutiveLimitChange && s.lowlim != 0:
		s.log.Warningf("Lower bound (%d) has not changed for a while, checking it again", s.lowlim)
		s.consecutiveLow, s.consecutiveHigh = 0, 0
		return s.lowlim
	case s.confirming && !s.highConfirmed:
		s.log.Infof("C[%d] => Trying to confirm the upper bound %d", s.index, s.highlim)
		return s.highlim
	case s.confirming:
		s.log.Infof("C[%d] => Trying to confirm the lower bound %d", s.index, s.lowlim)
		return s.lowlim
	}
	return s.lowlim + d/2
}

// percentage reduces rec to the share of samples strictly below the value
// limit fixed by the first profiling probe, after checking that the 1%
// fastest sample of rec is plausible.
func (s *state) percentage(rec *recorder.Recorder) (float64, error) {
	limit, ok := rec.NthLowestSample(max(uint64(rec.Len())/100, 1))
	if !ok {
		return 0, fmt.Errorf("%w: not enough recorded values to check the 1%% limit", ErrRetryMod)
	}
	switch s.phase {
	case profileLow:
		s.valueLimit = limit
		s.log.Infof("C[%d] => using %d as the value limit", s.index, limit)
	case profileHigh:
		var diff uint64
		if s.valueLimit > limit {
			diff = s.valueLimit - limit
		}
		s.limitBelow = s.valueLimit + diff
		if s.limitBelow < s.valueLimit {
			s.limitBelow = ^uint64(0)
		}
		s.log.Infof("C[%d] => using ..%d as the 1%% sanity range", s.index, s.limitBelow)
	default:
		if limit >= s.limitBelow {
			return 0, fmt.Errorf("%w: 1%% limit %d not below %d", ErrRetryMod, limit, s.limitBelow)
		}
	}
	return rec.PercentageLT(s.valueLimit), nil
}

// update folds the classification of probe into the bounds.  It returns
// the recovered value and true once the bounds have converged.
func (s *state) update(percentage float64, probe uint16) (uint16, bool, error) {
	switch s.phase {
	case profileLow:
		s.log.Infof("C[%d] => Percentage of values below limit for the low modification: %v", s.index, percentage)
		s.lowPercentage = percentage
		s.phase = profileHigh
		return 0, false, nil
	case profileHigh:
		s.log.Infof("C[%d] => Percentage of values below limit for the high modification: %v", s.index, percentage)
		if diff := percentage - s.lowPercentage; diff <= s.p.LowPercentageLimit {
			return 0, false, fmt.Errorf("%w: profile spread %v <= %v", ErrRetryIndex, diff, s.p.LowPercentageLimit)
		}
		s.threshold = NewThreshold(s.lowPercentage, percentage)
		s.log.Infof("C[%d] => New threshold is %v", s.index, s.threshold)
		s.phase = searching
		s.lowlim, s.highlim = 0, s.maxMod
		return 0, false, nil
	}

	c, err := s.threshold.Distinguish(percentage)
	if err != nil {
		return 0, false, err
	}
	switch c {
	case TooLow:
		s.consecutiveLow++
		s.consecutiveHigh = 0
		switch probe {
		case s.lowlim:
			s.lowConfirmed = true
			s.log.Infof("C[%d] => Confirmed lower bound %d", s.index, probe)
		case s.highlim:
			return 0, false, fmt.Errorf("%w: conflicting results for upper bound %d", ErrRetryIndex, probe)
		default:
			s.log.Infof("C[%d] => +Raising lower bound to %d", s.index, probe)
			s.lowlim = probe
			s.lowMoved = true
		}
	case TooHigh:
		s.consecutiveHigh++
		s.consecutiveLow = 0
		switch probe {
		case s.highlim:
			s.highConfirmed = true
			s.log.Infof("C[%d] => Confirmed upper bound %d", s.index, probe)
		case s.lowlim:
			return 0, false, fmt.Errorf("%w: conflicting results for lower bound %d", ErrRetryIndex, probe)
		default:
			s.log.Infof("C[%d] => -Lowering upper bound to %d", s.index, probe)
			s.highlim = probe
			s.highMoved = true
		}
	}

	if s.highlim-s.lowlim != 1 {
		s.lowConfirmed, s.highConfirmed = false, false
		return 0, false, nil
	}
	if s.highlim == s.maxMod {
		return 0, false, fmt.Errorf("%w: upper bound never changed", ErrRetryIndex)
	}
	if s.lowlim == 0 {
		return 0, false, fmt.Errorf("%w: lower bound never changed", ErrRetryIndex)
	}
	if !s.p.Confirm || (s.lowConfirmed && s.highConfirmed) {
		return s.highlim, true, nil
	}
	s.confirming = true
	return 0, false, nil
}
