// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package search

import (
	"fmt"
)

// Case is the classification of a probe.
type Case int

const (
	// TooLow means the probed amount did not reach the decoding boundary.
	TooLow Case = iota

	// TooHigh means the probed amount crossed it.
	TooHigh
)

func (c Case) String() string {
	if c == TooLow {
		return "too low"
	}
	return "too high"
}

// Threshold classifies the share of fast samples of a probe.  Values in
// neither range are unreliable.
type Threshold struct {
	// LowBelow is the exclusive upper end of the too low range.
	LowBelow float64

	// HighFrom is the inclusive lower end of the too high range.
	HighFrom float64

	Midpoint float64
}

// NewThreshold derives a Threshold from the percentages measured at the
// smallest and the largest modification.
func NewThreshold(low, high float64) *Threshold {
	halfdiff := (high - low) / 2
	return &Threshold{
		LowBelow: low + halfdiff/2,
		HighFrom: high - halfdiff/2,
		Midpoint: low + halfdiff,
	}
}

func (t *Threshold) String() string {
	return fmt.Sprintf("{..%.3f, %.3f.., mid %.3f}", t.LowBelow, t.HighFrom, t.Midpoint)
}

// Distinguish classifies percentage.
func (t *Threshold) Distinguish(percentage float64) (Case, error) {
	low := percentage < t.LowBelow
	high := percentage >= t.HighFrom
	switch {
	case low && high:
		return 0, fmt.Errorf("%w: %v inside both ranges of %v", ErrInternal, percentage, t)
	case low:
		return TooLow, nil
	case high:
		return TooHigh, nil
	}
	return 0, fmt.Errorf("%w: percentage %v outside of expected ranges %v", ErrRetryMod, percentage, t)
}
