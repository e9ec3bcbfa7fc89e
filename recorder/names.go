// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package recorder

import "fmt"

// SearchName names a binary search probe series.
func SearchName(trial, coord int, expected int64, probe uint16) string {
	return fmt.Sprintf("%d-BINSEARCH[%d](%d){%d}", trial, coord, expected, probe)
}

// WarmupName names the warm-up series that establishes a cutoff.
func WarmupName(trial, coord int) string {
	return fmt.Sprintf("%d-WARMUP[%d]", trial, coord)
}

// CutoffFromWarmup derives the outlier cutoff mean + (mean - min) from a
// warm-up series.
func CutoffFromWarmup(r *Recorder) (uint64, error) {
	mean, err := r.Mean()
	if err != nil {
		return 0, err
	}
	min, err := r.Min()
	if err != nil {
		return 0, err
	}
	return mean + (mean - min), nil
}
