// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package measure

import (
	"fmt"
	"strings"
)

// Source selects how a decapsulation is timed.
type Source int

const (
	// External times Decaps with the cycle counter from the outside.
	External Source = iota

	// Internal uses the cycle count reported by an instrumented oracle.
	Internal

	// Oracle maps the comparison checkpoints of an instrumented oracle
	// onto fixed synthetic latencies.
	Oracle
)

func (s Source) String() string {
	switch s {
	case External:
		return "external"
	case Internal:
		return "internal"
	case Oracle:
		return "oracle"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// ParseSource parses "external", "internal" or "oracle".
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(s) {
	case "external":
		return External, nil
	case "internal":
		return Internal, nil
	case "oracle":
		return Oracle, nil
	}
	return 0, fmt.Errorf("measure: could not parse %q into either external, internal or oracle", s)
}

// Prepper selects how the cache is prepared before an external
// measurement.
type Prepper int

const (
	// NoCache leaves the cache as it is.
	NoCache Prepper = iota

	// DecapsCache runs an identical decapsulation first.
	DecapsCache

	// FlushCache evicts the ciphertext and secret key from the cache.
	FlushCache
)

func (p Prepper) String() string {
	switch p {
	case NoCache:
		return "none"
	case DecapsCache:
		return "decaps"
	case FlushCache:
		return "flush"
	default:
		return fmt.Sprintf("Prepper(%d)", int(p))
	}
}

// ParsePrepper parses "none", "decaps" or "flush".
func ParsePrepper(s string) (Prepper, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return NoCache, nil
	case "decaps":
		return DecapsCache, nil
	case "flush", "clflush":
		return FlushCache, nil
	}
	return 0, fmt.Errorf("measure: could not parse %q into either none, decaps or flush", s)
}

// Synthetic latencies reported by the Oracle source.
const (
	SyntheticBase    = 100
	SyntheticMemcmp1 = 50
	SyntheticMemcmp2 = 100
)
