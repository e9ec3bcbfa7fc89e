// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package fixedweight models the HQC fixed-weight vector sampler, whose
// running time depends on the number of rejected draws, behind a
// Fujisaki-Okamoto style KEM whose decapsulation re-runs the sampler.
package fixedweight

// Params is an HQC parameter set as far as the fixed-weight sampler is
// concerned.
type Params struct {
	Name string

	// N is the length of the sampled vectors.
	N uint32

	// OmegaR is the weight of r1 and r2, OmegaE the weight of e.
	OmegaR int
	OmegaE int

	// PlaintextSize is the message length in bytes.
	PlaintextSize int
}

// Threshold returns floor(2^24 / N) * N; draws at or above it are
// rejected.
func (p *Params) Threshold() uint32 {
	return (1 << 24) / p.N * p.N
}

var (
	// HQC128 is the HQC-128 parameter set.
	HQC128 = &Params{Name: "HQC-128-model", N: 17669, OmegaR: 75, OmegaE: 75, PlaintextSize: 16}

	// HQC192 is the HQC-192 parameter set.
	HQC192 = &Params{Name: "HQC-192-model", N: 35851, OmegaR: 114, OmegaE: 114, PlaintextSize: 24}

	// HQC256 is the HQC-256 parameter set.
	HQC256 = &Params{Name: "HQC-256-model", N: 57637, OmegaR: 149, OmegaE: 149, PlaintextSize: 32}

	all = []*Params{HQC128, HQC192, HQC256}
)

// ByName returns the parameter set with the given name, or nil.
func ByName(name string) *Params {
	for _, p := range all {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Names returns the names of all parameter sets.
func Names() []string {
	names := make([]string, 0, len(all))
	for _, p := range all {
		names = append(names, p.Name)
	}
	return names
}
