// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package schemes resolves KEM names to oracles.
package schemes

import (
	"fmt"
	"sort"
	"strings"

	"github.com/katzenpost/circl/kem/frodo/frodo640shake"
	hpqckem "github.com/katzenpost/hpqc/kem"
	hpqcschemes "github.com/katzenpost/hpqc/kem/schemes"

	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/kem/fixedweight"
	"github.com/katzenpost/kemtiming/kem/frodo"
)

// DefaultInnerKEM is the hpqc scheme wrapped by the fixed-weight models.
const DefaultInnerKEM = "MLKEM768"

// circl schemes registered directly, ahead of the hpqc registry.
var circlSchemes = []hpqckem.Scheme{
	frodo640shake.Scheme(),
}

// ByName returns the oracle registered under name.  Instrumented models are
// matched first, then circl schemes, then the hpqc registry.
func ByName(name string) (kem.Oracle, error) {
	return ByNameWithInner(name, DefaultInnerKEM)
}

// ByNameWithInner is ByName with an explicit inner KEM for the
// fixed-weight models.
func ByNameWithInner(name, inner string) (kem.Oracle, error) {
	if p := frodo.ByName(name); p != nil {
		return frodo.New(p, nil), nil
	}
	if p := fixedweight.ByName(name); p != nil {
		s := hpqcByName(inner)
		if s == nil {
			return nil, fmt.Errorf("%w: inner kem %q", kem.ErrUnsupported, inner)
		}
		return fixedweight.New(p, s, nil), nil
	}
	if s := hpqcByName(name); s != nil {
		return kem.Prepare(kem.FromScheme(s)), nil
	}
	return nil, fmt.Errorf("%w: kem %q", kem.ErrUnsupported, name)
}

func hpqcByName(name string) hpqckem.Scheme {
	for _, s := range circlSchemes {
		if strings.EqualFold(s.Name(), name) {
			return s
		}
	}
	return hpqcschemes.ByName(name)
}

// Models returns the names of the instrumented models.
func Models() []string {
	names := append(frodo.Names(), fixedweight.Names()...)
	sort.Strings(names)
	return names
}

// Instrumented asserts that o reports decapsulation checkpoints.
func Instrumented(o kem.Oracle) (kem.Instrumented, error) {
	i, ok := o.(kem.Instrumented)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not instrumented", kem.ErrUnsupported, o.Descriptor().Name)
	}
	return i, nil
}

// Codec asserts that o exposes its ciphertext matrices.
func Codec(o kem.Oracle) (kem.Codec, error) {
	c, ok := o.(kem.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no ciphertext codec", kem.ErrUnsupported, o.Descriptor().Name)
	}
	return c, nil
}

// RejectionSampler asserts that o exposes its rejection sampler.
func RejectionSampler(o kem.Oracle) (kem.RejectionSampler, error) {
	r, ok := o.(kem.RejectionSampler)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no rejection sampler", kem.ErrUnsupported, o.Descriptor().Name)
	}
	return r, nil
}
