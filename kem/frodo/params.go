// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package frodo is an instrumented model of the FrodoKEM SHAKE parameter
// sets.  Its decapsulation compares the re-encrypted ciphertext with an
// early-exit comparison, Bp first and C second, and reports which of the
// two comparisons ran and how they ended.
package frodo

import (
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/katzenpost/kemtiming/kem"
)

const (
	// NBar is the dimension of the square C matrix for every parameter set.
	NBar = 8

	seedALen = 16
)

// Params is a FrodoKEM parameter set.
type Params struct {
	name string

	n    int
	logQ uint
	b    uint

	// secLen is the byte length of s, seedSE, k, pkh, mu and the shared
	// secret.
	secLen int

	cdf []uint16

	// shake is the hash used for G and F.  Matrix A is always expanded
	// with SHAKE128.
	shake func(out, in []byte)
}

var (
	// Frodo640 is FrodoKEM-640-SHAKE.
	Frodo640 = &Params{
		name:   "FrodoKEM-640-SHAKE-model",
		n:      640,
		logQ:   15,
		b:      2,
		secLen: 16,
		cdf:    []uint16{4643, 13363, 20579, 25843, 29227, 31145, 32103, 32525, 32689, 32745, 32762, 32766, 32767},
		shake:  sha3.ShakeSum128,
	}

	// Frodo976 is FrodoKEM-976-SHAKE.
	Frodo976 = &Params{
		name:   "FrodoKEM-976-SHAKE-model",
		n:      976,
		logQ:   16,
		b:      3,
		secLen: 24,
		cdf:    []uint16{5638, 15915, 23689, 28571, 31116, 32217, 32613, 32731, 32760, 32766, 32767},
		shake:  sha3.ShakeSum256,
	}

	// Frodo1344 is FrodoKEM-1344-SHAKE.
	Frodo1344 = &Params{
		name:   "FrodoKEM-1344-SHAKE-model",
		n:      1344,
		logQ:   16,
		b:      4,
		secLen: 32,
		cdf:    []uint16{9142, 23462, 30338, 32361, 32725, 32765, 32767},
		shake:  sha3.ShakeSum256,
	}

	all = []*Params{Frodo640, Frodo976, Frodo1344}
)

// ByName returns the parameter set with the given name, or nil.
func ByName(name string) *Params {
	for _, p := range all {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Names returns the names of all parameter sets.
func Names() []string {
	names := make([]string, 0, len(all))
	for _, p := range all {
		names = append(names, p.name)
	}
	return names
}

// Name returns the parameter set name.
func (p *Params) Name() string { return p.name }

// N returns the lattice dimension n.
func (p *Params) N() int { return p.n }

// NBar returns the dimension of the C matrix.
func (p *Params) NBar() int { return NBar }

// Modulus returns q.
func (p *Params) Modulus() uint32 { return 1 << p.logQ }

func (p *Params) mask() uint16 { return uint16((uint32(1) << p.logQ) - 1) }

// ErrorCorrectionLimit returns 2^(logq - B - 1), the largest offset from an
// encoded symbol that still decodes to it.
func (p *Params) ErrorCorrectionLimit() uint16 {
	return uint16(1) << (p.logQ - p.b - 1)
}

// MaxModification returns the largest probe amount used by the search,
// twice the error correction limit.
func (p *Params) MaxModification() uint16 {
	return 2 * p.ErrorCorrectionLimit()
}

func (p *Params) c1Len() int { return int(p.logQ) * p.n * NBar / 8 }

func (p *Params) c2Len() int { return int(p.logQ) * NBar * NBar / 8 }

// PublicKeySize returns the packed public key length.
func (p *Params) PublicKeySize() int { return seedALen + p.c1Len() }

// SecretKeySize returns the packed secret key length: s || pk || S^T || pkh.
func (p *Params) SecretKeySize() int {
	return p.secLen + p.PublicKeySize() + 2*p.n*NBar + p.secLen
}

// CiphertextSize returns the ciphertext length.
func (p *Params) CiphertextSize() int { return p.c1Len() + p.c2Len() }

// Descriptor returns the buffer sizes of the parameter set.
func (p *Params) Descriptor() *kem.Descriptor {
	return &kem.Descriptor{
		Name:             p.name,
		PublicKeySize:    p.PublicKeySize(),
		SecretKeySize:    p.SecretKeySize(),
		CiphertextSize:   p.CiphertextSize(),
		SharedSecretSize: p.secLen,
		PlaintextSize:    p.secLen,
	}
}

func (p *Params) String() string {
	return fmt.Sprintf("%s(n=%d, logq=%d, B=%d)", p.name, p.n, p.logQ, p.b)
}
