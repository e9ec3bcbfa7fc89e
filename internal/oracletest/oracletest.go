// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package oracletest provides a deterministic instrumented oracle whose
// re-encryption comparison fails once a single coefficient of C has been
// shifted by a configurable amount.
package oracletest

import (
	"fmt"

	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/kem/frodo"
)

// Threshold is a fake FrodoKEM-640 oracle.  Decapsulation compares every
// coefficient of C against the value it had in the ciphertext returned by
// the last Encaps: a shift of coefficient i below Thresholds[i] still passes
// the first comparison, a larger shift or any shift of a coefficient without
// threshold fails it.  Any shift at all fails the second comparison.
type Threshold struct {
	*frodo.Params

	Thresholds map[int]uint16

	// Fail, when set, is consulted before every decapsulation with the
	// running call count; returning true makes the call fail.
	Fail func(call int) bool

	// Timing is reported as the internal cycle count when set.
	Timing func(delta uint16) uint64

	base  []uint16
	calls int
	desc  *kem.Descriptor
}

// New returns a Threshold oracle for coefficient index and threshold x.
func New(index int, x uint16) *Threshold {
	return &Threshold{
		Params:     frodo.Frodo640,
		Thresholds: map[int]uint16{index: x},
		desc:       frodo.Frodo640.Descriptor(),
	}
}

// ReferenceError reports, for every coefficient with a threshold x, the
// decoding error ErrorCorrectionLimit() - x that places the decoding
// boundary at x.
func (o *Threshold) ReferenceError(ct, sk []byte) ([]int32, error) {
	if err := o.desc.CheckCiphertext(ct); err != nil {
		return nil, err
	}
	ecl := int32(o.ErrorCorrectionLimit())
	out := make([]int32, frodo.NBar*frodo.NBar)
	for i, x := range o.Thresholds {
		out[i] = ecl - int32(x)
	}
	return out, nil
}

// Calls returns the number of decapsulations performed.
func (o *Threshold) Calls() int {
	return o.calls
}

func (o *Threshold) Descriptor() *kem.Descriptor {
	return o.desc
}

func (o *Threshold) Keypair() ([]byte, []byte, error) {
	return make([]byte, o.desc.PublicKeySize), make([]byte, o.desc.SecretKeySize), nil
}

// Encaps returns a ciphertext with C[i] = i*37 mod q.
func (o *Threshold) Encaps(pk []byte) ([]byte, []byte, error) {
	if err := o.desc.CheckPublicKey(pk); err != nil {
		return nil, nil, err
	}
	ct := make([]byte, o.desc.CiphertextSize)
	bp, c, err := o.Unpack(ct)
	if err != nil {
		return nil, nil, err
	}
	for i := range c {
		c[i] = uint16(i * 37)
	}
	if err := o.Pack(bp, c, ct); err != nil {
		return nil, nil, err
	}
	_, o.base, _ = o.Unpack(ct)
	return ct, make([]byte, o.desc.SharedSecretSize), nil
}

func (o *Threshold) Decaps(ct, sk []byte) ([]byte, error) {
	ss, _, err := o.DecapsMeasure(ct, sk)
	return ss, err
}

func (o *Threshold) DecapsMeasure(ct, sk []byte) ([]byte, kem.Checkpoints, error) {
	var cp kem.Checkpoints
	if err := o.desc.CheckCiphertext(ct); err != nil {
		return nil, cp, err
	}
	if err := o.desc.CheckSecretKey(sk); err != nil {
		return nil, cp, err
	}
	o.calls++
	if o.Fail != nil && o.Fail(o.calls) {
		return nil, cp, kem.WrapError("decaps", fmt.Errorf("injected failure on call %d", o.calls))
	}
	if o.base == nil {
		return nil, cp, kem.WrapError("decaps", fmt.Errorf("no reference ciphertext"))
	}
	_, c, err := o.Unpack(ct)
	if err != nil {
		return nil, cp, err
	}
	var delta uint16
	eq1 := true
	for i := range c {
		d := uint16((uint32(c[i]) - uint32(o.base[i])) % o.Modulus())
		if d == 0 {
			continue
		}
		if delta == 0 {
			delta = d
		}
		if x, ok := o.Thresholds[i]; !ok || d >= x {
			eq1 = false
		}
	}
	cp.Memcmp1 = &eq1
	if eq1 {
		eq2 := delta == 0
		cp.Memcmp2 = &eq2
	}
	if o.Timing != nil {
		t := o.Timing(delta)
		cp.Timing = &t
		cp.Points = []uint64{t / 2, t}
	}
	return make([]byte, o.desc.SharedSecretSize), cp, nil
}
