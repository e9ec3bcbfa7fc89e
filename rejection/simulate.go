// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package rejection

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/kemtiming/recorder"
)

// SimulateResult compares the decapsulation time of a valid ciphertext
// with that of a corrupted copy.
type SimulateResult struct {
	Iter       uint64
	Unmodified uint64
	Modified   uint64
}

// Diff returns Unmodified - Modified.
func (r *SimulateResult) Diff() int64 {
	return int64(r.Unmodified) - int64(r.Modified)
}

// Simulate encapsulates the plaintext with the most rejections among
// Plaintexts random ones, then times the decapsulation of the ciphertext
// as is and with ErrorWeight distinct random bits flipped.
func Simulate(opts *VerifyOptions) (*SimulateResult, error) {
	unit, err := opts.unit()
	if err != nil {
		return nil, err
	}
	o := opts.Oracle
	log := opts.Log
	name := o.Descriptor().Name
	if opts.ErrorWeight < 0 || opts.ErrorWeight > 8*o.Descriptor().CiphertextSize {
		return nil, fmt.Errorf("rejection: invalid error weight: %d", opts.ErrorWeight)
	}
	log.Noticef("Launching generic attack simulation on %s", name)

	log.Noticef("Searching %d plaintexts for best candidate...", opts.Plaintexts)
	_, best, err := FindMinMax(o, opts.Plaintexts, opts.Rand, log)
	if err != nil {
		return nil, err
	}
	log.Noticef("Found candidate with %d iterations in the rejection sampling!", best.Iter)

	pk, sk, err := o.Keypair()
	if err != nil {
		return nil, err
	}
	ct, err := encapsulateAndVerify(o, pk, sk, best.Plaintext)
	if err != nil {
		return nil, err
	}

	res := &SimulateResult{Iter: best.Iter}
	log.Noticef("Starting %d decapsulations of unmodified ciphertext...", opts.Decaps)
	unmod := recorder.New("unmodified", nil)
	for i := 0; i < opts.Decaps; i++ {
		if err := record(unit, unmod, ct, sk); err != nil {
			return nil, err
		}
	}

	log.Noticef("Adding extra error noise of weight %d to the ciphertext", opts.ErrorWeight)
	modCT, err := flipBits(ct, opts.ErrorWeight, opts.Rand)
	if err != nil {
		return nil, err
	}
	log.Noticef("Starting %d decapsulations of modified ciphertext...", opts.Decaps)
	mod := recorder.New("modified", nil)
	for i := 0; i < opts.Decaps; i++ {
		if err := record(unit, mod, modCT, sk); err != nil {
			return nil, err
		}
	}

	if res.Unmodified, err = unmod.Mean(); err != nil {
		return nil, err
	}
	if res.Modified, err = mod.Mean(); err != nil {
		return nil, err
	}
	log.Noticef("unmodified mean: %d, modified mean: %d, diff: %d", res.Unmodified, res.Modified, res.Diff())
	return res, nil
}

// flipBits returns a copy of ct with weight distinct bits flipped.
func flipBits(ct []byte, weight int, rng io.Reader) ([]byte, error) {
	if rng == nil {
		rng = rand.Reader
	}
	nbits := uint64(len(ct)) * 8
	mask := make([]byte, len(ct))
	var b [8]byte
	for flipped := 0; flipped < weight; {
		if _, err := io.ReadFull(rng, b[:]); err != nil {
			return nil, err
		}
		bit := binary.LittleEndian.Uint64(b[:]) % nbits
		if mask[bit/8]&(1<<(bit%8)) != 0 {
			continue
		}
		mask[bit/8] |= 1 << (bit % 8)
		flipped++
	}
	out := bytes.Clone(ct)
	for i := range out {
		out[i] ^= mask[i]
	}
	return out, nil
}
