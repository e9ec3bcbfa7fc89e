// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package rejection

import (
	"bytes"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/kem"
)

var testLog = logging.MustGetLogger("rejection_test")

const fakePTSize = 8

// fakeSampler encapsulates a plaintext as itself followed by an xor
// checksum.  Decapsulation succeeds while the checksum matches.  The
// rejection count is derived from the first two plaintext bytes.
type fakeSampler struct {
	desc *kem.Descriptor
}

func newFake() *fakeSampler {
	return &fakeSampler{desc: &kem.Descriptor{
		Name:             "fake-rs",
		PublicKeySize:    1,
		SecretKeySize:    1,
		CiphertextSize:   fakePTSize + 1,
		SharedSecretSize: fakePTSize,
		PlaintextSize:    fakePTSize,
	}}
}

func (f *fakeSampler) Descriptor() *kem.Descriptor { return f.desc }

func (f *fakeSampler) Keypair() ([]byte, []byte, error) {
	return []byte{0}, []byte{0}, nil
}

func (f *fakeSampler) Encaps(pk []byte) ([]byte, []byte, error) {
	return f.EncapsWithPlaintext(pk, make([]byte, fakePTSize))
}

func (f *fakeSampler) EncapsWithPlaintext(pk, pt []byte) ([]byte, []byte, error) {
	if err := f.desc.CheckPlaintext(pt); err != nil {
		return nil, nil, err
	}
	return append(bytes.Clone(pt), checksum(pt)), bytes.Clone(pt), nil
}

func (f *fakeSampler) Decaps(ct, sk []byte) ([]byte, error) {
	if err := f.desc.CheckCiphertext(ct); err != nil {
		return nil, err
	}
	if checksum(ct[:fakePTSize]) != ct[fakePTSize] {
		return make([]byte, fakePTSize), nil
	}
	return bytes.Clone(ct[:fakePTSize]), nil
}

func (f *fakeSampler) DecapsMeasure(ct, sk []byte) ([]byte, kem.Checkpoints, error) {
	var cp kem.Checkpoints
	if err := f.desc.CheckCiphertext(ct); err != nil {
		return nil, cp, err
	}
	ok := checksum(ct[:fakePTSize]) == ct[fakePTSize]
	cp.Memcmp1 = &ok
	ss, err := f.Decaps(ct, sk)
	return ss, cp, err
}

func (f *fakeSampler) NumRejections(pt []byte) (uint64, error) {
	if err := f.desc.CheckPlaintext(pt); err != nil {
		return 0, err
	}
	return uint64(pt[0]%3) + 1000*uint64(pt[1]%2), nil
}

func checksum(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return c
}

func testRand(t *testing.T) *rand.DeterministicRandReader {
	rng, err := rand.NewDeterministicRandReader(bytes.Repeat([]byte{0x17}, 32))
	require.NoError(t, err)
	return rng
}
