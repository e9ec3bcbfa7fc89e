// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package kem defines the decapsulation oracle seam used by the timing
// campaigns, and the registry of available oracles.
package kem

import (
	"errors"
	"fmt"
)

var (
	// ErrOracle wraps every failure reported by an underlying KEM primitive.
	ErrOracle = errors.New("kem: oracle failure")

	// ErrBufferSize is returned when a buffer does not match the size fixed
	// by the oracle's Descriptor.
	ErrBufferSize = errors.New("kem: wrong buffer size")

	// ErrUnsupported is returned for unknown KEM names and missing
	// capabilities.
	ErrUnsupported = errors.New("kem: unsupported")
)

// Descriptor carries the name and fixed buffer sizes of a KEM.
type Descriptor struct {
	Name             string
	PublicKeySize    int
	SecretKeySize    int
	CiphertextSize   int
	SharedSecretSize int
	PlaintextSize    int
}

func (d *Descriptor) String() string {
	return d.Name
}

// CheckCiphertext validates the length of ct.
func (d *Descriptor) CheckCiphertext(ct []byte) error {
	return checkSize("ciphertext", ct, d.CiphertextSize)
}

// CheckPublicKey validates the length of pk.
func (d *Descriptor) CheckPublicKey(pk []byte) error {
	return checkSize("public key", pk, d.PublicKeySize)
}

// CheckSecretKey validates the length of sk.
func (d *Descriptor) CheckSecretKey(sk []byte) error {
	return checkSize("secret key", sk, d.SecretKeySize)
}

// CheckPlaintext validates the length of pt.
func (d *Descriptor) CheckPlaintext(pt []byte) error {
	return checkSize("plaintext", pt, d.PlaintextSize)
}

func checkSize(what string, b []byte, want int) error {
	if len(b) != want {
		return fmt.Errorf("%w: %s is %d bytes, want %d", ErrBufferSize, what, len(b), want)
	}
	return nil
}

// Oracle is a KEM whose decapsulation can be timed.  Buffers passed in are
// only borrowed for the duration of the call.
type Oracle interface {
	Descriptor() *Descriptor
	Keypair() (pk, sk []byte, err error)
	Encaps(pk []byte) (ct, ss []byte, err error)
	Decaps(ct, sk []byte) (ss []byte, err error)
}

// Checkpoints are the observations an instrumented decapsulation reports.
// A nil field means the corresponding point was never reached.
type Checkpoints struct {
	// Timing is the cycle count of the instrumented region.
	Timing *uint64

	// Memcmp1 reports whether the first half of the re-encryption
	// comparison found equal buffers.
	Memcmp1 *bool

	// Memcmp2 reports the same for the second half.  It is only set when
	// Memcmp1 compared equal.
	Memcmp2 *bool

	// Points are cycle counts from the start of the instrumented region to
	// each intermediate stage the oracle reached.
	Points []uint64
}

// Instrumented is an Oracle that can report internal checkpoints.
type Instrumented interface {
	Oracle
	DecapsMeasure(ct, sk []byte) (ss []byte, cp Checkpoints, err error)
}

// CheckpointNamer names the stamps in Checkpoints.Points.
type CheckpointNamer interface {
	CheckpointNames() []string
}

// CheckpointNames returns the names of the checkpoint stamps of o, or
// generic names for n stamps if o does not name them.
func CheckpointNames(o Oracle, n int) []string {
	if cn, ok := o.(CheckpointNamer); ok {
		if names := cn.CheckpointNames(); len(names) >= n {
			return names[:n]
		}
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("point%d", i)
	}
	return names
}

// Codec decomposes a ciphertext into the matrices Bp and C and packs them
// back.  Unpack followed by Pack is the identity on the ciphertext.
type Codec interface {
	Unpack(ct []byte) (bp, c []uint16, err error)
	Pack(bp, c []uint16, ct []byte) error

	// Modulus is q.
	Modulus() uint32

	// ErrorCorrectionLimit is the largest error a decoded coefficient can
	// absorb, 2^(logq - B - 1).
	ErrorCorrectionLimit() uint16

	// NBar is the dimension of the square C matrix.
	NBar() int
}

// ReferenceErrorer computes, given the secret key, the signed decoding
// error of every coefficient of C.  Used to score recovered values.
type ReferenceErrorer interface {
	ReferenceError(ct, sk []byte) ([]int32, error)
}

// RejectionSampler is an Oracle whose encapsulation randomness is a caller
// supplied plaintext and whose decapsulation runs a variable-time rejection
// sampler.
type RejectionSampler interface {
	Oracle
	EncapsWithPlaintext(pk, pt []byte) (ct, ss []byte, err error)

	// NumRejections returns seedexpanders*1000 + rejected draws for the
	// sampling run that pt induces.
	NumRejections(pt []byte) (uint64, error)
}

func oracleErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOracle) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrOracle, op, err)
}

// WrapError tags err as an oracle failure of operation op.
func WrapError(op string, err error) error {
	return oracleErr(op, err)
}
