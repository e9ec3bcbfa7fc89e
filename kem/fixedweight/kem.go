// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package fixedweight

import (
	"crypto/subtle"
	"encoding/binary"
	"io"

	hpqckem "github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/crypto/sha3"

	"github.com/katzenpost/kemtiming/core/cycles"
	"github.com/katzenpost/kemtiming/kem"
)

const (
	digestSize = 32
	keySize    = 32

	domainMask   = 0x03
	domainDigest = 0x04
	domainShared = 0x05
	domainReject = 0x06
)

// KEM wraps an inner KEM.  The message m is masked with a hash of the
// inner shared secret and bound to the ciphertext through a digest of the
// fixed-weight supports it induces, so every decapsulation re-runs the
// rejection sampler on the recovered message.
//
// Ciphertext: inner_ct || m ^ H(ss_inner) || digest(supports(m)).
// Secret key: inner_sk || sigma.
type KEM struct {
	*Params

	inner hpqckem.Scheme
	desc  *kem.Descriptor
	rng   io.Reader
}

// New returns the model for p over inner.  A nil rng selects the hpqc
// system reader.
func New(p *Params, inner hpqckem.Scheme, rng io.Reader) *KEM {
	if rng == nil {
		rng = rand.Reader
	}
	return &KEM{
		Params: p,
		inner:  inner,
		rng:    rng,
		desc: &kem.Descriptor{
			Name:             p.Name,
			PublicKeySize:    inner.PublicKeySize(),
			SecretKeySize:    inner.PrivateKeySize() + p.PlaintextSize,
			CiphertextSize:   inner.CiphertextSize() + p.PlaintextSize + digestSize,
			SharedSecretSize: keySize,
			PlaintextSize:    p.PlaintextSize,
		},
	}
}

func (k *KEM) Descriptor() *kem.Descriptor {
	return k.desc
}

// Keypair generates an inner key pair and the implicit rejection secret.
func (k *KEM) Keypair() ([]byte, []byte, error) {
	pub, priv, err := k.inner.GenerateKeyPair()
	if err != nil {
		return nil, nil, kem.WrapError("keypair", err)
	}
	pk, err := pub.MarshalBinary()
	if err != nil {
		return nil, nil, kem.WrapError("keypair", err)
	}
	sk, err := priv.MarshalBinary()
	if err != nil {
		return nil, nil, kem.WrapError("keypair", err)
	}
	sigma := make([]byte, k.PlaintextSize)
	if _, err := io.ReadFull(k.rng, sigma); err != nil {
		return nil, nil, kem.WrapError("keypair", err)
	}
	return pk, append(sk, sigma...), nil
}

// Encaps encapsulates a random message.
func (k *KEM) Encaps(pk []byte) ([]byte, []byte, error) {
	m := make([]byte, k.PlaintextSize)
	if _, err := io.ReadFull(k.rng, m); err != nil {
		return nil, nil, kem.WrapError("encaps", err)
	}
	return k.EncapsWithPlaintext(pk, m)
}

// EncapsWithPlaintext encapsulates the caller supplied message m.
func (k *KEM) EncapsWithPlaintext(pk, m []byte) ([]byte, []byte, error) {
	if err := k.desc.CheckPublicKey(pk); err != nil {
		return nil, nil, err
	}
	if err := k.desc.CheckPlaintext(m); err != nil {
		return nil, nil, err
	}
	pub, err := k.inner.UnmarshalBinaryPublicKey(pk)
	if err != nil {
		return nil, nil, kem.WrapError("encaps", err)
	}
	innerCT, innerSS, err := k.inner.Encapsulate(pub)
	if err != nil {
		return nil, nil, kem.WrapError("encaps", err)
	}

	supports, _ := k.Supports(m)
	ct := make([]byte, 0, k.desc.CiphertextSize)
	ct = append(ct, innerCT...)
	ct = append(ct, k.mask(innerSS, m)...)
	ct = append(ct, digest(supports)...)
	return ct, k.shared(domainShared, m, ct), nil
}

// NumRejections returns the iteration key of the sampling run induced by
// m.
func (k *KEM) NumRejections(m []byte) (uint64, error) {
	if err := k.desc.CheckPlaintext(m); err != nil {
		return 0, err
	}
	_, st := k.Supports(m)
	return st.Key(), nil
}

// Decaps decapsulates ct.
func (k *KEM) Decaps(ct, sk []byte) ([]byte, error) {
	ss, _, err := k.decaps(ct, sk, nil)
	return ss, err
}

// DecapsMeasure decapsulates ct, reporting the cycle count, the outcome
// of the digest comparison as the first checkpoint, and stage stamps taken
// after the inner decapsulation and after sampling.
func (k *KEM) DecapsMeasure(ct, sk []byte) ([]byte, kem.Checkpoints, error) {
	start := cycles.Now()
	ss, cp, err := k.decaps(ct, sk, func(cp *kem.Checkpoints) {
		cp.Points = append(cp.Points, cycles.Now()-start)
	})
	elapsed := cycles.Now() - start
	cp.Timing = &elapsed
	return ss, cp, err
}

// CheckpointNames names the DecapsMeasure stamps.
func (k *KEM) CheckpointNames() []string {
	return []string{"decaps", "sample"}
}

func (k *KEM) decaps(ct, sk []byte, stamp func(*kem.Checkpoints)) ([]byte, kem.Checkpoints, error) {
	var cp kem.Checkpoints
	if stamp == nil {
		stamp = func(*kem.Checkpoints) {}
	}
	if err := k.desc.CheckCiphertext(ct); err != nil {
		return nil, cp, err
	}
	if err := k.desc.CheckSecretKey(sk); err != nil {
		return nil, cp, err
	}
	innerLen := k.inner.CiphertextSize()
	innerSK, sigma := sk[:len(sk)-k.PlaintextSize], sk[len(sk)-k.PlaintextSize:]

	priv, err := k.inner.UnmarshalBinaryPrivateKey(innerSK)
	if err != nil {
		return nil, cp, kem.WrapError("decaps", err)
	}
	innerSS, err := k.inner.Decapsulate(priv, ct[:innerLen])
	if err != nil {
		return nil, cp, kem.WrapError("decaps", err)
	}
	m := k.mask(innerSS, ct[innerLen:innerLen+k.PlaintextSize])
	stamp(&cp)
	supports, _ := k.Supports(m)
	stamp(&cp)

	ok := subtle.ConstantTimeCompare(digest(supports), ct[innerLen+k.PlaintextSize:]) == 1
	cp.Memcmp1 = &ok
	if ok {
		return k.shared(domainShared, m, ct), cp, nil
	}
	return k.shared(domainReject, sigma, ct), cp, nil
}

func (k *KEM) mask(innerSS, in []byte) []byte {
	pad := make([]byte, len(in))
	xof := sha3.NewShake256()
	xof.Write([]byte{domainMask})
	xof.Write(innerSS)
	xof.Read(pad)
	for i := range pad {
		pad[i] ^= in[i]
	}
	return pad
}

func (k *KEM) shared(domain byte, secret, ct []byte) []byte {
	ss := make([]byte, keySize)
	xof := sha3.NewShake256()
	xof.Write([]byte{domain})
	xof.Write(secret)
	xof.Write(ct)
	xof.Read(ss)
	return ss
}

func digest(supports [][]uint32) []byte {
	xof := sha3.NewShake256()
	xof.Write([]byte{domainDigest})
	var b [4]byte
	for _, s := range supports {
		for _, v := range s {
			binary.BigEndian.PutUint32(b[:], v)
			xof.Write(b[:])
		}
	}
	out := make([]byte, digestSize)
	xof.Read(out)
	return out
}
