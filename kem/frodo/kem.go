// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package frodo

import (
	"encoding/binary"
	"io"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/kemtiming/core/cycles"
	"github.com/katzenpost/kemtiming/kem"
)

const (
	domainKeygen = 0x5F
	domainEncaps = 0x96
)

// KEM is an instrumented FrodoKEM oracle.
type KEM struct {
	*Params

	desc *kem.Descriptor
	rng  io.Reader
}

// New returns an oracle for the parameter set, drawing randomness from
// rng.  A nil rng selects the hpqc system reader.
func New(p *Params, rng io.Reader) *KEM {
	if rng == nil {
		rng = rand.Reader
	}
	return &KEM{
		Params: p,
		desc:   p.Descriptor(),
		rng:    rng,
	}
}

func (k *KEM) Descriptor() *kem.Descriptor {
	return k.desc
}

type secretKey struct {
	s    []byte
	pk   []byte
	sT   []uint16
	pkh  []byte
	seed []byte
	b    []uint16
}

func (k *KEM) parseSecretKey(sk []byte) (*secretKey, error) {
	if err := k.desc.CheckSecretKey(sk); err != nil {
		return nil, err
	}
	p := k.Params
	off := 0
	key := &secretKey{s: sk[off : off+p.secLen]}
	off += p.secLen
	key.pk = sk[off : off+p.PublicKeySize()]
	off += p.PublicKeySize()
	key.sT = make([]uint16, p.n*NBar)
	for i := range key.sT {
		key.sT[i] = binary.LittleEndian.Uint16(sk[off+2*i:])
	}
	off += 2 * p.n * NBar
	key.pkh = sk[off : off+p.secLen]
	key.seed, key.b = k.parsePublicKey(key.pk)
	return key, nil
}

func (k *KEM) parsePublicKey(pk []byte) ([]byte, []uint16) {
	b := make([]uint16, k.n*NBar)
	unpack(b, pk[seedALen:], k.logQ)
	return pk[:seedALen], b
}

// Keypair generates a fresh key pair.
func (k *KEM) Keypair() ([]byte, []byte, error) {
	p := k.Params
	rnd := make([]byte, 2*p.secLen+seedALen)
	if _, err := io.ReadFull(k.rng, rnd); err != nil {
		return nil, nil, kem.WrapError("keypair", err)
	}
	s, seedSE, z := rnd[:p.secLen], rnd[p.secLen:2*p.secLen], rnd[2*p.secLen:]

	pk := make([]byte, p.PublicKeySize())
	seedA := pk[:seedALen]
	p.shake(seedA, z)

	r := p.expandSE(domainKeygen, seedSE, 2*p.n*NBar)
	p.sample(r)
	sT, e := r[:p.n*NBar], r[p.n*NBar:]
	b := p.mulAddASPlusE(sT, e, seedA)
	pack(pk[seedALen:], b, p.logQ)

	sk := make([]byte, 0, p.SecretKeySize())
	sk = append(sk, s...)
	sk = append(sk, pk...)
	for _, v := range sT {
		sk = binary.LittleEndian.AppendUint16(sk, v)
	}
	pkh := make([]byte, p.secLen)
	p.shake(pkh, pk)
	sk = append(sk, pkh...)
	return pk, sk, nil
}

// Encaps encapsulates a random message to pk.
func (k *KEM) Encaps(pk []byte) ([]byte, []byte, error) {
	mu := make([]byte, k.secLen)
	if _, err := io.ReadFull(k.rng, mu); err != nil {
		return nil, nil, kem.WrapError("encaps", err)
	}
	return k.EncapsWithPlaintext(pk, mu)
}

// EncapsWithPlaintext encapsulates the caller supplied message mu.
func (k *KEM) EncapsWithPlaintext(pk, mu []byte) ([]byte, []byte, error) {
	if err := k.desc.CheckPublicKey(pk); err != nil {
		return nil, nil, err
	}
	if err := k.desc.CheckPlaintext(mu); err != nil {
		return nil, nil, err
	}
	p := k.Params
	pkh := make([]byte, p.secLen)
	p.shake(pkh, pk)
	seedSE, key := p.g2(pkh, mu)

	seedA, b := k.parsePublicKey(pk)
	bp, c := p.reencrypt(seedA, b, seedSE, mu)

	ct := make([]byte, p.CiphertextSize())
	pack(ct[:p.c1Len()], bp, p.logQ)
	pack(ct[p.c1Len():], c, p.logQ)
	return ct, p.f(ct, key), nil
}

// Decaps decapsulates ct.  Invalid ciphertexts yield the implicit
// rejection key.
func (k *KEM) Decaps(ct, sk []byte) ([]byte, error) {
	ss, _, err := k.decaps(ct, sk, nil)
	return ss, err
}

// DecapsMeasure decapsulates ct and reports the comparison checkpoints, the
// cycle count of the whole operation and stage stamps taken after
// decoding, after re-encryption and after the comparison.
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
	return []string{"decode", "reencrypt", "compare"}
}

func (k *KEM) decaps(ct, sk []byte, stamp func(*kem.Checkpoints)) ([]byte, kem.Checkpoints, error) {
	var cp kem.Checkpoints
	if stamp == nil {
		stamp = func(*kem.Checkpoints) {}
	}
	if err := k.desc.CheckCiphertext(ct); err != nil {
		return nil, cp, err
	}
	key, err := k.parseSecretKey(sk)
	if err != nil {
		return nil, cp, err
	}
	p := k.Params

	bp, c, _ := p.Unpack(ct)
	w := p.sub(c, p.mulBS(bp, key.sT))
	mu := p.decode(w)
	stamp(&cp)

	seedSE, kp := p.g2(key.pkh, mu)
	bbp, cc := p.reencrypt(key.seed, key.b, seedSE, mu)
	stamp(&cp)

	// Early-exit comparison, Bp before C.
	eq1 := equal(bp, bbp)
	cp.Memcmp1 = &eq1
	if eq1 {
		eq2 := equal(c, cc)
		cp.Memcmp2 = &eq2
	}
	stamp(&cp)
	if eq1 && *cp.Memcmp2 {
		return p.f(ct, kp), cp, nil
	}
	return p.f(ct, key.s), cp, nil
}

// ReferenceError returns, for every coefficient of C - Bp*S, its signed
// distance from the nearest encoded symbol.  Adding x to coefficient i
// changes the decoded message iff x >= ErrorCorrectionLimit() - e[i].
func (k *KEM) ReferenceError(ct, sk []byte) ([]int32, error) {
	if err := k.desc.CheckCiphertext(ct); err != nil {
		return nil, err
	}
	key, err := k.parseSecretKey(sk)
	if err != nil {
		return nil, err
	}
	p := k.Params
	bp, c, _ := p.Unpack(ct)
	m := p.sub(c, p.mulBS(bp, key.sT))
	d := p.sub(m, p.encode(p.decode(m)))

	q := int32(p.Modulus())
	out := make([]int32, len(d))
	for i, v := range d {
		e := int32(v)
		if e >= q/2 {
			e -= q
		}
		out[i] = e
	}
	return out, nil
}

// reencrypt computes Bp = S'A + E' and C = S'B + Epp + encode(mu) from the
// seed.
func (p *Params) reencrypt(seedA []byte, b []uint16, seedSE, mu []byte) ([]uint16, []uint16) {
	r := p.expandSE(domainEncaps, seedSE, (2*p.n+NBar)*NBar)
	p.sample(r)
	sp := r[:NBar*p.n]
	ep := r[NBar*p.n : 2*NBar*p.n]
	epp := r[2*NBar*p.n:]

	bp := p.mulAddSAPlusE(sp, ep, seedA)
	v := p.mulAddSBPlusE(sp, b, epp)
	return bp, p.add(v, p.encode(mu))
}

// g2 returns seedSE || k = SHAKE(pkh || mu).
func (p *Params) g2(pkh, mu []byte) ([]byte, []byte) {
	in := make([]byte, 0, len(pkh)+len(mu))
	in = append(in, pkh...)
	in = append(in, mu...)
	out := make([]byte, 2*p.secLen)
	p.shake(out, in)
	return out[:p.secLen], out[p.secLen:]
}

// f returns ss = SHAKE(ct || k).
func (p *Params) f(ct, key []byte) []byte {
	in := make([]byte, 0, len(ct)+len(key))
	in = append(in, ct...)
	in = append(in, key...)
	ss := make([]byte, p.secLen)
	p.shake(ss, in)
	return ss
}

func equal(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
