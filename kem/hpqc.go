// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package kem

import (
	hpqckem "github.com/katzenpost/hpqc/kem"
)

// schemeOracle exposes an hpqc KEM scheme as an Oracle operating on packed
// key bytes.  Keys are unmarshaled on every call; see Prepared.
type schemeOracle struct {
	scheme hpqckem.Scheme
	desc   *Descriptor
}

// FromScheme wraps an hpqc KEM scheme.
func FromScheme(s hpqckem.Scheme) Oracle {
	return &schemeOracle{
		scheme: s,
		desc: &Descriptor{
			Name:             s.Name(),
			PublicKeySize:    s.PublicKeySize(),
			SecretKeySize:    s.PrivateKeySize(),
			CiphertextSize:   s.CiphertextSize(),
			SharedSecretSize: s.SharedKeySize(),
		},
	}
}

func (o *schemeOracle) Descriptor() *Descriptor {
	return o.desc
}

// Scheme returns the wrapped hpqc scheme.
func (o *schemeOracle) Scheme() hpqckem.Scheme {
	return o.scheme
}

func (o *schemeOracle) Keypair() ([]byte, []byte, error) {
	pub, priv, err := o.scheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, oracleErr("keypair", err)
	}
	pk, err := pub.MarshalBinary()
	if err != nil {
		return nil, nil, oracleErr("keypair", err)
	}
	sk, err := priv.MarshalBinary()
	if err != nil {
		return nil, nil, oracleErr("keypair", err)
	}
	return pk, sk, nil
}

func (o *schemeOracle) Encaps(pk []byte) ([]byte, []byte, error) {
	if err := o.desc.CheckPublicKey(pk); err != nil {
		return nil, nil, err
	}
	pub, err := o.scheme.UnmarshalBinaryPublicKey(pk)
	if err != nil {
		return nil, nil, oracleErr("encaps", err)
	}
	ct, ss, err := o.scheme.Encapsulate(pub)
	if err != nil {
		return nil, nil, oracleErr("encaps", err)
	}
	return ct, ss, nil
}

func (o *schemeOracle) Decaps(ct, sk []byte) ([]byte, error) {
	if err := o.desc.CheckCiphertext(ct); err != nil {
		return nil, err
	}
	priv, err := o.scheme.UnmarshalBinaryPrivateKey(sk)
	if err != nil {
		return nil, oracleErr("decaps", err)
	}
	ss, err := o.scheme.Decapsulate(priv, ct)
	if err != nil {
		return nil, oracleErr("decaps", err)
	}
	return ss, nil
}

// Prepared is an Oracle whose Decaps reuses a parsed private key, so that
// the timed region covers decapsulation alone.
type Prepared struct {
	*schemeOracle

	sk   []byte
	priv hpqckem.PrivateKey
}

// Prepare returns an Oracle that caches the parsed form of the most recent
// secret key passed to Decaps.  Oracles not built by FromScheme are
// returned unchanged.
func Prepare(o Oracle) Oracle {
	so, ok := o.(*schemeOracle)
	if !ok {
		return o
	}
	return &Prepared{schemeOracle: so}
}

func (p *Prepared) Decaps(ct, sk []byte) ([]byte, error) {
	if err := p.desc.CheckCiphertext(ct); err != nil {
		return nil, err
	}
	if p.priv == nil || string(p.sk) != string(sk) {
		priv, err := p.scheme.UnmarshalBinaryPrivateKey(sk)
		if err != nil {
			return nil, oracleErr("decaps", err)
		}
		p.sk = append(p.sk[:0], sk...)
		p.priv = priv
	}
	ss, err := p.scheme.Decapsulate(p.priv, ct)
	if err != nil {
		return nil, oracleErr("decaps", err)
	}
	return ss, nil
}
