// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package frodo

// pack writes the D-bit values of in into out, most significant bit first.
func pack(out []byte, in []uint16, d uint) {
	for i := range out {
		out[i] = 0
	}
	bit := 0
	for _, v := range in {
		for l := int(d) - 1; l >= 0; l-- {
			if v&(1<<uint(l)) != 0 {
				out[bit>>3] |= 0x80 >> uint(bit&7)
			}
			bit++
		}
	}
}

// unpack reads len(out) D-bit values from in, most significant bit first.
func unpack(out []uint16, in []byte, d uint) {
	bit := 0
	for i := range out {
		var v uint16
		for l := int(d) - 1; l >= 0; l-- {
			if in[bit>>3]&(0x80>>uint(bit&7)) != 0 {
				v |= 1 << uint(l)
			}
			bit++
		}
		out[i] = v
	}
}

// Unpack splits ct into Bp (NBar x n, row-major) and C (NBar x NBar).
func (p *Params) Unpack(ct []byte) ([]uint16, []uint16, error) {
	if err := p.Descriptor().CheckCiphertext(ct); err != nil {
		return nil, nil, err
	}
	bp := make([]uint16, NBar*p.n)
	c := make([]uint16, NBar*NBar)
	unpack(bp, ct[:p.c1Len()], p.logQ)
	unpack(c, ct[p.c1Len():], p.logQ)
	return bp, c, nil
}

// Pack serializes Bp and C into ct.  Coefficients are reduced mod q.
func (p *Params) Pack(bp, c []uint16, ct []byte) error {
	if err := p.Descriptor().CheckCiphertext(ct); err != nil {
		return err
	}
	m := p.mask()
	for i := range bp {
		bp[i] &= m
	}
	for i := range c {
		c[i] &= m
	}
	pack(ct[:p.c1Len()], bp, p.logQ)
	pack(ct[p.c1Len():], c, p.logQ)
	return nil
}

// encode maps the B*NBar*NBar bits of mu onto NBar*NBar coefficients,
// consuming B-bit groups least significant first within little-endian
// 64-bit words.
func (p *Params) encode(mu []byte) []uint16 {
	out := make([]uint16, NBar*NBar)
	mask := uint64(1)<<p.b - 1
	pos := 0
	for i := 0; i < NBar*NBar/8; i++ {
		var t uint64
		for j := 0; j < int(p.b); j++ {
			t |= uint64(mu[i*int(p.b)+j]) << (8 * uint(j))
		}
		for j := 0; j < 8; j++ {
			out[pos] = uint16((t & mask) << (p.logQ - p.b))
			t >>= p.b
			pos++
		}
	}
	return out
}

// decode rounds every coefficient to the nearest encoded symbol and
// returns the packed message bits.
func (p *Params) decode(in []uint16) []byte {
	out := make([]byte, p.secLen)
	maskEx := uint64(1)<<p.b - 1
	maskQ := p.mask()
	half := uint16(1) << (p.logQ - p.b - 1)
	idx := 0
	for i := 0; i < NBar*NBar/8; i++ {
		var t uint64
		for j := 0; j < 8; j++ {
			v := ((in[idx] & maskQ) + half) & maskQ
			v >>= p.logQ - p.b
			t |= (uint64(v) & maskEx) << (p.b * uint(j))
			idx++
		}
		for j := 0; j < int(p.b); j++ {
			out[i*int(p.b)+j] = byte(t >> (8 * uint(j)))
		}
	}
	return out
}
