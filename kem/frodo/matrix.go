// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package frodo

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// rowsA calls fn with every row of A = Gen(seedA), expanded on the fly with
// SHAKE128(uint16_le(i) || seedA).
func (p *Params) rowsA(seedA []byte, fn func(i int, row []uint16)) {
	in := make([]byte, 2+len(seedA))
	copy(in[2:], seedA)
	buf := make([]byte, 2*p.n)
	row := make([]uint16, p.n)
	for i := 0; i < p.n; i++ {
		binary.LittleEndian.PutUint16(in, uint16(i))
		sha3.ShakeSum128(buf, in)
		for j := range row {
			row[j] = binary.LittleEndian.Uint16(buf[2*j:])
		}
		fn(i, row)
	}
}

// mulAddASPlusE returns B = A*S + E (n x NBar), with S given transposed.
func (p *Params) mulAddASPlusE(sT, e []uint16, seedA []byte) []uint16 {
	out := make([]uint16, p.n*NBar)
	copy(out, e)
	p.rowsA(seedA, func(i int, row []uint16) {
		for k := 0; k < NBar; k++ {
			s := sT[k*p.n : (k+1)*p.n]
			var sum uint16
			for j, a := range row {
				sum += a * s[j]
			}
			out[i*NBar+k] += sum
		}
	})
	return p.reduce(out)
}

// mulAddSAPlusE returns Bp = S'*A + E' (NBar x n).
func (p *Params) mulAddSAPlusE(sp, ep []uint16, seedA []byte) []uint16 {
	out := make([]uint16, NBar*p.n)
	copy(out, ep)
	p.rowsA(seedA, func(i int, row []uint16) {
		for k := 0; k < NBar; k++ {
			s := sp[k*p.n+i]
			o := out[k*p.n : (k+1)*p.n]
			for j, a := range row {
				o[j] += s * a
			}
		}
	})
	return p.reduce(out)
}

// mulAddSBPlusE returns V = S'*B + Epp (NBar x NBar), B being n x NBar.
func (p *Params) mulAddSBPlusE(sp, b, epp []uint16) []uint16 {
	out := make([]uint16, NBar*NBar)
	copy(out, epp)
	for k := 0; k < NBar; k++ {
		for i := 0; i < NBar; i++ {
			var sum uint16
			for j := 0; j < p.n; j++ {
				sum += sp[k*p.n+j] * b[j*NBar+i]
			}
			out[k*NBar+i] += sum
		}
	}
	return p.reduce(out)
}

// mulBS returns Bp*S (NBar x NBar), with S given transposed.
func (p *Params) mulBS(bp, sT []uint16) []uint16 {
	out := make([]uint16, NBar*NBar)
	for i := 0; i < NBar; i++ {
		for j := 0; j < NBar; j++ {
			var sum uint16
			for k := 0; k < p.n; k++ {
				sum += bp[i*p.n+k] * sT[j*p.n+k]
			}
			out[i*NBar+j] = sum
		}
	}
	return p.reduce(out)
}

func (p *Params) add(a, b []uint16) []uint16 {
	out := make([]uint16, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return p.reduce(out)
}

func (p *Params) sub(a, b []uint16) []uint16 {
	out := make([]uint16, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return p.reduce(out)
}

func (p *Params) reduce(v []uint16) []uint16 {
	m := p.mask()
	for i := range v {
		v[i] &= m
	}
	return v
}

// sample maps uniform 16-bit words in place onto the error distribution
// described by the CDF table.
func (p *Params) sample(s []uint16) {
	for i, r := range s {
		prnd := r >> 1
		sign := r & 1
		var v uint16
		for _, c := range p.cdf[:len(p.cdf)-1] {
			v += (c - prnd) >> 15
		}
		s[i] = (-sign ^ v) + sign
	}
}

// expandSE derives the little-endian 16-bit words SHAKE(domain || seedSE)
// used to sample n secret and error coefficients.
func (p *Params) expandSE(domain byte, seedSE []byte, n int) []uint16 {
	in := make([]byte, 1+len(seedSE))
	in[0] = domain
	copy(in[1:], seedSE)
	buf := make([]byte, 2*n)
	p.shake(buf, in)
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(buf[2*i:])
	}
	return out
}
