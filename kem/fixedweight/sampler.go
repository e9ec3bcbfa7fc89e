// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package fixedweight

import (
	"golang.org/x/crypto/sha3"
)

const (
	domainSeedExpander = 0x02

	// IterationBase separates the seed expander count from the rejected
	// draw count in an iteration key.
	IterationBase = 1000
)

// Stats counts the work done by one sampling run.
type Stats struct {
	// SeedExpanders is the number of seed expander calls beyond the first
	// one of every vector.
	SeedExpanders uint64

	// Draws is the number of 24-bit values consumed.
	Draws uint64

	// Rejected is the number of draws that did not yield a new position,
	// either because they exceeded the threshold or were duplicates.
	Rejected uint64
}

// Key returns SeedExpanders*1000 + Rejected.
func (s Stats) Key() uint64 {
	return s.SeedExpanders*IterationBase + s.Rejected
}

// SplitKey splits an iteration key into its seed expander and rejected
// draw counts.
func SplitKey(key uint64) (seedExpanders, rejected uint64) {
	return key / IterationBase, key % IterationBase
}

func (s *Stats) add(o Stats) {
	s.SeedExpanders += o.SeedExpanders
	s.Draws += o.Draws
	s.Rejected += o.Rejected
}

// seedExpander hands out SHAKE256 output in fixed size chunks.
type seedExpander struct {
	xof sha3.ShakeHash
}

func newSeedExpander(seed []byte) *seedExpander {
	xof := sha3.NewShake256()
	xof.Write(seed)
	xof.Write([]byte{domainSeedExpander})
	return &seedExpander{xof: xof}
}

func (e *seedExpander) read(out []byte) {
	e.xof.Read(out)
}

// randomFixedWeight samples weight distinct positions in [0, N) by
// rejection sampling 24-bit big-endian values, refilling a 3*weight byte
// buffer from the seed expander whenever it runs dry.
func (p *Params) randomFixedWeight(e *seedExpander, weight int) ([]uint32, Stats) {
	var st Stats
	threshold := p.Threshold()

	buf := make([]byte, 3*weight)
	e.read(buf)
	j := 0

	out := make([]uint32, 0, weight)
	for len(out) < weight {
		var v uint32
		for {
			if j == len(buf) {
				e.read(buf)
				j = 0
				st.SeedExpanders++
			}
			v = uint32(buf[j])<<16 | uint32(buf[j+1])<<8 | uint32(buf[j+2])
			j += 3
			st.Draws++
			if v < threshold {
				break
			}
			st.Rejected++
		}
		v %= p.N

		dup := false
		for _, w := range out {
			if w == v {
				dup = true
				break
			}
		}
		if dup {
			st.Rejected++
			continue
		}
		out = append(out, v)
	}
	return out, st
}

// Supports samples the supports of r1, r2 and e from the message m, in
// that order, and returns them with the combined statistics.
func (p *Params) Supports(m []byte) ([][]uint32, Stats) {
	e := newSeedExpander(m)
	var total Stats
	weights := []int{p.OmegaR, p.OmegaR, p.OmegaE}
	supports := make([][]uint32, len(weights))
	for i, w := range weights {
		s, st := p.randomFixedWeight(e, w)
		supports[i] = s
		total.add(st)
	}
	return supports, total
}
