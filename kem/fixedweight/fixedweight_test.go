// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package fixedweight

import (
	"bytes"
	"testing"

	"github.com/katzenpost/hpqc/kem/schemes"
	"github.com/stretchr/testify/require"
)

func TestThreshold(t *testing.T) {
	require.Equal(t, uint32(16767881), HQC128.Threshold())
	require.Equal(t, uint32(16742417), HQC192.Threshold())
	require.Equal(t, uint32(16772367), HQC256.Threshold())
	require.Equal(t, HQC192, ByName("HQC-192-model"))
	require.Len(t, Names(), 3)
}

func TestSplitKey(t *testing.T) {
	st := Stats{SeedExpanders: 2, Rejected: 17}
	require.Equal(t, uint64(2017), st.Key())
	s, r := SplitKey(st.Key())
	require.Equal(t, uint64(2), s)
	require.Equal(t, uint64(17), r)
}

func TestSupports(t *testing.T) {
	for _, p := range all {
		m := bytes.Repeat([]byte{0x11}, p.PlaintextSize)
		supports, st := p.Supports(m)
		require.Len(t, supports, 3)
		require.Len(t, supports[0], p.OmegaR)
		require.Len(t, supports[1], p.OmegaR)
		require.Len(t, supports[2], p.OmegaE)
		for _, s := range supports {
			seen := make(map[uint32]bool)
			for _, v := range s {
				require.Less(t, v, p.N)
				require.False(t, seen[v])
				seen[v] = true
			}
		}
		require.Equal(t, uint64(2*p.OmegaR+p.OmegaE)+st.Rejected, st.Draws)

		again, st2 := p.Supports(m)
		require.Equal(t, supports, again)
		require.Equal(t, st, st2)
	}
}

func TestKEMRoundTrip(t *testing.T) {
	inner := schemes.ByName("MLKEM768")
	require.NotNil(t, inner)
	k := New(HQC128, inner, nil)

	pk, sk, err := k.Keypair()
	require.NoError(t, err)
	require.Len(t, sk, k.Descriptor().SecretKeySize)

	m := bytes.Repeat([]byte{0x5a}, HQC128.PlaintextSize)
	ct, ss, err := k.EncapsWithPlaintext(pk, m)
	require.NoError(t, err)
	require.Len(t, ct, k.Descriptor().CiphertextSize)

	ss2, cp, err := k.DecapsMeasure(ct, sk)
	require.NoError(t, err)
	require.Equal(t, ss, ss2)
	require.True(t, *cp.Memcmp1)
	require.NotNil(t, cp.Timing)
	require.Len(t, cp.Points, 2)

	// Flipping a bit of the masked message changes the recovered message
	// and therefore the supports.
	ct[inner.CiphertextSize()] ^= 1
	ss3, cp, err := k.DecapsMeasure(ct, sk)
	require.NoError(t, err)
	require.NotEqual(t, ss, ss3)
	require.False(t, *cp.Memcmp1)

	n, err := k.NumRejections(m)
	require.NoError(t, err)
	_, st := HQC128.Supports(m)
	require.Equal(t, st.Key(), n)

	_, err = k.NumRejections(m[1:])
	require.Error(t, err)
}
