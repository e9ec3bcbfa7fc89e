// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package frodo

import (
	"bytes"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/kemtiming/kem"
)

func testKEM(t *testing.T, p *Params) *KEM {
	rng, err := rand.NewDeterministicRandReader(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return New(p, rng)
}

func TestFrodo640Sizes(t *testing.T) {
	d := Frodo640.Descriptor()
	require.Equal(t, 9616, d.PublicKeySize)
	require.Equal(t, 19888, d.SecretKeySize)
	require.Equal(t, 9720, d.CiphertextSize)
	require.Equal(t, 16, d.SharedSecretSize)
	require.Equal(t, uint16(4096), Frodo640.ErrorCorrectionLimit())
	require.Equal(t, uint16(8192), Frodo640.MaxModification())
	require.Equal(t, uint32(32768), Frodo640.Modulus())

	require.Equal(t, uint16(4096), Frodo976.ErrorCorrectionLimit())
	require.Equal(t, uint16(2048), Frodo1344.ErrorCorrectionLimit())
	require.Equal(t, Frodo1344, ByName("FrodoKEM-1344-SHAKE-model"))
	require.Nil(t, ByName("FrodoKEM-1-SHAKE"))
}

func TestPackUnpack(t *testing.T) {
	for _, d := range []uint{15, 16} {
		in := make([]uint16, 64)
		for i := range in {
			in[i] = uint16(i*977+13) & uint16((1<<d)-1)
		}
		buf := make([]byte, int(d)*len(in)/8)
		pack(buf, in, d)
		out := make([]uint16, len(in))
		unpack(out, buf, d)
		require.Equal(t, in, out)
	}

	// MSB first: a single value of 1 packed in 15 bits sets bit 14.
	buf := make([]byte, 15)
	vals := make([]uint16, 8)
	vals[0] = 1
	pack(buf, vals, 15)
	require.Equal(t, byte(0x02), buf[1])
}

func TestEncodeDecode(t *testing.T) {
	for _, p := range all {
		mu := make([]byte, p.secLen)
		for i := range mu {
			mu[i] = byte(i*37 + 5)
		}
		enc := p.encode(mu)
		require.Equal(t, mu, p.decode(enc))

		// Offsets strictly inside the correction limit decode unchanged.
		ecl := p.ErrorCorrectionLimit()
		noisy := make([]uint16, len(enc))
		for i := range enc {
			noisy[i] = (enc[i] + ecl - 1) & p.mask()
		}
		require.Equal(t, mu, p.decode(noisy))
		for i := range enc {
			noisy[i] = (enc[i] - ecl) & p.mask()
		}
		require.Equal(t, mu, p.decode(noisy))
	}
}

func TestSampleSymmetric(t *testing.T) {
	p := Frodo640
	s := []uint16{0, 1, 0xfffe, 0xffff}
	p.sample(s)
	require.Equal(t, uint16(0), s[0])
	require.Equal(t, uint16(0), s[1])
	require.Equal(t, uint16(12), s[2])
	require.Equal(t, uint16(0xfff4), s[3])
}

func TestCodecRoundTrip(t *testing.T) {
	k := testKEM(t, Frodo640)
	pk, _, err := k.Keypair()
	require.NoError(t, err)
	ct, _, err := k.Encaps(pk)
	require.NoError(t, err)

	orig := append([]byte{}, ct...)
	bp, c, err := k.Unpack(ct)
	require.NoError(t, err)
	require.Len(t, bp, NBar*640)
	require.Len(t, c, NBar*NBar)
	require.NoError(t, k.Pack(bp, c, ct))
	require.Equal(t, orig, ct)

	_, _, err = k.Unpack(ct[1:])
	require.ErrorIs(t, err, kem.ErrBufferSize)
}

func TestEncapsDecaps(t *testing.T) {
	k := testKEM(t, Frodo640)
	pk, sk, err := k.Keypair()
	require.NoError(t, err)
	require.Len(t, pk, 9616)
	require.Len(t, sk, 19888)

	ct, ss, err := k.Encaps(pk)
	require.NoError(t, err)
	require.Len(t, ct, 9720)

	ss2, cp, err := k.DecapsMeasure(ct, sk)
	require.NoError(t, err)
	require.Equal(t, ss, ss2)
	require.NotNil(t, cp.Timing)
	require.Len(t, cp.Points, 3)
	require.True(t, *cp.Memcmp1)
	require.True(t, *cp.Memcmp2)

	_, err = k.Decaps(ct, sk[1:])
	require.ErrorIs(t, err, kem.ErrBufferSize)
}

func TestEncapsWithPlaintextDeterministic(t *testing.T) {
	k := testKEM(t, Frodo640)
	pk, _, err := k.Keypair()
	require.NoError(t, err)
	mu := bytes.Repeat([]byte{0xa5}, 16)
	ct1, ss1, err := k.EncapsWithPlaintext(pk, mu)
	require.NoError(t, err)
	ct2, ss2, err := k.EncapsWithPlaintext(pk, mu)
	require.NoError(t, err)
	require.Equal(t, ct1, ct2)
	require.Equal(t, ss1, ss2)
}

func TestReferenceErrorPredictsDecodeFlip(t *testing.T) {
	k := testKEM(t, Frodo640)
	pk, sk, err := k.Keypair()
	require.NoError(t, err)
	ct, ss, err := k.Encaps(pk)
	require.NoError(t, err)

	ref, err := k.ReferenceError(ct, sk)
	require.NoError(t, err)
	require.Len(t, ref, NBar*NBar)

	idx := (NBar-1)*NBar + 3
	ecl := int32(k.ErrorCorrectionLimit())
	require.Less(t, ref[idx], ecl)
	require.GreaterOrEqual(t, ref[idx], -ecl)
	x0 := uint16(ecl - ref[idx])

	decapsWith := func(amount uint16) kem.Checkpoints {
		mod := append([]byte{}, ct...)
		bp, c, err := k.Unpack(mod)
		require.NoError(t, err)
		c[idx] += amount
		require.NoError(t, k.Pack(bp, c, mod))
		got, cp, err := k.DecapsMeasure(mod, sk)
		require.NoError(t, err)
		require.NotEqual(t, ss, got)
		return cp
	}

	below := decapsWith(x0 - 1)
	require.True(t, *below.Memcmp1)
	require.False(t, *below.Memcmp2)

	at := decapsWith(x0)
	require.False(t, *at.Memcmp1)
	require.Nil(t, at.Memcmp2)
}
