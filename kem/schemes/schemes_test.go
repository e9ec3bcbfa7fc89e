// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package schemes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/kemtiming/kem"
)

func TestByName(t *testing.T) {
	o, err := ByName("FrodoKEM-640-SHAKE-model")
	require.NoError(t, err)
	_, err = Instrumented(o)
	require.NoError(t, err)
	c, err := Codec(o)
	require.NoError(t, err)
	require.Equal(t, uint16(4096), c.ErrorCorrectionLimit())
	_, err = RejectionSampler(o)
	require.ErrorIs(t, err, kem.ErrUnsupported)

	o, err = ByName("HQC-128-model")
	require.NoError(t, err)
	_, err = RejectionSampler(o)
	require.NoError(t, err)
	_, err = Codec(o)
	require.ErrorIs(t, err, kem.ErrUnsupported)

	_, err = ByNameWithInner("HQC-128-model", "no-such-kem")
	require.ErrorIs(t, err, kem.ErrUnsupported)

	_, err = ByName("no-such-kem")
	require.ErrorIs(t, err, kem.ErrUnsupported)

	require.Contains(t, Models(), "HQC-256-model")
}

func TestExternalScheme(t *testing.T) {
	o, err := ByName("FrodoKEM-640-SHAKE")
	require.NoError(t, err)
	d := o.Descriptor()
	require.Equal(t, 9616, d.PublicKeySize)
	require.Equal(t, 9720, d.CiphertextSize)
	_, err = Instrumented(o)
	require.ErrorIs(t, err, kem.ErrUnsupported)

	pk, sk, err := o.Keypair()
	require.NoError(t, err)
	ct, ss, err := o.Encaps(pk)
	require.NoError(t, err)
	ss2, err := o.Decaps(ct, sk)
	require.NoError(t, err)
	require.Equal(t, ss, ss2)

	_, err = o.Decaps(ct[1:], sk)
	require.ErrorIs(t, err, kem.ErrBufferSize)
}
