// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package kem

import (
	"errors"
	"testing"

	"github.com/katzenpost/hpqc/kem/schemes"
	"github.com/stretchr/testify/require"
)

func TestDescriptorChecks(t *testing.T) {
	d := &Descriptor{Name: "toy", PublicKeySize: 2, SecretKeySize: 3, CiphertextSize: 4, PlaintextSize: 1}
	require.NoError(t, d.CheckPublicKey(make([]byte, 2)))
	require.NoError(t, d.CheckSecretKey(make([]byte, 3)))
	require.NoError(t, d.CheckCiphertext(make([]byte, 4)))
	require.NoError(t, d.CheckPlaintext(make([]byte, 1)))
	require.ErrorIs(t, d.CheckCiphertext(make([]byte, 5)), ErrBufferSize)
	require.ErrorIs(t, d.CheckPublicKey(nil), ErrBufferSize)
	require.Equal(t, "toy", d.String())
}

func TestWrapError(t *testing.T) {
	require.NoError(t, WrapError("decaps", nil))
	err := WrapError("decaps", errors.New("boom"))
	require.ErrorIs(t, err, ErrOracle)
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, err, WrapError("again", err))
}

func TestPreparedOracle(t *testing.T) {
	o := Prepare(FromScheme(schemes.ByName("MLKEM768")))
	_, ok := o.(*Prepared)
	require.True(t, ok)

	pk, sk, err := o.Keypair()
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		ct, ss, err := o.Encaps(pk)
		require.NoError(t, err)
		ss2, err := o.Decaps(ct, sk)
		require.NoError(t, err)
		require.Equal(t, ss, ss2)
	}

	_, _, err = o.Encaps(pk[1:])
	require.ErrorIs(t, err, ErrBufferSize)
}

type namedOracle struct {
	Oracle
}

func (namedOracle) CheckpointNames() []string {
	return []string{"a", "b"}
}

func TestCheckpointNames(t *testing.T) {
	require.Equal(t, []string{"a"}, CheckpointNames(namedOracle{}, 1))
	require.Equal(t, []string{"point0", "point1", "point2"}, CheckpointNames(namedOracle{}, 3))
	require.Equal(t, []string{"point0"}, CheckpointNames(nil, 1))
}
