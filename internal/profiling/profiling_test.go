//go:build !pyroscope

// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package profiling

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestStartDisabled(t *testing.T) {
	stop, err := Start(logging.MustGetLogger("profiling_test"), map[string]string{"kem": "test"})
	require.NoError(t, err)
	require.NotNil(t, stop)
	stop()
}
