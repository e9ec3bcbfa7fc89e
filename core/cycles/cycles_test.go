// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package cycles

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounterAdvances(t *testing.T) {
	require.NotEmpty(t, Name())
	a := Now()
	time.Sleep(time.Millisecond)
	b := Now()
	require.Greater(t, b, a)
}

func TestFlush(t *testing.T) {
	Flush(nil)
	b := make([]byte, 1000)
	b[999] = 7
	Flush(b)
	Flush(b[:1])
	require.Equal(t, byte(7), b[999])
}
