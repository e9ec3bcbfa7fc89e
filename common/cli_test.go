// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	require.Zero(t, ExitCode(nil))
	require.Zero(t, ExitCode(fmt.Errorf("search: %w", context.Canceled)))
	require.Equal(t, 1, ExitCode(errors.New("boom")))
	require.Equal(t, 3, ExitCode(fmt.Errorf("wrapped: %w", &ExitError{Code: 3})))
	require.Equal(t, "exit status 3", (&ExitError{Code: 3}).Error())
}

func TestIsUsageError(t *testing.T) {
	require.True(t, IsUsageError(errors.New("unknown flag: --frob")))
	require.True(t, IsUsageError(errors.New(`measure: could not parse "x" into either external, internal or oracle`)))
	require.False(t, IsUsageError(errors.New("kem: oracle failure")))
}

func TestErrorHandlerWithUsage(t *testing.T) {
	cmd := &cobra.Command{
		Use: "kemtiming",
		Run: func(*cobra.Command, []string) {},
	}
	cmd.Flags().Int("iterations", 0, "measurements per amount")
	handler := ErrorHandlerWithUsage(cmd)

	var buf bytes.Buffer
	handler(&buf, fang.Styles{}, errors.New("unknown flag: --frob"))
	require.Contains(t, buf.String(), "unknown flag: --frob.")
	require.Contains(t, buf.String(), "Usage:")
	require.Contains(t, buf.String(), "--iterations")

	buf.Reset()
	handler(&buf, fang.Styles{}, errors.New("kem: oracle failure"))
	require.Contains(t, buf.String(), "kem: oracle failure.")
	require.Contains(t, buf.String(), "--help")
	require.NotContains(t, buf.String(), "Usage:")

	buf.Reset()
	handler(&buf, fang.Styles{}, context.Canceled)
	require.Zero(t, buf.Len())
}
