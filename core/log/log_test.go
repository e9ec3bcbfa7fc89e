// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("notice")
	require.NoError(t, err)
	require.Equal(t, logging.NOTICE, lvl)
	_, err = ParseLevel("LOUD")
	require.Error(t, err)
	_, err = New("", "LOUD", false)
	require.Error(t, err)
}

func TestBackendFile(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "kemtiming.log")
	b, err := New(path, "INFO", false)
	require.NoError(err)

	l := b.GetLogger("search")
	l.Info("first")
	l.Debug("hidden")
	require.True(b.IsEnabledFor(logging.INFO, "search"))
	require.False(b.IsEnabledFor(logging.DEBUG, "search"))

	// Rotation reopens the file under the same name.
	rotated := path + ".1"
	require.NoError(os.Rename(path, rotated))
	require.NoError(b.Rotate())
	l.Warning("second")

	w, err := b.GetLogWriter("gather", "NOTICE")
	require.NoError(err)
	fmt.Fprint(w, "line one\nline ")
	fmt.Fprint(w, "two\n\npartial")
	require.NoError(b.Close())

	old, err := os.ReadFile(rotated)
	require.NoError(err)
	require.Contains(string(old), "INFO search: first")
	require.NotContains(string(old), "hidden")

	cur, err := os.ReadFile(path)
	require.NoError(err)
	lines := strings.Split(strings.TrimSpace(string(cur)), "\n")
	require.Len(lines, 3)
	require.Contains(lines[0], "WARN search: second")
	require.Contains(lines[1], "NOTI gather: line one")
	require.Contains(lines[2], "NOTI gather: line two")
}

func TestBackendSetLevel(t *testing.T) {
	b, err := New("", "ERROR", true)
	require.NoError(t, err)
	require.Equal(t, logging.ERROR, b.GetLevel(""))
	b.SetLevel(logging.DEBUG, "")
	require.Equal(t, logging.DEBUG, b.GetLevel("anything"))
	require.NoError(t, b.Rotate())
	require.Equal(t, logging.DEBUG, b.GetLevel(""))
}
