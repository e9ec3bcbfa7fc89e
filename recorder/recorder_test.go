// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package recorder

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderBasics(t *testing.T) {
	r := New("basic", nil)
	_, err := r.Mean()
	require.ErrorIs(t, err, ErrEmptySeries)
	_, err = r.Min()
	require.ErrorIs(t, err, ErrEmptySeries)

	for _, v := range []uint64{5, 1, 3, 3, 9} {
		r.Record(v)
	}
	require.Equal(t, 5, r.Len())
	require.Equal(t, uint64(21), r.Sum())

	mean, err := r.Mean()
	require.NoError(t, err)
	require.Equal(t, uint64(4), mean)

	min, err := r.Min()
	require.NoError(t, err)
	require.Equal(t, uint64(1), min)

	median, err := r.Median()
	require.NoError(t, err)
	require.Equal(t, uint64(3), median)

	v, ok := r.NthLowestValue(3)
	require.True(t, ok)
	require.Equal(t, uint64(5), v)

	v, ok = r.NthLowestSample(3)
	require.True(t, ok)
	require.Equal(t, uint64(3), v)

	_, ok = r.NthLowestSample(6)
	require.False(t, ok)
	_, ok = r.NthLowestValue(0)
	require.False(t, ok)

	assert.InDelta(t, 60.0, r.PercentageLTE(3), 1e-9)
	assert.InDelta(t, 20.0, r.PercentageLT(3), 1e-9)
	assert.InDelta(t, 100.0, r.PercentageLTE(9), 1e-9)

	require.Equal(t, []Bin{{1, 1}, {3, 2}, {5, 1}, {9, 1}}, r.Histogram())
}

func TestRecorderCutoff(t *testing.T) {
	r := WithCutoff("cut", 10)
	samples := []uint64{12, 4, 10, 9, 50, 2}
	for _, v := range samples {
		r.Record(v)
	}

	// Only samples strictly below the cutoff are retained.
	require.Equal(t, 3, r.Len())
	var got []uint64
	r.Values(func(v uint64) bool {
		got = append(got, v)
		return true
	})
	require.Equal(t, []uint64{2, 4, 9}, got)

	c, ok := r.Cutoff()
	require.True(t, ok)
	require.Equal(t, uint64(10), c)
}

func TestRecorderMinIncludesDropped(t *testing.T) {
	r := WithCutoff("min", 5)
	r.Record(100)
	require.Equal(t, 0, r.Len())

	min, err := r.Min()
	require.NoError(t, err)
	require.Equal(t, uint64(100), min)

	_, err = r.Mean()
	require.ErrorIs(t, err, ErrEmptySeries)

	r.Record(3)
	min, err = r.Min()
	require.NoError(t, err)
	require.Equal(t, uint64(3), min)
}

func TestCutoffFromWarmup(t *testing.T) {
	r := New(WarmupName(0, 56), nil)
	for _, v := range []uint64{100, 200, 300} {
		r.Record(v)
	}
	c, err := CutoffFromWarmup(r)
	require.NoError(t, err)
	require.Equal(t, uint64(300), c)

	_, err = CutoffFromWarmup(New("empty", nil))
	require.ErrorIs(t, err, ErrEmptySeries)
}

func TestSeriesNames(t *testing.T) {
	require.Equal(t, "3-BINSEARCH[57](4090){1}", SearchName(3, 57, 4090, 1))
	require.Equal(t, "0-WARMUP[56]", WarmupName(0, 56))
}

func TestCSVRoundTrip(t *testing.T) {
	a := New("0-BINSEARCH[56](4096){1}", nil)
	for _, v := range []uint64{7, 3, 3, 11} {
		a.Record(v)
	}
	b := New("0-BINSEARCH[56](4096){8192}", nil)
	b.Record(42)
	empty := New("0-WARMUP[56]", nil)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []*Recorder{a, b, empty}))
	require.Equal(t,
		"0-BINSEARCH[56](4096){1},0-BINSEARCH[56](4096){8192},0-WARMUP[56]\n"+
			"3,42,\n3,,\n7,,\n11,,\n",
		buf.String())

	path := filepath.Join(t.TempDir(), "series.csv")
	require.NoError(t, SaveCSV(path, []*Recorder{a, b, empty}))

	loaded, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, orig := range []*Recorder{a, b, empty} {
		require.Equal(t, orig.Name(), loaded[i].Name())
		require.Equal(t, orig.Histogram(), loaded[i].Histogram())
	}
}

func TestSinkSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.csv")
	s := NewSink(path)
	r := New("x", nil)
	r.Record(1)
	s.Add(r)
	require.NoError(t, s.Save())

	r.Record(2)
	require.NoError(t, s.Save())

	loaded, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, 2, loaded[0].Len())

	require.NoError(t, NewSink("").Save())
}
