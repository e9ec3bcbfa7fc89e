// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package rejection

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/kemtiming/measure"
)

func TestHistogram(t *testing.T) {
	require := require.New(t)
	o := newFake()
	bins, err := Histogram(o, 3*HistogramReportInterval/2, testRand(t), testLog)
	require.NoError(err)

	var total uint64
	for i, b := range bins {
		if i > 0 {
			require.Less(bins[i-1].Iter, b.Iter)
		}
		require.Contains([]uint64{0, 1, 2, 1000, 1001, 1002}, b.Iter)
		total += b.Count
	}
	require.Equal(uint64(3*HistogramReportInterval/2), total)
	require.Len(bins, 6)
}

func TestFindMinMax(t *testing.T) {
	require := require.New(t)
	o := newFake()
	lo, hi, err := FindMinMax(o, 200, testRand(t), testLog)
	require.NoError(err)
	require.Equal(uint64(0), lo.Iter)
	require.Equal(uint64(1002), hi.Iter)
	n, err := o.NumRejections(hi.Plaintext)
	require.NoError(err)
	require.Equal(hi.Iter, n)

	_, _, err = FindMinMax(o, 0, nil, testLog)
	require.Error(err)
}

func collect(t *testing.T, path string) []IterCount {
	counts, err := Collect(context.Background(), &CollectOptions{
		Oracle:       newFake(),
		Path:         path,
		Limit:        5,
		Threads:      3,
		SaveInterval: 10 * time.Millisecond,
		StopAfter:    300 * time.Millisecond,
		Log:          testLog,
	})
	require.NoError(t, err)
	return counts
}

func TestCollect(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "pt.db")
	counts := collect(t, path)

	require.Len(counts, 6)
	for _, c := range counts {
		require.GreaterOrEqual(c.Saved, uint64(5))
		require.GreaterOrEqual(c.Encountered, c.Saved)
	}

	// Collection resumes on an existing database.
	again := collect(t, path)
	require.Len(again, 6)
	for i := range again {
		require.Greater(again[i].Encountered, counts[i].Encountered)
	}
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	counts, err := Collect(ctx, &CollectOptions{
		Oracle:  newFake(),
		Path:    filepath.Join(t.TempDir(), "pt.db"),
		Threads: 1,
		Log:     testLog,
	})
	require.NoError(t, err)
	for _, c := range counts {
		require.LessOrEqual(t, c.Saved, uint64(DefaultLimit))
	}
}

func TestCollectReindex(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "pt.db")
	db, err := Open(path, "fake-rs", 10)
	require.NoError(err)
	require.NoError(db.Add(pt(2), 77))
	require.NoError(db.Close())

	counts, err := Collect(context.Background(), &CollectOptions{
		Oracle:  newFake(),
		Path:    path,
		Threads: 1,
		Reindex: true,
		Log:     testLog,
	})
	require.NoError(err)
	require.Nil(counts)

	db, err = Open(path, "fake-rs", 10)
	require.NoError(err)
	defer db.Close()
	rec, err := db.MinMax(true)
	require.NoError(err)
	require.Equal(uint32(2), rec.Iter)
}

func TestIterationTimings(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "pt.db")
	collect(t, path)

	out := filepath.Join(dir, "timings.csv.gz")
	err := IterationTimings(context.Background(), &TimingsOptions{
		Oracle:       newFake(),
		Source:       measure.Oracle,
		Path:         path,
		Include:      []uint32{1, 1002},
		Measurements: 12,
		Destination:  out,
		Log:          testLog,
	})
	require.NoError(err)

	f, err := os.Open(out)
	require.NoError(err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(err)
	rows, err := csv.NewReader(zr).ReadAll()
	require.NoError(err)

	require.Len(rows, 1+24)
	require.Equal(TimingsHeader, rows[0])
	require.Equal([]string{"fake-rs", "0", "1", "150"}, rows[1])
	require.Equal([]string{"fake-rs", "1", "2", "150"}, rows[24])
}

func TestIterationTimingsCancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pt.db")
	collect(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := IterationTimings(ctx, &TimingsOptions{
		Oracle:       newFake(),
		Source:       measure.Oracle,
		Path:         path,
		Measurements: 1,
		Destination:  filepath.Join(dir, "out.csv.gz"),
		Log:          testLog,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestVerify(t *testing.T) {
	require := require.New(t)
	out := filepath.Join(t.TempDir(), "verify.csv")
	lo, hi, err := Verify(&VerifyOptions{
		Oracle:     newFake(),
		Source:     measure.Oracle,
		Plaintexts: 200,
		Decaps:     10,
		Save:       out,
		Rand:       testRand(t),
		Log:        testLog,
	})
	require.NoError(err)
	require.Equal("fake-rs#min", lo.Name())
	require.Equal("fake-rs#max", hi.Name())
	require.Equal(10, lo.Len())
	require.Equal(10, hi.Len())

	f, err := os.Open(out)
	require.NoError(err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(err)
	require.Len(rows, 21)
	require.Equal(VerifyHeader, rows[0])
	require.Equal([]string{"fake-rs", "0", "150"}, rows[1])
	require.Equal([]string{"fake-rs", "1002", "150"}, rows[20])
}

func TestSimulate(t *testing.T) {
	require := require.New(t)
	res, err := Simulate(&VerifyOptions{
		Oracle:      newFake(),
		Source:      measure.Oracle,
		Plaintexts:  100,
		Decaps:      10,
		ErrorWeight: 1,
		Rand:        testRand(t),
		Log:         testLog,
	})
	require.NoError(err)
	require.Equal(uint64(measure.SyntheticBase+measure.SyntheticMemcmp1), res.Unmodified)
	require.Equal(uint64(measure.SyntheticBase), res.Modified)
	require.Equal(int64(measure.SyntheticMemcmp1), res.Diff())

	_, err = Simulate(&VerifyOptions{
		Oracle:      newFake(),
		Source:      measure.Oracle,
		Plaintexts:  1,
		ErrorWeight: 1000,
		Log:         testLog,
	})
	require.Error(err)
}

func TestFlipBits(t *testing.T) {
	ct := make([]byte, 16)
	out, err := flipBits(ct, 37, testRand(t))
	require.NoError(t, err)
	var weight int
	for _, b := range out {
		for ; b != 0; b &= b - 1 {
			weight++
		}
	}
	require.Equal(t, 37, weight)
	require.Equal(t, make([]byte, 16), ct)
}
