// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package campaign

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/internal/oracletest"
	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/measure"
	"github.com/katzenpost/kemtiming/recorder"
	"github.com/katzenpost/kemtiming/search"
)

const lastIndex = 63

var testLog = logging.MustGetLogger("campaign_test")

func testOptions(t *testing.T, o kem.Oracle) *Options {
	return &Options{
		Oracle:     o,
		Source:     measure.Oracle,
		Prepper:    measure.NoCache,
		Search:     search.DefaultParams(10, 10, 10),
		Encaps:     1,
		Keys:       1,
		Coordinate: -1,
		Output:     filepath.Join(t.TempDir(), "out.csv"),
		Log:        testLog,
	}
}

func mean(t *testing.T, r *recorder.Recorder) uint64 {
	m, err := r.Mean()
	require.NoError(t, err)
	return m
}

func TestCrackS(t *testing.T) {
	o := oracletest.New(56, 37)
	for j := 1; j < 7; j++ {
		o.Thresholds[56+j] = uint16(37 + 700*j)
	}
	opts := testOptions(t, o)

	report, err := CrackS(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 8, report.Coordinates)
	require.Equal(t, 7, report.Successes)
	require.Zero(t, report.Failures)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, uint16(37), report.Values[56])
	require.Equal(t, uint16(37+700*6), report.Values[62])
	require.NotContains(t, report.Values, lastIndex)
	require.InDelta(t, 87.5, report.SuccessRate(), 1e-9)

	recs, err := recorder.LoadCSV(opts.Output)
	require.NoError(t, err)
	require.Len(t, recs, report.Probes)
	require.Equal(t, recorder.SearchName(0, 56, 37, 1), recs[0].Name())
}

func TestCrackSCancelled(t *testing.T) {
	opts := testOptions(t, oracletest.New(56, 37))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := CrackS(ctx, opts)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, report.Coordinates)
}

type plainOracle struct {
	kem.Oracle
}

func TestCrackSNeedsCodec(t *testing.T) {
	opts := testOptions(t, plainOracle{oracletest.New(56, 37)})
	opts.Source = measure.External
	_, err := CrackS(context.Background(), opts)
	require.ErrorIs(t, err, kem.ErrUnsupported)
}

func TestMemcmpBaseline(t *testing.T) {
	opts := testOptions(t, oracletest.New(56, 37))
	recs, err := MemcmpBaseline(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	require.Equal(t, "NOOP", recs[0].Name())
	require.Equal(t, uint64(250), mean(t, recs[0]))
	require.Equal(t, uint64(250), mean(t, recs[1]))
	require.Equal(t, uint64(100), mean(t, recs[2]))

	saved, err := recorder.LoadCSV(opts.Output)
	require.NoError(t, err)
	require.Len(t, saved, 4)
}

func TestFOBaseline(t *testing.T) {
	opts := testOptions(t, oracletest.New(lastIndex, 37))
	recs, err := FOBaseline(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "0-NOMOD", recs[0].Name())
	require.Equal(t, "0-MINOR[63]", recs[1].Name())
	require.Equal(t, "0-MAJOR[63]", recs[2].Name())
	require.Equal(t, uint64(250), mean(t, recs[0]))
	require.Equal(t, uint64(150), mean(t, recs[1]))
	require.Equal(t, uint64(100), mean(t, recs[2]))
}

func TestFOBaselineInterleaved(t *testing.T) {
	opts := testOptions(t, oracletest.New(lastIndex, 37))
	opts.Interleaved = true
	opts.Keys = 2
	opts.Encaps = 2
	recs, err := FOBaseline(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, recs, 8)
	require.Equal(t, "1-1-MINOR", recs[0].Name())
	require.Equal(t, "2-2-MAJOR", recs[7].Name())
	for i, r := range recs {
		want := uint64(150)
		if i%2 == 1 {
			want = 100
		}
		require.Equal(t, want, mean(t, r), r.Name())
	}
}

func TestProfile(t *testing.T) {
	opts := testOptions(t, oracletest.New(lastIndex, 37))
	res, err := Profile(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, uint64(250), res.Cutoff)
	require.Equal(t, uint64(150), res.Low)
	require.Equal(t, uint64(100), res.High)
	require.Equal(t, uint64(125), res.Threshold)
	require.Len(t, res.Recorders, 3)

	opts = testOptions(t, oracletest.New(lastIndex, 1))
	_, err = Profile(context.Background(), opts)
	require.ErrorIs(t, err, ErrProfile)
}

func TestMultipoint(t *testing.T) {
	o := oracletest.New(lastIndex, 37)
	o.Timing = func(delta uint16) uint64 { return 1000 + uint64(delta) }
	opts := &MultipointOptions{Options: *testOptions(t, o)}
	opts.Encaps = 2
	recs, err := Multipoint(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, recs, 12)
	require.Equal(t, "1-1-all-MINOR", recs[0].Name())
	require.Equal(t, "1-1-point0-MINOR", recs[1].Name())
	require.Equal(t, "1-1-all-MAJOR", recs[3].Name())
	require.Equal(t, uint64(1001), mean(t, recs[0]))
	require.Equal(t, uint64(500), mean(t, recs[1]))
}
