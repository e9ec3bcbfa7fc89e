// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package measure

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/internal/oracletest"
	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/kem/frodo"
	"github.com/katzenpost/kemtiming/modifier"
	"github.com/katzenpost/kemtiming/recorder"
)

const testIndex = (frodo.NBar-1)*frodo.NBar + 2

func testLog() *logging.Logger {
	return logging.MustGetLogger("measure_test")
}

func setup(t *testing.T, x uint16, source Source) (*oracletest.Threshold, *Modified, []byte, []byte) {
	o := oracletest.New(testIndex, x)
	o.Timing = func(delta uint16) uint64 { return 1000 + uint64(delta) }
	u, err := NewUnit(o, source, NoCache, testLog())
	require.NoError(t, err)
	pk, sk, err := o.Keypair()
	require.NoError(t, err)
	ct, _, err := o.Encaps(pk)
	require.NoError(t, err)
	return o, &Modified{Unit: u, Codec: o, Index: testIndex}, ct, sk
}

func TestParse(t *testing.T) {
	for _, s := range []Source{External, Internal, Oracle} {
		got, err := ParseSource(s.String())
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
	_, err := ParseSource("wallclock")
	require.Error(t, err)

	for _, p := range []Prepper{NoCache, DecapsCache, FlushCache} {
		got, err := ParsePrepper(p.String())
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
	_, err = ParsePrepper("bogus")
	require.Error(t, err)
}

func TestSynthetic(t *testing.T) {
	yes, no := true, false

	_, ok := Synthetic(kem.Checkpoints{})
	require.False(t, ok)

	v, ok := Synthetic(kem.Checkpoints{Memcmp1: &no})
	require.True(t, ok)
	require.Equal(t, uint64(100), v)

	v, _ = Synthetic(kem.Checkpoints{Memcmp1: &yes, Memcmp2: &no})
	require.Equal(t, uint64(150), v)

	v, _ = Synthetic(kem.Checkpoints{Memcmp1: &yes, Memcmp2: &yes})
	require.Equal(t, uint64(250), v)
}

// plainOracle hides the instrumentation of the wrapped oracle.
type plainOracle struct {
	kem.Oracle
}

func TestNewUnitNeedsInstrumentation(t *testing.T) {
	o := plainOracle{oracletest.New(testIndex, 37)}
	_, err := NewUnit(o, Internal, NoCache, testLog())
	require.ErrorIs(t, err, ErrSetup)
	_, err = NewUnit(o, Oracle, NoCache, testLog())
	require.ErrorIs(t, err, ErrSetup)
	u, err := NewUnit(o, External, NoCache, testLog())
	require.NoError(t, err)
	_, err = u.MeasureCheckpoints(nil, nil)
	require.ErrorIs(t, err, ErrSetup)
}

func TestOracleSourceLatencies(t *testing.T) {
	_, m, ct, sk := setup(t, 37, Oracle)
	orig := append([]byte{}, ct...)

	for _, tc := range []struct {
		amount uint16
		want   uint64
	}{
		{0, 250},
		{1, 150},
		{36, 150},
		{37, 100},
		{8192, 100},
	} {
		rec := recorder.New("t", nil)
		stats, err := m.ModMeasure(modifier.Plus(tc.amount), 5, rec, ct, sk)
		require.NoError(t, err)
		require.Equal(t, 5, stats.Recorded)
		require.Equal(t, 5, rec.Len())
		mean, err := rec.Mean()
		require.NoError(t, err)
		require.Equal(t, tc.want, mean, "amount %d", tc.amount)
		require.Equal(t, orig, ct)
	}
}

func TestInternalSourceUsesTiming(t *testing.T) {
	_, m, ct, sk := setup(t, 37, Internal)
	rec := recorder.New("t", nil)
	_, err := m.ModMeasure(modifier.Plus(10), 3, rec, ct, sk)
	require.NoError(t, err)
	min, err := rec.Min()
	require.NoError(t, err)
	require.Equal(t, uint64(1010), min)
}

func TestCutoffCountsAsDiscarded(t *testing.T) {
	_, m, ct, sk := setup(t, 37, Oracle)
	rec := recorder.WithCutoff("t", 200)
	stats, err := m.ModMeasure(modifier.Plus(0), 8, rec, ct, sk)
	require.NoError(t, err)
	require.Equal(t, 8, stats.Attempts)
	require.Equal(t, 0, stats.Recorded)
	require.Equal(t, 8, stats.Discarded)
	require.Equal(t, 1.0, stats.Dropout())
	require.True(t, stats.LowQuality)
}

// migratingCounter is a counter whose stop read lands on another core for
// every sample where migrate returns true.
type migratingCounter struct {
	reads   int
	migrate func(sample int) bool
}

func (c *migratingCounter) read() (uint64, uint32) {
	n := c.reads
	c.reads++
	if n%2 == 1 && c.migrate(n/2) {
		return uint64(n) * 10, 1
	}
	return uint64(n) * 10, 0
}

func TestCoreMigrationDropout(t *testing.T) {
	for _, tc := range []struct {
		name       string
		migrated   int // out of every 20 samples
		lowQuality bool
	}{
		{"quiet", 4, false},
		{"mostly migrated", 19, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, m, ct, sk := setup(t, 37, External)
			migrated := tc.migrated
			c := &migratingCounter{migrate: func(sample int) bool { return sample%20 < migrated }}
			m.Unit.readCounter = c.read

			rec := recorder.New("t", nil)
			stats, err := m.ModMeasure(modifier.Plus(1), 1000, rec, ct, sk)
			require.NoError(t, err)
			require.Equal(t, 1000, stats.Attempts)
			require.Equal(t, 1000-50*migrated, stats.Recorded)
			require.Equal(t, uint64(50*migrated), m.Unit.Migrations())
			require.InDelta(t, float64(migrated)/20, stats.Dropout(), 1e-9)
			require.Equal(t, tc.lowQuality, stats.LowQuality)
			require.Equal(t, stats.Recorded, rec.Len())
		})
	}
}

func TestLowQualityIgnoresEarlierSamples(t *testing.T) {
	_, m, ct, sk := setup(t, 37, External)
	rec := recorder.New("t", nil)
	stats, err := m.ModMeasure(modifier.Plus(1), 100, rec, ct, sk)
	require.NoError(t, err)
	require.False(t, stats.LowQuality)
	require.Equal(t, 100, rec.Len())

	c := &migratingCounter{migrate: func(int) bool { return true }}
	m.Unit.readCounter = c.read
	stats, err = m.ModMeasure(modifier.Plus(1), 100, rec, ct, sk)
	require.NoError(t, err)
	require.Zero(t, stats.Recorded)
	require.True(t, stats.LowQuality)
	require.Equal(t, 100, rec.Len())
}

func TestOracleFailuresAreDropout(t *testing.T) {
	for _, tc := range []struct {
		every int
		want  float64
	}{
		{5, 0.2},
		{1, 1.0},
	} {
		o, m, ct, sk := setup(t, 37, Oracle)
		every := tc.every
		o.Fail = func(call int) bool { return call%every == 0 }
		rec := recorder.New("t", nil)
		stats, err := m.ModMeasure(modifier.Plus(1), 100, rec, ct, sk)
		require.NoError(t, err)
		require.Equal(t, 100, stats.Attempts)
		require.InDelta(t, tc.want, stats.Dropout(), 1e-9)
		require.Equal(t, stats.OracleFailures, stats.Discarded)
	}
}

func TestMalformedInputIsFatal(t *testing.T) {
	_, m, ct, sk := setup(t, 37, Oracle)
	_, err := m.ModMeasure(modifier.Plus(1), 1, recorder.New("t", nil), ct, sk[1:])
	require.ErrorIs(t, err, kem.ErrBufferSize)
}

func TestInterleaved(t *testing.T) {
	o, m, ct, sk := setup(t, 37, Oracle)
	orig := append([]byte{}, ct...)
	amounts := []uint16{0, 10, 100}
	recs := []*recorder.Recorder{
		recorder.New("0", nil),
		recorder.New("10", nil),
		recorder.New("100", nil),
	}
	stats, err := m.Interleaved(amounts, 4, recs, ct, sk)
	require.NoError(t, err)
	require.Equal(t, 12, stats.Attempts)
	require.Equal(t, 36, o.Calls())
	require.Equal(t, orig, ct)

	want := []uint64{250, 150, 100}
	for i, r := range recs {
		require.Equal(t, 4, r.Len())
		mean, err := r.Mean()
		require.NoError(t, err)
		require.Equal(t, want[i], mean)
	}

	_, err = m.Interleaved(amounts, 1, recs[:1], ct, sk)
	require.Error(t, err)
}

func TestMultipoint(t *testing.T) {
	o, m, ct, sk := setup(t, 37, Internal)
	orig := append([]byte{}, ct...)
	recs := [][]*recorder.Recorder{
		{recorder.New("all-MINOR", nil), recorder.New("p0-MINOR", nil), recorder.New("p1-MINOR", nil)},
		{recorder.New("all-MAJOR", nil)},
	}
	stats, err := m.Multipoint([]uint16{20, 100}, 3, recs, ct, sk)
	require.NoError(t, err)
	require.Equal(t, 6, stats.Recorded)
	require.Equal(t, 18, o.Calls())
	require.Equal(t, orig, ct)

	mean, _ := recs[0][0].Mean()
	require.Equal(t, uint64(1020), mean)
	mean, _ = recs[0][1].Mean()
	require.Equal(t, uint64(510), mean)
	mean, _ = recs[0][2].Mean()
	require.Equal(t, uint64(1020), mean)
	mean, _ = recs[1][0].Mean()
	require.Equal(t, uint64(1100), mean)

	_, err = m.Multipoint([]uint16{1}, 1, [][]*recorder.Recorder{{}}, ct, sk)
	require.Error(t, err)
}

func TestExternalSource(t *testing.T) {
	_, m, ct, sk := setup(t, 37, External)
	for _, p := range []Prepper{NoCache, DecapsCache, FlushCache} {
		m.Unit.prepper = p
		rec := recorder.New("t", nil)
		stats, err := m.ModMeasure(modifier.Plus(1), 20, rec, ct, sk)
		require.NoError(t, err)
		require.Equal(t, 20, stats.Attempts)
		require.Equal(t, stats.Attempts, stats.Recorded+stats.Discarded)
		require.Equal(t, stats.Recorded, rec.Len())
	}
}
