// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package measure

import (
	"errors"
	"fmt"

	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/modifier"
	"github.com/katzenpost/kemtiming/recorder"
)

// Stats summarises one measurement batch.
type Stats struct {
	Attempts       int
	Recorded       int
	Discarded      int
	OracleFailures int

	// LowQuality is set when fewer than a quarter of the attempts were
	// recorded.
	LowQuality bool
}

// Dropout is the fraction of attempts that produced no recorded sample.
func (s Stats) Dropout() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return 1 - float64(s.Recorded)/float64(s.Attempts)
}

func (s *Stats) add(o Stats) {
	s.Attempts += o.Attempts
	s.Recorded += o.Recorded
	s.Discarded += o.Discarded
	s.OracleFailures += o.OracleFailures
	s.LowQuality = s.LowQuality || o.LowQuality
}

// Modified measures a ciphertext with one coefficient perturbed.
type Modified struct {
	Unit  *Unit
	Codec kem.Codec
	Index int
}

// ModMeasure applies s to ct at the configured index, records iterations
// decapsulation timings into rec, and restores ct.  Samples above rec's
// cutoff count as attempts but are not kept.  Oracle failures abort only the
// affected sample.  The batch is flagged LowQuality when fewer than a quarter
// of its attempts were recorded; samples already in rec do not count.
func (m *Modified) ModMeasure(s modifier.Sign, iterations int, rec *recorder.Recorder, ct, sk []byte) (stats Stats, err error) {
	if err := modifier.Modify(m.Codec, ct, m.Index, s); err != nil {
		return stats, err
	}
	defer func() {
		if rerr := modifier.Modify(m.Codec, ct, m.Index, s.Invert()); rerr != nil && err == nil {
			err = rerr
		}
	}()

	stats, err = m.Unit.measureInto(iterations, rec, ct, sk)
	if err != nil {
		return stats, err
	}
	if stats.Recorded < iterations/4 {
		stats.LowQuality = true
		m.Unit.log.Warningf("%s: only %d of %d measurements kept, cutoff too low?", rec.Name(), stats.Recorded, iterations)
	}
	return stats, nil
}

// measureInto records iterations samples of ct into rec.
func (u *Unit) measureInto(iterations int, rec *recorder.Recorder, ct, sk []byte) (Stats, error) {
	var stats Stats
	for i := 0; i < iterations; i++ {
		stats.Attempts++
		before := rec.Len()
		ok, err := u.sample(rec, ct, sk)
		if err != nil {
			if errors.Is(err, kem.ErrOracle) {
				stats.OracleFailures++
				stats.Discarded++
				continue
			}
			return stats, err
		}
		switch {
		case !ok:
			stats.Discarded++
		case rec.Len() > before:
			stats.Recorded++
		default:
			stats.Discarded++
		}
	}
	return stats, nil
}

func (u *Unit) sample(rec *recorder.Recorder, ct, sk []byte) (bool, error) {
	v, ok, err := u.Measure(ct, sk)
	if err != nil || !ok {
		return false, err
	}
	rec.Record(v)
	return true, nil
}

// Interleaved measures every amount in turn, iterations times each.  Every
// modified sample is preceded by two unmodified decapsulations so that each
// measurement starts from the same cache state.  recs[i] receives the
// samples of amounts[i].  The unit's prepper is expected to be NoCache.
func (m *Modified) Interleaved(amounts []uint16, iterations int, recs []*recorder.Recorder, ct, sk []byte) (Stats, error) {
	if len(amounts) != len(recs) {
		return Stats{}, fmt.Errorf("measure: %d amounts but %d recorders", len(amounts), len(recs))
	}
	var total Stats
	for i := 0; i < iterations*len(amounts); i++ {
		j := i % len(amounts)
		for k := 0; k < 2; k++ {
			if _, _, err := m.Unit.Measure(ct, sk); err != nil && !errors.Is(err, kem.ErrOracle) {
				return total, err
			}
		}
		s := modifier.Plus(amounts[j])
		if err := modifier.Modify(m.Codec, ct, m.Index, s); err != nil {
			return total, err
		}
		stats, err := m.Unit.measureInto(1, recs[j], ct, sk)
		if rerr := modifier.Modify(m.Codec, ct, m.Index, s.Invert()); rerr != nil && err == nil {
			err = rerr
		}
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Multipoint is Interleaved for instrumented decapsulations.  recs[i]
// belongs to amounts[i]: recs[i][0] receives the total timing and
// recs[i][j+1] checkpoint stamp j.  Stamps beyond the supplied recorders are
// ignored.
func (m *Modified) Multipoint(amounts []uint16, iterations int, recs [][]*recorder.Recorder, ct, sk []byte) (Stats, error) {
	if len(amounts) != len(recs) {
		return Stats{}, fmt.Errorf("measure: %d amounts but %d recorder sets", len(amounts), len(recs))
	}
	for _, r := range recs {
		if len(r) == 0 {
			return Stats{}, fmt.Errorf("measure: empty recorder set")
		}
	}
	var stats Stats
	for i := 0; i < iterations*len(amounts); i++ {
		j := i % len(amounts)
		for k := 0; k < 2; k++ {
			if _, err := m.Unit.MeasureCheckpoints(ct, sk); err != nil && !errors.Is(err, kem.ErrOracle) {
				return stats, err
			}
		}
		s := modifier.Plus(amounts[j])
		if err := modifier.Modify(m.Codec, ct, m.Index, s); err != nil {
			return stats, err
		}
		stats.Attempts++
		cp, err := m.Unit.MeasureCheckpoints(ct, sk)
		if rerr := modifier.Modify(m.Codec, ct, m.Index, s.Invert()); rerr != nil {
			return stats, rerr
		}
		switch {
		case errors.Is(err, kem.ErrOracle):
			stats.OracleFailures++
			stats.Discarded++
			continue
		case err != nil:
			return stats, err
		case cp.Timing == nil:
			stats.Discarded++
			continue
		}
		stats.Recorded++
		recs[j][0].Record(*cp.Timing)
		for k, p := range cp.Points {
			if k+1 < len(recs[j]) {
				recs[j][k+1].Record(p)
			}
		}
	}
	return stats, nil
}
