// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package campaign

import (
	"context"
	"fmt"

	"github.com/katzenpost/kemtiming/measure"
	"github.com/katzenpost/kemtiming/recorder"
)

// Flip selects the bytes of a fresh ciphertext inverted by MemcmpBaseline.
type Flip int

const (
	// FlipNone leaves the ciphertext alone.
	FlipNone Flip = iota

	// FlipStart inverts the first byte.
	FlipStart

	// FlipEnd inverts the last byte.
	FlipEnd

	// FlipUniform inverts every 100th byte.
	FlipUniform
)

var flipNames = [...]string{"NOOP", "START", "END", "UNIF"}

func (f Flip) String() string {
	return flipNames[f]
}

func (f Flip) apply(ct []byte) {
	switch f {
	case FlipStart:
		ct[0] ^= 0xff
	case FlipEnd:
		ct[len(ct)-1] ^= 0xff
	case FlipUniform:
		for i := 0; i < len(ct); i += 100 {
			ct[i] ^= 0xff
		}
	}
}

// MemcmpBaseline measures decapsulations of fresh ciphertexts, unmodified
// and with bytes flipped at the start, the end and uniformly, one series
// per flip.  It works with any oracle.
func MemcmpBaseline(ctx context.Context, opts *Options) ([]*recorder.Recorder, error) {
	s, err := newSession(opts, opts.Prepper, false)
	if err != nil {
		return nil, err
	}
	log := s.log
	log.Noticef("Launching the baseline routine against %s.", opts.Oracle.Descriptor().Name)
	pk, sk, err := opts.Oracle.Keypair()
	if err != nil {
		return nil, err
	}

	iterate := func(flip Flip, rec *recorder.Recorder) error {
		ct, _, err := opts.Oracle.Encaps(pk)
		if err != nil {
			return err
		}
		flip.apply(ct)
		v, ok, err := s.unit.Measure(ct, sk)
		if err != nil {
			return err
		}
		if ok && rec != nil {
			rec.Record(v)
		}
		return nil
	}

	log.Infof("Warming up with %d encap/decap iterations", opts.Search.WarmupIterations)
	for i := 0; i < opts.Search.WarmupIterations; i++ {
		if err := iterate(FlipNone, nil); err != nil {
			return nil, err
		}
	}

	sink := recorder.NewSink(opts.Output)
	for _, flip := range []Flip{FlipNone, FlipStart, FlipEnd, FlipUniform} {
		if err := ctx.Err(); err != nil {
			return sink.Recorders(), err
		}
		log.Infof("(%s) Sampling %d encap/decap iterations using %q as source of measurement.", flip, opts.Search.Iterations, s.unit.Source())
		rec := recorder.New(flip.String(), nil)
		for i := 0; i < opts.Search.Iterations; i++ {
			if err := iterate(flip, rec); err != nil {
				return sink.Recorders(), err
			}
		}
		sink.Add(rec)
		summarize(log, flip.String(), rec)
	}
	if err := save(log, sink); err != nil {
		return sink.Recorders(), err
	}
	log.Notice("Finished!")
	return sink.Recorders(), nil
}

// FOBaseline measures a ciphertext unmodified, with its target coordinate
// raised by one and by the maximum modification.  In interleaved mode the
// minor and major modifications are measured round robin for Keys key pairs
// and Encaps ciphertexts each, without cache preparation.
func FOBaseline(ctx context.Context, opts *Options) ([]*recorder.Recorder, error) {
	if opts.Interleaved {
		return foBaselineInterleaved(ctx, opts)
	}
	s, err := newSession(opts, opts.Prepper, true)
	if err != nil {
		return nil, err
	}
	log := s.log
	maxmod := s.maxMod()
	index := opts.coordinate(s.codec)
	log.Noticef("Launching the baseline routine against %s with maximum modification: %d.", opts.Oracle.Descriptor().Name, maxmod)

	pk, sk, err := opts.Oracle.Keypair()
	if err != nil {
		return nil, err
	}
	ct, _, err := opts.Oracle.Encaps(pk)
	if err != nil {
		return nil, err
	}
	warm := recorder.New("warmup", nil)
	log.Infof("Warming up with %d decaps", opts.Search.WarmupIterations)
	if err := s.modMeasure(0, maxmod, opts.Search.WarmupIterations, warm, ct, sk); err != nil {
		return nil, err
	}
	summarize(log, "WARMUP", warm)

	sink := recorder.NewSink(opts.Output)
	n := opts.Search.Iterations
	for t := 0; t < opts.encaps(); t++ {
		if err := ctx.Err(); err != nil {
			return sink.Recorders(), err
		}
		if ct, _, err = opts.Oracle.Encaps(pk); err != nil {
			return sink.Recorders(), err
		}
		for _, m := range []struct {
			label  string
			index  int
			amount uint16
		}{
			{fmt.Sprintf("%d-NOMOD", t), 0, 0},
			{fmt.Sprintf("%d-MINOR[%d]", t, index), index, 1},
			{fmt.Sprintf("%d-MAJOR[%d]", t, index), index, maxmod},
		} {
			log.Infof("(%s) Sampling %d decaps, modifying C[%d] by adding %d.", m.label, n, m.index, m.amount)
			rec := recorder.New(m.label, nil)
			if err := s.modMeasure(m.index, m.amount, n, rec, ct, sk); err != nil {
				return sink.Recorders(), err
			}
			summarize(log, m.label, rec)
			sink.Add(rec)
		}
		if err := save(log, sink); err != nil {
			return sink.Recorders(), err
		}
	}
	log.Notice("Finished!")
	return sink.Recorders(), nil
}

func foBaselineInterleaved(ctx context.Context, opts *Options) ([]*recorder.Recorder, error) {
	s, err := newSession(opts, measure.NoCache, true)
	if err != nil {
		return nil, err
	}
	log := s.log
	maxmod := s.maxMod()
	index := opts.coordinate(s.codec)
	log.Noticef("Launching the cache timing baseline routine against %s with maximum modification: %d.", opts.Oracle.Descriptor().Name, maxmod)

	sink := recorder.NewSink(opts.Output)
	for key := 1; key <= opts.keys(); key++ {
		log.Info("Generating keypair")
		pk, sk, err := opts.Oracle.Keypair()
		if err != nil {
			return sink.Recorders(), err
		}
		ct, _, err := opts.Oracle.Encaps(pk)
		if err != nil {
			return sink.Recorders(), err
		}
		log.Infof("Warming up with %d decaps", opts.Search.WarmupIterations)
		if err := s.modMeasure(0, maxmod, opts.Search.WarmupIterations, recorder.New("warmup", nil), ct, sk); err != nil {
			return sink.Recorders(), err
		}

		for t := 1; t <= opts.encaps(); t++ {
			if err := ctx.Err(); err != nil {
				return sink.Recorders(), err
			}
			if ct, _, err = opts.Oracle.Encaps(pk); err != nil {
				return sink.Recorders(), err
			}
			recs := []*recorder.Recorder{
				recorder.New(fmt.Sprintf("%d-%d-MINOR", key, t), nil),
				recorder.New(fmt.Sprintf("%d-%d-MAJOR", key, t), nil),
			}
			log.Infof("Sampling %d decaps with minor and major modifications, round robin, using %q as source of measurement.", opts.Search.Iterations, s.unit.Source())
			stats, err := s.modified(index).Interleaved([]uint16{1, maxmod}, opts.Search.Iterations, recs, ct, sk)
			account(stats)
			if err != nil {
				return sink.Recorders(), err
			}
			summarize(log, "MINOR", recs[0])
			summarize(log, "MAJOR", recs[1])
			for _, r := range recs {
				sink.Add(r)
			}
			if err := save(log, sink); err != nil {
				return sink.Recorders(), err
			}
		}
	}
	log.Notice("Finished!")
	return sink.Recorders(), nil
}
