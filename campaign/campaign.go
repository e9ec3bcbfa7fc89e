// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package campaign drives measurement campaigns against a decapsulation
// oracle: coordinate recovery, baselines and profiling.
package campaign

import (
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/internal/instrument"
	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/measure"
	"github.com/katzenpost/kemtiming/modifier"
	"github.com/katzenpost/kemtiming/recorder"
	"github.com/katzenpost/kemtiming/search"
)

// Options configure a campaign.
type Options struct {
	Oracle  kem.Oracle
	Source  measure.Source
	Prepper measure.Prepper

	// Search carries the iteration counts and search tunables.  The
	// baselines use WarmupIterations and Iterations only.
	Search *search.Params

	// Encaps is the number of ciphertexts attacked, or sampled per key.
	Encaps int

	// Keys is the number of key pairs used by the interleaved baselines.
	Keys int

	// Coordinate is the coefficient of C the baselines and the profile
	// modify.  Negative selects the last one.
	Coordinate int

	// Interleaved selects interleaved measurement in FOBaseline.
	Interleaved bool

	// Output is the CSV file written after every batch, or empty.
	Output string

	Log *logging.Logger
}

func (o *Options) validate() error {
	switch {
	case o.Oracle == nil:
		return fmt.Errorf("campaign: no oracle")
	case o.Log == nil:
		return fmt.Errorf("campaign: no logger")
	case o.Search == nil:
		return fmt.Errorf("campaign: no search parameters")
	}
	return o.Search.Validate()
}

func (o *Options) encaps() int {
	return max(o.Encaps, 1)
}

func (o *Options) keys() int {
	return max(o.Keys, 1)
}

func (o *Options) coordinate(codec kem.Codec) int {
	if o.Coordinate < 0 {
		return codec.NBar()*codec.NBar() - 1
	}
	return o.Coordinate
}

// session is a prepared measurement thread.
type session struct {
	opts  *Options
	unit  *measure.Unit
	codec kem.Codec
	log   *logging.Logger
}

func newSession(opts *Options, prepper measure.Prepper, needCodec bool) (*session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := &session{
		opts: opts,
		log:  opts.Log,
	}
	if needCodec {
		codec, ok := opts.Oracle.(kem.Codec)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no ciphertext codec", kem.ErrUnsupported, opts.Oracle.Descriptor().Name)
		}
		s.codec = codec
	}
	unit, err := measure.NewUnit(opts.Oracle, opts.Source, prepper, opts.Log)
	if err != nil {
		return nil, err
	}
	if err := unit.PrepThread(); err != nil {
		return nil, err
	}
	s.unit = unit
	return s, nil
}

func (s *session) maxMod() uint16 {
	return modifier.MaxModification(s.codec)
}

func (s *session) modified(index int) *measure.Modified {
	return &measure.Modified{
		Unit:  s.unit,
		Codec: s.codec,
		Index: index,
	}
}

// modMeasure is ModMeasure with the sample accounting exported.
func (s *session) modMeasure(index int, amount uint16, iterations int, rec *recorder.Recorder, ct, sk []byte) error {
	stats, err := s.modified(index).ModMeasure(modifier.Plus(amount), iterations, rec, ct, sk)
	account(stats)
	return err
}

// sampler adapts the modification of index in ct to search.Sampler.
func (s *session) sampler(index int, ct, sk []byte) search.Sampler {
	return search.SamplerFunc(func(amount uint16, iterations int, rec *recorder.Recorder) error {
		return s.modMeasure(index, amount, iterations, rec, ct, sk)
	})
}

func account(stats measure.Stats) {
	instrument.Samples("recorded", stats.Recorded)
	instrument.Samples("discarded", stats.Discarded-stats.OracleFailures)
	instrument.Samples("oracle_failure", stats.OracleFailures)
}

func summarize(log *logging.Logger, label string, rec *recorder.Recorder) {
	fastest, err := rec.Min()
	if err != nil {
		log.Warningf("(%s) no samples", label)
		return
	}
	mean, err := rec.Mean()
	if err != nil {
		log.Warningf("(%s) no samples below the cutoff, minimum %d", label, fastest)
		return
	}
	median, _ := rec.Median()
	log.Infof("(%s) %d samples, min %d, median %d, mean %d", label, rec.Len(), fastest, median, mean)
}

func save(log *logging.Logger, sink *recorder.Sink) error {
	if sink.Path() == "" {
		return nil
	}
	log.Debugf("Saving measurements to file %s", sink.Path())
	return sink.Save()
}
