// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package search locates, by adaptive binary search over timing samples,
// the smallest modification of a ciphertext coefficient that changes the
// decapsulation's re-encryption comparison outcome.
package search

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/recorder"
)

// Sampler measures decapsulations of the ciphertext with amount added to
// the coordinate under attack, recording iterations samples into rec.
type Sampler interface {
	Sample(amount uint16, iterations int, rec *recorder.Recorder) error
}

// SamplerFunc adapts a function to a Sampler.
type SamplerFunc func(amount uint16, iterations int, rec *recorder.Recorder) error

// Sample calls f.
func (f SamplerFunc) Sample(amount uint16, iterations int, rec *recorder.Recorder) error {
	return f(amount, iterations, rec)
}

// Target identifies one coordinate search.
type Target struct {
	// Trial is the ciphertext number, used to name recorders.
	Trial int

	// Index is the coordinate of C being modified.
	Index int

	// Expected is the value the search should find, or -1 if unknown.
	Expected int64

	// MaxMod is the largest modification probed, twice the error
	// correction limit.
	MaxMod uint16
}

// Result is the outcome of a search.
type Result struct {
	// Value is the smallest modification classified as too high.
	Value uint16
	Found bool

	Probes             int
	ConfirmationProbes int
	Retries            int
	Attempts           int
}

// Searcher runs searches, adding every probe recorder to a sink that is
// saved after each probe.
type Searcher struct {
	params *Params
	sink   *recorder.Sink
	log    *logging.Logger
}

// New returns a Searcher.  sink may be nil.
func New(params *Params, sink *recorder.Sink, log *logging.Logger) (*Searcher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = recorder.NewSink("")
	}
	return &Searcher{
		params: params,
		sink:   sink,
		log:    log,
	}, nil
}

// Sink returns the recorder sink.
func (s *Searcher) Sink() *recorder.Sink {
	return s.sink
}

// SearchModification runs the profile and binary search phases for t with
// samples at or above cutoff dropped.
func (s *Searcher) SearchModification(ctx context.Context, sampler Sampler, t Target, cutoff uint64) (*Result, error) {
	if t.MaxMod < 2 {
		return nil, fmt.Errorf("%w: MaxMod %d too small", ErrInternal, t.MaxMod)
	}
	st := newState(s.params, s.log, t.Index, t.MaxMod)
	res := new(Result)

	var (
		rec     *recorder.Recorder
		probe   uint16
		retries int
	)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if retries == 0 {
			probe = st.calcProbe()
			res.Probes++
			if st.confirming {
				res.ConfirmationProbes++
			}
		}
		if rec == nil {
			rec = recorder.WithCutoff(recorder.SearchName(t.Trial, t.Index, t.Expected, probe), cutoff)
			s.sink.Add(rec)
		}

		iterations := st.iterations()
		s.log.Debugf("C[%d] => Testing adding %d with %d iterations", t.Index, probe, iterations)
		if err := sampler.Sample(probe, iterations, rec); err != nil {
			return res, err
		}

		percentage, err := st.percentage(rec)
		if serr := s.sink.Save(); serr != nil {
			return res, serr
		}
		var (
			value uint16
			done  bool
		)
		if err == nil {
			s.log.Debugf("percentage measurement is %v", percentage)
			value, done, err = st.update(percentage, probe)
		}

		switch {
		case err == nil && done:
			res.Value = value
			res.Found = true
			return res, nil
		case err == nil:
			retries = 0
			rec = nil
		case errors.Is(err, ErrRetryMod):
			s.log.Warningf("C[%d] => %v", t.Index, err)
			retries++
			res.Retries++
			switch {
			case retries >= s.params.MaxModRetries:
				return res, fmt.Errorf("%w: too many retries for modification %d", ErrRetryIndex, probe)
			case retries == s.params.MaxModRetries/2:
				s.log.Warningf("Discarding data for this modification, trying again!")
				rec = nil
			default:
				s.log.Warningf("Adding more measurements of the same modification!")
			}
		default:
			return res, err
		}
	}
}

// Crack runs up to MaxBinarySearchAttempts complete searches for t, each
// preceded by a warm-up at amount 0 that fixes the outlier cutoff.  A
// coordinate whose attempts are exhausted is reported with Found unset and
// no error.  Errors other than retries abort.
func (s *Searcher) Crack(ctx context.Context, sampler Sampler, t Target) (*Result, error) {
	total := new(Result)
	for attempt := 1; ; attempt++ {
		total.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return total, err
		}

		s.log.Infof("Starting %d warmup iterations without modifications in order to detect a good cutoff value", s.params.WarmupIterations)
		warm := recorder.New(recorder.WarmupName(t.Trial, t.Index), nil)
		if err := sampler.Sample(0, s.params.WarmupIterations, warm); err != nil {
			return total, err
		}
		cutoff, err := recorder.CutoffFromWarmup(warm)
		if err != nil {
			return total, fmt.Errorf("search: warmup: %w", err)
		}
		fastest, _ := warm.Min()
		s.log.Infof("using %d as the cutoff value to remove outliers (minimum warmup latency: %d)", cutoff, fastest)

		s.log.Infof("Starting binary search %d/%d for C[%d], expect to find x0 = %d", attempt, s.params.MaxBinarySearchAttempts, t.Index, t.Expected)
		res, err := s.SearchModification(ctx, sampler, t, cutoff)
		if res != nil {
			total.Probes += res.Probes
			total.ConfirmationProbes += res.ConfirmationProbes
			total.Retries += res.Retries
		}
		switch {
		case err == nil:
			total.Value = res.Value
			total.Found = true
			return total, nil
		case errors.Is(err, ErrRetryIndex):
			if attempt >= s.params.MaxBinarySearchAttempts {
				s.log.Errorf("C[%d] => Max number of attempts (%d) reached: %v", t.Index, attempt, err)
				return total, nil
			}
			s.log.Warningf("Retrying the search since we didn't get any results: %v", err)
		default:
			return total, err
		}
	}
}
