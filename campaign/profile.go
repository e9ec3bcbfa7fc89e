// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package campaign

import (
	"context"
	"errors"
	"fmt"

	"github.com/katzenpost/kemtiming/recorder"
)

const (
	thresholdWarnLow  = 1000
	thresholdWarnHigh = 10000

	// profileHighMargin keeps the high profiling modification just below
	// the maximum.
	profileHighMargin = 10
)

// ErrProfile is returned when the low modification is not slower than the
// high one.
var ErrProfile = errors.New("campaign: could not make a good enough profile, try again with a higher profiling iteration count")

// ProfileResult is a single-threshold timing profile of one coordinate.
type ProfileResult struct {
	Threshold uint64
	Cutoff    uint64
	Low       uint64
	High      uint64
	Recorders []*recorder.Recorder
}

// Profile estimates a single latency threshold separating modifications
// that keep the first comparison passing from those that do not: the mean
// latency at amount 1 and at just below the maximum modification, split
// half way.
func Profile(ctx context.Context, opts *Options) (*ProfileResult, error) {
	s, err := newSession(opts, opts.Prepper, true)
	if err != nil {
		return nil, err
	}
	log := s.log
	index := opts.coordinate(s.codec)
	log.Noticef("Launching the profile routine against %s.", opts.Oracle.Descriptor().Name)

	pk, sk, err := opts.Oracle.Keypair()
	if err != nil {
		return nil, err
	}
	ct, _, err := opts.Oracle.Encaps(pk)
	if err != nil {
		return nil, err
	}

	sink := recorder.NewSink(opts.Output)
	res := new(ProfileResult)

	log.Infof("WARMUP ==> Running decryption oracle %d times for warmup.", opts.Search.WarmupIterations)
	warm := recorder.New("WARMUP", nil)
	if err := s.modMeasure(index, 0, opts.Search.WarmupIterations, warm, ct, sk); err != nil {
		return nil, err
	}
	sink.Add(warm)
	if res.Cutoff, err = recorder.CutoffFromWarmup(warm); err != nil {
		return nil, err
	}
	log.Infof("PROFILING ==> using %d as the cutoff value to remove outliers.", res.Cutoff)

	mean := func(label string, amount uint16) (uint64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		log.Infof("PROFILING ==> Running %d iterations ciphertextmod of C[%d] += %d.", opts.Search.ProfileIterations, index, amount)
		rec := recorder.WithCutoff(fmt.Sprintf("%s[%d]", label, index), res.Cutoff)
		if err := s.modMeasure(index, amount, opts.Search.ProfileIterations, rec, ct, sk); err != nil {
			return 0, err
		}
		sink.Add(rec)
		return rec.Mean()
	}
	if res.Low, err = mean("LOMOD", 1); err != nil {
		return nil, err
	}
	if res.High, err = mean("HIMOD", s.maxMod()-profileHighMargin); err != nil {
		return nil, err
	}
	res.Recorders = sink.Recorders()
	if err := save(log, sink); err != nil {
		return nil, err
	}

	// The low modification still passes the first comparison, so it is
	// the slow one.
	if res.Low <= res.High {
		log.Errorf("threshold high (%d) <= threshold low (%d)", res.Low, res.High)
		return res, ErrProfile
	}
	diff := res.Low - res.High
	if diff < thresholdWarnLow || diff > thresholdWarnHigh {
		log.Warningf("Diff (%d) is not between expected values %d and %d", diff, thresholdWarnLow, thresholdWarnHigh)
	}
	res.Threshold = res.High + diff/2
	log.Infof("PROFILING ==> Using (%d+%d)/2=%d as threshold value (diff: %d).", res.Low, res.High, res.Threshold, diff)
	return res, nil
}
