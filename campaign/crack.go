// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package campaign

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/internal/instrument"
	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/recorder"
	"github.com/katzenpost/kemtiming/search"
)

// Report summarises a CrackS campaign.
type Report struct {
	Coordinates int
	Successes   int
	Failures    int
	Skipped     int
	Probes      int

	// Values maps coordinates of the last ciphertext to recovered values.
	Values map[int]uint16
}

// SuccessRate returns the share of correctly recovered coordinates in
// percent.
func (r *Report) SuccessRate() float64 {
	if r.Coordinates == 0 {
		return 0
	}
	return float64(r.Successes) / float64(r.Coordinates) * 100
}

// CrackS recovers, for Encaps fresh ciphertexts, the last row of the
// decoding error E” coordinate by coordinate.  When the oracle can compute
// the reference error, every recovered value is checked against it.
//
// A cancelled context stops the campaign between coordinates and probes;
// the report so far is returned together with the context error.
func CrackS(ctx context.Context, opts *Options) (*Report, error) {
	s, err := newSession(opts, opts.Prepper, true)
	if err != nil {
		return nil, err
	}
	log := s.log
	desc := opts.Oracle.Descriptor()
	log.Noticef("Launching the crack-s routine against %s.", desc.Name)

	ref, _ := opts.Oracle.(kem.ReferenceErrorer)
	if ref == nil {
		log.Warningf("%s cannot compute the reference error, results will not be verified", desc.Name)
	}

	log.Info("Generating keypair")
	pk, sk, err := opts.Oracle.Keypair()
	if err != nil {
		return nil, err
	}

	sink := recorder.NewSink(opts.Output)
	searcher, err := search.New(opts.Search, sink, log)
	if err != nil {
		return nil, err
	}

	nbar := s.codec.NBar()
	ecl := s.codec.ErrorCorrectionLimit()
	row := nbar - 1
	report := &Report{Values: make(map[int]uint16)}

	for t := 0; t < opts.encaps(); t++ {
		log.Infof("Using encaps to generate ciphertext number: %d", t)
		ct, _, err := opts.Oracle.Encaps(pk)
		if err != nil {
			return report, err
		}
		var eppp []int32
		if ref != nil {
			if eppp, err = ref.ReferenceError(ct, sk); err != nil {
				return report, err
			}
		}

		for j := 0; j < nbar; j++ {
			if err := ctx.Err(); err != nil {
				log.Noticef("Stopping after %d coordinates", report.Coordinates)
				return report, err
			}
			index := row*nbar + j
			expected := int64(-1)
			if eppp != nil {
				expected = int64(ecl) - int64(eppp[index])
			}

			res, err := searcher.Crack(ctx, s.sampler(index, ct, sk), search.Target{
				Trial:    t,
				Index:    index,
				Expected: expected,
				MaxMod:   s.maxMod(),
			})
			if res != nil {
				report.Probes += res.Probes
				instrument.ModRetries(res.Retries)
			}
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					log.Noticef("Stopping after %d coordinates", report.Coordinates)
				}
				return report, err
			}
			report.Coordinates++
			report.score(log, res, row, j, index, ecl, eppp)
		}
	}
	log.Notice("Finished!")
	return report, nil
}

func (r *Report) score(log *logging.Logger, res *search.Result, row, col, index int, ecl uint16, eppp []int32) {
	if !res.Found {
		r.Skipped++
		instrument.Coordinate("skipped", res.Probes)
		log.Errorf("Max number of attempts (%d) reached! Current success rate is: %d/%d=%.1f%% (%d skipped)",
			res.Attempts, r.Successes, r.Coordinates, r.SuccessRate(), r.Skipped)
		return
	}
	r.Values[index] = res.Value
	got := int32(ecl) - int32(res.Value)
	switch {
	case eppp == nil:
		r.Successes++
		instrument.Coordinate("unverified", res.Probes)
		log.Infof("Found -Eppp[%d,%d]=%d-%d=%d. Current recovery rate is: %d/%d", row, col, ecl, res.Value, got, r.Successes, r.Coordinates)
	case got == eppp[index]:
		r.Successes++
		instrument.Coordinate("correct", res.Probes)
		log.Infof("Found -Eppp[%d,%d]=%d-%d=%d expected: %d. Current success rate is: %d/%d=%.1f%%",
			row, col, ecl, res.Value, got, eppp[index], r.Successes, r.Coordinates, r.SuccessRate())
	default:
		r.Failures++
		instrument.Coordinate("wrong", res.Probes)
		log.Warningf("Found -Eppp[%d,%d]=%d-%d=%d expected: %d. Current success rate is: %d/%d=%.1f%%",
			row, col, ecl, res.Value, got, eppp[index], r.Successes, r.Coordinates, r.SuccessRate())
	}
}

func (r *Report) String() string {
	return fmt.Sprintf("%d coordinates, %d correct, %d wrong, %d skipped, %d probes",
		r.Coordinates, r.Successes, r.Failures, r.Skipped, r.Probes)
}
