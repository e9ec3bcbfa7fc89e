// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package rejection

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/measure"
	"github.com/katzenpost/kemtiming/recorder"
)

// VerifyOptions configure Verify and Simulate.
type VerifyOptions struct {
	Oracle kem.RejectionSampler
	Source measure.Source

	// Plaintexts is the number of random plaintexts searched for the
	// fewest and most rejections.
	Plaintexts int

	// Decaps is the number of decapsulations timed per ciphertext.
	Decaps int

	// Save is the CSV file receiving every sample, or empty.
	Save string

	// ErrorWeight is the number of ciphertext bits Simulate flips.
	ErrorWeight int

	// Rand supplies plaintexts and bit positions.  Nil selects the hpqc
	// system reader.
	Rand io.Reader

	Log *logging.Logger
}

func (o *VerifyOptions) unit() (*measure.Unit, error) {
	if o.Oracle == nil || o.Log == nil {
		return nil, errors.New("rejection: incomplete options")
	}
	unit, err := measure.NewUnit(o.Oracle, o.Source, measure.NoCache, o.Log)
	if err != nil {
		return nil, err
	}
	return unit, unit.PrepThread()
}

// VerifyHeader is the header row of the Verify output.
var VerifyHeader = []string{"algorithm", "iterations", "clock cycles"}

// Verify times the decapsulation of the plaintexts with the fewest and the
// most rejections among Plaintexts random ones, interleaving the two.
func Verify(opts *VerifyOptions) (lo, hi *recorder.Recorder, err error) {
	unit, err := opts.unit()
	if err != nil {
		return nil, nil, err
	}
	o := opts.Oracle
	log := opts.Log
	name := o.Descriptor().Name
	log.Noticef("Running with %s", name)

	minPT, maxPT, err := FindMinMax(o, opts.Plaintexts, opts.Rand, log)
	if err != nil {
		return nil, nil, err
	}
	pk, sk, err := o.Keypair()
	if err != nil {
		return nil, nil, err
	}
	minCT, err := encapsulateAndVerify(o, pk, sk, minPT.Plaintext)
	if err != nil {
		return nil, nil, err
	}
	maxCT, err := encapsulateAndVerify(o, pk, sk, maxPT.Plaintext)
	if err != nil {
		return nil, nil, err
	}

	lo = recorder.New(name+"#min", nil)
	hi = recorder.New(name+"#max", nil)
	log.Noticef("Starting %d measurements...", opts.Decaps)
	for i := 0; i < opts.Decaps; i++ {
		if err := record(unit, lo, minCT, sk); err != nil {
			return nil, nil, err
		}
		if err := record(unit, hi, maxCT, sk); err != nil {
			return nil, nil, err
		}
	}
	for _, r := range []*recorder.Recorder{lo, hi} {
		mean, err := r.Mean()
		if err != nil {
			return nil, nil, err
		}
		log.Noticef("%s: %d", r.Name(), mean)
	}

	if opts.Save != "" {
		if err := saveVerify(opts.Save, name, []uint64{minPT.Iter, maxPT.Iter}, []*recorder.Recorder{lo, hi}); err != nil {
			return nil, nil, err
		}
	}
	return lo, hi, nil
}

// record measures one decapsulation into rec.  Discarded samples and
// oracle failures are skipped.
func record(unit *measure.Unit, rec *recorder.Recorder, ct, sk []byte) error {
	v, ok, err := unit.Measure(ct, sk)
	switch {
	case errors.Is(err, kem.ErrOracle):
		return nil
	case err != nil:
		return err
	case ok:
		rec.Record(v)
	}
	return nil
}

func saveVerify(path, name string, iters []uint64, recs []*recorder.Recorder) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(VerifyHeader); err != nil {
		return err
	}
	for i, r := range recs {
		row := []string{name, strconv.FormatUint(iters[i], 10), ""}
		var werr error
		r.Values(func(v uint64) bool {
			row[2] = strconv.FormatUint(v, 10)
			werr = w.Write(row)
			return werr == nil
		})
		if werr != nil {
			return werr
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
