// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package rejection

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/measure"
)

// TimingsOptions configure IterationTimings.
type TimingsOptions struct {
	Oracle kem.RejectionSampler

	// Source times the decapsulations.  Measurements are taken with an
	// empty cache preparation.
	Source measure.Source

	// Path is the plaintext database.
	Path string

	// Include restricts the run to these rejection counts.  Empty
	// measures every count with stored plaintexts.
	Include []uint32

	// Measurements is the number of timings per rejection count.
	Measurements int

	// Destination is the gzip compressed CSV output.
	Destination string

	Log *logging.Logger
}

// TimingsHeader is the header row of the IterationTimings output.
var TimingsHeader = []string{"alg", "seedexpanders", "iterations", "cycles"}

// IterationTimings times the decapsulation of stored plaintexts of every
// rejection count, each under a fresh key pair, and writes one CSV row per
// measurement.
func IterationTimings(ctx context.Context, opts *TimingsOptions) error {
	switch {
	case opts.Oracle == nil || opts.Log == nil:
		return errors.New("rejection: incomplete options")
	case opts.Measurements < 1:
		return fmt.Errorf("rejection: invalid measurement count: %d", opts.Measurements)
	}
	log := opts.Log
	name := opts.Oracle.Descriptor().Name
	log.Notice("Iteration timings routine has started!")

	unit, err := measure.NewUnit(opts.Oracle, opts.Source, measure.NoCache, log)
	if err != nil {
		return err
	}
	if err := unit.PrepThread(); err != nil {
		return err
	}

	db, err := Open(opts.Path, name, 0)
	if err != nil {
		return err
	}
	defer db.Close()
	saved, err := db.SavedCounts()
	if err != nil {
		return err
	}

	log.Noticef("Opening destination file: %s", opts.Destination)
	f, err := os.Create(opts.Destination)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	zw := gzip.NewWriter(bw)
	w := csv.NewWriter(zw)
	if err := w.Write(TimingsHeader); err != nil {
		return err
	}

	for _, c := range saved {
		if len(opts.Include) > 0 && !slices.Contains(opts.Include, c.Iter) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Noticef("Starting %d measurements of %d plaintexts with %d iterations from the DB.", opts.Measurements, c.Saved, c.Iter)
		if reused := (uint64(opts.Measurements) + c.Saved - 1) / c.Saved; reused > 1 {
			log.Warningf("Plaintexts will be reused up to %d times each", reused)
		}
		if err := timeIter(unit, db, opts, c.Iter, w); err != nil {
			return err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func timeIter(unit *measure.Unit, db *PlaintextDB, opts *TimingsOptions, iter uint32, w *csv.Writer) error {
	o := opts.Oracle
	row := []string{
		o.Descriptor().Name,
		strconv.FormatUint(uint64(iter/1000), 10),
		strconv.FormatUint(uint64(iter%1000), 10),
		"",
	}
	for n := 0; n < opts.Measurements; {
		rec, err := db.NextIter(iter, false)
		if errors.Is(err, ErrNotFound) {
			// Start over from the newest plaintext.
			rec, err = db.NextIter(iter, true)
		}
		if err != nil {
			return err
		}

		pk, sk, err := o.Keypair()
		if err != nil {
			return err
		}
		ct, _, err := o.EncapsWithPlaintext(pk, rec.Plaintext)
		if err != nil {
			return err
		}
		v, ok, err := unit.Measure(ct, sk)
		if errors.Is(err, kem.ErrOracle) {
			continue
		}
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		row[3] = strconv.FormatUint(v, 10)
		if err := w.Write(row); err != nil {
			return err
		}
		n++
	}
	return nil
}
