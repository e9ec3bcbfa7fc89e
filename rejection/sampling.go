// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package rejection implements the timing campaigns against variable-time
// rejection samplers: collecting plaintexts by rejection count, timing
// them, and checking that the difference is observable.
package rejection

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/kem"
)

// HistogramReportInterval is how many plaintexts Histogram samples between
// progress reports.
const HistogramReportInterval = 10000

// Bin is one rejection count and how often it occurred.
type Bin struct {
	Iter  uint64
	Count uint64
}

// Histogram samples n random plaintexts and returns, in ascending order,
// how many induced each rejection count.
func Histogram(o kem.RejectionSampler, n int, rng io.Reader, log *logging.Logger) ([]Bin, error) {
	if rng == nil {
		rng = rand.Reader
	}
	counts := make(map[uint64]uint64)
	pt := make([]byte, o.Descriptor().PlaintextSize)
	for i := 1; i <= n; i++ {
		if _, err := io.ReadFull(rng, pt); err != nil {
			return nil, err
		}
		iter, err := o.NumRejections(pt)
		if err != nil {
			return nil, err
		}
		counts[iter]++
		if i%HistogramReportInterval == 0 && i != n {
			logHistogram(log, float64(i)/float64(n)*100, bins(counts))
		}
	}
	out := bins(counts)
	logHistogram(log, 100, out)
	return out, nil
}

func bins(counts map[uint64]uint64) []Bin {
	out := make([]Bin, 0, len(counts))
	for iter, c := range counts {
		out = append(out, Bin{Iter: iter, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iter < out[j].Iter })
	return out
}

func logHistogram(log *logging.Logger, pct float64, bins []Bin) {
	log.Infof("<== %.2f%% ==>", pct)
	for _, b := range bins {
		log.Infof("%d: %d", b.Iter, b.Count)
	}
}

// Candidate is a plaintext and its rejection count.
type Candidate struct {
	Iter      uint64
	Plaintext []byte
}

// FindMinMax samples n random plaintexts and returns the first ones with
// the fewest and the most rejections.
func FindMinMax(o kem.RejectionSampler, n int, rng io.Reader, log *logging.Logger) (lo, hi *Candidate, err error) {
	if n < 1 {
		return nil, nil, fmt.Errorf("rejection: invalid plaintext count: %d", n)
	}
	if rng == nil {
		rng = rand.Reader
	}
	lo = &Candidate{Iter: math.MaxUint64}
	hi = &Candidate{}
	pt := make([]byte, o.Descriptor().PlaintextSize)
	for i := 1; i <= n; i++ {
		if _, err := io.ReadFull(rng, pt); err != nil {
			return nil, nil, err
		}
		iter, err := o.NumRejections(pt)
		if err != nil {
			return nil, nil, err
		}
		if iter > hi.Iter || hi.Plaintext == nil {
			log.Debugf("Plaintext number %d: new maximum number of iterations: %d", i, iter)
			hi = &Candidate{Iter: iter, Plaintext: bytes.Clone(pt)}
		}
		if iter < lo.Iter {
			log.Debugf("Plaintext number %d: new minimum number of iterations: %d", i, iter)
			lo = &Candidate{Iter: iter, Plaintext: bytes.Clone(pt)}
		}
	}
	return lo, hi, nil
}

var errSharedSecret = errors.New("rejection: shared secrets from encapsulation and decapsulation differ")

// encapsulateAndVerify encapsulates pt to pk and checks that sk recovers
// the same shared secret.
func encapsulateAndVerify(o kem.RejectionSampler, pk, sk, pt []byte) ([]byte, error) {
	ct, ssa, err := o.EncapsWithPlaintext(pk, pt)
	if err != nil {
		return nil, err
	}
	ssb, err := o.Decaps(ct, sk)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(ssa, ssb) {
		return nil, errSharedSecret
	}
	return ct, nil
}
