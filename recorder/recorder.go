// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package recorder accumulates latency samples into named, ordered series.
package recorder

import (
	"errors"
	"fmt"

	"gitlab.com/yawning/avl.git"
)

// ErrEmptySeries is returned by statistics that are undefined on a series
// without samples.
var ErrEmptySeries = errors.New("recorder: empty series")

type bucket struct {
	value uint64
	count uint64
}

// Recorder is a named multiset of samples ordered by value, with an
// optional exclusive upper cutoff.  Samples at or above the cutoff are
// dropped, but still participate in the running minimum.
//
// A Recorder is not safe for concurrent use.
type Recorder struct {
	name   string
	cutoff *uint64

	values *avl.Tree

	sum     uint64
	counter uint64
	min     uint64
	seen    bool
}

// New returns an empty Recorder.  A nil cutoff keeps every sample.
func New(name string, cutoff *uint64) *Recorder {
	return &Recorder{
		name:   name,
		cutoff: cutoff,
		values: avl.New(func(a, b interface{}) int {
			ba, bb := a.(*bucket), b.(*bucket)
			switch {
			case ba.value < bb.value:
				return -1
			case ba.value > bb.value:
				return 1
			default:
				return 0
			}
		}),
	}
}

// WithCutoff returns an empty Recorder that drops samples >= cutoff.
func WithCutoff(name string, cutoff uint64) *Recorder {
	return New(name, &cutoff)
}

// Name returns the series name.
func (r *Recorder) Name() string {
	return r.name
}

// Cutoff returns the cutoff and whether one is set.
func (r *Recorder) Cutoff() (uint64, bool) {
	if r.cutoff == nil {
		return 0, false
	}
	return *r.cutoff, true
}

// Record adds a sample.
func (r *Recorder) Record(v uint64) {
	if !r.seen || v < r.min {
		r.min = v
		r.seen = true
	}
	if r.cutoff != nil && v >= *r.cutoff {
		return
	}
	r.insert(v, 1)
}

func (r *Recorder) insert(v, n uint64) {
	node := r.values.Insert(&bucket{value: v})
	node.Value.(*bucket).count += n
	r.sum += v * n
	r.counter += n
}

// Len returns the number of retained samples.
func (r *Recorder) Len() int {
	return int(r.counter)
}

// Sum returns the sum of the retained samples.
func (r *Recorder) Sum() uint64 {
	return r.sum
}

// Min returns the smallest sample ever offered, including samples dropped
// by the cutoff.
func (r *Recorder) Min() (uint64, error) {
	if !r.seen {
		return 0, ErrEmptySeries
	}
	return r.min, nil
}

// Mean returns the integer mean of the retained samples.
func (r *Recorder) Mean() (uint64, error) {
	if r.counter == 0 {
		return 0, fmt.Errorf("%w: mean of %q", ErrEmptySeries, r.name)
	}
	return r.sum / r.counter, nil
}

// Median returns the lower median of the retained samples.
func (r *Recorder) Median() (uint64, error) {
	if r.counter == 0 {
		return 0, fmt.Errorf("%w: median of %q", ErrEmptySeries, r.name)
	}
	v, _ := r.NthLowestSample((r.counter + 1) / 2)
	return v, nil
}

// NthLowestValue returns the n-th smallest distinct value, 1-based.
func (r *Recorder) NthLowestValue(n uint64) (uint64, bool) {
	if n == 0 {
		return 0, false
	}
	it := r.values.Iterator(avl.Forward)
	for node := it.First(); node != nil; node = it.Next() {
		n--
		if n == 0 {
			return node.Value.(*bucket).value, true
		}
	}
	return 0, false
}

// NthLowestSample returns the n-th smallest sample counting multiplicity,
// 1-based.
func (r *Recorder) NthLowestSample(n uint64) (uint64, bool) {
	if n == 0 || n > r.counter {
		return 0, false
	}
	var seen uint64
	it := r.values.Iterator(avl.Forward)
	for node := it.First(); node != nil; node = it.Next() {
		b := node.Value.(*bucket)
		seen += b.count
		if seen >= n {
			return b.value, true
		}
	}
	return 0, false
}

// PercentageLTE returns the share of retained samples <= v, in [0, 100].
func (r *Recorder) PercentageLTE(v uint64) float64 {
	return r.percentage(func(x uint64) bool { return x <= v })
}

// PercentageLT returns the share of retained samples < v, in [0, 100].
func (r *Recorder) PercentageLT(v uint64) float64 {
	return r.percentage(func(x uint64) bool { return x < v })
}

func (r *Recorder) percentage(below func(uint64) bool) float64 {
	if r.counter == 0 {
		return 0
	}
	var n uint64
	it := r.values.Iterator(avl.Forward)
	for node := it.First(); node != nil; node = it.Next() {
		b := node.Value.(*bucket)
		if !below(b.value) {
			break
		}
		n += b.count
	}
	return float64(n) / float64(r.counter) * 100
}

// Values calls fn for every retained sample in ascending order, repeating
// each value by its multiplicity.  Iteration stops when fn returns false.
func (r *Recorder) Values(fn func(uint64) bool) {
	it := r.values.Iterator(avl.Forward)
	for node := it.First(); node != nil; node = it.Next() {
		b := node.Value.(*bucket)
		for i := uint64(0); i < b.count; i++ {
			if !fn(b.value) {
				return
			}
		}
	}
}

// Bin is a histogram entry.
type Bin struct {
	Value uint64
	Count uint64
}

// Histogram returns the distinct retained values with their counts, in
// ascending order.
func (r *Recorder) Histogram() []Bin {
	bins := make([]Bin, 0, r.values.Len())
	r.values.ForEach(avl.Forward, func(node *avl.Node) bool {
		b := node.Value.(*bucket)
		bins = append(bins, Bin{Value: b.value, Count: b.count})
		return true
	})
	return bins
}
