// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package measure times single decapsulations.
package measure

import (
	"errors"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/core/affinity"
	"github.com/katzenpost/kemtiming/core/cycles"
	"github.com/katzenpost/kemtiming/kem"
)

// ErrSetup is returned for unrecoverable measurement setup failures.
var ErrSetup = errors.New("measure: setup failed")

// Unit measures decapsulations of one oracle with one source.
//
// A Unit is not safe for concurrent use; it is meant to be driven from a
// single goroutine that called PrepThread.
type Unit struct {
	source  Source
	prepper Prepper

	oracle kem.Oracle
	instr  kem.Instrumented

	log *logging.Logger

	// readCounter is cycles.Read outside of tests.
	readCounter func() (uint64, uint32)

	migrations uint64
	failures   uint64
}

// NewUnit returns a Unit.  The internal and oracle sources require an
// instrumented oracle.
func NewUnit(o kem.Oracle, source Source, prepper Prepper, log *logging.Logger) (*Unit, error) {
	u := &Unit{
		source:      source,
		prepper:     prepper,
		oracle:      o,
		log:         log,
		readCounter: cycles.Read,
	}
	if i, ok := o.(kem.Instrumented); ok {
		u.instr = i
	}
	switch source {
	case External:
	case Internal, Oracle:
		if u.instr == nil {
			return nil, fmt.Errorf("%w: %s source needs an instrumented oracle, %s is not", ErrSetup, source, o.Descriptor().Name)
		}
	default:
		return nil, fmt.Errorf("%w: unknown source %v", ErrSetup, source)
	}
	return u, nil
}

// Source returns the measurement source.
func (u *Unit) Source() Source {
	return u.source
}

// Oracle returns the measured oracle.
func (u *Unit) Oracle() kem.Oracle {
	return u.oracle
}

// Migrations returns the number of samples discarded due to a core change.
func (u *Unit) Migrations() uint64 {
	return u.migrations
}

// Failures returns the number of oracle failures seen.
func (u *Unit) Failures() uint64 {
	return u.failures
}

// PrepThread pins the calling goroutine's thread to the highest numbered
// available CPU.  It is a no-op for the oracle source.  The goroutine stays
// locked to its thread afterwards.
func (u *Unit) PrepThread() error {
	if u.source == Oracle {
		return nil
	}
	cpus, err := affinity.Available()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSetup, err)
	}
	cpu, err := affinity.PinHighest()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSetup, err)
	}
	others := make([]int, 0, len(cpus))
	for _, c := range cpus {
		if c != cpu {
			others = append(others, c)
		}
	}
	u.log.Noticef("Setting CPU affinity to core: %d, other candidates were: %v", cpu, others)
	return nil
}

// Measure times one decapsulation of ct.  ok is false when the sample was
// discarded: a core migration, or a checkpoint the source needs was never
// reached.  Oracle failures are returned as errors wrapping kem.ErrOracle
// and abort only this sample.
func (u *Unit) Measure(ct, sk []byte) (v uint64, ok bool, err error) {
	switch u.source {
	case External:
		return u.measureExternal(ct, sk)
	case Internal:
		_, cp, err := u.instr.DecapsMeasure(ct, sk)
		if err != nil {
			return 0, false, u.failed(err)
		}
		if cp.Timing == nil {
			return 0, false, nil
		}
		return *cp.Timing, true, nil
	default:
		_, cp, err := u.instr.DecapsMeasure(ct, sk)
		if err != nil {
			return 0, false, u.failed(err)
		}
		v, ok := Synthetic(cp)
		return v, ok, nil
	}
}

// MeasureCheckpoints runs an instrumented decapsulation and returns its
// checkpoints.  Only available for instrumented oracles.
func (u *Unit) MeasureCheckpoints(ct, sk []byte) (kem.Checkpoints, error) {
	if u.instr == nil {
		return kem.Checkpoints{}, fmt.Errorf("%w: %s is not instrumented", ErrSetup, u.oracle.Descriptor().Name)
	}
	_, cp, err := u.instr.DecapsMeasure(ct, sk)
	if err != nil {
		return cp, u.failed(err)
	}
	return cp, nil
}

func (u *Unit) measureExternal(ct, sk []byte) (uint64, bool, error) {
	if err := u.prepare(ct, sk); err != nil {
		return 0, false, err
	}
	start, startCore := u.readCounter()
	_, err := u.oracle.Decaps(ct, sk)
	stop, stopCore := u.readCounter()

	// A rejected decapsulation still takes time; only malformed input is
	// an error here.
	if errors.Is(err, kem.ErrBufferSize) {
		return 0, false, err
	}
	if startCore != stopCore {
		u.migrations++
		u.log.Debugf("no measurement, core changed from %d to %d", startCore, stopCore)
		return 0, false, nil
	}
	return stop - start, true, nil
}

func (u *Unit) prepare(ct, sk []byte) error {
	switch u.prepper {
	case DecapsCache:
		if _, err := u.oracle.Decaps(ct, sk); errors.Is(err, kem.ErrBufferSize) {
			return err
		}
	case FlushCache:
		cycles.Flush(ct)
		cycles.Flush(sk)
	}
	return nil
}

func (u *Unit) failed(err error) error {
	if errors.Is(err, kem.ErrOracle) {
		u.failures++
	}
	return err
}

// Synthetic maps checkpoints onto the synthetic latency model: 100 when the
// first comparison failed, 150 when only the second failed, 250 when both
// succeeded.  ok is false when no comparison ran.
func Synthetic(cp kem.Checkpoints) (uint64, bool) {
	if cp.Memcmp1 == nil {
		return 0, false
	}
	v := uint64(SyntheticBase)
	if *cp.Memcmp1 {
		v += SyntheticMemcmp1
		if cp.Memcmp2 != nil && *cp.Memcmp2 {
			v += SyntheticMemcmp2
		}
	}
	return v, true
}
