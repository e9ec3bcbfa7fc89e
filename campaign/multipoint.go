// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package campaign

import (
	"context"
	"fmt"

	cartesian "github.com/schwarmco/go-cartesian-product"

	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/measure"
	"github.com/katzenpost/kemtiming/recorder"
)

// MultipointOptions select the grid profiled by Multipoint.
type MultipointOptions struct {
	Options

	// Coordinates to modify.  Empty selects the last one.
	Coordinates []int
}

// Multipoint records, for every key pair, ciphertext and coordinate, the
// instrumented checkpoint stamps of decapsulations with a minor and a
// major modification, measured round robin.  Every checkpoint gets its own
// series.
func Multipoint(ctx context.Context, opts *MultipointOptions) ([]*recorder.Recorder, error) {
	o := opts.Options
	o.Source = measure.Internal
	s, err := newSession(&o, measure.NoCache, true)
	if err != nil {
		return nil, err
	}
	log := s.log
	maxmod := s.maxMod()
	coords := opts.Coordinates
	if len(coords) == 0 {
		coords = []int{o.coordinate(s.codec)}
	}
	log.Noticef("Launching the multipoint profiling routine against %s with maximum modification: %d.", o.Oracle.Descriptor().Name, maxmod)

	sink := recorder.NewSink(o.Output)
	for key := 1; key <= o.keys(); key++ {
		log.Info("Generating keypair")
		pk, sk, err := o.Oracle.Keypair()
		if err != nil {
			return sink.Recorders(), err
		}
		ct, _, err := o.Oracle.Encaps(pk)
		if err != nil {
			return sink.Recorders(), err
		}
		cp, err := s.unit.MeasureCheckpoints(ct, sk)
		if err != nil {
			return sink.Recorders(), err
		}
		names := kem.CheckpointNames(o.Oracle, len(cp.Points))
		log.Infof("Listing profiling checkpoints: %v", names)

		encaps := make([]interface{}, o.encaps())
		for i := range encaps {
			encaps[i] = i + 1
		}
		cs := make([]interface{}, len(coords))
		for i, c := range coords {
			cs[i] = c
		}
		var grid [][]interface{}
		for cell := range cartesian.Iter(encaps, cs) {
			grid = append(grid, cell)
		}
		lastT := 0
		for _, cell := range grid {
			t, index := cell[0].(int), cell[1].(int)
			if err := ctx.Err(); err != nil {
				return sink.Recorders(), err
			}
			if t != lastT {
				if ct, _, err = o.Oracle.Encaps(pk); err != nil {
					return sink.Recorders(), err
				}
				lastT = t
			}

			log.Infof("Warming up with %d decaps", o.Search.WarmupIterations)
			for i := 0; i < o.Search.WarmupIterations; i++ {
				if _, err := s.unit.MeasureCheckpoints(ct, sk); err != nil {
					return sink.Recorders(), err
				}
			}

			recs := make([][]*recorder.Recorder, 2)
			for i, label := range []string{"MINOR", "MAJOR"} {
				prefix := fmt.Sprintf("%d-%d", key, t)
				if len(coords) > 1 {
					prefix = fmt.Sprintf("%s-C[%d]", prefix, index)
				}
				recs[i] = append(recs[i], recorder.New(fmt.Sprintf("%s-all-%s", prefix, label), nil))
				for _, name := range names {
					recs[i] = append(recs[i], recorder.New(fmt.Sprintf("%s-%s-%s", prefix, name, label), nil))
				}
			}
			log.Infof("Sampling %d decaps of C[%d] with minor and major modifications, round robin", o.Search.Iterations, index)
			stats, err := s.modified(index).Multipoint([]uint16{1, maxmod}, o.Search.Iterations, recs, ct, sk)
			account(stats)
			if err != nil {
				return sink.Recorders(), err
			}
			summarize(log, "MINOR", recs[0][0])
			summarize(log, "MAJOR", recs[1][0])
			for _, set := range recs {
				for _, r := range set {
					sink.Add(r)
				}
			}
			if err := save(log, sink); err != nil {
				return sink.Recorders(), err
			}
		}
	}
	log.Notice("Finished!")
	return sink.Recorders(), nil
}
