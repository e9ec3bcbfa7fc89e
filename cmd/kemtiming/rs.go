// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/katzenpost/kemtiming/kem"
	"github.com/katzenpost/kemtiming/kem/fixedweight"
	"github.com/katzenpost/kemtiming/kem/schemes"
	"github.com/katzenpost/kemtiming/rejection"
)

const (
	defaultHistogramPlaintexts = 100000
	defaultVerifyPlaintexts    = 10000
	defaultVerifyDecaps        = 10000
	defaultMeasurements        = 1000
	defaultErrorWeight         = 1
)

// dbFlags override the PlaintextDB section.
type dbFlags struct {
	path         string
	limit        uint32
	threads      int
	saveInterval time.Duration
	stopAfter    time.Duration
}

func (d *dbFlags) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&d.path, "db", "", "plaintext database")
	f.Uint32Var(&d.limit, "limit", 0, "plaintexts stored per rejection count")
	f.IntVarP(&d.threads, "threads", "t", 0, "collecting goroutines")
	f.DurationVar(&d.saveInterval, "save-interval", 0, "how often encounter counters are saved")
	f.DurationVar(&d.stopAfter, "stop-after", 0, "stop collecting after this long")
}

func (d *dbFlags) apply(cmd *cobra.Command, a *app) error {
	f := cmd.Flags()
	c := a.cfg.PlaintextDB
	if f.Changed("db") {
		c.Path = d.path
	}
	if f.Changed("limit") {
		c.Limit = d.limit
	}
	if f.Changed("threads") {
		c.Threads = d.threads
	}
	if f.Changed("save-interval") {
		c.SaveInterval = d.saveInterval
	}
	if f.Changed("stop-after") {
		c.StopAfter = d.stopAfter
	}
	return a.cfg.FixupAndValidate()
}

// rejectionSampler returns the configured oracle if it exposes a rejection
// sampler.  An unsuitable default falls back to the HQC-128 model; an
// explicitly requested one is an error.
func (a *app) rejectionSampler(cmd *cobra.Command) (kem.RejectionSampler, error) {
	o, err := a.oracle()
	if err != nil {
		return nil, err
	}
	rs, err := schemes.RejectionSampler(o)
	if err == nil {
		return rs, nil
	}
	if cmd.Flags().Changed("kem") || !errors.Is(err, kem.ErrUnsupported) {
		return nil, err
	}
	a.log.Noticef("%s has no rejection sampler, using %s", o.Descriptor().Name, fixedweight.HQC128.Name)
	a.cfg.Measurement.KEM = fixedweight.HQC128.Name
	if o, err = a.oracle(); err != nil {
		return nil, err
	}
	return schemes.RejectionSampler(o)
}

func newRSCommand(a *app) *cobra.Command {
	m := new(measurementFlags)
	d := new(dbFlags)
	cmd := &cobra.Command{
		Use:   "rs",
		Short: "Attacks on variable-time rejection sampling",
	}
	m.register(cmd)
	d.register(cmd)

	// prepare applies every flag and resolves the oracle.
	prepare := func(cmd *cobra.Command) (kem.RejectionSampler, error) {
		if err := a.configure(cmd, m); err != nil {
			return nil, err
		}
		if err := d.apply(cmd, a); err != nil {
			return nil, err
		}
		return a.rejectionSampler(cmd)
	}

	cmd.AddCommand(
		newRSHistogramCommand(a, prepare),
		newRSCollectCommand(a, prepare),
		newRSTimingsCommand(a, prepare),
		newRSVerifyCommand(a, prepare),
		newRSSimulateCommand(a, prepare),
	)
	return cmd
}

type prepareFunc func(*cobra.Command) (kem.RejectionSampler, error)

func newRSHistogramCommand(a *app, prepare prepareFunc) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "histogram",
		Short: "Count the rejection counts induced by random plaintexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := prepare(cmd)
			if err != nil {
				return err
			}
			bins, err := rejection.Histogram(o, n, nil, a.backend.GetLogger("rejection"))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range bins {
				fmt.Fprintf(out, "%d\t%d\n", b.Iter, b.Count)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "plaintexts", defaultHistogramPlaintexts, "random plaintexts to sample")
	return cmd
}

func newRSCollectCommand(a *app, prepare prepareFunc) *cobra.Command {
	var clearDB, reindex bool
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Store random plaintexts by rejection count",
		Long: `collect samples random plaintexts on every thread and stores up to
--limit of them per rejection count.  It runs until interrupted or until
--stop-after elapses, and resumes an existing database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := prepare(cmd)
			if err != nil {
				return err
			}
			c := a.cfg.PlaintextDB
			_, err = rejection.Collect(cmd.Context(), &rejection.CollectOptions{
				Oracle:       o,
				Path:         c.Path,
				Limit:        c.Limit,
				Clear:        clearDB,
				Reindex:      reindex,
				Threads:      c.Threads,
				SaveInterval: c.SaveInterval,
				StopAfter:    c.StopAfter,
				Log:          a.backend.GetLogger("collect"),
			})
			return err
		},
	}
	cmd.Flags().BoolVar(&clearDB, "clear", false, "delete every stored plaintext first")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "recompute the rejection count of every stored plaintext and exit")
	return cmd
}

func newRSTimingsCommand(a *app, prepare prepareFunc) *cobra.Command {
	var (
		include      []uint
		measurements int
		destination  string
	)
	cmd := &cobra.Command{
		Use:   "timings",
		Short: "Time stored plaintexts of every rejection count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := prepare(cmd)
			if err != nil {
				return err
			}
			if destination == "" {
				destination = fmt.Sprintf("%s-timings.csv.gz", o.Descriptor().Name)
			}
			iters := make([]uint32, len(include))
			for i, v := range include {
				iters[i] = uint32(v)
			}
			return rejection.IterationTimings(cmd.Context(), &rejection.TimingsOptions{
				Oracle:       o,
				Source:       a.cfg.Measurement.ParsedSource(),
				Path:         a.cfg.PlaintextDB.Path,
				Include:      iters,
				Measurements: measurements,
				Destination:  destination,
				Log:          a.backend.GetLogger("timings"),
			})
		},
	}
	cmd.Flags().UintSliceVar(&include, "include", nil, "rejection counts to measure, all if empty")
	cmd.Flags().IntVarP(&measurements, "measurements", "m", defaultMeasurements, "timings per rejection count")
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "gzip compressed CSV output")
	return cmd
}

// verifyFlags are shared by verify and simulate.
type verifyFlags struct {
	plaintexts int
	decaps     int
}

func (v *verifyFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&v.plaintexts, "plaintexts", defaultVerifyPlaintexts, "random plaintexts searched for candidates")
	cmd.Flags().IntVar(&v.decaps, "decaps", defaultVerifyDecaps, "decapsulations timed per ciphertext")
}

func (v *verifyFlags) options(a *app, o kem.RejectionSampler) *rejection.VerifyOptions {
	return &rejection.VerifyOptions{
		Oracle:     o,
		Source:     a.cfg.Measurement.ParsedSource(),
		Plaintexts: v.plaintexts,
		Decaps:     v.decaps,
		Log:        a.backend.GetLogger("rejection"),
	}
}

func newRSVerifyCommand(a *app, prepare prepareFunc) *cobra.Command {
	v := new(verifyFlags)
	var save string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare the decapsulation time of the fewest and most rejections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := prepare(cmd)
			if err != nil {
				return err
			}
			opts := v.options(a, o)
			opts.Save = save
			lo, hi, err := rejection.Verify(opts)
			if err != nil {
				return err
			}
			loMean, _ := lo.Mean()
			hiMean, _ := hi.Mean()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n%s %d\n", lo.Name(), loMean, hi.Name(), hiMean)
			return nil
		},
	}
	v.register(cmd)
	cmd.Flags().StringVar(&save, "save", "", "CSV file receiving every sample")
	return cmd
}

func newRSSimulateCommand(a *app, prepare prepareFunc) *cobra.Command {
	v := new(verifyFlags)
	var weight int
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Compare a valid ciphertext with a copy carrying extra errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := prepare(cmd)
			if err != nil {
				return err
			}
			opts := v.options(a, o)
			opts.ErrorWeight = weight
			res, err := rejection.Simulate(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "iterations %d unmodified %d modified %d diff %d\n",
				res.Iter, res.Unmodified, res.Modified, res.Diff())
			return nil
		},
	}
	v.register(cmd)
	cmd.Flags().IntVarP(&weight, "error-weight", "w", defaultErrorWeight, "ciphertext bits to flip")
	return cmd
}
