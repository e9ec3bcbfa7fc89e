// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package gather runs an external attack binary many times in parallel and
// aggregates the success rate and oracle call counts it reports.
package gather

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/core/monotime"
	"github.com/katzenpost/kemtiming/core/retry"
	"github.com/katzenpost/kemtiming/internal/instrument"
)

// DefaultLastLines is the default number of output lines kept per trial.
const DefaultLastLines = 30000

// Header is the header row of the results CSV.
var Header = []string{"id", "success", "oracle_calls", "wrong_bits"}

// Options configure Run.
type Options struct {
	// Binary is the attack executable, run with Args.
	Binary string
	Args   []string

	Trials  int
	Workers int

	// Out is the results CSV.  The last lines of every trial are appended
	// to Out + ".last".
	Out string

	// LastLines is the number of output lines kept per trial.
	LastLines int

	// Stderr receives the standard error of every trial, or nothing if
	// nil.
	Stderr io.Writer

	// Retry governs respawning after transient spawn failures.  Nil
	// selects retry.DefaultPolicy.
	Retry *retry.Policy

	Log *logging.Logger
}

// Summary aggregates the completed trials.
type Summary struct {
	Trials      int
	Successes   int
	OracleCalls uint64
}

// SuccessRate returns the fraction of successful trials.
func (s *Summary) SuccessRate() float64 {
	if s.Trials == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Trials)
}

// MeanOracleCalls returns the mean oracle call count over all trials.
func (s *Summary) MeanOracleCalls() float64 {
	if s.Trials == 0 {
		return 0
	}
	return float64(s.OracleCalls) / float64(s.Trials)
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d/%d successes (%.2f%%)", s.Successes, s.Trials, s.SuccessRate()*100)
}

// accumulator serialises the results of concurrently finishing trials.
type accumulator struct {
	sync.Mutex

	total   int
	summary Summary
	csv     *csv.Writer
	last    *bufio.Writer
	log     *logging.Logger
}

func (a *accumulator) add(m *Measurement, lines []string) error {
	a.Lock()
	defer a.Unlock()

	a.summary.Trials++
	if m.Success {
		a.summary.Successes++
	}
	a.summary.OracleCalls += m.OracleCalls
	id := a.summary.Trials

	if err := a.csv.Write([]string{
		strconv.Itoa(id),
		strconv.FormatBool(m.Success),
		strconv.FormatUint(m.OracleCalls, 10),
		strconv.FormatUint(m.WrongBits, 10),
	}); err != nil {
		return err
	}
	a.csv.Flush()
	if err := a.csv.Error(); err != nil {
		return err
	}

	a.log.Debugf("Trial %d finished in %v", id, m.Elapsed)
	fmt.Fprintf(a.last, "=== trial %d ===\n", id)
	for _, l := range lines {
		a.last.WriteString(l)
		a.last.WriteByte('\n')
	}
	if err := a.last.Flush(); err != nil {
		return err
	}

	a.log.Noticef("Progress: %d/%d (%.2f%%) with success %d/%d (%.2f%%)",
		id, a.total, float64(id)/float64(a.total)*100,
		a.summary.Successes, id, a.summary.SuccessRate()*100)
	return nil
}

func (o *Options) validate() error {
	switch {
	case o.Binary == "":
		return errors.New("gather: no attack binary")
	case o.Out == "":
		return errors.New("gather: no output file")
	case o.Log == nil:
		return errors.New("gather: no logger")
	case o.Trials < 1:
		return fmt.Errorf("gather: invalid trial count: %d", o.Trials)
	case o.Workers < 1:
		return fmt.Errorf("gather: invalid worker count: %d", o.Workers)
	}
	if o.LastLines == 0 {
		o.LastLines = DefaultLastLines
	}
	if o.Retry == nil {
		o.Retry = retry.DefaultPolicy()
	}
	return nil
}

// Run executes Trials runs of the attack binary, at most Workers at a
// time.  Rows are written in completion order.  The summary of the trials
// completed so far is returned along with any error.
func Run(ctx context.Context, opts *Options) (*Summary, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Log

	f, err := os.Create(opts.Out)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lf, err := os.Create(opts.Out + ".last")
	if err != nil {
		return nil, err
	}
	defer lf.Close()

	acc := &accumulator{
		total: opts.Trials,
		csv:   csv.NewWriter(f),
		last:  bufio.NewWriter(lf),
		log:   log,
	}
	if err := acc.csv.Write(Header); err != nil {
		return nil, err
	}

	log.Noticef("Starting %d trials on %d workers", opts.Trials, opts.Workers)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := 0; i < opts.Trials; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			m, lines, err := runTrial(gctx, opts)
			if err != nil {
				instrument.Trial("failed")
				return err
			}
			if !m.Reported {
				log.Warningf("Trial %d: could not find success message in program output", i)
			}
			if m.Success {
				instrument.Trial("success")
			} else {
				instrument.Trial("failure")
			}
			return acc.add(m, lines)
		})
	}
	err = g.Wait()

	acc.Lock()
	summary := acc.summary
	acc.Unlock()
	if err == nil {
		err = ctx.Err()
	}
	log.Notice(summary.String())
	if err != nil {
		return &summary, err
	}
	if err := f.Close(); err != nil {
		return &summary, err
	}
	return &summary, lf.Close()
}

func runTrial(ctx context.Context, opts *Options) (*Measurement, []string, error) {
	var (
		cmd    *exec.Cmd
		stdout io.ReadCloser
	)
	start := monotime.Now()
	p := *opts.Retry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		opts.Log.Warningf("Failed to spawn %s (attempt %d), retrying in %v: %v", opts.Binary, attempt+1, delay, err)
	}
	err := p.Do(ctx, func() error {
		cmd = exec.CommandContext(ctx, opts.Binary, opts.Args...)
		cmd.Stderr = opts.Stderr
		var err error
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return err
		}
		return cmd.Start()
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gather: spawn %s: %w", opts.Binary, err)
	}

	m, lines, perr := Parse(stdout, opts.LastLines)
	if perr != nil {
		// Drain so the child does not block on a full pipe.
		io.Copy(io.Discard, stdout)
	}
	werr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(werr, &exitErr):
		opts.Log.Warningf("%s exited with status %d", opts.Binary, exitErr.ExitCode())
	case werr != nil:
		return nil, nil, werr
	}
	if perr != nil {
		return nil, nil, perr
	}
	m.Elapsed = monotime.Since(start)
	return m, lines, nil
}
