// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package rejection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/kemtiming/core/worker"
	"github.com/katzenpost/kemtiming/internal/instrument"
	"github.com/katzenpost/kemtiming/kem"
)

// DefaultLimit is the default number of plaintexts stored per rejection
// count.
const DefaultLimit = 1000

// CollectOptions configure Collect.
type CollectOptions struct {
	Oracle kem.RejectionSampler

	// Path is the plaintext database.
	Path string

	// Limit caps the stored plaintexts per rejection count.
	Limit uint32

	// Clear empties the database first.
	Clear bool

	// Reindex recomputes the rejection count of every stored plaintext
	// and returns without collecting.
	Reindex bool

	// Threads is the number of sampling goroutines.
	Threads int

	// SaveInterval is how often the encounter counters are persisted.
	// Zero saves only on shutdown.
	SaveInterval time.Duration

	// StopAfter ends the run after this long.  Zero runs until ctx is
	// done.
	StopAfter time.Duration

	// Rand supplies plaintexts.  Nil selects the hpqc system reader.
	Rand io.Reader

	Log *logging.Logger
}

func (o *CollectOptions) validate() error {
	switch {
	case o.Oracle == nil:
		return errors.New("rejection: no oracle")
	case o.Log == nil:
		return errors.New("rejection: no logger")
	case o.Path == "":
		return errors.New("rejection: no database path")
	case o.Threads < 1:
		return fmt.Errorf("rejection: invalid thread count: %d", o.Threads)
	}
	if o.Limit == 0 {
		o.Limit = DefaultLimit
	}
	if o.Rand == nil {
		o.Rand = rand.Reader
	}
	return nil
}

// Collect fills the plaintext database with random plaintexts of every
// rejection count until ctx is done or StopAfter elapses.  Every worker
// saves its counters before returning.  The final counts are returned.
func Collect(ctx context.Context, opts *CollectOptions) ([]IterCount, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	name := opts.Oracle.Descriptor().Name
	log := opts.Log

	log.Noticef("Opening or creating plaintext database at: %s", opts.Path)
	db, err := Open(opts.Path, name, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if opts.Clear {
		if err := db.Clear(); err != nil {
			return nil, err
		}
		log.Notice("Cleared all plaintexts from database")
	}
	logCounts(log, db, "Currently")

	if opts.Reindex {
		return nil, reindex(db, opts.Oracle, log)
	}

	if opts.StopAfter > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.StopAfter)
		defer cancel()
	}

	w := worker.New(ctx)
	saveChs := make([]chan struct{}, opts.Threads)
	for t := range saveChs {
		saveCh := make(chan struct{}, 1)
		saveChs[t] = saveCh
		h := db.Clone()
		w.Go(func() error {
			return collectWorker(w, t, h, saveCh, opts)
		})
	}

	var tick <-chan time.Time
	if opts.SaveInterval > 0 {
		ticker := time.NewTicker(opts.SaveInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	start := time.Now()
loop:
	for {
		select {
		case <-w.HaltCh():
			break loop
		case <-tick:
			for _, ch := range saveChs {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Noticef("%v has elapsed since start, performing graceful shutdown!", time.Since(start).Round(time.Millisecond))
	}
	w.Halt()
	if err := w.Err(); err != nil {
		return nil, err
	}
	if err := db.Flush(); err != nil {
		return nil, err
	}
	return logCounts(log, db, "Ended with"), nil
}

func collectWorker(w *worker.Worker, t int, db *PlaintextDB, saveCh <-chan struct{}, opts *CollectOptions) error {
	log := opts.Log
	name := opts.Oracle.Descriptor().Name
	log.Debugf("Worker %d has started working!", t)
	pt := make([]byte, opts.Oracle.Descriptor().PlaintextSize)
	for {
		select {
		case <-w.HaltCh():
			log.Debugf("Stopping worker %d gracefully...", t)
			return db.SaveIterCounts()
		case <-saveCh:
			if err := db.SaveIterCounts(); err != nil {
				log.Errorf("Worker %d: %v", t, err)
				return err
			}
		default:
		}

		if _, err := io.ReadFull(opts.Rand, pt); err != nil {
			return err
		}
		iter, err := opts.Oracle.NumRejections(pt)
		if err != nil {
			log.Errorf("Worker %d: %v", t, err)
			return err
		}
		if err := db.Add(pt, uint32(iter)); err != nil {
			log.Errorf("Worker %d: %v", t, err)
			return err
		}
		instrument.Plaintexts(name)
	}
}

func reindex(db *PlaintextDB, o kem.RejectionSampler, log *logging.Logger) error {
	n := 0
	changes, err := db.Reindex(func(pt []byte) (uint32, error) {
		n++
		if n%1000 == 0 {
			log.Infof("Reindexed %d plaintexts", n)
		}
		iter, err := o.NumRejections(pt)
		return uint32(iter), err
	})
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		log.Noticef("%s %d times", k, changes[k])
	}
	if err != nil {
		return err
	}
	log.Notice("Done reindexing plaintexts")
	return nil
}

func logCounts(log *logging.Logger, db *PlaintextDB, prefix string) []IterCount {
	counts, err := db.IterCounts()
	if err != nil {
		log.Warningf("Failed to read counts: %v", err)
		return nil
	}
	for _, c := range counts {
		log.Noticef("%s %d out of %d encountered plaintexts with %d iterations", prefix, c.Saved, c.Encountered, c.Iter)
	}
	return counts
}
