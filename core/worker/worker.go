// worker.go - Background worker tasks.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package worker provides managed background goroutines bound to a
// context.
package worker

import (
	"context"
	"sync"
)

// Worker is a set of managed background goroutines.  The zero value is
// bound to context.Background.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	errMu sync.Mutex
	err   error
}

// New returns a Worker whose goroutines are halted when ctx is done.
func New(ctx context.Context) *Worker {
	return &Worker{parent: ctx}
}

// Go executes fn in a new goroutine.  It is fn's responsibility to watch
// HaltCh and return.  The first non-nil error returned by any fn is kept
// for Err and halts the remaining goroutines.
func (w *Worker) Go(fn func() error) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		if err := fn(); err != nil {
			w.errMu.Lock()
			if w.err == nil {
				w.err = err
			}
			w.errMu.Unlock()
			w.cancel()
		}
	}()
}

// Halt signals every goroutine to terminate and waits until all of them
// have returned.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.cancel()
	w.Wait()
}

// HaltCh returns a channel that is closed on Halt or when the parent
// context is done.
func (w *Worker) HaltCh() <-chan struct{} {
	w.initOnce.Do(w.init)
	return w.ctx.Done()
}

// Context returns the context the goroutines run under.
func (w *Worker) Context() context.Context {
	w.initOnce.Do(w.init)
	return w.ctx
}

// Err returns the first error returned by a goroutine.
func (w *Worker) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *Worker) init() {
	if w.parent == nil {
		w.parent = context.Background()
	}
	w.ctx, w.cancel = context.WithCancel(w.parent)
}
