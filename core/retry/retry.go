// retry.go - Shared retry logic with exponential backoff.
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

// Package retry provides retry logic with exponential backoff for
// operations that fail on transient resource exhaustion, such as spawning
// processes.
package retry

import (
	"context"
	"errors"
	"math"
	"strings"
	"syscall"
	"time"

	"github.com/katzenpost/hpqc/rand"
)

// Default retry configuration constants
const (
	// DefaultMaxAttempts is the default maximum number of attempts
	DefaultMaxAttempts = 10

	// DefaultBaseDelay is the default base delay between retries
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay is the default maximum delay between retries
	DefaultMaxDelay = 10 * time.Second

	// DefaultJitter is the default jitter factor (0.0 to 1.0)
	DefaultJitter = 0.2
)

// Delay calculates the delay for a given retry attempt using exponential
// backoff with jitter.
func Delay(baseDelay, maxDelay time.Duration, jitter float64, attempt int) time.Duration {
	// Calculate exponential delay
	delay := float64(baseDelay) * math.Pow(2, float64(attempt))

	// Cap at maxDelay
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if jitter > 0 {
		r := rand.NewMath()
		jitterFactor := 1 - jitter + r.Float64()*2*jitter
		delay *= jitterFactor
	}

	return time.Duration(delay)
}

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64

	// Retryable decides whether an error is worth another attempt.  Nil
	// selects IsTransientError.
	Retryable func(error) bool

	// OnRetry, if set, is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns a Policy with the default constants.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

// Do calls fn until it succeeds, returns a non retryable error, the
// attempts are exhausted or ctx is done.  The last error is returned.
func (p *Policy) Do(ctx context.Context, fn func() error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransientError
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		delay := Delay(p.BaseDelay, p.MaxDelay, p.Jitter, attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

// IsTransientError returns true if the error is likely caused by a
// momentary shortage of processes, file descriptors or memory and is worth
// retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	for _, errno := range []syscall.Errno{
		syscall.EAGAIN,
		syscall.EMFILE,
		syscall.ENFILE,
		syscall.ENOMEM,
		syscall.ETXTBSY,
		syscall.EINTR,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	transientPatterns := []string{
		"resource temporarily unavailable",
		"too many open files",
		"cannot allocate memory",
		"text file busy",
	}

	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}
