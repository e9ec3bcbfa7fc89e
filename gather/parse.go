// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package gather

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"time"
)

// Missing is recorded for a count the attack output did not report.
const Missing = 10000000

var (
	reSuccess     = regexp.MustCompile(`^Success\? ([01])`)
	reOracleCalls = regexp.MustCompile(`^Decryption oracle calls: (\d+)$`)
	reWrongBits   = regexp.MustCompile(`^Final classification: (\d+) `)
)

// Measurement is the outcome of one attack run.
type Measurement struct {
	Success     bool
	OracleCalls uint64
	WrongBits   uint64

	// Reported is false if the output carried no success line.
	Reported bool

	// Elapsed is the run time of the trial.  Parse leaves it zero.
	Elapsed time.Duration
}

// Parse scans attack output and returns the measurement it reports
// together with its last keep lines.  Later matches override earlier ones.
func Parse(r io.Reader, keep int) (*Measurement, []string, error) {
	m := &Measurement{OracleCalls: Missing, WrongBits: Missing}
	ring := newRing(keep)

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for s.Scan() {
		line := s.Text()
		ring.push(line)
		if sm := reSuccess.FindStringSubmatch(line); sm != nil {
			m.Success = sm[1] == "1"
			m.Reported = true
		}
		if sm := reOracleCalls.FindStringSubmatch(line); sm != nil {
			if v, err := strconv.ParseUint(sm[1], 10, 64); err == nil {
				m.OracleCalls = v
			}
		}
		if sm := reWrongBits.FindStringSubmatch(line); sm != nil {
			if v, err := strconv.ParseUint(sm[1], 10, 64); err == nil {
				m.WrongBits = v
			}
		}
	}
	return m, ring.lines(), s.Err()
}

// ring keeps the last n lines pushed.
type ring struct {
	buf  []string
	next int
	full bool
}

func newRing(n int) *ring {
	return &ring{buf: make([]string, n)}
}

func (r *ring) push(s string) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = s
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) lines() []string {
	if !r.full {
		return append([]string{}, r.buf[:r.next]...)
	}
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
