// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package recorder

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// WriteCSV writes the series as a column-major table: a header row of
// series names followed by rows holding each series' samples in ascending
// order.  Shorter series leave blank cells.
func WriteCSV(w io.Writer, recs []*Recorder) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(recs))
	columns := make([][]uint64, len(recs))
	rows := 0
	for i, r := range recs {
		header[i] = r.Name()
		col := make([]uint64, 0, r.Len())
		r.Values(func(v uint64) bool {
			col = append(col, v)
			return true
		})
		columns[i] = col
		if len(col) > rows {
			rows = len(col)
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(recs))
	for i := 0; i < rows; i++ {
		for j, col := range columns {
			if i < len(col) {
				row[j] = strconv.FormatUint(col[i], 10)
			} else {
				row[j] = ""
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV atomically replaces path with the CSV rendering of recs.
func SaveCSV(path string, recs []*Recorder) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("recorder: failed to create %s: %w", path, err)
	}
	tmp := f.Name()
	if err = WriteCSV(f, recs); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("recorder: failed to write %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadCSV parses a table produced by WriteCSV.  The returned series have no
// cutoff.
func ReadCSV(r io.Reader) ([]*Recorder, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("recorder: failed to read header: %w", err)
	}
	recs := make([]*Recorder, len(header))
	for i, name := range header {
		recs[i] = New(name, nil)
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for i, cell := range row {
			if cell == "" || i >= len(recs) {
				continue
			}
			v, err := strconv.ParseUint(cell, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("recorder: line %d column %d: %w", line, i+1, err)
			}
			recs[i].Record(v)
		}
	}
	return recs, nil
}

// LoadCSV reads a table written by SaveCSV.
func LoadCSV(path string) ([]*Recorder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// Sink collects the series of a campaign and persists them to a single
// CSV file on every Save.  A Sink with an empty path keeps series in memory
// only.
type Sink struct {
	path string
	recs []*Recorder
}

// NewSink returns a Sink writing to path.
func NewSink(path string) *Sink {
	return &Sink{path: path}
}

// Add appends a series.
func (s *Sink) Add(r *Recorder) {
	s.recs = append(s.recs, r)
}

// Recorders returns the collected series in insertion order.
func (s *Sink) Recorders() []*Recorder {
	return s.recs
}

// Path returns the output path.
func (s *Sink) Path() string {
	return s.path
}

// Save persists all series.
func (s *Sink) Save() error {
	if s.path == "" {
		return nil
	}
	return SaveCSV(s.path, s.recs)
}
