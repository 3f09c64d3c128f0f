// Package dataset writes generated rows to CSV and assembles segment files
// into the final dataset.
package dataset

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/ontology"
	"github.com/teranos/ontogen/schema"
)

// Header is the fixed column set of every dataset file
var Header = []string{"original_path", "matched_paths", "query", "reasoning", "parsed_output"}

// Row is one completed query derivation
type Row struct {
	Unit         ontology.Unit
	Matched      *schema.Combinations
	Query        string
	Reasoning    string
	ParsedOutput schema.ParsedOutput
}

// Record encodes the row in Header order. Structured columns are canonical JSON.
func (r Row) Record() ([]string, error) {
	original, err := schema.UnitReference(r.Unit.Category, r.Unit.Path)
	if err != nil {
		return nil, err
	}
	matched := r.Matched
	if matched.Empty() {
		matched = &schema.Combinations{Combinations: []schema.ParsedOutput{}}
	}
	matchedJSON, err := schema.Canonical(matched)
	if err != nil {
		return nil, err
	}
	parsed, err := schema.Canonical(r.ParsedOutput)
	if err != nil {
		return nil, err
	}
	return []string{original, matchedJSON, r.Query, r.Reasoning, parsed}, nil
}

// CSVSink appends rows to one CSV file. It never deduplicates: running the
// same segment twice appends both runs.
type CSVSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
	rows int
}

// OpenCSV opens path for appending and writes the header if the file is new
// or empty
func OpenCSV(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
			return nil, errors.Wrapf(err, "failed to create dataset directory %s", dir)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, am.DefaultFilePermissions)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open dataset file %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to stat dataset file %s", path)
	}

	s := &CSVSink{path: path, file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.write(Header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CSVSink) write(record []string) error {
	if err := s.w.Write(record); err != nil {
		return errors.Wrapf(err, "failed to write %s", s.path)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return errors.Wrapf(err, "failed to flush %s", s.path)
	}
	return nil
}

// Append writes one row and flushes it, so a crash loses at most the row in
// flight
func (s *CSVSink) Append(ctx context.Context, row Row) error {
	record, err := row.Record()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.Newf("dataset file %s is closed", s.path)
	}
	if err := s.write(record); err != nil {
		return err
	}
	s.rows++
	return nil
}

// Rows is the number of rows appended through this sink
func (s *CSVSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Path is the file the sink writes to
func (s *CSVSink) Path() string {
	return s.path
}

// Close flushes and closes the file
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	s.w.Flush()
	err := s.w.Error()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}
