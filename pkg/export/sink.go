package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
)

// Sink accepts export rows in hierarchical order. The exporter
// guarantees no row is written out of order and no row is written twice.
type Sink interface {
	Write(row Row) error
}

// CSVSink writes rows to a CSV stream, header first.
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink creates (truncating) the CSV file at path and writes the
// header line.
func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s := &CSVSink{w: csv.NewWriter(f), closer: f}
	if err := s.w.Write(Columns); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// NewCSVWriterSink wraps an arbitrary writer (used by tests and stdout
// output) and writes the header line.
func NewCSVWriterSink(w io.Writer) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(w)}
	if err := s.w.Write(Columns); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenAppendCSVSink opens the CSV file at path for appending, creating
// it (with header) when absent. Full-scan runs reopen their per-type
// files across days this way.
func OpenAppendCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s := &CSVSink{w: csv.NewWriter(f), closer: f}
	if os.IsNotExist(statErr) {
		if err := s.w.Write(Columns); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Write implements Sink.
func (s *CSVSink) Write(row Row) error {
	return s.w.Write(row.Record())
}

// Close flushes buffered rows and closes the underlying file, if any.
func (s *CSVSink) Close() error {
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
