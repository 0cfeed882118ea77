package datasource

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"
)

// CSVSource reads rows from a CSV file. The first record is the header.
// Cell values stay strings; numeric coercion happens downstream in the
// expression layer. The file is opened lazily per call, so each Rows
// invocation restarts iteration from the top.
type CSVSource struct {
	name string
	path string

	mu      sync.Mutex
	columns []string // cached after first read
	count   int
	counted bool
}

// NewCSVSource creates a source over the CSV file at path.
func NewCSVSource(name, path string) *CSVSource {
	return &CSVSource{name: name, path: path}
}

func (s *CSVSource) Name() string { return s.name }

func (s *CSVSource) Columns(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.columns == nil {
		header, err := s.readHeader()
		if err != nil {
			return nil, err
		}
		s.columns = header
	}
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out, nil
}

func (s *CSVSource) RowCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.counted {
		n := s.count
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	it, err := s.Rows(ctx)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for {
		_, ok, err := it.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		n++
	}

	s.mu.Lock()
	s.count = n
	s.counted = true
	s.mu.Unlock()
	return n, nil
}

func (s *CSVSource) Rows(_ context.Context) (Iterator, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", s.path, err)
	}
	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read csv header %s: %w", s.path, err)
	}
	if err := requireColumns(header); err != nil {
		f.Close()
		return nil, err
	}

	s.mu.Lock()
	if s.columns == nil {
		s.columns = append([]string(nil), header...)
	}
	s.mu.Unlock()

	return &csvIterator{file: f, reader: r, columns: header}, nil
}

func (s *CSVSource) readHeader() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", s.path, err)
	}
	defer f.Close()
	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header %s: %w", s.path, err)
	}
	if err := requireColumns(header); err != nil {
		return nil, err
	}
	return append([]string(nil), header...), nil
}

type csvIterator struct {
	file    *os.File
	reader  *csv.Reader
	columns []string
	closed  bool
}

func (it *csvIterator) Next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.closed {
		return nil, false, nil
	}
	record, err := it.reader.Read()
	if err == io.EOF {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read csv row: %w", err)
	}
	row := make(Row, len(it.columns))
	for i, col := range it.columns {
		row[col] = record[i]
	}
	return row, true, nil
}

func (it *csvIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.file.Close()
}

var _ Source = (*CSVSource)(nil)
