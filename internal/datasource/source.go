// Package datasource provides row-oriented inputs for data-driven steps.
package datasource

import (
	"context"

	"github.com/Phazzie/autoclick/pkg/schema"
)

// Row is one record keyed by column name.
type Row map[string]any

// Iterator walks rows forward-only. There is no rewind; restart by
// calling Source.Rows again.
type Iterator interface {
	// Next returns the next row. The bool is false once the source is
	// exhausted; a non-nil error means the read itself failed.
	Next(ctx context.Context) (Row, bool, error)
	// Close releases any underlying reader. Safe to call twice.
	Close() error
}

// Source is a named table of rows.
type Source interface {
	Name() string
	Columns(ctx context.Context) ([]string, error)
	RowCount(ctx context.Context) (int, error)
	Rows(ctx context.Context) (Iterator, error)
}

// MemorySource serves rows from a slice. Iteration order is slice order.
type MemorySource struct {
	name    string
	columns []string
	rows    []Row
}

// NewMemorySource creates a source over the given rows.
func NewMemorySource(name string, columns []string, rows []Row) *MemorySource {
	return &MemorySource{name: name, columns: columns, rows: rows}
}

func (s *MemorySource) Name() string { return s.name }

func (s *MemorySource) Columns(_ context.Context) ([]string, error) {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out, nil
}

func (s *MemorySource) RowCount(_ context.Context) (int, error) {
	return len(s.rows), nil
}

func (s *MemorySource) Rows(_ context.Context) (Iterator, error) {
	return &memoryIterator{rows: s.rows}, nil
}

type memoryIterator struct {
	rows []Row
	pos  int
}

func (it *memoryIterator) Next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.pos]
	it.pos++
	// Copy so callers cannot mutate the backing slice between restarts.
	cp := make(Row, len(row))
	for k, v := range row {
		cp[k] = v
	}
	return cp, true, nil
}

func (it *memoryIterator) Close() error { return nil }

var _ Source = (*MemorySource)(nil)

// requireColumns validates a header for duplicates and blanks.
func requireColumns(cols []string) error {
	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		if c == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "column %d has an empty name", i)
		}
		if seen[c] {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate column %q", c)
		}
		seen[c] = true
	}
	return nil
}
