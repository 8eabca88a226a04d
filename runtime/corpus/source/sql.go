package source

import (
	"context"
	"database/sql"
	"io"

	"goa.design/agentcorpus/runtime/corpus/failure"
	"goa.design/agentcorpus/runtime/corpus/resolve"
)

// RowsSource yields one raw record per result row, keyed by column name.
type RowsSource struct {
	rows *sql.Rows
	cols []string
	vals []any
	ptrs []any
	done bool
}

// Query runs query on db and returns a source streaming the result set.
// Column names become record keys and byte values are decoded as text. The
// caller must Close the source.
func Query(ctx context.Context, db *sql.DB, query string, args ...any) (*RowsSource, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, failure.Wrap(failure.KindIO, "query records", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, failure.Wrap(failure.KindIO, "read columns", err)
	}
	s := &RowsSource{
		rows: rows,
		cols: cols,
		vals: make([]any, len(cols)),
		ptrs: make([]any, len(cols)),
	}
	for i := range s.vals {
		s.ptrs[i] = &s.vals[i]
	}
	return s, nil
}

// Next returns the next row or io.EOF. Scan and driver failures are fatal.
func (s *RowsSource) Next(ctx context.Context) (resolve.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	if !s.rows.Next() {
		s.done = true
		if err := s.rows.Err(); err != nil {
			return nil, failure.Wrap(failure.KindIO, "read rows", err)
		}
		return nil, io.EOF
	}
	if err := s.rows.Scan(s.ptrs...); err != nil {
		return nil, failure.Wrap(failure.KindIO, "scan row", err)
	}
	raw := make(resolve.RawRecord, len(s.cols))
	for i, col := range s.cols {
		v := s.vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		raw[col] = v
	}
	return raw, nil
}

// Close releases the result set.
func (s *RowsSource) Close() error {
	return s.rows.Close()
}
