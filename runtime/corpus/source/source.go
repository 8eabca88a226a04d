// Package source adapts raw-record providers to the writer's iteration
// contract. Acquiring datasets is out of scope; these sources only decode
// records that were already fetched.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"goa.design/agentcorpus/runtime/corpus/failure"
	"goa.design/agentcorpus/runtime/corpus/jsonl"
	"goa.design/agentcorpus/runtime/corpus/resolve"
)

type (
	// JSONLSource yields one raw record per non-blank line of a reader.
	JSONLSource struct {
		lines *jsonl.Reader
		line  int
	}

	// SliceSource yields records from memory.
	SliceSource struct {
		records []resolve.RawRecord
		next    int
	}
)

// JSONL returns a source decoding line-delimited JSON objects from r. Lines
// are bounded by jsonl.MaxLineBytes.
func JSONL(r io.Reader) *JSONLSource {
	return JSONLWithLimit(r, jsonl.MaxLineBytes)
}

// JSONLWithLimit is JSONL with a custom line length bound.
func JSONLWithLimit(r io.Reader, maxLine int) *JSONLSource {
	return &JSONLSource{lines: jsonl.NewReader(r, maxLine)}
}

// Next returns the next record or io.EOF. A line that is not a JSON object or
// exceeds the length bound yields a failure.KindUnusable error and the source
// stays usable; read failures are failure.KindIO.
func (s *JSONLSource) Next(ctx context.Context) (resolve.RawRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := s.lines.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, jsonl.ErrTooLong):
			s.line++
			return nil, failure.Errorf(failure.KindUnusable, "line %d: exceeds the %d byte limit", s.line, s.lines.Limit())
		case err != nil:
			return nil, failure.Wrap(failure.KindIO, "read records", err)
		}
		s.line++
		line := bytes.TrimSpace(b)
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var raw resolve.RawRecord
		if err := dec.Decode(&raw); err != nil || raw == nil {
			return nil, failure.Errorf(failure.KindUnusable, "line %d: not a JSON object", s.line)
		}
		return raw, nil
	}
}

// Slice returns a source over records.
func Slice(records ...resolve.RawRecord) *SliceSource {
	return &SliceSource{records: records}
}

// Next returns the next record or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (resolve.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.next]
	s.next++
	return r, nil
}
