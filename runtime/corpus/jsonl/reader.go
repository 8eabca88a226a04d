// Package jsonl reads newline-delimited input one line at a time with a
// bound on line length. An oversized line is discarded up to its newline and
// reported, and the reader stays usable for the lines that follow.
package jsonl

import (
	"bufio"
	"errors"
	"io"
)

// MaxLineBytes is the default bound on a single line, excluding its
// terminator.
const MaxLineBytes = 10 * 1024 * 1024

// ErrTooLong is returned for a line longer than the reader bound.
var ErrTooLong = errors.New("line exceeds the length limit")

// Reader yields the lines of an input stream.
type Reader struct {
	r   *bufio.Reader
	max int
	buf []byte
	eof bool
}

// NewReader returns a Reader over r. A max of zero or less selects
// MaxLineBytes.
func NewReader(r io.Reader, max int) *Reader {
	if max <= 0 {
		max = MaxLineBytes
	}
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), max: max}
}

// Limit returns the line length bound.
func (r *Reader) Limit() int { return r.max }

// Next returns the next line without its "\n" or "\r\n" terminator. The
// returned slice is only valid until the next call. A final line without a
// terminator is returned; an empty trailing line is not. Next returns
// ErrTooLong for an oversized line, io.EOF at the end of input and any other
// read error as is.
func (r *Reader) Next() ([]byte, error) {
	if r.eof {
		return nil, io.EOF
	}
	r.buf = r.buf[:0]
	tooLong := false
	for {
		chunk, err := r.r.ReadSlice('\n')
		if !tooLong {
			r.buf = append(r.buf, chunk...)
			// +2 leaves room for the terminator.
			if len(r.buf) > r.max+2 {
				tooLong = true
				r.buf = r.buf[:0]
			}
		}
		switch {
		case err == nil:
			return r.line(tooLong)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			r.eof = true
			if !tooLong && len(r.buf) == 0 {
				return nil, io.EOF
			}
			return r.line(tooLong)
		default:
			return nil, err
		}
	}
}

func (r *Reader) line(tooLong bool) ([]byte, error) {
	line := r.buf
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	if tooLong || len(line) > r.max {
		return nil, ErrTooLong
	}
	return line, nil
}
