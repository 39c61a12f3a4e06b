// Package csv provides the streaming CSV reader and header resolution used by
// the ingestion run.
//
// Reader yields one record at a time on top of encoding/csv and a buffered
// reader, so memory stays bounded regardless of file size. Physically empty
// lines are skipped. Field bytes are passed through untouched (apart from the
// optional source-encoding transcode); cleaning is the normalizer's job.
package csv

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"catalogimport/internal/config"
)

// ErrMalformedRow marks a record encoding/csv could not parse (bad quoting).
// It is row-scoped: the Reader stays usable after returning it.
var ErrMalformedRow = errors.New("csv: malformed row")

// IOError is a read or open failure of the underlying file. It is fatal for
// the run; the Reader returns the same error on every later call.
type IOError struct {
	Op  string // "open" or "read"
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("csv %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// Options configures a Reader.
type Options struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune

	// LazyQuotes tolerates quotes inside unquoted fields.
	LazyQuotes bool

	// SourceEncoding is a WHATWG encoding label ("windows-1252",
	// "iso-8859-1", ...). Empty or any UTF-8 label reads bytes as-is.
	SourceEncoding string
}

// OptionsFromConfig reads comma, lazy_quotes and source_encoding from the
// parser options bag.
func OptionsFromConfig(o config.Options) Options {
	return Options{
		Comma:          o.Rune("comma", ','),
		LazyQuotes:     o.Bool("lazy_quotes", true),
		SourceEncoding: o.String("source_encoding", ""),
	}
}

// Row is one raw record. Line is the 1-based line where the record starts.
type Row struct {
	Line   int
	Fields []string
}

// Reader is a forward-only stream of rows.
type Reader struct {
	cr  *csv.Reader
	err error // sticky fatal error
}

// NewReader wraps r. It fails only when opt.SourceEncoding is unknown.
func NewReader(r io.Reader, opt Options) (*Reader, error) {
	src, err := decodeReader(r, opt.SourceEncoding)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(src, 64*1024)
	if err := skipBOM(br); err != nil && !errors.Is(err, io.EOF) {
		return nil, &IOError{Op: "read", Err: err}
	}

	cr := csv.NewReader(br)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	// Width is checked against the header by the normalizer.
	cr.FieldsPerRecord = -1

	return &Reader{cr: cr}, nil
}

// Next returns the next row, io.EOF at the end of input, an error wrapping
// ErrMalformedRow for an unparseable record, or an *IOError. A cancelled ctx
// is returned as-is.
func (r *Reader) Next(ctx context.Context) (Row, error) {
	if r.err != nil {
		return Row{}, r.err
	}
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	rec, err := r.cr.Read()
	switch {
	case err == nil:
		line, _ := r.cr.FieldPos(0)
		return Row{Line: line, Fields: rec}, nil
	case errors.Is(err, io.EOF):
		r.err = io.EOF
		return Row{}, io.EOF
	}

	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return Row{Line: pe.StartLine}, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, pe.StartLine, pe.Err)
	}
	r.err = &IOError{Op: "read", Err: err}
	return Row{}, r.err
}
