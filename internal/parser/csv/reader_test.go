package csv

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"catalogimport/internal/config"
)

// readAll drains r, collecting rows and row-scoped errors until EOF or a
// fatal error.
func readAll(t *testing.T, r *Reader) (rows []Row, rowErrs []error, fatal error) {
	t.Helper()
	ctx := context.Background()
	for {
		row, err := r.Next(ctx)
		switch {
		case err == nil:
			rows = append(rows, row)
		case errors.Is(err, io.EOF):
			return rows, rowErrs, nil
		case errors.Is(err, ErrMalformedRow):
			rowErrs = append(rowErrs, err)
		default:
			return rows, rowErrs, err
		}
	}
}

func TestReader_SkipsBlankLinesAndTracksLines(t *testing.T) {
	t.Parallel()

	in := "UNIQUE_KEY,PRODUCT_TITLE\n\nSKU1,Shirt\n\n\nSKU2, Hat \n"
	r, err := NewReader(strings.NewReader(in), Options{LazyQuotes: true})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rows, rowErrs, fatal := readAll(t, r)
	if fatal != nil || len(rowErrs) != 0 {
		t.Fatalf("fatal=%v rowErrs=%v", fatal, rowErrs)
	}

	want := []Row{
		{Line: 1, Fields: []string{"UNIQUE_KEY", "PRODUCT_TITLE"}},
		{Line: 3, Fields: []string{"SKU1", "Shirt"}},
		{Line: 6, Fields: []string{"SKU2", " Hat "}},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %#v\nwant %#v", rows, want)
	}

	// EOF is sticky.
	if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next after EOF = %v, want io.EOF", err)
	}
}

func TestReader_VariableWidthAndDelimiter(t *testing.T) {
	t.Parallel()

	in := "a;b;c\n1;2\n3;4;5;6\n"
	r, err := NewReader(strings.NewReader(in), Options{Comma: ';'})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rows, _, fatal := readAll(t, r)
	if fatal != nil {
		t.Fatalf("fatal: %v", fatal)
	}
	if len(rows) != 3 || len(rows[1].Fields) != 2 || len(rows[2].Fields) != 4 {
		t.Fatalf("rows = %#v", rows)
	}
}

func TestReader_MalformedRowIsRowScoped(t *testing.T) {
	t.Parallel()

	in := "k,v\nSKU1,ok\nSKU2,\"bad\"x\nSKU3,ok\n"
	r, err := NewReader(strings.NewReader(in), Options{LazyQuotes: false})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rows, rowErrs, fatal := readAll(t, r)
	if fatal != nil {
		t.Fatalf("fatal: %v", fatal)
	}
	if len(rowErrs) != 1 {
		t.Fatalf("row errors = %v, want 1", rowErrs)
	}
	var keys []string
	for _, row := range rows {
		keys = append(keys, row.Fields[0])
	}
	if !reflect.DeepEqual(keys, []string{"k", "SKU1", "SKU3"}) {
		t.Fatalf("keys = %v", keys)
	}
}

func TestReader_StripsLeadingBOM(t *testing.T) {
	t.Parallel()

	in := "\uFEFF\"UNIQUE_KEY\",PIECE_PRICE\nSKU1,1\n"
	r, err := NewReader(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rows, rowErrs, fatal := readAll(t, r)
	if fatal != nil || len(rowErrs) != 0 {
		t.Fatalf("fatal=%v rowErrs=%v", fatal, rowErrs)
	}
	if rows[0].Fields[0] != "UNIQUE_KEY" {
		t.Fatalf("first header cell = %q", rows[0].Fields[0])
	}
}

func TestReader_InvalidUTF8PassesThrough(t *testing.T) {
	t.Parallel()

	in := "k,v\nSKU1,ab\xffc\n"
	r, err := NewReader(strings.NewReader(in), Options{SourceEncoding: "utf-8"})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rows, _, fatal := readAll(t, r)
	if fatal != nil {
		t.Fatalf("fatal: %v", fatal)
	}
	if got := rows[1].Fields[1]; got != "ab\xffc" {
		t.Fatalf("field = %q, want raw bytes preserved", got)
	}
}

func TestReader_TranscodesWindows1252(t *testing.T) {
	t.Parallel()

	in := "k,v\nSKU1,Caf\xe9\n"
	r, err := NewReader(strings.NewReader(in), Options{SourceEncoding: "windows-1252"})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rows, _, fatal := readAll(t, r)
	if fatal != nil {
		t.Fatalf("fatal: %v", fatal)
	}
	if got := rows[1].Fields[1]; got != "Café" {
		t.Fatalf("field = %q, want Café", got)
	}
}

func TestNewReader_UnknownEncoding(t *testing.T) {
	t.Parallel()

	if _, err := NewReader(strings.NewReader("a\n"), Options{SourceEncoding: "klingon"}); err == nil {
		t.Fatal("NewReader with unknown encoding should fail")
	}
	if ValidEncoding("klingon") || !ValidEncoding("latin1") || !ValidEncoding("") {
		t.Fatal("ValidEncoding mismatch")
	}
}

type failAfter struct {
	data []byte
	err  error
}

func (f *failAfter) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestReader_ReadFailureIsFatalIOError(t *testing.T) {
	t.Parallel()

	boom := errors.New("device vanished")
	src := &failAfter{data: []byte("k,v\nSKU1,a\nSKU2,"), err: boom}
	r, err := NewReader(src, Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rows, _, fatal := readAll(t, r)
	if len(rows) != 2 {
		t.Fatalf("rows before failure = %d, want 2", len(rows))
	}
	var ioe *IOError
	if !errors.As(fatal, &ioe) || !errors.Is(fatal, boom) {
		t.Fatalf("fatal = %v, want *IOError wrapping boom", fatal)
	}
	if _, err := r.Next(context.Background()); !errors.As(err, &ioe) {
		t.Fatalf("IOError should be sticky, got %v", err)
	}
}

func TestReader_HonoursCancelledContext(t *testing.T) {
	t.Parallel()

	r, err := NewReader(strings.NewReader("a\nb\n"), Options{})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next(cancelled) = %v, want context.Canceled", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	t.Parallel()

	got := OptionsFromConfig(config.Options{"comma": "|", "source_encoding": "latin1"})
	want := Options{Comma: '|', LazyQuotes: true, SourceEncoding: "latin1"}
	if got != want {
		t.Fatalf("OptionsFromConfig = %#v, want %#v", got, want)
	}
}
