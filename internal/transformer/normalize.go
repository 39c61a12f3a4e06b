// Package transformer turns raw CSV records into products.
//
// Normalize is a pure function of the record and the resolved header: it
// never touches storage and never panics on short or odd rows. Its result is
// a tagged value; callers switch on Outcome instead of inspecting errors.
package transformer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"catalogimport/internal/model"
	"catalogimport/internal/parser/csv"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Outcome tags a normalization Result.
type Outcome int

const (
	// OutcomeOK carries a product ready for upsert.
	OutcomeOK Outcome = iota
	// OutcomeSkip means the row is dropped; Reason says why.
	OutcomeSkip
)

func (o Outcome) String() string {
	if o == OutcomeOK {
		return "ok"
	}
	return "skip"
}

// Reason is a row skip cause. Values double as metric kinds.
type Reason string

const (
	ReasonEmpty       Reason = "empty"
	ReasonColumnCount Reason = "column_count"
	ReasonMissingKey  Reason = "missing_key"
)

// Result is the outcome of normalizing one row.
type Result struct {
	Outcome Outcome
	Product model.Product
	Reason  Reason
	Detail  string
}

func skip(r Reason, format string, args ...any) Result {
	return Result{Outcome: OutcomeSkip, Reason: r, Detail: fmt.Sprintf(format, args...)}
}

// Normalizer cleans data rows against a fixed header.
type Normalizer struct {
	Header csv.Header

	// NFC additionally applies Unicode NFC normalization to every field.
	NFC bool
}

// Normalize cleans fields and projects them onto a product.
//
// Rows whose fields are all blank are skipped first. Then every field is
// cleaned (invalid UTF-8 dropped, NUL removed, optional NFC, trimmed), the
// width is checked against the header, and the named columns are read.
// Empty values are absent. An unparseable price leaves PiecePrice nil.
func (n Normalizer) Normalize(fields []string) Result {
	if Blank(fields) {
		return skip(ReasonEmpty, "row has no values")
	}

	clean := make([]string, len(fields))
	for i, f := range fields {
		clean[i] = CleanText(f, n.NFC)
	}

	if len(clean) != n.Header.Len() {
		return skip(ReasonColumnCount, "expected %d fields, got %d", n.Header.Len(), len(clean))
	}

	get := func(col string) *string {
		i, ok := n.Header.Index(col)
		if !ok || clean[i] == "" {
			return nil
		}
		v := clean[i]
		return &v
	}

	key := get(model.ColUniqueKey)
	if key == nil {
		return skip(ReasonMissingKey, "%s is empty or missing", model.ColUniqueKey)
	}

	p := model.Product{
		UniqueKey:      *key,
		Title:          get(model.ColTitle),
		Description:    get(model.ColDescription),
		StyleNumber:    get(model.ColStyleNumber),
		MainframeColor: get(model.ColMainframeColor),
		Size:           get(model.ColSize),
		ColorName:      get(model.ColColorName),
	}
	if s := get(model.ColPiecePrice); s != nil {
		p.PiecePrice = ParsePrice(*s)
	}
	return Result{Outcome: OutcomeOK, Product: p}
}

// Blank reports whether every field is empty after trimming whitespace.
func Blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// stripNUL removes U+0000, which PostgreSQL text columns reject.
var stripNUL = runes.Remove(runes.Predicate(func(r rune) bool { return r == 0 }))

// CleanText drops invalid UTF-8 sequences (no replacement character), removes
// NUL, optionally applies NFC, and trims surrounding whitespace.
func CleanText(s string, nfc bool) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	if strings.IndexByte(s, 0) >= 0 {
		s, _, _ = transform.String(stripNUL, s)
	}
	if nfc {
		s = norm.NFC.String(s)
	}
	return strings.TrimSpace(s)
}
