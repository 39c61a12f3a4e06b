package csv

import "strings"

// Header is the canonical column table resolved from the first non-empty row.
// It is immutable once built.
type Header struct {
	names []string
	index map[string]int
}

// ResolveHeader cleans each header cell (invalid UTF-8 dropped, BOM removed
// from the first cell, whitespace trimmed, uppercased) and applies headerMap
// aliases. Alias keys are matched case-insensitively. When a name repeats, the
// rightmost column wins.
func ResolveHeader(fields []string, headerMap map[string]string) Header {
	aliases := make(map[string]string, len(headerMap))
	for k, v := range headerMap {
		k, v = canonical(k), canonical(v)
		if k != "" && v != "" {
			aliases[k] = v
		}
	}

	cells := make([]string, len(fields))
	copy(cells, fields)
	StripHeaderBOM(cells)

	h := Header{
		names: make([]string, len(cells)),
		index: make(map[string]int, len(cells)),
	}
	for i, c := range cells {
		name := canonical(c)
		if a, ok := aliases[name]; ok {
			name = a
		}
		h.names[i] = name
		if name != "" {
			h.index[name] = i
		}
	}
	return h
}

func canonical(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ToUpper(strings.TrimSpace(s))
}

// Len is the number of columns, including blank and unknown ones.
func (h Header) Len() int { return len(h.names) }

// Names returns a copy of the canonical names in file order.
func (h Header) Names() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

// Index returns the column position of name (case-insensitive).
func (h Header) Index(name string) (int, bool) {
	i, ok := h.index[strings.ToUpper(name)]
	return i, ok
}

// Has reports whether name is a column.
func (h Header) Has(name string) bool {
	_, ok := h.Index(name)
	return ok
}
