package csv

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// decodeReader wraps r with a decoder from label to UTF-8. UTF-8 labels are
// not decoded: the UTF-8 decoder would substitute U+FFFD for invalid bytes,
// while the normalizer drops them.
func decodeReader(r io.Reader, label string) (io.Reader, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return r, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("csv: source encoding %q: %w", label, err)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// ValidEncoding reports whether label names a known source encoding.
func ValidEncoding(label string) bool {
	if strings.TrimSpace(label) == "" {
		return true
	}
	_, err := htmlindex.Get(label)
	return err == nil
}
