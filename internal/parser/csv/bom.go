package csv

import (
	"bufio"
	"bytes"
	"strings"
)

// utf8BOM is stripped from the start of the stream and the first header cell.
const utf8BOM = "\uFEFF"

// skipBOM discards a leading UTF-8 BOM so encoding/csv never sees it in front
// of a quoted first field.
func skipBOM(br *bufio.Reader) error {
	b, err := br.Peek(len(utf8BOM))
	if err != nil {
		return err
	}
	if bytes.Equal(b, []byte(utf8BOM)) {
		_, err = br.Discard(len(utf8BOM))
	}
	return err
}

// StripHeaderBOM removes a UTF-8 BOM from the first header cell if present.
func StripHeaderBOM(headers []string) []string {
	if len(headers) == 0 {
		return headers
	}
	headers[0] = strings.TrimPrefix(headers[0], utf8BOM)
	return headers
}
