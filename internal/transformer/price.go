package transformer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// decimal matches plain decimal notation with an optional exponent. It keeps
// strconv's hex, inf and nan spellings out.
var decimal = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// ParsePrice parses a unit price such as "11.50", "$1,299.00" or "-3".
// It returns nil when s is not a finite decimal.
func ParsePrice(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if !decimal.MatchString(s) {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}
