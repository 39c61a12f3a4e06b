package ingest

import (
	"sort"
	"time"

	"catalogimport/internal/model"
)

// Row kinds recorded in summaries and metrics, beside the transformer reasons.
const (
	KindMalformed   = "malformed"
	KindWriteFailed = "write_failed"
	KindProcessed   = "processed"
)

type rowOutcome int

const (
	rowOK rowOutcome = iota
	rowSkip
	rowFatal
	rowHeader
)

// rowResult is the tagged outcome of one record.
type rowResult struct {
	Outcome rowOutcome
	Line    int
	Kind    string // skip kind; empty for rowOK
	Err     error  // cause for rowFatal, detail for write_failed
}

func okRow(line int) rowResult { return rowResult{Outcome: rowOK, Line: line} }

func skipRow(line int, kind string) rowResult {
	return rowResult{Outcome: rowSkip, Line: line, Kind: kind}
}

func fatalRow(line int, err error) rowResult {
	return rowResult{Outcome: rowFatal, Line: line, Err: err}
}

// Summary is the in-memory tally of one run.
type Summary struct {
	JobID     string
	Processed int64
	Skipped   int64
	// ByReason counts skipped rows by kind: the transformer reasons plus
	// "malformed" and "write_failed".
	ByReason map[string]int64
	Status   model.Status
	Duration time.Duration
}

func (s *Summary) add(r rowResult) {
	switch r.Outcome {
	case rowOK:
		s.Processed++
	case rowSkip:
		s.Skipped++
		if s.ByReason == nil {
			s.ByReason = make(map[string]int64)
		}
		s.ByReason[r.Kind]++
	}
}

// Reasons returns the skip kinds present, sorted.
func (s Summary) Reasons() []string {
	out := make([]string, 0, len(s.ByReason))
	for k := range s.ByReason {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

