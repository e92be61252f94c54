package record

import (
	"fmt"
	"strings"
)

// Status is the outcome of a single test attempt, using the host
// framework's wire values.
type Status string

const (
	StatusPassed      Status = "passed"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusTimedOut    Status = "timedOut"
	StatusInterrupted Status = "interrupted"
)

// statusAliases maps lower-cased spellings to canonical statuses.
var statusAliases = map[string]Status{
	"passed":      StatusPassed,
	"failed":      StatusFailed,
	"skipped":     StatusSkipped,
	"timedout":    StatusTimedOut,
	"timed-out":   StatusTimedOut,
	"timed_out":   StatusTimedOut,
	"interrupted": StatusInterrupted,
}

// ParseStatus returns the canonical status for s. Unknown values map to
// StatusFailed together with an error so the caller can report them.
func ParseStatus(s string) (Status, error) {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}

	return StatusFailed, fmt.Errorf("unknown test status %q", s)
}

// Bucket collapses the five statuses into the three rollup counters.
// Timeouts count as failures; interrupted attempts never completed and
// count as skipped.
func (s Status) Bucket() Status {
	switch s {
	case StatusPassed:
		return StatusPassed
	case StatusSkipped, StatusInterrupted:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// IsFailed reports whether s is an explicit assertion failure. Only these
// outcomes carry an error stack and failure details.
func (s Status) IsFailed() bool {
	return s == StatusFailed
}
