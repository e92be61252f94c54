// Package record holds the in-memory run state: per-spec-file records of
// test outcomes and the run-level rollup built from them.
package record

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TestOutcome is one attempt of one test case.
type TestOutcome struct {
	Title          string   `json:"title"`
	Status         Status   `json:"status"`
	Duration       int64    `json:"duration"`
	Retry          int      `json:"retry"`
	ErrorStack     string   `json:"errorStack,omitempty"`
	FailureDetails string   `json:"failureDetails,omitempty"`
	Attachments    []string `json:"attachments"`
}

// SpecFileRecord accumulates the outcomes of one spec file within a run.
type SpecFileRecord struct {
	SpecFileName  string        `json:"specFileName"`
	Datetime      string        `json:"datetime"`
	TotalDuration int64         `json:"totalDuration"`
	Tests         []TestOutcome `json:"tests"`
}

// Status derives the overall status of the record: failed if any outcome
// failed, skipped if every outcome was skipped, passed otherwise.
func (r *SpecFileRecord) Status() Status {
	allSkipped := len(r.Tests) > 0

	for _, t := range r.Tests {
		switch t.Status.Bucket() {
		case StatusFailed:
			return StatusFailed
		case StatusPassed:
			allSkipped = false
		}
	}

	if allSkipped {
		return StatusSkipped
	}

	return StatusPassed
}

// clone returns a deep copy of the record.
func (r *SpecFileRecord) clone() *SpecFileRecord {
	out := *r
	out.Tests = make([]TestOutcome, len(r.Tests))

	for i, t := range r.Tests {
		t.Attachments = append(make([]string, 0, len(t.Attachments)), t.Attachments...)
		out.Tests[i] = t
	}

	return &out
}

// TestBrief is the abbreviated per-test entry listed in a run summary.
type TestBrief struct {
	Title    string `json:"title"`
	Status   Status `json:"status"`
	Duration int64  `json:"duration"`
	Retry    int    `json:"retry"`
}

// SpecFileLink points from a run summary to a persisted spec file summary.
type SpecFileLink struct {
	Name          string      `json:"name"`
	RunURL        string      `json:"runUrl"`
	Status        Status      `json:"status"`
	TotalDuration int64       `json:"totalDuration"`
	Tests         []TestBrief `json:"tests"`
}

// Environment carries CI metadata passed through to the run summary.
type Environment struct {
	BranchName        string
	PullRequestNumber string
}

// RunSummary is the top-level rollup of one run.
type RunSummary struct {
	RunID             string         `json:"runId"`
	Timestamp         string         `json:"timestamp"`
	TotalTests        int            `json:"totalTests"`
	Passed            int            `json:"passed"`
	Failed            int            `json:"failed"`
	Skipped           int            `json:"skipped"`
	TotalRuntime      int64          `json:"totalRuntime"`
	SpecFiles         []SpecFileLink `json:"specFiles"`
	BranchName        string         `json:"branchName,omitempty"`
	PullRequestNumber string         `json:"pullRequestNumber,omitempty"`
}

// PassRate returns the percentage of passed attempts, rounded to two
// decimal places. A run without tests has a pass rate of zero.
func (s *RunSummary) PassRate() decimal.Decimal {
	if s.TotalTests == 0 {
		return decimal.Zero
	}

	return decimal.NewFromInt(int64(s.Passed)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(s.TotalTests)), 2)
}

// LinkFunc returns the stable reference to a record's persisted summary.
type LinkFunc func(rec *SpecFileRecord) string

// BuildRunSummary rolls the given records up into a run summary. Every
// recorded attempt is counted, so TotalTests always equals
// Passed + Failed + Skipped.
func BuildRunSummary(
	runID, timestamp string,
	records []*SpecFileRecord,
	link LinkFunc,
	env Environment,
) *RunSummary {
	summary := &RunSummary{
		RunID:             runID,
		Timestamp:         timestamp,
		SpecFiles:         make([]SpecFileLink, 0, len(records)),
		BranchName:        env.BranchName,
		PullRequestNumber: env.PullRequestNumber,
	}

	for _, rec := range records {
		briefs := make([]TestBrief, 0, len(rec.Tests))

		for _, t := range rec.Tests {
			switch t.Status.Bucket() {
			case StatusPassed:
				summary.Passed++
			case StatusSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}

			briefs = append(briefs, TestBrief{
				Title:    t.Title,
				Status:   t.Status,
				Duration: t.Duration,
				Retry:    t.Retry,
			})
		}

		summary.TotalTests += len(rec.Tests)
		summary.TotalRuntime += rec.TotalDuration

		var url string
		if link != nil {
			url = link(rec)
		}

		summary.SpecFiles = append(summary.SpecFiles, SpecFileLink{
			Name:          rec.SpecFileName,
			RunURL:        url,
			Status:        rec.Status(),
			TotalDuration: rec.TotalDuration,
			Tests:         briefs,
		})
	}

	return summary
}

// FormatTimestamp renders t as an ISO-8601 UTC timestamp with millisecond
// precision and every ':' and '.' replaced by '-', so it is safe to embed
// in file names.
func FormatTimestamp(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")

	return strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}
