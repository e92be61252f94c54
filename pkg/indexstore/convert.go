package indexstore

import (
	"strconv"
	"time"

	"github.com/ethpandaops/reportoor/pkg/record"
)

// FromSummary builds index models from a run summary. summaryFile is the
// name of the run summary document it was read from, if any.
func FromSummary(
	project, summaryFile string,
	s *record.RunSummary,
	indexedAt time.Time,
) (*Run, []*SpecFile) {
	startedAt, _ := strconv.ParseInt(s.RunID, 10, 64)

	run := &Run{
		Project:           project,
		RunID:             s.RunID,
		StartedAt:         startedAt,
		Timestamp:         s.Timestamp,
		Status:            string(runStatus(s)),
		BranchName:        s.BranchName,
		PullRequestNumber: s.PullRequestNumber,
		TotalTests:        s.TotalTests,
		Passed:            s.Passed,
		Failed:            s.Failed,
		Skipped:           s.Skipped,
		TotalRuntime:      s.TotalRuntime,
		PassRate:          s.PassRate(),
		SummaryFile:       summaryFile,
		IndexedAt:         indexedAt,
	}

	specs := make([]*SpecFile, 0, len(s.SpecFiles))

	for _, sf := range s.SpecFiles {
		specs = append(specs, &SpecFile{
			Project:       project,
			RunID:         s.RunID,
			Name:          sf.Name,
			Status:        string(sf.Status),
			TotalDuration: sf.TotalDuration,
			Tests:         len(sf.Tests),
			RunURL:        sf.RunURL,
		})
	}

	return run, specs
}

// runStatus rolls spec file counts up the same way a spec file record
// derives its status from its tests.
func runStatus(s *record.RunSummary) record.Status {
	switch {
	case s.Failed > 0:
		return record.StatusFailed
	case s.TotalTests > 0 && s.Skipped == s.TotalTests:
		return record.StatusSkipped
	default:
		return record.StatusPassed
	}
}
