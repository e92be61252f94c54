package summary

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/record"
)

const (
	// runPrefix prefixes run summary documents and run artifact directories.
	runPrefix = "run_"
	// latestSuffix is appended to the project name for the latest pointer.
	latestSuffix = "_latest.json"
)

// nameSanitizer keeps path separators out of generated file names.
var nameSanitizer = strings.NewReplacer("/", "_", "\\", "_")

// SpecFileSummaryName returns
// "<project>_<specFileName>_runid<runId>_<datetime>_<status>.json".
func SpecFileSummaryName(project string, rec *record.SpecFileRecord, runID string, status record.Status) string {
	return fmt.Sprintf("%s_%s_runid%s_%s_%s.json",
		nameSanitizer.Replace(project),
		nameSanitizer.Replace(rec.SpecFileName),
		runID,
		rec.Datetime,
		status,
	)
}

// RunSummaryName returns "run_<runId>_<datetime>.json".
func RunSummaryName(runID, datetime string) string {
	return fmt.Sprintf("%s%s_%s.json", runPrefix, runID, datetime)
}

// ProjectLatestName returns "<project>_latest.json".
func ProjectLatestName(project string) string {
	return nameSanitizer.Replace(project) + latestSuffix
}

// ParseProjectLatestName extracts the project from a latest pointer name.
func ParseProjectLatestName(name string) (string, bool) {
	project, ok := strings.CutSuffix(name, latestSuffix)
	if !ok || project == "" {
		return "", false
	}

	return project, true
}

// ArtifactsDirName returns the run-scoped artifacts directory name.
func ArtifactsDirName(runID string) string {
	return runPrefix + runID
}

// IsRunSummaryName reports whether name looks like a run summary document.
func IsRunSummaryName(name string) bool {
	return strings.HasPrefix(name, runPrefix) && strings.HasSuffix(name, ".json")
}

// ParseRunSummaryName extracts the run ID from a run summary document name.
func ParseRunSummaryName(name string) (string, bool) {
	if !IsRunSummaryName(name) {
		return "", false
	}

	rest := strings.TrimPrefix(name, runPrefix)

	runID, _, ok := strings.Cut(rest, "_")
	if !ok || runID == "" {
		return "", false
	}

	return runID, true
}

// ProjectName derives the project name from a working directory: its base
// name. An empty dir uses the process working directory.
func ProjectName(dir string) string {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "project"
		}

		dir = wd
	}

	name := filepath.Base(filepath.Clean(dir))
	if name == "." || name == string(filepath.Separator) {
		return "project"
	}

	return name
}
