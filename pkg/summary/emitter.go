// Package summary writes the JSON summary documents of a run: one per spec
// file, one per run, and the per-project latest pointer.
package summary

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/record"
)

// SpecFileDocument is the on-disk form of a spec file record.
type SpecFileDocument struct {
	RunID         string               `json:"runId"`
	SpecFileName  string               `json:"specFileName"`
	Datetime      string               `json:"datetime"`
	TotalDuration int64                `json:"totalDuration"`
	Status        record.Status        `json:"status"`
	Tests         []record.TestOutcome `json:"tests"`
}

// Record returns the in-memory record the document was written from.
func (d *SpecFileDocument) Record() *record.SpecFileRecord {
	return &record.SpecFileRecord{
		SpecFileName:  d.SpecFileName,
		Datetime:      d.Datetime,
		TotalDuration: d.TotalDuration,
		Tests:         d.Tests,
	}
}

// Options configures an Emitter.
type Options struct {
	// ResultsDir receives every summary document.
	ResultsDir string
	// Project prefixes spec file summaries and names the latest pointer.
	Project string
	// BaseURL, when set, prefixes the runUrl links of a run summary.
	BaseURL string
	// Owner is applied to written documents when set.
	Owner *fsutil.OwnerConfig
	// Clock stamps run summary file names. Defaults to time.Now.
	Clock func() time.Time
}

// Emitter writes summary documents into the results directory.
type Emitter struct {
	log  logrus.FieldLogger
	opts Options
}

// NewEmitter creates an Emitter.
func NewEmitter(log logrus.FieldLogger, opts Options) *Emitter {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.Project == "" {
		opts.Project = ProjectName("")
	}

	return &Emitter{
		log:  log.WithField("component", "summary-emitter"),
		opts: opts,
	}
}

// Project returns the project name documents are written for.
func (e *Emitter) Project() string {
	return e.opts.Project
}

// ResultsDir returns the directory documents are written to.
func (e *Emitter) ResultsDir() string {
	return e.opts.ResultsDir
}

// ArtifactsDir returns the run-scoped artifacts directory for runID.
func (e *Emitter) ArtifactsDir(runID string) string {
	return filepath.Join(e.opts.ResultsDir, ArtifactsDirName(runID))
}

// LinkFunc returns the link builder used for the run summary of runID. Each
// link names the spec file summary WriteSpecFileSummary will produce.
func (e *Emitter) LinkFunc(runID string) record.LinkFunc {
	return func(rec *record.SpecFileRecord) string {
		name := SpecFileSummaryName(e.opts.Project, rec, runID, rec.Status())
		if e.opts.BaseURL == "" {
			return name
		}

		return strings.TrimRight(e.opts.BaseURL, "/") + "/" + name
	}
}

// WriteSpecFileSummary writes the record of one spec file together with
// runID and its derived status, returning the written path.
func (e *Emitter) WriteSpecFileSummary(
	rec *record.SpecFileRecord,
	runID string,
	status record.Status,
) (string, error) {
	path := filepath.Join(e.opts.ResultsDir, SpecFileSummaryName(e.opts.Project, rec, runID, status))

	doc := &SpecFileDocument{
		RunID:         runID,
		SpecFileName:  rec.SpecFileName,
		Datetime:      rec.Datetime,
		TotalDuration: rec.TotalDuration,
		Status:        status,
		Tests:         rec.Tests,
	}

	if err := fsutil.WriteJSON(path, doc, e.opts.Owner); err != nil {
		return "", fmt.Errorf("writing spec file summary: %w", err)
	}

	e.log.WithField("path", path).Info("Saved spec file summary")

	return path, nil
}

// WriteRunSummary writes the run summary stamped with the current time.
func (e *Emitter) WriteRunSummary(s *record.RunSummary, runID string) (string, error) {
	name := RunSummaryName(runID, record.FormatTimestamp(e.opts.Clock()))
	path := filepath.Join(e.opts.ResultsDir, name)

	if err := fsutil.WriteJSON(path, s, e.opts.Owner); err != nil {
		return "", fmt.Errorf("writing run summary: %w", err)
	}

	e.log.WithField("path", path).Info("Saved run summary")

	return path, nil
}

// WriteProjectLatest overwrites the latest-run pointer of project.
func (e *Emitter) WriteProjectLatest(project string, s *record.RunSummary) (string, error) {
	path := filepath.Join(e.opts.ResultsDir, ProjectLatestName(project))

	if err := fsutil.WriteJSON(path, s, e.opts.Owner); err != nil {
		return "", fmt.Errorf("writing project latest pointer: %w", err)
	}

	e.log.WithField("path", path).Info("Updated project latest pointer")

	return path, nil
}

// ReadSpecFileSummary parses a spec file summary document.
func ReadSpecFileSummary(path string) (*SpecFileDocument, error) {
	var doc SpecFileDocument
	if err := fsutil.ReadJSON(path, &doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// ReadRunSummary parses a run summary or latest pointer document.
func ReadRunSummary(path string) (*record.RunSummary, error) {
	var s record.RunSummary
	if err := fsutil.ReadJSON(path, &s); err != nil {
		return nil, err
	}

	return &s, nil
}
