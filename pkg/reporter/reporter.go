// Package reporter binds the host test runner's lifecycle callbacks to the
// run record store and, at run end, relocates artifacts, writes summary
// documents and hands the finished run to the configured publishers.
package reporter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reportoor/pkg/attachment"
	"github.com/ethpandaops/reportoor/pkg/failure"
	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/record"
	"github.com/ethpandaops/reportoor/pkg/relocate"
	"github.com/ethpandaops/reportoor/pkg/summary"
)

// ErrRunEnded is returned when OnRunEnd is called more than once.
var ErrRunEnded = errors.New("run already ended")

// runIDs is shared by every aggregator of the process so that two runs
// created within the same millisecond still get distinct IDs.
var runIDs = record.NewRunIDGenerator(nil)

// TestBegin describes a test attempt that has started.
type TestBegin struct {
	TestID   string
	SpecFile string
	Title    string
	Retry    int
}

// TestEnd describes a finished test attempt.
type TestEnd struct {
	TestID      string
	SpecFile    string
	Title       string
	Status      record.Status
	Retry       int
	ErrorStack  string
	Attachments []string
}

// Reporter receives the lifecycle events of one run.
type Reporter interface {
	OnRunBegin(ctx context.Context, totalTests int)
	OnTestBegin(ctx context.Context, e TestBegin)
	OnTestEnd(ctx context.Context, e TestEnd)
	OnRunEnd(ctx context.Context, runStatus string) (*record.RunSummary, error)
}

// Options configures an Aggregator.
type Options struct {
	// OutputDir is the ephemeral directory the test runner writes
	// artifacts to. Empty disables relocation.
	OutputDir string
	// CollectVideos moves top-level videos into a videos/ directory
	// before relocation.
	CollectVideos bool
	// Environment is copied into the run summary.
	Environment record.Environment
	// Owner is applied to the run-scoped artifacts directory.
	Owner *fsutil.OwnerConfig
	// Clock defaults to time.Now.
	Clock func() time.Time
	// RunIDs defaults to the process-wide generator.
	RunIDs *record.RunIDGenerator
	// Publishers receive the finished run in order.
	Publishers []Publisher
}

// timerKey identifies one attempt of one test.
type timerKey struct {
	testID string
	retry  int
}

// Aggregator is the Reporter for a single run. Create one per run.
type Aggregator struct {
	log     logrus.FieldLogger
	emitter *summary.Emitter
	opts    Options
	store   *record.Store

	runID     string
	startedAt time.Time

	timersMu sync.Mutex
	timers   map[timerKey]time.Time

	// endMu is held shared while a test end is recorded and exclusively
	// while the run is sealed, so no outcome lands after the snapshot.
	endMu sync.RWMutex
	ended bool
}

// Compile-time interface check.
var _ Reporter = (*Aggregator)(nil)

// New creates the aggregator of a new run. The run ID is taken from the
// clock at creation, bumped past any ID already handed out by the generator.
func New(log logrus.FieldLogger, emitter *summary.Emitter, opts Options) *Aggregator {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.RunIDs == nil {
		opts.RunIDs = runIDs
	}

	runID, startedAt := opts.RunIDs.NextAt(opts.Clock())

	log = log.WithFields(logrus.Fields{
		"component": "reporter",
		"run_id":    runID,
	})

	return &Aggregator{
		log:       log,
		emitter:   emitter,
		opts:      opts,
		store:     record.NewStore(log, opts.Clock),
		runID:     runID,
		startedAt: startedAt,
		timers:    make(map[timerKey]time.Time, 64),
	}
}

// RunID returns the identifier of this run.
func (a *Aggregator) RunID() string {
	return a.runID
}

// Store exposes the run record store.
func (a *Aggregator) Store() *record.Store {
	return a.store
}

// OnRunBegin logs the start of the run and makes sure the results
// directory exists.
func (a *Aggregator) OnRunBegin(_ context.Context, totalTests int) {
	a.log.WithField("tests", totalTests).Info("Starting the run")

	if err := fsutil.MkdirAll(a.emitter.ResultsDir(), 0o755, a.opts.Owner); err != nil {
		a.log.WithError(err).Warn("Failed to create results directory")
	}
}

// OnTestBegin starts the timer of a test attempt.
func (a *Aggregator) OnTestBegin(_ context.Context, e TestBegin) {
	a.log.WithFields(logrus.Fields{
		"test":  e.Title,
		"retry": e.Retry,
	}).Debug("Starting test")

	a.timersMu.Lock()
	a.timers[timerKey{testID: e.TestID, retry: e.Retry}] = a.opts.Clock()
	a.timersMu.Unlock()
}

// OnTestEnd records the outcome of a test attempt. An attempt whose begin
// was never observed gets a zero duration.
func (a *Aggregator) OnTestEnd(_ context.Context, e TestEnd) {
	a.endMu.RLock()
	defer a.endMu.RUnlock()

	if a.ended {
		a.log.WithField("test", e.Title).Warn("Ignoring test end received after run end")

		return
	}

	a.log.WithFields(logrus.Fields{
		"test":   e.Title,
		"status": e.Status,
		"retry":  e.Retry,
	}).Info("Finished test")

	errorStack, details := failure.Process(e.Status.IsFailed(), e.ErrorStack, e.SpecFile)

	a.store.RecordOutcome(e.SpecFile, record.TestOutcome{
		Title:          e.Title,
		Status:         e.Status,
		Duration:       a.stopTimer(e.TestID, e.Retry),
		Retry:          e.Retry,
		ErrorStack:     errorStack,
		FailureDetails: details,
		Attachments:    attachment.Normalize(e.Attachments),
	})
}

// stopTimer returns the elapsed milliseconds of an attempt and forgets it.
func (a *Aggregator) stopTimer(testID string, retry int) int64 {
	key := timerKey{testID: testID, retry: retry}

	a.timersMu.Lock()
	start, ok := a.timers[key]
	delete(a.timers, key)
	a.timersMu.Unlock()

	if !ok {
		a.log.WithFields(logrus.Fields{
			"test_id": testID,
			"retry":   retry,
		}).Debug("No begin event for test, duration defaults to zero")

		return 0
	}

	return a.opts.Clock().Sub(start).Milliseconds()
}

// OnRunEnd finalizes the run. Failures of individual steps are logged and
// never fail the run; the only error is ErrRunEnded on a repeated call.
func (a *Aggregator) OnRunEnd(ctx context.Context, runStatus string) (*record.RunSummary, error) {
	a.endMu.Lock()
	if a.ended {
		a.endMu.Unlock()

		return nil, ErrRunEnded
	}

	a.ended = true
	a.endMu.Unlock()

	a.log.WithField("status", runStatus).Info("Finished the run")

	artifactsDir := a.emitter.ArtifactsDir(a.runID)
	a.relocateArtifacts(artifactsDir)

	finished := &FinishedRun{
		RunID:        a.runID,
		Project:      a.emitter.Project(),
		Status:       runStatus,
		ArtifactsDir: artifactsDir,
	}

	records := a.store.AllRecords()

	for _, rec := range records {
		path, err := a.emitter.WriteSpecFileSummary(rec, a.runID, rec.Status())
		if err != nil {
			a.log.WithError(err).
				WithField("spec_file", rec.SpecFileName).
				Warn("Failed to write spec file summary")

			continue
		}

		finished.SpecSummaryPaths = append(finished.SpecSummaryPaths, path)
	}

	finished.Summary = record.BuildRunSummary(
		a.runID,
		record.FormatTimestamp(a.startedAt),
		records,
		a.emitter.LinkFunc(a.runID),
		a.opts.Environment,
	)

	if path, err := a.emitter.WriteRunSummary(finished.Summary, a.runID); err != nil {
		a.log.WithError(err).Warn("Failed to write run summary")
	} else {
		finished.SummaryPath = path
	}

	if path, err := a.emitter.WriteProjectLatest(a.emitter.Project(), finished.Summary); err != nil {
		a.log.WithError(err).Warn("Failed to write project latest pointer")
	} else {
		finished.LatestPath = path
	}

	a.log.WithFields(logrus.Fields{
		"tests":     finished.Summary.TotalTests,
		"passed":    finished.Summary.Passed,
		"failed":    finished.Summary.Failed,
		"skipped":   finished.Summary.Skipped,
		"pass_rate": finished.Summary.PassRate().StringFixed(2),
		"artifacts": artifactsDir,
	}).Info("Run summary written")

	a.publish(ctx, finished)

	return finished.Summary, nil
}

func (a *Aggregator) relocateArtifacts(artifactsDir string) {
	if a.opts.OutputDir == "" {
		return
	}

	if a.opts.CollectVideos {
		if _, err := relocate.CollectVideos(a.log, a.opts.OutputDir); err != nil {
			a.log.WithError(err).Warn("Failed to collect videos")
		}
	}

	if _, err := relocate.Relocate(a.log, a.opts.OutputDir, artifactsDir); err != nil {
		a.log.WithError(err).Warn("Failed to relocate artifacts")

		return
	}

	fsutil.Chown(artifactsDir, a.opts.Owner)
}

func (a *Aggregator) publish(ctx context.Context, run *FinishedRun) {
	for _, p := range a.opts.Publishers {
		if err := p.Publish(ctx, run); err != nil {
			a.log.WithError(err).
				WithField("publisher", p.Name()).
				Warn("Failed to publish run")

			continue
		}

		a.log.WithField("publisher", p.Name()).Info("Run published")
	}
}
