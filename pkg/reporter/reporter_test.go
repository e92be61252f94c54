package reporter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/indexstore"
	"github.com/ethpandaops/reportoor/pkg/record"
	"github.com/ethpandaops/reportoor/pkg/summary"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock      *fakeClock
	root       string
	resultsDir string
	outputDir  string
	specDir    string
	agg        *Aggregator
}

func newFixture(t *testing.T, publishers ...Publisher) *fixture {
	t.Helper()

	f := &fixture{clock: newFakeClock(), root: t.TempDir()}
	f.resultsDir = filepath.Join(f.root, "results")
	f.outputDir = filepath.Join(f.root, "test-results")
	f.specDir = filepath.Join(f.root, "tests")

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	emitter := summary.NewEmitter(log, summary.Options{
		ResultsDir: f.resultsDir,
		Project:    "shop",
		Clock:      f.clock.Now,
	})

	f.agg = New(log, emitter, Options{
		OutputDir:   f.outputDir,
		Environment: record.Environment{BranchName: "main", PullRequestNumber: "7"},
		Clock:       f.clock.Now,
		RunIDs:      record.NewRunIDGenerator(nil),
		Publishers:  publishers,
	})

	return f
}

func (f *fixture) writeSpec(t *testing.T, name string, lines int) string {
	t.Helper()

	var b strings.Builder
	for i := 1; i <= lines; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}

	path := filepath.Join(f.specDir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	return path
}

func (f *fixture) writeArtifact(t *testing.T, rel string) {
	t.Helper()

	path := filepath.Join(f.outputDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("artifact"), 0o644))
}

func TestAggregator_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	aSpec := f.writeSpec(t, "a.spec", 20)
	bSpec := filepath.Join(f.specDir, "b.spec")

	f.writeArtifact(t, "a-spec-failing/shot.png")
	f.writeArtifact(t, "trace.zip")

	assert.Equal(t, "1714557600000", f.agg.RunID())

	f.agg.OnRunBegin(ctx, 3)

	f.agg.OnTestBegin(ctx, TestBegin{TestID: "t1", SpecFile: aSpec, Title: "passes"})
	f.clock.Advance(120 * time.Millisecond)
	f.agg.OnTestEnd(ctx, TestEnd{TestID: "t1", SpecFile: aSpec, Title: "passes", Status: record.StatusPassed})

	f.agg.OnTestBegin(ctx, TestBegin{TestID: "t2", SpecFile: aSpec, Title: "fails"})
	f.clock.Advance(340 * time.Millisecond)
	f.agg.OnTestEnd(ctx, TestEnd{
		TestID:      "t2",
		SpecFile:    aSpec,
		Title:       "fails",
		Status:      record.StatusFailed,
		ErrorStack:  "Error: expected true\n    at " + aSpec + ":15:7",
		Attachments: []string{filepath.Join(f.outputDir, "a-spec-failing", "shot.png"), ""},
	})

	// No begin event: duration defaults to zero.
	f.agg.OnTestEnd(ctx, TestEnd{TestID: "t3", SpecFile: bSpec, Title: "skips", Status: record.StatusSkipped})

	f.clock.Advance(time.Second)

	sum, err := f.agg.OnRunEnd(ctx, "failed")
	require.NoError(t, err)

	assert.Equal(t, 3, sum.TotalTests)
	assert.Equal(t, 1, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, int64(460), sum.TotalRuntime)
	assert.Equal(t, "1714557600000", sum.RunID)
	assert.Equal(t, "2024-05-01T10-00-00-000Z", sum.Timestamp)
	assert.Equal(t, "main", sum.BranchName)
	assert.Equal(t, "7", sum.PullRequestNumber)

	require.Len(t, sum.SpecFiles, 2)
	assert.Equal(t, "a.spec", sum.SpecFiles[0].Name)
	assert.Equal(t, record.StatusFailed, sum.SpecFiles[0].Status)
	assert.Equal(t, int64(460), sum.SpecFiles[0].TotalDuration)
	assert.Equal(t, "b.spec", sum.SpecFiles[1].Name)
	assert.Equal(t, record.StatusSkipped, sum.SpecFiles[1].Status)

	// Spec file summary round-trips and carries the failure context.
	specPath := filepath.Join(f.resultsDir, sum.SpecFiles[0].RunURL)
	doc, err := summary.ReadSpecFileSummary(specPath)
	require.NoError(t, err)

	assert.Equal(t, "1714557600000", doc.RunID)
	assert.Equal(t, record.StatusFailed, doc.Status)
	require.Len(t, doc.Tests, 2)
	assert.Equal(t, "passes", doc.Tests[0].Title)
	assert.Equal(t, int64(120), doc.Tests[0].Duration)
	assert.Empty(t, doc.Tests[0].ErrorStack)
	assert.Equal(t, "fails", doc.Tests[1].Title)
	assert.Equal(t, int64(340), doc.Tests[1].Duration)
	assert.Equal(t, "Failed at line 15, column 7:\nline 13\nline 14\nline 15", doc.Tests[1].FailureDetails)
	assert.Equal(t, []string{"a-spec-failing/shot.png"}, doc.Tests[1].Attachments)

	rec, ok := f.agg.Store().Get("a.spec")
	require.True(t, ok)
	assert.Equal(t, rec, doc.Record())

	bDoc, err := summary.ReadSpecFileSummary(filepath.Join(f.resultsDir, sum.SpecFiles[1].RunURL))
	require.NoError(t, err)
	assert.Equal(t, int64(0), bDoc.Tests[0].Duration)
	assert.Equal(t, []string{}, bDoc.Tests[0].Attachments)

	// Run summary and latest pointer.
	runDoc, err := summary.ReadRunSummary(filepath.Join(f.resultsDir, "run_1714557600000_2024-05-01T10-00-01-460Z.json"))
	require.NoError(t, err)
	assert.Equal(t, sum, runDoc)

	latest, err := summary.ReadRunSummary(filepath.Join(f.resultsDir, "shop_latest.json"))
	require.NoError(t, err)
	assert.Equal(t, sum, latest)

	// Artifacts relocated without residue.
	artifacts := filepath.Join(f.resultsDir, "run_1714557600000")
	assert.FileExists(t, filepath.Join(artifacts, "a-spec-failing", "shot.png"))
	assert.FileExists(t, filepath.Join(artifacts, "trace.zip"))

	left, err := os.ReadDir(f.outputDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestAggregator_OnRunEndTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.OnRunEnd(ctx, "passed")
	require.NoError(t, err)

	_, err = f.agg.OnRunEnd(ctx, "passed")
	require.ErrorIs(t, err, ErrRunEnded)
}

func TestAggregator_EmptyRun(t *testing.T) {
	f := newFixture(t)

	sum, err := f.agg.OnRunEnd(context.Background(), "passed")
	require.NoError(t, err)

	assert.Zero(t, sum.TotalTests)
	assert.Empty(t, sum.SpecFiles)
	assert.NoDirExists(t, filepath.Join(f.resultsDir, "run_"+f.agg.RunID()))
	assert.FileExists(t, filepath.Join(f.resultsDir, "shop_latest.json"))
}

func TestAggregator_TimersKeyedByRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := filepath.Join(f.specDir, "c.spec")

	f.agg.OnTestBegin(ctx, TestBegin{TestID: "t", SpecFile: spec, Title: "flaky", Retry: 0})
	f.clock.Advance(100 * time.Millisecond)
	f.agg.OnTestEnd(ctx, TestEnd{TestID: "t", SpecFile: spec, Title: "flaky", Status: record.StatusFailed, Retry: 0})

	f.agg.OnTestBegin(ctx, TestBegin{TestID: "t", SpecFile: spec, Title: "flaky", Retry: 1})
	f.clock.Advance(50 * time.Millisecond)
	f.agg.OnTestEnd(ctx, TestEnd{TestID: "t", SpecFile: spec, Title: "flaky", Status: record.StatusPassed, Retry: 1})

	rec, ok := f.agg.Store().Get("c.spec")
	require.True(t, ok)
	require.Len(t, rec.Tests, 2)
	assert.Equal(t, int64(100), rec.Tests[0].Duration)
	assert.Equal(t, int64(50), rec.Tests[1].Duration)
	assert.Equal(t, 1, rec.Tests[1].Retry)
	assert.Equal(t, record.StatusFailed, rec.Status())
}

func TestAggregator_TimedOutCarriesNoFailureDetails(t *testing.T) {
	f := newFixture(t)
	spec := f.writeSpec(t, "d.spec", 5)

	f.agg.OnTestEnd(context.Background(), TestEnd{
		TestID:     "t",
		SpecFile:   spec,
		Title:      "slow",
		Status:     record.StatusTimedOut,
		ErrorStack: "Timeout\n    at " + spec + ":3:1",
	})

	rec, ok := f.agg.Store().Get("d.spec")
	require.True(t, ok)
	assert.Empty(t, rec.Tests[0].ErrorStack)
	assert.Empty(t, rec.Tests[0].FailureDetails)
	assert.Equal(t, record.StatusFailed, rec.Status())
}

func TestAggregator_IgnoresTestEndAfterRunEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.OnRunEnd(ctx, "passed")
	require.NoError(t, err)

	f.agg.OnTestEnd(ctx, TestEnd{TestID: "late", SpecFile: "late.spec", Title: "late", Status: record.StatusPassed})

	assert.Zero(t, f.agg.Store().Len())
}

func TestAggregator_RunsInSameMillisecondGetDistinctIDs(t *testing.T) {
	clock := newFakeClock()
	resultsDir := t.TempDir()
	ctx := context.Background()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	newRun := func() *Aggregator {
		emitter := summary.NewEmitter(log, summary.Options{
			ResultsDir: resultsDir,
			Project:    "shop",
			Clock:      clock.Now,
		})

		return New(log, emitter, Options{Clock: clock.Now})
	}

	first := newRun()
	second := newRun()
	require.NotEqual(t, first.RunID(), second.RunID())

	for _, run := range []struct {
		agg   *Aggregator
		title string
	}{
		{agg: first, title: "first"},
		{agg: second, title: "second"},
	} {
		run.agg.OnTestEnd(ctx, TestEnd{TestID: run.title, SpecFile: "a.spec", Title: run.title, Status: record.StatusPassed})

		_, err := run.agg.OnRunEnd(ctx, "passed")
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(filepath.Join(resultsDir, "shop_a.spec_runid*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 2)

	titles := make([]string, 0, len(matches))

	for _, m := range matches {
		doc, err := summary.ReadSpecFileSummary(m)
		require.NoError(t, err)
		require.Len(t, doc.Tests, 1)

		titles = append(titles, doc.Tests[0].Title)
	}

	assert.ElementsMatch(t, []string{"first", "second"}, titles)
}

func TestAggregator_TestEndRacingRunEnd(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		ctx := context.Background()

		var (
			wg     sync.WaitGroup
			sum    *record.RunSummary
			runErr error
		)

		wg.Add(2)

		go func() {
			defer wg.Done()

			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("t%d", j)
				f.agg.OnTestEnd(ctx, TestEnd{TestID: id, SpecFile: "race.spec", Title: id, Status: record.StatusPassed})
			}
		}()

		go func() {
			defer wg.Done()

			sum, runErr = f.agg.OnRunEnd(ctx, "passed")
		}()

		wg.Wait()
		require.NoError(t, runErr)

		// Every outcome the store accepted made it into the summary.
		assert.Equal(t, f.agg.Store().Len(), len(sum.SpecFiles))

		if rec, ok := f.agg.Store().Get("race.spec"); ok {
			assert.Equal(t, len(rec.Tests), sum.TotalTests)
		} else {
			assert.Zero(t, sum.TotalTests)
		}
	}
}

func TestAggregator_ConcurrentTestEnds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-t%d", w, i)
				spec := fmt.Sprintf("spec%d.spec", i%3)

				f.agg.OnTestBegin(ctx, TestBegin{TestID: id, SpecFile: spec, Title: id})
				f.agg.OnTestEnd(ctx, TestEnd{TestID: id, SpecFile: spec, Title: id, Status: record.StatusPassed})
			}
		}()
	}

	wg.Wait()

	sum, err := f.agg.OnRunEnd(ctx, "passed")
	require.NoError(t, err)
	assert.Equal(t, workers*50, sum.TotalTests)
	assert.Equal(t, sum.TotalTests, sum.Passed+sum.Failed+sum.Skipped)
	assert.Len(t, sum.SpecFiles, 3)
}

type recordingPublisher struct {
	name string
	err  error
	got  *FinishedRun
}

func (p *recordingPublisher) Name() string { return p.name }

func (p *recordingPublisher) Publish(_ context.Context, run *FinishedRun) error {
	p.got = run

	return p.err
}

func TestAggregator_PublishersAreNonFatal(t *testing.T) {
	failing := &recordingPublisher{name: "failing", err: errors.New("down")}
	after := &recordingPublisher{name: "after"}

	f := newFixture(t, failing, after)
	ctx := context.Background()

	f.agg.OnTestEnd(ctx, TestEnd{TestID: "t", SpecFile: "e.spec", Title: "ok", Status: record.StatusPassed})

	sum, err := f.agg.OnRunEnd(ctx, "passed")
	require.NoError(t, err)

	require.NotNil(t, failing.got)
	require.NotNil(t, after.got)
	assert.Same(t, sum, after.got.Summary)
	assert.Equal(t, "shop", after.got.Project)
	assert.Equal(t, "passed", after.got.Status)
	assert.Len(t, after.got.Documents(), 3)
}

func TestIndexPublisher(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store := indexstore.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, store.Start(context.Background()))

	t.Cleanup(func() { _ = store.Stop() })

	f := newFixture(t, NewIndexPublisher(store, nil))
	ctx := context.Background()

	f.agg.OnTestEnd(ctx, TestEnd{TestID: "t", SpecFile: "e.spec", Title: "ok", Status: record.StatusPassed})

	_, err := f.agg.OnRunEnd(ctx, "passed")
	require.NoError(t, err)

	run, err := store.LatestRun(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, f.agg.RunID(), run.RunID)
	assert.Equal(t, 1, run.Passed)
	assert.True(t, strings.HasPrefix(run.SummaryFile, "run_"+f.agg.RunID()))

	specs, err := store.ListSpecFiles(ctx, "shop", f.agg.RunID())
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "e.spec", specs[0].Name)
}

func TestIndexPublisher_KeepsHostRunStatus(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store := indexstore.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, store.Start(context.Background()))

	t.Cleanup(func() { _ = store.Stop() })

	f := newFixture(t, NewIndexPublisher(store, nil))
	ctx := context.Background()

	f.agg.OnTestEnd(ctx, TestEnd{TestID: "t", SpecFile: "e.spec", Title: "ok", Status: record.StatusPassed})

	_, err := f.agg.OnRunEnd(ctx, string(record.StatusInterrupted))
	require.NoError(t, err)

	run, err := store.LatestRun(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, string(record.StatusInterrupted), run.Status)
	assert.Equal(t, 1, run.Passed)
}

type fakeUploader struct {
	dirs  []string
	files []string
}

func (u *fakeUploader) Preflight(context.Context) error { return nil }

func (u *fakeUploader) Upload(_ context.Context, dir string) error {
	u.dirs = append(u.dirs, dir)

	return nil
}

func (u *fakeUploader) UploadFiles(_ context.Context, paths ...string) error {
	u.files = append(u.files, paths...)

	return nil
}

func TestUploadPublisher(t *testing.T) {
	up := &fakeUploader{}

	f := newFixture(t, NewUploadPublisher(up))
	ctx := context.Background()

	f.writeArtifact(t, "trace.zip")
	f.agg.OnTestEnd(ctx, TestEnd{TestID: "t", SpecFile: "e.spec", Title: "ok", Status: record.StatusPassed})

	_, err := f.agg.OnRunEnd(ctx, "passed")
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(f.resultsDir, "run_"+f.agg.RunID())}, up.dirs)
	assert.Len(t, up.files, 3)
}
