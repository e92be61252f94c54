// Package indexer scans a results directory for run summary documents and
// upserts them into the run index.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/reportoor/pkg/indexstore"
	"github.com/ethpandaops/reportoor/pkg/summary"
)

// defaultConcurrency is the number of documents indexed in parallel when
// no explicit concurrency value is configured.
const defaultConcurrency = 4

// Stats reports the outcome of one indexing pass.
type Stats struct {
	Found   int
	Indexed int
	Skipped int
	Failed  int
}

// Indexer indexes run summaries found in a results directory.
type Indexer struct {
	log         logrus.FieldLogger
	store       indexstore.Store
	concurrency int
	clock       func() time.Time
	dbMu        sync.Mutex // serializes DB writes to avoid SQLite contention

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates an indexer writing to store.
func New(
	log logrus.FieldLogger,
	store indexstore.Store,
	concurrency int,
) *Indexer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Indexer{
		log:         log.WithField("component", "indexer"),
		store:       store,
		concurrency: concurrency,
		clock:       time.Now,
		done:        make(chan struct{}),
	}
}

// Start runs an immediate pass over dir and then repeats it every interval
// until Stop is called or ctx ends. A non-positive interval runs a single
// pass. The first pass is asynchronous so the caller is not blocked.
func (idx *Indexer) Start(ctx context.Context, project, dir string, interval time.Duration) {
	idx.log.WithFields(logrus.Fields{
		"interval":    interval.String(),
		"concurrency": idx.concurrency,
		"dir":         dir,
	}).Info("Starting indexer")

	idx.wg.Add(1)

	go func() {
		defer idx.wg.Done()

		idx.runPass(ctx, project, dir)

		if interval <= 0 {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				idx.runPass(ctx, project, dir)
			case <-idx.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the background loop to stop and waits for it.
func (idx *Indexer) Stop() {
	close(idx.done)
	idx.wg.Wait()

	idx.log.Info("Indexer stopped")
}

func (idx *Indexer) runPass(ctx context.Context, project, dir string) {
	if _, err := idx.IndexDir(ctx, project, dir, false); err != nil {
		idx.log.WithError(err).Warn("Indexing pass failed")
	}
}

// IndexDir indexes every run summary document in dir under project. Runs
// already present in the index are skipped unless force is set. Documents
// that cannot be read are logged and counted as failed.
func (idx *Indexer) IndexDir(
	ctx context.Context, project, dir string, force bool,
) (*Stats, error) {
	start := idx.clock()

	docs, err := listRunSummaries(dir)
	if err != nil {
		return nil, err
	}

	indexedIDs, err := idx.store.ListRunIDs(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("listing indexed run IDs: %w", err)
	}

	indexedSet := make(map[string]struct{}, len(indexedIDs))
	for _, id := range indexedIDs {
		indexedSet[id] = struct{}{}
	}

	stats := &Stats{Found: len(docs)}

	var tasks []runDoc

	for _, d := range docs {
		if _, ok := indexedSet[d.runID]; ok && !force {
			stats.Skipped++

			continue
		}

		tasks = append(tasks, d)
	}

	log := idx.log.WithFields(logrus.Fields{
		"project": project,
		"dir":     dir,
	})

	log.WithFields(logrus.Fields{
		"documents":    len(docs),
		"indexed_runs": len(indexedIDs),
		"to_index":     len(tasks),
	}).Info("Scanning results directory")

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	var indexed, failed atomic.Int64

	for _, task := range tasks {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			if err := idx.indexDocument(gCtx, project, task); err != nil {
				log.WithError(err).
					WithField("file", task.name).
					Warn("Failed to index run summary")

				failed.Add(1)

				return nil //nolint:nilerr // log and continue
			}

			indexed.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("indexing runs: %w", err)
	}

	stats.Indexed = int(indexed.Load())
	stats.Failed = int(failed.Load())

	log.WithFields(logrus.Fields{
		"indexed":  stats.Indexed,
		"skipped":  stats.Skipped,
		"failed":   stats.Failed,
		"duration": idx.clock().Sub(start).Round(time.Millisecond),
	}).Info("Indexing pass completed")

	return stats, nil
}

func (idx *Indexer) indexDocument(ctx context.Context, project string, d runDoc) error {
	s, err := summary.ReadRunSummary(d.path)
	if err != nil {
		return err
	}

	if s.RunID == "" {
		s.RunID = d.runID
	}

	run, specs := indexstore.FromSummary(project, d.name, s, idx.clock())

	idx.dbMu.Lock()
	defer idx.dbMu.Unlock()

	return idx.store.UpsertRun(ctx, run, specs)
}

// runDoc is a run summary document found on disk.
type runDoc struct {
	name  string
	path  string
	runID string
}

// listRunSummaries returns the run summary documents directly in dir,
// ordered by name. A missing dir yields no documents.
func listRunSummaries(dir string) ([]runDoc, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading results directory: %w", err)
	}

	docs := make([]runDoc, 0, len(entries))

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}

		runID, ok := summary.ParseRunSummaryName(e.Name())
		if !ok {
			continue
		}

		docs = append(docs, runDoc{
			name:  e.Name(),
			path:  filepath.Join(dir, e.Name()),
			runID: runID,
		})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].name < docs[j].name })

	return docs, nil
}
