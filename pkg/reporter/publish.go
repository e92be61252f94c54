package reporter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/indexstore"
	"github.com/ethpandaops/reportoor/pkg/notify"
	"github.com/ethpandaops/reportoor/pkg/record"
	"github.com/ethpandaops/reportoor/pkg/upload"
)

// FinishedRun is handed to publishers once every document of a run has
// been written. Paths of documents that failed to write are empty.
type FinishedRun struct {
	RunID            string
	Project          string
	Status           string
	Summary          *record.RunSummary
	ArtifactsDir     string
	SummaryPath      string
	LatestPath       string
	SpecSummaryPaths []string
}

// Documents returns the paths of every summary document that was written.
func (r *FinishedRun) Documents() []string {
	docs := make([]string, 0, len(r.SpecSummaryPaths)+2)
	docs = append(docs, r.SpecSummaryPaths...)

	for _, p := range []string{r.SummaryPath, r.LatestPath} {
		if p != "" {
			docs = append(docs, p)
		}
	}

	return docs
}

// Publisher delivers a finished run somewhere outside the results directory.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, run *FinishedRun) error
}

// uploadPublisher copies the artifacts directory and the summary documents
// to remote storage.
type uploadPublisher struct {
	uploader upload.Uploader
}

// NewUploadPublisher publishes runs through an uploader.
func NewUploadPublisher(u upload.Uploader) Publisher {
	return &uploadPublisher{uploader: u}
}

func (p *uploadPublisher) Name() string { return "upload" }

func (p *uploadPublisher) Publish(ctx context.Context, run *FinishedRun) error {
	var errs []error

	ok, err := fsutil.Exists(run.ArtifactsDir)
	if err != nil {
		errs = append(errs, err)
	}

	if ok {
		if err := p.uploader.Upload(ctx, run.ArtifactsDir); err != nil {
			errs = append(errs, fmt.Errorf("uploading artifacts: %w", err))
		}
	}

	if docs := run.Documents(); len(docs) > 0 {
		if err := p.uploader.UploadFiles(ctx, docs...); err != nil {
			errs = append(errs, fmt.Errorf("uploading documents: %w", err))
		}
	}

	return errors.Join(errs...)
}

// webhookPublisher posts the run summary to a webhook.
type webhookPublisher struct {
	webhook *notify.Webhook
}

// NewWebhookPublisher publishes run summaries to a webhook.
func NewWebhookPublisher(w *notify.Webhook) Publisher {
	return &webhookPublisher{webhook: w}
}

func (p *webhookPublisher) Name() string { return "webhook" }

func (p *webhookPublisher) Publish(ctx context.Context, run *FinishedRun) error {
	return p.webhook.Send(ctx, run.Summary)
}

// indexPublisher records the run in the run index.
type indexPublisher struct {
	store indexstore.Store
	clock func() time.Time
}

// NewIndexPublisher publishes runs into the run index.
func NewIndexPublisher(store indexstore.Store, clock func() time.Time) Publisher {
	if clock == nil {
		clock = time.Now
	}

	return &indexPublisher{store: store, clock: clock}
}

func (p *indexPublisher) Name() string { return "index" }

func (p *indexPublisher) Publish(ctx context.Context, run *FinishedRun) error {
	var summaryFile string
	if run.SummaryPath != "" {
		summaryFile = filepath.Base(run.SummaryPath)
	}

	r, specs := indexstore.FromSummary(run.Project, summaryFile, run.Summary, p.clock())

	// The host's verdict covers outcomes the counts cannot show, such as
	// an interrupted run whose recorded tests all passed.
	if run.Status != "" {
		r.Status = run.Status
	}

	return p.store.UpsertRun(ctx, r, specs)
}
