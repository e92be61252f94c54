package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/events"
	"github.com/ethpandaops/reportoor/pkg/indexstore"
	"github.com/ethpandaops/reportoor/pkg/notify"
	"github.com/ethpandaops/reportoor/pkg/record"
	"github.com/ethpandaops/reportoor/pkg/reporter"
	"github.com/ethpandaops/reportoor/pkg/summary"
	"github.com/ethpandaops/reportoor/pkg/upload"
)

var (
	ingestInput       string
	ingestPrintConfig bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Aggregate a stream of test lifecycle events",
	Long: `Read newline-delimited JSON lifecycle events (runBegin, testBegin, testEnd,
runEnd) from stdin or a file, write the spec file and run summaries,
relocate artifacts and publish the finished run.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestInput, "input", "-",
		`Event stream to read ("-" for stdin)`)
	ingestCmd.Flags().BoolVar(&ingestPrintConfig, "print-config", false,
		"Print the effective configuration before ingesting")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if ingestPrintConfig {
		out, err := cfg.Dump()
		if err != nil {
			return err
		}

		fmt.Fprint(cmd.ErrOrStderr(), string(out))
	}

	input := io.ReadCloser(os.Stdin)

	if ingestInput != "-" {
		f, err := os.Open(ingestInput)
		if err != nil {
			return fmt.Errorf("opening event stream: %w", err)
		}

		input = f
	}

	defer func() { _ = input.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal, finalizing run")
			cancel()

			// Unblock the pending read so the run is finalized.
			_ = input.Close()
		case <-ctx.Done():
		}
	}()

	owner, err := cfg.ResultsOwner()
	if err != nil {
		return err
	}

	emitter := summary.NewEmitter(log, summary.Options{
		ResultsDir: cfg.Results.Dir,
		Project:    cfg.Project.Name,
		BaseURL:    cfg.Results.BaseURL,
		Owner:      owner,
	})

	publishers, closePublishers, err := buildPublishers(ctx, cfg)
	if err != nil {
		return err
	}

	defer closePublishers()

	agg := reporter.New(log, emitter, reporter.Options{
		OutputDir:     cfg.Results.OutputDir,
		CollectVideos: cfg.Results.CollectVideos,
		Environment: record.Environment{
			BranchName:        cfg.Project.BranchName,
			PullRequestNumber: cfg.Project.PullRequestNumber,
		},
		Owner:      owner,
		Publishers: publishers,
	})

	log.WithField("run_id", agg.RunID()).
		WithField("project", emitter.Project()).
		Info("Ingesting test events")

	if _, err := events.NewIngester(log, agg).Run(ctx, input); err != nil {
		return fmt.Errorf("ingesting events: %w", err)
	}

	return nil
}

// buildPublishers creates a publisher for every enabled destination. The
// returned function releases their resources.
func buildPublishers(ctx context.Context, cfg *config.Config) ([]reporter.Publisher, func(), error) {
	var (
		publishers []reporter.Publisher
		closers    []func()
	)

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Upload.Enabled() {
		uploader, err := upload.New(log, &cfg.Upload)
		if err != nil {
			return nil, func() {}, fmt.Errorf("creating uploader: %w", err)
		}

		// Fail fast: verify the bucket is reachable before consuming events.
		if err := uploader.Preflight(ctx); err != nil {
			return nil, func() {}, fmt.Errorf("upload preflight check failed: %w", err)
		}

		log.Info("Upload preflight check passed")

		publishers = append(publishers, reporter.NewUploadPublisher(uploader))
	}

	if cfg.Index.Enabled {
		store := indexstore.NewStore(log, &cfg.Index.Database)
		if err := store.Start(ctx); err != nil {
			closeAll()

			return nil, func() {}, fmt.Errorf("starting index store: %w", err)
		}

		closers = append(closers, func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Failed to close index store")
			}
		})

		publishers = append(publishers, reporter.NewIndexPublisher(store, nil))
	}

	if cfg.Webhook.Enabled() {
		publishers = append(publishers, reporter.NewWebhookPublisher(notify.NewWebhook(log, &cfg.Webhook)))
	}

	return publishers, closeAll, nil
}
