package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/indexer"
	"github.com/ethpandaops/reportoor/pkg/indexstore"
	"github.com/ethpandaops/reportoor/pkg/summary"
)

var (
	indexResultsDir string
	indexForce      bool
)

var generateIndexCmd = &cobra.Command{
	Use:   "generate-index",
	Short: "Index every run summary of a results directory",
	Long: `Scan run_*.json summaries in the results directory and upsert them into
the configured run index database.`,
	RunE: runGenerateIndex,
}

func init() {
	rootCmd.AddCommand(generateIndexCmd)
	generateIndexCmd.Flags().StringVar(&indexResultsDir, "results-dir", "",
		"Results directory to scan (defaults to results.dir)")
	generateIndexCmd.Flags().BoolVar(&indexForce, "force", false,
		"Reindex runs that are already present")
}

func runGenerateIndex(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir := indexResultsDir
	if dir == "" {
		dir = cfg.Results.Dir
	}

	project := cfg.Project.Name
	if project == "" {
		project = summary.ProjectName("")
	}

	ctx := cmd.Context()

	store := indexstore.NewStore(log, &cfg.Index.Database)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting index store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close index store")
		}
	}()

	stats, err := indexer.New(log, store, cfg.Index.Concurrency).IndexDir(ctx, project, dir, indexForce)
	if err != nil {
		return fmt.Errorf("indexing %s: %w", dir, err)
	}

	log.WithField("found", stats.Found).
		WithField("indexed", stats.Indexed).
		WithField("skipped", stats.Skipped).
		WithField("failed", stats.Failed).
		Info("Index generated")

	if stats.Failed > 0 {
		return fmt.Errorf("%d run summaries could not be indexed", stats.Failed)
	}

	return nil
}
