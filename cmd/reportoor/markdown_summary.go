package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/summary"
)

var generateMarkdownSummaryCmd = &cobra.Command{
	Use:   "generate-markdown-summary",
	Short: "Generate a markdown summary from a run summary document",
	Long: `Reads a run summary (the project's latest pointer by default) and produces
a markdown summary file, e.g. for a CI job summary.`,
	RunE: runGenerateMarkdownSummary,
}

var (
	mdSummaryFile string
	mdOutput      string
)

const maxMarkdownChars = 65000

func init() {
	rootCmd.AddCommand(generateMarkdownSummaryCmd)
	generateMarkdownSummaryCmd.Flags().StringVar(&mdSummaryFile, "summary", "",
		"Run summary document (default: <results.dir>/<project>_latest.json)")
	generateMarkdownSummaryCmd.Flags().StringVar(&mdOutput, "output", "",
		"Output file path (default: summary-<run_id>.md)")
}

func runGenerateMarkdownSummary(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	project := cfg.Project.Name
	if project == "" {
		project = summary.ProjectName("")
	}

	path := mdSummaryFile
	if path == "" {
		path = filepath.Join(cfg.Results.Dir, summary.ProjectLatestName(project))
	}

	log.WithField("summary", path).Info("Generating markdown summary")

	s, err := summary.ReadRunSummary(path)
	if err != nil {
		return fmt.Errorf("reading run summary: %w", err)
	}

	output := mdOutput
	if output == "" {
		output = fmt.Sprintf("summary-%s.md", s.RunID)
	}

	md := summary.RenderMarkdown(project, s, maxMarkdownChars)

	if err := os.WriteFile(output, []byte(md), 0o644); err != nil { //nolint:gosec // report output
		return fmt.Errorf("writing output file: %w", err)
	}

	log.WithField("output", output).Info("Markdown summary generated successfully")

	return nil
}
