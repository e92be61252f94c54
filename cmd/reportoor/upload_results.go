package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/upload"
)

var uploadResultDir string

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results",
	Short: "Upload a results directory to remote storage",
	Long:  `Upload a local results directory to the S3 or MinIO bucket configured under upload.`,
	RunE:  runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().StringVar(&uploadResultDir, "result-dir", "",
		"Path to the directory to upload (defaults to results.dir)")
}

func runUploadResults(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !cfg.Upload.Enabled() {
		return fmt.Errorf("no upload backend is enabled in config")
	}

	uploader, err := upload.New(log, &cfg.Upload)
	if err != nil {
		return fmt.Errorf("creating uploader: %w", err)
	}

	dir := uploadResultDir
	if dir == "" {
		dir = cfg.Results.Dir
	}

	ctx := cmd.Context()

	log.WithField("dir", dir).Info("Uploading results")

	if err := uploader.Upload(ctx, dir); err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	log.Info("Upload completed successfully")

	return nil
}
