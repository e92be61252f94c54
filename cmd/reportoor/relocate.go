package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/relocate"
)

var (
	relocateFrom          string
	relocateTo            string
	relocateCollectVideos bool
)

var relocateCmd = &cobra.Command{
	Use:   "relocate",
	Short: "Move test runner artifacts into a results directory",
	Long: `Move every top-level entry of the test runner output directory into the
destination directory. A missing output directory is not an error.`,
	RunE: runRelocate,
}

func init() {
	rootCmd.AddCommand(relocateCmd)
	relocateCmd.Flags().StringVar(&relocateFrom, "from", "",
		"Artifacts directory to empty (defaults to results.output_dir)")
	relocateCmd.Flags().StringVar(&relocateTo, "to", "",
		"Destination directory")
	relocateCmd.Flags().BoolVar(&relocateCollectVideos, "collect-videos", false,
		"Move top-level .webm files into a videos/ directory first")

	_ = relocateCmd.MarkFlagRequired("to")
}

func runRelocate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	from := relocateFrom
	if from == "" {
		from = cfg.Results.OutputDir
	}

	if relocateCollectVideos || cfg.Results.CollectVideos {
		if _, err := relocate.CollectVideos(log, from); err != nil {
			return fmt.Errorf("collecting videos: %w", err)
		}
	}

	res, err := relocate.Relocate(log, from, relocateTo)
	if err != nil {
		return fmt.Errorf("relocating artifacts: %w", err)
	}

	owner, err := cfg.ResultsOwner()
	if err != nil {
		return err
	}

	if len(res.Moved) > 0 {
		fsutil.Chown(relocateTo, owner)
	}

	log.WithField("moved", len(res.Moved)).
		WithField("overwritten", len(res.Overwritten)).
		Info("Artifacts relocated")

	return nil
}
