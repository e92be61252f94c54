package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/relocate"
)

var (
	historyFrom string
	historyTo   string
)

var prepareHistoryCmd = &cobra.Command{
	Use:   "prepare-history",
	Short: "Carry the trend history of the previous report into new results",
	Long: `Copy <from>/history into <to>/history so the next generated report can
show trends across runs. Does nothing when the previous report has no history.`,
	RunE: runPrepareHistory,
}

func init() {
	rootCmd.AddCommand(prepareHistoryCmd)
	prepareHistoryCmd.Flags().StringVar(&historyFrom, "from", "",
		"Previously generated report directory")
	prepareHistoryCmd.Flags().StringVar(&historyTo, "to", "",
		"Results directory of the new run (defaults to results.dir)")

	_ = prepareHistoryCmd.MarkFlagRequired("from")
}

func runPrepareHistory(_ *cobra.Command, _ []string) error {
	to := historyTo

	if to == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		to = cfg.Results.Dir
	}

	if _, err := relocate.CarryHistory(log, historyFrom, to); err != nil {
		return fmt.Errorf("preparing history: %w", err)
	}

	return nil
}
