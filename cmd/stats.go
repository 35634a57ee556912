package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pollflow-cli/internal/observability"
)

// newStatsCmd creates the `stats` command, which summarizes the persisted
// learning record without touching a browser.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Shows selector-learning statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			store, pool, err := openLearningStore(cmd.Context(), appCfg, logger)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			summary := store.Stats()
			fmt.Printf("Learning record (%s backend)\n", appCfg.Learning.Backend)
			fmt.Printf("  Action types tracked: %d\n", summary.ActionTypes)
			fmt.Printf("  Recorded successes:   %d\n", summary.TotalSuccesses)
			fmt.Printf("  Error patterns:       %d\n", summary.ErrorPatterns)
			return nil
		},
	}
}
