package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dedupFlagThreshold float64

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Find and merge duplicate entities",
	Long: `Dedup runs one deduplication pass: it searches the similarity index
for entity pairs above the configured threshold, asks the LLM to confirm
each candidate, and merges confirmed duplicates inside a transaction.

Requires a provider with embedding support.`,
	Args: cobra.NoArgs,
	RunE: runDedup,
}

func init() {
	dedupCmd.Flags().Float64Var(&dedupFlagThreshold, "threshold", 0,
		"Override the similarity threshold for this pass (0 = use config)")
}

func runDedup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if dedupFlagThreshold != 0 {
		if dedupFlagThreshold < 0 || dedupFlagThreshold > 1 {
			return fmt.Errorf("threshold must be between 0 and 1, got %g", dedupFlagThreshold)
		}
		cfg.Dedup.Threshold = dedupFlagThreshold
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	svc, err := a.newDedupService(ctx)
	if err != nil {
		return err
	}

	stats, err := svc.RunPass(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"dedup pass: %d candidates, %d merged, %d rejected, %d skipped, %d failed\n",
		stats.Candidates, stats.Merged, stats.Rejected, stats.Skipped, stats.Failed)

	if a.recorder != nil {
		a.recorder.RecordDedupPass(ctx, stats.Candidates, stats.Merged, stats.Rejected)
	}
	return nil
}
