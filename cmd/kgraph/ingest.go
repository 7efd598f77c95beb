package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest documents into the knowledge graph",
	Long: `Ingest reads each document, splits it into chunks, extracts entities
and relationships with the configured LLM provider, and writes them to
the graph. When the provider supports embeddings the new entities are
also added to the similarity index.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	ingester, err := a.newIngester(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, path := range args {
		result, err := ingester.IngestFile(ctx, path)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "ingest %s: %v\n", path, err)
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"%s: %d chunks, %d entities, %d relationships, %d indexed (%s)\n",
			result.Source, result.Chunks, result.Entities, result.Relationships,
			result.Indexed, result.Duration.Round(time.Millisecond))
		for _, msg := range result.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  warning: %s\n", msg)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}
