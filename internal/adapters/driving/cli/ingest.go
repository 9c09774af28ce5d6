package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mailindex/internal/adapters/driven/source/dropdir"
	"github.com/custodia-labs/mailindex/internal/core/domain"
)

var ingestNamespace string

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Ingest documents from a drop folder",
	Long: `Reads ingestion payloads (*.json) and plain text files (*.txt) from a
directory and indexes them. Re-ingesting unchanged content is a no-op,
so the command is safe to re-run.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestNamespace, "namespace", "n", "", "namespace for raw text drops (default from config)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	namespace := ingestNamespace
	if namespace == "" {
		namespace = cfg.Namespace
	}

	source := dropdir.New(args[0], namespace)
	inputs, err := source.LoadAll(cmd.Context())
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		cmd.Println("Nothing to ingest.")
		return nil
	}

	report, err := ingestService.IngestAll(cmd.Context(), inputs)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	printReport(cmd, report)
	return nil
}

func printReport(cmd *cobra.Command, report *domain.IngestReport) {
	cmd.Printf("Job %s: %d documents, %d chunks written, %d unchanged",
		report.JobID, report.DocumentsProcessed, report.ChunksWritten, report.ChunksSkippedUnchanged)
	if report.ChunksFailedEmbedding > 0 {
		cmd.Printf(", %d failed embedding", report.ChunksFailedEmbedding)
	}
	cmd.Println()

	for _, failure := range report.Failures {
		id := failure.DocumentID
		if id == "" {
			id = "(no id)"
		}
		cmd.Printf("  failed %s: %s\n", id, failure.Reason)
	}
}
