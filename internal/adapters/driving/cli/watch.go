package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mailindex/internal/adapters/driven/source/dropdir"
	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/logger"
)

var watchNamespace string

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a drop folder and ingest continuously",
	Long: `Ingests everything already in the directory, then watches it and
indexes files as they appear or change. Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchNamespace, "namespace", "n", "", "namespace for raw text drops (default from config)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	namespace := watchNamespace
	if namespace == "" {
		namespace = cfg.Namespace
	}
	source := dropdir.New(args[0], namespace)

	// Catch up on whatever is already in the folder.
	inputs, err := source.LoadAll(cmd.Context())
	if err != nil {
		return err
	}
	if len(inputs) > 0 {
		report, err := ingestService.IngestAll(cmd.Context(), inputs)
		if err != nil {
			return err
		}
		printReport(cmd, report)
	}

	err = source.Watch(cmd.Context(), func(ctx context.Context, input domain.IngestInput) {
		report, err := ingestService.IngestAll(ctx, []domain.IngestInput{input})
		if err != nil {
			logger.Warn("Ingest of %s failed: %v", input.DocumentID, err)
			return
		}
		printReport(cmd, report)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
