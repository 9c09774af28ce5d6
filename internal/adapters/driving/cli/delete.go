package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Remove a document from the index",
	Long: `Tombstones a document so it and all of its chunks disappear from
query results immediately. Re-ingesting the document restores it.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	documentID := args[0]
	if err := ingestService.Delete(cmd.Context(), documentID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("document %s not found", documentID)
		}
		return fmt.Errorf("delete failed: %w", err)
	}

	cmd.Printf("Document %s deleted.\n", documentID)
	return nil
}
