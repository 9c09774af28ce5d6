package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mailindex/internal/core/domain"
)

var (
	queryNamespace   string
	queryK           int
	queryAfter       string
	queryBefore      string
	querySender      string
	querySubject     string
	queryFiletype    string
	queryLexicalOnly bool
	queryJSON        bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search the index",
	Long: `Runs a hybrid search over the namespace's indexed chunks and prints
each hit with its citation: subject, attachment filename and the
page or sheet locator where the text came from.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryNamespace, "namespace", "n", "", "namespace to search (default from config)")
	queryCmd.Flags().IntVarP(&queryK, "limit", "k", 0, "maximum number of results")
	queryCmd.Flags().StringVar(&queryAfter, "after", "", "only emails received at or after this time")
	queryCmd.Flags().StringVar(&queryBefore, "before", "", "only emails received at or before this time")
	queryCmd.Flags().StringVar(&querySender, "sender", "", "only emails from this address")
	queryCmd.Flags().StringVar(&querySubject, "subject", "", "only emails whose subject contains this text")
	queryCmd.Flags().StringVar(&queryFiletype, "filetype", "", "only this source kind (email-body, pdf, spreadsheet)")
	queryCmd.Flags().BoolVar(&queryLexicalOnly, "lexical-only", false, "skip dense retrieval")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryService == nil {
		return errors.New("query service not configured")
	}

	namespace := queryNamespace
	if namespace == "" {
		namespace = cfg.Namespace
	}
	if namespace == "" {
		return fmt.Errorf("namespace required: pass --namespace or set it in the config: %w",
			domain.ErrNamespaceRequired)
	}

	k := queryK
	if k <= 0 {
		k = cfg.Retrieval.DefaultK
	}

	filters, err := buildFilters()
	if err != nil {
		return err
	}

	result, err := queryService.Query(cmd.Context(), args[0], domain.QueryOptions{
		Namespace:   namespace,
		K:           k,
		Filters:     filters,
		LexicalOnly: queryLexicalOnly,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	printResults(cmd, result)
	return nil
}

func buildFilters() (domain.Filters, error) {
	after, err := parseTimeFlag(queryAfter)
	if err != nil {
		return domain.Filters{}, err
	}
	before, err := parseTimeFlag(queryBefore)
	if err != nil {
		return domain.Filters{}, err
	}

	var filetype domain.Filetype
	if queryFiletype != "" {
		filetype = domain.Filetype(queryFiletype)
		if !filetype.Valid() {
			return domain.Filters{}, fmt.Errorf("unknown filetype %q", queryFiletype)
		}
	}

	return domain.Filters{
		After:           after,
		Before:          before,
		Sender:          querySender,
		SubjectContains: querySubject,
		Filetype:        filetype,
	}, nil
}

func printResults(cmd *cobra.Command, result *domain.QueryResult) {
	if result.Degraded {
		cmd.Println("Note: dense retrieval unavailable, results are keyword-only.")
	}
	if len(result.Chunks) == 0 {
		cmd.Println("No results found.")
		return
	}

	for i, hit := range result.Chunks {
		cmd.Printf("[%d] %s (%.4f)\n", i+1, formatCitation(hit.Source), hit.Score)
		cmd.Printf("    %s\n", snippet(hit.Chunk.Text, 200))
	}
}

// formatCitation renders "Subject - file.pdf, page=3 (2025-03-10)".
func formatCitation(source domain.SourceRef) string {
	var b strings.Builder
	b.WriteString(source.Subject)
	if source.Filename != "" {
		b.WriteString(" - ")
		b.WriteString(source.Filename)
	}
	if source.Locator != "" {
		b.WriteString(", ")
		b.WriteString(source.Locator)
	}
	if !source.ReceivedAt.IsZero() {
		fmt.Fprintf(&b, " (%s)", source.ReceivedAt.Format("2006-01-02"))
	}
	return b.String()
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	cut := strings.LastIndex(text[:max], " ")
	if cut <= 0 {
		// No space to break on: back up to a rune boundary so the cut
		// never splits a multi-byte character.
		cut = max
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
	}
	return text[:cut] + "..."
}
