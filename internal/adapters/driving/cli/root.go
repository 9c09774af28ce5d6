// Package cli implements the mailindex command-line interface.
package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mailindex/internal/adapters/driven/embedding"
	"github.com/custodia-labs/mailindex/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/mailindex/internal/config"
	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/core/ports/driving"
	"github.com/custodia-labs/mailindex/internal/core/services"
	"github.com/custodia-labs/mailindex/internal/logger"
	"github.com/custodia-labs/mailindex/internal/postprocessors"
)

// Set by the wiring in Execute; commands check for nil so the package stays
// testable without a full stack.
var (
	cfg           *config.Config
	store         *sqlite.Store
	ingestService driving.Ingestor
	queryService  driving.Querier

	version = "dev"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "mailindex",
	Short: "Index and search email bodies and attachments",
	Long: `mailindex ingests extracted email content into a local hybrid index
and answers queries with cited passages. Retrieval combines dense
vector similarity with BM25 keyword scoring.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(verbose)
		if cmd.Name() == "version" {
			return nil
		}
		// Tests inject services directly; wire only when nothing is set up.
		if ingestService != nil && queryService != nil {
			return nil
		}
		return wire(cmd)
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.mailindex/config.toml)")
}

// Execute runs the CLI with the given build version.
func Execute(buildVersion string) error {
	version = buildVersion
	return rootCmd.Execute()
}

// wire loads configuration and builds the service stack.
func wire(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	store, err = sqlite.NewStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}

	embedder, err := embedding.CreateAndValidateService(cfg.Embedding)
	if err != nil {
		// An unreachable provider degrades retrieval to lexical-only
		// rather than blocking every command.
		if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return err
		}
		logger.Warn("%v, running lexical-only", err)
		embedder = nil
	}
	if embedder == nil && cfg.Embedding.Provider == config.ProviderNone {
		logger.Info("No embedding provider configured, running lexical-only")
	}

	var batcher *services.EmbeddingBatcher
	if embedder != nil {
		// An index embedded with one model cannot be queried with another.
		if err := store.EnsureModel(cmd.Context(), embedder.ModelName(), embedder.Dimensions()); err != nil {
			return err
		}
		batcher = services.NewEmbeddingBatcher(embedder, services.BatcherConfig{
			MaxBatchSize:      cfg.Embedding.BatchSize,
			MaxBatchTokens:    cfg.Embedding.TokenBudget,
			Concurrency:       cfg.Embedding.Concurrency,
			RequestsPerSecond: cfg.Embedding.RatePerSec,
			MaxRetries:        cfg.Embedding.MaxRetries,
		})
	}

	registry := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(registry)
	chunkerProc, err := registry.Build("chunker", map[string]any{
		"target_tokens":    cfg.Chunking.TargetTokens,
		"overlap_fraction": cfg.Chunking.OverlapFraction,
	})
	if err != nil {
		return err
	}
	pipeline := postprocessors.NewPipeline(chunkerProc)

	ingestService = services.NewIngestService(store, pipeline, batcher, 0)
	queryService = services.NewRetrieveService(store, embedder, services.FusionConfig{
		Method:        cfg.Retrieval.Fusion,
		RRFK:          cfg.Retrieval.RRFK,
		DenseWeight:   cfg.Retrieval.DenseWeight,
		LexicalWeight: cfg.Retrieval.LexicalWeight,
		DenseTopN:     cfg.Retrieval.DenseTopN,
		LexicalTopN:   cfg.Retrieval.LexicalTopN,
	})
	return nil
}

// parseTimeFlag accepts RFC 3339 timestamps and bare dates.
func parseTimeFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q (want RFC 3339 or YYYY-MM-DD)", value)
}
