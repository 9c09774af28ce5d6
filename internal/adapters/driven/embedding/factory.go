// Package embedding provides factory functions for creating embedding
// provider adapters from configuration.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/mailindex/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/mailindex/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/mailindex/internal/config"
	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for provider connectivity validation.
const pingTimeout = 5 * time.Second

// CreateService creates the configured embedding provider.
// Returns nil if no provider is configured (lexical-only operation).
func CreateService(cfg config.EmbeddingConfig) (driven.EmbeddingService, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewEmbeddingService(openai.Config{
			APIKey:  cfg.ResolveAPIKey(),
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		})

	case config.ProviderOllama:
		return ollama.NewEmbeddingService(ollama.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		}), nil

	case config.ProviderNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// CreateAndValidateService creates the provider and validates connectivity.
// An unreachable provider is reported as ErrEmbeddingUnavailable so callers
// can degrade to lexical-only retrieval instead of failing outright.
func CreateAndValidateService(cfg config.EmbeddingConfig) (driven.EmbeddingService, error) {
	svc, err := CreateService(cfg)
	if err != nil || svc == nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := svc.Ping(ctx); err != nil {
		svc.Close()
		return nil, fmt.Errorf("%w: %s unreachable (%v)", domain.ErrEmbeddingUnavailable, cfg.Provider, err)
	}
	return svc, nil
}
