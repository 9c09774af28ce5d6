package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/core/ports/driven"
	"github.com/custodia-labs/mailindex/internal/logger"
)

// Default batching parameters.
const (
	DefaultMaxBatchSize   = 64
	DefaultMaxBatchTokens = 8000
	DefaultConcurrency    = 4
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
)

// BatcherConfig tunes the embedding batcher.
type BatcherConfig struct {
	// MaxBatchSize caps the number of chunks per provider request.
	MaxBatchSize int

	// MaxBatchTokens caps the summed token count per provider request.
	// A single chunk larger than the budget still forms a batch of one.
	MaxBatchTokens int

	// Concurrency is the number of batches in flight at once.
	Concurrency int

	// RequestsPerSecond paces provider requests. Zero disables pacing.
	RequestsPerSecond float64

	// MaxRetries is the number of retries for transient provider failures.
	MaxRetries int

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
}

// BatchResult maps input chunk indices to their embeddings or failures.
type BatchResult struct {
	// Embedded holds the vector for each successfully embedded input index.
	Embedded map[int][]float32

	// Failed holds the terminal error for each input index whose batch
	// exhausted its retries or returned an unusable vector.
	Failed map[int]error
}

// EmbeddingBatcher groups chunks into provider-sized batches and embeds them
// concurrently with pacing and retries. Failures stay per-chunk: one bad
// batch never aborts the others.
type EmbeddingBatcher struct {
	embedder driven.EmbeddingService
	cfg      BatcherConfig
	limiter  *rate.Limiter
}

// NewEmbeddingBatcher creates a batcher over the given embedding service.
func NewEmbeddingBatcher(embedder driven.EmbeddingService, cfg BatcherConfig) *EmbeddingBatcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxBatchTokens <= 0 {
		cfg.MaxBatchTokens = DefaultMaxBatchTokens
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &EmbeddingBatcher{
		embedder: embedder,
		cfg:      cfg,
		limiter:  limiter,
	}
}

// EmbedChunks embeds the given chunks and reports per-chunk outcomes.
// It returns an error only when the context is cancelled.
func (b *EmbeddingBatcher) EmbedChunks(ctx context.Context, chunks []domain.Chunk) (*BatchResult, error) {
	result := &BatchResult{
		Embedded: make(map[int][]float32),
		Failed:   make(map[int]error),
	}
	if len(chunks) == 0 {
		return result, nil
	}

	batches := b.plan(chunks)
	logger.Debug("Embedding %d chunks in %d batches", len(chunks), len(batches))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, idx := range batch {
				texts[i] = chunks[idx].Text
			}

			vectors, err := b.embedWithRetry(gctx, texts)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("Embedding batch of %d failed: %v", len(batch), err)
				for _, idx := range batch {
					result.Failed[idx] = fmt.Errorf("%v: %w", err, domain.ErrEmbeddingFailed)
				}
				return nil
			}

			dims := b.embedder.Dimensions()
			for i, idx := range batch {
				if len(vectors[i]) != dims {
					result.Failed[idx] = fmt.Errorf("got %d dimensions, index has %d: %w",
						len(vectors[i]), dims, domain.ErrDimensionMismatch)
					continue
				}
				result.Embedded[idx] = vectors[i]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// plan groups chunk indices into batches bounded by count and token budget.
func (b *EmbeddingBatcher) plan(chunks []domain.Chunk) [][]int {
	var batches [][]int
	var current []int
	var tokens int

	for i, chunk := range chunks {
		overBudget := len(current) > 0 &&
			(len(current) >= b.cfg.MaxBatchSize || tokens+chunk.TokenCount > b.cfg.MaxBatchTokens)
		if overBudget {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
		current = append(current, i)
		tokens += chunk.TokenCount
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// embedWithRetry calls the provider, retrying transient failures with
// exponential backoff. Fatal provider errors return immediately.
func (b *EmbeddingBatcher) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	delay := b.cfg.RetryBaseDelay

	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("Embedding retry %d after %v: %v", attempt, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vectors, err := b.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("provider returned %d vectors for %d inputs",
					len(vectors), len(texts))
			}
			return vectors, nil
		}
		if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}
